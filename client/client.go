// Package client implements the reconnecting centralized-server network
// client: a background worker that maintains the connection to the
// coordinating server, a reassembly engine that turns its frames back into
// whole messages, and the facade a harness actually calls.
package client

import (
	"context"
	"runtime"
	"sync"
	"time"

	catomic "centralnet/cmn/atomic"
	"centralnet/cmn/cos"
	"centralnet/hk"
	"centralnet/metrics"
	"centralnet/protocol"
)

// waiterGaugeRefresh is the housekeeper job name registered below; its
// only job is to keep the pending-waiters gauge honest even across a
// reconnect that never touches RequestClientCount.
const waiterGaugeRefresh = "centralnet-waiter-gauge-refresh"

// outboundMsg is one entry on the outbound queue: a header, the payload
// bytes that follow it (if any), and an optional ack closed once the
// worker has handed both to the wire.
type outboundMsg[K comparable] struct {
	header  protocol.ToServerHeader[K]
	payload []byte
	ack     chan struct{}
}

// Options configures a new Client.
type Options[K comparable] struct {
	OwnKey      K
	KnownNodes  []K
	ConnFactory protocol.ConnFactory[K]
	// InitialConn, if non-nil, is an already-dialed codec (typically the
	// one the bootstrap dialog used to fetch NetworkConfig) that the
	// worker's first connection attempt reuses instead of dialing again.
	InitialConn protocol.Codec[K]
	// Metrics defaults to metrics.Noop{} when nil.
	Metrics metrics.Sink
	// Housekeeper, if non-nil, is used to periodically resync the
	// pending-client-count-waiters gauge. A Client not given one simply
	// skips that refresh; the gauge still updates on every
	// RequestClientCount/ClientCountMsg pair.
	Housekeeper *hk.Housekeeper
}

// Client is the facade a harness holds: one per participant, generic over
// the participant-identity type K and the application message type M.
type Client[K comparable, M any] struct {
	ownKey     K
	knownNodes []K

	connected catomic.Bool
	running   catomic.Bool
	runReady  catomic.Bool

	outbound *unboundedQueue[outboundMsg[K]]
	buf      *incomingBuffer[K]

	waitersMu sync.Mutex
	waiters   []chan int

	connFactory protocol.ConnFactory[K]
	metrics     metrics.Sink
	hk          *hk.Housekeeper

	stop      cos.StopCh
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Connect spawns the background worker and returns immediately; the
// worker dials (or reuses opts.InitialConn for its first attempt) and
// reconnects with a 5s backoff for as long as the client is running
// (spec.md section 4.1).
func Connect[K comparable, M any](ctx context.Context, opts Options[K]) *Client[K, M] {
	sink := opts.Metrics
	if sink == nil {
		sink = metrics.Noop{}
	}
	c := &Client[K, M]{
		ownKey:      opts.OwnKey,
		knownNodes:  append([]K(nil), opts.KnownNodes...),
		outbound:    newUnboundedQueue[outboundMsg[K]](),
		buf:         newIncomingBuffer[K](0),
		connFactory: opts.ConnFactory,
		metrics:     sink,
		hk:          opts.Housekeeper,
	}
	c.stop.Init()
	c.running.Store(true)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.buf.mergeLoop(c.stop.Listen())
	}()
	go c.run(ctx, opts.InitialConn)

	if c.hk != nil {
		c.hk.Reg(waiterGaugeRefresh, 5*time.Second, c.refreshWaiterGauge)
	}

	runtime.SetFinalizer(c, finalizeClient[K, M])
	return c
}

func (c *Client[K, M]) refreshWaiterGauge() {
	c.waitersMu.Lock()
	n := len(c.waiters)
	c.waitersMu.Unlock()
	c.metrics.SetPendingCountWaiters(n)
}

// finalizeClient is the non-guaranteed safety net described in spec.md
// section 4.5: Go has no deterministic Drop, so Close (idempotent) is the
// documented shutdown path. The worker and merge-loop goroutines started
// by Connect reference c until Close stops them, so this finalizer does
// not run for a client that was never closed.
func finalizeClient[K comparable, M any](c *Client[K, M]) { c.Close() }

// Close stops the background worker and the reassembly merge loop.
// Idempotent and safe to call more than once.
func (c *Client[K, M]) Close() error {
	c.closeOnce.Do(func() {
		c.running.Store(false)
		c.stop.Close()
		c.outbound.Close()
		if c.hk != nil {
			c.hk.Unreg(waiterGaugeRefresh)
		}
	})
	return nil
}

// Ready blocks until the background worker holds a live connection,
// polling once a second (spec.md section 4.3). It returns early if ctx is
// canceled.
func (c *Client[K, M]) Ready(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !c.connected.Load() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// RunReady reports whether the server has sent StartMsg, authorizing the
// run to begin. Unlike Ready, this is an orthogonal, non-blocking latch
// that never resets once set (spec.md section 4.3).
func (c *Client[K, M]) RunReady() bool { return c.runReady.Load() }

// Connected reports whether the background worker currently holds a live
// connection.
func (c *Client[K, M]) Connected() bool { return c.connected.Load() }

// KnownNodes returns the static roster handed back by the bootstrap
// dialog. Restored explicitly per SPEC_FULL.md section 4.3.
func (c *Client[K, M]) KnownNodes() []K { return append([]K(nil), c.knownNodes...) }

// Broadcast enqueues msg to be sent to every known node, and loops it back
// into the client's own inbound buffer immediately: a broadcaster always
// observes its own broadcast, without waiting on a round trip through the
// server (spec.md section 4.3).
func (c *Client[K, M]) Broadcast(msg M) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	c.outbound.Push(outboundMsg[K]{
		header:  protocol.BroadcastReq{MessageLen: uint64(len(payload))},
		payload: payload,
	})
	c.buf.deliver(protocol.Broadcast[K]{
		Source:     c.ownKey,
		MessageLen: uint64(len(payload)),
		PayloadLen: uint64(len(payload)),
	}, payload)
	c.metrics.BroadcastSent()
	return nil
}

// Direct sends msg to target. If target is this client's own key, the
// message never touches the wire: it is looped back directly, matching
// the original's "addressed to self" short-circuit (spec.md section 4.3).
func (c *Client[K, M]) Direct(target K, msg M) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if target == c.ownKey {
		c.buf.deliver(protocol.Direct[K]{
			Source:     c.ownKey,
			MessageLen: uint64(len(payload)),
			PayloadLen: uint64(len(payload)),
		}, payload)
		c.metrics.DirectSent()
		return nil
	}
	c.outbound.Push(outboundMsg[K]{
		header:  protocol.DirectReq[K]{Target: target, MessageLen: uint64(len(payload))},
		payload: payload,
	})
	c.metrics.DirectSent()
	return nil
}

// RequestClientCount asks the server how many clients are currently
// connected and blocks for its reply.
func (c *Client[K, M]) RequestClientCount(ctx context.Context) (int, error) {
	waiter := make(chan int, 1)
	c.waitersMu.Lock()
	c.waiters = append(c.waiters, waiter)
	n := len(c.waiters)
	c.waitersMu.Unlock()
	c.metrics.SetPendingCountWaiters(n)

	c.outbound.Push(outboundMsg[K]{header: protocol.RequestClientCount{}})

	select {
	case v := <-waiter:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.stop.Listen():
		return 0, &ErrChannelDisconnected{Op: "RequestClientCount"}
	}
}

// SendResults reports a harness's run results back to the server and
// blocks until the worker has handed them to the wire. Restored per
// SPEC_FULL.md section 4.3 (the original's send_results).
func (c *Client[K, M]) SendResults(ctx context.Context, results protocol.RunResults) error {
	ack := make(chan struct{})
	c.outbound.Push(outboundMsg[K]{header: protocol.Results{Results: results}, ack: ack})
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop.Listen():
		return &ErrChannelDisconnected{Op: "SendResults"}
	}
}

// NextBroadcast blocks for the next fully reassembled broadcast message.
func (c *Client[K, M]) NextBroadcast(ctx context.Context) (BroadcastEvent[K, M], error) {
	return extractOne(ctx, c.buf, stepBroadcast[K, M](unmarshalMessage[M]))
}

// NextDirect blocks for the next fully reassembled direct message.
func (c *Client[K, M]) NextDirect(ctx context.Context) (DirectEvent[K, M], error) {
	return extractOne(ctx, c.buf, stepDirect[K, M](unmarshalMessage[M]))
}

// AllBroadcasts returns every currently fully-reassembled broadcast
// without blocking. A deserialization failure on any one message coerces
// the whole batch into a single FailedToDeserialize error (spec.md
// section 7): the reassembly pass itself still ran to completion and
// freed every matched frame from the buffer. The returned error is the
// first per-message FailedToDeserialize; the events, including the ones
// that failed to decode, are returned alongside it.
func (c *Client[K, M]) AllBroadcasts() ([]BroadcastEvent[K, M], error) {
	events := extractAll(c.buf, stepBroadcast[K, M](unmarshalMessage[M]))
	return events, firstErr(events, func(ev BroadcastEvent[K, M]) error { return ev.Err })
}

// AllDirects returns every currently fully-reassembled direct message
// without blocking, with the same batch-level deserialization coercion
// as AllBroadcasts.
func (c *Client[K, M]) AllDirects() ([]DirectEvent[K, M], error) {
	events := extractAll(c.buf, stepDirect[K, M](unmarshalMessage[M]))
	return events, firstErr(events, func(ev DirectEvent[K, M]) error { return ev.Err })
}

func firstErr[T any](items []T, errOf func(T) error) error {
	for _, it := range items {
		if err := errOf(it); err != nil {
			return err
		}
	}
	return nil
}

// NetworkChanges returns every node-connected/node-disconnected event
// observed since the last call, without blocking.
func (c *Client[K, M]) NetworkChanges() []NetworkChange[K] {
	return extractAll(c.buf, stepNetworkChange[K]())
}

// PutRecord always fails: this client topology has a centralized server,
// not a DHT (resolved Open Question, spec.md section 9).
func (c *Client[K, M]) PutRecord(_, _ []byte) error { return &ErrDHT{Op: "PutRecord"} }

// GetRecord always fails, for the same reason as PutRecord.
func (c *Client[K, M]) GetRecord(_ []byte) ([]byte, error) { return nil, &ErrDHT{Op: "GetRecord"} }

func encodeMessage[M any](msg M) ([]byte, error) {
	payload, err := marshalMessage(msg)
	if err != nil {
		return nil, &ErrFailedToSerialize{Err: err}
	}
	return payload, nil
}
