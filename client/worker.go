package client

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"centralnet/cmn/cos"
	"centralnet/cmn/nlog"
	"centralnet/protocol"
)

// reconnectBackoff is the fixed delay between failed dial attempts
// (spec.md section 4.1).
const reconnectBackoff = 5 * time.Second

type recvResult[K comparable] struct {
	header  protocol.FromServerHeader[K]
	payload []byte
	err     error
}

// run is the outer reconnect driver: it holds a connection via
// runConnection for as long as that connection lasts, then immediately
// tries to dial again (backing off only when the dial itself fails), for
// as long as the client is running.
func (c *Client[K, M]) run(ctx context.Context, initial protocol.Codec[K]) {
	defer c.wg.Done()

	codec := initial
	hadConn := false
	for c.running.Load() {
		if codec == nil {
			var err error
			codec, err = c.dialWithBackoff(ctx)
			if err != nil {
				return
			}
		}
		if hadConn {
			c.metrics.Reconnected()
		}
		hadConn = true

		if err := c.runConnection(ctx, codec); err != nil {
			if cos.IsRetriableConnErr(err) {
				nlog.Warningf("centralnet: connection lost, will retry: %v", err)
			} else {
				nlog.Warningf("centralnet: connection lost: %v", err)
			}
		}
		codec.Close()
		codec = nil

		select {
		case <-c.stop.Listen():
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

// dialWithBackoff retries c.connFactory until it succeeds, the client is
// stopped, or ctx is canceled.
func (c *Client[K, M]) dialWithBackoff(ctx context.Context) (protocol.Codec[K], error) {
	for {
		codec, err := c.connFactory(ctx)
		if err == nil {
			return codec, nil
		}
		switch {
		case cos.IsErrConnectionRefused(err):
			nlog.Warningf("centralnet: dial failed, server not accepting connections: %v", err)
		case cos.IsUnreachable(err):
			nlog.Warningf("centralnet: dial failed, server unreachable: %v", err)
		default:
			nlog.Warningf("centralnet: dial failed: %v", err)
		}

		select {
		case <-time.After(reconnectBackoff):
		case <-c.stop.Listen():
			return nil, &ErrChannelDisconnected{Op: "dial"}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// runConnection drives one live connection: it identifies, re-requests
// the client count if callers are still waiting on an answer from a prior
// connection, then multiplexes incoming frames against the outbound
// queue until the connection fails or the client is told to stop.
func (c *Client[K, M]) runConnection(ctx context.Context, codec protocol.Codec[K]) error {
	if err := codec.SendHeader(protocol.Identify[K]{Key: c.ownKey}); err != nil {
		return &ErrStream{Err: err}
	}
	c.connected.Store(true)
	c.metrics.SetConnected(true)
	defer func() {
		c.connected.Store(false)
		c.metrics.SetConnected(false)
	}()

	c.waitersMu.Lock()
	pending := len(c.waiters)
	c.waitersMu.Unlock()
	if pending > 0 {
		if err := codec.SendHeader(protocol.RequestClientCount{}); err != nil {
			return &ErrStream{Err: err}
		}
	}

	connCtx, cancel := context.WithCancel(ctx)
	g, _ := errgroup.WithContext(connCtx)

	recvCh := make(chan recvResult[K], 1)
	g.Go(func() error { c.recvLoop(connCtx, codec, recvCh); return nil })

	outboundCh := make(chan outboundMsg[K], 1)
	g.Go(func() error { c.popLoop(connCtx, outboundCh); return nil })

	loopErr := func() error {
		for {
			select {
			case res := <-recvCh:
				if res.err != nil {
					return &ErrStream{Err: res.err}
				}
				c.handleFrame(res.header, res.payload)

			case out := <-outboundCh:
				if err := c.sendOutbound(codec, out); err != nil {
					return &ErrStream{Err: err}
				}

			case <-c.stop.Listen():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}()

	// Tear down recvLoop/popLoop before returning so they never outlive
	// the connection they were reading and writing for.
	cancel()
	_ = g.Wait()
	return loopErr
}

// recvLoop is the sole reader of codec; it pushes one result per frame
// (header, plus its raw payload if the header declares one) onto out.
func (c *Client[K, M]) recvLoop(ctx context.Context, codec protocol.Codec[K], out chan<- recvResult[K]) {
	for {
		header, err := codec.RecvHeader(ctx)
		if err != nil {
			select {
			case out <- recvResult[K]{err: err}:
			case <-ctx.Done():
			}
			return
		}
		var payload []byte
		if n, ok := protocol.HasPayload[K](header); ok {
			payload, err = codec.RecvRaw(ctx, n)
			if err != nil {
				select {
				case out <- recvResult[K]{err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
		select {
		case out <- recvResult[K]{header: header, payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}

// popLoop is this connection's sole consumer of the outbound queue; it
// stops (without discarding the queue) when ctx is canceled, leaving the
// items still queued for the next connection attempt. A message it has
// already popped but that was not yet written to the wire is dropped.
func (c *Client[K, M]) popLoop(ctx context.Context, out chan<- outboundMsg[K]) {
	for {
		msg, err := c.outbound.Pop(ctx)
		if err != nil {
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client[K, M]) sendOutbound(codec protocol.Codec[K], out outboundMsg[K]) error {
	if err := codec.SendHeader(out.header); err != nil {
		return err
	}
	if len(out.payload) > 0 {
		if err := codec.SendPayload(out.payload); err != nil {
			return err
		}
	}
	if out.ack != nil {
		close(out.ack)
	}
	return nil
}

func (c *Client[K, M]) handleFrame(header protocol.FromServerHeader[K], payload []byte) {
	switch h := header.(type) {
	case protocol.ClientCountMsg:
		c.waitersMu.Lock()
		waiters := c.waiters
		c.waiters = nil
		c.waitersMu.Unlock()
		c.metrics.SetPendingCountWaiters(0)
		for _, w := range waiters {
			select {
			case w <- h.N:
			default:
			}
		}
	case protocol.ConfigMsg[K]:
		// Resolved Open Question (spec.md section 9): a Config frame
		// outside the bootstrap dialog is unexpected but not fatal.
		nlog.Warningf("centralnet: received config frame outside bootstrap; ignoring")
	case protocol.StartMsg:
		c.runReady.Store(true)
	default:
		// NodeConnected, NodeDisconnected, Broadcast(Payload),
		// Direct(Payload): hand to the reassembly buffer.
		c.buf.deliver(header, payload)
		c.metrics.MessageReceived()
	}
}
