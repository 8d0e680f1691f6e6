package client

import (
	"context"
	"sync"

	"centralnet/cmn/debug"
	"centralnet/protocol"
)

// indexedFrame pairs a frame delivered by the background worker with the
// monotonic index it was assigned on arrival. Every extraction predicate
// walks frames in index order so that multi-frame streams reassemble in
// the order they were sent.
type indexedFrame[K comparable] struct {
	idx     uint64
	header  protocol.FromServerHeader[K]
	payload []byte
}

// stepKind is the outcome of applying a stepFn to one frame.
type stepKind int

const (
	stepSkip stepKind = iota
	stepBegin
	stepContinue
	stepComplete
)

// stepOutcome is returned by a stepFn. consumedIndexes and result are only
// meaningful when kind is stepComplete.
type stepOutcome[RET any] struct {
	kind            stepKind
	consumedIndexes []uint64
	result          RET
}

// stepContext accumulates an in-progress multi-frame stream from a single
// source, until enough bytes have arrived to match the declared message
// length.
type stepContext struct {
	consumedIndexes map[uint64]struct{}
	messageLen      uint64
	accumulated     []byte
}

func (c *stepContext) indexSlice() []uint64 {
	out := make([]uint64, 0, len(c.consumedIndexes))
	for i := range c.consumedIndexes {
		out = append(out, i)
	}
	return out
}

// sourceContexts threads one stepContext per originating key through a
// single extraction pass, so interleaved streams from different sources
// never clobber each other's accumulated bytes.
type sourceContexts[K comparable] struct {
	byKey map[K]*stepContext
}

func newSourceContexts[K comparable]() *sourceContexts[K] {
	return &sourceContexts[K]{byKey: make(map[K]*stepContext)}
}

func (s *sourceContexts[K]) begin(key K, idx uint64, messageLen uint64, payload []byte) *stepContext {
	sc := &stepContext{
		consumedIndexes: map[uint64]struct{}{idx: {}},
		messageLen:      messageLen,
		accumulated:     append([]byte(nil), payload...),
	}
	s.byKey[key] = sc
	return sc
}

func (s *sourceContexts[K]) lookup(key K) (*stepContext, bool) {
	sc, ok := s.byKey[key]
	return sc, ok
}

func (s *sourceContexts[K]) drop(key K) { delete(s.byKey, key) }

// stepFn is the predicate a message-type-specific extractor supplies: given
// the in-flight per-source contexts and the next frame in index order, it
// decides whether that frame is irrelevant (Skip, left untouched for a
// different extractor), begins or continues an in-progress stream, or
// completes one.
type stepFn[K comparable, RET any] func(ctxs *sourceContexts[K], f indexedFrame[K]) stepOutcome[RET]

// incomingBuffer is the shared, append-only store of frames the background
// worker has delivered but no extractor has yet consumed. Frames a given
// extractor Skips are left in place for a different extractor to claim;
// only frames that complete an assembly for *some* extractor are removed.
//
// A single mergeLoop goroutine is the only reader of inbound; every
// extractor (extractAll/extractOne) only ever looks at frames, under mu.
// That keeps two concurrent extractors (say a broadcast reader and a
// direct-message reader) from racing to steal each other's frames off the
// channel -- whichever arrives, the merge loop appends it to the one
// shared, ordered slice that both extractors scan.
type incomingBuffer[K comparable] struct {
	mu      sync.RWMutex
	frames  []indexedFrame[K]
	nextIdx uint64
	notify  chan struct{} // closed and replaced every time frames changes

	inbound chan indexedFrame[K]
	closed  chan struct{} // closed once, when mergeLoop stops
}

func newIncomingBuffer[K comparable](chanSize int) *incomingBuffer[K] {
	return &incomingBuffer[K]{
		inbound: make(chan indexedFrame[K], chanSize),
		notify:  make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// deliver is called by the background worker for every frame read off the
// wire, and by the client facade for its loopback self-addressed frames.
func (b *incomingBuffer[K]) deliver(header protocol.FromServerHeader[K], payload []byte) {
	select {
	case b.inbound <- indexedFrame[K]{header: header, payload: payload}:
	case <-b.closed:
	}
}

// mergeLoop is the sole consumer of inbound; run it in its own goroutine
// for the lifetime of the client. It exits when stop is closed, at which
// point any extractOne caller still waiting on notify unblocks with
// ErrChannelDisconnected instead of hanging forever (spec.md section 7).
func (b *incomingBuffer[K]) mergeLoop(stop <-chan struct{}) {
	defer close(b.closed)
	for {
		select {
		case f := <-b.inbound:
			b.mu.Lock()
			f.idx = b.nextIdx
			b.nextIdx++
			b.frames = append(b.frames, f)
			closed := b.notify
			b.notify = make(chan struct{})
			b.mu.Unlock()
			close(closed)
		case <-stop:
			return
		}
	}
}

func removeDead[K comparable](frames []indexedFrame[K], dead map[uint64]struct{}) []indexedFrame[K] {
	if len(dead) == 0 {
		return frames
	}
	kept := frames[:0:0]
	for _, f := range frames {
		if _, gone := dead[f.idx]; !gone {
			kept = append(kept, f)
		}
	}
	debug.Assert(len(kept) <= len(frames), "removeDead must never grow the buffer")
	return kept
}

func toDeadSet(indexes []uint64) map[uint64]struct{} {
	dead := make(map[uint64]struct{}, len(indexes))
	for _, i := range indexes {
		dead[i] = struct{}{}
	}
	return dead
}

// extractAll is the non-blocking entry point (spec.md section 4.2): it
// runs every currently buffered frame through step, in index order, and
// returns every completed result. Frames Skipped, or left pending
// mid-stream, remain buffered for a later call (to this or a different
// extractor).
func extractAll[K comparable, RET any](buf *incomingBuffer[K], step stepFn[K, RET]) []RET {
	buf.mu.RLock()
	snapshot := append([]indexedFrame[K](nil), buf.frames...)
	buf.mu.RUnlock()

	if len(snapshot) == 0 {
		return nil
	}

	ctxs := newSourceContexts[K]()
	dead := make(map[uint64]struct{})
	var results []RET
	for _, f := range snapshot {
		out := step(ctxs, f)
		if out.kind == stepComplete {
			for _, i := range out.consumedIndexes {
				dead[i] = struct{}{}
			}
			results = append(results, out.result)
		}
	}

	if len(dead) == 0 {
		// Unchanged: nothing completed, so there's nothing to rebuild --
		// skip the write lock entirely.
		return results
	}

	buf.mu.Lock()
	buf.frames = removeDead(buf.frames, dead)
	buf.mu.Unlock()
	return results
}

// extractOne is the blocking entry point: it returns the first completed
// result in index order, waiting on newly delivered frames if nothing
// currently buffered completes one. ctx cancellation unblocks the wait.
//
// Across wait iterations it never re-examines a frame index it has
// already stepped through (lastSeen) -- the fast path the teacher's
// upgradable-lock scan optimizes for is, here, simply "don't redo work
// you already did."
func extractOne[K comparable, RET any](ctx context.Context, buf *incomingBuffer[K], step stepFn[K, RET]) (RET, error) {
	var zero RET
	ctxs := newSourceContexts[K]()
	var lastSeen uint64
	seenAny := false

	for {
		buf.mu.RLock()
		snapshot := append([]indexedFrame[K](nil), buf.frames...)
		notifyCh := buf.notify
		buf.mu.RUnlock()

		var consumed []uint64
		var result RET
		found := false
		for _, f := range snapshot {
			if seenAny && f.idx <= lastSeen {
				continue
			}
			lastSeen = f.idx
			seenAny = true
			out := step(ctxs, f)
			if out.kind == stepComplete {
				result, consumed, found = out.result, out.consumedIndexes, true
				break
			}
		}

		if found {
			dead := toDeadSet(consumed)
			buf.mu.Lock()
			buf.frames = removeDead(buf.frames, dead)
			buf.mu.Unlock()
			return result, nil
		}

		select {
		case <-notifyCh:
			// frames changed; loop and re-snapshot.
		case <-buf.closed:
			return zero, &ErrChannelDisconnected{Op: "extractOne"}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
