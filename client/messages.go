package client

import (
	"centralnet/cmn/nlog"
	"centralnet/encoding"
	"centralnet/protocol"
)

// BroadcastEvent is a fully reassembled broadcast message from Source. If
// the sender's bytes didn't decode as M, Err is set and Message is the
// zero value.
type BroadcastEvent[K comparable, M any] struct {
	Source  K
	Message M
	Err     error
}

// DirectEvent is a fully reassembled direct message addressed to this
// client, from Source.
type DirectEvent[K comparable, M any] struct {
	Source  K
	Message M
	Err     error
}

// NetworkChange reports a node joining or leaving the known-nodes roster.
type NetworkChange[K comparable] struct {
	Key       K
	Connected bool
}

// stepBroadcast reassembles Broadcast/BroadcastPayload frames into
// BroadcastEvent values. Every other header kind is left untouched for a
// different extractor.
func stepBroadcast[K comparable, M any](unmarshal func([]byte) (M, error)) stepFn[K, BroadcastEvent[K, M]] {
	return func(ctxs *sourceContexts[K], f indexedFrame[K]) stepOutcome[BroadcastEvent[K, M]] {
		switch h := f.header.(type) {
		case protocol.Broadcast[K]:
			switch {
			case h.PayloadLen < h.MessageLen:
				ctxs.begin(h.Source, f.idx, h.MessageLen, f.payload)
				return stepOutcome[BroadcastEvent[K, M]]{kind: stepBegin}
			case h.PayloadLen > h.MessageLen:
				nlog.Warningf("broadcast from %v: payload %d exceeds declared message length %d, dropping", h.Source, h.PayloadLen, h.MessageLen)
				return stepOutcome[BroadcastEvent[K, M]]{kind: stepSkip}
			default:
				msg, err := unmarshal(f.payload)
				return stepOutcome[BroadcastEvent[K, M]]{
					kind:            stepComplete,
					consumedIndexes: []uint64{f.idx},
					result:          BroadcastEvent[K, M]{Source: h.Source, Message: msg, Err: wrapDeserializeErr(err)},
				}
			}
		case protocol.BroadcastPayload[K]:
			sc, ok := ctxs.lookup(h.Source)
			if !ok {
				nlog.Warningf("broadcast payload from %v: no in-progress broadcast, dropping", h.Source)
				return stepOutcome[BroadcastEvent[K, M]]{kind: stepSkip}
			}
			sc.accumulated = append(sc.accumulated, f.payload...)
			sc.consumedIndexes[f.idx] = struct{}{}
			switch {
			case uint64(len(sc.accumulated)) < sc.messageLen:
				return stepOutcome[BroadcastEvent[K, M]]{kind: stepContinue}
			case uint64(len(sc.accumulated)) > sc.messageLen:
				nlog.Warningf("broadcast from %v: accumulated %db exceeds declared message length %db, dropping", h.Source, len(sc.accumulated), sc.messageLen)
				ctxs.drop(h.Source)
				return stepOutcome[BroadcastEvent[K, M]]{kind: stepSkip}
			default:
				msg, err := unmarshal(sc.accumulated)
				consumed := sc.indexSlice()
				ctxs.drop(h.Source)
				return stepOutcome[BroadcastEvent[K, M]]{
					kind:            stepComplete,
					consumedIndexes: consumed,
					result:          BroadcastEvent[K, M]{Source: h.Source, Message: msg, Err: wrapDeserializeErr(err)},
				}
			}
		default:
			return stepOutcome[BroadcastEvent[K, M]]{kind: stepSkip}
		}
	}
}

// stepDirect is stepBroadcast's mirror for Direct/DirectPayload frames.
func stepDirect[K comparable, M any](unmarshal func([]byte) (M, error)) stepFn[K, DirectEvent[K, M]] {
	return func(ctxs *sourceContexts[K], f indexedFrame[K]) stepOutcome[DirectEvent[K, M]] {
		switch h := f.header.(type) {
		case protocol.Direct[K]:
			switch {
			case h.PayloadLen < h.MessageLen:
				ctxs.begin(h.Source, f.idx, h.MessageLen, f.payload)
				return stepOutcome[DirectEvent[K, M]]{kind: stepBegin}
			case h.PayloadLen > h.MessageLen:
				nlog.Warningf("direct message from %v: payload %d exceeds declared message length %d, dropping", h.Source, h.PayloadLen, h.MessageLen)
				return stepOutcome[DirectEvent[K, M]]{kind: stepSkip}
			default:
				msg, err := unmarshal(f.payload)
				return stepOutcome[DirectEvent[K, M]]{
					kind:            stepComplete,
					consumedIndexes: []uint64{f.idx},
					result:          DirectEvent[K, M]{Source: h.Source, Message: msg, Err: wrapDeserializeErr(err)},
				}
			}
		case protocol.DirectPayload[K]:
			sc, ok := ctxs.lookup(h.Source)
			if !ok {
				nlog.Warningf("direct payload from %v: no in-progress direct message, dropping", h.Source)
				return stepOutcome[DirectEvent[K, M]]{kind: stepSkip}
			}
			sc.accumulated = append(sc.accumulated, f.payload...)
			sc.consumedIndexes[f.idx] = struct{}{}
			switch {
			case uint64(len(sc.accumulated)) < sc.messageLen:
				return stepOutcome[DirectEvent[K, M]]{kind: stepContinue}
			case uint64(len(sc.accumulated)) > sc.messageLen:
				nlog.Warningf("direct message from %v: accumulated %db exceeds declared message length %db, dropping", h.Source, len(sc.accumulated), sc.messageLen)
				ctxs.drop(h.Source)
				return stepOutcome[DirectEvent[K, M]]{kind: stepSkip}
			default:
				msg, err := unmarshal(sc.accumulated)
				consumed := sc.indexSlice()
				ctxs.drop(h.Source)
				return stepOutcome[DirectEvent[K, M]]{
					kind:            stepComplete,
					consumedIndexes: consumed,
					result:          DirectEvent[K, M]{Source: h.Source, Message: msg, Err: wrapDeserializeErr(err)},
				}
			}
		default:
			return stepOutcome[DirectEvent[K, M]]{kind: stepSkip}
		}
	}
}

// stepNetworkChange completes in a single frame: NodeConnected/
// NodeDisconnected never span multiple frames.
func stepNetworkChange[K comparable]() stepFn[K, NetworkChange[K]] {
	return func(_ *sourceContexts[K], f indexedFrame[K]) stepOutcome[NetworkChange[K]] {
		switch h := f.header.(type) {
		case protocol.NodeConnected[K]:
			return stepOutcome[NetworkChange[K]]{
				kind:            stepComplete,
				consumedIndexes: []uint64{f.idx},
				result:          NetworkChange[K]{Key: h.Key, Connected: true},
			}
		case protocol.NodeDisconnected[K]:
			return stepOutcome[NetworkChange[K]]{
				kind:            stepComplete,
				consumedIndexes: []uint64{f.idx},
				result:          NetworkChange[K]{Key: h.Key, Connected: false},
			}
		default:
			return stepOutcome[NetworkChange[K]]{kind: stepSkip}
		}
	}
}

func unmarshalMessage[M any](payload []byte) (M, error) { return encoding.Unmarshal[M](payload) }

func marshalMessage[M any](msg M) ([]byte, error) { return encoding.Marshal(msg) }

func wrapDeserializeErr(err error) error {
	if err == nil {
		return nil
	}
	return &ErrFailedToDeserialize{Err: err}
}
