package client

import "fmt"

// ErrChannelDisconnected is returned by any operation that discovers the
// background worker's inbound or outbound channel has been closed.
type ErrChannelDisconnected struct{ Op string }

func (e *ErrChannelDisconnected) Error() string {
	return fmt.Sprintf("centralnet: %s: channel disconnected", e.Op)
}

// ErrFailedToSerialize wraps a message-body encoding failure (spec.md
// section 7: Broadcast and Direct surface this instead of
// enqueuing a malformed frame).
type ErrFailedToSerialize struct{ Err error }

func (e *ErrFailedToSerialize) Error() string {
	return fmt.Sprintf("centralnet: failed to serialize message: %v", e.Err)
}

func (e *ErrFailedToSerialize) Unwrap() error { return e.Err }

// ErrFailedToDeserialize wraps a message-body decoding failure discovered
// by the reassembly engine once a stream completes.
type ErrFailedToDeserialize struct{ Err error }

func (e *ErrFailedToDeserialize) Error() string {
	return fmt.Sprintf("centralnet: failed to deserialize message: %v", e.Err)
}

func (e *ErrFailedToDeserialize) Unwrap() error { return e.Err }

// ErrDHT is returned by PutRecord/GetRecord: the original system's DHT
// surface is explicitly unimplemented for the centralized-server topology
// (spec.md section 4.3), a hard-fail per the resolved Open Question.
type ErrDHT struct{ Op string }

func (e *ErrDHT) Error() string {
	return fmt.Sprintf("centralnet: %s: no DHT in a centralized-server network", e.Op)
}

// ErrStream wraps a transport-level failure surfaced by a Codec.
type ErrStream struct{ Err error }

func (e *ErrStream) Error() string { return fmt.Sprintf("centralnet: stream error: %v", e.Err) }

func (e *ErrStream) Unwrap() error { return e.Err }
