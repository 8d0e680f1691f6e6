// Package protocol defines the wire-level header types exchanged with the
// centralized coordinating server, and the Codec interface the
// background worker consumes to read and write them.
//
// The codec itself -- how a header tag and its payload are actually
// serialized onto a byte stream -- is an external collaborator (see
// spec.md section 1, out-of-scope item i): this package only describes
// the shapes a Codec implementation must produce and accept.
package protocol

// FromServerHeader is the tagged union of frames the server sends to a
// client. Each concrete type below implements it.
type FromServerHeader[K comparable] interface {
	isFromServer()
}

type NodeConnected[K comparable] struct{ Key K }

type NodeDisconnected[K comparable] struct{ Key K }

// Broadcast begins or completes a broadcast. PayloadLen is the number of
// bytes carried alongside this frame; MessageLen is the total logical
// size. MessageLen > PayloadLen means one or more BroadcastPayload
// frames from the same Source will follow to complete the stream.
type Broadcast[K comparable] struct {
	Source     K
	MessageLen uint64
	PayloadLen uint64
}

// BroadcastPayload is a continuation fragment for an in-progress
// broadcast from Source.
type BroadcastPayload[K comparable] struct {
	Source     K
	PayloadLen uint64
}

type Direct[K comparable] struct {
	Source     K
	MessageLen uint64
	PayloadLen uint64
}

type DirectPayload[K comparable] struct {
	Source     K
	PayloadLen uint64
}

type ClientCountMsg struct{ N int }

// ConfigMsg is returned only by the bootstrap dialog (spec.md section 4.4).
type ConfigMsg[K comparable] struct {
	Config NetworkConfig[K]
	Run    Run
}

// StartMsg signals the run is authorized to begin (spec.md section 4.3,
// the run_ready latch).
type StartMsg struct{}

func (NodeConnected[K]) isFromServer()    {}
func (NodeDisconnected[K]) isFromServer() {}
func (Broadcast[K]) isFromServer()        {}
func (BroadcastPayload[K]) isFromServer() {}
func (Direct[K]) isFromServer()           {}
func (DirectPayload[K]) isFromServer()    {}
func (ClientCountMsg) isFromServer()      {}
func (ConfigMsg[K]) isFromServer()        {}
func (StartMsg) isFromServer()            {}

// HasPayload reports whether a header declares raw bytes that the caller
// must still read off the wire via Codec.RecvRaw.
func HasPayload[K comparable](h FromServerHeader[K]) (payloadLen uint64, ok bool) {
	switch v := h.(type) {
	case Broadcast[K]:
		return v.PayloadLen, true
	case BroadcastPayload[K]:
		return v.PayloadLen, true
	case Direct[K]:
		return v.PayloadLen, true
	case DirectPayload[K]:
		return v.PayloadLen, true
	default:
		return 0, false
	}
}

// ToServerHeader is the tagged union of frames a client sends to the
// server.
type ToServerHeader[K comparable] interface {
	isToServer()
}

type Identify[K comparable] struct{ Key K }

type BroadcastReq struct{ MessageLen uint64 }

type DirectReq[K comparable] struct {
	Target     K
	MessageLen uint64
}

type RequestClientCount struct{}

type GetConfig struct{}

type Results struct{ Results RunResults }

func (Identify[K]) isToServer()      {}
func (BroadcastReq) isToServer()     {}
func (DirectReq[K]) isToServer()     {}
func (RequestClientCount) isToServer() {}
func (GetConfig) isToServer()        {}
func (Results) isToServer()          {}
