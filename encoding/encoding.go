// Package encoding provides the message-body codec used to turn a
// client's logical message (M) into the bytes carried by Broadcast/Direct
// frames, and back. The original system used `bincode`; json-iterator is
// the nearest equivalent in this dependency pack -- a fast, compact,
// drop-in encoding/json replacement already used pervasively elsewhere
// in the teacher codebase (cmn/cos, api/*, ais/*).
package encoding

import jsoniter "github.com/json-iterator/go"

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshaler is the pluggable message-body codec boundary (SPEC_FULL.md
// section 3 expansion): a harness may swap this out without touching the
// reassembly engine, which only ever deals in raw bytes.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsoniterMarshaler struct{}

func (jsoniterMarshaler) Marshal(v any) ([]byte, error) { return api.Marshal(v) }

func (jsoniterMarshaler) Unmarshal(data []byte, v any) error { return api.Unmarshal(data, v) }

// Default is the codec Marshal and Unmarshal use; replacing it changes
// the message codec for every client in the process.
var Default Marshaler = jsoniterMarshaler{}

// Marshal encodes a message with the default codec.
func Marshal[M any](msg M) ([]byte, error) { return Default.Marshal(msg) }

// Unmarshal decodes a message with the default codec.
func Unmarshal[M any](data []byte) (M, error) {
	var msg M
	err := Default.Unmarshal(data, &msg)
	return msg, err
}
