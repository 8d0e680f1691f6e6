// Package testkey provides a minimal comparable identity type for
// exercising the client core in tests. Real key generation and signature
// verification are out of scope for this module (spec.md section 1,
// out-of-scope item iii) -- the core only ever needs K to be comparable.
package testkey

import (
	"encoding/hex"
	"fmt"
)

// Key is a fixed-size stand-in for a participant's public key. It is
// comparable (usable as a map key, and for self-addressed equality
// checks) and has a stable string form for logging.
type Key [8]byte

// New derives a deterministic test key from a seed and a node index, mirroring
// the original system's seed+node_index derivation (spec.md section
// 4.4) without pulling in a real signature scheme.
func New(seed, nodeIndex uint64) Key {
	var k Key
	for i := range k {
		k[i] = byte((seed ^ (nodeIndex << uint(i))) >> uint(i*8))
	}
	return k
}

func (k Key) String() string { return hex.EncodeToString(k[:]) }

func (k Key) GoString() string { return fmt.Sprintf("testkey.Key(%s)", k.String()) }
