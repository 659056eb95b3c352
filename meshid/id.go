// id.go - 128-bit node identity with a total order.
// SPDX-License-Identifier: AGPL-3.0-only

// Package meshid defines the 128-bit node identifier used throughout
// the mesh core: channel handshakes, routing records, and delivery
// message ids all key off it.
package meshid

import (
	"encoding/hex"
	"fmt"

	"github.com/gofrs/uuid"
)

// Size is the length in bytes of an ID.
const Size = 16

// ID is a 128-bit node (or message) identifier with a total order;
// comparison breaks ties during handshake (§4.3).
type ID [Size]byte

// Nil is the zero ID, never a valid node or message identifier.
var Nil ID

// New generates a fresh random ID.
func New() ID {
	u, err := uuid.NewV4()
	if err != nil {
		// uuid.NewV4 only fails if the entropy source is broken beyond
		// repair; there is nothing this process can usefully do instead.
		panic(fmt.Sprintf("meshid: failed to generate id: %v", err))
	}
	var id ID
	copy(id[:], u.Bytes())
	return id
}

// FromBytes copies b (which must be Size bytes) into an ID.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, fmt.Errorf("meshid: expected %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Compare returns -1, 0 or 1 as id is less than, equal to, or greater
// than other, using plain big-endian byte order. The handshake uses
// this to deterministically assign which side of a pair owns the
// single channel (§4.3).
func (id ID) Compare(other ID) int {
	for i := 0; i < Size; i++ {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool { return id.Compare(other) < 0 }

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool { return id == Nil }

// String renders the id as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the id's bytes as a new slice.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// ParseString decodes a hex-encoded ID, as produced by String.
func ParseString(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	return FromBytes(b)
}
