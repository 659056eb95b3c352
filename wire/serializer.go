// serializer.go - the pluggable byte-oriented wire codec (§6.1).
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"encoding/binary"

	"github.com/semenovf/netty-go/meshid"
)

// Output appends primitives to a growable byte buffer, big-endian.
// This is the §6.1 "output" half of the serializer contract.
type Output interface {
	PutU8(v uint8)
	PutU16(v uint16)
	PutU32(v uint32)
	PutU64(v uint64)
	PutID(id meshid.ID)
	// PutBytes appends a u32 length prefix followed by b.
	PutBytes(b []byte)
	// PutFixed appends b with no length prefix.
	PutFixed(b []byte)
	Bytes() []byte
}

// Input peeks the same primitives with transactional semantics: a
// sequence of Get* calls between StartTransaction and
// CommitTransaction either all succeed and advance the cursor on
// commit, or any short read marks the transaction failed and leaves
// the cursor untouched (§6.1's implicit rollback).
type Input interface {
	StartTransaction()
	// CommitTransaction advances the cursor past everything read since
	// StartTransaction and returns true, or leaves the cursor in place
	// and returns false if any read in the transaction was short.
	CommitTransaction() bool
	GetU8() uint8
	GetU16() uint16
	GetU32() uint32
	GetU64() uint64
	GetID() meshid.ID
	GetBytes() []byte
	GetFixed(n int) []byte
	// Remaining reports the number of bytes not yet read; bytes read by
	// an in-progress transaction already count as read.
	Remaining() int
}

// The serializer contract is wire-format-exact (§6.3 specifies fixed
// big-endian layouts byte-for-byte), so Output/Input are implemented
// directly on encoding/binary rather than through a general-purpose
// structured codec: no third-party library in the corpus offers this
// transactional peek/rollback cursor shape over a raw byte stream, and
// reaching for a tagged format like CBOR here would fight the spec's
// explicit positional layout instead of expressing it. CBOR is used
// elsewhere in this module (storage/boltstore, storage/pgstore) for
// opaque record persistence, where the wire-exactness constraint does
// not apply.

// binOutput is the sole Output implementation.
type binOutput struct {
	buf []byte
}

// NewOutput returns an Output writing into a fresh buffer.
func NewOutput() Output { return &binOutput{} }

func (o *binOutput) PutU8(v uint8)   { o.buf = append(o.buf, v) }
func (o *binOutput) PutU16(v uint16) { o.buf = binary.BigEndian.AppendUint16(o.buf, v) }
func (o *binOutput) PutU32(v uint32) { o.buf = binary.BigEndian.AppendUint32(o.buf, v) }
func (o *binOutput) PutU64(v uint64) { o.buf = binary.BigEndian.AppendUint64(o.buf, v) }
func (o *binOutput) PutID(id meshid.ID) { o.buf = append(o.buf, id[:]...) }
func (o *binOutput) PutBytes(b []byte) {
	o.PutU32(uint32(len(b)))
	o.buf = append(o.buf, b...)
}
func (o *binOutput) PutFixed(b []byte) { o.buf = append(o.buf, b...) }
func (o *binOutput) Bytes() []byte     { return o.buf }

// binInput is the sole Input implementation.
type binInput struct {
	data []byte
	pos  int

	inTxn    bool
	txnStart int
	txnPos   int
	failed   bool
}

// NewInput returns an Input reading from data.
func NewInput(data []byte) Input { return &binInput{data: data} }

func (in *binInput) StartTransaction() {
	in.inTxn = true
	in.txnStart = in.pos
	in.txnPos = in.pos
	in.failed = false
}

func (in *binInput) CommitTransaction() bool {
	if !in.inTxn {
		return false
	}
	in.inTxn = false
	if in.failed {
		in.pos = in.txnStart
		return false
	}
	in.pos = in.txnPos
	return true
}

func (in *binInput) cursor() int {
	if in.inTxn {
		return in.txnPos
	}
	return in.pos
}

func (in *binInput) advance(n int) {
	if in.inTxn {
		in.txnPos += n
	} else {
		in.pos += n
	}
}

func (in *binInput) need(n int) bool {
	if in.failed {
		return false
	}
	if in.cursor()+n > len(in.data) {
		in.failed = true
		return false
	}
	return true
}

func (in *binInput) GetU8() uint8 {
	if !in.need(1) {
		return 0
	}
	v := in.data[in.cursor()]
	in.advance(1)
	return v
}

func (in *binInput) GetU16() uint16 {
	if !in.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(in.data[in.cursor():])
	in.advance(2)
	return v
}

func (in *binInput) GetU32() uint32 {
	if !in.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(in.data[in.cursor():])
	in.advance(4)
	return v
}

func (in *binInput) GetU64() uint64 {
	if !in.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(in.data[in.cursor():])
	in.advance(8)
	return v
}

func (in *binInput) GetID() meshid.ID {
	var id meshid.ID
	if !in.need(meshid.Size) {
		return id
	}
	copy(id[:], in.data[in.cursor():])
	in.advance(meshid.Size)
	return id
}

func (in *binInput) GetFixed(n int) []byte {
	if !in.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, in.data[in.cursor():in.cursor()+n])
	in.advance(n)
	return b
}

func (in *binInput) GetBytes() []byte {
	n := in.GetU32()
	if in.failed {
		return nil
	}
	return in.GetFixed(int(n))
}

func (in *binInput) Remaining() int {
	return len(in.data) - in.cursor()
}
