// packet.go - packet header codec carried inside frame payloads (§6.3).
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"hash/crc32"

	"github.com/semenovf/netty-go/meshid"
)

// PacketVersion is the only wire version this module emits or accepts.
const PacketVersion = 1

// PacketType is the 4-bit type nibble of a packet header.
type PacketType uint8

const (
	PacketHandshake PacketType = iota
	PacketHeartbeat
	PacketAlive
	PacketUnreachable
	PacketRouteRequest
	PacketRouteResponse
	PacketDDATA
	PacketGDATA
)

const flagHasChecksum = 1 << 0

// Header is the common packet header: version, type, and whether a
// checksum trails the flag byte.
type Header struct {
	Type        PacketType
	HasChecksum bool
}

// PutHeader writes the version|type byte and the flag byte.
func PutHeader(o Output, h Header) {
	o.PutU8((PacketVersion << 4) | uint8(h.Type)&0x0F)
	var flags uint8
	if h.HasChecksum {
		flags |= flagHasChecksum
	}
	o.PutU8(flags)
}

// GetHeader reads the version|type byte and flag byte. ok is false if
// the version nibble does not match PacketVersion.
func GetHeader(in Input) (h Header, ok bool) {
	b := in.GetU8()
	version := b >> 4
	h.Type = PacketType(b & 0x0F)
	flags := in.GetU8()
	h.HasChecksum = flags&flagHasChecksum != 0
	return h, version == PacketVersion
}

// DDATA is a domestic-data packet: data delivered to a direct neighbor.
type DDATA struct {
	HasChecksum bool
	Data        []byte
}

// EncodeDDATA serializes a DDATA packet, computing a CRC-32 over Data
// when HasChecksum is set.
func EncodeDDATA(p DDATA) []byte {
	o := NewOutput()
	PutHeader(o, Header{Type: PacketDDATA, HasChecksum: p.HasChecksum})
	if p.HasChecksum {
		o.PutU32(crc32.ChecksumIEEE(p.Data))
	}
	o.PutBytes(p.Data)
	return o.Bytes()
}

// DecodeDDATA parses a DDATA packet body (header already consumed).
// checksumOK is false when a present checksum does not match.
func DecodeDDATA(in Input, h Header) (data []byte, checksumOK bool) {
	var want uint32
	if h.HasChecksum {
		want = in.GetU32()
	}
	data = in.GetBytes()
	if h.HasChecksum {
		return data, crc32.ChecksumIEEE(data) == want
	}
	return data, true
}

// GDATA is a global-data packet: data destined beyond a direct neighbor,
// carrying the original sender and final receiver ids for forwarding.
type GDATA struct {
	HasChecksum bool
	Sender      meshid.ID
	Receiver    meshid.ID
	Data        []byte
}

func EncodeGDATA(p GDATA) []byte {
	o := NewOutput()
	PutHeader(o, Header{Type: PacketGDATA, HasChecksum: p.HasChecksum})
	if p.HasChecksum {
		o.PutU32(crc32.ChecksumIEEE(p.Data))
	}
	o.PutID(p.Sender)
	o.PutID(p.Receiver)
	o.PutBytes(p.Data)
	return o.Bytes()
}

func DecodeGDATA(in Input, h Header) (g GDATA, checksumOK bool) {
	var want uint32
	if h.HasChecksum {
		want = in.GetU32()
	}
	g.HasChecksum = h.HasChecksum
	g.Sender = in.GetID()
	g.Receiver = in.GetID()
	g.Data = in.GetBytes()
	if h.HasChecksum {
		return g, crc32.ChecksumIEEE(g.Data) == want
	}
	return g, true
}

// Handshake carries the identity exchange payload for both REQUEST and
// RESPONSE shapes; Accepted is only meaningful on a response.
type Handshake struct {
	IsResponse bool
	SelfID     meshid.ID
	Name       string
	IsGateway  bool
	BehindNAT  bool
	Accepted   bool
}

func EncodeHandshake(h Handshake) []byte {
	o := NewOutput()
	PutHeader(o, Header{Type: PacketHandshake})
	var flags uint8
	if h.IsResponse {
		flags |= 1 << 0
	}
	if h.IsGateway {
		flags |= 1 << 1
	}
	if h.BehindNAT {
		flags |= 1 << 2
	}
	if h.Accepted {
		flags |= 1 << 3
	}
	o.PutU8(flags)
	o.PutID(h.SelfID)
	o.PutBytes([]byte(h.Name))
	return o.Bytes()
}

func DecodeHandshake(in Input) Handshake {
	flags := in.GetU8()
	h := Handshake{
		IsResponse: flags&(1<<0) != 0,
		IsGateway:  flags&(1<<1) != 0,
		BehindNAT:  flags&(1<<2) != 0,
		Accepted:   flags&(1<<3) != 0,
	}
	h.SelfID = in.GetID()
	h.Name = string(in.GetBytes())
	return h
}

// Heartbeat carries an 8-bit health payload (§6.3).
type Heartbeat struct {
	Health uint8
}

func EncodeHeartbeat(h Heartbeat) []byte {
	o := NewOutput()
	PutHeader(o, Header{Type: PacketHeartbeat})
	o.PutU8(h.Health)
	return o.Bytes()
}

func DecodeHeartbeat(in Input) Heartbeat {
	return Heartbeat{Health: in.GetU8()}
}

// Alive announces or refreshes this node's liveness as seen by a
// neighbor relaying it onward.
type Alive struct {
	ID meshid.ID
}

func EncodeAlive(a Alive) []byte {
	o := NewOutput()
	PutHeader(o, Header{Type: PacketAlive})
	o.PutID(a.ID)
	return o.Bytes()
}

func DecodeAlive(in Input) Alive {
	return Alive{ID: in.GetID()}
}

// Unreachable is emitted by a gateway back toward a sender whose
// in-flight GDATA it could not forward.
type Unreachable struct {
	Gateway  meshid.ID
	Sender   meshid.ID
	Receiver meshid.ID
}

func EncodeUnreachable(u Unreachable) []byte {
	o := NewOutput()
	PutHeader(o, Header{Type: PacketUnreachable})
	o.PutID(u.Gateway)
	o.PutID(u.Sender)
	o.PutID(u.Receiver)
	return o.Bytes()
}

func DecodeUnreachable(in Input) Unreachable {
	return Unreachable{Gateway: in.GetID(), Sender: in.GetID(), Receiver: in.GetID()}
}

// Route carries either a ROUTE-REQUEST or ROUTE-RESPONSE, distinguished
// by the enclosing packet type.
type Route struct {
	Initiator meshid.ID
	Responder meshid.ID // only meaningful on a response
	Path      []meshid.ID
}

func encodeRoute(r Route) []byte {
	o := NewOutput()
	o.PutID(r.Initiator)
	o.PutID(r.Responder)
	o.PutU32(uint32(len(r.Path)))
	for _, id := range r.Path {
		o.PutID(id)
	}
	return o.Bytes()
}

func EncodeRouteRequest(r Route) []byte {
	o := NewOutput()
	PutHeader(o, Header{Type: PacketRouteRequest})
	o.PutFixed(encodeRoute(r))
	return o.Bytes()
}

func EncodeRouteResponse(r Route) []byte {
	o := NewOutput()
	PutHeader(o, Header{Type: PacketRouteResponse})
	o.PutFixed(encodeRoute(r))
	return o.Bytes()
}

func DecodeRoute(in Input) Route {
	var r Route
	r.Initiator = in.GetID()
	r.Responder = in.GetID()
	n := in.GetU32()
	r.Path = make([]meshid.ID, n)
	for i := range r.Path {
		r.Path[i] = in.GetID()
	}
	return r
}
