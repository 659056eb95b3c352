// packet.go - reliable delivery sub-protocol wire packets (§4.7, §6.3).
// SPDX-License-Identifier: AGPL-3.0-only

// Package delivery implements segmented, per-priority reliable message
// delivery layered over the unreliable DDATA/GDATA path: SYN
// synchronization, MESSAGE/PART segmentation, per-part ACK, and
// fire-and-forget REPORT.
package delivery

import (
	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/wire"
)

// PacketType is the delivery sub-protocol's 4-bit type nibble.
type PacketType uint8

const (
	PacketSYN PacketType = iota
	PacketMESSAGE
	PacketPART
	PacketACK
	PacketREPORT
)

const deliveryVersion = 1

// InvalidSerial is the reserved "no serial number yet" value.
const InvalidSerial uint64 = 0

func putDeliveryHeader(o wire.Output, t PacketType) {
	o.PutU8((deliveryVersion << 4) | uint8(t)&0x0F)
}

// PeekType reads the packet type from b's first byte without consuming
// anything, so the caller can route to the right decoder; ok is false
// for an empty b or a version nibble other than deliveryVersion.
func PeekType(b []byte) (PacketType, bool) {
	if len(b) == 0 {
		return 0, false
	}
	version := b[0] >> 4
	return PacketType(b[0] & 0x0F), version == deliveryVersion
}

// SYNEntry advertises one priority's synchronization state.
type SYNEntry struct {
	Priority     uint8
	MsgID        meshid.ID
	LowestAckedSN uint64
}

// SYN carries zero or more SYNEntry records; an empty SYN is the
// acknowledging response to a non-empty request.
type SYN struct {
	Entries []SYNEntry
}

func EncodeSYN(s SYN) []byte {
	o := wire.NewOutput()
	putDeliveryHeader(o, PacketSYN)
	o.PutU32(uint32(len(s.Entries)))
	for _, e := range s.Entries {
		o.PutU8(e.Priority)
		o.PutID(e.MsgID)
		o.PutU64(e.LowestAckedSN)
	}
	return o.Bytes()
}

func DecodeSYN(in wire.Input) SYN {
	in.GetU8() // version|type, already peeked by caller
	n := in.GetU32()
	s := SYN{Entries: make([]SYNEntry, n)}
	for i := range s.Entries {
		s.Entries[i].Priority = in.GetU8()
		s.Entries[i].MsgID = in.GetID()
		s.Entries[i].LowestAckedSN = in.GetU64()
	}
	return s
}

// Message is the first part of a new multipart message.
type Message struct {
	SN        uint64
	MsgID     meshid.ID
	TotalSize uint64
	PartSize  uint32
	FirstSN   uint64
	LastSN    uint64
	Chunk     []byte
}

func EncodeMessage(m Message) []byte {
	o := wire.NewOutput()
	putDeliveryHeader(o, PacketMESSAGE)
	o.PutU64(m.SN)
	o.PutID(m.MsgID)
	o.PutU64(m.TotalSize)
	o.PutU32(m.PartSize)
	o.PutU64(m.LastSN)
	o.PutU32(uint32(len(m.Chunk)))
	o.PutFixed(m.Chunk)
	return o.Bytes()
}

func DecodeMessage(in wire.Input) Message {
	in.GetU8()
	var m Message
	m.SN = in.GetU64()
	m.MsgID = in.GetID()
	m.TotalSize = in.GetU64()
	m.PartSize = in.GetU32()
	m.FirstSN = m.SN
	m.LastSN = in.GetU64()
	n := in.GetU32()
	m.Chunk = in.GetFixed(int(n))
	return m
}

// Part is a subsequent part of an in-flight message.
type Part struct {
	SN    uint64
	Chunk []byte
}

func EncodePart(p Part) []byte {
	o := wire.NewOutput()
	putDeliveryHeader(o, PacketPART)
	o.PutU64(p.SN)
	o.PutU32(uint32(len(p.Chunk)))
	o.PutFixed(p.Chunk)
	return o.Bytes()
}

func DecodePart(in wire.Input) Part {
	in.GetU8()
	var p Part
	p.SN = in.GetU64()
	n := in.GetU32()
	p.Chunk = in.GetFixed(int(n))
	return p
}

// Ack positively acknowledges one serial number.
type Ack struct {
	SN uint64
}

func EncodeAck(a Ack) []byte {
	o := wire.NewOutput()
	putDeliveryHeader(o, PacketACK)
	o.PutU64(a.SN)
	return o.Bytes()
}

func DecodeAck(in wire.Input) Ack {
	in.GetU8()
	return Ack{SN: in.GetU64()}
}

// Report is a fire-and-forget payload requiring no ACK.
type Report struct {
	Data []byte
}

func EncodeReport(r Report) []byte {
	o := wire.NewOutput()
	putDeliveryHeader(o, PacketREPORT)
	o.PutBytes(r.Data)
	return o.Bytes()
}

func DecodeReport(in wire.Input) Report {
	in.GetU8()
	return Report{Data: in.GetBytes()}
}
