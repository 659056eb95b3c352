// input.go - inbound frame reassembly and packet dispatch (§4.4, C4).
// SPDX-License-Identifier: AGPL-3.0-only

package channel

import (
	"fmt"

	"github.com/semenovf/netty-go/frame"
	"github.com/semenovf/netty-go/internal/werrors"
	"github.com/semenovf/netty-go/transport"
	"github.com/semenovf/netty-go/wire"
)

// Dispatch receives fully decoded packets as the input controller
// pulls them off one socket's reassembled per-priority streams. Every
// packet type but DDATA/GDATA travels at priority 0 (§4.4); HandleDDATA
// and HandleGDATA alone carry a non-zero priority.
type Dispatch interface {
	HandleHandshake(sock transport.SocketID, h wire.Handshake)
	HandleHeartbeat(sock transport.SocketID, h wire.Heartbeat)
	HandleAlive(sock transport.SocketID, a wire.Alive)
	HandleUnreachable(sock transport.SocketID, u wire.Unreachable)
	HandleRouteRequest(sock transport.SocketID, r wire.Route)
	HandleRouteResponse(sock transport.SocketID, r wire.Route)
	HandleDDATA(sock transport.SocketID, priority uint8, data []byte)
	HandleGDATA(sock transport.SocketID, priority uint8, g wire.GDATA)
	ProtocolError(sock transport.SocketID, err error)
}

// socketInput is one socket's reassembly state: a raw buffer still
// waiting to be cut into frames, plus one reassembled byte stream per
// priority nibble waiting to be cut into packets.
type socketInput struct {
	raw        wire.Buffer
	priorities [frame.MaxPriority + 1]wire.Buffer
}

// Input demultiplexes raw inbound bytes from any number of sockets
// into decoded packets, handed to a shared Dispatch.
type Input struct {
	dispatch Dispatch
	sockets  map[transport.SocketID]*socketInput
}

// NewInput builds an input controller delivering decoded packets to d.
func NewInput(d Dispatch) *Input {
	return &Input{dispatch: d, sockets: make(map[transport.SocketID]*socketInput)}
}

// Forget drops a closed socket's reassembly state.
func (in *Input) Forget(sock transport.SocketID) {
	delete(in.sockets, sock)
}

// Feed appends newly read bytes from sock and decodes everything that
// is now a complete frame and, in turn, a complete packet.
func (in *Input) Feed(sock transport.SocketID, data []byte) {
	s, ok := in.sockets[sock]
	if !ok {
		s = &socketInput{}
		in.sockets[sock] = s
	}
	s.raw.Write(data)

	for {
		f, n, err := frame.Parse(s.raw.Bytes())
		if err != nil {
			in.dispatch.ProtocolError(sock, &werrors.DecodeError{Socket: uint64(sock), Reason: err.Error()})
			return
		}
		if f == nil {
			break
		}
		s.raw.Advance(n)
		s.priorities[f.Priority].Write(f.Payload)
	}

	for p := range s.priorities {
		in.decodeStream(sock, uint8(p), &s.priorities[p])
	}
}

// decodeStream pulls as many complete packets as are currently
// buffered for one (socket, priority) pair.
func (in *Input) decodeStream(sock transport.SocketID, priority uint8, buf *wire.Buffer) {
	for buf.Len() > 0 {
		input := wire.NewInput(buf.Bytes())
		input.StartTransaction()
		h, versionOK := wire.GetHeader(input)

		var handled bool
		switch h.Type {
		case wire.PacketHandshake:
			hs := wire.DecodeHandshake(input)
			handled = in.commit(input, buf, func() { in.dispatch.HandleHandshake(sock, hs) })
		case wire.PacketHeartbeat:
			hb := wire.DecodeHeartbeat(input)
			handled = in.commit(input, buf, func() { in.dispatch.HandleHeartbeat(sock, hb) })
		case wire.PacketAlive:
			a := wire.DecodeAlive(input)
			handled = in.commit(input, buf, func() { in.dispatch.HandleAlive(sock, a) })
		case wire.PacketUnreachable:
			u := wire.DecodeUnreachable(input)
			handled = in.commit(input, buf, func() { in.dispatch.HandleUnreachable(sock, u) })
		case wire.PacketRouteRequest:
			r := wire.DecodeRoute(input)
			handled = in.commit(input, buf, func() { in.dispatch.HandleRouteRequest(sock, r) })
		case wire.PacketRouteResponse:
			r := wire.DecodeRoute(input)
			handled = in.commit(input, buf, func() { in.dispatch.HandleRouteResponse(sock, r) })
		case wire.PacketDDATA:
			d, checksumOK := wire.DecodeDDATA(input, h)
			handled = in.commit(input, buf, func() {
				if !checksumOK {
					in.dispatch.ProtocolError(sock, &werrors.ChecksumError{Socket: uint64(sock)})
					return
				}
				in.dispatch.HandleDDATA(sock, priority, d)
			})
		case wire.PacketGDATA:
			g, checksumOK := wire.DecodeGDATA(input, h)
			handled = in.commit(input, buf, func() {
				if !checksumOK {
					in.dispatch.ProtocolError(sock, &werrors.ChecksumError{Socket: uint64(sock)})
					return
				}
				in.dispatch.HandleGDATA(sock, priority, g)
			})
		default:
			input.CommitTransaction()
			in.dispatch.ProtocolError(sock, &werrors.DecodeError{Socket: uint64(sock), Reason: fmt.Sprintf("unknown packet type %d", h.Type)})
			return
		}

		if !handled {
			// Short read: not enough bytes buffered yet for this packet.
			// The transaction left buf untouched, so wait for more data.
			return
		}
		if !versionOK {
			in.dispatch.ProtocolError(sock, &werrors.ProtocolError{Socket: uint64(sock), Err: fmt.Errorf("unsupported wire version")})
			return
		}
	}
}

// commit finalizes a successfully-parsed packet's transaction,
// advancing buf past exactly the bytes the decode consumed, then
// invokes deliver. It returns false if the transaction failed (short
// read), in which case buf is untouched and deliver is not called.
func (in *Input) commit(input wire.Input, buf *wire.Buffer, deliver func()) bool {
	before := buf.Len()
	remaining := input.Remaining()
	if !input.CommitTransaction() {
		return false
	}
	consumed := before - remaining
	buf.Advance(consumed)
	deliver()
	return true
}
