// handshake.go - handshake controller: identity exchange and role
// assignment (§4.3, C5).
// SPDX-License-Identifier: AGPL-3.0-only

// Package channel composes the socket pools, priority writer queue,
// frame codec, input controller, handshake controller and heartbeat
// controller into one bidirectional channel per neighbor peer (§4.3,
// C1-C8).
package channel

import (
	"time"

	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/transport"
	"github.com/semenovf/netty-go/wire"
)

// Role is which slot(s) a socket fills once a handshake completes.
type Role int

const (
	RoleNone Role = iota
	RoleReader
	RoleWriter
	RoleBoth
)

// Mode selects single-link or dual-link handshake behavior (§4.3,
// §9's "dynamic dispatch on controllers" note resolved as a tagged
// variant rather than a template parameter).
type Mode int

const (
	ModeSingleLink Mode = iota
	ModeDualLink
)

// HandshakeCallbacks are fired as the handshake progresses.
type HandshakeCallbacks interface {
	ChannelEstablished(peer meshid.ID, isGateway bool)
	DuplicateID(peer meshid.ID, addr string)
	Send(sock transport.SocketID, bytes []byte)
	CloseSocket(sock transport.SocketID)
}

// Identity is this node's own handshake payload.
type Identity struct {
	ID        meshid.ID
	Name      string
	IsGateway bool
	BehindNAT bool
}

// pendingEntry is a handshake cache entry: socket id to deadline (§3).
type pendingEntry struct {
	sock     transport.SocketID
	outbound bool
	addr     string
	deadline time.Time
}

// Controller drives the handshake state machine for every socket of
// one channel's neighbor.
type Controller struct {
	self    Identity
	mode    Mode
	cb      HandshakeCallbacks
	timeout time.Duration

	pending map[transport.SocketID]*pendingEntry
}

// NewController builds a handshake controller.
func NewController(self Identity, mode Mode, cb HandshakeCallbacks, timeout time.Duration) *Controller {
	return &Controller{
		self:    self,
		mode:    mode,
		cb:      cb,
		timeout: timeout,
		pending: make(map[transport.SocketID]*pendingEntry),
	}
}

// StartOutbound sends a REQUEST on a freshly-dialed socket and places
// it in HANDSHAKING with a deadline.
func (c *Controller) StartOutbound(sock transport.SocketID, addr string, now time.Time) {
	c.pending[sock] = &pendingEntry{sock: sock, outbound: true, addr: addr, deadline: now.Add(c.timeout)}
	c.cb.Send(sock, wire.EncodeHandshake(wire.Handshake{
		SelfID:    c.self.ID,
		Name:      c.self.Name,
		IsGateway: c.self.IsGateway,
		BehindNAT: c.self.BehindNAT,
	}))
}

// StartInbound places a freshly-accepted socket in HANDSHAKING,
// awaiting the peer's REQUEST.
func (c *Controller) StartInbound(sock transport.SocketID, addr string, now time.Time) {
	c.pending[sock] = &pendingEntry{sock: sock, outbound: false, addr: addr, deadline: now.Add(c.timeout)}
}

// OnRequest handles an inbound REQUEST on sock. It returns the role
// this socket should be assigned, or RoleNone if the request was
// rejected (peer was told no and the socket stays open awaiting
// nothing further from this controller).
//
// The acceptance rule breaks the simultaneous-dial race per §4.3: a
// node behind NAT is always accepted (it cannot be dialed back), and
// otherwise the numerically larger id wins, so both ends of a
// simultaneous handshake agree on the same single winner.
func (c *Controller) OnRequest(sock transport.SocketID, req wire.Handshake) Role {
	accept := req.BehindNAT || c.self.ID.Compare(req.SelfID) > 0
	c.cb.Send(sock, wire.EncodeHandshake(wire.Handshake{
		IsResponse: true,
		SelfID:     c.self.ID,
		Name:       c.self.Name,
		IsGateway:  c.self.IsGateway,
		Accepted:   accept,
	}))
	if !accept {
		return RoleNone
	}
	delete(c.pending, sock)
	switch c.mode {
	case ModeDualLink:
		c.cb.ChannelEstablished(req.SelfID, req.IsGateway)
		return RoleReader
	default:
		c.cb.ChannelEstablished(req.SelfID, req.IsGateway)
		return RoleBoth
	}
}

// OnResponse handles an inbound RESPONSE on an outbound socket. It
// returns the role to assign (RoleNone if the socket should be
// closed, e.g. on rejection or duplicate id).
func (c *Controller) OnResponse(sock transport.SocketID, resp wire.Handshake) Role {
	entry, ok := c.pending[sock]
	if !ok {
		return RoleNone
	}
	delete(c.pending, sock)

	if resp.SelfID == c.self.ID {
		c.cb.DuplicateID(resp.SelfID, entry.addr)
		c.cb.CloseSocket(sock)
		return RoleNone
	}
	if !resp.Accepted {
		c.cb.CloseSocket(sock)
		return RoleNone
	}
	c.cb.ChannelEstablished(resp.SelfID, resp.IsGateway)
	if c.mode == ModeDualLink {
		return RoleWriter
	}
	return RoleBoth
}

// CheckDeadlines closes every pending socket whose handshake deadline
// has passed as of now.
func (c *Controller) CheckDeadlines(now time.Time) {
	for sock, entry := range c.pending {
		if now.After(entry.deadline) {
			delete(c.pending, sock)
			c.cb.CloseSocket(sock)
		}
	}
}
