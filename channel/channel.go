// channel.go - per-peer channel: socket roles, priority write queue,
// and the established/reconnect state machine (§4.3, C7).
// SPDX-License-Identifier: AGPL-3.0-only

package channel

import (
	"time"

	"github.com/semenovf/netty-go/frame"
	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/queue"
	"github.com/semenovf/netty-go/transport"
)

// State is a channel's position in the per-socket lifecycle (§3):
// HANDSHAKING, READER/WRITER/BOTH established, CLOSING, CLOSED.
type State int

const (
	StateHandshaking State = iota
	StateEstablished
	StateClosing
	StateClosed
)

// ReconnectPolicy governs whether a channel that owns an originally
// outbound socket redials after losing it. Inbound-originated sockets
// are never redialed by this side (§4.3): the peer that dialed in is
// the one responsible for reconnecting.
type ReconnectPolicy int

const (
	ReconnectNone ReconnectPolicy = iota
	ReconnectFixedDelay
	ReconnectEscalating
)

// reconnectCeiling bounds the escalating backoff.
const reconnectCeiling = 15 * time.Second

type pendingWrite struct {
	frameBytes []byte
	payloadLen int
}

// Channel is one bidirectional link to a neighbor peer: a priority
// write queue, the heartbeat probe, and (for outbound-originated
// channels) the reconnection state machine.
type Channel struct {
	peer      meshid.ID
	isGateway bool
	mode      Mode

	readerSock   transport.SocketID
	writerSock   transport.SocketID
	hasReader    bool
	hasWriter    bool
	state        State

	sched     *queue.Scheduler
	frameSize int
	write     pendingWrite

	hb *HeartbeatController

	outboundAddr string // non-empty only if this channel originated a dial
	reconnect    ReconnectPolicy
	reconnectCur time.Duration
	nextDial     time.Time
	dialPending  bool
}

// newChannel constructs a channel for peer, with no sockets assigned
// yet; AssignReader/AssignWriter attach them once the handshake
// controller resolves a role.
func newChannel(peer meshid.ID, isGateway bool, mode Mode, weights []int, frameSize int) *Channel {
	return &Channel{
		peer:      peer,
		isGateway: isGateway,
		mode:      mode,
		sched:     queue.New(weights),
		frameSize: frameSize,
		state:     StateHandshaking,
	}
}

// AssignReader attaches sock as this channel's reader (or both).
func (c *Channel) AssignReader(sock transport.SocketID, role Role) {
	c.readerSock = sock
	c.hasReader = true
	if role == RoleBoth {
		c.writerSock = sock
		c.hasWriter = true
	}
	if c.hasReader && c.hasWriter {
		c.state = StateEstablished
	}
}

// AssignWriter attaches sock as this channel's writer (or both).
func (c *Channel) AssignWriter(sock transport.SocketID, role Role) {
	c.writerSock = sock
	c.hasWriter = true
	if role == RoleBoth {
		c.readerSock = sock
		c.hasReader = true
	}
	if c.hasReader && c.hasWriter {
		c.state = StateEstablished
	}
}

// Enqueue appends bytes at priority p to this channel's write queue.
func (c *Channel) Enqueue(p uint8, data []byte) {
	c.sched.Enqueue(p, data)
}

// StepWrite drains at most one frame's worth of queued bytes to the
// writer socket via write, returning the number of payload bytes
// flushed (0 if nothing was ready or the socket is not writable).
func (c *Channel) StepWrite(write func(sock transport.SocketID, b []byte) (int, error)) (int, error) {
	if !c.hasWriter {
		return 0, nil
	}
	if len(c.write.frameBytes) == 0 {
		priority, data, ok := c.sched.AcquireFrame(c.frameSize)
		if !ok {
			return 0, nil
		}
		packed, n, err := frame.Pack(priority, data, c.frameSize)
		if err != nil {
			return 0, err
		}
		c.write.frameBytes = packed
		c.write.payloadLen = n
	}
	n, err := write(c.writerSock, c.write.frameBytes)
	if err != nil {
		return 0, err
	}
	c.write.frameBytes = c.write.frameBytes[n:]
	if len(c.write.frameBytes) == 0 {
		c.sched.Shift(c.write.payloadLen)
		flushed := c.write.payloadLen
		c.write.payloadLen = 0
		return flushed, nil
	}
	return 0, nil
}

// MarkOutbound records that sock was dialed by this side to addr, so a
// socket loss can trigger a reconnection attempt under policy.
func (c *Channel) MarkOutbound(addr string, policy ReconnectPolicy) {
	c.outboundAddr = addr
	c.reconnect = policy
}

// OnSocketLost clears the lost socket's role and, for an
// outbound-originated channel under a reconnect policy, schedules the
// next dial attempt.
func (c *Channel) OnSocketLost(sock transport.SocketID, now time.Time) {
	if sock == c.readerSock {
		c.hasReader = false
	}
	if sock == c.writerSock {
		c.hasWriter = false
	}
	if !c.hasReader && !c.hasWriter {
		c.state = StateClosing
	}
	if c.outboundAddr == "" || c.reconnect == ReconnectNone {
		return
	}
	switch c.reconnect {
	case ReconnectFixedDelay:
		c.reconnectCur = reconnectCeiling
	case ReconnectEscalating:
		if c.reconnectCur == 0 {
			c.reconnectCur = time.Second
		} else {
			c.reconnectCur *= 2
			if c.reconnectCur > reconnectCeiling {
				c.reconnectCur = reconnectCeiling
			}
		}
	}
	c.nextDial = now.Add(c.reconnectCur)
	c.dialPending = true
}

// DueForRedial reports whether now has passed this channel's scheduled
// reconnect attempt, consuming it (a subsequent call returns false
// until OnSocketLost schedules another).
func (c *Channel) DueForRedial(now time.Time) (addr string, ok bool) {
	if !c.dialPending || now.Before(c.nextDial) {
		return "", false
	}
	c.dialPending = false
	return c.outboundAddr, true
}

// Peer returns the neighbor id this channel connects to.
func (c *Channel) Peer() meshid.ID { return c.peer }

// IsGateway reports whether the peer identified itself as a gateway.
func (c *Channel) IsGateway() bool { return c.isGateway }

// State returns the channel's current lifecycle state.
func (c *Channel) State() State { return c.state }

// Established reports whether the channel currently has every socket
// role it needs (RoleBoth on single-link, reader+writer on dual-link).
func (c *Channel) Established() bool {
	return c.state == StateEstablished && c.hasReader && c.hasWriter
}

// AttachHeartbeat installs the heartbeat controller once the channel
// reaches StateEstablished.
func (c *Channel) AttachHeartbeat(hb *HeartbeatController) { c.hb = hb }

// Heartbeat returns the channel's heartbeat controller, or nil before
// one has been attached.
func (c *Channel) Heartbeat() *HeartbeatController { return c.hb }
