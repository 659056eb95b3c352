// node.go - single endpoint: listener + channel set + routing glue
// (§4.8, C11).
// SPDX-License-Identifier: AGPL-3.0-only

// Package node composes one endpoint (a socket pool set, a channel
// manager, a routing table, an alive controller and a delivery
// manager) and a pool of endpoints arbitrating which one reaches a
// given peer, per §4.8.
package node

import (
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/semenovf/netty-go/channel"
	"github.com/semenovf/netty-go/delivery"
	"github.com/semenovf/netty-go/internal/werrors"
	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/routing"
	"github.com/semenovf/netty-go/transport"
	"github.com/semenovf/netty-go/wire"
)

// Config bounds one Node's behavior.
type Config struct {
	Self          channel.Identity
	Channel       channel.Config
	Delivery      delivery.Config
	Alive         routing.AliveConfig
	RouteStale    time.Duration
	ListenBacklog int
}

// Callbacks surfaces every user-visible event a Node produces.
type Callbacks struct {
	PeerReachable    func(peer meshid.ID, isGateway bool)
	PeerLost         func(peer meshid.ID)
	MessageReceived  func(peer, msgid meshid.ID, priority uint8, bytes []byte)
	MessageDelivered func(peer, msgid meshid.ID)
	MessageLost      func(peer, msgid meshid.ID)
	ReportReceived   func(peer meshid.ID, priority uint8, bytes []byte)
	OnError          func(err error)
}

// Node is one endpoint: a listener, a set of channels, a routing
// table and alive controller scoped to this endpoint, and the
// delivery manager for reliable messages exchanged through it.
type Node struct {
	cfg Config
	log *logging.Logger
	cb  Callbacks

	chMgr    *channel.Manager
	table    *routing.Table
	alive    *routing.AliveController
	delivery *delivery.Manager

	gateways map[meshid.ID]bool

	// onRouteRequest and onForward are installed by a NodePool wrapping
	// this node; a lone Node has no notion of sibling endpoints, so
	// ROUTE-REQUEST handling and cross-endpoint GDATA forwarding are
	// only meaningful once a pool wires them in.
	onRouteRequest  func(peer meshid.ID, r wire.Route)
	onRouteResponse func(peer meshid.ID, r wire.Route)
	onForward       func(arrivedFrom, sender, receiver meshid.ID, priority uint8, data []byte)
}

// New builds a Node bound to pools (the concrete transport is
// pluggable per §6.2) and self's identity.
func New(cfg Config, pools transport.Pools, cb Callbacks, logger *logging.Logger) *Node {
	n := &Node{cfg: cfg, cb: cb, log: logger, gateways: make(map[meshid.ID]bool)}

	n.table = routing.NewTable(cfg.Self.ID, cfg.Self.IsGateway, n, cfg.RouteStale)
	n.alive = routing.NewAliveController(cfg.Alive, n)
	n.chMgr = channel.NewManager(cfg.Self, cfg.Channel, pools, chanCB{n})
	n.delivery = delivery.NewManager(n, cfg.Delivery, n)

	return n
}

// chanCB adapts Node to channel.Callbacks. It exists only to avoid a
// MessageReceived name collision with delivery.Callbacks, which Node
// implements directly with the user-facing (peer, msgid, priority,
// bytes) signature instead of the raw (peer, priority, data) one the
// channel layer hands up.
type chanCB struct{ n *Node }

func (c chanCB) ChannelEstablished(peer meshid.ID, isGateway bool) { c.n.ChannelEstablished(peer, isGateway) }
func (c chanCB) ChannelDestroyed(peer meshid.ID)                   { c.n.ChannelDestroyed(peer) }
func (c chanCB) DuplicateID(peer meshid.ID, addr string)           { c.n.DuplicateID(peer, addr) }
func (c chanCB) BytesWritten(peer meshid.ID, priority uint8, n int) { c.n.BytesWritten(peer, priority, n) }
func (c chanCB) MessageReceived(peer meshid.ID, priority uint8, data []byte) {
	c.n.delivery.Dispatch(peer, priority, data)
}
func (c chanCB) GlobalMessageReceived(arrivedFrom, sender, receiver meshid.ID, priority uint8, data []byte) {
	c.n.GlobalMessageReceived(arrivedFrom, sender, receiver, priority, data)
}
func (c chanCB) RouteRequestReceived(peer meshid.ID, r wire.Route)  { c.n.RouteRequestReceived(peer, r) }
func (c chanCB) RouteResponseReceived(peer meshid.ID, r wire.Route) { c.n.RouteResponseReceived(peer, r) }
func (c chanCB) Unreachable(peer meshid.ID, u wire.Unreachable)     { c.n.Unreachable(peer, u) }
func (c chanCB) AliveReceived(peer meshid.ID, id meshid.ID)         { c.n.AliveReceived(peer, id) }
func (c chanCB) DialFailed(addr string, reason transport.ConnectionFailureReason) {
	c.n.DialFailed(addr, reason)
}

// ID returns this endpoint's own node identity.
func (n *Node) ID() meshid.ID { return n.cfg.Self.ID }

// IsGateway reports whether this endpoint identifies as a gateway.
func (n *Node) IsGateway() bool { return n.cfg.Self.IsGateway }

// Table exposes the endpoint's routing table to a wrapping NodePool.
func (n *Node) Table() *routing.Table { return n.table }

// GatewayNeighbors returns every directly-connected neighbor that
// identified itself as a gateway during handshake.
func (n *Node) GatewayNeighbors() []meshid.ID {
	out := make([]meshid.ID, 0, len(n.gateways))
	for id := range n.gateways {
		out = append(out, id)
	}
	return out
}

// SetRouteRequestHandler installs the callback a NodePool uses to
// answer or flood an inbound ROUTE-REQUEST, since only the pool knows
// about sibling endpoints and the pool-wide destination set.
func (n *Node) SetRouteRequestHandler(fn func(peer meshid.ID, r wire.Route)) {
	n.onRouteRequest = fn
}

// SetForwardHandler installs the callback a NodePool uses to re-enqueue
// a GDATA addressed beyond this endpoint on whichever endpoint reaches
// its receiver.
func (n *Node) SetForwardHandler(fn func(arrivedFrom, sender, receiver meshid.ID, priority uint8, data []byte)) {
	n.onForward = fn
}

// SetRouteResponseHandler installs the callback a NodePool uses to
// relay an inbound ROUTE-RESPONSE not addressed to this identity one
// hop back along its path, since a lone Node only knows how to record
// a response addressed to itself.
func (n *Node) SetRouteResponseHandler(fn func(peer meshid.ID, r wire.Route)) {
	n.onRouteResponse = fn
}

// HasWriterFor reports whether this node currently has an established
// channel to peer.
func (n *Node) HasWriterFor(peer meshid.ID) bool {
	return n.chMgr.Established(peer)
}

// Listen begins accepting on addr.
func (n *Node) Listen(addr string) (transport.SocketID, error) {
	return n.chMgr.Listen(addr, n.cfg.ListenBacklog)
}

// ConnectPeer schedules an outbound dial to addr.
func (n *Node) ConnectPeer(addr string, now time.Time) error {
	return n.chMgr.Dial(addr, now)
}

// EnqueuePrivate implements delivery.Transport: it wraps a serialized
// delivery packet as a DDATA payload (spec.md's wire packets travel as
// DDATA/GDATA payload, never bare on the channel) and hands it to this
// endpoint's channel manager for transport.
func (n *Node) EnqueuePrivate(peer meshid.ID, priority uint8, bytes []byte) bool {
	return n.chMgr.Enqueue(peer, priority, wire.EncodeDDATA(wire.DDATA{HasChecksum: true, Data: bytes}))
}

// EnqueueMessage hands a reliable message to the delivery manager.
func (n *Node) EnqueueMessage(peer, msgid meshid.ID, priority uint8, forceChecksum bool, payload []byte, owned bool) {
	n.delivery.EnqueueMessage(peer, msgid, priority, forceChecksum, payload, owned)
}

// EnqueueReport hands an unreliable best-effort message to the
// delivery manager's fire-and-forget REPORT path.
func (n *Node) EnqueueReport(peer meshid.ID, priority uint8, data []byte) bool {
	return n.delivery.EnqueueReport(peer, priority, data)
}

// Pause/Resume forward to the delivery manager.
func (n *Node) Pause(peer meshid.ID)  { n.delivery.Pause(peer) }
func (n *Node) Resume(peer meshid.ID) { n.delivery.Resume(peer) }

// SendRouteRequest enqueues a ROUTE-REQUEST toward peer at priority 0.
func (n *Node) SendRouteRequest(peer meshid.ID, r wire.Route) bool {
	return n.chMgr.Enqueue(peer, 0, wire.EncodeRouteRequest(wire.Route{Initiator: r.Initiator, Path: r.Path}))
}

// SendRouteResponse enqueues a ROUTE-RESPONSE toward peer at priority 0.
func (n *Node) SendRouteResponse(peer meshid.ID, r wire.Route) bool {
	return n.chMgr.Enqueue(peer, 0, wire.EncodeRouteResponse(wire.Route{Initiator: r.Initiator, Responder: r.Responder, Path: r.Path}))
}

// SendUnreachable enqueues an UNREACHABLE toward peer at priority 0,
// reporting that this gateway could not forward a sender's in-flight
// GDATA toward receiver.
func (n *Node) SendUnreachable(peer meshid.ID, u wire.Unreachable) bool {
	return n.chMgr.Enqueue(peer, 0, wire.EncodeUnreachable(u))
}

// Step drains this node's pools and advances every per-peer state
// machine (channel, alive, routing staleness, delivery).
func (n *Node) Step(now time.Time) {
	n.chMgr.Step(now)
	n.alive.CheckExpiration(now)
	n.table.ExpireStale(now)
	n.delivery.Step(now)
}

// --- channel.Callbacks ---

func (n *Node) ChannelEstablished(peer meshid.ID, isGateway bool) {
	n.table.AddNeighbor(peer)
	n.alive.AddSibling(peer)
	if isGateway {
		n.gateways[peer] = true
	}
	if n.cb.PeerReachable != nil {
		n.cb.PeerReachable(peer, isGateway)
	}
}

func (n *Node) ChannelDestroyed(peer meshid.ID) {
	n.table.RemoveNeighbor(peer)
	n.alive.RemoveSibling(peer)
	delete(n.gateways, peer)
	if n.cb.PeerLost != nil {
		n.cb.PeerLost(peer)
	}
}

func (n *Node) DuplicateID(peer meshid.ID, addr string) {
	n.reportError(&werrors.DuplicateIDError{Peer: peer.String(), Addr: addr})
}

func (n *Node) BytesWritten(peer meshid.ID, priority uint8, written int) {}

func (n *Node) GlobalMessageReceived(arrivedFrom, sender, receiver meshid.ID, priority uint8, data []byte) {
	if receiver == n.cfg.Self.ID {
		n.delivery.Dispatch(sender, priority, data)
		return
	}
	if n.onForward != nil {
		n.onForward(arrivedFrom, sender, receiver, priority, data)
	}
}

func (n *Node) RouteRequestReceived(peer meshid.ID, r wire.Route) {
	if n.onRouteRequest != nil {
		n.onRouteRequest(peer, r)
	}
}

func (n *Node) RouteResponseReceived(peer meshid.ID, r wire.Route) {
	if n.onRouteResponse != nil {
		n.onRouteResponse(peer, r)
		return
	}
	n.table.OnRouteResponse(routing.Route{Initiator: r.Initiator, Responder: r.Responder, Path: r.Path}, time.Now())
}

func (n *Node) Unreachable(peer meshid.ID, u wire.Unreachable) {
	n.reportError(&werrors.PeerUnreachableError{Peer: u.Receiver.String()})
}

func (n *Node) AliveReceived(peer meshid.ID, id meshid.ID) {
	n.alive.UpdateIf(id, time.Now())
}

func (n *Node) DialFailed(addr string, reason transport.ConnectionFailureReason) {
	n.reportError(&werrors.DialFailedError{Addr: addr, Reason: reason.String()})
}

// --- routing.Callbacks ---

// RouteReady resumes any delivery flow paused while dst was
// unreachable, now that a gateway chain to it has been (re)discovered.
func (n *Node) RouteReady(dst meshid.ID, chainIndex int) {
	n.delivery.Resume(dst)
}

func (n *Node) RouteLost(dst meshid.ID) {}

// NodeUnreachable pauses outbound delivery flows toward dst until a
// route is rediscovered (§4.7: "On peer-unreachability: call pause()").
func (n *Node) NodeUnreachable(dst meshid.ID) {
	n.delivery.Pause(dst)
}

// --- routing.AliveCallbacks ---

func (n *Node) Alive(id meshid.ID)   {}
func (n *Node) Expired(id meshid.ID) {}

// --- delivery.Callbacks (the rest, beyond EnqueuePrivate above) ---

func (n *Node) MessageDelivered(peer, msgid meshid.ID) {
	if n.cb.MessageDelivered != nil {
		n.cb.MessageDelivered(peer, msgid)
	}
}

func (n *Node) MessageLost(peer, msgid meshid.ID) {
	if n.cb.MessageLost != nil {
		n.cb.MessageLost(peer, msgid)
	}
}

func (n *Node) MessageBegin(peer, msgid meshid.ID) {}

func (n *Node) MessageProgress(peer, msgid meshid.ID, received, total int) {}

func (n *Node) ReportReceived(peer meshid.ID, priority uint8, bytes []byte) {
	if n.cb.ReportReceived != nil {
		n.cb.ReportReceived(peer, priority, bytes)
	}
}

func (n *Node) MessageReceived(peer, msgid meshid.ID, priority uint8, bytes []byte) {
	if n.cb.MessageReceived != nil {
		n.cb.MessageReceived(peer, msgid, priority, bytes)
	}
}

func (n *Node) reportError(err error) {
	if n.cb.OnError != nil {
		n.cb.OnError(err)
	}
}
