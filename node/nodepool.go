// nodepool.go - aggregates this identity's endpoints and arbitrates
// between them (§4.8, C12).
// SPDX-License-Identifier: AGPL-3.0-only

package node

import (
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/semenovf/netty-go/internal/worker"
	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/routing"
	"github.com/semenovf/netty-go/wire"
)

// Pool owns every endpoint (Node) this identity listens or dials on
// and answers the two questions §4.8 assigns to it: which endpoint
// sends to a given peer, and which endpoint a GDATA addressed beyond
// a direct neighbor should be forwarded through. A single Node has no
// notion of its siblings, so ROUTE-REQUEST handling and cross-endpoint
// forwarding only exist here.
type Pool struct {
	worker.Worker

	log   *logging.Logger
	nodes []*Node
}

// NewPool wires nodes into one logical identity: each node's
// ROUTE-REQUEST and forward hooks are bound to the pool's arbitration
// logic.
func NewPool(nodes []*Node, logger *logging.Logger) *Pool {
	p := &Pool{nodes: nodes, log: logger}
	for _, n := range nodes {
		n := n
		n.SetRouteRequestHandler(func(peer meshid.ID, r wire.Route) {
			p.handleRouteRequest(n, peer, r)
		})
		n.SetForwardHandler(func(arrivedFrom, sender, receiver meshid.ID, priority uint8, data []byte) {
			p.forwardGDATA(sender, receiver, priority, data)
		})
		n.SetRouteResponseHandler(func(peer meshid.ID, r wire.Route) {
			p.handleRouteResponse(n, peer, r)
		})
	}
	return p
}

// Add attaches an endpoint to the pool after construction, wiring its
// hooks the same way NewPool does.
func (p *Pool) Add(n *Node) {
	n.SetRouteRequestHandler(func(peer meshid.ID, r wire.Route) {
		p.handleRouteRequest(n, peer, r)
	})
	n.SetForwardHandler(func(arrivedFrom, sender, receiver meshid.ID, priority uint8, data []byte) {
		p.forwardGDATA(sender, receiver, priority, data)
	})
	n.SetRouteResponseHandler(func(peer meshid.ID, r wire.Route) {
		p.handleRouteResponse(n, peer, r)
	})
	p.nodes = append(p.nodes, n)
}

// EndpointFor answers §4.8's first arbitration question: which
// endpoint should carry traffic to peer. An endpoint with an
// established channel to peer wins outright; failing that, the first
// endpoint whose routing table lists peer as a neighbor or knows a
// gateway chain to it is returned. Sending through such an endpoint
// with EnqueuePrivate still goes to peer's own channel and fails while
// that channel is not established.
func (p *Pool) EndpointFor(peer meshid.ID) (*Node, bool) {
	for _, n := range p.nodes {
		if n.HasWriterFor(peer) {
			return n, true
		}
	}
	for _, n := range p.nodes {
		if n.Table().IsNeighbor(peer) {
			return n, true
		}
		if _, ok := n.Table().PreferredChain(peer); ok {
			return n, true
		}
	}
	return nil, false
}

// EnqueuePrivate hands bytes to whichever endpoint currently reaches
// peer, per EndpointFor.
func (p *Pool) EnqueuePrivate(peer meshid.ID, priority uint8, bytes []byte) bool {
	n, ok := p.EndpointFor(peer)
	if !ok {
		return false
	}
	return n.EnqueuePrivate(peer, priority, bytes)
}

// EnqueueMessage hands a reliable message to the delivery manager of
// whichever endpoint reaches peer.
func (p *Pool) EnqueueMessage(peer, msgid meshid.ID, priority uint8, forceChecksum bool, payload []byte, owned bool) bool {
	n, ok := p.EndpointFor(peer)
	if !ok {
		return false
	}
	n.EnqueueMessage(peer, msgid, priority, forceChecksum, payload, owned)
	return true
}

// forwardGDATA answers §4.8's second arbitration question: a GDATA
// that arrived at one endpoint addressed beyond it is re-enqueued on
// whichever endpoint's routing table has a path to receiver, walking
// the preferred gateway chain one hop at a time. When no endpoint can
// forward it, an UNREACHABLE is emitted back toward sender per
// spec.md's gateway-failure contract.
func (p *Pool) forwardGDATA(sender, receiver meshid.ID, priority uint8, data []byte) {
	for _, n := range p.nodes {
		nextHop, ok := nextHopFor(n.Table(), receiver)
		if !ok {
			continue
		}
		g := wire.GDATA{HasChecksum: true, Sender: sender, Receiver: receiver, Data: data}
		if n.chMgr.Enqueue(nextHop, priority, wire.EncodeGDATA(g)) {
			n.Table().MarkForwarded(receiver, time.Now())
			return
		}
	}
	p.routeTo(sender, func(n *Node) {
		n.SendUnreachable(sender, wire.Unreachable{Gateway: n.ID(), Sender: sender, Receiver: receiver})
	})
}

// nextHopFor resolves the next neighbor id to send toward dst along
// t's preferred chain: dst itself when it is a direct neighbor, else
// the chain's first gateway hop.
func nextHopFor(t *routing.Table, dst meshid.ID) (meshid.ID, bool) {
	chain, ok := t.PreferredChain(dst)
	if !ok {
		return meshid.Nil, false
	}
	if len(chain) == 0 {
		return dst, true
	}
	return chain[0], true
}

// handleRouteRequest implements the routing decision an Open Question
// left to this pool: gateways only relay ROUTE-REQUESTs, since message
// delivery always terminates at a non-gateway endpoint; a non-gateway
// node therefore always answers directly instead of flooding further.
func (p *Pool) handleRouteRequest(origin *Node, peer meshid.ID, r wire.Route) {
	req := routing.Route{Initiator: r.Initiator, Path: r.Path}
	isDestination := !origin.IsGateway()

	result := origin.Table().OnRouteRequest(req, peer, isDestination, p.gatewayNeighbors())
	if result.ShouldReply && result.Response != nil {
		// The response travels one hop back along the path it arrived
		// on: peer is the neighbor that just handed us this request, and
		// origin already holds the channel that reaches it.
		wireResp := wire.Route{Initiator: result.Response.Initiator, Responder: result.Response.Responder, Path: result.Response.Path}
		origin.SendRouteResponse(peer, wireResp)
		return
	}
	if result.ShouldFlood && result.Forward != nil {
		wireFwd := wire.Route{Initiator: result.Forward.Initiator, Path: result.Forward.Path}
		for _, g := range result.FloodTo {
			p.routeTo(g, func(n *Node) { n.SendRouteRequest(g, wireFwd) })
		}
	}
}

// handleRouteResponse either records a ROUTE-RESPONSE addressed to
// this identity, or relays one addressed further upstream one hop
// back along its recorded path, mirroring how the matching
// ROUTE-REQUEST was flooded forward hop by hop.
func (p *Pool) handleRouteResponse(origin *Node, peer meshid.ID, r wire.Route) {
	self := origin.ID()
	if r.Initiator == self {
		origin.Table().OnRouteResponse(routing.Route{Initiator: r.Initiator, Responder: r.Responder, Path: r.Path}, time.Now())
		return
	}
	idx := -1
	for i, hop := range r.Path {
		if hop == self {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	nextHop := r.Initiator
	if idx > 0 {
		nextHop = r.Path[idx-1]
	}
	p.routeTo(nextHop, func(n *Node) { n.SendRouteResponse(nextHop, r) })
}

// gatewayNeighbors unions every endpoint's directly-connected gateway
// neighbors, since a flood must reach gateways visible to any member
// of this pool, not just the endpoint that received the request.
func (p *Pool) gatewayNeighbors() []meshid.ID {
	seen := make(map[meshid.ID]bool)
	var out []meshid.ID
	for _, n := range p.nodes {
		for _, g := range n.GatewayNeighbors() {
			if !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
	}
	return out
}

// routeTo runs fn against whichever endpoint reaches peer, a no-op if
// none currently does.
func (p *Pool) routeTo(peer meshid.ID, fn func(n *Node)) {
	if n, ok := p.EndpointFor(peer); ok {
		fn(n)
	}
}

// Step advances every endpoint's state machines for one cooperative
// pass (§5's step()).
func (p *Pool) Step(now time.Time) {
	for _, n := range p.nodes {
		n.Step(now)
	}
}

// Run drives Step on loopInterval until Halt is called, mirroring
// §5's run(loop_interval) = step(); sleep_for(remainder).
func (p *Pool) Run(loopInterval time.Duration) {
	p.Go(func() {
		ticker := time.NewTicker(loopInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.HaltCh():
				return
			case now := <-ticker.C:
				p.Step(now)
			}
		}
	})
}

