// table.go - routing table and route discovery flood (§4.5, C10).
// SPDX-License-Identifier: AGPL-3.0-only

package routing

import (
	"time"

	"github.com/semenovf/netty-go/meshid"
)

// Chain is an ordered list of gateway ids; a zero-length chain means
// the destination is a direct neighbor.
type Chain []meshid.ID

func (c Chain) equal(other Chain) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// record is the per-destination routing state.
type record struct {
	chains      []Chain
	preferred   int
	freshness   time.Time
	lastForward time.Time
}

// Callbacks fires on routing events the rest of the core reacts to.
type Callbacks interface {
	RouteReady(dst meshid.ID, chainIndex int)
	RouteLost(dst meshid.ID)
	NodeUnreachable(dst meshid.ID)
}

// Table maps destination id to an ordered set of gateway chains,
// plus per-destination route-request dedup and freshness bookkeeping.
type Table struct {
	self      meshid.ID
	isGateway bool
	cb        Callbacks

	records map[meshid.ID]*record
	// neighbors are destinations reachable on a direct channel; the
	// zero-length chain convention for "is a neighbor" lives here
	// rather than in records, since neighbor membership is owned by
	// the channel map, not route discovery.
	neighbors map[meshid.ID]bool

	staleAfter time.Duration // decided Open Question: 10 * alive.interval
}

// NewTable builds a routing table for self. staleAfter is the duration
// a destination's gateway chains may go unused before ExpireStale
// evicts them (the recommended policy from §9's Open Question).
func NewTable(self meshid.ID, isGateway bool, cb Callbacks, staleAfter time.Duration) *Table {
	return &Table{
		self:       self,
		isGateway:  isGateway,
		cb:         cb,
		records:    make(map[meshid.ID]*record),
		neighbors:  make(map[meshid.ID]bool),
		staleAfter: staleAfter,
	}
}

// AddNeighbor marks id reachable on a direct channel.
func (t *Table) AddNeighbor(id meshid.ID) { t.neighbors[id] = true }

// RemoveNeighbor drops a direct channel to id. Per §4.5 Unreachability,
// every chain whose first hop is id is purged, firing RouteLost for
// affected destinations and NodeUnreachable for any left with none.
func (t *Table) RemoveNeighbor(id meshid.ID) {
	delete(t.neighbors, id)
	for dst, rec := range t.records {
		kept := rec.chains[:0]
		lost := false
		for _, c := range rec.chains {
			if len(c) > 0 && c[0] == id {
				lost = true
				continue
			}
			kept = append(kept, c)
		}
		rec.chains = kept
		if rec.preferred >= len(rec.chains) {
			rec.preferred = 0
		}
		if lost {
			t.cb.RouteLost(dst)
		}
		if len(rec.chains) == 0 {
			delete(t.records, dst)
			t.cb.NodeUnreachable(dst)
		}
	}
}

// IsNeighbor reports whether dst is reachable on a direct channel.
func (t *Table) IsNeighbor(dst meshid.ID) bool { return t.neighbors[dst] }

// PreferredChain returns the currently preferred chain for dst and
// whether one is known (a zero-length chain with ok=true means dst is
// a neighbor).
func (t *Table) PreferredChain(dst meshid.ID) (Chain, bool) {
	if t.neighbors[dst] {
		return Chain{}, true
	}
	rec, ok := t.records[dst]
	if !ok || len(rec.chains) == 0 {
		return nil, false
	}
	return rec.chains[rec.preferred], true
}

// recordChain inserts or updates a candidate chain for dst, applying
// the dedup/replace rule from §4.5: shorter chains replace longer
// ones, equal-length chains are kept as fallbacks.
func (t *Table) recordChain(dst meshid.ID, chain Chain, now time.Time) {
	rec, ok := t.records[dst]
	if !ok {
		rec = &record{}
		t.records[dst] = rec
	}
	rec.freshness = now

	for _, existing := range rec.chains {
		if existing.equal(chain) {
			return
		}
	}
	inserted := false
	for i, existing := range rec.chains {
		if len(chain) < len(existing) {
			rec.chains = append(rec.chains, nil)
			copy(rec.chains[i+1:], rec.chains[i:])
			rec.chains[i] = chain
			inserted = true
			break
		}
	}
	if !inserted {
		rec.chains = append(rec.chains, chain)
	}
	rec.preferred = 0
	t.cb.RouteReady(dst, 0)
}

// RouteRequestResult is what OnRouteRequest returns for the receiving
// node's half of route discovery (§4.5 steps 1-4): the reply to send
// back along the reverse path (ShouldReply is false when this node
// should just forward) and the set of neighbor gateways to flood to,
// excluding the one the request arrived from.
type RouteRequestResult struct {
	// Response, when ShouldReply, is the ROUTE-RESPONSE to send back
	// along the reverse of Response.Path.
	Response *Route
	// Forward, when ShouldFlood, is the ROUTE-REQUEST (with self
	// appended to its path) to flood to every id in FloodTo.
	Forward     *Route
	FloodTo     []meshid.ID
	ShouldFlood bool
	ShouldReply bool
}

// Route mirrors wire.Route without importing the wire package, so this
// package stays free of the frame/packet layer's wire-format concerns.
type Route struct {
	Initiator meshid.ID
	Responder meshid.ID
	Path      []meshid.ID
}

// OnRouteRequest processes an inbound ROUTE-REQUEST arriving from
// neighbor arrivedFrom, returning what this node should do next.
// isDestination tells it whether it is the destination the caller of
// route discovery (external to this table) is actually looking for;
// the routing table itself has no notion of "the" destination since a
// single flood can be answered by any node matching the caller's
// search criteria.
func (t *Table) OnRouteRequest(req Route, arrivedFrom meshid.ID, isDestination bool, allGatewayNeighbors []meshid.ID) RouteRequestResult {
	if req.Initiator == t.self {
		return RouteRequestResult{}
	}
	for _, id := range req.Path {
		if id == t.self {
			return RouteRequestResult{}
		}
	}
	path := append(append(Chain{}, req.Path...), t.self)

	result := RouteRequestResult{}
	if isDestination {
		result.Response = &Route{Initiator: req.Initiator, Responder: t.self, Path: path}
		result.ShouldReply = true
		return result
	}
	if t.isGateway {
		var flood []meshid.ID
		for _, g := range allGatewayNeighbors {
			if g != arrivedFrom {
				flood = append(flood, g)
			}
		}
		if len(flood) > 0 {
			result.FloodTo = flood
			result.ShouldFlood = true
			result.Forward = &Route{Initiator: req.Initiator, Path: path}
		}
	}
	return result
}

// OnRouteResponse processes an inbound ROUTE-RESPONSE addressed to
// this node (req.Initiator == self), recording the path as a candidate
// chain for Responder.
func (t *Table) OnRouteResponse(resp Route, now time.Time) {
	if resp.Initiator != t.self {
		return
	}
	t.recordChain(resp.Responder, Chain(resp.Path), now)
}

// MarkForwarded records that a GDATA was successfully forwarded along
// dst's preferred chain at time now, resetting its staleness clock.
func (t *Table) MarkForwarded(dst meshid.ID, now time.Time) {
	if rec, ok := t.records[dst]; ok {
		rec.lastForward = now
	}
}

// ExpireStale is the decided behavior for §9's open eviction question:
// a destination with no forwarded traffic for staleAfter (counted from
// its last MarkForwarded, or from when a chain was last recorded) is
// dropped with all its chains.
func (t *Table) ExpireStale(now time.Time) {
	for dst, rec := range t.records {
		if rec.lastForward.IsZero() {
			rec.lastForward = rec.freshness
		}
		if now.Sub(rec.lastForward) < t.staleAfter {
			continue
		}
		delete(t.records, dst)
		t.cb.RouteLost(dst)
		t.cb.NodeUnreachable(dst)
	}
}
