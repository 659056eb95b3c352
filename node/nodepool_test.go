// nodepool_test.go
// SPDX-License-Identifier: AGPL-3.0-only

package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/semenovf/netty-go/channel"
	"github.com/semenovf/netty-go/delivery"
	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/routing"
	"github.com/semenovf/netty-go/transport"
	"github.com/semenovf/netty-go/wire"
)

func newTestNode(t *testing.T, self meshid.ID, isGateway bool) *Node {
	t.Helper()
	cfg := Config{
		Self:       channel.Identity{ID: self, IsGateway: isGateway},
		Channel:    channel.Config{},
		Delivery:   delivery.Config{},
		Alive:      routing.DefaultAliveConfig(),
		RouteStale: time.Minute,
	}
	return New(cfg, transport.Pools{}, Callbacks{}, nil)
}

func TestPoolEndpointForFallsBackToRoutingTable(t *testing.T) {
	self := meshid.New()
	peer := meshid.New()

	n := newTestNode(t, self, false)
	pool := NewPool([]*Node{n}, nil)

	_, ok := pool.EndpointFor(peer)
	require.False(t, ok)

	n.Table().AddNeighbor(peer)
	got, ok := pool.EndpointFor(peer)
	require.True(t, ok)
	require.Same(t, n, got)
}

func TestPoolHandleRouteRequestLeafAnswersDirectly(t *testing.T) {
	self := meshid.New()
	initiator := meshid.New()
	arrivedFrom := meshid.New()

	n := newTestNode(t, self, false) // leaf: not a gateway
	NewPool([]*Node{n}, nil)
	n.Table().AddNeighbor(arrivedFrom)

	var sent []byte
	// Drive the handler directly. With no live channel the
	// ROUTE-RESPONSE it produces is dropped by the channel manager, so
	// sent stays empty and only the routing table is observed below.
	n.RouteRequestReceived(arrivedFrom, wire.Route{Initiator: initiator, Path: nil})
	_ = sent

	// A leaf always answers instead of flooding: nothing to assert on
	// the wire without a live channel, but the routing table must not
	// have gained a chain for its own non-gateway self (it only ever
	// answers, it never records chains for the requester).
	_, ok := n.Table().PreferredChain(initiator)
	require.False(t, ok)
}

func TestPoolHandleRouteResponseRelaysAlongPath(t *testing.T) {
	initiator := meshid.New()
	hop1 := meshid.New()
	hop2 := meshid.New() // responder

	relay := newTestNode(t, hop1, true)
	pool := NewPool([]*Node{relay}, nil)
	relay.Table().AddNeighbor(initiator)

	resp := wire.Route{Initiator: initiator, Responder: hop2, Path: []meshid.ID{hop1, hop2}}
	pool.handleRouteResponse(relay, hop2, resp)

	// hop1 is not the initiator, so it must not have recorded a chain
	// for itself; it only relays toward the previous hop (here, back
	// to the initiator directly since hop1 is first in Path).
	_, ok := relay.Table().PreferredChain(hop2)
	require.False(t, ok)
}

func TestPoolHandleRouteResponseRecordsWhenAddressedToSelf(t *testing.T) {
	initiator := meshid.New()
	responder := meshid.New()

	n := newTestNode(t, initiator, false)
	pool := NewPool([]*Node{n}, nil)

	resp := wire.Route{Initiator: initiator, Responder: responder, Path: []meshid.ID{responder}}
	pool.handleRouteResponse(n, responder, resp)

	chain, ok := n.Table().PreferredChain(responder)
	require.True(t, ok)
	require.Equal(t, routing.Chain{responder}, chain)
}

func TestPoolForwardGDATAUsesPreferredChain(t *testing.T) {
	self := meshid.New()
	receiver := meshid.New()

	n := newTestNode(t, self, true)
	pool := NewPool([]*Node{n}, nil)

	// No route yet: forwarding fails and attempts to notify the sender,
	// but the sender is unreachable too, so that also silently drops.
	pool.forwardGDATA(meshid.New(), receiver, 0, []byte("payload"))

	n.Table().AddNeighbor(receiver)
	// With a direct neighbor route now known, forwardGDATA resolves a
	// next hop but the enqueue itself still fails since no channel is
	// actually established; this exercises the lookup path without
	// requiring a live transport.
	pool.forwardGDATA(meshid.New(), receiver, 0, []byte("payload"))
}
