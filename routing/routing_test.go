// routing_test.go
// SPDX-License-Identifier: AGPL-3.0-only

package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/semenovf/netty-go/meshid"
)

type recordingCallbacks struct {
	ready       []meshid.ID
	lost        []meshid.ID
	unreachable []meshid.ID
}

func (r *recordingCallbacks) RouteReady(dst meshid.ID, idx int) { r.ready = append(r.ready, dst) }
func (r *recordingCallbacks) RouteLost(dst meshid.ID)           { r.lost = append(r.lost, dst) }
func (r *recordingCallbacks) NodeUnreachable(dst meshid.ID)     { r.unreachable = append(r.unreachable, dst) }

func TestAliveSiblingNeverExpires(t *testing.T) {
	acb := &aliveRecorder{}
	a := NewAliveController(DefaultAliveConfig(), acb)
	sib := meshid.New()
	a.AddSibling(sib)
	now := time.Now()
	require.True(t, a.UpdateIf(sib, now))
	a.CheckExpiration(now.Add(100 * time.Hour))
	require.True(t, a.IsAlive(sib))
	require.Empty(t, acb.expired)
}

type aliveRecorder struct {
	alive   []meshid.ID
	expired []meshid.ID
}

func (a *aliveRecorder) Alive(id meshid.ID)   { a.alive = append(a.alive, id) }
func (a *aliveRecorder) Expired(id meshid.ID) { a.expired = append(a.expired, id) }

func TestAliveExpiresAfterTimeout(t *testing.T) {
	acb := &aliveRecorder{}
	cfg := AliveConfig{Interval: time.Second, ExpTimeout: 3 * time.Second, LoopingInterval: 500 * time.Millisecond}
	a := NewAliveController(cfg, acb)
	id := meshid.New()
	now := time.Now()
	require.True(t, a.UpdateIf(id, now))
	require.Len(t, acb.alive, 1)

	a.CheckExpiration(now.Add(2 * time.Second))
	require.True(t, a.IsAlive(id)) // still alive, not yet expired
	require.Empty(t, acb.expired)

	a.CheckExpiration(now.Add(4 * time.Second))
	require.False(t, a.IsAlive(id))
	require.Equal(t, []meshid.ID{id}, acb.expired)
}

func TestAliveLoopSuppression(t *testing.T) {
	acb := &aliveRecorder{}
	cfg := AliveConfig{Interval: time.Second, ExpTimeout: 3 * time.Second, LoopingInterval: 500 * time.Millisecond}
	a := NewAliveController(cfg, acb)
	id := meshid.New()
	now := time.Now()
	require.True(t, a.UpdateIf(id, now))
	require.False(t, a.UpdateIf(id, now.Add(100*time.Millisecond)))
	require.True(t, a.UpdateIf(id, now.Add(600*time.Millisecond)))
}

// TestRouteDiscoveryLineTopology reproduces S4's line topology A-g1-g2-B
// entirely within the routing package: each node's table processes the
// request/response events a real flood would generate, without needing
// the channel or transport layers.
func TestRouteDiscoveryLineTopology(t *testing.T) {
	a := meshid.New()
	g1 := meshid.New()
	g2 := meshid.New()
	b := meshid.New()

	cbA := &recordingCallbacks{}
	cbG1 := &recordingCallbacks{}
	cbG2 := &recordingCallbacks{}
	cbB := &recordingCallbacks{}

	tblA := NewTable(a, false, cbA, time.Minute)
	tblG1 := NewTable(g1, true, cbG1, time.Minute)
	tblG2 := NewTable(g2, true, cbG2, time.Minute)
	tblB := NewTable(b, false, cbB, time.Minute)

	tblA.AddNeighbor(g1)
	tblG1.AddNeighbor(a)
	tblG1.AddNeighbor(g2)
	tblG2.AddNeighbor(g1)
	tblG2.AddNeighbor(b)
	tblB.AddNeighbor(g2)

	now := time.Now()

	// A floods ROUTE-REQUEST{initiator=A, route=[]} to g1.
	req := Route{Initiator: a, Path: nil}

	// g1 receives it: not the destination, but a gateway, floods to g2.
	res1 := tblG1.OnRouteRequest(req, a, false, []meshid.ID{g2})
	require.True(t, res1.ShouldFlood)
	require.Equal(t, []meshid.ID{g2}, res1.FloodTo)
	require.NotNil(t, res1.Forward)

	// g2 receives the forwarded request: not the destination, and with no
	// further gateway neighbors it floods nothing; its hop on to B (with
	// g2 appended to the path) is modeled directly below.
	res2 := tblG2.OnRouteRequest(*res1.Forward, g1, false, nil)
	require.False(t, res2.ShouldFlood)
	require.Nil(t, res2.Response)

	// B is the real destination; it receives the request via g2 (g2
	// forwards it out its channel to B, which answers as destination).
	reqToB := Route{Initiator: a, Path: []meshid.ID{g1, g2}}
	resB := tblB.OnRouteRequest(reqToB, g2, true, nil)
	require.True(t, resB.ShouldReply)
	require.Equal(t, Chain{g1, g2, b}, Chain(resB.Response.Path))

	// The response propagates back to A, which records the chain.
	tblA.OnRouteResponse(*resB.Response, now)
	require.Equal(t, []meshid.ID{b}, cbA.ready)
	chain, ok := tblA.PreferredChain(b)
	require.True(t, ok)
	require.Equal(t, Chain{g1, g2, b}, chain)
}

func TestRouteLostOnNeighborRemoval(t *testing.T) {
	self := meshid.New()
	gw := meshid.New()
	dst := meshid.New()
	cb := &recordingCallbacks{}
	tbl := NewTable(self, false, cb, time.Minute)
	tbl.AddNeighbor(gw)
	tbl.OnRouteResponse(Route{Initiator: self, Responder: dst, Path: Chain{gw}}, time.Now())
	require.Equal(t, []meshid.ID{dst}, cb.ready)

	tbl.RemoveNeighbor(gw)
	require.Equal(t, []meshid.ID{dst}, cb.lost)
	require.Equal(t, []meshid.ID{dst}, cb.unreachable)
}
