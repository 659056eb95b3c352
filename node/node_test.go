// node_test.go
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
)

func newRealNode(t *testing.T, self meshid.ID, cb Callbacks) (*Node, *transport.TCPTransport) {
	t.Helper()
	tr := transport.NewTCPTransport()
	cfg := Config{
		Self: channel.Identity{ID: self, Name: "n"},
		Channel: channel.Config{
			FrameSize:        1460,
			Weights:          []int{1},
			MaxFramesPerStep: 8,
			HandshakeTimeout: 2 * time.Second,
			Heartbeat:        channel.DefaultHeartbeatConfig(),
		},
		Delivery:   delivery.Config{NumPriorities: 1, Weights: []int{1}, PartSize: 256, SynRetry: 200 * time.Millisecond},
		Alive:      routing.DefaultAliveConfig(),
		RouteStale: time.Minute,
	}
	return New(cfg, tr.Pools(), cb, nil), tr
}

// stepUntil drives both nodes' cooperative Step loops until cond is
// true or the deadline elapses.
func stepUntil(t *testing.T, a, b *Node, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		now := time.Now()
		a.Step(now)
		b.Step(now)
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

// TestEnqueuePrivateRoundTripsThroughDDATA exercises the fix for
// EnqueuePrivate: a reliable message handed to one real node's
// delivery manager must survive the actual wire.EncodeDDATA/decodeStream
// round trip over a live TCP channel and surface via MessageReceived
// on the peer, not just a local in-process dispatch helper.
func TestEnqueuePrivateRoundTripsThroughDDATA(t *testing.T) {
	var receivedPeer, receivedMsg meshid.ID
	var receivedBytes []byte
	var delivered bool

	// b is the listener and must carry the numerically larger id: in
	// ModeSingleLink, Controller.OnRequest (channel/handshake.go) only
	// accepts a request when its own id compares greater than the
	// requester's, so a fixed ordering keeps this test deterministic
	// regardless of what meshid.New happens to generate.
	aID := meshid.ID{0x01}
	bID := meshid.ID{0xFF}

	a, trA := newRealNode(t, aID, Callbacks{})
	b, trB := newRealNode(t, bID, Callbacks{
		MessageReceived: func(peer, msgid meshid.ID, priority uint8, bytes []byte) {
			receivedPeer, receivedMsg, receivedBytes = peer, msgid, bytes
		},
	})
	a.cb.MessageDelivered = func(peer, msgid meshid.ID) { delivered = true }
	_ = trA
	_ = trB

	const addr = "127.0.0.1:19231"
	_, err := b.Listen(addr)
	require.NoError(t, err)

	require.NoError(t, a.ConnectPeer(addr, time.Now()))

	stepUntil(t, a, b, func() bool {
		return a.HasWriterFor(bID) && b.HasWriterFor(aID)
	}, 3*time.Second)

	msgid := meshid.New()
	payload := []byte("hello over a real DDATA-wrapped channel")
	a.EnqueueMessage(bID, msgid, 0, false, payload, true)

	stepUntil(t, a, b, func() bool { return delivered }, 3*time.Second)

	require.Equal(t, aID, receivedPeer)
	require.Equal(t, msgid, receivedMsg)
	require.Equal(t, payload, receivedBytes)
}

// TestNodeUnreachableAndRouteReadyWirePauseResume confirms the routing
// callbacks forward into the delivery manager instead of sitting empty:
// NodeUnreachable must stop transmission, RouteReady must re-arm it.
func TestNodeUnreachableAndRouteReadyWirePauseResume(t *testing.T) {
	aID := meshid.ID{0x02}
	bID := meshid.ID{0xFE}

	a, _ := newRealNode(t, aID, Callbacks{})
	b, _ := newRealNode(t, bID, Callbacks{})

	const addr = "127.0.0.1:19232"
	_, err := b.Listen(addr)
	require.NoError(t, err)
	require.NoError(t, a.ConnectPeer(addr, time.Now()))

	stepUntil(t, a, b, func() bool {
		return a.HasWriterFor(bID) && b.HasWriterFor(aID)
	}, 3*time.Second)

	// Pausing must not panic even with no in-flight controller yet, and
	// resuming afterward must leave the node able to deliver normally.
	a.NodeUnreachable(bID)
	a.RouteReady(bID, 0)

	var delivered bool
	a.cb.MessageDelivered = func(peer, msgid meshid.ID) { delivered = true }

	msgid := meshid.New()
	a.EnqueueMessage(bID, msgid, 0, false, []byte("after pause/resume"), true)
	stepUntil(t, a, b, func() bool { return delivered }, 3*time.Second)
}
