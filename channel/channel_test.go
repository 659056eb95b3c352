// channel_test.go
// SPDX-License-Identifier: AGPL-3.0-only

package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/queue"
	"github.com/semenovf/netty-go/transport"
	"github.com/semenovf/netty-go/wire"
)

func hsReq(self meshid.ID) wire.Handshake {
	return wire.Handshake{SelfID: self, Name: "peer"}
}

func TestHandshakeTieBreakDeterministic(t *testing.T) {
	lo := meshid.ID{0x01}
	hi := meshid.ID{0xFF}

	var sent [][]byte
	cb := &fakeHSCallbacks{send: func(sock transport.SocketID, b []byte) { sent = append(sent, b) }}
	ctrl := NewController(Identity{ID: hi}, ModeSingleLink, cb, time.Second)

	role := ctrl.OnRequest(1, hsReq(lo))
	require.Equal(t, RoleBoth, role)
	require.Len(t, sent, 1)
}

func TestHandshakeRejectsLowerIDWhenNotNAT(t *testing.T) {
	lo := meshid.ID{0x01}
	hi := meshid.ID{0xFF}

	cb := &fakeHSCallbacks{send: func(sock transport.SocketID, b []byte) {}}
	ctrl := NewController(Identity{ID: lo}, ModeSingleLink, cb, time.Second)

	role := ctrl.OnRequest(1, hsReq(hi))
	require.Equal(t, RoleNone, role)
}

func TestHandshakeAcceptsBehindNATRegardlessOfID(t *testing.T) {
	lo := meshid.ID{0x01}
	hi := meshid.ID{0xFF}

	cb := &fakeHSCallbacks{send: func(sock transport.SocketID, b []byte) {}}
	ctrl := NewController(Identity{ID: lo}, ModeSingleLink, cb, time.Second)

	req := hsReq(hi)
	req.BehindNAT = true
	role := ctrl.OnRequest(1, req)
	require.Equal(t, RoleBoth, role)
}

func TestHeartbeatExpiresAfterSilence(t *testing.T) {
	cfg := HeartbeatConfig{Interval: time.Second, ExpTimeout: 3 * time.Second}
	var expired bool
	var sent int
	cb := &fakeHBCallbacks{
		send:    func(h uint8) { sent++ },
		expired: func() { expired = true },
	}
	now := time.Now()
	hb := NewHeartbeatController(cfg, cb, func() uint8 { return 0 }, now)

	hb.Step(now.Add(500 * time.Millisecond))
	require.Zero(t, sent)

	hb.Step(now.Add(1200 * time.Millisecond))
	require.Equal(t, 1, sent)

	hb.Step(now.Add(4 * time.Second))
	require.True(t, expired)
}

func TestChannelStepWriteFlushesQueuedFrame(t *testing.T) {
	ch := newChannel(meshid.New(), false, ModeSingleLink, queue.DefaultWeights(2), 64)
	ch.AssignReader(1, RoleBoth)
	ch.Enqueue(0, []byte("hello"))

	var written []byte
	n, err := ch.StepWrite(func(sock transport.SocketID, b []byte) (int, error) {
		written = append(written, b...)
		return len(b), nil
	})
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NotEmpty(t, written)
}

func TestChannelMapBindAndLookup(t *testing.T) {
	m := newChannelMap()
	peer := meshid.New()
	ch := newChannel(peer, false, ModeSingleLink, queue.DefaultWeights(1), 64)
	m.set(peer, ch)
	m.bind(1, peer)

	got, ok := m.channelOfSocket(1)
	require.True(t, ok)
	require.Equal(t, ch, got)

	m.remove(peer)
	_, ok = m.get(peer)
	require.False(t, ok)
	_, ok = m.peerOf(1)
	require.False(t, ok)
}

// --- test doubles ---

type fakeHSCallbacks struct {
	send func(sock transport.SocketID, b []byte)
}

func (f *fakeHSCallbacks) ChannelEstablished(peer meshid.ID, isGateway bool)   {}
func (f *fakeHSCallbacks) DuplicateID(peer meshid.ID, addr string)            {}
func (f *fakeHSCallbacks) Send(sock transport.SocketID, bytes []byte)         { f.send(sock, bytes) }
func (f *fakeHSCallbacks) CloseSocket(sock transport.SocketID)                {}

type fakeHBCallbacks struct {
	send    func(uint8)
	expired func()
}

func (f *fakeHBCallbacks) SendHeartbeat(health uint8) { f.send(health) }
func (f *fakeHBCallbacks) Expired()                   { f.expired() }
