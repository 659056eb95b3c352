// channelmap.go - socket-to-peer and peer-to-channel index (§4.3, C8).
// SPDX-License-Identifier: AGPL-3.0-only

package channel

import (
	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/transport"
)

// channelMap is the bidirectional index between open sockets and the
// logical channel (peer) they belong to: reader/writer sockets map to
// exactly one peer, and a peer maps to its current Channel.
type channelMap struct {
	socketPeer map[transport.SocketID]meshid.ID
	peerSocket map[meshid.ID]*Channel
}

func newChannelMap() *channelMap {
	return &channelMap{
		socketPeer: make(map[transport.SocketID]meshid.ID),
		peerSocket: make(map[meshid.ID]*Channel),
	}
}

func (m *channelMap) bind(sock transport.SocketID, peer meshid.ID) {
	m.socketPeer[sock] = peer
}

func (m *channelMap) unbind(sock transport.SocketID) {
	delete(m.socketPeer, sock)
}

func (m *channelMap) peerOf(sock transport.SocketID) (meshid.ID, bool) {
	id, ok := m.socketPeer[sock]
	return id, ok
}

func (m *channelMap) set(peer meshid.ID, ch *Channel) {
	m.peerSocket[peer] = ch
}

func (m *channelMap) get(peer meshid.ID) (*Channel, bool) {
	ch, ok := m.peerSocket[peer]
	return ch, ok
}

func (m *channelMap) channelOfSocket(sock transport.SocketID) (*Channel, bool) {
	peer, ok := m.socketPeer[sock]
	if !ok {
		return nil, false
	}
	return m.get(peer)
}

func (m *channelMap) remove(peer meshid.ID) {
	if ch, ok := m.peerSocket[peer]; ok {
		for sock, p := range m.socketPeer {
			if p == peer {
				delete(m.socketPeer, sock)
			}
		}
		_ = ch
		delete(m.peerSocket, peer)
	}
}

// peers returns every peer id currently known to the map.
func (m *channelMap) peers() []meshid.ID {
	out := make([]meshid.ID, 0, len(m.peerSocket))
	for id := range m.peerSocket {
		out = append(out, id)
	}
	return out
}
