// manager.go - node-level orchestration: pools, handshake, channel map
// and the single-threaded step loop that drives them (§4.3, §5).
// SPDX-License-Identifier: AGPL-3.0-only

package channel

import (
	"time"

	"github.com/semenovf/netty-go/frame"
	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/transport"
	"github.com/semenovf/netty-go/wire"
)

// Config bounds one Manager's timing and queueing behavior.
type Config struct {
	Mode             Mode
	HandshakeTimeout time.Duration
	Heartbeat        HeartbeatConfig
	FrameSize        int
	Weights          []int
	Reconnect        ReconnectPolicy
	// MaxFramesPerStep bounds how many frames a single channel may flush
	// in one Step call, so one busy peer can't starve the others in the
	// same cooperative pass.
	MaxFramesPerStep int
}

// Callbacks are the node-visible events a Manager fires.
type Callbacks interface {
	ChannelEstablished(peer meshid.ID, isGateway bool)
	ChannelDestroyed(peer meshid.ID)
	DuplicateID(peer meshid.ID, addr string)
	BytesWritten(peer meshid.ID, priority uint8, n int)
	MessageReceived(peer meshid.ID, priority uint8, data []byte)
	GlobalMessageReceived(arrivedFrom, sender, receiver meshid.ID, priority uint8, data []byte)
	RouteRequestReceived(peer meshid.ID, r wire.Route)
	RouteResponseReceived(peer meshid.ID, r wire.Route)
	Unreachable(peer meshid.ID, u wire.Unreachable)
	AliveReceived(peer meshid.ID, id meshid.ID)
	DialFailed(addr string, reason transport.ConnectionFailureReason)
}

type sockInfo struct {
	isReader   bool
	isWriter   bool
	isListener bool
	outbound   bool
	addr       string
}

// Manager owns every channel this node maintains, the shared handshake
// and input controllers, and the socket pools backing them.
type Manager struct {
	self  Identity
	cfg   Config
	pools transport.Pools
	cb    Callbacks

	hs    *Controller
	input *Input
	cmap  *channelMap

	socks    map[transport.SocketID]*sockInfo
	writable map[transport.SocketID]bool

	connectingCh chan transport.ConnectingEvent
	listenerCh   chan transport.ListenerEvent
	readerCh     chan transport.ReaderEvent
	writerCh     chan transport.WriterEvent

	now time.Time
}

// NewManager builds a Manager; pools must already be constructed by
// the caller (the concrete transport is pluggable per §6.2).
func NewManager(self Identity, cfg Config, pools transport.Pools, cb Callbacks) *Manager {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 1460
	}
	if cfg.MaxFramesPerStep <= 0 {
		cfg.MaxFramesPerStep = 8
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	m := &Manager{
		self:         self,
		cfg:          cfg,
		pools:        pools,
		cb:           cb,
		cmap:         newChannelMap(),
		socks:        make(map[transport.SocketID]*sockInfo),
		writable:     make(map[transport.SocketID]bool),
		connectingCh: make(chan transport.ConnectingEvent, 64),
		listenerCh:   make(chan transport.ListenerEvent, 64),
		readerCh:     make(chan transport.ReaderEvent, 64),
		writerCh:     make(chan transport.WriterEvent, 64),
	}
	m.hs = NewController(self, cfg.Mode, m, cfg.HandshakeTimeout)
	m.input = NewInput(m)
	return m
}

// Dial starts an outbound connection to addr.
func (m *Manager) Dial(addr string, now time.Time) error {
	sock, err := m.pools.Connecting.Dial(addr)
	if err != nil {
		return err
	}
	m.socks[sock] = &sockInfo{outbound: true, addr: addr}
	return nil
}

// Listen starts accepting inbound connections on addr.
func (m *Manager) Listen(addr string, backlog int) (transport.SocketID, error) {
	sock, err := m.pools.Listener.Listen(addr, backlog)
	if err != nil {
		return 0, err
	}
	m.socks[sock] = &sockInfo{isListener: true}
	return sock, nil
}

// Enqueue queues bytes at priority p on peer's channel, returning false
// if no established channel to peer exists.
func (m *Manager) Enqueue(peer meshid.ID, priority uint8, data []byte) bool {
	ch, ok := m.cmap.get(peer)
	if !ok || !ch.Established() {
		return false
	}
	ch.Enqueue(priority, data)
	return true
}

// Established reports whether peer currently has a fully established
// channel (every socket role the configured Mode needs).
func (m *Manager) Established(peer meshid.ID) bool {
	ch, ok := m.cmap.get(peer)
	return ok && ch.Established()
}

// Step drains every pool's ready events once and advances every
// channel's heartbeat, handshake deadlines and write queue.
func (m *Manager) Step(now time.Time) {
	m.now = now
	m.pumpEvents()
	m.hs.CheckDeadlines(now)

	for _, peer := range m.cmap.peers() {
		ch, ok := m.cmap.get(peer)
		if !ok {
			continue
		}
		if ch.Heartbeat() == nil && ch.Established() {
			hb := NewHeartbeatController(m.cfg.Heartbeat, &channelHeartbeatSink{m: m, ch: ch}, func() uint8 { return 0 }, now)
			ch.AttachHeartbeat(hb)
		}
		if hb := ch.Heartbeat(); hb != nil {
			hb.Step(now)
		}
		for i := 0; i < m.cfg.MaxFramesPerStep; i++ {
			n, err := ch.StepWrite(m.writeToSocket)
			if err != nil {
				m.closeChannel(ch)
				break
			}
			if n == 0 {
				break
			}
		}
		if addr, ok := ch.DueForRedial(now); ok {
			_ = m.Dial(addr, now)
		}
	}
}

func (m *Manager) writeToSocket(sock transport.SocketID, b []byte) (int, error) {
	if !m.writable[sock] {
		return 0, nil
	}
	n, err := m.pools.Writer.Write(sock, b)
	if n < len(b) {
		m.writable[sock] = false
	}
	return n, err
}

func (m *Manager) pumpEvents() {
	for m.pools.Connecting.Step(m.connectingCh) > 0 {
		for done := false; !done; {
			select {
			case ev := <-m.connectingCh:
				m.onConnecting(ev)
			default:
				done = true
			}
		}
	}
	for m.pools.Listener.Step(m.listenerCh) > 0 {
		for done := false; !done; {
			select {
			case ev := <-m.listenerCh:
				m.onListener(ev)
			default:
				done = true
			}
		}
	}
	for m.pools.Reader.Step(m.readerCh) > 0 {
		for done := false; !done; {
			select {
			case ev := <-m.readerCh:
				m.onReader(ev)
			default:
				done = true
			}
		}
	}
	for m.pools.Writer.Step(m.writerCh) > 0 {
		for done := false; !done; {
			select {
			case ev := <-m.writerCh:
				m.onWriter(ev)
			default:
				done = true
			}
		}
	}
}

func (m *Manager) onConnecting(ev transport.ConnectingEvent) {
	info := m.socks[ev.Socket]
	switch ev.Kind {
	case transport.Connected:
		m.pools.Reader.Add(ev.Socket)
		m.pools.Writer.Add(ev.Socket)
		if info != nil {
			info.isReader = true
			info.isWriter = true
		}
		m.writable[ev.Socket] = true
		m.hs.StartOutbound(ev.Socket, addrOf(info), m.now)
	default:
		if info != nil {
			m.cb.DialFailed(info.addr, ev.Reason)
		}
		delete(m.socks, ev.Socket)
	}
}

func addrOf(info *sockInfo) string {
	if info == nil {
		return ""
	}
	return info.addr
}

func (m *Manager) onListener(ev transport.ListenerEvent) {
	switch ev.Kind {
	case transport.Accepted:
		m.socks[ev.Accepted] = &sockInfo{isReader: true, isWriter: true}
		m.pools.Reader.Add(ev.Accepted)
		m.pools.Writer.Add(ev.Accepted)
		m.writable[ev.Accepted] = true
		m.hs.StartInbound(ev.Accepted, "", m.now)
	default:
		// Listener failures are dropped here: Callbacks has no hook for
		// them and DialFailed is not called.
	}
}

func (m *Manager) onReader(ev transport.ReaderEvent) {
	switch ev.Kind {
	case transport.DataReady:
		if ch, ok := m.cmap.channelOfSocket(ev.Socket); ok {
			if hb := ch.Heartbeat(); hb != nil {
				hb.OnTrafficSeen(m.now)
			}
		}
		m.input.Feed(ev.Socket, ev.Data)
	case transport.Disconnected, transport.ReaderFailure:
		m.onSocketLost(ev.Socket)
	}
}

func (m *Manager) onWriter(ev transport.WriterEvent) {
	switch ev.Kind {
	case transport.CanWrite:
		m.writable[ev.Socket] = true
	case transport.WriterFailure:
		m.onSocketLost(ev.Socket)
	}
}

func (m *Manager) onSocketLost(sock transport.SocketID) {
	m.input.Forget(sock)
	delete(m.writable, sock)
	info := m.socks[sock]
	delete(m.socks, sock)
	if ch, ok := m.cmap.channelOfSocket(sock); ok {
		ch.OnSocketLost(sock, m.now)
		if ch.State() == StateClosing {
			m.cmap.remove(ch.Peer())
			m.cb.ChannelDestroyed(ch.Peer())
		}
	}
	_ = info
}

func (m *Manager) closeSocket(sock transport.SocketID) {
	info, ok := m.socks[sock]
	if ok {
		if info.isReader {
			m.pools.Reader.RemoveLater(sock)
			m.pools.Reader.ApplyRemove()
		}
		if info.isWriter {
			m.pools.Writer.RemoveLater(sock)
			m.pools.Writer.ApplyRemove()
		}
	}
	m.onSocketLost(sock)
}

func (m *Manager) closeChannel(ch *Channel) {
	if ch.hasReader {
		m.closeSocket(ch.readerSock)
	}
	if ch.hasWriter && ch.writerSock != ch.readerSock {
		m.closeSocket(ch.writerSock)
	}
	m.cmap.remove(ch.Peer())
	m.cb.ChannelDestroyed(ch.Peer())
}

// --- HandshakeCallbacks ---

// Send writes a handshake packet straight to sock, wrapped in a
// priority-0 frame so the peer's Input de-frames it like any other
// packet.
func (m *Manager) Send(sock transport.SocketID, bytes []byte) {
	packed, _, err := frame.Pack(0, bytes, frame.HeaderSize+len(bytes))
	if err != nil {
		return
	}
	m.pools.Writer.Write(sock, packed)
}

func (m *Manager) CloseSocket(sock transport.SocketID) {
	m.closeSocket(sock)
}

func (m *Manager) ChannelEstablished(peer meshid.ID, isGateway bool) {
	// The handshake controller calls this once per socket role
	// resolved; the actual Role assignment (and thus which socket(s)
	// belong to peer) happens in the input dispatch below, since only
	// there do we know which socket is resolving. This callback exists
	// on the HandshakeCallbacks interface purely to satisfy it; channel
	// construction happens in HandleHandshake.
}

func (m *Manager) DuplicateID(peer meshid.ID, addr string) {
	m.cb.DuplicateID(peer, addr)
}

// --- Dispatch ---

func (m *Manager) HandleHandshake(sock transport.SocketID, h wire.Handshake) {
	info := m.socks[sock]
	var role Role
	if h.IsResponse {
		role = m.hs.OnResponse(sock, h)
	} else {
		role = m.hs.OnRequest(sock, h)
	}
	if role == RoleNone {
		return
	}
	ch, existed := m.cmap.get(h.SelfID)
	if !existed {
		ch = newChannel(h.SelfID, h.IsGateway, m.cfg.Mode, m.cfg.Weights, m.cfg.FrameSize)
		m.cmap.set(h.SelfID, ch)
	}
	wasEstablished := ch.Established()
	if role == RoleReader || role == RoleBoth {
		ch.AssignReader(sock, role)
		m.cmap.bind(sock, h.SelfID)
	}
	if role == RoleWriter || role == RoleBoth {
		ch.AssignWriter(sock, role)
		m.cmap.bind(sock, h.SelfID)
		if info != nil && info.outbound {
			ch.MarkOutbound(info.addr, m.cfg.Reconnect)
		}
	}
	if !wasEstablished && ch.Established() {
		m.cb.ChannelEstablished(h.SelfID, h.IsGateway)
	}
}

func (m *Manager) HandleHeartbeat(sock transport.SocketID, h wire.Heartbeat) {
	// Arrival alone already reset the heartbeat deadline in onReader;
	// the health byte is not consumed.
}

func (m *Manager) HandleAlive(sock transport.SocketID, a wire.Alive) {
	if peer, ok := m.cmap.peerOf(sock); ok {
		m.cb.AliveReceived(peer, a.ID)
	}
}

func (m *Manager) HandleUnreachable(sock transport.SocketID, u wire.Unreachable) {
	if peer, ok := m.cmap.peerOf(sock); ok {
		m.cb.Unreachable(peer, u)
	}
}

func (m *Manager) HandleRouteRequest(sock transport.SocketID, r wire.Route) {
	if peer, ok := m.cmap.peerOf(sock); ok {
		m.cb.RouteRequestReceived(peer, r)
	}
}

func (m *Manager) HandleRouteResponse(sock transport.SocketID, r wire.Route) {
	if peer, ok := m.cmap.peerOf(sock); ok {
		m.cb.RouteResponseReceived(peer, r)
	}
}

func (m *Manager) HandleDDATA(sock transport.SocketID, priority uint8, data []byte) {
	if peer, ok := m.cmap.peerOf(sock); ok {
		m.cb.MessageReceived(peer, priority, data)
	}
}

func (m *Manager) HandleGDATA(sock transport.SocketID, priority uint8, g wire.GDATA) {
	if peer, ok := m.cmap.peerOf(sock); ok {
		m.cb.GlobalMessageReceived(peer, g.Sender, g.Receiver, priority, g.Data)
	}
}

func (m *Manager) ProtocolError(sock transport.SocketID, err error) {
	m.closeSocket(sock)
}

// channelHeartbeatSink adapts one Channel's heartbeat output back onto
// its own priority-0 write queue and the manager's channel teardown.
type channelHeartbeatSink struct {
	m  *Manager
	ch *Channel
}

func (s *channelHeartbeatSink) SendHeartbeat(health uint8) {
	s.ch.Enqueue(0, wire.EncodeHeartbeat(wire.Heartbeat{Health: health}))
}

func (s *channelHeartbeatSink) Expired() {
	s.m.closeChannel(s.ch)
}
