// manager.go - delivery manager: one controller per peer (§4.7, C14).
// SPDX-License-Identifier: AGPL-3.0-only

package delivery

import (
	"sync"
	"time"

	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/wire"
)

// Transport is what the manager needs from the node pool to actually
// move bytes (§4.8's enqueue_private).
type Transport interface {
	EnqueuePrivate(peer meshid.ID, priority uint8, bytes []byte) bool
}

// Manager owns one Controller per peer, created on first use. Unlike
// the source's recursive mutex (needed there because transport
// callbacks re-enter the manager on the same call stack), this
// implementation's EnqueuePrivate callback only ever calls back into
// the node pool, never into the manager itself, so a plain sync.Mutex
// is sufficient — Go's idiomatic answer to "the callback might want
// the lock too" is to not let it want the lock, not to reach for a
// recursive primitive the standard library doesn't provide.
type Manager struct {
	mu          sync.Mutex
	transport   Transport
	cfg         Config
	controllers map[meshid.ID]*Controller
	callbacks   Callbacks
}

// NewManager builds a Manager. callbacks receives every per-peer
// notification (message_received, message_delivered, ...).
func NewManager(transport Transport, cfg Config, callbacks Callbacks) *Manager {
	return &Manager{
		transport:   transport,
		cfg:         cfg,
		controllers: make(map[meshid.ID]*Controller),
		callbacks:   callbacks,
	}
}

func (m *Manager) controllerLocked(peer meshid.ID) *Controller {
	c, ok := m.controllers[peer]
	if !ok {
		c = NewController(peer, managerCallbacks{m}, m.cfg)
		m.controllers[peer] = c
	}
	return c
}

// managerCallbacks adapts Manager.transport into the per-Controller
// Callbacks contract, forwarding everything else straight to the
// manager's own callbacks.
type managerCallbacks struct{ m *Manager }

func (c managerCallbacks) EnqueuePrivate(peer meshid.ID, priority uint8, bytes []byte) bool {
	return c.m.transport.EnqueuePrivate(peer, priority, bytes)
}
func (c managerCallbacks) MessageDelivered(peer, msgid meshid.ID) {
	c.m.callbacks.MessageDelivered(peer, msgid)
}
func (c managerCallbacks) MessageReceived(peer, msgid meshid.ID, priority uint8, bytes []byte) {
	c.m.callbacks.MessageReceived(peer, msgid, priority, bytes)
}
func (c managerCallbacks) MessageLost(peer, msgid meshid.ID) {
	c.m.callbacks.MessageLost(peer, msgid)
}
func (c managerCallbacks) MessageBegin(peer, msgid meshid.ID) {
	c.m.callbacks.MessageBegin(peer, msgid)
}
func (c managerCallbacks) MessageProgress(peer, msgid meshid.ID, received, total int) {
	c.m.callbacks.MessageProgress(peer, msgid, received, total)
}
func (c managerCallbacks) ReportReceived(peer meshid.ID, priority uint8, bytes []byte) {
	c.m.callbacks.ReportReceived(peer, priority, bytes)
}

// EnqueueMessage queues a reliable message to peer at priority.
func (m *Manager) EnqueueMessage(peer meshid.ID, msgid meshid.ID, priority uint8, forceChecksum bool, payload []byte, owned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllerLocked(peer).EnqueueMessage(msgid, priority, forceChecksum, payload, owned)
}

// EnqueueReport sends a fire-and-forget payload via the transport
// directly; REPORT carries no serial number and is never retried.
func (m *Manager) EnqueueReport(peer meshid.ID, priority uint8, data []byte) bool {
	return m.transport.EnqueuePrivate(peer, priority, EncodeReport(Report{Data: data}))
}

// Pause suspends transmission to peer, e.g. on node_unreachable.
func (m *Manager) Pause(peer meshid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.controllers[peer]; ok {
		c.Pause()
	}
}

// Resume re-arms transmission to peer after a route is rediscovered.
func (m *Manager) Resume(peer meshid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.controllers[peer]; ok {
		c.Resume()
	}
}

// Step drives every peer controller's Step once.
func (m *Manager) Step(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.controllers {
		c.Step(now)
	}
}

// Dispatch routes one inbound delivery-protocol payload (the decoded
// body of a DDATA/GDATA packet) to peer's controller.
func (m *Manager) Dispatch(peer meshid.ID, priority uint8, payload []byte) {
	typ, ok := PeekType(payload)
	if !ok {
		return
	}
	in := wire.NewInput(payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.controllerLocked(peer)

	switch typ {
	case PacketSYN:
		s := DecodeSYN(in)
		if len(s.Entries) == 0 {
			c.OnSynResponse()
		} else {
			c.OnSynRequest(s)
		}
	case PacketMESSAGE:
		c.OnMessage(priority, DecodeMessage(in))
	case PacketPART:
		c.OnPart(priority, DecodePart(in))
	case PacketACK:
		c.OnAck(priority, DecodeAck(in))
	case PacketREPORT:
		r := DecodeReport(in)
		c.cb.ReportReceived(peer, priority, r.Data)
	}
}
