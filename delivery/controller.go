// controller.go - per-peer reliable delivery controller (§4.7, C13).
// SPDX-License-Identifier: AGPL-3.0-only

package delivery

import (
	"time"

	"github.com/semenovf/netty-go/meshid"
)

// Callbacks is the set of upward notifications a Controller fires.
type Callbacks interface {
	// EnqueuePrivate hands a serialized delivery packet to the node
	// pool for transport on priority. It returns false if the peer is
	// currently unreachable, which pauses the controller.
	EnqueuePrivate(peer meshid.ID, priority uint8, bytes []byte) bool
	MessageDelivered(peer meshid.ID, msgid meshid.ID)
	MessageReceived(peer meshid.ID, msgid meshid.ID, priority uint8, bytes []byte)
	MessageLost(peer meshid.ID, msgid meshid.ID)
	MessageBegin(peer meshid.ID, msgid meshid.ID)
	MessageProgress(peer meshid.ID, msgid meshid.ID, received, total int)
	ReportReceived(peer meshid.ID, priority uint8, bytes []byte)
}

// Config bounds a Controller's behavior.
type Config struct {
	NumPriorities int
	Weights       []int
	PartSize      uint32
	SynRetry      time.Duration
}

// Controller holds both the sender-side and receiver-side state for
// one peer: per-priority in-flight tracker FIFOs and serial counters
// on the sender side, per-priority assemblers on the receiver side.
type Controller struct {
	peer meshid.ID
	cb   Callbacks
	cfg  Config

	rotor *rotor

	sendQueues []*trackerQueue
	lastSN     []uint64

	assemblers []*Assembler

	synced       bool
	nextSynRetry time.Time
	paused       bool
}

// trackerQueue is a plain FIFO of *Tracker; ordering matters (§5
// "within one priority and one peer, messages are delivered in send
// order"), so it is a slice used strictly head-first.
type trackerQueue struct {
	items []*Tracker
}

func (q *trackerQueue) push(t *Tracker) { q.items = append(q.items, t) }
func (q *trackerQueue) head() *Tracker {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}
func (q *trackerQueue) popHead() {
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
}

// NewController builds a Controller for peer with the given config.
func NewController(peer meshid.ID, cb Callbacks, cfg Config) *Controller {
	if len(cfg.Weights) != cfg.NumPriorities {
		cfg.Weights = make([]int, cfg.NumPriorities)
		for i := range cfg.Weights {
			cfg.Weights[i] = 1
		}
	}
	c := &Controller{
		peer:       peer,
		cb:         cb,
		cfg:        cfg,
		rotor:      newRotor(cfg.Weights),
		sendQueues: make([]*trackerQueue, cfg.NumPriorities),
		lastSN:     make([]uint64, cfg.NumPriorities),
		assemblers: make([]*Assembler, cfg.NumPriorities),
	}
	for i := range c.sendQueues {
		c.sendQueues[i] = &trackerQueue{}
	}
	return c
}

// Pause transitions the controller to paused state: EnqueueMessage
// still accepts work but Step stops transmitting until Resume.
func (c *Controller) Pause() { c.paused = true }

// Resume clears paused state and forces a fresh SYN handshake, since
// the peer may have discarded in-flight state while unreachable.
func (c *Controller) Resume() {
	c.paused = false
	c.synced = false
	c.nextSynRetry = time.Time{}
	for _, q := range c.sendQueues {
		if h := q.head(); h != nil {
			h.Rewind()
		}
	}
}

// EnqueueMessage creates and queues a tracker for a new outbound
// message, allocating its serial number range on priority's stream.
func (c *Controller) EnqueueMessage(msgid meshid.ID, priority uint8, forceChecksum bool, payload []byte, owned bool) {
	nparts := (len(payload) + int(c.cfg.PartSize) - 1) / int(c.cfg.PartSize)
	if nparts < 1 {
		nparts = 1
	}
	first := c.lastSN[priority] + 1
	last := first + uint64(nparts) - 1
	c.lastSN[priority] = last
	t := NewTracker(msgid, priority, forceChecksum, c.cfg.PartSize, first, last, payload, owned)
	c.sendQueues[priority].push(t)
}

// Step drives one iteration: SYN handshake retry, or transmission of
// the next unsent part chosen by the weighted rotor.
func (c *Controller) Step(now time.Time) {
	if c.paused {
		return
	}
	if !c.synced {
		if now.Before(c.nextSynRetry) {
			return
		}
		c.sendSyn(now)
		return
	}

	p, ok := c.rotor.next(func(p int) bool { return c.sendQueues[p].head() != nil })
	if !ok {
		return
	}
	c.sendNextPart(uint8(p))
}

func (c *Controller) sendSyn(now time.Time) {
	var entries []SYNEntry
	for p, q := range c.sendQueues {
		h := q.head()
		if h == nil {
			continue
		}
		lowestUnacked := h.FirstSN
		entries = append(entries, SYNEntry{Priority: uint8(p), MsgID: h.MsgID, LowestAckedSN: lowestUnacked})
	}
	bytes := EncodeSYN(SYN{Entries: entries})
	if !c.cb.EnqueuePrivate(c.peer, 0, bytes) {
		c.Pause()
		return
	}
	c.nextSynRetry = now.Add(c.cfg.SynRetry)
}

func (c *Controller) sendNextPart(priority uint8) {
	q := c.sendQueues[priority]
	t := q.head()
	if t == nil {
		return
	}
	sn, isFirst, chunk, ok := t.NextUnsent()
	if !ok {
		return
	}
	var bytes []byte
	if isFirst {
		bytes = EncodeMessage(Message{
			SN: sn, MsgID: t.MsgID, TotalSize: uint64(len(t.payloadBytes())),
			PartSize: t.PartSize, LastSN: t.LastSN, Chunk: chunk,
		})
	} else {
		bytes = EncodePart(Part{SN: sn, Chunk: chunk})
	}
	if !c.cb.EnqueuePrivate(c.peer, priority, bytes) {
		t.nextUnsent--
		c.Pause()
	}
}

// payloadBytes returns the tracker's payload slice itself (not a
// copy); its length fills the MESSAGE header's TotalSize field.
func (t *Tracker) payloadBytes() []byte { return t.payload }

// --- inbound processing ------------------------------------------------

// OnSynRequest handles an inbound SYN carrying at least one entry: it
// resets any receiver-side assembler the sender has given up on and
// replies with an empty SYN acknowledgement.
func (c *Controller) OnSynRequest(s SYN) {
	for _, e := range s.Entries {
		a := c.assemblers[e.Priority]
		if a != nil && a.FirstSN < e.LowestAckedSN {
			c.assemblers[e.Priority] = nil
		}
	}
	c.cb.EnqueuePrivate(c.peer, 0, EncodeSYN(SYN{}))
}

// OnSynResponse marks this controller's sender side synchronised.
func (c *Controller) OnSynResponse() {
	c.synced = true
}

// OnMessage handles an inbound MESSAGE, the first part of a message.
func (c *Controller) OnMessage(priority uint8, m Message) {
	existing := c.assemblers[priority]
	if existing != nil && existing.MsgID != m.MsgID {
		c.cb.MessageLost(c.peer, existing.MsgID)
		existing = nil
	}
	if existing == nil {
		existing = NewAssembler(m.MsgID, m.TotalSize, m.PartSize, m.FirstSN, m.LastSN)
		c.assemblers[priority] = existing
		c.cb.MessageBegin(c.peer, m.MsgID)
	}
	c.recordAndAck(priority, existing, m.SN, m.Chunk)
}

// OnPart handles an inbound PART for an already-open assembler. A PART
// arriving with no assembler open is a benign reordering artifact and
// is ignored per §4.7.
func (c *Controller) OnPart(priority uint8, p Part) {
	a := c.assemblers[priority]
	if a == nil {
		return
	}
	c.recordAndAck(priority, a, p.SN, p.Chunk)
}

func (c *Controller) recordAndAck(priority uint8, a *Assembler, sn uint64, chunk []byte) {
	newly, complete := a.Record(sn, chunk)
	c.cb.EnqueuePrivate(c.peer, 0, EncodeAck(Ack{SN: sn}))
	if newly {
		c.cb.MessageProgress(c.peer, a.MsgID, a.ReceivedCount(), a.NumParts())
	}
	if complete {
		c.cb.MessageReceived(c.peer, a.MsgID, priority, a.Payload())
		c.assemblers[priority] = nil
	}
}

// NumParts mirrors Tracker.NumParts for assemblers, used for
// MessageProgress reporting; exported for symmetry with Tracker's method name.
func (a *Assembler) NumParts() int { return len(a.received) }

// OnAck locates the tracker whose serial range contains sn and marks
// it acknowledged; a completed tracker is popped and fires
// MessageDelivered.
func (c *Controller) OnAck(priority uint8, ack Ack) {
	q := c.sendQueues[priority]
	t := q.head()
	if t == nil {
		return
	}
	if t.Ack(ack.SN) {
		c.cb.MessageDelivered(c.peer, t.MsgID)
		q.popHead()
	}
}
