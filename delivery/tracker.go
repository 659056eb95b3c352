// tracker.go - sender-side multipart tracker and receiver-side assembler.
// SPDX-License-Identifier: AGPL-3.0-only

package delivery

import "github.com/semenovf/netty-go/meshid"

// Tracker is the sender-side state for one outbound multipart message
// (§3 Delivery multipart tracker). The payload is owned (a private
// copy) unless the caller explicitly opts into the borrowed path,
// matching the original implementation's borrowed-vs-owned split.
type Tracker struct {
	MsgID         meshid.ID
	Priority      uint8
	ForceChecksum bool
	PartSize      uint32
	FirstSN       uint64
	LastSN        uint64
	payload       []byte
	payloadOwned  bool
	acked         []bool
	nextUnsent    int
}

// NewTracker builds a tracker for a message spanning [firstSN, lastSN].
// When owned is false, payload must remain valid until the tracker
// completes; the caller is responsible for that lifetime.
func NewTracker(msgid meshid.ID, priority uint8, forceChecksum bool, partSize uint32, firstSN, lastSN uint64, payload []byte, owned bool) *Tracker {
	p := payload
	if owned {
		p = make([]byte, len(payload))
		copy(p, payload)
	}
	n := int(lastSN-firstSN) + 1
	return &Tracker{
		MsgID:         msgid,
		Priority:      priority,
		ForceChecksum: forceChecksum,
		PartSize:      partSize,
		FirstSN:       firstSN,
		LastSN:        lastSN,
		payload:       p,
		payloadOwned:  owned,
		acked:         make([]bool, n),
	}
}

// NumParts returns the number of parts this message was split into.
func (t *Tracker) NumParts() int { return len(t.acked) }

// chunk returns the byte range for serial number sn (must be in range).
func (t *Tracker) chunk(sn uint64) []byte {
	idx := int(sn - t.FirstSN)
	start := idx * int(t.PartSize)
	end := start + int(t.PartSize)
	if end > len(t.payload) {
		end = len(t.payload)
	}
	return t.payload[start:end]
}

// NextUnsent returns the next unsent part's serial number, whether it
// is the first part of the message (needs a MESSAGE header rather than
// a PART header), and its chunk. ok is false once every part has been
// sent at least once.
func (t *Tracker) NextUnsent() (sn uint64, isFirst bool, chunk []byte, ok bool) {
	if t.nextUnsent >= len(t.acked) {
		return 0, false, nil, false
	}
	sn = t.FirstSN + uint64(t.nextUnsent)
	isFirst = t.nextUnsent == 0
	chunk = t.chunk(sn)
	t.nextUnsent++
	return sn, isFirst, chunk, true
}

// Ack marks sn acknowledged. It reports whether the tracker is now
// complete (every bit set).
func (t *Tracker) Ack(sn uint64) (complete bool) {
	if sn < t.FirstSN || sn > t.LastSN {
		return false
	}
	t.acked[sn-t.FirstSN] = true
	return t.Complete()
}

// Complete reports whether every part has been acknowledged.
func (t *Tracker) Complete() bool {
	for _, b := range t.acked {
		if !b {
			return false
		}
	}
	return true
}

// Rewind resets NextUnsent to begin retransmitting from the first
// still-unacknowledged part, used after a pause/resume cycle.
func (t *Tracker) Rewind() {
	for i, acked := range t.acked {
		if !acked {
			t.nextUnsent = i
			return
		}
	}
	t.nextUnsent = len(t.acked)
}

// Assembler is the receiver-side state for one in-flight multipart
// message (§3 Delivery multipart assembler).
type Assembler struct {
	MsgID     meshid.ID
	TotalSize uint64
	PartSize  uint32
	FirstSN   uint64
	LastSN    uint64
	received  []bool
	payload   []byte
}

// NewAssembler allocates an assembler sized from the geometry carried
// in the triggering MESSAGE packet.
func NewAssembler(msgid meshid.ID, totalSize uint64, partSize uint32, firstSN, lastSN uint64) *Assembler {
	n := int(lastSN-firstSN) + 1
	return &Assembler{
		MsgID:     msgid,
		TotalSize: totalSize,
		PartSize:  partSize,
		FirstSN:   firstSN,
		LastSN:    lastSN,
		received:  make([]bool, n),
		payload:   make([]byte, totalSize),
	}
}

// MatchesGeometry reports whether a follow-up MESSAGE for the same
// msgid carries consistent geometry, per §4.7's assertion.
func (a *Assembler) MatchesGeometry(partSize uint32, firstSN, lastSN uint64) bool {
	return a.PartSize == partSize && a.FirstSN == firstSN && a.LastSN == lastSN
}

// Record stores chunk at the position implied by sn. It reports
// whether this is the first time sn was seen (so callers only fire
// progress callbacks once per part) and whether the message is now
// complete.
func (a *Assembler) Record(sn uint64, chunk []byte) (newlyReceived bool, complete bool) {
	if sn < a.FirstSN || sn > a.LastSN {
		return false, a.Complete()
	}
	idx := int(sn - a.FirstSN)
	if a.received[idx] {
		return false, a.Complete()
	}
	a.received[idx] = true
	start := idx * int(a.PartSize)
	copy(a.payload[start:], chunk)
	return true, a.Complete()
}

// Complete reports whether every part has arrived.
func (a *Assembler) Complete() bool {
	for _, b := range a.received {
		if !b {
			return false
		}
	}
	return true
}

// ReceivedCount returns how many distinct parts have arrived so far.
func (a *Assembler) ReceivedCount() int {
	n := 0
	for _, b := range a.received {
		if b {
			n++
		}
	}
	return n
}

// Payload returns the assembled message bytes. Only meaningful once
// Complete reports true.
func (a *Assembler) Payload() []byte { return a.payload }
