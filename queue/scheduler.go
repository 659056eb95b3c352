// scheduler.go - priority writer queue and weighted round-robin scheduler (§4.2).
// SPDX-License-Identifier: AGPL-3.0-only

// Package queue implements the per-channel priority writer queue: N
// FIFOs of pending byte chunks plus a weighted round-robin scheduler
// that bounds latency for high-priority traffic while guaranteeing the
// lowest priority still makes progress.
package queue

import (
	"github.com/eapache/queue"
)

// DefaultWeights is an exponential-doubling weight distribution for a
// small number of priorities, the kind of D₀ ≥ D₁ ≥ … ≥ 1 shape §4.2
// calls out.
func DefaultWeights(n int) []int {
	w := make([]int, n)
	v := 1 << uint(n-1)
	for i := 0; i < n; i++ {
		w[i] = v
		if v > 1 {
			v /= 2
		}
	}
	return w
}

type chunk struct {
	data []byte
}

// staged is the in-flight frame fragment awaiting a shift.
type staged struct {
	priority uint8
	data     []byte
}

// Scheduler drives acquire_frame/shift for one channel's writer queue.
type Scheduler struct {
	weights []int
	fifos   []*queue.Queue
	headOff []int // bytes of fifos[p]'s front chunk already staged/shifted
	counts  []int // bytes pending per priority, kept for the remain_bytes invariant
	credit  []int // c_p counters
	cur     int
	stage   *staged
}

// New builds a Scheduler for len(weights) priorities.
func New(weights []int) *Scheduler {
	n := len(weights)
	s := &Scheduler{
		weights: append([]int(nil), weights...),
		fifos:   make([]*queue.Queue, n),
		headOff: make([]int, n),
		counts:  make([]int, n),
		credit:  make([]int, n),
	}
	for i := 0; i < n; i++ {
		s.fifos[i] = queue.New()
		s.credit[i] = weights[i]
	}
	return s
}

// NumPriorities returns N.
func (s *Scheduler) NumPriorities() int { return len(s.weights) }

// Enqueue appends data to priority p's FIFO.
func (s *Scheduler) Enqueue(p uint8, data []byte) {
	s.fifos[p].Add(chunk{data: data})
	s.counts[p] += len(data)
}

// PendingBytes returns the sum of bytes queued for priority p,
// including the unsent remainder of any staged frame at p (counts[p]
// only drops when Shift removes bytes).
func (s *Scheduler) PendingBytes(p uint8) int {
	return s.counts[p]
}

// TotalPendingBytes sums PendingBytes across all priorities; callers
// use it to assert the writer-queue invariant from §3.
func (s *Scheduler) TotalPendingBytes() int {
	total := 0
	for p := range s.fifos {
		total += s.PendingBytes(uint8(p))
	}
	return total
}

func (s *Scheduler) hasPending(p int) bool {
	return s.fifos[p].Length() > 0
}

func (s *Scheduler) allEmpty() bool {
	if s.stage != nil {
		return false
	}
	for p := range s.fifos {
		if s.hasPending(p) {
			return false
		}
	}
	return true
}

// AcquireFrame implements §4.2's acquire_frame algorithm: it returns
// the priority and up to frameSize-3 bytes to pack into the next
// frame, or ok=false if no priority has anything pending.
func (s *Scheduler) AcquireFrame(frameSize int) (priority uint8, data []byte, ok bool) {
	if s.stage != nil {
		return s.stage.priority, s.stage.data, true
	}
	if s.allEmpty() {
		return 0, nil, false
	}

	n := len(s.fifos)
	// Advance cur past any empty queue or any priority whose credit is
	// exhausted, wrapping modulo n. Bound the scan so an all-exhausted
	// round terminates instead of spinning: a full lap means everyone
	// hit zero while at least one queue is non-empty, which triggers
	// the refill branch below.
	scanned := 0
	for scanned < n {
		if s.hasPending(s.cur) && s.credit[s.cur] > 0 {
			break
		}
		s.cur = (s.cur + 1) % n
		scanned++
	}
	if scanned == n {
		// A full lap found nothing servable: every priority is either
		// empty or has exhausted its credit. Refill everyone and
		// restart the cycle at priority 0, so weighted rounds replay
		// identically instead of drifting from wherever cur happened
		// to stop (a bare full-lap traversal always returns cur to its
		// entry value, which is not necessarily 0).
		for i := range s.credit {
			s.credit[i] = s.weights[i]
		}
		s.cur = 0
		for !s.hasPending(s.cur) {
			s.cur = (s.cur + 1) % n
		}
	}

	head := s.fifos[s.cur].Peek().(chunk)
	avail := head.data[s.headOff[s.cur]:]
	maxChunk := frameSize - 3
	take := len(avail)
	if take > maxChunk {
		take = maxChunk
	}
	data = make([]byte, take)
	copy(data, avail[:take])
	s.stage = &staged{priority: uint8(s.cur), data: data}
	return uint8(s.cur), data, true
}

// Shift drops n bytes off the staged frame, as §4.2 describes. When
// the staged frame empties, the current priority's credit is
// decremented; when it was the last fragment of its source chunk, the
// chunk is popped off that priority's FIFO.
func (s *Scheduler) Shift(n int) {
	if s.stage == nil {
		return
	}
	p := int(s.stage.priority)
	if n > len(s.stage.data) {
		n = len(s.stage.data)
	}
	s.counts[p] -= n
	s.headOff[p] += n
	head := s.fifos[p].Peek().(chunk)
	if s.headOff[p] >= len(head.data) {
		s.fifos[p].Remove()
		s.headOff[p] = 0
	}

	s.stage.data = s.stage.data[n:]
	if len(s.stage.data) == 0 {
		s.stage = nil
		s.credit[p]--
		if s.credit[p] < 0 {
			s.credit[p] = 0
		}
	}
}
