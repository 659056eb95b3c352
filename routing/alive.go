// alive.go - multi-hop liveness tracking with loop detection (§4.6, C9).
// SPDX-License-Identifier: AGPL-3.0-only

// Package routing implements multi-hop liveness tracking and the
// routing table / route-discovery flood that lets a node reach
// non-neighbor destinations through gateway chains.
package routing

import (
	"container/heap"
	"time"

	"github.com/semenovf/netty-go/meshid"
)

// AliveConfig bounds the alive controller's timeouts (§4.6 defaults).
type AliveConfig struct {
	Interval        time.Duration // default 5s
	ExpTimeout      time.Duration // default 3*Interval
	LoopingInterval time.Duration // default Interval/2
}

// DefaultAliveConfig returns the spec's stated defaults.
func DefaultAliveConfig() AliveConfig {
	interval := 5 * time.Second
	return AliveConfig{
		Interval:        interval,
		ExpTimeout:      3 * interval,
		LoopingInterval: interval / 2,
	}
}

// AliveCallbacks fires on liveness transitions.
type AliveCallbacks interface {
	Alive(id meshid.ID)
	Expired(id meshid.ID)
}

type aliveEntry struct {
	id       meshid.ID
	deadline time.Time
	loopFloor time.Time
	index    int // heap index
}

// aliveHeap orders entries by deadline so check_expiration only scans
// the entries that have actually expired.
type aliveHeap []*aliveEntry

func (h aliveHeap) Len() int            { return len(h) }
func (h aliveHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h aliveHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *aliveHeap) Push(x interface{}) {
	e := x.(*aliveEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *aliveHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// AliveController tracks siblings (direct neighbors, no expiration)
// and non-neighbor nodes known alive via routing, each with a
// deadline and a loop-suppression floor.
type AliveController struct {
	cfg       AliveConfig
	cb        AliveCallbacks
	siblings  map[meshid.ID]bool
	entries   map[meshid.ID]*aliveEntry
	deadlines aliveHeap
}

// NewAliveController builds a controller with the given config.
func NewAliveController(cfg AliveConfig, cb AliveCallbacks) *AliveController {
	return &AliveController{
		cfg:      cfg,
		cb:       cb,
		siblings: make(map[meshid.ID]bool),
		entries:  make(map[meshid.ID]*aliveEntry),
	}
}

// AddSibling marks id as a direct neighbor, exempt from expiration;
// its liveness is the channel layer's heartbeat's responsibility.
func (a *AliveController) AddSibling(id meshid.ID) { a.siblings[id] = true }

// RemoveSibling drops id from the sibling set, e.g. on channel loss.
func (a *AliveController) RemoveSibling(id meshid.ID) { delete(a.siblings, id) }

// IsSibling reports whether id is a direct neighbor.
func (a *AliveController) IsSibling(id meshid.ID) bool { return a.siblings[id] }

// UpdateIf processes one ALIVE observation for id at time now. It
// returns false only when the observation is suppressed as a looping
// echo; a sibling's observation returns true without creating an entry.
func (a *AliveController) UpdateIf(id meshid.ID, now time.Time) bool {
	if a.siblings[id] {
		return true
	}
	e, known := a.entries[id]
	if known && now.Before(e.loopFloor) {
		return false
	}
	deadline := now.Add(a.cfg.ExpTimeout)
	loopFloor := now.Add(a.cfg.LoopingInterval)
	if known {
		e.deadline = deadline
		e.loopFloor = loopFloor
		heap.Fix(&a.deadlines, e.index)
		return true
	}
	e = &aliveEntry{id: id, deadline: deadline, loopFloor: loopFloor}
	a.entries[id] = e
	heap.Push(&a.deadlines, e)
	a.cb.Alive(id)
	return true
}

// CheckExpiration removes every entry whose deadline has passed as of
// now, firing Expired for each.
func (a *AliveController) CheckExpiration(now time.Time) {
	for a.deadlines.Len() > 0 {
		top := a.deadlines[0]
		if top.deadline.After(now) {
			return
		}
		heap.Pop(&a.deadlines)
		delete(a.entries, top.id)
		a.cb.Expired(top.id)
	}
}

// IsAlive reports whether id is currently a sibling or an unexpired
// alive entry.
func (a *AliveController) IsAlive(id meshid.ID) bool {
	if a.siblings[id] {
		return true
	}
	_, ok := a.entries[id]
	return ok
}
