// rotor.go - weighted round-robin over priorities that currently have
// a pending tracker, reusing the writer-queue scheduler's weight idea
// (§4.2) at message granularity instead of byte granularity.
// SPDX-License-Identifier: AGPL-3.0-only

package delivery

type rotor struct {
	weights []int
	credit  []int
	cur     int
}

func newRotor(weights []int) *rotor {
	r := &rotor{weights: append([]int(nil), weights...), credit: make([]int, len(weights))}
	copy(r.credit, weights)
	return r
}

// next returns the next priority to serve given a hasPending predicate,
// or ok=false if no priority has anything pending.
func (r *rotor) next(hasPending func(p int) bool) (p int, ok bool) {
	n := len(r.weights)
	anyPending := false
	for i := 0; i < n; i++ {
		if hasPending(i) {
			anyPending = true
			break
		}
	}
	if !anyPending {
		return 0, false
	}

	scanned := 0
	for scanned < n {
		if hasPending(r.cur) && r.credit[r.cur] > 0 {
			break
		}
		r.cur = (r.cur + 1) % n
		scanned++
	}
	if scanned == n {
		copy(r.credit, r.weights)
		r.cur = 0
		for !hasPending(r.cur) {
			r.cur = (r.cur + 1) % n
		}
	}
	r.credit[r.cur]--
	if r.credit[r.cur] < 0 {
		r.credit[r.cur] = 0
	}
	return r.cur, true
}
