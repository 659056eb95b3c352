// scheduler_test.go
// SPDX-License-Identifier: AGPL-3.0-only

package queue

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// keepFull refills priority p's FIFO with a 1-byte chunk whenever it
// runs dry, so the scheduler always has something to serve and the
// fairness ratio can be measured over many rounds.
func keepFull(s *Scheduler, p uint8) {
	if s.PendingBytes(p) == 0 {
		s.Enqueue(p, []byte{byte(p)})
	}
}

func TestSchedulerFairness(t *testing.T) {
	s := New([]int{2, 1})
	keepFull(s, 0)
	keepFull(s, 1)

	const k = 50
	counts := map[uint8]int{}
	for i := 0; i < 3*k; i++ {
		p, data, ok := s.AcquireFrame(64)
		require.True(t, ok)
		s.Shift(len(data))
		counts[p]++
		keepFull(s, 0)
		keepFull(s, 1)
	}
	require.Equal(t, 2*k, counts[0])
	require.Equal(t, k, counts[1])
}

func TestSchedulerNoStarvation(t *testing.T) {
	weights := []int{4, 2, 1}
	s := New(weights)
	for p := range weights {
		keepFull(s, uint8(p))
	}
	sum := 0
	for _, w := range weights {
		sum += w
	}

	lastSeen := map[uint8]int{0: 0, 1: 0, 2: 0}
	for round := 1; round <= 500; round++ {
		p, data, ok := s.AcquireFrame(64)
		require.True(t, ok)
		s.Shift(len(data))
		gap := round - lastSeen[p]
		if round > sum {
			require.LessOrEqual(t, gap, sum)
		}
		lastSeen[p] = round
		for pp := range weights {
			keepFull(s, uint8(pp))
		}
	}
}

func TestSchedulerInterleavedPriorities(t *testing.T) {
	// S6: distribution [2,1,1], enqueue p0(200B), p2(200B), p0(200B) on
	// an otherwise idle scheduler with a frame size comfortably larger
	// than any single chunk.
	s := New([]int{2, 1, 1})
	s.Enqueue(0, bytes.Repeat([]byte{0xA0}, 200))
	s.Enqueue(2, bytes.Repeat([]byte{0xA2}, 200))
	s.Enqueue(0, bytes.Repeat([]byte{0xA0}, 200))

	var order []uint8
	for {
		p, data, ok := s.AcquireFrame(1024)
		if !ok {
			break
		}
		s.Shift(len(data))
		order = append(order, p)
	}
	require.Equal(t, []uint8{0, 0, 2}, order)
}

func TestSchedulerNonDuplication(t *testing.T) {
	s := New([]int{1, 1})
	msg0 := []byte("hello-priority-zero-payload")
	msg1 := []byte("hello-priority-one-payload")
	s.Enqueue(0, msg0)
	s.Enqueue(1, msg1)

	var got0, got1 []byte
	for {
		p, data, ok := s.AcquireFrame(8) // force fragmentation
		if !ok {
			break
		}
		switch p {
		case 0:
			got0 = append(got0, data...)
		case 1:
			got1 = append(got1, data...)
		}
		s.Shift(len(data))
	}
	require.Equal(t, msg0, got0)
	require.Equal(t, msg1, got1)
	require.Equal(t, 0, s.TotalPendingBytes())
}
