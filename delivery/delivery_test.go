// delivery_test.go
// SPDX-License-Identifier: AGPL-3.0-only

package delivery

import (
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"

	"github.com/semenovf/netty-go/meshid"
	"github.com/semenovf/netty-go/wire"
)

func idFromUUID(t *testing.T) meshid.ID {
	u, err := uuid.NewV4()
	require.NoError(t, err)
	id, err := meshid.FromBytes(u.Bytes())
	require.NoError(t, err)
	return id
}

func TestTrackerAssemblerRoundTrip(t *testing.T) {
	msgid := idFromUUID(t)
	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	const partSize = 16
	nparts := (len(payload) + partSize - 1) / partSize
	tracker := NewTracker(msgid, 0, false, partSize, 1, uint64(nparts), payload, true)

	asm := NewAssembler(msgid, uint64(len(payload)), partSize, 1, uint64(nparts))
	for {
		sn, _, chunk, ok := tracker.NextUnsent()
		if !ok {
			break
		}
		_, complete := asm.Record(sn, chunk)
		if complete {
			break
		}
	}
	require.True(t, asm.Complete())
	require.Equal(t, payload, asm.Payload())
}

func TestAssemblerOutOfOrderParts(t *testing.T) {
	msgid := idFromUUID(t)
	payload := []byte("0123456789ABCDEF0123456789ABCDEF")
	const partSize = 8
	nparts := (len(payload) + partSize - 1) / partSize
	tracker := NewTracker(msgid, 0, false, partSize, 1, uint64(nparts), payload, true)

	var chunks [][2]interface{}
	for {
		sn, _, chunk, ok := tracker.NextUnsent()
		if !ok {
			break
		}
		chunks = append(chunks, [2]interface{}{sn, chunk})
	}
	// Deliver in reverse order.
	asm := NewAssembler(msgid, uint64(len(payload)), partSize, 1, uint64(nparts))
	for i := len(chunks) - 1; i >= 0; i-- {
		sn := chunks[i][0].(uint64)
		chunk := chunks[i][1].([]byte)
		asm.Record(sn, chunk)
	}
	require.True(t, asm.Complete())
	require.Equal(t, payload, asm.Payload())
}

type recordingCallbacks struct {
	enqueue   func(priority uint8, bytes []byte) bool
	delivered []meshid.ID
	received  [][]byte
}

func (r *recordingCallbacks) EnqueuePrivate(peer meshid.ID, priority uint8, bytes []byte) bool {
	return r.enqueue(priority, bytes)
}
func (r *recordingCallbacks) MessageDelivered(peer, msgid meshid.ID) {
	r.delivered = append(r.delivered, msgid)
}
func (r *recordingCallbacks) MessageReceived(peer, msgid meshid.ID, priority uint8, bytes []byte) {
	r.received = append(r.received, bytes)
}
func (r *recordingCallbacks) MessageLost(peer, msgid meshid.ID)                       {}
func (r *recordingCallbacks) MessageBegin(peer, msgid meshid.ID)                      {}
func (r *recordingCallbacks) MessageProgress(peer, msgid meshid.ID, a, b int)         {}
func (r *recordingCallbacks) ReportReceived(peer meshid.ID, priority uint8, b []byte) {}

func dispatch(c *Controller, priority uint8, bytes []byte) {
	typ, ok := PeekType(bytes)
	if !ok {
		return
	}
	in := wire.NewInput(bytes)
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
	}
}

func TestControllerEndToEndDelivery(t *testing.T) {
	senderID := idFromUUID(t)
	receiverID := idFromUUID(t)
	cfg := Config{NumPriorities: 2, Weights: []int{2, 1}, PartSize: 8, SynRetry: time.Second}

	var sender, receiver *Controller
	senderCB := &recordingCallbacks{}
	receiverCB := &recordingCallbacks{}
	senderCB.enqueue = func(priority uint8, bytes []byte) bool { dispatch(receiver, priority, bytes); return true }
	receiverCB.enqueue = func(priority uint8, bytes []byte) bool { dispatch(sender, priority, bytes); return true }

	sender = NewController(receiverID, senderCB, cfg)
	receiver = NewController(senderID, receiverCB, cfg)

	msgid := idFromUUID(t)
	payload := []byte("hello reliable delivery world, spanning several parts")
	sender.EnqueueMessage(msgid, 0, false, payload, true)

	now := time.Now()
	for i := 0; i < 200 && len(senderCB.delivered) == 0; i++ {
		sender.Step(now)
		receiver.Step(now)
		now = now.Add(10 * time.Millisecond)
	}

	require.Len(t, receiverCB.received, 1)
	require.Equal(t, payload, receiverCB.received[0])
	require.Len(t, senderCB.delivered, 1)
	require.Equal(t, msgid, senderCB.delivered[0])
}

func TestControllerPauseStopsTransmissionUntilResume(t *testing.T) {
	senderID := idFromUUID(t)
	receiverID := idFromUUID(t)
	cfg := Config{NumPriorities: 1, Weights: []int{1}, PartSize: 8, SynRetry: time.Second}

	var sent int
	senderCB := &recordingCallbacks{}
	senderCB.enqueue = func(priority uint8, bytes []byte) bool { sent++; return true }

	sender := NewController(receiverID, senderCB, cfg)
	_ = senderID

	msgid := idFromUUID(t)
	sender.EnqueueMessage(msgid, 0, false, []byte("paused during node_unreachable"), true)

	now := time.Now()
	sender.Step(now)
	require.Greater(t, sent, 0, "controller must attempt transmission while not paused")

	sender.Pause()
	before := sent
	for i := 0; i < 10; i++ {
		now = now.Add(10 * time.Millisecond)
		sender.Step(now)
	}
	require.Equal(t, before, sent, "a paused controller must not transmit")

	sender.Resume()
	now = now.Add(10 * time.Millisecond)
	sender.Step(now)
	require.Greater(t, sent, before, "resume must re-arm transmission")
}
