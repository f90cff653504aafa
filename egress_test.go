package lossless

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPacket(seq uint32, class ClassID, size int) *Packet {
	return CreateDataPacket(0, 1, 100, 200, size, DataHeader{Seq: seq, Class: uint16(class)})
}

func queueSum(es *EgressScheduler) int64 {
	var sum int64
	for q := 0; q < es.Queues(); q++ {
		sum += es.GetQueueBytes(q)
	}
	return sum
}

func TestPacketQueue_FIFO(t *testing.T) {
	pq := CreatePacketQueue()
	assert.True(t, pq.Empty())
	assert.Nil(t, pq.Pop())

	pq.Push(testPacket(1, 0, 100))
	pq.Push(testPacket(2, 0, 200))
	assert.Equal(t, 2, pq.Len())
	assert.Equal(t, int64(300), pq.Bytes())
	assert.Equal(t, uint32(1), pq.Peek().Seq())

	cp := pq.Copy()
	assert.Equal(t, uint32(1), pq.Pop().Seq())
	assert.Equal(t, int64(200), pq.Bytes())
	assert.Equal(t, 2, cp.Len())
	assert.Equal(t, int64(300), cp.Bytes())

	pq.Clear()
	assert.True(t, pq.Empty())
	assert.Equal(t, int64(0), pq.Bytes())
}

func TestEgressScheduler_StrictPriority(t *testing.T) {
	es := CreateEgressScheduler("sw-eth0", 8, StrictPriority, 1000000, newManualTimers())
	require.True(t, es.Enqueue(testPacket(1, 2, 100), 2))
	require.True(t, es.Enqueue(testPacket(2, 5, 100), 5))
	require.True(t, es.Enqueue(testPacket(3, 5, 100), 5))

	p := es.Dequeue(ClassSet(0).With(5))
	require.NotNil(t, p)
	assert.Equal(t, uint32(1), p.Seq())
	assert.Equal(t, 2, es.GetLastQueue())

	assert.Nil(t, es.Dequeue(ClassSet(0).With(5)))
	assert.Equal(t, uint32(2), es.Dequeue(0).Seq())
	assert.Equal(t, 5, es.GetLastQueue())
}

func TestEgressScheduler_RoundRobin(t *testing.T) {
	es := CreateEgressScheduler("nic-eth0", 4, RoundRobin, 1000000, newManualTimers())
	for seq := uint32(0); seq < 3; seq++ {
		es.Enqueue(testPacket(seq, 1, 100), 1)
		es.Enqueue(testPacket(10+seq, 3, 100), 3)
	}
	order := []int{}
	for !es.Empty() {
		es.Dequeue(0)
		order = append(order, es.GetLastQueue())
	}
	assert.Equal(t, []int{1, 3, 1, 3, 1, 3}, order)
}

func TestEgressScheduler_WeightedRoundRobin(t *testing.T) {
	mt := newManualTimers()
	es := CreateEgressScheduler("sw-eth0", 4, WeightedRoundRobin, 1000000, mt)
	es.SetMinBandwidth(1, 8e6)
	es.SetMinBandwidth(2, 8e6)

	es.Enqueue(testPacket(0, 1, 1000), 1)
	es.Enqueue(testPacket(1, 1, 1000), 1)
	es.Enqueue(testPacket(2, 2, 1000), 2)
	es.Enqueue(createPausePacket(0, PauseHeader{}, 64), 3)

	// control traffic first
	assert.Equal(t, ProtoPause, es.Dequeue(0).Protocol)

	mt.advance(1e-3)
	// both floors are overdue; the higher class goes first
	es.Dequeue(0)
	assert.Equal(t, 2, es.GetLastQueue())
	es.Dequeue(0)
	assert.Equal(t, 1, es.GetLastQueue())

	// class 1 has been credited 1 ms of its floor and is no longer overdue
	es.Dequeue(0)
	assert.Equal(t, 1, es.GetLastQueue())
	assert.True(t, es.Empty())
}

type testGate struct {
	class []ClassID
	avail []float64
}

func (tg testGate) FlowClass(q int) ClassID {
	return tg.class[q]
}

func (tg testGate) NextAvailable(q int) float64 {
	return tg.avail[q]
}

func TestEgressScheduler_FlowAware(t *testing.T) {
	mt := newManualTimers()
	es := CreateEgressScheduler("nic-eth0", 4, FlowAwareQCN, 1000000, mt)
	gate := testGate{class: []ClassID{7, 3, 3, 4}, avail: []float64{0, 0, 5e-6, 0}}
	es.SetFlowGate(gate)

	es.Enqueue(testPacket(0, 3, 100), 1)
	es.Enqueue(testPacket(0, 3, 100), 2)
	es.Enqueue(testPacket(0, 4, 100), 3)
	es.Enqueue(createControlPacket(ProtoAck, 0, 1, ControlHeader{}, 64), 0)

	assert.Equal(t, ProtoAck, es.Dequeue(0).Protocol)

	// flow 2 is not yet due and class 4 is paused
	paused := ClassSet(0).With(4)
	es.Dequeue(paused)
	assert.Equal(t, 1, es.GetLastQueue())
	assert.Nil(t, es.Dequeue(paused))

	mt.advance(1e-5)
	es.Dequeue(paused)
	assert.Equal(t, 2, es.GetLastQueue())
	es.Dequeue(0)
	assert.Equal(t, 3, es.GetLastQueue())
}

func TestEgressScheduler_FlowAwareUngatedHonoursPause(t *testing.T) {
	es := CreateEgressScheduler("nic-eth0", 4, FlowAwareQCN, 1000000, newManualTimers())
	es.Enqueue(testPacket(0, 3, 100), 1)
	es.Enqueue(testPacket(1, 5, 100), 2)

	paused := ClassSet(0).With(3)
	p := es.Dequeue(paused)
	require.NotNil(t, p)
	assert.Equal(t, 2, es.GetLastQueue())
	assert.Nil(t, es.Dequeue(paused))

	es.Dequeue(0)
	assert.Equal(t, 1, es.GetLastQueue())
	assert.True(t, es.Empty())
}

func TestEgressScheduler_Capacity(t *testing.T) {
	es := CreateEgressScheduler("sw-eth0", 2, StrictPriority, 1500, newManualTimers())
	assert.True(t, es.Enqueue(testPacket(0, 0, 1000), 0))
	assert.False(t, es.Enqueue(testPacket(1, 0, 1000), 0))
	assert.False(t, es.Enqueue(testPacket(2, 0, 100), 4))
	assert.Equal(t, int64(1000), es.TotalBytes())
}

func TestEgressScheduler_ByteSums(t *testing.T) {
	es := CreateEgressScheduler("sw-eth0", 8, WeightedRoundRobin, 1000000, newManualTimers())
	sizes := []int{64, 1500, 9000, 300}
	for idx := 0; idx < 30; idx++ {
		es.Enqueue(testPacket(uint32(idx), ClassID(idx%8), sizes[idx%4]), idx%8)
		assert.Equal(t, queueSum(es), es.TotalBytes())
	}
	paused := ClassSet(0).With(3)
	for es.Dequeue(paused) != nil {
		assert.Equal(t, queueSum(es), es.TotalBytes())
	}
	assert.Equal(t, es.GetQueueBytes(3), es.TotalBytes())
	assert.Equal(t, 4, es.QueueLen(3))
}

func TestEgressScheduler_RecoverQueue(t *testing.T) {
	es := CreateEgressScheduler("nic-eth0", 4, RoundRobin, 1000000, newManualTimers())
	for seq := uint32(0); seq < 4; seq++ {
		es.Enqueue(testPacket(seq, 2, 100+int(seq)), 2)
	}
	es.Enqueue(testPacket(9, 1, 500), 1)
	snap := es.Snapshot(2)
	totalBefore := es.TotalBytes()

	es.Dequeue(0)
	es.Dequeue(0)
	es.Dequeue(0)
	es.Enqueue(testPacket(20, 2, 700), 2)

	es.RecoverQueue(snap, 2)
	assert.Equal(t, totalBefore-500, es.TotalBytes())
	assert.Equal(t, queueSum(es), es.TotalBytes())
	assert.Equal(t, 4, snap.Len(), "the saved queue is left as it was")

	recovered := es.Snapshot(2).Packets()
	require.Len(t, recovered, 4)
	for idx, p := range recovered {
		assert.Equal(t, uint32(idx), p.Seq())
		assert.NotSame(t, snap.Packets()[idx], p)
	}

	es.RecoverQueue(snap, 9)
	assert.Equal(t, queueSum(es), es.TotalBytes())
}

func TestSendBuffer_Ordered(t *testing.T) {
	sb := CreateSendBuffer(3)
	assert.Nil(t, sb.Front())
	_, held := sb.FrontSeq()
	assert.False(t, held)

	for _, seq := range []uint32{2, 0, 1} {
		assert.Nil(t, sb.Push(testPacket(seq, 3, 100)))
	}
	front, held := sb.FrontSeq()
	assert.True(t, held)
	assert.Equal(t, uint32(0), front)
	assert.Equal(t, int64(300), sb.Bytes())

	evicted := sb.Push(testPacket(3, 3, 100))
	require.NotNil(t, evicted)
	assert.Equal(t, uint32(0), evicted.Seq())
	assert.Equal(t, 3, sb.Len())

	assert.Equal(t, 1, sb.DropBefore(2))
	seqs := []uint32{}
	for _, p := range sb.Packets() {
		seqs = append(seqs, p.Seq())
	}
	assert.Equal(t, []uint32{2, 3}, seqs)
	assert.Equal(t, int64(200), sb.Bytes())

	// a retained sequence pushed again replaces the old copy
	sb.Push(testPacket(3, 3, 400))
	assert.Equal(t, 2, sb.Len())
	assert.Equal(t, int64(500), sb.Bytes())

	sb.Clear()
	assert.Equal(t, 0, sb.Len())
}
