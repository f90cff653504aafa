package lossless

// egress.go holds the per-port set of priority queues and the four disciplines
// for choosing which queue transmits next

import (
	"github.com/sirupsen/logrus"
)

// FlowGate tells the flow-aware discipline the class and pacing state of each flow queue
type FlowGate interface {
	FlowClass(q int) ClassID
	NextAvailable(q int) float64
}

// EgressScheduler holds the queues of one port.  The sum of the queue byte
// counters always equals the scheduler's total byte counter.
type EgressScheduler struct {
	name        string
	discipline  Discipline
	queues      []*PacketQueue
	total       int64
	maxBytes    int64
	rrLast      int
	lastQueue   int
	activeFlows int // flow-aware discipline: queues [0, activeFlows) are in use
	minBW       []float64
	bwSatisfied []float64
	clock       Clock
	gate        FlowGate
}

// CreateEgressScheduler is a constructor
func CreateEgressScheduler(name string, queues int, discipline Discipline, maxBytes int64, clock Clock) *EgressScheduler {
	es := new(EgressScheduler)
	es.name = name
	es.discipline = discipline
	es.queues = make([]*PacketQueue, queues)
	for idx := range es.queues {
		es.queues[idx] = CreatePacketQueue()
	}
	es.maxBytes = maxBytes
	es.rrLast = 0
	es.lastQueue = 0
	es.activeFlows = 1
	es.minBW = make([]float64, queues)
	es.bwSatisfied = make([]float64, queues)
	es.clock = clock
	return es
}

// SetMinBandwidth sets the guaranteed-floor rate of queue q, in bits/sec
func (es *EgressScheduler) SetMinBandwidth(q int, bps float64) {
	if q < 0 || q >= len(es.queues) {
		return
	}
	es.minBW[q] = bps
}

// SetFlowGate installs the flow-class and pacing lookup used by the flow-aware discipline
func (es *EgressScheduler) SetFlowGate(gate FlowGate) {
	es.gate = gate
}

// Discipline returns the dequeue discipline in force
func (es *EgressScheduler) Discipline() Discipline {
	return es.discipline
}

// Queues returns the number of queues
func (es *EgressScheduler) Queues() int {
	return len(es.queues)
}

// Enqueue appends p to queue q.  It fails without change when q is out of range
// or the port's byte capacity would be exceeded; the caller drops the packet.
func (es *EgressScheduler) Enqueue(p *Packet, q int) bool {
	if q < 0 || q >= len(es.queues) {
		log.WithFields(logrus.Fields{"port": es.name, "queue": q}).Warn("enqueue to queue out of range")
		return false
	}
	if es.total+int64(p.Size) > es.maxBytes {
		return false
	}
	es.queues[q].Push(p)
	es.total += int64(p.Size)
	if q >= es.activeFlows {
		es.activeFlows = q + 1
	}
	return true
}

// Dequeue removes and returns the next packet under the scheduler's discipline,
// never from a class in paused.  It returns nil when nothing is eligible.
func (es *EgressScheduler) Dequeue(paused ClassSet) *Packet {
	switch es.discipline {
	case StrictPriority:
		return es.DequeueStrict(paused)
	case RoundRobin:
		return es.DequeueRR(paused)
	case WeightedRoundRobin:
		return es.DequeueWRR(paused)
	case FlowAwareQCN:
		return es.DequeueQCN(paused)
	}
	return nil
}

// serve pops the head of queue q and keeps the byte counters in step
func (es *EgressScheduler) serve(q int) *Packet {
	p := es.queues[q].Pop()
	if p == nil {
		return nil
	}
	es.total -= int64(p.Size)
	es.lastQueue = q
	return p
}

func (es *EgressScheduler) eligible(q int, paused ClassSet) bool {
	return !paused.Has(ClassID(q)) && !es.queues[q].Empty()
}

// DequeueStrict serves the highest-index non-paused, non-empty queue
func (es *EgressScheduler) DequeueStrict(paused ClassSet) *Packet {
	for q := len(es.queues) - 1; q >= 0; q-- {
		if es.eligible(q, paused) {
			return es.serve(q)
		}
	}
	return nil
}

// DequeueRR serves non-paused, non-empty queues in turn, starting after the last one served
func (es *EgressScheduler) DequeueRR(paused ClassSet) *Packet {
	n := len(es.queues)
	for i := 1; i <= n; i++ {
		q := (es.rrLast + i) % n
		if es.eligible(q, paused) {
			es.rrLast = q
			return es.serve(q)
		}
	}
	return nil
}

// DequeueWRR serves the control queue first, then any class whose guaranteed-floor
// deadline has passed (highest first), then the rest round robin
func (es *EgressScheduler) DequeueWRR(paused ClassSet) *Packet {
	n := len(es.queues)
	top := n - 1
	if es.eligible(top, paused) {
		return es.serve(top)
	}

	now := es.clock.Now()
	for q := top - 1; q >= 0; q-- {
		if es.eligible(q, paused) && es.bwSatisfied[q] < now {
			return es.serveFloor(q, now)
		}
	}

	for i := 1; i <= n; i++ {
		q := (es.rrLast + i) % n
		if es.eligible(q, paused) {
			es.rrLast = q
			return es.serveFloor(q, now)
		}
	}
	return nil
}

// serveFloor serves q and moves its next-eligible time on by the packet's
// transmission time at the class's floor rate
func (es *EgressScheduler) serveFloor(q int, now float64) *Packet {
	p := es.serve(q)
	if p == nil {
		return nil
	}
	if es.minBW[q] > 0.0 {
		es.bwSatisfied[q] += float64(p.Size) * 8.0 / es.minBW[q]
	}
	if now > es.bwSatisfied[q] {
		es.bwSatisfied[q] = now
	}
	return p
}

// DequeueQCN serves queue 0 (control) first, then flow queues in turn, skipping flows
// whose class is paused or whose pacing time has not yet come.  Without a flow gate
// a queue's class is that of its head packet and no pacing applies.
func (es *EgressScheduler) DequeueQCN(paused ClassSet) *Packet {
	if !es.queues[0].Empty() {
		return es.serve(0)
	}

	now := es.clock.Now()
	n := es.activeFlows
	for i := 1; i <= n; i++ {
		q := (es.rrLast + i) % n
		if es.queues[q].Empty() {
			continue
		}
		class := es.queues[q].Peek().DataClass()
		if es.gate != nil {
			class = es.gate.FlowClass(q)
		}
		if paused.Has(class) {
			continue
		}
		if es.gate != nil && es.gate.NextAvailable(q) > now {
			continue
		}
		es.rrLast = q
		return es.serve(q)
	}
	return nil
}

// GetQueueBytes returns the bytes waiting in queue q
func (es *EgressScheduler) GetQueueBytes(q int) int64 {
	if q < 0 || q >= len(es.queues) {
		return 0
	}
	return es.queues[q].Bytes()
}

// QueueLen returns the number of packets waiting in queue q
func (es *EgressScheduler) QueueLen(q int) int {
	if q < 0 || q >= len(es.queues) {
		return 0
	}
	return es.queues[q].Len()
}

// TotalBytes returns the bytes waiting across all queues
func (es *EgressScheduler) TotalBytes() int64 {
	return es.total
}

// GetLastQueue returns the queue the most recent dequeue came from
func (es *EgressScheduler) GetLastQueue() int {
	return es.lastQueue
}

// Empty reports whether every queue is empty
func (es *EgressScheduler) Empty() bool {
	return es.total == 0
}

// Snapshot returns a copy of queue q's contents
func (es *EgressScheduler) Snapshot(q int) *PacketQueue {
	if q < 0 || q >= len(es.queues) {
		return CreatePacketQueue()
	}
	return es.queues[q].Copy()
}

// RecoverQueue replaces the contents of queue q with copies of saved's packets, in
// order.  saved is left as it was, so recovering from a Snapshot taken earlier puts
// the queue back exactly.  The port capacity is not applied to replayed packets.
func (es *EgressScheduler) RecoverQueue(saved PacketSource, q int) {
	if q < 0 || q >= len(es.queues) {
		log.WithFields(logrus.Fields{"port": es.name, "queue": q}).Warn("recover of queue out of range")
		return
	}
	es.total -= es.queues[q].Bytes()
	es.queues[q].Clear()

	for _, p := range saved.Packets() {
		cp := p.Copy()
		es.queues[q].Push(cp)
		es.total += int64(cp.Size)
	}
	if q >= es.activeFlows {
		es.activeFlows = q + 1
	}
}
