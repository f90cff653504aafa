package lossless

// reliable.go holds layer-2 reliable delivery between NICs.  The receiving side
// tracks the next expected sequence number of each flow and answers gaps with a
// NACK and milestones with an ACK.  The sending side keeps unacknowledged packets
// in a SendBuffer and replays them into the flow's queue when a NACK arrives or
// an ACK fails to arrive in time.

import (
	"github.com/sirupsen/logrus"
)

// FlowKey names a flow at its receiver: the sending node, the class and the sender's port
type FlowKey struct {
	Source int
	Class  ClassID
	Port   uint16
}

// ReceiverAction is the outcome of checking one received sequence number
type ReceiverAction int

const (
	InOrder ReceiverAction = iota
	EmitAck
	EmitNack
	NackSuppressed
	Duplicate
)

var receiverActionToStr map[ReceiverAction]string = map[ReceiverAction]string{
	InOrder:        "in-order",
	EmitAck:        "ack",
	EmitNack:       "nack",
	NackSuppressed: "nack-suppressed",
	Duplicate:      "duplicate",
}

func (ra ReceiverAction) String() string {
	str, present := receiverActionToStr[ra]
	if !present {
		return "unknown"
	}
	return str
}

type rxFlow struct {
	expected    uint32
	milestone   uint32
	lastNack    int64
	nackExpires float64
}

// ReliableDeliveryTracker holds the receive state of every flow arriving at one NIC
type ReliableDeliveryTracker struct {
	desc  ReliableDesc
	clock Clock
	flows map[FlowKey]*rxFlow
}

// CreateReliableDeliveryTracker is a constructor
func CreateReliableDeliveryTracker(desc ReliableDesc, clock Clock) *ReliableDeliveryTracker {
	rdt := new(ReliableDeliveryTracker)
	rdt.desc = desc
	rdt.clock = clock
	rdt.flows = make(map[FlowKey]*rxFlow)
	return rdt
}

func (rdt *ReliableDeliveryTracker) flowState(key FlowKey) *rxFlow {
	rf, present := rdt.flows[key]
	if !present {
		rf = &rxFlow{expected: 0, milestone: rdt.desc.AckInterval, lastNack: -1}
		rdt.flows[key] = rf
	}
	return rf
}

// chunkStart returns the first sequence number of the chunk holding seq
func (rdt *ReliableDeliveryTracker) chunkStart(seq uint32) uint32 {
	if rdt.desc.ChunkSize == 0 {
		return seq
	}
	return seq / rdt.desc.ChunkSize * rdt.desc.ChunkSize
}

// CheckSeq applies the arrival of seq on flow key.  It returns what the receiver
// should emit and the sequence number the emitted ACK or NACK carries.
func (rdt *ReliableDeliveryTracker) CheckSeq(key FlowKey, seq uint32) (ReceiverAction, uint32) {
	rf := rdt.flowState(key)
	exp := rf.expected

	switch {
	case seq == exp:
		rf.expected = exp + 1
		if rdt.desc.AckInterval > 0 && rf.expected > rf.milestone {
			rf.milestone += rdt.desc.AckInterval
			return EmitAck, rf.expected
		}
		if rdt.desc.ChunkSize > 0 && rf.expected%rdt.desc.ChunkSize == 0 {
			return EmitAck, rf.expected
		}
		return InOrder, rf.expected

	case seq > exp:
		now := rdt.clock.Now()
		if now <= rf.nackExpires && rf.lastNack == int64(exp) {
			return NackSuppressed, exp
		}
		rf.nackExpires = now + rdt.desc.NackInterval
		rf.lastNack = int64(exp)
		if rdt.desc.GoBackToChunkStart && !rdt.desc.TestRead {
			return EmitNack, rdt.chunkStart(exp)
		}
		return EmitNack, exp
	}
	return Duplicate, exp
}

// Expected returns the next sequence number flow key is waiting for
func (rdt *ReliableDeliveryTracker) Expected(key FlowKey) uint32 {
	rf, present := rdt.flows[key]
	if !present {
		return 0
	}
	return rf.expected
}

// Known reports whether any packet of flow key has been seen
func (rdt *ReliableDeliveryTracker) Known(key FlowKey) bool {
	_, present := rdt.flows[key]
	return present
}

// senderKey matches an arriving ACK or NACK to the sending flow
type senderKey struct {
	class ClassID
	port  uint16
}

// SenderFlow is the sending side's retransmission state of one flow
type SenderFlow struct {
	Flow        FlowID
	Class       ClassID
	Port        uint16
	buffer      *SendBuffer
	milestoneTx uint32
	waitingAck  bool
}

// ReliableSender holds the retransmission state of every flow leaving one NIC.  The
// flow's queue in sched is rebuilt from its SendBuffer on replay.
type ReliableSender struct {
	name     string
	objID    int
	desc     ReliableDesc
	flows    map[FlowID]*SenderFlow
	byKey    map[senderKey]FlowID
	sched    *EgressScheduler
	timers   Timers
	onResume func(FlowID)
	trace    *TraceManager
}

// CreateReliableSender is a constructor.  onResume is called when a flow that was
// blocked waiting for an ACK, or that had packets replayed, may transmit again.
func CreateReliableSender(name string, objID int, desc ReliableDesc, sched *EgressScheduler,
	timers Timers, onResume func(FlowID), trace *TraceManager) *ReliableSender {
	rs := new(ReliableSender)
	rs.name = name
	rs.objID = objID
	rs.desc = desc
	rs.flows = make(map[FlowID]*SenderFlow)
	rs.byKey = make(map[senderKey]FlowID)
	rs.sched = sched
	rs.timers = timers
	rs.onResume = onResume
	rs.trace = trace
	return rs
}

// AddFlow registers flow, sending on class from port
func (rs *ReliableSender) AddFlow(flow FlowID, class ClassID, port uint16) *SenderFlow {
	sf := &SenderFlow{Flow: flow, Class: class, Port: port,
		buffer: CreateSendBuffer(rs.desc.SendBufferCap), milestoneTx: rs.desc.ChunkSize}
	rs.flows[flow] = sf
	rs.byKey[senderKey{class: class, port: port}] = flow
	return sf
}

// Flow returns the state of flow
func (rs *ReliableSender) Flow(flow FlowID) (*SenderFlow, bool) {
	sf, present := rs.flows[flow]
	return sf, present
}

func (rs *ReliableSender) lookup(class ClassID, port uint16) (*SenderFlow, bool) {
	flow, present := rs.byKey[senderKey{class: class, port: port}]
	if !present {
		return nil, false
	}
	return rs.flows[flow], true
}

func (rs *ReliableSender) retransmitKey(flow FlowID) TimerKey {
	return TimerKey{Kind: retransmitTimer, A: int(flow)}
}

// Retain keeps a copy of p for replay, as it enters flow's queue
func (rs *ReliableSender) Retain(flow FlowID, p *Packet) {
	sf, present := rs.flows[flow]
	if !present {
		return
	}
	if evicted := sf.buffer.Push(p); evicted != nil {
		log.WithFields(logrus.Fields{"nic": rs.name, "flow": flow, "seq": evicted.Seq()}).Debug("send buffer full, oldest entry evicted")
	}
}

// OnTransmit notes that packet seq of flow has started transmission.  In wait-for-ack
// mode a flow reaching its milestone stops until the milestone is acknowledged or the
// retransmission timer fires.
func (rs *ReliableSender) OnTransmit(flow FlowID, seq uint32) {
	if !rs.desc.WaitForAck {
		return
	}
	sf, present := rs.flows[flow]
	if !present || sf.milestoneTx == 0 || seq < sf.milestoneTx-1 {
		return
	}
	if sf.waitingAck {
		return
	}
	sf.waitingAck = true
	rs.timers.Arm(rs.retransmitKey(flow), rs.desc.WaitForAckTimer, func() { rs.OnRetransmitTimeout(flow) })
}

// Blocked reports whether flow is waiting for an ACK before it may send more
func (rs *ReliableSender) Blocked(flow FlowID) bool {
	sf, present := rs.flows[flow]
	return present && sf.waitingAck
}

// goBack returns the sequence replay starts from for an ACK or NACK carrying seq
func (rs *ReliableSender) goBack(seq uint32) uint32 {
	if rs.desc.GoBackToChunkStart && rs.desc.ChunkSize > 0 {
		return seq / rs.desc.ChunkSize * rs.desc.ChunkSize
	}
	return seq
}

func (rs *ReliableSender) diagnostic(class ClassID, port uint16, flow FlowID, detail string) {
	log.WithFields(logrus.Fields{"nic": rs.name, "class": class, "port": port}).Warn(detail)
	rs.trace.traceEvent(rs.timers.Now(), rs.objID, TraceDiagnostic,
		ControlTrace{Class: int(class), Port: int(port), Flow: int(flow), Detail: detail})
}

// OnNack handles a NACK for (class, port) carrying seq: every retained packet before
// the replay point is discarded and the rest are put back into the flow's queue.
// A NACK for an unknown flow, or one asking for packets the buffer no longer holds,
// is reported and otherwise ignored.
func (rs *ReliableSender) OnNack(class ClassID, port uint16, seq uint32) bool {
	sf, present := rs.lookup(class, port)
	if !present {
		rs.diagnostic(class, port, -1, "nack for unknown flow")
		return false
	}
	from := rs.goBack(seq)
	front, held := sf.buffer.FrontSeq()
	if !held || front > from {
		rs.diagnostic(class, port, sf.Flow, "send buffer no longer holds nacked sequence "+formatSeq(from))
		return false
	}
	sf.buffer.DropBefore(from)
	rs.sched.RecoverQueue(sf.buffer, int(sf.Flow))
	rs.trace.traceEvent(rs.timers.Now(), rs.objID, TraceRetransmit,
		ControlTrace{Class: int(class), Port: int(port), Flow: int(sf.Flow), Detail: "nack " + formatSeq(from)})

	if rs.desc.WaitForAck && sf.waitingAck {
		sf.waitingAck = false
		rs.timers.Cancel(rs.retransmitKey(sf.Flow))
	}
	if rs.onResume != nil {
		rs.onResume(sf.Flow)
	}
	return true
}

// OnAck handles an ACK for (class, port) carrying seq: retained packets before seq
// are discarded, and a flow waiting on the acknowledged milestone is released
func (rs *ReliableSender) OnAck(class ClassID, port uint16, seq uint32) bool {
	sf, present := rs.lookup(class, port)
	if !present {
		rs.diagnostic(class, port, -1, "ack for unknown flow")
		return false
	}
	sf.buffer.DropBefore(rs.goBack(seq))

	if rs.desc.WaitForAck && seq >= sf.milestoneTx {
		sf.waitingAck = false
		rs.timers.Cancel(rs.retransmitKey(sf.Flow))
		sf.milestoneTx += rs.desc.ChunkSize
		if rs.onResume != nil {
			rs.onResume(sf.Flow)
		}
	}
	return true
}

// OnRetransmitTimeout replays every retained packet of a flow whose milestone ACK did not arrive
func (rs *ReliableSender) OnRetransmitTimeout(flow FlowID) {
	sf, present := rs.flows[flow]
	if !present {
		return
	}
	rs.sched.RecoverQueue(sf.buffer, int(flow))
	sf.waitingAck = false
	rs.trace.traceEvent(rs.timers.Now(), rs.objID, TraceRetransmit,
		ControlTrace{Class: int(sf.Class), Port: int(sf.Port), Flow: int(flow), Detail: "ack timeout"})
	if rs.onResume != nil {
		rs.onResume(flow)
	}
}

// Buffered returns the number of packets retained for flow
func (rs *ReliableSender) Buffered(flow FlowID) int {
	sf, present := rs.flows[flow]
	if !present {
		return 0
	}
	return sf.buffer.Len()
}

// Milestone returns the sequence number whose ACK flow waits for
func (rs *ReliableSender) Milestone(flow FlowID) uint32 {
	sf, present := rs.flows[flow]
	if !present {
		return 0
	}
	return sf.milestoneTx
}

// RemoveFlow discards flow's retained packets and cancels its retransmission timer
func (rs *ReliableSender) RemoveFlow(flow FlowID) {
	sf, present := rs.flows[flow]
	if !present {
		return
	}
	rs.timers.Cancel(rs.retransmitKey(flow))
	delete(rs.byKey, senderKey{class: sf.Class, port: sf.Port})
	delete(rs.flows, flow)
}
