package lossless

// node.go holds Node, a switch or a NIC.  A node exclusively owns its devices,
// its BufferManager and PauseController (switch), or its rate controller, notifier
// and reliable-delivery state (NIC).  The receive paths live here; moving packets
// between nodes is the Fabric's job.

import (
	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// nodeKind tells a switch from a NIC
type nodeKind int

const (
	SwitchNode nodeKind = iota
	NICNode
	unknownNode
)

func nodeKindToStr(kind nodeKind) string {
	switch kind {
	case SwitchNode:
		return "Switch"
	case NICNode:
		return "NIC"
	}
	return "unknown"
}

// PacketSink receives the data packets a NIC delivers to the port it is bound to
type PacketSink interface {
	Receive(fab *Fabric, p *Packet)
}

// nicFlowKey names a sending flow on a NIC
type nicFlowKey struct {
	dst   int
	port  uint16
	class ClassID
}

// Node is a switch or a NIC
type Node struct {
	name    string
	id      int
	kind    nodeKind
	groups  []string
	classes int
	devices []*NetDevice
	timers  *EventTimers
	rng     *rngstream.RngStream
	trace   bool
	drops   map[DropCause]int

	// switch
	bm  *BufferManager
	pfc *PauseController
	fwd map[int]PortID

	// NIC
	discipline Discipline
	qcn        *QcnController
	notifier   *CongestionNotifier
	tracker    *ReliableDeliveryTracker
	sender     *ReliableSender
	flows      map[nicFlowKey]FlowID
	flowClass  []ClassID
	sinks      map[uint16]PacketSink
}

// Name returns the node's name
func (n *Node) Name() string {
	return n.name
}

// ID returns the node's identity
func (n *Node) ID() int {
	return n.id
}

// IsSwitch reports whether the node is a switch
func (n *Node) IsSwitch() bool {
	return n.kind == SwitchNode
}

// Device returns the node's device at port
func (n *Node) Device(port PortID) (*NetDevice, bool) {
	if port < 0 || int(port) >= len(n.devices) {
		return nil, false
	}
	return n.devices[port], true
}

// NumPorts returns the number of devices
func (n *Node) NumPorts() int {
	return len(n.devices)
}

// BufferManager returns a switch's admission controller
func (n *Node) BufferManager() *BufferManager {
	return n.bm
}

// PauseController returns a switch's pause frame generator
func (n *Node) PauseController() *PauseController {
	return n.pfc
}

// Qcn returns a NIC's QCN reaction point, nil when QCN is off
func (n *Node) Qcn() *QcnController {
	return n.qcn
}

// Tracker returns a NIC's receive-side sequence tracker
func (n *Node) Tracker() *ReliableDeliveryTracker {
	return n.tracker
}

// Sender returns a NIC's retransmission state, nil unless the NIC keeps per-flow queues
func (n *Node) Sender() *ReliableSender {
	return n.sender
}

// Timers returns the node's timer service
func (n *Node) Timers() Timers {
	return n.timers
}

// Drops returns the number of packets the node dropped for cause
func (n *Node) Drops(cause DropCause) int {
	return n.drops[cause]
}

// Bind directs data packets arriving for port to sink
func (n *Node) Bind(port uint16, sink PacketSink) {
	n.sinks[port] = sink
}

// Route returns the port a switch forwards packets for node dst through
func (n *Node) Route(dst int) (PortID, bool) {
	port, present := n.fwd[dst]
	return port, present
}

func (n *Node) logger() *logrus.Entry {
	return log.WithFields(logrus.Fields{"node": n.name})
}

func (n *Node) drop(fab *Fabric, p *Packet, port PortID, cause DropCause) {
	n.drops[cause] += 1
	n.logger().WithFields(logrus.Fields{"port": port, "packet": p.ID, "cause": cause.String()}).Debug("packet dropped")
	if n.trace {
		fab.trace.traceEvent(n.timers.Now(), n.id, TraceDrop,
			ControlTrace{Port: int(port), Class: int(p.DataClass()), Detail: cause.String()})
	}
}

// matchParam is used to determine whether a run-time parameter description
// should be applied to the node
func (n *Node) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return n.name == attrbValue
	case "group":
		return slices.Contains(n.groups, attrbValue)
	}
	return false
}

// setParam gives a value to a node parameter, to help satisfy the paramObj interface
func (n *Node) setParam(param string, value valueStruct) {
	switch param {
	case "trace":
		n.trace = value.boolValue
	case "dynamicthreshold":
		if n.bm != nil && value.boolValue {
			n.bm.EnableDynamicThreshold()
		}
	case "pgsharedalpha":
		if n.bm != nil && value.floatValue > 0.0 {
			n.bm.desc.PgSharedAlpha = value.floatValue
		}
	case "enablepfcondctcp":
		if n.bm != nil {
			n.bm.desc.EnablePfcOnDctcp = value.boolValue
		}
	}
}

// paramObjName returns the node name, to help satisfy the paramObj interface
func (n *Node) paramObjName() string {
	return n.name
}

// egressQueue picks the queue of a NIC's scheduler a packet it originates goes to
func (n *Node) egressQueue(p *Packet) (int, bool) {
	if n.discipline == FlowAwareQCN {
		if p.IsControl() {
			return 0, true
		}
		key := nicFlowKey{dst: p.Dst, port: p.SrcPort, class: p.DataClass()}
		flow, present := n.flows[key]
		if !present {
			var ok bool
			flow, ok = n.allocFlow(key)
			if !ok {
				return 0, false
			}
		}
		return int(flow), true
	}
	if p.IsControl() {
		return int(controlClass(n.classes)), true
	}
	class := p.DataClass()
	if class < 0 || class >= controlClass(n.classes) {
		return 0, false
	}
	return int(class), true
}

// allocFlow gives a new sending flow the next free flow queue; queue 0 carries control
func (n *Node) allocFlow(key nicFlowKey) (FlowID, bool) {
	dev := n.devices[0]
	flow := FlowID(len(n.flowClass))
	if int(flow) >= dev.sched.Queues() {
		n.logger().WithFields(logrus.Fields{"dst": key.dst, "port": key.port}).Warn("no free flow queue")
		return 0, false
	}
	n.flows[key] = flow
	n.flowClass = append(n.flowClass, key.class)
	if n.sender != nil {
		n.sender.AddFlow(flow, key.class, key.port)
	}
	return flow, true
}

// RemoveFlow discards the rate and retransmission state of a sending flow.  The flow's
// queue is not handed out again.
func (n *Node) RemoveFlow(flow FlowID) {
	for key, f := range n.flows {
		if f == flow {
			delete(n.flows, key)
		}
	}
	if n.qcn != nil {
		n.qcn.RemoveFlow(flow)
	}
	if n.sender != nil {
		n.sender.RemoveFlow(flow)
	}
}

// flowOf finds the sending flow an arriving CN, ACK or NACK refers to
func (n *Node) flowOf(class ClassID, port uint16) (FlowID, bool) {
	for key, flow := range n.flows {
		if key.class == class && key.port == port {
			return flow, true
		}
	}
	return 0, false
}

// receive handles packet p arriving on port
func (n *Node) receive(fab *Fabric, port PortID, p *Packet) {
	dev, ok := n.Device(port)
	if !ok {
		n.drop(fab, p, port, DropBadIndex)
		return
	}

	if p.Protocol == ProtoPause {
		if p.Pause != nil {
			dev.pauseState.OnPauseFrame(*p.Pause)
		}
		return
	}

	if n.kind == SwitchNode {
		n.switchReceive(fab, port, p)
		return
	}
	n.nicReceive(fab, p)
}

// switchReceive forwards p: admission at ingress and egress, enqueue, then the pause check
func (n *Node) switchReceive(fab *Fabric, inPort PortID, p *Packet) {
	outPort, present := n.fwd[p.Dst]
	if !present {
		n.drop(fab, p, inPort, DropNoRoute)
		return
	}
	out := n.devices[outPort]

	if p.IsControl() {
		if !out.sched.Enqueue(p, int(controlClass(n.classes))) {
			n.drop(fab, p, outPort, DropQueueFull)
			return
		}
		fab.transmit(n, outPort)
		return
	}

	class := p.DataClass()
	if class < 0 || class >= controlClass(n.classes) {
		n.drop(fab, p, inPort, DropBadIndex)
		return
	}
	if admit, cause := n.bm.CheckIngressAdmission(inPort, class, p.Size); !admit {
		n.drop(fab, p, inPort, cause)
		return
	}
	if admit, cause := n.bm.CheckEgressAdmission(outPort, class, p.Size); !admit {
		n.drop(fab, p, outPort, cause)
		return
	}
	n.bm.UpdateIngressAdmission(inPort, class, p.Size)
	n.bm.UpdateEgressAdmission(outPort, class, p.Size)

	p.inPort = inPort
	p.inTagged = true
	if !out.sched.Enqueue(p, int(class)) {
		n.bm.RemoveFromIngressAdmission(inPort, class, p.Size)
		n.bm.RemoveFromEgressAdmission(outPort, class, p.Size)
		n.drop(fab, p, outPort, DropQueueFull)
		return
	}
	n.pfc.CheckQueueFull(inPort, class)
	fab.transmit(n, outPort)
}

// switchDequeued releases the buffer charged to a data packet leaving through outPort
// and decides whether to mark it
func (n *Node) switchDequeued(outPort PortID, p *Packet) {
	if !p.inTagged {
		return
	}
	class := p.DataClass()
	n.bm.RemoveFromIngressAdmission(p.inPort, class, p.Size)
	n.bm.RemoveFromEgressAdmission(outPort, class, p.Size)
	if n.bm.ShouldMarkECN(p.inPort, outPort, class) {
		p.ECN = ecnCE
	}
	inPort := p.inPort
	p.inTagged = false
	n.pfc.CheckQueueFull(inPort, class)
}

// nicReceive consumes a packet addressed to the NIC
func (n *Node) nicReceive(fab *Fabric, p *Packet) {
	switch p.Protocol {
	case ProtoCN:
		n.onCN(p)
	case ProtoNack, ProtoAck:
		n.onAckNack(fab, p)
	default:
		n.onData(fab, p)
	}
}

func (n *Node) onCN(p *Packet) {
	if n.qcn == nil || p.CN == nil {
		return
	}
	class := ClassID(p.CN.Class)
	if class == DCTCPClass {
		return
	}
	flow, present := n.flowOf(class, p.CN.Port)
	if !present {
		n.logger().WithFields(logrus.Fields{"class": class, "port": p.CN.Port}).Warn("congestion notification for unknown flow")
		return
	}
	if p.CN.Qfb == 0 || p.CN.ECNBits != ecnCE {
		return
	}
	n.qcn.OnCongestionNotification(flow, 0, p.CN.Fraction())
}

func (n *Node) onAckNack(fab *Fabric, p *Packet) {
	if n.sender == nil || p.Ctrl == nil {
		n.logger().WithField("proto", p.Protocol).Debug("acknowledgement ignored, no per-flow send state")
		return
	}
	class := ClassID(p.Ctrl.Class)
	if p.Protocol == ProtoNack {
		n.sender.OnNack(class, p.Ctrl.Port, p.Ctrl.Seq)
	} else {
		n.sender.OnAck(class, p.Ctrl.Port, p.Ctrl.Seq)
	}
	fab.transmit(n, 0)
}

func (n *Node) onData(fab *Fabric, p *Packet) {
	if p.Data == nil {
		return
	}
	class := p.DataClass()
	key := FlowKey{Source: p.Src, Class: class, Port: p.SrcPort}
	if n.notifier != nil {
		n.notifier.OnDataArrival(key, p.ECN)
	}

	action, seq := n.tracker.CheckSeq(key, p.Data.Seq)
	switch action {
	case EmitAck:
		n.sendControl(fab, ProtoAck, p.Src, ControlHeader{Class: uint16(class), Seq: seq, Port: p.SrcPort})
		if n.trace {
			fab.trace.traceEvent(n.timers.Now(), n.id, TraceAckSent,
				ControlTrace{Class: int(class), Flow: p.Src, Detail: "seq " + formatSeq(seq)})
		}
	case EmitNack:
		n.sendControl(fab, ProtoNack, p.Src, ControlHeader{Class: uint16(class), Seq: seq, Port: p.SrcPort})
		if n.trace {
			fab.trace.traceEvent(n.timers.Now(), n.id, TraceNackSent,
				ControlTrace{Class: int(class), Flow: p.Src, Detail: "seq " + formatSeq(seq)})
		}
	}

	if sink, present := n.sinks[p.DstPort]; present {
		sink.Receive(fab, p)
	}
}

// sendControl queues an ACK or NACK toward dst
func (n *Node) sendControl(fab *Fabric, proto uint8, dst int, hdr ControlHeader) {
	fab.Send(n, createControlPacket(proto, n.id, dst, hdr, fab.cfg.Reliable.ControlSize))
}
