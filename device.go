package lossless

// device.go holds NetDevice, one port of a switch or NIC: the egress queues, the
// pause state imposed by the peer, and the link toward the peer

import (
	"math"

	"golang.org/x/exp/slices"
)

// NetDevice is a port.  It refers to its node and to its peer by index only.
type NetDevice struct {
	name   string
	id     int
	node   int
	port   PortID
	groups []string

	// link parameters: bits/sec and seconds
	rate  float64
	delay float64
	ifg   float64

	// the device at the other end of the link
	peerNode int
	peerPort PortID

	sched      *EgressScheduler
	pauseState *LinkPauseState

	// rate controller pacing onto this link, NICs running QCN only
	qcn *QcnController

	busy      bool
	trace     bool
	txPackets int64
	txBytes   int64
}

// Name returns the device's name
func (dev *NetDevice) Name() string {
	return dev.name
}

// Port returns the device's index within its node
func (dev *NetDevice) Port() PortID {
	return dev.port
}

// Peer returns the node id and port of the device at the other end of the link
func (dev *NetDevice) Peer() (int, PortID) {
	return dev.peerNode, dev.peerPort
}

// Rate returns the link rate, bits/sec
func (dev *NetDevice) Rate() float64 {
	return dev.rate
}

// Scheduler returns the device's egress queues
func (dev *NetDevice) Scheduler() *EgressScheduler {
	return dev.sched
}

// PauseState returns the pause state the peer has imposed on the device
func (dev *NetDevice) PauseState() *LinkPauseState {
	return dev.pauseState
}

// Transmitted returns the number of packets and bytes the device has sent
func (dev *NetDevice) Transmitted() (int64, int64) {
	return dev.txPackets, dev.txBytes
}

// txTime is the time the device needs to put size bytes on the wire, gap included
func (dev *NetDevice) txTime(size int) float64 {
	return float64(size)*8.0/dev.rate + dev.ifg
}

// matchParam is used to determine whether a run-time parameter description
// should be applied to the device.  A device may be selected by its name, a group
// it belongs to, or the name of its node.
func (dev *NetDevice) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return dev.name == attrbValue
	case "group":
		return slices.Contains(dev.groups, attrbValue)
	case "node":
		return nodeNameOf(dev.name) == attrbValue
	}
	return false
}

// setParam assigns the parameter named in input with the value given in the input
func (dev *NetDevice) setParam(param string, value valueStruct) {
	switch param {
	case "rate":
		// bits/sec
		if value.floatValue > 0.0 {
			dev.rate = value.floatValue
			if dev.qcn != nil {
				dev.qcn.SetLinkRate(dev.rate)
			}
		}
	case "delay":
		// seconds
		if value.floatValue >= 0.0 {
			dev.delay = value.floatValue
		}
	case "maxbytes":
		if value.intValue > 0 {
			dev.sched.maxBytes = int64(value.intValue)
		}
	case "minbandwidth":
		for q := 0; q < dev.sched.Queues(); q++ {
			dev.sched.SetMinBandwidth(q, value.floatValue)
		}
	case "trace":
		dev.trace = value.boolValue
	}
}

// paramObjName returns the device name, to help satisfy the paramObj interface
func (dev *NetDevice) paramObjName() string {
	return dev.name
}

// deviceName builds the name of port on node, e.g. "sw1-eth2"
func deviceName(node string, port PortID) string {
	return node + "-eth" + formatSeq(uint32(port))
}

// nodeNameOf recovers the node part of a device name
func nodeNameOf(devName string) string {
	idx := len(devName)
	for i := len(devName) - 1; i >= 0; i-- {
		if devName[i] == '-' {
			idx = i
			break
		}
	}
	return devName[:idx]
}

// nicGate answers the flow-aware discipline's questions on behalf of a NIC: which
// class a flow queue carries, and when pacing or an outstanding ACK lets it send
type nicGate struct {
	nic *Node
}

func (ng nicGate) FlowClass(q int) ClassID {
	if q < len(ng.nic.flowClass) {
		return ng.nic.flowClass[q]
	}
	return 0
}

func (ng nicGate) NextAvailable(q int) float64 {
	flow := FlowID(q)
	if ng.nic.sender != nil && ng.nic.sender.Blocked(flow) {
		return math.Inf(1)
	}
	if ng.nic.qcn != nil {
		return ng.nic.qcn.NextSendTime(flow)
	}
	return 0.0
}
