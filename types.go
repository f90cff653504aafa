package lossless

// types.go holds the strongly typed indices, protocol numbers and small
// enumerations shared by the buffer, scheduling, flow-control and rate-control code

import (
	"math/bits"
	"strings"
)

// PortID indexes a device (port) within the node that owns it
type PortID int

// ClassID indexes a priority class.  The highest index of a node's classes
// is reserved for control traffic, which is never paused nor ECN marked.
type ClassID int

// FlowID indexes a flow queue on a NIC
type FlowID int

// HopIndex indexes a hop on the path of a flow, for per-hop QCN state
type HopIndex int

// Protocol numbers carried in the packet's protocol field.  The control
// values are reserved above the normal transport range.
const (
	ProtoCN    uint8 = 0xFF
	ProtoPause uint8 = 0xFE
	ProtoNack  uint8 = 0xFD
	ProtoAck   uint8 = 0xFC
	ProtoUDP   uint8 = 17
)

// ECN code points used in the packet's ECN field
const (
	ecnNotECT uint8 = 0x00
	ecnCE     uint8 = 0x03
)

// DCTCPClass is the class whose pause participation is configurable and whose
// ECN thresholds are drawn from the DCTCP pair
const DCTCPClass ClassID = 1

// MaxClasses bounds the number of priority classes a ClassSet can describe
const MaxClasses = 64

// controlClass returns the reserved top class for a node with classCount classes
func controlClass(classCount int) ClassID {
	return ClassID(classCount - 1)
}

// isControlProto reports whether the protocol number identifies control traffic
func isControlProto(proto uint8) bool {
	return proto == ProtoCN || proto == ProtoPause || proto == ProtoNack || proto == ProtoAck
}

// ClassSet is a bit set of priority classes
type ClassSet uint64

// Has reports whether class c is in the set
func (cs ClassSet) Has(c ClassID) bool {
	if c < 0 || c >= MaxClasses {
		return false
	}
	return cs&(1<<uint(c)) != 0
}

// With returns the set with class c added
func (cs ClassSet) With(c ClassID) ClassSet {
	if c < 0 || c >= MaxClasses {
		return cs
	}
	return cs | 1<<uint(c)
}

// Without returns the set with class c removed
func (cs ClassSet) Without(c ClassID) ClassSet {
	if c < 0 || c >= MaxClasses {
		return cs
	}
	return cs &^ (1 << uint(c))
}

// Empty reports whether no class is in the set
func (cs ClassSet) Empty() bool {
	return cs == 0
}

// Len returns the number of classes in the set
func (cs ClassSet) Len() int {
	return bits.OnesCount64(uint64(cs))
}

// Classes lists the members in increasing order
func (cs ClassSet) Classes() []ClassID {
	rtn := make([]ClassID, 0, cs.Len())
	for c := ClassID(0); c < MaxClasses; c++ {
		if cs.Has(c) {
			rtn = append(rtn, c)
		}
	}
	return rtn
}

// DropCause says why an admission check failed
type DropCause int

const (
	NoDrop DropCause = iota
	DropIngressTotal
	DropIngressHeadroom
	DropEgressPool
	DropEgressPort
	DropEgressQueue
	DropQueueFull
	DropBadIndex
	DropNoRoute
)

var dropCauseToStr map[DropCause]string = map[DropCause]string{
	NoDrop:              "none",
	DropIngressTotal:    "ingress-total",
	DropIngressHeadroom: "ingress-headroom",
	DropEgressPool:      "egress-sp",
	DropEgressPort:      "egress-port",
	DropEgressQueue:     "egress-queue",
	DropQueueFull:       "queue-full",
	DropBadIndex:        "bad-index",
	DropNoRoute:         "no-route",
}

func (dc DropCause) String() string {
	str, present := dropCauseToStr[dc]
	if !present {
		return "unknown"
	}
	return str
}

// Discipline selects how an EgressScheduler picks the next queue to serve
type Discipline int

const (
	StrictPriority Discipline = iota
	RoundRobin
	WeightedRoundRobin
	FlowAwareQCN
	unknownDiscipline
)

// DisciplineFromStr returns the Discipline named by the input string
func DisciplineFromStr(name string) Discipline {
	switch strings.ToLower(name) {
	case "strict", "strictpriority", "sp":
		return StrictPriority
	case "rr", "roundrobin":
		return RoundRobin
	case "wrr", "weightedroundrobin":
		return WeightedRoundRobin
	case "qcn", "flowawareqcn":
		return FlowAwareQCN
	default:
		return unknownDiscipline
	}
}

// DisciplineToStr returns the canonical name of a Discipline
func DisciplineToStr(d Discipline) string {
	switch d {
	case StrictPriority:
		return "strict"
	case RoundRobin:
		return "rr"
	case WeightedRoundRobin:
		return "wrr"
	case FlowAwareQCN:
		return "qcn"
	}
	return "unknown"
}

func (d Discipline) String() string {
	return DisciplineToStr(d)
}
