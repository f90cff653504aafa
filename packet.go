package lossless

// packet.go holds the packet abstraction moved between nodes.  Headers are
// held decoded; header.go gives their wire layouts.

// Packet is a frame in flight.  Exactly one of the header pointers is
// expected to be set, matching Protocol.
type Packet struct {
	ID       int
	Protocol uint8
	Src      int // node id of the originating NIC
	Dst      int // node id of the destination NIC
	SrcPort  uint16
	DstPort  uint16
	Size     int // bytes on the wire
	ECN      uint8

	Data  *DataHeader
	Ctrl  *ControlHeader
	Pause *PauseHeader
	CN    *CNHeader

	// ingress tag, written by a switch when the packet is admitted
	inPort   PortID
	inTagged bool
}

var nxtPacketID int = 0

func nxtPcktID() int {
	nxtPacketID += 1
	return nxtPacketID
}

// Copy returns a packet equal to this one with its own headers
func (p *Packet) Copy() *Packet {
	np := new(Packet)
	*np = *p
	if p.Data != nil {
		dh := *p.Data
		np.Data = &dh
	}
	if p.Ctrl != nil {
		ch := *p.Ctrl
		np.Ctrl = &ch
	}
	if p.Pause != nil {
		ph := *p.Pause
		np.Pause = &ph
	}
	if p.CN != nil {
		cn := *p.CN
		np.CN = &cn
	}
	return np
}

// Seq returns the data sequence number, or zero for packets without a data header
func (p *Packet) Seq() uint32 {
	if p.Data == nil {
		return 0
	}
	return p.Data.Seq
}

// IsControl reports whether the packet is fabric control traffic
func (p *Packet) IsControl() bool {
	return isControlProto(p.Protocol)
}

// DataClass returns the class carried in the data header, or -1 when there is none
func (p *Packet) DataClass() ClassID {
	if p.Data == nil {
		return -1
	}
	return ClassID(p.Data.Class)
}

// CreateDataPacket builds a UDP packet carrying a data header
func CreateDataPacket(src, dst int, srcPort, dstPort uint16, size int, hdr DataHeader) *Packet {
	p := &Packet{ID: nxtPcktID(), Protocol: ProtoUDP, Src: src, Dst: dst,
		SrcPort: srcPort, DstPort: dstPort, Size: size}
	p.Data = &hdr
	return p
}

// createPausePacket builds a PFC frame, which travels one hop only
func createPausePacket(src int, hdr PauseHeader, size int) *Packet {
	p := &Packet{ID: nxtPcktID(), Protocol: ProtoPause, Src: src, Dst: -1, Size: size}
	p.Pause = &hdr
	return p
}

// createControlPacket builds an ACK or NACK sent back toward the data source
func createControlPacket(proto uint8, src, dst int, hdr ControlHeader, size int) *Packet {
	p := &Packet{ID: nxtPcktID(), Protocol: proto, Src: src, Dst: dst, Size: size}
	p.Ctrl = &hdr
	return p
}

// createCNPacket builds a congestion notification sent back toward the data source
func createCNPacket(src, dst int, hdr CNHeader, size int) *Packet {
	p := &Packet{ID: nxtPcktID(), Protocol: ProtoCN, Src: src, Dst: dst, Size: size}
	p.CN = &hdr
	return p
}
