package lossless

import (
	sll "github.com/emirpasic/gods/lists/singlylinkedlist"
)

// PacketQueue is a FIFO of packets with a byte count
type PacketQueue struct {
	list  *sll.List
	bytes int64
}

// CreatePacketQueue is a constructor
func CreatePacketQueue() *PacketQueue {
	return &PacketQueue{list: sll.New()}
}

// Push appends p
func (pq *PacketQueue) Push(p *Packet) {
	pq.list.Add(p)
	pq.bytes += int64(p.Size)
}

// Peek returns the head without removing it
func (pq *PacketQueue) Peek() *Packet {
	head, ok := pq.list.Get(0)
	if !ok {
		return nil
	}
	return head.(*Packet)
}

// Pop removes and returns the head, nil when empty
func (pq *PacketQueue) Pop() *Packet {
	p := pq.Peek()
	if p == nil {
		return nil
	}
	pq.list.Remove(0)
	pq.bytes -= int64(p.Size)
	return p
}

// Len returns the number of packets held
func (pq *PacketQueue) Len() int {
	return pq.list.Size()
}

// Empty reports whether no packet is held
func (pq *PacketQueue) Empty() bool {
	return pq.list.Empty()
}

// Bytes returns the sum of held packet sizes
func (pq *PacketQueue) Bytes() int64 {
	return pq.bytes
}

// Packets returns the held packets, head first
func (pq *PacketQueue) Packets() []*Packet {
	vals := pq.list.Values()
	rtn := make([]*Packet, len(vals))
	for idx, v := range vals {
		rtn[idx] = v.(*Packet)
	}
	return rtn
}

// Clear drops every packet
func (pq *PacketQueue) Clear() {
	pq.list.Clear()
	pq.bytes = 0
}

// Copy returns a queue holding copies of the packets, in order
func (pq *PacketQueue) Copy() *PacketQueue {
	cp := CreatePacketQueue()
	for _, p := range pq.Packets() {
		cp.Push(p.Copy())
	}
	return cp
}
