package lossless

import (
	"github.com/emirpasic/gods/trees/btree"
	"github.com/emirpasic/gods/utils"
)

const sendBufferTreeOrder = 16

// PacketSource is anything holding an ordered run of packets that a queue can be rebuilt from
type PacketSource interface {
	Packets() []*Packet
}

// SendBuffer retains copies of a flow's unacknowledged packets, ordered by sequence
// number, for replay.  When full, the oldest entry is evicted.
type SendBuffer struct {
	tree     *btree.Tree
	capacity int
	bytes    int64
}

// CreateSendBuffer is a constructor
func CreateSendBuffer(capacity int) *SendBuffer {
	sb := new(SendBuffer)
	sb.tree = btree.NewWith(sendBufferTreeOrder, utils.Int64Comparator)
	sb.capacity = capacity
	return sb
}

// Push retains a copy of p, returning the packet evicted to make room, if any
func (sb *SendBuffer) Push(p *Packet) *Packet {
	key := int64(p.Seq())
	if old, found := sb.tree.Get(key); found {
		sb.bytes -= int64(old.(*Packet).Size)
	}
	cp := p.Copy()
	sb.tree.Put(key, cp)
	sb.bytes += int64(cp.Size)

	if sb.tree.Size() <= sb.capacity {
		return nil
	}
	return sb.popFront()
}

func (sb *SendBuffer) popFront() *Packet {
	if sb.tree.Empty() {
		return nil
	}
	key := sb.tree.LeftKey()
	p := sb.tree.LeftValue().(*Packet)
	sb.tree.Remove(key)
	sb.bytes -= int64(p.Size)
	return p
}

// Front returns the oldest retained packet
func (sb *SendBuffer) Front() *Packet {
	if sb.tree.Empty() {
		return nil
	}
	return sb.tree.LeftValue().(*Packet)
}

// FrontSeq returns the sequence number of the oldest retained packet
func (sb *SendBuffer) FrontSeq() (uint32, bool) {
	if sb.tree.Empty() {
		return 0, false
	}
	return uint32(sb.tree.LeftKey().(int64)), true
}

// DropBefore discards every retained packet with sequence below seq, returning how many
func (sb *SendBuffer) DropBefore(seq uint32) int {
	dropped := 0
	for !sb.tree.Empty() && sb.tree.LeftKey().(int64) < int64(seq) {
		sb.popFront()
		dropped += 1
	}
	return dropped
}

// Packets returns the retained packets in sequence order
func (sb *SendBuffer) Packets() []*Packet {
	vals := sb.tree.Values()
	rtn := make([]*Packet, len(vals))
	for idx, v := range vals {
		rtn[idx] = v.(*Packet)
	}
	return rtn
}

// Len returns the number of retained packets
func (sb *SendBuffer) Len() int {
	return sb.tree.Size()
}

// Bytes returns the sum of retained packet sizes
func (sb *SendBuffer) Bytes() int64 {
	return sb.bytes
}

// Clear discards everything
func (sb *SendBuffer) Clear() {
	sb.tree.Clear()
	sb.bytes = 0
}
