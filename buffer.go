package lossless

// buffer.go holds the shared-buffer admission control of a switch: ingress and
// egress byte accounting at (port, class), port, service pool, headroom and global
// granularity, the pause/resume decision derived from it, and the ECN marking decision

import (
	"github.com/sirupsen/logrus"
)

// number of service pools; the DCTCP class draws from its own pool
const servicePools = 2

// RandomSource supplies the uniform draws of the ECN marking decision.
// *rngstream.RngStream satisfies it.
type RandomSource interface {
	RandU01() float64
}

// AdmissionControlled is satisfied by a buffer that admits, charges, and releases
// packets at ingress and egress
type AdmissionControlled interface {
	CheckIngressAdmission(port PortID, class ClassID, size int) (bool, DropCause)
	CheckEgressAdmission(port PortID, class ClassID, size int) (bool, DropCause)
	UpdateIngressAdmission(port PortID, class ClassID, size int)
	UpdateEgressAdmission(port PortID, class ClassID, size int)
	RemoveFromIngressAdmission(port PortID, class ClassID, size int)
	RemoveFromEgressAdmission(port PortID, class ClassID, size int)
}

var _ AdmissionControlled = (*BufferManager)(nil)

// ingressState counts bytes held on behalf of ingress ports
type ingressState struct {
	pg    [][]int64 // per (port, class), headroom bytes included
	hdrm  [][]int64 // per (port, class), the part of pg charged to headroom
	port  []int64   // per port, headroom bytes included
	pool  []int64   // per service pool, headroom bytes excluded
	total int64
}

// egressState counts bytes held on behalf of egress queues
type egressState struct {
	qMin    [][]int64 // per (port, class), bytes within the queue guarantee
	qShared [][]int64 // per (port, class), bytes beyond it
	port    []int64   // per port, shared bytes
	pool    []int64   // per service pool, shared bytes
}

// BufferManager is the admission controller of one switch.  The switch node owns
// it exclusively; nothing else writes its counters.
type BufferManager struct {
	name    string
	ports   int
	classes int
	desc    BufferDesc
	dynamic bool
	rng     RandomSource
	ingress ingressState
	egress  egressState
}

// CreateBufferManager is a constructor.  Counters are sized for the given number
// of ports and classes; out-of-range indices are refused at every entry point.
func CreateBufferManager(name string, ports, classes int, desc BufferDesc, rng RandomSource) *BufferManager {
	bm := new(BufferManager)
	bm.name = name
	bm.ports = ports
	bm.classes = classes
	bm.desc = desc
	bm.rng = rng

	bm.ingress.pg = make2D(ports, classes)
	bm.ingress.hdrm = make2D(ports, classes)
	bm.ingress.port = make([]int64, ports)
	bm.ingress.pool = make([]int64, servicePools)

	bm.egress.qMin = make2D(ports, classes)
	bm.egress.qShared = make2D(ports, classes)
	bm.egress.port = make([]int64, ports)
	bm.egress.pool = make([]int64, servicePools)

	if desc.DynamicThreshold {
		bm.EnableDynamicThreshold()
	}
	return bm
}

func make2D(rows, cols int) [][]int64 {
	rtn := make([][]int64, rows)
	for idx := range rtn {
		rtn[idx] = make([]int64, cols)
	}
	return rtn
}

// AddPort extends the counters for one more port, returning its index
func (bm *BufferManager) AddPort() PortID {
	bm.ingress.pg = append(bm.ingress.pg, make([]int64, bm.classes))
	bm.ingress.hdrm = append(bm.ingress.hdrm, make([]int64, bm.classes))
	bm.ingress.port = append(bm.ingress.port, 0)
	bm.egress.qMin = append(bm.egress.qMin, make([]int64, bm.classes))
	bm.egress.qShared = append(bm.egress.qShared, make([]int64, bm.classes))
	bm.egress.port = append(bm.egress.port, 0)
	bm.ports += 1
	return PortID(bm.ports - 1)
}

// EnableDynamicThreshold switches pause decisions and shared-pool admission to the
// alpha-scaled dynamic thresholds.  There is no way back to static mode.
func (bm *BufferManager) EnableDynamicThreshold() {
	bm.dynamic = true
}

// DynamicThreshold reports whether the dynamic threshold mode is on
func (bm *BufferManager) DynamicThreshold() bool {
	return bm.dynamic
}

func (bm *BufferManager) valid(port PortID, class ClassID) bool {
	return port >= 0 && int(port) < bm.ports && class >= 0 && int(class) < bm.classes
}

func (bm *BufferManager) badIndex(op string, port PortID, class ClassID) {
	log.WithFields(logrus.Fields{"switch": bm.name, "port": port, "class": class}).
		Warnf("%s with index out of range", op)
}

// servicePool maps a class to the service pool it draws from
func servicePool(class ClassID) int {
	if class == DCTCPClass {
		return 1
	}
	return 0
}

// pausable reports whether a class may be paused under the configuration
func (bm *BufferManager) pausable(class ClassID) bool {
	if class == controlClass(bm.classes) {
		return false
	}
	if class == DCTCPClass && !bm.desc.EnablePfcOnDctcp {
		return false
	}
	return true
}

// sharedFree returns alpha × (pool limit − pool used), the dynamic shared-pool ceiling
func (bm *BufferManager) sharedFree(sp int, offset int64) float64 {
	return bm.desc.PgSharedAlpha * float64(bm.desc.BufferCellLimitSP-bm.ingress.pool[sp]-offset)
}

// pgShared returns the bytes of (port, class) beyond the per-class and per-port guarantees
func (bm *BufferManager) pgShared(port PortID, class ClassID, extra int64) int64 {
	return bm.ingress.pg[port][class] + extra - bm.desc.PgMinCell - bm.desc.PortMinCell
}

// drawsHeadroom decides whether size more bytes on (port, class) must be charged to
// headroom: they exceed both guarantees and the shared pool cannot take them
func (bm *BufferManager) drawsHeadroom(port PortID, class ClassID, size int64) bool {
	if bm.ingress.pg[port][class]+size <= bm.desc.PgMinCell || bm.ingress.port[port]+size <= bm.desc.PortMinCell {
		return false
	}
	sp := servicePool(class)
	if bm.ingress.pool[sp]+size > bm.desc.BufferCellLimitSP {
		return true
	}
	if bm.dynamic {
		return float64(bm.pgShared(port, class, size)) > bm.sharedFree(sp, 0)
	}
	return false
}

// CheckIngressAdmission decides whether size bytes arriving on port in class may be buffered
func (bm *BufferManager) CheckIngressAdmission(port PortID, class ClassID, size int) (bool, DropCause) {
	if !bm.valid(port, class) {
		bm.badIndex("CheckIngressAdmission", port, class)
		return false, DropBadIndex
	}
	sz := int64(size)
	if bm.ingress.total+sz > bm.desc.MaxBuffer {
		return false, DropIngressTotal
	}
	if bm.drawsHeadroom(port, class, sz) && bm.ingress.hdrm[port][class]+sz > bm.desc.PgHdrmLimit {
		return false, DropIngressHeadroom
	}
	return true, NoDrop
}

// UpdateIngressAdmission charges an admitted packet to the ingress counters
func (bm *BufferManager) UpdateIngressAdmission(port PortID, class ClassID, size int) {
	if !bm.valid(port, class) {
		bm.badIndex("UpdateIngressAdmission", port, class)
		return
	}
	sz := int64(size)
	toHdrm := bm.drawsHeadroom(port, class, sz)

	bm.ingress.total += sz
	bm.ingress.port[port] += sz
	bm.ingress.pg[port][class] += sz
	if toHdrm {
		bm.ingress.hdrm[port][class] += sz
	} else {
		bm.ingress.pool[servicePool(class)] += sz
	}
}

// RemoveFromIngressAdmission releases a departing packet from the ingress counters.
// Headroom is released first.
func (bm *BufferManager) RemoveFromIngressAdmission(port PortID, class ClassID, size int) {
	if !bm.valid(port, class) {
		bm.badIndex("RemoveFromIngressAdmission", port, class)
		return
	}
	sz := int64(size)
	if sz > bm.ingress.pg[port][class] {
		log.WithFields(logrus.Fields{"switch": bm.name, "port": port, "class": class}).
			Warnf("ingress release of %d bytes exceeds %d held", sz, bm.ingress.pg[port][class])
		sz = bm.ingress.pg[port][class]
	}
	fromHdrm := min(sz, bm.ingress.hdrm[port][class])

	bm.ingress.total -= sz
	bm.ingress.port[port] -= sz
	bm.ingress.pg[port][class] -= sz
	bm.ingress.hdrm[port][class] -= fromHdrm
	bm.ingress.pool[servicePool(class)] -= sz - fromHdrm
}

// CheckEgressAdmission decides whether size bytes may join the egress queue of (port, class)
func (bm *BufferManager) CheckEgressAdmission(port PortID, class ClassID, size int) (bool, DropCause) {
	if !bm.valid(port, class) {
		bm.badIndex("CheckEgressAdmission", port, class)
		return false, DropBadIndex
	}
	sz := int64(size)
	if bm.egress.pool[servicePool(class)]+sz > bm.desc.OpBufferSharedLimitCell {
		return false, DropEgressPool
	}
	if bm.egress.port[port]+sz > bm.desc.OpUcPortConfigCell {
		return false, DropEgressPort
	}
	if bm.egress.qShared[port][class]+sz > bm.desc.OpUcPortConfig1Cell {
		return false, DropEgressQueue
	}
	return true, NoDrop
}

// UpdateEgressAdmission charges an admitted packet to the egress counters, filling
// the queue guarantee before the shared counters
func (bm *BufferManager) UpdateEgressAdmission(port PortID, class ClassID, size int) {
	if !bm.valid(port, class) {
		bm.badIndex("UpdateEgressAdmission", port, class)
		return
	}
	sz := int64(size)
	if bm.egress.qMin[port][class]+sz <= bm.desc.QMinCell {
		bm.egress.qMin[port][class] += sz
		return
	}
	bm.egress.qShared[port][class] += sz
	bm.egress.port[port] += sz
	bm.egress.pool[servicePool(class)] += sz
}

// RemoveFromEgressAdmission releases a dequeued packet, shared bytes first
func (bm *BufferManager) RemoveFromEgressAdmission(port PortID, class ClassID, size int) {
	if !bm.valid(port, class) {
		bm.badIndex("RemoveFromEgressAdmission", port, class)
		return
	}
	sz := int64(size)
	held := bm.egress.qMin[port][class] + bm.egress.qShared[port][class]
	if sz > held {
		log.WithFields(logrus.Fields{"switch": bm.name, "port": port, "class": class}).
			Warnf("egress release of %d bytes exceeds %d held", sz, held)
		sz = held
	}
	fromShared := min(sz, bm.egress.qShared[port][class])
	bm.egress.qShared[port][class] -= fromShared
	bm.egress.port[port] -= fromShared
	bm.egress.pool[servicePool(class)] -= fromShared
	bm.egress.qMin[port][class] -= sz - fromShared
}

// GetPauseClasses returns the classes of ingress port that should be paused upstream
// after a packet of class arrived there
func (bm *BufferManager) GetPauseClasses(port PortID, class ClassID) ClassSet {
	var rtn ClassSet
	if !bm.valid(port, class) {
		bm.badIndex("GetPauseClasses", port, class)
		return rtn
	}

	if bm.dynamic {
		guarantee := bm.desc.PgMinCell + bm.desc.PortMinCell
		for c := ClassID(0); int(c) < bm.classes; c++ {
			if !bm.pausable(c) || bm.ingress.pg[port][c] <= guarantee {
				continue
			}
			if float64(bm.pgShared(port, c, 0)) > bm.sharedFree(servicePool(c), 0) {
				rtn = rtn.With(c)
			}
		}
		return rtn
	}

	// port-wide pause
	if bm.ingress.port[port] > bm.desc.PortMaxSharedCell {
		for c := ClassID(0); int(c) < bm.classes; c++ {
			if bm.pausable(c) {
				rtn = rtn.With(c)
			}
		}
		return rtn
	}

	if bm.pausable(class) && bm.ingress.pg[port][class] > bm.desc.PgSharedLimitCell {
		rtn = rtn.With(class)
	}
	return rtn
}

// GetResumeClasses reports whether (port, class) has drained below its resume threshold
func (bm *BufferManager) GetResumeClasses(port PortID, class ClassID) bool {
	if !bm.valid(port, class) {
		bm.badIndex("GetResumeClasses", port, class)
		return false
	}
	if bm.dynamic {
		return float64(bm.pgShared(port, class, 0)) <
			bm.sharedFree(servicePool(class), bm.desc.PgSharedAlphaOffDiff)
	}
	return bm.ingress.pg[port][class] < bm.desc.PgSharedLimitCellOff &&
		bm.ingress.port[port] < bm.desc.PortMinCellOff
}

// ShouldMarkECN decides whether a packet leaving outPort in class gets a congestion mark.
// inPort is accepted so that the decision may depend on the arrival port; the
// threshold comparison uses only the egress queue.
func (bm *BufferManager) ShouldMarkECN(inPort, outPort PortID, class ClassID) bool {
	if !bm.valid(outPort, class) {
		bm.badIndex("ShouldMarkECN", outPort, class)
		return false
	}
	if class == controlClass(bm.classes) {
		return false
	}

	lo, hi, maxP := bm.desc.QcnThreshold, bm.desc.QcnThresholdMax, bm.desc.QcnMaxP
	if class == DCTCPClass {
		lo, hi, maxP = bm.desc.DctcpThreshold, bm.desc.DctcpThresholdMax, 1.0
	}

	occupancy := bm.egress.qShared[outPort][class]
	if occupancy <= lo {
		return false
	}
	if occupancy > hi {
		return true
	}
	prob := maxP * float64(occupancy-lo) / float64(hi-lo)
	if bm.rng == nil {
		return false
	}
	return bm.rng.RandU01() < prob
}

// IngressPGBytes returns bytes held for (port, class) at ingress
func (bm *BufferManager) IngressPGBytes(port PortID, class ClassID) int64 {
	return bm.ingress.pg[port][class]
}

// IngressPortBytes returns bytes held for port at ingress
func (bm *BufferManager) IngressPortBytes(port PortID) int64 {
	return bm.ingress.port[port]
}

// HeadroomBytes returns the headroom bytes held for (port, class)
func (bm *BufferManager) HeadroomBytes(port PortID, class ClassID) int64 {
	return bm.ingress.hdrm[port][class]
}

// ServicePoolBytes returns the shared bytes of an ingress service pool
func (bm *BufferManager) ServicePoolBytes(sp int) int64 {
	return bm.ingress.pool[sp]
}

// TotalBytes returns all bytes held by the switch
func (bm *BufferManager) TotalBytes() int64 {
	return bm.ingress.total
}

// EgressQueueBytes returns the guaranteed and shared bytes of egress (port, class)
func (bm *BufferManager) EgressQueueBytes(port PortID, class ClassID) (int64, int64) {
	return bm.egress.qMin[port][class], bm.egress.qShared[port][class]
}

// EgressPortBytes returns the shared bytes of an egress port
func (bm *BufferManager) EgressPortBytes(port PortID) int64 {
	return bm.egress.port[port]
}

// EgressServicePoolBytes returns the shared bytes of an egress service pool
func (bm *BufferManager) EgressServicePoolBytes(sp int) int64 {
	return bm.egress.pool[sp]
}
