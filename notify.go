package lossless

// notify.go holds the notification point of a receiving NIC: ECN marks seen on
// each arriving flow are tallied, and at a fixed interval a congestion
// notification summarizing them is sent back to the flow's source.
//
// A flow here is a (source node, class, source port) triple, the FlowKey of the
// receive side.  Its account is created by its first packet, which also triggers
// the first check; after that the check runs every CNInterval.  A check sends a
// notification only if some packet since the previous check arrived with
// congestion experienced, and in any case clears the tally for the next period.

import (
	"math"
)

// ecnAccount is the per-flow tally between two checks
type ecnAccount struct {
	// index is the flow's position in creation order, used to key its check timer
	index int

	// ecnBits accumulates (by OR) the ECN field of the counted packets
	ecnBits uint8

	// qfb counts the marked packets, total every packet, since the last check
	qfb   uint16
	total uint16

	// lastCN is the time of the last notification sent for the flow
	lastCN float64
}

// CongestionNotifier tallies ECN marks per flow and generates congestion notifications.
// One runs on each NIC when QCN is enabled.
type CongestionNotifier struct {
	name  string
	objID int
	desc  QcnDesc

	// timers carries the periodic check of every flow
	timers Timers

	// send transmits a notification header toward the node with the given id
	send func(dst int, hdr CNHeader)

	accounts map[FlowKey]*ecnAccount
	trace    *TraceManager
}

// CreateCongestionNotifier is a constructor.  name and objID identify the NIC in logs
// and traces.  desc supplies CNInterval, the period between checks of a flow, and
// NPSamplingInterval, the time after a notification during which marks are not counted.
// send transmits a notification toward node dst.
func CreateCongestionNotifier(name string, objID int, desc QcnDesc, timers Timers,
	send func(int, CNHeader), trace *TraceManager) *CongestionNotifier {
	cn := new(CongestionNotifier)
	cn.name = name
	cn.objID = objID
	cn.desc = desc
	cn.timers = timers
	cn.send = send
	cn.accounts = make(map[FlowKey]*ecnAccount)
	cn.trace = trace
	return cn
}

// addSaturating increments v, holding it at the largest value the header field carries
func addSaturating(v uint16) uint16 {
	if v == math.MaxUint16 {
		return v
	}
	return v + 1
}

// OnDataArrival records the ECN field of a data packet of flow key.  The first
// packet of a flow creates its account and starts its periodic check.  Every
// packet counts toward the total; a marked packet counts toward qfb unless it
// belongs to the DCTCP class or arrives within the sampling interval after
// the flow's last notification.
func (cn *CongestionNotifier) OnDataArrival(key FlowKey, ecn uint8) {
	acct, present := cn.accounts[key]
	if !present {
		acct = &ecnAccount{index: len(cn.accounts), lastCN: math.Inf(-1)}
		cn.accounts[key] = acct
	}

	// DCTCP traffic reacts to the marks themselves
	now := cn.timers.Now()
	if ecn != ecnNotECT && key.Class != DCTCPClass && now > acct.lastCN+cn.desc.NPSamplingInterval {
		acct.ecnBits |= ecn
		acct.qfb = addSaturating(acct.qfb)
	}
	acct.total = addSaturating(acct.total)

	if !present {
		cn.check(key)
	}
}

// checkKey names the check timer of a flow's account
func (cn *CongestionNotifier) checkKey(acct *ecnAccount) TimerKey {
	return TimerKey{Kind: cnCheckTimer, A: acct.index}
}

// check sends a notification for key if any packet since the last check carried
// congestion experienced, then clears the tally and re-arms
func (cn *CongestionNotifier) check(key FlowKey) {
	acct := cn.accounts[key]
	if acct.ecnBits == ecnCE {
		hdr := CNHeader{Port: key.Port, Class: uint8(key.Class), ECNBits: acct.ecnBits, Qfb: acct.qfb, Total: acct.total}
		cn.send(key.Source, hdr)
		acct.lastCN = cn.timers.Now()
		cn.trace.traceEvent(acct.lastCN, cn.objID, TraceCNSent,
			ControlTrace{Port: int(key.Port), Class: int(key.Class), Flow: key.Source, Rate: hdr.Fraction()})
	}

	// start the next period from a clean tally
	acct.ecnBits = 0
	acct.qfb = 0
	acct.total = 0
	cn.timers.Arm(cn.checkKey(acct), cn.desc.CNInterval, func() { cn.check(key) })
}

// Tally returns the marked and total packet counts of key since its last check.
// Both are zero for a flow that has not been seen.
func (cn *CongestionNotifier) Tally(key FlowKey) (uint16, uint16) {
	acct, present := cn.accounts[key]
	if !present {
		return 0, 0
	}
	return acct.qfb, acct.total
}

// Stop cancels the periodic checks of every flow.  The accounts are kept, so
// Tally still reports what was counted before the stop.
func (cn *CongestionNotifier) Stop() {
	for _, acct := range cn.accounts {
		cn.timers.Cancel(cn.checkKey(acct))
	}
}
