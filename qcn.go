package lossless

// qcn.go holds the QCN reaction point: per-(flow, hop) rate state that drops
// multiplicatively on each congestion notification and climbs back through
// fast recovery, active increase and hyper increase, driven by a byte counter
// and a periodic timer.  A flow's sending rate is the smallest of its hop rates.

import (
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// QcnStage is the recovery stage of one (flow, hop)
type QcnStage int

const (
	StageUninitialized QcnStage = iota
	StageFastRecovery
	StageActiveIncrease
	StageHyperIncrease
)

var qcnStageToStr map[QcnStage]string = map[QcnStage]string{
	StageUninitialized:  "uninitialized",
	StageFastRecovery:   "fast-recovery",
	StageActiveIncrease: "active-increase",
	StageHyperIncrease:  "hyper-increase",
}

func (qs QcnStage) String() string {
	str, present := qcnStageToStr[qs]
	if !present {
		return "unknown"
	}
	return str
}

// clampMode says when a notification snapshots the current rate into the target rate
type clampMode int

const (
	clampAlways clampMode = iota
	clampAfterByteIncrease
	clampAfterAnyIncrease
	unknownClamp
)

func clampModeFromStr(name string) clampMode {
	switch strings.ToLower(name) {
	case "", "always":
		return clampAlways
	case "afterbyteincrease":
		return clampAfterByteIncrease
	case "afteranyincrease":
		return clampAfterAnyIncrease
	default:
		return unknownClamp
	}
}

// hopRate is the reaction-point state a flow keeps for one hop
type hopRate struct {
	rate      float64
	target    float64
	alpha     float64
	byteStage int
	timeStage int
	txBytes   int64
	rpWhile   float64
	stage     QcnStage
}

type qcnFlow struct {
	hops []hopRate
}

// QcnController runs the reaction point for every flow of one NIC port
type QcnController struct {
	name     string
	objID    int
	desc     QcnDesc
	linkRate float64
	clamp    clampMode
	flows    map[FlowID]*qcnFlow
	pacer    *CreditPacer
	timers   Timers
	trace    *TraceManager
}

// CreateQcnController is a constructor.  ifg is the inter-frame gap, seconds,
// used when pacing the flows.
func CreateQcnController(name string, objID int, linkRate, ifg float64, desc QcnDesc,
	timers Timers, trace *TraceManager) *QcnController {
	qc := new(QcnController)
	qc.name = name
	qc.objID = objID
	qc.desc = desc
	qc.linkRate = linkRate
	qc.clamp = clampModeFromStr(desc.ClampTarget)
	if qc.clamp == unknownClamp {
		qc.clamp = clampAlways
	}
	qc.flows = make(map[FlowID]*qcnFlow)
	qc.pacer = CreateCreditPacer(linkRate, ifg, qc)
	qc.timers = timers
	qc.trace = trace
	return qc
}

// flowState returns the state of flow, creating it at line rate on first reference
func (qc *QcnController) flowState(flow FlowID) *qcnFlow {
	qf, present := qc.flows[flow]
	if present {
		return qf
	}
	hops := max(1, qc.desc.MaxHops)
	qf = &qcnFlow{hops: make([]hopRate, hops)}
	for idx := range qf.hops {
		qf.hops[idx] = hopRate{
			rate:    qc.linkRate,
			target:  qc.linkRate,
			alpha:   qc.desc.InitialAlpha,
			txBytes: qc.desc.ByteCounter,
			rpWhile: qc.desc.RpgTimeReset,
			stage:   StageUninitialized,
		}
	}
	qc.flows[flow] = qf
	return qf
}

func (qc *QcnController) rateKey(flow FlowID, hop HopIndex) TimerKey {
	return TimerKey{Kind: rateIncreaseTimer, A: int(flow), B: int(hop)}
}

func (qc *QcnController) alphaKey(flow FlowID, hop HopIndex) TimerKey {
	return TimerKey{Kind: alphaDecayTimer, A: int(flow), B: int(hop)}
}

// OnCongestionNotification applies a notification naming flow and hop.  fraction is
// the fed-back congestion fraction; the decrease applied is the fixed alpha step, and
// a notification carrying no feedback (fraction <= 0) is ignored.
func (qc *QcnController) OnCongestionNotification(flow FlowID, hop HopIndex, fraction float64) {
	if fraction <= 0.0 {
		return
	}
	qf := qc.flowState(flow)
	if hop < 0 || int(hop) >= len(qf.hops) {
		log.WithFields(logrus.Fields{"nic": qc.name, "flow": flow, "hop": hop}).Warn("congestion notification for unknown hop")
		qc.trace.traceEvent(qc.timers.Now(), qc.objID, TraceDiagnostic,
			ControlTrace{Flow: int(flow), Hop: int(hop), Detail: "notification for unknown hop"})
		return
	}
	hr := &qf.hops[hop]

	switch qc.clamp {
	case clampAlways:
		hr.target = hr.rate
	case clampAfterByteIncrease:
		if hr.byteStage != 0 {
			hr.target = hr.rate
		}
	case clampAfterAnyIncrease:
		if hr.byteStage != 0 || hr.timeStage != 0 {
			hr.target = hr.rate
		}
	}
	hr.txBytes = qc.desc.ByteCounter
	hr.byteStage = 0
	hr.timeStage = 0
	hr.rpWhile = qc.desc.RpgTimeReset

	g := qc.desc.G
	hr.alpha = (1.0-g)*hr.alpha + g
	hr.rate = min(qc.linkRate, max(qc.desc.MinRate, hr.rate*(1.0-hr.alpha/2.0)))
	hr.stage = StageFastRecovery

	qc.timers.Arm(qc.alphaKey(flow, hop), qc.desc.AlphaResumeInterval, func() { qc.decayAlpha(flow, hop) })
	qc.timers.Arm(qc.rateKey(flow, hop), hr.rpWhile, func() { qc.rateTimerFired(flow, hop) })
	qc.traceRate(flow, hop, "decrease")
}

// decayAlpha moves alpha toward zero while no notifications arrive
func (qc *QcnController) decayAlpha(flow FlowID, hop HopIndex) {
	qf, present := qc.flows[flow]
	if !present {
		return
	}
	hr := &qf.hops[hop]
	hr.alpha *= 1.0 - qc.desc.G
	qc.timers.Arm(qc.alphaKey(flow, hop), qc.desc.AlphaResumeInterval, func() { qc.decayAlpha(flow, hop) })
}

// OnTransmit charges bytes sent by flow against each hop's byte counter, running the
// byte-driven stage transitions whose counter is exhausted, and paces the flow
func (qc *QcnController) OnTransmit(flow FlowID, bytes int) {
	qf := qc.flowState(flow)
	for idx := range qf.hops {
		hop := HopIndex(idx)
		hr := &qf.hops[idx]
		if hr.stage == StageUninitialized {
			continue
		}
		hr.txBytes -= int64(bytes)
		if hr.txBytes > 0 {
			continue
		}
		switch hr.stage {
		case StageFastRecovery:
			qc.fastByte(flow, hop)
		case StageActiveIncrease:
			qc.activeByte(flow, hop)
		case StageHyperIncrease:
			qc.hyperByte(flow, hop)
		}
	}
	qc.pacer.OnTransmit(flow, bytes, qc.timers.Now())
}

func (qc *QcnController) rateTimerFired(flow FlowID, hop HopIndex) {
	qf, present := qc.flows[flow]
	if !present {
		return
	}
	switch qf.hops[hop].stage {
	case StageFastRecovery:
		qc.fastTime(flow, hop)
	case StageActiveIncrease:
		qc.activeTime(flow, hop)
	case StageHyperIncrease:
		qc.hyperTime(flow, hop)
	}
	hr := &qf.hops[hop]
	qc.timers.Arm(qc.rateKey(flow, hop), hr.rpWhile, func() { qc.rateTimerFired(flow, hop) })
}

func (qc *QcnController) fastByte(flow FlowID, hop HopIndex) {
	hr := &qc.flows[flow].hops[hop]
	hr.byteStage += 1
	hr.txBytes = qc.desc.ByteCounter
	if hr.byteStage < qc.desc.RpgThreshold {
		qc.adjustRates(flow, hop, 0.0)
		return
	}
	qc.activeSelect(flow, hop)
}

func (qc *QcnController) activeByte(flow FlowID, hop HopIndex) {
	hr := &qc.flows[flow].hops[hop]
	hr.byteStage += 1
	hr.txBytes = qc.desc.ByteCounter
	qc.activeIncrease(flow, hop)
}

func (qc *QcnController) hyperByte(flow FlowID, hop HopIndex) {
	hr := &qc.flows[flow].hops[hop]
	hr.byteStage += 1
	hr.txBytes = qc.desc.ByteCounter / 2
	qc.hyperIncrease(flow, hop)
}

func (qc *QcnController) fastTime(flow FlowID, hop HopIndex) {
	hr := &qc.flows[flow].hops[hop]
	hr.timeStage += 1
	hr.rpWhile = qc.desc.RpgTimeReset
	if hr.timeStage < qc.desc.RpgThreshold {
		qc.adjustRates(flow, hop, 0.0)
		return
	}
	qc.activeSelect(flow, hop)
}

func (qc *QcnController) activeTime(flow FlowID, hop HopIndex) {
	hr := &qc.flows[flow].hops[hop]
	hr.timeStage += 1
	hr.rpWhile = qc.desc.RpgTimeReset
	qc.activeSelect(flow, hop)
}

func (qc *QcnController) hyperTime(flow FlowID, hop HopIndex) {
	hr := &qc.flows[flow].hops[hop]
	hr.timeStage += 1
	hr.rpWhile = qc.desc.RpgTimeReset / 2.0
	qc.hyperIncrease(flow, hop)
}

// activeSelect enters hyper increase once both counters have reached the threshold
func (qc *QcnController) activeSelect(flow FlowID, hop HopIndex) {
	hr := &qc.flows[flow].hops[hop]
	if hr.byteStage < qc.desc.RpgThreshold || hr.timeStage < qc.desc.RpgThreshold {
		qc.activeIncrease(flow, hop)
		return
	}
	qc.hyperIncrease(flow, hop)
}

func (qc *QcnController) activeIncrease(flow FlowID, hop HopIndex) {
	qc.adjustRates(flow, hop, qc.desc.RateAI)
	qc.flows[flow].hops[hop].stage = StageActiveIncrease
}

func (qc *QcnController) hyperIncrease(flow FlowID, hop HopIndex) {
	hr := &qc.flows[flow].hops[hop]
	steps := min(hr.byteStage, hr.timeStage) - qc.desc.RpgThreshold + 1
	qc.adjustRates(flow, hop, qc.desc.RateHAI*float64(max(1, steps)))
	hr.stage = StageHyperIncrease
}

// adjustRates raises the target by increase and moves the rate halfway to it.  On
// the first increase after a notification a target far above the rate is cut back
// instead, so the flow does not jump straight back to its old rate.  Both the
// target and the rate are held at or below the link rate.
func (qc *QcnController) adjustRates(flow FlowID, hop HopIndex, increase float64) {
	hr := &qc.flows[flow].hops[hop]
	if (hr.byteStage == 1 || hr.timeStage == 1) && hr.target > 10.0*hr.rate {
		hr.target /= 8.0
	} else {
		hr.target = min(qc.linkRate, hr.target+increase)
	}
	hr.rate = min(qc.linkRate, (hr.rate+hr.target)/2.0)
	qc.traceRate(flow, hop, hr.stage.String())
}

func (qc *QcnController) traceRate(flow FlowID, hop HopIndex, detail string) {
	if !qc.trace.Active() {
		return
	}
	qc.trace.traceEvent(qc.timers.Now(), qc.objID, TraceRateUpdate,
		ControlTrace{Flow: int(flow), Hop: int(hop), Rate: qc.CurrentRate(flow), Detail: detail})
}

// CurrentRate returns the sending rate of flow, the smallest of its hop rates
func (qc *QcnController) CurrentRate(flow FlowID) float64 {
	qf, present := qc.flows[flow]
	if !present {
		return qc.linkRate
	}
	rates := make([]float64, len(qf.hops))
	for idx := range qf.hops {
		rates[idx] = qf.hops[idx].rate
	}
	return floats.Min(rates)
}

// HopRate returns the rate and target rate flow holds for hop
func (qc *QcnController) HopRate(flow FlowID, hop HopIndex) (float64, float64, bool) {
	qf, present := qc.flows[flow]
	if !present || hop < 0 || int(hop) >= len(qf.hops) {
		return 0.0, 0.0, false
	}
	return qf.hops[hop].rate, qf.hops[hop].target, true
}

// Stage returns the recovery stage of (flow, hop)
func (qc *QcnController) Stage(flow FlowID, hop HopIndex) QcnStage {
	qf, present := qc.flows[flow]
	if !present || hop < 0 || int(hop) >= len(qf.hops) {
		return StageUninitialized
	}
	return qf.hops[hop].stage
}

// Alpha returns the congestion estimate of (flow, hop)
func (qc *QcnController) Alpha(flow FlowID, hop HopIndex) float64 {
	qf, present := qc.flows[flow]
	if !present || hop < 0 || int(hop) >= len(qf.hops) {
		return qc.desc.InitialAlpha
	}
	return qf.hops[hop].alpha
}

// Counters returns the byte-stage and time-stage counts of (flow, hop)
func (qc *QcnController) Counters(flow FlowID, hop HopIndex) (int, int) {
	qf, present := qc.flows[flow]
	if !present || hop < 0 || int(hop) >= len(qf.hops) {
		return 0, 0
	}
	return qf.hops[hop].byteStage, qf.hops[hop].timeStage
}

// LinkRate returns the rate of the link the controller paces onto, bits/sec
func (qc *QcnController) LinkRate() float64 {
	return qc.linkRate
}

// SetLinkRate moves the controller to a link of a new rate.  Hop rates and
// targets above the new rate are brought down to it.
func (qc *QcnController) SetLinkRate(rate float64) {
	if rate <= 0.0 {
		return
	}
	qc.linkRate = rate
	qc.pacer.linkRate = rate
	for _, qf := range qc.flows {
		for idx := range qf.hops {
			qf.hops[idx].rate = min(qf.hops[idx].rate, rate)
			qf.hops[idx].target = min(qf.hops[idx].target, rate)
		}
	}
}

// NextSendTime returns when flow's pacing next allows it to transmit
func (qc *QcnController) NextSendTime(flow FlowID) float64 {
	return qc.pacer.NextAvailable(flow)
}

// RemoveFlow discards flow's state and cancels its timers
func (qc *QcnController) RemoveFlow(flow FlowID) {
	qf, present := qc.flows[flow]
	if !present {
		return
	}
	for idx := range qf.hops {
		qc.timers.Cancel(qc.rateKey(flow, HopIndex(idx)))
		qc.timers.Cancel(qc.alphaKey(flow, HopIndex(idx)))
	}
	delete(qc.flows, flow)
	qc.pacer.Forget(flow)
}
