package lossless

// RateSource reports the current sending rate of a flow, bits/sec
type RateSource interface {
	CurrentRate(flow FlowID) float64
}

// CreditPacer spaces the packets of rate-limited flows sharing one link.  After a
// flow sends, it may not send again until the time the link would need to carry
// the packet at the flow's rate, less any credit the flow had built up, has passed.
// Flows that were eligible but idle earn credit in proportion to their rate.
type CreditPacer struct {
	linkRate  float64
	ifg       float64
	rates     RateSource
	credits   map[FlowID]float64 // bytes
	nextAvail map[FlowID]float64
}

// CreateCreditPacer is a constructor
func CreateCreditPacer(linkRate, ifg float64, rates RateSource) *CreditPacer {
	cp := new(CreditPacer)
	cp.linkRate = linkRate
	cp.ifg = ifg
	cp.rates = rates
	cp.credits = make(map[FlowID]float64)
	cp.nextAvail = make(map[FlowID]float64)
	return cp
}

// NextAvailable returns the earliest time flow may transmit again
func (cp *CreditPacer) NextAvailable(flow FlowID) float64 {
	return cp.nextAvail[flow]
}

// SetNextAvailable overrides the earliest transmission time of flow
func (cp *CreditPacer) SetNextAvailable(flow FlowID, t float64) {
	cp.nextAvail[flow] = t
}

// Credits returns the credit held by flow, bytes
func (cp *CreditPacer) Credits(flow FlowID) float64 {
	return cp.credits[flow]
}

// OnTransmit charges flow for a packet of size bytes sent at now, and hands
// credit to the other flows that were free to send
func (cp *CreditPacer) OnTransmit(flow FlowID, size int, now float64) {
	rate := cp.rates.CurrentRate(flow)
	due := 0.0
	if rate > 0.0 {
		due = max(0.0, cp.linkRate/rate*(float64(size)-cp.credits[flow]))
	}
	cp.nextAvail[flow] = now + cp.ifg + due*8.0/cp.linkRate

	for other := range cp.nextAvail {
		if other == flow || cp.nextAvail[other] > now {
			continue
		}
		if cp.credits[other]*8.0/cp.linkRate > cp.ifg {
			cp.credits[other] = 0.0
		} else {
			cp.credits[other] += cp.rates.CurrentRate(other) / cp.linkRate * due
		}
	}
	cp.credits[flow] = 0.0
}

// Forget drops the pacing state of flow
func (cp *CreditPacer) Forget(flow FlowID) {
	delete(cp.credits, flow)
	delete(cp.nextAvail, flow)
}
