package lossless

// timely.go holds the TIMELY rate controller, driven by RTT samples echoed back
// from the receiver rather than by switch feedback

// UpdateRule names which branch of the TIMELY update a sample took
type UpdateRule int

const (
	RuleTLow UpdateRule = iota
	RuleTHigh
	RuleNegativeGradient
	RulePositiveGradient
)

var updateRuleToStr map[UpdateRule]string = map[UpdateRule]string{
	RuleTLow:             "t_low",
	RuleTHigh:            "t_high",
	RuleNegativeGradient: "negative_gradient",
	RulePositiveGradient: "positive_gradient",
}

func (ur UpdateRule) String() string {
	str, present := updateRuleToStr[ur]
	if !present {
		return "unknown"
	}
	return str
}

// TimelyController holds the rate state of one TIMELY flow
type TimelyController struct {
	desc      TimelyDesc
	rate      float64
	minRate   float64
	maxRate   float64
	burstPkts int
	sleep     float64
	sdel      float64
	prevRtt   float64
	rttDiff   float64
	gradient  float64
	negRun    int
	hai       bool
	lastSend  float64
	samples   int
}

// CreateTimelyController is a constructor.  The rate starts at the configured initial
// rate, clamped to the [min, max] multiples of the link rate.
func CreateTimelyController(desc TimelyDesc) *TimelyController {
	tc := new(TimelyController)
	tc.desc = desc
	tc.minRate = desc.MinRateMultiple * desc.LinkRate
	tc.maxRate = desc.MaxRateMultiple * desc.LinkRate
	tc.rate = tc.clamp(desc.InitRate)
	tc.burstPkts = max(1, desc.BurstSize/max(1, desc.PacketSize))
	tc.sdel = float64(desc.PacketSize) * 8.0 / desc.LinkRate
	tc.prevRtt = tc.sdel
	tc.sleep = tc.burstDuration(tc.rate)
	return tc
}

func (tc *TimelyController) clamp(rate float64) float64 {
	return max(tc.minRate, min(tc.maxRate, rate))
}

// burstDuration is the time to send one burst at rate
func (tc *TimelyController) burstDuration(rate float64) float64 {
	return float64(tc.burstPkts*tc.desc.PacketSize) * 8.0 / rate
}

// RttFromTimestamp turns the send timestamp echoed back in an acknowledgement into an
// RTT sample, removing the serialization delay of one packet at link rate
func (tc *TimelyController) RttFromTimestamp(sent, now float64) float64 {
	return now - sent - tc.sdel
}

// OnRttSample updates the rate from one RTT sample and returns the rule applied
func (tc *TimelyController) OnRttSample(rtt float64) UpdateRule {
	d := tc.desc
	tc.rttDiff = (1.0-d.Alpha)*tc.rttDiff + d.Alpha*(rtt-tc.prevRtt)
	tc.gradient = tc.rttDiff / d.MinRtt

	var rule UpdateRule
	var newRate float64
	switch {
	case rtt < d.TLow:
		rule = RuleTLow
		newRate = tc.rate + d.Delta
	case rtt > d.THigh:
		rule = RuleTHigh
		newRate = tc.rate * (1.0 - d.Beta*(1.0-d.THigh/rtt))
	case tc.gradient < 0.0:
		rule = RuleNegativeGradient
		n := 1.0
		if tc.hai {
			n = d.HaiMultiplier
		}
		newRate = tc.rate + n*d.Delta
	default:
		rule = RulePositiveGradient
		newRate = tc.rate * (1.0 - d.Beta*tc.gradient)
	}

	// consecutive negative-gradient updates switch on hyperactive increase for the next
	if rule == RuleNegativeGradient {
		tc.negRun += 1
	} else {
		tc.negRun = 0
	}
	tc.hai = tc.negRun >= d.HaiThreshold

	tc.rate = tc.clamp(newRate)
	tc.prevRtt = rtt
	tc.sleep = tc.burstDuration(tc.rate)
	tc.samples += 1
	return rule
}

// CurrentRate returns the sending rate, bits/sec
func (tc *TimelyController) CurrentRate() float64 {
	return tc.rate
}

// SleepInterval returns the gap between the starts of consecutive bursts at the current rate
func (tc *TimelyController) SleepInterval() float64 {
	return tc.sleep
}

// BurstPackets returns the number of packets in a burst
func (tc *TimelyController) BurstPackets() int {
	return tc.burstPkts
}

// MarkBurst records that a burst started at now
func (tc *TimelyController) MarkBurst(now float64) {
	tc.lastSend = now
}

// NextSendTime returns when the next burst may start
func (tc *TimelyController) NextSendTime() float64 {
	return tc.lastSend + tc.sleep
}

// Gradient returns the normalized RTT gradient of the latest sample
func (tc *TimelyController) Gradient() float64 {
	return tc.gradient
}

// HyperActive reports whether the next negative-gradient update uses the HAI multiplier
func (tc *TimelyController) HyperActive() bool {
	return tc.hai
}

// Samples returns the number of RTT samples applied
func (tc *TimelyController) Samples() int {
	return tc.samples
}
