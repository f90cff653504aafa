package lossless

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLinkRate = 10e9

func testQcn(desc QcnDesc) (*QcnController, *manualTimers) {
	mt := newManualTimers()
	desc.Enabled = true
	return CreateQcnController("nic-eth0", 1, testLinkRate, 0.0, desc, mt, nil), mt
}

func TestQcnController_Decrease(t *testing.T) {
	qc, mt := testQcn(DefaultQcnDesc())
	assert.Equal(t, testLinkRate, qc.CurrentRate(4))
	assert.Equal(t, StageUninitialized, qc.Stage(4, 0))

	qc.OnCongestionNotification(4, 0, 1.0)
	alpha := qc.Alpha(4, 0)
	assert.InDelta(t, 0.53125, alpha, 1e-12)
	rate, target, ok := qc.HopRate(4, 0)
	require.True(t, ok)
	assert.InDelta(t, testLinkRate*(1.0-alpha/2.0), rate, 1.0)
	assert.Equal(t, testLinkRate, target)
	assert.Equal(t, StageFastRecovery, qc.Stage(4, 0))
	assert.True(t, mt.Pending(TimerKey{Kind: rateIncreaseTimer, A: 4, B: 0}))
	assert.True(t, mt.Pending(TimerKey{Kind: alphaDecayTimer, A: 4, B: 0}))

	// a second notification from fast recovery raises alpha and cuts again
	qc.OnCongestionNotification(4, 0, 1.0)
	assert.Greater(t, qc.Alpha(4, 0), alpha)
	rate2, target2, _ := qc.HopRate(4, 0)
	assert.Less(t, rate2, rate)
	assert.GreaterOrEqual(t, rate2, rate*(1.0-qc.Alpha(4, 0)/2.0)-1.0)
	assert.Equal(t, rate, target2)
	assert.Equal(t, StageFastRecovery, qc.Stage(4, 0))
}

func TestQcnController_NeverIncreasesOnNotification(t *testing.T) {
	desc := DefaultQcnDesc()
	qc, _ := testQcn(desc)
	prev := qc.CurrentRate(1)
	for idx := 0; idx < 200; idx++ {
		qc.OnCongestionNotification(1, 0, 0.25)
		rate := qc.CurrentRate(1)
		assert.LessOrEqual(t, rate, prev)
		assert.GreaterOrEqual(t, rate, desc.MinRate)
		prev = rate
	}
	assert.Equal(t, desc.MinRate, prev)
	assert.LessOrEqual(t, qc.Alpha(1, 0), 1.0)
}

func TestQcnController_IgnoredNotifications(t *testing.T) {
	qc, mt := testQcn(DefaultQcnDesc())
	qc.OnCongestionNotification(2, 0, 0.0)
	assert.Equal(t, StageUninitialized, qc.Stage(2, 0))
	assert.Equal(t, testLinkRate, qc.CurrentRate(2))

	qc.OnCongestionNotification(2, 3, 1.0)
	assert.Equal(t, testLinkRate, qc.CurrentRate(2))
	assert.False(t, mt.Pending(TimerKey{Kind: rateIncreaseTimer, A: 2, B: 3}))
	_, _, ok := qc.HopRate(2, 3)
	assert.False(t, ok)
}

func TestQcnController_FastRecoveryByBytes(t *testing.T) {
	desc := DefaultQcnDesc()
	qc, _ := testQcn(desc)
	qc.OnCongestionNotification(1, 0, 1.0)
	rate, target, _ := qc.HopRate(1, 0)

	// half the byte counter does not complete a cycle
	qc.OnTransmit(1, int(desc.ByteCounter/2))
	after, _, _ := qc.HopRate(1, 0)
	assert.Equal(t, rate, after)

	qc.OnTransmit(1, int(desc.ByteCounter/2))
	after, afterTarget, _ := qc.HopRate(1, 0)
	assert.InDelta(t, (rate+target)/2.0, after, 1.0)
	assert.Equal(t, target, afterTarget)
	byteStage, timeStage := qc.Counters(1, 0)
	assert.Equal(t, 1, byteStage)
	assert.Equal(t, 0, timeStage)
	assert.Equal(t, StageFastRecovery, qc.Stage(1, 0))
}

func TestQcnController_HyperNeedsBothCounters(t *testing.T) {
	desc := DefaultQcnDesc()
	qc, mt := testQcn(desc)
	qc.OnCongestionNotification(1, 0, 1.0)

	for idx := 0; idx < desc.RpgThreshold+1; idx++ {
		qc.OnTransmit(1, int(desc.ByteCounter))
	}
	byteStage, _ := qc.Counters(1, 0)
	assert.Equal(t, desc.RpgThreshold+1, byteStage)
	assert.Equal(t, StageActiveIncrease, qc.Stage(1, 0))

	mt.advance(float64(desc.RpgThreshold-1)*desc.RpgTimeReset + 1e-4)
	_, timeStage := qc.Counters(1, 0)
	assert.Equal(t, desc.RpgThreshold-1, timeStage)
	assert.Equal(t, StageActiveIncrease, qc.Stage(1, 0))

	mt.advance(float64(desc.RpgThreshold)*desc.RpgTimeReset + 1e-4)
	assert.Equal(t, StageHyperIncrease, qc.Stage(1, 0))
	rate := qc.CurrentRate(1)
	assert.Greater(t, rate, 0.0)
	assert.LessOrEqual(t, rate, testLinkRate)
}

func TestQcnController_TimerAloneStaysActive(t *testing.T) {
	desc := DefaultQcnDesc()
	qc, mt := testQcn(desc)
	qc.OnCongestionNotification(1, 0, 1.0)

	mt.advance(float64(desc.RpgThreshold)*desc.RpgTimeReset + 1e-4)
	assert.Equal(t, StageActiveIncrease, qc.Stage(1, 0))
	mt.advance(float64(3*desc.RpgThreshold)*desc.RpgTimeReset + 1e-4)
	assert.Equal(t, StageActiveIncrease, qc.Stage(1, 0))
	_, timeStage := qc.Counters(1, 0)
	assert.Greater(t, timeStage, desc.RpgThreshold)

	// alpha decays while no notifications arrive
	assert.Less(t, qc.Alpha(1, 0), 0.1)
}

func TestQcnController_RateBounds(t *testing.T) {
	desc := DefaultQcnDesc()
	desc.MaxHops = 2
	qc, mt := testQcn(desc)
	now := 0.0
	for idx := 0; idx < 400; idx++ {
		switch idx % 7 {
		case 0:
			qc.OnCongestionNotification(1, HopIndex(idx%2), float64(idx%5)/4.0)
		case 3:
			now += 700e-6
			mt.advance(now)
		default:
			qc.OnTransmit(1, 9000*(idx%11+1))
		}
		for hop := HopIndex(0); hop < 2; hop++ {
			rate, target, _ := qc.HopRate(1, hop)
			require.Greater(t, rate, 0.0)
			require.LessOrEqual(t, rate, testLinkRate)
			require.LessOrEqual(t, target, testLinkRate)
		}
		r0, _, _ := qc.HopRate(1, 0)
		r1, _, _ := qc.HopRate(1, 1)
		require.Equal(t, min(r0, r1), qc.CurrentRate(1))
	}
}

func TestQcnController_TargetCutAfterDeepDecrease(t *testing.T) {
	desc := DefaultQcnDesc()
	desc.ClampTarget = "afterbyteincrease"
	qc, _ := testQcn(desc)
	for idx := 0; idx < 40; idx++ {
		qc.OnCongestionNotification(1, 0, 1.0)
	}
	rate, target, _ := qc.HopRate(1, 0)
	assert.Equal(t, desc.MinRate, rate)
	assert.Equal(t, testLinkRate, target)

	qc.OnTransmit(1, int(desc.ByteCounter))
	rate, target, _ = qc.HopRate(1, 0)
	assert.InDelta(t, testLinkRate/8.0, target, 1.0)
	assert.InDelta(t, (desc.MinRate+testLinkRate/8.0)/2.0, rate, 1.0)

	// the next notification clamps the target now a byte increase has happened
	qc.OnCongestionNotification(1, 0, 1.0)
	_, target, _ = qc.HopRate(1, 0)
	assert.InDelta(t, rate, target, 1.0)
}

func TestQcnController_RemoveFlow(t *testing.T) {
	qc, mt := testQcn(DefaultQcnDesc())
	qc.OnCongestionNotification(6, 0, 1.0)
	qc.OnTransmit(6, 1000)
	assert.Greater(t, qc.NextSendTime(6), 0.0)

	qc.RemoveFlow(6)
	assert.False(t, mt.Pending(TimerKey{Kind: rateIncreaseTimer, A: 6, B: 0}))
	assert.False(t, mt.Pending(TimerKey{Kind: alphaDecayTimer, A: 6, B: 0}))
	assert.Equal(t, testLinkRate, qc.CurrentRate(6))
	assert.Equal(t, 0.0, qc.NextSendTime(6))
	qc.RemoveFlow(6)
}

func TestQcnStage_String(t *testing.T) {
	assert.Equal(t, "hyper-increase", StageHyperIncrease.String())
	assert.Equal(t, "unknown", QcnStage(9).String())
	assert.Equal(t, clampAfterAnyIncrease, clampModeFromStr("AfterAnyIncrease"))
	assert.Equal(t, unknownClamp, clampModeFromStr("never"))
}

func TestQcnController_SlowerThanMinRate(t *testing.T) {
	desc := DefaultQcnDesc()
	desc.Enabled = true
	require.Greater(t, desc.MinRate, 40e6)
	qc := CreateQcnController("nic-eth0", 1, 40e6, 0.0, desc, newManualTimers(), nil)

	for idx := 0; idx < 5; idx++ {
		qc.OnCongestionNotification(1, 0, 1.0)
		rate := qc.CurrentRate(1)
		assert.Greater(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 40e6)
	}
}

func TestQcnController_SetLinkRate(t *testing.T) {
	qc, _ := testQcn(DefaultQcnDesc())
	qc.OnCongestionNotification(1, 0, 1.0)
	for idx := 0; idx < 3; idx++ {
		qc.OnCongestionNotification(2, 0, 1.0)
	}
	slow, _, _ := qc.HopRate(2, 0)
	require.Less(t, slow, 4e9)

	qc.SetLinkRate(4e9)
	assert.Equal(t, 4e9, qc.LinkRate())
	assert.Equal(t, 4e9, qc.CurrentRate(1))
	assert.Equal(t, slow, qc.CurrentRate(2))
	_, target, _ := qc.HopRate(2, 0)
	assert.Equal(t, 4e9, target)
	assert.Equal(t, 4e9, qc.CurrentRate(3))

	qc.SetLinkRate(0.0)
	assert.Equal(t, 4e9, qc.LinkRate())
}
