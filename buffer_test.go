package lossless

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBufferManager(ports int, desc BufferDesc) *BufferManager {
	return CreateBufferManager("sw", ports, 8, desc, fixedRand(0.5))
}

func admit(t *testing.T, bm *BufferManager, port PortID, class ClassID, size int) {
	ok, cause := bm.CheckIngressAdmission(port, class, size)
	require.True(t, ok, "ingress refused: %s", cause)
	ok, cause = bm.CheckEgressAdmission(port, class, size)
	require.True(t, ok, "egress refused: %s", cause)
	bm.UpdateIngressAdmission(port, class, size)
	bm.UpdateEgressAdmission(port, class, size)
}

func TestBufferManager_AdmitWithinGuarantee(t *testing.T) {
	desc := DefaultBufferDesc()
	desc.PgMinCell = 1030
	desc.PortMinCell = 1030
	bm := testBufferManager(2, desc)

	ok, cause := bm.CheckIngressAdmission(0, 3, 1500)
	assert.True(t, ok)
	assert.Equal(t, NoDrop, cause)
	bm.UpdateIngressAdmission(0, 3, 1500)
	assert.Equal(t, int64(1500), bm.IngressPortBytes(0))
	assert.Equal(t, int64(1500), bm.IngressPGBytes(0, 3))
	assert.Equal(t, int64(0), bm.HeadroomBytes(0, 3))
	assert.Equal(t, int64(0), bm.IngressPortBytes(1))
}

func TestBufferManager_StaticPauseAtSharedLimit(t *testing.T) {
	desc := DefaultBufferDesc()
	desc.EnablePfcOnDctcp = false
	bm := testBufferManager(2, desc)

	var class ClassID = 3
	for idx := 0; idx < 20; idx++ {
		admit(t, bm, 0, class, 1030)
	}
	assert.Equal(t, int64(20600), bm.IngressPGBytes(0, class))
	assert.True(t, bm.GetPauseClasses(0, class).Empty())

	admit(t, bm, 0, class, 1030)
	paused := bm.GetPauseClasses(0, class)
	assert.True(t, paused.Has(class))
	assert.Equal(t, 1, paused.Len())
	assert.False(t, bm.GetResumeClasses(0, class))

	// drain to below the off threshold
	for idx := 0; idx < 4; idx++ {
		bm.RemoveFromIngressAdmission(0, class, 1030)
		bm.RemoveFromEgressAdmission(0, class, 1030)
	}
	assert.True(t, bm.GetResumeClasses(0, class))
}

func TestBufferManager_DCTCPExemption(t *testing.T) {
	desc := DefaultBufferDesc()
	desc.EnablePfcOnDctcp = false
	bm := testBufferManager(1, desc)
	for idx := 0; idx < 25; idx++ {
		admit(t, bm, 0, DCTCPClass, 1030)
	}
	assert.True(t, bm.GetPauseClasses(0, DCTCPClass).Empty())

	desc.EnablePfcOnDctcp = true
	bm = testBufferManager(1, desc)
	for idx := 0; idx < 25; idx++ {
		admit(t, bm, 0, DCTCPClass, 1030)
	}
	assert.True(t, bm.GetPauseClasses(0, DCTCPClass).Has(DCTCPClass))
}

func TestBufferManager_PortWidePause(t *testing.T) {
	desc := DefaultBufferDesc()
	desc.PortMaxSharedCell = 5000
	desc.PortMinCellOff = 4000
	bm := testBufferManager(1, desc)
	admit(t, bm, 0, 2, 3000)
	admit(t, bm, 0, 4, 3000)

	paused := bm.GetPauseClasses(0, 2)
	for c := ClassID(0); c < 7; c++ {
		assert.True(t, paused.Has(c), "class %d", c)
	}
	assert.False(t, paused.Has(7), "the control class is never paused")
}

func TestBufferManager_HeadroomAndRefusal(t *testing.T) {
	desc := DefaultBufferDesc()
	desc.BufferCellLimitSP = 10000
	desc.PgHdrmLimit = 3000
	bm := testBufferManager(1, desc)

	for idx := 0; idx < 6; idx++ {
		admit(t, bm, 0, 3, 1500)
	}
	assert.Equal(t, int64(9000), bm.ServicePoolBytes(0))
	assert.Equal(t, int64(0), bm.HeadroomBytes(0, 3))

	// the pool is full: the next packets go to headroom, until that is full too
	admit(t, bm, 0, 3, 1500)
	admit(t, bm, 0, 3, 1500)
	assert.Equal(t, int64(3000), bm.HeadroomBytes(0, 3))
	ok, cause := bm.CheckIngressAdmission(0, 3, 1500)
	assert.False(t, ok)
	assert.Equal(t, DropIngressHeadroom, cause)

	// headroom drains first
	bm.RemoveFromIngressAdmission(0, 3, 1500)
	assert.Equal(t, int64(1500), bm.HeadroomBytes(0, 3))
	assert.Equal(t, int64(9000), bm.ServicePoolBytes(0))
}

func TestBufferManager_IngressTotal(t *testing.T) {
	desc := DefaultBufferDesc()
	desc.MaxBuffer = 4000
	bm := testBufferManager(2, desc)
	admit(t, bm, 0, 0, 3000)
	ok, cause := bm.CheckIngressAdmission(1, 0, 1500)
	assert.False(t, ok)
	assert.Equal(t, DropIngressTotal, cause)
}

func TestBufferManager_EgressLimits(t *testing.T) {
	desc := DefaultBufferDesc()
	desc.QMinCell = 1000
	desc.OpUcPortConfig1Cell = 2000
	bm := testBufferManager(1, desc)

	bm.UpdateEgressAdmission(0, 3, 1000)
	qMin, qShared := bm.EgressQueueBytes(0, 3)
	assert.Equal(t, int64(1000), qMin)
	assert.Equal(t, int64(0), qShared)

	bm.UpdateEgressAdmission(0, 3, 1500)
	_, qShared = bm.EgressQueueBytes(0, 3)
	assert.Equal(t, int64(1500), qShared)
	assert.Equal(t, int64(1500), bm.EgressPortBytes(0))

	ok, cause := bm.CheckEgressAdmission(0, 3, 1000)
	assert.False(t, ok)
	assert.Equal(t, DropEgressQueue, cause)

	desc.OpUcPortConfig1Cell = 9000000
	desc.OpUcPortConfigCell = 2000
	bm = testBufferManager(1, desc)
	bm.UpdateEgressAdmission(0, 3, 1000)
	bm.UpdateEgressAdmission(0, 4, 1000)
	bm.UpdateEgressAdmission(0, 3, 1500)
	ok, cause = bm.CheckEgressAdmission(0, 4, 1000)
	assert.False(t, ok)
	assert.Equal(t, DropEgressPort, cause)

	desc.OpUcPortConfigCell = 9000000
	desc.OpBufferSharedLimitCell = 2000
	bm = testBufferManager(2, desc)
	bm.UpdateEgressAdmission(0, 3, 1000)
	bm.UpdateEgressAdmission(0, 3, 1500)
	ok, cause = bm.CheckEgressAdmission(1, 3, 1000)
	assert.False(t, ok)
	assert.Equal(t, DropEgressPool, cause)
}

func TestBufferManager_CountersReturnToZero(t *testing.T) {
	desc := DefaultBufferDesc()
	desc.BufferCellLimitSP = 20000
	bm := testBufferManager(3, desc)

	type charge struct {
		port  PortID
		class ClassID
		size  int
	}
	charges := []charge{}
	sizes := []int{64, 1500, 9000, 1030, 512}
	for idx := 0; idx < 40; idx++ {
		c := charge{port: PortID(idx % 3), class: ClassID(idx % 7), size: sizes[idx%len(sizes)]}
		if ok, _ := bm.CheckIngressAdmission(c.port, c.class, c.size); !ok {
			continue
		}
		if ok, _ := bm.CheckEgressAdmission(c.port, c.class, c.size); !ok {
			continue
		}
		bm.UpdateIngressAdmission(c.port, c.class, c.size)
		bm.UpdateEgressAdmission(c.port, c.class, c.size)
		charges = append(charges, c)

		assert.LessOrEqual(t, bm.TotalBytes(), desc.MaxBuffer)
		for p := PortID(0); p < 3; p++ {
			for cls := ClassID(0); cls < 8; cls++ {
				assert.LessOrEqual(t, bm.HeadroomBytes(p, cls), desc.PgHdrmLimit)
			}
		}
	}
	require.NotEmpty(t, charges)

	for _, c := range charges {
		bm.RemoveFromIngressAdmission(c.port, c.class, c.size)
		bm.RemoveFromEgressAdmission(c.port, c.class, c.size)
	}
	assert.Equal(t, int64(0), bm.TotalBytes())
	for sp := 0; sp < 2; sp++ {
		assert.Equal(t, int64(0), bm.ServicePoolBytes(sp))
		assert.Equal(t, int64(0), bm.EgressServicePoolBytes(sp))
	}
	for p := PortID(0); p < 3; p++ {
		assert.Equal(t, int64(0), bm.IngressPortBytes(p))
		assert.Equal(t, int64(0), bm.EgressPortBytes(p))
		for c := ClassID(0); c < 8; c++ {
			assert.Equal(t, int64(0), bm.IngressPGBytes(p, c))
			assert.Equal(t, int64(0), bm.HeadroomBytes(p, c))
			qMin, qShared := bm.EgressQueueBytes(p, c)
			assert.Equal(t, int64(0), qMin+qShared)
		}
	}
}

func TestBufferManager_BadIndex(t *testing.T) {
	bm := testBufferManager(1, DefaultBufferDesc())
	ok, cause := bm.CheckIngressAdmission(4, 0, 100)
	assert.False(t, ok)
	assert.Equal(t, DropBadIndex, cause)
	ok, cause = bm.CheckEgressAdmission(0, 9, 100)
	assert.False(t, ok)
	assert.Equal(t, DropBadIndex, cause)

	bm.UpdateIngressAdmission(4, 0, 100)
	assert.Equal(t, int64(0), bm.TotalBytes())
	assert.True(t, bm.GetPauseClasses(-1, 0).Empty())
	assert.False(t, bm.ShouldMarkECN(0, 3, 9))

	port := bm.AddPort()
	assert.Equal(t, PortID(1), port)
	ok, _ = bm.CheckIngressAdmission(port, 0, 100)
	assert.True(t, ok)
}

func TestBufferManager_DynamicThreshold(t *testing.T) {
	desc := DefaultBufferDesc()
	desc.PgMinCell = 0
	desc.PortMinCell = 0
	desc.BufferCellLimitSP = 10000
	desc.PgSharedAlpha = 1.0
	desc.PgSharedAlphaOffDiff = 1000
	bm := testBufferManager(1, desc)
	bm.EnableDynamicThreshold()
	assert.True(t, bm.DynamicThreshold())

	// 4000 shared against alpha × (10000 − 4000)
	admit(t, bm, 0, 3, 4000)
	assert.True(t, bm.GetPauseClasses(0, 3).Empty())
	assert.True(t, bm.GetResumeClasses(0, 3))

	// 6000 against 4000: pause
	admit(t, bm, 0, 3, 2000)
	assert.True(t, bm.GetPauseClasses(0, 3).Has(3))
	assert.False(t, bm.GetResumeClasses(0, 3))

	// 4500 against 5500 − 1000: still inside the hysteresis band
	bm.RemoveFromIngressAdmission(0, 3, 1500)
	assert.True(t, bm.GetPauseClasses(0, 3).Empty())
	assert.False(t, bm.GetResumeClasses(0, 3))

	bm.RemoveFromIngressAdmission(0, 3, 1000)
	assert.True(t, bm.GetResumeClasses(0, 3))
}

func TestBufferManager_ShouldMarkECN(t *testing.T) {
	desc := DefaultBufferDesc()
	desc.QMinCell = 0
	desc.QcnThreshold = 1000
	desc.QcnThresholdMax = 3000
	desc.QcnMaxP = 1.0
	desc.DctcpThreshold = 1000
	desc.DctcpThresholdMax = 1000
	bm := CreateBufferManager("sw", 2, 8, desc, fixedRand(0.4))

	bm.UpdateEgressAdmission(1, 3, 1000)
	assert.False(t, bm.ShouldMarkECN(0, 1, 3))

	// 2000 lies halfway: probability 0.5 against a draw of 0.4
	bm.UpdateEgressAdmission(1, 3, 1000)
	assert.True(t, bm.ShouldMarkECN(0, 1, 3))

	bm = CreateBufferManager("sw", 2, 8, desc, fixedRand(0.6))
	bm.UpdateEgressAdmission(1, 3, 2000)
	assert.False(t, bm.ShouldMarkECN(0, 1, 3))
	bm.UpdateEgressAdmission(1, 3, 2000)
	assert.True(t, bm.ShouldMarkECN(0, 1, 3))

	bm.UpdateEgressAdmission(1, DCTCPClass, 1500)
	assert.True(t, bm.ShouldMarkECN(0, 1, DCTCPClass))

	bm.UpdateEgressAdmission(1, 7, 5000)
	assert.False(t, bm.ShouldMarkECN(0, 1, 7))
}
