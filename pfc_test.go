package lossless

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkPauseState_PauseAndLapse(t *testing.T) {
	mt := newManualTimers()
	resumed := []ClassID{}
	lps := CreateLinkPauseState("nic-eth0", 1, 0, 8, true, mt, func(c ClassID) { resumed = append(resumed, c) }, nil)

	lps.OnPauseFrame(PauseHeader{Time: 10, Class: 3})
	assert.True(t, lps.IsPaused(3))
	assert.True(t, lps.PausedClasses().Has(3))
	deadline, paused := lps.ResumeDeadline(3)
	assert.True(t, paused)
	assert.InDelta(t, 10e-6, deadline, 1e-12)

	// a second pause replaces the deadline
	mt.advance(5e-6)
	lps.OnPauseFrame(PauseHeader{Time: 10, Class: 3})
	mt.advance(12e-6)
	assert.True(t, lps.IsPaused(3))
	assert.Empty(t, resumed)

	mt.advance(20e-6)
	assert.False(t, lps.IsPaused(3))
	assert.Equal(t, []ClassID{3}, resumed)
}

func TestLinkPauseState_ResumeFrame(t *testing.T) {
	mt := newManualTimers()
	resumed := 0
	lps := CreateLinkPauseState("nic-eth0", 1, 0, 8, true, mt, func(ClassID) { resumed += 1 }, nil)

	lps.OnPauseFrame(PauseHeader{Time: 10, Class: 2})
	lps.OnPauseFrame(PauseHeader{Time: 0, Class: 2})
	assert.False(t, lps.IsPaused(2))
	assert.Equal(t, 1, resumed)
	assert.False(t, mt.Pending(TimerKey{Kind: pauseResumeTimer, A: 0, B: 2}))

	// a resume for a class that is not paused changes nothing
	lps.OnPauseFrame(PauseHeader{Time: 0, Class: 4})
	assert.Equal(t, 1, resumed)

	// nor do frames for the control class or unknown classes
	lps.OnPauseFrame(PauseHeader{Time: 10, Class: 7})
	lps.OnPauseFrame(PauseHeader{Time: 10, Class: 12})
	assert.True(t, lps.PausedClasses().Empty())
}

func TestLinkPauseState_Disabled(t *testing.T) {
	mt := newManualTimers()
	lps := CreateLinkPauseState("nic-eth0", 1, 0, 8, false, mt, nil, nil)
	lps.OnPauseFrame(PauseHeader{Time: 10, Class: 2})
	assert.False(t, lps.IsPaused(2))
}

type sentFrame struct {
	port PortID
	hdr  PauseHeader
}

func testPauseController(t *testing.T, desc BufferDesc) (*PauseController, *BufferManager, *manualTimers, *[]sentFrame) {
	mt := newManualTimers()
	bm := testBufferManager(0, desc)
	frames := []sentFrame{}
	send := func(port PortID, p *Packet) {
		require.Equal(t, ProtoPause, p.Protocol)
		frames = append(frames, sentFrame{port: port, hdr: *p.Pause})
	}
	queueBytes := func(port PortID, class ClassID) int64 { return bm.IngressPGBytes(port, class) }
	pc := CreatePauseController("sw", 0, bm, 8, mt, DefaultPfcDesc(), send, queueBytes, nil)
	for idx := 0; idx < 2; idx++ {
		bm.AddPort()
		pc.AddPort()
	}
	return pc, bm, mt, &frames
}

func TestPauseController_PauseThenResume(t *testing.T) {
	pc, bm, mt, frames := testPauseController(t, DefaultBufferDesc())

	for idx := 0; idx < 21; idx++ {
		bm.UpdateIngressAdmission(1, 3, 1030)
	}
	pc.CheckQueueFull(1, 3)
	require.Len(t, *frames, 1)
	f := (*frames)[0]
	assert.Equal(t, PortID(1), f.port)
	assert.Equal(t, uint32(5), f.hdr.Time)
	assert.Equal(t, uint16(3), f.hdr.Class)
	assert.Equal(t, uint32(21630), f.hdr.QLen)
	assert.True(t, pc.RemotePaused(1, 3))

	// the recheck at half the pause renews it while the class is still full
	recheck := TimerKey{Kind: pauseRecheckTimer, A: 1, B: 3}
	assert.InDelta(t, 2.5e-6, mt.due(recheck), 1e-12)
	mt.advance(3e-6)
	require.Len(t, *frames, 2)
	assert.Equal(t, uint32(5), (*frames)[1].hdr.Time)

	// drained below the off threshold: the next departure lifts the pause
	for idx := 0; idx < 4; idx++ {
		bm.RemoveFromIngressAdmission(1, 3, 1030)
	}
	pc.CheckQueueFull(1, 3)
	require.Len(t, *frames, 3)
	assert.Equal(t, uint32(0), (*frames)[2].hdr.Time)
	assert.False(t, pc.RemotePaused(1, 3))
	assert.False(t, mt.Pending(recheck))
}

func TestPauseController_RecheckResumes(t *testing.T) {
	pc, bm, mt, frames := testPauseController(t, DefaultBufferDesc())
	for idx := 0; idx < 21; idx++ {
		bm.UpdateIngressAdmission(0, 2, 1030)
	}
	pc.CheckQueueFull(0, 2)
	for idx := 0; idx < 21; idx++ {
		bm.RemoveFromIngressAdmission(0, 2, 1030)
	}
	mt.advance(3e-6)
	require.Len(t, *frames, 2)
	assert.Equal(t, uint32(0), (*frames)[1].hdr.Time)
	assert.False(t, pc.RemotePaused(0, 2))
}

func TestPauseController_ControlClassAndDisabled(t *testing.T) {
	pc, bm, _, frames := testPauseController(t, DefaultBufferDesc())
	for idx := 0; idx < 30; idx++ {
		bm.UpdateIngressAdmission(0, 7, 1030)
	}
	pc.CheckQueueFull(0, 7)
	assert.Empty(t, *frames)

	pc.desc.Enabled = false
	for idx := 0; idx < 30; idx++ {
		bm.UpdateIngressAdmission(0, 3, 1030)
	}
	pc.CheckQueueFull(0, 3)
	assert.Empty(t, *frames)
	assert.False(t, pc.RemotePaused(5, 3))
}
