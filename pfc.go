package lossless

// pfc.go holds priority flow control.  LinkPauseState is the receiving side: it
// records which classes the peer has asked this device to stop sending, and ends
// each pause when its duration elapses or a resume frame arrives.  PauseController
// is the generating side on a switch: it turns the BufferManager's pause and resume
// decisions into frames sent back to the upstream device.

import (
	"github.com/sirupsen/logrus"
)

// LinkPauseState tracks the paused classes of one transmitting device
type LinkPauseState struct {
	name     string
	objID    int
	port     PortID
	classes  int
	enabled  bool
	paused   ClassSet
	resumeAt []float64
	timers   Timers
	onResume func(ClassID)
	trace    *TraceManager
}

// CreateLinkPauseState is a constructor.  onResume is called whenever a class
// leaves the paused state, so the owner can restart transmission.
func CreateLinkPauseState(name string, objID int, port PortID, classes int, enabled bool,
	timers Timers, onResume func(ClassID), trace *TraceManager) *LinkPauseState {
	lps := new(LinkPauseState)
	lps.name = name
	lps.objID = objID
	lps.port = port
	lps.classes = classes
	lps.enabled = enabled
	lps.resumeAt = make([]float64, classes)
	lps.timers = timers
	lps.onResume = onResume
	lps.trace = trace
	return lps
}

func (lps *LinkPauseState) resumeKey(class ClassID) TimerKey {
	return TimerKey{Kind: pauseResumeTimer, A: int(lps.port), B: int(class)}
}

// OnPauseFrame applies a received pause frame.  A positive duration pauses the
// class until the duration elapses, replacing any earlier deadline; a zero
// duration resumes it at once.
func (lps *LinkPauseState) OnPauseFrame(hdr PauseHeader) {
	if !lps.enabled {
		return
	}
	class := ClassID(hdr.Class)
	if class < 0 || int(class) >= lps.classes {
		log.WithFields(logrus.Fields{"device": lps.name, "class": class}).Warn("pause frame for unknown class")
		lps.trace.traceEvent(lps.timers.Now(), lps.objID, TraceDiagnostic,
			ControlTrace{Port: int(lps.port), Class: int(class), Detail: "pause for unknown class"})
		return
	}
	if class == controlClass(lps.classes) {
		log.WithFields(logrus.Fields{"device": lps.name, "class": class}).Warn("pause frame for control class ignored")
		return
	}

	if hdr.Time == 0 {
		lps.Resume(class)
		return
	}

	duration := hdr.Seconds()
	now := lps.timers.Now()
	lps.paused = lps.paused.With(class)
	lps.resumeAt[class] = now + duration
	lps.timers.Arm(lps.resumeKey(class), duration, func() { lps.Resume(class) })
	lps.trace.traceEvent(now, lps.objID, TracePaused,
		ControlTrace{Port: int(lps.port), Class: int(class), Detail: "until " + formatSecs(now+duration)})
}

// Resume ends the pause on class, cancelling its pending resume timer
func (lps *LinkPauseState) Resume(class ClassID) {
	lps.timers.Cancel(lps.resumeKey(class))
	if !lps.paused.Has(class) {
		return
	}
	lps.paused = lps.paused.Without(class)
	lps.trace.traceEvent(lps.timers.Now(), lps.objID, TraceResumed,
		ControlTrace{Port: int(lps.port), Class: int(class)})
	if lps.onResume != nil {
		lps.onResume(class)
	}
}

// IsPaused reports whether class is paused
func (lps *LinkPauseState) IsPaused(class ClassID) bool {
	return lps.paused.Has(class)
}

// PausedClasses returns the set of paused classes
func (lps *LinkPauseState) PausedClasses() ClassSet {
	return lps.paused
}

// ResumeDeadline returns when the pause on class will lapse, if it is paused
func (lps *LinkPauseState) ResumeDeadline(class ClassID) (float64, bool) {
	if !lps.paused.Has(class) {
		return 0.0, false
	}
	return lps.resumeAt[class], true
}

// PauseController generates pause and resume frames for the ingress ports of a switch
type PauseController struct {
	name         string
	objID        int
	bm           *BufferManager
	classes      int
	timers       Timers
	desc         PfcDesc
	remotePaused [][]bool // per (ingress port, class): a pause we sent is outstanding
	send         func(port PortID, p *Packet)
	queueBytes   func(port PortID, class ClassID) int64
	trace        *TraceManager
}

// CreatePauseController is a constructor.  send transmits a frame out of the named
// port toward its upstream peer; queueBytes reports the depth carried in the frame.
func CreatePauseController(name string, objID int, bm *BufferManager, classes int, timers Timers, desc PfcDesc,
	send func(PortID, *Packet), queueBytes func(PortID, ClassID) int64, trace *TraceManager) *PauseController {
	pc := new(PauseController)
	pc.name = name
	pc.objID = objID
	pc.bm = bm
	pc.classes = classes
	pc.timers = timers
	pc.desc = desc
	pc.remotePaused = [][]bool{}
	pc.send = send
	pc.queueBytes = queueBytes
	pc.trace = trace
	return pc
}

// AddPort extends the controller for one more ingress port
func (pc *PauseController) AddPort() {
	pc.remotePaused = append(pc.remotePaused, make([]bool, pc.classes))
}

func (pc *PauseController) recheckKey(port PortID, class ClassID) TimerKey {
	return TimerKey{Kind: pauseRecheckTimer, A: int(port), B: int(class)}
}

// RemotePaused reports whether a pause sent upstream on (port, class) is outstanding
func (pc *PauseController) RemotePaused(port PortID, class ClassID) bool {
	if int(port) >= len(pc.remotePaused) || class < 0 || int(class) >= pc.classes {
		return false
	}
	return pc.remotePaused[port][class]
}

// CheckQueueFull is called after a packet of class is admitted on (or released from)
// ingress port.  It pauses the classes the BufferManager names, and for classes
// already paused upstream it either resumes them, once they have drained below their
// resume threshold, or renews the pause.
func (pc *PauseController) CheckQueueFull(port PortID, class ClassID) {
	if !pc.desc.Enabled || int(port) >= len(pc.remotePaused) {
		return
	}
	if class == controlClass(pc.classes) {
		return
	}

	toPause := pc.bm.GetPauseClasses(port, class)
	for _, c := range toPause.Classes() {
		pc.pause(port, c)
	}

	for c := ClassID(0); int(c) < pc.classes; c++ {
		if !pc.remotePaused[port][c] || toPause.Has(c) {
			continue
		}
		if pc.bm.GetResumeClasses(port, c) {
			pc.resume(port, c)
		}
	}
}

// recheck runs at half the pause duration while a pause is outstanding, so that the
// upstream pause is renewed before it lapses, or lifted once the class has drained
func (pc *PauseController) recheck(port PortID, class ClassID) {
	if !pc.remotePaused[port][class] {
		return
	}
	if pc.bm.GetResumeClasses(port, class) {
		pc.resume(port, class)
		return
	}
	pc.pause(port, class)
}

func (pc *PauseController) pause(port PortID, class ClassID) {
	hdr := PauseHeader{Time: pc.desc.PauseTime, QLen: uint32(pc.queueBytes(port, class)), Class: uint16(class)}
	pc.send(port, createPausePacket(pc.objID, hdr, pc.desc.FrameSize))
	pc.remotePaused[port][class] = true

	half := hdr.Seconds() / 2.0
	pc.timers.Arm(pc.recheckKey(port, class), half, func() { pc.recheck(port, class) })
	pc.trace.traceEvent(pc.timers.Now(), pc.objID, TracePauseSent,
		ControlTrace{Port: int(port), Class: int(class)})
}

func (pc *PauseController) resume(port PortID, class ClassID) {
	hdr := PauseHeader{Time: 0, QLen: uint32(pc.queueBytes(port, class)), Class: uint16(class)}
	pc.send(port, createPausePacket(pc.objID, hdr, pc.desc.FrameSize))
	pc.remotePaused[port][class] = false
	pc.timers.Cancel(pc.recheckKey(port, class))
	pc.trace.traceEvent(pc.timers.Now(), pc.objID, TraceResumeSent,
		ControlTrace{Port: int(port), Class: int(class)})
}
