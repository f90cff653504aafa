package lossless

// timer.go holds a keyed timer service built on the evtm event manager.
// Every timed action in the package is armed through it: pause resume,
// pause recheck, rate increase, alpha decay, retransmission, congestion
// notification checks and deferred dequeues.
//
// Arming a key that already has a pending timer replaces the pending one.
// The superseded event is still delivered by evtm, but its generation no
// longer matches the key's entry and the handler returns without acting.

import (
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// TimerKind separates the key spaces of the different timed actions
type TimerKind int

const (
	pauseResumeTimer TimerKind = iota
	pauseRecheckTimer
	rateIncreaseTimer
	alphaDecayTimer
	retransmitTimer
	cnCheckTimer
	dequeueTimer
	appTimer
)

// TimerKey names a timer.  A and B hold the (port, class), (flow, hop) or
// other index pair the timer belongs to.
type TimerKey struct {
	Kind TimerKind
	A, B int
}

// TimerHandle identifies one arming of a key
type TimerHandle struct {
	Key TimerKey
	gen uint64
}

// Clock reports the current simulation time in seconds
type Clock interface {
	Now() float64
}

// Timers is what the flow- and rate-control code needs from the event engine
type Timers interface {
	Clock
	Arm(key TimerKey, delay float64, fire func()) TimerHandle
	Cancel(key TimerKey) bool
	Pending(key TimerKey) bool
}

type timerEntry struct {
	gen  uint64
	due  float64
	fire func()
}

// EventTimers implements Timers on an evtm.EventManager
type EventTimers struct {
	evtMgr  *evtm.EventManager
	pending map[TimerKey]*timerEntry
	nxtGen  uint64
}

// CreateEventTimers is a constructor
func CreateEventTimers(evtMgr *evtm.EventManager) *EventTimers {
	et := new(EventTimers)
	et.evtMgr = evtMgr
	et.pending = make(map[TimerKey]*timerEntry)
	return et
}

// Now returns the event manager's current time in seconds
func (et *EventTimers) Now() float64 {
	return et.evtMgr.CurrentSeconds()
}

// Arm schedules fire to run delay seconds from now, replacing any timer pending on key
func (et *EventTimers) Arm(key TimerKey, delay float64, fire func()) TimerHandle {
	if delay < 0.0 {
		delay = 0.0
	}
	ticks := delayTicks(delay)
	et.nxtGen += 1
	entry := &timerEntry{gen: et.nxtGen, due: et.Now() + vrtime.TicksToSeconds(ticks), fire: fire}
	et.pending[key] = entry

	handle := TimerHandle{Key: key, gen: entry.gen}
	et.evtMgr.Schedule(et, handle, timerFired, vrtime.CreateTime(ticks, 0))
	return handle
}

// delayTicks converts a delay to whole ticks.  A positive delay shorter than half a
// tick still takes one, so a timer armed for later never fires at the current instant.
func delayTicks(delay float64) int64 {
	ticks := vrtime.SecondsToTicks(delay)
	if delay > 0.0 && ticks == 0 {
		ticks = 1
	}
	return ticks
}

// Cancel removes the pending timer on key, returning true if there was one
func (et *EventTimers) Cancel(key TimerKey) bool {
	_, present := et.pending[key]
	delete(et.pending, key)
	return present
}

// CancelHandle cancels the timer only if handle is still the current arming of its key
func (et *EventTimers) CancelHandle(handle TimerHandle) bool {
	entry, present := et.pending[handle.Key]
	if !present || entry.gen != handle.gen {
		return false
	}
	delete(et.pending, handle.Key)
	return true
}

// Pending reports whether key has a timer waiting to fire
func (et *EventTimers) Pending(key TimerKey) bool {
	_, present := et.pending[key]
	return present
}

// Due returns the firing time of the timer pending on key
func (et *EventTimers) Due(key TimerKey) (float64, bool) {
	entry, present := et.pending[key]
	if !present {
		return 0.0, false
	}
	return entry.due, true
}

// timerFired is the evtm handler for every armed timer
func timerFired(evtMgr *evtm.EventManager, context any, data any) any {
	et := context.(*EventTimers)
	handle := data.(TimerHandle)

	entry, present := et.pending[handle.Key]

	// cancelled, or replaced by a later Arm
	if !present || entry.gen != handle.gen {
		return nil
	}
	delete(et.pending, handle.Key)
	entry.fire()
	return nil
}
