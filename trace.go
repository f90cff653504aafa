package lossless

import (
	"encoding/json"
	"os"
	"path"
	"strconv"

	"github.com/iti/evt/vrtime"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TraceOp enumerates the control events a trace records
type TraceOp int

const (
	TracePaused TraceOp = iota
	TraceResumed
	TracePauseSent
	TraceResumeSent
	TraceRateUpdate
	TraceCNSent
	TraceAckSent
	TraceNackSent
	TraceRetransmit
	TraceDrop
	TraceDiagnostic
)

var traceOpToStr map[TraceOp]string = map[TraceOp]string{
	TracePaused:     "paused",
	TraceResumed:    "resumed",
	TracePauseSent:  "pause-sent",
	TraceResumeSent: "resume-sent",
	TraceRateUpdate: "rate",
	TraceCNSent:     "cn-sent",
	TraceAckSent:    "ack-sent",
	TraceNackSent:   "nack-sent",
	TraceRetransmit: "retransmit",
	TraceDrop:       "drop",
	TraceDiagnostic: "diagnostic",
}

func (op TraceOp) String() string {
	str, present := traceOpToStr[op]
	if !present {
		return "unknown"
	}
	return str
}

// TraceInst is one serialized trace record
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType is a an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers control events of a run: pauses and resumes, rate updates,
// notifications, drops and diagnostics.  A nil *TraceManager is inactive.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, by objID
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`

	// count of records by objID and op, not serialized
	counts map[int]map[TraceOp]int
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	tm.counts = make(map[int]map[TraceOp]int)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddTrace stores a record against objID
func (tm *TraceManager) AddTrace(vrt vrtime.Time, objID int, trace TraceInst) {
	if !tm.Active() {
		return
	}
	tm.Traces[objID] = append(tm.Traces[objID], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) error {
	if !tm.Active() {
		return nil
	}
	if _, present := tm.NameByID[id]; present {
		return errors.Errorf("duplicated id %d in AddName", id)
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	return nil
}

// Count returns the number of records of op stored against objID
func (tm *TraceManager) Count(objID int, op TraceOp) int {
	if !tm.Active() {
		return 0
	}
	return tm.counts[objID][op]
}

// WriteToFile stores the Traces struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) (bool, error) {
	if !tm.Active() {
		return false, nil
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tm)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	} else {
		return false, errors.Errorf("unrecognized extension on [%s]", filename)
	}

	if merr != nil {
		return false, errors.Wrap(merr, "unable to encode trace")
	}

	if werr := os.WriteFile(filename, bytes, 0644); werr != nil {
		return false, errors.Wrapf(werr, "error writing [%s]", filename)
	}
	return true, nil
}

// ControlTrace describes one control event
type ControlTrace struct {
	Time     float64 `json:"time" yaml:"time"`
	Ticks    int64   `json:"ticks" yaml:"ticks"`
	Priority int64   `json:"priority" yaml:"priority"`
	ObjID    int     `json:"objid" yaml:"objid"`
	Op       string  `json:"op" yaml:"op"`
	Port     int     `json:"port" yaml:"port"`
	Class    int     `json:"class" yaml:"class"`
	Flow     int     `json:"flow" yaml:"flow"`
	Hop      int     `json:"hop" yaml:"hop"`
	Rate     float64 `json:"rate" yaml:"rate"`
	Detail   string  `json:"detail" yaml:"detail"`
}

// Serialize returns the yaml form of the record
func (ct *ControlTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*ct)
	if merr != nil {
		return ""
	}
	return string(bytes[:])
}

// traceEvent records op against objID at simulation time now.  The record's
// Time, ObjID and Op fields are filled in here.
func (tm *TraceManager) traceEvent(now float64, objID int, op TraceOp, ct ControlTrace) {
	if !tm.Active() {
		return
	}
	vrt := vrtime.SecondsToTime(now)
	ct.Time = vrt.Seconds()
	ct.Ticks = vrt.Ticks()
	ct.Priority = vrt.Pri()
	ct.ObjID = objID
	ct.Op = op.String()

	if tm.counts == nil {
		tm.counts = make(map[int]map[TraceOp]int)
	}
	if _, present := tm.counts[objID]; !present {
		tm.counts[objID] = make(map[TraceOp]int)
	}
	tm.counts[objID][op] += 1

	traceTime := strconv.FormatFloat(now, 'f', -1, 64)
	tm.AddTrace(vrt, objID, TraceInst{TraceTime: traceTime, TraceType: "control", TraceStr: ct.Serialize()})
}

func formatSecs(t float64) string {
	return strconv.FormatFloat(t, 'g', -1, 64)
}

func formatSeq(seq uint32) string {
	return strconv.FormatUint(uint64(seq), 10)
}
