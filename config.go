package lossless

// config.go holds the serializable descriptions of every configurable part of the
// fabric, their defaults, validation, and the yaml/json read and write functions

import (
	"encoding/json"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// cell is the accounting granularity the default buffer limits are expressed in
const cell int64 = 1030

// BufferDesc configures a switch's shared-buffer BufferManager.  All sizes are bytes.
type BufferDesc struct {
	// global capacity of the switch buffer
	MaxBuffer int64 `json:"maxbuffer" yaml:"maxbuffer"`

	// ingress service pool limit, per pool
	BufferCellLimitSP int64 `json:"buffercelllimitsp" yaml:"buffercelllimitsp"`

	// guaranteed bytes per (port, class) and per port
	PgMinCell   int64 `json:"pgmincell" yaml:"pgmincell"`
	PortMinCell int64 `json:"portmincell" yaml:"portmincell"`

	// static pause ceilings, per (port, class) and per port
	PgSharedLimitCell int64 `json:"pgsharedlimitcell" yaml:"pgsharedlimitcell"`
	PortMaxSharedCell int64 `json:"portmaxsharedcell" yaml:"portmaxsharedcell"`

	// static resume ("off") thresholds.  Independent of the pause ceilings,
	// but each must lie strictly below the ceiling it pairs with
	PgSharedLimitCellOff int64 `json:"pgsharedlimitcelloff" yaml:"pgsharedlimitcelloff"`
	PortMinCellOff       int64 `json:"portmincelloff" yaml:"portmincelloff"`

	// headroom limit per (port, class)
	PgHdrmLimit int64 `json:"pghdrmlimit" yaml:"pghdrmlimit"`

	// egress limits: service pool, port, queue shared, and queue guarantee
	OpBufferSharedLimitCell int64 `json:"opbuffersharedlimitcell" yaml:"opbuffersharedlimitcell"`
	OpUcPortConfigCell      int64 `json:"opucportconfigcell" yaml:"opucportconfigcell"`
	OpUcPortConfig1Cell     int64 `json:"opucportconfig1cell" yaml:"opucportconfig1cell"`
	QMinCell                int64 `json:"qmincell" yaml:"qmincell"`

	// ECN threshold pairs on egress queue occupancy
	QcnThreshold      int64   `json:"qcnthreshold" yaml:"qcnthreshold"`
	QcnThresholdMax   int64   `json:"qcnthresholdmax" yaml:"qcnthresholdmax"`
	QcnMaxP           float64 `json:"qcnmaxp" yaml:"qcnmaxp"`
	DctcpThreshold    int64   `json:"dctcpthreshold" yaml:"dctcpthreshold"`
	DctcpThresholdMax int64   `json:"dctcpthresholdmax" yaml:"dctcpthresholdmax"`

	// whether the DCTCP class takes part in PFC
	EnablePfcOnDctcp bool `json:"enablepfcondctcp" yaml:"enablepfcondctcp"`

	// dynamic threshold mode and its parameters
	DynamicThreshold     bool    `json:"dynamicthreshold" yaml:"dynamicthreshold"`
	PgSharedAlpha        float64 `json:"pgsharedalpha" yaml:"pgsharedalpha"`
	PgSharedAlphaOffDiff int64   `json:"pgsharedalphaoffdiff" yaml:"pgsharedalphaoffdiff"`
}

// DefaultBufferDesc returns the shared-buffer defaults of a Broadcom-style switch
func DefaultBufferDesc() BufferDesc {
	return BufferDesc{
		MaxBuffer:               9000000,
		BufferCellLimitSP:       4000 * cell,
		PgMinCell:               cell,
		PortMinCell:             cell,
		PgSharedLimitCell:       20 * cell,
		PortMaxSharedCell:       4800 * cell,
		PgSharedLimitCellOff:    18 * cell,
		PortMinCellOff:          4700 * cell,
		PgHdrmLimit:             100 * cell,
		OpBufferSharedLimitCell: 9000000,
		OpUcPortConfigCell:      9000000,
		OpUcPortConfig1Cell:     9000000,
		QMinCell:                cell,
		QcnThreshold:            60 * cell,
		QcnThresholdMax:         60 * cell,
		QcnMaxP:                 0.1,
		DctcpThreshold:          40 * cell,
		DctcpThresholdMax:       400 * cell,
		EnablePfcOnDctcp:        true,
		DynamicThreshold:        false,
		PgSharedAlpha:           16,
		PgSharedAlphaOffDiff:    16 * cell,
	}
}

// Validate checks the description, naming the first offending field of each problem found
func (bd *BufferDesc) Validate() error {
	errs := []error{}
	positive := map[string]int64{
		"buffer.maxbuffer":               bd.MaxBuffer,
		"buffer.buffercelllimitsp":       bd.BufferCellLimitSP,
		"buffer.pghdrmlimit":             bd.PgHdrmLimit,
		"buffer.opbuffersharedlimitcell": bd.OpBufferSharedLimitCell,
		"buffer.opucportconfigcell":      bd.OpUcPortConfigCell,
		"buffer.opucportconfig1cell":     bd.OpUcPortConfig1Cell,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			errs = append(errs, errors.Errorf("%s: must be positive, is %d", name, positive[name]))
		}
	}
	nonNeg := map[string]int64{
		"buffer.pgmincell":            bd.PgMinCell,
		"buffer.portmincell":          bd.PortMinCell,
		"buffer.qmincell":             bd.QMinCell,
		"buffer.pgsharedalphaoffdiff": bd.PgSharedAlphaOffDiff,
	}
	for _, name := range sortedKeys(nonNeg) {
		if nonNeg[name] < 0 {
			errs = append(errs, errors.Errorf("%s: must not be negative, is %d", name, nonNeg[name]))
		}
	}
	if bd.PgSharedLimitCellOff >= bd.PgSharedLimitCell {
		errs = append(errs, errors.Errorf("buffer.pgsharedlimitcelloff: %d must be below pgsharedlimitcell %d",
			bd.PgSharedLimitCellOff, bd.PgSharedLimitCell))
	}
	if bd.PortMinCellOff >= bd.PortMaxSharedCell {
		errs = append(errs, errors.Errorf("buffer.portmincelloff: %d must be below portmaxsharedcell %d",
			bd.PortMinCellOff, bd.PortMaxSharedCell))
	}
	if bd.PgMinCell > bd.PgSharedLimitCell {
		errs = append(errs, errors.Errorf("buffer.pgmincell: %d exceeds pgsharedlimitcell %d",
			bd.PgMinCell, bd.PgSharedLimitCell))
	}
	if bd.QcnThreshold < 0 || bd.QcnThreshold > bd.QcnThresholdMax {
		errs = append(errs, errors.Errorf("buffer.qcnthreshold: %d must lie in [0, qcnthresholdmax %d]",
			bd.QcnThreshold, bd.QcnThresholdMax))
	}
	if bd.DctcpThreshold < 0 || bd.DctcpThreshold > bd.DctcpThresholdMax {
		errs = append(errs, errors.Errorf("buffer.dctcpthreshold: %d must lie in [0, dctcpthresholdmax %d]",
			bd.DctcpThreshold, bd.DctcpThresholdMax))
	}
	if bd.QcnMaxP < 0.0 || bd.QcnMaxP > 1.0 {
		errs = append(errs, errors.Errorf("buffer.qcnmaxp: %g outside [0,1]", bd.QcnMaxP))
	}
	if bd.PgSharedAlpha <= 0.0 {
		errs = append(errs, errors.Errorf("buffer.pgsharedalpha: must be positive, is %g", bd.PgSharedAlpha))
	}
	return ReportErrs(errs)
}

// SchedDesc configures the egress queues of switch ports and NICs
type SchedDesc struct {
	// number of priority classes on switch ports
	Classes int `json:"classes" yaml:"classes"`

	// number of flow queues on a NIC using the flow-aware discipline
	FlowQueues int `json:"flowqueues" yaml:"flowqueues"`

	SwitchDiscipline string `json:"switchdiscipline" yaml:"switchdiscipline"`
	NICDiscipline    string `json:"nicdiscipline" yaml:"nicdiscipline"`

	// capacity of a port's queue set, bytes
	MaxBytes int64 `json:"maxbytes" yaml:"maxbytes"`

	// guaranteed-floor rate of each class under weighted round robin, bits/sec.
	// ClassMinBW entries override MinBandwidth for the classes they cover
	MinBandwidth float64   `json:"minbandwidth" yaml:"minbandwidth"`
	ClassMinBW   []float64 `json:"classminbw" yaml:"classminbw"`

	// inter-frame gap, seconds
	IFG float64 `json:"ifg" yaml:"ifg"`
}

// DefaultSchedDesc returns the scheduler defaults
func DefaultSchedDesc() SchedDesc {
	return SchedDesc{
		Classes:          8,
		FlowQueues:       128,
		SwitchDiscipline: "wrr",
		NICDiscipline:    "rr",
		MaxBytes:         30000 * cell,
		MinBandwidth:     1e9,
		ClassMinBW:       []float64{},
		IFG:              0.0,
	}
}

// minBW returns the guaranteed-floor rate of class c
func (sd *SchedDesc) minBW(c int) float64 {
	if c < len(sd.ClassMinBW) && sd.ClassMinBW[c] > 0.0 {
		return sd.ClassMinBW[c]
	}
	return sd.MinBandwidth
}

// Validate checks the description
func (sd *SchedDesc) Validate() error {
	errs := []error{}
	if sd.Classes < 2 || sd.Classes > MaxClasses {
		errs = append(errs, errors.Errorf("scheduler.classes: %d outside [2,%d]", sd.Classes, MaxClasses))
	}
	if sd.FlowQueues < 1 || sd.FlowQueues > 1024 {
		errs = append(errs, errors.Errorf("scheduler.flowqueues: %d outside [1,1024]", sd.FlowQueues))
	}
	switch DisciplineFromStr(sd.SwitchDiscipline) {
	case StrictPriority, WeightedRoundRobin:
	default:
		errs = append(errs, errors.Errorf("scheduler.switchdiscipline: %q not usable on a switch", sd.SwitchDiscipline))
	}
	switch DisciplineFromStr(sd.NICDiscipline) {
	case RoundRobin, StrictPriority, FlowAwareQCN:
	default:
		errs = append(errs, errors.Errorf("scheduler.nicdiscipline: %q not usable on a NIC", sd.NICDiscipline))
	}
	if sd.MaxBytes <= 0 {
		errs = append(errs, errors.Errorf("scheduler.maxbytes: must be positive, is %d", sd.MaxBytes))
	}
	if sd.MinBandwidth <= 0.0 {
		errs = append(errs, errors.Errorf("scheduler.minbandwidth: must be positive, is %g", sd.MinBandwidth))
	}
	for idx, bw := range sd.ClassMinBW {
		if bw < 0.0 {
			errs = append(errs, errors.Errorf("scheduler.classminbw[%d]: negative rate %g", idx, bw))
		}
	}
	if sd.IFG < 0.0 {
		errs = append(errs, errors.Errorf("scheduler.ifg: negative gap %g", sd.IFG))
	}
	return ReportErrs(errs)
}

// PfcDesc configures priority flow control
type PfcDesc struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// pause duration requested in generated frames, microseconds
	PauseTime uint32 `json:"pausetime" yaml:"pausetime"`

	// size of a pause frame on the wire, bytes
	FrameSize int `json:"framesize" yaml:"framesize"`
}

// DefaultPfcDesc returns the PFC defaults
func DefaultPfcDesc() PfcDesc {
	return PfcDesc{Enabled: true, PauseTime: 5, FrameSize: 64}
}

// Validate checks the description
func (pd *PfcDesc) Validate() error {
	errs := []error{}
	if pd.Enabled && pd.PauseTime == 0 {
		errs = append(errs, errors.New("pfc.pausetime: must be positive when pfc is enabled"))
	}
	if pd.FrameSize <= 0 {
		errs = append(errs, errors.Errorf("pfc.framesize: must be positive, is %d", pd.FrameSize))
	}
	return ReportErrs(errs)
}

// QcnDesc configures congestion notification and the QCN reaction point.
// Rates are bits/sec, intervals seconds.
type QcnDesc struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	G                   float64 `json:"g" yaml:"g"`
	InitialAlpha        float64 `json:"initialalpha" yaml:"initialalpha"`
	MinRate             float64 `json:"minrate" yaml:"minrate"`
	ByteCounter         int64   `json:"bytecounter" yaml:"bytecounter"`
	RateAI              float64 `json:"rateai" yaml:"rateai"`
	RateHAI             float64 `json:"ratehai" yaml:"ratehai"`
	RpgTimeReset        float64 `json:"rpgtimereset" yaml:"rpgtimereset"`
	RpgThreshold        int     `json:"rpgthreshold" yaml:"rpgthreshold"`
	AlphaResumeInterval float64 `json:"alpharesumeinterval" yaml:"alpharesumeinterval"`

	// period of the receiver's congestion-notification check, and the
	// hold-off after a notification before ECN marks count again
	CNInterval         float64 `json:"cninterval" yaml:"cninterval"`
	NPSamplingInterval float64 `json:"npsamplinginterval" yaml:"npsamplinginterval"`

	// when the target rate snapshots the current rate on a notification:
	// "always", "afterbyteincrease", or "afteranyincrease"
	ClampTarget string `json:"clamptarget" yaml:"clamptarget"`

	// number of hops a flow keeps state for
	MaxHops int `json:"maxhops" yaml:"maxhops"`

	// size of a congestion notification packet, bytes
	CNSize int `json:"cnsize" yaml:"cnsize"`
}

// DefaultQcnDesc returns the QCN defaults
func DefaultQcnDesc() QcnDesc {
	return QcnDesc{
		Enabled:             false,
		G:                   1.0 / 16,
		InitialAlpha:        0.5,
		MinRate:             100e6,
		ByteCounter:         150000,
		RateAI:              5e6,
		RateHAI:             50e6,
		RpgTimeReset:        1500e-6,
		RpgThreshold:        5,
		AlphaResumeInterval: 55e-6,
		CNInterval:          50e-6,
		NPSamplingInterval:  0.0,
		ClampTarget:         "always",
		MaxHops:             1,
		CNSize:              64,
	}
}

// Validate checks the description.  MinRate is checked against each NIC link
// as it is connected, see ValidateLinkRate.
func (qd *QcnDesc) Validate() error {
	errs := []error{}
	if qd.G <= 0.0 || qd.G > 1.0 {
		errs = append(errs, errors.Errorf("qcn.g: %g outside (0,1]", qd.G))
	}
	if qd.InitialAlpha < 0.0 || qd.InitialAlpha > 1.0 {
		errs = append(errs, errors.Errorf("qcn.initialalpha: %g outside [0,1]", qd.InitialAlpha))
	}
	if qd.MinRate <= 0.0 {
		errs = append(errs, errors.Errorf("qcn.minrate: must be positive, is %g", qd.MinRate))
	}
	if qd.ByteCounter <= 0 {
		errs = append(errs, errors.Errorf("qcn.bytecounter: must be positive, is %d", qd.ByteCounter))
	}
	if qd.RateAI < 0.0 || qd.RateHAI < 0.0 {
		errs = append(errs, errors.Errorf("qcn.rateai/ratehai: negative increase step (%g, %g)", qd.RateAI, qd.RateHAI))
	}
	if qd.RpgTimeReset <= 0.0 {
		errs = append(errs, errors.Errorf("qcn.rpgtimereset: must be positive, is %g", qd.RpgTimeReset))
	}
	if qd.RpgThreshold < 1 {
		errs = append(errs, errors.Errorf("qcn.rpgthreshold: must be at least 1, is %d", qd.RpgThreshold))
	}
	if qd.AlphaResumeInterval <= 0.0 {
		errs = append(errs, errors.Errorf("qcn.alpharesumeinterval: must be positive, is %g", qd.AlphaResumeInterval))
	}
	if qd.CNInterval <= 0.0 {
		errs = append(errs, errors.Errorf("qcn.cninterval: must be positive, is %g", qd.CNInterval))
	}
	if qd.NPSamplingInterval < 0.0 {
		errs = append(errs, errors.Errorf("qcn.npsamplinginterval: negative interval %g", qd.NPSamplingInterval))
	}
	if clampModeFromStr(qd.ClampTarget) == unknownClamp {
		errs = append(errs, errors.Errorf("qcn.clamptarget: unrecognized mode %q", qd.ClampTarget))
	}
	if qd.MaxHops < 1 {
		errs = append(errs, errors.Errorf("qcn.maxhops: must be at least 1, is %d", qd.MaxHops))
	}
	return ReportErrs(errs)
}

// ValidateLinkRate checks that the rate floor fits under a NIC link of linkRate bits/sec
func (qd *QcnDesc) ValidateLinkRate(linkRate float64) error {
	if qd.MinRate > linkRate {
		return errors.Errorf("qcn.minrate: %g above link rate %g", qd.MinRate, linkRate)
	}
	return nil
}

// TimelyDesc configures the TIMELY controller.  Rates are bits/sec, times seconds, sizes bytes.
type TimelyDesc struct {
	LinkRate        float64 `json:"linkrate" yaml:"linkrate"`
	InitRate        float64 `json:"initrate" yaml:"initrate"`
	Delta           float64 `json:"delta" yaml:"delta"`
	THigh           float64 `json:"thigh" yaml:"thigh"`
	TLow            float64 `json:"tlow" yaml:"tlow"`
	MinRtt          float64 `json:"minrtt" yaml:"minrtt"`
	Beta            float64 `json:"beta" yaml:"beta"`
	Alpha           float64 `json:"alpha" yaml:"alpha"`
	BurstSize       int     `json:"burstsize" yaml:"burstsize"`
	PacketSize      int     `json:"packetsize" yaml:"packetsize"`
	MinRateMultiple float64 `json:"minratemultiple" yaml:"minratemultiple"`
	MaxRateMultiple float64 `json:"maxratemultiple" yaml:"maxratemultiple"`

	// consecutive negative-gradient updates before hyperactive increase, and its multiplier
	HaiThreshold  int     `json:"haithreshold" yaml:"haithreshold"`
	HaiMultiplier float64 `json:"haimultiplier" yaml:"haimultiplier"`
}

// DefaultTimelyDesc returns the TIMELY defaults
func DefaultTimelyDesc() TimelyDesc {
	return TimelyDesc{
		LinkRate:        10e9,
		InitRate:        1e9,
		Delta:           10e6,
		THigh:           500e-6,
		TLow:            50e-6,
		MinRtt:          20e-6,
		Beta:            0.8,
		Alpha:           0.875,
		BurstSize:       16000,
		PacketSize:      1000,
		MinRateMultiple: 0.01,
		MaxRateMultiple: 0.96,
		HaiThreshold:    5,
		HaiMultiplier:   5,
	}
}

// Validate checks the description
func (td *TimelyDesc) Validate() error {
	errs := []error{}
	if td.LinkRate <= 0.0 {
		errs = append(errs, errors.Errorf("timely.linkrate: must be positive, is %g", td.LinkRate))
	}
	if td.InitRate <= 0.0 {
		errs = append(errs, errors.Errorf("timely.initrate: must be positive, is %g", td.InitRate))
	}
	if td.Delta < 0.0 {
		errs = append(errs, errors.Errorf("timely.delta: negative step %g", td.Delta))
	}
	if td.TLow <= 0.0 || td.TLow >= td.THigh {
		errs = append(errs, errors.Errorf("timely.tlow: %g must lie in (0, thigh %g)", td.TLow, td.THigh))
	}
	if td.MinRtt <= 0.0 {
		errs = append(errs, errors.Errorf("timely.minrtt: must be positive, is %g", td.MinRtt))
	}
	if td.Beta <= 0.0 || td.Beta > 1.0 {
		errs = append(errs, errors.Errorf("timely.beta: %g outside (0,1]", td.Beta))
	}
	if td.Alpha <= 0.0 || td.Alpha > 1.0 {
		errs = append(errs, errors.Errorf("timely.alpha: %g outside (0,1]", td.Alpha))
	}
	if td.PacketSize <= 0 || td.BurstSize < td.PacketSize {
		errs = append(errs, errors.Errorf("timely.burstsize: %d must hold at least one packet of %d bytes",
			td.BurstSize, td.PacketSize))
	}
	if td.MinRateMultiple <= 0.0 || td.MinRateMultiple > td.MaxRateMultiple || td.MaxRateMultiple > 1.0 {
		errs = append(errs, errors.Errorf("timely.minratemultiple: need 0 < %g <= maxratemultiple %g <= 1",
			td.MinRateMultiple, td.MaxRateMultiple))
	}
	if td.HaiThreshold < 1 || td.HaiMultiplier < 1.0 {
		errs = append(errs, errors.Errorf("timely.haithreshold: need threshold >= 1 and multiplier >= 1, have (%d, %g)",
			td.HaiThreshold, td.HaiMultiplier))
	}
	return ReportErrs(errs)
}

// ReliableDesc configures the layer-2 reliable delivery mechanism
type ReliableDesc struct {
	// chunk size in packets, zero disables chunk mode
	ChunkSize uint32 `json:"chunksize" yaml:"chunksize"`

	// ACK interval in packets, zero disables ACKs
	AckInterval uint32 `json:"ackinterval" yaml:"ackinterval"`

	// NACK debounce interval, seconds
	NackInterval float64 `json:"nackinterval" yaml:"nackinterval"`

	// go back to the start of the chunk holding the gap
	GoBackToChunkStart bool `json:"gobacktochunkstart" yaml:"gobacktochunkstart"`

	// in go-back mode, still report the exact expected sequence
	TestRead bool `json:"testread" yaml:"testread"`

	WaitForAck      bool    `json:"waitforack" yaml:"waitforack"`
	WaitForAckTimer float64 `json:"waitforacktimer" yaml:"waitforacktimer"`

	SendBufferCap int `json:"sendbuffercap" yaml:"sendbuffercap"`

	// size of ACK and NACK packets, bytes
	ControlSize int `json:"controlsize" yaml:"controlsize"`
}

// DefaultReliableDesc returns the reliable delivery defaults
func DefaultReliableDesc() ReliableDesc {
	return ReliableDesc{
		ChunkSize:          0,
		AckInterval:        0,
		NackInterval:       500e-6,
		GoBackToChunkStart: false,
		TestRead:           false,
		WaitForAck:         false,
		WaitForAckTimer:    500e-6,
		SendBufferCap:      8000,
		ControlSize:        64,
	}
}

// Validate checks the description
func (rd *ReliableDesc) Validate() error {
	errs := []error{}
	if rd.NackInterval < 0.0 {
		errs = append(errs, errors.Errorf("reliable.nackinterval: negative interval %g", rd.NackInterval))
	}
	if rd.GoBackToChunkStart && rd.ChunkSize == 0 {
		errs = append(errs, errors.New("reliable.gobacktochunkstart: requires a non-zero chunksize"))
	}
	if rd.WaitForAck && (rd.ChunkSize == 0 || rd.AckInterval == 0) {
		errs = append(errs, errors.New("reliable.waitforack: requires non-zero chunksize and ackinterval"))
	}
	if rd.WaitForAck && rd.WaitForAckTimer <= 0.0 {
		errs = append(errs, errors.Errorf("reliable.waitforacktimer: must be positive, is %g", rd.WaitForAckTimer))
	}
	if rd.SendBufferCap < 1 {
		errs = append(errs, errors.Errorf("reliable.sendbuffercap: must be at least 1, is %d", rd.SendBufferCap))
	}
	if rd.ControlSize <= 0 {
		errs = append(errs, errors.Errorf("reliable.controlsize: must be positive, is %d", rd.ControlSize))
	}
	return ReportErrs(errs)
}

// LogDesc configures logging
type LogDesc struct {
	Level  string `json:"level" yaml:"level"`
	Prefix string `json:"prefix" yaml:"prefix"`
}

// TraceDesc configures the control-event trace
type TraceDesc struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	File    string `json:"file" yaml:"file"`
}

// FabricCfg gathers the descriptions used to build a Fabric
type FabricCfg struct {
	Name     string       `json:"name" yaml:"name"`
	Buffer   BufferDesc   `json:"buffer" yaml:"buffer"`
	Sched    SchedDesc    `json:"scheduler" yaml:"scheduler"`
	Pfc      PfcDesc      `json:"pfc" yaml:"pfc"`
	Qcn      QcnDesc      `json:"qcn" yaml:"qcn"`
	Timely   TimelyDesc   `json:"timely" yaml:"timely"`
	Reliable ReliableDesc `json:"reliable" yaml:"reliable"`
	Log      LogDesc      `json:"log" yaml:"log"`
	Trace    TraceDesc    `json:"trace" yaml:"trace"`

	// run-time overrides applied to nodes and ports after they are built
	Parameters []ExpParameter `json:"parameters" yaml:"parameters"`
}

// DefaultFabricCfg returns a configuration holding every default
func DefaultFabricCfg(name string) *FabricCfg {
	fc := new(FabricCfg)
	fc.Name = name
	fc.Buffer = DefaultBufferDesc()
	fc.Sched = DefaultSchedDesc()
	fc.Pfc = DefaultPfcDesc()
	fc.Qcn = DefaultQcnDesc()
	fc.Timely = DefaultTimelyDesc()
	fc.Reliable = DefaultReliableDesc()
	fc.Log = LogDesc{Level: "info"}
	fc.Trace = TraceDesc{}
	fc.Parameters = []ExpParameter{}
	return fc
}

// Validate checks every part of the configuration and returns all the problems found
func (fc *FabricCfg) Validate() error {
	errs := []error{
		fc.Buffer.Validate(),
		fc.Sched.Validate(),
		fc.Pfc.Validate(),
		fc.Qcn.Validate(),
		fc.Timely.Validate(),
		fc.Reliable.Validate(),
	}
	if fc.Qcn.Enabled && DisciplineFromStr(fc.Sched.NICDiscipline) != FlowAwareQCN {
		errs = append(errs, errors.Errorf("qcn.enabled: requires scheduler.nicdiscipline \"qcn\", have %q",
			fc.Sched.NICDiscipline))
	}
	if fc.Log.Level != "" {
		if _, err := parseLevel(fc.Log.Level); err != nil {
			errs = append(errs, errors.Wrap(err, "log.level"))
		}
	}
	for idx := range fc.Parameters {
		if err := fc.Parameters[idx].Validate(); err != nil {
			errs = append(errs, errors.Wrapf(err, "parameters[%d]", idx))
		}
	}
	return ReportErrs(errs)
}

// WriteToFile stores the FabricCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (fc *FabricCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*fc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*fc, "", "\t")
	} else {
		return errors.Errorf("unrecognized extension on [%s]", filename)
	}

	if merr != nil {
		return errors.Wrap(merr, "unable to encode fabric configuration")
	}

	if werr := os.WriteFile(filename, bytes, 0644); werr != nil {
		return errors.Wrapf(werr, "error writing [%s]", filename)
	}
	return nil
}

// ReadFabricCfg deserializes a byte slice holding a representation of a FabricCfg struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  Fields absent from the input keep their defaults.  The result is validated.
func ReadFabricCfg(filename string, useYAML bool, dict []byte) (*FabricCfg, error) {
	var err error

	// if the dict slice of bytes is empty we get them from the file whose name is an argument
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading [%s]", filename)
		}
	}

	example := DefaultFabricCfg("")

	if useYAML {
		err = yaml.Unmarshal(dict, example)
	} else {
		err = json.Unmarshal(dict, example)
	}

	if err != nil {
		return nil, errors.Wrap(err, "unable to decode fabric configuration")
	}

	if verr := example.Validate(); verr != nil {
		return nil, verr
	}

	return example, nil
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}
