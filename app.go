package lossless

// app.go holds the traffic endpoints that run on NICs: an open-loop source whose
// inter-arrival times are drawn from a distribution, a counting sink, and the
// two ends of a TIMELY flow, which paces bursts by RTTs echoed from the receiver

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Schedulable is satisfied by the endpoints that originate traffic
type Schedulable interface {
	Start(fab *Fabric)
	Stop()
}

// endpoint kinds; endpoints of different kinds may share a source port
const (
	sourceApp = iota
	timelyApp
)

// appTimerKey names the timer of the endpoint of kind app sending from srcPort
func appTimerKey(app int, srcPort uint16) TimerKey {
	return TimerKey{Kind: appTimer, A: int(srcPort), B: app}
}

// expRV returns a sample of a exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV has the function signature expected by a TrafficSource
// for calling a next interarrival time
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}

// sampleConst has the function signature expected by a TrafficSource
// for calling a next interarrival time, here, a constant
func sampleConst(u01 float64, params []float64) float64 {
	return 1.0 / params[0]
}

// SourceDesc describes the traffic a TrafficSource generates
type SourceDesc struct {
	Dst     string  `json:"dst" yaml:"dst"`
	Class   int     `json:"class" yaml:"class"`
	SrcPort uint16  `json:"srcport" yaml:"srcport"`
	DstPort uint16  `json:"dstport" yaml:"dstport"`
	PktSize int     `json:"pktsize" yaml:"pktsize"`
	Rate    float64 `json:"rate" yaml:"rate"` // packets/sec
	Dist    string  `json:"dist" yaml:"dist"` // "exp" or "const"
	Limit   int     `json:"limit" yaml:"limit"`
}

// TrafficSource sends a stream of sequenced data packets from a NIC
type TrafficSource struct {
	nic      *Node
	dst      int
	desc     SourceDesc
	sample   func(float64, []float64) float64
	nxtSeq   uint32
	sent     int
	rejected int
	active   bool
}

// CreateTrafficSource is a constructor.  The destination must be a NIC of fab.
func CreateTrafficSource(fab *Fabric, nic *Node, desc SourceDesc) (*TrafficSource, error) {
	dst, present := fab.Node(desc.Dst)
	if !present || dst.IsSwitch() {
		return nil, errors.Errorf("traffic source on %s: destination %q is not a NIC", nic.name, desc.Dst)
	}
	if desc.Rate <= 0.0 || desc.PktSize <= 0 {
		return nil, errors.Errorf("traffic source on %s: rate %g and packet size %d must be positive", nic.name, desc.Rate, desc.PktSize)
	}
	ts := &TrafficSource{nic: nic, dst: dst.id, desc: desc}
	switch desc.Dist {
	case "const", "constant":
		ts.sample = sampleConst
	case "", "exp", "exponential", "expon":
		ts.sample = sampleExpRV
	default:
		return nil, errors.Errorf("traffic source on %s: unknown distribution %q", nic.name, desc.Dist)
	}
	return ts, nil
}

// Start sends the first packet now
func (ts *TrafficSource) Start(fab *Fabric) {
	ts.active = true
	ts.emit(fab)
}

// Stop ends generation; packets already queued still go out
func (ts *TrafficSource) Stop() {
	ts.active = false
	ts.nic.timers.Cancel(appTimerKey(sourceApp, ts.desc.SrcPort))
}

// Sent returns the number of packets accepted by the NIC and the number it refused
func (ts *TrafficSource) Sent() (int, int) {
	return ts.sent, ts.rejected
}

func (ts *TrafficSource) emit(fab *Fabric) {
	if !ts.active || (ts.desc.Limit > 0 && ts.sent >= ts.desc.Limit) {
		return
	}
	hdr := DataHeader{Seq: ts.nxtSeq, Class: uint16(ts.desc.Class), Timestamp: nanoseconds(ts.nic.timers.Now())}
	p := CreateDataPacket(ts.nic.id, ts.dst, ts.desc.SrcPort, ts.desc.DstPort, ts.desc.PktSize, hdr)
	if fab.Send(ts.nic, p) {
		ts.nxtSeq += 1
		ts.sent += 1
	} else {
		ts.rejected += 1
	}

	delay := ts.sample(ts.nic.rng.RandU01(), []float64{ts.desc.Rate})
	ts.nic.timers.Arm(appTimerKey(sourceApp, ts.desc.SrcPort), delay, func() { ts.emit(fab) })
}

// PacketCounter is a sink that counts what a NIC delivers to its port
type PacketCounter struct {
	Packets int
	Bytes   int64
	Marked  int
	LastSeq map[int]uint32
}

// CreatePacketCounter is a constructor
func CreatePacketCounter() *PacketCounter {
	return &PacketCounter{LastSeq: make(map[int]uint32)}
}

// Receive counts p
func (pc *PacketCounter) Receive(fab *Fabric, p *Packet) {
	pc.Packets += 1
	pc.Bytes += int64(p.Size)
	if p.ECN == ecnCE {
		pc.Marked += 1
	}
	pc.LastSeq[p.Src] = p.Seq()
}

// TimelySender sends a flow in bursts, sleeping between them for as long as the
// TIMELY controller says, and feeds the RTTs carried by the receiver's echoes
// back into the controller
type TimelySender struct {
	nic     *Node
	dst     int
	class   ClassID
	srcPort uint16
	dstPort uint16
	limit   int
	ctrl    *TimelyController
	nxtSeq  uint32
	sent    int
	echoes  int
	rules   map[UpdateRule]int
	active  bool
}

// CreateTimelySender is a constructor.  The sender binds itself to srcPort of nic to
// receive the echoes.  A limit of zero sends without end.
func CreateTimelySender(fab *Fabric, nic *Node, dst string, class ClassID, srcPort, dstPort uint16, limit int) (*TimelySender, error) {
	dstNode, present := fab.Node(dst)
	if !present || dstNode.IsSwitch() {
		return nil, errors.Errorf("timely sender on %s: destination %q is not a NIC", nic.name, dst)
	}
	desc := fab.cfg.Timely
	if len(nic.devices) > 0 {
		desc.LinkRate = nic.devices[0].rate
	}
	ts := &TimelySender{nic: nic, dst: dstNode.id, class: class, srcPort: srcPort, dstPort: dstPort, limit: limit}
	ts.ctrl = CreateTimelyController(desc)
	ts.rules = make(map[UpdateRule]int)
	nic.Bind(srcPort, ts)
	return ts, nil
}

// Controller returns the flow's rate controller
func (ts *TimelySender) Controller() *TimelyController {
	return ts.ctrl
}

// Sent returns the number of data packets sent and echoes received
func (ts *TimelySender) Sent() (int, int) {
	return ts.sent, ts.echoes
}

// Rules returns how many samples took each branch of the update
func (ts *TimelySender) Rules(rule UpdateRule) int {
	return ts.rules[rule]
}

// Start sends the first burst now
func (ts *TimelySender) Start(fab *Fabric) {
	ts.active = true
	ts.sendBurst(fab)
}

// Stop ends the flow after the burst in progress
func (ts *TimelySender) Stop() {
	ts.active = false
	ts.nic.timers.Cancel(appTimerKey(timelyApp, ts.srcPort))
}

func (ts *TimelySender) done() bool {
	return ts.limit > 0 && ts.sent >= ts.limit
}

// sendBurst queues one burst of packets.  The last packet of each burst asks for an echo.
func (ts *TimelySender) sendBurst(fab *Fabric) {
	if !ts.active || ts.done() {
		return
	}
	now := ts.nic.timers.Now()
	burst := ts.ctrl.BurstPackets()
	for idx := 0; idx < burst && !ts.done(); idx++ {
		hdr := DataHeader{Seq: ts.nxtSeq, Class: uint16(ts.class), Timestamp: nanoseconds(now)}
		hdr.AckNeeded = (ts.nxtSeq+1)%uint32(burst) == 0 || ts.sent+1 == ts.limit
		p := CreateDataPacket(ts.nic.id, ts.dst, ts.srcPort, ts.dstPort, ts.ctrl.desc.PacketSize, hdr)
		if !fab.Send(ts.nic, p) {
			break
		}
		ts.nxtSeq += 1
		ts.sent += 1
	}
	ts.ctrl.MarkBurst(now)
	if ts.done() {
		return
	}
	ts.nic.timers.Arm(appTimerKey(timelyApp, ts.srcPort), ts.ctrl.SleepInterval(),
		func() { ts.sendBurst(fab) })
}

// Receive takes an echo, turning its timestamp into an RTT sample
func (ts *TimelySender) Receive(fab *Fabric, p *Packet) {
	if p.Data == nil {
		return
	}
	ts.echoes += 1
	now := ts.nic.timers.Now()
	rtt := ts.ctrl.RttFromTimestamp(seconds(p.Data.Timestamp), now)
	rule := ts.ctrl.OnRttSample(rtt)
	ts.rules[rule] += 1
	log.WithFields(logrus.Fields{"node": ts.nic.name, "rtt": rtt, "rule": rule.String(),
		"rate": ts.ctrl.CurrentRate()}).Debug("timely update")
	if ts.nic.trace {
		fab.trace.traceEvent(now, ts.nic.id, TraceRateUpdate,
			ControlTrace{Flow: int(ts.srcPort), Class: int(ts.class), Rate: ts.ctrl.CurrentRate(), Detail: rule.String()})
	}
}

// TimelyReceiver echoes the packets that ask for it back to their sender,
// carrying the original send timestamp
type TimelyReceiver struct {
	nic      *Node
	echoSize int
	nxtSeq   map[FlowKey]uint32
	received int
	active   bool
}

// CreateTimelyReceiver is a constructor.  The receiver binds itself to port of nic,
// and echoes from the start.
func CreateTimelyReceiver(fab *Fabric, nic *Node, port uint16) *TimelyReceiver {
	tr := &TimelyReceiver{nic: nic, echoSize: fab.cfg.Reliable.ControlSize, active: true}
	tr.nxtSeq = make(map[FlowKey]uint32)
	nic.Bind(port, tr)
	return tr
}

// Start turns echoing on
func (tr *TimelyReceiver) Start(fab *Fabric) {
	tr.active = true
}

// Stop turns echoing off; packets are still counted
func (tr *TimelyReceiver) Stop() {
	tr.active = false
}

// Received returns the number of data packets delivered to the receiver
func (tr *TimelyReceiver) Received() int {
	return tr.received
}

// Receive counts p and echoes it when asked to
func (tr *TimelyReceiver) Receive(fab *Fabric, p *Packet) {
	tr.received += 1
	if !tr.active || p.Data == nil || !p.Data.AckNeeded {
		return
	}
	key := FlowKey{Source: p.Src, Class: p.DataClass(), Port: p.SrcPort}
	hdr := DataHeader{Seq: tr.nxtSeq[key], Class: p.Data.Class, Timestamp: p.Data.Timestamp}
	tr.nxtSeq[key] += 1
	echo := CreateDataPacket(tr.nic.id, p.Src, p.DstPort, p.SrcPort, tr.echoSize, hdr)
	fab.Send(tr.nic, echo)
}

// nanoseconds converts a simulation time to the timestamp carried in a data header
func nanoseconds(t float64) uint64 {
	return uint64(math.Round(t * 1e9))
}

// seconds converts a data header timestamp back to simulation time
func seconds(ns uint64) float64 {
	return float64(ns) / 1e9
}
