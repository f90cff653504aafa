package lossless

// fabric.go holds the Fabric, which owns every node and moves packets between
// them on the evtm event manager: serialization at the sending device, then
// propagation delay, then delivery at the peer

import (
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// trace ids of ports start here, above the node ids
const portObjBase = 1 << 20

// Fabric is a simulated lossless network of switches and NICs
type Fabric struct {
	Name   string
	cfg    *FabricCfg
	evtMgr *evtm.EventManager
	nodes  []*Node
	byName map[string]*Node
	trace  *TraceManager
	nxtObj int
	routes *routeTable
}

// CreateFabric is a constructor.  The configuration is validated, and logging configured from it.
func CreateFabric(cfg *FabricCfg, evtMgr *evtm.EventManager) (*Fabric, error) {
	if cfg == nil {
		return nil, errors.New("nil fabric configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "fabric %s", cfg.Name)
	}
	if err := ConfigureLogging(cfg.Log); err != nil {
		return nil, err
	}
	fab := new(Fabric)
	fab.Name = cfg.Name
	fab.cfg = cfg
	fab.evtMgr = evtMgr
	fab.nodes = []*Node{}
	fab.byName = make(map[string]*Node)
	fab.trace = CreateTraceManager(cfg.Name, cfg.Trace.Enabled)
	return fab, nil
}

// EventManager returns the event manager the fabric runs on
func (fab *Fabric) EventManager() *evtm.EventManager {
	return fab.evtMgr
}

// Trace returns the fabric's trace manager
func (fab *Fabric) Trace() *TraceManager {
	return fab.trace
}

// Config returns the configuration the fabric was built from
func (fab *Fabric) Config() *FabricCfg {
	return fab.cfg
}

// Node returns the node with the given name
func (fab *Fabric) Node(name string) (*Node, bool) {
	n, present := fab.byName[name]
	return n, present
}

// NodeByID returns the node with the given id
func (fab *Fabric) NodeByID(id int) (*Node, bool) {
	if id < 0 || id >= len(fab.nodes) {
		return nil, false
	}
	return fab.nodes[id], true
}

func (fab *Fabric) nxtObjID() int {
	fab.nxtObj += 1
	return fab.nxtObj
}

func (fab *Fabric) addNode(name string, kind nodeKind, groups []string) (*Node, error) {
	if _, present := fab.byName[name]; present {
		return nil, errors.Errorf("duplicated node name %s", name)
	}
	n := new(Node)
	n.name = name
	n.id = len(fab.nodes)
	n.kind = kind
	n.groups = groups
	n.classes = fab.cfg.Sched.Classes
	n.devices = []*NetDevice{}
	n.timers = CreateEventTimers(fab.evtMgr)
	n.rng = rngstream.New(name)
	n.drops = make(map[DropCause]int)
	n.sinks = make(map[uint16]PacketSink)

	fab.nodes = append(fab.nodes, n)
	fab.byName[name] = n
	fab.routes = nil
	if err := fab.trace.AddName(n.id, name, nodeKindToStr(kind)); err != nil {
		return nil, err
	}
	return n, nil
}

// AddSwitch creates a switch with its buffer manager and pause controller
func (fab *Fabric) AddSwitch(name string, groups ...string) (*Node, error) {
	n, err := fab.addNode(name, SwitchNode, groups)
	if err != nil {
		return nil, err
	}
	n.fwd = make(map[int]PortID)
	n.bm = CreateBufferManager(name, 0, n.classes, fab.cfg.Buffer, n.rng)

	send := func(port PortID, p *Packet) {
		dev := n.devices[port]
		if !dev.sched.Enqueue(p, int(controlClass(n.classes))) {
			n.drop(fab, p, port, DropQueueFull)
			return
		}
		fab.transmit(n, port)
	}
	queueBytes := func(port PortID, class ClassID) int64 {
		return n.bm.IngressPGBytes(port, class)
	}
	n.pfc = CreatePauseController(name, n.id, n.bm, n.classes, n.timers, fab.cfg.Pfc, send, queueBytes, fab.trace)
	return n, nil
}

// AddNIC creates a NIC.  Its single device, and the state that depends on the link
// rate, are built when it is connected.
func (fab *Fabric) AddNIC(name string, groups ...string) (*Node, error) {
	n, err := fab.addNode(name, NICNode, groups)
	if err != nil {
		return nil, err
	}
	n.discipline = DisciplineFromStr(fab.cfg.Sched.NICDiscipline)
	n.tracker = CreateReliableDeliveryTracker(fab.cfg.Reliable, n.timers)
	n.flows = make(map[nicFlowKey]FlowID)
	n.flowClass = []ClassID{controlClass(n.classes)}
	return n, nil
}

// Connect joins a and b with a full-duplex link of the given rate (bits/sec) and
// propagation delay (seconds)
func (fab *Fabric) Connect(a, b *Node, rate, delay float64) error {
	if a == nil || b == nil || a == b {
		return errors.New("connect needs two distinct nodes")
	}
	if rate <= 0.0 || delay < 0.0 {
		return errors.Errorf("link %s-%s: rate %g must be positive and delay %g non-negative", a.name, b.name, rate, delay)
	}
	for _, n := range []*Node{a, b} {
		if n.kind != NICNode {
			continue
		}
		if len(n.devices) > 0 {
			return errors.Errorf("NIC %s is already connected", n.name)
		}
		if fab.cfg.Qcn.Enabled {
			if err := fab.cfg.Qcn.ValidateLinkRate(rate); err != nil {
				return errors.Wrapf(err, "link %s-%s", a.name, b.name)
			}
		}
	}
	devA, err := fab.addDevice(a, rate, delay)
	if err != nil {
		return err
	}
	devB, err := fab.addDevice(b, rate, delay)
	if err != nil {
		return err
	}
	devA.peerNode, devA.peerPort = b.id, devB.port
	devB.peerNode, devB.peerPort = a.id, devA.port
	fab.routes = nil
	return nil
}

func (fab *Fabric) addDevice(n *Node, rate, delay float64) (*NetDevice, error) {
	sd := fab.cfg.Sched
	dev := new(NetDevice)
	dev.port = PortID(len(n.devices))
	dev.name = deviceName(n.name, dev.port)
	dev.id = portObjBase + fab.nxtObjID()
	dev.node = n.id
	dev.groups = n.groups
	dev.rate = rate
	dev.delay = delay
	dev.ifg = sd.IFG
	if err := fab.trace.AddName(dev.id, dev.name, "Port"); err != nil {
		return nil, err
	}

	port := dev.port
	onResume := func(ClassID) { fab.transmit(n, port) }
	dev.pauseState = CreateLinkPauseState(dev.name, dev.id, port, n.classes, fab.cfg.Pfc.Enabled,
		n.timers, onResume, fab.trace)

	if n.kind == SwitchNode {
		dev.sched = CreateEgressScheduler(dev.name, n.classes, DisciplineFromStr(sd.SwitchDiscipline), sd.MaxBytes, n.timers)
		for c := 0; c < n.classes; c++ {
			dev.sched.SetMinBandwidth(c, sd.minBW(c))
		}
		n.bm.AddPort()
		n.pfc.AddPort()
		n.devices = append(n.devices, dev)
		return dev, nil
	}

	queues := n.classes
	if n.discipline == FlowAwareQCN {
		queues = sd.FlowQueues
	}
	dev.sched = CreateEgressScheduler(dev.name, queues, n.discipline, sd.MaxBytes, n.timers)
	n.devices = append(n.devices, dev)

	if n.discipline == FlowAwareQCN {
		dev.sched.SetFlowGate(nicGate{nic: n})
		n.sender = CreateReliableSender(n.name, n.id, fab.cfg.Reliable, dev.sched, n.timers,
			func(FlowID) { fab.transmit(n, 0) }, fab.trace)
	}
	if fab.cfg.Qcn.Enabled {
		n.qcn = CreateQcnController(n.name, n.id, rate, sd.IFG, fab.cfg.Qcn, n.timers, fab.trace)
		dev.qcn = n.qcn
		n.notifier = CreateCongestionNotifier(n.name, n.id, fab.cfg.Qcn, n.timers,
			func(dst int, hdr CNHeader) { fab.Send(n, createCNPacket(n.id, dst, hdr, fab.cfg.Qcn.CNSize)) }, fab.trace)
	}
	return dev, nil
}

// ApplyParameters applies the configuration's run-time parameters to the nodes and ports built so far
func (fab *Fabric) ApplyParameters() {
	objs := map[string][]paramObj{"Switch": {}, "NIC": {}, "Port": {}}
	for _, n := range fab.nodes {
		kind := nodeKindToStr(n.kind)
		objs[kind] = append(objs[kind], n)
		for _, dev := range n.devices {
			objs["Port"] = append(objs["Port"], dev)
		}
	}
	applyParameters(fab.cfg.Parameters, objs)
}

// Send queues p, originated by nic, for transmission
func (fab *Fabric) Send(nic *Node, p *Packet) bool {
	if nic.kind != NICNode || len(nic.devices) == 0 {
		log.WithFields(logrus.Fields{"node": nic.name}).Warn("send from a node that is not a connected NIC")
		return false
	}
	q, ok := nic.egressQueue(p)
	if !ok {
		nic.drop(fab, p, 0, DropBadIndex)
		return false
	}
	dev := nic.devices[0]
	if !dev.sched.Enqueue(p, q) {
		nic.drop(fab, p, 0, DropQueueFull)
		return false
	}
	if nic.sender != nil && q > 0 && !p.IsControl() {
		nic.sender.Retain(FlowID(q), p)
	}
	fab.transmit(nic, 0)
	return true
}

// txDone is the data of a transmit-complete event
type txDone struct {
	node int
	port PortID
}

// arrival is the data of a packet-delivery event
type arrival struct {
	node int
	port PortID
	p    *Packet
}

// transmit starts sending the next eligible packet of port, if the port is idle
func (fab *Fabric) transmit(n *Node, port PortID) {
	dev := n.devices[port]
	if dev.busy {
		return
	}
	p := dev.sched.Dequeue(dev.pauseState.PausedClasses())
	if p == nil {
		if n.kind == NICNode && !dev.sched.Empty() {
			fab.retryLater(n, dev)
		}
		return
	}

	if n.kind == SwitchNode {
		n.switchDequeued(port, p)
	} else {
		q := dev.sched.GetLastQueue()
		if n.discipline == FlowAwareQCN && q > 0 && !p.IsControl() {
			if n.qcn != nil {
				n.qcn.OnTransmit(FlowID(q), p.Size)
			}
			if n.sender != nil {
				n.sender.OnTransmit(FlowID(q), p.Seq())
			}
		}
	}

	dev.busy = true
	dev.txPackets += 1
	dev.txBytes += int64(p.Size)
	tx := dev.txTime(p.Size)
	fab.evtMgr.Schedule(fab, &txDone{node: n.id, port: port}, transmitDone, vrtime.SecondsToTime(tx))
	fab.evtMgr.Schedule(fab, &arrival{node: dev.peerNode, port: dev.peerPort, p: p}, deliverPacket,
		vrtime.SecondsToTime(tx+dev.delay))
}

// retryLater arms a dequeue at the earliest time a paced flow of the NIC may send
func (fab *Fabric) retryLater(n *Node, dev *NetDevice) {
	now := n.timers.Now()
	gate := nicGate{nic: n}
	earliest := math.Inf(1)
	for q := 1; q < dev.sched.Queues(); q++ {
		if dev.sched.QueueLen(q) == 0 {
			continue
		}
		if t := gate.NextAvailable(q); t > now && t < earliest {
			earliest = t
		}
	}
	if math.IsInf(earliest, 1) {
		return
	}
	port := dev.port
	n.timers.Arm(TimerKey{Kind: dequeueTimer, A: int(port)}, earliest-now, func() { fab.transmit(n, port) })
}

// transmitDone frees the device at the end of serialization and starts the next packet
func transmitDone(evtMgr *evtm.EventManager, context any, data any) any {
	fab := context.(*Fabric)
	td := data.(*txDone)
	n := fab.nodes[td.node]
	n.devices[td.port].busy = false
	fab.transmit(n, td.port)
	return nil
}

// deliverPacket hands a packet to the receiving node at the far end of a link
func deliverPacket(evtMgr *evtm.EventManager, context any, data any) any {
	fab := context.(*Fabric)
	arr := data.(*arrival)
	fab.nodes[arr.node].receive(fab, arr.port, arr.p)
	return nil
}

// WriteTrace writes the trace to the file named in the configuration, if tracing is on
func (fab *Fabric) WriteTrace() error {
	if !fab.trace.Active() || fab.cfg.Trace.File == "" {
		return nil
	}
	_, err := fab.trace.WriteToFile(fab.cfg.Trace.File)
	return err
}
