package world

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/catalogs"
	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/machine"
	"flowcraft.ai/internal/sim/network"
	"flowcraft.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	SnapshotEveryTicks int
	NetworkMaxNodes    int
}

// ConfigFromTuning copies the scalar tuning values a world needs.
func ConfigFromTuning(id string, t tuning.Tuning) WorldConfig {
	return WorldConfig{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		NetworkMaxNodes:    t.NetworkMaxNodes,
	}
}

// Options carries the optional collaborators of a world.
type Options struct {
	// Level answers capability probes for positions with no attached machine (generators, tanks, ...).
	Level   network.Prober
	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// World hosts the participant registry, the network manager and every attached machine.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg      WorldConfig
	tuning   tuning.Tuning
	catalogs *catalogs.Catalogs
	log      logrus.FieldLogger

	tick atomic.Uint64

	reg      *network.Registry
	networks *network.Manager
	level    network.Prober
	machines map[network.Pos]*machine.Machine

	// Topology changes are queued and applied at the start of the next tick.
	pending   []Event
	refreshes map[network.Pos]struct{}

	events chan Event
	admin  chan adminSnapshotReq
	stop   chan struct{}
	status atomic.Pointer[Status]

	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	observers     map[string]*observerClient

	// Optional logger (may be nil). Implemented in internal/persistence/log.
	tickLogger TickLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	metrics *Metrics
}

// LevelTicker is implemented by levels whose cells change on their own (generators regaining
// energy, tanks refilling). TickLevel runs after topology and before distribution. A returned error
// is logged and the tick goes on.
type LevelTicker interface {
	TickLevel(nowTick uint64) error
}

// LevelState is implemented by levels that persist with the world. Their cells are part of
// snapshots and of the state digest.
type LevelState interface {
	Cells() []snapshot.CellV1
	RestoreCells(cells []snapshot.CellV1) error
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick     uint64          `json:"tick"`
	Events   []Event         `json:"events,omitempty"`
	Networks []NetworkReport `json:"networks,omitempty"`
	Machines []MachineReport `json:"machines,omitempty"`
	Digest   string          `json:"digest"`
}

// NetworkReport is the per-instance part of a tick log entry.
type NetworkReport struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	Nodes   int    `json:"nodes"`
	Members int    `json:"members"`
	Moved   string `json:"moved"`
	Error   string `json:"error,omitempty"`
}

// MachineReport is the per-machine part of a tick log entry.
type MachineReport struct {
	Pos      network.Pos `json:"pos"`
	Type     string      `json:"type"`
	Status   string      `json:"status"`
	Recipe   string      `json:"recipe,omitempty"`
	Progress float64     `json:"progress"`
}

func New(cfg WorldConfig, tune tuning.Tuning, cats *catalogs.Catalogs, opts Options) (*World, error) {
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("world %s: tick_rate_hz must be > 0", cfg.ID)
	}
	if cats == nil {
		return nil, fmt.Errorf("world %s: nil catalogs", cfg.ID)
	}
	if err := cats.CheckTuning(tune); err != nil {
		return nil, fmt.Errorf("world %s: %w", cfg.ID, err)
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	log = log.WithField("world", cfg.ID)

	w := &World{
		cfg:       cfg,
		tuning:    tune,
		catalogs:  cats,
		log:       log,
		level:     opts.Level,
		machines:  map[network.Pos]*machine.Machine{},
		refreshes: map[network.Pos]struct{}{},
		events:    make(chan Event, 1024),
		admin:     make(chan adminSnapshotReq, 8),
		stop:      make(chan struct{}),
		metrics:   opts.Metrics,

		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 256),
		observerLeave: make(chan string, 256),
		observers:     map[string]*observerClient{},
	}

	w.reg = network.NewRegistry(tune.Namespace, network.ProberFunc(w.probe), log)
	w.reg.RegisterProbe(network.TypeEnergy, isEnergy, nil)
	w.reg.RegisterProbe(network.TypeFluid, isFluid, nil)
	w.reg.RegisterProbe(network.TypeItem, isItem, nil)
	for _, id := range cats.Blocks.IDs() {
		b, err := cats.Blocks.Defs[id].NetworkBlock()
		if err != nil {
			return nil, fmt.Errorf("world %s: %w", cfg.ID, err)
		}
		if err := w.reg.RegisterBlock(b); err != nil {
			return nil, fmt.Errorf("world %s: %w", cfg.ID, err)
		}
	}

	w.networks = network.NewManager(w.reg, network.Options{MaxNodes: cfg.NetworkMaxNodes, Logger: log})
	w.networks.RegisterType(network.TypeEnergy, network.EnergyDistributor{})
	w.networks.RegisterType(network.TypeFluid, network.FluidDistributor{})
	w.networks.RegisterType(network.TypeItem, network.ItemDistributor{})
	return w, nil
}

func isEnergy(c network.Capability) bool {
	_, ok := c.(network.EnergyCapability)
	return ok
}

func isFluid(c network.Capability) bool {
	_, ok := c.(network.FluidCapability)
	return ok
}

func isItem(c network.Capability) bool {
	_, ok := c.(network.ItemCapability)
	return ok
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

// Events accepts topology events from other goroutines while Run is active.
func (w *World) Events() chan<- Event { return w.events }

func (w *World) ID() string                   { return w.cfg.ID }
func (w *World) CurrentTick() uint64          { return w.tick.Load() }
func (w *World) Registry() *network.Registry  { return w.reg }
func (w *World) Networks() *network.Manager   { return w.networks }
func (w *World) Catalogs() *catalogs.Catalogs { return w.catalogs }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingAdmin []adminSnapshotReq
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case ev := <-w.events:
			w.pending = append(w.pending, ev)
		case req := <-w.admin:
			pendingAdmin = append(pendingAdmin, req)
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case <-ticker.C:
			w.step()
			w.handleAdminSnapshotRequests(pendingAdmin)
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// OnTick advances the world by one tick.
func (w *World) OnTick() { w.step() }

// OnBlockAdded queues the placement of blockID at pos.
func (w *World) OnBlockAdded(pos network.Pos, blockID string) {
	w.pending = append(w.pending, Event{Kind: EventBlockAdded, Pos: pos, BlockID: blockID})
}

// OnBlockRemoved queues the removal of whatever is at pos.
func (w *World) OnBlockRemoved(pos network.Pos) {
	w.pending = append(w.pending, Event{Kind: EventBlockRemoved, Pos: pos})
}

// OnNeighborChanged queues a rediscovery around pos, for changes the registry cannot see
// (an external tank appearing next to a pipe, for example).
func (w *World) OnNeighborChanged(pos network.Pos) {
	w.pending = append(w.pending, Event{Kind: EventNeighborChanged, Pos: pos})
}

func (w *World) step() {
	start := time.Now()
	nowTick := w.tick.Load()

	// Topology first, so the distribution pass never sees a half-applied change.
	events := w.pending
	w.pending = nil
	w.applyEvents(nowTick, events)
	if lt, ok := w.level.(LevelTicker); ok {
		var levelErr error
		if _, err := fraction.Checked(func() fraction.Fraction {
			levelErr = lt.TickLevel(nowTick)
			return fraction.Zero
		}); err != nil {
			levelErr = err
		}
		if levelErr != nil {
			w.log.WithField("tick", nowTick).WithError(levelErr).Error("level tick aborted")
		}
	}

	reports := w.networks.Tick()
	netReports := make([]NetworkReport, 0, len(reports))
	for _, r := range reports {
		nr := NetworkReport{
			ID:      r.Instance,
			Type:    r.Type.String(),
			Nodes:   r.Nodes,
			Members: r.Members,
			Moved:   r.Moved.Simplify().Fractional(),
		}
		if r.Err != nil {
			nr.Error = r.Err.Error()
		}
		netReports = append(netReports, nr)
	}

	machineReports := w.tickMachines(nowTick)

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		entry := TickLogEntry{Tick: nowTick, Events: events, Networks: netReports, Machines: machineReports, Digest: digest}
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.log.WithField("tick", nowTick).WithError(err).Warn("tick log write failed")
		}
	}

	w.stepObservers(nowTick, digest, netReports, machineReports)

	if w.snapshotSink != nil && w.cfg.SnapshotEveryTicks > 0 && nowTick != 0 && nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		snap := w.ExportSnapshot(nowTick)
		select {
		case w.snapshotSink <- snap:
		default:
			// Drop snapshot if sink is backed up.
			w.log.WithField("tick", nowTick).Warn("snapshot sink full, snapshot dropped")
		}
	}

	took := time.Since(start)
	st := &Status{
		WorldID:  w.cfg.ID,
		Tick:     nowTick,
		Digest:   digest,
		Networks: len(netReports),
		Machines: len(machineReports),
		StepMS:   float64(took.Microseconds()) / 1000,
	}
	for _, r := range netReports {
		if r.Error != "" {
			st.Errors++
		}
	}
	w.status.Store(st)

	w.metrics.observeTick(w.cfg.ID, reports, machineReports, took)
	w.tick.Add(1)
}

// StepOnce advances the world by a single tick using the same ordering semantics as Run.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce(events []Event) (tick uint64, digest string) {
	tick = w.tick.Load()
	w.pending = append(w.pending, events...)
	w.step()
	return tick, w.stateDigest(tick)
}

func (w *World) tickMachines(nowTick uint64) []MachineReport {
	out := make([]MachineReport, 0, len(w.machines))
	for _, pos := range w.machinePositions() {
		m := w.machines[pos]
		var res machine.Result
		_, err := fraction.Checked(func() fraction.Fraction {
			res = m.Tick()
			return fraction.Zero
		})
		if err != nil {
			w.log.WithFields(logrus.Fields{"tick": nowTick, "pos": pos.String(), "machine": m.Type}).WithError(err).Error("machine tick aborted")
			res = machine.Result{Status: machine.StatusInactive}
		}
		out = append(out, MachineReport{
			Pos:      pos,
			Type:     m.Type,
			Status:   res.Status.String(),
			Recipe:   res.Recipe,
			Progress: m.Engine.Progress(),
		})
	}
	return out
}

func (w *World) machinePositions() []network.Pos {
	out := make([]network.Pos, 0, len(w.machines))
	for p := range w.machines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
