package worldtest

import (
	"testing"

	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/catalogs"
	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/level"
	"flowcraft.ai/internal/sim/machine"
	"flowcraft.ai/internal/sim/network"
	"flowcraft.ai/internal/sim/tuning"
	"flowcraft.ai/internal/sim/volume"
	world "flowcraft.ai/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Place()/Remove() queue topology events the way a host would
// - Step()/StepN() advance via StepOnce()
// - Level holds the non-machine participants (generators, tanks) and persists with the world
//
// It intentionally avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T     *testing.T
	Cats  *catalogs.Catalogs
	Tune  tuning.Tuning
	Level *level.Level
	W     *world.World
}

// NewHarness builds a world from the repository configs.
func NewHarness(t *testing.T, id string) *Harness {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tune, err := tuning.Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	return NewHarnessWith(t, world.ConfigFromTuning(id, tune), tune, cats)
}

// NewHarnessWith is like NewHarness with explicit configuration.
func NewHarnessWith(t *testing.T, cfg world.WorldConfig, tune tuning.Tuning, cats *catalogs.Catalogs) *Harness {
	t.Helper()
	lv := level.New()
	w, err := world.New(cfg, tune, cats, world.Options{Level: lv})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return &Harness{T: t, Cats: cats, Tune: tune, Level: lv, W: w}
}

func (h *Harness) Place(pos network.Pos, blockID string) { h.W.OnBlockAdded(pos, blockID) }
func (h *Harness) Remove(pos network.Pos)                { h.W.OnBlockRemoved(pos) }

// Step runs one tick and returns its digest.
func (h *Harness) Step() string {
	_, digest := h.W.StepOnce(nil)
	return digest
}

func (h *Harness) StepN(n int) string {
	var digest string
	for i := 0; i < n; i++ {
		digest = h.Step()
	}
	return digest
}

func (h *Harness) Snapshot() (tick uint64, snap snapshot.SnapshotV1) {
	tick = h.W.CurrentTick() - 1
	return tick, h.W.ExportSnapshot(tick)
}

func (h *Harness) Machine(pos network.Pos) *machine.Machine {
	h.T.Helper()
	m, ok := h.W.Machine(pos)
	if !ok {
		h.T.Fatalf("no machine at %s", pos)
	}
	return m
}

// AddGenerator puts a full energy provider at pos and tells the world its neighbourhood changed.
func (h *Harness) AddGenerator(pos network.Pos, amount int64) *volume.Volume {
	g := level.NewGenerator(fraction.Of(amount), fraction.Of(amount), fraction.Zero)
	h.Level.Set(pos, g)
	h.W.OnNeighborChanged(pos)
	return g.V
}

// AddTank puts a single-slot fluid tank at pos. An empty kind makes an untyped tank.
func (h *Harness) AddTank(pos network.Pos, kind volume.Kind, capacity, amount fraction.Fraction, role network.Role) *volume.Volume {
	tk := level.NewTank(kind, capacity, amount, role, fraction.Zero)
	h.Level.Set(pos, tk)
	h.W.OnNeighborChanged(pos)
	return tk.Volume()
}

// Load builds the level from a layout and queues its blocks, as a host starting a fresh world does.
func (h *Harness) Load(lay level.Layout) {
	h.T.Helper()
	lv, err := lay.Build()
	if err != nil {
		h.T.Fatalf("layout: %v", err)
	}
	for _, pos := range lv.Positions() {
		c, _ := lv.Cell(pos)
		h.Level.Set(pos, c)
	}
	lay.Place(lv, h.W)
}
