package worldtest

import (
	"path/filepath"
	"testing"

	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/level"
	"flowcraft.ai/internal/sim/machine"
	"flowcraft.ai/internal/sim/network"
	"flowcraft.ai/internal/sim/volume"
)

const (
	cable = "flowcraft:energy_cable"
	pipe  = "flowcraft:fluid_pipe"

	water    volume.Kind = "flowcraft:water"
	hydrogen volume.Kind = "flowcraft:hydrogen"
	oxygen   volume.Kind = "flowcraft:oxygen"
)

func p(x, z int) network.Pos { return network.Pos{X: x, Z: z} }

// electrolysisPlant builds:
//
//	gen(0,0) - cable(1,0) - cable(2,0) - elite electrolyzer(3,0)
//	water tank(3,-2) - pipe(3,-1) - electrolyzer - pipe(3,1) - output tank(3,2)
func electrolysisPlant(h *Harness) (gen, in, out *volume.Volume) {
	gen = h.AddGenerator(p(0, 0), 1000)
	in = h.AddTank(p(3, -2), water, fraction.Of(8), fraction.Of(4), network.RoleProvider)
	out = h.AddTank(p(3, 2), volume.KindNone, fraction.Of(8), fraction.Zero, network.RoleRequester)
	h.Place(p(1, 0), cable)
	h.Place(p(2, 0), cable)
	h.Place(p(3, 0), "flowcraft:elite_electrolyzer")
	h.Place(p(3, -1), pipe)
	h.Place(p(3, 1), pipe)
	return gen, in, out
}

func TestElectrolysisPlant(t *testing.T) {
	h := NewHarness(t, "plant")
	gen, in, out := electrolysisPlant(h)
	h.Step()

	m := h.Machine(p(3, 0))
	if !gen.IsEmpty() || !m.Energy.Amount().Equal(fraction.Of(1000).Sub(fraction.Of(2))) {
		t.Fatalf("energy: gen=%s machine=%s", gen.Amount(), m.Energy.Amount())
	}
	if !in.IsEmpty() || !m.Inputs()[0].Amount().Equal(fraction.Of(4)) {
		t.Fatalf("water: tank=%s machine=%s", in.Amount(), m.Inputs()[0].Amount())
	}
	if res := m.Last(); res.Status != machine.StatusActive || res.Speed != 4 {
		t.Fatalf("first tick=%+v", res)
	}
	if got := len(h.W.Networks().Instances()); got != 3 {
		t.Fatalf("instances=%d, want energy + two fluid", got)
	}

	// Speed 4 over a limit of 100: the 25th tick completes.
	h.StepN(23)
	if m.Last().Status != machine.StatusActive || m.Engine.Progress() != 96 {
		t.Fatalf("before completion: %+v progress=%v", m.Last(), m.Engine.Progress())
	}
	h.Step()
	if m.Last().Status != machine.StatusCompleted {
		t.Fatalf("completion tick=%+v", m.Last())
	}
	if !m.Inputs()[0].Amount().Equal(fraction.Of(3)) {
		t.Fatalf("water after one cycle=%s", m.Inputs()[0].Amount())
	}

	// Outputs leave through the second pipe on the next tick; the untyped tank takes the first kind only.
	h.Step()
	if out.Kind() != hydrogen || !out.Amount().Equal(fraction.New(2, 3)) {
		t.Fatalf("output tank=%s %s", out.Kind(), out.Amount())
	}
	oxygenLeft := fraction.Zero
	for _, v := range m.Outputs() {
		oxygenLeft = oxygenLeft.Add(v.Available(oxygen))
	}
	if !oxygenLeft.Equal(fraction.Bottle) {
		t.Fatalf("oxygen in machine=%s", oxygenLeft)
	}
	// 26 ticks at 2 energy each.
	if !m.Energy.Amount().Equal(fraction.Of(1000 - 52)) {
		t.Fatalf("energy after 26 ticks=%s", m.Energy.Amount())
	}
}

func TestCablesSplitAndMerge(t *testing.T) {
	h := NewHarness(t, "split")
	for x := 0; x < 5; x++ {
		h.Place(p(x, 0), cable)
	}
	h.Step()
	if got := len(h.W.Networks().Instances()); got != 1 {
		t.Fatalf("instances=%d", got)
	}
	h.Remove(p(2, 0))
	h.Step()
	ins := h.W.Networks().Instances()
	if len(ins) != 2 || ins[0].NodeCount() != 2 || ins[1].NodeCount() != 2 {
		t.Fatalf("after split: %d instances", len(ins))
	}
	h.Place(p(2, 0), cable)
	h.Step()
	ins = h.W.Networks().Instances()
	if len(ins) != 1 || ins[0].NodeCount() != 5 {
		t.Fatalf("after merge: %d instances", len(ins))
	}
}

func TestUniversalCableCarriesEveryType(t *testing.T) {
	h := NewHarness(t, "universal")
	h.Place(p(0, 0), "flowcraft:universal_cable")
	h.Place(p(1, 0), "flowcraft:universal_cable")
	h.Place(p(2, 0), cable)
	h.Step()
	counts := map[network.Type]int{}
	for _, in := range h.W.Networks().Instances() {
		counts[in.Type]++
	}
	if counts[network.TypeEnergy] != 1 || counts[network.TypeFluid] != 1 || counts[network.TypeItem] != 1 {
		t.Fatalf("counts=%v", counts)
	}
	in, ok := h.W.Networks().InstanceAt(p(2, 0), network.TypeEnergy)
	if !ok || in.NodeCount() != 3 {
		t.Fatalf("energy cable did not join the universal line")
	}
}

func TestNodeBudgetFromEnvironment(t *testing.T) {
	t.Setenv("FLOWCRAFT_NETWORK_MAX_NODES", "3")
	h := NewHarness(t, "budget")
	for x := 0; x < 6; x++ {
		h.Place(p(x, 0), cable)
	}
	h.Step()
	in, ok := h.W.Networks().InstanceAt(p(0, 0), network.TypeEnergy)
	if !ok || !in.Truncated() || in.NodeCount() != 3 {
		t.Fatalf("budget not applied: ok=%v", ok)
	}
}

func TestSnapshotFileResumesDeterministically(t *testing.T) {
	h := NewHarness(t, "resume")
	electrolysisPlant(h)
	h.StepN(10)
	tick, snap := h.Snapshot()

	path := snapshot.Path(t.TempDir(), tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := snapshot.Latest(filepath.Dir(filepath.Dir(path))); got != path {
		t.Fatalf("latest=%q want %q", got, path)
	}
	loaded, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// The level persists with the world; the resumed harness starts empty.
	r := NewHarness(t, "resume")
	if err := r.W.ImportSnapshot(loaded); err != nil {
		t.Fatalf("import: %v", err)
	}
	for i := 0; i < 20; i++ {
		if a, b := h.Step(), r.Step(); a != b {
			t.Fatalf("tick %d after resume: digests differ", i)
		}
	}
	if r.Machine(p(3, 0)).Engine.Progress() != h.Machine(p(3, 0)).Engine.Progress() {
		t.Fatalf("progress diverged")
	}
}

func TestLayoutPlantRunsOnRegeneratingLevel(t *testing.T) {
	lay, err := level.LoadLayout("../../../configs/layout.yaml")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	h := NewHarness(t, "layout")
	h.Load(lay)

	completions := 0
	for i := 0; i < 100; i++ {
		h.Step()
		if h.Machine(p(3, 0)).Last().Status == machine.StatusCompleted {
			completions++
		}
	}
	if completions != 4 {
		t.Fatalf("completions=%d, want one every 25 ticks", completions)
	}
	// 1024 stored plus 4 per tick in, 2 per tick burnt.
	if got := h.Machine(p(3, 0)).Energy.Amount(); !got.Equal(fraction.Of(1024 + 4*100 - 2*100)) {
		t.Fatalf("machine energy=%s", got)
	}
}

func TestSolarPanelPowersMachineBelow(t *testing.T) {
	h := NewHarness(t, "solar")
	above := network.Pos{X: 3, Y: 1}
	gen := h.AddGenerator(above, 100)
	h.Place(above, "flowcraft:solar_panel")
	h.Place(p(3, 0), "flowcraft:elite_electrolyzer")
	h.Step()

	in, ok := h.W.Networks().InstanceAt(above, network.TypeEnergy)
	if !ok || in.NodeCount() != 1 || in.MemberCount() != 2 {
		t.Fatalf("panel network ok=%v", ok)
	}
	if m := h.Machine(p(3, 0)); !gen.IsEmpty() || !m.Energy.Amount().Equal(fraction.Of(100)) {
		t.Fatalf("panel=%s machine=%s", gen.Amount(), m.Energy.Amount())
	}
}

func TestMixerFeedsElectrolyzerThroughPipe(t *testing.T) {
	const brine volume.Kind = "flowcraft:brine"
	h := NewHarness(t, "brine")
	h.Place(p(0, 0), "flowcraft:basic_fluid_mixer")
	h.Place(p(1, 0), pipe)
	h.Place(p(2, 0), "flowcraft:elite_electrolyzer")
	h.Step()

	mixer, el := h.Machine(p(0, 0)), h.Machine(p(2, 0))
	mixer.Outputs()[0].InsertKind(brine, fraction.Of(2))
	h.Step()

	if !mixer.Outputs()[0].IsEmpty() {
		t.Fatalf("mixer output=%s", mixer.Outputs()[0].Amount())
	}
	if in := el.Inputs()[0]; in.Kind() != brine || !in.Amount().Equal(fraction.Of(2)) {
		t.Fatalf("electrolyzer input=%s %s", in.Kind(), in.Amount())
	}
	// Nothing flows back: the electrolyzer's outputs and the mixer's inputs stay empty.
	for _, v := range append(mixer.Inputs(), el.Outputs()...) {
		if !v.IsEmpty() {
			t.Fatalf("unexpected fluid %s %s", v.Kind(), v.Amount())
		}
	}
}
