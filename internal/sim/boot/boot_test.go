package boot

import (
	"testing"

	"flowcraft.ai/internal/sim/catalogs"
	"flowcraft.ai/internal/sim/level"
	"flowcraft.ai/internal/sim/network"
	"flowcraft.ai/internal/sim/tuning"
	"flowcraft.ai/internal/sim/world"
)

func testConfig(t *testing.T, id string) Config {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tune, err := tuning.Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	return Config{WorldID: id, Tuning: tune, Cats: cats}
}

func TestFreshThenResumeMatchesDigests(t *testing.T) {
	c := testConfig(t, "w1")
	lay, err := level.LoadLayout("../../../configs/layout.yaml")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}

	a, _, err := Fresh(c, lay)
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	for i := 0; i < 30; i++ {
		a.StepOnce(nil)
	}
	if _, ok := a.Machine(network.Pos{X: 3}); !ok {
		t.Fatalf("layout machine not placed")
	}
	snap := a.ExportSnapshot(a.CurrentTick() - 1)

	b, lv, err := Resume(Config{Tuning: c.Tuning, Cats: c.Cats}, snap)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if b.ID() != "w1" || b.CurrentTick() != a.CurrentTick() || len(lv.Positions()) != 3 {
		t.Fatalf("resumed id=%s tick=%d cells=%d", b.ID(), b.CurrentTick(), len(lv.Positions()))
	}
	for i := 0; i < 20; i++ {
		ta, da := a.StepOnce(nil)
		tb, db := b.StepOnce(nil)
		if ta != tb || da != db {
			t.Fatalf("tick %d/%d diverged: %s != %s", ta, tb, da, db)
		}
	}
}

func TestResumeRejectsForeignWorld(t *testing.T) {
	c := testConfig(t, "w1")
	a, _, err := Fresh(c, level.Layout{})
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	a.StepOnce(nil)
	snap := a.ExportSnapshot(0)

	c.WorldID = "w2"
	if _, _, err := Resume(c, snap); err == nil {
		t.Fatalf("resumed a snapshot of another world")
	}
}

type recordingLogger struct{ entries []world.TickLogEntry }

func (r *recordingLogger) WriteTick(e world.TickLogEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func TestUnplacedReplaysLoggedEvents(t *testing.T) {
	c := testConfig(t, "w1")
	lay, err := level.LoadLayout("../../../configs/layout.yaml")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	live, _, err := Fresh(c, lay)
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	var rec recordingLogger
	live.SetTickLogger(&rec)
	for i := 0; i < 40; i++ {
		live.StepOnce(nil)
	}
	if len(rec.entries[0].Events) != 8 {
		t.Fatalf("tick 0 events=%d, want 3 cells + 5 blocks", len(rec.entries[0].Events))
	}

	replay, _, err := Unplaced(c, lay)
	if err != nil {
		t.Fatalf("unplaced: %v", err)
	}
	for _, e := range rec.entries {
		tick, digest := replay.StepOnce(e.Events)
		if tick != e.Tick || digest != e.Digest {
			t.Fatalf("tick %d: digest %s, logged %s", tick, digest, e.Digest)
		}
	}
}
