package snapshot

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sample(tick uint64) SnapshotV1 {
	return SnapshotV1{
		Header:          Header{Version: Version, WorldID: "w1", Tick: tick},
		Namespace:       "flowcraft",
		TickRate:        20,
		NetworkMaxNodes: 4096,
		Blocks: []BlockV1{
			{Pos: [3]int{0, 0, 0}, ID: "flowcraft:energy_cable"},
			{Pos: [3]int{1, 0, 0}, ID: "flowcraft:basic_electrolyzer"},
		},
		Machines: []MachineV1{{
			Pos:      [3]int{1, 0, 0},
			Type:     "electrolyzer",
			Tier:     "basic",
			Progress: 20,
			Limit:    100,
			Volumes: []VolumeV1{
				{Kind: "energy", Amount: [2]int64{301, 3}, Capacity: [2]int64{16384, 1}},
				{Kind: "flowcraft:water", Amount: [2]int64{2, 4}, Capacity: [2]int64{8, 1}},
				{Capacity: [2]int64{8, 1}},
			},
		}},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, 3000)
	want := sample(3000)
	if err := WriteSnapshot(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
	// Raw (unsimplified) pairs survive.
	if got.Machines[0].Volumes[1].Amount != [2]int64{2, 4} {
		t.Fatalf("amount=%v", got.Machines[0].Volumes[1].Amount)
	}
}

func TestLatestPicksHighestTick(t *testing.T) {
	dir := t.TempDir()
	for _, tick := range []uint64{3000, 12000, 9000} {
		if err := WriteSnapshot(Path(dir, tick), sample(tick)); err != nil {
			t.Fatalf("write %d: %v", tick, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "snapshots", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	if got := Latest(dir); got != Path(dir, 12000) {
		t.Fatalf("latest=%q", got)
	}
	if got := Latest(filepath.Join(dir, "missing")); got != "" {
		t.Fatalf("latest in missing dir=%q", got)
	}
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	path := Path(t.TempDir(), 1)
	snap := sample(1)
	snap.Header.Version = 99
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}
