package archive

import (
	"os"
	"path/filepath"
	"testing"

	"flowcraft.ai/internal/persistence/snapshot"
)

func writeDummy(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestArchiveCheckpoint_CopiesWindowEndSnapshot(t *testing.T) {
	worldDir := filepath.Join(t.TempDir(), "worlds", "w1")
	src := snapshot.Path(worldDir, 99)
	writeDummy(t, src, "dummy")

	snap := snapshot.SnapshotV1{
		Header:       snapshot.Header{Version: 1, WorldID: "w1", Tick: 99},
		BlocksDigest: "abc",
		Blocks:       []snapshot.BlockV1{{ID: "flowcraft:cable"}, {ID: "flowcraft:cable"}},
		Level:        []snapshot.CellV1{{Kind: "generator"}},
	}

	archivedPath, ok, err := ArchiveCheckpoint(worldDir, src, snap, 100)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok {
		t.Fatalf("expected archived=true")
	}
	got, err := os.ReadFile(archivedPath)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != "dummy" {
		t.Fatalf("archived content mismatch: got=%q", string(got))
	}

	meta, err := ReadCheckpointMeta(filepath.Dir(archivedPath))
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.WorldID != "w1" || meta.Tick != 99 || meta.Blocks != 2 || meta.Cells != 1 || meta.BlocksDigest != "abc" || meta.Snapshot != "99.snap.zst" {
		t.Fatalf("meta=%+v", meta)
	}
}

func TestArchiveCheckpoint_SkipsMidWindow(t *testing.T) {
	worldDir := t.TempDir()
	src := snapshot.Path(worldDir, 50)
	writeDummy(t, src, "x")
	snap := snapshot.SnapshotV1{Header: snapshot.Header{Tick: 50}}

	for _, every := range []uint64{0, 100} {
		if _, ok, err := ArchiveCheckpoint(worldDir, src, snap, every); ok || err != nil {
			t.Fatalf("every=%d: archived=%v err=%v", every, ok, err)
		}
	}
	if _, err := os.Stat(filepath.Join(worldDir, "archives")); !os.IsNotExist(err) {
		t.Fatalf("archives dir created for a mid-window snapshot")
	}
}

func TestPruneSnapshots_KeepsNewest(t *testing.T) {
	worldDir := t.TempDir()
	for _, tick := range []uint64{9, 100, 19, 1000} {
		writeDummy(t, snapshot.Path(worldDir, tick), "s")
	}
	writeDummy(t, filepath.Join(worldDir, "snapshots", "notes.txt"), "keep me")

	removed, err := PruneSnapshots(worldDir, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 2 || filepath.Base(removed[0]) != "9.snap.zst" || filepath.Base(removed[1]) != "19.snap.zst" {
		t.Fatalf("removed=%v", removed)
	}
	if latest := snapshot.Latest(worldDir); filepath.Base(latest) != "1000.snap.zst" {
		t.Fatalf("latest=%s", latest)
	}
	if _, err := os.Stat(filepath.Join(worldDir, "snapshots", "notes.txt")); err != nil {
		t.Fatalf("foreign file removed: %v", err)
	}

	if removed, err := PruneSnapshots(worldDir, 0); err != nil || removed != nil {
		t.Fatalf("keep=0 removed=%v err=%v", removed, err)
	}
	if removed, err := PruneSnapshots(filepath.Join(worldDir, "missing"), 1); err != nil || removed != nil {
		t.Fatalf("missing dir removed=%v err=%v", removed, err)
	}
}
