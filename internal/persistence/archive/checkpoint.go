package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"flowcraft.ai/internal/persistence/snapshot"
)

type CheckpointMeta struct {
	WorldID       string `json:"world_id"`
	Tick          uint64 `json:"tick"`
	Snapshot      string `json:"snapshot"`
	CreatedAt     string `json:"created_at"`
	EveryTicks    uint64 `json:"every_ticks"`
	Blocks        int    `json:"blocks"`
	Machines      int    `json:"machines"`
	Cells         int    `json:"cells"`
	BlocksDigest  string `json:"blocks_digest,omitempty"`
	RecipesDigest string `json:"recipes_digest,omitempty"`
}

// ArchiveCheckpoint copies a snapshot into `worldDir/archives/checkpoint_<tick>/` when the snapshot
// closes a window of everyTicks ticks. Snapshots hold the last executed tick, so a window ends at
// tick = everyTicks*k - 1.
func ArchiveCheckpoint(worldDir, snapshotPath string, snap snapshot.SnapshotV1, everyTicks uint64) (archivedPath string, archived bool, err error) {
	if everyTicks == 0 || (snap.Header.Tick+1)%everyTicks != 0 {
		return "", false, nil
	}

	archiveDir := filepath.Join(worldDir, "archives", fmt.Sprintf("checkpoint_%010d", snap.Header.Tick))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := CheckpointMeta{
		WorldID:       snap.Header.WorldID,
		Tick:          snap.Header.Tick,
		Snapshot:      filepath.Base(dst),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		EveryTicks:    everyTicks,
		Blocks:        len(snap.Blocks),
		Machines:      len(snap.Machines),
		Cells:         len(snap.Level),
		BlocksDigest:  snap.BlocksDigest,
		RecipesDigest: snap.RecipesDigest,
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// ReadCheckpointMeta loads the meta.json of one archive directory.
func ReadCheckpointMeta(archiveDir string) (CheckpointMeta, error) {
	var m CheckpointMeta
	b, err := os.ReadFile(filepath.Join(archiveDir, "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

// PruneSnapshots keeps the newest keep snapshots under worldDir/snapshots and removes the rest.
// Archived checkpoints are never touched. keep <= 0 disables pruning.
func PruneSnapshots(worldDir string, keep int) (removed []string, err error) {
	if keep <= 0 {
		return nil, nil
	}
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type entry struct {
		tick uint64
		path string
	}
	var snaps []entry
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		snaps = append(snaps, entry{tick: tick, path: filepath.Join(dir, e.Name())})
	}
	if len(snaps) <= keep {
		return nil, nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].tick < snaps[j].tick })

	for _, s := range snaps[:len(snaps)-keep] {
		if err := os.Remove(s.path); err != nil {
			return removed, err
		}
		removed = append(removed, s.path)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
