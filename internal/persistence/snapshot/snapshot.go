package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 is the persisted world: placed blocks and machine states. Network instances are not stored;
// they are rediscovered from the blocks on import.
type SnapshotV1 struct {
	Header Header `json:"header"`

	// Operational parameters (captured for deterministic replay/resume).
	Namespace          string `json:"namespace"`
	TickRate           int    `json:"tick_rate_hz"`
	SnapshotEveryTicks int    `json:"snapshot_every_ticks,omitempty"`
	NetworkMaxNodes    int    `json:"network_max_nodes,omitempty"`

	BlocksDigest  string `json:"blocks_digest,omitempty"`
	RecipesDigest string `json:"recipes_digest,omitempty"`

	Blocks   []BlockV1   `json:"blocks"`
	Machines []MachineV1 `json:"machines"`

	// Level holds the host's own participants when the host persists them with the world.
	Level []CellV1 `json:"level,omitempty"`
}

type BlockV1 struct {
	Pos [3]int `json:"pos"`
	ID  string `json:"id"`
}

type MachineV1 struct {
	Pos      [3]int     `json:"pos"`
	Type     string     `json:"type"`
	Tier     string     `json:"tier"`
	Progress float64    `json:"progress"`
	Limit    int        `json:"limit"`
	Volumes  []VolumeV1 `json:"volumes"`
}

// CellV1 is a generator or tank owned by the level rather than by a placed block.
type CellV1 struct {
	Pos   [3]int `json:"pos"`
	Kind  string `json:"kind"`
	Role  string `json:"role,omitempty"`
	Fluid string `json:"fluid,omitempty"`
	// Rate is the per-tick regeneration (generators, providing tanks) or drain (requesting tanks).
	Rate   [2]int64 `json:"rate"`
	Volume VolumeV1 `json:"volume"`
}

// VolumeV1 keeps fractions as raw [numerator, denominator] pairs so a round trip is lossless.
type VolumeV1 struct {
	Kind     string   `json:"kind"`
	Amount   [2]int64 `json:"amount"`
	Capacity [2]int64 `json:"capacity"`
}

// Path is where the snapshot of tick lives under worldDir.
func Path(worldDir string, tick uint64) string {
	return filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", tick))
}

// Latest returns the snapshot with the highest tick under worldDir, or "" if there is none.
func Latest(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
