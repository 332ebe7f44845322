// Package indexdb keeps queryable read models of a running world (tick summaries, machine states,
// snapshot metadata, catalogs). Nothing here feeds back into the simulation: the tick logs and
// snapshots stay the source of truth, and indexers drop writes rather than stall the world loop.
package indexdb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"

	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/catalogs"
	"flowcraft.ai/internal/sim/tuning"
	"flowcraft.ai/internal/sim/world"
)

// Index is implemented by SQLiteIndex and D1Index.
type Index interface {
	WriteTick(entry world.TickLogEntry) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	Stats() Stats
	Close() error
}

// Stats reports queue pressure. Drop counters only ever grow.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	DropCatalogTotal  uint64 `json:"drop_catalog_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
}

type dropCounters struct {
	tick     atomic.Uint64
	snapshot atomic.Uint64
	catalog  atomic.Uint64
	flush    atomic.Uint64
}

func (c *dropCounters) fill(st *Stats) {
	st.DropTickTotal = c.tick.Load()
	st.DropSnapshotTotal = c.snapshot.Load()
	st.DropCatalogTotal = c.catalog.Load()
	st.FlushFailTotal = c.flush.Load()
}

type catalogRow struct {
	Name   string
	Digest string
	JSON   []byte
}

// catalogRows collects the raw config files next to their load-time digests, plus the tuning
// actually applied as canonical JSON.
func catalogRows(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) []catalogRow {
	var rows []catalogRow
	read := func(name, file, digest string) {
		if configDir == "" || digest == "" {
			return
		}
		b, err := os.ReadFile(filepath.Join(configDir, file))
		if err != nil || len(b) == 0 {
			return
		}
		rows = append(rows, catalogRow{Name: name, Digest: digest, JSON: b})
	}
	if cats != nil {
		read("blocks", "blocks.json", cats.Blocks.Digest)
		read("recipes", "recipes.json", cats.Recipes.Digest)
	}
	if b, err := json.Marshal(tune); err == nil {
		sum := sha256.Sum256(b)
		rows = append(rows, catalogRow{Name: "tuning", Digest: hex.EncodeToString(sum[:]), JSON: b})
	}
	return rows
}

// snapshotRow is the metadata kept per written snapshot.
type snapshotRow struct {
	Tick          uint64 `json:"tick"`
	Path          string `json:"path"`
	Blocks        int    `json:"blocks"`
	Machines      int    `json:"machines"`
	Cells         int    `json:"cells"`
	BlocksDigest  string `json:"blocks_digest"`
	RecipesDigest string `json:"recipes_digest"`
}

func newSnapshotRow(path string, snap snapshot.SnapshotV1) snapshotRow {
	return snapshotRow{
		Tick:          snap.Header.Tick,
		Path:          path,
		Blocks:        len(snap.Blocks),
		Machines:      len(snap.Machines),
		Cells:         len(snap.Level),
		BlocksDigest:  snap.BlocksDigest,
		RecipesDigest: snap.RecipesDigest,
	}
}
