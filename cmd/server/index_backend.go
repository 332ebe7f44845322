package main

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/persistence/indexdb"
	"flowcraft.ai/internal/sim/world"
)

// openRuntimeIndex opens the read-model index selected by FLOWCRAFT_INDEX_BACKEND. It never
// affects the simulation; a nil index means indexing is off.
func openRuntimeIndex(worldDir, worldID string, disableDB bool, e serverEnv, log logrus.FieldLogger) (indexdb.Index, error) {
	if disableDB {
		return nil, nil
	}
	switch e.IndexBackend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite", "":
		return indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"), log)
	case "d1":
		if e.D1.IngestURL == "" {
			return nil, fmt.Errorf("FLOWCRAFT_INDEX_BACKEND=d1 but FLOWCRAFT_INDEX_D1_INGEST_URL is empty")
		}
		return indexdb.OpenD1(indexdb.D1Config{
			Endpoint:      e.D1.IngestURL,
			Token:         e.D1.Token,
			WorldID:       worldID,
			BatchSize:     e.D1.BatchSize,
			FlushInterval: e.D1.FlushInterval,
			Logger:        log,
		})
	default:
		return nil, fmt.Errorf("unsupported FLOWCRAFT_INDEX_BACKEND: %s", e.IndexBackend)
	}
}

func registerIndexMetrics(reg prometheus.Registerer, idx indexdb.Index) error {
	if idx == nil {
		return nil
	}
	gauge := func(name, help string, fn func(indexdb.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "flowcraft",
			Subsystem: "index",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(idx.Stats()) })
	}
	counter := func(name, help string, fn func(indexdb.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "flowcraft",
			Subsystem: "index",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn(idx.Stats())) })
	}
	for _, c := range []prometheus.Collector{
		gauge("queue_depth", "Current index queue depth.", func(s indexdb.Stats) float64 { return float64(s.QueueDepth) }),
		gauge("queue_capacity", "Index queue capacity.", func(s indexdb.Stats) float64 { return float64(s.QueueCapacity) }),
		counter("dropped_ticks_total", "Tick entries dropped on a full queue.", func(s indexdb.Stats) uint64 { return s.DropTickTotal }),
		counter("dropped_snapshots_total", "Snapshot rows dropped on a full queue.", func(s indexdb.Stats) uint64 { return s.DropSnapshotTotal }),
		counter("dropped_catalogs_total", "Catalog rows dropped on a full queue.", func(s indexdb.Stats) uint64 { return s.DropCatalogTotal }),
		counter("flush_failures_total", "Failed index flushes.", func(s indexdb.Stats) uint64 { return s.FlushFailTotal }),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// multiTickLogger fans a tick entry out to every configured sink. The first sink's error wins;
// the rest are best effort.
type multiTickLogger []world.TickLogger

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.WriteTick(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
