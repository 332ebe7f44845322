package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	persistlog "flowcraft.ai/internal/persistence/log"
	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/boot"
	"flowcraft.ai/internal/sim/catalogs"
	"flowcraft.ai/internal/sim/level"
	"flowcraft.ai/internal/sim/tuning"
	"flowcraft.ai/internal/sim/world"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		layoutPath = flag.String("layout", "", "path to layout.yaml seeding a fresh world (default: <configs>/layout.yaml if present)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (tick summaries + catalogs + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	senv, err := loadServerEnv()
	if err != nil {
		logrus.Fatal(err)
	}
	logger, err := newLogger(senv)
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	log := logger.WithField("world", *worldID)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		log.Fatalf("load catalogs: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		log.Fatalf("data dir: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		log.Fatalf("load tuning: %v", err)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(worldDir)
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(worldDir, *worldID, *disableDB, senv, logger)
	if err != nil {
		log.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			log.WithError(err).Warn("index backend: upsert catalogs")
		}
	}

	mirror, err := buildMirror(*dataDir, logger)
	if err != nil {
		log.Fatalf("init r2 mirror: %v", err)
	}
	defer mirror.Close()

	metrics := world.NewMetrics()
	bc := boot.Config{WorldID: *worldID, Tuning: tune, Cats: cats, Logger: logger, Metrics: metrics}

	var w *world.World
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			log.Fatalf("read snapshot: %v", err)
		}
		if w, _, err = boot.Resume(bc, snap); err != nil {
			log.Fatalf("resume: %v", err)
		}
		log.WithFields(logrus.Fields{"snapshot": filepath.Base(snapshotToLoad), "tick": w.CurrentTick()}).Info("resumed from snapshot")
	} else {
		lay, err := loadLayout(*configDir, *layoutPath)
		if err != nil {
			log.Fatalf("load layout: %v", err)
		}
		if w, _, err = boot.Fresh(bc, lay); err != nil {
			log.Fatalf("world: %v", err)
		}
		log.WithFields(logrus.Fields{"blocks": len(lay.Blocks), "generators": len(lay.Generators), "tanks": len(lay.Tanks)}).Info("fresh world")
	}

	if mirror != nil {
		if err := mirror.RegisterMetrics(metrics.Registry()); err != nil {
			log.WithError(err).Warn("register mirror metrics")
		}
	}
	if err := registerIndexMetrics(metrics.Registry(), idx); err != nil {
		log.WithError(err).Warn("register index metrics")
	}

	ctx, cancel := signalContext()
	defer cancel()

	logOpts := persistlog.LoggerOptions{RotateLayout: senv.LogRotateLayout}
	if mirror != nil {
		if logOpts.RotateLayout == "" {
			logOpts.RotateLayout = mirrorRotateLayout
		}
		logOpts.OnClose = mirror.Enqueue
	}
	tickLog := persistlog.NewTickLogger(worldDir, logOpts)
	defer tickLog.Close()
	sinks := multiTickLogger{tickLog}
	if idx != nil {
		sinks = append(sinks, idx)
	}
	w.SetTickLogger(sinks)

	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go snapshotWriter{
		worldDir:     worldDir,
		index:        idx,
		mirror:       mirror,
		archiveEvery: senv.ArchiveEveryTicks,
		keep:         senv.KeepSnapshots,
		log:          log.WithField("component", "snapshots"),
	}.run(ctx, snapCh)

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("world stopped")
		}
	}()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(httpDeps{world: w, metrics: metrics, index: idx, mirror: mirror, env: senv, log: log}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithField("addr", *addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("ListenAndServe: %v", err)
	}
	<-worldDone
}

// loadLayout reads the explicit layout, else <configs>/layout.yaml when present, else an empty one.
func loadLayout(configDir, path string) (level.Layout, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		return level.LoadLayout(path)
	}
	def := filepath.Join(configDir, "layout.yaml")
	if _, err := os.Stat(def); err != nil {
		if os.IsNotExist(err) {
			return level.Layout{}, nil
		}
		return level.Layout{}, err
	}
	return level.LoadLayout(def)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
