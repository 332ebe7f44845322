package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/persistence/archive"
	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/boot"
	"flowcraft.ai/internal/sim/catalogs"
	"flowcraft.ai/internal/sim/tuning"
	"flowcraft.ai/internal/sim/world"
)

func findRepoRootForServerTests(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServerWorld(t *testing.T) (*world.World, *world.Metrics) {
	t.Helper()
	root := findRepoRootForServerTests(t)
	cats, err := catalogs.Load(filepath.Join(root, "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tune, err := tuning.Load(filepath.Join(root, "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	lay, err := loadLayout(filepath.Join(root, "configs"), "")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	metrics := world.NewMetrics()
	w, _, err := boot.Fresh(boot.Config{WorldID: "w1", Tuning: tune, Cats: cats, Metrics: metrics}, lay)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	return w, metrics
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"::1":            true,
		"10.0.0.1:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestServerEnv(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "production")
	t.Setenv("FLOWCRAFT_INDEX_BACKEND", " D1 ")
	t.Setenv("FLOWCRAFT_INDEX_D1_INGEST_URL", "https://ingest.example")
	e, err := loadServerEnv()
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	if e.adminHTTPEnabled() {
		t.Fatalf("admin http on in production by default")
	}
	if e.IndexBackend != "d1" || e.D1.IngestURL != "https://ingest.example" || e.D1.BatchSize != 128 {
		t.Fatalf("env=%+v", e)
	}

	t.Setenv("FLOWCRAFT_ENABLE_ADMIN_HTTP", "true")
	if e, _ = loadServerEnv(); !e.adminHTTPEnabled() {
		t.Fatalf("explicit admin http flag ignored")
	}

	if _, err := newLogger(serverEnv{LogLevel: "info", LogFormat: "xml"}); err == nil {
		t.Fatalf("unknown log format accepted")
	}
}

func TestOpenRuntimeIndexSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	idx, err := openRuntimeIndex(dir, "w1", false, serverEnv{IndexBackend: "sqlite"}, quietLogger())
	if err != nil || idx == nil {
		t.Fatalf("sqlite idx=%v err=%v", idx, err)
	}
	_ = idx.Close()
	if _, err := os.Stat(filepath.Join(dir, "index", "world.sqlite")); err != nil {
		t.Fatalf("sqlite file: %v", err)
	}

	if idx, err := openRuntimeIndex(dir, "w1", true, serverEnv{IndexBackend: "sqlite"}, nil); idx != nil || err != nil {
		t.Fatalf("disable_db: idx=%v err=%v", idx, err)
	}
	if _, err := openRuntimeIndex(dir, "w1", false, serverEnv{IndexBackend: "d1"}, nil); err == nil {
		t.Fatalf("d1 without ingest url accepted")
	}
	if _, err := openRuntimeIndex(dir, "w1", false, serverEnv{IndexBackend: "postgres"}, nil); err == nil {
		t.Fatalf("unknown backend accepted")
	}
}

type failingTickLogger struct{ n int }

func (f *failingTickLogger) WriteTick(world.TickLogEntry) error {
	f.n++
	return errors.New("disk full")
}

func TestMultiTickLoggerWritesEverySink(t *testing.T) {
	a, b := &failingTickLogger{}, &failingTickLogger{}
	m := multiTickLogger{a, nil, b}
	if err := m.WriteTick(world.TickLogEntry{Tick: 1}); err == nil {
		t.Fatalf("error swallowed")
	}
	if a.n != 1 || b.n != 1 {
		t.Fatalf("writes a=%d b=%d", a.n, b.n)
	}
}

func TestSnapshotWriterArchivesAndPrunes(t *testing.T) {
	w, _ := newTestServerWorld(t)
	worldDir := t.TempDir()
	sw := snapshotWriter{worldDir: worldDir, archiveEvery: 4, keep: 2, log: quietLogger()}

	for i := 0; i < 8; i++ {
		w.StepOnce(nil)
		sw.handle(w.ExportSnapshot(w.CurrentTick() - 1))
	}

	ents, err := os.ReadDir(filepath.Join(worldDir, "snapshots"))
	if err != nil {
		t.Fatalf("read snapshots: %v", err)
	}
	if len(ents) != 2 || filepath.Base(snapshot.Latest(worldDir)) != "7.snap.zst" {
		t.Fatalf("snapshots=%d latest=%s", len(ents), snapshot.Latest(worldDir))
	}

	archives, err := os.ReadDir(filepath.Join(worldDir, "archives"))
	if err != nil {
		t.Fatalf("read archives: %v", err)
	}
	if len(archives) != 2 {
		t.Fatalf("archives=%d, want ticks 3 and 7", len(archives))
	}
	meta, err := archive.ReadCheckpointMeta(filepath.Join(worldDir, "archives", archives[0].Name()))
	if err != nil || meta.Tick != 3 || meta.WorldID != "w1" || meta.Cells != 3 {
		t.Fatalf("meta=%+v err=%v", meta, err)
	}
	snap, err := snapshot.ReadSnapshot(filepath.Join(worldDir, "archives", archives[0].Name(), meta.Snapshot))
	if err != nil || snap.Header.Tick != 3 || len(snap.Blocks) != 5 {
		t.Fatalf("archived snapshot tick=%d blocks=%d err=%v", snap.Header.Tick, len(snap.Blocks), err)
	}
}

func TestMuxServesHealthMetricsAndAdmin(t *testing.T) {
	w, metrics := newTestServerWorld(t)
	w.StepOnce(nil)
	on := true
	mux := newMux(httpDeps{world: w, metrics: metrics, env: serverEnv{AdminHTTP: &on}, log: quietLogger()})

	get := func(path, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if remote != "" {
			req.RemoteAddr = remote
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	if rec := get("/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz=%d %q", rec.Code, rec.Body.String())
	}
	if rec := get("/metrics", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `flowcraft_world_ticks_total{world="w1"} 1`) {
		t.Fatalf("metrics=%d\n%s", rec.Code, rec.Body.String())
	}
	if rec := get("/admin/v1/state", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("remote admin state=%d", rec.Code)
	}

	rec := get("/admin/v1/state", "127.0.0.1:4000")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin state=%d", rec.Code)
	}
	var resp struct {
		Status world.Status    `json:"status"`
		Index  json.RawMessage `json:"index"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status.WorldID != "w1" || resp.Status.Tick != 0 || resp.Index != nil {
		t.Fatalf("state=%+v", resp)
	}

	if rec := get("/admin/v1/snapshot", "127.0.0.1:4000"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET snapshot=%d", rec.Code)
	}
	if rec := get("/admin/v1/observer/bootstrap", "127.0.0.1:4000"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"world_id":"w1"`) {
		t.Fatalf("observer bootstrap=%d %s", rec.Code, rec.Body.String())
	}
	if rec := get("/debug/pprof/", "127.0.0.1:4000"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof exposed without opt-in: %d", rec.Code)
	}
}
