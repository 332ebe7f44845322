package r2s3

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type putRecord struct {
	path   string
	body   string
	sha    string
	auth   string
	amzDay string
}

func newBucket(t *testing.T) (*httptest.Server, func() []putRecord) {
	t.Helper()
	var mu sync.Mutex
	var puts []putRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, putRecord{
			path:   r.URL.Path,
			body:   string(b),
			sha:    r.Header.Get("x-amz-content-sha256"),
			auth:   r.Header.Get("Authorization"),
			amzDay: r.Header.Get("x-amz-date"),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []putRecord {
		mu.Lock()
		defer mu.Unlock()
		return append([]putRecord(nil), puts...)
	}
}

func TestMirrorUploadsRelativeToDataDir(t *testing.T) {
	srv, puts := newBucket(t)
	cfg := Config{Endpoint: srv.URL, Bucket: "flows", AccessKeyID: "AKID", SecretAccessKey: "secret", Prefix: "/prod/", Workers: 1}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	client.now = func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC) }

	dataDir := t.TempDir()
	local := filepath.Join(dataDir, "worlds", "w1", "snapshots", "40.snap.zst")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("snapshot bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(t.TempDir(), "elsewhere.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMirror(client, dataDir, cfg, nil)
	reg := prometheus.NewRegistry()
	if err := m.RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	m.Enqueue(local)
	m.Enqueue(outside)
	m.Close()

	got := puts()
	if len(got) != 1 {
		t.Fatalf("puts=%d, want only the file inside the data dir", len(got))
	}
	p := got[0]
	if p.path != "/flows/prod/worlds/w1/snapshots/40.snap.zst" || p.body != "snapshot bytes" {
		t.Fatalf("put=%+v", p)
	}
	sum := sha256.Sum256([]byte("snapshot bytes"))
	if p.sha != hex.EncodeToString(sum[:]) || p.amzDay != "20260504T030201Z" {
		t.Fatalf("headers sha=%s date=%s", p.sha, p.amzDay)
	}
	if !strings.HasPrefix(p.auth, "AWS4-HMAC-SHA256 Credential=AKID/20260504/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("auth=%s", p.auth)
	}

	st := m.Stats()
	if st.EnqueuedTotal != 2 || st.UploadSuccessTotal != 1 || st.UploadFailTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if v := counterValue(t, reg, "flowcraft_r2_mirror_upload_success_total"); v != 1 {
		t.Fatalf("upload_success_total=%v", v)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) == 1 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestSigningKeyMatchesReferenceVector(t *testing.T) {
	key := deriveSigningKey("wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "20120215", "us-east-1", "iam")
	if got := hex.EncodeToString(key); got != "f4780e2d9f65fa895f9c67b32ce1baf0b0d8a43505a000a1a9e090d414db404d" {
		t.Fatalf("signing key=%s", got)
	}
}

func TestNormalizeObjectKey(t *testing.T) {
	cases := map[string]string{
		"a/b.zst":       "a/b.zst",
		"/a//b.zst":     "a/b.zst",
		`a\b.zst`:       "a/b.zst",
		"../escape":     "escape",
		"   ":           "",
		"a/./b/../c.gz": "a/c.gz",
	}
	for in, want := range cases {
		if got := normalizeObjectKey(in); got != want {
			t.Fatalf("normalizeObjectKey(%q)=%q want %q", in, got, want)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("FLOWCRAFT_R2_MIRROR", "true")
	t.Setenv("FLOWCRAFT_R2_BUCKET", "flows")
	t.Setenv("FLOWCRAFT_R2_ENQUEUE_WAIT", "100ms")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if !cfg.Enabled || cfg.Bucket != "flows" || cfg.Workers != 2 || cfg.Region != "auto" || cfg.EnqueueWait != 100*time.Millisecond {
		t.Fatalf("cfg=%+v", cfg)
	}
	if _, err := New(cfg); err == nil {
		t.Fatalf("New accepted a config without endpoint or keys")
	}
	cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey = "ftp://r2.example", "AKID", "secret"
	if _, err := New(cfg); err == nil {
		t.Fatalf("New accepted a non-http endpoint")
	}
}
