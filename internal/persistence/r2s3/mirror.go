package r2s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

// Mirror uploads completed files (snapshots, rotated tick logs) from a worker pool. Object keys are
// the file's path relative to the data dir, under the configured prefix.
type Mirror struct {
	client  *Client
	dataDir string
	prefix  string
	log     logrus.FieldLogger

	jobs        chan string
	enqueueWait time.Duration
	wg          sync.WaitGroup

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func NewMirror(client *Client, dataDir string, cfg Config, log logrus.FieldLogger) *Mirror {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueCapacity := cfg.QueueCapacity
	if queueCapacity <= 0 {
		queueCapacity = 2048
	}
	enqueueWait := cfg.EnqueueWait
	if enqueueWait <= 0 {
		enqueueWait = 25 * time.Millisecond
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	m := &Mirror{
		client:      client,
		dataDir:     dataDir,
		prefix:      strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/"),
		log:         log.WithField("component", "r2mirror"),
		jobs:        make(chan string, queueCapacity),
		enqueueWait: enqueueWait,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.uploadOne(localPath)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- localPath:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	// Keep enqueue bounded to avoid stalling world-tick call sites, but allow
	// a short configurable wait to reduce drop risk under brief bursts.
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
		return
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.log.WithFields(logrus.Fields{"local": localPath, "wait_ms": m.enqueueWait.Milliseconds(), "dropped_total": dropped}).Warn("mirror queue saturated, file dropped")
	}
}

func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.log.WithField("local", localPath).WithError(err).Warn("mirror skip")
		return
	}

	if err := m.uploadWithRetry(key, localPath); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.log.WithFields(logrus.Fields{"key": key, "local": localPath}).WithError(err).Error("mirror upload failed")
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(time.Now().UTC().Unix())
	m.log.WithFields(logrus.Fields{"key": key, "local": localPath}).Debug("mirror uploaded")
}

func (m *Mirror) uploadWithRetry(key, localPath string) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			backoff := time.Duration(attempt*attempt) * 200 * time.Millisecond
			time.Sleep(backoff)
		}
	}
	return lastErr
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}

	key := rel
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key, nil
}

// RegisterMetrics exposes the mirror's counters on reg.
func (m *Mirror) RegisterMetrics(reg prometheus.Registerer) error {
	gauge := func(name, help string, fn func(Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "flowcraft",
			Subsystem: "r2_mirror",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(m.Stats()) })
	}
	counter := func(name, help string, fn func(Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "flowcraft",
			Subsystem: "r2_mirror",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn(m.Stats())) })
	}
	for _, c := range []prometheus.Collector{
		gauge("queue_depth", "Current mirror queue depth.", func(s Stats) float64 { return float64(s.QueueDepth) }),
		gauge("queue_capacity", "Mirror queue capacity.", func(s Stats) float64 { return float64(s.QueueCapacity) }),
		counter("enqueued_total", "Total mirror enqueue attempts.", func(s Stats) uint64 { return s.EnqueuedTotal }),
		counter("queue_saturated_total", "Enqueue attempts that found the queue full.", func(s Stats) uint64 { return s.QueueSaturatedTotal }),
		counter("dropped_total", "Files dropped because the queue stayed full.", func(s Stats) uint64 { return s.DroppedTotal }),
		counter("upload_success_total", "Successful uploads.", func(s Stats) uint64 { return s.UploadSuccessTotal }),
		counter("upload_fail_total", "Uploads that failed after retries.", func(s Stats) uint64 { return s.UploadFailTotal }),
		gauge("last_success_unix", "Unix time of the last successful upload.", func(s Stats) float64 { return float64(s.LastSuccessUnix) }),
		gauge("last_error_unix", "Unix time of the last failed upload.", func(s Stats) float64 { return float64(s.LastErrorUnix) }),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
