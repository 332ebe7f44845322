package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/catalogs"
	"flowcraft.ai/internal/sim/tuning"
	"flowcraft.ai/internal/sim/world"
)

// D1Config points a D1Index at an HTTP ingest endpoint (a Cloudflare worker in front of D1).
type D1Config struct {
	Endpoint      string
	Token         string
	WorldID       string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        logrus.FieldLogger
}

// D1Index posts batched index events as JSON. A batch that fails to send is kept and retried on the
// next flush; the retained backlog is capped at maxRetainedBatches batches, oldest dropped first.
type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	drops  dropCounters
}

const maxRetainedBatches = 8

type d1Event struct {
	Kind    string `json:"kind"`
	WorldID string `json:"world_id"`
	Payload any    `json:"payload"`
}

// d1TickPayload is the tick summary; per-machine rows stay in the local index and tick logs.
type d1TickPayload struct {
	Tick     uint64                `json:"tick"`
	Digest   string                `json:"digest"`
	Events   []world.Event         `json:"events,omitempty"`
	Networks []world.NetworkReport `json:"networks,omitempty"`
	Machines int                   `json:"machines"`
}

type d1CatalogPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.WorldID = strings.TrimSpace(cfg.WorldID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.WorldID == "" {
		return nil, fmt.Errorf("empty world id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	cfg.Logger = cfg.Logger.WithFields(logrus.Fields{"component": "d1index", "world": cfg.WorldID})

	d := &D1Index{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		ch: make(chan d1Event, 32768),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *D1Index) Stats() Stats {
	st := Stats{QueueDepth: len(d.ch), QueueCapacity: cap(d.ch)}
	d.drops.fill(&st)
	return st
}

func (d *D1Index) WriteTick(entry world.TickLogEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	p := d1TickPayload{
		Tick:     entry.Tick,
		Digest:   entry.Digest,
		Events:   entry.Events,
		Networks: entry.Networks,
		Machines: len(entry.Machines),
	}
	d.enqueue(d1Event{Kind: "tick", WorldID: d.cfg.WorldID, Payload: p}, &d.drops.tick)
	return nil
}

func (d *D1Index) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if d == nil || d.closed.Load() {
		return
	}
	d.enqueue(d1Event{Kind: "snapshot", WorldID: d.cfg.WorldID, Payload: newSnapshotRow(path, snap)}, &d.drops.snapshot)
}

func (d *D1Index) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if d == nil || d.closed.Load() || cats == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range catalogRows(configDir, cats, tune) {
		d.enqueue(d1Event{Kind: "catalog", WorldID: d.cfg.WorldID, Payload: d1CatalogPayload{
			Name:      r.Name,
			Digest:    r.Digest,
			JSON:      string(r.JSON),
			UpdatedAt: now,
		}}, &d.drops.catalog)
	}
	return nil
}

func (d *D1Index) enqueue(ev d1Event, dropped *atomic.Uint64) {
	select {
	case d.ch <- ev:
	default:
		dropped.Add(1)
		d.cfg.Logger.WithField("kind", ev.Kind).Warn("d1 index queue full; dropped")
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	var pending []d1Event
	maxPending := d.cfg.BatchSize * maxRetainedBatches
	flush := func() {
		for len(pending) > 0 {
			n := len(pending)
			if n > d.cfg.BatchSize {
				n = d.cfg.BatchSize
			}
			if err := d.sendBatch(pending[:n]); err != nil {
				d.drops.flush.Add(1)
				d.cfg.Logger.WithError(err).WithField("batch", n).Warn("d1 index flush failed; retained")
				if over := len(pending) - maxPending; over > 0 {
					pending = append(pending[:0], pending[over:]...)
				}
				return
			}
			pending = append(pending[:0], pending[n:]...)
		}
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			pending = append(pending, ev)
			if len(pending) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	if len(events) == 0 {
		return nil
	}

	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-flowcraft-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}
