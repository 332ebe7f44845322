package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/world"
)

func TestD1Index_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	var kinds []string
	var ticks []d1TickPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		mu.Unlock()

		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		var body struct {
			Events []struct {
				Kind    string          `json:"kind"`
				WorldID string          `json:"world_id"`
				Payload json.RawMessage `json:"payload"`
			} `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		for _, ev := range body.Events {
			kinds = append(kinds, ev.Kind)
			if ev.Kind == "tick" {
				var p d1TickPayload
				_ = json.Unmarshal(ev.Payload, &p)
				ticks = append(ticks, p)
			}
		}
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	idx, err := OpenD1(D1Config{
		Endpoint:      srv.URL,
		WorldID:       "world_1",
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenD1: %v", err)
	}
	defer func() { _ = idx.Close() }()

	if err := idx.WriteTick(sampleTick(123)); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}
	idx.RecordSnapshot("/tmp/123.snap.zst", snapshot.SnapshotV1{Header: snapshot.Header{Tick: 123}})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(kinds) >= 2
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != "tick" || kinds[1] != "snapshot" {
		t.Fatalf("delivered kinds=%v after %d requests", kinds, reqCount)
	}
	if ticks[0].Tick != 123 || ticks[0].Machines != 1 || len(ticks[0].Events) != 2 {
		t.Fatalf("tick payload=%+v", ticks[0])
	}

	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if st.DropTickTotal != 0 || st.DropSnapshotTotal != 0 {
		t.Fatalf("unexpected queue drops: %+v", st)
	}
}

func TestOpenD1RequiresEndpointAndWorld(t *testing.T) {
	if _, err := OpenD1(D1Config{WorldID: "w"}); err == nil {
		t.Fatalf("empty endpoint accepted")
	}
	if _, err := OpenD1(D1Config{Endpoint: "http://127.0.0.1:1"}); err == nil {
		t.Fatalf("empty world accepted")
	}
}

var (
	_ Index            = (*SQLiteIndex)(nil)
	_ Index            = (*D1Index)(nil)
	_ world.TickLogger = (*D1Index)(nil)
)
