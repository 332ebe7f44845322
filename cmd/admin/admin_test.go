package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"flowcraft.ai/internal/observerproto"
	"flowcraft.ai/internal/persistence/indexdb"
	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/network"
	"flowcraft.ai/internal/sim/world"
)

func seedIndex(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := indexdb.OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	for tick := uint64(1); tick <= 3; tick++ {
		e := world.TickLogEntry{
			Tick:     tick,
			Digest:   strings.Repeat("f", 64),
			Networks: []world.NetworkReport{{ID: 1, Type: "energy", Nodes: 3, Members: 2, Moved: "2:1"}},
			Machines: []world.MachineReport{{Pos: network.Pos{X: 3}, Type: "electrolyzer", Status: "active", Progress: float64(4 * tick)}},
		}
		if tick == 1 {
			e.Events = []world.Event{{Kind: world.EventBlockAdded, Pos: network.Pos{X: 3}, BlockID: "flowcraft:elite_electrolyzer"}}
		}
		if tick == 3 {
			e.Networks = append(e.Networks, world.NetworkReport{ID: 2, Type: "fluid", Nodes: 1, Members: 2, Moved: "0:1", Error: "overflow"})
		}
		if err := idx.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	idx.RecordSnapshot("/data/3.snap.zst", snapshot.SnapshotV1{Header: snapshot.Header{Tick: 3}})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestRunQuery(t *testing.T) {
	db := seedIndex(t)
	run := func(q string, o queryOpts) []map[string]any {
		t.Helper()
		var buf bytes.Buffer
		if err := runQuery(db, &buf, q, o); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
		return decodeLines(t, &buf)
	}

	if rows := run("ticks", queryOpts{limit: 2}); len(rows) != 2 || rows[0]["tick"].(float64) != 3 {
		t.Fatalf("ticks=%v", rows)
	}
	if rows := run("snapshots", queryOpts{}); len(rows) != 1 || rows[0]["path"] != "/data/3.snap.zst" {
		t.Fatalf("snapshots=%v", rows)
	}
	if rows := run("networks", queryOpts{errorsOnly: true}); len(rows) != 1 || rows[0]["error"] != "overflow" || rows[0]["tick"].(float64) != 3 {
		t.Fatalf("networks=%v", rows)
	}
	if rows := run("networks", queryOpts{tick: 2}); len(rows) != 1 || rows[0]["moved"] != "2:1" {
		t.Fatalf("networks at 2=%v", rows)
	}

	at := [3]int{3, 0, 0}
	if rows := run("machines", queryOpts{pos: &at}); len(rows) != 3 || rows[0]["progress"].(float64) != 12 {
		t.Fatalf("machine history=%v", rows)
	}
	if rows := run("events", queryOpts{pos: &at}); len(rows) != 1 || rows[0]["block_id"] != "flowcraft:elite_electrolyzer" {
		t.Fatalf("events=%v", rows)
	}

	var buf bytes.Buffer
	if err := runQuery(db, &buf, "agents", queryOpts{}); err == nil || !strings.HasPrefix(err.Error(), "unknown query") {
		t.Fatalf("unknown query err=%v", err)
	}
}

func TestDescribeSnapshotPrintsFractions(t *testing.T) {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: 1, WorldID: "w1", Tick: 9},
		Machines: []snapshot.MachineV1{{
			Pos: [3]int{3, 0, 0}, Type: "electrolyzer", Tier: "elite",
			Volumes: []snapshot.VolumeV1{{Kind: "flowcraft:water", Amount: [2]int64{2, 6}, Capacity: [2]int64{32, 1}}},
		}},
		Level: []snapshot.CellV1{{Kind: "tank", Role: "provider", Fluid: "flowcraft:water", Rate: [2]int64{1, 8}, Volume: snapshot.VolumeV1{Amount: [2]int64{16, 1}, Capacity: [2]int64{16, 1}}}},
	}
	lines := describeSnapshot(snap)
	if len(lines) != 3 {
		t.Fatalf("lines=%d", len(lines))
	}
	if s := lines[0].(snapshotSummary); s.Tick != 9 || s.Machines != 1 || s.Cells != 1 {
		t.Fatalf("summary=%+v", s)
	}
	if m := lines[1].(machineLine); m.Volumes[0].Amount != "1:3" || m.Volumes[0].Capacity != "32:1" {
		t.Fatalf("machine=%+v", m)
	}
	if c := lines[2].(cellLine); c.Rate != "1:8" || c.Volume.Amount != "16:1" {
		t.Fatalf("cell=%+v", c)
	}
}

func TestParsePos(t *testing.T) {
	if p, err := parsePos(" 1, -2 ,3"); err != nil || p != [3]int{1, -2, 3} {
		t.Fatalf("pos=%v err=%v", p, err)
	}
	for _, bad := range []string{"", "1,2", "a,b,c"} {
		if _, err := parsePos(bad); err == nil {
			t.Fatalf("parsePos(%q) accepted", bad)
		}
	}
}

func TestAdminCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = rw.Write([]byte(`{"ok":true,"tick":41}` + "\n"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	if err := adminCall(http.MethodPost, adminURL(srv.URL+"/ ", "/admin/v1/snapshot"), time.Second, &buf); err != nil {
		t.Fatalf("post: %v", err)
	}
	if buf.String() != `{"ok":true,"tick":41}`+"\n" {
		t.Fatalf("out=%q", buf.String())
	}
	if err := adminCall(http.MethodGet, srv.URL, time.Second, io.Discard); err == nil {
		t.Fatalf("non-2xx status accepted")
	}
}

func TestWSURL(t *testing.T) {
	for in, want := range map[string]string{
		"http://127.0.0.1:8080/": "ws://127.0.0.1:8080/x",
		"https://flows.example":  "wss://flows.example/x",
		"ws://already.example":   "ws://already.example/x",
	} {
		if got := wsURL(in, "/x"); got != want {
			t.Fatalf("wsURL(%q)=%q want %q", in, got, want)
		}
	}
}

func TestWatchPrintsTicks(t *testing.T) {
	up := websocket.Upgrader{}
	subs := make(chan observerproto.SubscribeMsg, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var got observerproto.SubscribeMsg
		if err := conn.ReadJSON(&got); err != nil {
			return
		}
		subs <- got
		for tick := uint64(5); tick < 8; tick++ {
			_ = conn.WriteJSON(observerproto.TickMsg{Type: "TICK", ProtocolVersion: observerproto.Version, Tick: tick})
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	sub := observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, Types: []string{"fluid"}}
	var buf bytes.Buffer
	if err := watch(wsURL(srv.URL, "/ws"), sub, 2, &buf); err != nil {
		t.Fatalf("watch: %v", err)
	}
	lines := decodeLines(t, &buf)
	if len(lines) != 2 || lines[1]["tick"].(float64) != 6 {
		t.Fatalf("lines=%v", lines)
	}
	got := <-subs
	if got.Type != "SUBSCRIBE" || len(got.Types) != 1 || got.Types[0] != "fluid" {
		t.Fatalf("subscribe=%+v", got)
	}
}
