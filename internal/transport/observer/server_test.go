package observer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/observerproto"
	"flowcraft.ai/internal/sim/boot"
	"flowcraft.ai/internal/sim/catalogs"
	"flowcraft.ai/internal/sim/level"
	"flowcraft.ai/internal/sim/tuning"
	"flowcraft.ai/internal/sim/world"
)

func startWorld(t *testing.T) *world.World {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tune, err := tuning.Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	tune.TickRateHz = 200
	lay, err := level.LoadLayout("../../../configs/layout.yaml")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	w, _, err := boot.Fresh(boot.Config{WorldID: "w1", Tuning: tune, Cats: cats}, lay)
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func newTestServer(t *testing.T, w *world.World) *httptest.Server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	s := NewServer(w, log)
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/v1/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBootstrap(t *testing.T) {
	srv := newTestServer(t, startWorld(t))
	resp, err := http.Get(srv.URL + "/admin/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ProtocolVersion != observerproto.Version || b.WorldID != "w1" || b.TickRateHz != 200 || b.Namespace != "flowcraft" || len(b.Blocks) == 0 {
		t.Fatalf("bootstrap=%+v", b)
	}
}

func TestStreamsTicksAfterSubscribe(t *testing.T) {
	srv := newTestServer(t, startWorld(t))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, Machines: true}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var last uint64
	for i := 0; i < 3; i++ {
		var msg observerproto.TickMsg
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != "TICK" || len(msg.Digest) != 64 {
			t.Fatalf("msg=%+v", msg)
		}
		if i > 0 && msg.Tick <= last {
			t.Fatalf("tick went from %d to %d", last, msg.Tick)
		}
		last = msg.Tick
	}
}

func TestRejectsMissingSubscribe(t *testing.T) {
	srv := newTestServer(t, startWorld(t))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v, want policy violation close", err)
	}
}

func TestRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t, startWorld(t))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/v1/observer/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://flows.example"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin: err=%v resp=%v", err, resp)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost:5173"}})
	if err != nil {
		t.Fatalf("local origin: %v", err)
	}
	_ = conn.Close()
}

func TestLoopbackOrigin(t *testing.T) {
	for origin, want := range map[string]bool{
		"":                      true,
		"http://127.0.0.1:8080": true,
		"http://[::1]":          true,
		"http://LOCALHOST":      true,
		"https://flows.example": false,
		"null":                  false,
	} {
		r := httptest.NewRequest(http.MethodGet, "/admin/v1/observer/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := loopbackOrigin(r); got != want {
			t.Fatalf("%q: got %v", origin, got)
		}
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:9000": true,
		"[::1]:80":       true,
		"10.1.2.3:80":    false,
		"garbage":        false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v", addr, got)
		}
	}
}
