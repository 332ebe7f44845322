package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/persistence/indexdb"
	"flowcraft.ai/internal/persistence/r2s3"
	"flowcraft.ai/internal/sim/world"
	"flowcraft.ai/internal/transport/observer"
)

type httpDeps struct {
	world   *world.World
	metrics *world.Metrics
	index   indexdb.Index
	mirror  *r2s3.Mirror
	env     serverEnv
	log     logrus.FieldLogger
}

func newMux(d httpDeps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", d.metrics.Handler())

	if d.env.adminHTTPEnabled() {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			resp := struct {
				Status world.Status   `json:"status"`
				Index  *indexdb.Stats `json:"index,omitempty"`
				Mirror *r2s3.Stats    `json:"mirror,omitempty"`
			}{Status: d.world.Status()}
			if d.index != nil {
				st := d.index.Stats()
				resp.Index = &st
			}
			if d.mirror != nil {
				st := d.mirror.Stats()
				resp.Mirror = &st
			}
			writeJSON(rw, http.StatusOK, resp)
		}))
		mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			tick, err := d.world.RequestSnapshot(ctx)
			if err != nil {
				writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
		}))

		obs := observer.NewServer(d.world, d.log)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obs.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obs.WSHandler())
	} else {
		d.log.Info("admin endpoints disabled (FLOWCRAFT_ENABLE_ADMIN_HTTP=false)")
	}

	if d.env.PprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
