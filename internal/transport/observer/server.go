package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/observerproto"
	"flowcraft.ai/internal/sim/world"
)

// Server streams per-tick network and machine summaries to loopback websocket clients.
type Server struct {
	world *world.World
	log   logrus.FieldLogger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(w *world.World, logger logrus.FieldLogger) *Server {
	return &Server{
		world: w,
		log:   logger.WithField("component", "observer"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			// Peers are limited to loopback by WSHandler; a browser origin must be local too.
			CheckOrigin: loopbackOrigin,
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.world.Config()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         cfg.ID,
			Tick:            s.world.CurrentTick(),
			TickRateHz:      cfg.TickRateHz,
			Namespace:       s.world.Namespace(),
			Blocks:          s.world.Catalogs().Blocks.IDs(),
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		sub, ok := readSubscribe(conn)
		if !ok {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		log := s.log.WithField("session", sid)
		tickOut := make(chan []byte, 8)

		joinReq := world.ObserverJoinRequest{
			SessionID:  sid,
			TickOut:    tickOut,
			Types:      sub.Types,
			Machines:   sub.Machines,
			ErrorsOnly: sub.ErrorsOnly,
		}
		select {
		case s.world.ObserverJoin() <- joinReq:
		default:
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		log.Debug("observer joined")
		defer func() {
			select {
			case s.world.ObserverLeave() <- sid:
			default:
				// World loop is stopping; nothing else to do.
			}
			log.Debug("observer left")
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-tickOut:
					if !ok {
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			sub, ok := readSubscribe(conn)
			if sub == nil {
				break
			}
			if !ok {
				continue
			}
			req := world.ObserverSubscribeRequest{
				SessionID:  sid,
				Types:      sub.Types,
				Machines:   sub.Machines,
				ErrorsOnly: sub.ErrorsOnly,
			}
			select {
			case s.world.ObserverSubscribe() <- req:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// readSubscribe returns nil on a read error, and ok=false for a message that is not a valid SUBSCRIBE.
func readSubscribe(conn *websocket.Conn) (*observerproto.SubscribeMsg, bool) {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return &sub, false
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return &sub, false
	}
	return &sub, true
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

// loopbackOrigin accepts requests without an Origin header (non-browser clients) and pages served
// from localhost or a loopback address.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Hostname(), "localhost") {
		return true
	}
	ip := net.ParseIP(u.Hostname())
	return ip != nil && ip.IsLoopback()
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
