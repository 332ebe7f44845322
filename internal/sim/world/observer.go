package world

import (
	"encoding/json"
	"strings"

	"flowcraft.ai/internal/observerproto"
)

// ObserverJoinRequest registers a read-only observer session that receives one TICK message per step.
//
// All observer state is maintained by the world loop goroutine.
type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte

	Types      []string
	Machines   bool
	ErrorsOnly bool
}

// ObserverSubscribeRequest replaces an existing session's filter.
type ObserverSubscribeRequest struct {
	SessionID string

	Types      []string
	Machines   bool
	ErrorsOnly bool
}

type observerClient struct {
	id      string
	tickOut chan []byte
	filter  observerFilter
}

type observerFilter struct {
	types      map[string]bool
	machines   bool
	errorsOnly bool
}

func newObserverFilter(types []string, machines, errorsOnly bool) observerFilter {
	f := observerFilter{machines: machines, errorsOnly: errorsOnly}
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if f.types == nil {
			f.types = map[string]bool{}
		}
		f.types[t] = true
	}
	return f
}

func (f observerFilter) wants(r NetworkReport) bool {
	if f.errorsOnly && r.Error == "" {
		return false
	}
	return f.types == nil || f.types[r.Type]
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func (w *World) Config() WorldConfig { return w.cfg }

// Namespace is the block-id namespace the registry matches against.
func (w *World) Namespace() string { return w.tuning.Namespace }

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil {
		return
	}
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
	}
	w.observers[req.SessionID] = &observerClient{
		id:      req.SessionID,
		tickOut: req.TickOut,
		filter:  newObserverFilter(req.Types, req.Machines, req.ErrorsOnly),
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.filter = newObserverFilter(req.Types, req.Machines, req.ErrorsOnly)
}

func (w *World) handleObserverLeave(sessionID string) {
	c := w.observers[sessionID]
	if c == nil {
		return
	}
	delete(w.observers, sessionID)
	close(c.tickOut)
}

func (w *World) stepObservers(nowTick uint64, digest string, nets []NetworkReport, machines []MachineReport) {
	if len(w.observers) == 0 {
		return
	}
	for _, c := range w.observers {
		msg := observerproto.TickMsg{
			Type:            "TICK",
			ProtocolVersion: observerproto.Version,
			Tick:            nowTick,
			Digest:          digest,
			Networks:        []observerproto.NetworkState{},
		}
		for _, r := range nets {
			if !c.filter.wants(r) {
				continue
			}
			msg.Networks = append(msg.Networks, observerproto.NetworkState{
				ID: r.ID, Type: r.Type, Nodes: r.Nodes, Members: r.Members, Moved: r.Moved, Error: r.Error,
			})
		}
		if c.filter.machines {
			for _, m := range machines {
				msg.Machines = append(msg.Machines, observerproto.MachineState{
					Pos: [3]int{m.Pos.X, m.Pos.Y, m.Pos.Z}, Type: m.Type, Status: m.Status, Recipe: m.Recipe, Progress: m.Progress,
				})
			}
		}
		b, err := json.Marshal(msg)
		if err != nil {
			w.log.WithField("observer", c.id).WithError(err).Warn("observer tick encode failed")
			continue
		}
		sendLatest(c.tickOut, b)
	}
}

// sendLatest never blocks: when ch is full the oldest message is dropped.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
