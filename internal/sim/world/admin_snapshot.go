package world

import (
	"context"
	"errors"
)

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Tick uint64
	Err  string
}

// Status is a copy of the last step's summary, safe to read from any goroutine.
type Status struct {
	WorldID  string  `json:"world_id"`
	Tick     uint64  `json:"tick"`
	Digest   string  `json:"digest"`
	Networks int     `json:"networks"`
	Machines int     `json:"machines"`
	Errors   int     `json:"network_errors"`
	StepMS   float64 `json:"step_ms"`
}

func (w *World) Status() Status {
	if s := w.status.Load(); s != nil {
		return *s
	}
	return Status{WorldID: w.cfg.ID}
}

// RequestSnapshot asks the world loop goroutine to enqueue a snapshot of the last executed tick.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	resp := make(chan adminSnapshotResp, 1)
	select {
	case w.admin <- adminSnapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleAdminSnapshotRequests(reqs []adminSnapshotReq) {
	if len(reqs) == 0 {
		return
	}
	cur := w.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}

	errStr := ""
	switch {
	case cur == 0:
		errStr = "no tick executed yet"
	case w.snapshotSink == nil:
		errStr = "snapshot sink not configured"
	default:
		snap := w.ExportSnapshot(snapTick)
		select {
		case w.snapshotSink <- snap:
		default:
			errStr = "snapshot sink backpressure"
		}
	}

	resp := adminSnapshotResp{Tick: snapTick, Err: errStr}
	for _, r := range reqs {
		select {
		case r.Resp <- resp:
		default:
			// Client timed out; don't block the sim loop.
		}
	}
}
