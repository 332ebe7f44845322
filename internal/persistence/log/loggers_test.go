package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flowcraft.ai/internal/sim/network"
	"flowcraft.ai/internal/sim/world"
)

func TestTickLoggerRotatesHourlyAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	l := NewTickLogger(dir, LoggerOptions{OnClose: func(path string) { closed = append(closed, filepath.Base(path)) }})
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	for tick := uint64(0); tick < 6; tick++ {
		if tick == 3 {
			clock = clock.Add(2 * time.Minute)
		}
		e := world.TickLogEntry{Tick: tick, Digest: strings.Repeat("a", 64)}
		if tick == 0 {
			e.Events = []world.Event{{Kind: world.EventBlockAdded, Pos: network.Pos{X: 1, Y: -2, Z: 3}, BlockID: "flowcraft:fluid_pipe"}}
		}
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("write %d: %v", tick, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := TickLogFiles(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(closed) != 2 || closed[0] != "events-2026-03-01-10.jsonl.zst" || closed[1] != "events-2026-03-01-11.jsonl.zst" {
		t.Fatalf("closed=%v", closed)
	}
	if len(files) != 2 || !strings.HasSuffix(files[0], "events-2026-03-01-10.jsonl.zst") {
		t.Fatalf("files=%v", files)
	}

	var got []world.TickLogEntry
	for _, f := range files {
		if err := ReadTickLog(f, func(e world.TickLogEntry) error {
			got = append(got, e)
			return nil
		}); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(got) != 6 {
		t.Fatalf("entries=%d", len(got))
	}
	for i, e := range got {
		if e.Tick != uint64(i) {
			t.Fatalf("entry %d has tick %d", i, e.Tick)
		}
	}
	ev := got[0].Events
	if len(ev) != 1 || ev[0].Pos != (network.Pos{X: 1, Y: -2, Z: 3}) || ev[0].BlockID != "flowcraft:fluid_pipe" {
		t.Fatalf("events=%+v", ev)
	}
}

func TestTickLogFilesSkipsForeignNames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"events-2026-01-01-02.jsonl.zst", "events-2026-01-01-01.jsonl.zst", "audit-2026-01-01-00.jsonl.zst", "events.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := TickLogFiles(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "events-2026-01-01-01.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}
}
