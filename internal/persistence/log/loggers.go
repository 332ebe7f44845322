package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"flowcraft.ai/internal/sim/world"
)

// DefaultRotateLayout cuts one file per UTC hour.
const DefaultRotateLayout = "2006-01-02-15"

type LoggerOptions struct {
	// RotateLayout is a time layout; a new file starts whenever the formatted UTC time changes.
	RotateLayout string
	// OnClose is called with the path of every file once it is complete (after rotation or Close).
	OnClose func(path string)
}

// JSONLZstdWriter appends JSON lines to zstd files named <prefix>-<segment>.jsonl.zst.
// A file is only complete once the writer has rotated past it or been closed.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	opts    LoggerOptions
	now     func() time.Time

	mu     sync.Mutex
	curSeg string
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string, opts LoggerOptions) *JSONLZstdWriter {
	if opts.RotateLayout == "" {
		opts.RotateLayout = DefaultRotateLayout
	}
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		opts:    opts,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seg := w.now().UTC().Format(w.opts.RotateLayout)
	if seg != w.curSeg {
		if err := w.rotateLocked(seg); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(seg string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForSegment(seg), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curSeg = seg
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		path := w.f.Name()
		_ = w.f.Close()
		w.f = nil
		if err1 == nil && w.opts.OnClose != nil {
			w.opts.OnClose(path)
		}
	}
	w.w = nil
	w.curSeg = ""
	return err1
}

func (w *JSONLZstdWriter) pathForSegment(seg string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, seg))
}

const tickLogPrefix = "events"

// TickLogger writes one JSONL entry per tick (compressed) under <worldDir>/events.
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(worldDir string, opts LoggerOptions) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "events"), tickLogPrefix, opts)}
}

func (l *TickLogger) WriteTick(v world.TickLogEntry) error { return l.w.Write(v) }
func (l *TickLogger) Close() error                         { return l.w.Close() }

// TickLogFiles lists the tick log files of dir (a world's events directory) oldest first.
// The hour stamp in the name sorts lexically.
func TickLogFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, tickLogPrefix+"-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ReadTickLog decodes the entries of one tick log file in order and hands each to fn.
// It stops at the first error from fn.
func ReadTickLog(path string, fn func(world.TickLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var e world.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}
