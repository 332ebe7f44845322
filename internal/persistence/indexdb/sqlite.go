package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/catalogs"
	"flowcraft.ai/internal/sim/tuning"
	"flowcraft.ai/internal/sim/world"
)

type SQLiteIndex struct {
	db  *sql.DB
	log logrus.FieldLogger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	drops  dropCounters
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	snapshot snapshotRow
}

// OpenSQLite opens (or creates) the index at path. A nil logger discards.
func OpenSQLite(path string, log logrus.FieldLogger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	s := &SQLiteIndex{
		db:  db,
		log: log.WithField("component", "indexdb"),
		ch:  make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			events INTEGER NOT NULL,
			networks INTEGER NOT NULL,
			machines INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			block_id TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_pos_tick ON events(x, z, y, tick);`,
		`CREATE TABLE IF NOT EXISTS network_reports (
			tick INTEGER NOT NULL,
			network_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			nodes INTEGER NOT NULL,
			members INTEGER NOT NULL,
			moved TEXT NOT NULL,
			error TEXT,
			PRIMARY KEY (tick, network_id)
		);`,
		`CREATE TABLE IF NOT EXISTS machine_states (
			tick INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			recipe TEXT,
			progress REAL NOT NULL,
			PRIMARY KEY (tick, x, y, z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_machine_states_pos_tick ON machine_states(x, z, y, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			blocks INTEGER NOT NULL,
			machines INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			blocks_digest TEXT NOT NULL,
			recipes_digest TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	st := Stats{QueueDepth: len(s.ch), QueueCapacity: cap(s.ch)}
	s.drops.fill(&st)
	return st
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.drops.tick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: newSnapshotRow(path, snap)}:
	default:
		s.drops.snapshot.Add(1)
	}
}

// UpsertCatalogs writes synchronously; it runs once at startup.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range catalogRows(configDir, cats, tune) {
		if _, err := stmt.Exec(r.Name, r.Digest, string(r.JSON), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,events,networks,machines,raw_json) VALUES(?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(tick,seq,kind,x,y,z,block_id) VALUES(?,?,?,?,?,?,?)`)
	insertNetwork, _ := s.db.Prepare(`INSERT OR REPLACE INTO network_reports(tick,network_id,type,nodes,members,moved,error) VALUES(?,?,?,?,?,?,?)`)
	insertMachine, _ := s.db.Prepare(`INSERT OR REPLACE INTO machine_states(tick,x,y,z,type,status,recipe,progress) VALUES(?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,blocks,machines,cells,blocks_digest,recipes_digest) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertEvent, insertNetwork, insertMachine, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			s.log.WithError(err).Warn("begin tx failed")
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.log.WithError(err).Warn("commit failed")
			s.drops.flush.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		s.log.WithError(err).Warn("index write failed, batch rolled back")
		s.drops.flush.Add(1)
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback(err)
			return false
		}
		opCount++
		return true
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			tick := int64(e.Tick)
			raw, _ := json.Marshal(e)
			if !exec(insertTick, tick, e.Digest, len(e.Events), len(e.Networks), len(e.Machines), string(raw)) {
				continue
			}
			ok := true
			for i, ev := range e.Events {
				if ok = exec(insertEvent, tick, i, string(ev.Kind), ev.Pos.X, ev.Pos.Y, ev.Pos.Z, ev.BlockID); !ok {
					break
				}
			}
			for _, n := range e.Networks {
				if !ok {
					break
				}
				ok = exec(insertNetwork, tick, n.ID, n.Type, n.Nodes, n.Members, n.Moved, n.Error)
			}
			for _, m := range e.Machines {
				if !ok {
					break
				}
				ok = exec(insertMachine, tick, m.Pos.X, m.Pos.Y, m.Pos.Z, m.Type, m.Status, m.Recipe, m.Progress)
			}

		case reqSnapshot:
			sn := r.snapshot
			if !exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Blocks, sn.Machines, sn.Cells, sn.BlocksDigest, sn.RecipesDigest) {
				continue
			}
		}
		flushIfNeeded()
	}

	commit()
}
