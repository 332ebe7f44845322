package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	tick := fs.Uint64("tick", 0, "tick filter (optional; defaults to the latest indexed tick)")
	pos := fs.String("pos", "", "position filter x,y,z (events, machines)")
	limit := fs.Int("limit", 20, "result limit")
	errorsOnly := fs.Bool("errors", false, "only aborted networks (networks)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	var filter *[3]int
	if strings.TrimSpace(*pos) != "" {
		p, err := parsePos(*pos)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -pos:", err)
			os.Exit(2)
		}
		filter = &p
	}

	qo := queryOpts{tick: *tick, pos: filter, limit: *limit, errorsOnly: *errorsOnly}
	if err := runQuery(db, os.Stdout, q, qo); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-tick T] [-pos x,y,z] snapshots|ticks|events|networks|machines|catalogs")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type queryOpts struct {
	tick       uint64
	pos        *[3]int
	limit      int
	errorsOnly bool
}

// runQuery prints one JSON object per row to out.
func runQuery(db *sql.DB, out io.Writer, q string, o queryOpts) error {
	if o.limit <= 0 {
		o.limit = 20
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,blocks,machines,cells,blocks_digest,recipes_digest FROM snapshots ORDER BY tick DESC LIMIT ?`, o.limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick          int64  `json:"tick"`
				Path          string `json:"path"`
				Blocks        int    `json:"blocks"`
				Machines      int    `json:"machines"`
				Cells         int    `json:"cells"`
				BlocksDigest  string `json:"blocks_digest"`
				RecipesDigest string `json:"recipes_digest"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Blocks, &r.Machines, &r.Cells, &r.BlocksDigest, &r.RecipesDigest); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,events,networks,machines FROM ticks ORDER BY tick DESC LIMIT ?`, o.limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64  `json:"tick"`
				Digest   string `json:"digest"`
				Events   int    `json:"events"`
				Networks int    `json:"networks"`
				Machines int    `json:"machines"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Events, &r.Networks, &r.Machines); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "events":
		query := `SELECT tick,seq,kind,x,y,z,COALESCE(block_id,'') FROM events ORDER BY tick DESC, seq DESC LIMIT ?`
		args := []any{o.limit}
		if o.pos != nil {
			query = `SELECT tick,seq,kind,x,y,z,COALESCE(block_id,'') FROM events WHERE x=? AND y=? AND z=? ORDER BY tick DESC, seq DESC LIMIT ?`
			args = []any{o.pos[0], o.pos[1], o.pos[2], o.limit}
		}
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Seq     int    `json:"seq"`
				Kind    string `json:"kind"`
				Pos     [3]int `json:"pos"`
				BlockID string `json:"block_id,omitempty"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Kind, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.BlockID); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "networks":
		tick, err := resolveTick(db, o.tick)
		if err != nil {
			return err
		}
		query := `SELECT network_id,type,nodes,members,moved,COALESCE(error,'') FROM network_reports WHERE tick=? ORDER BY network_id`
		if o.errorsOnly {
			query = `SELECT network_id,type,nodes,members,moved,COALESCE(error,'') FROM network_reports WHERE tick=? AND COALESCE(error,'')<>'' ORDER BY network_id`
		}
		rows, err := db.Query(query, tick)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    uint64 `json:"tick"`
				ID      int    `json:"id"`
				Type    string `json:"type"`
				Nodes   int    `json:"nodes"`
				Members int    `json:"members"`
				Moved   string `json:"moved"`
				Error   string `json:"error,omitempty"`
			}
			if err := rows.Scan(&r.ID, &r.Type, &r.Nodes, &r.Members, &r.Moved, &r.Error); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Tick = tick
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "machines":
		// With -pos: that machine's history. Without: every machine at one tick.
		var (
			rows *sql.Rows
			err  error
		)
		if o.pos != nil {
			rows, err = db.Query(`SELECT tick,x,y,z,type,status,COALESCE(recipe,''),progress FROM machine_states WHERE x=? AND y=? AND z=? ORDER BY tick DESC LIMIT ?`,
				o.pos[0], o.pos[1], o.pos[2], o.limit)
		} else {
			tick, terr := resolveTick(db, o.tick)
			if terr != nil {
				return terr
			}
			rows, err = db.Query(`SELECT tick,x,y,z,type,status,COALESCE(recipe,''),progress FROM machine_states WHERE tick=? ORDER BY x,y,z`, tick)
		}
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64   `json:"tick"`
				Pos      [3]int  `json:"pos"`
				Type     string  `json:"type"`
				Status   string  `json:"status"`
				Recipe   string  `json:"recipe,omitempty"`
				Progress float64 `json:"progress"`
			}
			if err := rows.Scan(&r.Tick, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.Type, &r.Status, &r.Recipe, &r.Progress); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query: %s", q)
	}
}

// resolveTick returns tick, or the latest indexed tick when tick is 0.
func resolveTick(db *sql.DB, tick uint64) (uint64, error) {
	if tick != 0 {
		return tick, nil
	}
	var t sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(tick) FROM ticks`).Scan(&t); err != nil {
		return 0, fmt.Errorf("latest tick: %w", err)
	}
	if !t.Valid {
		return 0, fmt.Errorf("no ticks indexed")
	}
	return uint64(t.Int64), nil
}
