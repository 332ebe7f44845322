package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"flowcraft.ai/internal/persistence/archive"
	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/fraction"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "watch":
			watchCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// inspectCmd prints a snapshot's header, machines and level cells as JSON lines.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (used when -snapshot is empty)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to the world's latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -snapshot")
			os.Exit(2)
		}
		path = snapshot.Latest(filepath.Join(*dataDir, "worlds", *worldID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	for _, line := range describeSnapshot(snap) {
		printJSON(line)
	}
}

type snapshotSummary struct {
	Version       int    `json:"version"`
	WorldID       string `json:"world_id"`
	Tick          uint64 `json:"tick"`
	Namespace     string `json:"namespace"`
	TickRate      int    `json:"tick_rate_hz"`
	Blocks        int    `json:"blocks"`
	Machines      int    `json:"machines"`
	Cells         int    `json:"cells"`
	BlocksDigest  string `json:"blocks_digest,omitempty"`
	RecipesDigest string `json:"recipes_digest,omitempty"`
}

type volumeLine struct {
	Kind     string `json:"kind,omitempty"`
	Amount   string `json:"amount"`
	Capacity string `json:"capacity"`
}

type machineLine struct {
	Pos      [3]int       `json:"pos"`
	Type     string       `json:"type"`
	Tier     string       `json:"tier"`
	Progress float64      `json:"progress"`
	Limit    int          `json:"limit"`
	Volumes  []volumeLine `json:"volumes"`
}

type cellLine struct {
	Pos    [3]int     `json:"pos"`
	Kind   string     `json:"kind"`
	Role   string     `json:"role,omitempty"`
	Fluid  string     `json:"fluid,omitempty"`
	Rate   string     `json:"rate"`
	Volume volumeLine `json:"volume"`
}

// describeSnapshot renders the summary first, then one line per machine and per cell, with
// fractions in their "n:d" form.
func describeSnapshot(snap snapshot.SnapshotV1) []any {
	out := []any{snapshotSummary{
		Version:       snap.Header.Version,
		WorldID:       snap.Header.WorldID,
		Tick:          snap.Header.Tick,
		Namespace:     snap.Namespace,
		TickRate:      snap.TickRate,
		Blocks:        len(snap.Blocks),
		Machines:      len(snap.Machines),
		Cells:         len(snap.Level),
		BlocksDigest:  snap.BlocksDigest,
		RecipesDigest: snap.RecipesDigest,
	}}
	for _, m := range snap.Machines {
		ml := machineLine{Pos: m.Pos, Type: m.Type, Tier: m.Tier, Progress: m.Progress, Limit: m.Limit}
		for _, v := range m.Volumes {
			ml.Volumes = append(ml.Volumes, describeVolume(v))
		}
		out = append(out, ml)
	}
	for _, c := range snap.Level {
		out = append(out, cellLine{
			Pos:    c.Pos,
			Kind:   c.Kind,
			Role:   c.Role,
			Fluid:  c.Fluid,
			Rate:   fractionText(c.Rate),
			Volume: describeVolume(c.Volume),
		})
	}
	return out
}

func describeVolume(v snapshot.VolumeV1) volumeLine {
	return volumeLine{Kind: v.Kind, Amount: fractionText(v.Amount), Capacity: fractionText(v.Capacity)}
}

func fractionText(p [2]int64) string {
	if p[1] == 0 {
		return fmt.Sprintf("%d/0", p[0])
	}
	return fraction.New(p[0], p[1]).Simplify().Fractional()
}

func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	dir := filepath.Join(*dataDir, "worlds", *worldID, "archives")
	ents, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		meta, err := archive.ReadCheckpointMeta(filepath.Join(dir, e.Name()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", e.Name(), err)
			continue
		}
		printJSON(meta)
	}
}

func parsePos(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
