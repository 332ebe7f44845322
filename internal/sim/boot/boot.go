// Package boot builds a ready-to-run world, either fresh from a layout or resumed from a snapshot.
// The server and the replay tool start worlds the same way so their digests agree.
package boot

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/catalogs"
	"flowcraft.ai/internal/sim/level"
	"flowcraft.ai/internal/sim/tuning"
	"flowcraft.ai/internal/sim/world"
)

type Config struct {
	WorldID string
	Tuning  tuning.Tuning
	Cats    *catalogs.Catalogs
	Logger  logrus.FieldLogger
	Metrics *world.Metrics
}

func (c Config) options(lv *level.Level) world.Options {
	return world.Options{Level: lv, Logger: c.Logger, Metrics: c.Metrics}
}

// Fresh creates a world at tick 0 with the layout's cells in its level and the layout's blocks
// queued for the first tick.
func Fresh(c Config, lay level.Layout) (*world.World, *level.Level, error) {
	w, lv, err := Unplaced(c, lay)
	if err != nil {
		return nil, nil, err
	}
	lay.Place(lv, w)
	return w, lv, nil
}

// Unplaced is Fresh without the queued placements. A replay uses it: the first tick log entry
// already carries the layout's events.
func Unplaced(c Config, lay level.Layout) (*world.World, *level.Level, error) {
	lv, err := lay.Build()
	if err != nil {
		return nil, nil, err
	}
	w, err := world.New(world.ConfigFromTuning(c.WorldID, c.Tuning), c.Tuning, c.Cats, c.options(lv))
	if err != nil {
		return nil, nil, err
	}
	return w, lv, nil
}

// Resume creates a world from snap. Tick rate and network size come from the snapshot so a
// resumed world steps exactly like the one that wrote it; the snapshot cadence follows tuning.
func Resume(c Config, snap snapshot.SnapshotV1) (*world.World, *level.Level, error) {
	id := c.WorldID
	if id == "" {
		id = snap.Header.WorldID
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != id {
		return nil, nil, fmt.Errorf("snapshot world id mismatch: want=%s snap=%s", id, snap.Header.WorldID)
	}
	if c.Logger != nil {
		if snap.BlocksDigest != "" && snap.BlocksDigest != c.Cats.Blocks.Digest {
			c.Logger.WithField("world", id).Warn("blocks.json changed since the snapshot was written")
		}
		if snap.RecipesDigest != "" && snap.RecipesDigest != c.Cats.Recipes.Digest {
			c.Logger.WithField("world", id).Warn("recipes.json changed since the snapshot was written")
		}
	}

	cfg := world.ConfigFromTuning(id, c.Tuning)
	if snap.TickRate > 0 {
		cfg.TickRateHz = snap.TickRate
	}
	if snap.NetworkMaxNodes > 0 {
		cfg.NetworkMaxNodes = snap.NetworkMaxNodes
	}

	lv := level.New()
	w, err := world.New(cfg, c.Tuning, c.Cats, c.options(lv))
	if err != nil {
		return nil, nil, err
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, nil, err
	}
	return w, lv, nil
}
