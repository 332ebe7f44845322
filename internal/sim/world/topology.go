package world

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/sim/machine"
	"flowcraft.ai/internal/sim/network"
)

type EventKind string

const (
	EventBlockAdded      EventKind = "block_added"
	EventBlockRemoved    EventKind = "block_removed"
	EventNeighborChanged EventKind = "neighbor_changed"
)

// Event is a topology change reported by the host.
type Event struct {
	Kind    EventKind   `json:"kind"`
	Pos     network.Pos `json:"pos"`
	BlockID string      `json:"block_id,omitempty"`
}

// applyEvents updates the registry and machines in event order, then refreshes every touched position.
func (w *World) applyEvents(nowTick uint64, events []Event) {
	for _, ev := range events {
		switch ev.Kind {
		case EventBlockAdded:
			w.blockAdded(nowTick, ev.Pos, ev.BlockID)
		case EventBlockRemoved:
			w.reg.OnBlockRemoved(ev.Pos)
			delete(w.machines, ev.Pos)
			w.refreshes[ev.Pos] = struct{}{}
		case EventNeighborChanged:
			w.refreshes[ev.Pos] = struct{}{}
		default:
			w.log.WithFields(logrus.Fields{"tick": nowTick, "kind": string(ev.Kind)}).Warn("unknown topology event")
		}
	}
	if len(w.refreshes) == 0 {
		return
	}
	positions := make([]network.Pos, 0, len(w.refreshes))
	for p := range w.refreshes {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Less(positions[j]) })
	for _, p := range positions {
		w.networks.Refresh(p)
	}
	w.refreshes = map[network.Pos]struct{}{}
}

func (w *World) blockAdded(nowTick uint64, pos network.Pos, blockID string) {
	def, known := w.catalogs.Blocks.Defs[blockID]
	if !known {
		// Foreign and unknown ids are not participants; the registry ignores them too.
		w.log.WithFields(logrus.Fields{"tick": nowTick, "pos": pos.String(), "block": blockID}).Debug("ignored block")
		return
	}
	w.reg.OnBlockRegistered(pos, blockID)
	w.refreshes[pos] = struct{}{}

	prev := w.machines[pos]
	if def.Machine == "" {
		delete(w.machines, pos)
		return
	}
	if prev != nil && prev.Type == def.Machine && prev.Tier.Name == def.Tier {
		return
	}
	m, err := w.NewMachine(def.Machine, def.Tier)
	if err != nil {
		w.log.WithFields(logrus.Fields{"tick": nowTick, "pos": pos.String(), "block": blockID}).WithError(err).Error("machine block not spawned")
		return
	}
	w.machines[pos] = m
}

// NewMachine builds a machine of machineType at the named tier, wired to the recipe catalog.
func (w *World) NewMachine(machineType, tier string) (*machine.Machine, error) {
	t, ok := w.tuning.Tier(machineType, tier)
	if !ok {
		return nil, fmt.Errorf("machine %s: unknown tier %q", machineType, tier)
	}
	layout, _ := w.tuning.Layout(machineType)
	return machine.New(machineType, t, layout, w.catalogs.Recipes), nil
}

// AttachMachine places m at pos. Networks around pos are rediscovered at the next tick.
func (w *World) AttachMachine(pos network.Pos, m *machine.Machine) {
	w.machines[pos] = m
	w.refreshes[pos] = struct{}{}
}

// DetachMachine removes the machine at pos, if any.
func (w *World) DetachMachine(pos network.Pos) (*machine.Machine, bool) {
	m, ok := w.machines[pos]
	if !ok {
		return nil, false
	}
	delete(w.machines, pos)
	w.refreshes[pos] = struct{}{}
	return m, true
}

func (w *World) Machine(pos network.Pos) (*machine.Machine, bool) {
	m, ok := w.machines[pos]
	return m, ok
}

// MachinePositions lists attached machines in tick order.
func (w *World) MachinePositions() []network.Pos { return w.machinePositions() }

// probe answers registry lookups: attached machines first, then the external level.
func (w *World) probe(pos network.Pos, face network.Dir, t network.Type) (network.Capability, bool) {
	if m, ok := w.machines[pos]; ok {
		return m.Capability(t)
	}
	if w.level == nil {
		return nil, false
	}
	return w.level.Probe(pos, face, t)
}
