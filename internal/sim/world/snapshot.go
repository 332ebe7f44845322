package world

import (
	"fmt"

	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/machine"
	"flowcraft.ai/internal/sim/network"
	"flowcraft.ai/internal/sim/volume"
)

func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header:             snapshot.Header{Version: snapshot.Version, WorldID: w.cfg.ID, Tick: nowTick},
		Namespace:          w.reg.Namespace(),
		TickRate:           w.cfg.TickRateHz,
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		NetworkMaxNodes:    w.cfg.NetworkMaxNodes,
		BlocksDigest:       w.catalogs.Blocks.Digest,
		RecipesDigest:      w.catalogs.Recipes.Digest,
	}
	for _, pos := range w.reg.PlacedBlocks() {
		id, _ := w.reg.Placed(pos)
		snap.Blocks = append(snap.Blocks, snapshot.BlockV1{Pos: posArr(pos), ID: id})
	}
	for _, pos := range w.machinePositions() {
		m := w.machines[pos]
		st := m.State()
		mv := snapshot.MachineV1{
			Pos:      posArr(pos),
			Type:     m.Type,
			Tier:     m.Tier.Name,
			Progress: st.Progress,
			Limit:    st.Limit,
		}
		for _, v := range st.Volumes {
			mv.Volumes = append(mv.Volumes, volumeV1(v))
		}
		snap.Machines = append(snap.Machines, mv)
	}
	if ls, ok := w.level.(LevelState); ok {
		snap.Level = ls.Cells()
	}
	return snap
}

// ImportSnapshot replaces the world's blocks, machines and persisted level cells with snap and
// resumes at the tick after it. Network instances are rediscovered.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("world %s: unsupported snapshot version %d", w.cfg.ID, snap.Header.Version)
	}
	if snap.Namespace != "" && snap.Namespace != w.reg.Namespace() {
		return fmt.Errorf("world %s: snapshot namespace %q, want %q", w.cfg.ID, snap.Namespace, w.reg.Namespace())
	}

	machines := make(map[network.Pos]*machine.Machine, len(snap.Machines))
	for _, mv := range snap.Machines {
		pos := arrPos(mv.Pos)
		m, err := w.NewMachine(mv.Type, mv.Tier)
		if err != nil {
			return fmt.Errorf("world %s: machine at %s: %w", w.cfg.ID, pos, err)
		}
		st := machine.State{Progress: mv.Progress, Limit: mv.Limit}
		for _, v := range mv.Volumes {
			st.Volumes = append(st.Volumes, volumeState(v))
		}
		if err := m.Restore(st); err != nil {
			return fmt.Errorf("world %s: machine at %s: %w", w.cfg.ID, pos, err)
		}
		machines[pos] = m
	}

	if ls, ok := w.level.(LevelState); ok {
		if err := ls.RestoreCells(snap.Level); err != nil {
			return fmt.Errorf("world %s: %w", w.cfg.ID, err)
		}
	}

	for _, pos := range w.reg.PlacedBlocks() {
		w.reg.OnBlockRemoved(pos)
	}
	for _, b := range snap.Blocks {
		w.reg.OnBlockRegistered(arrPos(b.Pos), b.ID)
	}
	w.machines = machines
	w.pending = nil
	w.refreshes = map[network.Pos]struct{}{}
	w.networks.RefreshAll()
	w.tick.Store(snap.Header.Tick + 1)
	return nil
}

func posArr(p network.Pos) [3]int { return [3]int{p.X, p.Y, p.Z} }
func arrPos(a [3]int) network.Pos { return network.Pos{X: a[0], Y: a[1], Z: a[2]} }

func volumeV1(s volume.State) snapshot.VolumeV1 {
	a, c := s.Amount.Stored(), s.Capacity.Stored()
	return snapshot.VolumeV1{
		Kind:     string(s.Kind),
		Amount:   [2]int64{a.Numerator, a.Denominator},
		Capacity: [2]int64{c.Numerator, c.Denominator},
	}
}

func volumeState(v snapshot.VolumeV1) volume.State {
	return volume.State{
		Kind:     volume.Kind(v.Kind),
		Amount:   fraction.FromStored(fraction.StoredPair{Numerator: v.Amount[0], Denominator: v.Amount[1]}),
		Capacity: fraction.FromStored(fraction.StoredPair{Numerator: v.Capacity[0], Denominator: v.Capacity[1]}),
	}
}
