package machine

import (
	"fmt"

	"flowcraft.ai/internal/sim/volume"
)

// State is the persisted form of a machine: engine progress plus every volume, energy first.
type State struct {
	Progress float64        `json:"progress"`
	Limit    int            `json:"limit"`
	Volumes  []volume.State `json:"volumes"`
}

func (m *Machine) State() State {
	s := State{
		Progress: m.Engine.Progress(),
		Limit:    m.Engine.Limit(),
		Volumes:  make([]volume.State, 0, 1+m.Fluids.Len()),
	}
	s.Volumes = append(s.Volumes, m.Energy.State())
	for _, v := range m.Fluids.Slots() {
		s.Volumes = append(s.Volumes, v.State())
	}
	return s
}

// Restore loads s. The volume count must match the machine layout.
func (m *Machine) Restore(s State) error {
	if want := 1 + m.Fluids.Len(); len(s.Volumes) != want {
		return fmt.Errorf("machine %s: restore: %d volumes, want %d", m.Type, len(s.Volumes), want)
	}
	if err := m.Energy.Restore(s.Volumes[0]); err != nil {
		return fmt.Errorf("machine %s: energy: %w", m.Type, err)
	}
	for i, v := range m.Fluids.Slots() {
		if err := v.Restore(s.Volumes[i+1]); err != nil {
			return fmt.Errorf("machine %s: slot %d: %w", m.Type, i, err)
		}
	}
	m.Engine.restore(s.Progress, s.Limit)
	return nil
}
