package machine

import (
	"flowcraft.ai/internal/sim/network"
	"flowcraft.ai/internal/sim/volume"
)

type energyPort struct{ m *Machine }

func (p energyPort) ResourceType() network.Type   { return network.TypeEnergy }
func (p energyPort) EnergyVolume() *volume.Volume { return p.m.Energy }
func (p energyPort) NetworkRoles(network.Type, network.Dir) network.Role {
	return network.RoleRequester
}

// Fluid machines both take inputs and hand out outputs.
type fluidPort struct{ m *Machine }

func (p fluidPort) ResourceType() network.Type { return network.TypeFluid }
func (p fluidPort) FluidGroup() *volume.Group  { return p.m.Fluids }
func (p fluidPort) NetworkRoles(network.Type, network.Dir) network.Role {
	return network.RoleBuffer
}

// Capability exposes the machine to networks of type t.
func (m *Machine) Capability(t network.Type) (network.Capability, bool) {
	switch t {
	case network.TypeEnergy:
		return energyPort{m}, true
	case network.TypeFluid:
		if m.Fluids.Len() == 0 {
			return nil, false
		}
		return fluidPort{m}, true
	}
	return nil, false
}
