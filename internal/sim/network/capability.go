package network

import "flowcraft.ai/internal/sim/volume"

// Capability is what the world exposes at a position for one resource type.
type Capability interface {
	ResourceType() Type
}

type EnergyCapability interface {
	Capability
	EnergyVolume() *volume.Volume
}

type FluidCapability interface {
	Capability
	FluidGroup() *volume.Group
}

// ItemCapability is discovered but never distributed to.
type ItemCapability interface {
	Capability
	ItemSlots() int
}

// RoleReporter lets a capability name its own roles. Capabilities without one are treated as buffers.
type RoleReporter interface {
	NetworkRoles(t Type, face Dir) Role
}

// Prober looks up the capability of the object at pos for type t, seen through face.
type Prober interface {
	Probe(pos Pos, face Dir, t Type) (Capability, bool)
}

type ProberFunc func(pos Pos, face Dir, t Type) (Capability, bool)

func (f ProberFunc) Probe(pos Pos, face Dir, t Type) (Capability, bool) { return f(pos, face, t) }

// CapabilityTest decides whether a probed capability takes part in networks of its type.
type CapabilityTest func(c Capability) bool

// Classifier assigns roles to a probed capability; returning 0 means no finer classification.
type Classifier func(t Type, pos Pos, face Dir, c Capability) Role

// DefaultClassifier trusts a RoleReporter and otherwise assumes the capability both requests and provides.
func DefaultClassifier(t Type, pos Pos, face Dir, c Capability) Role {
	if rr, ok := c.(RoleReporter); ok {
		if r := rr.NetworkRoles(t, face) & RoleBuffer; r != 0 {
			return r
		}
	}
	return RoleBuffer
}

// endpoint returns the volume side of c for resource type t, or nils for items.
func endpoint(c Capability, t Type) (volume.Source, volume.Sink) {
	switch t {
	case TypeEnergy:
		if ec, ok := c.(EnergyCapability); ok {
			if v := ec.EnergyVolume(); v != nil {
				return v, v
			}
		}
	case TypeFluid:
		if fc, ok := c.(FluidCapability); ok {
			if g := fc.FluidGroup(); g != nil {
				return g, g
			}
		}
	}
	return nil, nil
}

// heldKinds lists the kinds c could provide in a network of type t.
func heldKinds(c Capability, t Type) []volume.Kind {
	switch t {
	case TypeEnergy:
		return []volume.Kind{volume.KindEnergy}
	case TypeFluid:
		if fc, ok := c.(FluidCapability); ok && fc.FluidGroup() != nil {
			return fc.FluidGroup().Kinds()
		}
	}
	return nil
}
