// Package machine implements recipe-driven processing entities: an energy buffer, a group of fluid
// slots and the engine that turns inputs into outputs.
package machine

import (
	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/volume"
)

// Layout is the number of input and output fluid slots; inputs come first.
type Layout struct {
	Inputs  int `json:"inputs" yaml:"inputs"`
	Outputs int `json:"outputs" yaml:"outputs"`
}

// Machine is one generic processing entity. Tiers differ only by their Tier record.
type Machine struct {
	Type   string
	Tier   Tier
	Energy *volume.Volume
	Fluids *volume.Group
	Engine *Engine

	layout  Layout
	recipes RecipeBook
	last    Result
}

// New builds a machine of machineType at tier. Input slots accept a fluid from outside only when a recipe
// of the type uses it and the slot is empty or already holds it; only output slots can be drained.
func New(machineType string, tier Tier, layout Layout, recipes RecipeBook) *Machine {
	if layout.Inputs < 0 {
		layout.Inputs = 0
	}
	if layout.Outputs < 0 {
		layout.Outputs = 0
	}
	m := &Machine{
		Type:    machineType,
		Tier:    tier,
		Energy:  volume.New(volume.KindEnergy, tier.EnergyCapacity),
		Engine:  NewEngine(),
		layout:  layout,
		recipes: recipes,
	}
	slots := make([]*volume.Volume, layout.Inputs+layout.Outputs)
	for i := range slots {
		slots[i] = volume.NewUntyped(tier.FluidCapacity)
	}
	for _, v := range slots[:layout.Inputs] {
		v.OnChange(func(*volume.Volume) { m.Engine.MarkDirty() })
	}
	m.Fluids = volume.NewGroup(slots...)
	m.Fluids.SetInsertFilter(m.acceptsInput)
	m.Fluids.SetExtractFilter(func(slot int, _ volume.Kind) bool { return slot >= m.layout.Inputs })
	return m
}

func (m *Machine) acceptsInput(slot int, kind volume.Kind) bool {
	if slot >= m.layout.Inputs {
		return false
	}
	v := m.Fluids.Slot(slot)
	if !v.IsEmpty() && v.Kind() != kind {
		return false
	}
	return m.uses(kind)
}

func (m *Machine) uses(kind volume.Kind) bool {
	for _, r := range m.Recipes() {
		for _, s := range r.Ingredients() {
			if s.Kind == kind {
				return true
			}
		}
	}
	return false
}

func (m *Machine) Layout() Layout { return m.layout }

func (m *Machine) Recipes() []Recipe {
	if m.recipes == nil {
		return nil
	}
	return m.recipes.RecipesFor(m.Type)
}

func (m *Machine) Inputs() []*volume.Volume {
	return m.Fluids.Slots()[:m.layout.Inputs]
}

func (m *Machine) Outputs() []*volume.Volume {
	return m.Fluids.Slots()[m.layout.Inputs:]
}

// Last is the result of the most recent Tick.
func (m *Machine) Last() Result { return m.last }

// Tick runs the engine once against the machine's own volumes.
func (m *Machine) Tick() Result {
	m.last = m.Engine.Tick(Env{
		Recipes: m.Recipes(),
		Inputs:  m.Inputs(),
		Outputs: m.Outputs(),
		Energy:  m.Energy,
		Speed:   m.Tier.Speed,
	})
	return m.last
}

// SetTier swaps the tier record and resizes the volumes. Whatever no longer fits is returned as
// overflow: energy first, then per fluid slot.
func (m *Machine) SetTier(t Tier) []fraction.Fraction {
	m.Tier = t
	over := []fraction.Fraction{m.Energy.SetCapacity(t.EnergyCapacity)}
	for _, v := range m.Fluids.Slots() {
		over = append(over, v.SetCapacity(t.FluidCapacity))
	}
	return over
}
