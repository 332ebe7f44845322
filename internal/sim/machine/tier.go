package machine

import "flowcraft.ai/internal/sim/fraction"

// Tier parameterises one machine type at one upgrade level.
type Tier struct {
	Name           string
	EnergyCapacity fraction.Fraction
	FluidCapacity  fraction.Fraction
	// Speed is the progress a fully powered machine makes per tick.
	Speed float64
}
