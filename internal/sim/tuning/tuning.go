package tuning

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/machine"
)

type Tuning struct {
	Namespace          string `yaml:"namespace" env:"NAMESPACE"`
	TickRateHz         int    `yaml:"tick_rate_hz" env:"TICK_RATE_HZ"`
	NetworkMaxNodes    int    `yaml:"network_max_nodes" env:"NETWORK_MAX_NODES"`
	SnapshotEveryTicks int    `yaml:"snapshot_every_ticks" env:"SNAPSHOT_EVERY_TICKS"`

	Machines map[string]MachineSpec `yaml:"machines" env:"-"`
}

// MachineSpec is the slot layout of one machine type plus its tiers, keyed by tier name.
type MachineSpec struct {
	Inputs  int                 `yaml:"inputs"`
	Outputs int                 `yaml:"outputs"`
	Tiers   map[string]TierSpec `yaml:"tiers"`
}

type TierSpec struct {
	EnergyCapacity Amount  `yaml:"energy_capacity"`
	FluidCapacity  Amount  `yaml:"fluid_capacity"`
	Speed          float64 `yaml:"speed"`
}

// Amount reads a YAML scalar ("16", "1/3", "2:9") as an exact fraction.
type Amount struct {
	fraction.Fraction
}

func (a *Amount) UnmarshalYAML(n *yaml.Node) error {
	f, err := fraction.Parse(n.Value)
	if err != nil {
		return err
	}
	a.Fraction = f
	return nil
}

func (a Amount) MarshalYAML() (any, error) {
	return a.Fraction.Simplify().Fractional(), nil
}

const EnvPrefix = "FLOWCRAFT_"

func Defaults() Tuning {
	return Tuning{
		Namespace:          "flowcraft",
		TickRateHz:         20,
		NetworkMaxNodes:    4096,
		SnapshotEveryTicks: 3000,
		Machines: map[string]MachineSpec{
			"electrolyzer": {
				Inputs:  1,
				Outputs: 2,
				Tiers: map[string]TierSpec{
					"primitive": {EnergyCapacity: Amount{fraction.Of(2048)}, FluidCapacity: Amount{fraction.Of(4)}, Speed: 0.5},
					"basic":     {EnergyCapacity: Amount{fraction.Of(16384)}, FluidCapacity: Amount{fraction.Of(8)}, Speed: 1},
					"advanced":  {EnergyCapacity: Amount{fraction.Of(32768)}, FluidCapacity: Amount{fraction.Of(16)}, Speed: 2},
					"elite":     {EnergyCapacity: Amount{fraction.Of(65536)}, FluidCapacity: Amount{fraction.Of(32)}, Speed: 4},
				},
			},
		},
	}
}

// Load reads tuning.yaml over the defaults, then applies FLOWCRAFT_* environment overrides.
// An empty path yields the defaults with overrides.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return t, err
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("tuning.yaml: %w", err)
		}
	}
	if err := t.ApplyEnv(); err != nil {
		return t, err
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// ApplyEnv overrides scalar settings from FLOWCRAFT_* variables.
func (t *Tuning) ApplyEnv() error {
	return t.applyEnv(env.Options{Prefix: EnvPrefix})
}

func (t *Tuning) applyEnv(opts env.Options) error {
	if err := env.ParseWithOptions(t, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (t *Tuning) Normalize() {
	t.Namespace = strings.TrimSpace(t.Namespace)
	if t.TickRateHz <= 0 {
		t.TickRateHz = 20
	}
	if t.NetworkMaxNodes <= 0 {
		t.NetworkMaxNodes = 4096
	}
	if t.SnapshotEveryTicks < 0 {
		t.SnapshotEveryTicks = 0
	}
}

func (t Tuning) Validate() error {
	if t.Namespace == "" || strings.Contains(t.Namespace, ":") {
		return fmt.Errorf("namespace %q must be non-empty and contain no ':'", t.Namespace)
	}
	for _, typ := range t.MachineTypes() {
		spec := t.Machines[typ]
		if spec.Inputs < 0 || spec.Outputs < 0 {
			return fmt.Errorf("machine %s: slot counts must be >= 0", typ)
		}
		if len(spec.Tiers) == 0 {
			return fmt.Errorf("machine %s: no tiers", typ)
		}
		for name, tier := range spec.Tiers {
			if tier.EnergyCapacity.Sign() < 0 || tier.FluidCapacity.Sign() < 0 {
				return fmt.Errorf("machine %s tier %s: capacities must be >= 0", typ, name)
			}
			if tier.Speed <= 0 {
				return fmt.Errorf("machine %s tier %s: speed must be > 0", typ, name)
			}
		}
	}
	return nil
}

func (t Tuning) MachineTypes() []string {
	out := make([]string, 0, len(t.Machines))
	for k := range t.Machines {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Tier resolves the tier record for a machine type.
func (t Tuning) Tier(machineType, tier string) (machine.Tier, bool) {
	spec, ok := t.Machines[machineType]
	if !ok {
		return machine.Tier{}, false
	}
	ts, ok := spec.Tiers[tier]
	if !ok {
		return machine.Tier{}, false
	}
	return machine.Tier{
		Name:           tier,
		EnergyCapacity: ts.EnergyCapacity.Fraction,
		FluidCapacity:  ts.FluidCapacity.Fraction,
		Speed:          ts.Speed,
	}, true
}

func (t Tuning) Layout(machineType string) (machine.Layout, bool) {
	spec, ok := t.Machines[machineType]
	if !ok {
		return machine.Layout{}, false
	}
	return machine.Layout{Inputs: spec.Inputs, Outputs: spec.Outputs}, true
}
