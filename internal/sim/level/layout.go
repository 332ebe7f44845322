package level

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/network"
	"flowcraft.ai/internal/sim/tuning"
	"flowcraft.ai/internal/sim/volume"
)

// Layout is the starting state of a fresh world: blocks to place plus the level's own cells.
type Layout struct {
	Blocks     []BlockSpec     `yaml:"blocks"`
	Generators []GeneratorSpec `yaml:"generators"`
	Tanks      []TankSpec      `yaml:"tanks"`
}

type BlockSpec struct {
	Pos [3]int `yaml:"pos"`
	ID  string `yaml:"id"`
}

type GeneratorSpec struct {
	Pos      [3]int        `yaml:"pos"`
	Capacity tuning.Amount `yaml:"capacity"`
	Amount   tuning.Amount `yaml:"amount"`
	Rate     tuning.Amount `yaml:"rate"`
}

type TankSpec struct {
	Pos      [3]int        `yaml:"pos"`
	Fluid    string        `yaml:"fluid"`
	Role     string        `yaml:"role"`
	Capacity tuning.Amount `yaml:"capacity"`
	Amount   tuning.Amount `yaml:"amount"`
	Rate     tuning.Amount `yaml:"rate"`
}

func LoadLayout(path string) (Layout, error) {
	var l Layout
	b, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil && !errors.Is(err, io.EOF) {
		return l, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Build creates the level holding the layout's generators and tanks. Blocks are left to the caller,
// which feeds them to the world as placement events.
func (l Layout) Build() (*Level, error) {
	lv := New()
	taken := map[network.Pos]bool{}
	claim := func(a [3]int) (network.Pos, error) {
		pos := network.Pos{X: a[0], Y: a[1], Z: a[2]}
		if taken[pos] {
			return pos, fmt.Errorf("layout: %s used twice", pos)
		}
		taken[pos] = true
		return pos, nil
	}
	for _, b := range l.Blocks {
		if _, err := claim(b.Pos); err != nil {
			return nil, err
		}
	}
	for _, g := range l.Generators {
		pos, err := claim(g.Pos)
		if err != nil {
			return nil, err
		}
		if err := checkAmounts(g.Capacity.Fraction, g.Amount.Fraction, g.Rate.Fraction); err != nil {
			return nil, fmt.Errorf("layout: generator at %s: %w", pos, err)
		}
		lv.Set(pos, NewGenerator(g.Capacity.Fraction, g.Amount.Fraction, g.Rate.Fraction))
	}
	for _, t := range l.Tanks {
		pos, err := claim(t.Pos)
		if err != nil {
			return nil, err
		}
		role, err := parseRoles(t.Role)
		if err != nil {
			return nil, fmt.Errorf("layout: tank at %s: %w", pos, err)
		}
		if err := checkAmounts(t.Capacity.Fraction, t.Amount.Fraction, t.Rate.Fraction); err != nil {
			return nil, fmt.Errorf("layout: tank at %s: %w", pos, err)
		}
		if t.Fluid == "" && t.Amount.Sign() > 0 {
			return nil, fmt.Errorf("layout: tank at %s: untyped tank must start empty", pos)
		}
		lv.Set(pos, NewTank(volume.Kind(t.Fluid), t.Capacity.Fraction, t.Amount.Fraction, role, t.Rate.Fraction))
	}
	return lv, nil
}

// Host receives a fresh world's placements. *world.World satisfies it.
type Host interface {
	OnBlockAdded(pos network.Pos, blockID string)
	OnNeighborChanged(pos network.Pos)
}

// Place queues the layout's blocks on host, and a neighbour change for every cell of lv, so the
// first tick discovers the whole plant.
func (l Layout) Place(lv *Level, host Host) {
	for _, pos := range lv.Positions() {
		host.OnNeighborChanged(pos)
	}
	for _, b := range l.Blocks {
		host.OnBlockAdded(network.Pos{X: b.Pos[0], Y: b.Pos[1], Z: b.Pos[2]}, b.ID)
	}
}

func checkAmounts(capacity, amount, rate fraction.Fraction) error {
	if capacity.Sign() <= 0 {
		return fmt.Errorf("capacity must be > 0")
	}
	if amount.Sign() < 0 || amount.Greater(capacity) {
		return fmt.Errorf("amount %s outside [0, %s]", amount.Fractional(), capacity.Fractional())
	}
	if rate.Sign() < 0 {
		return fmt.Errorf("negative rate")
	}
	return nil
}
