// Package level is a small in-memory host for the participants that are not placed blocks:
// generators feeding energy networks and tanks on fluid networks.
package level

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"flowcraft.ai/internal/persistence/snapshot"
	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/network"
	"flowcraft.ai/internal/sim/volume"
)

const (
	CellGenerator = "generator"
	CellTank      = "tank"
)

// Cell is one level participant.
type Cell interface {
	network.Capability
	step()
	cell(pos network.Pos) snapshot.CellV1
}

// Level answers capability probes for its cells. It is not safe for concurrent use; the world
// loop owns it.
type Level struct {
	cells map[network.Pos]Cell
}

func New() *Level { return &Level{cells: map[network.Pos]Cell{}} }

func (l *Level) Set(pos network.Pos, c Cell) { l.cells[pos] = c }
func (l *Level) Delete(pos network.Pos)      { delete(l.cells, pos) }

func (l *Level) Cell(pos network.Pos) (Cell, bool) {
	c, ok := l.cells[pos]
	return c, ok
}

// Positions lists occupied cells in order.
func (l *Level) Positions() []network.Pos {
	out := make([]network.Pos, 0, len(l.cells))
	for p := range l.cells {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (l *Level) Probe(pos network.Pos, _ network.Dir, t network.Type) (network.Capability, bool) {
	c, ok := l.cells[pos]
	if !ok || c.ResourceType() != t {
		return nil, false
	}
	return c, true
}

// TickLevel regenerates and drains every cell, in position order. A cell whose arithmetic overflows
// is left as it was and reported; the others still step.
func (l *Level) TickLevel(uint64) error {
	var errs []error
	for _, pos := range l.Positions() {
		c := l.cells[pos]
		if _, err := fraction.Checked(func() fraction.Fraction {
			c.step()
			return fraction.Zero
		}); err != nil {
			errs = append(errs, fmt.Errorf("level: cell at %s: %w", pos, err))
		}
	}
	return errors.Join(errs...)
}

// Cells exports every cell in position order.
func (l *Level) Cells() []snapshot.CellV1 {
	out := make([]snapshot.CellV1, 0, len(l.cells))
	for _, pos := range l.Positions() {
		out = append(out, l.cells[pos].cell(pos))
	}
	return out
}

// RestoreCells replaces the level's contents. On error the level is left unchanged.
func (l *Level) RestoreCells(cells []snapshot.CellV1) error {
	next := make(map[network.Pos]Cell, len(cells))
	for _, c := range cells {
		pos := network.Pos{X: c.Pos[0], Y: c.Pos[1], Z: c.Pos[2]}
		if _, dup := next[pos]; dup {
			return fmt.Errorf("level: duplicate cell at %s", pos)
		}
		cell, err := restoreCell(c)
		if err != nil {
			return fmt.Errorf("level: cell at %s: %w", pos, err)
		}
		next[pos] = cell
	}
	l.cells = next
	return nil
}

func restoreCell(c snapshot.CellV1) (Cell, error) {
	rate := fromPair(c.Rate)
	if rate.Sign() < 0 {
		return nil, fmt.Errorf("negative rate %s", rate.Fractional())
	}
	st := volume.State{
		Kind:     volume.Kind(c.Volume.Kind),
		Amount:   fromPair(c.Volume.Amount),
		Capacity: fromPair(c.Volume.Capacity),
	}
	switch c.Kind {
	case CellGenerator:
		v := volume.New(volume.KindEnergy, st.Capacity)
		if err := v.Restore(st); err != nil {
			return nil, err
		}
		return &Generator{V: v, Rate: rate}, nil
	case CellTank:
		role, err := parseRoles(c.Role)
		if err != nil {
			return nil, err
		}
		var v *volume.Volume
		if c.Fluid == "" {
			v = volume.NewUntyped(st.Capacity)
		} else {
			v = volume.New(volume.Kind(c.Fluid), st.Capacity)
		}
		if err := v.Restore(st); err != nil {
			return nil, err
		}
		return &Tank{G: volume.NewGroup(v), Role: role, Rate: rate}, nil
	}
	return nil, fmt.Errorf("unknown cell kind %q", c.Kind)
}

// parseRoles reads Role.String output ("requester|provider") or a single role name.
func parseRoles(s string) (network.Role, error) {
	var role network.Role
	for _, name := range strings.Split(s, "|") {
		r, ok := network.ParseRole(strings.TrimSpace(name))
		if !ok {
			return 0, fmt.Errorf("unknown role %q", name)
		}
		role |= r
	}
	if !role.IsMember() {
		return 0, fmt.Errorf("role %q neither requests nor provides", s)
	}
	return role, nil
}

func pair(f fraction.Fraction) [2]int64 {
	p := f.Stored()
	return [2]int64{p.Numerator, p.Denominator}
}

func fromPair(p [2]int64) fraction.Fraction {
	return fraction.FromStored(fraction.StoredPair{Numerator: p[0], Denominator: p[1]})
}

func volumeV1(v *volume.Volume) snapshot.VolumeV1 {
	return snapshot.VolumeV1{Kind: string(v.Kind()), Amount: pair(v.Amount()), Capacity: pair(v.Capacity())}
}

// Generator is a pure energy provider that regains Rate every tick, up to its capacity.
type Generator struct {
	V    *volume.Volume
	Rate fraction.Fraction
}

func NewGenerator(capacity, amount, rate fraction.Fraction) *Generator {
	v := volume.New(volume.KindEnergy, capacity)
	v.Insert(amount)
	return &Generator{V: v, Rate: rate}
}

func (g *Generator) ResourceType() network.Type   { return network.TypeEnergy }
func (g *Generator) EnergyVolume() *volume.Volume { return g.V }
func (g *Generator) NetworkRoles(network.Type, network.Dir) network.Role {
	return network.RoleProvider
}

func (g *Generator) step() {
	if g.Rate.Sign() > 0 && !g.V.IsFull() {
		g.V.Insert(g.Rate)
	}
}

func (g *Generator) cell(pos network.Pos) snapshot.CellV1 {
	return snapshot.CellV1{
		Pos:    [3]int{pos.X, pos.Y, pos.Z},
		Kind:   CellGenerator,
		Rate:   pair(g.Rate),
		Volume: volumeV1(g.V),
	}
}

// Tank is a single-slot fluid container playing a fixed role. A providing tank is refilled
// with its fluid by Rate each tick; a requesting tank is drained by Rate.
type Tank struct {
	G    *volume.Group
	Role network.Role
	Rate fraction.Fraction
}

// NewTank builds a tank. An empty fluid makes an untyped tank that takes whatever arrives first.
func NewTank(fluid volume.Kind, capacity, amount fraction.Fraction, role network.Role, rate fraction.Fraction) *Tank {
	var v *volume.Volume
	if fluid == volume.KindNone {
		v = volume.NewUntyped(capacity)
	} else {
		v = volume.New(fluid, capacity)
		v.Insert(amount)
	}
	return &Tank{G: volume.NewGroup(v), Role: role, Rate: rate}
}

func (t *Tank) ResourceType() network.Type                          { return network.TypeFluid }
func (t *Tank) FluidGroup() *volume.Group                           { return t.G }
func (t *Tank) NetworkRoles(network.Type, network.Dir) network.Role { return t.Role }

// Volume is the tank's only slot.
func (t *Tank) Volume() *volume.Volume { return t.G.Slot(0) }

func (t *Tank) step() {
	if t.Rate.Sign() <= 0 {
		return
	}
	v := t.Volume()
	switch {
	case t.Role == network.RoleBuffer:
	case t.Role.Has(network.RoleProvider):
		if v.Fixed() && !v.IsFull() {
			t.G.InsertKind(v.Kind(), t.Rate)
		}
	case t.Role.Has(network.RoleRequester):
		if !v.IsEmpty() {
			t.G.ExtractKind(v.Kind(), t.Rate)
		}
	}
}

func (t *Tank) cell(pos network.Pos) snapshot.CellV1 {
	v := t.Volume()
	c := snapshot.CellV1{
		Pos:    [3]int{pos.X, pos.Y, pos.Z},
		Kind:   CellTank,
		Role:   t.Role.String(),
		Rate:   pair(t.Rate),
		Volume: volumeV1(v),
	}
	if v.Fixed() {
		c.Fluid = string(v.Kind())
	}
	return c
}
