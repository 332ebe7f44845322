package volume

import (
	"sort"

	"flowcraft.ai/internal/sim/fraction"
)

// SlotFilter gates external access to one slot of a Group.
type SlotFilter func(slot int, kind Kind) bool

// Group is an ordered set of fluid slots seen from the outside as one participant.
// Filters only apply to InsertKind/ExtractKind; the owner reaches slots directly through Slot.
type Group struct {
	slots         []*Volume
	insertFilter  SlotFilter
	extractFilter SlotFilter
	listeners     []func(*Group)
}

func NewGroup(slots ...*Volume) *Group {
	return &Group{slots: slots}
}

func (g *Group) Len() int           { return len(g.slots) }
func (g *Group) Slot(i int) *Volume { return g.slots[i] }
func (g *Group) Slots() []*Volume   { return append([]*Volume(nil), g.slots...) }

// OnChange registers fn to run once after every InsertKind/ExtractKind that moved something.
func (g *Group) OnChange(fn func(*Group)) { g.listeners = append(g.listeners, fn) }

func (g *Group) SetInsertFilter(f SlotFilter)  { g.insertFilter = f }
func (g *Group) SetExtractFilter(f SlotFilter) { g.extractFilter = f }

func (g *Group) canInsert(i int, kind Kind) bool {
	return g.insertFilter == nil || g.insertFilter(i, kind)
}

func (g *Group) canExtract(i int, kind Kind) bool {
	return g.extractFilter == nil || g.extractFilter(i, kind)
}

// Available sums kind over the slots the extract filter exposes.
func (g *Group) Available(kind Kind) fraction.Fraction {
	total := fraction.Zero
	for i, s := range g.slots {
		if g.canExtract(i, kind) {
			total = total.Add(s.Available(kind)).Simplify()
		}
	}
	return total
}

// Free sums the space for kind over the slots the insert filter opens.
func (g *Group) Free(kind Kind) fraction.Fraction {
	total := fraction.Zero
	for i, s := range g.slots {
		if g.canInsert(i, kind) {
			total = total.Add(s.Free(kind)).Simplify()
		}
	}
	return total
}

// Separates reports whether no slot is open to both insert and extract of kind, so what goes in
// can never come back out through the same group.
func (g *Group) Separates(kind Kind) bool {
	if len(g.slots) == 0 {
		return false
	}
	for i := range g.slots {
		if g.canInsert(i, kind) && g.canExtract(i, kind) {
			return false
		}
	}
	return true
}

// InsertKind fills slots already holding kind first, then empty slots, in slot order.
func (g *Group) InsertKind(kind Kind, amount fraction.Fraction) (accepted, rejected fraction.Fraction) {
	if amount.Sign() <= 0 {
		return fraction.Zero, fraction.Zero
	}
	left := amount
	for pass := 0; pass < 2 && left.Sign() > 0; pass++ {
		for i, s := range g.slots {
			if left.Sign() <= 0 {
				break
			}
			if (pass == 0) != s.Holds(kind) || !g.canInsert(i, kind) {
				continue
			}
			_, left = s.InsertKind(kind, left)
		}
	}
	accepted = amount.Sub(left).Simplify()
	if accepted.Sign() > 0 {
		g.changed()
	}
	return accepted, left
}

// ExtractKind drains kind from exposed slots in slot order.
func (g *Group) ExtractKind(kind Kind, amount fraction.Fraction) (removed, unavailable fraction.Fraction) {
	if amount.Sign() <= 0 {
		return fraction.Zero, fraction.Zero
	}
	left := amount
	for i, s := range g.slots {
		if left.Sign() <= 0 {
			break
		}
		if !g.canExtract(i, kind) {
			continue
		}
		_, left = s.ExtractKind(kind, left)
	}
	removed = amount.Sub(left).Simplify()
	if removed.Sign() > 0 {
		g.changed()
	}
	return removed, left
}

// Kinds lists the kinds currently held by any slot, sorted.
func (g *Group) Kinds() []Kind {
	seen := map[Kind]bool{}
	var out []Kind
	for _, s := range g.slots {
		if s.IsEmpty() || s.Kind() == KindNone || seen[s.Kind()] {
			continue
		}
		seen[s.Kind()] = true
		out = append(out, s.Kind())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Group) changed() {
	for _, fn := range g.listeners {
		fn(g)
	}
}
