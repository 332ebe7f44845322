// Package volume holds capacity-bounded amounts of one resource kind.
//
// Every operation clamps instead of failing: callers get back what was applied and what was not.
package volume

import (
	"flowcraft.ai/internal/sim/fraction"
)

// Kind tags the contents of a volume: a fluid id, KindEnergy, or KindNone for an empty untyped volume.
type Kind string

const (
	KindNone   Kind = ""
	KindEnergy Kind = "energy"
)

type Volume struct {
	kind     Kind
	amount   fraction.Fraction
	capacity fraction.Fraction
	// fixed volumes never change kind (energy buffers); untyped ones adopt the first inserted kind.
	fixed bool

	listeners []func(*Volume)
}

// New creates a volume that only ever holds kind.
func New(kind Kind, capacity fraction.Fraction) *Volume {
	return &Volume{kind: kind, amount: fraction.Zero, capacity: clampCapacity(capacity), fixed: true}
}

// NewUntyped creates a fluid slot that takes the kind of its first insertion and forgets it when drained.
func NewUntyped(capacity fraction.Fraction) *Volume {
	return &Volume{kind: KindNone, amount: fraction.Zero, capacity: clampCapacity(capacity)}
}

func clampCapacity(c fraction.Fraction) fraction.Fraction {
	if c.Sign() < 0 {
		return fraction.Zero
	}
	return c.Simplify()
}

func (v *Volume) Kind() Kind                  { return v.kind }
func (v *Volume) Amount() fraction.Fraction   { return v.amount }
func (v *Volume) Capacity() fraction.Fraction { return v.capacity }
func (v *Volume) Fixed() bool                 { return v.fixed }
func (v *Volume) IsEmpty() bool               { return v.amount.Sign() <= 0 }
func (v *Volume) IsFull() bool                { return v.amount.GreaterOrEqual(v.capacity) }

// Space is capacity minus amount, regardless of kind.
func (v *Volume) Space() fraction.Fraction { return v.capacity.Sub(v.amount).Simplify() }

// OnChange registers fn to run once after every mutating call that changed the volume.
func (v *Volume) OnChange(fn func(v *Volume)) { v.listeners = append(v.listeners, fn) }

// Accepts reports whether kind may be inserted: the current kind, or anything while an untyped volume is empty.
func (v *Volume) Accepts(kind Kind) bool {
	return kind != KindNone && (kind == v.kind || (!v.fixed && v.kind == KindNone))
}

// Holds reports whether the volume currently contains some of kind.
func (v *Volume) Holds(kind Kind) bool { return kind != KindNone && kind == v.kind && !v.IsEmpty() }

// Available is the amount of kind that could be extracted.
func (v *Volume) Available(kind Kind) fraction.Fraction {
	if !v.Holds(kind) {
		return fraction.Zero
	}
	return v.amount
}

// Free is the amount of kind that could be inserted.
func (v *Volume) Free(kind Kind) fraction.Fraction {
	if !v.Accepts(kind) {
		return fraction.Zero
	}
	return v.Space()
}

// Insert adds up to amount of the volume's current kind. An empty untyped volume has no kind to add.
func (v *Volume) Insert(amount fraction.Fraction) (accepted, rejected fraction.Fraction) {
	if v.kind == KindNone && amount.Sign() > 0 {
		return fraction.Zero, amount
	}
	return v.insert(v.kind, amount)
}

// InsertKind is Insert with a kind check: a mismatching kind rejects everything.
func (v *Volume) InsertKind(kind Kind, amount fraction.Fraction) (accepted, rejected fraction.Fraction) {
	if amount.Sign() <= 0 {
		return fraction.Zero, fraction.Zero
	}
	if !v.Accepts(kind) {
		return fraction.Zero, amount
	}
	return v.insert(kind, amount)
}

func (v *Volume) insert(kind Kind, amount fraction.Fraction) (accepted, rejected fraction.Fraction) {
	if amount.Sign() <= 0 {
		return fraction.Zero, fraction.Zero
	}
	accepted = fraction.Min(amount, v.Space())
	if accepted.Sign() <= 0 {
		return fraction.Zero, amount
	}
	v.kind = kind
	v.amount = v.amount.Add(accepted).Simplify()
	v.changed()
	return accepted, amount.Sub(accepted).Simplify()
}

// Extract removes up to amount.
func (v *Volume) Extract(amount fraction.Fraction) (removed, unavailable fraction.Fraction) {
	if amount.Sign() <= 0 {
		return fraction.Zero, fraction.Zero
	}
	removed = fraction.Min(amount, v.amount)
	if removed.Sign() <= 0 {
		return fraction.Zero, amount
	}
	v.amount = v.amount.Sub(removed).Simplify()
	if !v.fixed && v.amount.IsZero() {
		v.kind = KindNone
	}
	v.changed()
	return removed, amount.Sub(removed).Simplify()
}

// ExtractKind is Extract limited to a volume currently holding kind.
func (v *Volume) ExtractKind(kind Kind, amount fraction.Fraction) (removed, unavailable fraction.Fraction) {
	if amount.Sign() <= 0 {
		return fraction.Zero, fraction.Zero
	}
	if !v.Holds(kind) {
		return fraction.Zero, amount
	}
	return v.Extract(amount)
}

// MoveInto transfers up to amount of this volume's kind into dst.
func (v *Volume) MoveInto(dst *Volume, amount fraction.Fraction) fraction.Fraction {
	return Move(v, dst, v.kind, amount)
}

// SetCapacity changes the capacity and clamps the amount down; the clamped-off overflow is returned.
func (v *Volume) SetCapacity(capacity fraction.Fraction) (overflow fraction.Fraction) {
	capacity = clampCapacity(capacity)
	if capacity.Equal(v.capacity) {
		return fraction.Zero
	}
	v.capacity = capacity
	overflow = fraction.Zero
	if v.amount.Greater(capacity) {
		overflow = v.amount.Sub(capacity).Simplify()
		v.amount = capacity
	}
	v.changed()
	return overflow
}

func (v *Volume) changed() {
	for _, fn := range v.listeners {
		fn(v)
	}
}
