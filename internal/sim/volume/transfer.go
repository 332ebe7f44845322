package volume

import "flowcraft.ai/internal/sim/fraction"

// Source is anything kind can be drawn from: a single Volume or a slot Group.
type Source interface {
	Available(kind Kind) fraction.Fraction
	ExtractKind(kind Kind, amount fraction.Fraction) (removed, unavailable fraction.Fraction)
}

// Sink is anything kind can be pushed into.
type Sink interface {
	Free(kind Kind) fraction.Fraction
	InsertKind(kind Kind, amount fraction.Fraction) (accepted, rejected fraction.Fraction)
}

// Move transfers min(amount, available, free) of kind from src to dst and returns the moved amount.
// The extract and insert happen back to back, so nothing is left in flight: src loses exactly what dst gains.
func Move(src Source, dst Sink, kind Kind, amount fraction.Fraction) fraction.Fraction {
	if kind == KindNone || amount.Sign() <= 0 {
		return fraction.Zero
	}
	n := fraction.Min(amount, fraction.Min(src.Available(kind), dst.Free(kind)))
	if n.Sign() <= 0 {
		return fraction.Zero
	}
	removed, _ := src.ExtractKind(kind, n)
	if removed.Sign() <= 0 {
		return fraction.Zero
	}
	accepted, rejected := dst.InsertKind(kind, removed)
	if rejected.Sign() > 0 {
		// Free overstated what dst takes; hand the rest back so the source is unchanged for it.
		if back, ok := src.(Sink); ok {
			back.InsertKind(kind, rejected)
		}
	}
	return accepted
}
