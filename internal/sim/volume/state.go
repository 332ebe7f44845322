package volume

import (
	"fmt"

	"flowcraft.ai/internal/sim/fraction"
)

// State is the persisted form of a Volume. Amount and capacity keep their raw fields.
type State struct {
	Kind     Kind              `json:"kind"`
	Amount   fraction.Fraction `json:"amount"`
	Capacity fraction.Fraction `json:"capacity"`
}

func (v *Volume) State() State {
	return State{Kind: v.kind, Amount: v.amount, Capacity: v.capacity}
}

// Restore loads s without notifying listeners. It rejects states that break 0 <= amount <= capacity
// or that would change the kind of a fixed volume.
func (v *Volume) Restore(s State) error {
	if s.Amount.Sign() < 0 || s.Capacity.Sign() < 0 || s.Amount.Greater(s.Capacity) {
		return fmt.Errorf("volume: restore %s/%s: amount out of range", s.Amount.Fractional(), s.Capacity.Fractional())
	}
	kind := s.Kind
	if v.fixed && kind != v.kind {
		return fmt.Errorf("volume: restore: kind %q into fixed %q volume", kind, v.kind)
	}
	if !v.fixed && s.Amount.IsZero() {
		kind = KindNone
	}
	v.kind = kind
	v.amount = s.Amount
	v.capacity = s.Capacity
	return nil
}
