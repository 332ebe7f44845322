package network

import (
	"sort"

	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/volume"
)

// Distribution policy, per instance and per kind, in four passes:
//
//  1. pure providers supply every member that requests (requesters and buffers);
//  2. buffers supply pure requesters;
//  3. plain buffers (tanks, cells) supply separated buffers;
//  4. separated buffers supply every other buffer.
//
// A separated buffer keeps its inputs and outputs in different slots (machines), so what it receives
// can never be handed back. Plain buffers never supply each other, and a party is only ever on one side
// of a pass. Whatever a plain buffer takes in pass 4 moves on no earlier than the next tick.
//
// Each pass is a max-min fair water-fill: the transferable total is split into equal shares across the
// receivers with room, receivers that fill up drop out and their leftover share is split again. The same
// is done on the supply side. Per-member deltas therefore depend only on amounts and capacities, never on
// the order members are visited in.

type party struct {
	pos   Pos
	roles Role
	src   volume.Source
	dst   volume.Sink
}

// separator is implemented by slot groups whose filters keep inputs and outputs apart.
type separator interface {
	Separates(kind volume.Kind) bool
}

func (p party) pureProvider(volume.Kind) bool  { return p.roles&RoleBuffer == RoleProvider }
func (p party) pureRequester(volume.Kind) bool { return p.roles&RoleBuffer == RoleRequester }
func (p party) buffer(volume.Kind) bool        { return p.roles&RoleBuffer == RoleBuffer }
func (p party) requests(volume.Kind) bool      { return p.roles&RoleRequester != 0 }

func (p party) separated(kind volume.Kind) bool {
	if !p.buffer(kind) {
		return false
	}
	s, ok := p.src.(separator)
	return ok && s.Separates(kind)
}

func (p party) plainBuffer(kind volume.Kind) bool { return p.buffer(kind) && !p.separated(kind) }

func parties(in *Instance) []party {
	out := make([]party, 0, len(in.members))
	for _, m := range in.Members() {
		if m.Capability == nil {
			continue
		}
		src, dst := endpoint(m.Capability, in.Type)
		if src == nil || dst == nil {
			continue
		}
		out = append(out, party{pos: m.Pos, roles: m.Roles, src: src, dst: dst})
	}
	return out
}

// EnergyDistributor shares energy volumes.
type EnergyDistributor struct{}

func (EnergyDistributor) Distribute(in *Instance) fraction.Fraction {
	return distributeKind(parties(in), volume.KindEnergy)
}

// FluidDistributor shares fluid groups one fluid kind at a time, in sorted kind order. Slot filters
// apply through the groups' Available and Free.
type FluidDistributor struct{}

func (FluidDistributor) Distribute(in *Instance) fraction.Fraction {
	ps := parties(in)
	seen := map[volume.Kind]bool{}
	var kinds []volume.Kind
	for _, m := range in.Members() {
		if m.Capability == nil || m.Roles&RoleProvider == 0 {
			continue
		}
		for _, k := range heldKinds(m.Capability, in.Type) {
			if !seen[k] {
				seen[k] = true
				kinds = append(kinds, k)
			}
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	moved := fraction.Zero
	for _, k := range kinds {
		moved = moved.Add(distributeKind(ps, k)).Simplify()
	}
	return moved
}

// ItemDistributor is a deliberate no-op: item participants join networks but nothing is moved for them.
type ItemDistributor struct{}

func (ItemDistributor) Distribute(*Instance) fraction.Fraction { return fraction.Zero }

func distributeKind(ps []party, kind volume.Kind) fraction.Fraction {
	moved := pass(ps, kind, party.pureProvider, party.requests)
	moved = moved.Add(pass(ps, kind, party.buffer, party.pureRequester)).Simplify()
	moved = moved.Add(pass(ps, kind, party.plainBuffer, party.separated)).Simplify()
	return moved.Add(pass(ps, kind, party.separated, party.buffer)).Simplify()
}

// pass moves kind from suppliers to receivers. A party that matches both predicates and has something
// to give only supplies; it never receives its own output.
func pass(ps []party, kind volume.Kind, supplies, receives func(party, volume.Kind) bool) fraction.Fraction {
	var suppliers, receivers []party
	var avail, free []fraction.Fraction
	sumAvail, sumFree := fraction.Zero, fraction.Zero
	for _, p := range ps {
		if supplies(p, kind) {
			if a := p.src.Available(kind); a.Sign() > 0 {
				suppliers = append(suppliers, p)
				avail = append(avail, a)
				sumAvail = sumAvail.Add(a).Simplify()
				continue
			}
		}
		if receives(p, kind) {
			if f := p.dst.Free(kind); f.Sign() > 0 {
				receivers = append(receivers, p)
				free = append(free, f)
				sumFree = sumFree.Add(f).Simplify()
			}
		}
	}
	total := fraction.Min(sumAvail, sumFree)
	if total.Sign() <= 0 {
		return fraction.Zero
	}
	give := waterFill(avail, total)
	take := waterFill(free, total)

	moved := fraction.Zero
	i, j := 0, 0
	for i < len(suppliers) && j < len(receivers) {
		if give[i].Sign() <= 0 {
			i++
			continue
		}
		if take[j].Sign() <= 0 {
			j++
			continue
		}
		n := fraction.Min(give[i], take[j])
		moved = moved.Add(volume.Move(suppliers[i].src, receivers[j].dst, kind, n)).Simplify()
		give[i] = give[i].Sub(n).Simplify()
		take[j] = take[j].Sub(n).Simplify()
	}
	return moved
}

// waterFill splits total across caps so that no entry exceeds its cap and the smallest allocation is as
// large as possible. Entries with equal caps always get equal shares.
func waterFill(caps []fraction.Fraction, total fraction.Fraction) []fraction.Fraction {
	idx := make([]int, len(caps))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return caps[idx[a]].Less(caps[idx[b]]) })

	out := make([]fraction.Fraction, len(caps))
	remaining := total
	left := int64(len(caps))
	for k, i := range idx {
		share := remaining.Div(fraction.Of(left)).Simplify()
		if caps[i].LessOrEqual(share) {
			out[i] = caps[i]
			remaining = remaining.Sub(caps[i]).Simplify()
			left--
			continue
		}
		for _, j := range idx[k:] {
			out[j] = share
		}
		break
	}
	return out
}
