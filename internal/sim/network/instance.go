package network

import (
	"sort"

	"flowcraft.ai/internal/sim/fraction"
)

// Member is a requester/provider attached to an instance through one or more faces (Record.Dirs).
type Member struct {
	Record
	Capability Capability
}

// Instance is one connected network of a single resource type.
type Instance struct {
	ID   int
	Type Type

	nodes     map[Pos]struct{}
	members   map[Pos]*Member
	truncated bool
}

func newInstance(id int, t Type) *Instance {
	return &Instance{ID: id, Type: t, nodes: map[Pos]struct{}{}, members: map[Pos]*Member{}}
}

func (in *Instance) Nodes() []Pos {
	out := make([]Pos, 0, len(in.nodes))
	for p := range in.nodes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Members returns copies of the members in position order.
func (in *Instance) Members() []Member {
	out := make([]Member, 0, len(in.members))
	for _, m := range in.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos.Less(out[j].Pos) })
	return out
}

func (in *Instance) HasNode(p Pos) bool {
	_, ok := in.nodes[p]
	return ok
}

func (in *Instance) Member(p Pos) (Member, bool) {
	m, ok := in.members[p]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

func (in *Instance) NodeCount() int   { return len(in.nodes) }
func (in *Instance) MemberCount() int { return len(in.members) }

// Truncated reports whether discovery stopped at the node budget.
func (in *Instance) Truncated() bool { return in.truncated }

// Distributor moves resources between the members of one instance and returns the total moved.
type Distributor interface {
	Distribute(in *Instance) fraction.Fraction
}

type DistributorFunc func(in *Instance) fraction.Fraction

func (f DistributorFunc) Distribute(in *Instance) fraction.Fraction { return f(in) }

// TickReport summarises one instance's distribution pass.
type TickReport struct {
	Instance int
	Type     Type
	Nodes    int
	Members  int
	Moved    fraction.Fraction
	Err      error
}
