package network

import (
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"flowcraft.ai/internal/sim/fraction"
)

const DefaultMaxNodes = 4096

type Options struct {
	// MaxNodes bounds the nodes a single discovery visits.
	MaxNodes int
	Logger   logrus.FieldLogger
}

// Manager owns every network instance. Refresh is only called between ticks, so instances are never
// rebuilt while a distribution pass runs.
type Manager struct {
	reg      *Registry
	maxNodes int
	log      logrus.FieldLogger

	dist      map[Type]Distributor
	instances map[int]*Instance
	nodeIndex map[Type]map[Pos]int
	memberIdx map[Type]map[Pos]map[int]struct{}
	nextID    int
}

func NewManager(reg *Registry, opts Options) *Manager {
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Manager{
		reg:       reg,
		maxNodes:  opts.MaxNodes,
		log:       log.WithField("component", "network"),
		dist:      map[Type]Distributor{},
		instances: map[int]*Instance{},
		nodeIndex: map[Type]map[Pos]int{},
		memberIdx: map[Type]map[Pos]map[int]struct{}{},
		nextID:    1,
	}
}

func (m *Manager) Registry() *Registry { return m.reg }

// RegisterType enables networks of t, distributed by d.
func (m *Manager) RegisterType(t Type, d Distributor) {
	m.dist[t] = d
}

func (m *Manager) types() []Type {
	out := make([]Type, 0, len(m.dist))
	for _, t := range Types {
		if _, ok := m.dist[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Refresh rediscovers the networks around pos for the given types (all registered types when none are
// given). Every instance touching pos or its neighbours is dropped and rebuilt, which handles both merges
// and splits.
func (m *Manager) Refresh(pos Pos, types ...Type) {
	if len(types) == 0 {
		types = m.types()
	}
	for _, t := range types {
		if _, ok := m.dist[t]; !ok {
			continue
		}
		m.refresh(pos, t)
	}
}

func (m *Manager) refresh(pos Pos, t Type) {
	area := make([]Pos, 0, len(Dirs)+1)
	area = append(area, pos)
	for _, d := range Dirs {
		area = append(area, pos.Neighbor(d))
	}

	drop := map[int]struct{}{}
	for _, p := range area {
		if id, ok := m.nodeIndex[t][p]; ok {
			drop[id] = struct{}{}
		}
	}
	for id := range m.memberIdx[t][pos] {
		drop[id] = struct{}{}
	}

	seeds := append([]Pos(nil), area...)
	for id := range drop {
		seeds = append(seeds, m.instances[id].Nodes()...)
		m.remove(id)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Less(seeds[j]) })

	for _, p := range seeds {
		if _, done := m.nodeIndex[t][p]; done {
			continue
		}
		rec, ok := m.reg.Record(p, t)
		if !ok || rec.Roles&RoleNode == 0 {
			continue
		}
		m.add(m.discover(p, t))
	}
}

// RefreshAll drops every instance and rediscovers from the registry's node records.
func (m *Manager) RefreshAll() {
	m.instances = map[int]*Instance{}
	m.nodeIndex = map[Type]map[Pos]int{}
	m.memberIdx = map[Type]map[Pos]map[int]struct{}{}
	for _, t := range m.types() {
		for _, rec := range m.reg.Records(t) {
			if rec.Roles&RoleNode == 0 {
				continue
			}
			if _, done := m.nodeIndex[t][rec.Pos]; done {
				continue
			}
			m.add(m.discover(rec.Pos, t))
		}
	}
}

// discover walks node-to-node from start, breadth first, collecting the members adjacent to each node.
func (m *Manager) discover(start Pos, t Type) *Instance {
	in := newInstance(m.nextID, t)
	m.nextID++

	visited := map[Pos]bool{start: true}
	q := []Pos{start}
	for len(q) > 0 {
		p := q[0]
		q = q[1:]
		in.nodes[p] = struct{}{}

		rec, _ := m.reg.Record(p, t)
		if rec.Roles.IsMember() {
			in.members[p] = m.selfMember(rec)
		}
		for _, d := range Dirs {
			if !rec.Dirs.Has(d) {
				continue
			}
			np := p.Neighbor(d)
			if m.reg.IsNode(np, d.Opposite(), t) {
				if visited[np] {
					continue
				}
				if len(visited) >= m.maxNodes {
					in.truncated = true
					continue
				}
				visited[np] = true
				q = append(q, np)
				continue
			}
			role := m.reg.Classify(np, d, t)
			if !role.IsMember() {
				continue
			}
			mem := in.members[np]
			if mem == nil {
				mem = &Member{Record: Record{Pos: np, Type: t}}
				in.members[np] = mem
			}
			mem.Roles |= role & RoleBuffer
			mem.Dirs = mem.Dirs.With(d.Opposite())
			if mem.Capability == nil {
				if c, ok := m.reg.Capability(np, d, t); ok {
					mem.Capability = c
				}
			}
		}
	}
	if in.truncated {
		m.log.WithFields(logrus.Fields{
			"network":   in.ID,
			"type":      t.String(),
			"pos":       start.String(),
			"max_nodes": m.maxNodes,
		}).Warn("network discovery truncated at node budget")
	}
	return in
}

// selfMember is the member side of a node that also requests or provides (solar panels, energy cells).
// Its capability is probed at its own position through its first open face.
func (m *Manager) selfMember(rec Record) *Member {
	mem := &Member{Record: Record{Pos: rec.Pos, Type: rec.Type, Roles: rec.Roles & RoleBuffer, Dirs: rec.Dirs}}
	for _, d := range Dirs {
		if !rec.Dirs.Has(d) {
			continue
		}
		if c, ok := m.reg.Capability(rec.Pos, d.Opposite(), rec.Type); ok {
			mem.Capability = c
		}
		break
	}
	return mem
}

func (m *Manager) add(in *Instance) {
	m.instances[in.ID] = in
	nodes := m.nodeIndex[in.Type]
	if nodes == nil {
		nodes = map[Pos]int{}
		m.nodeIndex[in.Type] = nodes
	}
	for p := range in.nodes {
		nodes[p] = in.ID
	}
	members := m.memberIdx[in.Type]
	if members == nil {
		members = map[Pos]map[int]struct{}{}
		m.memberIdx[in.Type] = members
	}
	for p := range in.members {
		if members[p] == nil {
			members[p] = map[int]struct{}{}
		}
		members[p][in.ID] = struct{}{}
	}
	m.log.WithFields(logrus.Fields{
		"network": in.ID,
		"type":    in.Type.String(),
		"nodes":   len(in.nodes),
		"members": len(in.members),
	}).Debug("network discovered")
}

func (m *Manager) remove(id int) {
	in, ok := m.instances[id]
	if !ok {
		return
	}
	delete(m.instances, id)
	for p := range in.nodes {
		if m.nodeIndex[in.Type][p] == id {
			delete(m.nodeIndex[in.Type], p)
		}
	}
	for p := range in.members {
		ids := m.memberIdx[in.Type][p]
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.memberIdx[in.Type], p)
		}
	}
}

// Instances returns every instance ordered by id.
func (m *Manager) Instances() []*Instance {
	out := make([]*Instance, 0, len(m.instances))
	for _, in := range m.instances {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InstanceAt returns the instance that pos belongs to for t, as a node or a member.
// A member touching several instances reports the oldest.
func (m *Manager) InstanceAt(pos Pos, t Type) (*Instance, bool) {
	if id, ok := m.nodeIndex[t][pos]; ok {
		return m.instances[id], true
	}
	best := 0
	for id := range m.memberIdx[t][pos] {
		if best == 0 || id < best {
			best = id
		}
	}
	if best == 0 {
		return nil, false
	}
	return m.instances[best], true
}

// Tick runs one distribution pass per instance in id order. An arithmetic overflow aborts only the
// instance it happened in and is reported, not propagated.
func (m *Manager) Tick() []TickReport {
	out := make([]TickReport, 0, len(m.instances))
	for _, in := range m.Instances() {
		d := m.dist[in.Type]
		if d == nil {
			continue
		}
		moved, err := fraction.Checked(func() fraction.Fraction { return d.Distribute(in) })
		if err != nil {
			m.log.WithFields(logrus.Fields{"network": in.ID, "type": in.Type.String()}).WithError(err).Error("distribution aborted")
		}
		out = append(out, TickReport{
			Instance: in.ID,
			Type:     in.Type,
			Nodes:    len(in.nodes),
			Members:  len(in.members),
			Moved:    moved,
			Err:      err,
		})
	}
	return out
}
