package network

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

var ErrForeignBlock = errors.New("network: block outside namespace")

// BlockType declares the explicit roles a placed block plays per resource type (cables are RoleNode).
type BlockType struct {
	ID    string
	Roles map[Type]Role
	// Dirs restricts the faces the block connects through; zero means all faces.
	Dirs DirMask
}

type probe struct {
	test     CapabilityTest
	classify Classifier
}

// Registry maps positions to participant records. It is built once at start-up and passed to whatever
// needs to classify positions.
type Registry struct {
	namespace string
	prober    Prober
	log       logrus.FieldLogger

	probes  map[Type]probe
	blocks  map[string]BlockType
	placed  map[Pos]string
	records map[Type]map[Pos]Record
}

// NewRegistry creates a registry that accepts block ids in namespace. A nil logger discards output.
func NewRegistry(namespace string, prober Prober, log logrus.FieldLogger) *Registry {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Registry{
		namespace: namespace,
		prober:    prober,
		log:       log.WithField("component", "network_registry"),
		probes:    map[Type]probe{},
		blocks:    map[string]BlockType{},
		placed:    map[Pos]string{},
		records:   map[Type]map[Pos]Record{},
	}
}

func (r *Registry) Namespace() string { return r.namespace }

// SetProber replaces the world lookup used for positions without an explicit record.
func (r *Registry) SetProber(p Prober) { r.prober = p }

// RegisterProbe installs the capability test and classifier for t. A nil classifier uses DefaultClassifier.
func (r *Registry) RegisterProbe(t Type, test CapabilityTest, classify Classifier) {
	if classify == nil {
		classify = DefaultClassifier
	}
	r.probes[t] = probe{test: test, classify: classify}
}

func (r *Registry) ProbeTypes() []Type {
	out := make([]Type, 0, len(r.probes))
	for _, t := range Types {
		if _, ok := r.probes[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) inNamespace(id string) bool {
	ns, _, ok := strings.Cut(id, ":")
	return ok && ns == r.namespace
}

// RegisterBlock declares a block type. Ids outside the registry namespace are refused.
func (r *Registry) RegisterBlock(b BlockType) error {
	if !r.inNamespace(b.ID) {
		return fmt.Errorf("register block %q: %w", b.ID, ErrForeignBlock)
	}
	if b.Dirs == 0 {
		b.Dirs = AllDirs
	}
	roles := make(map[Type]Role, len(b.Roles))
	for t, role := range b.Roles {
		if role != 0 {
			roles[t] = role
		}
	}
	b.Roles = roles
	r.blocks[b.ID] = b
	return nil
}

func (r *Registry) Block(id string) (BlockType, bool) {
	b, ok := r.blocks[id]
	return b, ok
}

// OnBlockRegistered records the explicit roles of a placed block and returns the resource types whose
// records changed. Placing the same block twice is a no-op; foreign and unknown ids are ignored.
func (r *Registry) OnBlockRegistered(pos Pos, blockID string) []Type {
	if !r.inNamespace(blockID) {
		return nil
	}
	b, ok := r.blocks[blockID]
	if !ok {
		return nil
	}
	if prev, ok := r.placed[pos]; ok {
		if prev == blockID {
			return nil
		}
		changed := r.OnBlockRemoved(pos)
		return mergeTypes(changed, r.place(pos, b))
	}
	return r.place(pos, b)
}

func (r *Registry) place(pos Pos, b BlockType) []Type {
	r.placed[pos] = b.ID
	var changed []Type
	for _, t := range Types {
		role, ok := b.Roles[t]
		if !ok {
			continue
		}
		m := r.records[t]
		if m == nil {
			m = map[Pos]Record{}
			r.records[t] = m
		}
		m[pos] = Record{Pos: pos, Type: t, Roles: role, Dirs: b.Dirs}
		changed = append(changed, t)
	}
	r.log.WithFields(logrus.Fields{"pos": pos.String(), "block": b.ID}).Debug("block registered")
	return changed
}

// OnBlockRemoved drops every record at pos and returns the affected resource types.
func (r *Registry) OnBlockRemoved(pos Pos) []Type {
	id, ok := r.placed[pos]
	if !ok {
		return nil
	}
	delete(r.placed, pos)
	var changed []Type
	for _, t := range Types {
		if _, ok := r.records[t][pos]; ok {
			delete(r.records[t], pos)
			changed = append(changed, t)
		}
	}
	r.log.WithFields(logrus.Fields{"pos": pos.String(), "block": id}).Debug("block removed")
	return changed
}

// Placed returns the block id registered at pos.
func (r *Registry) Placed(pos Pos) (string, bool) {
	id, ok := r.placed[pos]
	return id, ok
}

// PlacedBlocks returns every registered position, sorted.
func (r *Registry) PlacedBlocks() []Pos {
	out := make([]Pos, 0, len(r.placed))
	for p := range r.placed {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (r *Registry) Record(pos Pos, t Type) (Record, bool) {
	rec, ok := r.records[t][pos]
	return rec, ok
}

// Records returns the explicit records of t in position order.
func (r *Registry) Records(t Type) []Record {
	m := r.records[t]
	out := make([]Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos.Less(out[j].Pos) })
	return out
}

// IsNode reports whether pos carries connectivity for t through face.
func (r *Registry) IsNode(pos Pos, face Dir, t Type) bool {
	rec, ok := r.records[t][pos]
	return ok && rec.Roles&RoleNode != 0 && rec.Dirs.Has(face)
}

// Classify returns the roles pos plays for t when reached from a neighbour travelling in dir.
// An explicit record wins; otherwise the object is probed on the face opposite dir and, if it passes the
// capability test, classified with RoleBuffer as the default. Zero means not a participant.
func (r *Registry) Classify(pos Pos, dir Dir, t Type) Role {
	face := dir.Opposite()
	if rec, ok := r.records[t][pos]; ok {
		if !rec.Dirs.Has(face) {
			return 0
		}
		return rec.Roles
	}
	c, ok := r.Capability(pos, dir, t)
	if !ok {
		return 0
	}
	role := r.probes[t].classify(t, pos, face, c) & RoleBuffer
	if role == 0 {
		return RoleBuffer
	}
	return role
}

// Capability probes the object at pos for t on the face opposite dir and applies the capability test.
func (r *Registry) Capability(pos Pos, dir Dir, t Type) (Capability, bool) {
	p, ok := r.probes[t]
	if !ok || r.prober == nil {
		return nil, false
	}
	c, ok := r.prober.Probe(pos, dir.Opposite(), t)
	if !ok || c == nil {
		return nil, false
	}
	if p.test != nil && !p.test(c) {
		return nil, false
	}
	return c, true
}

func mergeTypes(a, b []Type) []Type {
	var out []Type
	for _, t := range Types {
		if containsType(a, t) || containsType(b, t) {
			out = append(out, t)
		}
	}
	return out
}

func containsType(ts []Type, t Type) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}
