package topology

import (
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// Builder assembles a snapshot from an explicit tree. Domains may be added in
// any order; Build flattens them breadth first so every parent's children and
// every domain's targets are contiguous. All leaves must sit at the same depth.
type Builder struct {
	version    uint32
	nodes      []*builderNode
	nextTarget uint32
	err        error
}

type builderNode struct {
	domain   Domain
	depth    int
	children []int
	targets  []Target
}

// NewBuilder starts a tree containing only the root.
func NewBuilder(version uint32) *Builder {
	return &Builder{
		version: version,
		nodes:   []*builderNode{{domain: Domain{Type: TypeRoot}}},
	}
}

// FromSnapshot seeds a builder with an existing tree so domains and targets
// can be appended behind the ones already present.
func FromSnapshot(s *Snapshot, version uint32) *Builder {
	b := &Builder{version: version, nodes: make([]*builderNode, len(s.domains))}
	for i, d := range s.domains {
		n := &builderNode{domain: d}
		if i > 0 {
			n.depth = b.nodes[s.parent[i]].depth + 1
		}
		if d.childCount == 0 {
			n.targets = append(n.targets, s.targets[d.targetStart:d.targetStart+d.targetCount]...)
		} else {
			for c := d.childStart; c < d.childStart+d.childCount; c++ {
				n.children = append(n.children, int(c))
			}
		}
		b.nodes[i] = n
	}
	for _, t := range s.targets {
		if t.ID >= b.nextTarget {
			b.nextTarget = t.ID + 1
		}
	}
	return b
}

// Root returns the handle of the root domain.
func (b *Builder) Root() int { return 0 }

// AddDomain appends a child domain and returns its handle.
func (b *Builder) AddDomain(parent int, typ CompType, id uint32, status Status) int {
	p, ok := b.node(parent)
	if !ok {
		return -1
	}
	switch {
	case typ <= p.domain.Type || typ >= TypeTarget:
		b.fail(zerrors.InvalidArgumentError("cannot place a %s below a %s", typ, p.domain.Type))
		return -1
	case len(p.targets) > 0:
		b.fail(zerrors.InvalidArgumentError("%s %d already holds targets", p.domain.Type, p.domain.ID))
		return -1
	}
	b.nodes = append(b.nodes, &builderNode{
		domain: Domain{Type: typ, ID: id, Rank: id, Status: status},
		depth:  p.depth + 1,
	})
	h := len(b.nodes) - 1
	p.children = append(p.children, h)
	return h
}

// AddTargets appends n targets with fresh IDs beneath a leaf domain and
// returns the IDs.
func (b *Builder) AddTargets(parent int, n int, status Status) []uint32 {
	p, ok := b.node(parent)
	if !ok {
		return nil
	}
	if len(p.children) > 0 {
		b.fail(zerrors.InvalidArgumentError("%s %d already holds domains", p.domain.Type, p.domain.ID))
		return nil
	}
	ids := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		t := Target{
			ID:     b.nextTarget,
			Rank:   p.domain.Rank,
			Index:  uint32(len(p.targets)),
			Status: status,
		}
		if status.Failed() {
			t.FailSeq = b.version
		}
		b.nextTarget++
		p.targets = append(p.targets, t)
		ids = append(ids, t.ID)
	}
	return ids
}

func (b *Builder) node(h int) (*builderNode, bool) {
	if h < 0 || h >= len(b.nodes) {
		b.fail(zerrors.InvalidArgumentError("no domain with handle %d", h))
		return nil, false
	}
	return b.nodes[h], true
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build flattens the tree into a snapshot.
func (b *Builder) Build() (*Snapshot, error) {
	if b.err != nil {
		return nil, b.err
	}

	order := []int{0}
	for i := 0; i < len(order); i++ {
		order = append(order, b.nodes[order[i]].children...)
	}
	if len(order) != len(b.nodes) {
		return nil, zerrors.InvalidArgumentError("%d domains are detached from the root", len(b.nodes)-len(order))
	}

	leafDepth := -1
	for _, h := range order {
		n := b.nodes[h]
		if len(n.children) > 0 {
			continue
		}
		if len(n.targets) == 0 {
			return nil, zerrors.InvalidArgumentError("%s %d has neither domains nor targets", n.domain.Type, n.domain.ID)
		}
		if leafDepth >= 0 && n.depth != leafDepth {
			return nil, zerrors.InvalidArgumentError("leaf domains sit at depths %d and %d", leafDepth, n.depth)
		}
		leafDepth = n.depth
	}

	pos := make(map[int]int, len(order))
	for i, h := range order {
		pos[h] = i
	}

	domains := make([]Domain, len(order))
	var targets []Target
	for i, h := range order {
		n := b.nodes[h]
		d := n.domain
		d.childStart, d.childCount = 0, 0
		if len(n.children) > 0 {
			d.childStart = uint32(pos[n.children[0]])
			d.childCount = uint32(len(n.children))
		} else {
			d.targetStart = uint32(len(targets))
			d.targetCount = uint32(len(n.targets))
			targets = append(targets, n.targets...)
		}
		domains[i] = d
	}
	for i := len(domains) - 1; i >= 0; i-- {
		d := &domains[i]
		if d.childCount == 0 {
			continue
		}
		d.targetStart = domains[d.childStart].targetStart
		d.targetCount = 0
		for c := d.childStart; c < d.childStart+d.childCount; c++ {
			d.targetCount += domains[c].targetCount
		}
	}

	seen := make(map[uint32]bool, len(targets))
	for _, t := range targets {
		if seen[t.ID] {
			return nil, zerrors.InvalidArgumentError("duplicate target id %d", t.ID)
		}
		seen[t.ID] = true
	}

	return newSnapshot(b.version, domains, targets), nil
}

// Level is one tier of a uniform tree: Count children under every domain of
// the tier above.
type Level struct {
	Type  CompType
	Count uint32
}

// NewUniform builds a balanced tree, e.g. 3 racks of 4 nodes of 2 targets.
// The last level must be TypeTarget. Domain IDs are sequential per type.
func NewUniform(version uint32, levels ...Level) (*Snapshot, error) {
	if len(levels) == 0 || levels[len(levels)-1].Type != TypeTarget {
		return nil, zerrors.InvalidArgumentError("a uniform tree must end with a target level")
	}
	b := NewBuilder(version)
	parents := []int{b.Root()}
	nextID := make(map[CompType]uint32)
	for _, lv := range levels {
		if lv.Count == 0 {
			return nil, zerrors.InvalidArgumentError("%s level has zero fan-out", lv.Type)
		}
		if lv.Type == TypeTarget {
			for _, p := range parents {
				b.AddTargets(p, int(lv.Count), StatusUp)
			}
			break
		}
		var next []int
		for _, p := range parents {
			for i := uint32(0); i < lv.Count; i++ {
				next = append(next, b.AddDomain(p, lv.Type, nextID[lv.Type], StatusUp))
				nextID[lv.Type]++
			}
		}
		parents = next
	}
	return b.Build()
}
