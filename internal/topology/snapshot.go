package topology

import (
	"fmt"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// Snapshot is an immutable view of the pool map at one version.
type Snapshot struct {
	version uint32
	domains []Domain
	targets []Target

	byID           map[uint32]int
	parent         []int32
	targetParent   []int32
	counts         [][numStatus]uint32
	activeChildren []uint32
	activeTargets  []uint32
}

// StatusChange moves one target to a new status.
type StatusChange struct {
	TargetID uint32
	Status   Status
}

func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("topology: " + fmt.Sprintf(format, args...))
	}
}

// newSnapshot indexes the arena. The slices are owned by the snapshot from
// here on. Any structural inconsistency is a programming error in whoever
// produced the arena and panics.
func newSnapshot(version uint32, domains []Domain, targets []Target) *Snapshot {
	assertf(len(domains) > 0, "snapshot has no root")
	assertf(domains[0].Type == TypeRoot, "domain 0 is %s, not root", domains[0].Type)
	assertf(len(targets) > 0, "snapshot has no targets")

	s := &Snapshot{
		version:        version,
		domains:        domains,
		targets:        targets,
		byID:           make(map[uint32]int, len(targets)),
		parent:         make([]int32, len(domains)),
		targetParent:   make([]int32, len(targets)),
		counts:         make([][numStatus]uint32, len(domains)),
		activeChildren: make([]uint32, len(domains)),
		activeTargets:  make([]uint32, len(domains)),
	}
	for i := range s.parent {
		s.parent[i] = -1
	}
	for i := range s.targetParent {
		s.targetParent[i] = -1
	}

	root := domains[0]
	assertf(root.targetStart == 0 && int(root.targetCount) == len(targets),
		"root owns targets [%d,+%d) of %d", root.targetStart, root.targetCount, len(targets))

	for i, d := range domains {
		assertf(uint64(d.targetStart)+uint64(d.targetCount) <= uint64(len(targets)),
			"domain %d target range [%d,+%d) overruns %d targets", i, d.targetStart, d.targetCount, len(targets))
		assertf(d.targetCount > 0, "domain %d owns no targets", i)

		if d.childCount == 0 {
			for p := d.targetStart; p < d.targetStart+d.targetCount; p++ {
				assertf(s.targetParent[p] < 0, "target %d claimed by two leaves", p)
				s.targetParent[p] = int32(i)
			}
			continue
		}

		assertf(int(d.childStart) > i && uint64(d.childStart)+uint64(d.childCount) <= uint64(len(domains)),
			"domain %d child range [%d,+%d) overruns %d domains", i, d.childStart, d.childCount, len(domains))
		next := d.targetStart
		for c := d.childStart; c < d.childStart+d.childCount; c++ {
			child := domains[c]
			assertf(s.parent[c] < 0, "domain %d has two parents", c)
			assertf(child.Type > d.Type, "domain %d (%s) below %s", c, child.Type, d.Type)
			assertf(child.targetStart == next, "domain %d targets start at %d, want %d", c, child.targetStart, next)
			s.parent[c] = int32(i)
			next += child.targetCount
		}
		assertf(next == d.targetStart+d.targetCount, "children of domain %d do not partition its targets", i)
	}
	for i := 1; i < len(domains); i++ {
		assertf(s.parent[i] >= 0, "domain %d is unreachable", i)
	}

	for p, t := range targets {
		_, dup := s.byID[t.ID]
		assertf(!dup, "duplicate target id %d", t.ID)
		s.byID[t.ID] = p
		for d := s.targetParent[p]; d >= 0; d = s.parent[d] {
			s.counts[d][t.Status]++
		}
	}

	for i, d := range domains {
		if d.childCount > 0 {
			n := d.childCount
			for n > 0 && domains[d.childStart+n-1].Status == StatusNew {
				n--
			}
			s.activeChildren[i] = n
			continue
		}
		n := d.targetCount
		for n > 0 && targets[d.targetStart+n-1].Status == StatusNew {
			n--
		}
		s.activeTargets[i] = n
	}
	return s
}

// Version is the pool map version this snapshot was taken at.
func (s *Snapshot) Version() uint32 { return s.version }

// Root returns the arena index of the root domain.
func (s *Snapshot) Root() int { return 0 }

func (s *Snapshot) DomainCount() int { return len(s.domains) }

func (s *Snapshot) Domain(i int) Domain { return s.domains[i] }

func (s *Snapshot) IsLeaf(i int) bool { return s.domains[i].childCount == 0 }

// Children returns the arena index range of a domain's children.
func (s *Snapshot) Children(i int) (start, count int) {
	d := s.domains[i]
	return int(d.childStart), int(d.childCount)
}

// ActiveChildren is the child count with trailing NEW children removed.
func (s *Snapshot) ActiveChildren(i int) int { return int(s.activeChildren[i]) }

// TargetRange returns the positions of the targets beneath a domain.
func (s *Snapshot) TargetRange(i int) (start, count int) {
	d := s.domains[i]
	return int(d.targetStart), int(d.targetCount)
}

// ActiveTargets is the target count of a leaf domain with trailing NEW
// targets removed. It is zero for interior domains.
func (s *Snapshot) ActiveTargets(i int) int { return int(s.activeTargets[i]) }

// Parent returns the parent domain index, or -1 for the root.
func (s *Snapshot) Parent(i int) int { return int(s.parent[i]) }

// TargetParent returns the leaf domain that owns the target at pos.
func (s *Snapshot) TargetParent(pos int) int { return int(s.targetParent[pos]) }

func (s *Snapshot) TargetCount() int { return len(s.targets) }

// Target returns the target at arena position pos.
func (s *Snapshot) Target(pos int) Target { return s.targets[pos] }

// TargetByID returns the arena position of a target.
func (s *Snapshot) TargetByID(id uint32) (int, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// StatusCount is the number of targets beneath domain i in status st.
func (s *Snapshot) StatusCount(i int, st Status) int {
	return int(s.counts[i][st])
}

// Targets returns a copy of every target in arena order.
func (s *Snapshot) Targets() []Target {
	out := make([]Target, len(s.targets))
	copy(out, s.targets)
	return out
}

// DomainsOfType lists the arena indices of every domain of type t.
func (s *Snapshot) DomainsOfType(t CompType) []int {
	var out []int
	for i, d := range s.domains {
		if d.Type == t {
			out = append(out, i)
		}
	}
	return out
}

// Apply returns a new snapshot at version with the given status changes.
// A target that enters DOWN or DRAIN records version as its fail sequence.
// The receiver is not modified.
func (s *Snapshot) Apply(version uint32, changes ...StatusChange) (*Snapshot, error) {
	if version <= s.version {
		return nil, zerrors.StaleTopologyError(version, s.version+1)
	}

	domains := make([]Domain, len(s.domains))
	copy(domains, s.domains)
	targets := make([]Target, len(s.targets))
	copy(targets, s.targets)

	for _, c := range changes {
		pos, ok := s.byID[c.TargetID]
		if !ok {
			return nil, zerrors.InvalidArgumentError("target %d is not in pool map version %d", c.TargetID, s.version)
		}
		t := &targets[pos]
		if c.Status.Failed() && !t.Status.Failed() {
			t.FailSeq = version
		}
		t.Status = c.Status
	}

	// a domain stops being NEW once anything beneath it is in service
	for i := range domains {
		d := &domains[i]
		if d.Status != StatusNew {
			continue
		}
		for p := d.targetStart; p < d.targetStart+d.targetCount; p++ {
			if targets[p].Status != StatusNew {
				d.Status = StatusUp
				break
			}
		}
	}

	return newSnapshot(version, domains, targets), nil
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("pool map v%d: %d domains, %d targets", s.version, len(s.domains), len(s.targets))
}
