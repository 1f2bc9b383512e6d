package placement

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/topology"
)

// Shard is one entry of a layout.
type Shard struct {
	Index    uint32
	Target   uint32
	FailSeq  uint32 // fail sequence of the primary target, set when Remapped
	Remapped bool
}

// Layout maps every shard of an object to a target. Layouts are values:
// callers own what the engine returns.
type Layout struct {
	version   uint32
	groupSize uint32
	shards    []Shard
}

func newLayout(version, groupSize uint32, total int) *Layout {
	return &Layout{
		version:   version,
		groupSize: groupSize,
		shards:    make([]Shard, total),
	}
}

// TargetFor returns the target holding shard i.
func (l *Layout) TargetFor(i uint32) (uint32, bool) {
	if int(i) >= len(l.shards) {
		return 0, false
	}
	return l.shards[i].Target, true
}

func (l *Layout) ShardCount() int { return len(l.shards) }

// PoolMapVersion is the version of the snapshot the layout was computed on.
func (l *Layout) PoolMapVersion() uint32 { return l.version }

func (l *Layout) GroupSize() uint32 { return l.groupSize }

func (l *Layout) GroupCount() uint32 {
	if l.groupSize == 0 {
		return 0
	}
	return uint32(len(l.shards)) / l.groupSize
}

func (l *Layout) Shard(i uint32) Shard { return l.shards[i] }

// Shards returns a copy of every shard in index order.
func (l *Layout) Shards() []Shard {
	out := make([]Shard, len(l.shards))
	copy(out, l.shards)
	return out
}

// Group returns a copy of the shards of redundancy group g.
func (l *Layout) Group(g uint32) []Shard {
	start := g * l.groupSize
	out := make([]Shard, l.groupSize)
	copy(out, l.shards[start:start+l.groupSize])
	return out
}

// Targets lists the target of every shard in index order.
func (l *Layout) Targets() []uint32 {
	out := make([]uint32, len(l.shards))
	for i, s := range l.shards {
		out[i] = s.Target
	}
	return out
}

// Equal compares layouts structurally, version included.
func (l *Layout) Equal(o *Layout) bool {
	if l == nil || o == nil {
		return l == o
	}
	if l.version != o.version || l.groupSize != o.groupSize || len(l.shards) != len(o.shards) {
		return false
	}
	for i := range l.shards {
		if l.shards[i] != o.shards[i] {
			return false
		}
	}
	return true
}

func (l *Layout) Clone() *Layout {
	if l == nil {
		return nil
	}
	c := *l
	c.shards = make([]Shard, len(l.shards))
	copy(c.shards, l.shards)
	return &c
}

// Fingerprint hashes the canonical encoding of the layout. Two nodes holding
// the same pool map must produce the same fingerprint for every object.
func (l *Layout) Fingerprint() [32]byte {
	buf := make([]byte, 0, 8+len(l.shards)*13)
	buf = binary.LittleEndian.AppendUint32(buf, l.version)
	buf = binary.LittleEndian.AppendUint32(buf, l.groupSize)
	for _, s := range l.shards {
		buf = binary.LittleEndian.AppendUint32(buf, s.Index)
		buf = binary.LittleEndian.AppendUint32(buf, s.Target)
		buf = binary.LittleEndian.AppendUint32(buf, s.FailSeq)
		if s.Remapped {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return blake3.Sum256(buf)
}

func (l *Layout) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "v%d", l.version)
	for g := uint32(0); g < l.GroupCount(); g++ {
		sb.WriteString(" [")
		for i, s := range l.Group(g) {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%d", s.Target)
			if s.Remapped {
				sb.WriteByte('*')
			}
		}
		sb.WriteByte(']')
	}
	return sb.String()
}

// FailedShard describes a shard whose primary target is not UP.
type FailedShard struct {
	ShardIndex uint32
	TargetID   uint32
	FailSeq    uint32
	Status     topology.Status
	Spare      uint32
	HasSpare   bool
}

func (f FailedShard) String() string {
	if !f.HasSpare {
		return fmt.Sprintf("shard %d on %d (%s, fseq %d) -> none", f.ShardIndex, f.TargetID, f.Status, f.FailSeq)
	}
	return fmt.Sprintf("shard %d on %d (%s, fseq %d) -> %d", f.ShardIndex, f.TargetID, f.Status, f.FailSeq, f.Spare)
}

// Move relocates one shard.
type Move struct {
	ShardIndex uint32
	From       uint32
	To         uint32
}

// MigrationPlan lists the shard moves that turn one layout into another.
type MigrationPlan struct {
	Version uint32
	Target  uint32 // the returning target, for reintegration plans
	Moves   []Move
}

// NoTarget marks the missing end of a move that creates or drops a shard.
const NoTarget = ^uint32(0)

func diffLayouts(version, target uint32, from, to *Layout) *MigrationPlan {
	plan := &MigrationPlan{Version: version, Target: target}
	n := len(from.shards)
	if len(to.shards) > n {
		n = len(to.shards)
	}
	for i := 0; i < n; i++ {
		src, dst := NoTarget, NoTarget
		if i < len(from.shards) {
			src = from.shards[i].Target
		}
		if i < len(to.shards) {
			dst = to.shards[i].Target
		}
		if src != dst {
			plan.Moves = append(plan.Moves, Move{ShardIndex: uint32(i), From: src, To: dst})
		}
	}
	return plan
}

// Apply performs the plan on a copy of l. Every move must start where l
// currently keeps the shard. Moves from NoTarget append shards; moves to
// NoTarget drop them from the end.
func (p *MigrationPlan) Apply(l *Layout) (*Layout, error) {
	out := l.Clone()
	out.version = p.Version
	drop := -1
	for _, m := range p.Moves {
		switch {
		case m.From == NoTarget:
			if int(m.ShardIndex) != len(out.shards) {
				return nil, zerrors.InvalidArgumentError("new shard %d does not extend a layout of %d", m.ShardIndex, len(out.shards))
			}
			out.shards = append(out.shards, Shard{Index: m.ShardIndex, Target: m.To})
			continue
		case int(m.ShardIndex) >= len(out.shards):
			return nil, zerrors.InvalidArgumentError("move of shard %d in a layout of %d", m.ShardIndex, len(out.shards))
		}
		s := &out.shards[m.ShardIndex]
		if s.Target != m.From {
			return nil, zerrors.InvalidArgumentError("shard %d is on %d, plan moves it from %d", m.ShardIndex, s.Target, m.From)
		}
		if m.To == NoTarget {
			if drop < 0 || int(m.ShardIndex) < drop {
				drop = int(m.ShardIndex)
			}
			continue
		}
		s.Target = m.To
		s.Remapped = false
		s.FailSeq = 0
	}
	if drop >= 0 {
		out.shards = out.shards[:drop]
	}
	return out, nil
}
