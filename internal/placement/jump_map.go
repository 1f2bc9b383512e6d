package placement

import (
	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/topology"
)

// JumpMap places shards by descending the fault-domain tree with jump
// consistent hashing at every level. Adding a domain at the end of a level
// moves only the shards that hash onto it.
type JumpMap struct {
	fault faultIndex
}

func newJumpMap(snap *topology.Snapshot, level topology.CompType) *JumpMap {
	return &JumpMap{fault: newFaultIndex(snap, level)}
}

func (j *JumpMap) Type() MapType { return MapJump }

// Place computes the primary layout. Shard s of the object starts its walk
// from Permute(oid key, s); the shards of one group visit distinct siblings
// at every level until all siblings with room have been used, then start
// another round. No target is used twice, and no fault domain holds more
// than ceil(group size / fault domains) shards of one group.
func (j *JumpMap) Place(md domain.ObjectMetadata, v *view) (*Layout, error) {
	groups, err := resolveGroups(md, v)
	if err != nil {
		return nil, err
	}
	size := md.GroupSize
	total := int(groups * size)

	root := v.snap.Root()
	w := newWalker(v, placeable, j.fault)
	if avail := w.free(root); int64(total) > int64(avail) {
		return nil, zerrors.InsufficientTargetsError("object %s needs %d targets, pool has %d", md.ID, total, avail)
	}
	w.visited = make(map[int]bool)

	budget := newSpreadBudget(v, j.fault, placeable, size)
	budget.startGroup(int(groups))
	if !budget.completes(0) {
		return nil, zerrors.InsufficientTargetsError("object %s: %d groups of %d cannot keep %d per %s", md.ID, groups, size, budget.limit, j.fault.level)
	}
	w.allow = budget.admit

	key := md.ID.Key()
	l := newLayout(v.snap.Version(), size, total)
	for g := uint32(0); g < groups; g++ {
		clear(w.visited)
		budget.startGroup(int(groups - g - 1))
		for i := uint32(0); i < size; i++ {
			s := g*size + i
			// a subtree the cap closed for one shard may open for the next
			clear(w.dead)
			pos, ok := w.descend(root, Permute(key, s))
			if !ok {
				return nil, zerrors.InsufficientTargetsError("object %s: no target left for shard %d", md.ID, s)
			}
			w.markUsed(pos)
			budget.take(j.fault.of[pos])
			l.shards[s] = Shard{Index: s, Target: v.snap.Target(pos).ID}
		}
	}
	return l, nil
}

// Remap re-descends the tree for every failed shard from a key derived from
// the shard index and the version at which its target failed, so a spare
// stays put until that shard's target changes again.
func (j *JumpMap) Remap(l *Layout, md domain.ObjectMetadata, v *view) (*Layout, []FailedShard, error) {
	out := l.Clone()
	out.version = v.snap.Version()

	failed := collectFailed(out, v)
	if len(failed) == 0 {
		return out, nil, nil
	}

	key := md.ID.Key()
	root := v.snap.Root()
	search := func(w *walker, f *FailedShard) (int, bool) {
		return w.descend(root, Permute(Permute(key, f.ShardIndex), f.FailSeq))
	}
	if err := remapShards(out, failed, v, j.fault, search); err != nil {
		return nil, nil, err
	}
	return out, failed, nil
}
