package placement

import (
	"sort"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/topology"
)

// RingMap places shards on consecutive positions of a shuffled ring of
// targets. Each ring interleaves the fault domains so neighbouring positions
// sit in different domains; spares come from the positions after the layout.
type RingMap struct {
	fault faultIndex
	rings [][]int // target positions
}

const ringSeed = 0x9e37

func newRingMap(snap *topology.Snapshot, level topology.CompType, count uint32) *RingMap {
	if count == 0 {
		count = 1
	}
	r := &RingMap{fault: newFaultIndex(snap, level), rings: make([][]int, count)}

	byDomain := make(map[int][]int)
	var keys []int
	for pos, key := range r.fault.of {
		if _, ok := byDomain[key]; !ok {
			keys = append(keys, key)
		}
		byDomain[key] = append(byDomain[key], pos)
	}

	for i := range r.rings {
		seed := uint32(i)
		order := make([]int, len(keys))
		copy(order, keys)
		sort.Slice(order, func(a, b int) bool {
			return shuffleLess(uint64(order[a]), uint64(order[b]), seed)
		})

		columns := make([][]int, len(order))
		longest := 0
		for c, key := range order {
			col := make([]int, len(byDomain[key]))
			copy(col, byDomain[key])
			sort.Slice(col, func(a, b int) bool {
				return shuffleLess(uint64(snap.Target(col[a]).ID), uint64(snap.Target(col[b]).ID), seed)
			})
			columns[c] = col
			if len(col) > longest {
				longest = len(col)
			}
		}

		ring := make([]int, 0, len(r.fault.of))
		for row := 0; row < longest; row++ {
			for _, col := range columns {
				if row < len(col) {
					ring = append(ring, col[row])
				}
			}
		}
		r.rings[i] = ring
	}
	return r
}

func shuffleLess(a, b uint64, seed uint32) bool {
	ha, hb := Permute(a, seed), Permute(b, seed)
	if ha != hb {
		return ha < hb
	}
	return a < b
}

func (r *RingMap) Type() MapType { return MapRing }

func (r *RingMap) start(md domain.ObjectMetadata) ([]int, int) {
	key := md.ID.Key()
	ring := r.rings[JumpHash(Permute(key, ringSeed), uint32(len(r.rings)))]
	return ring, int(JumpHash(key, uint32(len(ring))))
}

// Place walks the ring from the object's start position, taking each target
// that is placeable, unused and in a fault domain the group has not filled.
func (r *RingMap) Place(md domain.ObjectMetadata, v *view) (*Layout, error) {
	groups, err := resolveGroups(md, v)
	if err != nil {
		return nil, err
	}
	size := md.GroupSize
	total := int(groups * size)

	w := newWalker(v, placeable, r.fault)
	if avail := w.free(v.snap.Root()); int64(total) > int64(avail) {
		return nil, zerrors.InsufficientTargetsError("object %s needs %d targets, pool has %d", md.ID, total, avail)
	}

	ring, p := r.start(md)
	n := len(ring)
	budget := newSpreadBudget(v, r.fault, placeable, size)
	budget.startGroup(int(groups))
	if !budget.completes(0) {
		return nil, zerrors.InsufficientTargetsError("object %s: %d groups of %d cannot keep %d per %s", md.ID, groups, size, budget.limit, r.fault.level)
	}
	w.allow = budget.admit
	l := newLayout(v.snap.Version(), size, total)

	for g := uint32(0); g < groups; g++ {
		budget.startGroup(int(groups - g - 1))
		for i := uint32(0); i < size; i++ {
			s := g*size + i
			found := false
			for step := 0; step < n; step++ {
				pos := ring[(p+step)%n]
				if !w.admits(pos) {
					continue
				}
				w.markUsed(pos)
				budget.take(r.fault.of[pos])
				l.shards[s] = Shard{Index: s, Target: v.snap.Target(pos).ID}
				p = (p + step + 1) % n
				found = true
				break
			}
			if !found {
				return nil, zerrors.InsufficientTargetsError("object %s: no ring position left for shard %d", md.ID, s)
			}
		}
	}
	return l, nil
}

// Remap scans the ring past the end of the layout for each failed shard.
func (r *RingMap) Remap(l *Layout, md domain.ObjectMetadata, v *view) (*Layout, []FailedShard, error) {
	out := l.Clone()
	out.version = v.snap.Version()

	failed := collectFailed(out, v)
	if len(failed) == 0 {
		return out, nil, nil
	}

	ring, begin := r.start(md)
	n := len(ring)
	spareStart := (begin + len(out.shards)) % n
	search := func(w *walker, f *FailedShard) (int, bool) {
		for step := 0; step < n; step++ {
			if pos := ring[(spareStart+step)%n]; w.admits(pos) {
				return pos, true
			}
		}
		return -1, false
	}
	if err := remapShards(out, failed, v, r.fault, search); err != nil {
		return nil, nil, err
	}
	return out, failed, nil
}
