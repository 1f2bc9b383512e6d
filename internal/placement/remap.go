package placement

import (
	"sort"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/topology"
)

// resolveGroups returns the number of redundancy groups of an object in v.
func resolveGroups(md domain.ObjectMetadata, v *view) (uint32, error) {
	if err := md.Validate(); err != nil {
		return 0, err
	}
	if md.GroupCount > 0 {
		return md.GroupCount, nil
	}
	avail := uint32(v.count(v.snap.Root(), placeable))
	groups := avail / md.GroupSize
	if groups == 0 {
		return 0, zerrors.InsufficientTargetsError("object %s needs %d targets per group, pool has %d", md.ID, md.GroupSize, avail)
	}
	return groups, nil
}

// collectFailed lists the shards of l whose target is not UP in v, ordered by
// fail sequence and then shard index.
func collectFailed(l *Layout, v *view) []FailedShard {
	var failed []FailedShard
	for i, s := range l.shards {
		pos, ok := v.snap.TargetByID(s.Target)
		if !ok {
			failed = append(failed, FailedShard{
				ShardIndex: uint32(i),
				TargetID:   s.Target,
				FailSeq:    v.snap.Version(),
				Status:     topology.StatusDown,
			})
			continue
		}
		if st := v.status(pos); st != topology.StatusUp {
			failed = append(failed, FailedShard{
				ShardIndex: uint32(i),
				TargetID:   s.Target,
				FailSeq:    v.failSeq(pos),
				Status:     st,
			})
		}
	}
	sort.SliceStable(failed, func(i, j int) bool {
		if failed[i].FailSeq != failed[j].FailSeq {
			return failed[i].FailSeq < failed[j].FailSeq
		}
		return failed[i].ShardIndex < failed[j].ShardIndex
	})
	return failed
}

// groupLimit is the most shards of one group a fault domain may hold.
func groupLimit(size uint32, fi faultIndex, v *view) int {
	domains := fi.domains(v)
	if domains == 0 {
		domains = 1
	}
	return (int(size) + domains - 1) / domains
}

// spareSearch finds a spare target position for f using a prepared walker.
type spareSearch func(w *walker, f *FailedShard) (int, bool)

// remapShards assigns a spare to every failed shard of out, in order.
//
// A spare must be UP or REBUILDING and must not already hold a shard of the
// object; when the whole pool is exhausted, sharing a target with another
// group is tolerated but never with the shard's own group. Fault domains
// already holding their share of the group are skipped.
func remapShards(out *Layout, failed []FailedShard, v *view, fi faultIndex, search spareSearch) error {
	size := int(out.groupSize)
	limit := groupLimit(out.groupSize, fi, v)

	for i := range failed {
		f := &failed[i]
		g := int(f.ShardIndex) / size

		for pass := 0; pass < 2 && !f.HasSpare; pass++ {
			w := newWalker(v, spareable, fi)
			if pass == 0 {
				for _, s := range out.shards {
					if pos, ok := v.snap.TargetByID(s.Target); ok {
						w.markUsed(pos)
					}
				}
			}

			occupied := make(map[int]int)
			for j := g * size; j < (g+1)*size; j++ {
				pos, ok := v.snap.TargetByID(out.shards[j].Target)
				if !ok {
					continue
				}
				w.markUsed(pos)
				if j != int(f.ShardIndex) {
					occupied[fi.of[pos]]++
				}
			}
			w.allow = func(key int) bool { return occupied[key] < limit }

			if pos, ok := search(w, f); ok {
				f.Spare = v.snap.Target(pos).ID
				f.HasSpare = true
			}
		}

		if !f.HasSpare {
			return zerrors.InsufficientTargetsError("no spare for shard %d of a layout on %d (%s)", f.ShardIndex, f.TargetID, f.Status)
		}
		s := &out.shards[f.ShardIndex]
		s.Target = f.Spare
		s.FailSeq = f.FailSeq
		s.Remapped = true
	}
	return nil
}
