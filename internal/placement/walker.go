package placement

import (
	"sort"

	"github.com/zzenonn/zplace/internal/topology"
)

// view is a snapshot seen through the status overrides of one call.
type view struct {
	snap       *topology.Snapshot
	overrides  map[int]topology.Status // by target position
	includeNew bool
}

func newView(snap *topology.Snapshot, includeNew bool) *view {
	return &view{snap: snap, includeNew: includeNew}
}

// with returns a copy of v with one more override.
func (v *view) with(pos int, st topology.Status) *view {
	c := &view{snap: v.snap, includeNew: v.includeNew, overrides: make(map[int]topology.Status, len(v.overrides)+1)}
	for p, s := range v.overrides {
		c.overrides[p] = s
	}
	c.overrides[pos] = st
	return c
}

func (v *view) lens(st topology.Status) topology.Status {
	if st == topology.StatusNew && v.includeNew {
		return topology.StatusUp
	}
	return st
}

func (v *view) status(pos int) topology.Status {
	if st, ok := v.overrides[pos]; ok {
		return st
	}
	return v.lens(v.snap.Target(pos).Status)
}

// failSeq is the pool map version at which the target at pos failed. A
// target forced down by an override that never failed before uses the
// snapshot version.
func (v *view) failSeq(pos int) uint32 {
	t := v.snap.Target(pos)
	if _, ok := v.overrides[pos]; ok && t.FailSeq == 0 {
		return v.snap.Version()
	}
	return t.FailSeq
}

func (v *view) childCount(d int) int {
	if v.includeNew {
		_, n := v.snap.Children(d)
		return n
	}
	return v.snap.ActiveChildren(d)
}

func (v *view) targetCount(d int) int {
	if v.includeNew {
		_, n := v.snap.TargetRange(d)
		return n
	}
	return v.snap.ActiveTargets(d)
}

// count is the number of targets beneath d whose status satisfies pred.
func (v *view) count(d int, pred func(topology.Status) bool) int32 {
	var n int32
	for st := topology.StatusUp; st <= topology.StatusNew; st++ {
		if pred(v.lens(st)) {
			n += int32(v.snap.StatusCount(d, st))
		}
	}
	if len(v.overrides) == 0 {
		return n
	}
	start, cnt := v.snap.TargetRange(d)
	for pos, st := range v.overrides {
		if pos < start || pos >= start+cnt {
			continue
		}
		if pred(v.lens(v.snap.Target(pos).Status)) {
			n--
		}
		if pred(st) {
			n++
		}
	}
	return n
}

func placeable(st topology.Status) bool { return st != topology.StatusNew }

func spareable(st topology.Status) bool {
	return st == topology.StatusUp || st == topology.StatusRebuilding
}

// faultIndex maps every target to the fault domain that contains it.
// Domains are keyed by arena index; when targets are their own fault domains
// a target at pos is keyed DomainCount()+pos.
type faultIndex struct {
	level topology.CompType
	of    []int
}

func resolveFaultLevel(snap *topology.Snapshot, want topology.CompType) topology.CompType {
	root := snap.Root()
	if snap.IsLeaf(root) {
		return topology.TypeTarget
	}
	if want != topology.TypeRoot {
		if want == topology.TypeTarget || len(snap.DomainsOfType(want)) > 0 {
			return want
		}
	}
	start, _ := snap.Children(root)
	return snap.Domain(start).Type
}

func newFaultIndex(snap *topology.Snapshot, level topology.CompType) faultIndex {
	fi := faultIndex{level: level, of: make([]int, snap.TargetCount())}
	for pos := range fi.of {
		fi.of[pos] = snap.DomainCount() + pos
	}
	if level == topology.TypeTarget {
		return fi
	}
	for _, d := range snap.DomainsOfType(level) {
		start, n := snap.TargetRange(d)
		for pos := start; pos < start+n; pos++ {
			fi.of[pos] = d
		}
	}
	return fi
}

// domains is the number of fault domains holding at least one target the
// view can place on.
func (fi faultIndex) domains(v *view) int {
	if fi.level == topology.TypeTarget {
		return int(v.count(v.snap.Root(), placeable))
	}
	n := 0
	for _, d := range v.snap.DomainsOfType(fi.level) {
		if v.count(d, placeable) > 0 {
			n++
		}
	}
	return n
}

// walker performs the descent of one placement call. It tracks which targets
// the object already uses and how many eligible targets remain beneath every
// domain it has touched.
type walker struct {
	v        *view
	eligible func(topology.Status) bool
	used     map[int]bool
	base     map[int]int32
	taken    map[int]int32
	dead     map[int]bool

	// visited spreads the shards of one group across siblings; nil disables it
	visited map[int]bool
	// allow filters fault domains by key; nil admits all
	allow func(key int) bool
	fault faultIndex
}

func newWalker(v *view, eligible func(topology.Status) bool, fi faultIndex) *walker {
	return &walker{
		v:        v,
		eligible: eligible,
		used:     make(map[int]bool),
		base:     make(map[int]int32),
		taken:    make(map[int]int32),
		dead:     make(map[int]bool),
		fault:    fi,
	}
}

func (w *walker) free(d int) int32 {
	b, ok := w.base[d]
	if !ok {
		b = w.v.count(d, w.eligible)
		w.base[d] = b
	}
	return b - w.taken[d]
}

func (w *walker) markUsed(pos int) {
	if w.used[pos] {
		return
	}
	w.used[pos] = true
	if !w.eligible(w.v.status(pos)) {
		return
	}
	snap := w.v.snap
	for d := snap.TargetParent(pos); d >= 0; d = snap.Parent(d) {
		w.taken[d]++
	}
}

// admits reports whether the target at pos may take a shard.
func (w *walker) admits(pos int) bool {
	if w.used[pos] || !w.eligible(w.v.status(pos)) {
		return false
	}
	return w.allow == nil || w.allow(w.fault.of[pos])
}

func (w *walker) admitsDomain(d int) bool {
	if w.dead[d] || w.free(d) <= 0 {
		return false
	}
	if w.allow != nil && w.v.snap.Domain(d).Type == w.fault.level {
		return w.allow(d)
	}
	return true
}

// descend walks from domain d to a target, hashing key at every level.
// Subtrees that cannot yield a target are marked dead and the walk picks
// again among their siblings.
func (w *walker) descend(d int, key uint64) (int, bool) {
	snap := w.v.snap
	if snap.IsLeaf(d) {
		return w.pickTarget(d, key)
	}
	for {
		c, ok := w.pickChild(d, key)
		if !ok {
			w.dead[d] = true
			return -1, false
		}
		if pos, ok := w.descend(c, Permute(key, snap.Domain(c).ID)); ok {
			return pos, true
		}
		w.dead[c] = true
	}
}

func (w *walker) pickChild(d int, key uint64) (int, bool) {
	start, _ := w.v.snap.Children(d)
	n := w.v.childCount(d)

	candidates, fresh := 0, 0
	for c := start; c < start+n; c++ {
		if w.admitsDomain(c) {
			candidates++
			if !w.visited[c] {
				fresh++
			}
		}
	}
	if candidates == 0 {
		return -1, false
	}
	if fresh == 0 {
		// every candidate already holds a shard of this group: start another round
		for c := start; c < start+n; c++ {
			delete(w.visited, c)
		}
	}

	i := probe(key, n, func(i int) bool {
		c := start + i
		return w.admitsDomain(c) && !w.visited[c]
	})
	if i < 0 {
		return -1, false
	}
	if w.visited != nil {
		w.visited[start+i] = true
	}
	return start + i, true
}

func (w *walker) pickTarget(d int, key uint64) (int, bool) {
	start, _ := w.v.snap.TargetRange(d)
	n := w.v.targetCount(d)
	if n == 0 || w.free(d) <= 0 {
		return -1, false
	}
	i := probe(key, n, func(i int) bool { return w.admits(start + i) })
	if i < 0 {
		return -1, false
	}
	return start + i, true
}

// probe selects a bucket in [0, n) accepted by ok. It rehashes on rejection
// and falls back to a linear scan after a bounded number of attempts.
// It returns -1 when no bucket is accepted.
func probe(key uint64, n int, ok func(int) bool) int {
	if n <= 0 {
		return -1
	}
	limit := uint32(2 * n)
	if limit < 8 {
		limit = 8
	} else if limit > 256 {
		limit = 256
	}

	sel := int(JumpHash(key, uint32(n)))
	for attempt := uint32(0); attempt < limit; attempt++ {
		if ok(sel) {
			return sel
		}
		key = Permute(key, attempt)
		sel = int(JumpHash(key, uint32(n)))
	}
	for i := 0; i < n; i++ {
		if c := (sel + i) % n; ok(c) {
			return c
		}
	}
	return -1
}

// spreadBudget holds every group of one placement to at most limit shards
// per fault domain. A fault domain is admitted for the next shard only if
// the rest of the current group and all later groups can still be placed
// under the same cap.
type spreadBudget struct {
	limit   int
	size    int
	keys    []int       // fault domains with room, ascending
	left    map[int]int // unused eligible targets per fault domain
	inGroup map[int]int
	shards  int // shards of the current group still to place, this one included
	groups  int // full groups after the current one
}

func newSpreadBudget(v *view, fi faultIndex, eligible func(topology.Status) bool, size uint32) *spreadBudget {
	b := &spreadBudget{
		limit:   groupLimit(size, fi, v),
		size:    int(size),
		left:    make(map[int]int),
		inGroup: make(map[int]int),
	}
	for pos := 0; pos < v.snap.TargetCount(); pos++ {
		if !eligible(v.status(pos)) {
			continue
		}
		key := fi.of[pos]
		if b.left[key] == 0 {
			b.keys = append(b.keys, key)
		}
		b.left[key]++
	}
	sort.Ints(b.keys)
	return b
}

// startGroup resets the per-group counts; later is the number of groups
// that follow this one.
func (b *spreadBudget) startGroup(later int) {
	clear(b.inGroup)
	b.shards = b.size
	b.groups = later
}

// admit reports whether the next shard may go to fault domain key.
func (b *spreadBudget) admit(key int) bool {
	if b.left[key] <= 0 || b.inGroup[key] >= b.limit {
		return false
	}
	b.left[key]--
	b.inGroup[key]++
	ok := b.completes(b.shards - 1)
	b.left[key]++
	b.inGroup[key]--
	return ok
}

func (b *spreadBudget) take(key int) {
	b.left[key]--
	b.inGroup[key]++
	b.shards--
}

// completes reports whether n more shards of the current group and every
// later group fit. The current group drains the fullest domains first;
// uniform groups of size s under cap c then fit in domains with room r_k
// iff sum(min(r_k, c*groups)) >= s*groups.
func (b *spreadBudget) completes(n int) bool {
	room := make([]int, len(b.keys))
	allow := make([]int, len(b.keys))
	for i, key := range b.keys {
		room[i] = b.left[key]
		allow[i] = b.limit - b.inGroup[key]
	}
	for ; n > 0; n-- {
		best := -1
		for i := range room {
			if room[i] > 0 && allow[i] > 0 && (best < 0 || room[i] > room[best]) {
				best = i
			}
		}
		if best < 0 {
			return false
		}
		room[best]--
		allow[best]--
	}
	if b.groups == 0 {
		return true
	}
	per := b.limit * b.groups
	total := 0
	for _, r := range room {
		total += min(r, per)
	}
	return total >= b.size*b.groups
}
