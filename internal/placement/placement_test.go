package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/topology"
)

// rackTree is 3 racks of 4 nodes of 2 targets at version 1.
func rackTree(t *testing.T) *topology.Snapshot {
	t.Helper()
	snap, err := topology.NewUniform(1,
		topology.Level{Type: topology.TypeRack, Count: 3},
		topology.Level{Type: topology.TypeNode, Count: 4},
		topology.Level{Type: topology.TypeTarget, Count: 2},
	)
	require.NoError(t, err)
	return snap
}

// flatPool is a root holding n targets directly.
func flatPool(t *testing.T, n int) *topology.Snapshot {
	t.Helper()
	b := topology.NewBuilder(1)
	b.AddTargets(b.Root(), n, topology.StatusUp)
	snap, err := b.Build()
	require.NoError(t, err)
	return snap
}

func rackOf(t *testing.T, snap *topology.Snapshot, id uint32) int {
	t.Helper()
	pos, ok := snap.TargetByID(id)
	require.True(t, ok, "target %d", id)
	d := snap.TargetParent(pos)
	for snap.Domain(d).Type != topology.TypeRack {
		d = snap.Parent(d)
	}
	return d
}

func metadata(t *testing.T, class domain.ClassID, hi, lo uint64) domain.ObjectMetadata {
	t.Helper()
	md, err := domain.MetadataFor(domain.NewObjectID(class, hi, lo))
	require.NoError(t, err)
	return md
}

func mustMap(t *testing.T, snap *topology.Snapshot, opts Options, down ...uint32) *Map {
	t.Helper()
	m, err := newMap(snap, opts, down)
	require.NoError(t, err)
	return m
}

func TestPlaceReplicasAcrossRacks(t *testing.T) {
	snap := rackTree(t)
	m := mustMap(t, snap, Options{})
	md := metadata(t, domain.ClassRP3G1, 1, 7)

	l, err := m.Place(md)
	require.NoError(t, err)
	require.Equal(t, 3, l.ShardCount())
	assert.Equal(t, uint32(1), l.PoolMapVersion())
	assert.Equal(t, uint32(1), l.GroupCount())

	racks := make(map[int]bool)
	for _, s := range l.Shards() {
		assert.False(t, s.Remapped)
		racks[rackOf(t, snap, s.Target)] = true
	}
	assert.Len(t, racks, 3)

	again, err := m.Place(md)
	require.NoError(t, err)
	assert.True(t, l.Equal(again))
}

func TestPlaceRemapsWithinFailedRack(t *testing.T) {
	snap := rackTree(t)
	md := metadata(t, domain.ClassRP3G1, 1, 7)

	healthy, err := mustMap(t, snap, Options{}).Place(md)
	require.NoError(t, err)
	victim := healthy.Shard(0).Target

	m := mustMap(t, snap, Options{}, victim)
	l, err := m.Place(md)
	require.NoError(t, err)

	s := l.Shard(0)
	assert.True(t, s.Remapped)
	assert.NotEqual(t, victim, s.Target)
	assert.Equal(t, uint32(1), s.FailSeq)
	assert.Equal(t, rackOf(t, snap, victim), rackOf(t, snap, s.Target))
	for i := uint32(1); i < 3; i++ {
		assert.Equal(t, healthy.Shard(i), l.Shard(i))
	}

	primary, err := m.PrimaryLayout(md)
	require.NoError(t, err)
	assert.Equal(t, healthy.Targets(), primary.Targets())
}

func TestPlaceFlatPoolWithoutSpare(t *testing.T) {
	snap := flatPool(t, 5)
	md := domain.ObjectMetadata{ID: domain.NewObjectID(domain.ClassUnknown, 0, 3), GroupSize: 5, GroupCount: 1, Spares: 1}

	l, err := mustMap(t, snap, Options{}).Place(md)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{0, 1, 2, 3, 4}, l.Targets())

	_, err = mustMap(t, snap, Options{}, l.Shard(2).Target).Place(md)
	assert.ErrorIs(t, err, zerrors.ErrInsufficientTargets)
}

func TestPlaceRejectsBadInput(t *testing.T) {
	snap := rackTree(t)
	m := mustMap(t, snap, Options{})
	oid := domain.NewObjectID(domain.ClassUnknown, 4, 2)

	tests := []struct {
		name string
		md   domain.ObjectMetadata
		want error
	}{
		{"zero group size", domain.ObjectMetadata{ID: oid, GroupCount: 1}, zerrors.ErrInvalidArgument},
		{"all spares", domain.ObjectMetadata{ID: oid, GroupSize: 2, GroupCount: 1, Spares: 2}, zerrors.ErrInvalidArgument},
		{"group larger than pool", domain.ObjectMetadata{ID: oid, GroupSize: 25, GroupCount: 1}, zerrors.ErrInsufficientTargets},
		{"too many groups", domain.ObjectMetadata{ID: oid, GroupSize: 3, GroupCount: 9}, zerrors.ErrInsufficientTargets},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Place(tt.md)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewMapValidation(t *testing.T) {
	snap := rackTree(t)

	_, err := NewMap(nil, Options{})
	assert.ErrorIs(t, err, zerrors.ErrInvalidArgument)

	_, err = NewMap(snap, Options{MinVersion: 2})
	assert.ErrorIs(t, err, zerrors.ErrStaleTopology)

	_, err = NewMap(snap, Options{Type: "crush"})
	assert.ErrorIs(t, err, zerrors.ErrInvalidArgument)

	_, err = newMap(snap, Options{}, []uint32{99})
	assert.ErrorIs(t, err, zerrors.ErrInvalidArgument)

	m, err := NewMap(snap, Options{Type: "RING"})
	require.NoError(t, err)
	assert.Equal(t, MapRing, m.Type())
	assert.Equal(t, uint32(1), m.Version())
}

func TestResolveFaultLevel(t *testing.T) {
	snap := rackTree(t)
	assert.Equal(t, topology.TypeRack, resolveFaultLevel(snap, topology.TypeRoot))
	assert.Equal(t, topology.TypeNode, resolveFaultLevel(snap, topology.TypeNode))
	assert.Equal(t, topology.TypeTarget, resolveFaultLevel(snap, topology.TypeTarget))
	// no boards in this tree
	assert.Equal(t, topology.TypeRack, resolveFaultLevel(snap, topology.TypeBoard))
	assert.Equal(t, topology.TypeTarget, resolveFaultLevel(flatPool(t, 4), topology.TypeRack))
}

// assertSpread checks that l uses no target twice and that no rack holds
// more than perRack shards of one group.
func assertSpread(t *testing.T, snap *topology.Snapshot, l *Layout, perRack int) {
	t.Helper()
	seen := make(map[uint32]bool)
	for _, target := range l.Targets() {
		assert.False(t, seen[target], "target %d used twice", target)
		seen[target] = true
	}
	assertRackCap(t, snap, l, perRack)
}

func assertRackCap(t *testing.T, snap *topology.Snapshot, l *Layout, perRack int) {
	t.Helper()
	for g := uint32(0); g < l.GroupCount(); g++ {
		racks := make(map[int]int)
		for _, s := range l.Group(g) {
			racks[rackOf(t, snap, s.Target)]++
		}
		for rack, n := range racks {
			assert.LessOrEqual(t, n, perRack, "rack %d of group %d", rack, g)
		}
	}
}

func TestPlaceProperties(t *testing.T) {
	snap := rackTree(t)

	tests := []struct {
		name    string
		class   domain.ClassID
		perRack int
		shards  int
	}{
		{"RP_3G1", domain.ClassRP3G1, 1, 3},
		{"RP_2G1", domain.ClassRP2G1, 1, 2},
		{"EC_4P2G1", domain.ClassEC4P2G1, 2, 6},
		{"RP_3GX", domain.ClassRP3GX, 1, 24},
		{"RP_2GX", domain.ClassRP2GX, 1, 24},
		{"EC_4P2GX", domain.ClassEC4P2GX, 2, 24},
		{"SX", domain.ClassSX, 8, 24},
	}

	for _, typ := range []MapType{MapJump, MapRing} {
		m := mustMap(t, snap, Options{Type: typ})
		for _, tt := range tests {
			t.Run(string(typ)+"/"+tt.name, func(t *testing.T) {
				for i := uint64(0); i < 200; i++ {
					md := metadata(t, tt.class, i, i*7919+3)
					l, err := m.Place(md)
					require.NoError(t, err, "%s", md.ID)
					require.Equal(t, tt.shards, l.ShardCount())
					assertSpread(t, snap, l, tt.perRack)
				}
			})
		}
	}
}

func TestPlaceNearFullGroupsKeepRackCap(t *testing.T) {
	snap := rackTree(t)

	tests := []struct {
		name   string
		size   uint32
		groups uint32
	}{
		{"half full", 2, 6},
		{"two thirds", 2, 8},
		{"five sixths", 2, 10},
		{"one pair spare", 2, 11},
		{"full pairs", 2, 12},
		{"full triples", 3, 8},
		{"triples one spare", 3, 7},
	}

	for _, typ := range []MapType{MapJump, MapRing} {
		m := mustMap(t, snap, Options{Type: typ})
		for _, tt := range tests {
			t.Run(string(typ)+"/"+tt.name, func(t *testing.T) {
				for i := uint64(0); i < 200; i++ {
					md := domain.ObjectMetadata{
						ID:         domain.NewObjectID(domain.ClassUnknown, i, i*0x9e3779b97f4a7c15+1),
						GroupSize:  tt.size,
						GroupCount: tt.groups,
						Spares:     1,
					}
					l, err := m.Place(md)
					require.NoError(t, err, "%s", md.ID)
					require.Equal(t, int(tt.size*tt.groups), l.ShardCount())
					assertSpread(t, snap, l, 1)
				}
			})
		}
	}
}

func TestRemapNearFullKeepsRackCap(t *testing.T) {
	snap := rackTree(t)
	healthy := mustMap(t, snap, Options{})

	for i := uint64(0); i < 50; i++ {
		md := domain.ObjectMetadata{
			ID:         domain.NewObjectID(domain.ClassUnknown, i, i*31+5),
			GroupSize:  2,
			GroupCount: 11,
			Spares:     1,
		}
		l, err := healthy.Place(md)
		require.NoError(t, err)

		victim := l.Shard(0).Target
		remapped, err := mustMap(t, snap, Options{}, victim).Place(md)
		require.NoError(t, err, "%s", md.ID)
		assert.NotEqual(t, victim, remapped.Shard(0).Target)
		assert.True(t, remapped.Shard(0).Remapped)
		// a spare may be shared with another group once the pool is exhausted
		assertRackCap(t, snap, remapped, 1)
	}
}

// lopsidedTree is rack 1 with 4 targets and racks 2 and 3 with one each.
func lopsidedTree(t *testing.T) *topology.Snapshot {
	t.Helper()
	b := topology.NewBuilder(1)
	for id, n := range []int{4, 1, 1} {
		rack := b.AddDomain(b.Root(), topology.TypeRack, uint32(id+1), topology.StatusUp)
		b.AddTargets(rack, n, topology.StatusUp)
	}
	snap, err := b.Build()
	require.NoError(t, err)
	return snap
}

func TestPlaceWithoutSpreadAssignment(t *testing.T) {
	snap := lopsidedTree(t)

	for _, typ := range []MapType{MapJump, MapRing} {
		t.Run(string(typ), func(t *testing.T) {
			m := mustMap(t, snap, Options{Type: typ})
			for i := uint64(0); i < 50; i++ {
				two := domain.ObjectMetadata{ID: domain.NewObjectID(domain.ClassUnknown, i, i+9), GroupSize: 2, GroupCount: 2, Spares: 1}
				l, err := m.Place(two)
				require.NoError(t, err)
				assertSpread(t, snap, l, 1)

				// six free targets, but rack 1 can serve at most one shard of each of three groups
				three := two
				three.GroupCount = 3
				_, err = m.Place(three)
				assert.ErrorIs(t, err, zerrors.ErrInsufficientTargets)
			}
		})
	}
}

func TestSpreadBudgetCompletes(t *testing.T) {
	tests := []struct {
		name   string
		left   map[int]int
		limit  int
		size   int
		groups int
		want   bool
	}{
		{"even racks", map[int]int{1: 8, 2: 8, 3: 8}, 1, 2, 12, true},
		{"one rack short", map[int]int{1: 8, 2: 8, 3: 7}, 1, 2, 12, false},
		{"lopsided", map[int]int{1: 4, 2: 1, 3: 1}, 1, 2, 3, false},
		{"lopsided fewer groups", map[int]int{1: 4, 2: 1, 3: 1}, 1, 2, 2, true},
		{"wide groups", map[int]int{1: 8, 2: 8, 3: 8}, 2, 6, 4, true},
		{"no groups", map[int]int{}, 1, 2, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &spreadBudget{limit: tt.limit, size: tt.size, left: tt.left, inGroup: make(map[int]int)}
			for key := range tt.left {
				b.keys = append(b.keys, key)
			}
			b.startGroup(tt.groups)
			assert.Equal(t, tt.want, b.completes(0))
		})
	}
}

func TestSpreadBudgetAdmitLooksAhead(t *testing.T) {
	// rack 1 holds two targets, racks 2 and 3 one each; two groups of two
	b := &spreadBudget{limit: 1, size: 2, keys: []int{1, 2, 3}, left: map[int]int{1: 2, 2: 1, 3: 1}, inGroup: make(map[int]int)}
	b.startGroup(1)
	b.take(2)
	// pairing racks 2 and 3 would leave only rack 1 for the second group
	assert.False(t, b.admit(3))
	assert.False(t, b.admit(2))
	assert.True(t, b.admit(1))

	b.take(1)
	b.startGroup(0)
	assert.True(t, b.admit(1))
	assert.True(t, b.admit(3))
	b.take(1)
	assert.False(t, b.admit(1))
	assert.True(t, b.admit(3))
}
