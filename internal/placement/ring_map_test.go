package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/topology"
)

func TestRingInterleavesFaultDomains(t *testing.T) {
	snap := rackTree(t)
	r := newRingMap(snap, topology.TypeRack, 3)
	require.Len(t, r.rings, 3)

	for i, ring := range r.rings {
		require.Len(t, ring, snap.TargetCount(), "ring %d", i)
		seen := make(map[int]bool)
		for j, pos := range ring {
			assert.False(t, seen[pos])
			seen[pos] = true
			// equal racks: any three neighbours cover all of them
			if j+2 < len(ring) {
				racks := map[int]bool{
					r.fault.of[ring[j]]:   true,
					r.fault.of[ring[j+1]]: true,
					r.fault.of[ring[j+2]]: true,
				}
				assert.Len(t, racks, 3, "ring %d at %d", i, j)
			}
		}
	}

	assert.NotEqual(t, r.rings[0], r.rings[1])
	assert.Equal(t, r.rings, newRingMap(snap, topology.TypeRack, 3).rings)
}

func TestRingPlaceProperties(t *testing.T) {
	snap := rackTree(t)
	m := mustMap(t, snap, Options{Type: MapRing, RingCount: 4})

	tests := []struct {
		name    string
		class   domain.ClassID
		perRack int
	}{
		{"RP_3G1", domain.ClassRP3G1, 1},
		{"EC_4P2G1", domain.ClassEC4P2G1, 2},
		{"RP_3GX", domain.ClassRP3GX, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := uint64(0); i < 100; i++ {
				md := metadata(t, tt.class, i, i*7919+3)
				l, err := m.Place(md)
				require.NoError(t, err)

				seen := make(map[uint32]bool)
				for _, target := range l.Targets() {
					assert.False(t, seen[target])
					seen[target] = true
				}
				for g := uint32(0); g < l.GroupCount(); g++ {
					perRack := make(map[int]int)
					for _, s := range l.Group(g) {
						perRack[rackOf(t, snap, s.Target)]++
					}
					for _, n := range perRack {
						assert.LessOrEqual(t, n, tt.perRack)
					}
				}

				again, err := m.Place(md)
				require.NoError(t, err)
				assert.Equal(t, l.Fingerprint(), again.Fingerprint())
			}
		})
	}
}

func TestRingRemap(t *testing.T) {
	snap := rackTree(t)
	md := metadata(t, domain.ClassRP3G1, 1, 7)
	opts := Options{Type: MapRing}

	healthy, err := mustMap(t, snap, opts).Place(md)
	require.NoError(t, err)
	victim := healthy.Shard(1).Target

	l, err := mustMap(t, snap, opts, victim).Place(md)
	require.NoError(t, err)
	s := l.Shard(1)
	assert.True(t, s.Remapped)
	assert.NotContains(t, healthy.Targets(), s.Target)
	assert.Equal(t, rackOf(t, snap, victim), rackOf(t, snap, s.Target))
}

func TestRingFlatPoolWithoutSpare(t *testing.T) {
	snap := flatPool(t, 5)
	md := domain.ObjectMetadata{ID: domain.NewObjectID(domain.ClassUnknown, 0, 3), GroupSize: 5, GroupCount: 1, Spares: 1}
	opts := Options{Type: MapRing}

	l, err := mustMap(t, snap, opts).Place(md)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint32{0, 1, 2, 3, 4}, l.Targets())

	_, err = mustMap(t, snap, opts, l.Shard(0).Target).Place(md)
	assert.ErrorIs(t, err, zerrors.ErrInsufficientTargets)
}
