package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

func codecFor(t *testing.T, id domain.ClassID) *ShardCodec {
	t.Helper()
	class, ok := domain.LookupClass(id)
	require.True(t, ok)
	c, err := NewShardCodec(class)
	require.NoError(t, err)
	return c
}

// TestShardCodec_RoundTrip loses as many cells as each class tolerates.
func TestShardCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		class domain.ClassID
		lose  []int
	}{
		{"single copy", domain.ClassS1, nil},
		{"replica loses one", domain.ClassRP2G1, []int{0}},
		{"replica loses two", domain.ClassRP3G1, []int{0, 2}},
		{"ec loses data", domain.ClassEC4P2G1, []int{1, 3}},
		{"ec loses parity", domain.ClassEC4P2G1, []int{4, 5}},
		{"ec 2+1", domain.ClassEC2P1G1, []int{0}},
	}

	oid := domain.NewObjectID(domain.ClassUnknown, 5, 9)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := codecFor(t, tt.class)
			payload := GroupPayload(oid, 0, 1000)

			cells, err := c.Encode(payload)
			require.NoError(t, err)
			require.Len(t, cells, int(c.Class().GroupSize))

			for _, i := range tt.lose {
				cells[i] = nil
			}
			got, err := c.Decode(cells, len(payload))
			require.NoError(t, err)
			assert.Equal(t, payload, got)
			for _, i := range tt.lose {
				assert.Nil(t, cells[i], "decode must not fill the caller's cells")
			}
		})
	}
}

func TestShardCodec_Reconstruct(t *testing.T) {
	c := codecFor(t, domain.ClassEC4P2G1)
	cells, err := c.Encode(GroupPayload(domain.NewObjectID(domain.ClassUnknown, 1, 1), 0, 4096))
	require.NoError(t, err)
	want := cells[2]

	cells[2], cells[5] = nil, nil
	require.NoError(t, c.Reconstruct(cells))
	assert.Equal(t, want, cells[2])
	assert.NotNil(t, cells[5])

	cells[0], cells[1], cells[2] = nil, nil, nil
	assert.ErrorIs(t, c.Reconstruct(cells), zerrors.ErrInsufficientShards)

	assert.ErrorIs(t, c.Reconstruct(cells[:3]), zerrors.ErrInvalidArgument)
}

func TestShardCodec_ReplicaLost(t *testing.T) {
	c := codecFor(t, domain.ClassRP2G1)
	_, err := c.Decode([][]byte{nil, nil}, 10)
	assert.ErrorIs(t, err, zerrors.ErrInsufficientShards)
}

func TestGroupPayload(t *testing.T) {
	a := domain.NewObjectID(domain.ClassRP2G1, 1, 2)
	b := domain.NewObjectID(domain.ClassRP2G1, 1, 3)

	assert.Len(t, GroupPayload(a, 0, 333), 333)
	assert.Equal(t, GroupPayload(a, 0, 64), GroupPayload(a, 0, 64))
	assert.NotEqual(t, GroupPayload(a, 0, 64), GroupPayload(a, 1, 64))
	assert.NotEqual(t, GroupPayload(a, 0, 64), GroupPayload(b, 0, 64))
	assert.Equal(t, GroupPayload(a, 0, 32), GroupPayload(a, 0, 64)[:32])

	assert.Len(t, Checksum([]byte("x")), 64)
	assert.NotEqual(t, Checksum([]byte("x")), Checksum([]byte("y")))
}
