package shardstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

func openStore(t *testing.T) *ShardStore {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestShardStorePutGet(t *testing.T) {
	s := openStore(t)
	oid := domain.NewObjectID(domain.ClassRP2G1, 1, 2)

	require.NoError(t, s.Put(3, oid, 0, []byte("alpha")))
	require.NoError(t, s.Put(3, oid, 0, []byte("beta")))

	got, err := s.Get(3, oid, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("beta"), got)

	_, err = s.Get(4, oid, 0)
	assert.ErrorIs(t, err, zerrors.ErrShardNotFound)
	_, err = s.Get(3, oid, 1)
	assert.ErrorIs(t, err, zerrors.ErrShardNotFound)

	require.NoError(t, s.Delete(3, oid, 0))
	require.NoError(t, s.Delete(3, oid, 0))
	_, err = s.Get(3, oid, 0)
	assert.ErrorIs(t, err, zerrors.ErrShardNotFound)
}

func TestShardStoreTargets(t *testing.T) {
	s := openStore(t)
	a := domain.NewObjectID(domain.ClassS1, 0, 1)
	b := domain.NewObjectID(domain.ClassS1, 0, 2)

	require.NoError(t, s.Put(1, b, 0, []byte("b0")))
	require.NoError(t, s.Put(1, a, 2, []byte("a2")))
	require.NoError(t, s.Put(2, a, 0, []byte("a0")))
	require.NoError(t, s.Put(256, a, 1, []byte("a1")))

	counts, err := s.CountByTarget()
	require.NoError(t, err)
	assert.Equal(t, map[uint32]int{1: 2, 2: 1, 256: 1}, counts)

	refs, err := s.Shards(1)
	require.NoError(t, err)
	assert.Equal(t, []ShardRef{
		{Target: 1, OID: a, Shard: 2},
		{Target: 1, OID: b, Shard: 0},
	}, refs)

	require.NoError(t, s.DropTarget(1))
	counts, err = s.CountByTarget()
	require.NoError(t, err)
	assert.Equal(t, map[uint32]int{2: 1, 256: 1}, counts)
}

func TestShardKeyRoundTrip(t *testing.T) {
	oid := domain.NewObjectID(domain.ClassEC4P2G1, 0xabc, 0xdef)
	ref, ok := parseKey(shardKey(77, oid, 5))
	require.True(t, ok)
	assert.Equal(t, ShardRef{Target: 77, OID: oid, Shard: 5}, ref)

	_, ok = parseKey([]byte("short"))
	assert.False(t, ok)
}

func TestShardStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	oid := domain.NewObjectID(domain.ClassS1, 9, 9)

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(0, oid, 0, []byte("kept")))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(0, oid, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), got)
}
