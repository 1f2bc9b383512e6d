package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/topology"
)

// mockObjectRepository keeps uploaded objects in memory.
type mockObjectRepository struct {
	mu         sync.Mutex
	storage    map[string][]byte
	uploadFunc func(ctx context.Context, key string) error
}

func newMockObjectRepository() *mockObjectRepository {
	return &mockObjectRepository{storage: make(map[string][]byte)}
}

func (m *mockObjectRepository) Upload(ctx context.Context, key string, r io.Reader) (string, error) {
	if m.uploadFunc != nil {
		if err := m.uploadFunc(ctx, key); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storage[key] = data
	return "mem://test-bucket/" + key, nil
}

func (m *mockObjectRepository) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.storage[key]
	if !ok {
		return nil, zerrors.ErrSnapshotNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockObjectRepository) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.storage {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// mockCatalogRepository keeps records per pool and version.
type mockCatalogRepository struct {
	mu      sync.Mutex
	records map[uint32]domain.SnapshotRecord
}

func newMockCatalogRepository() *mockCatalogRepository {
	return &mockCatalogRepository{records: make(map[uint32]domain.SnapshotRecord)}
}

func (m *mockCatalogRepository) RecordSnapshot(ctx context.Context, record domain.SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.Version]; ok {
		return zerrors.StaleTopologyError(record.Version, record.Version+1)
	}
	m.records[record.Version] = record
	return nil
}

func (m *mockCatalogRepository) GetSnapshot(ctx context.Context, pool string, version uint32) (domain.SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[version]
	if !ok || r.Pool != pool {
		return domain.SnapshotRecord{}, zerrors.ErrSnapshotNotFound
	}
	return r, nil
}

func (m *mockCatalogRepository) LatestSnapshot(ctx context.Context, pool string) (domain.SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest domain.SnapshotRecord
	for _, r := range m.records {
		if r.Pool == pool && r.Version > latest.Version {
			latest = r
		}
	}
	if latest.Version == 0 {
		return latest, zerrors.ErrSnapshotNotFound
	}
	return latest, nil
}

func testSnapshot(t *testing.T, version uint32) *topology.Snapshot {
	t.Helper()
	snap, err := topology.NewUniform(version,
		topology.Level{Type: topology.TypeRack, Count: 2},
		topology.Level{Type: topology.TypeNode, Count: 2},
		topology.Level{Type: topology.TypeTarget, Count: 4},
	)
	require.NoError(t, err)
	return snap
}

func TestNewSnapshotService_RequiresPool(t *testing.T) {
	_, err := NewSnapshotService(newMockObjectRepository(), nil, "")
	assert.Error(t, err)
}

func TestSnapshotService_PublishAndGet(t *testing.T) {
	tests := []struct {
		name    string
		catalog bool
	}{
		{"store only", false},
		{"with catalog", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newMockObjectRepository()
			var catalog SnapshotCatalogRepository
			if tt.catalog {
				catalog = newMockCatalogRepository()
			}
			svc, err := NewSnapshotService(store, catalog, "tank")
			require.NoError(t, err)

			v1 := testSnapshot(t, 1)
			record, err := svc.Publish(ctx, v1)
			require.NoError(t, err)
			assert.Equal(t, "tank", record.Pool)
			assert.Equal(t, uint32(1), record.Version)
			assert.Equal(t, v1.TargetCount(), record.Targets)
			assert.Equal(t, "mem://test-bucket/tank/0000000001.zpm", record.Location)
			assert.Positive(t, record.StoredBytes)

			v2, err := v1.Apply(2, topology.StatusChange{TargetID: 3, Status: topology.StatusDown})
			require.NoError(t, err)
			_, err = svc.Publish(ctx, v2)
			require.NoError(t, err)

			versions, err := svc.Versions(ctx)
			require.NoError(t, err)
			assert.Equal(t, []uint32{1, 2}, versions)

			latest, err := svc.GetSnapshot(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, uint32(2), latest.Version())
			assert.Equal(t, topology.Encode(v2), topology.Encode(latest))

			first, err := svc.GetSnapshot(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, topology.Encode(v1), topology.Encode(first))

			_, err = svc.GetSnapshot(ctx, 7)
			assert.ErrorIs(t, err, zerrors.ErrSnapshotNotFound)
		})
	}
}

func TestSnapshotService_RepublishIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, err := NewSnapshotService(newMockObjectRepository(), newMockCatalogRepository(), "tank")
	require.NoError(t, err)

	_, err = svc.Publish(ctx, testSnapshot(t, 1))
	require.NoError(t, err)
	_, err = svc.Publish(ctx, testSnapshot(t, 1))
	assert.ErrorIs(t, err, zerrors.ErrStaleTopology)
}

func TestSnapshotService_UploadError(t *testing.T) {
	store := newMockObjectRepository()
	store.uploadFunc = func(ctx context.Context, key string) error { return errors.New("bucket is gone") }
	svc, err := NewSnapshotService(store, nil, "tank")
	require.NoError(t, err)

	_, err = svc.Publish(context.Background(), testSnapshot(t, 1))
	assert.ErrorContains(t, err, "bucket is gone")
}

func TestSnapshotService_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	store := newMockObjectRepository()
	catalog := newMockCatalogRepository()
	svc, err := NewSnapshotService(store, catalog, "tank")
	require.NoError(t, err)

	_, err = svc.Publish(ctx, testSnapshot(t, 1))
	require.NoError(t, err)
	_, err = svc.Publish(ctx, testSnapshot(t, 2))
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		store.storage["tank/0000000009.zpm"] = []byte("not zstd")
		_, err := svc.GetSnapshot(ctx, 9)
		assert.ErrorIs(t, err, zerrors.ErrCorruptBuffer)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		record := catalog.records[2]
		record.Checksum = strings.Repeat("0", 64)
		catalog.records[2] = record
		_, err := svc.GetSnapshot(ctx, 2)
		assert.ErrorIs(t, err, zerrors.ErrCorruptBuffer)
	})

	t.Run("wrong version", func(t *testing.T) {
		store.storage["tank/0000000005.zpm"] = store.storage["tank/0000000001.zpm"]
		_, err := svc.GetSnapshot(ctx, 5)
		assert.ErrorIs(t, err, zerrors.ErrCorruptBuffer)
	})
}

func TestSnapshotService_EmptyPool(t *testing.T) {
	svc, err := NewSnapshotService(newMockObjectRepository(), nil, "tank")
	require.NoError(t, err)

	_, err = svc.LatestVersion(context.Background())
	assert.ErrorIs(t, err, zerrors.ErrSnapshotNotFound)
	_, err = svc.GetSnapshot(context.Background(), 0)
	assert.ErrorIs(t, err, zerrors.ErrSnapshotNotFound)
}
