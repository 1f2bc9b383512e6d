package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/topology"
)

type SnapshotObjectRepository interface {
	Upload(ctx context.Context, key string, r io.Reader) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

type SnapshotCatalogRepository interface {
	RecordSnapshot(ctx context.Context, record domain.SnapshotRecord) error
	GetSnapshot(ctx context.Context, pool string, version uint32) (domain.SnapshotRecord, error)
	LatestSnapshot(ctx context.Context, pool string) (domain.SnapshotRecord, error)
}

const snapshotExt = ".zpm"

// SnapshotService publishes pool map versions to an object store and loads
// them back. The catalog is optional; without it the store listing is the
// source of truth.
type SnapshotService struct {
	store   SnapshotObjectRepository
	catalog SnapshotCatalogRepository
	pool    string
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// NewSnapshotService creates a new SnapshotService instance. catalog may be nil.
func NewSnapshotService(store SnapshotObjectRepository, catalog SnapshotCatalogRepository, pool string) (*SnapshotService, error) {
	if pool == "" {
		return nil, zerrors.ConfigNotSetError("snapshot.pool")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &SnapshotService{
		store:   store,
		catalog: catalog,
		pool:    pool,
		enc:     enc,
		dec:     dec,
	}, nil
}

func (s *SnapshotService) key(version uint32) string {
	return path.Join(s.pool, fmt.Sprintf("%010d%s", version, snapshotExt))
}

func (s *SnapshotService) parseKey(key string) (uint32, bool) {
	name := strings.TrimSuffix(path.Base(key), snapshotExt)
	if name == path.Base(key) {
		return 0, false
	}
	v, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// Publish stores the encoded snapshot and records it in the catalog.
func (s *SnapshotService) Publish(ctx context.Context, snap *topology.Snapshot) (domain.SnapshotRecord, error) {
	buf := topology.Encode(snap)
	sum, err := topology.Checksum(buf)
	if err != nil {
		return domain.SnapshotRecord{}, err
	}
	compressed := s.enc.EncodeAll(buf, nil)

	location, err := s.store.Upload(ctx, s.key(snap.Version()), bytes.NewReader(compressed))
	if err != nil {
		return domain.SnapshotRecord{}, fmt.Errorf("failed to publish pool map version %d: %w", snap.Version(), err)
	}

	record := domain.SnapshotRecord{
		Pool:        s.pool,
		Version:     snap.Version(),
		Location:    location,
		Checksum:    hex.EncodeToString(sum[:]),
		Domains:     snap.DomainCount(),
		Targets:     snap.TargetCount(),
		StoredBytes: int64(len(compressed)),
		CreatedAt:   time.Now().UTC(),
	}
	if s.catalog != nil {
		if err := s.catalog.RecordSnapshot(ctx, record); err != nil {
			return domain.SnapshotRecord{}, err
		}
	}

	log.WithFields(log.Fields{
		"pool":     s.pool,
		"version":  record.Version,
		"bytes":    len(buf),
		"stored":   record.StoredBytes,
		"location": location,
	}).Info("published pool map")
	return record, nil
}

// Versions lists the published versions in ascending order.
func (s *SnapshotService) Versions(ctx context.Context) ([]uint32, error) {
	keys, err := s.store.List(ctx, s.pool+"/")
	if err != nil {
		return nil, err
	}
	var versions []uint32
	for _, k := range keys {
		if v, ok := s.parseKey(k); ok {
			versions = append(versions, v)
		}
	}
	return versions, nil
}

// LatestVersion returns the newest published version.
func (s *SnapshotService) LatestVersion(ctx context.Context) (uint32, error) {
	if s.catalog != nil {
		record, err := s.catalog.LatestSnapshot(ctx, s.pool)
		if err != nil {
			return 0, err
		}
		return record.Version, nil
	}
	versions, err := s.Versions(ctx)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, fmt.Errorf("%w: pool %s has no snapshots", zerrors.ErrSnapshotNotFound, s.pool)
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

// GetSnapshot loads one version; zero means the newest.
func (s *SnapshotService) GetSnapshot(ctx context.Context, version uint32) (*topology.Snapshot, error) {
	if version == 0 {
		latest, err := s.LatestVersion(ctx)
		if err != nil {
			return nil, err
		}
		version = latest
	}

	var want string
	if s.catalog != nil {
		record, err := s.catalog.GetSnapshot(ctx, s.pool, version)
		if err != nil && !errors.Is(err, zerrors.ErrSnapshotNotFound) {
			return nil, err
		}
		want = record.Checksum
	}

	rc, err := s.store.Download(ctx, s.key(version))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	compressed, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool map version %d: %w", version, err)
	}

	buf, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, zerrors.CorruptBufferError("pool map version %d: %v", version, err)
	}
	if want != "" {
		sum, err := topology.Checksum(buf)
		if err != nil {
			return nil, err
		}
		if hex.EncodeToString(sum[:]) != want {
			return nil, zerrors.CorruptBufferError("pool map version %d does not match its catalog checksum", version)
		}
	}

	snap, err := topology.Decode(buf)
	if err != nil {
		return nil, err
	}
	if snap.Version() != version {
		return nil, zerrors.CorruptBufferError("object for version %d holds version %d", version, snap.Version())
	}
	return snap, nil
}
