// Package shardstore keeps the shards the pseudo-cluster stores on each
// simulated target in one badger database.
package shardstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

const (
	targetPrefix = 't'
	keyLen       = 1 + 4 + 8 + 8 + 4
)

// ShardStore is safe for concurrent use.
type ShardStore struct {
	db *badger.DB
}

// Open opens a store in dir. An empty dir keeps everything in memory.
func Open(dir string) (*ShardStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open shard store: %w", err)
	}
	return &ShardStore{db: db}, nil
}

func (s *ShardStore) Close() error {
	return s.db.Close()
}

func targetKey(target uint32) []byte {
	k := make([]byte, 5)
	k[0] = targetPrefix
	binary.BigEndian.PutUint32(k[1:], target)
	return k
}

func shardKey(target uint32, oid domain.ObjectID, shard uint32) []byte {
	k := make([]byte, 0, keyLen)
	k = append(k, targetKey(target)...)
	k = binary.BigEndian.AppendUint64(k, oid.Hi)
	k = binary.BigEndian.AppendUint64(k, oid.Lo)
	return binary.BigEndian.AppendUint32(k, shard)
}

// ShardRef names one stored shard.
type ShardRef struct {
	Target uint32
	OID    domain.ObjectID
	Shard  uint32
}

func parseKey(k []byte) (ShardRef, bool) {
	if len(k) != keyLen || k[0] != targetPrefix {
		return ShardRef{}, false
	}
	return ShardRef{
		Target: binary.BigEndian.Uint32(k[1:5]),
		OID: domain.ObjectID{
			Hi: binary.BigEndian.Uint64(k[5:13]),
			Lo: binary.BigEndian.Uint64(k[13:21]),
		},
		Shard: binary.BigEndian.Uint32(k[21:25]),
	}, true
}

// Put stores shard data on a target, replacing any previous copy.
func (s *ShardStore) Put(target uint32, oid domain.ObjectID, shard uint32, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(shardKey(target, oid, shard), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store shard %d of %s on target %d: %w", shard, oid, target, err)
	}
	return nil
}

// Get returns a copy of the shard data held by a target.
func (s *ShardStore) Get(target uint32, oid domain.ObjectID, shard uint32) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(shardKey(target, oid, shard))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: shard %d of %s on target %d", zerrors.ErrShardNotFound, shard, oid, target)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read shard %d of %s on target %d: %w", shard, oid, target, err)
	}
	return data, nil
}

// Delete removes one shard. Deleting a missing shard is not an error.
func (s *ShardStore) Delete(target uint32, oid domain.ObjectID, shard uint32) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(shardKey(target, oid, shard))
	})
	if err != nil {
		return fmt.Errorf("failed to delete shard %d of %s on target %d: %w", shard, oid, target, err)
	}
	return nil
}

// DropTarget wipes every shard a target holds, as if its disk was replaced.
func (s *ShardStore) DropTarget(target uint32) error {
	if err := s.db.DropPrefix(targetKey(target)); err != nil {
		return fmt.Errorf("failed to drop target %d: %w", target, err)
	}
	return nil
}

// Shards lists the shards held by a target in object order.
func (s *ShardStore) Shards(target uint32) ([]ShardRef, error) {
	var refs []ShardRef
	err := s.scan(targetKey(target), func(ref ShardRef) {
		refs = append(refs, ref)
	})
	return refs, err
}

// CountByTarget returns the number of shards every non-empty target holds.
func (s *ShardStore) CountByTarget() (map[uint32]int, error) {
	counts := make(map[uint32]int)
	err := s.scan([]byte{targetPrefix}, func(ref ShardRef) {
		counts[ref.Target]++
	})
	return counts, err
}

func (s *ShardStore) scan(prefix []byte, fn func(ShardRef)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if ref, ok := parseKey(it.Item().Key()); ok {
				fn(ref)
			}
		}
		return nil
	})
}
