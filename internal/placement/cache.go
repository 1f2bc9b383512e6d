package placement

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/zzenonn/zplace/internal/domain"
)

// LayoutCache memoizes layouts per pool map version. A nil cache is valid and
// caches nothing. Once closed, a cache misses on every Get and drops every Put.
type LayoutCache struct {
	mu      sync.RWMutex
	closed  bool
	entries int64
	cache   *ristretto.Cache
}

// NewLayoutCache keeps up to maxEntries layouts.
func NewLayoutCache(maxEntries int64) (*LayoutCache, error) {
	if maxEntries <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// cost counts layouts, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create layout cache: %w", err)
	}
	return &LayoutCache{entries: maxEntries, cache: c}, nil
}

func cacheKey(version uint32, md domain.ObjectMetadata) string {
	var b [28]byte
	binary.LittleEndian.PutUint32(b[0:], version)
	binary.LittleEndian.PutUint32(b[4:], md.GroupSize)
	binary.LittleEndian.PutUint32(b[8:], md.GroupCount)
	binary.LittleEndian.PutUint64(b[12:], md.ID.Hi)
	binary.LittleEndian.PutUint64(b[20:], md.ID.Lo)
	return string(b[:])
}

// renew returns an empty cache of the same size.
func (c *LayoutCache) renew() (*LayoutCache, error) {
	if c == nil {
		return nil, nil
	}
	return NewLayoutCache(c.entries)
}

// Get returns a copy of the cached layout.
func (c *LayoutCache) Get(version uint32, md domain.ObjectMetadata) (*Layout, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, false
	}
	v, ok := c.cache.Get(cacheKey(version, md))
	if !ok {
		return nil, false
	}
	return v.(*Layout).Clone(), true
}

// Put stores a copy of l. Admission is best effort.
func (c *LayoutCache) Put(version uint32, md domain.ObjectMetadata, l *Layout) {
	if c == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closed {
		c.cache.Set(cacheKey(version, md), l.Clone(), 1)
	}
}

// Wait blocks until buffered writes are visible to Get.
func (c *LayoutCache) Wait() {
	if c == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closed {
		c.cache.Wait()
	}
}

// Close releases the cache. Readers still holding it see only misses.
func (c *LayoutCache) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.cache.Close()
	}
}
