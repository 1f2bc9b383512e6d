package placement

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/topology"
)

// Engine holds the active placement map. Readers never block: activation
// swaps the map pointer, and a reader keeps whichever map it loaded for the
// rest of its call.
type Engine struct {
	opts    Options
	seed    *LayoutCache
	mu      sync.Mutex
	current atomic.Pointer[generation]
}

// generation is one activated map with the layout cache that serves it.
type generation struct {
	m     *Map
	cache *LayoutCache
}

// NewEngine creates an engine with no active map. cache may be nil; it
// serves the first activated map, and every later map starts with an empty
// cache of the same size.
func NewEngine(opts Options, cache *LayoutCache) *Engine {
	return &Engine{opts: opts, seed: cache}
}

// Activate makes snap the current pool map. Versions must strictly increase.
func (e *Engine) Activate(snap *topology.Snapshot) (*Map, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.current.Load()
	if prev != nil && snap != nil && snap.Version() <= prev.m.Version() {
		return nil, zerrors.StaleTopologyError(snap.Version(), prev.m.Version()+1)
	}
	m, err := NewMap(snap, e.opts)
	if err != nil {
		return nil, err
	}

	cache := e.seed
	if prev != nil {
		if cache, err = prev.cache.renew(); err != nil {
			return nil, err
		}
	}
	e.current.Store(&generation{m: m, cache: cache})
	if prev != nil {
		prev.cache.Close()
	}

	log.WithFields(log.Fields{
		"version": snap.Version(),
		"targets": snap.TargetCount(),
		"map":     m.Type(),
	}).Info("activated pool map")
	return m, nil
}

// Current returns the active map.
func (e *Engine) Current() (*Map, error) {
	g := e.current.Load()
	if g == nil {
		return nil, zerrors.ErrNoPoolMap
	}
	return g.m, nil
}

// Close releases the layout cache of the active map.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g := e.current.Load(); g != nil {
		g.cache.Close()
		return
	}
	e.seed.Close()
}

// Place returns the layout of an object on the active map.
func (e *Engine) Place(md domain.ObjectMetadata) (*Layout, error) {
	g := e.current.Load()
	if g == nil {
		return nil, zerrors.ErrNoPoolMap
	}
	if l, ok := g.cache.Get(g.m.Version(), md); ok {
		return l, nil
	}
	l, err := g.m.Place(md)
	if err != nil {
		return nil, err
	}
	g.cache.Put(g.m.Version(), md, l)
	return l, nil
}

func (e *Engine) FindRebuild(md domain.ObjectMetadata, fromVersion uint32) ([]FailedShard, error) {
	m, err := e.Current()
	if err != nil {
		return nil, err
	}
	return m.FindRebuild(md, fromVersion)
}

func (e *Engine) FindReint(md domain.ObjectMetadata, target uint32) (*MigrationPlan, error) {
	m, err := e.Current()
	if err != nil {
		return nil, err
	}
	return m.FindReint(md, target)
}

func (e *Engine) FindAddition(md domain.ObjectMetadata) (*MigrationPlan, error) {
	m, err := e.Current()
	if err != nil {
		return nil, err
	}
	return m.FindAddition(md)
}
