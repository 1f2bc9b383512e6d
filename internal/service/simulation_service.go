package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/placement"
	"github.com/zzenonn/zplace/internal/topology"
)

type ShardRepository interface {
	Put(target uint32, oid domain.ObjectID, shard uint32, data []byte) error
	Get(target uint32, oid domain.ObjectID, shard uint32) ([]byte, error)
	Delete(target uint32, oid domain.ObjectID, shard uint32) error
	DropTarget(target uint32) error
	CountByTarget() (map[uint32]int, error)
}

type SnapshotPublisher interface {
	Publish(ctx context.Context, snap *topology.Snapshot) (domain.SnapshotRecord, error)
}

// SimulationConfig tunes the pseudo-cluster.
type SimulationConfig struct {
	Concurrency int
	ObjectSize  int // payload bytes per redundancy group
	Quiet       bool
}

type simObject struct {
	md     domain.ObjectMetadata
	codec  *ShardCodec
	layout *placement.Layout // where the shards currently are
}

// SimulationService drives a pseudo-cluster: it stores real shard data on
// simulated targets following the engine's layouts, changes target status,
// and moves data the way rebuild and reintegration would.
type SimulationService struct {
	engine    *placement.Engine
	shards    ShardRepository
	publisher SnapshotPublisher
	cfg       SimulationConfig

	mu      sync.Mutex
	objects []*simObject
}

// NewSimulationService creates a new SimulationService instance. publisher may be nil.
func NewSimulationService(engine *placement.Engine, shards ShardRepository, publisher SnapshotPublisher, cfg SimulationConfig) *SimulationService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ObjectSize <= 0 {
		cfg.ObjectSize = 4096
	}
	return &SimulationService{
		engine:    engine,
		shards:    shards,
		publisher: publisher,
		cfg:       cfg,
	}
}

func (s *SimulationService) activate(ctx context.Context, snap *topology.Snapshot) (*placement.Map, error) {
	if snap == nil {
		return nil, zerrors.InvalidArgumentError("nil pool map")
	}
	if cur, err := s.engine.Current(); err == nil && snap.Version() <= cur.Version() {
		return nil, zerrors.StaleTopologyError(snap.Version(), cur.Version()+1)
	}
	// a map the catalog never recorded must not go live
	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, snap); err != nil {
			return nil, err
		}
	}
	return s.engine.Activate(snap)
}

// CreateCluster activates the first pool map of the simulation.
func (s *SimulationService) CreateCluster(ctx context.Context, snap *topology.Snapshot) (*placement.Map, error) {
	m, err := s.activate(ctx, snap)
	if err != nil {
		return nil, err
	}
	log.Infof("Created cluster: %s", snap)
	return m, nil
}

func (s *SimulationService) current() (*topology.Snapshot, error) {
	m, err := s.engine.Current()
	if err != nil {
		return nil, err
	}
	return m.Snapshot(), nil
}

// forEach runs fn over objects with the configured concurrency and returns
// the first error.
func (s *SimulationService) forEach(ctx context.Context, objects []*simObject, label string, fn func(o *simObject) error) error {
	var bar *progressbar.ProgressBar
	if !s.cfg.Quiet {
		bar = progressbar.Default(int64(len(objects)), label)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.Concurrency)
	errorCh := make(chan error, len(objects))

	for _, o := range objects {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(o *simObject) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(o); err != nil {
				errorCh <- fmt.Errorf("object %s: %w", o.md.ID, err)
			}
			if bar != nil {
				bar.Add(1)
			}
		}(o)
	}

	wg.Wait()
	close(errorCh)
	if err := <-errorCh; err != nil {
		return err
	}
	return ctx.Err()
}

func (s *SimulationService) snapshotObjects() []*simObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*simObject, len(s.objects))
	copy(out, s.objects)
	return out
}

// CreateObjects writes count objects of a class. Object IDs are
// (seed, 0..count-1) with the class embedded.
func (s *SimulationService) CreateObjects(ctx context.Context, class domain.ObjectClass, count int, seed uint64) error {
	if count <= 0 {
		return zerrors.InvalidArgumentError("object count must be positive")
	}
	codec, err := NewShardCodec(class)
	if err != nil {
		return err
	}

	created := make([]*simObject, count)
	for i := range created {
		oid := domain.NewObjectID(class.ID, seed, uint64(i))
		created[i] = &simObject{md: domain.MetadataForClass(oid, class), codec: codec}
	}

	err = s.forEach(ctx, created, "creating objects", func(o *simObject) error {
		l, err := s.engine.Place(o.md)
		if err != nil {
			return err
		}
		for g := uint32(0); g < l.GroupCount(); g++ {
			cells, err := codec.Encode(GroupPayload(o.md.ID, g, s.cfg.ObjectSize))
			if err != nil {
				return err
			}
			for i, sh := range l.Group(g) {
				if err := s.shards.Put(sh.Target, o.md.ID, sh.Index, cells[i]); err != nil {
					return err
				}
			}
		}
		o.layout = l
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.objects = append(s.objects, created...)
	s.mu.Unlock()
	log.Infof("Created %d %s objects", count, class.Name)
	return nil
}

// ChangeTargets publishes a new pool map version with the given targets in
// status st. Targets that go DOWN lose their data.
func (s *SimulationService) ChangeTargets(ctx context.Context, st topology.Status, ids ...uint32) (*placement.Map, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	changes := make([]topology.StatusChange, len(ids))
	for i, id := range ids {
		changes[i] = topology.StatusChange{TargetID: id, Status: st}
	}
	next, err := snap.Apply(snap.Version()+1, changes...)
	if err != nil {
		return nil, err
	}
	m, err := s.activate(ctx, next)
	if err != nil {
		return nil, err
	}

	if st == topology.StatusDown {
		for _, id := range ids {
			if err := s.shards.DropTarget(id); err != nil {
				return nil, err
			}
		}
	}
	log.WithFields(log.Fields{"version": next.Version(), "status": st.String(), "targets": ids}).Info("changed target status")
	return m, nil
}

// readGroup loads the cells of group g of a layout; unreadable cells are nil.
func (s *SimulationService) readGroup(o *simObject, l *placement.Layout, g uint32) ([][]byte, int, error) {
	group := l.Group(g)
	cells := make([][]byte, len(group))
	found := 0
	for i, sh := range group {
		data, err := s.shards.Get(sh.Target, o.md.ID, sh.Index)
		if errors.Is(err, zerrors.ErrShardNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		cells[i] = data
		found++
	}
	return cells, found, nil
}

// RebuildReport summarizes one rebuild pass.
type RebuildReport struct {
	Version uint32
	Objects int // objects with at least one rebuilt shard
	Shards  int
}

// Rebuild reconstructs every shard whose target failed at or after
// fromVersion onto its spare.
func (s *SimulationService) Rebuild(ctx context.Context, fromVersion uint32) (RebuildReport, error) {
	m, err := s.engine.Current()
	if err != nil {
		return RebuildReport{}, err
	}
	report := RebuildReport{Version: m.Version()}
	var mu sync.Mutex

	err = s.forEach(ctx, s.snapshotObjects(), "rebuilding", func(o *simObject) error {
		failed, err := m.FindRebuild(o.md, fromVersion)
		if err != nil || len(failed) == 0 {
			return err
		}

		l := o.layout
		size := int(o.md.GroupSize)
		cache := make(map[uint32][][]byte)
		plan := &placement.MigrationPlan{Version: m.Version()}
		for _, f := range failed {
			g := f.ShardIndex / uint32(size)
			cells, ok := cache[g]
			if !ok {
				var found int
				cells, found, err = s.readGroup(o, l, g)
				if err != nil {
					return err
				}
				if found == 0 {
					return fmt.Errorf("%w: group %d has no surviving shard", zerrors.ErrInsufficientShards, g)
				}
				if err := o.codec.Reconstruct(cells); err != nil {
					return err
				}
				cache[g] = cells
			}
			cell := cells[int(f.ShardIndex)%size]
			if err := s.shards.Put(f.Spare, o.md.ID, f.ShardIndex, cell); err != nil {
				return err
			}
			if f.Status == topology.StatusDrain {
				if err := s.shards.Delete(f.TargetID, o.md.ID, f.ShardIndex); err != nil {
					return err
				}
			}
			plan.Moves = append(plan.Moves, placement.Move{ShardIndex: f.ShardIndex, From: l.Shard(f.ShardIndex).Target, To: f.Spare})
		}

		// shards that failed before fromVersion stay where they are
		next, err := plan.Apply(l)
		if err != nil {
			return err
		}
		o.layout = next

		mu.Lock()
		report.Objects++
		report.Shards += len(plan.Moves)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return report, err
	}
	log.WithFields(log.Fields{"version": report.Version, "objects": report.Objects, "shards": report.Shards}).Info("rebuild complete")
	return report, nil
}

// executePlan copies every moved shard to its destination and removes it
// from its source.
func (s *SimulationService) executePlan(o *simObject, plan *placement.MigrationPlan) error {
	for _, mv := range plan.Moves {
		switch {
		case mv.From == placement.NoTarget:
			// a new shard of a GX object: rebuild it from its group
			g := mv.ShardIndex / o.md.GroupSize
			cells, err := o.codec.Encode(GroupPayload(o.md.ID, g, s.cfg.ObjectSize))
			if err != nil {
				return err
			}
			if err := s.shards.Put(mv.To, o.md.ID, mv.ShardIndex, cells[mv.ShardIndex%o.md.GroupSize]); err != nil {
				return err
			}
		case mv.To == placement.NoTarget:
			if err := s.shards.Delete(mv.From, o.md.ID, mv.ShardIndex); err != nil {
				return err
			}
		default:
			data, err := s.shards.Get(mv.From, o.md.ID, mv.ShardIndex)
			if err != nil {
				return err
			}
			if err := s.shards.Put(mv.To, o.md.ID, mv.ShardIndex, data); err != nil {
				return err
			}
			if err := s.shards.Delete(mv.From, o.md.ID, mv.ShardIndex); err != nil {
				return err
			}
		}
	}
	next, err := plan.Apply(o.layout)
	if err != nil {
		return err
	}
	o.layout = next
	return nil
}

// MigrationReport summarizes a reintegration or an addition.
type MigrationReport struct {
	Version uint32
	Objects int
	Moves   int
}

func (s *SimulationService) migrate(ctx context.Context, label string, plan func(o *simObject) (*placement.MigrationPlan, error)) (MigrationReport, error) {
	var report MigrationReport
	var mu sync.Mutex
	err := s.forEach(ctx, s.snapshotObjects(), label, func(o *simObject) error {
		p, err := plan(o)
		if err != nil || len(p.Moves) == 0 {
			return err
		}
		if err := s.executePlan(o, p); err != nil {
			return err
		}
		mu.Lock()
		report.Objects++
		report.Moves += len(p.Moves)
		mu.Unlock()
		return nil
	})
	return report, err
}

// Reintegrate moves shards back onto a returning target and then marks it UP.
func (s *SimulationService) Reintegrate(ctx context.Context, target uint32) (MigrationReport, error) {
	m, err := s.engine.Current()
	if err != nil {
		return MigrationReport{}, err
	}
	report, err := s.migrate(ctx, "reintegrating", func(o *simObject) (*placement.MigrationPlan, error) {
		return m.FindReint(o.md, target)
	})
	if err != nil {
		return report, err
	}

	next, err := s.ChangeTargets(ctx, topology.StatusUp, target)
	if err != nil {
		return report, err
	}
	report.Version = next.Version()
	log.WithFields(log.Fields{"target": target, "objects": report.Objects, "moves": report.Moves}).Info("reintegration complete")
	return report, nil
}

// AddTargets extends the cluster with a new leaf domain of n targets (or n
// targets under the root of a flat pool), migrates the shards that now
// belong on them, and brings them UP.
func (s *SimulationService) AddTargets(ctx context.Context, n int) (MigrationReport, []uint32, error) {
	if n <= 0 {
		return MigrationReport{}, nil, zerrors.InvalidArgumentError("target count must be positive")
	}
	snap, err := s.current()
	if err != nil {
		return MigrationReport{}, nil, err
	}

	b := topology.FromSnapshot(snap, snap.Version()+1)
	var added []uint32
	if snap.IsLeaf(snap.Root()) {
		added = b.AddTargets(b.Root(), n, topology.StatusNew)
	} else {
		leaf := snap.TargetParent(snap.TargetCount() - 1)
		typ := snap.Domain(leaf).Type
		var id uint32
		for _, d := range snap.DomainsOfType(typ) {
			if snap.Domain(d).ID >= id {
				id = snap.Domain(d).ID + 1
			}
		}
		dom := b.AddDomain(snap.Parent(leaf), typ, id, topology.StatusNew)
		added = b.AddTargets(dom, n, topology.StatusNew)
	}
	grown, err := b.Build()
	if err != nil {
		return MigrationReport{}, nil, err
	}
	m, err := s.activate(ctx, grown)
	if err != nil {
		return MigrationReport{}, nil, err
	}

	report, err := s.migrate(ctx, "adding targets", func(o *simObject) (*placement.MigrationPlan, error) {
		return m.FindAddition(o.md)
	})
	if err != nil {
		return report, added, err
	}

	up, err := s.ChangeTargets(ctx, topology.StatusUp, added...)
	if err != nil {
		return report, added, err
	}
	report.Version = up.Version()
	log.WithFields(log.Fields{"targets": added, "objects": report.Objects, "moves": report.Moves}).Info("addition complete")
	return report, added, nil
}

// VerifyReport classifies every object after a verification pass.
type VerifyReport struct {
	Version   uint32
	Objects   int
	Healthy   int // every shard present where the engine places it
	Degraded  int // readable, but some shards are missing
	Lost      int // at least one group cannot be decoded
	Misplaced int // stored layout differs from the engine's layout
}

// Verify reads every object back through the engine's current layouts and
// checks the decoded payloads.
func (s *SimulationService) Verify(ctx context.Context) (VerifyReport, error) {
	m, err := s.engine.Current()
	if err != nil {
		return VerifyReport{}, err
	}
	objects := s.snapshotObjects()
	report := VerifyReport{Version: m.Version(), Objects: len(objects)}
	var mu sync.Mutex

	err = s.forEach(ctx, objects, "verifying", func(o *simObject) error {
		l, err := m.Place(o.md)
		if err != nil {
			return err
		}
		misplaced := !equalTargets(l.Targets(), o.layout.Targets())
		complete, lost := true, false
		for g := uint32(0); g < l.GroupCount(); g++ {
			cells, found, err := s.readGroup(o, l, g)
			if err != nil {
				return err
			}
			if found < len(cells) {
				complete = false
			}
			data, err := o.codec.Decode(cells, s.cfg.ObjectSize)
			if err != nil || Checksum(data) != Checksum(GroupPayload(o.md.ID, g, s.cfg.ObjectSize)) {
				lost = true
			}
		}

		mu.Lock()
		defer mu.Unlock()
		switch {
		case lost:
			report.Lost++
		case complete:
			report.Healthy++
		default:
			report.Degraded++
		}
		if misplaced {
			report.Misplaced++
		}
		return nil
	})
	return report, err
}

func equalTargets(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TargetStats is the shard count of one target.
type TargetStats struct {
	Target uint32
	Status topology.Status
	Shards int
}

// Stats lists the shards every target of the current pool map holds.
func (s *SimulationService) Stats(ctx context.Context) ([]TargetStats, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	counts, err := s.shards.CountByTarget()
	if err != nil {
		return nil, err
	}
	stats := make([]TargetStats, 0, snap.TargetCount())
	for _, t := range snap.Targets() {
		stats = append(stats, TargetStats{Target: t.ID, Status: t.Status, Shards: counts[t.ID]})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Target < stats[j].Target })
	return stats, nil
}
