package placement

import (
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/topology"
)

// Map binds a placement algorithm to one topology snapshot. A Map is
// immutable and safe for concurrent use.
type Map struct {
	algo     Algorithm
	snap     *topology.Snapshot
	opts     Options
	injected map[int]topology.Status
}

// NewMap builds a placement map for snap.
func NewMap(snap *topology.Snapshot, opts Options) (*Map, error) {
	return newMap(snap, opts, nil)
}

// newMap accepts target IDs whose status is forced to DOWN regardless of the
// snapshot. Only tests reach it with a non-empty set.
func newMap(snap *topology.Snapshot, opts Options, down []uint32) (*Map, error) {
	if snap == nil {
		return nil, zerrors.InvalidArgumentError("nil topology snapshot")
	}
	if snap.Version() < opts.MinVersion {
		return nil, zerrors.StaleTopologyError(snap.Version(), opts.MinVersion)
	}
	mapType, err := ParseMapType(string(opts.Type))
	if err != nil {
		return nil, err
	}
	opts.Type = mapType

	level := resolveFaultLevel(snap, opts.FaultDomain)
	m := &Map{snap: snap, opts: opts}
	switch mapType {
	case MapRing:
		m.algo = newRingMap(snap, level, opts.RingCount)
	default:
		m.algo = newJumpMap(snap, level)
	}

	for _, id := range down {
		pos, ok := snap.TargetByID(id)
		if !ok {
			return nil, zerrors.InvalidArgumentError("cannot fail unknown target %d", id)
		}
		if m.injected == nil {
			m.injected = make(map[int]topology.Status)
		}
		m.injected[pos] = topology.StatusDown
	}
	return m, nil
}

func (m *Map) Version() uint32 { return m.snap.Version() }

func (m *Map) Type() MapType { return m.algo.Type() }

func (m *Map) Snapshot() *topology.Snapshot { return m.snap }

func (m *Map) view(includeNew bool) *view {
	v := newView(m.snap, includeNew)
	for pos, st := range m.injected {
		v = v.with(pos, st)
	}
	return v
}

// PrimaryLayout is the layout the object has when every target is healthy.
func (m *Map) PrimaryLayout(md domain.ObjectMetadata) (*Layout, error) {
	return m.algo.Place(md, m.view(false))
}

// Place computes the layout clients use: the primary layout with every shard
// on an unavailable target moved to its spare.
func (m *Map) Place(md domain.ObjectMetadata) (*Layout, error) {
	l, _, err := m.placeIn(md, m.view(false))
	return l, err
}

func (m *Map) placeIn(md domain.ObjectMetadata, v *view) (*Layout, []FailedShard, error) {
	primary, err := m.algo.Place(md, v)
	if err != nil {
		return nil, nil, err
	}
	l, failed, err := m.algo.Remap(primary, md, v)
	if err != nil {
		return nil, nil, err
	}
	if len(failed) > 0 {
		log.WithFields(log.Fields{
			"oid":     md.ID.String(),
			"version": v.snap.Version(),
			"failed":  len(failed),
		}).Debug("remapped shards onto spares")
	}
	return l, failed, nil
}

// Remap corrects an existing layout against this map's snapshot.
func (m *Map) Remap(l *Layout, md domain.ObjectMetadata) (*Layout, []FailedShard, error) {
	if err := md.Validate(); err != nil {
		return nil, nil, err
	}
	if l == nil || l.groupSize != md.GroupSize || len(l.shards) == 0 || len(l.shards)%int(md.GroupSize) != 0 {
		return nil, nil, zerrors.InvalidArgumentError("layout does not match object %s", md.ID)
	}
	return m.algo.Remap(l, md, m.view(false))
}

// FindRebuild lists the shards of an object that lost their target at or
// after fromVersion, each with the spare it is rebuilt on. Shards on
// REBUILDING targets are reintegration work and are not listed.
func (m *Map) FindRebuild(md domain.ObjectMetadata, fromVersion uint32) ([]FailedShard, error) {
	if fromVersion > m.Version() {
		return nil, zerrors.StaleTopologyError(m.Version(), fromVersion)
	}
	_, failed, err := m.placeIn(md, m.view(false))
	if err != nil {
		return nil, err
	}
	var out []FailedShard
	for _, f := range failed {
		if f.Status.Failed() && f.FailSeq >= fromVersion {
			out = append(out, f)
		}
	}
	return out, nil
}

// FindReint computes the moves that bring shards back to a returning target:
// the layout with the target still counted as failed against the layout with
// the target UP.
func (m *Map) FindReint(md domain.ObjectMetadata, target uint32) (*MigrationPlan, error) {
	pos, ok := m.snap.TargetByID(target)
	if !ok {
		return nil, zerrors.InvalidArgumentError("target %d is not in pool map version %d", target, m.Version())
	}
	base := m.view(false)

	active, _, err := m.placeIn(md, base.with(pos, topology.StatusDown))
	if err != nil {
		return nil, err
	}
	reint, _, err := m.placeIn(md, base.with(pos, topology.StatusUp))
	if err != nil {
		return nil, err
	}
	return diffLayouts(m.Version(), target, active, reint), nil
}

// FindAddition computes the moves onto NEW targets once they join: the
// layout without NEW components against the layout that includes them.
func (m *Map) FindAddition(md domain.ObjectMetadata) (*MigrationPlan, error) {
	current, _, err := m.placeIn(md, m.view(false))
	if err != nil {
		return nil, err
	}
	grown, _, err := m.placeIn(md, m.view(true))
	if err != nil {
		return nil, err
	}
	return diffLayouts(m.Version(), 0, current, grown), nil
}
