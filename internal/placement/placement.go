// Package placement computes where the shards of an object live.
//
// Given an object ID, its redundancy metadata and an immutable topology
// snapshot, the engine derives the object's layout: one storage target per
// shard, with the shards of every redundancy group spread across distinct
// fault domains. The computation is a pure function of its inputs, so every
// node holding the same pool map version agrees on every layout without
// talking to anyone.
//
// Key Concepts:
//   - Primary Layout: The placement an object gets when every target is healthy.
//     It ignores target status (only NEW targets are invisible) so it only moves
//     when the shape of the tree changes.
//   - Remap: Shards whose primary target is not UP are moved to spare targets,
//     chosen by a deterministic walk seeded from the shard and the pool map
//     version at which its target failed.
//   - Rebuild / Reintegration / Addition: Differences between the layouts of two
//     views of the same snapshot, expressed as failed shards or migration plans.
//
// Architecture Role:
// The placement package sits between the topology snapshots (what the pool
// looks like) and the services that move data (simulator, rebuild). It never
// performs I/O and holds no mutable state other than the Engine's pointer to
// the current Map and its layout cache.
//
// Usage Flow:
//  1. A snapshot is activated on an Engine, which builds a Map for it
//  2. Clients call Engine.Place for every object they touch
//  3. When targets fail, the new snapshot is activated and FindRebuild lists
//     the shards that must be reconstructed and where they go
//  4. When a target returns, FindReint lists the shards that move back to it
//
// Example:
//
//	engine := NewEngine(Options{Type: MapJump}, nil)
//	m, _ := engine.Activate(snapshot)
//	layout, _ := engine.Place(md)
//	target, _ := layout.TargetFor(0)
//
//	failed, _ := m.FindRebuild(md, previousVersion)
//	plan, _ := m.FindReint(md, returningTarget)
package placement

import (
	"strings"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/topology"
)

// MapType selects the placement algorithm of a Map.
type MapType string

const (
	MapJump MapType = "jump"
	MapRing MapType = "ring"
)

// ParseMapType accepts "jump" or "ring"; the empty string means jump.
func ParseMapType(s string) (MapType, error) {
	switch MapType(strings.ToLower(strings.TrimSpace(s))) {
	case "", MapJump:
		return MapJump, nil
	case MapRing:
		return MapRing, nil
	default:
		return "", zerrors.InvalidArgumentError("unknown placement map type %q", s)
	}
}

// Options configure a Map.
type Options struct {
	Type MapType
	// FaultDomain is the tree level whose domains must not hold two shards
	// of one group. TypeRoot selects the level directly below the root.
	FaultDomain topology.CompType
	// MinVersion rejects snapshots older than this pool map version.
	MinVersion uint32
	// RingCount is the number of rings a ring map builds. Zero means one.
	RingCount uint32
}

// Algorithm places and remaps layouts for one snapshot.
//
// Implementations must be deterministic: identical inputs produce identical
// layouts on every machine. The view argument carries the snapshot along
// with any status overrides for the call.
type Algorithm interface {
	// Type reports which algorithm this is.
	Type() MapType

	// Place computes the primary layout of an object.
	Place(md domain.ObjectMetadata, v *view) (*Layout, error)

	// Remap moves every shard whose target is not UP to a spare target and
	// reports the moved shards ordered by fail sequence.
	Remap(l *Layout, md domain.ObjectMetadata, v *view) (*Layout, []FailedShard, error)
}
