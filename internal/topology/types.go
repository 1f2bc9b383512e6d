// Package topology holds immutable snapshots of a pool's fault-domain tree.
//
// A Snapshot is an arena: every domain lives in one slice, ordered breadth
// first with the root at index 0, and refers to its children by a contiguous
// index range. Targets live in a second slice; every domain owns the
// contiguous run of targets beneath it. Snapshots never change after
// construction; status updates produce a new snapshot with a newer version.
package topology

import (
	"fmt"
	"strings"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// CompType is the level of a component in the tree. Lower values sit higher.
type CompType uint8

const (
	TypeRoot CompType = iota
	TypeRack
	TypeBlade
	TypeBoard
	TypeNode
	TypeTarget
)

var compTypeNames = map[CompType]string{
	TypeRoot:   "root",
	TypeRack:   "rack",
	TypeBlade:  "blade",
	TypeBoard:  "board",
	TypeNode:   "node",
	TypeTarget: "target",
}

func (t CompType) String() string {
	if s, ok := compTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseCompType accepts a type name or its first letter ("r", "n", "t"; "l" for blade).
func ParseCompType(s string) (CompType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "r":
		return TypeRack, nil
	case "l":
		return TypeBlade, nil
	case "b":
		return TypeBoard, nil
	case "n":
		return TypeNode, nil
	case "t":
		return TypeTarget, nil
	}
	for t, name := range compTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, zerrors.InvalidArgumentError("unknown component type %q", s)
}

// Status is the health of a target or domain.
type Status uint8

const (
	StatusUp Status = iota
	StatusDown
	StatusDrain
	StatusRebuilding
	StatusNew

	numStatus = int(StatusNew) + 1
)

func (s Status) String() string {
	switch s {
	case StatusUp:
		return "UP"
	case StatusDown:
		return "DOWN"
	case StatusDrain:
		return "DRAIN"
	case StatusRebuilding:
		return "REBUILDING"
	case StatusNew:
		return "NEW"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// ParseStatus is the inverse of Status.String and is case-insensitive.
func ParseStatus(s string) (Status, error) {
	for st := Status(0); int(st) < numStatus; st++ {
		if strings.EqualFold(st.String(), strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return 0, zerrors.InvalidArgumentError("unknown status %q", s)
}

// Failed reports whether a target in this status lost its data.
func (s Status) Failed() bool {
	return s == StatusDown || s == StatusDrain
}

// Domain is an interior node of the tree.
type Domain struct {
	Type    CompType
	ID      uint32
	Rank    uint32
	Status  Status
	FailSeq uint32

	childStart  uint32
	childCount  uint32
	targetStart uint32
	targetCount uint32
}

// Target is a leaf storage unit.
type Target struct {
	ID      uint32
	Rank    uint32 // rank of the owning node
	Index   uint32 // position within the owning node
	Status  Status
	FailSeq uint32 // pool map version at which the target last failed
}
