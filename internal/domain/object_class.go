package domain

import (
	"strings"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// ClassID identifies an object class. It is stored in the object ID.
type ClassID uint16

// Redundancy describes how shards of one group protect each other.
type Redundancy uint8

const (
	RedundancyNone Redundancy = iota
	RedundancyReplica
	RedundancyErasureCode
)

func (r Redundancy) String() string {
	switch r {
	case RedundancyReplica:
		return "replica"
	case RedundancyErasureCode:
		return "ec"
	default:
		return "none"
	}
}

const (
	ClassUnknown ClassID = iota
	ClassS1
	ClassS2
	ClassS4
	ClassSX
	ClassRP2G1
	ClassRP2GX
	ClassRP3G1
	ClassRP3GX
	ClassEC2P1G1
	ClassEC4P2G1
	ClassEC8P2G1
	ClassEC4P2GX
)

// ObjectClass is the redundancy schema of an object.
//
// Striped classes (S*) keep one shard per group and spread GroupCount groups;
// replicated classes keep GroupSize identical copies per group; erasure coded
// classes split each group into Data data cells plus Parity parity cells.
// A GroupCount of zero means as many groups as the pool can hold.
type ObjectClass struct {
	ID         ClassID
	Name       string
	Redundancy Redundancy
	GroupSize  uint32
	GroupCount uint32
	Data       uint32
	Parity     uint32
}

// FaultTolerance is the number of shards per group that may be lost
// without losing data.
func (c ObjectClass) FaultTolerance() uint32 {
	switch c.Redundancy {
	case RedundancyReplica:
		return c.GroupSize - 1
	case RedundancyErasureCode:
		return c.Parity
	default:
		return 0
	}
}

var classes = []ObjectClass{
	{ID: ClassS1, Name: "S1", GroupSize: 1, GroupCount: 1, Data: 1},
	{ID: ClassS2, Name: "S2", GroupSize: 1, GroupCount: 2, Data: 1},
	{ID: ClassS4, Name: "S4", GroupSize: 1, GroupCount: 4, Data: 1},
	{ID: ClassSX, Name: "SX", GroupSize: 1, GroupCount: 0, Data: 1},
	{ID: ClassRP2G1, Name: "RP_2G1", Redundancy: RedundancyReplica, GroupSize: 2, GroupCount: 1},
	{ID: ClassRP2GX, Name: "RP_2GX", Redundancy: RedundancyReplica, GroupSize: 2, GroupCount: 0},
	{ID: ClassRP3G1, Name: "RP_3G1", Redundancy: RedundancyReplica, GroupSize: 3, GroupCount: 1},
	{ID: ClassRP3GX, Name: "RP_3GX", Redundancy: RedundancyReplica, GroupSize: 3, GroupCount: 0},
	{ID: ClassEC2P1G1, Name: "EC_2P1G1", Redundancy: RedundancyErasureCode, GroupSize: 3, GroupCount: 1, Data: 2, Parity: 1},
	{ID: ClassEC4P2G1, Name: "EC_4P2G1", Redundancy: RedundancyErasureCode, GroupSize: 6, GroupCount: 1, Data: 4, Parity: 2},
	{ID: ClassEC8P2G1, Name: "EC_8P2G1", Redundancy: RedundancyErasureCode, GroupSize: 10, GroupCount: 1, Data: 8, Parity: 2},
	{ID: ClassEC4P2GX, Name: "EC_4P2GX", Redundancy: RedundancyErasureCode, GroupSize: 6, GroupCount: 0, Data: 4, Parity: 2},
}

// LookupClass returns the registered class with the given ID.
func LookupClass(id ClassID) (ObjectClass, bool) {
	for _, c := range classes {
		if c.ID == id {
			return c, true
		}
	}
	return ObjectClass{}, false
}

// ClassByName resolves a class name such as "RP_3G1" (case-insensitive).
func ClassByName(name string) (ObjectClass, error) {
	for _, c := range classes {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, nil
		}
	}
	return ObjectClass{}, zerrors.InvalidArgumentError("unknown object class %q", name)
}

// Classes lists every registered class.
func Classes() []ObjectClass {
	out := make([]ObjectClass, len(classes))
	copy(out, classes)
	return out
}
