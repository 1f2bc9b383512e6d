package domain

import (
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// ObjectMetadata - redundancy parameters a placement call needs for one object
type ObjectMetadata struct {
	ID         ObjectID `json:"id"`
	GroupSize  uint32   `json:"group_size"`  // Shards per redundancy group
	GroupCount uint32   `json:"group_count"` // Zero means as many groups as the pool holds
	Spares     uint32   `json:"spares"`      // Shards per group that may be lost
}

// MetadataFor derives placement metadata from the class embedded in id.
func MetadataFor(id ObjectID) (ObjectMetadata, error) {
	class, ok := LookupClass(id.Class())
	if !ok {
		return ObjectMetadata{}, zerrors.InvalidArgumentError("object %s has unknown class %d", id, id.Class())
	}
	return MetadataForClass(id, class), nil
}

// MetadataForClass builds metadata for id using an explicit class.
func MetadataForClass(id ObjectID, class ObjectClass) ObjectMetadata {
	return ObjectMetadata{
		ID:         id,
		GroupSize:  class.GroupSize,
		GroupCount: class.GroupCount,
		Spares:     class.FaultTolerance(),
	}
}

// Validate rejects metadata no layout can satisfy.
func (m ObjectMetadata) Validate() error {
	if m.GroupSize == 0 {
		return zerrors.InvalidArgumentError("object %s: group size must be positive", m.ID)
	}
	if m.Spares >= m.GroupSize {
		return zerrors.InvalidArgumentError("object %s: %d spares leave no data in a group of %d", m.ID, m.Spares, m.GroupSize)
	}
	return nil
}
