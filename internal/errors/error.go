package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientTargets = errors.New("insufficient targets")
	ErrStaleTopology       = errors.New("stale topology")
	ErrCorruptBuffer       = errors.New("corrupt pool map buffer")
	ErrNoPoolMap           = errors.New("no pool map has been activated")
	ErrSnapshotNotFound    = errors.New("pool map snapshot not found")
	ErrShardNotFound       = errors.New("shard not found")
	ErrInsufficientShards  = errors.New("insufficient shards available for reconstruction")
)

// InvalidArgumentError wraps ErrInvalidArgument with a formatted reason.
func InvalidArgumentError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// InsufficientTargetsError wraps ErrInsufficientTargets with a formatted reason.
func InsufficientTargetsError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInsufficientTargets, fmt.Sprintf(format, args...))
}

// StaleTopologyError reports a pool map version older than the one required.
func StaleTopologyError(have, want uint32) error {
	return fmt.Errorf("%w: pool map version %d, need at least %d", ErrStaleTopology, have, want)
}

// CorruptBufferError wraps ErrCorruptBuffer with a formatted reason.
func CorruptBufferError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptBuffer, fmt.Sprintf(format, args...))
}

// FetchingResourceError generates a formatted error for failed fetching of any resource by its type.
func FetchingResourceError(resource string) error {
	return fmt.Errorf("failed to fetch %s by id", resource)
}

func ConfigNotSetError(config string) error {
	return fmt.Errorf("the %s setting must be configured", config)
}
