package blockcache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a caller passes a value the cache
	// cannot be built with, such as a negative capacity.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrReleased is returned when a cache is released more often than it was referenced.
	ErrReleased = errors.New("cache already released")
)

// ErrInvalidCapacity indicates a negative byte capacity.
//
// It matches ErrInvalidArgument via errors.Is.
type ErrInvalidCapacity struct {
	Capacity int64
	cause    error
}

func newInvalidCapacity(capacity int64) *ErrInvalidCapacity {
	return &ErrInvalidCapacity{Capacity: capacity, cause: ErrInvalidArgument}
}

func (e *ErrInvalidCapacity) Error() string {
	return fmt.Sprintf("invalid capacity: %d", e.Capacity)
}

func (e *ErrInvalidCapacity) Unwrap() error { return e.cause }
