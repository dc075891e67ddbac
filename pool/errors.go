package pool

import "errors"

// Errors returned by the allocator. Callers are expected to match with
// errors.Is; AllocationFailure-class errors wrap ErrPoolExhausted.
var (
	// ErrPoolExhausted is returned when a request cannot fit in its typed
	// pool even after bounded growth. Callers treat this as a tile-level
	// failure, not a fatal condition.
	ErrPoolExhausted = errors.New("pool: typed pool exhausted")

	// ErrAllocatorClosed is returned by operations on a closed allocator.
	ErrAllocatorClosed = errors.New("pool: allocator is closed")

	// ErrAlreadyReleased is returned when an allocation is deallocated
	// more than once. The second call is a caller contract violation; it
	// is detected and leaves accounting untouched.
	ErrAlreadyReleased = errors.New("pool: allocation already released")

	// ErrInvalidSize is returned for zero-byte allocation requests.
	ErrInvalidSize = errors.New("pool: invalid allocation size")

	// ErrShrinkBelowUsed is returned when a resize would drop a pool's
	// capacity below its currently used bytes.
	ErrShrinkBelowUsed = errors.New("pool: cannot shrink below used bytes")

	// ErrNilAllocation is returned when deallocating a nil handle.
	ErrNilAllocation = errors.New("pool: nil allocation")

	// ErrNeedsDimensions is returned when Allocate is called for a
	// texture type; dedicated textures are created with AllocateTexture2D.
	ErrNeedsDimensions = errors.New("pool: texture allocations need dimensions")

	// ErrBackingFailed wraps device errors from the backing store.
	ErrBackingFailed = errors.New("pool: backing store failure")
)
