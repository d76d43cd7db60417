package device

import "errors"

var (
	// ErrQueueFull is returned when enqueueing onto a queue at capacity.
	ErrQueueFull = errors.New("queue full")
	// ErrAllocation is returned when a device resource could not be allocated.
	ErrAllocation = errors.New("allocation failed")
	// ErrInvalidMAC is returned for a link-layer address that is not 6 bytes.
	ErrInvalidMAC = errors.New("invalid MAC address")
	// ErrHashCollision is returned when another registered device has the same name hash.
	ErrHashCollision = errors.New("device name hash collision")
	// ErrAlreadyRegistered is returned when initializing a device that is still registered.
	ErrAlreadyRegistered = errors.New("device already registered")
	// ErrNoDriver is returned when initializing a device without a driver.
	ErrNoDriver = errors.New("device has no driver")
	// ErrNoQueue is returned when enqueueing onto a device without the queue allocated.
	ErrNoQueue = errors.New("device queue not allocated")
)
