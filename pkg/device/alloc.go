package device

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/tcpip"
)

// EthState is the link-layer state of an Ethernet device.
type EthState struct {
	MAC tcpip.LinkAddress
}

// Allocator provides the per-device resources allocated by Init.
type Allocator interface {
	NewQueue() (*Queue, error)
	NewEthState(mac tcpip.LinkAddress) (*EthState, error)
	// Free returns a resource previously handed out, either *Queue or *EthState.
	Free(v any)
}

// HeapAllocator allocates from the Go heap. Non-zero limits cap the number of
// live queues and link states, mirroring a fixed-size pool.
type HeapAllocator struct {
	MaxQueues    int
	MaxEthStates int
	// QueueLen is applied as MaxFrames to every allocated queue.
	QueueLen int

	queues    int
	ethStates int
}

func (a *HeapAllocator) NewQueue() (*Queue, error) {
	if a.MaxQueues > 0 && a.queues >= a.MaxQueues {
		return nil, fmt.Errorf("queue: %w", ErrAllocation)
	}
	a.queues++
	return &Queue{MaxFrames: a.QueueLen}, nil
}

func (a *HeapAllocator) NewEthState(mac tcpip.LinkAddress) (*EthState, error) {
	if a.MaxEthStates > 0 && a.ethStates >= a.MaxEthStates {
		return nil, fmt.Errorf("link state: %w", ErrAllocation)
	}
	a.ethStates++
	return &EthState{MAC: mac}, nil
}

func (a *HeapAllocator) Free(v any) {
	switch v.(type) {
	case *Queue:
		a.queues--
	case *EthState:
		a.ethStates--
	}
}

// InUse returns the number of live queues and link states.
func (a *HeapAllocator) InUse() (queues, ethStates int) {
	return a.queues, a.ethStates
}
