// Package device implements the device abstraction and scheduling core of the
// stack: device registration, per-device inbound and outbound frame queues and
// a budget-bounded round-robin scheduler that moves frames between the queues
// and the protocol layers.
//
// Everything in this package runs in a single execution context. A Stack must
// not be used from more than one goroutine at a time.
package device

import (
	"github.com/cespare/xxhash/v2"
)

// MaxDeviceName is the capacity of a device name in bytes.
const MaxDeviceName = 16

// Direction selects which queue of a device is serviced.
type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	default:
		return "unknown"
	}
}

// Driver is the transmit capability every device must provide. Send returns
// the number of bytes accepted, or a negative value on failure.
type Driver interface {
	Send(dev *Device, buf []byte) int
}

// Poller is implemented by drivers that do their own bounded work each tick.
// Poll returns the budget left over.
type Poller interface {
	Poll(dev *Device, budget int) int
}

// Destroyer is implemented by drivers that need a teardown hook. It is called
// before any of the device's resources are released.
type Destroyer interface {
	Destroy(dev *Device)
}

// Device is a registered network interface.
type Device struct {
	// Driver must be set before the device is initialized.
	Driver Driver

	In  *Queue
	Out *Queue
	// Eth is nil for raw devices.
	Eth *EthState

	Stats Stats

	name string
	hash uint64
}

// Stats counts frames handled by the scheduler for one device.
type Stats struct {
	Sent     uint64
	Deferred uint64
	Failed   uint64
	Received uint64
}

// New returns an uninitialized device backed by drv.
func New(drv Driver) *Device {
	return &Device{Driver: drv}
}

func (d *Device) Name() string { return d.name }

func (d *Device) Hash() uint64 { return d.hash }

func (d *Device) String() string { return d.name }

// Queue returns the queue for dir.
func (d *Device) Queue(dir Direction) *Queue {
	if dir == In {
		return d.In
	}
	return d.Out
}

// Enqueue places f on the queue for dir and records d as its device.
func (d *Device) Enqueue(dir Direction, f *Frame) error {
	q := d.Queue(dir)
	if q == nil {
		return ErrNoQueue
	}
	if err := q.Enqueue(f); err != nil {
		return err
	}
	f.Dev = d
	return nil
}

func hashName(name string) uint64 {
	return xxhash.Sum64String(name)
}

// truncateName mirrors copying into a fixed MaxDeviceName buffer.
func truncateName(name string) string {
	if len(name) > MaxDeviceName {
		return name[:MaxDeviceName]
	}
	return name
}
