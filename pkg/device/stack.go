package device

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"gvisor.dev/gvisor/pkg/tcpip"
)

// LinkLayer is the data-link entry point for Ethernet devices.
//
// Send returns 0 when the frame was accepted but not yet transmitted (for
// example while waiting for address resolution); the link layer then owns the
// frame. A negative value means the destination is unreachable and a positive
// value means the frame was sent. In both of those cases the caller still owns
// the frame. Receive always takes ownership of the frame.
type LinkLayer interface {
	Send(f *Frame) int
	Receive(f *Frame)
}

// NetworkLayer is the entry point for frames received on raw devices. It
// takes ownership of the frame.
type NetworkLayer interface {
	Receive(f *Frame)
}

// Unreachable reports undeliverable frames back to their originator.
type Unreachable interface {
	SourceIsLocal(f *Frame) bool
	NotifyDestUnreachable(f *Frame)
}

// Option configures a Stack.
type Option func(*Stack)

// WithLinkLayer sets the data-link layer used by Ethernet devices.
func WithLinkLayer(l LinkLayer) Option {
	return func(s *Stack) {
		s.link = l
	}
}

// WithNetworkLayer sets the network layer receiving frames from raw devices.
func WithNetworkLayer(n NetworkLayer) Option {
	return func(s *Stack) {
		s.network = n
	}
}

// WithUnreachable sets the destination unreachable notifier.
func WithUnreachable(u Unreachable) Option {
	return func(s *Stack) {
		s.unreachable = u
	}
}

// WithAllocator sets the allocator for device queues and link state.
func WithAllocator(a Allocator) Option {
	return func(s *Stack) {
		s.alloc = a
	}
}

// WithLogger sets the logger. Per-frame diagnostics are logged at V(1).
func WithLogger(l logr.Logger) Option {
	return func(s *Stack) {
		s.log = l
	}
}

// WithLoopMin overrides LoopMin.
func WithLoopMin(n int) Option {
	return func(s *Stack) {
		s.loopMin = n
	}
}

// Stack owns the device registry and the scheduler cursors. The zero value is
// not usable, use NewStack.
type Stack struct {
	registry *Registry
	// Next device to service per direction, nil until first driven.
	cursorIn  *Device
	cursorOut *Device

	link        LinkLayer
	network     NetworkLayer
	unreachable Unreachable
	alloc       Allocator
	log         logr.Logger
	loopMin     int
}

// NewStack returns a stack with no registered devices.
func NewStack(opts ...Option) *Stack {
	s := &Stack{
		registry:    NewRegistry(),
		link:        passthroughLink{},
		network:     discardNetwork{},
		unreachable: localOnly{},
		alloc:       &HeapAllocator{},
		log:         logr.Discard(),
		loopMin:     LoopMin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init names dev, registers it and allocates its queues and, when mac is
// non-empty, its link-layer state.
//
// Resources allocated before a failure are kept. The caller must Destroy the
// device after a failed Init. A registered device must be destroyed before it
// can be initialized again.
func (s *Stack) Init(dev *Device, name string, mac tcpip.LinkAddress) error {
	if dev.Driver == nil {
		return fmt.Errorf("init device %q: %w", name, ErrNoDriver)
	}
	// Renaming in place would move dev within the registry.
	if s.registry.Contains(dev) {
		return fmt.Errorf("init device %q: %w", dev.name, ErrAlreadyRegistered)
	}

	dev.name = truncateName(name)
	dev.hash = hashName(dev.name)

	if existing, ok := s.registry.Insert(dev); !ok && existing != dev {
		return fmt.Errorf("device %q collides with %q: %w", dev.name, existing.name, ErrHashCollision)
	}

	var errs *multierror.Error
	var err error
	if dev.In, err = s.alloc.NewQueue(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("inbound %w", err))
	}
	if dev.Out, err = s.alloc.NewQueue(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("outbound %w", err))
	}

	dev.Eth = nil
	if mac != "" {
		if len(mac) != 6 {
			errs = multierror.Append(errs, fmt.Errorf("%q: %w", mac, ErrInvalidMAC))
		} else if dev.Eth, err = s.alloc.NewEthState(mac); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		s.log.Error(err, "Device initialization failed", "device", dev.name)
		return fmt.Errorf("init device %q: %w", dev.name, err)
	}

	s.log.V(1).Info("Device registered", "device", dev.name, "hash", dev.hash, "mac", mac)
	return nil
}

// Destroy tears dev down. The driver's Destroy hook runs first, then queued
// frames are discarded and every resource dev holds is released. Destroy is
// safe on a device whose Init failed part way.
func (s *Stack) Destroy(dev *Device) {
	if d, ok := dev.Driver.(Destroyer); ok {
		d.Destroy(dev)
	}

	if dev.In != nil {
		dev.In.Empty()
		s.alloc.Free(dev.In)
		dev.In = nil
	}
	if dev.Out != nil {
		dev.Out.Empty()
		s.alloc.Free(dev.Out)
		dev.Out = nil
	}
	if dev.Eth != nil {
		s.alloc.Free(dev.Eth)
		dev.Eth = nil
	}

	if s.registry.Contains(dev) {
		s.forgetCursor(dev)
		s.registry.Remove(dev)
	}

	s.log.V(1).Info("Device destroyed", "device", dev.name)
	dev.Driver = nil
}

// forgetCursor moves any cursor resting on dev to its successor so the next
// lap starts where it would have had dev not been there.
func (s *Stack) forgetCursor(dev *Device) {
	next := s.registry.Next(dev)
	if next == nil {
		next = s.registry.Min()
	}
	if next == dev {
		next = nil
	}
	if s.cursorIn == dev {
		s.cursorIn = next
	}
	if s.cursorOut == dev {
		s.cursorOut = next
	}
}

// Lookup returns the registered device whose name equals name.
func (s *Stack) Lookup(name string) (*Device, bool) {
	var found *Device
	s.registry.Each(func(dev *Device) bool {
		if dev.name == name {
			found = dev
			return false
		}
		return true
	})
	return found, found != nil
}

// Devices returns the registered devices in scheduling order.
func (s *Stack) Devices() []*Device {
	devs := make([]*Device, 0, s.registry.Len())
	s.registry.Each(func(dev *Device) bool {
		devs = append(devs, dev)
		return true
	})
	return devs
}

// Cursor returns the device the next Drive call for dir starts from, or nil.
func (s *Stack) Cursor(dir Direction) *Device {
	if dir == In {
		return s.cursorIn
	}
	return s.cursorOut
}

type passthroughLink struct{}

func (passthroughLink) Send(f *Frame) int {
	if n := f.Dev.Driver.Send(f.Dev, f.Payload()); n > 0 {
		return n
	}
	return -1
}

func (passthroughLink) Receive(f *Frame) { f.Discard() }

type discardNetwork struct{}

func (discardNetwork) Receive(f *Frame) { f.Discard() }

type localOnly struct{}

func (localOnly) SourceIsLocal(*Frame) bool { return true }

func (localOnly) NotifyDestUnreachable(*Frame) {}
