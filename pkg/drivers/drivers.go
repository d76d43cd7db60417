// Package drivers implements device drivers for the scheduling core: a
// loopback, a null sink, a TUN adapter and a pcap capture wrapper.
package drivers

import (
	"fmt"
	"io"

	"github.com/apoxy-dev/netdev/pkg/device"
)

// Kind names a driver implementation.
type Kind string

const (
	// LoopKind reflects every sent packet back into the inbound queue.
	LoopKind Kind = "loop"
	// NullKind accepts and drops every packet.
	NullKind Kind = "null"
	// TunKind attaches to a kernel TUN interface.
	TunKind Kind = "tun"
)

// Option is a function that configures driver options.
type Option func(*Options)

// Options contains common options for all drivers.
type Options struct {
	// RingSize is the loopback ring capacity.
	RingSize uint32
	// TunName is the kernel interface name for TUN drivers.
	TunName string
	// MTU is the interface MTU for TUN drivers.
	MTU int
	// PcapPath, when set, wraps the driver in a capture writing to this file.
	PcapPath string
	// Ethernet selects the Ethernet pcap link type instead of raw IP.
	Ethernet bool
}

// DefaultOptions returns the default options.
func DefaultOptions() *Options {
	return &Options{
		RingSize: 1024,
		MTU:      1500,
	}
}

// WithRingSize sets the loopback ring capacity.
func WithRingSize(n uint32) Option {
	return func(o *Options) {
		o.RingSize = n
	}
}

// WithTun sets the TUN interface name and MTU.
func WithTun(name string, mtu int) Option {
	return func(o *Options) {
		o.TunName = name
		o.MTU = mtu
	}
}

// WithPcapPath sets the optional path to a packet capture file.
func WithPcapPath(path string, ethernet bool) Option {
	return func(o *Options) {
		o.PcapPath = path
		o.Ethernet = ethernet
	}
}

// New returns a driver of the given kind.
func New(kind Kind, opts ...Option) (device.Driver, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	var drv device.Driver
	switch kind {
	case LoopKind:
		drv = NewLoop(o.RingSize)
	case NullKind:
		drv = Null{}
	case TunKind:
		if o.TunName == "" {
			return nil, fmt.Errorf("tun driver requires an interface name")
		}
		tunDrv, err := CreateTun(o.TunName, o.MTU)
		if err != nil {
			return nil, err
		}
		drv = tunDrv
	default:
		return nil, fmt.Errorf("unknown driver %q", kind)
	}

	if o.PcapPath != "" {
		pcapDrv, err := NewPcapFile(drv, o.PcapPath, o.Ethernet)
		if err != nil {
			if c, ok := drv.(io.Closer); ok {
				_ = c.Close()
			}
			return nil, err
		}
		drv = pcapDrv
	}

	return drv, nil
}

var _ device.Driver = Null{}

// Null drops every packet it is given.
type Null struct{}

func (Null) Send(_ *device.Device, buf []byte) int {
	return len(buf)
}
