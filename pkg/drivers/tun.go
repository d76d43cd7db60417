package drivers

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.zx2c4.com/wireguard/tun"

	"github.com/apoxy-dev/netdev/pkg/device"
)

// tunOffset is the headroom reserved in front of every packet for headers the
// TUN implementation may prepend.
const tunOffset = 16

var (
	_ device.Driver    = (*Tun)(nil)
	_ device.Poller    = (*Tun)(nil)
	_ device.Destroyer = (*Tun)(nil)
)

// Tun is a raw IP driver backed by a TUN device. A reader goroutine drains the
// TUN device into a channel so that Poll never blocks.
type Tun struct {
	dev            tun.Device
	incomingPacket chan []byte
	done           chan struct{}
	closeOnce      sync.Once
}

// CreateTun creates a kernel TUN interface and attaches a driver to it.
func CreateTun(name string, mtu int) (*Tun, error) {
	dev, err := tun.CreateTUN(name, mtu)
	if err != nil {
		return nil, fmt.Errorf("could not create TUN device %q: %w", name, err)
	}
	return NewTun(dev, 256), nil
}

// NewTun returns a driver for dev buffering up to backlog received packets.
func NewTun(dev tun.Device, backlog int) *Tun {
	t := &Tun{
		dev:            dev,
		incomingPacket: make(chan []byte, backlog),
		done:           make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *Tun) readLoop() {
	defer close(t.incomingPacket)

	batch := t.dev.BatchSize()
	if batch < 1 {
		batch = 1
	}
	mtu, err := t.dev.MTU()
	if err != nil || mtu <= 0 {
		mtu = 1500
	}

	bufs := make([][]byte, batch)
	sizes := make([]int, batch)
	for {
		for i := range bufs {
			bufs[i] = make([]byte, tunOffset+mtu)
		}
		n, err := t.dev.Read(bufs, sizes, tunOffset)
		for i := 0; i < n; i++ {
			select {
			case t.incomingPacket <- bufs[i][tunOffset : tunOffset+sizes[i]]:
			case <-t.done:
				return
			}
		}
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}
			select {
			case <-t.done:
				return
			default:
			}
			slog.Warn("TUN read failed", slog.Any("error", err))
			return
		}
	}
}

// Send writes buf to the TUN device.
func (t *Tun) Send(_ *device.Device, buf []byte) int {
	pkt := make([]byte, tunOffset+len(buf))
	copy(pkt[tunOffset:], buf)
	if _, err := t.dev.Write([][]byte{pkt}, tunOffset); err != nil {
		slog.Debug("TUN write failed", slog.Any("error", err))
		return -1
	}
	return len(buf)
}

// Poll moves packets read from the TUN device into the inbound queue without
// blocking, one budget unit each.
func (t *Tun) Poll(dev *device.Device, budget int) int {
	for budget > 0 {
		select {
		case pkt, ok := <-t.incomingPacket:
			if !ok {
				return budget
			}
			f := device.NewFrame(pkt)
			if err := dev.Enqueue(device.In, f); err != nil {
				f.Discard()
			}
			budget--
		default:
			return budget
		}
	}
	return budget
}

// Destroy closes the TUN device.
func (t *Tun) Destroy(*device.Device) {
	if err := t.Close(); err != nil {
		slog.Warn("Failed to close TUN device", slog.Any("error", err))
	}
}

// Close stops the reader and closes the TUN device.
func (t *Tun) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.dev.Close()
	})
	return err
}
