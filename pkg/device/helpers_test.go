package device_test

import (
	"github.com/apoxy-dev/netdev/pkg/device"
)

// rawDriver accepts every buffer and records what it was given.
type rawDriver struct {
	sent [][]byte
}

func (d *rawDriver) Send(_ *device.Device, buf []byte) int {
	d.sent = append(d.sent, append([]byte(nil), buf...))
	return len(buf)
}

// failingDriver rejects every buffer.
type failingDriver struct{}

func (failingDriver) Send(*device.Device, []byte) int { return -1 }

// pollDriver records every poll and consumes a fixed part of the budget.
type pollDriver struct {
	rawDriver
	name    string
	visits  *[]string
	consume int
}

func (d *pollDriver) Poll(_ *device.Device, budget int) int {
	if d.visits != nil {
		*d.visits = append(*d.visits, d.name)
	}
	return budget - d.consume
}

// destroyDriver records the device state seen by the destroy hook.
type destroyDriver struct {
	rawDriver
	called      bool
	sawQueues   bool
	sawEthState bool
}

func (d *destroyDriver) Destroy(dev *device.Device) {
	d.called = true
	d.sawQueues = dev.In != nil && dev.Out != nil
	d.sawEthState = dev.Eth != nil
}

// stubLink returns a fixed status from Send and takes ownership of frames it
// defers or receives.
type stubLink struct {
	ret      int
	sent     int
	owned    []*device.Frame
	received []*device.Frame
}

func (l *stubLink) Send(f *device.Frame) int {
	l.sent++
	if l.ret == 0 {
		l.owned = append(l.owned, f)
	}
	return l.ret
}

func (l *stubLink) Receive(f *device.Frame) {
	l.received = append(l.received, f)
}

type stubNetwork struct {
	received []*device.Frame
}

func (n *stubNetwork) Receive(f *device.Frame) {
	n.received = append(n.received, f)
}

type stubUnreachable struct {
	local    bool
	notified []*device.Frame
}

func (u *stubUnreachable) SourceIsLocal(*device.Frame) bool { return u.local }

func (u *stubUnreachable) NotifyDestUnreachable(f *device.Frame) {
	u.notified = append(u.notified, f)
}

func enqueueN(dev *device.Device, dir device.Direction, n int) []*device.Frame {
	frames := make([]*device.Frame, 0, n)
	for i := 0; i < n; i++ {
		f := device.NewFrame([]byte{byte(i), 0xaa, 0xbb})
		if err := dev.Enqueue(dir, f); err != nil {
			panic(err)
		}
		frames = append(frames, f)
	}
	return frames
}
