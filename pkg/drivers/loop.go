package drivers

import (
	"sync"

	"github.com/hedzr/go-ringbuf/v2"
	"github.com/hedzr/go-ringbuf/v2/mpmc"

	"github.com/apoxy-dev/netdev/pkg/device"
)

var (
	_ device.Driver = (*Loop)(nil)
	_ device.Poller = (*Loop)(nil)
)

var bufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 2048)
		return &b
	},
}

func getBuf(n int) []byte {
	buf := *bufPool.Get().(*[]byte)
	if cap(buf) < n {
		buf = make([]byte, n)
	}
	return buf[:n]
}

func putBuf(buf []byte) {
	bufPool.Put(&buf)
}

// Loop is a loopback driver. Sent packets are held in a ring and delivered to
// the device's inbound queue on the next poll.
type Loop struct {
	ring mpmc.RingBuffer[[]byte]
}

// NewLoop returns a loopback driver buffering up to size packets.
func NewLoop(size uint32) *Loop {
	return &Loop{ring: ringbuf.New[[]byte](size)}
}

// Send copies buf into the ring. It fails when the ring is full.
func (l *Loop) Send(_ *device.Device, buf []byte) int {
	pkt := getBuf(len(buf))
	copy(pkt, buf)
	if err := l.ring.Enqueue(pkt); err != nil {
		putBuf(pkt)
		return -1
	}
	return len(buf)
}

// Poll moves looped packets into the inbound queue, one budget unit each.
func (l *Loop) Poll(dev *device.Device, budget int) int {
	for budget > 0 {
		// Dequeue fails with mpmc.ErrQueueEmpty once the ring is drained.
		pkt, err := l.ring.Dequeue()
		if err != nil {
			break
		}

		f := device.NewFrame(pkt)
		f.SetRelease(putBuf)
		if err := dev.Enqueue(device.In, f); err != nil {
			f.Discard()
		}
		budget--
	}
	return budget
}
