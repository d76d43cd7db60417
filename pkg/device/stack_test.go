package device_test

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gvisor.dev/gvisor/pkg/tcpip"

	"github.com/apoxy-dev/netdev/pkg/device"
)

var testMAC = tcpip.LinkAddress("\xaa\xbb\xcc\xdd\xee\xff")

func TestInit(t *testing.T) {
	t.Run("Raw", func(t *testing.T) {
		s := device.NewStack()
		dev := device.New(&rawDriver{})
		require.NoError(t, s.Init(dev, "tun0", ""))

		assert.Equal(t, "tun0", dev.Name())
		assert.NotZero(t, dev.Hash())
		assert.NotNil(t, dev.In)
		assert.NotNil(t, dev.Out)
		assert.Nil(t, dev.Eth)
	})

	t.Run("Ethernet", func(t *testing.T) {
		s := device.NewStack()
		dev := device.New(&rawDriver{})
		require.NoError(t, s.Init(dev, "eth0", testMAC))

		require.NotNil(t, dev.Eth)
		assert.Equal(t, testMAC, dev.Eth.MAC)
	})

	t.Run("NameTruncated", func(t *testing.T) {
		s := device.NewStack()
		dev := device.New(&rawDriver{})
		require.NoError(t, s.Init(dev, "a-very-long-device-name", ""))

		assert.Equal(t, "a-very-long-devi", dev.Name())
		assert.Len(t, dev.Name(), device.MaxDeviceName)
	})

	t.Run("InvalidMAC", func(t *testing.T) {
		s := device.NewStack()
		dev := device.New(&rawDriver{})
		err := s.Init(dev, "eth0", tcpip.LinkAddress("\x01\x02"))
		require.ErrorIs(t, err, device.ErrInvalidMAC)
		assert.Nil(t, dev.Eth)
		assert.NotNil(t, dev.In)
		assert.NotNil(t, dev.Out)

		s.Destroy(dev)
	})

	t.Run("QueueAllocationFailure", func(t *testing.T) {
		alloc := &device.HeapAllocator{MaxQueues: 1}
		s := device.NewStack(device.WithAllocator(alloc))
		dev := device.New(&rawDriver{})

		err := s.Init(dev, "eth0", testMAC)
		require.ErrorIs(t, err, device.ErrAllocation)

		// Nothing is rolled back.
		assert.NotNil(t, dev.In)
		assert.Nil(t, dev.Out)
		assert.NotNil(t, dev.Eth)
		queues, ethStates := alloc.InUse()
		assert.Equal(t, 1, queues)
		assert.Equal(t, 1, ethStates)
		_, ok := s.Lookup("eth0")
		assert.True(t, ok)

		s.Destroy(dev)

		queues, ethStates = alloc.InUse()
		assert.Zero(t, queues)
		assert.Zero(t, ethStates)
		_, ok = s.Lookup("eth0")
		assert.False(t, ok)
	})

	t.Run("LinkStateAllocationFailure", func(t *testing.T) {
		alloc := &device.HeapAllocator{MaxEthStates: 1}
		s := device.NewStack(device.WithAllocator(alloc))
		require.NoError(t, s.Init(device.New(&rawDriver{}), "eth0", testMAC))

		dev := device.New(&rawDriver{})
		err := s.Init(dev, "eth1", testMAC)
		require.ErrorIs(t, err, device.ErrAllocation)
		assert.Nil(t, dev.Eth)
		assert.NotNil(t, dev.In)
		assert.NotNil(t, dev.Out)

		s.Destroy(dev)
		queues, ethStates := alloc.InUse()
		assert.Equal(t, 2, queues)
		assert.Equal(t, 1, ethStates)
	})

	t.Run("HashCollision", func(t *testing.T) {
		s := device.NewStack()
		first := device.New(&rawDriver{})
		require.NoError(t, s.Init(first, "eth0", ""))

		second := device.New(&rawDriver{})
		err := s.Init(second, "eth0", "")
		require.ErrorIs(t, err, device.ErrHashCollision)

		// Destroying the rejected device leaves the registered one alone.
		s.Destroy(second)
		got, ok := s.Lookup("eth0")
		require.True(t, ok)
		assert.Same(t, first, got)
	})

	t.Run("AlreadyRegistered", func(t *testing.T) {
		alloc := &device.HeapAllocator{}
		s := device.NewStack(device.WithAllocator(alloc))
		other := device.New(&rawDriver{})
		require.NoError(t, s.Init(other, "lo", ""))
		dev := device.New(&rawDriver{})
		require.NoError(t, s.Init(dev, "eth0", ""))
		frames := enqueueN(dev, device.Out, 2)
		hash := dev.Hash()

		err := s.Init(dev, "eth1", "")
		require.ErrorIs(t, err, device.ErrAlreadyRegistered)
		assert.Equal(t, "eth0", dev.Name())
		assert.Equal(t, hash, dev.Hash())
		assert.Equal(t, 2, dev.Out.Len())
		queues, _ := alloc.InUse()
		assert.Equal(t, 4, queues)

		s.Destroy(dev)
		for _, f := range frames {
			assert.True(t, f.Discarded())
		}
		queues, _ = alloc.InUse()
		assert.Equal(t, 2, queues)
		got, ok := s.Lookup("lo")
		require.True(t, ok)
		assert.Same(t, other, got)

		// Once destroyed the device can be initialized again.
		dev.Driver = &rawDriver{}
		require.NoError(t, s.Init(dev, "eth1", ""))
		assert.Len(t, s.Devices(), 2)
	})

	t.Run("NoDriver", func(t *testing.T) {
		alloc := &device.HeapAllocator{}
		s := device.NewStack(device.WithAllocator(alloc))
		dev := device.New(nil)

		err := s.Init(dev, "eth0", "")
		require.ErrorIs(t, err, device.ErrNoDriver)
		assert.Empty(t, s.Devices())
		queues, _ := alloc.InUse()
		assert.Zero(t, queues)
	})
}

func TestDestroy(t *testing.T) {
	t.Run("HookRunsFirst", func(t *testing.T) {
		s := device.NewStack()
		drv := &destroyDriver{}
		dev := device.New(drv)
		require.NoError(t, s.Init(dev, "eth0", testMAC))
		in := enqueueN(dev, device.In, 2)
		out := enqueueN(dev, device.Out, 3)

		s.Destroy(dev)

		assert.True(t, drv.called)
		assert.True(t, drv.sawQueues)
		assert.True(t, drv.sawEthState)
		for _, f := range append(in, out...) {
			assert.True(t, f.Discarded())
		}
		assert.Nil(t, dev.In)
		assert.Nil(t, dev.Out)
		assert.Nil(t, dev.Eth)
	})

	t.Run("PartialInit", func(t *testing.T) {
		s := device.NewStack()
		dev := device.New(&rawDriver{})
		require.NoError(t, s.Init(dev, "tun0", ""))
		dev.In = nil

		assert.NotPanics(t, func() { s.Destroy(dev) })
		_, ok := s.Lookup("tun0")
		assert.False(t, ok)
	})

	t.Run("NeverInitialized", func(t *testing.T) {
		s := device.NewStack()
		assert.NotPanics(t, func() { s.Destroy(device.New(&destroyDriver{})) })
	})
}

func TestLookup(t *testing.T) {
	s := device.NewStack()
	devs := map[string]*device.Device{}
	for _, name := range []string{"eth0", "eth1", "tun0", "lo"} {
		dev := device.New(&rawDriver{})
		require.NoError(t, s.Init(dev, name, ""))
		devs[name] = dev
	}

	for name, want := range devs {
		got, ok := s.Lookup(name)
		require.True(t, ok, name)
		assert.Same(t, want, got)
	}

	_, ok := s.Lookup("eth")
	assert.False(t, ok)
	_, ok = s.Lookup("eth00")
	assert.False(t, ok)

	s.Destroy(devs["eth1"])
	_, ok = s.Lookup("eth1")
	assert.False(t, ok)
	_, ok = s.Lookup("eth0")
	assert.True(t, ok)
}

func newPolledStack(t *testing.T, n int, consume int, opts ...device.Option) (*device.Stack, *[]string, []string) {
	t.Helper()
	s := device.NewStack(opts...)
	visits := &[]string{}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("dev%d", i)
		require.NoError(t, s.Init(device.New(&pollDriver{name: name, visits: visits, consume: consume}), name, ""))
	}
	var order []string
	for _, dev := range s.Devices() {
		order = append(order, dev.Name())
	}
	return s, visits, order
}

func TestDrive(t *testing.T) {
	t.Run("EmptyRegistry", func(t *testing.T) {
		s := device.NewStack()
		assert.Equal(t, 100, s.Drive(100, device.In))
		assert.Equal(t, 100, s.Drive(100, device.Out))
		assert.Nil(t, s.Cursor(device.In))
	})

	t.Run("FullLap", func(t *testing.T) {
		for _, dir := range []device.Direction{device.In, device.Out} {
			t.Run(dir.String(), func(t *testing.T) {
				s, visits, order := newPolledStack(t, 5, 0)

				assert.Equal(t, 1000, s.Drive(1000, dir))
				if diff := cmp.Diff(order, *visits); diff != "" {
					t.Fatalf("visit order mismatch (-want +got):\n%s", diff)
				}

				// The lap ends back at the start device.
				assert.Equal(t, order[0], s.Cursor(dir).Name())
			})
		}
	})

	t.Run("CursorPersistence", func(t *testing.T) {
		// Each poll consumes 10, so a budget of 30 services two devices.
		s, visits, order := newPolledStack(t, 5, 10)

		assert.Equal(t, 10, s.Drive(30, device.Out))
		assert.Equal(t, order[:2], *visits)
		assert.Equal(t, order[2], s.Cursor(device.Out).Name())

		*visits = nil
		assert.Equal(t, 10, s.Drive(30, device.Out))
		assert.Equal(t, order[2:4], *visits)

		*visits = nil
		assert.Equal(t, 10, s.Drive(30, device.Out))
		assert.Equal(t, []string{order[4], order[0]}, *visits)

		// The inbound cursor is independent.
		*visits = nil
		assert.Equal(t, 10, s.Drive(30, device.In))
		assert.Equal(t, order[:2], *visits)
	})

	t.Run("LoopMin", func(t *testing.T) {
		s, visits, _ := newPolledStack(t, 3, 0)
		assert.Equal(t, device.LoopMin, s.Drive(device.LoopMin, device.Out))
		assert.Empty(t, *visits)
	})

	t.Run("DestroyCursorDevice", func(t *testing.T) {
		s, visits, order := newPolledStack(t, 4, 10)
		s.Drive(30, device.Out)
		require.Equal(t, order[2], s.Cursor(device.Out).Name())

		dev, ok := s.Lookup(order[2])
		require.True(t, ok)
		s.Destroy(dev)
		assert.Equal(t, order[3], s.Cursor(device.Out).Name())

		*visits = nil
		s.Drive(30, device.Out)
		assert.Equal(t, []string{order[3], order[0]}, *visits)
	})
}

func TestDevloop(t *testing.T) {
	t.Run("EmptyQueueOnlyPollConsumes", func(t *testing.T) {
		s, _, _ := newPolledStack(t, 1, 3, device.WithLoopMin(0))
		assert.Equal(t, 47, s.Drive(50, device.Out))
		assert.Equal(t, 47, s.Drive(50, device.In))
	})

	t.Run("RawSend", func(t *testing.T) {
		s := device.NewStack(device.WithLoopMin(0))
		drv := &rawDriver{}
		dev := device.New(drv)
		require.NoError(t, s.Init(dev, "tun0", ""))
		frames := enqueueN(dev, device.Out, 5)

		assert.Equal(t, 0, s.Drive(3, device.Out))
		assert.Equal(t, 2, dev.Out.Len())
		require.Len(t, drv.sent, 3)
		assert.Equal(t, []byte{0, 0xaa, 0xbb}, drv.sent[0])
		for i, f := range frames {
			assert.Equal(t, i < 3, f.Discarded(), "frame %d", i)
		}
		assert.Equal(t, uint64(3), dev.Stats.Sent)
	})

	t.Run("RawSendFailureCounted", func(t *testing.T) {
		s := device.NewStack(device.WithLoopMin(0))
		dev := device.New(&failingDriver{})
		require.NoError(t, s.Init(dev, "tun0", ""))
		frames := enqueueN(dev, device.Out, 2)

		// Raw devices always discard and always consume budget.
		assert.Equal(t, 1, s.Drive(3, device.Out))
		for _, f := range frames {
			assert.True(t, f.Discarded())
		}
		assert.Zero(t, dev.Stats.Sent)
		assert.Equal(t, uint64(2), dev.Stats.Failed)
	})

	t.Run("SendFailure", func(t *testing.T) {
		for _, local := range []bool{false, true} {
			t.Run(fmt.Sprintf("local=%v", local), func(t *testing.T) {
				link := &stubLink{ret: -1}
				unreach := &stubUnreachable{local: local}
				s := device.NewStack(
					device.WithLoopMin(0),
					device.WithLinkLayer(link),
					device.WithUnreachable(unreach),
				)
				dev := device.New(&rawDriver{})
				require.NoError(t, s.Init(dev, "eth0", testMAC))
				frames := enqueueN(dev, device.Out, 1)

				assert.Equal(t, 5, s.Drive(5, device.Out))
				assert.Equal(t, 0, dev.Out.Len())
				assert.True(t, frames[0].Discarded())
				if local {
					assert.Empty(t, unreach.notified)
				} else {
					assert.Equal(t, frames, unreach.notified)
				}
				assert.Equal(t, uint64(1), dev.Stats.Failed)
			})
		}
	})

	t.Run("SendDeferred", func(t *testing.T) {
		link := &stubLink{ret: 0}
		s := device.NewStack(device.WithLoopMin(0), device.WithLinkLayer(link))
		dev := device.New(&rawDriver{})
		require.NoError(t, s.Init(dev, "eth0", testMAC))
		frames := enqueueN(dev, device.Out, 2)

		assert.Equal(t, 3, s.Drive(5, device.Out))
		assert.Equal(t, 0, dev.Out.Len())
		assert.Equal(t, frames, link.owned)
		for _, f := range frames {
			assert.False(t, f.Discarded())
		}
		assert.Equal(t, uint64(2), dev.Stats.Deferred)
	})

	t.Run("LinkSent", func(t *testing.T) {
		link := &stubLink{ret: 60}
		s := device.NewStack(device.WithLoopMin(0), device.WithLinkLayer(link))
		dev := device.New(&rawDriver{})
		require.NoError(t, s.Init(dev, "eth0", testMAC))
		frames := enqueueN(dev, device.Out, 4)

		assert.Equal(t, 0, s.Drive(2, device.Out))
		assert.Equal(t, 2, dev.Out.Len())
		assert.True(t, frames[0].Discarded())
		assert.True(t, frames[1].Discarded())
		assert.False(t, frames[2].Discarded())
	})

	t.Run("Receive", func(t *testing.T) {
		link := &stubLink{}
		network := &stubNetwork{}
		s := device.NewStack(
			device.WithLoopMin(0),
			device.WithLinkLayer(link),
			device.WithNetworkLayer(network),
		)
		eth := device.New(&rawDriver{})
		require.NoError(t, s.Init(eth, "eth0", testMAC))
		raw := device.New(&rawDriver{})
		require.NoError(t, s.Init(raw, "tun0", ""))
		enqueueN(eth, device.In, 2)
		enqueueN(raw, device.In, 3)

		assert.Equal(t, 5, s.Drive(10, device.In))

		require.Len(t, link.received, 2)
		for _, f := range link.received {
			assert.Equal(t, 0, f.DatalinkHdr)
			assert.Equal(t, -1, f.NetHdr)
			assert.Same(t, eth, f.Dev)
			assert.False(t, f.Discarded())
		}
		require.Len(t, network.received, 3)
		for _, f := range network.received {
			assert.Equal(t, 0, f.NetHdr)
			assert.Equal(t, -1, f.DatalinkHdr)
			assert.Same(t, raw, f.Dev)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	run := func(t *testing.T, budget int, opts ...device.Option) (int, *device.Device) {
		s := device.NewStack(opts...)
		d1 := device.New(&rawDriver{})
		require.NoError(t, s.Init(d1, "d1", ""))
		d2 := device.New(&rawDriver{})
		mac, err := tcpip.ParseMACAddress("AA:BB:CC:DD:EE:FF")
		require.NoError(t, err)
		require.NoError(t, s.Init(d2, "d2", mac))
		enqueueN(d1, device.Out, 3)
		return s.Drive(budget, device.Out), d1
	}

	t.Run("NoLoopMin", func(t *testing.T) {
		left, d1 := run(t, 10, device.WithLoopMin(0))
		assert.Equal(t, 7, left)
		assert.Equal(t, 0, d1.Out.Len())
	})

	t.Run("BelowLoopMin", func(t *testing.T) {
		left, d1 := run(t, 10)
		assert.Equal(t, 10, left)
		assert.Equal(t, 3, d1.Out.Len())
	})

	t.Run("AboveLoopMin", func(t *testing.T) {
		left, d1 := run(t, 26)
		assert.Equal(t, 23, left)
		assert.Equal(t, 0, d1.Out.Len())
	})
}
