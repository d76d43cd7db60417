package cmd

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/apoxy-dev/netdev/config"
	"github.com/apoxy-dev/netdev/pkg/device"
	"github.com/apoxy-dev/netdev/pkg/drivers"
	"github.com/apoxy-dev/netdev/pkg/log"
	"github.com/apoxy-dev/netdev/pkg/netstack"
)

// netdevStack is a device stack assembled from configuration.
type netdevStack struct {
	stack   *device.Stack
	eth     *netstack.Ethernet
	network *netstack.Network
	unreach *netstack.Unreachable
	alloc   *device.HeapAllocator
	devices []*device.Device
	drivers map[*device.Device]string
	local   []tcpip.Address
}

func newNetdevStack(cfg *config.Config) (*netdevStack, error) {
	local, err := cfg.Addresses()
	if err != nil {
		return nil, err
	}

	ns := &netdevStack{
		alloc:   &device.HeapAllocator{QueueLen: cfg.QueueLen},
		drivers: make(map[*device.Device]string),
		local:   local,
	}
	ns.network = netstack.NewNetwork(func(pkt netstack.Packet) {
		slog.Debug("Packet received",
			slog.String("device", pkt.Device.Name()),
			slog.String("src", pkt.Src.String()),
			slog.String("dst", pkt.Dst.String()),
			slog.Int("len", len(pkt.Data)))
	})
	ns.eth = netstack.NewEthernet(ns.network)
	ns.unreach = netstack.NewUnreachable(local, func(dev *device.Device, msg []byte) {
		slog.Debug("Destination unreachable", slog.String("device", dev.Name()), slog.Int("len", len(msg)))
	})

	opts := []device.Option{
		device.WithLinkLayer(ns.eth),
		device.WithNetworkLayer(ns.network),
		device.WithUnreachable(ns.unreach),
		device.WithAllocator(ns.alloc),
		device.WithLogger(log.Logr()),
	}
	if cfg.LoopMin != nil {
		opts = append(opts, device.WithLoopMin(*cfg.LoopMin))
	}
	ns.stack = device.NewStack(opts...)

	for _, n := range cfg.Neighbors {
		addr, mac, err := n.Address()
		if err != nil {
			return nil, err
		}
		ns.eth.AddNeighbor(addr, mac)
	}

	for _, d := range cfg.Devices {
		if err := ns.addDevice(d); err != nil {
			ns.Close()
			return nil, err
		}
	}

	return ns, nil
}

func (ns *netdevStack) addDevice(d config.Device) error {
	mac, err := d.LinkAddress()
	if err != nil {
		return err
	}

	tunName := d.Tun
	if tunName == "" {
		tunName = d.Name
	}
	mtu := d.MTU
	if mtu == 0 {
		mtu = drivers.DefaultOptions().MTU
	}
	drv, err := drivers.New(drivers.Kind(d.Driver),
		drivers.WithTun(tunName, mtu),
		drivers.WithPcapPath(d.Pcap, mac != ""),
	)
	if err != nil {
		return fmt.Errorf("device %q: %w", d.Name, err)
	}

	dev := device.New(drv)
	if err := ns.stack.Init(dev, d.Name, mac); err != nil {
		ns.stack.Destroy(dev)
		return err
	}
	ns.devices = append(ns.devices, dev)
	ns.drivers[dev] = d.Driver
	log.Infof("Registered device %s (driver %s)", dev.Name(), d.Driver)
	return nil
}

// Close destroys every registered device.
func (ns *netdevStack) Close() {
	for _, dev := range ns.devices {
		ns.stack.Destroy(dev)
	}
	ns.devices = nil
}

// inject queues count IPv4 packets on the outbound queue of every device.
func (ns *netdevStack) inject(count int, dst tcpip.Address) error {
	src := tcpip.AddrFrom4([4]byte{10, 0, 0, 1})
	for _, addr := range ns.local {
		if addr.Len() == 4 {
			src = addr
			break
		}
	}

	var errs *multierror.Error
	for _, dev := range ns.stack.Devices() {
		for i := 0; i < count; i++ {
			pkt := netstack.NewIPv4Packet(src, dst, header.UDPProtocolNumber, []byte(fmt.Sprintf("netdev probe %d", i)))
			if err := dev.Enqueue(device.Out, device.NewFrame(pkt)); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("device %s: %w", dev.Name(), err))
				break
			}
		}
	}
	return errs.ErrorOrNil()
}
