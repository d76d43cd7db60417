package netstack

import (
	"log/slog"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/apoxy-dev/netdev/pkg/device"
)

var _ device.NetworkLayer = (*Network)(nil)

// Packet is an inbound IP packet as seen by a Network handler. Data is only
// valid for the duration of the handler call.
type Packet struct {
	Device   *device.Device
	Protocol tcpip.NetworkProtocolNumber
	Src      tcpip.Address
	Dst      tcpip.Address
	Data     []byte
}

// Network validates inbound IP packets and hands them to a handler. It
// releases every frame it receives.
type Network struct {
	handler func(pkt Packet)

	Delivered uint64
	Dropped   uint64
}

// NewNetwork returns a network layer calling handler for each valid packet.
// A nil handler only counts packets.
func NewNetwork(handler func(pkt Packet)) *Network {
	return &Network{handler: handler}
}

func (n *Network) Receive(f *device.Frame) {
	defer f.Discard()

	data := f.Network()
	pkt := Packet{Device: f.Dev, Data: data}
	switch {
	case len(data) == 0:
	case header.IPVersion(data) == header.IPv4Version && header.IPv4(data).IsValid(len(data)):
		ip := header.IPv4(data)
		pkt.Protocol = header.IPv4ProtocolNumber
		pkt.Src, pkt.Dst = ip.SourceAddress(), ip.DestinationAddress()
	case header.IPVersion(data) == header.IPv6Version && header.IPv6(data).IsValid(len(data)):
		ip := header.IPv6(data)
		pkt.Protocol = header.IPv6ProtocolNumber
		pkt.Src, pkt.Dst = ip.SourceAddress(), ip.DestinationAddress()
	}

	if pkt.Protocol == 0 {
		n.Dropped++
		slog.Debug("Dropping invalid IP packet", slog.Int("len", len(data)))
		return
	}

	n.Delivered++
	if n.handler != nil {
		n.handler(pkt)
	}
}
