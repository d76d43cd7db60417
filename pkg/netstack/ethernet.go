// Package netstack provides the link and network layer collaborators driven by
// the device scheduler: an Ethernet framing layer with a static neighbor
// table, an IP receive sink and a destination unreachable notifier.
package netstack

import (
	"log/slog"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/apoxy-dev/netdev/pkg/device"
)

// DefaultMaxPending is the number of frames parked per unresolved neighbor.
const DefaultMaxPending = 8

var _ device.LinkLayer = (*Ethernet)(nil)

// Ethernet frames outbound IP packets and unwraps inbound Ethernet frames.
type Ethernet struct {
	network    device.NetworkLayer
	neighbors  map[tcpip.Address]tcpip.LinkAddress
	pending    map[tcpip.Address][]*device.Frame
	maxPending int
}

// NewEthernet returns an Ethernet layer delivering inbound packets to network.
func NewEthernet(network device.NetworkLayer) *Ethernet {
	return &Ethernet{
		network:    network,
		neighbors:  make(map[tcpip.Address]tcpip.LinkAddress),
		pending:    make(map[tcpip.Address][]*device.Frame),
		maxPending: DefaultMaxPending,
	}
}

// SetMaxPending sets how many frames are parked per unresolved neighbor.
func (e *Ethernet) SetMaxPending(n int) {
	e.maxPending = n
}

// Pending returns the number of frames waiting for addr to resolve.
func (e *Ethernet) Pending(addr tcpip.Address) int {
	return len(e.pending[addr])
}

// AddNeighbor records the link address of addr. Frames parked waiting for addr
// are put back on their device's outbound queue.
func (e *Ethernet) AddNeighbor(addr tcpip.Address, mac tcpip.LinkAddress) {
	e.neighbors[addr] = mac

	parked := e.pending[addr]
	delete(e.pending, addr)
	for _, f := range parked {
		dev := f.Dev
		if dev == nil {
			f.Discard()
			continue
		}
		if err := dev.Enqueue(device.Out, f); err != nil {
			slog.Warn("Dropping frame parked for neighbor",
				slog.String("device", dev.Name()), slog.String("addr", addr.String()), slog.Any("error", err))
			f.Discard()
		}
	}
}

// RemoveNeighbor forgets addr.
func (e *Ethernet) RemoveNeighbor(addr tcpip.Address) {
	delete(e.neighbors, addr)
}

// Send frames the IP packet in f and transmits it on f.Dev.
func (e *Ethernet) Send(f *device.Frame) int {
	dev := f.Dev
	if dev == nil || dev.Eth == nil {
		return -1
	}

	pkt := f.Payload()
	proto, dst, ok := destination(pkt)
	if !ok {
		slog.Debug("Cannot frame packet without a valid IP header", slog.String("device", dev.Name()))
		return -1
	}

	mac, ok := e.resolve(dst)
	if !ok {
		if len(e.pending[dst]) >= e.maxPending {
			return -1
		}
		e.pending[dst] = append(e.pending[dst], f)
		return 0
	}

	buf := make([]byte, header.EthernetMinimumSize+len(pkt))
	header.Ethernet(buf).Encode(&header.EthernetFields{
		SrcAddr: dev.Eth.MAC,
		DstAddr: mac,
		Type:    proto,
	})
	copy(buf[header.EthernetMinimumSize:], pkt)

	f.Replace(buf)
	f.DatalinkHdr = 0
	f.NetHdr = header.EthernetMinimumSize

	if n := dev.Driver.Send(dev, buf); n > 0 {
		return n
	}
	return -1
}

func (e *Ethernet) resolve(addr tcpip.Address) (tcpip.LinkAddress, bool) {
	if addr == header.IPv4Broadcast {
		return header.EthernetBroadcastAddress, true
	}
	mac, ok := e.neighbors[addr]
	return mac, ok
}

// Receive unwraps an inbound Ethernet frame and passes IP packets on to the
// network layer. Anything else is discarded.
func (e *Ethernet) Receive(f *device.Frame) {
	dev := f.Dev
	frame := header.Ethernet(f.Datalink())
	if dev == nil || dev.Eth == nil || len(frame) < header.EthernetMinimumSize {
		f.Discard()
		return
	}

	dst := frame.DestinationAddress()
	if dst != dev.Eth.MAC && dst != header.EthernetBroadcastAddress && !isMulticast(dst) {
		f.Discard()
		return
	}

	switch frame.Type() {
	case header.IPv4ProtocolNumber, header.IPv6ProtocolNumber:
		f.NetHdr = f.DatalinkHdr + header.EthernetMinimumSize
		e.network.Receive(f)
	default:
		slog.Debug("Dropping frame with unsupported ethertype",
			slog.String("device", dev.Name()), slog.Int("type", int(frame.Type())))
		f.Discard()
	}
}

func isMulticast(addr tcpip.LinkAddress) bool {
	return len(addr) > 0 && addr[0]&0x01 != 0
}

// destination returns the network protocol and destination of an IP packet.
func destination(pkt []byte) (tcpip.NetworkProtocolNumber, tcpip.Address, bool) {
	if len(pkt) == 0 {
		return 0, tcpip.Address{}, false
	}
	switch header.IPVersion(pkt) {
	case header.IPv4Version:
		ip := header.IPv4(pkt)
		if !ip.IsValid(len(pkt)) {
			return 0, tcpip.Address{}, false
		}
		return header.IPv4ProtocolNumber, ip.DestinationAddress(), true
	case header.IPv6Version:
		ip := header.IPv6(pkt)
		if !ip.IsValid(len(pkt)) {
			return 0, tcpip.Address{}, false
		}
		return header.IPv6ProtocolNumber, ip.DestinationAddress(), true
	}
	return 0, tcpip.Address{}, false
}

// source returns the source address of an IP packet.
func source(pkt []byte) (tcpip.Address, bool) {
	if len(pkt) == 0 {
		return tcpip.Address{}, false
	}
	switch header.IPVersion(pkt) {
	case header.IPv4Version:
		ip := header.IPv4(pkt)
		if !ip.IsValid(len(pkt)) {
			return tcpip.Address{}, false
		}
		return ip.SourceAddress(), true
	case header.IPv6Version:
		ip := header.IPv6(pkt)
		if !ip.IsValid(len(pkt)) {
			return tcpip.Address{}, false
		}
		return ip.SourceAddress(), true
	}
	return tcpip.Address{}, false
}
