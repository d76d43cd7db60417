package netstack

import (
	"log/slog"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/checksum"
	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/apoxy-dev/netdev/pkg/device"
)

const (
	// Bytes of the offending datagram's payload quoted after its IP header.
	icmpQuoteLen = 8
)

var _ device.Unreachable = (*Unreachable)(nil)

// Unreachable classifies frames by source address and reports undeliverable
// IPv4 packets with an ICMP host unreachable message.
type Unreachable struct {
	local  map[tcpip.Address]struct{}
	addrs  []tcpip.Address
	notify func(dev *device.Device, msg []byte)

	Sent    uint64
	Skipped uint64
}

// NewUnreachable returns a notifier treating local as the stack's own
// addresses. notify receives every generated ICMP packet.
func NewUnreachable(local []tcpip.Address, notify func(dev *device.Device, msg []byte)) *Unreachable {
	u := &Unreachable{
		local:  make(map[tcpip.Address]struct{}, len(local)),
		notify: notify,
	}
	for _, addr := range local {
		u.local[addr] = struct{}{}
		u.addrs = append(u.addrs, addr)
	}
	return u
}

// SourceIsLocal reports whether the packet in f originates from this stack.
// Packets without a readable source are treated as local.
func (u *Unreachable) SourceIsLocal(f *device.Frame) bool {
	src, ok := source(ipBytes(f))
	if !ok {
		return true
	}
	_, local := u.local[src]
	return local
}

// NotifyDestUnreachable builds an ICMP destination unreachable message for
// the packet in f. The frame itself is left untouched.
func (u *Unreachable) NotifyDestUnreachable(f *device.Frame) {
	pkt := ipBytes(f)
	msg, ok := u.hostUnreachable(pkt)
	if !ok {
		u.Skipped++
		slog.Debug("Not generating ICMP for non-IPv4 packet", slog.Int("len", len(pkt)))
		return
	}
	u.Sent++
	if u.notify != nil {
		u.notify(f.Dev, msg)
	}
}

func (u *Unreachable) hostUnreachable(pkt []byte) ([]byte, bool) {
	if len(pkt) == 0 || header.IPVersion(pkt) != header.IPv4Version {
		return nil, false
	}
	orig := header.IPv4(pkt)
	if !orig.IsValid(len(pkt)) {
		return nil, false
	}

	quote := int(orig.HeaderLength()) + icmpQuoteLen
	if quote > len(pkt) {
		quote = len(pkt)
	}

	icmpLen := header.ICMPv4MinimumSize + quote
	buf := make([]byte, header.IPv4MinimumSize+icmpLen)

	icmp := header.ICMPv4(buf[header.IPv4MinimumSize:])
	icmp.SetType(header.ICMPv4DstUnreachable)
	icmp.SetCode(header.ICMPv4HostUnreachable)
	copy(icmp[header.ICMPv4MinimumSize:], pkt[:quote])
	icmp.SetChecksum(^checksum.Checksum(icmp, 0))

	ip := header.IPv4(buf)
	ip.Encode(&header.IPv4Fields{
		TotalLength: uint16(len(buf)),
		TTL:         defaultTTL,
		Protocol:    uint8(header.ICMPv4ProtocolNumber),
		SrcAddr:     u.replyAddr(orig.DestinationAddress()),
		DstAddr:     orig.SourceAddress(),
	})
	ip.SetChecksum(^ip.CalculateChecksum())

	return buf, true
}

// replyAddr picks a local IPv4 address to send the ICMP message from, falling
// back to the unreachable destination itself.
func (u *Unreachable) replyAddr(fallback tcpip.Address) tcpip.Address {
	for _, addr := range u.addrs {
		if addr.Len() == header.IPv4AddressSize {
			return addr
		}
	}
	return fallback
}

// ipBytes returns the IP packet carried by f.
func ipBytes(f *device.Frame) []byte {
	if data := f.Network(); data != nil {
		return data
	}
	return f.Payload()
}
