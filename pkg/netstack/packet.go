package netstack

import (
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

const defaultTTL = 64

// NewIPv4Packet returns an IPv4 packet carrying payload with a valid header
// checksum. src and dst must be IPv4 addresses.
func NewIPv4Packet(src, dst tcpip.Address, proto tcpip.TransportProtocolNumber, payload []byte) []byte {
	buf := make([]byte, header.IPv4MinimumSize+len(payload))
	ip := header.IPv4(buf)
	ip.Encode(&header.IPv4Fields{
		TotalLength: uint16(len(buf)),
		TTL:         defaultTTL,
		Protocol:    uint8(proto),
		SrcAddr:     src,
		DstAddr:     dst,
	})
	ip.SetChecksum(^ip.CalculateChecksum())
	copy(buf[header.IPv4MinimumSize:], payload)
	return buf
}
