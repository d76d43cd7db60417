package drivers

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/apoxy-dev/netdev/pkg/device"
)

const pcapSnapLen = 65535

var (
	_ device.Driver    = (*Pcap)(nil)
	_ device.Poller    = (*Pcap)(nil)
	_ device.Destroyer = (*Pcap)(nil)
)

// Pcap wraps a driver and records every packet it sends, and every packet its
// poll delivers to the inbound queue, to a pcap stream.
type Pcap struct {
	drv device.Driver
	w   *pcapgo.Writer
	out io.Writer
}

// NewPcapFile creates path and captures drv's traffic into it.
func NewPcapFile(drv device.Driver, path string, ethernet bool) (*Pcap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("could not create pcap file: %w", err)
	}
	p, err := NewPcap(drv, f, ethernet)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return p, nil
}

// NewPcap captures drv's traffic into w. If w is an io.Closer it is closed
// when the device is destroyed.
func NewPcap(drv device.Driver, w io.Writer, ethernet bool) (*Pcap, error) {
	linkType := layers.LinkTypeRaw
	if ethernet {
		linkType = layers.LinkTypeEthernet
	}

	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(pcapSnapLen, linkType); err != nil {
		return nil, fmt.Errorf("could not write pcap header: %w", err)
	}

	return &Pcap{
		drv: drv,
		w:   pw,
		out: w,
	}, nil
}

func (p *Pcap) record(data []byte) {
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := p.w.WritePacket(ci, data); err != nil {
		slog.Warn("Failed to write packet capture", slog.Any("error", err))
	}
}

func (p *Pcap) Send(dev *device.Device, buf []byte) int {
	p.record(buf)
	return p.drv.Send(dev, buf)
}

func (p *Pcap) Poll(dev *device.Device, budget int) int {
	poller, ok := p.drv.(device.Poller)
	if !ok {
		return budget
	}

	before := dev.In.Len()
	budget = poller.Poll(dev, budget)
	for i := before; i < dev.In.Len(); i++ {
		if f := dev.In.Peek(i); f != nil {
			p.record(f.Buffer)
		}
	}
	return budget
}

func (p *Pcap) Destroy(dev *device.Device) {
	if d, ok := p.drv.(device.Destroyer); ok {
		d.Destroy(dev)
	}
	if c, ok := p.out.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close packet capture", slog.Any("error", err))
		}
	}
}

// Close releases the wrapped driver and the capture output.
func (p *Pcap) Close() error {
	if c, ok := p.drv.(io.Closer); ok {
		_ = c.Close()
	}
	if c, ok := p.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
