package device

// Frame is a unit of packet data in flight through the stack. At any point a
// frame has exactly one owner: the queue holding it, the scheduler, the link
// or network layer it was handed to, or nobody once discarded.
type Frame struct {
	// Buffer holds the whole frame including any link-layer header.
	Buffer []byte
	// Start and Len select the bytes handed to the driver on transmit.
	Start int
	Len   int
	// DatalinkHdr and NetHdr are offsets into Buffer, -1 when unset.
	DatalinkHdr int
	NetHdr      int
	// Dev is the device the frame is queued on or was received by.
	Dev *Device

	release   func(buf []byte)
	discarded bool
}

// NewFrame returns a frame whose payload view spans all of buf.
func NewFrame(buf []byte) *Frame {
	return &Frame{
		Buffer:      buf,
		Len:         len(buf),
		DatalinkHdr: -1,
		NetHdr:      -1,
	}
}

// SetRelease registers fn to be called with the frame buffer when the frame is
// discarded. Drivers use it to recycle buffers.
func (f *Frame) SetRelease(fn func(buf []byte)) {
	f.release = fn
}

// Replace swaps the frame's buffer for buf, which becomes the whole payload
// view. The previous buffer goes to the release hook, which is then cleared:
// buf is owned by whoever built it.
func (f *Frame) Replace(buf []byte) {
	if f.release != nil {
		f.release(f.Buffer)
		f.release = nil
	}
	f.Buffer = buf
	f.Start = 0
	f.Len = len(buf)
	f.DatalinkHdr = -1
	f.NetHdr = -1
}

// Payload returns the transmit view of the frame.
func (f *Frame) Payload() []byte {
	return f.Buffer[f.Start : f.Start+f.Len]
}

// Datalink returns the bytes from the data-link header onwards, or nil.
func (f *Frame) Datalink() []byte {
	if f.DatalinkHdr < 0 || f.DatalinkHdr > len(f.Buffer) {
		return nil
	}
	return f.Buffer[f.DatalinkHdr:]
}

// Network returns the bytes from the network header onwards, or nil.
func (f *Frame) Network() []byte {
	if f.NetHdr < 0 || f.NetHdr > len(f.Buffer) {
		return nil
	}
	return f.Buffer[f.NetHdr:]
}

// Discard releases the frame. A frame must be discarded at most once.
func (f *Frame) Discard() {
	if f.discarded {
		panic("device: frame discarded twice")
	}
	f.discarded = true
	if f.release != nil {
		f.release(f.Buffer)
	}
	f.Buffer = nil
	f.Dev = nil
}

// Discarded reports whether Discard has been called.
func (f *Frame) Discarded() bool {
	return f.discarded
}
