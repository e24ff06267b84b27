package audio

// Framer reassembles an arbitrary-length byte stream into fixed-size PCM
// frames. Partial input is held until a full frame accumulates.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	size    int
	pending []byte
}

// NewFramer returns a Framer emitting frames of frameSize bytes. A
// non-positive size falls back to FrameBytes.
func NewFramer(frameSize int) *Framer {
	if frameSize <= 0 {
		frameSize = FrameBytes
	}
	return &Framer{size: frameSize, pending: make([]byte, 0, frameSize)}
}

// FrameSize returns the configured frame length in bytes.
func (f *Framer) FrameSize() int {
	return f.size
}

// Pending returns the number of buffered bytes that do not yet form a frame.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Write appends p and returns every complete frame now available, in order.
// Returned frames are freshly allocated and safe to retain.
func (f *Framer) Write(p []byte) [][]byte {
	if len(p) == 0 {
		return nil
	}
	var frames [][]byte

	// Top up a partial frame first.
	if len(f.pending) > 0 {
		need := f.size - len(f.pending)
		if len(p) < need {
			f.pending = append(f.pending, p...)
			return nil
		}
		f.pending = append(f.pending, p[:need]...)
		frames = append(frames, f.pending)
		f.pending = make([]byte, 0, f.size)
		p = p[need:]
	}

	for len(p) >= f.size {
		frame := make([]byte, f.size)
		copy(frame, p[:f.size])
		frames = append(frames, frame)
		p = p[f.size:]
	}

	if len(p) > 0 {
		f.pending = append(f.pending, p...)
	}
	return frames
}

// Reset discards any partial frame.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}
