package audio

// Backlog is a fixed-capacity ring of the most recent frames. When full,
// pushing a frame overwrites the oldest one. It is owned by a single session
// goroutine and performs no locking.
type Backlog struct {
	frames [][]byte
	head   int
	n      int
}

// NewBacklog creates a Backlog holding up to capacity frames.
func NewBacklog(capacity int) *Backlog {
	if capacity < 1 {
		capacity = 1
	}
	return &Backlog{frames: make([][]byte, capacity)}
}

// Push records frame as the newest entry. The slice is retained, not copied.
func (b *Backlog) Push(frame []byte) {
	idx := (b.head + b.n) % len(b.frames)
	b.frames[idx] = frame
	if b.n < len(b.frames) {
		b.n++
		return
	}
	b.head = (b.head + 1) % len(b.frames)
}

// Len returns the number of stored frames.
func (b *Backlog) Len() int { return b.n }

// Cap returns the ring capacity.
func (b *Backlog) Cap() int { return len(b.frames) }

// Frames returns the stored frames oldest-first.
func (b *Backlog) Frames() [][]byte {
	out := make([][]byte, 0, b.n)
	for i := 0; i < b.n; i++ {
		out = append(out, b.frames[(b.head+i)%len(b.frames)])
	}
	return out
}

// Drain returns the stored frames oldest-first and empties the ring.
func (b *Backlog) Drain() [][]byte {
	out := b.Frames()
	b.Clear()
	return out
}

// Clear empties the ring.
func (b *Backlog) Clear() {
	for i := range b.frames {
		b.frames[i] = nil
	}
	b.head, b.n = 0, 0
}
