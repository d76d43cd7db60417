package device

// Queue is a FIFO of frames owned by a single device.
type Queue struct {
	// MaxFrames bounds the queue length, zero means unbounded.
	MaxFrames int

	frames []*Frame
	head   int
}

// NewQueue returns an empty unbounded queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Len returns the number of frames currently queued. A nil queue is empty.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.frames) - q.head
}

// Enqueue appends f to the tail. On success the queue owns f; on
// ErrQueueFull ownership stays with the caller.
func (q *Queue) Enqueue(f *Frame) error {
	if q.MaxFrames > 0 && q.Len() >= q.MaxFrames {
		return ErrQueueFull
	}
	q.frames = append(q.frames, f)
	return nil
}

// Dequeue removes and returns the head frame, or nil if the queue is empty.
// Ownership of the returned frame passes to the caller.
func (q *Queue) Dequeue() *Frame {
	if q == nil || q.head >= len(q.frames) {
		return nil
	}
	f := q.frames[q.head]
	q.frames[q.head] = nil
	q.head++
	if q.head == len(q.frames) {
		q.frames = q.frames[:0]
		q.head = 0
	} else if q.head >= 32 && q.head*2 >= len(q.frames) {
		n := copy(q.frames, q.frames[q.head:])
		clear(q.frames[n:])
		q.frames = q.frames[:n]
		q.head = 0
	}
	return f
}

// Empty discards every queued frame.
func (q *Queue) Empty() {
	for f := q.Dequeue(); f != nil; f = q.Dequeue() {
		f.Discard()
	}
}

// Peek returns the i-th queued frame counting from the head without removing
// it, or nil. The queue keeps ownership.
func (q *Queue) Peek(i int) *Frame {
	if q == nil || i < 0 || q.head+i >= len(q.frames) {
		return nil
	}
	return q.frames[q.head+i]
}
