package acquisition

import "sync"

// Sample is one timestamped scalar reading. Timestamps are monotonic
// seconds from process start; channel identity is the buffer key.
type Sample struct {
	Timestamp float64 `json:"t"`
	Value     float64 `json:"v"`
}

// CircularBuffer is a fixed-capacity ring of samples with a single
// writer (the session's polling loop) and any number of readers.
// Writes evict the oldest sample once full and count the eviction as
// an overrun. Reads return snapshot copies taken under the same lock
// as writes, so a reader never observes a partial write.
type CircularBuffer struct {
	mu       sync.Mutex
	data     []Sample
	writeIdx int
	count    int
	overruns uint64
}

// NewCircularBuffer creates a buffer holding up to capacity samples.
// Capacity must be positive; config validation enforces this upstream.
func NewCircularBuffer(capacity int) *CircularBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &CircularBuffer{data: make([]Sample, capacity)}
}

// Write appends a sample, evicting the oldest one if the buffer is full.
// Never fails.
func (b *CircularBuffer) Write(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.data) {
		b.overruns++
	} else {
		b.count++
	}
	b.data[b.writeIdx] = s
	b.writeIdx = (b.writeIdx + 1) % len(b.data)
}

// ReadLast returns a copy of up to n most recently written samples in
// insertion order.
func (b *CircularBuffer) ReadLast(n int) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}

	out := make([]Sample, n)
	start := b.writeIdx - n
	if start < 0 {
		start += len(b.data)
	}
	for i := 0; i < n; i++ {
		out[i] = b.data[(start+i)%len(b.data)]
	}
	return out
}

// ReadAll returns a copy of every buffered sample in insertion order
func (b *CircularBuffer) ReadAll() []Sample {
	return b.ReadLast(b.Len())
}

// Clear resets the buffer to empty. The overrun count is preserved;
// it reflects session history, not current contents.
func (b *CircularBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.writeIdx = 0
	b.count = 0
}

// ResetOverruns zeroes the overrun counter
func (b *CircularBuffer) ResetOverruns() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overruns = 0
}

func (b *CircularBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *CircularBuffer) Cap() int {
	return len(b.data)
}

func (b *CircularBuffer) Overruns() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overruns
}
