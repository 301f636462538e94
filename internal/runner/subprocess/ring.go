package subprocess

import (
	"strings"
	"sync"
)

// ringBuffer provides memory-bounded FIFO storage for stderr output.
// When the buffer exceeds maxBytes, the oldest lines are evicted, so a
// chatty CLI cannot grow the engine's heap without bound.
type ringBuffer struct {
	mu       sync.Mutex
	maxBytes int
	size     int
	lines    []string
}

// newRingBuffer creates a ring buffer with the specified size limit.
// Defaults to 2MB if maxBytes <= 0.
func newRingBuffer(maxBytes int) *ringBuffer {
	if maxBytes <= 0 {
		maxBytes = 2 * 1024 * 1024
	}
	return &ringBuffer{maxBytes: maxBytes}
}

// append adds a line, evicting oldest lines while over the size limit.
func (b *ringBuffer) append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	b.size += len(line)

	for b.size > b.maxBytes && len(b.lines) > 0 {
		b.size -= len(b.lines[0])
		b.lines = b.lines[1:]
	}
}

// tail returns up to maxChars of the most recent output.
func (b *ringBuffer) tail(maxChars int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	joined := strings.Join(b.lines, "\n")
	if len(joined) <= maxChars {
		return joined
	}
	return joined[len(joined)-maxChars:]
}

// len reports the buffered byte count.
func (b *ringBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
