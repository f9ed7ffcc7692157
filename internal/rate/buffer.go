// Package rate accumulates per-frame intensity samples and reduces them to a
// displayed heart rate.
package rate

import "sync"

// DefaultCapacity holds 33 seconds at 30 frames per second.
const DefaultCapacity = 990

// Buffer is a fixed capacity sample store. Once full it stops accepting
// samples until Reset. It is safe for one writer and concurrent readers.
type Buffer struct {
	mu      sync.RWMutex
	samples []float64
	cap     int
}

// NewBuffer creates a Buffer. A non-positive capacity selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		samples: make([]float64, 0, capacity),
		cap:     capacity,
	}
}

// Append stores v. It returns false once the buffer is full.
func (b *Buffer) Append(v float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) >= b.cap {
		return false
	}
	b.samples = append(b.samples, v)
	return true
}

// Len returns the number of stored samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Cap returns the capacity.
func (b *Buffer) Cap() int { return b.cap }

// Full reports whether Append would be refused.
func (b *Buffer) Full() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples) >= b.cap
}

// Reset drops all samples.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = b.samples[:0]
}

// Snapshot returns a copy of the raw samples.
func (b *Buffer) Snapshot() []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]float64, len(b.samples))
	copy(out, b.samples)
	return out
}

// Normalized returns a copy of the samples mapped through Normalize for live
// display. The raw samples are left untouched.
func (b *Buffer) Normalized() []float64 {
	out := b.Snapshot()
	for i, v := range out {
		out[i] = Normalize(v)
	}
	return out
}

// Normalize maps an 8-bit channel value to roughly [-1, 1].
func Normalize(v float64) float64 {
	return v/128 - 1
}
