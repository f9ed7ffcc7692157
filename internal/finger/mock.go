package finger

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector replays configured readings for tests.
type MockDetector struct {
	mu       sync.Mutex
	reading  Reading
	err      error
	calls    int
	previous []bool
}

// NewMockDetector creates a mock reporting no finger.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetReading sets the reading returned by Detect.
func (m *MockDetector) SetReading(r Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading = r
}

// SetError makes Detect fail.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the configured reading.
func (m *MockDetector) Detect(frame *gocv.Mat, previous bool) (Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.previous = append(m.previous, previous)
	if m.err != nil {
		return Reading{}, m.err
	}
	return m.reading, nil
}

// Calls returns how many times Detect ran.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
