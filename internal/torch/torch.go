// Package torch drives the continuous illumination LED used during
// heart-rate measurement.
package torch

import "sync"

// Torch is the flash actuator.
type Torch interface {
	// On lights the torch at level in (0, 1]. It reports true when the
	// hardware refused because it is overheating. A level outside the range
	// or a device without a torch is a silent no-op.
	On(level float64) (overheating bool)
	// Off turns the torch off. Calling it while off is a no-op.
	Off()
	// IsOn reports whether the torch is lit.
	IsOn() bool
}

// None is a Torch for devices without an LED.
type None struct{}

// On does nothing.
func (None) On(float64) bool { return false }

// Off does nothing.
func (None) Off() {}

// IsOn is always false.
func (None) IsOn() bool { return false }

// Toggle turns t off when lit and on at full level otherwise. It returns the
// new state and whether the hardware reported overheating.
func Toggle(t Torch) (on bool, overheating bool) {
	if t.IsOn() {
		t.Off()
		return false, false
	}
	overheating = t.On(1.0)
	return t.IsOn(), overheating
}

// gated only forwards On while allowed reports true.
type gated struct {
	Torch
	allowed func() bool
}

// Gate wraps t so it only lights while allowed returns true. The LED sits
// next to the back camera and cannot be used from the front.
func Gate(t Torch, allowed func() bool) Torch {
	return &gated{Torch: t, allowed: allowed}
}

func (g *gated) On(level float64) bool {
	if !g.allowed() {
		return false
	}
	return g.Torch.On(level)
}

// Mock records actuations for tests.
type Mock struct {
	mu          sync.Mutex
	on          bool
	level       float64
	overheating bool
	onCalls     int
	offCalls    int
}

// NewMock creates an unlit mock torch.
func NewMock() *Mock {
	return &Mock{}
}

// SetOverheating makes On refuse and report overheating.
func (m *Mock) SetOverheating(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overheating = v
}

// On lights the mock unless it is overheating.
func (m *Mock) On(level float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCalls++
	if level <= 0 || level > 1 {
		return false
	}
	if m.overheating {
		return true
	}
	m.on = true
	m.level = level
	return false
}

// Off turns the mock off.
func (m *Mock) Off() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offCalls++
	m.on = false
	m.level = 0
}

// IsOn reports whether the mock is lit.
func (m *Mock) IsOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

// Level returns the last accepted level, zero when off.
func (m *Mock) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Calls returns the number of On and Off calls.
func (m *Mock) Calls() (on, off int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onCalls, m.offCalls
}
