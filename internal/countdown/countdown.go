// Package countdown implements the measurement window countdown.
//
// Time is counted in ticks of one hundredth of a second. The timer is not
// safe for concurrent use; a single driving loop owns it.
package countdown

import "fmt"

const (
	// DefaultStart is the reset value, 33.00 seconds.
	DefaultStart = 3300
	// DefaultStep is the number of ticks removed per decrement.
	DefaultStep = 5
)

// Timer tracks remaining ticks and the derived display string.
type Timer struct {
	start     int
	step      int
	remaining int
	display   string
}

// New creates a timer reset to start. Non-positive values select the defaults.
func New(start, step int) *Timer {
	if start <= 0 {
		start = DefaultStart
	}
	if step <= 0 {
		step = DefaultStep
	}
	t := &Timer{start: start, step: step}
	t.Reset()
	return t
}

// Reset restores the starting value and refreshes the display.
func (t *Timer) Reset() {
	t.remaining = t.start
	t.display = Format(t.remaining)
}

// Decrement removes one step. It is a no-op once the timer reaches zero and
// never goes below zero.
func (t *Timer) Decrement() {
	if t.remaining <= 0 {
		return
	}
	t.remaining -= t.step
	if t.remaining < 0 {
		t.remaining = 0
	}
	t.display = Format(t.remaining)
}

// Remaining returns the remaining ticks.
func (t *Timer) Remaining() int { return t.remaining }

// Display returns the SS:CC string for the current value.
func (t *Timer) Display() string { return t.display }

// Done reports whether the countdown has reached zero.
func (t *Timer) Done() bool { return t.remaining <= 0 }

// Start returns the configured reset value.
func (t *Timer) Start() int { return t.start }

// Step returns the configured decrement step.
func (t *Timer) Step() int { return t.step }

// Format renders ticks as two-digit seconds and two-digit hundredths.
func Format(ticks int) string {
	if ticks < 0 {
		ticks = 0
	}
	return fmt.Sprintf("%02d:%02d", ticks/100, ticks%100)
}
