package finger

import "time"

// DefaultWindow is the minimum time between two actuations.
const DefaultWindow = time.Second

// Transition is the outcome of feeding one detection to a Debouncer.
type Transition int

const (
	// None means no state change fired.
	None Transition = iota
	// Present means the finger was newly detected.
	Present
	// Absent means the finger was newly lost.
	Absent
)

func (t Transition) String() string {
	switch t {
	case Present:
		return "present"
	case Absent:
		return "absent"
	default:
		return "none"
	}
}

// Debouncer suppresses finger transitions that arrive within the window of
// the previous actuation. It is not safe for concurrent use.
type Debouncer struct {
	window        time.Duration
	present       bool
	lastActuation time.Time
	actuated      bool
}

// NewDebouncer creates a Debouncer. A non-positive window selects DefaultWindow.
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{window: window}
}

// Observe records one detection taken at now and returns the transition it
// fired, if any.
func (d *Debouncer) Observe(detected bool, now time.Time) Transition {
	if detected == d.present {
		return None
	}
	if !d.canToggle(now) {
		return None
	}

	d.present = detected
	d.lastActuation = now
	d.actuated = true
	if detected {
		return Present
	}
	return Absent
}

func (d *Debouncer) canToggle(now time.Time) bool {
	return !d.actuated || now.Sub(d.lastActuation) > d.window
}

// Present reports the debounced finger state.
func (d *Debouncer) Present() bool { return d.present }

// LastActuation returns the time of the last transition, if one has fired.
func (d *Debouncer) LastActuation() (time.Time, bool) {
	return d.lastActuation, d.actuated
}

// Window returns the debounce window.
func (d *Debouncer) Window() time.Duration { return d.window }

// Reset forgets the finger state and the last actuation.
func (d *Debouncer) Reset() {
	d.present = false
	d.lastActuation = time.Time{}
	d.actuated = false
}
