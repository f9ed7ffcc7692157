package session

import "sync"

// Sink receives the text shown to the user.
type Sink interface {
	SetTimeRemaining(text string)
	SetStatus(text string)
	SetRate(text string)
	ShowHeartRateControls(show bool)
}

// MultiSink fans updates out to every sink in order.
type MultiSink []Sink

func (m MultiSink) SetTimeRemaining(text string) {
	for _, s := range m {
		s.SetTimeRemaining(text)
	}
}

func (m MultiSink) SetStatus(text string) {
	for _, s := range m {
		s.SetStatus(text)
	}
}

func (m MultiSink) SetRate(text string) {
	for _, s := range m {
		s.SetRate(text)
	}
}

func (m MultiSink) ShowHeartRateControls(show bool) {
	for _, s := range m {
		s.ShowHeartRateControls(show)
	}
}

// NopSink discards updates.
type NopSink struct{}

func (NopSink) SetTimeRemaining(string) {}
func (NopSink) SetStatus(string) {}
func (NopSink) SetRate(string) {}
func (NopSink) ShowHeartRateControls(bool) {}

// Labels is the last value written to each field of a RecordingSink.
type Labels struct {
	TimeRemaining string `json:"time_remaining"`
	Status        string `json:"status"`
	Rate          string `json:"rate"`
	Controls      bool   `json:"controls"`
}

// RecordingSink keeps the latest labels and a count of rate writes. It is
// used by tests.
type RecordingSink struct {
	mu         sync.Mutex
	labels     Labels
	rateWrites int
	times      []string
}

// NewRecordingSink creates an empty RecordingSink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (r *RecordingSink) SetTimeRemaining(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels.TimeRemaining = text
	r.times = append(r.times, text)
}

func (r *RecordingSink) SetStatus(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels.Status = text
}

func (r *RecordingSink) SetRate(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels.Rate = text
	r.rateWrites++
}

func (r *RecordingSink) ShowHeartRateControls(show bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels.Controls = show
}

// Labels returns the current labels.
func (r *RecordingSink) Labels() Labels {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.labels
}

// RateWrites returns how many times SetRate was called.
func (r *RecordingSink) RateWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rateWrites
}

// Times returns every time-remaining text written, in order.
func (r *RecordingSink) Times() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.times))
	copy(out, r.times)
	return out
}
