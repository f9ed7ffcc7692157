package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"

	"github.com/ayusman/pulselab/internal/finger"
	"github.com/ayusman/pulselab/internal/rate"
	"github.com/ayusman/pulselab/internal/torch"
)

// harness drives a Session from the test goroutine without Run.
type harness struct {
	t         *testing.T
	s         *Session
	clk       *clock.Mock
	sink      *RecordingSink
	torch     *torch.Mock
	summaries int
	modes     []Mode

	mu      sync.Mutex
	results []Result
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clk:   clock.NewMock(),
		sink:  NewRecordingSink(),
		torch: torch.NewMock(),
	}
	cfg := Config{
		Torch: h.torch,
		Sink:  h.sink,
		Summarizer: rate.SummarizerFunc(func(samples []float64) (string, error) {
			h.summaries++
			return "72 BPM", nil
		}),
		Clock:  h.clk,
		Logger: zaptest.NewLogger(t).Sugar(),
		OnResult: func(r Result) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.results = append(h.results, r)
		},
		OnModeChange: func(m Mode) { h.modes = append(h.modes, m) },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.s = New(cfg)
	h.s.handle(func(s *Session) { s.applyMode(ModeHeartRate) })
	return h
}

func (h *harness) reading(present bool) {
	h.t.Helper()
	intensity := 40.0
	if present {
		intensity = 200
	}
	h.s.handle(func(s *Session) { s.observe(finger.Reading{Present: present, Intensity: intensity}, h.clk.Now()) })
}

func (h *harness) advance(d time.Duration) {
	h.clk.Add(d)
}

func (h *harness) tickCountdown() {
	h.t.Helper()
	if h.s.countdownTick == nil {
		h.t.Fatal("countdown ticker is not running")
	}
	h.s.handle(h.s.countdownTick.fire)
}

func (h *harness) tickReset() {
	h.t.Helper()
	if h.s.resetTick == nil {
		h.t.Fatal("reset ticker is not running")
	}
	h.s.handle(h.s.resetTick.fire)
}

// settle handles the rate posted by a running summary.
func (h *harness) settle() {
	h.t.Helper()
	select {
	case fn := <-h.s.events:
		h.s.handle(fn)
	case <-time.After(2 * time.Second):
		h.t.Fatal("no rate summary arrived")
	}
}

func (h *harness) state() State {
	return h.s.Snapshot().State
}

func (h *harness) resultCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results)
}

// runToFinish ticks the countdown until the session leaves Measuring.
func (h *harness) runToFinish() int {
	h.t.Helper()
	n := 0
	for h.state() == Measuring {
		h.tickCountdown()
		n++
		if n > 10000 {
			h.t.Fatal("countdown never finished")
		}
	}
	return n
}

func TestSession_HeartRateModeLabels(t *testing.T) {
	h := newHarness(t, nil)

	want := Labels{TimeRemaining: "33:00", Status: PlaceholderText, Controls: true}
	if diff := cmp.Diff(want, h.sink.Labels()); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Mode{ModeHeartRate}, h.modes); diff != "" {
		t.Errorf("mode callbacks mismatch (-want +got):\n%s", diff)
	}
	if h.state() != Idle {
		t.Errorf("state = %v, want idle", h.state())
	}
}

func TestSession_FingerStartsMeasurement(t *testing.T) {
	h := newHarness(t, nil)

	h.reading(true)

	snap := h.s.Snapshot()
	if snap.State != Measuring {
		t.Fatalf("state = %v, want measuring", snap.State)
	}
	if snap.Remaining != 3300 {
		t.Errorf("remaining = %d, want 3300", snap.Remaining)
	}
	if !h.torch.IsOn() || h.torch.Level() != 1.0 {
		t.Errorf("torch on=%v level=%v, want on at 1.0", h.torch.IsOn(), h.torch.Level())
	}
	if got := h.sink.Labels().Status; got != RecordingText {
		t.Errorf("status = %q, want %q", got, RecordingText)
	}
	if snap.Samples != 1 {
		t.Errorf("samples = %d, want 1", snap.Samples)
	}
}

// Finger placed, one tick, finger lifted. Placement and removal share one
// last-actuation time, so a lift 0.10 s in falls inside the debounce window
// opened by the placement and is suppressed. The abort fires on the first
// absent reading once the window has passed, not at the lift itself.
func TestSession_EarlyRemovalAborts(t *testing.T) {
	h := newHarness(t, nil)

	h.reading(true)
	h.advance(50 * time.Millisecond)
	h.tickCountdown()
	if got := h.s.Snapshot().Remaining; got != 3295 {
		t.Fatalf("remaining after one tick = %d, want 3295", got)
	}

	h.advance(50 * time.Millisecond)
	h.reading(false)
	if h.state() != Measuring {
		t.Fatalf("state = %v, removal inside debounce window should be ignored", h.state())
	}

	h.advance(901 * time.Millisecond)
	h.reading(false)

	snap := h.s.Snapshot()
	if snap.State != Idle {
		t.Fatalf("state = %v, want idle", snap.State)
	}
	if snap.Remaining != 3300 || snap.Samples != 0 {
		t.Errorf("remaining=%d samples=%d, want 3300 and 0", snap.Remaining, snap.Samples)
	}
	labels := h.sink.Labels()
	if labels.TimeRemaining != "33:00" || labels.Status != PlaceholderText {
		t.Errorf("labels = %+v", labels)
	}
	if h.torch.IsOn() {
		t.Error("torch still on after abort")
	}
	if h.s.countdownTick != nil {
		t.Error("countdown ticker still running after abort")
	}
	if h.resultCount() != 1 || h.results[0].Outcome != OutcomeAborted || h.results[0].Rate != "" {
		t.Errorf("results = %+v, want one aborted", h.results)
	}
}

func TestSession_FullWindowFinishes(t *testing.T) {
	h := newHarness(t, nil)

	h.reading(true)
	ticks := h.runToFinish()
	if h.resultCount() != 0 {
		t.Fatal("finished result reported before its rate")
	}
	h.settle()

	if ticks != 3300/5+1 {
		t.Errorf("finished after %d ticks, want %d", ticks, 3300/5+1)
	}
	snap := h.s.Snapshot()
	if snap.State != Finished {
		t.Fatalf("state = %v, want finished", snap.State)
	}
	labels := h.sink.Labels()
	if labels.Rate != "72 BPM" || labels.Status != "" {
		t.Errorf("labels = %+v, want rate shown and status cleared", labels)
	}
	if snap.Remaining != 3300 {
		t.Errorf("countdown not reset: %d", snap.Remaining)
	}
	if !h.torch.IsOn() {
		t.Error("torch should stay on while the finger is present")
	}
	if h.summaries != 1 {
		t.Errorf("summarizer called %d times, want 1", h.summaries)
	}
	if h.resultCount() != 1 || h.results[0].Outcome != OutcomeFinished || h.results[0].Rate != "72 BPM" {
		t.Errorf("results = %+v, want one finished", h.results)
	}

	times := h.sink.Times()
	if last := times[len(times)-1]; last != "00:00" {
		t.Errorf("last countdown label = %q, want 00:00", last)
	}
}

func TestSession_FinishedHoldsUntilFingerLifted(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.CountdownStart = 20 })

	h.reading(true)
	h.runToFinish()
	h.settle()

	before := h.sink.RateWrites()
	for i := 0; i < 5; i++ {
		h.advance(50 * time.Millisecond)
		h.reading(true)
		h.tickReset()
	}
	if h.state() != Finished {
		t.Fatalf("state = %v, want finished while finger present", h.state())
	}
	if got := h.sink.RateWrites() - before; got != 5 {
		t.Errorf("rate rewritten %d times, want 5", got)
	}
	if h.sink.Labels().Rate != "72 BPM" {
		t.Errorf("rate = %q", h.sink.Labels().Rate)
	}

	h.advance(time.Second)
	h.reading(false)
	if h.state() != Resetting {
		t.Fatalf("state = %v, want resetting after lift", h.state())
	}
	if h.torch.IsOn() {
		t.Error("torch still on after lift")
	}

	h.tickReset()
	if h.state() != Idle {
		t.Fatalf("state = %v, want idle", h.state())
	}
	labels := h.sink.Labels()
	want := Labels{TimeRemaining: "00:20", Status: PlaceholderText, Rate: "", Controls: true}
	if diff := cmp.Diff(want, labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if h.s.resetTick != nil {
		t.Error("reset ticker still running")
	}
}

func TestSession_FingerReturnsWhileResetting(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.CountdownStart = 10 })

	h.reading(true)
	h.runToFinish()
	h.advance(2 * time.Second)
	h.reading(false)
	h.advance(2 * time.Second)
	h.reading(true)

	if h.state() != Measuring {
		t.Fatalf("state = %v, want measuring", h.state())
	}
	if h.s.resetTick != nil {
		t.Error("reset ticker should be cancelled by a new measurement")
	}
	if h.sink.Labels().Status != RecordingText {
		t.Errorf("status = %q", h.sink.Labels().Status)
	}
}

func TestSession_DebounceIgnoresJitter(t *testing.T) {
	h := newHarness(t, nil)
	on0, off0 := h.torch.Calls()

	h.reading(true)
	for i := 0; i < 10; i++ {
		h.advance(90 * time.Millisecond)
		h.reading(i%2 == 0)
	}
	if h.state() != Measuring {
		t.Errorf("state = %v, jitter inside the window should not abort", h.state())
	}
	on, off := h.torch.Calls()
	if on-on0 != 1 || off-off0 != 0 {
		t.Errorf("torch calls on=%d off=%d, want 1 and 0", on-on0, off-off0)
	}
}

func TestSession_FaceModeForcesTorchOff(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"from idle", func(h *harness) {}},
		{"from measuring", func(h *harness) { h.reading(true); h.tickCountdown() }},
		{"from finished", func(h *harness) { h.reading(true); h.runToFinish() }},
		{"from resetting", func(h *harness) {
			h.reading(true)
			h.runToFinish()
			h.advance(2 * time.Second)
			h.reading(false)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.CountdownStart = 20 })
			tt.setup(h)

			h.s.handle(func(s *Session) { s.applyMode(ModeFace) })

			snap := h.s.Snapshot()
			if snap.State != Idle || snap.Mode != ModeFace {
				t.Errorf("snapshot = %+v, want idle face mode", snap)
			}
			if h.torch.IsOn() {
				t.Error("torch on in face mode")
			}
			if h.s.countdownTick != nil || h.s.resetTick != nil {
				t.Error("timers still running in face mode")
			}
			if h.sink.Labels().Controls {
				t.Error("heart rate controls still shown")
			}
		})
	}
}

func TestSession_FaceModeIgnoresReadings(t *testing.T) {
	h := newHarness(t, nil)
	h.s.handle(func(s *Session) { s.applyMode(ModeFace) })

	h.reading(true)
	if h.state() != Idle || h.torch.IsOn() {
		t.Errorf("face mode reacted to a finger: state=%v torch=%v", h.state(), h.torch.IsOn())
	}
}

func TestSession_StopUnfinishedIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.reading(true)
	h.tickCountdown()

	h.s.handle(func(s *Session) { s.stop(false) })
	once := h.s.Snapshot()
	onceLabels := h.sink.Labels()

	h.s.handle(func(s *Session) { s.stop(false) })
	if diff := cmp.Diff(once, h.s.Snapshot()); diff != "" {
		t.Errorf("snapshot changed on second stop (-once +twice):\n%s", diff)
	}
	if diff := cmp.Diff(onceLabels, h.sink.Labels()); diff != "" {
		t.Errorf("labels changed on second stop (-once +twice):\n%s", diff)
	}
}

func TestSession_FullBufferSummarizesEarly(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Capacity = 3
		c.CountdownStart = 50
	})

	h.reading(true)
	for i := 0; i < 5; i++ {
		h.reading(true)
	}
	h.settle()
	if h.summaries != 1 {
		t.Fatalf("summarizer called %d times when buffer filled, want 1", h.summaries)
	}
	if h.s.Snapshot().Samples != 3 {
		t.Errorf("samples = %d, want capacity 3", h.s.Snapshot().Samples)
	}
	if h.s.Snapshot().Rate != "72 BPM" {
		t.Errorf("rate = %q before finish", h.s.Snapshot().Rate)
	}

	h.runToFinish()
	if h.summaries != 1 {
		t.Errorf("summarizer called again at finish: %d", h.summaries)
	}
	if h.sink.Labels().Rate != "72 BPM" {
		t.Errorf("rate label = %q", h.sink.Labels().Rate)
	}
}

func TestSession_SummaryFailureShowsUnavailable(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.CountdownStart = 10
		c.Summarizer = rate.SummarizerFunc(func([]float64) (string, error) {
			return "", rate.ErrNotEnoughSamples
		})
	})

	h.reading(true)
	h.runToFinish()
	h.settle()

	if h.sink.Labels().Rate != UnavailableText {
		t.Errorf("rate = %q, want %q", h.sink.Labels().Rate, UnavailableText)
	}
}

func TestSession_OverheatingKeepsMeasuring(t *testing.T) {
	h := newHarness(t, nil)
	h.torch.SetOverheating(true)

	h.reading(true)
	if h.state() != Measuring {
		t.Errorf("state = %v, want measuring despite overheating", h.state())
	}
	if h.torch.IsOn() {
		t.Error("overheated torch should not light")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"face", ModeFace, false},
		{"heartrate", ModeHeartRate, false},
		{"HeartRate", ModeHeartRate, false},
		{"heart-rate", ModeHeartRate, false},
		{"video", ModeFace, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSession_Run(t *testing.T) {
	clk := clock.NewMock()
	sink := NewRecordingSink()
	lamp := torch.NewMock()
	s := New(Config{
		Torch:          lamp,
		Sink:           sink,
		Clock:          clk,
		Logger:         zaptest.NewLogger(t).Sugar(),
		CountdownStart: 20,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	if err := s.SetMode(ctx, ModeHeartRate); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if s.Mode() != ModeHeartRate {
		t.Fatalf("Mode() = %v", s.Mode())
	}

	s.Submit(finger.Reading{Present: true, Intensity: 200})
	waitFor(t, "measuring", func() bool { return s.Snapshot().State == Measuring })

	clk.Add(50 * time.Millisecond)
	waitFor(t, "first tick", func() bool { return s.Snapshot().Remaining == 15 })

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if lamp.IsOn() {
		t.Error("torch left on after Run returned")
	}
	if err := s.SetMode(context.Background(), ModeFace); err != ErrClosed {
		t.Errorf("SetMode after Run = %v, want ErrClosed", err)
	}
}

func TestSession_SubmitNeverBlocks(t *testing.T) {
	s := New(Config{Clock: clock.NewMock(), Logger: zaptest.NewLogger(t).Sugar()})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Submit(finger.Reading{Present: i%2 == 0})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked without a running loop")
	}
	if s.Dropped() != 99 {
		t.Errorf("Dropped() = %d, want 99", s.Dropped())
	}
}

func TestSession_LateRateReachesLabels(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.CountdownStart = 10 })

	h.reading(true)
	h.runToFinish()
	if h.state() != Finished {
		t.Fatalf("state = %v, want finished", h.state())
	}
	h.tickReset()
	if got := h.sink.Labels().Rate; got != "" {
		t.Fatalf("rate = %q before the summary arrived", got)
	}

	h.settle()
	if got := h.sink.Labels().Rate; got != "72 BPM" {
		t.Errorf("rate = %q after arrival, want 72 BPM", got)
	}
	before := h.sink.RateWrites()
	h.tickReset()
	if h.sink.RateWrites() != before+1 || h.sink.Labels().Rate != "72 BPM" {
		t.Errorf("reset tick did not rewrite the late rate")
	}
	if h.resultCount() != 1 || h.results[0].Rate != "72 BPM" {
		t.Errorf("results = %+v, want one with the late rate", h.results)
	}
}

func TestSession_SlowSummaryDoesNotBlock(t *testing.T) {
	clk := clock.NewMock()
	lamp := torch.NewMock()
	started := make(chan struct{})
	release := make(chan struct{})
	results := make(chan Result, 1)

	s := New(Config{
		Torch: lamp,
		Summarizer: rate.SummarizerFunc(func([]float64) (string, error) {
			close(started)
			<-release
			return "64 BPM", nil
		}),
		Clock:          clk,
		Logger:         zaptest.NewLogger(t).Sugar(),
		CountdownStart: 5,
		OnResult:       func(r Result) { results <- r },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	if err := s.SetMode(ctx, ModeHeartRate); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	s.Submit(finger.Reading{Present: true, Intensity: 200})
	waitFor(t, "measuring", func() bool { return s.Snapshot().State == Measuring })

	clk.Add(50 * time.Millisecond)
	waitFor(t, "countdown at zero", func() bool { return s.Snapshot().Remaining == 0 })
	clk.Add(50 * time.Millisecond)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("summary never started")
	}

	modeCtx, modeCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer modeCancel()
	if err := s.SetMode(modeCtx, ModeFace); err != nil {
		t.Fatalf("SetMode() while summarizing error = %v", err)
	}
	if lamp.IsOn() {
		t.Error("face mode left the torch on")
	}

	close(release)
	select {
	case r := <-results:
		if r.Outcome != OutcomeFinished || r.Rate != "64 BPM" {
			t.Errorf("result = %+v, want finished at 64 BPM", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("finished measurement was never reported")
	}
	if got := s.Snapshot().Rate; got != "" {
		t.Errorf("rate = %q, a cancelled summary must not reach face mode", got)
	}

	cancel()
	<-errc
}
