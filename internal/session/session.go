// Package session runs the heart-rate measurement state machine.
//
// All state lives on the goroutine running Session.Run. Frame readings,
// countdown ticks, reset ticks and mode changes are handled there one at a
// time, in arrival order. Rate summaries run on their own goroutine and post
// their text back as an event.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/pulselab/internal/countdown"
	"github.com/ayusman/pulselab/internal/finger"
	"github.com/ayusman/pulselab/internal/rate"
	"github.com/ayusman/pulselab/internal/torch"
)

// Label texts.
const (
	PlaceholderText = "Place Finger Over Camera To Record Heart Rate"
	RecordingText   = "Recording Heart Rate..."
	// UnavailableText is shown when the rate could not be computed.
	UnavailableText = "--"
)

// DefaultTickInterval is the period of the countdown and reset tickers.
const DefaultTickInterval = 50 * time.Millisecond

// ErrClosed is returned when posting to a session whose Run has returned.
var ErrClosed = errors.New("session: closed")

// Mode selects what the pipeline does with each frame.
type Mode int

const (
	ModeFace Mode = iota
	ModeHeartRate
)

func (m Mode) String() string {
	if m == ModeHeartRate {
		return "heartrate"
	}
	return "face"
}

// ParseMode parses "face" or "heartrate".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "face":
		return ModeFace, nil
	case "heartrate", "heart-rate", "heart_rate":
		return ModeHeartRate, nil
	}
	return ModeFace, errors.Errorf("unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// State is the measurement state.
type State string

const (
	Idle      State = "idle"
	Measuring State = "measuring"
	Finished  State = "finished"
	Resetting State = "resetting"
)

const (
	evStart      = "start"
	evAbort      = "abort"
	evFinish     = "finish"
	evRelease    = "release"
	evClear      = "clear"
	evDeactivate = "deactivate"
)

// Outcome records how a measurement ended.
type Outcome string

const (
	OutcomeFinished Outcome = "finished"
	OutcomeAborted  Outcome = "aborted"
)

// Result describes one completed or aborted measurement.
type Result struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Outcome   Outcome   `json:"outcome"`
	Rate      string    `json:"rate"`
	Samples   []float64 `json:"samples,omitempty"`
}

// Snapshot is a consistent view of the session taken between two events.
type Snapshot struct {
	Mode          Mode      `json:"mode"`
	State         State     `json:"state"`
	FingerPresent bool      `json:"finger_present"`
	LastActuation time.Time `json:"last_actuation"`
	Remaining     int       `json:"remaining"`
	TimeRemaining string    `json:"time_remaining"`
	Rate          string    `json:"rate"`
	Samples       int       `json:"samples"`
	TorchOn       bool      `json:"torch_on"`
}

// Config holds session collaborators and tuning.
type Config struct {
	Torch      torch.Torch
	Sink       Sink
	Summarizer rate.Summarizer
	Clock      clock.Clock
	Logger     *zap.SugaredLogger

	// Mode is applied when Run starts.
	Mode Mode

	// Debounce is the minimum time between torch actuations (default 1s).
	Debounce time.Duration
	// TickInterval drives both the countdown and the reset poll (default 50ms).
	TickInterval time.Duration
	// CountdownStart and CountdownStep are in hundredths of a second.
	CountdownStart int
	CountdownStep  int
	// Capacity is the frames captured threshold of the sample buffer.
	Capacity int

	// OnResult is called on the session goroutine when a measurement ends.
	// It must not block.
	OnResult func(Result)
	// OnModeChange is called on the session goroutine after a mode is applied.
	OnModeChange func(Mode)
}

// summary is a rate computation running off the session goroutine. result is
// set when the measurement finishes before the text arrives.
type summary struct {
	result *Result
}

type pendingReading struct {
	reading finger.Reading
	at      time.Time
}

// ticker is a running periodic source and the handler it fires.
type ticker struct {
	t    *clock.Ticker
	fire func(*Session)
}

func (tk *ticker) c() <-chan time.Time {
	if tk == nil {
		return nil
	}
	return tk.t.C
}

// Session is the measurement state machine.
type Session struct {
	config     Config
	clock      clock.Clock
	logger     *zap.SugaredLogger
	torch      torch.Torch
	sink       Sink
	summarizer rate.Summarizer

	machine   *fsm.FSM
	debouncer *finger.Debouncer
	countdown *countdown.Timer
	buffer    *rate.Buffer

	mode       Mode
	startedAt  time.Time
	latestRate string
	rateFresh  bool
	inflight   *summary

	countdownTick *ticker
	resetTick     *ticker

	slotMu  sync.Mutex
	pending *pendingReading
	drops   uint64
	notify  chan struct{}

	events chan func(*Session)
	done   chan struct{}
	once   sync.Once

	snapMu sync.RWMutex
	snap   Snapshot
}

// New creates a Session in Idle. Nil collaborators are replaced by no-op
// implementations.
func New(config Config) *Session {
	if config.Torch == nil {
		config.Torch = torch.None{}
	}
	if config.Sink == nil {
		config.Sink = NopSink{}
	}
	if config.Summarizer == nil {
		config.Summarizer = rate.NewPeakSummarizer(0, 0, 0)
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}

	s := &Session{
		config:     config,
		clock:      config.Clock,
		logger:     config.Logger,
		torch:      config.Torch,
		sink:       config.Sink,
		summarizer: config.Summarizer,
		debouncer:  finger.NewDebouncer(config.Debounce),
		countdown:  countdown.New(config.CountdownStart, config.CountdownStep),
		buffer:     rate.NewBuffer(config.Capacity),
		mode:       config.Mode,
		notify:     make(chan struct{}, 1),
		events:     make(chan func(*Session), 16),
		done:       make(chan struct{}),
	}
	s.machine = fsm.NewFSM(
		string(Idle),
		fsm.Events{
			{Name: evStart, Src: []string{string(Idle)}, Dst: string(Measuring)},
			{Name: evAbort, Src: []string{string(Measuring)}, Dst: string(Idle)},
			{Name: evFinish, Src: []string{string(Measuring)}, Dst: string(Finished)},
			{Name: evRelease, Src: []string{string(Finished)}, Dst: string(Resetting)},
			{Name: evClear, Src: []string{string(Resetting)}, Dst: string(Idle)},
			{Name: evDeactivate, Src: []string{string(Measuring), string(Finished), string(Resetting)}, Dst: string(Idle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debugw("session transition", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	s.publish()
	return s
}

// Run processes events until ctx is cancelled. It applies the configured
// mode first. Run must be called once.
func (s *Session) Run(ctx context.Context) error {
	defer s.once.Do(func() { close(s.done) })
	defer s.shutdown()

	s.handle(func(s *Session) { s.applyMode(s.config.Mode) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
			if p, ok := s.take(); ok {
				s.handle(func(s *Session) { s.observe(p.reading, p.at) })
			}
		case fn := <-s.events:
			s.handle(fn)
		case <-s.countdownTick.c():
			s.handle(s.countdownTick.fire)
		case <-s.resetTick.c():
			s.handle(s.resetTick.fire)
		}
	}
}

func (s *Session) handle(fn func(*Session)) {
	fn(s)
	s.publish()
}

func (s *Session) shutdown() {
	stopTicker(&s.countdownTick)
	stopTicker(&s.resetTick)
	s.torch.Off()
	s.publish()
}

// Submit hands a frame reading to the session without blocking. A reading
// not yet consumed is replaced by the newer one.
func (s *Session) Submit(r finger.Reading) {
	now := s.clock.Now()

	s.slotMu.Lock()
	if s.pending != nil {
		s.drops++
	}
	s.pending = &pendingReading{reading: r, at: now}
	s.slotMu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) take() (pendingReading, bool) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	if s.pending == nil {
		return pendingReading{}, false
	}
	p := *s.pending
	s.pending = nil
	return p, true
}

// Dropped returns how many readings were replaced before being processed.
func (s *Session) Dropped() uint64 {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	return s.drops
}

// Do runs fn on the session goroutine and waits for it to finish.
func (s *Session) Do(ctx context.Context, fn func(*Session)) error {
	finished := make(chan struct{})
	wrapped := func(s *Session) {
		defer close(finished)
		fn(s)
	}

	select {
	case s.events <- wrapped:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetMode switches modes and waits until the switch is applied.
func (s *Session) SetMode(ctx context.Context, m Mode) error {
	return s.Do(ctx, func(s *Session) { s.applyMode(m) })
}

// Snapshot returns the state as of the last handled event.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Mode returns the active mode.
func (s *Session) Mode() Mode {
	return s.Snapshot().Mode
}

// Buffer exposes the sample buffer to live readers.
func (s *Session) Buffer() *rate.Buffer {
	return s.buffer
}

func (s *Session) publish() {
	last, _ := s.debouncer.LastActuation()
	snap := Snapshot{
		Mode:          s.mode,
		State:         s.state(),
		FingerPresent: s.debouncer.Present(),
		LastActuation: last,
		Remaining:     s.countdown.Remaining(),
		TimeRemaining: s.countdown.Display(),
		Rate:          s.latestRate,
		Samples:       s.buffer.Len(),
		TorchOn:       s.torch.IsOn(),
	}

	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}

func (s *Session) state() State {
	return State(s.machine.Current())
}

func (s *Session) event(name string) {
	if !s.machine.Can(name) {
		s.logger.Warnw("session event not allowed", "event", name, "state", s.machine.Current())
		return
	}
	if err := s.machine.Event(context.Background(), name); err != nil {
		s.logger.Warnw("session event failed", "event", name, "error", err)
	}
}

func (s *Session) startTicker(slot **ticker, fire func(*Session)) {
	stopTicker(slot)
	*slot = &ticker{t: s.clock.Ticker(s.config.TickInterval), fire: fire}
}

// stopTicker is safe to call on a stopped ticker.
func stopTicker(slot **ticker) {
	if *slot == nil {
		return
	}
	(*slot).t.Stop()
	*slot = nil
}

// observe applies one frame reading.
func (s *Session) observe(r finger.Reading, at time.Time) {
	if s.mode != ModeHeartRate {
		return
	}

	switch s.debouncer.Observe(r.Present, at) {
	case finger.Present:
		s.fingerPresent(at)
	case finger.Absent:
		s.fingerAbsent()
	}

	if s.state() == Measuring {
		s.appendSample(r.Intensity)
	}
}

func (s *Session) fingerPresent(at time.Time) {
	if overheating := s.torch.On(1.0); overheating {
		s.logger.Warnw("torch overheating, measuring without it")
	}

	switch s.state() {
	case Resetting:
		s.clearReset()
		s.start(at)
	case Idle:
		s.start(at)
	}
}

func (s *Session) fingerAbsent() {
	s.torch.Off()

	switch s.state() {
	case Measuring:
		s.report(OutcomeAborted)
		s.event(evAbort)
		s.stop(false)
	case Finished:
		s.event(evRelease)
	}
}

// start begins a measurement window.
func (s *Session) start(at time.Time) {
	s.buffer.Reset()
	s.latestRate = ""
	s.rateFresh = false
	s.inflight = nil
	s.startedAt = at
	s.countdown.Reset()

	s.event(evStart)
	s.sink.SetStatus(RecordingText)
	s.sink.SetTimeRemaining(s.countdown.Display())
	s.startTicker(&s.countdownTick, (*Session).tickCountdown)
}

// stop halts the countdown and resets it. A finished stop shows the rate and
// starts the reset poll; an unfinished one restores the idle labels.
func (s *Session) stop(finished bool) {
	stopTicker(&s.countdownTick)
	s.countdown.Reset()

	if !finished {
		s.sink.SetTimeRemaining(s.countdown.Display())
		s.sink.SetStatus(PlaceholderText)
		s.buffer.Reset()
		s.inflight = nil
		return
	}

	s.sink.SetRate(s.latestRate)
	s.sink.SetStatus("")
	s.startTicker(&s.resetTick, (*Session).tickReset)
}

func (s *Session) tickCountdown() {
	if s.state() != Measuring {
		stopTicker(&s.countdownTick)
		return
	}
	if s.countdown.Remaining() > 0 {
		s.countdown.Decrement()
		s.sink.SetTimeRemaining(s.countdown.Display())
		return
	}
	s.finish()
}

func (s *Session) finish() {
	if !s.rateFresh {
		s.summarize()
	}
	s.event(evFinish)
	s.stop(true)

	res := s.result(OutcomeFinished)
	if s.inflight != nil {
		// Reported once the rate arrives.
		s.inflight.result = &res
		return
	}
	s.emit(res)
}

// tickReset keeps the rate on screen until the finger has been lifted.
func (s *Session) tickReset() {
	if s.state() == Resetting {
		s.clearReset()
		return
	}
	s.sink.SetRate(s.latestRate)
}

func (s *Session) clearReset() {
	stopTicker(&s.resetTick)
	s.sink.SetStatus(PlaceholderText)
	s.sink.SetTimeRemaining(s.countdown.Display())
	s.sink.SetRate("")
	s.event(evClear)
}

func (s *Session) appendSample(v float64) {
	if s.buffer.Append(v) {
		return
	}
	if !s.rateFresh && s.inflight == nil {
		s.logger.Debugw("sample buffer full", "capacity", s.buffer.Cap())
		s.summarize()
	}
}

// summarize starts computing the rate of the current buffer. At most one
// summary runs per measurement.
func (s *Session) summarize() {
	if s.inflight != nil {
		return
	}
	sum := &summary{}
	s.inflight = sum
	samples := s.buffer.Snapshot()

	go func() {
		text, err := s.summarizer.Summarize(samples)
		if err != nil {
			s.logger.Warnw("rate summary failed", "samples", len(samples), "error", err)
			text = UnavailableText
		}
		select {
		case s.events <- func(s *Session) { s.rateArrived(sum, text) }:
		case <-s.done:
		}
	}()
}

// rateArrived applies a finished summary. A summary that was cancelled by a
// reset or mode change only completes its pending report.
func (s *Session) rateArrived(sum *summary, text string) {
	if sum.result != nil {
		sum.result.Rate = text
		s.emit(*sum.result)
	}
	if s.inflight != sum {
		return
	}
	s.inflight = nil
	s.latestRate = text
	s.rateFresh = true

	if st := s.state(); st == Finished || st == Resetting {
		s.sink.SetRate(text)
	}
}

func (s *Session) result(outcome Outcome) Result {
	res := Result{
		ID:        uuid.NewString(),
		StartedAt: s.startedAt,
		EndedAt:   s.clock.Now(),
		Outcome:   outcome,
		Samples:   s.buffer.Snapshot(),
	}
	if outcome == OutcomeFinished {
		res.Rate = s.latestRate
	}
	return res
}

func (s *Session) report(outcome Outcome) {
	s.emit(s.result(outcome))
}

func (s *Session) emit(res Result) {
	if s.config.OnResult != nil {
		s.config.OnResult(res)
	}
}

func (s *Session) applyMode(m Mode) {
	if s.state() == Measuring {
		s.report(OutcomeAborted)
	}

	s.torch.Off()
	stopTicker(&s.countdownTick)
	stopTicker(&s.resetTick)
	s.countdown.Reset()
	s.buffer.Reset()
	s.debouncer.Reset()
	s.latestRate = ""
	s.rateFresh = false
	s.inflight = nil
	if s.machine.Can(evDeactivate) {
		s.event(evDeactivate)
	}
	s.mode = m

	if m == ModeFace {
		s.sink.ShowHeartRateControls(false)
	} else {
		s.sink.ShowHeartRateControls(true)
		s.sink.SetStatus(PlaceholderText)
		s.sink.SetTimeRemaining(s.countdown.Display())
		s.sink.SetRate("")
	}

	if s.config.OnModeChange != nil {
		s.config.OnModeChange(m)
	}
	s.logger.Infow("mode applied", "mode", m.String())
}
