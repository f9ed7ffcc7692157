package recorder

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"

	"github.com/ayusman/pulselab/internal/session"
	"github.com/ayusman/pulselab/internal/store"
)

type fakePublisher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakePublisher) Publish(r session.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, r.ID)
	return f.err
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func result(id string, outcome session.Outcome) session.Result {
	start := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return session.Result{
		ID:        id,
		StartedAt: start,
		EndedAt:   start.Add(33 * time.Second),
		Outcome:   outcome,
		Rate:      "64 BPM",
		Samples:   []float64{0.5, 0.75},
	}
}

func TestRecorder_Record(t *testing.T) {
	st := newStore(t)
	pub := &fakePublisher{}
	r := New(st, zaptest.NewLogger(t).Sugar(), pub)

	if err := r.Record(result("m-1", session.OutcomeFinished)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	m, err := st.Measurements().GetByID("m-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if m.Outcome != store.OutcomeFinished || m.Rate != "64 BPM" || m.SampleCount != 2 {
		t.Errorf("stored = %+v", m)
	}
	if diff := cmp.Diff([]string{"m-1"}, pub.published()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestRecorder_PublisherFailureStillStores(t *testing.T) {
	st := newStore(t)
	failing := &fakePublisher{err: errors.New("broker down")}
	ok := &fakePublisher{}
	r := New(st, nil, failing, ok)

	if err := r.Record(result("m-2", session.OutcomeAborted)); err == nil {
		t.Error("Record() should report the publisher failure")
	}
	if _, err := st.Measurements().GetByID("m-2"); err != nil {
		t.Errorf("measurement not stored: %v", err)
	}
	if len(ok.published()) != 1 {
		t.Error("second publisher skipped after the first failed")
	}
}

func TestRecorder_Run(t *testing.T) {
	pub := &fakePublisher{}
	r := New(nil, zaptest.NewLogger(t).Sugar(), pub)

	results := make(chan session.Result, 2)
	results <- result("a", session.OutcomeFinished)
	results <- result("b", session.OutcomeAborted)
	close(results)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), results)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}

	if diff := cmp.Diff([]string{"a", "b"}, pub.published()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestRecorder_RunStopsOnContext(t *testing.T) {
	r := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx, make(chan session.Result))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored cancellation")
	}
}
