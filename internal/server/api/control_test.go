package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/ayusman/pulselab/internal/app"
	"github.com/ayusman/pulselab/internal/capture"
	"github.com/ayusman/pulselab/internal/filter"
	"github.com/ayusman/pulselab/internal/session"
)

type fakeController struct {
	mu       sync.Mutex
	mode     session.Mode
	filters  map[string]filter.Params
	position capture.Position
	torch    bool
}

func newFakeController() *fakeController {
	return &fakeController{
		filters: map[string]filter.Params{
			"bloom": {"intensity": filter.Scalar(0.5), "radius": filter.Scalar(20)},
			"hue":   {"angle": filter.Scalar(10)},
		},
	}
}

func (f *fakeController) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Snapshot{Mode: f.mode, State: session.Idle, TimeRemaining: "33:00"}
}

func (f *fakeController) SetMode(ctx context.Context, m session.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = m
	return nil
}

func (f *fakeController) SetFilter(step, key string, v filter.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.filters[step]
	if !ok {
		return errors.Wrapf(filter.ErrUnknownStep, "%q", step)
	}
	p[key] = v
	return nil
}

func (f *fakeController) Filters() map[string]filter.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]filter.Params, len(f.filters))
	for k, v := range f.filters {
		out[k] = v.Clone()
	}
	return out
}

func (f *fakeController) FlipCamera() (capture.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode == session.ModeHeartRate {
		return f.position, app.ErrFlipInHeartRate
	}
	f.position = f.position.Opposite()
	return f.position, nil
}

func (f *fakeController) ToggleFlash() (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode == session.ModeHeartRate {
		return f.torch, false, app.ErrManualFlash
	}
	f.torch = !f.torch
	return f.torch, false, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestControl_Mode(t *testing.T) {
	ctl := newFakeController()
	h := NewControlHandler(ctl)

	rec := do(t, h, http.MethodGet, "/api/mode", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"mode":"face"}` {
		t.Fatalf("GET /api/mode = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/mode", `{"mode":"heartrate"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/mode status = %d: %s", rec.Code, rec.Body.String())
	}
	if ctl.Snapshot().Mode != session.ModeHeartRate {
		t.Errorf("mode not applied: %v", ctl.Snapshot().Mode)
	}

	tests := []struct {
		name string
		body string
	}{
		{"unknown mode", `{"mode":"video"}`},
		{"not json", `mode=face`},
		{"unknown field", `{"mode":"face","extra":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, "/api/mode", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	if rec := do(t, h, http.MethodDelete, "/api/mode", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /api/mode status = %d", rec.Code)
	}
}

func TestControl_State(t *testing.T) {
	h := NewControlHandler(newFakeController())

	rec := do(t, h, http.MethodGet, "/api/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap struct {
		Mode          string `json:"mode"`
		State         string `json:"state"`
		TimeRemaining string `json:"time_remaining"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	want := struct {
		Mode          string `json:"mode"`
		State         string `json:"state"`
		TimeRemaining string `json:"time_remaining"`
	}{"face", "idle", "33:00"}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestControl_SetFilter(t *testing.T) {
	ctl := newFakeController()
	h := NewControlHandler(ctl)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{"scalar", "/api/filters/hue", `{"key":"angle","value":3.14}`, http.StatusOK},
		{"vector", "/api/filters/bloom", `{"key":"center","value":[10,20]}`, http.StatusOK},
		{"unknown step", "/api/filters/sepia", `{"key":"amount","value":1}`, http.StatusNotFound},
		{"missing key", "/api/filters/hue", `{"value":1}`, http.StatusBadRequest},
		{"missing value", "/api/filters/hue", `{"key":"angle"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}

	got := ctl.Filters()
	if diff := cmp.Diff(filter.Scalar(3.14), got["hue"]["angle"]); diff != "" {
		t.Errorf("hue angle mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(filter.Vector(10, 20), got["bloom"]["center"]); diff != "" {
		t.Errorf("bloom center mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(filter.Scalar(20), got["bloom"]["radius"]); diff != "" {
		t.Errorf("untouched parameter changed (-want +got):\n%s", diff)
	}
}

func TestControl_BloomDial(t *testing.T) {
	tests := []struct {
		dial string
		want float64
	}{
		{"0", 0.5},
		{"3.1415", 0.5},
		{"3.1416", 0},
		{"6", 0},
	}
	for _, tt := range tests {
		t.Run(tt.dial, func(t *testing.T) {
			ctl := newFakeController()
			h := NewControlHandler(ctl)
			rec := do(t, h, http.MethodPost, "/api/filters/bloom/dial", `{"value":`+tt.dial+`}`)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := ctl.Filters()["bloom"]["intensity"].Float(-1); got != tt.want {
				t.Errorf("intensity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestControl_FlipAndFlash(t *testing.T) {
	ctl := newFakeController()
	h := NewControlHandler(ctl)

	rec := do(t, h, http.MethodPost, "/api/camera/flip", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"back"`) {
		t.Errorf("flip = %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/api/flash", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"on":true`) {
		t.Errorf("flash = %d %s", rec.Code, rec.Body.String())
	}

	ctl.SetMode(context.Background(), session.ModeHeartRate)
	if rec := do(t, h, http.MethodPost, "/api/camera/flip", ""); rec.Code != http.StatusConflict {
		t.Errorf("flip in heart rate mode = %d, want 409", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/flash", ""); rec.Code != http.StatusConflict {
		t.Errorf("flash in heart rate mode = %d, want 409", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/flash", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/flash = %d, want 405", rec.Code)
	}
}
