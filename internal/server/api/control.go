package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/pulselab/internal/app"
	"github.com/ayusman/pulselab/internal/capture"
	"github.com/ayusman/pulselab/internal/filter"
	"github.com/ayusman/pulselab/internal/session"
)

// Controller is the part of the pipeline the control API drives.
type Controller interface {
	Snapshot() session.Snapshot
	SetMode(ctx context.Context, m session.Mode) error
	SetFilter(step, key string, v filter.Value) error
	Filters() map[string]filter.Params
	FlipCamera() (capture.Position, error)
	ToggleFlash() (on bool, overheating bool, err error)
}

// ControlHandler serves mode, filter, camera and flash controls.
type ControlHandler struct {
	ctl Controller
}

// NewControlHandler creates a ControlHandler for ctl.
func NewControlHandler(ctl Controller) *ControlHandler {
	return &ControlHandler{ctl: ctl}
}

// ServeHTTP routes the control endpoints.
func (h *ControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")

	switch {
	case path == "/api/mode":
		switch r.Method {
		case http.MethodGet:
			h.getMode(w, r)
		case http.MethodPost:
			h.setMode(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case path == "/api/state":
		requireMethod(w, r, http.MethodGet, h.state)
	case path == "/api/filters":
		requireMethod(w, r, http.MethodGet, h.filters)
	case path == "/api/filters/bloom/dial":
		requireMethod(w, r, http.MethodPost, h.bloomDial)
	case strings.HasPrefix(path, "/api/filters/"):
		step := strings.TrimPrefix(path, "/api/filters/")
		requireMethod(w, r, http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
			h.setFilter(w, r, step)
		})
	case path == "/api/camera/flip":
		requireMethod(w, r, http.MethodPost, h.flip)
	case path == "/api/flash":
		requireMethod(w, r, http.MethodPost, h.flash)
	default:
		http.NotFound(w, r)
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string, next http.HandlerFunc) {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	next(w, r)
}

type modeRequest struct {
	Mode session.Mode `json:"mode"`
}

type modeResponse struct {
	Mode session.Mode `json:"mode"`
}

type setFilterRequest struct {
	Key   string       `json:"key"`
	Value filter.Value `json:"value"`
}

type dialRequest struct {
	Value float64 `json:"value"`
}

type flipResponse struct {
	Position string `json:"position"`
}

type flashResponse struct {
	On          bool `json:"on"`
	Overheating bool `json:"overheating"`
}

func (h *ControlHandler) getMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modeResponse{Mode: h.ctl.Snapshot().Mode})
}

func (h *ControlHandler) setMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid mode: "+err.Error())
		return
	}
	if err := h.ctl.SetMode(r.Context(), req.Mode); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to set mode")
		return
	}
	writeJSON(w, http.StatusOK, modeResponse{Mode: req.Mode})
}

func (h *ControlHandler) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *ControlHandler) filters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Filters())
}

func (h *ControlHandler) setFilter(w http.ResponseWriter, r *http.Request, step string) {
	var req setFilterRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Key == "" || len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "key and value are required")
		return
	}
	h.applyFilter(w, step, req.Key, req.Value)
}

func (h *ControlHandler) bloomDial(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.applyFilter(w, "bloom", "intensity", filter.Scalar(filter.BloomToggle(req.Value)))
}

func (h *ControlHandler) applyFilter(w http.ResponseWriter, step, key string, v filter.Value) {
	if err := h.ctl.SetFilter(step, key, v); err != nil {
		if errors.Is(err, filter.ErrUnknownStep) {
			writeError(w, http.StatusNotFound, "Unknown filter step")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to set filter")
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Filters()[step])
}

func (h *ControlHandler) flip(w http.ResponseWriter, r *http.Request) {
	p, err := h.ctl.FlipCamera()
	if err != nil {
		if errors.Is(err, app.ErrFlipInHeartRate) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to flip camera")
		return
	}
	writeJSON(w, http.StatusOK, flipResponse{Position: p.String()})
}

func (h *ControlHandler) flash(w http.ResponseWriter, r *http.Request) {
	on, overheating, err := h.ctl.ToggleFlash()
	if err != nil {
		if errors.Is(err, app.ErrManualFlash) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to toggle flash")
		return
	}
	writeJSON(w, http.StatusOK, flashResponse{On: on, Overheating: overheating})
}
