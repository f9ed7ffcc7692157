package rate

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// DefaultExecTimeout bounds one external summarizer run.
const DefaultExecTimeout = 5 * time.Second

// ExecRequest is written to the summarizer's stdin.
type ExecRequest struct {
	Samples []float64 `json:"samples"`
	FPS     float64   `json:"fps"`
}

// ExecResponse is read from the summarizer's stdout.
type ExecResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExecSummarizer delegates rate computation to an external executable that
// speaks JSON over stdin and stdout.
type ExecSummarizer struct {
	Executable string
	FPS        float64
	Timeout    time.Duration
}

// NewExecSummarizer creates an ExecSummarizer. Zero values take defaults.
func NewExecSummarizer(executable string, fps float64, timeout time.Duration) *ExecSummarizer {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	return &ExecSummarizer{Executable: executable, FPS: fps, Timeout: timeout}
}

// Summarize runs the executable once. The samples and the configured FPS are
// sent as one JSON request on stdin; stdout must hold one ExecResponse.
func (e *ExecSummarizer) Summarize(samples []float64) (string, error) {
	// One timeout covers the whole run
	ctx, cancel := context.WithTimeout(context.Background(), e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Executable)
	// Plugins resolve their own resources relative to where they live
	cmd.Dir = filepath.Dir(e.Executable)

	req, err := json.Marshal(ExecRequest{Samples: samples, FPS: e.FPS})
	if err != nil {
		return "", errors.Wrap(err, "marshal summarizer request")
	}
	cmd.Stdin = bytes.NewReader(req)

	// stderr is kept for the error message
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	// A killed plugin also fails Run; report the timeout instead
	if ctx.Err() == context.DeadlineExceeded {
		return "", errors.Errorf("summarizer timeout after %v", e.Timeout)
	}
	if err != nil {
		if s := stderr.String(); s != "" {
			return "", errors.Wrapf(err, "summarizer failed, stderr: %s", s)
		}
		return "", errors.Wrap(err, "summarizer failed")
	}

	// Parse the response from stdout
	var resp ExecResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", errors.Wrapf(err, "parse summarizer response, stdout: %s", stdout.String())
	}
	if !resp.Success {
		return "", errors.Errorf("summarizer: %s", resp.Error)
	}
	return resp.Text, nil
}
