// Package app wires the camera, filter chain, detectors and measurement
// session into the per-frame pipeline.
package app

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/pulselab/internal/capture"
	"github.com/ayusman/pulselab/internal/detector"
	"github.com/ayusman/pulselab/internal/filter"
	"github.com/ayusman/pulselab/internal/finger"
	"github.com/ayusman/pulselab/internal/session"
	"github.com/ayusman/pulselab/internal/torch"
)

// ResultBuffer is the number of finished measurements queued for Results
// before new ones are dropped.
const ResultBuffer = 16

// ErrFlipInHeartRate is returned by FlipCamera while measuring heart rate,
// which needs the back camera and its torch.
var ErrFlipInHeartRate = errors.New("camera flip not allowed in heart rate mode")

// ErrManualFlash is returned by ToggleFlash in heart rate mode, where the
// session owns the torch.
var ErrManualFlash = errors.New("flash is controlled by the session in heart rate mode")

// Config holds the pipeline collaborators.
type Config struct {
	Camera capture.Camera
	Chain  *filter.Chain
	Faces  detector.FaceDetector
	Finger finger.Detector
	Torch  torch.Torch

	// Session configures the measurement session. Its Torch, Clock, Logger
	// and OnModeChange fields are filled in by New; OnResult is chained.
	Session session.Config

	Clock  clock.Clock
	Logger *zap.SugaredLogger
}

// App is the running pipeline.
type App struct {
	config  Config
	camera  capture.Camera
	chain   *filter.Chain
	faces   detector.FaceDetector
	finger  finger.Detector
	torch   torch.Torch
	session *session.Session
	clock   clock.Clock
	logger  *zap.SugaredLogger

	results chan session.Result

	frameMu sync.RWMutex
	jpeg    []byte
	seq     uint64
}

// New creates an App. Camera is required; a nil Chain applies no filters and
// nil detectors are replaced by mocks that find nothing.
func New(config Config) (*App, error) {
	if config.Camera == nil {
		return nil, errors.New("app: camera is required")
	}
	if config.Chain == nil {
		chain, err := filter.NewChain(nil)
		if err != nil {
			return nil, errors.Wrap(err, "empty filter chain")
		}
		config.Chain = chain
	}
	if config.Faces == nil {
		config.Faces = detector.NewMockDetector()
	}
	if config.Finger == nil {
		config.Finger = finger.NewMockDetector()
	}
	if config.Torch == nil {
		config.Torch = torch.None{}
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}

	a := &App{
		config:  config,
		camera:  config.Camera,
		chain:   config.Chain,
		faces:   config.Faces,
		finger:  config.Finger,
		clock:   config.Clock,
		logger:  config.Logger,
		results: make(chan session.Result, ResultBuffer),
	}
	// Only the back camera has a torch next to it.
	a.torch = torch.Gate(config.Torch, func() bool {
		return a.camera.Position() == capture.Back
	})

	sc := config.Session
	sc.Torch = a.torch
	sc.Clock = a.clock
	sc.Logger = a.logger.Named("session")
	onResult := sc.OnResult
	sc.OnResult = func(r session.Result) {
		if onResult != nil {
			onResult(r)
		}
		select {
		case a.results <- r:
		default:
			a.logger.Warnw("result dropped", "id", r.ID, "outcome", r.Outcome)
		}
	}
	onMode := sc.OnModeChange
	sc.OnModeChange = func(m session.Mode) {
		if m == session.ModeHeartRate {
			if err := a.camera.SetPosition(capture.Back); err != nil {
				a.logger.Warnw("selecting back camera failed", "error", err)
			}
		}
		if onMode != nil {
			onMode(m)
		}
	}
	a.session = session.New(sc)

	return a, nil
}

// Run opens the camera and processes frames until ctx is cancelled. The
// camera, detectors and filter chain are closed on return.
func (a *App) Run(ctx context.Context) error {
	if err := a.camera.Open(); err != nil {
		return errors.Wrap(err, "open camera")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.session.Run(ctx) })
	g.Go(func() error { return a.runPipeline(ctx) })

	a.logger.Infow("pipeline started", "fps", a.camera.FPS(), "position", a.camera.Position().String())
	err := g.Wait()
	close(a.results)

	if cerr := a.Close(); cerr != nil {
		a.logger.Warnw("closing pipeline", "error", cerr)
	}
	a.logger.Infow("pipeline stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the camera, detector and filter resources.
func (a *App) Close() error {
	var err error
	err = multierr.Append(err, a.camera.Close())
	err = multierr.Append(err, a.faces.Close())
	err = multierr.Append(err, a.chain.Close())
	return err
}

// Session returns the measurement session.
func (a *App) Session() *session.Session {
	return a.session
}

// Chain returns the filter chain.
func (a *App) Chain() *filter.Chain {
	return a.chain
}

// Camera returns the camera.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Results delivers measurements as they end. It is closed when Run returns.
func (a *App) Results() <-chan session.Result {
	return a.results
}

// SetMode switches the session mode and waits for it to be applied.
func (a *App) SetMode(ctx context.Context, m session.Mode) error {
	return a.session.SetMode(ctx, m)
}

// Snapshot returns the current session state.
func (a *App) Snapshot() session.Snapshot {
	return a.session.Snapshot()
}

// SetFilter overwrites one filter parameter.
func (a *App) SetFilter(step, key string, v filter.Value) error {
	return a.chain.Set(step, key, v)
}

// Filters returns the parameters of every step, keyed by step name.
func (a *App) Filters() map[string]filter.Params {
	out := make(map[string]filter.Params)
	for _, name := range a.chain.Names() {
		if p, err := a.chain.Get(name); err == nil {
			out[name] = p
		}
	}
	return out
}

// FlipCamera switches between the front and back cameras.
func (a *App) FlipCamera() (capture.Position, error) {
	if a.session.Mode() == session.ModeHeartRate {
		return a.camera.Position(), ErrFlipInHeartRate
	}
	if a.torch.IsOn() {
		a.torch.Off()
	}
	return capture.TogglePosition(a.camera)
}

// ToggleFlash flips the torch by hand. It reports the new state and whether
// the torch refused because it is overheating.
func (a *App) ToggleFlash() (on bool, overheating bool, err error) {
	if a.session.Mode() == session.ModeHeartRate {
		return a.torch.IsOn(), false, ErrManualFlash
	}
	on, overheating = torch.Toggle(a.torch)
	return on, overheating, nil
}

// TorchOn reports whether the torch is lit.
func (a *App) TorchOn() bool {
	return a.torch.IsOn()
}

// LatestJPEG returns the most recent processed frame and its sequence
// number. The slice must not be modified.
func (a *App) LatestJPEG() ([]byte, uint64) {
	a.frameMu.RLock()
	defer a.frameMu.RUnlock()
	return a.jpeg, a.seq
}

func (a *App) storeJPEG(b []byte) {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()
	a.jpeg = b
	a.seq++
}
