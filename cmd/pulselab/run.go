package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/pulselab/internal/app"
	"github.com/ayusman/pulselab/internal/capture"
	"github.com/ayusman/pulselab/internal/config"
	"github.com/ayusman/pulselab/internal/detector"
	"github.com/ayusman/pulselab/internal/emitter"
	"github.com/ayusman/pulselab/internal/filter"
	"github.com/ayusman/pulselab/internal/finger"
	"github.com/ayusman/pulselab/internal/rate"
	"github.com/ayusman/pulselab/internal/recorder"
	"github.com/ayusman/pulselab/internal/server"
	"github.com/ayusman/pulselab/internal/session"
	"github.com/ayusman/pulselab/internal/store"
	"github.com/ayusman/pulselab/internal/torch"
	"github.com/ayusman/pulselab/internal/tray"
)

const shutdownTimeout = 5 * time.Second

func run(parent context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Open measurement history
	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	settings := st.Settings()

	// Restore the camera the last run ended on
	camConfig, err := cfg.Camera.Capture()
	if err != nil {
		return err
	}
	if v, err := settings.Get(store.SettingCameraPosition); err == nil {
		if p, err := capture.ParsePosition(v); err == nil {
			camConfig.Position = p
		}
	}
	camera := capture.NewCamera(camConfig)

	// Build frame processors
	chain, err := filter.NewChain(cfg.Filters)
	if err != nil {
		return errors.Wrap(err, "filter chain")
	}
	faces, err := newFaceDetector(cfg.Detector, logger)
	if err != nil {
		return err
	}
	lamp, err := newTorch(cfg.Torch, logger)
	if err != nil {
		return err
	}

	sessionConfig, err := cfg.Session.Session()
	if err != nil {
		return err
	}
	if v, err := settings.Get(store.SettingMode); err == nil {
		if m, err := session.ParseMode(v); err == nil {
			sessionConfig.Mode = m
		}
	}
	sessionConfig.Summarizer = newSummarizer(cfg.Rate, camConfig.FPS)

	// Labels go to the websocket hub and, when enabled, the tray
	hub := server.NewHub(logger.Named("ws"))
	sinks := session.MultiSink{hub}
	var menu *tray.Tray
	if cfg.Tray.Enabled {
		menu = tray.New()
		menu.SetMode(sessionConfig.Mode)
		sinks = append(sinks, menu)
	}
	sessionConfig.Sink = sinks
	sessionConfig.OnModeChange = func(m session.Mode) {
		if err := settings.Set(store.SettingMode, m.String()); err != nil {
			logger.Warnw("saving mode", "error", err)
		}
		if menu != nil {
			menu.SetMode(m)
		}
	}

	pipeline, err := app.New(app.Config{
		Camera:  camera,
		Chain:   chain,
		Faces:   faces,
		Finger:  finger.NewColorDetector(cfg.Finger),
		Torch:   lamp,
		Session: sessionConfig,
		Logger:  logger.Named("app"),
	})
	if err != nil {
		return err
	}
	controls := &controller{App: pipeline, settings: settings, logger: logger}

	// MQTT is optional; an unreachable broker keeps results local
	var publishers []recorder.Publisher
	if cfg.MQTT.Broker != "" {
		mq := emitter.New(cfg.MQTT, logger.Named("mqtt"))
		if err := mq.Connect(); err != nil {
			logger.Warnw("mqtt unavailable, results stay local", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			defer mq.Close()
			publishers = append(publishers, mq)
		}
	}
	rec := recorder.New(st, logger.Named("recorder"), publishers...)

	staticDir := findWebDir(cfg.Server.StaticDir)
	if staticDir != "" {
		logger.Infow("serving static files", "dir", staticDir)
	}
	httpServer := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(server.Config{
			StaticDir:  staticDir,
			Store:      st,
			Controller: controls,
			Frames:     pipeline,
			Hub:        hub,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Run everything until a signal or the first failure
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error {
		// Results is closed when the pipeline stops, so nothing queued is lost.
		rec.Run(context.Background(), pipeline.Results())
		return nil
	})
	g.Go(func() error {
		hub.RunSamples(gctx, pipeline.Session().Buffer(), clock.New(), cfg.Server.SampleInterval)
		return nil
	})
	g.Go(func() error {
		logger.Infow("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return httpServer.Shutdown(shutdownCtx)
	})

	if menu == nil {
		return g.Wait()
	}

	// The tray owns the calling goroutine until it quits.
	bindTray(ctx, menu, controls, cfg.Server.Addr, cancel, logger)
	errc := make(chan error, 1)
	go func() {
		errc <- g.Wait()
		menu.Quit()
	}()
	menu.Run()
	cancel()
	return <-errc
}

func openStore(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create data directory")
		}
	}
	st, err := store.New(path)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	return st, nil
}

func newFaceDetector(cfg config.DetectorConfig, logger *zap.SugaredLogger) (detector.FaceDetector, error) {
	if cfg.Cascades.Face == "" {
		logger.Warnw("no face cascade configured, face detection disabled")
		return detector.NewMockDetector(), nil
	}
	d, err := detector.NewCascadeDetector(cfg.Cascades, cfg.Config)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newTorch(cfg config.TorchConfig, logger *zap.SugaredLogger) (torch.Torch, error) {
	if cfg.Kind != config.TorchGPIO {
		return torch.None{}, nil
	}
	t, err := torch.NewGPIO(cfg.GPIOConfig, logger.Named("torch"))
	if err != nil {
		return nil, err
	}
	return t, nil
}

func newSummarizer(cfg config.RateConfig, fps int) rate.Summarizer {
	if cfg.Plugin != "" {
		return rate.NewExecSummarizer(cfg.Plugin, float64(fps), cfg.Timeout)
	}
	return rate.NewPeakSummarizer(float64(fps), cfg.Window, cfg.MinProminence)
}

// findWebDir returns configured if it is a directory, else the first of
// "web", "../web" and ~/.pulselab/web that exists, else "".
func findWebDir(configured string) string {
	candidates := []string{configured, "web", "../web"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pulselab", "web"))
	}
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
