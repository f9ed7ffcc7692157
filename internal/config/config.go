// Package config loads the pulselab YAML configuration.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/pulselab/internal/capture"
	"github.com/ayusman/pulselab/internal/countdown"
	"github.com/ayusman/pulselab/internal/detector"
	"github.com/ayusman/pulselab/internal/emitter"
	"github.com/ayusman/pulselab/internal/filter"
	"github.com/ayusman/pulselab/internal/finger"
	"github.com/ayusman/pulselab/internal/logging"
	"github.com/ayusman/pulselab/internal/rate"
	"github.com/ayusman/pulselab/internal/server"
	"github.com/ayusman/pulselab/internal/session"
	"github.com/ayusman/pulselab/internal/torch"
)

// Torch kinds.
const (
	TorchNone = "none"
	TorchGPIO = "gpio"
)

// Config is the root configuration.
type Config struct {
	Camera   CameraConfig       `yaml:"camera"`
	Filters  []filter.Spec      `yaml:"filters"`
	Detector DetectorConfig     `yaml:"detector"`
	Finger   finger.ColorConfig `yaml:"finger"`
	Session  SessionConfig      `yaml:"session"`
	Rate     RateConfig         `yaml:"rate"`
	Torch    TorchConfig        `yaml:"torch"`
	Server   ServerConfig       `yaml:"server"`
	Store    StoreConfig        `yaml:"store"`
	MQTT     emitter.Config     `yaml:"mqtt"`
	Log      LogConfig          `yaml:"log"`
	Tray     TrayConfig         `yaml:"tray"`
}

// CameraConfig selects the capture devices.
type CameraConfig struct {
	FrontDevice int    `yaml:"front_device"`
	BackDevice  int    `yaml:"back_device"`
	Position    string `yaml:"position"`
	FPS         int    `yaml:"fps"`
}

// Capture converts to the capture package config.
func (c CameraConfig) Capture() (capture.Config, error) {
	pos, err := capture.ParsePosition(c.Position)
	if err != nil {
		return capture.Config{}, err
	}
	return capture.Config{
		FrontDevice: c.FrontDevice,
		BackDevice:  c.BackDevice,
		Position:    pos,
		FPS:         c.FPS,
	}, nil
}

// DetectorConfig configures face detection. An empty cascade face path uses
// the mock detector, which finds nothing.
type DetectorConfig struct {
	detector.Config `yaml:",inline"`
	Cascades        detector.CascadePaths `yaml:"cascades"`
}

// SessionConfig tunes the measurement session.
type SessionConfig struct {
	// Mode is the startup mode when none was persisted.
	Mode                    string        `yaml:"mode"`
	Debounce                time.Duration `yaml:"debounce"`
	TickInterval            time.Duration `yaml:"tick_interval"`
	CountdownStart          int           `yaml:"countdown_start"`
	CountdownStep           int           `yaml:"countdown_step"`
	FramesCapturedThreshold int           `yaml:"frames_captured_threshold"`
}

// Session converts to the session package config. Collaborators are left
// for the caller to fill in.
func (c SessionConfig) Session() (session.Config, error) {
	mode, err := session.ParseMode(c.Mode)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Mode:           mode,
		Debounce:       c.Debounce,
		TickInterval:   c.TickInterval,
		CountdownStart: c.CountdownStart,
		CountdownStep:  c.CountdownStep,
		Capacity:       c.FramesCapturedThreshold,
	}, nil
}

// RateConfig selects and tunes the rate summarizer. A non-empty Plugin runs
// that executable instead of the built-in peak counter.
type RateConfig struct {
	Window        int           `yaml:"window"`
	MinProminence float64       `yaml:"min_prominence"`
	Plugin        string        `yaml:"plugin"`
	Timeout       time.Duration `yaml:"timeout"`
}

// TorchConfig selects the torch driver.
type TorchConfig struct {
	Kind             string `yaml:"kind"`
	torch.GPIOConfig `yaml:",inline"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`

	// SampleInterval is the period of the websocket sample broadcast.
	SampleInterval time.Duration `yaml:"sample_interval"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type TrayConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			FrontDevice: 0,
			BackDevice:  1,
			Position:    capture.Front.String(),
			FPS:         capture.DefaultFPS,
		},
		Filters: []filter.Spec{},
		Detector: DetectorConfig{
			Config: detector.DefaultConfig(),
		},
		Finger: finger.DefaultColorConfig(),
		Session: SessionConfig{
			Mode:                    session.ModeFace.String(),
			Debounce:                finger.DefaultWindow,
			TickInterval:            session.DefaultTickInterval,
			CountdownStart:          countdown.DefaultStart,
			CountdownStep:           countdown.DefaultStep,
			FramesCapturedThreshold: rate.DefaultCapacity,
		},
		Rate: RateConfig{
			Window:        rate.DefaultWindow,
			MinProminence: rate.DefaultMinProminence,
			Timeout:       rate.DefaultExecTimeout,
		},
		Torch: TorchConfig{Kind: TorchNone},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8420",
			StaticDir:      "web",
			SampleInterval: server.DefaultSampleInterval,
		},
		Store: StoreConfig{Path: defaultStorePath()},
		MQTT: emitter.Config{
			ClientID: "pulselab",
			Topic:    emitter.DefaultTopic,
		},
		Log:  LogConfig{Level: logging.DefaultLevel},
		Tray: TrayConfig{Enabled: true},
	}
}

// defaultStorePath is ~/.pulselab/pulselab.db, or the working directory when
// there is no home.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pulselab.db"
	}
	return filepath.Join(home, ".pulselab", "pulselab.db")
}

// Load reads path over the defaults and validates the result. An empty path
// or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document omits, and
// validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, "parse yaml")
	}
	return Validate(cfg)
}
