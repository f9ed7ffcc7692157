package config

import (
	"os/exec"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ayusman/pulselab/internal/capture"
	"github.com/ayusman/pulselab/internal/filter"
	"github.com/ayusman/pulselab/internal/logging"
	"github.com/ayusman/pulselab/internal/session"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}

// Validate checks every section and returns all problems found.
func Validate(cfg *Config) error {
	var err error
	err = multierr.Append(err, validateCamera(cfg.Camera))
	err = multierr.Append(err, validateFilters(cfg.Filters))
	if derr := cfg.Detector.Config.Validate(); derr != nil {
		err = multierr.Append(err, invalid("detector: %v", derr))
	}
	err = multierr.Append(err, validateFinger(cfg))
	err = multierr.Append(err, validateSession(cfg.Session))
	err = multierr.Append(err, validateRate(cfg.Rate))
	err = multierr.Append(err, validateTorch(cfg.Torch))

	if cfg.Server.Addr == "" {
		err = multierr.Append(err, invalid("server.addr is required"))
	}
	if cfg.Server.SampleInterval < 0 {
		err = multierr.Append(err, invalid("server.sample_interval must be >= 0"))
	}
	if cfg.Store.Path == "" {
		err = multierr.Append(err, invalid("store.path is required"))
	}

	if cfg.MQTT.QoS > 2 {
		err = multierr.Append(err, invalid("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS))
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.ClientID == "" {
		err = multierr.Append(err, invalid("mqtt.client_id is required with a broker"))
	}

	if _, lerr := logging.NewConfig(cfg.Log.Level, cfg.Log.Development); lerr != nil {
		err = multierr.Append(err, invalid("log.level: %v", lerr))
	}
	return err
}

func validateCamera(c CameraConfig) error {
	var err error
	if _, perr := capture.ParsePosition(c.Position); perr != nil {
		err = multierr.Append(err, invalid("camera.position: %v", perr))
	}
	if c.FPS < 1 || c.FPS > 120 {
		err = multierr.Append(err, invalid("camera.fps must be in 1..120, got %d", c.FPS))
	}
	if c.FrontDevice < 0 || c.BackDevice < 0 {
		err = multierr.Append(err, invalid("camera devices must be >= 0"))
	}
	return err
}

func validateFilters(specs []filter.Spec) error {
	known := make(map[string]bool)
	for _, name := range filter.Available() {
		known[name] = true
	}

	var err error
	for i, spec := range specs {
		if !known[spec.Name] {
			err = multierr.Append(err, invalid("filters[%d]: unknown filter %q", i, spec.Name))
		}
	}
	return err
}

func validateFinger(cfg *Config) error {
	f := cfg.Finger
	var err error
	if f.MinRed < 0 || f.MinRed > 255 {
		err = multierr.Append(err, invalid("finger.min_red must be in 0..255"))
	}
	if f.Dominance < 1 {
		err = multierr.Append(err, invalid("finger.dominance must be >= 1"))
	}
	if f.Hysteresis < 0 || f.Hysteresis >= 1 {
		err = multierr.Append(err, invalid("finger.hysteresis must be in [0, 1)"))
	}
	return err
}

func validateSession(s SessionConfig) error {
	var err error
	if _, merr := session.ParseMode(s.Mode); merr != nil {
		err = multierr.Append(err, invalid("session.mode: %v", merr))
	}
	if s.Debounce < 0 {
		err = multierr.Append(err, invalid("session.debounce must be >= 0"))
	}
	if s.TickInterval <= 0 {
		err = multierr.Append(err, invalid("session.tick_interval must be > 0"))
	}
	if s.CountdownStart <= 0 {
		err = multierr.Append(err, invalid("session.countdown_start must be > 0"))
	}
	if s.CountdownStep <= 0 || s.CountdownStep > s.CountdownStart {
		err = multierr.Append(err, invalid("session.countdown_step must be in 1..countdown_start"))
	}
	if s.FramesCapturedThreshold <= 0 {
		err = multierr.Append(err, invalid("session.frames_captured_threshold must be > 0"))
	}
	return err
}

func validateRate(r RateConfig) error {
	var err error
	if r.Window < 1 {
		err = multierr.Append(err, invalid("rate.window must be >= 1"))
	}
	if r.MinProminence < 0 {
		err = multierr.Append(err, invalid("rate.min_prominence must be >= 0"))
	}
	if r.Timeout < 0 {
		err = multierr.Append(err, invalid("rate.timeout must be >= 0"))
	}
	if r.Plugin != "" {
		if _, lerr := exec.LookPath(r.Plugin); lerr != nil {
			err = multierr.Append(err, invalid("rate.plugin %q: %v", r.Plugin, lerr))
		}
	}
	return err
}

func validateTorch(t TorchConfig) error {
	switch t.Kind {
	case TorchNone, "":
		return nil
	case TorchGPIO:
	default:
		return invalid("torch.kind must be %q or %q, got %q", TorchNone, TorchGPIO, t.Kind)
	}

	var err error
	if t.Pin == "" {
		err = multierr.Append(err, invalid("torch.pin is required for gpio"))
	}
	if t.PWMHz < 0 {
		err = multierr.Append(err, invalid("torch.pwm_hz must be >= 0"))
	}
	if t.MaxTempC < 0 {
		err = multierr.Append(err, invalid("torch.max_temp_c must be >= 0"))
	}
	return err
}
