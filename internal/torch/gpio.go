package torch

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// DefaultPWMFrequency is used when GPIOConfig.PWMHz is zero.
const DefaultPWMFrequency = 1000 * physic.Hertz

// GPIOConfig describes an LED driven by a PWM capable pin.
type GPIOConfig struct {
	// Pin is the periph pin name, for example "GPIO18".
	Pin string `yaml:"pin"`
	// PWMHz is the PWM carrier frequency.
	PWMHz int `yaml:"pwm_hz"`
	// ThermalZone is a sysfs file reporting millidegrees Celsius. Empty
	// disables the thermal check.
	ThermalZone string `yaml:"thermal_zone"`
	// MaxTempC is the temperature above which On refuses.
	MaxTempC float64 `yaml:"max_temp_c"`
}

// pwmPin is the subset of gpio.PinIO the torch needs.
type pwmPin interface {
	Out(l gpio.Level) error
	PWM(duty gpio.Duty, f physic.Frequency) error
}

// GPIO is a Torch on a PWM pin. Brightness maps to the duty cycle.
type GPIO struct {
	mu     sync.Mutex
	pin    pwmPin
	freq   physic.Frequency
	config GPIOConfig
	logger *zap.SugaredLogger
	on     bool
}

// NewGPIO initializes the host drivers and opens the configured pin.
func NewGPIO(config GPIOConfig, logger *zap.SugaredLogger) (*GPIO, error) {
	if config.Pin == "" {
		return nil, errors.New("torch: gpio pin not set")
	}
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "torch: init host drivers")
	}
	pin := gpioreg.ByName(config.Pin)
	if pin == nil {
		return nil, errors.Errorf("torch: no gpio pin named %q", config.Pin)
	}
	return newGPIO(pin, config, logger), nil
}

func newGPIO(pin pwmPin, config GPIOConfig, logger *zap.SugaredLogger) *GPIO {
	freq := DefaultPWMFrequency
	if config.PWMHz > 0 {
		freq = physic.Frequency(config.PWMHz) * physic.Hertz
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &GPIO{pin: pin, freq: freq, config: config, logger: logger}
}

// On sets the duty cycle to level. A PWM failure or a hot thermal zone is
// reported as overheating.
func (g *GPIO) On(level float64) bool {
	if level <= 0 || level > 1 {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if hot, temp := g.overheated(); hot {
		g.logger.Warnw("torch refused, thermal limit", "temp_c", temp, "max_c", g.config.MaxTempC)
		return true
	}

	duty := gpio.Duty(level * float64(gpio.DutyMax))
	if err := g.pin.PWM(duty, g.freq); err != nil {
		g.logger.Warnw("torch pwm failed", "pin", g.config.Pin, "error", err)
		return true
	}
	g.on = true
	return false
}

// Off drives the pin low.
func (g *GPIO) Off() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.on {
		return
	}
	if err := g.pin.Out(gpio.Low); err != nil {
		g.logger.Warnw("torch off failed", "pin", g.config.Pin, "error", err)
	}
	g.on = false
}

// IsOn reports whether the pin is driving the LED.
func (g *GPIO) IsOn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.on
}

func (g *GPIO) overheated() (bool, float64) {
	if g.config.ThermalZone == "" || g.config.MaxTempC <= 0 {
		return false, 0
	}
	temp, err := readThermalZone(g.config.ThermalZone)
	if err != nil {
		g.logger.Debugw("thermal zone unreadable", "path", g.config.ThermalZone, "error", err)
		return false, 0
	}
	return temp > g.config.MaxTempC, temp
}

// readThermalZone parses a sysfs millidegree reading.
func readThermalZone(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "read thermal zone")
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse thermal zone")
	}
	return milli / 1000, nil
}
