// Package finger decides whether a fingertip covers the camera lens and
// debounces the resulting torch actuation.
package finger

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when the frame holds no pixels.
var ErrEmptyFrame = errors.New("finger: empty frame")

// Reading is the per-frame result of occlusion detection.
type Reading struct {
	Present bool
	// Intensity is the mean red channel value, the sample recorded during a
	// measurement.
	Intensity float64
}

// Detector is the finger-occlusion predicate.
type Detector interface {
	// Detect analyzes frame. previous is the debounced state from the last
	// frame and lets implementations apply hysteresis.
	Detect(frame *gocv.Mat, previous bool) (Reading, error)
}

// ColorConfig holds the colour heuristic thresholds.
type ColorConfig struct {
	// MinRed is the minimum mean red value of a covered lens.
	MinRed float64 `yaml:"min_red"`
	// Dominance is how many times red must exceed green and blue.
	Dominance float64 `yaml:"dominance"`
	// Hysteresis relaxes both thresholds by this fraction while a finger is
	// already present.
	Hysteresis float64 `yaml:"hysteresis"`
}

// DefaultColorConfig returns thresholds tuned for a torch-lit fingertip.
func DefaultColorConfig() ColorConfig {
	return ColorConfig{
		MinRed:     40,
		Dominance:  1.5,
		Hysteresis: 0.2,
	}
}

// ColorDetector flags a finger when the frame is dominated by red.
type ColorDetector struct {
	config ColorConfig
}

// NewColorDetector creates a ColorDetector. Zero fields take their defaults.
func NewColorDetector(config ColorConfig) *ColorDetector {
	def := DefaultColorConfig()
	if config.MinRed <= 0 {
		config.MinRed = def.MinRed
	}
	if config.Dominance <= 0 {
		config.Dominance = def.Dominance
	}
	if config.Hysteresis < 0 || config.Hysteresis >= 1 {
		config.Hysteresis = def.Hysteresis
	}
	return &ColorDetector{config: config}
}

// Detect computes the mean BGR colour of frame.
func (d *ColorDetector) Detect(frame *gocv.Mat, previous bool) (Reading, error) {
	if frame == nil || frame.Empty() {
		return Reading{}, ErrEmptyFrame
	}
	if frame.Channels() < 3 {
		return Reading{}, errors.Errorf("finger: need 3 channels, got %d", frame.Channels())
	}

	mean := frame.Mean()
	blue, green, red := mean.Val1, mean.Val2, mean.Val3

	minRed := d.config.MinRed
	dominance := d.config.Dominance
	if previous {
		minRed *= 1 - d.config.Hysteresis
		dominance = 1 + (dominance-1)*(1-d.config.Hysteresis)
	}

	present := red >= minRed && red >= dominance*green && red >= dominance*blue
	return Reading{Present: present, Intensity: red}, nil
}
