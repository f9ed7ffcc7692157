// Package detector finds faces and facial landmarks in frames.
package detector

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Landmark names filled by detectors that support them.
const (
	LeftEye  = "leftEye"
	RightEye = "rightEye"
	Mouth    = "mouth"
	Nose     = "nose"
)

// FaceDetector defines the interface for face detection implementations.
type FaceDetector interface {
	// DetectFaces analyzes a frame and returns the detected faces.
	// Returns an empty slice if no faces are detected.
	DetectFaces(frame *gocv.Mat) ([]Feature, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Feature is one detected face in frame coordinates.
type Feature struct {
	Bounds    image.Rectangle
	Landmarks map[string]image.Point
	// TrackID is non-zero when tracking is enabled.
	TrackID int
	// Confidence is the tracking confidence, 1 for fresh detections.
	Confidence float64
}

// Accuracy trades detection speed for recall.
type Accuracy string

const (
	AccuracyLow  Accuracy = "low"
	AccuracyHigh Accuracy = "high"
)

// Config holds configuration options for face detection.
type Config struct {
	// Accuracy is low or high (default: high).
	Accuracy Accuracy `yaml:"accuracy"`

	// TrackingEnabled carries faces across frames while their tracking
	// confidence stays above the threshold.
	TrackingEnabled bool `yaml:"tracking"`

	// MinFeatureSize is the smallest face as a fraction of the shorter frame
	// side, in (0, 1] (default: 0.1).
	MinFeatureSize float64 `yaml:"min_feature_size"`

	// MaxFeatureCount caps the faces returned, 1 to 50 (default: 25).
	MaxFeatureCount int `yaml:"max_feature_count"`

	// NumberOfAngles is how many rotations to search: 1, 3, 5, 7, 9 or 11
	// (default: 1).
	NumberOfAngles int `yaml:"number_of_angles"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Accuracy:        AccuracyHigh,
		TrackingEnabled: false,
		MinFeatureSize:  0.1,
		MaxFeatureCount: 25,
		NumberOfAngles:  1,
	}
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("detector: invalid config")

// Validate checks every field against its documented range.
func (c Config) Validate() error {
	switch c.Accuracy {
	case AccuracyLow, AccuracyHigh:
	default:
		return errors.Wrapf(ErrInvalidConfig, "accuracy %q", c.Accuracy)
	}
	if c.MinFeatureSize <= 0 || c.MinFeatureSize > 1 {
		return errors.Wrapf(ErrInvalidConfig, "min feature size %v", c.MinFeatureSize)
	}
	if c.MaxFeatureCount < 1 || c.MaxFeatureCount > 50 {
		return errors.Wrapf(ErrInvalidConfig, "max feature count %d", c.MaxFeatureCount)
	}
	switch c.NumberOfAngles {
	case 1, 3, 5, 7, 9, 11:
	default:
		return errors.Wrapf(ErrInvalidConfig, "number of angles %d", c.NumberOfAngles)
	}
	return nil
}

// Angles returns the rotations in degrees searched for this config, the
// upright pass first.
func (c Config) Angles() []float64 {
	n := c.NumberOfAngles
	if n < 1 {
		n = 1
	}
	angles := []float64{0}
	for k := 1; k <= (n-1)/2; k++ {
		angles = append(angles, float64(30*k), float64(-30*k))
	}
	return angles
}

// IoU returns the intersection over union of two rectangles.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := area(inter)
	union := area(a) + area(b) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}

func area(r image.Rectangle) float64 {
	return float64(r.Dx() * r.Dy())
}
