// Package testdata builds synthetic frames for pipeline tests.
package testdata

import (
	"math"

	"gocv.io/x/gocv"
)

const (
	// Width of generated frames.
	Width = 160
	// Height of generated frames.
	Height = 120
)

// SolidFrame returns a frame filled with one BGR colour.
func SolidFrame(b, g, r float64) *gocv.Mat {
	mat := gocv.NewMatWithSize(Height, Width, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(b, g, r, 0))
	return &mat
}

// FingerFrame looks like a torch-lit fingertip over the lens.
func FingerFrame() *gocv.Mat {
	return SolidFrame(20, 25, 200)
}

// AmbientFrame looks like an uncovered lens in a grey room.
func AmbientFrame() *gocv.Mat {
	return SolidFrame(110, 115, 120)
}

// PulseSequence returns n finger frames whose red level follows a sine wave
// at bpm beats per minute, sampled at fps.
func PulseSequence(n int, fps, bpm float64) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, n)
	for i := 0; i < n; i++ {
		red := 180 + 20*math.Sin(2*math.Pi*bpm/60*float64(i)/fps)
		frames = append(frames, SolidFrame(20, 25, red))
	}
	return frames
}

// PulseSamples returns the red levels PulseSequence would produce.
func PulseSamples(n int, fps, bpm float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 180 + 20*math.Sin(2*math.Pi*bpm/60*float64(i)/fps)
	}
	return out
}

// CloseAll releases frames.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}
