package rate

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// ErrNotEnoughSamples is returned when the buffer is too short to summarize.
var ErrNotEnoughSamples = errors.New("rate: not enough samples")

// Summarizer reduces a sample buffer to display text. Summarize runs off the
// session goroutine and may be called again before an earlier call returns.
type Summarizer interface {
	Summarize(samples []float64) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(samples []float64) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(samples []float64) (string, error) {
	return f(samples)
}

const (
	// DefaultFPS is the assumed sample rate.
	DefaultFPS = 30.0
	// DefaultWindow is the moving average width.
	DefaultWindow = 5
	// DefaultMinProminence is the peak height in standard deviations above
	// the mean.
	DefaultMinProminence = 0.3
	// MaxBPM bounds the spacing between two accepted peaks.
	MaxBPM = 200.0
	// minSeconds of signal required before a rate is computed.
	minSeconds = 2.0
)

// PeakSummarizer counts peaks of the smoothed signal and scales them to beats
// per minute.
type PeakSummarizer struct {
	FPS           float64
	Window        int
	MinProminence float64
}

// NewPeakSummarizer creates a PeakSummarizer. Zero arguments take defaults.
func NewPeakSummarizer(fps float64, window int, minProminence float64) *PeakSummarizer {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if minProminence <= 0 {
		minProminence = DefaultMinProminence
	}
	return &PeakSummarizer{FPS: fps, Window: window, MinProminence: minProminence}
}

// Summarize returns the rate as "N BPM".
func (p *PeakSummarizer) Summarize(samples []float64) (string, error) {
	bpm, err := p.BPM(samples)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d BPM", int(math.Round(bpm))), nil
}

// BPM computes the rate for samples.
func (p *PeakSummarizer) BPM(samples []float64) (float64, error) {
	if float64(len(samples)) < minSeconds*p.FPS {
		return 0, ErrNotEnoughSamples
	}

	smoothed := Smooth(samples, p.Window)
	minDistance := int(p.FPS * 60 / MaxBPM)
	peaks, err := FindPeaks(smoothed, p.MinProminence, minDistance)
	if err != nil {
		return 0, err
	}

	seconds := float64(len(samples)) / p.FPS
	return float64(len(peaks)) * 60 / seconds, nil
}

// Smooth applies a centered moving average of the given width. Edges average
// over the samples available.
func Smooth(samples []float64, window int) []float64 {
	out := make([]float64, len(samples))
	if window <= 1 {
		copy(out, samples)
		return out
	}

	half := window / 2
	for i := range samples {
		lo := max(0, i-half)
		hi := min(len(samples), i+half+1)
		sum := 0.0
		for _, v := range samples[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

// FindPeaks returns the indices of local maxima rising at least
// minProminence standard deviations above the mean. Peaks closer than
// minDistance samples collapse into the higher one.
func FindPeaks(samples []float64, minProminence float64, minDistance int) ([]int, error) {
	if len(samples) < 3 {
		return nil, nil
	}

	mean, err := stats.Mean(samples)
	if err != nil {
		return nil, errors.Wrap(err, "rate: mean")
	}
	stddev, err := stats.StandardDeviation(samples)
	if err != nil {
		return nil, errors.Wrap(err, "rate: standard deviation")
	}
	if stddev == 0 {
		return nil, nil
	}

	threshold := mean + minProminence*stddev
	var peaks []int
	for i := 1; i < len(samples)-1; i++ {
		v := samples[i]
		if v <= samples[i-1] || v < samples[i+1] || v < threshold {
			continue
		}
		if n := len(peaks); n > 0 && i-peaks[n-1] < minDistance {
			if v > samples[peaks[n-1]] {
				peaks[n-1] = i
			}
			continue
		}
		peaks = append(peaks, i)
	}
	return peaks, nil
}
