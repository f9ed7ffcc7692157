// Package main provides a rate summarizer plugin that reports the median
// beat interval instead of the mean peak count, which holds up better when a
// finger shifts mid-measurement.
//
// It reads a rate.ExecRequest from stdin and writes a rate.ExecResponse to
// stdout.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/montanaflynn/stats"

	"github.com/ayusman/pulselab/internal/rate"
)

func main() {
	var req rate.ExecRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(rate.ExecResponse{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}

	bpm, err := medianBPM(req.Samples, req.FPS)
	if err != nil {
		writeResponse(rate.ExecResponse{Error: err.Error()})
		return
	}
	writeResponse(rate.ExecResponse{Success: true, Text: fmt.Sprintf("%d BPM", int(math.Round(bpm)))})
}

// medianBPM converts the median spacing of detected peaks to beats per minute.
func medianBPM(samples []float64, fps float64) (float64, error) {
	if fps <= 0 {
		fps = rate.DefaultFPS
	}
	smoothed := rate.Smooth(samples, rate.DefaultWindow)
	minDistance := int(fps * 60 / rate.MaxBPM)
	peaks, err := rate.FindPeaks(smoothed, rate.DefaultMinProminence, minDistance)
	if err != nil {
		return 0, err
	}
	if len(peaks) < 2 {
		return 0, fmt.Errorf("need at least 2 peaks, found %d", len(peaks))
	}

	intervals := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		intervals = append(intervals, float64(peaks[i]-peaks[i-1]))
	}
	median, err := stats.Median(intervals)
	if err != nil {
		return 0, fmt.Errorf("median interval: %w", err)
	}
	return 60 * fps / median, nil
}

func writeResponse(resp rate.ExecResponse) {
	if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode response: %v\n", err)
		os.Exit(1)
	}
}
