package detector

import "sync"

const (
	// DefaultTrackingThreshold is the confidence a track must exceed to be kept.
	DefaultTrackingThreshold = 0.3
	// trackingDecay scales the confidence of a track missed for one frame.
	trackingDecay = 0.5
)

// Observation is a tracked face after one Update.
type Observation struct {
	Feature
	// Terminal is set on the last report of a dropped track.
	Terminal bool
}

type track struct {
	feature  Feature
	terminal bool
}

// Tracker carries faces forward across frames. A match keeps a track alive
// with its overlap as confidence; a miss decays it. Tracks whose confidence
// no longer exceeds the threshold, or that were dropped, are reported once
// as terminal and then forgotten.
type Tracker struct {
	mu        sync.Mutex
	threshold float64
	nextID    int
	tracks    []*track
}

// NewTracker creates a Tracker. A non-positive threshold selects the default.
func NewTracker(threshold float64) *Tracker {
	if threshold <= 0 {
		threshold = DefaultTrackingThreshold
	}
	return &Tracker{threshold: threshold}
}

// Update matches this frame's detections to the existing tracks.
func (t *Tracker) Update(features []Feature) []Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	used := make([]bool, len(features))
	for _, tr := range t.tracks {
		if tr.terminal {
			continue
		}
		best, bestIoU := -1, t.threshold
		for i, f := range features {
			if used[i] {
				continue
			}
			if iou := IoU(tr.feature.Bounds, f.Bounds); iou > bestIoU {
				best, bestIoU = i, iou
			}
		}
		if best < 0 {
			tr.feature.Confidence *= trackingDecay
		} else {
			used[best] = true
			id := tr.feature.TrackID
			tr.feature = features[best]
			tr.feature.TrackID = id
			tr.feature.Confidence = bestIoU
		}
		if tr.feature.Confidence <= t.threshold {
			tr.terminal = true
		}
	}

	for i, f := range features {
		if used[i] {
			continue
		}
		t.nextID++
		f.TrackID = t.nextID
		f.Confidence = 1
		t.tracks = append(t.tracks, &track{feature: f})
	}

	out := make([]Observation, 0, len(t.tracks))
	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		out = append(out, Observation{Feature: tr.feature, Terminal: tr.terminal})
		if !tr.terminal {
			kept = append(kept, tr)
		}
	}
	t.tracks = kept
	return out
}

// Drop marks a track terminal. It is reported once more by the next Update.
func (t *Tracker) Drop(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tr := range t.tracks {
		if tr.feature.TrackID == id {
			tr.terminal = true
		}
	}
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// Live filters out terminal observations.
func Live(obs []Observation) []Feature {
	out := make([]Feature, 0, len(obs))
	for _, o := range obs {
		if !o.Terminal {
			out = append(out, o.Feature)
		}
	}
	return out
}
