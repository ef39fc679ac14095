// Package track maintains persistent target identities across frames and
// predicts short-horizon future positions. Insect flight is jittery and
// reverses direction within tens of milliseconds, so the motion model is a
// short sliding window of finite differences with recency weighting and an
// explicit confidence horizon, not a state-space filter — there is no
// persistent heading to exploit.
package track

import (
	"math"
	"time"

	"github.com/banshee-data/beamtrack/internal/stereo"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // New track, needs confirmation
	TrackConfirmed TrackState = "confirmed" // Stable track with sufficient consecutive hits
	TrackLost      TrackState = "lost"      // Starved of observations, pending removal
)

// TrackPoint is a single localization in a track's history window.
type TrackPoint struct {
	XMm       float64
	YMm       float64
	ZMm       float64
	Timestamp time.Time
}

// TrackedTarget is one persistent target identity. Mutated only by the
// tracker, which is owned by the control loop goroutine.
type TrackedTarget struct {
	TrackID string
	State   TrackState

	// Lifecycle counters
	Hits   int // Consecutive supporting localizations
	Misses int // Consecutive missed frames

	FirstSeen time.Time
	LastSeen  time.Time

	// Current position (mm, rig frame) — the most recent supporting
	// localization.
	XMm float64
	YMm float64
	ZMm float64

	// Velocity estimate (mm/s), finite-difference over the history window
	// with recent steps weighted more.
	VXMmPerSec float64
	VYMmPerSec float64
	VZMmPerSec float64

	// History is the bounded window of recent supporting localizations,
	// oldest first.
	History []TrackPoint

	// Aggregates for reporting
	ObservationCount int
	PeakSpeedMps     float64
	SigmaZMmLast     float64
}

// Prediction is a short-horizon position estimate for one track.
type Prediction struct {
	TrackID string
	XMm     float64
	YMm     float64
	ZMm     float64

	// Timestamp travels through to the aim command so staleness is
	// detectable end-to-end. PredictAt fills in the evaluation instant;
	// the control loop restamps it with the frame capture time before
	// the prediction reaches the controller.
	Timestamp time.Time

	// LowConfidence is set when the elapsed time since the last supporting
	// localization exceeds the prediction horizon. Beyond that the target
	// has likely changed direction, so callers should prefer the last
	// confirmed position over the extrapolation.
	LowConfidence bool
}

// RangeMm returns the straight-line distance from the rig origin.
func (t *TrackedTarget) RangeMm() float64 {
	return math.Sqrt(t.XMm*t.XMm + t.YMm*t.YMm + t.ZMm*t.ZMm)
}

// SpeedMps returns the current estimated speed in metres per second.
func (t *TrackedTarget) SpeedMps() float64 {
	v := math.Sqrt(t.VXMmPerSec*t.VXMmPerSec + t.VYMmPerSec*t.VYMmPerSec + t.VZMmPerSec*t.VZMmPerSec)
	return v / 1000.0
}

// Age returns how long the track has existed as of now.
func (t *TrackedTarget) Age(now time.Time) time.Duration {
	return now.Sub(t.FirstSeen)
}

// observe appends a supporting localization, trims the window, and refreshes
// the velocity estimate.
func (t *TrackedTarget) observe(loc stereo.Localization, window int) {
	t.XMm = loc.XMm
	t.YMm = loc.YMm
	t.ZMm = loc.ZMm
	t.SigmaZMmLast = loc.SigmaZMm
	t.LastSeen = loc.Timestamp
	t.ObservationCount++

	t.History = append(t.History, TrackPoint{
		XMm:       loc.XMm,
		YMm:       loc.YMm,
		ZMm:       loc.ZMm,
		Timestamp: loc.Timestamp,
	})
	if len(t.History) > window {
		t.History = t.History[len(t.History)-window:]
	}

	t.estimateVelocity()

	if s := t.SpeedMps(); s > t.PeakSpeedMps {
		t.PeakSpeedMps = s
	}
}

// estimateVelocity derives velocity from consecutive finite differences over
// the history window. Step k (1-based from the oldest) gets weight k, so the
// newest difference dominates; a single-sample history yields zero velocity.
func (t *TrackedTarget) estimateVelocity() {
	if len(t.History) < 2 {
		t.VXMmPerSec = 0
		t.VYMmPerSec = 0
		t.VZMmPerSec = 0
		return
	}

	var sumVX, sumVY, sumVZ, sumW float64
	for k := 1; k < len(t.History); k++ {
		prev := t.History[k-1]
		cur := t.History[k]
		dt := cur.Timestamp.Sub(prev.Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		w := float64(k)
		sumVX += w * (cur.XMm - prev.XMm) / dt
		sumVY += w * (cur.YMm - prev.YMm) / dt
		sumVZ += w * (cur.ZMm - prev.ZMm) / dt
		sumW += w
	}
	if sumW == 0 {
		return
	}
	t.VXMmPerSec = sumVX / sumW
	t.VYMmPerSec = sumVY / sumW
	t.VZMmPerSec = sumVZ / sumW
}

// PredictAt extrapolates the track position to the given time. Once the
// elapsed time exceeds horizon the prediction falls back to the last known
// position and is flagged low-confidence.
func (t *TrackedTarget) PredictAt(at time.Time, horizon time.Duration) Prediction {
	elapsed := at.Sub(t.LastSeen)
	p := Prediction{
		TrackID:   t.TrackID,
		XMm:       t.XMm,
		YMm:       t.YMm,
		ZMm:       t.ZMm,
		Timestamp: at,
	}

	if elapsed <= 0 {
		return p
	}
	if elapsed > horizon {
		p.LowConfidence = true
		return p
	}

	dt := elapsed.Seconds()
	p.XMm += t.VXMmPerSec * dt
	p.YMm += t.VYMmPerSec * dt
	p.ZMm += t.VZMmPerSec * dt
	return p
}
