// Package pipeline wires the per-frame control loop: stereo frames in,
// mirror commands out. One control decision per incoming frame pair;
// freshness beats completeness throughout.
package pipeline

import (
	"context"
	"time"

	"github.com/banshee-data/beamtrack/internal/aim"
	"github.com/banshee-data/beamtrack/internal/stereo"
	"github.com/banshee-data/beamtrack/internal/track"
)

// Image is an opaque handle to one camera frame. The pipeline never touches
// pixels; frames pass straight through to the detector capability.
type Image interface{}

// StereoFrame is one synchronized left/right pair with its capture timestamp.
type StereoFrame struct {
	Left      Image
	Right     Image
	Timestamp time.Time
}

// FrameSource supplies synchronized stereo pairs at a fixed rate. The capture
// path (camera drivers, rectification) lives behind this boundary.
type FrameSource interface {
	// Frames returns the channel of incoming frame pairs. The source
	// closes it on shutdown.
	Frames() <-chan StereoFrame

	// Close stops the source.
	Close() error
}

// Detector scores one image for targets. The real implementation wraps an
// externally trained model; tests substitute deterministic stubs. Eye and
// timestamp are attached by the pipeline after the call.
type Detector interface {
	Detect(ctx context.Context, img Image) ([]stereo.Detection, error)
}

// DetectorFunc adapts a plain function to the Detector interface.
type DetectorFunc func(ctx context.Context, img Image) ([]stereo.Detection, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, img Image) ([]stereo.Detection, error) {
	return f(ctx, img)
}

// RecordSink receives per-frame tracking and aiming outputs for persistence.
// Implementations must be fast or buffer internally; the sink is called on
// the control path.
type RecordSink interface {
	RecordTrackObservation(tr *track.TrackedTarget, ts time.Time) error
	RecordAimEvent(trackID string, cmd aim.AimCommand, writeTimeout bool, ts time.Time) error
}

// Metrics counts control-loop events since start. Read after Run returns, or
// via Loop.Metrics() from the loop goroutine's perspective (values are only
// written by the loop itself).
type Metrics struct {
	FramesProcessed     int64
	FramesDropped       int64 // Superseded before processing started
	StaleResultsDropped int64 // Processed too late to act on
	DetectorErrors      int64
	Localizations       int64
	CommandsIssued      int64
	CommandHolds        int64 // Deadband or no-target periods
	ClampEvents         int64
	ActuatorTimeouts    int64 // Missed control periods
}
