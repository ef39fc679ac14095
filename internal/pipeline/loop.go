package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/beamtrack/internal/aim"
	"github.com/banshee-data/beamtrack/internal/galvo"
	"github.com/banshee-data/beamtrack/internal/monitoring"
	"github.com/banshee-data/beamtrack/internal/stereo"
	"github.com/banshee-data/beamtrack/internal/timeutil"
	"github.com/banshee-data/beamtrack/internal/track"
)

// LoopConfig holds the control-loop dependencies and timing.
type LoopConfig struct {
	Source     FrameSource
	Detector   Detector
	Localizer  *stereo.Localizer
	Tracker    *track.Tracker
	Controller *aim.Controller
	Actuator   galvo.Actuator

	// Rig is used to project predictions into image coordinates for
	// feedback error computation.
	Rig *stereo.CalibratedRig

	// ControlPeriod is the frame interval; a frame older than this at
	// decision time is stale and its result is dropped.
	ControlPeriod time.Duration

	// ActuatorTimeout bounds the per-period actuator write.
	ActuatorTimeout time.Duration

	// Sink, when non-nil, receives tracking and aiming records.
	Sink RecordSink

	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// Loop is the fixed-period control loop. Iterations are sequential; the
// tracker and controller are owned by the loop goroutine and never mutated
// concurrently.
type Loop struct {
	cfg     LoopConfig
	clock   timeutil.Clock
	metrics Metrics
}

// NewLoop creates a control loop from its dependencies.
func NewLoop(cfg LoopConfig) *Loop {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Loop{cfg: cfg, clock: clock}
}

// Metrics returns a copy of the loop counters.
func (l *Loop) Metrics() Metrics {
	return l.metrics
}

// Run drives the loop until the context is cancelled or the frame source
// closes. Per-frame anomalies are logged and absorbed; Run only returns an
// error for context cancellation.
func (l *Loop) Run(ctx context.Context) error {
	frames := l.cfg.Source.Frames()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			frame, dropped := l.drainToLatest(frames, frame)
			l.metrics.FramesDropped += int64(dropped)
			l.Step(ctx, frame)
		}
	}
}

// drainToLatest discards any frames already queued behind the one just
// received: when the loop falls behind, it catches up on the freshest frame
// rather than working through a backlog.
func (l *Loop) drainToLatest(frames <-chan StereoFrame, current StereoFrame) (StereoFrame, int) {
	dropped := 0
	for {
		select {
		case next, ok := <-frames:
			if !ok {
				return current, dropped
			}
			dropped++
			current = next
		default:
			return current, dropped
		}
	}
}

// Step runs one control iteration for a frame pair: detect both eyes
// concurrently, join, localize, update tracks, select the engagement target,
// compute and write the aim command.
func (l *Loop) Step(ctx context.Context, frame StereoFrame) {
	l.metrics.FramesProcessed++

	leftDets, rightDets := l.detectBothEyes(ctx, frame)
	locs := l.cfg.Localizer.Localize(leftDets, rightDets, frame.Timestamp)
	l.metrics.Localizations += int64(len(locs))

	l.cfg.Tracker.Update(locs, frame.Timestamp)

	now := l.clock.Now()

	// Bounded-latency policy: a result computed after the next frame is
	// due is discarded rather than acted on.
	if now.Sub(frame.Timestamp) > l.cfg.ControlPeriod {
		l.metrics.StaleResultsDropped++
		monitoring.Debugf("pipeline: dropping stale result (frame %s old)", now.Sub(frame.Timestamp))
		return
	}

	target := l.cfg.Tracker.SelectEngageTarget()

	var pred *track.Prediction
	if target != nil {
		p := target.PredictAt(now, l.cfg.Tracker.Config.PredictionHorizon)
		// Stamp with the capture time, not the decision instant: the
		// command inherits this timestamp, and downstream staleness
		// checks compare against when the data was actually seen.
		p.Timestamp = frame.Timestamp
		pred = &p
	}

	feedback := l.readFeedback(pred, now)
	cmd := l.cfg.Controller.ComputeAim(pred, feedback, now)
	if cmd.Clamped {
		l.metrics.ClampEvents++
	}

	writeTimeout := false
	if cmd.Valid {
		if err := l.writeCommand(ctx, cmd); err != nil {
			if errors.Is(err, galvo.ErrWriteTimeout) {
				// A slow actuator write is a missed control period,
				// not a fault; the next period starts fresh.
				l.metrics.ActuatorTimeouts++
				writeTimeout = true
				monitoring.Logf("pipeline: actuator write missed control period")
			} else {
				monitoring.Logf("pipeline: actuator write failed: %v", err)
			}
		} else {
			l.metrics.CommandsIssued++
		}
	} else {
		l.metrics.CommandHolds++
	}

	l.record(target, pred, cmd, writeTimeout, frame.Timestamp)
}

// detectBothEyes runs the detector on the two eyes concurrently and joins
// before localization. A detector error on one eye yields an empty detection
// set for that eye — no target this frame, not a fault.
func (l *Loop) detectBothEyes(ctx context.Context, frame StereoFrame) (left, right []stereo.Detection) {
	var wg sync.WaitGroup
	wg.Add(2)

	run := func(img Image, eye stereo.Eye, out *[]stereo.Detection) {
		defer wg.Done()
		dets, err := l.cfg.Detector.Detect(ctx, img)
		if err != nil {
			l.metrics.DetectorErrors++
			monitoring.Debugf("pipeline: %s eye detector error: %v", eye, err)
			return
		}
		for i := range dets {
			dets[i].Eye = eye
			dets[i].Timestamp = frame.Timestamp
		}
		*out = dets
	}

	go run(frame.Left, stereo.LeftEye, &left)
	go run(frame.Right, stereo.RightEye, &right)
	wg.Wait()
	return left, right
}

// readFeedback polls the actuator's beam-spot observation, when supported,
// and converts it into the angular error against the intended target.
func (l *Loop) readFeedback(pred *track.Prediction, now time.Time) *aim.FeedbackSample {
	if pred == nil || l.cfg.Rig == nil {
		return nil
	}
	reader, ok := l.cfg.Actuator.(galvo.FeedbackReader)
	if !ok {
		return nil
	}
	pos, ok := reader.ReadFeedback()
	if !ok {
		return nil
	}

	// Project the predicted target into left-image coordinates; the
	// difference to the observed beam spot is the aim error.
	if pred.ZMm <= 0 {
		return nil
	}
	intendedU := l.cfg.Rig.Left.Cx + pred.XMm*l.cfg.Rig.Left.Fx/pred.ZMm
	intendedV := l.cfg.Rig.Left.Cy + pred.YMm*l.cfg.Rig.Left.Fy/pred.ZMm

	fb := aim.FeedbackFromPixels(
		pos.UPx-intendedU,
		pos.VPx-intendedV,
		l.cfg.Rig.Left.Fx,
		l.cfg.Rig.Left.Fy,
		pos.Timestamp,
	)
	return &fb
}

func (l *Loop) writeCommand(ctx context.Context, cmd aim.AimCommand) error {
	writeCtx, cancel := context.WithTimeout(ctx, l.cfg.ActuatorTimeout)
	defer cancel()
	return l.cfg.Actuator.SetAngles(writeCtx, cmd.AngleXRad, cmd.AngleYRad)
}

func (l *Loop) record(target *track.TrackedTarget, pred *track.Prediction, cmd aim.AimCommand, writeTimeout bool, ts time.Time) {
	if l.cfg.Sink == nil {
		return
	}
	if target != nil {
		if err := l.cfg.Sink.RecordTrackObservation(target, ts); err != nil {
			monitoring.Logf("pipeline: record observation failed: %v", err)
		}
	}
	trackID := ""
	if pred != nil {
		trackID = pred.TrackID
	}
	if err := l.cfg.Sink.RecordAimEvent(trackID, cmd, writeTimeout, ts); err != nil {
		monitoring.Logf("pipeline: record aim event failed: %v", err)
	}
}
