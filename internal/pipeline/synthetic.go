package pipeline

import (
	"context"
	"time"

	"github.com/banshee-data/beamtrack/internal/stereo"
	"github.com/banshee-data/beamtrack/internal/timeutil"
)

// TargetPath is a scripted 3-D trajectory for the synthetic source: rig-frame
// position (mm) as a function of elapsed time.
type TargetPath func(elapsed time.Duration) (xMm, yMm, zMm float64, present bool)

// ProjectTarget computes the left/right detections a target at the given
// rig-frame position would produce, using the rig geometry. The disparity
// follows directly from depth: d = baseline·fx / z.
func ProjectTarget(rig *stereo.CalibratedRig, xMm, yMm, zMm, boxPx, confidence float64) (left, right stereo.Detection) {
	uL := rig.Left.Cx + xMm*rig.Left.Fx/zMm
	v := rig.Left.Cy + yMm*rig.Left.Fy/zMm
	disparity := rig.Stereo.BaselineMm * rig.Left.Fx / zMm

	left = stereo.Detection{
		Box:        stereo.BoundingBox{X: uL - boxPx/2, Y: v - boxPx/2, W: boxPx, H: boxPx},
		Confidence: confidence,
	}
	right = stereo.Detection{
		Box:        stereo.BoundingBox{X: uL - disparity - boxPx/2, Y: v - boxPx/2, W: boxPx, H: boxPx},
		Confidence: confidence,
	}
	return left, right
}

// syntheticImage carries pre-computed detections through the opaque Image
// slot, paired with StubDetector below.
type syntheticImage struct {
	detections []stereo.Detection
}

// StubDetector returns the detections embedded in synthetic frames. Real
// images yield no detections.
type StubDetector struct{}

// Detect implements Detector.
func (StubDetector) Detect(_ context.Context, img Image) ([]stereo.Detection, error) {
	si, ok := img.(syntheticImage)
	if !ok {
		return nil, nil
	}
	out := make([]stereo.Detection, len(si.detections))
	copy(out, si.detections)
	return out, nil
}

// SyntheticSource emits stereo frames for a scripted target path at a fixed
// period. Used by dev mode and end-to-end tests.
type SyntheticSource struct {
	rig    *stereo.CalibratedRig
	path   TargetPath
	period time.Duration
	clock  timeutil.Clock
	boxPx  float64

	ticker timeutil.Ticker
	frames chan StereoFrame
	stop   chan struct{}
}

// NewSyntheticSource creates a source that generates count frames along the
// path, then closes. A count of 0 runs until Close.
func NewSyntheticSource(rig *stereo.CalibratedRig, path TargetPath, period time.Duration, count int, clock timeutil.Clock) *SyntheticSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &SyntheticSource{
		rig:    rig,
		path:   path,
		period: period,
		clock:  clock,
		boxPx:  6.0,
		ticker: clock.NewTicker(period),
		frames: make(chan StereoFrame, 1),
		stop:   make(chan struct{}),
	}
	go s.run(count, clock.Now())
	return s
}

// Frames implements FrameSource.
func (s *SyntheticSource) Frames() <-chan StereoFrame {
	return s.frames
}

// Close implements FrameSource.
func (s *SyntheticSource) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return nil
}

// FrameAt builds the stereo frame the path would produce at the given
// elapsed offset and capture time. Exposed so tests can step frames without
// the ticker.
func (s *SyntheticSource) FrameAt(elapsed time.Duration, ts time.Time) StereoFrame {
	x, y, z, present := s.path(elapsed)
	frame := StereoFrame{Timestamp: ts}
	if present && z > 0 {
		left, right := ProjectTarget(s.rig, x, y, z, s.boxPx, 0.9)
		frame.Left = syntheticImage{detections: []stereo.Detection{left}}
		frame.Right = syntheticImage{detections: []stereo.Detection{right}}
	} else {
		frame.Left = syntheticImage{}
		frame.Right = syntheticImage{}
	}
	return frame
}

func (s *SyntheticSource) run(count int, start time.Time) {
	defer close(s.frames)
	defer s.ticker.Stop()

	emitted := 0
	for {
		select {
		case <-s.stop:
			return
		case now := <-s.ticker.C():
			frame := s.FrameAt(now.Sub(start), now)
			select {
			case s.frames <- frame:
			default:
				// Consumer is behind; superseding the queued frame
				// keeps only the freshest.
				select {
				case <-s.frames:
				default:
				}
				s.frames <- frame
			}
			emitted++
			if count > 0 && emitted >= count {
				return
			}
		}
	}
}
