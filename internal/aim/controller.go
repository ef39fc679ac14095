// Package aim converts predicted target positions into steering-mirror angle
// commands, closing the loop with beam-spot feedback when available.
package aim

import (
	"math"
	"time"

	"github.com/banshee-data/beamtrack/internal/monitoring"
	"github.com/banshee-data/beamtrack/internal/track"
)

// AimCommand is one pair of mirror angles for a single control period.
// Consumed immediately by the actuator; never persisted as state outside the
// controller.
type AimCommand struct {
	AngleXRad float64
	AngleYRad float64

	// Valid is false when no new command should be written this period:
	// either there is no engageable target (hold last position) or the
	// change fell inside the deadband.
	Valid bool

	// Clamped reports that the requested geometry mapped outside the
	// mirror's travel and the command was limited to the range edge.
	Clamped bool

	// Timestamp is the capture time of the frame this command derives
	// from, carried for end-to-end staleness checks.
	Timestamp time.Time
}

// FeedbackSample is an observed beam-spot error, expressed as the angular
// offset between where the beam landed and where the controller aimed.
// Positive means the beam landed beyond the target on that axis.
type FeedbackSample struct {
	ErrorXRad float64
	ErrorYRad float64
	Timestamp time.Time
}

// FeedbackFromPixels converts a beam-spot pixel offset (observed - intended)
// into an angular FeedbackSample using the camera focal lengths.
func FeedbackFromPixels(duPx, dvPx, fx, fy float64, ts time.Time) FeedbackSample {
	return FeedbackSample{
		ErrorXRad: math.Atan2(duPx, fx),
		ErrorYRad: math.Atan2(dvPx, fy),
		Timestamp: ts,
	}
}

// MirrorGeometry is the fixed offset of the steering mirror's pivot from the
// rig origin, in rig coordinates (mm).
type MirrorGeometry struct {
	OffsetXMm float64
	OffsetYMm float64
	OffsetZMm float64
}

// DeadbandFunc maps the current angular offset from mirror centre to the
// minimum command change worth issuing. Beam jitter grows off-axis, so the
// threshold should grow with offset: fine correction on-axis, no noise
// chasing at the edges.
type DeadbandFunc func(offsetRad float64) float64

// LinearDeadband returns the default deadband: base + slope·offset.
func LinearDeadband(baseRad, slope float64) DeadbandFunc {
	return func(offsetRad float64) float64 {
		return baseRad + slope*math.Abs(offsetRad)
	}
}

// ControllerConfig holds the aim controller limits and gains.
type ControllerConfig struct {
	Mirror MirrorGeometry

	// SlewRateRadPerSec caps the angular step per control period.
	SlewRateRadPerSec float64

	// TravelRangeRad is the symmetric mechanical travel per axis; commands
	// are clamped to ±TravelRangeRad.
	TravelRangeRad float64

	// ControlPeriod is the fixed period the slew cap is computed over.
	ControlPeriod time.Duration

	// Deadband is the minimum-change policy; nil selects LinearDeadband
	// with the defaults below.
	Deadband DeadbandFunc

	// DeadbandBaseRad and DeadbandSlope parameterise the default deadband
	// when Deadband is nil.
	DeadbandBaseRad float64
	DeadbandSlope   float64

	// FeedbackGain scales the integral correction applied per feedback
	// sample.
	FeedbackGain float64

	// FeedbackBiasMaxRad bounds the accumulated correction so noisy
	// feedback cannot drive runaway drift.
	FeedbackBiasMaxRad float64

	// FeedbackStaleAfter freezes the integral term when no feedback has
	// arrived within this window.
	FeedbackStaleAfter time.Duration
}

// DefaultControllerConfig returns controller defaults for the reference
// galvo: ±0.35 rad travel, 20 rad/s slew, 25 ms control period.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		SlewRateRadPerSec:  20.0,
		TravelRangeRad:     0.35,
		ControlPeriod:      25 * time.Millisecond,
		DeadbandBaseRad:    0.0005,
		DeadbandSlope:      0.01,
		FeedbackGain:       0.15,
		FeedbackBiasMaxRad: 0.02,
		FeedbackStaleAfter: 100 * time.Millisecond,
	}
}

// Controller computes one AimCommand per control period. It owns the prior
// command, the deferred slew remainder implied by it, and the feedback bias;
// it is used from the control loop goroutine only.
type Controller struct {
	config   ControllerConfig
	deadband DeadbandFunc

	last         AimCommand
	hasLast      bool
	biasX, biasY float64
	lastFeedback time.Time

	// Counters for degraded-control reporting
	ClampEvents    int64
	DeadbandHolds  int64
	FeedbackFrozen int64
}

// NewController creates an aim controller. The first command starts from
// mirror centre (0, 0).
func NewController(config ControllerConfig) *Controller {
	db := config.Deadband
	if db == nil {
		db = LinearDeadband(config.DeadbandBaseRad, config.DeadbandSlope)
	}
	return &Controller{config: config, deadband: db}
}

// LastCommand returns the most recently issued command and whether one has
// been issued yet.
func (c *Controller) LastCommand() (AimCommand, bool) {
	return c.last, c.hasLast
}

// ComputeAim converts a target prediction into the next mirror command.
// A nil prediction (no engageable target) holds the last commanded position:
// the returned command carries the prior angles with Valid=false, so the
// actuator is not rewritten and the mirror neither sweeps nor resets.
func (c *Controller) ComputeAim(pred *track.Prediction, feedback *FeedbackSample, now time.Time) AimCommand {
	c.updateBias(feedback, now)

	if pred == nil {
		return AimCommand{
			AngleXRad: c.last.AngleXRad,
			AngleYRad: c.last.AngleYRad,
			Valid:     false,
			Timestamp: now,
		}
	}

	// Staleness guard: never drive the mirror from data older than one
	// control period.
	if now.Sub(pred.Timestamp) > c.config.ControlPeriod {
		monitoring.Debugf("aim: dropping stale prediction (%s old)", now.Sub(pred.Timestamp))
		return AimCommand{
			AngleXRad: c.last.AngleXRad,
			AngleYRad: c.last.AngleYRad,
			Valid:     false,
			Timestamp: pred.Timestamp,
		}
	}

	desiredX, desiredY := c.anglesFor(pred)
	desiredX += c.biasX
	desiredY += c.biasY

	// Deadband: skip commands smaller than the jitter floor at the current
	// offset from centre. The prior command is re-emitted unchanged.
	if c.hasLast {
		offset := math.Max(math.Abs(c.last.AngleXRad), math.Abs(c.last.AngleYRad))
		minChange := c.deadband(offset)
		if math.Abs(desiredX-c.last.AngleXRad) < minChange &&
			math.Abs(desiredY-c.last.AngleYRad) < minChange {
			c.DeadbandHolds++
			return AimCommand{
				AngleXRad: c.last.AngleXRad,
				AngleYRad: c.last.AngleYRad,
				Valid:     false,
				Timestamp: pred.Timestamp,
			}
		}
	}

	// Slew limit: move as far toward the desired angle as one period
	// allows. The remainder is not dropped — the next period starts from
	// the commanded position and continues toward the (re-predicted)
	// target.
	maxStep := c.config.SlewRateRadPerSec * c.config.ControlPeriod.Seconds()
	nextX := c.last.AngleXRad + clampAbs(desiredX-c.last.AngleXRad, maxStep)
	nextY := c.last.AngleYRad + clampAbs(desiredY-c.last.AngleYRad, maxStep)

	// Travel limit: clamp to the mechanism's range and report the event.
	clamped := false
	if math.Abs(nextX) > c.config.TravelRangeRad {
		nextX = clampAbs(nextX, c.config.TravelRangeRad)
		clamped = true
	}
	if math.Abs(nextY) > c.config.TravelRangeRad {
		nextY = clampAbs(nextY, c.config.TravelRangeRad)
		clamped = true
	}
	if clamped {
		c.ClampEvents++
		monitoring.Logf("aim: command clamped to travel range ±%.3f rad", c.config.TravelRangeRad)
	}

	cmd := AimCommand{
		AngleXRad: nextX,
		AngleYRad: nextY,
		Valid:     true,
		Clamped:   clamped,
		Timestamp: pred.Timestamp,
	}
	c.last = cmd
	c.hasLast = true
	return cmd
}

// anglesFor maps a rig-frame position to the two mirror angles, given the
// mirror's offset from the rig. Per-axis atan2 against depth; mechanical
// scale factors (including the mirror's half-angle behaviour) are absorbed
// by the actuator's affine calibration.
func (c *Controller) anglesFor(pred *track.Prediction) (float64, float64) {
	dx := pred.XMm - c.config.Mirror.OffsetXMm
	dy := pred.YMm - c.config.Mirror.OffsetYMm
	dz := pred.ZMm - c.config.Mirror.OffsetZMm
	return math.Atan2(dx, dz), math.Atan2(dy, dz)
}

// updateBias integrates feedback error into the steady-state correction.
// Missing or stale feedback freezes the term — it never decays toward
// divergence on noise, and never grows without fresh evidence.
func (c *Controller) updateBias(feedback *FeedbackSample, now time.Time) {
	if feedback == nil {
		if !c.lastFeedback.IsZero() && now.Sub(c.lastFeedback) > c.config.FeedbackStaleAfter {
			c.FeedbackFrozen++
		}
		return
	}
	if now.Sub(feedback.Timestamp) > c.config.FeedbackStaleAfter {
		c.FeedbackFrozen++
		return
	}

	c.biasX = clampAbs(c.biasX-c.config.FeedbackGain*feedback.ErrorXRad, c.config.FeedbackBiasMaxRad)
	c.biasY = clampAbs(c.biasY-c.config.FeedbackGain*feedback.ErrorYRad, c.config.FeedbackBiasMaxRad)
	c.lastFeedback = feedback.Timestamp
}

// Bias returns the current integral correction, for diagnostics.
func (c *Controller) Bias() (x, y float64) {
	return c.biasX, c.biasY
}

func clampAbs(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
