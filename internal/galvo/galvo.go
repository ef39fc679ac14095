// Package galvo drives the two-axis steering mirror. The aim controller
// speaks in mirror angles; this package converts them through the affine
// calibration into DAC voltages and writes them to the driver board.
package galvo

import (
	"context"
	"errors"
	"time"
)

// DAC voltage envelope of the mirror driver. Both axes accept 0–4.8 V with
// the mechanical centre at half scale.
const (
	VoltageMin    = 0.0
	VoltageMax    = 4.8
	VoltageCenter = (VoltageMin + VoltageMax) / 2
)

// ErrWriteTimeout is returned when an actuator write does not complete within
// its deadline. The control loop treats it as a missed period, not a fault.
var ErrWriteTimeout = errors.New("galvo: write timeout")

// Actuator accepts mirror angle commands. Implementations must make SetAngles
// bounded-time: the control loop calls it once per period on the critical
// path.
type Actuator interface {
	// SetAngles drives the mirror to the given angles (radians from
	// centre). Honours ctx cancellation/deadline.
	SetAngles(ctx context.Context, angleXRad, angleYRad float64) error

	// Center returns the mirror to its rest position.
	Center(ctx context.Context) error

	// Close centres the mirror and releases the device.
	Close() error
}

// BeamPosition is an observed beam-spot location in image coordinates, for
// closed-loop correction.
type BeamPosition struct {
	UPx       float64
	VPx       float64
	Timestamp time.Time
}

// FeedbackReader is implemented by actuators that can report where the beam
// actually landed. Feedback is optional; the pipeline degrades to open-loop
// aiming without it.
type FeedbackReader interface {
	// ReadFeedback returns the most recent beam-spot observation, or
	// ok=false when none is available.
	ReadFeedback() (pos BeamPosition, ok bool)
}
