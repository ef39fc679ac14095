package stereo

import "time"

// Eye identifies which camera produced a detection.
type Eye string

const (
	LeftEye  Eye = "left"
	RightEye Eye = "right"
)

// BoundingBox is a pixel rectangle in image coordinates (origin top-left).
type BoundingBox struct {
	X float64 // Left edge
	Y float64 // Top edge
	W float64
	H float64
}

// CenterU returns the horizontal centre of the box in pixels.
func (b BoundingBox) CenterU() float64 { return b.X + b.W/2 }

// CenterV returns the vertical centre of the box in pixels.
func (b BoundingBox) CenterV() float64 { return b.Y + b.H/2 }

// Area returns the box area in square pixels.
func (b BoundingBox) Area() float64 { return b.W * b.H }

// Detection is one detector observation from a single eye. Created per
// inference call and discarded after matching.
type Detection struct {
	Box        BoundingBox
	Confidence float64
	Eye        Eye
	Timestamp  time.Time // Capture timestamp of the source frame
}

// StereoMatch pairs a left and right detection judged to be the same object.
// DisparityPx is always positive for a valid match.
type StereoMatch struct {
	Left        Detection
	Right       Detection
	DisparityPx float64
}

// Localization is a 3-D target position in rig-relative coordinates, in
// millimetres, with a depth uncertainty estimate. X grows rightward, Y
// downward (image convention), Z along the optical axis.
type Localization struct {
	XMm float64
	YMm float64
	ZMm float64

	// SigmaZMm is the depth uncertainty from disparity quantisation.
	SigmaZMm float64

	// Match is the stereo pair this localization was computed from.
	Match StereoMatch

	// Timestamp is the capture time of the originating frame, carried
	// end-to-end so stale data is detectable at every stage.
	Timestamp time.Time
}
