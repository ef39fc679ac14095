package stereo

import (
	"math"
	"testing"
	"time"
)

// testRig mirrors the reference hardware: 49.9 mm baseline, 737 px focal
// length, 640x480 sensor.
func testRig() *CalibratedRig {
	return &CalibratedRig{
		Left:   CameraIntrinsics{Fx: 737, Fy: 737, Cx: 320, Cy: 240},
		Right:  CameraIntrinsics{Fx: 737, Fy: 737, Cx: 320, Cy: 240},
		Stereo: RigExtrinsics{BaselineMm: 49.9},
	}
}

func detAt(u, v float64, eye Eye) Detection {
	return Detection{
		Box:        BoundingBox{X: u - 3, Y: v - 3, W: 6, H: 6},
		Confidence: 0.9,
		Eye:        eye,
	}
}

func TestDepthFromDisparity(t *testing.T) {
	rig := testRig()

	cases := []struct {
		disparity float64
		wantZMm   float64
	}{
		{37, 993.9},
		{36, 1021.6},
		{20, 1838.8},
		{19, 1935.6},
	}

	for _, tc := range cases {
		z := rig.DepthMm(tc.disparity)
		if math.Abs(z-tc.wantZMm) > 0.5 {
			t.Errorf("DepthMm(%v) = %.1f, want %.1f", tc.disparity, z, tc.wantZMm)
		}
	}
}

func TestDepthSigmaGrowsQuadratically(t *testing.T) {
	rig := testRig()

	sigma1m := rig.DepthSigmaMm(1000)
	sigma2m := rig.DepthSigmaMm(2000)

	// sigma = z^2 / (baseline * fx): ~27 mm at 1 m, four times that at 2 m.
	if math.Abs(sigma1m-27.2) > 0.5 {
		t.Errorf("DepthSigmaMm(1000) = %.1f, want ~27.2", sigma1m)
	}
	if math.Abs(sigma2m/sigma1m-4.0) > 0.01 {
		t.Errorf("sigma ratio 2m/1m = %.3f, want 4.0", sigma2m/sigma1m)
	}
}

func TestLateralOffsetScalesWithDepth(t *testing.T) {
	rig := testRig()
	loc := NewLocalizer(rig, DefaultLocalizerConfig())
	ts := time.Now()

	// Disparity 36.7763 gives z = 1000 mm exactly; one pixel right of the
	// principal point should be ~1.36 mm lateral.
	d := rig.Stereo.BaselineMm * rig.Left.Fx / 1000.0
	left := []Detection{detAt(321, 240, LeftEye)}
	right := []Detection{detAt(321-d, 240, RightEye)}

	locs := loc.Localize(left, right, ts)
	if len(locs) != 1 {
		t.Fatalf("expected 1 localization, got %d", len(locs))
	}
	if math.Abs(locs[0].ZMm-1000) > 0.1 {
		t.Errorf("ZMm = %.2f, want 1000", locs[0].ZMm)
	}
	if math.Abs(locs[0].XMm-1.36) > 0.01 {
		t.Errorf("XMm = %.3f, want ~1.36", locs[0].XMm)
	}
	if math.Abs(locs[0].YMm) > 0.001 {
		t.Errorf("YMm = %.3f, want 0", locs[0].YMm)
	}
}

func TestNonPositiveDisparityRejected(t *testing.T) {
	loc := NewLocalizer(testRig(), DefaultLocalizerConfig())
	ts := time.Now()

	// Right-image point to the right of the left-image point: negative
	// disparity, geometrically impossible for a convergent target.
	left := []Detection{detAt(300, 240, LeftEye)}
	right := []Detection{detAt(310, 240, RightEye)}
	if locs := loc.Localize(left, right, ts); len(locs) != 0 {
		t.Errorf("negative disparity produced %d localizations, want 0", len(locs))
	}

	// Zero disparity is equally invalid.
	left = []Detection{detAt(300, 240, LeftEye)}
	right = []Detection{detAt(300, 240, RightEye)}
	if locs := loc.Localize(left, right, ts); len(locs) != 0 {
		t.Errorf("zero disparity produced %d localizations, want 0", len(locs))
	}
}

func TestExcessiveDisparityRejected(t *testing.T) {
	cfg := DefaultLocalizerConfig()
	cfg.MaxDisparityPx = 50
	loc := NewLocalizer(testRig(), cfg)

	left := []Detection{detAt(400, 240, LeftEye)}
	right := []Detection{detAt(340, 240, RightEye)} // disparity 60 > 50
	if locs := loc.Localize(left, right, time.Now()); len(locs) != 0 {
		t.Errorf("out-of-range disparity produced %d localizations, want 0", len(locs))
	}
}

func TestRowConstraintRejectsVerticalMismatch(t *testing.T) {
	cfg := DefaultLocalizerConfig()
	cfg.MaxRowOffsetPx = 5
	loc := NewLocalizer(testRig(), cfg)

	left := []Detection{detAt(320, 240, LeftEye)}
	right := []Detection{detAt(290, 260, RightEye)} // 20 px vertical offset
	if locs := loc.Localize(left, right, time.Now()); len(locs) != 0 {
		t.Errorf("row-mismatched pair produced %d localizations, want 0", len(locs))
	}
}

func TestGreedyMatchingUsesEachDetectionOnce(t *testing.T) {
	loc := NewLocalizer(testRig(), DefaultLocalizerConfig())
	ts := time.Now()

	// Two targets on distinct rows; each left detection must claim its own
	// right correspondence.
	left := []Detection{
		detAt(320, 200, LeftEye),
		detAt(320, 300, LeftEye),
	}
	right := []Detection{
		detAt(290, 200, RightEye),
		detAt(285, 300, RightEye),
	}

	locs := loc.Localize(left, right, ts)
	if len(locs) != 2 {
		t.Fatalf("expected 2 localizations, got %d", len(locs))
	}
	if locs[0].Match.Right.Box.CenterV() == locs[1].Match.Right.Box.CenterV() {
		t.Error("both left detections matched the same right detection")
	}
}

func TestUnmatchedDetectionsDropped(t *testing.T) {
	loc := NewLocalizer(testRig(), DefaultLocalizerConfig())

	// Single-eye observation: no stereo pair, no localization, no error.
	left := []Detection{detAt(320, 240, LeftEye)}
	if locs := loc.Localize(left, nil, time.Now()); locs != nil {
		t.Errorf("single-eye frame produced %d localizations, want none", len(locs))
	}
}

func TestZeroDetectionsIsNotAnError(t *testing.T) {
	loc := NewLocalizer(testRig(), DefaultLocalizerConfig())
	if locs := loc.Localize(nil, nil, time.Now()); locs != nil {
		t.Errorf("empty frame produced %d localizations", len(locs))
	}
}

func TestConfidenceAndAreaFilters(t *testing.T) {
	cfg := DefaultLocalizerConfig()
	cfg.MinConfidence = 0.5
	cfg.MinAreaPx = 10
	cfg.MaxAreaPx = 100
	loc := NewLocalizer(testRig(), cfg)
	ts := time.Now()

	lowConf := detAt(320, 240, LeftEye)
	lowConf.Confidence = 0.3
	tiny := detAt(320, 240, LeftEye)
	tiny.Box.W, tiny.Box.H = 2, 2
	huge := detAt(320, 240, LeftEye)
	huge.Box.W, huge.Box.H = 50, 50

	right := []Detection{detAt(290, 240, RightEye)}
	for name, d := range map[string]Detection{"low confidence": lowConf, "too small": tiny, "too large": huge} {
		if locs := loc.Localize([]Detection{d}, right, ts); len(locs) != 0 {
			t.Errorf("%s detection was not filtered", name)
		}
	}
}

func TestLocalizationCarriesFrameTimestamp(t *testing.T) {
	loc := NewLocalizer(testRig(), DefaultLocalizerConfig())
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	locs := loc.Localize(
		[]Detection{detAt(320, 240, LeftEye)},
		[]Detection{detAt(290, 240, RightEye)},
		ts,
	)
	if len(locs) != 1 {
		t.Fatalf("expected 1 localization, got %d", len(locs))
	}
	if !locs[0].Timestamp.Equal(ts) {
		t.Errorf("localization timestamp = %v, want %v", locs[0].Timestamp, ts)
	}
}
