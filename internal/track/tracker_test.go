package track

import (
	"math"
	"testing"
	"time"

	"github.com/banshee-data/beamtrack/internal/stereo"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const framePeriod = 25 * time.Millisecond

func locAt(x, y, z float64, ts time.Time) stereo.Localization {
	return stereo.Localization{XMm: x, YMm: y, ZMm: z, SigmaZMm: 27.0, Timestamp: ts}
}

func testConfig() TrackerConfig {
	cfg := DefaultTrackerConfig()
	cfg.HitsToConfirm = 2
	cfg.MaxMisses = 3
	cfg.LossTimeout = 200 * time.Millisecond
	return cfg
}

func TestNewTracker(t *testing.T) {
	tracker := NewTracker(testConfig())
	if tracker.Tracks == nil {
		t.Error("expected non-nil tracks map")
	}
	if tracker.NextTrackID != 1 {
		t.Errorf("expected NextTrackID=1, got %d", tracker.NextTrackID)
	}
}

func TestTrackSpawnsTentative(t *testing.T) {
	tracker := NewTracker(testConfig())

	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, t0)}, t0)

	total, tentative, confirmed, lost := tracker.TrackCount()
	if total != 1 || tentative != 1 || confirmed != 0 || lost != 0 {
		t.Errorf("counts = (%d,%d,%d,%d), want (1,1,0,0)", total, tentative, confirmed, lost)
	}
}

func TestConfirmationRequiresConsecutiveHits(t *testing.T) {
	cfg := testConfig()
	cfg.HitsToConfirm = 3
	tracker := NewTracker(cfg)

	ts := t0
	for i := 0; i < 2; i++ {
		tracker.Update([]stereo.Localization{locAt(0, 0, 1000, ts)}, ts)
		if n := len(tracker.ConfirmedTracks()); n != 0 {
			t.Fatalf("confirmed after %d hits, requires 3", i+1)
		}
		ts = ts.Add(framePeriod)
	}

	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, ts)}, ts)
	if n := len(tracker.ConfirmedTracks()); n != 1 {
		t.Fatalf("expected 1 confirmed track after 3 hits, got %d", n)
	}
}

func TestMissResetsHitStreak(t *testing.T) {
	cfg := testConfig()
	cfg.HitsToConfirm = 3
	tracker := NewTracker(cfg)

	ts := t0
	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, ts)}, ts)
	ts = ts.Add(framePeriod)
	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, ts)}, ts)
	ts = ts.Add(framePeriod)
	tracker.Update(nil, ts) // miss
	ts = ts.Add(framePeriod)
	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, ts)}, ts)

	// The streak restarted; two more hits are still needed.
	if n := len(tracker.ConfirmedTracks()); n != 0 {
		t.Errorf("track confirmed despite broken hit streak")
	}
}

func TestTrackLostAfterMaxMisses(t *testing.T) {
	tracker := NewTracker(testConfig())

	ts := t0
	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, ts)}, ts)
	ts = ts.Add(framePeriod)
	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, ts)}, ts)

	// Misses below the threshold keep the track active.
	for i := 0; i < 2; i++ {
		ts = ts.Add(framePeriod)
		tracker.Update(nil, ts)
		if n := len(tracker.ActiveTracks()); n != 1 {
			t.Fatalf("track lost after %d misses, limit is 3", i+1)
		}
	}

	ts = ts.Add(framePeriod)
	tracker.Update(nil, ts)
	if n := len(tracker.ActiveTracks()); n != 0 {
		t.Fatalf("track still active after 3 misses")
	}
}

func TestTrackLostAfterTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMisses = 1000 // only the wall-clock timeout applies
	tracker := NewTracker(cfg)

	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, t0)}, t0)
	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, t0.Add(framePeriod))}, t0.Add(framePeriod))

	// One starved frame just inside the timeout: still active.
	tracker.Update(nil, t0.Add(framePeriod).Add(cfg.LossTimeout))
	if n := len(tracker.ActiveTracks()); n != 1 {
		t.Fatal("track lost before the loss timeout elapsed")
	}

	tracker.Update(nil, t0.Add(framePeriod).Add(cfg.LossTimeout+time.Millisecond))
	if n := len(tracker.ActiveTracks()); n != 0 {
		t.Fatal("track survived past the loss timeout")
	}
}

func TestLostTrackRemovedAfterGrace(t *testing.T) {
	cfg := testConfig()
	cfg.LostTrackGracePeriod = 100 * time.Millisecond
	tracker := NewTracker(cfg)

	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, t0)}, t0)
	ts := t0
	for i := 0; i < cfg.MaxMisses; i++ {
		ts = ts.Add(framePeriod)
		tracker.Update(nil, ts)
	}
	if _, _, _, lost := tracker.TrackCount(); lost != 1 {
		t.Fatal("expected a lost track pending cleanup")
	}

	tracker.Update(nil, ts.Add(cfg.LostTrackGracePeriod+time.Second))
	if total, _, _, _ := tracker.TrackCount(); total != 0 {
		t.Errorf("lost track not removed after grace period, total=%d", total)
	}
}

func TestAssociationWithinGate(t *testing.T) {
	tracker := NewTracker(testConfig())

	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, t0)}, t0)

	// ~3.5 m/s over 25 ms is 87.5 mm plus depth sigma; 50 mm is inside.
	ts := t0.Add(framePeriod)
	tracker.Update([]stereo.Localization{locAt(50, 0, 1000, ts)}, ts)

	if total, _, _, _ := tracker.TrackCount(); total != 1 {
		t.Errorf("nearby localization spawned a new track instead of associating")
	}
}

func TestImplausibleJumpSpawnsNewTrack(t *testing.T) {
	tracker := NewTracker(testConfig())

	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, t0)}, t0)

	// 500 mm in 25 ms implies 20 m/s: beyond any plausible burst.
	ts := t0.Add(framePeriod)
	tracker.Update([]stereo.Localization{locAt(500, 0, 1000, ts)}, ts)

	if total, _, _, _ := tracker.TrackCount(); total != 2 {
		t.Errorf("implausible jump associated to existing track, total=%d", total)
	}
}

func TestVelocityEstimateFromWindow(t *testing.T) {
	tracker := NewTracker(testConfig())

	// Constant 1 mm per 25 ms along X = 40 mm/s.
	ts := t0
	for i := 0; i < 5; i++ {
		tracker.Update([]stereo.Localization{locAt(float64(i), 0, 1000, ts)}, ts)
		ts = ts.Add(framePeriod)
	}

	tracks := tracker.ActiveTracks()
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	tr := tracks[0]
	if math.Abs(tr.VXMmPerSec-40) > 0.5 {
		t.Errorf("VXMmPerSec = %.2f, want 40", tr.VXMmPerSec)
	}
	if math.Abs(tr.VYMmPerSec) > 0.01 || math.Abs(tr.VZMmPerSec) > 0.01 {
		t.Errorf("expected zero Y/Z velocity, got (%.3f, %.3f)", tr.VYMmPerSec, tr.VZMmPerSec)
	}
}

func TestRecentSamplesDominateVelocity(t *testing.T) {
	tracker := NewTracker(testConfig())

	// Old motion rightward, newest step reverses hard. The weighted
	// estimate must lean toward the reversal.
	positions := []float64{0, 2, 4, 6, 2}
	ts := t0
	for _, x := range positions {
		tracker.Update([]stereo.Localization{locAt(x, 0, 1000, ts)}, ts)
		ts = ts.Add(framePeriod)
	}

	tr := tracker.ActiveTracks()[0]
	if tr.VXMmPerSec > 0 {
		t.Errorf("velocity still positive (%.1f mm/s) after reversal dominated the window", tr.VXMmPerSec)
	}
}

func TestPredictionWithinHorizon(t *testing.T) {
	tracker := NewTracker(testConfig())

	ts := t0
	for i := 0; i < 3; i++ {
		tracker.Update([]stereo.Localization{locAt(float64(i * 10), 0, 1000, ts)}, ts)
		ts = ts.Add(framePeriod)
	}

	tr := tracker.ActiveTracks()[0]
	p := tr.PredictAt(tr.LastSeen.Add(20*time.Millisecond), 40*time.Millisecond)
	if p.LowConfidence {
		t.Error("prediction flagged low-confidence inside the horizon")
	}
	if p.XMm <= tr.XMm {
		t.Errorf("prediction did not extrapolate forward: %.2f <= %.2f", p.XMm, tr.XMm)
	}
}

func TestPredictionBeyondHorizonHoldsPosition(t *testing.T) {
	tracker := NewTracker(testConfig())

	ts := t0
	for i := 0; i < 3; i++ {
		tracker.Update([]stereo.Localization{locAt(float64(i * 10), 0, 1000, ts)}, ts)
		ts = ts.Add(framePeriod)
	}

	tr := tracker.ActiveTracks()[0]
	p := tr.PredictAt(tr.LastSeen.Add(200*time.Millisecond), 40*time.Millisecond)
	if !p.LowConfidence {
		t.Error("prediction beyond horizon not flagged low-confidence")
	}
	// Beyond the direction-change interval the last known position beats
	// extrapolation.
	if p.XMm != tr.XMm || p.YMm != tr.YMm || p.ZMm != tr.ZMm {
		t.Errorf("low-confidence prediction extrapolated: got (%.1f,%.1f,%.1f)", p.XMm, p.YMm, p.ZMm)
	}
}

func TestSelectEngageTargetPrefersConfirmed(t *testing.T) {
	tracker := NewTracker(testConfig())

	// One localization: tentative only, nothing to engage.
	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, t0)}, t0)
	if tr := tracker.SelectEngageTarget(); tr != nil {
		t.Fatalf("engaged tentative track %s", tr.TrackID)
	}

	ts := t0.Add(framePeriod)
	tracker.Update([]stereo.Localization{locAt(0, 0, 1000, ts)}, ts)
	if tr := tracker.SelectEngageTarget(); tr == nil {
		t.Fatal("no engagement target despite a confirmed track")
	}
}

func TestSelectEngageTargetClosestWins(t *testing.T) {
	tracker := NewTracker(testConfig())

	// Two well-separated targets, both confirmed on the same frames.
	ts := t0
	for i := 0; i < 2; i++ {
		tracker.Update([]stereo.Localization{
			locAt(0, 0, 1000, ts),
			locAt(400, 0, 1800, ts),
		}, ts)
		ts = ts.Add(framePeriod)
	}

	tr := tracker.SelectEngageTarget()
	if tr == nil {
		t.Fatal("expected an engagement target")
	}
	if tr.ZMm != 1000 {
		t.Errorf("engaged the farther target (z=%.0f), want the closer one", tr.ZMm)
	}
}

func TestSelectEngageTargetTieBreaksToOldest(t *testing.T) {
	tracker := NewTracker(testConfig())

	// First target appears one frame earlier, then both run at identical
	// range and freshness.
	tracker.Update([]stereo.Localization{locAt(-300, 0, 1000, t0)}, t0)
	ts := t0.Add(framePeriod)
	for i := 0; i < 2; i++ {
		tracker.Update([]stereo.Localization{
			locAt(-300, 0, 1000, ts),
			locAt(300, 0, 1000, ts),
		}, ts)
		ts = ts.Add(framePeriod)
	}

	tr := tracker.SelectEngageTarget()
	if tr == nil {
		t.Fatal("expected an engagement target")
	}
	if tr.XMm != -300 {
		t.Errorf("tie broke to the younger track (x=%.0f), want the older one", tr.XMm)
	}
}

func TestMaxTracksBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTracks = 2
	tracker := NewTracker(cfg)

	tracker.Update([]stereo.Localization{
		locAt(-500, 0, 1000, t0),
		locAt(0, 0, 1000, t0),
		locAt(500, 0, 1000, t0),
	}, t0)

	if total, _, _, _ := tracker.TrackCount(); total != 2 {
		t.Errorf("tracker exceeded MaxTracks: total=%d", total)
	}
}
