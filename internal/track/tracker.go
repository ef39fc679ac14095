package track

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banshee-data/beamtrack/internal/monitoring"
	"github.com/banshee-data/beamtrack/internal/stereo"
)

// DefaultLostTrackGracePeriod is how long lost tracks are kept for reporting
// before removal.
const DefaultLostTrackGracePeriod = 2 * time.Second

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	MaxTracks            int           // Maximum number of concurrent tracks
	MaxMisses            int           // Consecutive missed frames before a track is lost
	HitsToConfirm        int           // Consecutive hits needed for confirmation
	LossTimeout          time.Duration // Wall-clock starvation limit before a track is lost
	MaxTargetSpeedMps    float64       // Maximum plausible target speed, bounds the gating distance
	HistoryWindow        int           // Localizations kept per track for velocity estimation
	PredictionHorizon    time.Duration // Extrapolation limit before predictions go low-confidence
	LostTrackGracePeriod time.Duration // How long to keep lost tracks before cleanup
}

// DefaultTrackerConfig returns tracker defaults sized for insect flight:
// ~3 m/s bursts with direction reversals at tens-of-milliseconds intervals.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxTracks:            16,
		MaxMisses:            5,
		HitsToConfirm:        2,
		LossTimeout:          250 * time.Millisecond,
		MaxTargetSpeedMps:    3.5,
		HistoryWindow:        6,
		PredictionHorizon:    40 * time.Millisecond,
		LostTrackGracePeriod: DefaultLostTrackGracePeriod,
	}
}

// Tracker manages multi-target tracking with explicit lifecycle states.
// The track table is the only state carried across control-loop iterations
// and is owned exclusively by the loop goroutine; Tracker is therefore not
// safe for concurrent use.
type Tracker struct {
	Tracks      map[string]*TrackedTarget
	NextTrackID int64
	Config      TrackerConfig

	lastUpdate time.Time
}

// NewTracker creates a new tracker with the specified configuration.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		Tracks:      make(map[string]*TrackedTarget),
		NextTrackID: 1,
		Config:      config,
	}
}

// Update processes one frame of localizations. This is the main entry point,
// called once per control-loop iteration:
//
//  1. associate localizations to existing tracks (nearest predicted position
//     within the speed-derived gate)
//  2. update matched tracks, promoting tentative → confirmed
//  3. age unmatched tracks by one miss, marking starved tracks lost
//  4. spawn tentative tracks from unmatched localizations
//  5. remove lost tracks past the grace period
func (t *Tracker) Update(locs []stereo.Localization, timestamp time.Time) {
	var dt time.Duration
	if !t.lastUpdate.IsZero() {
		dt = timestamp.Sub(t.lastUpdate)
	} else {
		dt = 25 * time.Millisecond // Assumed period for the first frame
	}
	t.lastUpdate = timestamp

	associations := t.associate(locs, timestamp, dt)

	matched := make(map[string]bool)
	for li, trackID := range associations {
		if trackID == "" {
			continue
		}
		tr := t.Tracks[trackID]
		tr.observe(locs[li], t.Config.HistoryWindow)
		tr.Hits++
		tr.Misses = 0
		matched[trackID] = true

		if tr.State == TrackTentative && tr.Hits >= t.Config.HitsToConfirm {
			tr.State = TrackConfirmed
			monitoring.Debugf("track: %s confirmed after %d hits", tr.TrackID, tr.Hits)
		}
	}

	for trackID, tr := range t.Tracks {
		if matched[trackID] || tr.State == TrackLost {
			continue
		}
		tr.Misses++
		tr.Hits = 0

		starvedByFrames := tr.Misses >= t.Config.MaxMisses
		starvedByTime := timestamp.Sub(tr.LastSeen) > t.Config.LossTimeout
		if starvedByFrames || starvedByTime {
			tr.State = TrackLost
			monitoring.Debugf("track: %s lost (misses=%d, starved=%s)",
				tr.TrackID, tr.Misses, timestamp.Sub(tr.LastSeen))
		}
	}

	for li, trackID := range associations {
		if trackID == "" && t.activeCount() < t.Config.MaxTracks {
			t.initTrack(locs[li])
		}
	}

	t.cleanupLostTracks(timestamp)
}

// associate assigns each localization to the nearest active track whose
// predicted position lies within the gating distance. Greedy nearest
// neighbour; each track is used at most once per frame.
func (t *Tracker) associate(locs []stereo.Localization, timestamp time.Time, dt time.Duration) []string {
	associations := make([]string, len(locs))

	activeIDs := make([]string, 0, len(t.Tracks))
	for id, tr := range t.Tracks {
		if tr.State != TrackLost {
			activeIDs = append(activeIDs, id)
		}
	}
	// Map iteration order is random; sort for deterministic association.
	sort.Strings(activeIDs)

	used := make(map[string]bool)
	for li, loc := range locs {
		gate := t.gatingDistanceMm(loc, dt)
		bestID := ""
		bestDist := gate

		for _, id := range activeIDs {
			if used[id] {
				continue
			}
			tr := t.Tracks[id]
			p := tr.PredictAt(timestamp, t.Config.PredictionHorizon)
			d := dist3(loc.XMm-p.XMm, loc.YMm-p.YMm, loc.ZMm-p.ZMm)
			if d < bestDist {
				bestDist = d
				bestID = id
			}
		}

		if bestID != "" {
			associations[li] = bestID
			used[bestID] = true
		}
	}

	return associations
}

// gatingDistanceMm bounds plausible displacement over one frame interval:
// the target's maximum burst speed over dt, plus the depth uncertainty of
// the localization itself.
func (t *Tracker) gatingDistanceMm(loc stereo.Localization, dt time.Duration) float64 {
	return t.Config.MaxTargetSpeedMps*1000.0*dt.Seconds() + loc.SigmaZMm
}

// initTrack spawns a tentative track from an unmatched localization.
func (t *Tracker) initTrack(loc stereo.Localization) *TrackedTarget {
	trackID := fmt.Sprintf("track_%d", t.NextTrackID)
	t.NextTrackID++

	tr := &TrackedTarget{
		TrackID:   trackID,
		State:     TrackTentative,
		Hits:      1,
		FirstSeen: loc.Timestamp,
	}
	tr.observe(loc, t.Config.HistoryWindow)
	tr.ObservationCount = 1

	t.Tracks[trackID] = tr
	return tr
}

func (t *Tracker) activeCount() int {
	n := 0
	for _, tr := range t.Tracks {
		if tr.State != TrackLost {
			n++
		}
	}
	return n
}

// cleanupLostTracks removes tracks that have been lost for the grace period.
func (t *Tracker) cleanupLostTracks(now time.Time) {
	grace := t.Config.LostTrackGracePeriod
	if grace == 0 {
		grace = DefaultLostTrackGracePeriod
	}

	for id, tr := range t.Tracks {
		if tr.State == TrackLost && now.Sub(tr.LastSeen) > grace {
			delete(t.Tracks, id)
		}
	}
}

// ActiveTracks returns tentative and confirmed tracks.
func (t *Tracker) ActiveTracks() []*TrackedTarget {
	out := make([]*TrackedTarget, 0, len(t.Tracks))
	for _, tr := range t.Tracks {
		if tr.State != TrackLost {
			out = append(out, tr)
		}
	}
	return out
}

// ConfirmedTracks returns only confirmed tracks.
func (t *Tracker) ConfirmedTracks() []*TrackedTarget {
	out := make([]*TrackedTarget, 0)
	for _, tr := range t.Tracks {
		if tr.State == TrackConfirmed {
			out = append(out, tr)
		}
	}
	return out
}

// Track returns a track by ID, or nil if not found.
func (t *Tracker) Track(trackID string) *TrackedTarget {
	return t.Tracks[trackID]
}

// TrackCount returns counts of tracks by state.
func (t *Tracker) TrackCount() (total, tentative, confirmed, lost int) {
	for _, tr := range t.Tracks {
		total++
		switch tr.State {
		case TrackTentative:
			tentative++
		case TrackConfirmed:
			confirmed++
		case TrackLost:
			lost++
		}
	}
	return
}

// SelectEngageTarget picks the single confirmed track the control loop should
// engage this period: most recently seen wins, then closest range, then the
// oldest track. Returns nil when no confirmed track exists.
//
// Multiple simultaneous tracks are supported structurally; engagement is
// one-at-a-time by policy.
func (t *Tracker) SelectEngageTarget() *TrackedTarget {
	confirmed := t.ConfirmedTracks()
	if len(confirmed) == 0 {
		return nil
	}

	sort.Slice(confirmed, func(i, j int) bool {
		a, b := confirmed[i], confirmed[j]
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		ra, rb := a.RangeMm(), b.RangeMm()
		if ra != rb {
			return ra < rb
		}
		if !a.FirstSeen.Equal(b.FirstSeen) {
			return a.FirstSeen.Before(b.FirstSeen)
		}
		return a.TrackID < b.TrackID
	})

	return confirmed[0]
}

func dist3(dx, dy, dz float64) float64 {
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
