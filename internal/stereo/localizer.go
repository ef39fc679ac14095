package stereo

import (
	"math"
	"sort"
	"time"

	"github.com/banshee-data/beamtrack/internal/monitoring"
)

// LocalizerConfig holds the matching and validation parameters.
type LocalizerConfig struct {
	// MaxDisparityPx rejects pairs implying the target is closer than the
	// rig can resolve.
	MaxDisparityPx float64

	// MaxRowOffsetPx is the vertical slack allowed around the rectified
	// epipolar constraint.
	MaxRowOffsetPx float64

	// MinConfidence drops detections below this score before matching.
	MinConfidence float64

	// MinAreaPx and MaxAreaPx bound the blob size considered a plausible
	// target.
	MinAreaPx float64
	MaxAreaPx float64
}

// DefaultLocalizerConfig returns matching defaults for the reference rig.
func DefaultLocalizerConfig() LocalizerConfig {
	return LocalizerConfig{
		MaxDisparityPx: 200.0,
		MaxRowOffsetPx: 8.0,
		MinConfidence:  0.25,
		MinAreaPx:      5.0,
		MaxAreaPx:      1000.0,
	}
}

// Localizer matches left/right detections and triangulates 3-D positions.
// It holds no per-frame state; the rig is shared read-only.
type Localizer struct {
	rig    *CalibratedRig
	config LocalizerConfig
}

// NewLocalizer creates a localizer for the given rig.
func NewLocalizer(rig *CalibratedRig, config LocalizerConfig) *Localizer {
	return &Localizer{rig: rig, config: config}
}

// candidate is a scored left/right pairing considered during matching.
type candidate struct {
	leftIdx   int
	rightIdx  int
	score     float64
	rowOffset float64
	disparity float64
}

// Localize matches left detections to right detections and returns one
// Localization per valid stereo pair. Unmatched detections are dropped for
// this frame; zero matches is not an error, it means no target this frame.
func (l *Localizer) Localize(leftDetections, rightDetections []Detection, timestamp time.Time) []Localization {
	left := l.filter(leftDetections)
	right := l.filter(rightDetections)
	if len(left) == 0 || len(right) == 0 {
		return nil
	}

	// Score every row-compatible pairing, then assign greedily from the
	// best score down, each detection used at most once. Ties break toward
	// the smaller vertical offset.
	candidates := make([]candidate, 0, len(left)*len(right))
	for li, ld := range left {
		for ri, rd := range right {
			rowOffset := math.Abs(ld.Box.CenterV() - rd.Box.CenterV())
			if rowOffset > l.config.MaxRowOffsetPx {
				continue
			}
			disparity := ld.Box.CenterU() - rd.Box.CenterU()
			if disparity <= 0 || disparity > l.config.MaxDisparityPx {
				monitoring.Debugf("stereo: rejected pair disparity=%.1fpx (valid range 0..%.1f)",
					disparity, l.config.MaxDisparityPx)
				continue
			}
			candidates = append(candidates, candidate{
				leftIdx:   li,
				rightIdx:  ri,
				score:     pairScore(ld, rd, rowOffset, l.config.MaxRowOffsetPx),
				rowOffset: rowOffset,
				disparity: disparity,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].rowOffset < candidates[j].rowOffset
	})

	leftUsed := make([]bool, len(left))
	rightUsed := make([]bool, len(right))
	locs := make([]Localization, 0, len(candidates))

	for _, c := range candidates {
		if leftUsed[c.leftIdx] || rightUsed[c.rightIdx] {
			continue
		}
		leftUsed[c.leftIdx] = true
		rightUsed[c.rightIdx] = true

		match := StereoMatch{
			Left:        left[c.leftIdx],
			Right:       right[c.rightIdx],
			DisparityPx: c.disparity,
		}
		locs = append(locs, l.triangulate(match, timestamp))
	}

	return locs
}

// filter drops detections that fail the confidence or blob-size bounds.
func (l *Localizer) filter(dets []Detection) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < l.config.MinConfidence {
			continue
		}
		area := d.Box.Area()
		if area < l.config.MinAreaPx || area > l.config.MaxAreaPx {
			continue
		}
		out = append(out, d)
	}
	return out
}

// pairScore rates appearance/size similarity of a candidate pair in [0, 1].
// Size ratio dominates; row alignment and joint confidence refine it.
func pairScore(ld, rd Detection, rowOffset, maxRowOffset float64) float64 {
	sizeSim := similarityRatio(ld.Box.Area(), rd.Box.Area())
	aspectSim := similarityRatio(aspect(ld.Box), aspect(rd.Box))
	rowSim := 1.0 - rowOffset/maxRowOffset
	conf := math.Sqrt(ld.Confidence * rd.Confidence)
	return 0.4*sizeSim + 0.2*aspectSim + 0.2*rowSim + 0.2*conf
}

func aspect(b BoundingBox) float64 {
	if b.H == 0 {
		return 0
	}
	return b.W / b.H
}

// similarityRatio returns min(a,b)/max(a,b), or 0 when either is non-positive.
func similarityRatio(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > b {
		return b / a
	}
	return a / b
}

// triangulate converts a validated stereo match into a 3-D position using the
// left camera's intrinsics:
//
//	z = baseline·fx / d
//	x = (u - cx)·z / fx
//	y = (v - cy)·z / fy
func (l *Localizer) triangulate(match StereoMatch, timestamp time.Time) Localization {
	z := l.rig.DepthMm(match.DisparityPx)
	u := match.Left.Box.CenterU()
	v := match.Left.Box.CenterV()

	return Localization{
		XMm:       (u - l.rig.Left.Cx) * z / l.rig.Left.Fx,
		YMm:       (v - l.rig.Left.Cy) * z / l.rig.Left.Fy,
		ZMm:       z,
		SigmaZMm:  l.rig.DepthSigmaMm(z),
		Match:     match,
		Timestamp: timestamp,
	}
}
