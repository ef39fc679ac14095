package galvo

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// AffineCalibration maps drive voltages (relative to centre) to physical beam
// positions (mm) on the reference plane:
//
//	px = a·xv + b·yv + c
//	py = d·xv + e·yv + f
//
// The six parameters come from a least-squares fit over recorded
// voltage/position correspondences. ReferenceDepthMm is the distance of the
// calibration plane from the mirror, used to convert angles to plane
// positions.
type AffineCalibration struct {
	A, B, C float64
	D, E, F float64

	ReferenceDepthMm float64

	// Per-axis direction signs reconcile the rig coordinate convention
	// with the mirror wiring.
	DirectionX float64
	DirectionY float64
}

// affineParamsFile is the on-disk JSON layout produced by the calibration
// recording tool.
type affineParamsFile struct {
	Parameters struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
		C float64 `json:"c"`
		D float64 `json:"d"`
		E float64 `json:"e"`
		F float64 `json:"f"`
	} `json:"parameters"`
	ReferenceDepthMm float64 `json:"depth_mm"`
	DirectionX       float64 `json:"direction_x"`
	DirectionY       float64 `json:"direction_y"`
}

// LoadAffineCalibration loads calibration parameters from a JSON file.
// Missing calibration is fatal at startup for voltage-driving actuators.
func LoadAffineCalibration(path string) (*AffineCalibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read affine calibration: %w", err)
	}
	var f affineParamsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse affine calibration: %w", err)
	}

	cal := &AffineCalibration{
		A: f.Parameters.A, B: f.Parameters.B, C: f.Parameters.C,
		D: f.Parameters.D, E: f.Parameters.E, F: f.Parameters.F,
		ReferenceDepthMm: f.ReferenceDepthMm,
		DirectionX:       f.DirectionX,
		DirectionY:       f.DirectionY,
	}
	cal.applyDefaults()
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("invalid affine calibration %s: %w", path, err)
	}
	return cal, nil
}

func (c *AffineCalibration) applyDefaults() {
	if c.ReferenceDepthMm == 0 {
		c.ReferenceDepthMm = 1000.0
	}
	if c.DirectionX == 0 {
		c.DirectionX = -1
	}
	if c.DirectionY == 0 {
		c.DirectionY = 1
	}
}

// Validate checks that the affine map is invertible.
func (c *AffineCalibration) Validate() error {
	if math.Abs(c.determinant()) < 1e-9 {
		return fmt.Errorf("affine matrix is singular (det=%g)", c.determinant())
	}
	if c.ReferenceDepthMm <= 0 {
		return fmt.Errorf("reference depth must be positive, got %f", c.ReferenceDepthMm)
	}
	return nil
}

func (c *AffineCalibration) determinant() float64 {
	return c.A*c.E - c.B*c.D
}

// VoltageToPhysical maps relative drive voltages to plane position (mm).
func (c *AffineCalibration) VoltageToPhysical(xv, yv float64) (px, py float64) {
	px = c.A*xv + c.B*yv + c.C
	py = c.D*xv + c.E*yv + c.F
	return px, py
}

// PhysicalToVoltage inverts the affine map: plane position (mm) to relative
// drive voltages.
func (c *AffineCalibration) PhysicalToVoltage(px, py float64) (xv, yv float64) {
	det := c.determinant()
	dx := px - c.C
	dy := py - c.F
	xv = (c.E*dx - c.B*dy) / det
	yv = (-c.D*dx + c.A*dy) / det
	return xv, yv
}

// AnglesToVoltage projects mirror angles onto the calibration plane and maps
// the resulting position to relative drive voltages, clamped to the DAC
// envelope.
func (c *AffineCalibration) AnglesToVoltage(angleXRad, angleYRad float64) (xv, yv float64) {
	px := math.Tan(angleXRad) * c.ReferenceDepthMm
	py := math.Tan(angleYRad) * c.ReferenceDepthMm
	xv, yv = c.PhysicalToVoltage(px, py)
	xv = clampVoltage(xv * c.DirectionX)
	yv = clampVoltage(yv * c.DirectionY)
	return xv, yv
}

// clampVoltage limits a relative voltage to the DAC's reachable span around
// centre.
func clampVoltage(v float64) float64 {
	lo := VoltageMin - VoltageCenter
	hi := VoltageMax - VoltageCenter
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FitAffine solves the six affine parameters by least squares from recorded
// correspondences: voltages[i] drove the beam to positions[i] on the
// calibration plane. At least three non-collinear correspondences are
// required.
func FitAffine(voltages, positions [][2]float64, referenceDepthMm float64) (*AffineCalibration, error) {
	if len(voltages) != len(positions) {
		return nil, fmt.Errorf("correspondence count mismatch: %d voltages, %d positions", len(voltages), len(positions))
	}
	if len(voltages) < 3 {
		return nil, fmt.Errorf("need at least 3 correspondences, got %d", len(voltages))
	}

	n := len(voltages)
	a := mat.NewDense(n, 3, nil)
	bx := mat.NewVecDense(n, nil)
	by := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		a.Set(i, 0, voltages[i][0])
		a.Set(i, 1, voltages[i][1])
		a.Set(i, 2, 1)
		bx.SetVec(i, positions[i][0])
		by.SetVec(i, positions[i][1])
	}

	var px, py mat.VecDense
	if err := px.SolveVec(a, bx); err != nil {
		return nil, fmt.Errorf("affine fit (x axis): %w", err)
	}
	if err := py.SolveVec(a, by); err != nil {
		return nil, fmt.Errorf("affine fit (y axis): %w", err)
	}

	cal := &AffineCalibration{
		A: px.AtVec(0), B: px.AtVec(1), C: px.AtVec(2),
		D: py.AtVec(0), E: py.AtVec(1), F: py.AtVec(2),
		ReferenceDepthMm: referenceDepthMm,
	}
	cal.applyDefaults()
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return cal, nil
}
