package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig represents the runtime tuning parameters for the steering
// pipeline. All fields are pointers so a partial JSON file overrides only
// what it names; the Get* accessors carry the defaults.
type TuningConfig struct {
	// Stereo matching params
	MaxDisparityPx *float64 `json:"max_disparity_px,omitempty"`
	MaxRowOffsetPx *float64 `json:"max_row_offset_px,omitempty"`
	MinConfidence  *float64 `json:"min_confidence,omitempty"`
	MinBlobAreaPx  *float64 `json:"min_blob_area_px,omitempty"`
	MaxBlobAreaPx  *float64 `json:"max_blob_area_px,omitempty"`

	// Tracker params
	HitsToConfirm     *int     `json:"hits_to_confirm,omitempty"`
	MaxMisses         *int     `json:"max_misses,omitempty"`
	LossTimeout       *string  `json:"loss_timeout,omitempty"` // duration string like "200ms"
	MaxTargetSpeedMps *float64 `json:"max_target_speed_mps,omitempty"`
	HistoryWindow     *int     `json:"history_window,omitempty"`
	PredictionHorizon *string  `json:"prediction_horizon,omitempty"` // duration string like "40ms"

	// Aim controller params
	SlewRateRadPerSec  *float64 `json:"slew_rate_rad_per_sec,omitempty"`
	TravelRangeRad     *float64 `json:"travel_range_rad,omitempty"`
	DeadbandBaseRad    *float64 `json:"deadband_base_rad,omitempty"`
	DeadbandSlope      *float64 `json:"deadband_slope,omitempty"`
	FeedbackGain       *float64 `json:"feedback_gain,omitempty"`
	FeedbackBiasMaxRad *float64 `json:"feedback_bias_max_rad,omitempty"`
	FeedbackStaleAfter *string  `json:"feedback_stale_after,omitempty"`

	// Control loop params
	ControlPeriod   *string `json:"control_period,omitempty"`  // duration string like "25ms"
	ActuatorTimeout *string `json:"actuator_timeout,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from a file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted from
// the JSON file retain their default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MaxDisparityPx != nil && *c.MaxDisparityPx <= 0 {
		return fmt.Errorf("max_disparity_px must be positive, got %f", *c.MaxDisparityPx)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", *c.MinConfidence)
	}
	if c.HitsToConfirm != nil && *c.HitsToConfirm < 1 {
		return fmt.Errorf("hits_to_confirm must be >= 1, got %d", *c.HitsToConfirm)
	}
	if c.MaxMisses != nil && *c.MaxMisses < 1 {
		return fmt.Errorf("max_misses must be >= 1, got %d", *c.MaxMisses)
	}
	if c.MaxTargetSpeedMps != nil && *c.MaxTargetSpeedMps <= 0 {
		return fmt.Errorf("max_target_speed_mps must be positive, got %f", *c.MaxTargetSpeedMps)
	}
	if c.HistoryWindow != nil && *c.HistoryWindow < 2 {
		return fmt.Errorf("history_window must be >= 2, got %d", *c.HistoryWindow)
	}
	if c.SlewRateRadPerSec != nil && *c.SlewRateRadPerSec <= 0 {
		return fmt.Errorf("slew_rate_rad_per_sec must be positive, got %f", *c.SlewRateRadPerSec)
	}
	if c.TravelRangeRad != nil && *c.TravelRangeRad <= 0 {
		return fmt.Errorf("travel_range_rad must be positive, got %f", *c.TravelRangeRad)
	}
	if c.DeadbandBaseRad != nil && *c.DeadbandBaseRad < 0 {
		return fmt.Errorf("deadband_base_rad must be non-negative, got %f", *c.DeadbandBaseRad)
	}
	if c.DeadbandSlope != nil && *c.DeadbandSlope < 0 {
		return fmt.Errorf("deadband_slope must be non-negative, got %f", *c.DeadbandSlope)
	}

	// Validate duration strings can be parsed if set
	for name, v := range map[string]*string{
		"loss_timeout":         c.LossTimeout,
		"prediction_horizon":   c.PredictionHorizon,
		"feedback_stale_after": c.FeedbackStaleAfter,
		"control_period":       c.ControlPeriod,
		"actuator_timeout":     c.ActuatorTimeout,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetMaxDisparityPx returns the max_disparity_px value or the default.
// Disparities above this imply the target is too close for the rig to resolve.
func (c *TuningConfig) GetMaxDisparityPx() float64 {
	if c.MaxDisparityPx == nil {
		return 200.0
	}
	return *c.MaxDisparityPx
}

// GetMaxRowOffsetPx returns the max_row_offset_px value or the default.
// Rectified stereo constrains matches to corresponding rows; this is the
// vertical slack allowed around that constraint.
func (c *TuningConfig) GetMaxRowOffsetPx() float64 {
	if c.MaxRowOffsetPx == nil {
		return 8.0
	}
	return *c.MaxRowOffsetPx
}

// GetMinConfidence returns the min_confidence value or the default.
func (c *TuningConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return 0.25
	}
	return *c.MinConfidence
}

// GetMinBlobAreaPx returns the min_blob_area_px value or the default.
func (c *TuningConfig) GetMinBlobAreaPx() float64 {
	if c.MinBlobAreaPx == nil {
		return 5.0
	}
	return *c.MinBlobAreaPx
}

// GetMaxBlobAreaPx returns the max_blob_area_px value or the default.
func (c *TuningConfig) GetMaxBlobAreaPx() float64 {
	if c.MaxBlobAreaPx == nil {
		return 1000.0
	}
	return *c.MaxBlobAreaPx
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 2
	}
	return *c.HitsToConfirm
}

// GetMaxMisses returns the max_misses value or the default.
func (c *TuningConfig) GetMaxMisses() int {
	if c.MaxMisses == nil {
		return 5
	}
	return *c.MaxMisses
}

// GetLossTimeout returns the loss_timeout value or the default.
func (c *TuningConfig) GetLossTimeout() time.Duration {
	return durationOr(c.LossTimeout, 250*time.Millisecond)
}

// GetMaxTargetSpeedMps returns the max_target_speed_mps value or the default.
// The default covers the observed ~3 m/s burst speed with headroom.
func (c *TuningConfig) GetMaxTargetSpeedMps() float64 {
	if c.MaxTargetSpeedMps == nil {
		return 3.5
	}
	return *c.MaxTargetSpeedMps
}

// GetHistoryWindow returns the history_window value or the default.
func (c *TuningConfig) GetHistoryWindow() int {
	if c.HistoryWindow == nil {
		return 6
	}
	return *c.HistoryWindow
}

// GetPredictionHorizon returns the prediction_horizon value or the default.
// Beyond this horizon extrapolation is flagged low-confidence; the observed
// direction-change interval is tens of milliseconds.
func (c *TuningConfig) GetPredictionHorizon() time.Duration {
	return durationOr(c.PredictionHorizon, 40*time.Millisecond)
}

// GetSlewRateRadPerSec returns the slew_rate_rad_per_sec value or the default.
func (c *TuningConfig) GetSlewRateRadPerSec() float64 {
	if c.SlewRateRadPerSec == nil {
		return 20.0
	}
	return *c.SlewRateRadPerSec
}

// GetTravelRangeRad returns the travel_range_rad value or the default.
// Travel is symmetric: commands are clamped to ±travel_range_rad per axis.
func (c *TuningConfig) GetTravelRangeRad() float64 {
	if c.TravelRangeRad == nil {
		return 0.35 // ~±20 degrees
	}
	return *c.TravelRangeRad
}

// GetDeadbandBaseRad returns the deadband_base_rad value or the default.
func (c *TuningConfig) GetDeadbandBaseRad() float64 {
	if c.DeadbandBaseRad == nil {
		return 0.0005
	}
	return *c.DeadbandBaseRad
}

// GetDeadbandSlope returns the deadband_slope value or the default.
// The deadband grows linearly with angular offset from mirror centre, since
// jitter grows off-axis.
func (c *TuningConfig) GetDeadbandSlope() float64 {
	if c.DeadbandSlope == nil {
		return 0.01
	}
	return *c.DeadbandSlope
}

// GetFeedbackGain returns the feedback_gain value or the default.
func (c *TuningConfig) GetFeedbackGain() float64 {
	if c.FeedbackGain == nil {
		return 0.15
	}
	return *c.FeedbackGain
}

// GetFeedbackBiasMaxRad returns the feedback_bias_max_rad value or the default.
func (c *TuningConfig) GetFeedbackBiasMaxRad() float64 {
	if c.FeedbackBiasMaxRad == nil {
		return 0.02
	}
	return *c.FeedbackBiasMaxRad
}

// GetFeedbackStaleAfter returns the feedback_stale_after value or the default.
func (c *TuningConfig) GetFeedbackStaleAfter() time.Duration {
	return durationOr(c.FeedbackStaleAfter, 100*time.Millisecond)
}

// GetControlPeriod returns the control_period value or the default.
// One control decision per incoming stereo frame pair at 40 fps.
func (c *TuningConfig) GetControlPeriod() time.Duration {
	return durationOr(c.ControlPeriod, 25*time.Millisecond)
}

// GetActuatorTimeout returns the actuator_timeout value or the default.
func (c *TuningConfig) GetActuatorTimeout() time.Duration {
	return durationOr(c.ActuatorTimeout, 10*time.Millisecond)
}
