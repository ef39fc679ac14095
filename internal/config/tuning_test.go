package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTuningFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	assert.Equal(t, 200.0, cfg.GetMaxDisparityPx())
	assert.Equal(t, 8.0, cfg.GetMaxRowOffsetPx())
	assert.Equal(t, 0.25, cfg.GetMinConfidence())
	assert.Equal(t, 2, cfg.GetHitsToConfirm())
	assert.Equal(t, 5, cfg.GetMaxMisses())
	assert.Equal(t, 250*time.Millisecond, cfg.GetLossTimeout())
	assert.Equal(t, 3.5, cfg.GetMaxTargetSpeedMps())
	assert.Equal(t, 6, cfg.GetHistoryWindow())
	assert.Equal(t, 40*time.Millisecond, cfg.GetPredictionHorizon())
	assert.Equal(t, 20.0, cfg.GetSlewRateRadPerSec())
	assert.Equal(t, 0.35, cfg.GetTravelRangeRad())
	assert.Equal(t, 0.0005, cfg.GetDeadbandBaseRad())
	assert.Equal(t, 0.01, cfg.GetDeadbandSlope())
	assert.Equal(t, 0.15, cfg.GetFeedbackGain())
	assert.Equal(t, 0.02, cfg.GetFeedbackBiasMaxRad())
	assert.Equal(t, 100*time.Millisecond, cfg.GetFeedbackStaleAfter())
	assert.Equal(t, 25*time.Millisecond, cfg.GetControlPeriod())
	assert.Equal(t, 10*time.Millisecond, cfg.GetActuatorTimeout())
}

func TestLoadTuningConfigPartialOverride(t *testing.T) {
	path := writeTuningFile(t, "tuning.json", `{
		"max_target_speed_mps": 5.0,
		"hits_to_confirm": 3,
		"control_period": "20ms"
	}`)

	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)

	// Overridden fields take the file values.
	assert.Equal(t, 5.0, cfg.GetMaxTargetSpeedMps())
	assert.Equal(t, 3, cfg.GetHitsToConfirm())
	assert.Equal(t, 20*time.Millisecond, cfg.GetControlPeriod())

	// Omitted fields keep their defaults.
	assert.Equal(t, 5, cfg.GetMaxMisses())
	assert.Equal(t, 0.35, cfg.GetTravelRangeRad())
	assert.Equal(t, 40*time.Millisecond, cfg.GetPredictionHorizon())
}

func TestLoadTuningConfigRejectsNonJSONExtension(t *testing.T) {
	path := writeTuningFile(t, "tuning.yaml", `{}`)
	_, err := LoadTuningConfig(path)
	assert.ErrorContains(t, err, ".json extension")
}

func TestLoadTuningConfigMissingFile(t *testing.T) {
	_, err := LoadTuningConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadTuningConfigMalformedJSON(t *testing.T) {
	path := writeTuningFile(t, "tuning.json", `{"max_misses": `)
	_, err := LoadTuningConfig(path)
	assert.ErrorContains(t, err, "parse config JSON")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"non-positive disparity":  `{"max_disparity_px": 0}`,
		"confidence above 1":      `{"min_confidence": 1.5}`,
		"zero hits to confirm":    `{"hits_to_confirm": 0}`,
		"zero max misses":         `{"max_misses": 0}`,
		"negative speed":          `{"max_target_speed_mps": -1}`,
		"window of one":           `{"history_window": 1}`,
		"zero slew rate":          `{"slew_rate_rad_per_sec": 0}`,
		"zero travel range":       `{"travel_range_rad": 0}`,
		"negative deadband":       `{"deadband_base_rad": -0.001}`,
		"negative deadband slope": `{"deadband_slope": -0.1}`,
		"bad duration":            `{"loss_timeout": "soon"}`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeTuningFile(t, "tuning.json", content)
			_, err := LoadTuningConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestDurationFallsBackOnEmptyString(t *testing.T) {
	path := writeTuningFile(t, "tuning.json", `{"prediction_horizon": ""}`)
	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 40*time.Millisecond, cfg.GetPredictionHorizon())
}
