package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcus-instruments/focuslock/internal/analysis"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "lock.json", `{
		"geometry": "dual_spot",
		"roi1": "0,64,0,32",
		"roi2": "0,64,32,64",
		"reps": 10,
		"update_interval": "250ms"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dual_spot", cfg.GetGeometry())
	assert.Equal(t, analysis.ROI{X0: 0, X1: 64, Y0: 0, Y1: 32}, cfg.GetROI1())
	assert.Equal(t, 10, cfg.GetReps())
	assert.Equal(t, 250*time.Millisecond, cfg.GetUpdateInterval())

	// Unspecified fields fall back to defaults.
	assert.Equal(t, 3, cfg.GetMinGood())
	assert.Equal(t, 115200, cfg.GetStageBaudRate())
	assert.Equal(t, 0.5, cfg.GetGain())
	assert.Nil(t, cfg.GetZOffsets())
}

func TestLoadRejectsWrongExtension(t *testing.T) {
	path := writeConfig(t, "lock.yaml", `{}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, ".json extension")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestValidateRepsBelowMinGoodIsFatal(t *testing.T) {
	path := writeConfig(t, "lock.json", `{"reps": 2, "min_good": 3}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "min_good")
}

func TestValidateRejectsBadROI(t *testing.T) {
	path := writeConfig(t, "lock.json", `{"roi1": "64,0,0,32"}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "roi1")
}

func TestValidateRejectsUnknownGeometry(t *testing.T) {
	path := writeConfig(t, "lock.json", `{"geometry": "pentaspot"}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "geometry")
}

func TestValidateRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "lock.json", `{"update_interval": "fast"}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "update_interval")
}

func TestValidateRejectsInvertedTravel(t *testing.T) {
	path := writeConfig(t, "lock.json", `{"fine_min": 50, "fine_max": 10}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "fine_max")
}

func TestParseOffsets(t *testing.T) {
	offs, err := ParseOffsets("-0.5, 0, 0.5")
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.5, 0, 0.5}, offs)

	_, err = ParseOffsets("1,up,3")
	assert.Error(t, err)
}

func TestGetZOffsets(t *testing.T) {
	path := writeConfig(t, "lock.json", `{"z_offsets": "-0.25,0,0.25"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.25, 0, 0.25}, cfg.GetZOffsets())
}

func TestThresholdGetters(t *testing.T) {
	cfg := Empty()
	min, max, warnLow, warnHigh := cfg.GetOffsetThresholds()
	assert.Equal(t, -1.0, min)
	assert.Equal(t, 1.0, max)
	assert.Equal(t, -0.5, warnLow)
	assert.Equal(t, 0.5, warnHigh)

	v := 2.5
	cfg.OffsetMax = &v
	_, max, _, _ = cfg.GetOffsetThresholds()
	assert.Equal(t, 2.5, max)
}
