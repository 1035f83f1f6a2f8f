package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/arcus-instruments/focuslock/internal/analysis"
)

// Config is the focus-lock configuration. The schema matches the
// /api/params endpoint so the same JSON can be used for both startup
// configuration and runtime updates. Fields omitted from the JSON file
// retain their default values, so partial configs are safe.
type Config struct {
	// Analysis params
	Geometry     *string  `json:"geometry,omitempty"`
	ROI1         *string  `json:"roi1,omitempty"` // "x0,x1,y0,y1"
	ROI2         *string  `json:"roi2,omitempty"`
	Reps         *int     `json:"reps,omitempty"`
	MinGood      *int     `json:"min_good,omitempty"`
	ZeroDist     *float64 `json:"zero_dist,omitempty"`
	Background   *float64 `json:"background,omitempty"`
	Sigma        *float64 `json:"sigma,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
	SumScale     *float64 `json:"sum_scale,omitempty"`
	SumZero      *float64 `json:"sum_zero,omitempty"`
	SumThreshold *float64 `json:"sum_threshold,omitempty"`

	// Stage params
	StagePort      *string  `json:"stage_port,omitempty"`
	StageBaudRate  *int     `json:"stage_baud_rate,omitempty"`
	StageID        *int     `json:"stage_id,omitempty"`
	StageUnitToUm  *float64 `json:"stage_unit_to_um,omitempty"`
	CoarseMin      *float64 `json:"coarse_min,omitempty"`
	CoarseMax      *float64 `json:"coarse_max,omitempty"`
	FineMin        *float64 `json:"fine_min,omitempty"`
	FineMax        *float64 `json:"fine_max,omitempty"`
	UpdateInterval *string  `json:"update_interval,omitempty"` // duration string like "100ms"

	// Lock params
	Gain     *float64 `json:"gain,omitempty"`
	ZOffsets *string  `json:"z_offsets,omitempty"` // csv of relative microns

	// Display thresholds per channel
	OffsetMin      *float64 `json:"offset_min,omitempty"`
	OffsetMax      *float64 `json:"offset_max,omitempty"`
	OffsetWarnLow  *float64 `json:"offset_warn_low,omitempty"`
	OffsetWarnHigh *float64 `json:"offset_warn_high,omitempty"`
	SumMin         *float64 `json:"sum_min,omitempty"`
	SumMax         *float64 `json:"sum_max,omitempty"`
	SumWarnLow     *float64 `json:"sum_warn_low,omitempty"`
	SumWarnHigh    *float64 `json:"sum_warn_high,omitempty"`

	// Storage
	DBPath *string `json:"db_path,omitempty"`
}

// Empty returns a Config with all fields set to nil. The Get* methods
// provide fallback defaults for any fields not specified.
func Empty() *Config {
	return &Config{}
}

// Load loads a Config from a JSON file. The file is validated to ensure it
// has a .json extension and is under the max file size.
func Load(path string) (*Config, error) {
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

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the invariants that the system refuses to start without.
func (c *Config) Validate() error {
	switch g := analysis.Geometry(c.GetGeometry()); g {
	case analysis.GeometrySingleSpot, analysis.GeometryDualSpot, analysis.GeometryAxiconRing:
	default:
		return fmt.Errorf("unknown geometry %q", g)
	}

	reps := c.GetReps()
	minGood := c.GetMinGood()
	if reps <= 0 {
		return fmt.Errorf("reps must be positive, got %d", reps)
	}
	if reps < minGood {
		return fmt.Errorf("reps (%d) must be >= min_good (%d)", reps, minGood)
	}

	if c.ROI1 != nil {
		if _, err := analysis.ParseROI(*c.ROI1); err != nil {
			return fmt.Errorf("invalid roi1: %w", err)
		}
	}
	if c.ROI2 != nil {
		if _, err := analysis.ParseROI(*c.ROI2); err != nil {
			return fmt.Errorf("invalid roi2: %w", err)
		}
	}

	if c.UpdateInterval != nil && *c.UpdateInterval != "" {
		if _, err := time.ParseDuration(*c.UpdateInterval); err != nil {
			return fmt.Errorf("invalid update_interval '%s': %w", *c.UpdateInterval, err)
		}
	}

	if c.ZOffsets != nil && *c.ZOffsets != "" {
		if _, err := ParseOffsets(*c.ZOffsets); err != nil {
			return fmt.Errorf("invalid z_offsets: %w", err)
		}
	}

	if c.GetCoarseMax() <= c.GetCoarseMin() {
		return fmt.Errorf("coarse_max (%g) must be greater than coarse_min (%g)", c.GetCoarseMax(), c.GetCoarseMin())
	}
	if c.GetFineMax() <= c.GetFineMin() {
		return fmt.Errorf("fine_max (%g) must be greater than fine_min (%g)", c.GetFineMax(), c.GetFineMin())
	}
	return nil
}

// ParseOffsets parses a csv of float offsets like "-0.5,0,0.5".
func ParseOffsets(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid offset %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetGeometry returns the geometry value or the default.
func (c *Config) GetGeometry() string {
	if c.Geometry == nil {
		return string(analysis.GeometrySingleSpot) // default
	}
	return *c.Geometry
}

// GetROI1 returns the parsed roi1 value or the default.
func (c *Config) GetROI1() analysis.ROI {
	if c.ROI1 == nil {
		return analysis.ROI{X0: 0, X1: 512, Y0: 0, Y1: 512} // default: full sensor
	}
	roi, err := analysis.ParseROI(*c.ROI1)
	if err != nil {
		return analysis.ROI{X0: 0, X1: 512, Y0: 0, Y1: 512}
	}
	return roi
}

// GetROI2 returns the parsed roi2 value or the default.
func (c *Config) GetROI2() analysis.ROI {
	if c.ROI2 == nil {
		return analysis.ROI{X0: 0, X1: 512, Y0: 0, Y1: 512} // default: full sensor
	}
	roi, err := analysis.ParseROI(*c.ROI2)
	if err != nil {
		return analysis.ROI{X0: 0, X1: 512, Y0: 0, Y1: 512}
	}
	return roi
}

// GetReps returns the reps value or the default.
func (c *Config) GetReps() int {
	if c.Reps == nil {
		return 5 // default
	}
	return *c.Reps
}

// GetMinGood returns the min_good value or the default.
func (c *Config) GetMinGood() int {
	if c.MinGood == nil {
		return 3 // default
	}
	return *c.MinGood
}

// GetZeroDist returns the zero_dist value or the default.
func (c *Config) GetZeroDist() float64 {
	if c.ZeroDist == nil {
		return 0
	}
	return *c.ZeroDist
}

// GetBackground returns the background value or the default.
func (c *Config) GetBackground() float64 {
	if c.Background == nil {
		return 0
	}
	return *c.Background
}

// GetSigma returns the sigma value or the default.
func (c *Config) GetSigma() float64 {
	if c.Sigma == nil {
		return 2.0 // default
	}
	return *c.Sigma
}

// GetThreshold returns the threshold value or the default.
func (c *Config) GetThreshold() float64 {
	if c.Threshold == nil {
		return 100.0 // default
	}
	return *c.Threshold
}

// GetSumScale returns the sum_scale value or the default.
func (c *Config) GetSumScale() float64 {
	if c.SumScale == nil {
		return 1.0
	}
	return *c.SumScale
}

// GetSumZero returns the sum_zero value or the default.
func (c *Config) GetSumZero() float64 {
	if c.SumZero == nil {
		return 0
	}
	return *c.SumZero
}

// GetSumThreshold returns the sum_threshold value or the default.
func (c *Config) GetSumThreshold() float64 {
	if c.SumThreshold == nil {
		return 50.0 // default
	}
	return *c.SumThreshold
}

// GetStagePort returns the stage_port value or the default.
func (c *Config) GetStagePort() string {
	if c.StagePort == nil {
		return "/dev/ttyUSB0" // default
	}
	return *c.StagePort
}

// GetStageBaudRate returns the stage_baud_rate value or the default.
func (c *Config) GetStageBaudRate() int {
	if c.StageBaudRate == nil {
		return 115200 // default
	}
	return *c.StageBaudRate
}

// GetStageID returns the stage_id value or the default.
func (c *Config) GetStageID() int {
	if c.StageID == nil {
		return 1 // default
	}
	return *c.StageID
}

// GetStageUnitToUm returns the stage_unit_to_um value or the default.
func (c *Config) GetStageUnitToUm() float64 {
	if c.StageUnitToUm == nil {
		return 0.001 // default: 1 unit = 1nm
	}
	return *c.StageUnitToUm
}

// GetCoarseMin returns the coarse_min value or the default.
func (c *Config) GetCoarseMin() float64 {
	if c.CoarseMin == nil {
		return 0
	}
	return *c.CoarseMin
}

// GetCoarseMax returns the coarse_max value or the default.
func (c *Config) GetCoarseMax() float64 {
	if c.CoarseMax == nil {
		return 100.0 // default: full travel in microns
	}
	return *c.CoarseMax
}

// GetFineMin returns the fine_min value or the default.
func (c *Config) GetFineMin() float64 {
	if c.FineMin == nil {
		return 0
	}
	return *c.FineMin
}

// GetFineMax returns the fine_max value or the default.
func (c *Config) GetFineMax() float64 {
	if c.FineMax == nil {
		return 100.0 // default
	}
	return *c.FineMax
}

// GetUpdateInterval parses and returns the UpdateInterval as a
// time.Duration.
func (c *Config) GetUpdateInterval() time.Duration {
	if c.UpdateInterval == nil || *c.UpdateInterval == "" {
		return 100 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.UpdateInterval)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

// GetGain returns the gain value or the default.
func (c *Config) GetGain() float64 {
	if c.Gain == nil {
		return 0.5 // default
	}
	return *c.Gain
}

// GetZOffsets returns the parsed z_offsets value or the default.
func (c *Config) GetZOffsets() []float64 {
	if c.ZOffsets == nil || *c.ZOffsets == "" {
		return nil // default: no z scan
	}
	offs, err := ParseOffsets(*c.ZOffsets)
	if err != nil {
		return nil
	}
	return offs
}

// GetOffsetThresholds returns the offset channel display thresholds.
func (c *Config) GetOffsetThresholds() (min, max, warnLow, warnHigh float64) {
	min, max, warnLow, warnHigh = -1.0, 1.0, -0.5, 0.5 // defaults
	if c.OffsetMin != nil {
		min = *c.OffsetMin
	}
	if c.OffsetMax != nil {
		max = *c.OffsetMax
	}
	if c.OffsetWarnLow != nil {
		warnLow = *c.OffsetWarnLow
	}
	if c.OffsetWarnHigh != nil {
		warnHigh = *c.OffsetWarnHigh
	}
	return min, max, warnLow, warnHigh
}

// GetSumThresholds returns the sum channel display thresholds.
func (c *Config) GetSumThresholds() (min, max, warnLow, warnHigh float64) {
	min, max, warnLow, warnHigh = 0, 1e9, 0, 1e9 // defaults
	if c.SumMin != nil {
		min = *c.SumMin
	}
	if c.SumMax != nil {
		max = *c.SumMax
	}
	if c.SumWarnLow != nil {
		warnLow = *c.SumWarnLow
	}
	if c.SumWarnHigh != nil {
		warnHigh = *c.SumWarnHigh
	}
	return min, max, warnLow, warnHigh
}

// GetDBPath returns the db_path value or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return "focuslock.db" // default
	}
	return *c.DBPath
}
