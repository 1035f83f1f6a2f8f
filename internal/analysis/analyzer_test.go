package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnalyzerUnknownGeometry(t *testing.T) {
	_, err := NewAnalyzer(AnalyzerParams{Geometry: "pentaprism"})
	require.Error(t, err)
}

func TestSingleSpotAnalyze(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerParams{
		Geometry:  GeometrySingleSpot,
		Sigma:     2.0,
		Threshold: 100,
		ZeroDist:  10.0,
	})
	require.NoError(t, err)

	f := gaussianFrame(48, 48, 24.0, 18.0, 3000, 2.0)
	est := a.Analyze(f)

	require.True(t, est.Good)
	assert.InDelta(t, 24.0, est.XOff, 0.5)
	assert.InDelta(t, 18.0, est.YOff, 0.5)
	assert.InDelta(t, est.YOff-10.0, est.Offset, 1e-9)
	assert.Greater(t, est.Magnitude, 0.0)
}

func TestSingleSpotDarkFrameNotGood(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerParams{
		Geometry:  GeometrySingleSpot,
		Sigma:     2.0,
		Threshold: 100,
	})
	require.NoError(t, err)

	est := a.Analyze(NewFrame(32, 32))
	assert.False(t, est.Good)
	assert.False(t, math.IsNaN(est.Offset))
}

func TestDualSpotAnalyze(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerParams{
		Geometry: GeometryDualSpot,
		ROI1:     ROI{X0: 0, X1: 24, Y0: 0, Y1: 24},
		ROI2:     ROI{X0: 0, X1: 24, Y0: 24, Y1: 48},
		ZeroDist: 2.0,
	})
	require.NoError(t, err)

	// Spot 1 at (12, 8) in ROI1, spot 2 at (12, 13) ROI-local in ROI2.
	f := NewFrame(24, 48)
	spot1 := gaussianFrame(24, 24, 12, 8, 2000, 1.5)
	spot2 := gaussianFrame(24, 24, 12, 13, 2000, 1.5)
	copy(f.Pix[:24*24], spot1.Pix)
	copy(f.Pix[24*24:], spot2.Pix)

	est := a.Analyze(f)
	require.True(t, est.Good)
	assert.InDelta(t, -5.0, est.YOff, 0.1)
	assert.InDelta(t, -7.0, est.Offset, 0.1) // dy - zeroDist
}

func TestDualSpotZeroIntensityROIsNotGood(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerParams{
		Geometry: GeometryDualSpot,
		ROI1:     ROI{X0: 0, X1: 16, Y0: 0, Y1: 16},
		ROI2:     ROI{X0: 0, X1: 16, Y0: 16, Y1: 32},
	})
	require.NoError(t, err)

	est := a.Analyze(NewFrame(16, 32))
	assert.False(t, est.Good)
	assert.False(t, math.IsNaN(est.Offset))
	assert.False(t, math.IsInf(est.Offset, 0))
}

func TestAxiconRingAnalyze(t *testing.T) {
	roi1 := ROI{X0: 8, X1: 24, Y0: 8, Y1: 24}
	roi2 := ROI{X0: 40, X1: 56, Y0: 8, Y1: 24}
	a, err := NewAnalyzer(AnalyzerParams{
		Geometry:     GeometryAxiconRing,
		ROI1:         roi1,
		ROI2:         roi2,
		SumThreshold: 100,
	})
	require.NoError(t, err)

	// One bright pixel per ROI: centroid equals that pixel's coordinates.
	f := NewFrame(64, 32)
	f.Pix[15*64+12] = 4000 // (12,15): ROI1-local (4,7)
	f.Pix[11*64+45] = 4000 // (45,11): ROI2-local (5,3)

	est := a.Analyze(f)
	require.True(t, est.Good)
	assert.InDelta(t, 4.0-5.0, est.Offset, 1e-9) // ROI-local x centroid difference
	assert.InDelta(t, 12.0, est.Spot1.X, 1e-9)   // full-frame coordinates
	assert.InDelta(t, 15.0, est.Spot1.Y, 1e-9)
	assert.InDelta(t, 45.0, est.Spot2.X, 1e-9)
	assert.InDelta(t, 11.0, est.Spot2.Y, 1e-9)
	assert.InDelta(t, 8000.0, est.Magnitude, 1e-9)
}

func TestAxiconRingZeroIntensityROI(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerParams{
		Geometry:     GeometryAxiconRing,
		ROI1:         ROI{X0: 0, X1: 16, Y0: 0, Y1: 16},
		ROI2:         ROI{X0: 16, X1: 32, Y0: 0, Y1: 16},
		SumThreshold: 100,
	})
	require.NoError(t, err)

	// Uniform zero intensity: must classify not-good, not crash or emit NaN.
	est := a.Analyze(NewFrame(32, 16))
	assert.False(t, est.Good)
	assert.False(t, math.IsNaN(est.Offset))
}

func TestAxiconRingBelowSumThreshold(t *testing.T) {
	a, err := NewAnalyzer(AnalyzerParams{
		Geometry:     GeometryAxiconRing,
		ROI1:         ROI{X0: 0, X1: 16, Y0: 0, Y1: 16},
		ROI2:         ROI{X0: 16, X1: 32, Y0: 0, Y1: 16},
		SumThreshold: 10000,
	})
	require.NoError(t, err)

	f := NewFrame(32, 16)
	f.Pix[5*32+5] = 400
	f.Pix[5*32+20] = 400

	est := a.Analyze(f)
	assert.False(t, est.Good, "sums below threshold must not count as good")
	assert.False(t, math.IsNaN(est.Offset), "offset is still computed without NaN")
}

func TestAdjustZeroDistScales(t *testing.T) {
	tests := []struct {
		geometry Geometry
		perInc   float64
	}{
		{GeometrySingleSpot, 0.1},
		{GeometryDualSpot, 0.001},
		{GeometryAxiconRing, 0.001},
	}
	for _, tt := range tests {
		t.Run(string(tt.geometry), func(t *testing.T) {
			a, err := NewAnalyzer(AnalyzerParams{
				Geometry: tt.geometry,
				ROI1:     ROI{X0: 0, X1: 8, Y0: 0, Y1: 8},
				ROI2:     ROI{X0: 8, X1: 16, Y0: 0, Y1: 8},
				ZeroDist: 1.0,
			})
			require.NoError(t, err)

			a.AdjustZeroDist(3)
			assert.InDelta(t, 1.0+3*tt.perInc, a.ZeroDist(), 1e-9)
		})
	}
}
