package analysis

import "fmt"

// Geometry selects the focus-sensing optical geometry. Exactly one is
// chosen at configuration time; the variants share only the Estimate shape.
type Geometry string

const (
	// GeometrySingleSpot is the standard IR laser configuration: one spot
	// that moves horizontally as the focus changes.
	GeometrySingleSpot Geometry = "single_spot"

	// GeometryDualSpot is the auto-focus configuration: two vertically
	// separated spots whose separation tracks the focus offset.
	GeometryDualSpot Geometry = "dual_spot"

	// GeometryAxiconRing is the axicon configuration: a ring of light whose
	// diameter depends on the focal offset, sensed as the distance between
	// two ring-edge centroids.
	GeometryAxiconRing Geometry = "axicon"
)

// Estimate is the result of analyzing one frame. It is consumed
// immediately by the accumulator and not persisted.
type Estimate struct {
	// Offset is the focus offset for this frame in the geometry's native
	// units, already corrected by the configured zero distance.
	Offset float64

	// XOff/YOff locate the measured feature in frame coordinates.
	XOff, YOff float64

	// Magnitude is the geometry's signal strength measure.
	Magnitude float64

	// Good reports whether the measurement may be trusted.
	Good bool

	// Spot1/Spot2 are per-ROI centroids in full-frame coordinates. Only
	// the axicon geometry populates them.
	Spot1, Spot2 Spot
}

// Analyzer converts one raw frame into a focus offset estimate. Analyze is
// a pure function of the frame plus fixed per-instance configuration;
// AdjustZeroDist is the one runtime-adjustable knob and is safe to call
// concurrently with Analyze.
type Analyzer interface {
	Analyze(f Frame) Estimate
	AdjustZeroDist(inc float64)
	ZeroDist() float64
}

// AnalyzerParams carries the per-geometry configuration for NewAnalyzer.
type AnalyzerParams struct {
	Geometry   Geometry
	ROI1, ROI2 ROI

	// ZeroDist is subtracted from the raw geometric offset so a focused
	// system reads zero.
	ZeroDist float64

	// Background is the camera background level subtracted before
	// centroiding/fitting.
	Background float64

	// Sigma and Threshold tune the single-spot Gaussian fit.
	Sigma     float64
	Threshold float64

	// SumThreshold is the minimum per-ROI integrated intensity for an
	// axicon measurement to count as good.
	SumThreshold float64
}

// NewAnalyzer builds the analyzer for the configured geometry.
func NewAnalyzer(p AnalyzerParams) (Analyzer, error) {
	switch p.Geometry {
	case GeometrySingleSpot:
		return newSingleSpot(p), nil
	case GeometryDualSpot:
		return newDualSpot(p), nil
	case GeometryAxiconRing:
		return newAxiconRing(p), nil
	default:
		return nil, fmt.Errorf("unknown analyzer geometry %q", p.Geometry)
	}
}
