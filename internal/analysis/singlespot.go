package analysis

import (
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// singleSpot analyzes the single IR spot geometry: background-subtract the
// frame, fit the spot with a Gaussian peak fit, magnitude is max minus
// mean of the subtracted frame.
type singleSpot struct {
	mu       sync.Mutex
	zeroDist float64

	background float64
	sigma      float64
	threshold  float64
}

func newSingleSpot(p AnalyzerParams) *singleSpot {
	return &singleSpot{
		zeroDist:   p.ZeroDist,
		background: p.Background,
		sigma:      p.Sigma,
		threshold:  p.Threshold,
	}
}

func (a *singleSpot) Analyze(f Frame) Estimate {
	if len(f.Pix) == 0 {
		return Estimate{}
	}

	// The fit cannot tolerate negative values, so the subtraction clamps
	// at zero. The configured background sits slightly below the no-signal
	// read level.
	work := make([]float64, len(f.Pix))
	for i, v := range f.Pix {
		d := float64(v) - a.background
		if d < 0 {
			d = 0
		}
		work[i] = d
	}

	mag := floats.Max(work) - stat.Mean(work, nil)
	fit := FitGaussianPeak(work, f.Width, f.Height, a.sigma, a.threshold)

	return Estimate{
		Offset:    fit.Y - a.ZeroDist(),
		XOff:      fit.X,
		YOff:      fit.Y,
		Magnitude: mag,
		Good:      fit.Converged,
	}
}

// AdjustZeroDist nudges the zero point. The single-spot geometry works in
// pixel units, so the increment scale is coarser than the dual-spot one.
func (a *singleSpot) AdjustZeroDist(inc float64) {
	a.mu.Lock()
	a.zeroDist += 0.1 * inc
	a.mu.Unlock()
}

func (a *singleSpot) ZeroDist() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.zeroDist
}
