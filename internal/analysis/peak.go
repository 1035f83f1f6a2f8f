package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Numeric guards for the centroid and fit routines. A projection whose
// total intensity falls below minIntensity cannot be normalized without
// amplifying noise into NaN/Inf, so such frames are reported as failures.
const (
	minIntensity = 1e-9
	fitMaxIter   = 20
	fitTolerance = 1e-3
)

// PeakFit is the result of a single-spot Gaussian peak fit.
type PeakFit struct {
	X, Y      float64
	Converged bool
}

// FitGaussianPeak locates the brightest spot in img by seeding at the
// maximum pixel and iteratively refining a Gaussian-weighted centroid with
// the given sigma. The fit fails when the peak is below threshold or the
// refinement does not settle.
func FitGaussianPeak(img []float64, width, height int, sigma, threshold float64) PeakFit {
	if len(img) == 0 || width <= 0 || height <= 0 {
		return PeakFit{}
	}

	maxIdx := floats.MaxIdx(img)
	if img[maxIdx] < threshold {
		return PeakFit{}
	}

	x := float64(maxIdx % width)
	y := float64(maxIdx / width)

	// Refine inside a window of +/- 3 sigma around the current estimate.
	win := int(math.Ceil(3 * sigma))
	if win < 1 {
		win = 1
	}
	inv2s2 := 1.0 / (2 * sigma * sigma)

	for iter := 0; iter < fitMaxIter; iter++ {
		var sumW, sumX, sumY float64
		x0 := clampInt(int(x)-win, 0, width-1)
		x1 := clampInt(int(x)+win, 0, width-1)
		y0 := clampInt(int(y)-win, 0, height-1)
		y1 := clampInt(int(y)+win, 0, height-1)

		for yy := y0; yy <= y1; yy++ {
			for xx := x0; xx <= x1; xx++ {
				v := img[yy*width+xx]
				if v <= 0 {
					continue
				}
				dx := float64(xx) - x
				dy := float64(yy) - y
				w := v * math.Exp(-(dx*dx+dy*dy)*inv2s2)
				sumW += w
				sumX += w * float64(xx)
				sumY += w * float64(yy)
			}
		}
		if sumW < minIntensity {
			return PeakFit{}
		}

		nx := sumX / sumW
		ny := sumY / sumW
		shift := math.Hypot(nx-x, ny-y)
		x, y = nx, ny
		if shift < fitTolerance {
			return PeakFit{X: x, Y: y, Converged: true}
		}
	}
	// Ran out of iterations without settling.
	return PeakFit{X: x, Y: y}
}

// SpotOffset is the result of the dual-spot offset finder.
type SpotOffset struct {
	DX, DY    float64
	Magnitude float64
	Success   bool
}

// FindDualSpotOffset measures the displacement between the spots in two
// background-subtracted ROI images. DX/DY are centroid(img1) -
// centroid(img2); Magnitude is the combined integrated intensity.
func FindDualSpotOffset(img1, img2 Frame, background float64) SpotOffset {
	c1, sum1, ok1 := intensityCentroid(img1, background)
	c2, sum2, ok2 := intensityCentroid(img2, background)
	if !ok1 || !ok2 {
		return SpotOffset{}
	}
	return SpotOffset{
		DX:        c1.X - c2.X,
		DY:        c1.Y - c2.Y,
		Magnitude: sum1 + sum2,
		Success:   true,
	}
}

// Spot is an intensity-weighted centroid in pixel coordinates.
type Spot struct {
	X, Y float64
}

// intensityCentroid computes the center of mass of a background-subtracted
// ROI image along each axis independently. A region with no intensity
// above background reports ok=false rather than dividing by zero.
func intensityCentroid(img Frame, background float64) (Spot, float64, bool) {
	if img.Width == 0 || img.Height == 0 {
		return Spot{}, 0, false
	}

	cols := make([]float64, img.Width)
	rows := make([]float64, img.Height)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			v := float64(img.At(x, y)) - background
			cols[x] += v
			rows[y] += v
		}
	}

	colSum := floats.Sum(cols)
	rowSum := floats.Sum(rows)
	if colSum < minIntensity || rowSum < minIntensity {
		return Spot{}, 0, false
	}

	var cx, cy float64
	for i, v := range cols {
		cx += float64(i) * v
	}
	for i, v := range rows {
		cy += float64(i) * v
	}
	return Spot{X: cx / colSum, Y: cy / rowSum}, colSum, true
}

// meanMasked returns the mean of vals restricted to entries whose mask is
// true. It returns 0 when nothing is selected.
func meanMasked(vals []float64, mask []bool) float64 {
	sel := make([]float64, 0, len(vals))
	for i, v := range vals {
		if mask[i] {
			sel = append(sel, v)
		}
	}
	if len(sel) == 0 {
		return 0
	}
	return stat.Mean(sel, nil)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
