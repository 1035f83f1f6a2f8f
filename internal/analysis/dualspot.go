package analysis

import "sync"

// OffsetFinder measures the displacement between two spot images. It
// exists as a seam so tests (and alternative correlators) can stand in for
// the default centroid-based finder.
type OffsetFinder func(img1, img2 Frame, background float64) SpotOffset

// dualSpot analyzes the two-spot auto-focus geometry: crop both ROIs, run
// the offset finder, and report the vertical separation relative to the
// configured zero distance.
type dualSpot struct {
	mu       sync.Mutex
	zeroDist float64

	roi1, roi2 ROI
	background float64
	find       OffsetFinder
}

func newDualSpot(p AnalyzerParams) *dualSpot {
	return &dualSpot{
		zeroDist:   p.ZeroDist,
		roi1:       p.ROI1,
		roi2:       p.ROI2,
		background: p.Background,
		find:       FindDualSpotOffset,
	}
}

func (a *dualSpot) Analyze(f Frame) Estimate {
	img1 := f.Crop(a.roi1)
	img2 := f.Crop(a.roi2)

	off := a.find(img1, img2, a.background)
	return Estimate{
		Offset:    off.DY - a.ZeroDist(),
		XOff:      off.DX,
		YOff:      off.DY,
		Magnitude: off.Magnitude,
		Good:      off.Success,
	}
}

func (a *dualSpot) AdjustZeroDist(inc float64) {
	a.mu.Lock()
	a.zeroDist += 0.001 * inc
	a.mu.Unlock()
}

func (a *dualSpot) ZeroDist() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.zeroDist
}
