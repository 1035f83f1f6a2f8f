package analysis

import "sync"

// axiconRing analyzes the axicon ring geometry: two ROIs straddle the
// ring, each contributes an intensity-weighted centroid, and the offset is
// the horizontal distance between them.
type axiconRing struct {
	mu       sync.Mutex
	zeroDist float64

	roi1, roi2   ROI
	background   float64
	sumThreshold float64
}

func newAxiconRing(p AnalyzerParams) *axiconRing {
	return &axiconRing{
		zeroDist:     p.ZeroDist,
		roi1:         p.ROI1,
		roi2:         p.ROI2,
		background:   p.Background,
		sumThreshold: p.SumThreshold,
	}
}

func (a *axiconRing) Analyze(f Frame) Estimate {
	img1 := f.Crop(a.roi1)
	img2 := f.Crop(a.roi2)

	c1, sum1, ok1 := intensityCentroid(img1, a.background)
	c2, sum2, ok2 := intensityCentroid(img2, a.background)

	// A dark ROI fails the measurement outright; it must never surface as
	// a NaN centroid.
	if !ok1 || !ok2 {
		return Estimate{}
	}

	est := Estimate{
		Offset:    c1.X - c2.X - a.ZeroDist(),
		XOff:      c1.X - c2.X,
		Magnitude: sum1 + sum2,
		Good:      sum1 > a.sumThreshold && sum2 > a.sumThreshold,
		// Report centroids in full-frame coordinates for the display.
		Spot1: Spot{X: c1.X + float64(a.roi1.X0), Y: c1.Y + float64(a.roi1.Y0)},
		Spot2: Spot{X: c2.X + float64(a.roi2.X0), Y: c2.Y + float64(a.roi2.Y0)},
	}
	return est
}

func (a *axiconRing) AdjustZeroDist(inc float64) {
	a.mu.Lock()
	a.zeroDist += 0.001 * inc
	a.mu.Unlock()
}

func (a *axiconRing) ZeroDist() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.zeroDist
}
