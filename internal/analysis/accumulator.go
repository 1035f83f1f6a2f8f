package analysis

import (
	"fmt"
	"image"
)

// Sample is the aggregation of one batch of per-frame estimates. A sample
// with IsGood=false carries neutral zero fields and must not be treated as
// a measured focus position.
type Sample struct {
	IsGood    bool
	GoodCount int

	// Offset is the mean focus offset over the good estimates.
	Offset float64

	// Sum is the scaled signal-strength display value.
	Sum float64

	// XOff/YOff are the mean feature positions over the good estimates.
	XOff, YOff float64

	// Spot1/Spot2 are mean per-ROI centroids (axicon geometry only).
	Spot1, Spot2 Spot

	// Preview is an 8-bit rendering of the most recent frame in the batch,
	// attached by the acquisition loop for display consumers.
	Preview *image.Gray
}

// Accumulator batches Reps consecutive per-frame estimates into one
// quality-gated Sample. Quality gating is per batch: individual bad frames
// inside a good batch are masked out of the means, and a batch with fewer
// than MinGood good frames is emitted as an explicit not-good sample
// rather than an error.
type Accumulator struct {
	reps     int
	minGood  int
	sumScale float64
	sumZero  float64

	cnt    int
	good   []bool
	off    []float64
	mag    []float64
	x, y   []float64
	s1x    []float64
	s1y    []float64
	s2x    []float64
	s2y    []float64
}

// NewAccumulator creates an accumulator for batches of reps estimates,
// requiring at least minGood good frames per batch. The constructor
// refuses an impossible gate rather than silently misbehaving later.
func NewAccumulator(reps, minGood int, sumScale, sumZero float64) (*Accumulator, error) {
	if reps <= 0 {
		return nil, fmt.Errorf("reps must be positive, got %d", reps)
	}
	if reps < minGood {
		return nil, fmt.Errorf("reps (%d) must be >= min good (%d)", reps, minGood)
	}
	return &Accumulator{
		reps:     reps,
		minGood:  minGood,
		sumScale: sumScale,
		sumZero:  sumZero,
		good:     make([]bool, reps),
		off:      make([]float64, reps),
		mag:      make([]float64, reps),
		x:        make([]float64, reps),
		y:        make([]float64, reps),
		s1x:      make([]float64, reps),
		s1y:      make([]float64, reps),
		s2x:      make([]float64, reps),
		s2y:      make([]float64, reps),
	}, nil
}

// Push records one estimate. On the Reps'th push it emits the completed
// Sample (ok=true) and resets for the next batch.
func (a *Accumulator) Push(e Estimate) (Sample, bool) {
	a.good[a.cnt] = e.Good
	a.off[a.cnt] = e.Offset
	a.mag[a.cnt] = e.Magnitude
	a.x[a.cnt] = e.XOff
	a.y[a.cnt] = e.YOff
	a.s1x[a.cnt] = e.Spot1.X
	a.s1y[a.cnt] = e.Spot1.Y
	a.s2x[a.cnt] = e.Spot2.X
	a.s2y[a.cnt] = e.Spot2.Y

	a.cnt++
	if a.cnt < a.reps {
		return Sample{}, false
	}
	a.cnt = 0

	goodCount := 0
	for _, g := range a.good {
		if g {
			goodCount++
		}
	}

	s := Sample{GoodCount: goodCount}
	if goodCount < a.minGood {
		// Neutral sample: callers see the gate failure as data.
		return s, true
	}

	s.IsGood = true
	s.Offset = meanMasked(a.off, a.good)
	s.Sum = a.sumScale*meanMasked(a.mag, a.good) - a.sumZero
	s.XOff = meanMasked(a.x, a.good)
	s.YOff = meanMasked(a.y, a.good)
	s.Spot1 = Spot{X: meanMasked(a.s1x, a.good), Y: meanMasked(a.s1y, a.good)}
	s.Spot2 = Spot{X: meanMasked(a.s2x, a.good), Y: meanMasked(a.s2y, a.good)}
	return s, true
}

// Reps returns the configured batch size.
func (a *Accumulator) Reps() int { return a.reps }

// Pending returns how many estimates the current batch holds.
func (a *Accumulator) Pending() int { return a.cnt }
