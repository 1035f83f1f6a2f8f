package lock

import (
	"sync"

	"github.com/arcus-instruments/focuslock/internal/analysis"
)

// Classification grades a display channel value against its thresholds.
type Classification int

const (
	Normal Classification = iota
	Warning
	OutOfRange
)

func (c Classification) String() string {
	switch c {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case OutOfRange:
		return "out_of_range"
	default:
		return "unknown"
	}
}

// Thresholds classify a channel value. Values beyond Min/Max are out of
// range; values between a warning bound and the matching hard limit are
// warnings.
type Thresholds struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	WarnLow  float64 `json:"warn_low"`
	WarnHigh float64 `json:"warn_high"`
}

// Classify grades v against the thresholds.
func (t Thresholds) Classify(v float64) Classification {
	switch {
	case v < t.Min || v > t.Max:
		return OutOfRange
	case v < t.WarnLow || v > t.WarnHigh:
		return Warning
	default:
		return Normal
	}
}

// Quality is the judged state of one accumulated sample.
type Quality struct {
	Offset Classification `json:"offset"`
	Sum    Classification `json:"sum"`

	// GoodLock reports whether the focus lock may trust this sample: the
	// batch itself measured well and the offset is inside hard limits.
	GoodLock bool `json:"good_lock"`
}

// Evaluator classifies accumulated samples against static thresholds. It
// keeps only the most recent classification, for display.
type Evaluator struct {
	offset Thresholds
	sum    Thresholds

	mu   sync.Mutex
	last Quality
}

// NewEvaluator builds an evaluator over per-channel thresholds.
func NewEvaluator(offset, sum Thresholds) *Evaluator {
	return &Evaluator{offset: offset, sum: sum}
}

// Evaluate grades one sample. A sample that failed batch gating is never a
// good lock regardless of its (neutral) field values.
func (e *Evaluator) Evaluate(s analysis.Sample) Quality {
	q := Quality{
		Offset: e.offset.Classify(s.Offset),
		Sum:    e.sum.Classify(s.Sum),
	}
	q.GoodLock = s.IsGood && q.Offset != OutOfRange

	e.mu.Lock()
	e.last = q
	e.mu.Unlock()
	return q
}

// Last returns the most recent classification.
func (e *Evaluator) Last() Quality {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
