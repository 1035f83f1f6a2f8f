package analysis

import "github.com/arcus-instruments/focuslock/internal/monitoring"

// MaxBacklog caps how many frames one analysis cycle will accept. When
// acquisition outruns analysis the oldest frames are dropped: the control
// loop trades completeness for bounded latency.
const MaxBacklog = 20

// Backlog bounds per-cycle frame bursts and keeps the drop/analyze
// diagnostics counters.
type Backlog struct {
	max      int
	Analyzed monitoring.Counter
	Dropped  monitoring.Counter
}

// NewBacklog creates a Backlog with the given cap; max <= 0 selects
// MaxBacklog.
func NewBacklog(max int) *Backlog {
	if max <= 0 {
		max = MaxBacklog
	}
	return &Backlog{max: max}
}

// Trim returns the most recent frames of the burst, at most the configured
// cap, counting whatever was discarded.
func (b *Backlog) Trim(frames []Frame) []Frame {
	if len(frames) <= b.max {
		return frames
	}
	b.Dropped.Add(int64(len(frames) - b.max))
	return frames[len(frames)-b.max:]
}

// CountAnalyzed records that one frame went through analysis.
func (b *Backlog) CountAnalyzed() {
	b.Analyzed.Inc()
}
