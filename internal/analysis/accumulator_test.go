package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushBatch(t *testing.T, acc *Accumulator, estimates []Estimate) Sample {
	t.Helper()
	for i, e := range estimates[:len(estimates)-1] {
		_, done := acc.Push(e)
		require.False(t, done, "batch completed early at estimate %d", i)
	}
	s, done := acc.Push(estimates[len(estimates)-1])
	require.True(t, done, "batch did not complete")
	return s
}

func TestAccumulatorRejectsBadGate(t *testing.T) {
	_, err := NewAccumulator(2, 3, 1, 0)
	require.Error(t, err, "reps < minGood must fail at construction")

	_, err = NewAccumulator(0, 0, 1, 0)
	require.Error(t, err)
}

func TestAccumulatorGoodBatchMasksBadFrames(t *testing.T) {
	acc, err := NewAccumulator(5, 3, 1, 0)
	require.NoError(t, err)

	// good=[T,T,F,T,F]: 3 good frames, means over the good subset only.
	ests := []Estimate{
		{Good: true, Offset: 1.0, Magnitude: 10, XOff: 2, YOff: 4},
		{Good: true, Offset: 2.0, Magnitude: 20, XOff: 4, YOff: 8},
		{Good: false, Offset: 99.0, Magnitude: 999, XOff: 99, YOff: 99},
		{Good: true, Offset: 3.0, Magnitude: 30, XOff: 6, YOff: 12},
		{Good: false, Offset: -99.0, Magnitude: 999, XOff: 99, YOff: 99},
	}
	s := pushBatch(t, acc, ests)

	assert.True(t, s.IsGood)
	assert.Equal(t, 3, s.GoodCount)
	assert.InDelta(t, 2.0, s.Offset, 1e-9)
	assert.InDelta(t, 20.0, s.Sum, 1e-9)
	assert.InDelta(t, 4.0, s.XOff, 1e-9)
	assert.InDelta(t, 8.0, s.YOff, 1e-9)
}

func TestAccumulatorInsufficientGoodYieldsNeutralSample(t *testing.T) {
	acc, err := NewAccumulator(5, 3, 1, 0)
	require.NoError(t, err)

	// good=[T,F,F,F,T]: only 2 good, below the gate.
	ests := []Estimate{
		{Good: true, Offset: 1.0, Magnitude: 10},
		{Good: false},
		{Good: false},
		{Good: false},
		{Good: true, Offset: 3.0, Magnitude: 30},
	}
	s := pushBatch(t, acc, ests)

	assert.False(t, s.IsGood)
	assert.Equal(t, 2, s.GoodCount)
	assert.Zero(t, s.Offset)
	assert.Zero(t, s.Sum)
	assert.Zero(t, s.XOff)
	assert.Zero(t, s.YOff)
}

func TestAccumulatorResetsBetweenBatches(t *testing.T) {
	acc, err := NewAccumulator(3, 2, 1, 0)
	require.NoError(t, err)

	bad := pushBatch(t, acc, []Estimate{{Good: false}, {Good: false}, {Good: true, Offset: 5}})
	assert.False(t, bad.IsGood)

	// A stale bad batch must not leak into the next one.
	good := pushBatch(t, acc, []Estimate{
		{Good: true, Offset: 1},
		{Good: true, Offset: 3},
		{Good: true, Offset: 5},
	})
	assert.True(t, good.IsGood)
	assert.Equal(t, 3, good.GoodCount)
	assert.InDelta(t, 3.0, good.Offset, 1e-9)
	assert.Equal(t, 0, acc.Pending())
}

func TestAccumulatorSumScaling(t *testing.T) {
	acc, err := NewAccumulator(2, 1, 0.5, 3.0)
	require.NoError(t, err)

	s := pushBatch(t, acc, []Estimate{
		{Good: true, Magnitude: 10},
		{Good: true, Magnitude: 30},
	})
	// sum = scale*mean(mag[good]) - zero = 0.5*20 - 3
	assert.InDelta(t, 7.0, s.Sum, 1e-9)
}

func TestBacklogDropsOldest(t *testing.T) {
	b := NewBacklog(20)

	burst := make([]Frame, 35)
	for i := range burst {
		burst[i] = NewFrame(1, 1)
		burst[i].Pix[0] = uint16(i)
	}

	kept := b.Trim(burst)
	require.Len(t, kept, 20)
	assert.Equal(t, uint16(15), kept[0].Pix[0], "oldest surviving frame should be #15")
	assert.Equal(t, uint16(34), kept[19].Pix[0])
	assert.Equal(t, int64(15), b.Dropped.Value())

	// Dropped counter is monotone across repeated overload bursts.
	b.Trim(burst)
	assert.Equal(t, int64(30), b.Dropped.Value())

	// Small bursts pass through untouched.
	small := b.Trim(burst[:5])
	assert.Len(t, small, 5)
	assert.Equal(t, int64(30), b.Dropped.Value())
}

func TestBacklogDefaultCap(t *testing.T) {
	b := NewBacklog(0)
	kept := b.Trim(make([]Frame, MaxBacklog+1))
	assert.Len(t, kept, MaxBacklog)
}
