package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcus-instruments/focuslock/internal/analysis"
	"github.com/arcus-instruments/focuslock/internal/stage"
)

// recordingStore captures persisted records for inspection.
type recordingStore struct {
	mu           sync.Mutex
	acquisitions []AcquisitionRecord
	samples      []string
}

func (s *recordingStore) SaveAcquisition(rec AcquisitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquisitions = append(s.acquisitions, rec)
	return nil
}

func (s *recordingStore) SaveSample(acquisitionID string, at time.Time, sample analysis.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, acquisitionID)
	return nil
}

func (s *recordingStore) acquisitionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acquisitions)
}

func wideThresholds() (offset, sum Thresholds) {
	offset = Thresholds{Min: -10, Max: 10, WarnLow: -5, WarnHigh: 5}
	sum = Thresholds{Min: 0, Max: 1e9, WarnLow: 0, WarnHigh: 1e9}
	return offset, sum
}

func newTestController(t *testing.T, mock *stage.MockStage, cfg ControllerConfig) *Controller {
	t.Helper()
	cfg.Driver = mock
	if cfg.CoarseMax == 0 {
		cfg.CoarseMax = 100
	}
	if cfg.FineMax == 0 {
		cfg.FineMax = 100
	}
	if cfg.Evaluator == nil {
		off, sum := wideThresholds()
		cfg.Evaluator = NewEvaluator(off, sum)
	}
	c, err := NewController(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestGoAbsoluteClamps(t *testing.T) {
	mock := stage.NewMockStage()
	c := newTestController(t, mock, ControllerConfig{})

	for _, tc := range []struct {
		request float64
		want    float64
	}{
		{-5, 0},
		{150, 100},
		{42, 42},
		{42, 42}, // idempotent on repeat
	} {
		require.NoError(t, c.Coarse().GoAbsolute(tc.request))
		assert.Equal(t, tc.want, c.Coarse().Commanded(), "request %v", tc.request)
		require.Eventually(t, func() bool {
			pos, _ := mock.PositionCoarse()
			return pos == tc.want
		}, 2*time.Second, time.Millisecond, "request %v never reached hardware", tc.request)
	}
}

func TestGoRelativeUsesCommandedPosition(t *testing.T) {
	mock := stage.NewMockStage()
	c := newTestController(t, mock, ControllerConfig{})

	// The relative move is computed from the commanded position even while
	// the absolute move is still waiting in the queue.
	require.NoError(t, c.Fine().GoAbsolute(10))
	require.NoError(t, c.Fine().GoRelative(5))
	assert.Equal(t, 15.0, c.Fine().Commanded())

	require.Eventually(t, func() bool {
		pos, _ := mock.PositionFine()
		return pos == 15
	}, 2*time.Second, time.Millisecond)
}

func TestFunctionalityLookup(t *testing.T) {
	mock := stage.NewMockStage()
	c := newTestController(t, mock, ControllerConfig{})

	f, err := c.Functionality("fine")
	require.NoError(t, err)
	assert.Same(t, c.Fine(), f)

	f, err = c.Functionality("coarse")
	require.NoError(t, err)
	assert.Same(t, c.Coarse(), f)

	_, err = c.Functionality("lateral")
	assert.Error(t, err)
}

func TestZScanImmediateCompleteSignalsReadyOnce(t *testing.T) {
	mock := stage.NewMockStage()
	mock.FineZ = 42

	var ready atomic.Int32
	deviceMu := &sync.Mutex{}
	c := newTestController(t, mock, ControllerConfig{
		DeviceMu: deviceMu,
		Params:   Params{ZOffsets: []float64{-0.5, 0, 0.5}},
		OnReady:  func() { ready.Add(1) },
	})

	// Hold the device mutex so the scan start cannot execute before the
	// complete is queued behind it.
	deviceMu.Lock()
	require.NoError(t, c.StartZScan())
	require.Equal(t, ScanConfiguring, c.CurrentScanState())
	require.NoError(t, c.CompleteZScan())
	deviceMu.Unlock()

	require.Eventually(t, func() bool {
		return c.CurrentScanState() == ScanIdle
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, int32(1), ready.Load(), "exactly one ready-to-film notification")
	pos, _ := mock.PositionFine()
	assert.Equal(t, 42.0, pos, "fine position restored after completion")
	assert.False(t, mock.ScanArmed, "scan disarmed")

	// No late duplicate.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), ready.Load())
}

func TestZScanStartWhileLiveIsNoOp(t *testing.T) {
	mock := stage.NewMockStage()
	var ready atomic.Int32
	c := newTestController(t, mock, ControllerConfig{
		Params:  Params{ZOffsets: []float64{1}},
		OnReady: func() { ready.Add(1) },
	})

	require.NoError(t, c.StartZScan())
	require.Eventually(t, func() bool {
		return c.CurrentScanState() == ScanRunning
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, c.StartZScan())
	assert.Equal(t, ScanRunning, c.CurrentScanState())

	require.NoError(t, c.CompleteZScan())
	require.Eventually(t, func() bool {
		return c.CurrentScanState() == ScanIdle
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), ready.Load())
}

func TestStartFilmWithoutScanReturnsImmediately(t *testing.T) {
	mock := stage.NewMockStage()
	mock.CoarseZ = 7
	store := &recordingStore{}
	c := newTestController(t, mock, ControllerConfig{Store: store})

	id, err := c.StartFilm(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	filming, gotID := c.Filming()
	assert.True(t, filming)
	assert.Equal(t, id, gotID)

	_, err = c.StartFilm(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyFilming)

	rec, err := c.StopFilm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.False(t, rec.ZScanMode)
	assert.Empty(t, rec.ZOffsets)
	assert.Equal(t, 7.0, rec.FinalCoarseZ)
	assert.False(t, rec.StoppedAt.Before(rec.StartedAt))
	assert.Equal(t, 1, store.acquisitionCount())

	_, err = c.StopFilm(context.Background())
	assert.ErrorIs(t, err, ErrNotFilming)
}

func TestFilmWithZScanLifecycle(t *testing.T) {
	mock := stage.NewMockStage()
	mock.CoarseZ = 12.5
	mock.FineZ = 30
	store := &recordingStore{}
	c := newTestController(t, mock, ControllerConfig{
		Params: Params{ZOffsets: []float64{-0.25, 0, 0.25}},
		Store:  store,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id, err := c.StartFilm(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// StartFilm returned, so the scan start has executed.
	assert.Equal(t, ScanRunning, c.CurrentScanState())
	assert.True(t, mock.ScanArmed)
	assert.Equal(t, []float64{-0.25, 0, 0.25}, mock.ScanOffsets)

	rec, err := c.StopFilm(ctx)
	require.NoError(t, err)
	assert.True(t, rec.ZScanMode)
	assert.Equal(t, "-0.25,0,0.25", rec.ZOffsets)
	assert.Equal(t, 12.5, rec.FinalCoarseZ)

	assert.Equal(t, ScanIdle, c.CurrentScanState())
	assert.False(t, mock.ScanArmed)
	pos, _ := mock.PositionFine()
	assert.Equal(t, 30.0, pos, "fine position restored before the film report")
}

func TestHandleSampleAppliesCorrection(t *testing.T) {
	mock := stage.NewMockStage()
	mock.FineZ = 50
	c := newTestController(t, mock, ControllerConfig{
		Params: Params{Gain: 0.5},
	})

	good := analysis.Sample{IsGood: true, Offset: 0.4, Sum: 100}

	// Not locked: no correction.
	c.HandleSample(good)
	assert.Equal(t, 50.0, c.Fine().Commanded())

	c.SetLocked(true)
	c.HandleSample(good)
	assert.InDelta(t, 49.8, c.Fine().Commanded(), 1e-9)

	// A failed batch never moves the stage.
	c.HandleSample(analysis.Sample{IsGood: false})
	assert.InDelta(t, 49.8, c.Fine().Commanded(), 1e-9)

	// An out-of-range offset is not a good lock either.
	c.HandleSample(analysis.Sample{IsGood: true, Offset: 50, Sum: 100})
	assert.InDelta(t, 49.8, c.Fine().Commanded(), 1e-9)
}

func TestHandleSampleRecordsDuringFilm(t *testing.T) {
	mock := stage.NewMockStage()
	store := &recordingStore{}
	c := newTestController(t, mock, ControllerConfig{Store: store})

	c.HandleSample(analysis.Sample{IsGood: true, Sum: 5})
	store.mu.Lock()
	assert.Empty(t, store.samples, "no samples recorded outside a film")
	store.mu.Unlock()

	id, err := c.StartFilm(context.Background())
	require.NoError(t, err)
	c.HandleSample(analysis.Sample{IsGood: true, Sum: 5})
	c.HandleSample(analysis.Sample{IsGood: false})

	store.mu.Lock()
	assert.Equal(t, []string{id, id}, store.samples)
	store.mu.Unlock()

	_, err = c.StopFilm(context.Background())
	require.NoError(t, err)
}

func TestHandleSamplePublishesStatus(t *testing.T) {
	mock := stage.NewMockStage()
	c := newTestController(t, mock, ControllerConfig{})

	id, ch := c.Events().Subscribe()
	defer c.Events().Unsubscribe(id)

	c.HandleSample(analysis.Sample{IsGood: true, Offset: 1.5, Sum: 20, XOff: 3, YOff: 4})

	select {
	case s := <-ch:
		assert.True(t, s.IsGood)
		assert.Equal(t, 1.5, s.Offset)
		assert.Equal(t, 20.0, s.Sum)
		assert.Equal(t, Normal, s.Quality.Offset)
		assert.True(t, s.Quality.GoodLock)
	case <-time.After(time.Second):
		t.Fatal("no lock status published")
	}
}

func TestSetParametersTakesEffectNextScan(t *testing.T) {
	mock := stage.NewMockStage()
	c := newTestController(t, mock, ControllerConfig{
		Params: Params{Gain: 1, ZOffsets: []float64{1, 2}},
	})

	c.SetParameters(Params{Gain: 2, ZOffsets: []float64{9}})
	p := c.Parameters()
	assert.Equal(t, 2.0, p.Gain)
	assert.Equal(t, []float64{9}, p.ZOffsets)

	// The returned copy does not alias controller state.
	p.ZOffsets[0] = 0
	assert.Equal(t, []float64{9}, c.Parameters().ZOffsets)

	require.NoError(t, c.StartZScan())
	require.Eventually(t, func() bool {
		return c.CurrentScanState() == ScanRunning
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []float64{9}, mock.ScanOffsets)

	require.NoError(t, c.CompleteZScan())
	require.Eventually(t, func() bool {
		return c.CurrentScanState() == ScanIdle
	}, 2*time.Second, time.Millisecond)
}
