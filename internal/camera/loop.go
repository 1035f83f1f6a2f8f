package camera

import (
	"fmt"
	"sync"
	"time"

	"github.com/arcus-instruments/focuslock/internal/analysis"
	"github.com/arcus-instruments/focuslock/internal/monitoring"
	"github.com/arcus-instruments/focuslock/internal/timeutil"
)

// framePause bounds how hard the loop spins when the camera has no new
// frames.
const framePause = 5 * time.Millisecond

// Loop is the dedicated acquisition worker. It owns the camera while
// running: AOI changes requested from other goroutines are staged behind a
// mutex and applied only between capture bursts, never mid-frame.
type Loop struct {
	cam      Camera
	analyzer analysis.Analyzer
	acc      *analysis.Accumulator
	backlog  *analysis.Backlog
	clock    timeutil.Clock
	onSample func(analysis.Sample)

	aoiMu      sync.Mutex
	curOffsetX int
	curOffsetY int
	oldOffsetX int
	oldOffsetY int
	maxOffsetX int
	maxOffsetY int

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	startTime time.Time
	runErr    error
}

// LoopConfig wires a Loop. OnSample is invoked on the acquisition
// goroutine once per completed batch and must not block.
type LoopConfig struct {
	Camera      Camera
	Analyzer    analysis.Analyzer
	Accumulator *analysis.Accumulator
	Backlog     *analysis.Backlog
	Clock       timeutil.Clock
	OnSample    func(analysis.Sample)
}

// NewLoop prepares an acquisition loop and reads the camera's current and
// maximum AOI offsets.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	l := &Loop{
		cam:      cfg.Camera,
		analyzer: cfg.Analyzer,
		acc:      cfg.Accumulator,
		backlog:  cfg.Backlog,
		clock:    cfg.Clock,
		onSample: cfg.OnSample,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if l.clock == nil {
		l.clock = timeutil.RealClock{}
	}
	if l.backlog == nil {
		l.backlog = analysis.NewBacklog(0)
	}
	if l.onSample == nil {
		l.onSample = func(analysis.Sample) {}
	}

	var err error
	if l.curOffsetX, err = l.cam.GetProperty(PropOffsetX); err != nil {
		return nil, fmt.Errorf("failed to read camera %s: %w", PropOffsetX, err)
	}
	if l.curOffsetY, err = l.cam.GetProperty(PropOffsetY); err != nil {
		return nil, fmt.Errorf("failed to read camera %s: %w", PropOffsetY, err)
	}
	l.oldOffsetX, l.oldOffsetY = l.curOffsetX, l.curOffsetY
	if l.maxOffsetX, err = l.cam.GetProperty(PropOffsetXMax); err != nil {
		return nil, fmt.Errorf("failed to read camera %s: %w", PropOffsetXMax, err)
	}
	if l.maxOffsetY, err = l.cam.GetProperty(PropOffsetYMax); err != nil {
		return nil, fmt.Errorf("failed to read camera %s: %w", PropOffsetYMax, err)
	}
	return l, nil
}

// AdjustAOI stages a relative AOI shift, clamped to the camera's offset
// range. The acquisition worker applies it between bursts.
func (l *Loop) AdjustAOI(dx, dy int) {
	l.aoiMu.Lock()
	defer l.aoiMu.Unlock()
	l.curOffsetX = clamp(l.curOffsetX+dx, 0, l.maxOffsetX)
	l.curOffsetY = clamp(l.curOffsetY+dy, 0, l.maxOffsetY)
}

// AOIOffsets returns the currently staged offsets.
func (l *Loop) AOIOffsets() (x, y int) {
	l.aoiMu.Lock()
	defer l.aoiMu.Unlock()
	return l.curOffsetX, l.curOffsetY
}

// Analyzer returns the loop's frame analyzer, e.g. for zero-distance
// adjustment.
func (l *Loop) Analyzer() analysis.Analyzer { return l.analyzer }

// Counters returns the frames-analyzed and frames-dropped counters.
func (l *Loop) Counters() (analyzed, dropped int64) {
	return l.backlog.Analyzed.Value(), l.backlog.Dropped.Value()
}

// Start launches the acquisition worker.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	if err := l.cam.StartAcquisition(); err != nil {
		return fmt.Errorf("failed to start acquisition: %w", err)
	}
	l.running = true
	l.startTime = l.clock.Now()
	go l.run()
	return nil
}

// Stop halts the worker, blocks until it has exited, reports the
// throughput diagnostics, and shuts the camera down. No camera call is
// made after Stop returns.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.mu.Unlock()

	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
	<-l.doneCh

	analyzed, dropped := l.Counters()
	elapsed := l.clock.Since(l.startTime).Seconds()
	fps := 0.0
	if elapsed > 0 {
		fps = float64(analyzed) / elapsed
	}
	monitoring.Logf("camera: analyzed %d, dropped %d, %.3f FPS", analyzed, dropped, fps)

	return l.cam.Shutdown()
}

// Err returns the error that terminated the loop early, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runErr
}

func (l *Loop) run() {
	defer close(l.doneCh)
	defer func() {
		if err := l.cam.StopAcquisition(); err != nil {
			monitoring.Logf("camera: stop acquisition failed: %v", err)
		}
	}()

	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		frames, err := l.cam.GetFrames()
		if err != nil {
			// Device unavailable: the loop ends and the owner must
			// re-initialize before any further acquisition.
			l.mu.Lock()
			l.runErr = fmt.Errorf("camera read failed: %w", err)
			l.running = false
			l.mu.Unlock()
			monitoring.Logf("camera: read failed, stopping acquisition loop: %v", err)
			return
		}

		l.analyzeBurst(frames)
		l.applyAOI()
		l.clock.Sleep(framePause)
	}
}

func (l *Loop) analyzeBurst(frames []analysis.Frame) {
	frames = l.backlog.Trim(frames)
	for _, f := range frames {
		l.backlog.CountAnalyzed()
		est := l.analyzer.Analyze(f)
		sample, done := l.acc.Push(est)
		if !done {
			continue
		}
		sample.Preview = f.Preview()
		l.onSample(sample)
	}
}

// applyAOI pushes a staged AOI change to the camera. Acquisition restarts
// around the property writes because offsets cannot change mid-stream.
func (l *Loop) applyAOI() {
	l.aoiMu.Lock()
	defer l.aoiMu.Unlock()
	if l.curOffsetX == l.oldOffsetX && l.curOffsetY == l.oldOffsetY {
		return
	}
	if err := l.cam.StopAcquisition(); err != nil {
		monitoring.Logf("camera: stop for AOI change failed: %v", err)
		return
	}
	if err := l.cam.SetProperty(PropOffsetX, l.curOffsetX); err != nil {
		monitoring.Logf("camera: set %s failed: %v", PropOffsetX, err)
	}
	if err := l.cam.SetProperty(PropOffsetY, l.curOffsetY); err != nil {
		monitoring.Logf("camera: set %s failed: %v", PropOffsetY, err)
	}
	if err := l.cam.StartAcquisition(); err != nil {
		monitoring.Logf("camera: restart after AOI change failed: %v", err)
	}
	l.oldOffsetX, l.oldOffsetY = l.curOffsetX, l.curOffsetY
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
