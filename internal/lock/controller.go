package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcus-instruments/focuslock/internal/analysis"
	"github.com/arcus-instruments/focuslock/internal/device"
	"github.com/arcus-instruments/focuslock/internal/monitoring"
	"github.com/arcus-instruments/focuslock/internal/stage"
	"github.com/arcus-instruments/focuslock/internal/timeutil"
)

var (
	ErrAlreadyFilming = errors.New("a film acquisition is already running")
	ErrNotFilming     = errors.New("no film acquisition is running")
)

// ScanState is the z-scan lifecycle state of the fine stage.
type ScanState int

const (
	// ScanIdle means no scan is armed or pending.
	ScanIdle ScanState = iota

	// ScanConfiguring means the scan start command has been submitted but
	// has not yet executed on the hardware.
	ScanConfiguring

	// ScanRunning means the scan is armed and hardware-triggered offsets
	// are being visited.
	ScanRunning

	// ScanCompleting means the disarm and position-restore commands are in
	// flight.
	ScanCompleting
)

func (s ScanState) String() string {
	switch s {
	case ScanIdle:
		return "idle"
	case ScanConfiguring:
		return "configuring"
	case ScanRunning:
		return "scanning"
	case ScanCompleting:
		return "completing"
	default:
		return "unknown"
	}
}

// Params is the runtime-adjustable part of the lock configuration. Setting
// new parameters re-derives the scan sequence used by the next film.
type Params struct {
	// Gain scales the proportional fine correction applied per good sample.
	Gain float64 `json:"gain"`

	// ZOffsets is the relative-offset sequence (microns) a triggered
	// z scan visits. Empty means films run without scanning.
	ZOffsets []float64 `json:"z_offsets"`
}

// AcquisitionRecord is the metadata reported when a film ends.
type AcquisitionRecord struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	StoppedAt    time.Time `json:"stopped_at"`
	FinalCoarseZ float64   `json:"final_coarse_z"`
	ZScanMode    bool      `json:"z_scan_mode"`
	ZOffsets     string    `json:"z_offsets"`
}

// Store persists acquisition records and per-batch samples. Calls happen
// on the sample-handling goroutine, so implementations must not block.
type Store interface {
	SaveAcquisition(rec AcquisitionRecord) error
	SaveSample(acquisitionID string, at time.Time, s analysis.Sample) error
}

// Controller coordinates the coarse and fine stage functionalities, the
// z-scan state machine, and the film lifecycle. All hardware access goes
// through the two command queues, which share one device mutex.
type Controller struct {
	driver stage.Driver
	coarse *StageFunctionality
	fine   *StageFunctionality
	eval   *Evaluator
	feed   *Feed
	store  Store
	clock  timeutil.Clock

	onReady func()

	mu     sync.Mutex
	params Params
	locked bool

	scanState      ScanState
	posPriorToScan float64
	readySent      bool
	readyCh        chan struct{}
	scanDoneCh     chan struct{}

	filming     bool
	filmID      string
	filmStart   time.Time
	filmScan    bool
	filmOffsets string
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Driver   stage.Driver
	DeviceMu *sync.Mutex

	CoarseMin, CoarseMax float64
	FineMin, FineMax     float64

	Params    Params
	Evaluator *Evaluator
	Store     Store
	Clock     timeutil.Clock

	// OnReady, if set, is called exactly once per scan start when the
	// hardware is armed and filming may begin.
	OnReady func()
}

// NewController seeds the commanded positions from the hardware and starts
// one command queue per functionality on a shared device mutex.
func NewController(cfg ControllerConfig) (*Controller, error) {
	coarsePos, err := cfg.Driver.PositionCoarse()
	if err != nil {
		return nil, fmt.Errorf("failed to read coarse position: %w", err)
	}
	finePos, err := cfg.Driver.PositionFine()
	if err != nil {
		return nil, fmt.Errorf("failed to read fine position: %w", err)
	}

	deviceMu := cfg.DeviceMu
	if deviceMu == nil {
		deviceMu = &sync.Mutex{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	eval := cfg.Evaluator
	if eval == nil {
		eval = NewEvaluator(Thresholds{Min: -1, Max: 1, WarnLow: -0.5, WarnHigh: 0.5}, Thresholds{Max: 1e12, WarnHigh: 1e12})
	}

	c := &Controller{
		driver:  cfg.Driver,
		eval:    eval,
		feed:    NewFeed(),
		store:   cfg.Store,
		clock:   clock,
		onReady: cfg.OnReady,
		params:  copyParams(cfg.Params),
	}
	c.coarse = newStageFunctionality("coarse", device.NewQueue(deviceMu),
		cfg.CoarseMin, cfg.CoarseMax, cfg.Driver.ZMoveCoarse, coarsePos)
	c.fine = newStageFunctionality("fine", device.NewQueue(deviceMu),
		cfg.FineMin, cfg.FineMax, cfg.Driver.ZMoveFine, finePos)
	return c, nil
}

// Coarse returns the full-range functionality.
func (c *Controller) Coarse() *StageFunctionality { return c.coarse }

// Fine returns the short-range functionality the lock loop corrects.
func (c *Controller) Fine() *StageFunctionality { return c.fine }

// Events returns the lock status feed.
func (c *Controller) Events() *Feed { return c.feed }

// Evaluator returns the quality evaluator, for display reads.
func (c *Controller) Evaluator() *Evaluator { return c.eval }

// Functionality looks a stage functionality up by name.
func (c *Controller) Functionality(name string) (*StageFunctionality, error) {
	switch name {
	case "coarse":
		return c.coarse, nil
	case "fine":
		return c.fine, nil
	default:
		return nil, fmt.Errorf("unknown functionality %q", name)
	}
}

// Parameters returns a copy of the current parameters.
func (c *Controller) Parameters() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyParams(c.params)
}

// SetParameters installs new parameters. The scan sequence takes effect on
// the next scan start; Gain takes effect immediately.
func (c *Controller) SetParameters(p Params) {
	c.mu.Lock()
	c.params = copyParams(p)
	c.mu.Unlock()
}

// SetLocked engages or releases the continuous focus correction.
func (c *Controller) SetLocked(on bool) {
	c.mu.Lock()
	c.locked = on
	c.mu.Unlock()
}

// Locked reports whether the continuous correction is engaged.
func (c *Controller) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// CurrentScanState returns the z-scan lifecycle state.
func (c *Controller) CurrentScanState() ScanState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanState
}

// HandleSample consumes one accumulated sample: classify it, publish the
// lock status, apply the proportional fine correction when the lock is
// engaged, and record it if a film is running. Intended as the acquisition
// loop's OnSample hook.
func (c *Controller) HandleSample(s analysis.Sample) {
	q := c.eval.Evaluate(s)

	c.feed.Publish(LockStatus{
		IsGood:  s.IsGood,
		Offset:  s.Offset,
		Sum:     s.Sum,
		XOff:    s.XOff,
		YOff:    s.YOff,
		Quality: q,
		Preview: s.Preview,
	})

	c.mu.Lock()
	locked := c.locked
	gain := c.params.Gain
	filming := c.filming
	filmID := c.filmID
	c.mu.Unlock()

	if locked && q.GoodLock && gain != 0 {
		if err := c.fine.GoRelative(-gain * s.Offset); err != nil {
			monitoring.Logf("lock: correction rejected: %v", err)
		}
	}

	if filming && c.store != nil {
		if err := c.store.SaveSample(filmID, c.clock.Now(), s); err != nil {
			monitoring.Logf("lock: sample record failed: %v", err)
		}
	}
}

// StartZScan records the current fine position, submits the must-run scan
// start command, and arranges the ready-to-film notification for when it
// completes. Starting while a scan is live is a logged no-op.
func (c *Controller) StartZScan() error {
	c.mu.Lock()
	if c.scanState != ScanIdle {
		state := c.scanState
		c.mu.Unlock()
		monitoring.Logf("lock: z scan start ignored in state %s", state)
		return nil
	}
	c.scanState = ScanConfiguring
	c.posPriorToScan = c.fine.Commanded()
	c.readySent = false
	ready := make(chan struct{})
	c.readyCh = ready
	c.scanDoneCh = make(chan struct{})
	offsets := append([]float64(nil), c.params.ZOffsets...)
	c.mu.Unlock()

	res := make(chan device.Result, 1)
	err := c.fine.Queue().MustRun(device.Command{
		Name: "z scan start",
		Task: func() (any, error) {
			if err := c.driver.ConfigureZScan(offsets); err != nil {
				return nil, err
			}
			return nil, c.driver.StartZScan()
		},
		Result: res,
	})
	if err != nil {
		c.mu.Lock()
		c.scanState = ScanIdle
		c.mu.Unlock()
		return err
	}

	go c.scanStarted(res, ready)
	return nil
}

// scanStarted runs once the scan start command has executed on the
// hardware.
func (c *Controller) scanStarted(res chan device.Result, ready chan struct{}) {
	r := <-res

	c.mu.Lock()
	if r.Err != nil {
		monitoring.Logf("lock: z scan start failed: %v", r.Err)
	} else if c.scanState == ScanConfiguring {
		c.scanState = ScanRunning
	}
	fire := !c.readySent
	c.readySent = true
	c.mu.Unlock()

	// Exactly one ready-to-film per scan start, even when a complete was
	// already queued behind the start.
	if fire {
		close(ready)
		if c.onReady != nil {
			c.onReady()
		}
	}
}

// ConfigureZScan installs a new offset sequence. While a scan is live the
// update is queued behind the commands already submitted; otherwise it is
// stored for the next scan start.
func (c *Controller) ConfigureZScan(offsets []float64) error {
	offs := append([]float64(nil), offsets...)

	c.mu.Lock()
	c.params.ZOffsets = offs
	live := c.scanState == ScanRunning
	c.mu.Unlock()

	if !live {
		return nil
	}
	return c.fine.Queue().MustRun(device.Command{
		Name: "z scan configure",
		Task: func() (any, error) { return nil, c.driver.ConfigureZScan(offs) },
	})
}

// CompleteZScan disarms the scan and restores the fine stage to the
// position recorded at scan start. Both steps are must-run, so they
// execute after a not-yet-executed start in submission order.
func (c *Controller) CompleteZScan() error {
	c.mu.Lock()
	if c.scanState != ScanConfiguring && c.scanState != ScanRunning {
		state := c.scanState
		c.mu.Unlock()
		monitoring.Logf("lock: z scan complete ignored in state %s", state)
		return nil
	}
	c.scanState = ScanCompleting
	restore := c.posPriorToScan
	done := c.scanDoneCh
	c.mu.Unlock()

	if err := c.fine.Queue().MustRun(device.Command{
		Name: "z scan complete",
		Task: func() (any, error) { return nil, c.driver.CompleteZScan() },
	}); err != nil {
		return err
	}

	res := make(chan device.Result, 1)
	if err := c.fine.mustGoAbsolute(restore, res); err != nil {
		return err
	}
	go func() {
		if r := <-res; r.Err != nil {
			monitoring.Logf("lock: post-scan restore failed: %v", r.Err)
		}
		c.mu.Lock()
		c.scanState = ScanIdle
		c.mu.Unlock()
		close(done)
	}()
	return nil
}

// StartFilm begins an acquisition and returns its ID once the system is
// ready to film: immediately when no scan offsets are configured,
// otherwise after the scan start has executed on the hardware.
func (c *Controller) StartFilm(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.filming {
		c.mu.Unlock()
		return "", ErrAlreadyFilming
	}
	id := uuid.NewString()
	c.filming = true
	c.filmID = id
	c.filmStart = c.clock.Now()
	c.filmScan = len(c.params.ZOffsets) > 0
	c.filmOffsets = formatOffsets(c.params.ZOffsets)
	useScan := c.filmScan
	c.mu.Unlock()

	if !useScan {
		return id, nil
	}

	if err := c.StartZScan(); err != nil {
		c.mu.Lock()
		c.filming = false
		c.mu.Unlock()
		return "", err
	}
	c.mu.Lock()
	ready := c.readyCh
	c.mu.Unlock()

	select {
	case <-ready:
		return id, nil
	case <-ctx.Done():
		c.mu.Lock()
		c.filming = false
		c.mu.Unlock()
		return "", ctx.Err()
	}
}

// StopFilm ends the acquisition. A live scan is completed and the fine
// position restored first; then the final coarse position is read and the
// record persisted.
func (c *Controller) StopFilm(ctx context.Context) (AcquisitionRecord, error) {
	c.mu.Lock()
	if !c.filming {
		c.mu.Unlock()
		return AcquisitionRecord{}, ErrNotFilming
	}
	c.filming = false
	rec := AcquisitionRecord{
		ID:        c.filmID,
		StartedAt: c.filmStart,
		ZScanMode: c.filmScan,
		ZOffsets:  c.filmOffsets,
	}
	state := c.scanState
	done := c.scanDoneCh
	c.mu.Unlock()

	if state == ScanConfiguring || state == ScanRunning {
		if err := c.CompleteZScan(); err != nil {
			return AcquisitionRecord{}, fmt.Errorf("failed to complete z scan: %w", err)
		}
	}
	if state != ScanIdle && done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return AcquisitionRecord{}, ctx.Err()
		}
	}

	res := make(chan device.Result, 1)
	if err := c.coarse.Queue().MustRun(device.Command{
		Name:   "coarse position",
		Task:   func() (any, error) { return c.driver.PositionCoarse() },
		Result: res,
	}); err != nil {
		return AcquisitionRecord{}, err
	}
	select {
	case r := <-res:
		if r.Err != nil {
			monitoring.Logf("lock: final coarse position read failed: %v", r.Err)
		} else {
			rec.FinalCoarseZ = r.Value.(float64)
		}
	case <-ctx.Done():
		return AcquisitionRecord{}, ctx.Err()
	}

	rec.StoppedAt = c.clock.Now()
	if c.store != nil {
		if err := c.store.SaveAcquisition(rec); err != nil {
			monitoring.Logf("lock: acquisition record failed: %v", err)
		}
	}
	return rec, nil
}

// Filming reports whether an acquisition is running, and its ID.
func (c *Controller) Filming() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filming, c.filmID
}

// Close shuts both command queues down. Commands still waiting are
// rejected with ErrQueueClosed. The stage driver itself is shut down by
// the owner after Close returns.
func (c *Controller) Close() {
	c.coarse.Queue().Close()
	c.fine.Queue().Close()
}

func copyParams(p Params) Params {
	p.ZOffsets = append([]float64(nil), p.ZOffsets...)
	return p
}

// formatOffsets renders the offset sequence the way it appears in
// configuration files and acquisition records.
func formatOffsets(offsets []float64) string {
	parts := make([]string, len(offsets))
	for i, v := range offsets {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
