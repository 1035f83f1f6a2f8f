package lock

import (
	"sync"

	"github.com/arcus-instruments/focuslock/internal/device"
)

// StageFunctionality is one logical axis of the stage behind its own
// command queue. Coarse and fine functionalities share the device mutex,
// so only one of them talks to the hardware at a time, but each keeps its
// own maybe-run slot: a burst of fine corrections never supersedes a
// pending coarse move.
type StageFunctionality struct {
	name  string
	queue *device.Queue
	move  func(pos float64) error
	min   float64
	max   float64

	mu        sync.Mutex
	commanded float64
}

func newStageFunctionality(name string, queue *device.Queue, min, max float64, move func(float64) error, startPos float64) *StageFunctionality {
	return &StageFunctionality{
		name:      name,
		queue:     queue,
		move:      move,
		min:       min,
		max:       max,
		commanded: startPos,
	}
}

// Name identifies the functionality ("coarse" or "fine").
func (f *StageFunctionality) Name() string { return f.name }

// Queue exposes the functionality's command queue for must-run
// submissions.
func (f *StageFunctionality) Queue() *device.Queue { return f.queue }

// Commanded returns the last commanded position, which may not have been
// applied to the hardware yet.
func (f *StageFunctionality) Commanded() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commanded
}

func (f *StageFunctionality) clamp(pos float64) float64 {
	if pos < f.min {
		return f.min
	}
	if pos > f.max {
		return f.max
	}
	return pos
}

// GoAbsolute clamps pos to the travel range and submits a best-effort
// move. High-frequency requests coalesce: only the newest unexecuted move
// reaches the hardware.
func (f *StageFunctionality) GoAbsolute(pos float64) error {
	target := f.clamp(pos)
	f.mu.Lock()
	f.commanded = target
	f.mu.Unlock()

	return f.queue.MaybeRun(device.Command{
		Name: f.name + " move",
		Task: func() (any, error) { return nil, f.move(target) },
	})
}

// GoRelative moves by delta from the last commanded position and clamps
// like GoAbsolute.
func (f *StageFunctionality) GoRelative(delta float64) error {
	f.mu.Lock()
	target := f.commanded + delta
	f.mu.Unlock()
	return f.GoAbsolute(target)
}

// mustGoAbsolute is GoAbsolute through the must-run queue, for moves that
// may never be dropped (restoring the pre-scan position).
func (f *StageFunctionality) mustGoAbsolute(pos float64, result chan device.Result) error {
	target := f.clamp(pos)
	f.mu.Lock()
	f.commanded = target
	f.mu.Unlock()

	return f.queue.MustRun(device.Command{
		Name:   f.name + " restore",
		Task:   func() (any, error) { return nil, f.move(target) },
		Result: result,
	})
}
