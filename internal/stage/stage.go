// Package stage drives the two-tier z focus stage: a coarse full-range
// actuator and a fine short-range piezo that the lock loop corrects
// continuously. The serial wire protocol lives behind the Driver interface
// so the control layers never see vendor syntax.
package stage

import (
	"github.com/arcus-instruments/focuslock/internal/device"
)

// Driver is the hardware surface consumed by the focus-lock controller and
// the device poller. Implementations are not required to be goroutine
// safe: callers serialize access through the shared device mutex.
type Driver interface {
	// ZMoveCoarse commands the full-range actuator to an absolute position
	// in microns.
	ZMoveCoarse(pos float64) error

	// ZMoveFine commands the short-range actuator to an absolute position
	// in microns.
	ZMoveFine(pos float64) error

	// PositionCoarse reads back the coarse axis position in microns.
	PositionCoarse() (float64, error)

	// PositionFine reads back the fine axis position in microns.
	PositionFine() (float64, error)

	// Status reports whether any axis is moving.
	Status() (device.MoveStatus, error)

	// StartZScan arms the hardware-triggered z scan sequence.
	StartZScan() error

	// ConfigureZScan loads the relative offsets (microns) the scan visits.
	ConfigureZScan(offsets []float64) error

	// CompleteZScan disarms the scan sequence.
	CompleteZScan() error

	// ShutDown releases the underlying transport. No method may be called
	// after ShutDown.
	ShutDown() error
}

// finePoller adapts a Driver's fine axis to the device.Pollable surface.
type finePoller struct {
	d Driver
}

// FinePollable exposes the fine axis of a driver for position polling.
func FinePollable(d Driver) device.Pollable {
	return finePoller{d: d}
}

func (p finePoller) Status() (device.MoveStatus, error) {
	return p.d.Status()
}

func (p finePoller) Position() (float64, error) {
	return p.d.PositionFine()
}
