package stage

import (
	"sync"

	"github.com/arcus-instruments/focuslock/internal/device"
)

// MockStage is an in-memory Driver for tests and dev mode. Moves apply
// instantly and every call is recorded.
type MockStage struct {
	mu sync.Mutex

	CoarseZ float64
	FineZ   float64

	// Moves records every commanded move in order.
	Moves []Move

	// ScanOffsets holds the last configured z-scan sequence.
	ScanOffsets []float64
	ScanArmed   bool

	// NextStatus is returned by Status; defaults to idle.
	NextStatus device.MoveStatus

	// Err, when set, is returned by every driver call.
	Err error

	ShutDownCalled bool
}

// Move is one recorded stage command.
type Move struct {
	Axis string // "coarse" or "fine"
	Pos  float64
}

func NewMockStage() *MockStage {
	return &MockStage{}
}

func (m *MockStage) ZMoveCoarse(pos float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.CoarseZ = pos
	m.Moves = append(m.Moves, Move{Axis: "coarse", Pos: pos})
	return nil
}

func (m *MockStage) ZMoveFine(pos float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.FineZ = pos
	m.Moves = append(m.Moves, Move{Axis: "fine", Pos: pos})
	return nil
}

func (m *MockStage) PositionCoarse() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CoarseZ, m.Err
}

func (m *MockStage) PositionFine() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FineZ, m.Err
}

func (m *MockStage) Status() (device.MoveStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.NextStatus, m.Err
}

func (m *MockStage) StartZScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.ScanArmed = true
	return nil
}

func (m *MockStage) ConfigureZScan(offsets []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.ScanOffsets = append([]float64(nil), offsets...)
	return nil
}

func (m *MockStage) CompleteZScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.ScanArmed = false
	return nil
}

func (m *MockStage) ShutDown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShutDownCalled = true
	return nil
}

// MoveLog returns a copy of the recorded moves.
func (m *MockStage) MoveLog() []Move {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Move, len(m.Moves))
	copy(out, m.Moves)
	return out
}
