package stage

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/arcus-instruments/focuslock/internal/device"
	"github.com/arcus-instruments/focuslock/internal/monitoring"
)

// ErrStageOffline is returned when the stage stops answering; the owning
// module refuses further commands until re-initialized.
var ErrStageOffline = fmt.Errorf("stage is not responding")

const (
	coarseAxis = 1
	fineAxis   = 2
)

// SerialOptions describes the serial connection to the stage controller.
type SerialOptions struct {
	Port     string  `json:"port"`
	BaudRate int     `json:"baud_rate"`
	StageID  int     `json:"stage_id"`
	UnitToUm float64 `json:"unit_to_um"` // microns per device unit
	ZMin     float64 `json:"z_min"`      // hard limits, microns
	ZMax     float64 `json:"z_max"`
}

// Normalize applies defaults and validates the options.
func (o SerialOptions) Normalize() (SerialOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.StageID <= 0 {
		opts.StageID = 1
	}
	if opts.UnitToUm == 0 {
		opts.UnitToUm = 0.001
	}
	if opts.UnitToUm < 0 {
		return opts, fmt.Errorf("unit_to_um must be positive, got %v", opts.UnitToUm)
	}
	if opts.ZMax <= opts.ZMin {
		return opts, fmt.Errorf("z_max (%v) must exceed z_min (%v)", opts.ZMax, opts.ZMin)
	}
	return opts, nil
}

// SerialStage is an ASCII command/response z stage on a serial port. The
// coarse motor is axis 1 and the fine piezo axis 2 of the same controller,
// which is why one device mutex must cover both functionalities.
type SerialStage struct {
	opts SerialOptions
	port io.ReadWriteCloser
	r    *bufio.Reader

	// wireMu keeps a reply paired with its command even if a caller slips
	// past the device mutex.
	wireMu sync.Mutex
	live   bool
}

// Open connects to the stage controller and probes it.
func Open(opts SerialOptions) (*SerialStage, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(opts.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open stage port %s: %w", opts.Port, err)
	}
	s := NewSerialStage(opts, port)
	if _, err := s.command("/%d", opts.StageID); err != nil {
		port.Close()
		return nil, fmt.Errorf("stage at %s did not answer probe: %w", opts.Port, err)
	}
	return s, nil
}

// NewSerialStage wraps an already-open transport. Tests hand it an
// in-memory pipe.
func NewSerialStage(opts SerialOptions, port io.ReadWriteCloser) *SerialStage {
	return &SerialStage{
		opts: opts,
		port: port,
		r:    bufio.NewReader(port),
		live: true,
	}
}

// command writes one line and reads the one-line reply.
func (s *SerialStage) command(format string, args ...any) (string, error) {
	s.wireMu.Lock()
	defer s.wireMu.Unlock()
	if !s.live {
		return "", ErrStageOffline
	}

	line := fmt.Sprintf(format, args...) + "\n"
	if _, err := s.port.Write([]byte(line)); err != nil {
		s.live = false
		return "", fmt.Errorf("stage write failed: %w", err)
	}
	reply, err := s.r.ReadString('\n')
	if err != nil {
		s.live = false
		return "", fmt.Errorf("stage read failed: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// clamp coerces a target to the hard travel limits, logging when it does.
func (s *SerialStage) clamp(pos float64) float64 {
	if pos < s.opts.ZMin {
		monitoring.Logf("stage: move %0.3f below limit, coerced to %0.3f", pos, s.opts.ZMin)
		return s.opts.ZMin
	}
	if pos > s.opts.ZMax {
		monitoring.Logf("stage: move %0.3f above limit, coerced to %0.3f", pos, s.opts.ZMax)
		return s.opts.ZMax
	}
	return pos
}

func (s *SerialStage) toUnits(um float64) int64 {
	return int64(math.Round(um / s.opts.UnitToUm))
}

func (s *SerialStage) moveAxis(axis int, pos float64) error {
	pos = s.clamp(pos)
	reply, err := s.command("/%d %d move abs %d", s.opts.StageID, axis, s.toUnits(pos))
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("stage rejected move: %q", reply)
	}
	return nil
}

func (s *SerialStage) ZMoveCoarse(pos float64) error { return s.moveAxis(coarseAxis, pos) }
func (s *SerialStage) ZMoveFine(pos float64) error   { return s.moveAxis(fineAxis, pos) }

// positionAxis parses a "get pos" reply of the form
// "@01 2 OK IDLE -- 102400".
func (s *SerialStage) positionAxis(axis int) (float64, error) {
	reply, err := s.command("/%d %d get pos", s.opts.StageID, axis)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(reply)
	if len(fields) < 6 || fields[2] != "OK" {
		return 0, fmt.Errorf("unexpected position reply %q", reply)
	}
	units, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable position in reply %q: %w", reply, err)
	}
	return units * s.opts.UnitToUm, nil
}

func (s *SerialStage) PositionCoarse() (float64, error) { return s.positionAxis(coarseAxis) }
func (s *SerialStage) PositionFine() (float64, error)   { return s.positionAxis(fineAxis) }

// Status probes the controller. An unrecognized or short reply reports
// StatusError; the caller logs it and keeps the last-known position.
func (s *SerialStage) Status() (device.MoveStatus, error) {
	reply, err := s.command("/%d", s.opts.StageID)
	if err != nil {
		return device.StatusError, err
	}
	fields := strings.Fields(reply)
	if len(fields) < 4 || fields[2] != "OK" {
		monitoring.Logf("stage: error status reply %q", reply)
		return device.StatusError, nil
	}
	if fields[3] == "IDLE" {
		return device.StatusIdle, nil
	}
	return device.StatusMoving, nil
}

func (s *SerialStage) StartZScan() error {
	reply, err := s.command("/%d %d stream start", s.opts.StageID, fineAxis)
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("stage rejected zscan start: %q", reply)
	}
	return nil
}

func (s *SerialStage) ConfigureZScan(offsets []float64) error {
	parts := make([]string, len(offsets))
	for i, off := range offsets {
		parts[i] = strconv.FormatInt(s.toUnits(off), 10)
	}
	reply, err := s.command("/%d %d stream setup %s", s.opts.StageID, fineAxis, strings.Join(parts, " "))
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("stage rejected zscan setup: %q", reply)
	}
	return nil
}

func (s *SerialStage) CompleteZScan() error {
	reply, err := s.command("/%d %d stream stop", s.opts.StageID, fineAxis)
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("stage rejected zscan stop: %q", reply)
	}
	return nil
}

// ShutDown closes the serial port. Commands after shutdown fail with
// ErrStageOffline.
func (s *SerialStage) ShutDown() error {
	s.wireMu.Lock()
	defer s.wireMu.Unlock()
	if !s.live {
		return nil
	}
	s.live = false
	return s.port.Close()
}
