// Package device serializes access to a single physical device. A Queue
// owns the only code path that touches the hardware for its functionality,
// and a Poller samples device status and position on a fixed cadence.
// Everything else in the system talks to hardware by submitting commands.
package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/arcus-instruments/focuslock/internal/monitoring"
)

// ErrQueueClosed is returned for submissions after Close, and delivered to
// commands still queued when shutdown begins.
var ErrQueueClosed = errors.New("device command queue closed")

// Result is the outcome of one executed command, delivered at most once on
// the command's result channel.
type Result struct {
	Value any
	Err   error
}

// Command is one unit of work against the device. Task runs with the
// device mutex held. If Result is non-nil it receives the task's outcome
// exactly once; the channel should be buffered since delivery never blocks
// the queue worker.
type Command struct {
	// Name identifies the command in diagnostics.
	Name string

	Task func() (any, error)

	Result chan Result

	// RunNext promotes a MaybeRun submission into the must-run queue: the
	// command will execute after whatever is in flight instead of being
	// eligible for replacement.
	RunNext bool
}

// Queue serializes commands against one device functionality. Two
// submission modes exist:
//
//   - MaybeRun: best effort. At most one maybe-run command waits at a
//     time; a newer submission replaces an older one that has not started.
//     The superseded command's result channel is never signaled.
//   - MustRun: appended to a FIFO queue, never dropped, executed in
//     submission order relative to other must-run commands.
//
// All tasks execute on the queue's worker goroutine while holding the
// device mutex shared by every functionality bound to the same physical
// device.
type Queue struct {
	deviceMu *sync.Mutex

	mu      sync.Mutex
	pending *Command
	fifo    []Command
	closed  bool

	wake chan struct{}
	done chan struct{}

	// Executed and Superseded count completed and replaced commands.
	Executed   monitoring.Counter
	Superseded monitoring.Counter
}

// NewQueue creates a queue whose tasks run under deviceMu. Functionalities
// sharing one physical device must share one mutex; passing nil creates a
// private one.
func NewQueue(deviceMu *sync.Mutex) *Queue {
	if deviceMu == nil {
		deviceMu = &sync.Mutex{}
	}
	q := &Queue{
		deviceMu: deviceMu,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go q.worker()
	return q
}

// DeviceMutex returns the mutex guarding the underlying physical device so
// other components (the poller) can share it.
func (q *Queue) DeviceMutex() *sync.Mutex { return q.deviceMu }

// MaybeRun submits a best-effort command. If an unexecuted maybe-run
// command is already waiting it is superseded: dropped without its result
// channel ever being signaled.
func (q *Queue) MaybeRun(cmd Command) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if cmd.RunNext {
		q.fifo = append(q.fifo, cmd)
	} else {
		if q.pending != nil {
			q.Superseded.Inc()
		}
		c := cmd
		q.pending = &c
	}
	q.mu.Unlock()

	q.signal()
	return nil
}

// MustRun submits a command that is never dropped and executes in FIFO
// order relative to other MustRun submissions.
func (q *Queue) MustRun(cmd Command) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.fifo = append(q.fifo, cmd)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Close stops accepting commands, waits for the worker to exit, and
// delivers ErrQueueClosed to any commands still waiting so callers do not
// hang. No task runs after Close returns.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.signal()
	<-q.done

	q.mu.Lock()
	orphans := q.fifo
	q.fifo = nil
	if q.pending != nil {
		orphans = append(orphans, *q.pending)
		q.pending = nil
	}
	q.mu.Unlock()

	for _, cmd := range orphans {
		deliver(cmd, Result{Err: ErrQueueClosed})
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) worker() {
	defer close(q.done)
	for {
		cmd, ok, closed := q.next()
		if closed {
			return
		}
		if !ok {
			<-q.wake
			continue
		}
		q.execute(cmd)
	}
}

// next pops the next command: must-run FIFO first, then the maybe-run
// slot. A pending maybe-run may therefore interleave between must-run
// commands submitted after it, which is within contract.
func (q *Queue) next() (cmd Command, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.fifo) > 0 {
		cmd = q.fifo[0]
		q.fifo = q.fifo[1:]
		return cmd, true, false
	}
	if q.pending != nil {
		cmd = *q.pending
		q.pending = nil
		return cmd, true, false
	}
	return Command{}, false, q.closed
}

// execute runs one task under the device mutex. The unlock is deferred so
// a panicking task cannot leave the device locked; the panic is converted
// into an error result.
func (q *Queue) execute(cmd Command) {
	res := func() (res Result) {
		q.deviceMu.Lock()
		defer q.deviceMu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				res = Result{Err: fmt.Errorf("device command %q panicked: %v", cmd.Name, r)}
				monitoring.Logf("device: command %q panicked: %v", cmd.Name, r)
			}
		}()
		v, err := cmd.Task()
		return Result{Value: v, Err: err}
	}()

	q.Executed.Inc()
	deliver(cmd, res)
}

func deliver(cmd Command, res Result) {
	if cmd.Result == nil {
		return
	}
	select {
	case cmd.Result <- res:
	default:
		monitoring.Logf("device: result channel for %q full, dropping result", cmd.Name)
	}
}
