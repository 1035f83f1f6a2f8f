package device

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/arcus-instruments/focuslock/internal/monitoring"
	"github.com/arcus-instruments/focuslock/internal/timeutil"
)

// MoveStatus is the device's motion state as reported by a status poll.
type MoveStatus int

const (
	StatusIdle MoveStatus = iota
	StatusMoving
	StatusError
)

func (s MoveStatus) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusMoving:
		return "MOVING"
	default:
		return "ERROR"
	}
}

// Pollable is the device surface the poller samples.
type Pollable interface {
	// Status reports whether the device is moving.
	Status() (MoveStatus, error)

	// Position reports the current device position.
	Position() (float64, error)
}

// Update is one polling cycle's observation, fanned out to subscribers.
type Update struct {
	Status   MoveStatus
	Position float64
}

// Poller repeatedly samples device status and position from a dedicated
// worker. Each query holds the device mutex only for its own duration so
// command execution interleaves with polling. Consumers receive updates as
// asynchronous notifications and never block the poll cycle.
type Poller struct {
	dev      Pollable
	deviceMu *sync.Mutex
	interval time.Duration
	clock    timeutil.Clock

	subMu sync.Mutex
	subs  map[string]chan Update

	mu      sync.Mutex
	running bool
	lastPos float64
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Cycles counts completed poll cycles; Errors counts degraded cycles
	// where the device reported an error or a query failed.
	Cycles monitoring.Counter
	Errors monitoring.Counter
}

// NewPoller creates a poller sampling dev every interval under deviceMu.
// A nil clock selects the real clock.
func NewPoller(dev Pollable, deviceMu *sync.Mutex, interval time.Duration, clock timeutil.Clock) *Poller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Poller{
		dev:      dev,
		deviceMu: deviceMu,
		interval: interval,
		clock:    clock,
		subs:     make(map[string]chan Update),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Subscribe registers an update channel. Sends are non-blocking: a slow
// consumer misses updates rather than stalling the poll loop.
func (p *Poller) Subscribe() (string, chan Update) {
	id := randomID()
	ch := make(chan Update, 1)
	p.subMu.Lock()
	p.subs[id] = ch
	p.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (p *Poller) Unsubscribe(id string) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if ch, ok := p.subs[id]; ok {
		close(ch)
		delete(p.subs, id)
	}
}

// LastPosition returns the most recently observed position. Display
// consumers that tolerate staleness read this without touching the device.
func (p *Poller) LastPosition() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPos
}

// Run polls until Stop is called. It is the poller's dedicated worker and
// must be started on its own goroutine.
func (p *Poller) Run() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()
	defer close(p.doneCh)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C():
			p.poll()
		}
	}
}

// Stop terminates polling and blocks until the worker has observably
// exited, so the caller may release the device afterwards.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
}

// poll performs one cycle: status query, then position query, each inside
// its own device-mutex critical section.
func (p *Poller) poll() {
	p.Cycles.Inc()

	p.deviceMu.Lock()
	status, err := p.dev.Status()
	p.deviceMu.Unlock()
	if err != nil || status == StatusError {
		// Degraded cycle: log, keep the last-known position, keep polling.
		p.Errors.Inc()
		if err != nil {
			monitoring.Logf("poller: status query failed: %v", err)
		} else {
			monitoring.Logf("poller: device reported error status")
		}
		p.publish(Update{Status: StatusError, Position: p.LastPosition()})
		return
	}

	p.deviceMu.Lock()
	pos, err := p.dev.Position()
	p.deviceMu.Unlock()
	if err != nil {
		p.Errors.Inc()
		monitoring.Logf("poller: position query failed: %v", err)
		pos = p.LastPosition()
	} else {
		p.mu.Lock()
		p.lastPos = pos
		p.mu.Unlock()
	}

	p.publish(Update{Status: status, Position: pos})
}

func (p *Poller) publish(u Update) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value).
func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
