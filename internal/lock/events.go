package lock

import (
	"crypto/rand"
	"encoding/hex"
	"image"
	"sync"
)

// LockStatus is published once per completed sample batch. It is immutable
// once published.
type LockStatus struct {
	IsGood bool    `json:"is_good"`
	Offset float64 `json:"offset"`
	Sum    float64 `json:"sum"`
	XOff   float64 `json:"x_off"`
	YOff   float64 `json:"y_off"`

	Quality Quality `json:"quality"`

	// Preview is the batch's rendered 8-bit preview frame. Transports
	// encode it themselves.
	Preview *image.Gray `json:"-"`
}

// Feed fans LockStatus events out to subscribers. Delivery is at most once
// per published status and FIFO per subscriber; slow consumers miss events
// rather than stalling the publisher.
type Feed struct {
	mu   sync.Mutex
	subs map[string]chan LockStatus
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[string]chan LockStatus)}
}

// Subscribe registers a status channel and returns its registry ID.
func (f *Feed) Subscribe() (string, chan LockStatus) {
	id := randomID()
	ch := make(chan LockStatus, 16)
	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (f *Feed) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

// Publish delivers s to every subscriber without blocking.
func (f *Feed) Publish(s LockStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- s:
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
