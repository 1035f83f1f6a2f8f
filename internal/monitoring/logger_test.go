package monitoring

import (
	"sync"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("frame dropped")
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op logger, not a nil function
	called = false
	SetLogger(nil)
	Logf("frame dropped")
	if called {
		t.Error("no-op logger invoked the previous callback")
	}
	if Logf == nil {
		t.Error("Logf must never be nil")
	}
}

func TestCounterMonotonic(t *testing.T) {
	var c Counter
	c.Inc()
	c.Add(4)
	c.Add(-10) // ignored
	if got := c.Value(); got != 5 {
		t.Errorf("Value() = %d, want 5", got)
	}
}

func TestCounterConcurrent(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	if got := c.Value(); got != 8000 {
		t.Errorf("Value() = %d, want 8000", got)
	}
}
