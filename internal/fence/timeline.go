// Package fence provides the fence primitives of the translation layer:
// a condition-variable backed monotonic [Timeline] for backends, and the
// per-queue [Set] of fence counters that command list pools draw values
// from.
package fence

import (
	"errors"
	"sync"
)

// ErrRegression is returned when a timeline is signaled backwards.
var ErrRegression = errors.New("fence: signaled value is below the current value")

// Timeline is a monotonic counter with blocking waits.
// The zero value is ready to use and starts at 0.
type Timeline struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value uint64
	err   error
}

func (t *Timeline) init() {
	if t.cond == nil {
		t.cond = sync.NewCond(&t.mu)
	}
}

// SignaledValue returns the highest value signaled so far.
func (t *Timeline) SignaledValue() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Signal advances the timeline to v and wakes waiters. Signaling a value
// below the current one returns ErrRegression and changes nothing.
func (t *Timeline) Signal(v uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.init()
	if v < t.value {
		return ErrRegression
	}
	t.value = v
	t.cond.Broadcast()
	return nil
}

// Fail wakes every waiter with err. Waits issued afterwards that are not
// already satisfied return err as well.
func (t *Timeline) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.init()
	if t.err == nil {
		t.err = err
	}
	t.cond.Broadcast()
}

// WaitUntil blocks until the timeline reaches v or fails.
func (t *Timeline) WaitUntil(v uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.init()
	for t.value < v {
		if t.err != nil {
			return t.err
		}
		t.cond.Wait()
	}
	return nil
}
