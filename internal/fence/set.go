package fence

import (
	"errors"
	"fmt"

	"github.com/gogpu/immediate/gpucore"
)

// ErrNotSubmitted is returned when waiting for a value no submission
// will ever signal.
var ErrNotSubmitted = errors.New("fence: value has not been submitted")

// Set holds one fence and one counter per logical queue.
//
// Current(q) is the value the list now recording on q will signal when it
// is submitted. Advance hands that value out and moves the counter on, so
// values are never reused. Set is owned by a single context and is not
// safe for concurrent use.
type Set struct {
	fences    [gpucore.QueueCount]gpucore.Fence
	current   [gpucore.QueueCount]uint64
	submitted [gpucore.QueueCount]uint64
}

// NewSet creates one fence per queue on dev.
func NewSet(dev gpucore.Device) (*Set, error) {
	s := &Set{}
	for q := range s.fences {
		f, err := dev.CreateFence()
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("fence: create %s fence: %w", gpucore.QueueKind(q), err)
		}
		s.fences[q] = f
		s.current[q] = 1
	}
	return s, nil
}

// Fence returns the fence of queue q.
func (s *Set) Fence(q gpucore.QueueKind) gpucore.Fence { return s.fences[q] }

// Current returns the value the next submission on q will signal.
func (s *Set) Current(q gpucore.QueueKind) uint64 { return s.current[q] }

// CurrentValues returns Current for every queue.
func (s *Set) CurrentValues() gpucore.FenceValues { return s.current }

// Submitted returns the last value submitted on q, or 0.
func (s *Set) Submitted(q gpucore.QueueKind) uint64 { return s.submitted[q] }

// Advance consumes the current value of q and returns it.
func (s *Set) Advance(q gpucore.QueueKind) uint64 {
	v := s.current[q]
	s.submitted[q] = v
	s.current[q]++
	return v
}

// Completed returns the highest value observed reached on q.
func (s *Set) Completed(q gpucore.QueueKind) uint64 {
	return s.fences[q].CompletedValue()
}

// CompletedValues returns Completed for every queue.
func (s *Set) CompletedValues() gpucore.FenceValues {
	var v gpucore.FenceValues
	for q := range v {
		v[q] = s.Completed(gpucore.QueueKind(q))
	}
	return v
}

// IsReached reports whether v has been observed reached on q.
func (s *Set) IsReached(q gpucore.QueueKind, v uint64) bool {
	return v <= s.Completed(q)
}

// IsCompleted reports whether every value in v has been reached.
func (s *Set) IsCompleted(v gpucore.FenceValues) bool {
	for q := range v {
		if !s.IsReached(gpucore.QueueKind(q), v[q]) {
			return false
		}
	}
	return true
}

// Pending reports whether v on q belongs to the list still recording.
func (s *Set) Pending(q gpucore.QueueKind, v uint64) bool {
	return v >= s.current[q]
}

// Wait blocks until q reaches v.
func (s *Set) Wait(q gpucore.QueueKind, v uint64) error {
	if s.IsReached(q, v) {
		return nil
	}
	if v > s.submitted[q] {
		return fmt.Errorf("%w: %s value %d, last submitted %d", ErrNotSubmitted, q, v, s.submitted[q])
	}
	return s.fences[q].WaitUntil(v)
}

// WaitAll blocks until every queue reaches its value in v.
func (s *Set) WaitAll(v gpucore.FenceValues) error {
	for q := range v {
		if err := s.Wait(gpucore.QueueKind(q), v[q]); err != nil {
			return err
		}
	}
	return nil
}

// Destroy releases the fences.
func (s *Set) Destroy() {
	for q, f := range s.fences {
		if f != nil {
			f.Destroy()
			s.fences[q] = nil
		}
	}
}
