// Package resource defines the narrow surface through which the
// translation layer consumes GPU resources, together with reference
// buffer, texture, view and sampler implementations.
//
// The binder and the usage tracker depend only on the [Resource]
// interface: native handle, current state, transition request, recorded
// fence values and wait-for-unused. Concrete types embed [Tracker] for the
// bookkeeping half of that interface.
package resource

import (
	"github.com/gogpu/immediate/gpucore"
)

// Access is the kind of operation a fence value was recorded for.
type Access uint8

// Access kinds. A write is also recorded as AccessAny.
const (
	AccessWrite Access = iota
	AccessAny
)

// String returns the access name.
func (a Access) String() string {
	if a == AccessWrite {
		return "write"
	}
	return "any"
}

// Recorder records state transitions. gpucore.CommandList satisfies it.
type Recorder interface {
	ResourceBarrier(barriers []gpucore.Barrier)
}

// Waiter submits whatever work carries the given fence values and blocks
// until the GPU reaches them.
type Waiter interface {
	WaitForFences(values gpucore.FenceValues) error
}

// Resource is a GPU resource as seen by the translation layer.
type Resource interface {
	// Native returns the backend allocation currently backing the resource.
	Native() gpucore.Resource

	// CurrentState returns the tracked GPU-visible state.
	CurrentState() gpucore.ResourceState

	// RequestTransition records a barrier on rec if the resource is not
	// already usable in state desired. It reports whether a barrier was
	// recorded.
	RequestTransition(rec Recorder, desired gpucore.ResourceState) bool

	// FenceValues returns, per queue, the fence value of the most recent
	// command that referenced the resource with the given access.
	FenceValues(kind Access) gpucore.FenceValues

	// MarkUsed records that a command signaling value on q referenced
	// the resource.
	MarkUsed(q gpucore.QueueKind, kind Access, value uint64)

	// WaitForUnused blocks until every recorded use of kind has retired.
	WaitForUnused(w Waiter, kind Access) error
}

// Tracker is the per-resource usage record and state. Embed it in a
// resource type and add Native and RequestTransition.
type Tracker struct {
	state gpucore.ResourceState
	write gpucore.FenceValues
	any   gpucore.FenceValues
}

// CurrentState returns the tracked state.
func (t *Tracker) CurrentState() gpucore.ResourceState { return t.state }

// FenceValues returns the recorded fence values for kind.
func (t *Tracker) FenceValues(kind Access) gpucore.FenceValues {
	if kind == AccessWrite {
		return t.write
	}
	return t.any
}

// MarkUsed records a use. Values never move backwards.
func (t *Tracker) MarkUsed(q gpucore.QueueKind, kind Access, value uint64) {
	if value > t.any[q] {
		t.any[q] = value
	}
	if kind == AccessWrite && value > t.write[q] {
		t.write[q] = value
	}
}

// WaitForUnused blocks on w until all uses of kind have retired.
func (t *Tracker) WaitForUnused(w Waiter, kind Access) error {
	v := t.FenceValues(kind)
	if v.IsZero() {
		return nil
	}
	return w.WaitForFences(v)
}

// transition records a barrier from the tracked state to desired.
func (t *Tracker) transition(rec Recorder, native gpucore.Resource, desired gpucore.ResourceState) bool {
	cur := t.state
	if cur == desired {
		return false
	}
	// Read states combine; an already readable resource needs no barrier.
	if !desired.IsWrite() && !cur.IsWrite() && cur != gpucore.StateCommon && cur&desired == desired {
		return false
	}
	if rec != nil && native != nil {
		rec.ResourceBarrier([]gpucore.Barrier{{Resource: native, Before: cur, After: desired}})
	}
	t.state = desired
	return true
}

// reset forgets all recorded uses and returns the resource to the common
// state.
func (t *Tracker) reset() {
	t.state = gpucore.StateCommon
	t.write = gpucore.FenceValues{}
	t.any = gpucore.FenceValues{}
}

// InUse reports whether r has a use that has not reached completed.
func InUse(r Resource, kind Access, completed gpucore.FenceValues) bool {
	v := r.FenceValues(kind)
	for q := range v {
		if v[q] > completed[q] {
			return true
		}
	}
	return false
}
