// Package cmdlist pools command lists per logical queue.
//
// A list moves Free → Acquired → Recording → Submitted and back to Free
// once the fence value assigned to it is observed reached. Each list owns
// a descriptor window per heap type; cursors into those windows tell the
// context how much capacity remains before the list must be rotated.
package cmdlist

import (
	"fmt"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/resource"
)

// State is the lifecycle state of a pooled list.
type State uint8

// List states.
const (
	StateFree State = iota
	StateAcquired
	StateRecording
	StateSubmitted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateFree:
		return "Free"
	case StateAcquired:
		return "Acquired"
	case StateRecording:
		return "Recording"
	case StateSubmitted:
		return "Submitted"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// List is a pooled command list.
type List struct {
	native     gpucore.CommandList
	queue      gpucore.QueueKind
	limits     gpucore.Limits
	id         int
	state      State
	fenceValue uint64
	cursors    [gpucore.HeapTypeCount]uint32
	utilized   bool
	deps       gpucore.FenceValues
}

// Native returns the backend command list.
func (l *List) Native() gpucore.CommandList { return l.native }

// Queue returns the queue the list targets.
func (l *List) Queue() gpucore.QueueKind { return l.queue }

// State returns the lifecycle state.
func (l *List) State() State { return l.state }

// FenceValue returns the fence value the list signals on submission.
func (l *List) FenceValue() uint64 { return l.fenceValue }

// Begin starts recording an acquired list.
func (l *List) Begin() error {
	if l.state != StateAcquired {
		return fmt.Errorf("%w: begin in state %s", ErrBadState, l.state)
	}
	label := fmt.Sprintf("%s_list_%d_fence_%d", l.queue, l.id, l.fenceValue)
	if err := l.native.Reset(label); err != nil {
		return fmt.Errorf("cmdlist: reset %s: %w", label, err)
	}
	l.state = StateRecording
	l.cursors = [gpucore.HeapTypeCount]uint32{}
	l.utilized = false
	l.deps = gpucore.FenceValues{}
	return nil
}

// IsRecording reports whether commands may be recorded.
func (l *List) IsRecording() bool { return l.state == StateRecording }

// IsUtilized reports whether any command was recorded since Begin.
func (l *List) IsUtilized() bool { return l.utilized }

// MarkUtilized records that the list carries work worth submitting.
func (l *List) MarkUtilized() { l.utilized = true }

// Cursor returns the next free index of the window of heap h.
func (l *List) Cursor(h gpucore.HeapType) uint32 { return l.cursors[h] }

// Remaining returns the free capacity of the window of heap h.
func (l *List) Remaining(h gpucore.HeapType) uint32 {
	return l.limits.Capacity(h) - l.cursors[h]
}

// IsFull reports whether the windows cannot hold the given number of
// additional descriptors.
func (l *List) IsFull(resources, samplers, renderTargets, depthStencils uint32) bool {
	return resources > l.Remaining(gpucore.HeapResource) ||
		samplers > l.Remaining(gpucore.HeapSampler) ||
		renderTargets > l.Remaining(gpucore.HeapRenderTarget) ||
		depthStencils > l.Remaining(gpucore.HeapDepthStencil)
}

// WriteDescriptor stores d at absolute index of the window of heap h.
func (l *List) WriteDescriptor(h gpucore.HeapType, index uint32, d gpucore.Descriptor) {
	l.native.WriteDescriptor(h, index, d)
	l.utilized = true
}

// SetDescriptorTable points a root table at base of heap h.
func (l *List) SetDescriptorTable(bind gpucore.BindPoint, param uint32, h gpucore.HeapType, base uint32) {
	l.native.SetDescriptorTable(bind, param, h, base)
}

// SetRootConstantBuffer binds a root constant buffer.
func (l *List) SetRootConstantBuffer(bind gpucore.BindPoint, param uint32, buf gpucore.Buffer, offset uint64) {
	l.native.SetRootConstantBuffer(bind, param, buf, offset)
}

// IncrementInputCursors consumes resource and sampler descriptors.
func (l *List) IncrementInputCursors(resources, samplers uint32) {
	l.cursors[gpucore.HeapResource] += resources
	l.cursors[gpucore.HeapSampler] += samplers
}

// IncrementOutputCursors consumes render target and depth-stencil descriptors.
func (l *List) IncrementOutputCursors(renderTargets, depthStencils uint32) {
	l.cursors[gpucore.HeapRenderTarget] += renderTargets
	l.cursors[gpucore.HeapDepthStencil] += depthStencils
}

// Track records that the list references r with the given access. Uses
// of r on other queues that this access conflicts with become GPU-side
// dependencies of the list.
func (l *List) Track(r resource.Resource, kind resource.Access) {
	conflict := resource.AccessWrite
	if kind == resource.AccessWrite {
		conflict = resource.AccessAny
	}
	prior := r.FenceValues(conflict)
	for q := range prior {
		if gpucore.QueueKind(q) != l.queue && prior[q] > l.deps[q] {
			l.deps[q] = prior[q]
		}
	}
	r.MarkUsed(l.queue, kind, l.fenceValue)
	l.utilized = true
}

// Transition requests that r be in state s, recording a barrier if needed.
func (l *List) Transition(r resource.Resource, s gpucore.ResourceState) {
	r.RequestTransition(l.native, s)
}

// Dependencies returns the per-queue fence values the list must wait for
// on the GPU before executing.
func (l *List) Dependencies() gpucore.FenceValues { return l.deps }

// SetRenderTargets binds output views written at the given window indices.
func (l *List) SetRenderTargets(rtvBase, count, dsvIndex uint32, hasDSV bool) {
	l.native.SetRenderTargets(rtvBase, count, dsvIndex, hasDSV)
}
