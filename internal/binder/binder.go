// Package binder writes the bound resources of a context into the
// descriptor windows of a command list, in the order a root signature
// layout prescribes.
//
// For every table the binder walks the layout entries in order, keeping a
// running count of descriptors written. Each entry must land exactly at
// its precomputed offset; a mismatch means the layout and the walk
// disagree and the table would bind the wrong resources. Empty slots are
// filled with null descriptors so the running count never skips.
package binder

import (
	"errors"
	"fmt"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/internal/pso"
	"github.com/gogpu/immediate/internal/state"
	"github.com/gogpu/immediate/resource"
)

// ErrOffsetMismatch is returned when a descriptor would be written at a
// position other than the one the layout assigned to it.
var ErrOffsetMismatch = errors.New("binder: descriptor offset does not match layout")

// List is the part of a command list the binder records into.
type List interface {
	Cursor(h gpucore.HeapType) uint32
	WriteDescriptor(h gpucore.HeapType, index uint32, d gpucore.Descriptor)
	SetDescriptorTable(bind gpucore.BindPoint, param uint32, h gpucore.HeapType, base uint32)
	SetRootConstantBuffer(bind gpucore.BindPoint, param uint32, buf gpucore.Buffer, offset uint64)
	SetRenderTargets(rtvBase, count, dsvIndex uint32, hasDSV bool)
	IncrementInputCursors(resources, samplers uint32)
	IncrementOutputCursors(renderTargets, depthStencils uint32)
	Track(r resource.Resource, kind resource.Access)
	Transition(r resource.Resource, s gpucore.ResourceState)
}

// Result counts what a bind wrote.
type Result struct {
	Descriptors uint32
	Samplers    uint32
	Nulls       uint32
	RootBuffers uint32
}

// Binder binds resource tables and output views.
type Binder struct {
	// Debug turns an offset mismatch into a panic.
	Debug bool
}

// mismatch reports a walk that disagrees with the layout.
func (b *Binder) mismatch(kind string, e pso.Entry, got uint32) error {
	err := fmt.Errorf("%w: %s %s slot %d at %d, layout says %d",
		ErrOffsetMismatch, e.Stage, kind, e.Slot, got, e.Offset)
	if b.Debug {
		panic(err)
	}
	return err
}

// Inputs writes the resource and sampler tables of layout from stages
// and binds root constant buffers. The caller must have checked that the
// list windows can hold layout.NumDescriptors and layout.NumSamplers.
func (b *Binder) Inputs(l List, layout *pso.Layout, stages *[gpucore.ShaderStageCount]state.Stage) (Result, error) {
	var res Result
	bp := layout.BindPoint

	for _, cb := range layout.ConstantBuffers {
		bound := stages[cb.Stage].ConstantBuffers.Get(int(cb.Slot))
		if bound.Buffer == nil {
			l.SetRootConstantBuffer(bp, cb.Param, nil, 0)
			continue
		}
		l.Transition(bound.Buffer, gpucore.StateVertexAndConstantBuffer)
		l.Track(bound.Buffer, resource.AccessAny)
		l.SetRootConstantBuffer(bp, cb.Param, bound.Buffer.Allocation(), bound.Offset)
		res.RootBuffers++
	}

	if layout.ResourceTable >= 0 {
		base := l.Cursor(gpucore.HeapResource)
		var written uint32
		for _, e := range layout.Resources {
			if written != e.Offset {
				return res, b.mismatch("resource", e, written)
			}
			d, ok := resourceDescriptor(l, e, &stages[e.Stage])
			if !ok {
				res.Nulls++
			}
			l.WriteDescriptor(gpucore.HeapResource, base+written, d)
			written++
		}
		l.SetDescriptorTable(bp, uint32(layout.ResourceTable), gpucore.HeapResource, base)
		res.Descriptors = written
	}

	if layout.SamplerTable >= 0 {
		base := l.Cursor(gpucore.HeapSampler)
		var written uint32
		for _, e := range layout.Samplers {
			if written != e.Offset {
				return res, b.mismatch("sampler", e, written)
			}
			d := gpucore.Descriptor{Kind: gpucore.ViewSampler}
			if s := stages[e.Stage].Samplers.Get(int(e.Slot)); s != nil {
				d = s.Descriptor()
			} else {
				res.Nulls++
			}
			l.WriteDescriptor(gpucore.HeapSampler, base+written, d)
			written++
		}
		l.SetDescriptorTable(bp, uint32(layout.SamplerTable), gpucore.HeapSampler, base)
		res.Samplers = written
	}

	l.IncrementInputCursors(res.Descriptors, res.Samplers)
	return res, nil
}

// resourceDescriptor returns the descriptor for entry e, transitioning
// and tracking the bound resource. ok is false for a null descriptor.
func resourceDescriptor(l List, e pso.Entry, st *state.Stage) (gpucore.Descriptor, bool) {
	null := gpucore.Descriptor{Kind: e.Kind}
	switch e.Kind {
	case gpucore.ViewConstantBuffer:
		cb := st.ConstantBuffers.Get(int(e.Slot))
		if cb.Buffer == nil {
			return null, false
		}
		l.Transition(cb.Buffer, gpucore.StateVertexAndConstantBuffer)
		l.Track(cb.Buffer, resource.AccessAny)
		size := cb.Size
		if size == 0 {
			size = cb.Buffer.Size() - cb.Offset
		}
		return gpucore.Descriptor{
			Kind:     gpucore.ViewConstantBuffer,
			Resource: cb.Buffer.Native(),
			Offset:   cb.Offset,
			Size:     size,
		}, true
	case gpucore.ViewShaderResource:
		v := st.ShaderResources.Get(int(e.Slot))
		if v == nil {
			return null, false
		}
		l.Transition(v.Resource(), v.State(e.Stage))
		l.Track(v.Resource(), v.Access())
		return v.Descriptor(), true
	case gpucore.ViewUnorderedAccess:
		v := st.UnorderedAccess.Get(int(e.Slot))
		if v == nil {
			return null, false
		}
		l.Transition(v.Resource(), gpucore.StateUnorderedAccess)
		l.Track(v.Resource(), resource.AccessWrite)
		return v.Descriptor(), true
	default:
		return null, false
	}
}

// OutputCount returns the render target and depth-stencil descriptors
// Outputs would write for t.
func OutputCount(t *state.Tracker) (renderTargets, depthStencils uint32) {
	renderTargets = uint32(t.NumRenderTargets)
	if t.DepthStencilView != nil {
		depthStencils = 1
	}
	return renderTargets, depthStencils
}

// Outputs writes the bound render target and depth-stencil views into the
// output windows and binds them.
func (b *Binder) Outputs(l List, t *state.Tracker) Result {
	var res Result
	rtBase := l.Cursor(gpucore.HeapRenderTarget)
	for i := 0; i < t.NumRenderTargets; i++ {
		d := gpucore.Descriptor{Kind: gpucore.ViewRenderTarget}
		if v := t.RenderTargets[i]; v != nil {
			l.Transition(v.Resource(), gpucore.StateRenderTarget)
			l.Track(v.Resource(), resource.AccessWrite)
			d = v.Descriptor()
		} else {
			res.Nulls++
		}
		l.WriteDescriptor(gpucore.HeapRenderTarget, rtBase+uint32(i), d)
		res.Descriptors++
	}

	dsIndex := l.Cursor(gpucore.HeapDepthStencil)
	hasDSV := t.DepthStencilView != nil
	if hasDSV {
		v := t.DepthStencilView
		l.Transition(v.Resource(), gpucore.StateDepthWrite)
		l.Track(v.Resource(), resource.AccessWrite)
		l.WriteDescriptor(gpucore.HeapDepthStencil, dsIndex, v.Descriptor())
	}

	rts, dss := OutputCount(t)
	l.SetRenderTargets(rtBase, rts, dsIndex, hasDSV)
	l.IncrementOutputCursors(rts, dss)
	return res
}
