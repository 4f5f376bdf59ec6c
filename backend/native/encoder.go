//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/immediate/gpucore"
)

// paramBinding is what a root parameter points at: a window range of a
// descriptor table or a root constant buffer.
type paramBinding struct {
	heap   gpucore.HeapType
	base   uint32
	buffer *Buffer
	offset uint64
}

// groupKey identifies a materialized bind group within one list.
type groupKey struct {
	root  *RootSignature
	param uint32
	bind  paramBinding
}

type targetBinding struct {
	rtvBase, count, dsvIndex uint32
	hasDSV                   bool
}

// encoder replays recorded commands into a HAL command encoder, opening
// and closing passes as commands require.
type encoder struct {
	l       *CommandList
	enc     hal.CommandEncoder
	render  hal.RenderPassEncoder
	compute hal.ComputePassEncoder

	pipeline [gpucore.BindPointCount]*PipelineState
	roots    [gpucore.BindPointCount]*RootSignature
	params   [gpucore.BindPointCount]map[uint32]paramBinding

	vertex      [gpucore.MaxVertexBuffers]gpucore.VertexBufferView
	index       *gpucore.IndexBufferView
	viewports   []gpucore.Viewport
	scissors    []gpucore.Rect
	stencilRef  uint32
	blendFactor gputypes.Color

	targets      targetBinding
	targetsDirty bool

	// width and height are the extent of the open render pass.
	width, height uint32
}

func newEncoder(l *CommandList, enc hal.CommandEncoder) *encoder {
	e := &encoder{l: l, enc: enc}
	for i := range e.params {
		e.params[i] = make(map[uint32]paramBinding)
	}
	return e
}

func (e *encoder) endPasses() {
	if e.render != nil {
		e.render.End()
		e.render = nil
	}
	if e.compute != nil {
		e.compute.End()
		e.compute = nil
	}
}

func depthAttachment(tex *Texture) *hal.RenderPassDepthStencilAttachment {
	att := &hal.RenderPassDepthStencilAttachment{
		View:         tex.view,
		DepthLoadOp:  gputypes.LoadOpLoad,
		DepthStoreOp: gputypes.StoreOpStore,
	}
	if hasStencil(tex.desc.Format) {
		att.StencilLoadOp = gputypes.LoadOpLoad
		att.StencilStoreOp = gputypes.StoreOpStore
	}
	return att
}

// beginRender makes sure a render pass over the bound targets is open.
func (e *encoder) beginRender() error {
	if e.compute != nil {
		e.compute.End()
		e.compute = nil
	}
	if e.render != nil && !e.targetsDirty {
		return nil
	}
	if e.render != nil {
		e.render.End()
		e.render = nil
	}

	t := e.targets
	if t.count == 0 && !t.hasDSV {
		return fmt.Errorf("draw without render targets: %w", gpucore.ErrUnsupported)
	}
	desc := &hal.RenderPassDescriptor{Label: e.l.label}
	e.width, e.height = 0, 0
	for i := range t.count {
		tex, ok := e.l.windows[gpucore.HeapRenderTarget][t.rtvBase+i].Resource.(*Texture)
		if !ok {
			return fmt.Errorf("render target %d is not a texture", i)
		}
		e.extent(tex)
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:    tex.view,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		})
	}
	if t.hasDSV {
		tex, ok := e.l.windows[gpucore.HeapDepthStencil][t.dsvIndex].Resource.(*Texture)
		if !ok {
			return errors.New("depth-stencil target is not a texture")
		}
		e.extent(tex)
		desc.DepthStencilAttachment = depthAttachment(tex)
	}
	e.render = e.enc.BeginRenderPass(desc)
	e.targetsDirty = false
	return nil
}

func (e *encoder) extent(tex *Texture) {
	if e.width == 0 || tex.desc.Width < e.width {
		e.width = tex.desc.Width
	}
	if e.height == 0 || tex.desc.Height < e.height {
		e.height = tex.desc.Height
	}
}

// prepareDraw opens the render pass and applies the bound state.
func (e *encoder) prepareDraw() (hal.RenderPassEncoder, error) {
	ps := e.pipeline[gpucore.BindGraphics]
	if ps == nil || ps.render == nil {
		return nil, errors.New("draw without graphics pipeline")
	}
	if err := e.beginRender(); err != nil {
		return nil, err
	}
	rp := e.render
	rp.SetPipeline(ps.render)
	if err := e.bindGroups(gpucore.BindGraphics, func(i uint32, g hal.BindGroup) {
		rp.SetBindGroup(i, g, nil)
	}); err != nil {
		return nil, err
	}
	for slot := range ps.vertexSlots {
		if b, ok := e.vertex[slot].Buffer.(*Buffer); ok {
			rp.SetVertexBuffer(slot, b.buffer, e.vertex[slot].Offset)
		}
	}
	if e.index != nil {
		b, ok := e.index.Buffer.(*Buffer)
		if !ok {
			return nil, fmt.Errorf("%w: index buffer %T", ErrForeignObject, e.index.Buffer)
		}
		rp.SetIndexBuffer(b.buffer, e.index.Format, e.index.Offset)
	}
	if len(e.viewports) > 0 {
		vp := e.viewports[0]
		rp.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
	}
	x, y, w, h := uint32(0), uint32(0), e.width, e.height
	if ps.scissor && len(e.scissors) > 0 {
		x, y, w, h = clampRect(e.scissors[0], e.width, e.height)
	}
	rp.SetScissorRect(x, y, w, h)
	rp.SetStencilReference(e.stencilRef)
	rp.SetBlendConstant(&e.blendFactor)
	return rp, nil
}

// clampRect converts r to an origin and extent inside a w by h target.
func clampRect(r gpucore.Rect, w, h uint32) (x, y, width, height uint32) {
	left := uint32(min(max(r.Left, 0), int32(w)))
	top := uint32(min(max(r.Top, 0), int32(h)))
	right := uint32(min(max(r.Right, 0), int32(w)))
	bottom := uint32(min(max(r.Bottom, 0), int32(h)))
	return left, top, right - min(left, right), bottom - min(top, bottom)
}

// prepareDispatch opens a compute pass and applies the bound state.
func (e *encoder) prepareDispatch() (hal.ComputePassEncoder, error) {
	ps := e.pipeline[gpucore.BindCompute]
	if ps == nil || ps.compute == nil {
		return nil, errors.New("dispatch without compute pipeline")
	}
	if e.render != nil {
		e.render.End()
		e.render = nil
	}
	if e.compute == nil {
		e.compute = e.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: e.l.label})
	}
	pass := e.compute
	pass.SetPipeline(ps.compute)
	if err := e.bindGroups(gpucore.BindCompute, func(i uint32, g hal.BindGroup) {
		pass.SetBindGroup(i, g, nil)
	}); err != nil {
		return nil, err
	}
	return pass, nil
}

// bindGroups materializes the bind group of every root parameter of the
// bound root signature and hands each to set.
func (e *encoder) bindGroups(bind gpucore.BindPoint, set func(uint32, hal.BindGroup)) error {
	rs := e.roots[bind]
	if rs == nil {
		rs = e.pipeline[bind].root
	}
	for i := range rs.desc.Parameters {
		param := uint32(i)
		pb, ok := e.params[bind][param]
		if !ok {
			return fmt.Errorf("%s root parameter %d is unbound", bind, i)
		}
		key := groupKey{root: rs, param: param, bind: pb}
		g, ok := e.l.groups[key]
		if !ok {
			var err error
			if g, err = e.createGroup(rs, param, pb); err != nil {
				return err
			}
			e.l.groups[key] = g
		}
		set(param, g)
	}
	return nil
}

func (e *encoder) createGroup(rs *RootSignature, param uint32, pb paramBinding) (hal.BindGroup, error) {
	var entries []gputypes.BindGroupEntry
	if rs.desc.Parameters[param].Kind == gpucore.RootConstantBuffer {
		if pb.buffer == nil {
			return nil, fmt.Errorf("root parameter %d expects a constant buffer", param)
		}
		size := min(pb.buffer.size-pb.offset, maxUniformBinding)
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: 0,
			Resource: gputypes.BufferBinding{
				Buffer: pb.buffer.buffer.NativeHandle(), Offset: pb.offset, Size: size,
			},
		})
	} else {
		window := e.l.windows[pb.heap]
		for binding, kind := range rs.kinds[param] {
			if kind == gpucore.ViewNone {
				continue
			}
			idx := int(pb.base) + binding
			if idx >= len(window) {
				return nil, fmt.Errorf("table of parameter %d overruns the %s window", param, pb.heap)
			}
			entry, err := e.l.dev.bindGroupEntry(uint32(binding), kind, window[idx])
			if err != nil {
				return nil, fmt.Errorf("parameter %d binding %d: %w", param, binding, err)
			}
			entries = append(entries, entry)
		}
	}
	g, err := e.l.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   fmt.Sprintf("%s_group%d", rs.desc.Label, param),
		Layout:  rs.groups[param],
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group %d: %w", param, err)
	}
	return g, nil
}

// maxUniformBinding is the largest range a uniform binding may cover.
const maxUniformBinding = 64 * 1024

// bindGroupEntry converts a descriptor of kind into a bind group entry.
// Null descriptors bind the device's null resources.
func (d *Device) bindGroupEntry(binding uint32, kind gpucore.ViewKind, desc gpucore.Descriptor) (gputypes.BindGroupEntry, error) {
	entry := gputypes.BindGroupEntry{Binding: binding}
	if kind == gpucore.ViewSampler {
		sd := desc.Sampler
		if sd == nil {
			sd = &gpucore.SamplerDesc{}
		}
		s, err := d.sampler(sd)
		if err != nil {
			return entry, err
		}
		entry.Resource = gputypes.SamplerBinding{Sampler: gputypes.SamplerHandle(s.NativeHandle())}
		return entry, nil
	}

	switch r := desc.Resource.(type) {
	case *Buffer:
		if kind == gpucore.ViewShaderResource {
			return entry, fmt.Errorf("buffer shader resource view: %w", gpucore.ErrUnsupported)
		}
		size := desc.Size
		if size == 0 {
			size = r.size - desc.Offset
		}
		if kind == gpucore.ViewConstantBuffer {
			size = min(size, maxUniformBinding)
		}
		entry.Resource = gputypes.BufferBinding{Buffer: r.buffer.NativeHandle(), Offset: desc.Offset, Size: size}
	case *Texture:
		if kind != gpucore.ViewShaderResource {
			return entry, fmt.Errorf("texture %s view: %w", kind, gpucore.ErrUnsupported)
		}
		entry.Resource = gputypes.TextureViewBinding{TextureView: gputypes.TextureViewHandle(r.view.NativeHandle())}
	case nil:
		nullBuf, nullTex, err := d.nullResources()
		if err != nil {
			return entry, err
		}
		if kind == gpucore.ViewShaderResource {
			entry.Resource = gputypes.TextureViewBinding{TextureView: gputypes.TextureViewHandle(nullTex.view.NativeHandle())}
		} else {
			entry.Resource = gputypes.BufferBinding{Buffer: nullBuf.NativeHandle(), Offset: 0, Size: nullBufferSize}
		}
	default:
		return entry, fmt.Errorf("%w: descriptor resource %T", ErrForeignObject, r)
	}
	return entry, nil
}
