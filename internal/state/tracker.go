package state

import (
	"slices"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/resource"
)

// Per-stage slot counts.
const (
	MaxConstantBuffers = 14
	MaxShaderResources = 128
	MaxSamplers        = 16
	MaxUnorderedAccess = 8
)

// ConstantBuffer is a bound constant buffer range.
type ConstantBuffer struct {
	Buffer *resource.Buffer
	Offset uint64
	Size   uint64
}

// VertexBuffer is a bound vertex buffer slot.
type VertexBuffer struct {
	Buffer *resource.Buffer
	Stride uint32
	Offset uint32
}

// IndexBuffer is the bound index buffer.
type IndexBuffer struct {
	Buffer *resource.Buffer
	Format gputypes.IndexFormat
	Offset uint32
}

// Stage holds the shader and resources bound to one shader stage.
type Stage struct {
	Shader          *gpucore.Shader
	ConstantBuffers Slots[ConstantBuffer]
	ShaderResources Slots[*resource.View]
	UnorderedAccess Slots[*resource.View]
	Samplers        Slots[*resource.Sampler]
}

func newStage() Stage {
	return Stage{
		ConstantBuffers: NewSlots[ConstantBuffer](MaxConstantBuffers),
		ShaderResources: NewSlots[*resource.View](MaxShaderResources),
		UnorderedAccess: NewSlots[*resource.View](MaxUnorderedAccess),
		Samplers:        NewSlots[*resource.Sampler](MaxSamplers),
	}
}

// Tracker is the full bound state of a context: one stage block per
// shader stage, the input assembler, rasterizer and output merger.
//
// Fields are read directly; they must be changed only through the
// setters so dirty bits stay consistent.
type Tracker struct {
	dirty [gpucore.BindPointCount]Dirty

	Stages [gpucore.ShaderStageCount]Stage

	InputLayout   *gpucore.InputLayout
	IndexBuffer   IndexBuffer
	VertexBuffers Slots[VertexBuffer]
	Topology      gputypes.PrimitiveTopology

	Rasterizer gpucore.RasterizerDesc
	Viewports  []gpucore.Viewport
	Scissors   []gpucore.Rect

	Blend        gpucore.BlendDesc
	BlendFactor  gputypes.Color
	SampleMask   uint32
	DepthStencil gpucore.DepthStencilDesc
	StencilRef   uint32

	RenderTargets    [gpucore.MaxRenderTargets]*resource.View
	NumRenderTargets int
	DepthStencilView *resource.View
}

// NewTracker returns the state of a freshly created context with
// everything dirty.
func NewTracker() *Tracker {
	t := &Tracker{
		VertexBuffers: NewSlots[VertexBuffer](gpucore.MaxVertexBuffers),
		Topology:      gputypes.PrimitiveTopologyTriangleList,
		Rasterizer:    gpucore.DefaultRasterizer(),
		Blend:         gpucore.DefaultBlend(),
		BlendFactor:   gputypes.Color{R: 1, G: 1, B: 1, A: 1},
		SampleMask:    0xFFFFFFFF,
		DepthStencil:  gpucore.DefaultDepthStencil(),
	}
	for i := range t.Stages {
		t.Stages[i] = newStage()
	}
	t.MarkAll()
	return t
}

// BindPointOf returns the bind point a stage belongs to.
func BindPointOf(stage gpucore.ShaderStage) gpucore.BindPoint {
	if stage == gpucore.StageCompute {
		return gpucore.BindCompute
	}
	return gpucore.BindGraphics
}

// Dirty returns the dirty set of bind point bp.
func (t *Tracker) Dirty(bp gpucore.BindPoint) Dirty { return t.dirty[bp] }

// Mark raises bits on bind point bp.
func (t *Tracker) Mark(bp gpucore.BindPoint, bits Dirty) { t.dirty[bp] |= bits }

// Clear lowers bits on bind point bp.
func (t *Tracker) Clear(bp gpucore.BindPoint, bits Dirty) { t.dirty[bp] &^= bits }

// MarkAll raises every bit on both bind points. Used when the recording
// command list is replaced and nothing is asserted on the new one.
func (t *Tracker) MarkAll() {
	for i := range t.dirty {
		t.dirty[i] = DirtyAll
	}
}

func (t *Tracker) markStage(stage gpucore.ShaderStage, bits Dirty) {
	t.dirty[BindPointOf(stage)] |= bits
}

func (t *Tracker) markGraphics(bits Dirty) { t.dirty[gpucore.BindGraphics] |= bits }

// Shader returns the shader bound to stage.
func (t *Tracker) Shader(stage gpucore.ShaderStage) *gpucore.Shader {
	return t.Stages[stage].Shader
}

// SetShader binds sh to its stage and reports whether it changed.
func (t *Tracker) SetShader(stage gpucore.ShaderStage, sh *gpucore.Shader) bool {
	s := &t.Stages[stage]
	if s.Shader == sh {
		return false
	}
	s.Shader = sh
	t.markStage(stage, DirtyPipeline)
	return true
}

// SetConstantBuffer binds cb at slot. ok is false when slot is out of range.
func (t *Tracker) SetConstantBuffer(stage gpucore.ShaderStage, slot int, cb ConstantBuffer) (changed, ok bool) {
	changed, ok = t.Stages[stage].ConstantBuffers.Set(slot, cb)
	if changed {
		t.markStage(stage, DirtyConstantBuffers)
	}
	return changed, ok
}

// SetShaderResource binds v at slot.
func (t *Tracker) SetShaderResource(stage gpucore.ShaderStage, slot int, v *resource.View) (changed, ok bool) {
	changed, ok = t.Stages[stage].ShaderResources.Set(slot, v)
	if changed {
		t.markStage(stage, DirtyShaderResources)
	}
	return changed, ok
}

// SetUnorderedAccess binds v at slot.
func (t *Tracker) SetUnorderedAccess(stage gpucore.ShaderStage, slot int, v *resource.View) (changed, ok bool) {
	changed, ok = t.Stages[stage].UnorderedAccess.Set(slot, v)
	if changed {
		t.markStage(stage, DirtyUnorderedAccess)
	}
	return changed, ok
}

// SetSampler binds s at slot.
func (t *Tracker) SetSampler(stage gpucore.ShaderStage, slot int, s *resource.Sampler) (changed, ok bool) {
	changed, ok = t.Stages[stage].Samplers.Set(slot, s)
	if changed {
		t.markStage(stage, DirtySamplers)
	}
	return changed, ok
}

// SetInputLayout binds the vertex input layout.
func (t *Tracker) SetInputLayout(l *gpucore.InputLayout) bool {
	if t.InputLayout == l {
		return false
	}
	t.InputLayout = l
	t.markGraphics(DirtyPipeline)
	return true
}

// SetIndexBuffer binds the index buffer.
func (t *Tracker) SetIndexBuffer(ib IndexBuffer) bool {
	if t.IndexBuffer == ib {
		return false
	}
	t.IndexBuffer = ib
	t.markGraphics(DirtyIndexBuffer)
	return true
}

// SetVertexBuffer binds vb at slot. A stride change also dirties the
// pipeline because strides are part of the pipeline description.
func (t *Tracker) SetVertexBuffer(slot int, vb VertexBuffer) (changed, ok bool) {
	prev := t.VertexBuffers.Get(slot)
	changed, ok = t.VertexBuffers.Set(slot, vb)
	if changed {
		t.markGraphics(DirtyVertexBuffers)
		if prev.Stride != vb.Stride {
			t.markGraphics(DirtyPipeline)
		}
	}
	return changed, ok
}

// SetTopology sets the primitive topology.
func (t *Tracker) SetTopology(topology gputypes.PrimitiveTopology) bool {
	if t.Topology == topology {
		return false
	}
	t.Topology = topology
	t.markGraphics(DirtyTopology | DirtyPipeline)
	return true
}

// SetRasterizer sets the rasterizer state. Toggling the scissor test
// also dirties the viewports, from which scissors derive when disabled.
func (t *Tracker) SetRasterizer(r gpucore.RasterizerDesc) bool {
	if t.Rasterizer == r {
		return false
	}
	if t.Rasterizer.ScissorEnable != r.ScissorEnable {
		t.markGraphics(DirtyViewports)
	}
	t.Rasterizer = r
	t.markGraphics(DirtyPipeline)
	return true
}

// SetViewports replaces the viewport array.
func (t *Tracker) SetViewports(vps []gpucore.Viewport) bool {
	if slices.Equal(t.Viewports, vps) {
		return false
	}
	t.Viewports = slices.Clone(vps)
	t.markGraphics(DirtyViewports)
	return true
}

// SetScissors replaces the scissor rectangle array.
func (t *Tracker) SetScissors(rects []gpucore.Rect) bool {
	if slices.Equal(t.Scissors, rects) {
		return false
	}
	t.Scissors = slices.Clone(rects)
	t.markGraphics(DirtyViewports)
	return true
}

// SetBlend sets the blend state, blend factor and sample mask.
func (t *Tracker) SetBlend(b gpucore.BlendDesc, factor gputypes.Color, sampleMask uint32) bool {
	changed := false
	if t.Blend != b || t.SampleMask != sampleMask {
		t.Blend = b
		t.SampleMask = sampleMask
		t.markGraphics(DirtyPipeline)
		changed = true
	}
	if t.BlendFactor != factor {
		t.BlendFactor = factor
		t.markGraphics(DirtyBlendFactor)
		changed = true
	}
	return changed
}

// SetDepthStencil sets the depth-stencil state and stencil reference.
func (t *Tracker) SetDepthStencil(d gpucore.DepthStencilDesc, ref uint32) bool {
	changed := false
	if t.DepthStencil != d {
		t.DepthStencil = d
		t.markGraphics(DirtyPipeline)
		changed = true
	}
	if t.StencilRef != ref {
		t.StencilRef = ref
		t.markGraphics(DirtyStencilRef)
		changed = true
	}
	return changed
}

// SetRenderTargets binds render target views and the depth-stencil view.
// A change of the bound formats also dirties the pipeline. ok is false
// when more than MaxRenderTargets views are given.
func (t *Tracker) SetRenderTargets(rtvs []*resource.View, dsv *resource.View) (changed, ok bool) {
	if len(rtvs) > gpucore.MaxRenderTargets {
		return false, false
	}
	var next [gpucore.MaxRenderTargets]*resource.View
	copy(next[:], rtvs)
	if next == t.RenderTargets && len(rtvs) == t.NumRenderTargets && dsv == t.DepthStencilView {
		return false, true
	}
	prevFormats, prevDepth := t.OutputFormats()
	t.RenderTargets = next
	t.NumRenderTargets = len(rtvs)
	t.DepthStencilView = dsv
	t.markGraphics(DirtyOutputViews)
	if formats, depth := t.OutputFormats(); formats != prevFormats || depth != prevDepth {
		t.markGraphics(DirtyPipeline)
	}
	return true, true
}

// OutputFormats returns the formats of the bound render targets and the
// depth-stencil view.
func (t *Tracker) OutputFormats() (rt [gpucore.MaxRenderTargets]gputypes.TextureFormat, ds gputypes.TextureFormat) {
	for i := 0; i < t.NumRenderTargets; i++ {
		if v := t.RenderTargets[i]; v != nil {
			rt[i] = v.Format()
		}
	}
	if t.DepthStencilView != nil {
		ds = t.DepthStencilView.Format()
	}
	return rt, ds
}

// SampleCount returns the sample count of the first bound output view,
// or 1.
func (t *Tracker) SampleCount() uint32 {
	views := append(t.RenderTargets[:t.NumRenderTargets:t.NumRenderTargets], t.DepthStencilView)
	for _, v := range views {
		if v == nil {
			continue
		}
		if tex, ok := v.Resource().(*resource.Texture); ok {
			return tex.Desc().SampleCount
		}
	}
	return 1
}

// IsOutput reports whether r is bound as a render target or depth-stencil.
func (t *Tracker) IsOutput(r resource.Resource) bool {
	for i := 0; i < t.NumRenderTargets; i++ {
		if v := t.RenderTargets[i]; v != nil && v.Resource() == r {
			return true
		}
	}
	return t.DepthStencilView != nil && t.DepthStencilView.Resource() == r
}

// EffectiveScissors returns the scissor rectangles to emit. When the
// scissor test is disabled they are the viewport bounds.
func (t *Tracker) EffectiveScissors() []gpucore.Rect {
	if t.Rasterizer.ScissorEnable {
		return t.Scissors
	}
	rects := make([]gpucore.Rect, len(t.Viewports))
	for i, vp := range t.Viewports {
		rects[i] = gpucore.Rect{
			Left:   int32(vp.X),
			Top:    int32(vp.Y),
			Right:  int32(vp.X + vp.Width),
			Bottom: int32(vp.Y + vp.Height),
		}
	}
	return rects
}
