package immediate

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/internal/state"
	"github.com/gogpu/immediate/resource"
)

// Setters record bound state only. A value equal to the bound one raises
// no dirty bit. Out-of-range slots panic with debug validation and are
// ignored otherwise.

func (c *Context) validStage(op string, stage gpucore.ShaderStage) bool {
	if stage >= gpucore.ShaderStageCount {
		c.invalid("%s: stage %d", op, stage)
		return false
	}
	return true
}

// SetShader binds sh to stage. nil unbinds.
func (c *Context) SetShader(stage gpucore.ShaderStage, sh *gpucore.Shader) {
	if !c.validStage("SetShader", stage) {
		return
	}
	if sh != nil && sh.Stage != stage {
		c.invalid("SetShader: %s shader %q bound to %s", sh.Stage, sh.Label, stage)
		return
	}
	if c.state.SetShader(stage, sh) {
		c.logger.Debug("immediate: shader bound", "stage", stage, "hash", sh.Hash())
	}
}

// SetConstantBuffer binds size bytes of b at offset to a constant buffer
// slot of stage. A zero size binds the rest of the buffer.
func (c *Context) SetConstantBuffer(stage gpucore.ShaderStage, slot int, b *resource.Buffer, offset, size uint64) {
	if !c.validStage("SetConstantBuffer", stage) {
		return
	}
	cb := state.ConstantBuffer{Buffer: b, Offset: offset, Size: size}
	if b == nil {
		cb = state.ConstantBuffer{}
	} else if !inRange(b.Size(), offset, size) {
		c.invalid("SetConstantBuffer: %d bytes at %d of a %d byte buffer", size, offset, b.Size())
		return
	}
	if _, ok := c.state.SetConstantBuffer(stage, slot, cb); !ok {
		c.invalid("SetConstantBuffer: %s slot %d", stage, slot)
	}
}

// SetShaderResource binds a shader resource view to a slot of stage.
func (c *Context) SetShaderResource(stage gpucore.ShaderStage, slot int, v *resource.View) {
	if !c.validStage("SetShaderResource", stage) {
		return
	}
	if v != nil && v.Kind() != gpucore.ViewShaderResource {
		c.invalid("SetShaderResource: %s view", v.Kind())
		return
	}
	if _, ok := c.state.SetShaderResource(stage, slot, v); !ok {
		c.invalid("SetShaderResource: %s slot %d", stage, slot)
	}
}

// SetUnorderedAccessView binds an unordered access view to a slot of
// stage.
func (c *Context) SetUnorderedAccessView(stage gpucore.ShaderStage, slot int, v *resource.View) {
	if !c.validStage("SetUnorderedAccessView", stage) {
		return
	}
	if v != nil && v.Kind() != gpucore.ViewUnorderedAccess {
		c.invalid("SetUnorderedAccessView: %s view", v.Kind())
		return
	}
	if _, ok := c.state.SetUnorderedAccess(stage, slot, v); !ok {
		c.invalid("SetUnorderedAccessView: %s slot %d", stage, slot)
	}
}

// SetSampler binds a sampler to a slot of stage.
func (c *Context) SetSampler(stage gpucore.ShaderStage, slot int, s *resource.Sampler) {
	if !c.validStage("SetSampler", stage) {
		return
	}
	if _, ok := c.state.SetSampler(stage, slot, s); !ok {
		c.invalid("SetSampler: %s slot %d", stage, slot)
	}
}

// SetInputLayout binds the vertex input layout.
func (c *Context) SetInputLayout(l *gpucore.InputLayout) {
	c.state.SetInputLayout(l)
}

// SetVertexBuffer binds b to a vertex buffer slot. nil unbinds.
func (c *Context) SetVertexBuffer(slot int, b *resource.Buffer, stride, offset uint32) {
	vb := state.VertexBuffer{Buffer: b, Stride: stride, Offset: offset}
	if b == nil {
		vb = state.VertexBuffer{}
	} else if uint64(offset) > b.Size() {
		c.invalid("SetVertexBuffer: offset %d past a %d byte buffer", offset, b.Size())
		return
	}
	if _, ok := c.state.SetVertexBuffer(slot, vb); !ok {
		c.invalid("SetVertexBuffer: slot %d", slot)
	}
}

// SetIndexBuffer binds the index buffer. nil unbinds.
func (c *Context) SetIndexBuffer(b *resource.Buffer, format gputypes.IndexFormat, offset uint32) {
	ib := state.IndexBuffer{Buffer: b, Format: format, Offset: offset}
	if b == nil {
		ib = state.IndexBuffer{}
	} else if uint64(offset) > b.Size() {
		c.invalid("SetIndexBuffer: offset %d past a %d byte buffer", offset, b.Size())
		return
	}
	c.state.SetIndexBuffer(ib)
}

// SetPrimitiveTopology sets the primitive topology.
func (c *Context) SetPrimitiveTopology(t gputypes.PrimitiveTopology) {
	c.state.SetTopology(t)
}

// SetViewports replaces the bound viewports.
func (c *Context) SetViewports(vps ...gpucore.Viewport) {
	if len(vps) > gpucore.MaxViewports {
		c.invalid("SetViewports: %d viewports", len(vps))
		return
	}
	c.state.SetViewports(vps)
}

// SetScissorRects replaces the bound scissor rectangles. They apply only
// while the rasterizer state enables the scissor test.
func (c *Context) SetScissorRects(rects ...gpucore.Rect) {
	if len(rects) > gpucore.MaxViewports {
		c.invalid("SetScissorRects: %d rectangles", len(rects))
		return
	}
	c.state.SetScissors(rects)
}

// SetRenderTargets binds the output views. Entries of rtvs may be nil.
func (c *Context) SetRenderTargets(rtvs []*resource.View, dsv *resource.View) {
	for i, v := range rtvs {
		if v != nil && v.Kind() != gpucore.ViewRenderTarget {
			c.invalid("SetRenderTargets: target %d is a %s view", i, v.Kind())
			return
		}
	}
	if dsv != nil && dsv.Kind() != gpucore.ViewDepthStencil {
		c.invalid("SetRenderTargets: depth-stencil is a %s view", dsv.Kind())
		return
	}
	if _, ok := c.state.SetRenderTargets(rtvs, dsv); !ok {
		c.invalid("SetRenderTargets: %d targets", len(rtvs))
	}
}

// SetRasterizerState binds a rasterizer state. nil restores the default.
func (c *Context) SetRasterizerState(s *RasterizerState) {
	c.state.SetRasterizer(s.Desc())
}

// SetBlendState binds a blend state, the blend factor and the sample
// mask. nil restores the default blend state.
func (c *Context) SetBlendState(s *BlendState, factor gputypes.Color, sampleMask uint32) {
	c.state.SetBlend(s.Desc(), factor, sampleMask)
}

// SetDepthStencilState binds a depth-stencil state and the stencil
// reference. nil restores the default.
func (c *Context) SetDepthStencilState(s *DepthStencilState, stencilRef uint32) {
	c.state.SetDepthStencil(s.Desc(), stencilRef)
}

// Getters return exactly what the last setter bound.

// Shader returns the shader bound to stage.
func (c *Context) Shader(stage gpucore.ShaderStage) *gpucore.Shader {
	if stage >= gpucore.ShaderStageCount {
		return nil
	}
	return c.state.Shader(stage)
}

// ConstantBuffer returns the buffer, offset and size bound to a constant
// buffer slot of stage.
func (c *Context) ConstantBuffer(stage gpucore.ShaderStage, slot int) (*resource.Buffer, uint64, uint64) {
	if stage >= gpucore.ShaderStageCount {
		return nil, 0, 0
	}
	cb := c.state.Stages[stage].ConstantBuffers.Get(slot)
	return cb.Buffer, cb.Offset, cb.Size
}

// ShaderResource returns the view bound to a shader resource slot.
func (c *Context) ShaderResource(stage gpucore.ShaderStage, slot int) *resource.View {
	if stage >= gpucore.ShaderStageCount {
		return nil
	}
	return c.state.Stages[stage].ShaderResources.Get(slot)
}

// Sampler returns the sampler bound to a slot of stage.
func (c *Context) Sampler(stage gpucore.ShaderStage, slot int) *resource.Sampler {
	if stage >= gpucore.ShaderStageCount {
		return nil
	}
	return c.state.Stages[stage].Samplers.Get(slot)
}

// VertexBuffer returns the buffer, stride and offset of a vertex slot.
func (c *Context) VertexBuffer(slot int) (*resource.Buffer, uint32, uint32) {
	vb := c.state.VertexBuffers.Get(slot)
	return vb.Buffer, vb.Stride, vb.Offset
}

// Viewports returns the bound viewports.
func (c *Context) Viewports() []gpucore.Viewport {
	return append([]gpucore.Viewport(nil), c.state.Viewports...)
}

// RenderTargets returns the bound output views.
func (c *Context) RenderTargets() ([]*resource.View, *resource.View) {
	rtvs := append([]*resource.View(nil), c.state.RenderTargets[:c.state.NumRenderTargets]...)
	return rtvs, c.state.DepthStencilView
}
