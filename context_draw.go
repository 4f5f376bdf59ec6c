package immediate

import (
	"fmt"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/internal/binder"
	"github.com/gogpu/immediate/internal/cmdlist"
	"github.com/gogpu/immediate/internal/pso"
	"github.com/gogpu/immediate/internal/state"
	"github.com/gogpu/immediate/resource"
)

// stages returns the bound shader of every stage.
func (c *Context) stages() pso.Stages {
	var s pso.Stages
	for i := range s {
		s[i] = c.state.Stages[i].Shader
	}
	return s
}

// graphicsReady reports whether a draw has enough state to record.
// Partially configured state is common during setup and is not an error.
func (c *Context) graphicsReady() bool {
	t := c.state
	return t.Shader(gpucore.StageVertex) != nil &&
		t.Shader(gpucore.StagePixel) != nil &&
		t.InputLayout != nil
}

// resolveGraphics looks up the root signature and pipeline of the bound
// graphics state, building them on first use.
func (c *Context) resolveGraphics() (gpucore.PipelineState, *pso.RootSignature, error) {
	rs, err := c.caches.AcquireRootSignature(gpucore.BindGraphics, c.stages())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRootSignatureCreation, err)
	}
	t := c.state
	desc := gpucore.GraphicsPipelineDesc{
		Label:            c.dev.cfg.Label + "_graphics_pipeline",
		RootSignature:    rs.Native,
		InputLayout:      t.InputLayout,
		Topology:         t.Topology,
		Rasterizer:       t.Rasterizer,
		Blend:            t.Blend,
		DepthStencil:     t.DepthStencil,
		SampleMask:       t.SampleMask,
		SampleCount:      t.SampleCount(),
		NumRenderTargets: uint32(t.NumRenderTargets),
	}
	for i := range desc.Shaders {
		desc.Shaders[i] = t.Stages[i].Shader
	}
	t.VertexBuffers.Each(func(slot int, vb state.VertexBuffer) {
		desc.VertexStrides[slot] = vb.Stride
	})
	desc.RenderTargetFormats, desc.DepthStencilFormat = t.OutputFormats()

	ps, err := c.caches.AcquireGraphics(&desc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrPipelineCreation, err)
	}
	return ps, rs, nil
}

// resolveCompute looks up the root signature and pipeline of the bound
// compute shader.
func (c *Context) resolveCompute() (gpucore.PipelineState, *pso.RootSignature, error) {
	rs, err := c.caches.AcquireRootSignature(gpucore.BindCompute, c.stages())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRootSignatureCreation, err)
	}
	ps, err := c.caches.AcquireCompute(&gpucore.ComputePipelineDesc{
		Label:         c.dev.cfg.Label + "_compute_pipeline",
		RootSignature: rs.Native,
		Shader:        c.state.Shader(gpucore.StageCompute),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrPipelineCreation, err)
	}
	return ps, rs, nil
}

// resolve refreshes the resolved pipeline of bp when its state changed.
// It reports whether the pipeline differs from the previous one.
func (c *Context) resolve(bp gpucore.BindPoint) (bool, error) {
	if !c.state.Dirty(bp).Has(state.DirtyPipeline) && c.resolved[bp] != nil {
		return false, nil
	}
	var (
		ps  gpucore.PipelineState
		rs  *pso.RootSignature
		err error
	)
	if bp == gpucore.BindCompute {
		ps, rs, err = c.resolveCompute()
	} else {
		ps, rs, err = c.resolveGraphics()
	}
	if err != nil {
		c.logger.Error("immediate: pipeline resolution failed", "bind", bp, "err", err)
		return false, err
	}
	changed := ps != c.resolved[bp]
	c.resolved[bp] = ps
	c.resolvedRoot[bp] = rs
	c.state.Clear(bp, state.DirtyPipeline)
	return changed, nil
}

// needs returns the descriptors the next bind of bp consumes from the
// windows of the recording list.
func (c *Context) needs(bp gpucore.BindPoint) (res, samp, rt, ds uint32) {
	d := c.state.Dirty(bp)
	rs := c.resolvedRoot[bp]
	if d.Has(state.DirtyResources) || c.boundRoot[bp] != rs {
		res, samp = rs.Layout.NumDescriptors, rs.Layout.NumSamplers
	}
	if bp == gpucore.BindGraphics && d.Has(state.DirtyOutputViews) {
		rt, ds = binder.OutputCount(c.state)
	}
	return res, samp, rt, ds
}

// prepareList returns the graphics list with window capacity for the
// next bind of bp. Pending copy work is submitted first. A full list is
// submitted and replaced; the fresh list has every bit dirty, so its
// needs are recomputed.
func (c *Context) prepareList(bp gpucore.BindPoint) (*cmdlist.List, error) {
	if cl := c.pools[gpucore.QueueCopy].Current(); cl != nil && cl.IsUtilized() {
		if err := c.submit(gpucore.QueueCopy, false); err != nil {
			return nil, err
		}
	}
	l, err := c.list(gpucore.QueueGraphics)
	if err != nil {
		return nil, err
	}
	if !l.IsFull(c.needs(bp)) {
		return l, nil
	}
	c.stats.NumCommandListOverflows++
	c.logger.Debug("immediate: descriptor window full", "fence", l.FenceValue(), "bind", bp)
	if err := c.submit(gpucore.QueueGraphics, false); err != nil {
		return nil, err
	}
	if l, err = c.list(gpucore.QueueGraphics); err != nil {
		return nil, err
	}
	if res, samp, rt, ds := c.needs(bp); l.IsFull(res, samp, rt, ds) {
		return nil, fmt.Errorf("%w: %d resources, %d samplers, %d render targets", ErrDescriptorCapacity, res, samp, rt)
	}
	return l, nil
}

// split submits the graphics list between two draws. Active queries pin
// the list: splitting them costs extra slots for no benefit.
func (c *Context) split(wait bool) error {
	if c.queries.Outstanding() > 0 {
		return nil
	}
	l := c.pools[gpucore.QueueGraphics].Current()
	if l == nil || !l.IsUtilized() {
		return nil
	}
	c.stats.NumCommandListSplits++
	return c.submit(gpucore.QueueGraphics, wait)
}

// bindPipeline sets the resolved pipeline and root signature of bp on l.
// A new root signature invalidates every root argument.
func (c *Context) bindPipeline(l *cmdlist.List, bp gpucore.BindPoint) {
	if ps := c.resolved[bp]; ps != c.bound {
		l.Native().SetPipelineState(ps)
		c.bound = ps
		c.stats.NumPipelineBinds++
	}
	if rs := c.resolvedRoot[bp]; rs != c.boundRoot[bp] {
		l.Native().SetRootSignature(bp, rs.Native)
		c.boundRoot[bp] = rs
		c.state.Mark(bp, state.DirtyResources)
	}
	c.state.Clear(bp, state.DirtyPipeline)
}

// bindInputs writes the resource tables of bp if any of them changed.
func (c *Context) bindInputs(l *cmdlist.List, bp gpucore.BindPoint) error {
	if !c.state.Dirty(bp).Has(state.DirtyResources) {
		return nil
	}
	res, err := c.binder.Inputs(l, c.resolvedRoot[bp].Layout, &c.state.Stages)
	if err != nil {
		return fmt.Errorf("immediate: %w", err)
	}
	c.stats.NumDescriptorWrites += uint64(res.Descriptors + res.Samplers)
	c.state.Clear(bp, state.DirtyResources)
	return nil
}

// applyFixedFunction reasserts the dirty input assembler, rasterizer and
// output merger state on l.
func (c *Context) applyFixedFunction(l *cmdlist.List) {
	t := c.state
	d := t.Dirty(gpucore.BindGraphics)
	native := l.Native()

	if d.Has(state.DirtyIndexBuffer) {
		ib := t.IndexBuffer
		if ib.Buffer == nil {
			native.SetIndexBuffer(nil)
		} else {
			l.Transition(ib.Buffer, gpucore.StateIndexBuffer)
			l.Track(ib.Buffer, resource.AccessAny)
			native.SetIndexBuffer(&gpucore.IndexBufferView{
				Buffer: ib.Buffer.Allocation(),
				Offset: uint64(ib.Offset),
				Size:   ib.Buffer.Size() - uint64(ib.Offset),
				Format: ib.Format,
			})
		}
	}
	if d.Has(state.DirtyVertexBuffers) {
		views := make([]gpucore.VertexBufferView, t.VertexBuffers.Span())
		t.VertexBuffers.Each(func(slot int, vb state.VertexBuffer) {
			if vb.Buffer == nil {
				return
			}
			l.Transition(vb.Buffer, gpucore.StateVertexAndConstantBuffer)
			l.Track(vb.Buffer, resource.AccessAny)
			views[slot] = gpucore.VertexBufferView{
				Buffer: vb.Buffer.Allocation(),
				Offset: uint64(vb.Offset),
				Size:   vb.Buffer.Size() - uint64(vb.Offset),
				Stride: vb.Stride,
			}
		})
		native.SetVertexBuffers(0, views)
	}
	if d.Has(state.DirtyTopology) {
		native.SetPrimitiveTopology(t.Topology)
	}
	if d.Has(state.DirtyViewports) {
		native.SetViewports(t.Viewports)
		native.SetScissorRects(t.EffectiveScissors())
	}
	if d.Has(state.DirtyStencilRef) {
		native.SetStencilRef(t.StencilRef)
	}
	if d.Has(state.DirtyBlendFactor) {
		native.SetBlendFactor(t.BlendFactor)
	}
	if d.Has(state.DirtyOutputViews) {
		c.binder.Outputs(l, t)
		c.stats.NumOutputViewBinds++
	}
	t.Clear(gpucore.BindGraphics, state.DirtyFixedFunction)
}

// tracePrepare logs how much of bp the next Prepare has to redo.
func (c *Context) tracePrepare(bp gpucore.BindPoint) {
	d := c.state.Dirty(bp)
	c.logger.Debug("immediate: prepare", "bind", bp, "phase", d.Phase(), "dirty", d)
}

// prepareGraphics materializes the bound graphics state on the recording
// list. It returns nil when the state is incomplete.
func (c *Context) prepareGraphics() (*cmdlist.List, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if !c.graphicsReady() {
		if c.state.NumRenderTargets > 0 || c.state.DepthStencilView != nil {
			c.logger.Warn("immediate: draw skipped, vertex shader, pixel shader or input layout unbound")
		}
		return nil, nil
	}
	c.tracePrepare(gpucore.BindGraphics)
	changed, err := c.resolve(gpucore.BindGraphics)
	if err != nil {
		return nil, err
	}
	if changed && c.policy == SubmitPerPipeline {
		if err := c.split(false); err != nil {
			return nil, err
		}
	}
	l, err := c.prepareList(gpucore.BindGraphics)
	if err != nil {
		return nil, err
	}
	c.bindPipeline(l, gpucore.BindGraphics)
	c.applyFixedFunction(l)
	if err := c.bindInputs(l, gpucore.BindGraphics); err != nil {
		return nil, err
	}
	return l, nil
}

// prepareCompute materializes the bound compute state on the recording
// list. It returns nil when no compute shader is bound.
func (c *Context) prepareCompute() (*cmdlist.List, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if c.state.Shader(gpucore.StageCompute) == nil {
		return nil, nil
	}
	c.tracePrepare(gpucore.BindCompute)
	changed, err := c.resolve(gpucore.BindCompute)
	if err != nil {
		return nil, err
	}
	if changed && c.policy == SubmitPerPipeline {
		if err := c.split(false); err != nil {
			return nil, err
		}
	}
	l, err := c.prepareList(gpucore.BindCompute)
	if err != nil {
		return nil, err
	}
	c.bindPipeline(l, gpucore.BindCompute)
	if err := c.bindInputs(l, gpucore.BindCompute); err != nil {
		return nil, err
	}
	return l, nil
}

// afterDraw applies the per-draw submission policies.
func (c *Context) afterDraw(l *cmdlist.List) error {
	l.MarkUtilized()
	switch c.policy {
	case SubmitPerDraw:
		return c.split(false)
	case SubmitSync:
		return c.split(true)
	}
	return nil
}

// Draw draws vertexCount vertices starting at startVertex.
func (c *Context) Draw(vertexCount, startVertex uint32) error {
	return c.DrawInstanced(vertexCount, 1, startVertex, 0)
}

// DrawInstanced draws instanceCount instances of a non-indexed primitive.
func (c *Context) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) error {
	l, err := c.prepareGraphics()
	if l == nil || err != nil {
		return err
	}
	l.Native().DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance)
	c.stats.NumDraws++
	return c.afterDraw(l)
}

// DrawIndexed draws indexCount indices starting at startIndex. Without a
// bound index buffer the call records nothing.
func (c *Context) DrawIndexed(indexCount, startIndex uint32, baseVertex int32) error {
	return c.DrawIndexedInstanced(indexCount, 1, startIndex, baseVertex, 0)
}

// DrawIndexedInstanced draws instanceCount instances of an indexed
// primitive.
func (c *Context) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) error {
	if c.state.IndexBuffer.Buffer == nil {
		return nil
	}
	l, err := c.prepareGraphics()
	if l == nil || err != nil {
		return err
	}
	l.Native().DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex, baseVertex, startInstance)
	c.stats.NumDraws++
	return c.afterDraw(l)
}

// Dispatch runs x*y*z thread groups of the bound compute shader.
func (c *Context) Dispatch(x, y, z uint32) error {
	l, err := c.prepareCompute()
	if l == nil || err != nil {
		return err
	}
	l.Native().Dispatch(x, y, z)
	c.stats.NumDispatches++
	return c.afterDraw(l)
}
