//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/immediate/gpucore"
)

// RootSignature maps a root signature onto a pipeline layout. Root
// parameter i is bind group i; a descriptor at table offset n is binding n
// of its group, and a root constant buffer is binding 0 of its group.
type RootSignature struct {
	dev    *Device
	desc   gpucore.RootSignatureDesc
	groups []hal.BindGroupLayout
	layout hal.PipelineLayout

	// kinds holds the descriptor kind of every binding of every group.
	kinds [][]gpucore.ViewKind
}

// Desc implements gpucore.RootSignature.
func (rs *RootSignature) Desc() *gpucore.RootSignatureDesc { return &rs.desc }

// Destroy implements gpucore.Destroyer.
func (rs *RootSignature) Destroy() {
	if rs.layout != nil {
		rs.dev.device.DestroyPipelineLayout(rs.layout)
		rs.layout = nil
	}
	for _, g := range rs.groups {
		rs.dev.device.DestroyBindGroupLayout(g)
	}
	rs.groups = nil
}

// CreateRootSignature implements gpucore.Device.
func (d *Device) CreateRootSignature(desc *gpucore.RootSignatureDesc) (gpucore.RootSignature, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	rs := &RootSignature{dev: d, desc: *desc}
	rs.desc.Parameters = append([]gpucore.RootParameter(nil), desc.Parameters...)

	for i := range rs.desc.Parameters {
		p := &rs.desc.Parameters[i]
		entries, kinds := layoutEntries(desc.BindPoint, p)
		g, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s_param%d", desc.Label, i),
			Entries: entries,
		})
		if err != nil {
			rs.Destroy()
			return nil, fmt.Errorf("native: root signature %q parameter %d: %w", desc.Label, i, err)
		}
		rs.groups = append(rs.groups, g)
		rs.kinds = append(rs.kinds, kinds)
	}

	layout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: rs.groups,
	})
	if err != nil {
		rs.Destroy()
		return nil, fmt.Errorf("native: pipeline layout %q: %w", desc.Label, err)
	}
	rs.layout = layout
	return rs, nil
}

// layoutEntries returns the bind group layout entries of one root
// parameter and the descriptor kind at each binding.
func layoutEntries(bind gpucore.BindPoint, p *gpucore.RootParameter) ([]gputypes.BindGroupLayoutEntry, []gpucore.ViewKind) {
	if p.Kind == gpucore.RootConstantBuffer {
		return []gputypes.BindGroupLayoutEntry{
			layoutEntry(0, gpucore.ViewConstantBuffer, visibility(bind, p.Stage)),
		}, []gpucore.ViewKind{gpucore.ViewConstantBuffer}
	}
	kinds := make([]gpucore.ViewKind, p.NumDescriptors())
	var entries []gputypes.BindGroupLayoutEntry
	for _, r := range p.Ranges {
		vis := visibility(bind, r.Stage)
		for i := range r.Count {
			binding := r.Offset + i
			kinds[binding] = r.Kind
			entries = append(entries, layoutEntry(binding, r.Kind, vis))
		}
	}
	return entries, kinds
}

func layoutEntry(binding uint32, kind gpucore.ViewKind, vis gputypes.ShaderStage) gputypes.BindGroupLayoutEntry {
	e := gputypes.BindGroupLayoutEntry{Binding: binding, Visibility: vis}
	switch kind {
	case gpucore.ViewConstantBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case gpucore.ViewUnorderedAccess:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
	case gpucore.ViewSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	default:
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	}
	return e
}

// visibility returns the WebGPU stages that see a binding of stage. Stages
// without a WebGPU equivalent are widened to the whole bind point.
func visibility(bind gpucore.BindPoint, stage gpucore.ShaderStage) gputypes.ShaderStage {
	if bind == gpucore.BindCompute {
		return gputypes.ShaderStageCompute
	}
	if v := stage.Visibility(); v != 0 {
		return v
	}
	return gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
}

// PipelineState is a compiled render or compute pipeline.
type PipelineState struct {
	dev     *Device
	bind    gpucore.BindPoint
	root    *RootSignature
	render  hal.RenderPipeline
	compute hal.ComputePipeline
	modules []hal.ShaderModule

	// vertexSlots is the number of vertex buffer layouts of a render pipeline.
	vertexSlots uint32
	scissor     bool
}

// BindPoint implements gpucore.PipelineState.
func (ps *PipelineState) BindPoint() gpucore.BindPoint { return ps.bind }

// Destroy implements gpucore.Destroyer.
func (ps *PipelineState) Destroy() {
	if ps.render != nil {
		ps.dev.device.DestroyRenderPipeline(ps.render)
		ps.render = nil
	}
	if ps.compute != nil {
		ps.dev.device.DestroyComputePipeline(ps.compute)
		ps.compute = nil
	}
	for _, m := range ps.modules {
		ps.dev.device.DestroyShaderModule(m)
	}
	ps.modules = nil
}

func (ps *PipelineState) module(s *gpucore.Shader) (hal.ShaderModule, error) {
	if len(s.Code) == 0 || len(s.Code)%4 != 0 {
		return nil, fmt.Errorf("native: shader %q is not SPIR-V", s.Label)
	}
	m, err := ps.dev.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: s.Label,
		Source: hal.ShaderSource{
			SPIRV: s.Words(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("native: shader module %q: %w", s.Label, err)
	}
	ps.modules = append(ps.modules, m)
	return m, nil
}

// CreateGraphicsPipeline implements gpucore.Device.
func (d *Device) CreateGraphicsPipeline(desc *gpucore.GraphicsPipelineDesc) (gpucore.PipelineState, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	root, ok := desc.RootSignature.(*RootSignature)
	if !ok {
		return nil, fmt.Errorf("%w: root signature %T", ErrForeignObject, desc.RootSignature)
	}
	vs := desc.Shaders[gpucore.StageVertex]
	if vs == nil {
		return nil, fmt.Errorf("native: pipeline %q has no vertex shader", desc.Label)
	}
	for _, st := range []gpucore.ShaderStage{gpucore.StageHull, gpucore.StageDomain, gpucore.StageGeometry} {
		if desc.Shaders[st] != nil {
			return nil, fmt.Errorf("native: %s shaders: %w", st, gpucore.ErrUnsupported)
		}
	}
	if desc.Rasterizer.Fill == gpucore.FillWireframe {
		d.logger.Warn("native: wireframe fill rendered solid", "pipeline", desc.Label)
	}
	if desc.SampleMask != 0 && desc.SampleMask != 0xFFFFFFFF {
		d.logger.Warn("native: sample mask ignored", "pipeline", desc.Label, "mask", desc.SampleMask)
	}

	ps := &PipelineState{
		dev:     d,
		bind:    gpucore.BindGraphics,
		root:    root,
		scissor: desc.Rasterizer.ScissorEnable,
	}
	vsModule, err := ps.module(vs)
	if err != nil {
		ps.Destroy()
		return nil, err
	}
	buffers := vertexLayouts(desc)
	ps.vertexSlots = uint32(len(buffers))

	rp := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: root.layout,
		Vertex: hal.VertexState{
			Module:     vsModule,
			EntryPoint: vs.EntryPoint,
			Buffers:    buffers,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  desc.Topology,
			CullMode:  desc.Rasterizer.CullMode,
			FrontFace: desc.Rasterizer.FrontFace,
		},
		Multisample: gputypes.MultisampleState{
			Count: max(desc.SampleCount, 1),
			Mask:  0xFFFFFFFF,
		},
	}
	if psh := desc.Shaders[gpucore.StagePixel]; psh != nil {
		psModule, err := ps.module(psh)
		if err != nil {
			ps.Destroy()
			return nil, err
		}
		rp.Fragment = &hal.FragmentState{
			Module:     psModule,
			EntryPoint: psh.EntryPoint,
			Targets:    colorTargets(desc),
		}
	}
	if desc.DepthStencilFormat != 0 {
		rp.DepthStencil = depthStencilState(desc)
	}

	pipeline, err := d.device.CreateRenderPipeline(rp)
	if err != nil {
		ps.Destroy()
		return nil, fmt.Errorf("native: render pipeline %q: %w", desc.Label, err)
	}
	ps.render = pipeline
	return ps, nil
}

// CreateComputePipeline implements gpucore.Device.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.PipelineState, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	root, ok := desc.RootSignature.(*RootSignature)
	if !ok {
		return nil, fmt.Errorf("%w: root signature %T", ErrForeignObject, desc.RootSignature)
	}
	if desc.Shader == nil {
		return nil, fmt.Errorf("native: pipeline %q has no compute shader", desc.Label)
	}
	ps := &PipelineState{dev: d, bind: gpucore.BindCompute, root: root}
	module, err := ps.module(desc.Shader)
	if err != nil {
		ps.Destroy()
		return nil, err
	}
	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: root.layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: desc.Shader.EntryPoint,
		},
	})
	if err != nil {
		ps.Destroy()
		return nil, fmt.Errorf("native: compute pipeline %q: %w", desc.Label, err)
	}
	ps.compute = pipeline
	return ps, nil
}

// vertexLayouts groups the input elements by slot. Slots up to the highest
// one used get a layout so that slot numbers equal buffer indices.
func vertexLayouts(desc *gpucore.GraphicsPipelineDesc) []gputypes.VertexBufferLayout {
	if desc.InputLayout == nil || len(desc.InputLayout.Elements) == 0 {
		return nil
	}
	var slots uint32
	for _, e := range desc.InputLayout.Elements {
		slots = max(slots, e.Slot+1)
	}
	layouts := make([]gputypes.VertexBufferLayout, slots)
	for i := range layouts {
		layouts[i] = gputypes.VertexBufferLayout{
			ArrayStride: uint64(desc.VertexStrides[i]),
			StepMode:    gputypes.VertexStepModeVertex,
		}
	}
	for _, e := range desc.InputLayout.Elements {
		l := &layouts[e.Slot]
		if e.PerInstance {
			l.StepMode = gputypes.VertexStepModeInstance
		}
		l.Attributes = append(l.Attributes, gputypes.VertexAttribute{
			Format:         e.Format,
			Offset:         uint64(e.Offset),
			ShaderLocation: e.Location,
		})
	}
	return layouts
}

func colorTargets(desc *gpucore.GraphicsPipelineDesc) []gputypes.ColorTargetState {
	targets := make([]gputypes.ColorTargetState, desc.NumRenderTargets)
	for i := range targets {
		b := desc.Blend.Target(i)
		targets[i] = gputypes.ColorTargetState{
			Format:    desc.RenderTargetFormats[i],
			WriteMask: b.WriteMask,
		}
		if b.Enable {
			targets[i].Blend = &gputypes.BlendState{
				Color: gputypes.BlendComponent{SrcFactor: b.SrcColor, DstFactor: b.DstColor, Operation: b.ColorOp},
				Alpha: gputypes.BlendComponent{SrcFactor: b.SrcAlpha, DstFactor: b.DstAlpha, Operation: b.AlphaOp},
			}
		}
	}
	return targets
}

func depthStencilState(desc *gpucore.GraphicsPipelineDesc) *hal.DepthStencilState {
	ds := desc.DepthStencil
	state := &hal.DepthStencilState{
		Format:            desc.DepthStencilFormat,
		DepthWriteEnabled: ds.DepthEnable && ds.DepthWrite,
		DepthCompare:      gputypes.CompareFunctionAlways,
		StencilFront:      stencilFace(gpucore.StencilFace{Func: gputypes.CompareFunctionAlways}),
		StencilBack:       stencilFace(gpucore.StencilFace{Func: gputypes.CompareFunctionAlways}),
	}
	if ds.DepthEnable {
		state.DepthCompare = ds.DepthFunc
	}
	if ds.StencilEnable {
		state.StencilFront = stencilFace(ds.Front)
		state.StencilBack = stencilFace(ds.Back)
		state.StencilReadMask = uint32(ds.StencilReadMask)
		state.StencilWriteMask = uint32(ds.StencilWriteMask)
	}
	return state
}

func stencilFace(f gpucore.StencilFace) hal.StencilFaceState {
	return hal.StencilFaceState{
		Compare:     f.Func,
		FailOp:      stencilOp(f.FailOp),
		DepthFailOp: stencilOp(f.DepthFailOp),
		PassOp:      stencilOp(f.PassOp),
	}
}

func stencilOp(op gpucore.StencilOp) hal.StencilOperation {
	switch op {
	case gpucore.StencilZero:
		return hal.StencilOperationZero
	case gpucore.StencilReplace:
		return hal.StencilOperationReplace
	case gpucore.StencilIncrSat:
		return hal.StencilOperationIncrementClamp
	case gpucore.StencilDecrSat:
		return hal.StencilOperationDecrementClamp
	case gpucore.StencilInvert:
		return hal.StencilOperationInvert
	case gpucore.StencilIncr:
		return hal.StencilOperationIncrementWrap
	case gpucore.StencilDecr:
		return hal.StencilOperationDecrementWrap
	default:
		return hal.StencilOperationKeep
	}
}

// === Type Conversion Helpers ===

// convertBufferUsage converts gpucore.BufferUsage to HAL usage. Pure
// readback buffers keep map-read; every other buffer drops map usage and
// gains copy usage so that maps can be emulated with queue transfers.
func convertBufferUsage(usage gpucore.BufferUsage) gputypes.BufferUsage {
	const readback = gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst | gpucore.BufferUsageQueryResolve
	if usage&gpucore.BufferUsageMapRead != 0 && usage&^readback == 0 {
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	}

	result := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	if usage&gpucore.BufferUsageIndex != 0 {
		result |= gputypes.BufferUsageIndex
	}
	if usage&gpucore.BufferUsageVertex != 0 {
		result |= gputypes.BufferUsageVertex
	}
	if usage&gpucore.BufferUsageUniform != 0 {
		result |= gputypes.BufferUsageUniform
	}
	if usage&gpucore.BufferUsageStorage != 0 {
		result |= gputypes.BufferUsageStorage
	}
	return result
}

// convertTextureUsage converts gpucore.TextureUsage to HAL usage. Copies
// are always allowed.
func convertTextureUsage(usage gpucore.TextureUsage) gputypes.TextureUsage {
	result := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	if usage&gpucore.TextureUsageSampled != 0 {
		result |= gputypes.TextureUsageTextureBinding
	}
	if usage&gpucore.TextureUsageStorage != 0 {
		result |= gputypes.TextureUsageStorageBinding
	}
	if usage&(gpucore.TextureUsageRenderTarget|gpucore.TextureUsageDepthStencil) != 0 {
		result |= gputypes.TextureUsageRenderAttachment
	}
	return result
}

// textureUsageForState returns the HAL usage a texture has in state s.
func textureUsageForState(s gpucore.ResourceState) gputypes.TextureUsage {
	switch {
	case s&(gpucore.StateRenderTarget|gpucore.StateDepthWrite|gpucore.StateDepthRead) != 0:
		return gputypes.TextureUsageRenderAttachment
	case s&gpucore.StateUnorderedAccess != 0:
		return gputypes.TextureUsageStorageBinding
	case s&gpucore.StateCopyDest != 0:
		return gputypes.TextureUsageCopyDst
	case s&gpucore.StateCopySource != 0:
		return gputypes.TextureUsageCopySrc
	default:
		return gputypes.TextureUsageTextureBinding
	}
}
