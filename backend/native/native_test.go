//go:build !nogpu

package native

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/immediate/gpucore"
)

// createNoopDevice creates a noop HAL device and wraps it.
func createNoopDevice(t *testing.T) *Device {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	d, err := New(openDev.Device, openDev.Queue)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		d.Destroy()
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return d
}

// spirv is a stand-in module; the noop device does not parse it.
var spirv = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}

func TestNewRejectsNil(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil device")
	}
}

type halProvider struct {
	device hal.Device
	queue  hal.Queue
}

func (p *halProvider) Device() gpucontext.Device             { return nil }
func (p *halProvider) Queue() gpucontext.Queue               { return nil }
func (p *halProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *halProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (p *halProvider) HalDevice() any                        { return p.device }
func (p *halProvider) HalQueue() any                         { return p.queue }

type plainProvider struct{ halProvider }

// HalDevice shadows the embedded method with one of the wrong type.
func (p *plainProvider) HalDevice() any { return "not a device" }

func TestNewFromProvider(t *testing.T) {
	d := createNoopDevice(t)
	device, queue := d.HAL()

	got, err := NewFromProvider(&halProvider{device: device, queue: queue})
	if err != nil {
		t.Fatalf("NewFromProvider failed: %v", err)
	}
	if dev, _ := got.HAL(); dev != device {
		t.Error("provider device not adopted")
	}

	if _, err := NewFromProvider(&plainProvider{}); err == nil {
		t.Error("expected error for provider without HAL device")
	}
	if _, err := NewFromProvider(nil); err == nil {
		t.Error("expected error for nil provider")
	}
}

func TestConvertBufferUsage(t *testing.T) {
	tests := []struct {
		name  string
		usage gpucore.BufferUsage
		want  gputypes.BufferUsage
	}{
		{"readback", gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst,
			gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst},
		{"query resolve", gpucore.BufferUsageMapRead | gpucore.BufferUsageQueryResolve,
			gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst},
		{"dynamic vertex", gpucore.BufferUsageMapWrite | gpucore.BufferUsageVertex,
			gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageVertex},
		{"readable storage", gpucore.BufferUsageMapRead | gpucore.BufferUsageStorage,
			gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageStorage},
		{"constant", gpucore.BufferUsageUniform,
			gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageUniform},
		{"index", gpucore.BufferUsageIndex,
			gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := convertBufferUsage(tt.usage); got != tt.want {
				t.Errorf("convertBufferUsage(%v) = %v, want %v", tt.usage, got, tt.want)
			}
		})
	}
}

func TestConvertTextureUsage(t *testing.T) {
	copyUsage := gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	tests := []struct {
		usage gpucore.TextureUsage
		want  gputypes.TextureUsage
	}{
		{0, copyUsage},
		{gpucore.TextureUsageSampled, copyUsage | gputypes.TextureUsageTextureBinding},
		{gpucore.TextureUsageStorage, copyUsage | gputypes.TextureUsageStorageBinding},
		{gpucore.TextureUsageRenderTarget | gpucore.TextureUsageSampled,
			copyUsage | gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding},
		{gpucore.TextureUsageDepthStencil, copyUsage | gputypes.TextureUsageRenderAttachment},
	}
	for _, tt := range tests {
		if got := convertTextureUsage(tt.usage); got != tt.want {
			t.Errorf("convertTextureUsage(%v) = %v, want %v", tt.usage, got, tt.want)
		}
	}
}

func TestTextureUsageForState(t *testing.T) {
	tests := []struct {
		state gpucore.ResourceState
		want  gputypes.TextureUsage
	}{
		{gpucore.StateRenderTarget, gputypes.TextureUsageRenderAttachment},
		{gpucore.StateDepthRead, gputypes.TextureUsageRenderAttachment},
		{gpucore.StateUnorderedAccess, gputypes.TextureUsageStorageBinding},
		{gpucore.StateCopyDest, gputypes.TextureUsageCopyDst},
		{gpucore.StateCopySource, gputypes.TextureUsageCopySrc},
		{gpucore.StatePixelShaderResource, gputypes.TextureUsageTextureBinding},
		{gpucore.StateCommon, gputypes.TextureUsageTextureBinding},
	}
	for _, tt := range tests {
		if got := textureUsageForState(tt.state); got != tt.want {
			t.Errorf("textureUsageForState(%v) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestStencilOp(t *testing.T) {
	tests := []struct {
		op   gpucore.StencilOp
		want hal.StencilOperation
	}{
		{gpucore.StencilKeep, hal.StencilOperationKeep},
		{gpucore.StencilZero, hal.StencilOperationZero},
		{gpucore.StencilReplace, hal.StencilOperationReplace},
		{gpucore.StencilIncrSat, hal.StencilOperationIncrementClamp},
		{gpucore.StencilDecrSat, hal.StencilOperationDecrementClamp},
		{gpucore.StencilInvert, hal.StencilOperationInvert},
		{gpucore.StencilIncr, hal.StencilOperationIncrementWrap},
		{gpucore.StencilDecr, hal.StencilOperationDecrementWrap},
	}
	for _, tt := range tests {
		if got := stencilOp(tt.op); got != tt.want {
			t.Errorf("stencilOp(%d) = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestVertexLayouts(t *testing.T) {
	desc := &gpucore.GraphicsPipelineDesc{
		InputLayout: gpucore.NewInputLayout([]gpucore.InputElement{
			{SemanticName: "POSITION", Format: gputypes.VertexFormatFloat32x3, Slot: 0, Offset: 0, Location: 0},
			{SemanticName: "TEXCOORD", Format: gputypes.VertexFormatFloat32x2, Slot: 0, Offset: 12, Location: 1},
			{SemanticName: "INSTANCE", Format: gputypes.VertexFormatFloat32x4, Slot: 2, PerInstance: true, Location: 2},
		}),
	}
	desc.VertexStrides[0] = 20
	desc.VertexStrides[2] = 16

	layouts := vertexLayouts(desc)
	if len(layouts) != 3 {
		t.Fatalf("got %d layouts, want 3", len(layouts))
	}
	if layouts[0].ArrayStride != 20 || len(layouts[0].Attributes) != 2 {
		t.Errorf("slot 0 = stride %d with %d attributes", layouts[0].ArrayStride, len(layouts[0].Attributes))
	}
	if layouts[0].Attributes[1].Offset != 12 || layouts[0].Attributes[1].ShaderLocation != 1 {
		t.Errorf("slot 0 attribute 1 = %+v", layouts[0].Attributes[1])
	}
	if len(layouts[1].Attributes) != 0 {
		t.Error("unused slot 1 should have no attributes")
	}
	if layouts[2].StepMode != gputypes.VertexStepModeInstance {
		t.Error("slot 2 should step per instance")
	}
	if vertexLayouts(&gpucore.GraphicsPipelineDesc{}) != nil {
		t.Error("no input layout should produce no buffers")
	}
}

func TestLayoutEntries(t *testing.T) {
	p := &gpucore.RootParameter{
		Kind: gpucore.RootTable,
		Heap: gpucore.HeapResource,
		Ranges: []gpucore.DescriptorRange{
			{Kind: gpucore.ViewConstantBuffer, Stage: gpucore.StageVertex, Count: 1, Offset: 0},
			{Kind: gpucore.ViewShaderResource, Stage: gpucore.StagePixel, Count: 2, Offset: 2},
		},
	}
	entries, kinds := layoutEntries(gpucore.BindGraphics, p)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	wantKinds := []gpucore.ViewKind{gpucore.ViewConstantBuffer, gpucore.ViewNone, gpucore.ViewShaderResource, gpucore.ViewShaderResource}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("got %d kinds, want %d", len(kinds), len(wantKinds))
	}
	for i, k := range wantKinds {
		if kinds[i] != k {
			t.Errorf("kinds[%d] = %v, want %v", i, kinds[i], k)
		}
	}
	if entries[0].Buffer == nil || entries[0].Visibility != gputypes.ShaderStageVertex {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Binding != 2 || entries[1].Texture == nil || entries[1].Visibility != gputypes.ShaderStageFragment {
		t.Errorf("entry 1 = %+v", entries[1])
	}

	cbv := &gpucore.RootParameter{Kind: gpucore.RootConstantBuffer, Stage: gpucore.StageGeometry}
	entries, _ = layoutEntries(gpucore.BindGraphics, cbv)
	if len(entries) != 1 || entries[0].Visibility != gputypes.ShaderStageVertex|gputypes.ShaderStageFragment {
		t.Errorf("root constant buffer entries = %+v", entries)
	}
	entries, _ = layoutEntries(gpucore.BindCompute, cbv)
	if entries[0].Visibility != gputypes.ShaderStageCompute {
		t.Errorf("compute visibility = %v", entries[0].Visibility)
	}
}

func TestClampRect(t *testing.T) {
	tests := []struct {
		name       string
		r          gpucore.Rect
		x, y, w, h uint32
	}{
		{"inside", gpucore.Rect{Left: 10, Top: 20, Right: 30, Bottom: 60}, 10, 20, 20, 40},
		{"negative origin", gpucore.Rect{Left: -5, Top: -5, Right: 10, Bottom: 10}, 0, 0, 10, 10},
		{"past extent", gpucore.Rect{Left: 50, Top: 50, Right: 500, Bottom: 500}, 50, 50, 50, 50},
		{"inverted", gpucore.Rect{Left: 40, Top: 40, Right: 10, Bottom: 10}, 40, 40, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, w, h := clampRect(tt.r, 100, 100)
			if x != tt.x || y != tt.y || w != tt.w || h != tt.h {
				t.Errorf("clampRect = (%d,%d,%d,%d), want (%d,%d,%d,%d)", x, y, w, h, tt.x, tt.y, tt.w, tt.h)
			}
		})
	}
}

func TestBufferMap(t *testing.T) {
	d := createNoopDevice(t)

	gpuOnly, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "vb", Size: 64, Usage: gpucore.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer gpuOnly.(*Buffer).Destroy()
	if _, err := gpuOnly.Map(); !errors.Is(err, gpucore.ErrNotHostVisible) {
		t.Errorf("Map of GPU-only buffer = %v, want ErrNotHostVisible", err)
	}

	upload, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "upload", Size: 30, Usage: gpucore.BufferUsageMapWrite | gpucore.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer upload.(*Buffer).Destroy()
	data, err := upload.Map()
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if len(data) != 30 {
		t.Errorf("mapped %d bytes, want 30", len(data))
	}
	data[0] = 0xAB
	upload.Unmap()

	again, err := upload.Map()
	if err != nil {
		t.Fatalf("second Map failed: %v", err)
	}
	if again[0] != 0xAB {
		t.Error("write-only mapping lost CPU contents")
	}
	upload.Unmap()

	if gpuOnly.GPUAddress() == upload.GPUAddress() {
		t.Error("buffers share a GPU address")
	}
}

func TestCreateQueryHeapUnsupported(t *testing.T) {
	d := createNoopDevice(t)
	_, err := d.CreateQueryHeap(gpucore.QueryTimestamp, 1024)
	if !errors.Is(err, gpucore.ErrUnsupported) {
		t.Errorf("CreateQueryHeap = %v, want ErrUnsupported", err)
	}
}

func TestCreatePipelines(t *testing.T) {
	d := createNoopDevice(t)

	rs, err := d.CreateRootSignature(&gpucore.RootSignatureDesc{
		Label:     "graphics",
		BindPoint: gpucore.BindGraphics,
		Parameters: []gpucore.RootParameter{
			{Kind: gpucore.RootConstantBuffer, Stage: gpucore.StageVertex},
			{Kind: gpucore.RootTable, Heap: gpucore.HeapResource, Ranges: []gpucore.DescriptorRange{
				{Kind: gpucore.ViewShaderResource, Stage: gpucore.StagePixel, Count: 1},
			}},
		},
	})
	if err != nil {
		t.Fatalf("CreateRootSignature failed: %v", err)
	}
	defer rs.(*RootSignature).Destroy()

	desc := &gpucore.GraphicsPipelineDesc{
		Label:            "triangle",
		RootSignature:    rs,
		Topology:         gputypes.PrimitiveTopologyTriangleList,
		Rasterizer:       gpucore.DefaultRasterizer(),
		Blend:            gpucore.DefaultBlend(),
		DepthStencil:     gpucore.DefaultDepthStencil(),
		NumRenderTargets: 1,
	}
	desc.RenderTargetFormats[0] = gputypes.TextureFormatRGBA8Unorm

	if _, err := d.CreateGraphicsPipeline(desc); err == nil {
		t.Error("expected error without vertex shader")
	}

	desc.Shaders[gpucore.StageVertex] = gpucore.NewShader("vs", gpucore.StageVertex, spirv, "main", nil)
	desc.Shaders[gpucore.StagePixel] = gpucore.NewShader("ps", gpucore.StagePixel, spirv, "main", nil)
	ps, err := d.CreateGraphicsPipeline(desc)
	if err != nil {
		t.Fatalf("CreateGraphicsPipeline failed: %v", err)
	}
	defer ps.(*PipelineState).Destroy()
	if ps.BindPoint() != gpucore.BindGraphics {
		t.Error("graphics pipeline has compute bind point")
	}

	desc.Shaders[gpucore.StageGeometry] = gpucore.NewShader("gs", gpucore.StageGeometry, spirv, "main", nil)
	if _, err := d.CreateGraphicsPipeline(desc); !errors.Is(err, gpucore.ErrUnsupported) {
		t.Errorf("geometry shader pipeline = %v, want ErrUnsupported", err)
	}
	desc.Shaders[gpucore.StageGeometry] = nil

	desc.Shaders[gpucore.StagePixel] = gpucore.NewShader("bad", gpucore.StagePixel, []byte{1, 2, 3}, "main", nil)
	if _, err := d.CreateGraphicsPipeline(desc); err == nil {
		t.Error("expected error for truncated bytecode")
	}

	crs, err := d.CreateRootSignature(&gpucore.RootSignatureDesc{Label: "compute", BindPoint: gpucore.BindCompute})
	if err != nil {
		t.Fatalf("CreateRootSignature failed: %v", err)
	}
	defer crs.(*RootSignature).Destroy()
	cps, err := d.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label:         "cs",
		RootSignature: crs,
		Shader:        gpucore.NewShader("cs", gpucore.StageCompute, spirv, "main", nil),
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline failed: %v", err)
	}
	defer cps.(*PipelineState).Destroy()
	if cps.BindPoint() != gpucore.BindCompute {
		t.Error("compute pipeline has graphics bind point")
	}
}

func TestCommandListDrawSubmit(t *testing.T) {
	d := createNoopDevice(t)

	rs, err := d.CreateRootSignature(&gpucore.RootSignatureDesc{
		Label:     "draw",
		BindPoint: gpucore.BindGraphics,
		Parameters: []gpucore.RootParameter{
			{Kind: gpucore.RootConstantBuffer, Stage: gpucore.StageVertex},
			{Kind: gpucore.RootTable, Heap: gpucore.HeapResource, Ranges: []gpucore.DescriptorRange{
				{Kind: gpucore.ViewShaderResource, Stage: gpucore.StagePixel, Count: 1},
			}},
			{Kind: gpucore.RootTable, Heap: gpucore.HeapSampler, Ranges: []gpucore.DescriptorRange{
				{Kind: gpucore.ViewSampler, Stage: gpucore.StagePixel, Count: 1},
			}},
		},
	})
	if err != nil {
		t.Fatalf("CreateRootSignature failed: %v", err)
	}
	defer rs.(*RootSignature).Destroy()

	desc := &gpucore.GraphicsPipelineDesc{
		Label:            "draw",
		RootSignature:    rs,
		Topology:         gputypes.PrimitiveTopologyTriangleList,
		Rasterizer:       gpucore.DefaultRasterizer(),
		Blend:            gpucore.DefaultBlend(),
		NumRenderTargets: 1,
	}
	desc.Rasterizer.ScissorEnable = true
	desc.RenderTargetFormats[0] = gputypes.TextureFormatRGBA8Unorm
	desc.Shaders[gpucore.StageVertex] = gpucore.NewShader("vs", gpucore.StageVertex, spirv, "main", nil)
	desc.Shaders[gpucore.StagePixel] = gpucore.NewShader("ps", gpucore.StagePixel, spirv, "main", nil)
	ps, err := d.CreateGraphicsPipeline(desc)
	if err != nil {
		t.Fatalf("CreateGraphicsPipeline failed: %v", err)
	}
	defer ps.(*PipelineState).Destroy()

	rt, err := d.CreateTexture(&gpucore.TextureDesc{
		Label: "rt", Width: 64, Height: 32, Format: gputypes.TextureFormatRGBA8Unorm,
		Usage: gpucore.TextureUsageRenderTarget,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	defer rt.(*Texture).Destroy()

	cb, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "cb", Size: 256, Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer cb.(*Buffer).Destroy()

	list, err := d.CreateCommandList(gpucore.QueueGraphics)
	if err != nil {
		t.Fatalf("CreateCommandList failed: %v", err)
	}
	defer list.(*CommandList).Destroy()
	if err := list.Reset("frame"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	list.UpdateBuffer(cb, 0, make([]byte, 64))
	list.WriteDescriptor(gpucore.HeapRenderTarget, 0, gpucore.Descriptor{Kind: gpucore.ViewRenderTarget, Resource: rt})
	list.WriteDescriptor(gpucore.HeapResource, 0, gpucore.Descriptor{Kind: gpucore.ViewShaderResource})
	list.WriteDescriptor(gpucore.HeapSampler, 0, gpucore.Descriptor{Kind: gpucore.ViewSampler, Sampler: &gpucore.SamplerDesc{}})
	list.ClearRenderTarget(gpucore.Descriptor{Kind: gpucore.ViewRenderTarget, Resource: rt}, gputypes.Color{A: 1})
	list.SetRenderTargets(0, 1, 0, false)
	list.SetPipelineState(ps)
	list.SetRootSignature(gpucore.BindGraphics, rs)
	list.SetRootConstantBuffer(gpucore.BindGraphics, 0, cb, 0)
	list.SetDescriptorTable(gpucore.BindGraphics, 1, gpucore.HeapResource, 0)
	list.SetDescriptorTable(gpucore.BindGraphics, 2, gpucore.HeapSampler, 0)
	list.SetViewports([]gpucore.Viewport{{Width: 64, Height: 32, MaxDepth: 1}})
	list.SetScissorRects([]gpucore.Rect{{Right: 16, Bottom: 16}})
	list.DrawInstanced(3, 1, 0, 0)
	list.DrawInstanced(3, 1, 3, 0)
	if err := list.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := len(list.(*CommandList).groups); n != 3 {
		t.Errorf("materialized %d bind groups, want 3 reused across draws", n)
	}

	fence, err := d.CreateFence()
	if err != nil {
		t.Fatalf("CreateFence failed: %v", err)
	}
	defer fence.(*Fence).Destroy()

	q := d.Queue(gpucore.QueueGraphics)
	if q.Kind() != gpucore.QueueGraphics {
		t.Errorf("queue kind = %v", q.Kind())
	}
	if err := q.Submit([]gpucore.CommandList{list}, fence, 1); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := fence.WaitUntil(1); err != nil {
		t.Fatalf("WaitUntil failed: %v", err)
	}
	if got := fence.CompletedValue(); got != 1 {
		t.Errorf("CompletedValue = %d, want 1", got)
	}
	if err := d.Queue(gpucore.QueueCopy).Wait(fence, 1); err != nil {
		t.Errorf("cross-queue Wait failed: %v", err)
	}
	if err := d.Status(); err != nil {
		t.Errorf("Status = %v", err)
	}
}

func TestCommandListCloseErrors(t *testing.T) {
	d := createNoopDevice(t)

	buf, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "dst", Size: 64, Usage: gpucore.BufferUsageCopyDst})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer buf.(*Buffer).Destroy()

	list, err := d.CreateCommandList(gpucore.QueueCopy)
	if err != nil {
		t.Fatalf("CreateCommandList failed: %v", err)
	}
	defer list.(*CommandList).Destroy()

	t.Run("unaligned update", func(t *testing.T) {
		if err := list.Reset("unaligned"); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		list.UpdateBuffer(buf, 0, []byte{1, 2, 3})
		if err := list.Close(); !errors.Is(err, ErrUnalignedUpdate) {
			t.Errorf("Close = %v, want ErrUnalignedUpdate", err)
		}
		if err := list.Close(); !errors.Is(err, ErrNotRecording) {
			t.Errorf("second Close = %v, want ErrNotRecording", err)
		}
	})

	t.Run("draw without pipeline", func(t *testing.T) {
		if err := list.Reset("nopipeline"); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		list.DrawInstanced(3, 1, 0, 0)
		if err := list.Close(); err == nil {
			t.Error("expected Close to fail")
		}
	})

	t.Run("descriptor outside window", func(t *testing.T) {
		if err := list.Reset("overflow"); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		n := d.Limits().Capacity(gpucore.HeapSampler)
		list.WriteDescriptor(gpucore.HeapSampler, n, gpucore.Descriptor{Kind: gpucore.ViewSampler})
		if err := list.Close(); err == nil {
			t.Error("expected Close to fail")
		}
	})

	t.Run("query", func(t *testing.T) {
		if err := list.Reset("query"); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		list.BeginQuery(nil, 0)
		if err := list.Close(); !errors.Is(err, gpucore.ErrUnsupported) {
			t.Errorf("Close = %v, want ErrUnsupported", err)
		}
	})
}

type foreignFence struct{}

func (foreignFence) CompletedValue() uint64 { return 0 }
func (foreignFence) WaitUntil(uint64) error { return nil }
func (foreignFence) Destroy()               {}

func TestSubmitForeignFence(t *testing.T) {
	d := createNoopDevice(t)
	err := d.Queue(gpucore.QueueGraphics).Submit(nil, foreignFence{}, 1)
	if !errors.Is(err, ErrForeignObject) {
		t.Errorf("Submit = %v, want ErrForeignObject", err)
	}
}

func TestDestroyedDevice(t *testing.T) {
	d := createNoopDevice(t)
	d.Destroy()
	if _, err := d.CreateFence(); err == nil {
		t.Error("expected error after Destroy")
	}
	d.Destroy()
}
