//go:build !nogpu

package native_test

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/immediate"
	"github.com/gogpu/immediate/backend/native"
	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/resource"
)

func newImmediateDevice(t *testing.T) *immediate.Device {
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
	gpu, err := native.New(openDev.Device, openDev.Queue)
	if err != nil {
		t.Fatalf("native.New failed: %v", err)
	}
	dev, err := immediate.NewDevice(gpu)
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	t.Cleanup(func() {
		dev.Destroy()
		gpu.Destroy()
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return dev
}

func TestImmediateDrawOnNative(t *testing.T) {
	dev := newImmediateDevice(t)
	ctx := dev.ImmediateContext()

	code := []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}
	vs, err := immediate.NewShader("vs", gpucore.StageVertex, code, "main", immediate.ConstantBuffers(0, 1))
	if err != nil {
		t.Fatalf("NewShader failed: %v", err)
	}
	ps, err := immediate.NewShader("ps", gpucore.StagePixel, code, "main")
	if err != nil {
		t.Fatalf("NewShader failed: %v", err)
	}

	vb, err := dev.CreateBuffer(gpucore.BufferDesc{Label: "vb", Size: 48, Usage: gpucore.BufferUsageVertex | gpucore.BufferUsageCopyDst})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	cb, err := dev.CreateBuffer(gpucore.BufferDesc{Label: "cb", Size: 256, Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageMapWrite})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	tex, err := dev.CreateTexture(gpucore.TextureDesc{
		Label: "rt", Width: 8, Height: 8, Format: gputypes.TextureFormatRGBA8Unorm,
		Usage: gpucore.TextureUsageRenderTarget,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	rtv, err := dev.CreateRenderTargetView(tex, resource.ViewDesc{})
	if err != nil {
		t.Fatalf("CreateRenderTargetView failed: %v", err)
	}

	if err := ctx.UpdateSubresource(vb, 0, make([]byte, 48), immediate.CopyNone); err != nil {
		t.Fatalf("UpdateSubresource failed: %v", err)
	}
	data, err := ctx.Map(cb, immediate.MapWriteDiscard, 0)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	data[0] = 1
	if err := ctx.Unmap(cb); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}

	ctx.SetShader(gpucore.StageVertex, vs)
	ctx.SetShader(gpucore.StagePixel, ps)
	ctx.SetInputLayout(immediate.NewInputLayout(gpucore.InputElement{
		SemanticName: "POSITION",
		Format:       gputypes.VertexFormatFloat32x4,
	}))
	ctx.SetVertexBuffer(0, vb, 16, 0)
	ctx.SetConstantBuffer(gpucore.StageVertex, 0, cb, 0, 256)
	ctx.SetPrimitiveTopology(gputypes.PrimitiveTopologyTriangleList)
	ctx.SetViewports(gpucore.Viewport{Width: 8, Height: 8, MaxDepth: 1})
	ctx.SetRenderTargets([]*resource.View{rtv}, nil)
	if err := ctx.ClearRenderTargetView(rtv, gputypes.Color{A: 1}); err != nil {
		t.Fatalf("ClearRenderTargetView failed: %v", err)
	}
	if err := ctx.Draw(3, 0); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if err := ctx.Finish(true); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if err := ctx.WaitForIdle(); err != nil {
		t.Fatalf("WaitForIdle failed: %v", err)
	}
	if err := ctx.DeviceStatus(); err != nil {
		t.Errorf("DeviceStatus = %v", err)
	}
	if got := ctx.LastFrameStats().NumDraws; got != 1 {
		t.Errorf("NumDraws = %d, want 1", got)
	}
}

func TestImmediateQueriesUnsupportedOnNative(t *testing.T) {
	dev := newImmediateDevice(t)
	ctx := dev.ImmediateContext()

	if _, err := dev.CreateQuery(immediate.QueryTimestamp); !errors.Is(err, gpucore.ErrUnsupported) {
		t.Errorf("CreateQuery(timestamp) = %v, want ErrUnsupported", err)
	}

	event, err := dev.CreateQuery(immediate.QueryEvent)
	if err != nil {
		t.Fatalf("CreateQuery(event) failed: %v", err)
	}
	if err := ctx.End(event); err != nil {
		t.Fatalf("End(event) failed: %v", err)
	}
	if _, _, err := ctx.GetData(event, 0); err != nil {
		t.Errorf("GetData(event) = %v", err)
	}
}
