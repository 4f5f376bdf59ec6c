package pso

import (
	"testing"

	"github.com/gogpu/immediate/gpucore"
)

func TestBuildLayout_Order(t *testing.T) {
	vs := gpucore.NewShader("vs", gpucore.StageVertex, nil, "main", []gpucore.BindingRange{
		{Kind: gpucore.ViewConstantBuffer, Register: 0, Count: 1, Root: true},
		{Kind: gpucore.ViewConstantBuffer, Register: 1, Count: 1},
		{Kind: gpucore.ViewShaderResource, Register: 0, Count: 2},
	})
	ps := gpucore.NewShader("ps", gpucore.StagePixel, nil, "main", []gpucore.BindingRange{
		{Kind: gpucore.ViewShaderResource, Register: 3, Count: 1},
		{Kind: gpucore.ViewSampler, Register: 0, Count: 2},
	})
	cs := gpucore.NewShader("cs", gpucore.StageCompute, nil, "main", []gpucore.BindingRange{
		{Kind: gpucore.ViewUnorderedAccess, Register: 0, Count: 1},
	})

	l := BuildLayout(gpucore.BindGraphics, Stages{gpucore.StageVertex: vs, gpucore.StagePixel: ps, gpucore.StageCompute: cs})

	if len(l.ConstantBuffers) != 1 || l.ConstantBuffers[0].Param != 0 {
		t.Fatalf("root constant buffers = %+v", l.ConstantBuffers)
	}
	if l.ResourceTable != 1 || l.SamplerTable != 2 {
		t.Fatalf("tables at %d, %d; want 1, 2", l.ResourceTable, l.SamplerTable)
	}
	if l.NumDescriptors != 4 || l.NumSamplers != 2 {
		t.Fatalf("counts = %d, %d; want 4, 2", l.NumDescriptors, l.NumSamplers)
	}

	want := []Entry{
		{Stage: gpucore.StageVertex, Kind: gpucore.ViewConstantBuffer, Slot: 1, Offset: 0},
		{Stage: gpucore.StageVertex, Kind: gpucore.ViewShaderResource, Slot: 0, Offset: 1},
		{Stage: gpucore.StageVertex, Kind: gpucore.ViewShaderResource, Slot: 1, Offset: 2},
		{Stage: gpucore.StagePixel, Kind: gpucore.ViewShaderResource, Slot: 3, Offset: 3},
	}
	for i, e := range want {
		if l.Resources[i] != e {
			t.Errorf("Resources[%d] = %+v, want %+v", i, l.Resources[i], e)
		}
	}

	table := l.Desc.Parameters[l.ResourceTable]
	if table.NumDescriptors() != l.NumDescriptors {
		t.Errorf("table holds %d descriptors, layout %d", table.NumDescriptors(), l.NumDescriptors)
	}
	if len(table.Ranges) != 3 {
		t.Errorf("ranges = %+v, want 3 merged ranges", table.Ranges)
	}
}

func TestBuildLayout_OffsetsAreDense(t *testing.T) {
	ps := gpucore.NewShader("ps", gpucore.StagePixel, nil, "main", []gpucore.BindingRange{
		{Kind: gpucore.ViewShaderResource, Register: 5, Count: 3},
		{Kind: gpucore.ViewShaderResource, Register: 0, Count: 1},
		{Kind: gpucore.ViewShaderResource, Register: 6, Count: 1},
		{Kind: gpucore.ViewUnorderedAccess, Register: 2, Count: 2},
	})
	l := BuildLayout(gpucore.BindGraphics, Stages{gpucore.StagePixel: ps})
	for i, e := range l.Resources {
		if e.Offset != uint32(i) {
			t.Errorf("entry %d offset = %d", i, e.Offset)
		}
	}
	if l.NumDescriptors != 6 {
		t.Errorf("NumDescriptors = %d, want 6 after dedup", l.NumDescriptors)
	}
}

func TestBuildLayout_Empty(t *testing.T) {
	l := BuildLayout(gpucore.BindCompute, Stages{})
	if l.ResourceTable != -1 || l.SamplerTable != -1 || len(l.Desc.Parameters) != 0 {
		t.Errorf("empty layout = %+v", l)
	}
}

func TestKeyOf(t *testing.T) {
	a := gpucore.NewShader("a", gpucore.StagePixel, []byte{1}, "main", []gpucore.BindingRange{
		{Kind: gpucore.ViewShaderResource, Register: 0, Count: 2},
	})
	b := gpucore.NewShader("b", gpucore.StagePixel, []byte{2}, "other", []gpucore.BindingRange{
		{Kind: gpucore.ViewShaderResource, Register: 1, Count: 1},
		{Kind: gpucore.ViewShaderResource, Register: 0, Count: 1},
	})
	c := gpucore.NewShader("c", gpucore.StagePixel, []byte{1}, "main", []gpucore.BindingRange{
		{Kind: gpucore.ViewShaderResource, Register: 0, Count: 3},
	})

	ka := KeyOf(gpucore.BindGraphics, Stages{gpucore.StagePixel: a})
	kb := KeyOf(gpucore.BindGraphics, Stages{gpucore.StagePixel: b})
	kc := KeyOf(gpucore.BindGraphics, Stages{gpucore.StagePixel: c})
	if ka != kb {
		t.Error("shaders with equal bindings produced different layout keys")
	}
	if ka == kc {
		t.Error("different bindings produced the same layout key")
	}
	if ka.Hash() != kb.Hash() {
		t.Error("equal keys hash differently")
	}
}
