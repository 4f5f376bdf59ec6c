package binder

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/immediate/backend/soft"
	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/internal/pso"
	"github.com/gogpu/immediate/internal/state"
	"github.com/gogpu/immediate/resource"
)

// recordingList records descriptor writes and table bindings.
type recordingList struct {
	cursors  [gpucore.HeapTypeCount]uint32
	heaps    [gpucore.HeapTypeCount]map[uint32]gpucore.Descriptor
	tables   map[uint32]uint32
	rootCBVs map[uint32]gpucore.Buffer
	tracked  map[resource.Resource]resource.Access
	rtBase   uint32
	rtCount  uint32
	hasDSV   bool
}

func newRecordingList() *recordingList {
	l := &recordingList{
		tables:   make(map[uint32]uint32),
		rootCBVs: make(map[uint32]gpucore.Buffer),
		tracked:  make(map[resource.Resource]resource.Access),
	}
	for h := range l.heaps {
		l.heaps[h] = make(map[uint32]gpucore.Descriptor)
	}
	return l
}

func (l *recordingList) Cursor(h gpucore.HeapType) uint32 { return l.cursors[h] }

func (l *recordingList) WriteDescriptor(h gpucore.HeapType, index uint32, d gpucore.Descriptor) {
	l.heaps[h][index] = d
}

func (l *recordingList) SetDescriptorTable(_ gpucore.BindPoint, param uint32, _ gpucore.HeapType, base uint32) {
	l.tables[param] = base
}

func (l *recordingList) SetRootConstantBuffer(_ gpucore.BindPoint, param uint32, buf gpucore.Buffer, _ uint64) {
	l.rootCBVs[param] = buf
}

func (l *recordingList) SetRenderTargets(rtvBase, count, _ uint32, hasDSV bool) {
	l.rtBase, l.rtCount, l.hasDSV = rtvBase, count, hasDSV
}

func (l *recordingList) IncrementInputCursors(resources, samplers uint32) {
	l.cursors[gpucore.HeapResource] += resources
	l.cursors[gpucore.HeapSampler] += samplers
}

func (l *recordingList) IncrementOutputCursors(renderTargets, depthStencils uint32) {
	l.cursors[gpucore.HeapRenderTarget] += renderTargets
	l.cursors[gpucore.HeapDepthStencil] += depthStencils
}

func (l *recordingList) Track(r resource.Resource, kind resource.Access) {
	if prev, ok := l.tracked[r]; !ok || kind == resource.AccessWrite || prev != resource.AccessWrite {
		l.tracked[r] = kind
	}
}

func (l *recordingList) Transition(resource.Resource, gpucore.ResourceState) {}

func newBuffer(t *testing.T, dev gpucore.Device) *resource.Buffer {
	t.Helper()
	b, err := resource.NewBuffer(dev, &gpucore.BufferDesc{Size: 256, Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageStorage})
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	return b
}

// randomShader returns a shader of stage with random binding ranges.
func randomShader(r *rand.Rand, stage gpucore.ShaderStage) *gpucore.Shader {
	var bindings []gpucore.BindingRange
	for _, kind := range []gpucore.ViewKind{gpucore.ViewConstantBuffer, gpucore.ViewShaderResource, gpucore.ViewUnorderedAccess, gpucore.ViewSampler} {
		for n := r.IntN(3); n > 0; n-- {
			bindings = append(bindings, gpucore.BindingRange{
				Kind:     kind,
				Register: uint32(r.IntN(6)),
				Count:    uint32(1 + r.IntN(3)),
				Root:     kind == gpucore.ViewConstantBuffer && r.IntN(2) == 0,
			})
		}
	}
	return gpucore.NewShader(stage.String(), stage, []byte{byte(stage)}, "main", bindings)
}

// TestInputs_DescriptorsLandAtLayoutOffsets binds random shader sets with
// randomly populated slots and checks that every table entry reads back
// the resource bound to its slot.
func TestInputs_DescriptorsLandAtLayoutOffsets(t *testing.T) {
	dev := soft.New()
	defer dev.Destroy()
	r := rand.New(rand.NewPCG(7, 11))

	pool := make([]*resource.Buffer, 4)
	for i := range pool {
		pool[i] = newBuffer(t, dev)
	}
	samplers := []*resource.Sampler{
		resource.NewSampler(gpucore.SamplerDesc{MaxAnisotropy: 1}),
		resource.NewSampler(gpucore.SamplerDesc{MaxAnisotropy: 4}),
	}

	for iter := 0; iter < 200; iter++ {
		var shaders pso.Stages
		shaders[gpucore.StageVertex] = randomShader(r, gpucore.StageVertex)
		if r.IntN(2) == 0 {
			shaders[gpucore.StagePixel] = randomShader(r, gpucore.StagePixel)
		}
		layout := pso.BuildLayout(gpucore.BindGraphics, shaders)

		tr := state.NewTracker()
		for _, st := range []gpucore.ShaderStage{gpucore.StageVertex, gpucore.StagePixel} {
			for slot := 0; slot < 8; slot++ {
				if r.IntN(3) == 0 {
					continue
				}
				buf := pool[r.IntN(len(pool))]
				tr.SetConstantBuffer(st, slot, state.ConstantBuffer{Buffer: buf, Offset: uint64(slot) * 16})
				srv, _ := resource.NewView(gpucore.ViewShaderResource, buf, resource.ViewDesc{Offset: uint64(slot)})
				tr.SetShaderResource(st, slot, srv)
				uav, _ := resource.NewView(gpucore.ViewUnorderedAccess, buf, resource.ViewDesc{Offset: uint64(slot) + 64})
				tr.SetUnorderedAccess(st, slot, uav)
				tr.SetSampler(st, slot, samplers[slot%2])
			}
		}

		l := newRecordingList()
		l.cursors[gpucore.HeapResource] = uint32(r.IntN(100))
		base := l.cursors[gpucore.HeapResource]
		var b Binder
		res, err := b.Inputs(l, layout, &tr.Stages)
		if err != nil {
			t.Fatalf("iter %d: Inputs() error = %v", iter, err)
		}
		if res.Descriptors != layout.NumDescriptors || res.Samplers != layout.NumSamplers {
			t.Fatalf("iter %d: wrote %d/%d, layout has %d/%d",
				iter, res.Descriptors, res.Samplers, layout.NumDescriptors, layout.NumSamplers)
		}
		if got := l.cursors[gpucore.HeapResource]; got != base+layout.NumDescriptors {
			t.Fatalf("iter %d: cursor = %d, want %d", iter, got, base+layout.NumDescriptors)
		}
		if layout.ResourceTable >= 0 && l.tables[uint32(layout.ResourceTable)] != base {
			t.Fatalf("iter %d: resource table base = %d, want %d", iter, l.tables[uint32(layout.ResourceTable)], base)
		}

		for _, e := range layout.Resources {
			d := l.heaps[gpucore.HeapResource][base+e.Offset]
			if d.Kind != e.Kind {
				t.Fatalf("iter %d: %s slot %d has kind %s", iter, e.Kind, e.Slot, d.Kind)
			}
			st := &tr.Stages[e.Stage]
			var want gpucore.Resource
			var wantOffset uint64
			switch e.Kind {
			case gpucore.ViewConstantBuffer:
				if cb := st.ConstantBuffers.Get(int(e.Slot)); cb.Buffer != nil {
					want, wantOffset = cb.Buffer.Native(), cb.Offset
				}
			case gpucore.ViewShaderResource:
				if v := st.ShaderResources.Get(int(e.Slot)); v != nil {
					want, wantOffset = v.Descriptor().Resource, v.Descriptor().Offset
				}
			case gpucore.ViewUnorderedAccess:
				if v := st.UnorderedAccess.Get(int(e.Slot)); v != nil {
					want, wantOffset = v.Descriptor().Resource, v.Descriptor().Offset
				}
			}
			if d.Resource != want || (want != nil && d.Offset != wantOffset) {
				t.Fatalf("iter %d: %s %s slot %d at offset %d bound %v+%d, want %v+%d",
					iter, e.Stage, e.Kind, e.Slot, e.Offset, d.Resource, d.Offset, want, wantOffset)
			}
		}
		for _, e := range layout.Samplers {
			d := l.heaps[gpucore.HeapSampler][e.Offset]
			s := tr.Stages[e.Stage].Samplers.Get(int(e.Slot))
			if (s == nil) != (d.Sampler == nil) || (s != nil && *d.Sampler != s.Desc()) {
				t.Fatalf("iter %d: sampler %s slot %d mismatch", iter, e.Stage, e.Slot)
			}
		}
		for _, cb := range layout.ConstantBuffers {
			bound := tr.Stages[cb.Stage].ConstantBuffers.Get(int(cb.Slot))
			got := l.rootCBVs[cb.Param]
			if bound.Buffer == nil {
				if got != nil {
					t.Fatalf("iter %d: empty root CBV bound %v", iter, got)
				}
				continue
			}
			if got != bound.Buffer.Allocation() {
				t.Fatalf("iter %d: root CBV %d bound wrong buffer", iter, cb.Param)
			}
		}
	}
}

func TestInputs_OffsetMismatch(t *testing.T) {
	shader := gpucore.NewShader("ps", gpucore.StagePixel, []byte{1}, "main", []gpucore.BindingRange{
		{Kind: gpucore.ViewShaderResource, Register: 0, Count: 3},
	})
	layout := pso.BuildLayout(gpucore.BindGraphics, pso.Stages{gpucore.StagePixel: shader})
	layout.Resources[1].Offset = 5
	tr := state.NewTracker()

	var b Binder
	if _, err := b.Inputs(newRecordingList(), layout, &tr.Stages); !errors.Is(err, ErrOffsetMismatch) {
		t.Fatalf("Inputs() error = %v, want ErrOffsetMismatch", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("debug binder did not panic on offset mismatch")
		}
	}()
	debug := Binder{Debug: true}
	_, _ = debug.Inputs(newRecordingList(), layout, &tr.Stages)
}

func TestInputs_TracksWritesAndReads(t *testing.T) {
	dev := soft.New()
	defer dev.Destroy()
	read, write := newBuffer(t, dev), newBuffer(t, dev)

	shader := gpucore.NewShader("cs", gpucore.StageCompute, []byte{2}, "main", []gpucore.BindingRange{
		{Kind: gpucore.ViewShaderResource, Register: 0, Count: 1},
		{Kind: gpucore.ViewUnorderedAccess, Register: 0, Count: 1},
	})
	layout := pso.BuildLayout(gpucore.BindCompute, pso.Stages{gpucore.StageCompute: shader})
	tr := state.NewTracker()
	srv, _ := resource.NewView(gpucore.ViewShaderResource, read, resource.ViewDesc{})
	uav, _ := resource.NewView(gpucore.ViewUnorderedAccess, write, resource.ViewDesc{})
	tr.SetShaderResource(gpucore.StageCompute, 0, srv)
	tr.SetUnorderedAccess(gpucore.StageCompute, 0, uav)

	l := newRecordingList()
	var b Binder
	if _, err := b.Inputs(l, layout, &tr.Stages); err != nil {
		t.Fatalf("Inputs() error = %v", err)
	}
	if l.tracked[read] != resource.AccessAny {
		t.Errorf("shader resource tracked as %s, want any", l.tracked[read])
	}
	if l.tracked[write] != resource.AccessWrite {
		t.Errorf("unordered access tracked as %s, want write", l.tracked[write])
	}
}

func TestOutputs(t *testing.T) {
	dev := soft.New()
	defer dev.Destroy()
	color, err := resource.NewTexture(dev, &gpucore.TextureDesc{Width: 4, Height: 4, Usage: gpucore.TextureUsageRenderTarget})
	if err != nil {
		t.Fatalf("NewTexture() error = %v", err)
	}
	depth, _ := resource.NewTexture(dev, &gpucore.TextureDesc{Width: 4, Height: 4, Usage: gpucore.TextureUsageDepthStencil})
	rtv, _ := resource.NewView(gpucore.ViewRenderTarget, color, resource.ViewDesc{})
	dsv, _ := resource.NewView(gpucore.ViewDepthStencil, depth, resource.ViewDesc{})

	tr := state.NewTracker()
	tr.SetRenderTargets([]*resource.View{nil, rtv}, dsv)

	l := newRecordingList()
	l.cursors[gpucore.HeapRenderTarget] = 3
	var b Binder
	res := b.Outputs(l, tr)
	if res.Descriptors != 2 || res.Nulls != 1 {
		t.Errorf("Outputs() = %+v, want 2 descriptors and 1 null", res)
	}
	if l.rtBase != 3 || l.rtCount != 2 || !l.hasDSV {
		t.Errorf("SetRenderTargets(%d, %d, dsv=%t), want (3, 2, true)", l.rtBase, l.rtCount, l.hasDSV)
	}
	if got := l.heaps[gpucore.HeapRenderTarget][4].Resource; got != color.Native() {
		t.Errorf("render target 1 bound %v", got)
	}
	if l.cursors[gpucore.HeapRenderTarget] != 5 || l.cursors[gpucore.HeapDepthStencil] != 1 {
		t.Errorf("cursors = %v", l.cursors)
	}
	if l.tracked[color] != resource.AccessWrite || l.tracked[depth] != resource.AccessWrite {
		t.Error("output views not tracked as writes")
	}
}
