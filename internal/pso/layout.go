package pso

import (
	"cmp"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"

	"github.com/gogpu/immediate/gpucore"
)

// Entry is one descriptor of a table, in layout order.
type Entry struct {
	Stage gpucore.ShaderStage
	Kind  gpucore.ViewKind
	Slot  uint32

	// Offset is the precomputed position of the descriptor in its table.
	Offset uint32
}

// RootCBV is a constant buffer bound directly through the root signature.
type RootCBV struct {
	Stage gpucore.ShaderStage
	Slot  uint32
	Param uint32
}

// Layout is the resolved binding layout of a root signature: the order
// in which the binder writes descriptors and where they land.
type Layout struct {
	BindPoint gpucore.BindPoint
	Desc      gpucore.RootSignatureDesc

	// Resources holds constant buffer, shader resource and unordered
	// access entries of the resource table.
	Resources []Entry

	// ConstantBuffers holds root constant buffers.
	ConstantBuffers []RootCBV

	// Samplers holds the entries of the sampler table.
	Samplers []Entry

	// ResourceTable and SamplerTable are root parameter indices, or -1
	// when the table is empty.
	ResourceTable int
	SamplerTable  int

	NumDescriptors uint32
	NumSamplers    uint32
}

// LayoutKey identifies a layout structurally: the bind point and the
// binding declarations of every bound stage.
type LayoutKey struct {
	BindPoint gpucore.BindPoint
	Bindings  string
}

// Hash returns the FNV-1a hash of the key.
func (k LayoutKey) Hash() uint64 {
	h := fnv.New64a()
	hashWriteUint32(h, uint32(k.BindPoint))
	hashWriteString(h, k.Bindings)
	return h.Sum64()
}

// Stages is the shader set a layout is built from, indexed by stage.
type Stages [gpucore.ShaderStageCount]*gpucore.Shader

// slotBinding is one expanded register.
type slotBinding struct {
	stage gpucore.ShaderStage
	kind  gpucore.ViewKind
	slot  uint32
	root  bool
}

// expand flattens the binding ranges of the stages that belong to bp,
// removes duplicates and sorts them by stage, kind and register.
func expand(bp gpucore.BindPoint, shaders Stages) []slotBinding {
	var out []slotBinding
	for stage, sh := range shaders {
		if sh == nil || bindPointOf(gpucore.ShaderStage(stage)) != bp {
			continue
		}
		for _, r := range sh.Bindings {
			n := r.Count
			if n == 0 {
				n = 1
			}
			for i := uint32(0); i < n; i++ {
				out = append(out, slotBinding{
					stage: gpucore.ShaderStage(stage),
					kind:  r.Kind,
					slot:  r.Register + i,
					root:  r.Root && r.Kind == gpucore.ViewConstantBuffer,
				})
			}
		}
	}
	slices.SortFunc(out, func(a, b slotBinding) int {
		return cmp.Or(
			cmp.Compare(a.stage, b.stage),
			cmp.Compare(a.kind, b.kind),
			cmp.Compare(a.slot, b.slot),
		)
	})
	return slices.CompactFunc(out, func(a, b slotBinding) bool {
		return a.stage == b.stage && a.kind == b.kind && a.slot == b.slot
	})
}

func bindPointOf(stage gpucore.ShaderStage) gpucore.BindPoint {
	if stage == gpucore.StageCompute {
		return gpucore.BindCompute
	}
	return gpucore.BindGraphics
}

// KeyOf returns the layout key of a shader set.
func KeyOf(bp gpucore.BindPoint, shaders Stages) LayoutKey {
	var sb strings.Builder
	for _, b := range expand(bp, shaders) {
		fmt.Fprintf(&sb, "%d.%d.%d.%t;", b.stage, b.kind, b.slot, b.root)
	}
	return LayoutKey{BindPoint: bp, Bindings: sb.String()}
}

// BuildLayout synthesizes the layout and root signature description of a
// shader set. Root parameters are ordered root constant buffers first,
// then the resource table, then the sampler table.
func BuildLayout(bp gpucore.BindPoint, shaders Stages) *Layout {
	l := &Layout{
		BindPoint:     bp,
		ResourceTable: -1,
		SamplerTable:  -1,
	}
	var resourceRanges, samplerRanges []gpucore.DescriptorRange
	var params []gpucore.RootParameter

	for _, b := range expand(bp, shaders) {
		switch {
		case b.root:
			l.ConstantBuffers = append(l.ConstantBuffers, RootCBV{
				Stage: b.stage,
				Slot:  b.slot,
				Param: uint32(len(params)),
			})
			params = append(params, gpucore.RootParameter{
				Kind:     gpucore.RootConstantBuffer,
				Stage:    b.stage,
				Register: b.slot,
			})
		case b.kind == gpucore.ViewSampler:
			l.Samplers = append(l.Samplers, Entry{Stage: b.stage, Kind: b.kind, Slot: b.slot, Offset: l.NumSamplers})
			samplerRanges = appendRange(samplerRanges, b, l.NumSamplers)
			l.NumSamplers++
		default:
			l.Resources = append(l.Resources, Entry{Stage: b.stage, Kind: b.kind, Slot: b.slot, Offset: l.NumDescriptors})
			resourceRanges = appendRange(resourceRanges, b, l.NumDescriptors)
			l.NumDescriptors++
		}
	}

	if len(resourceRanges) > 0 {
		l.ResourceTable = len(params)
		params = append(params, gpucore.RootParameter{
			Kind:   gpucore.RootTable,
			Heap:   gpucore.HeapResource,
			Ranges: resourceRanges,
		})
	}
	if len(samplerRanges) > 0 {
		l.SamplerTable = len(params)
		params = append(params, gpucore.RootParameter{
			Kind:   gpucore.RootTable,
			Heap:   gpucore.HeapSampler,
			Ranges: samplerRanges,
		})
	}

	l.Desc = gpucore.RootSignatureDesc{
		Label:      fmt.Sprintf("%s_root_signature", bp),
		BindPoint:  bp,
		Parameters: params,
	}
	return l
}

// appendRange extends the last range when b continues it, or starts a
// new one.
func appendRange(ranges []gpucore.DescriptorRange, b slotBinding, offset uint32) []gpucore.DescriptorRange {
	if n := len(ranges); n > 0 {
		last := &ranges[n-1]
		if last.Stage == b.stage && last.Kind == b.kind &&
			last.Register+last.Count == b.slot && last.Offset+last.Count == offset {
			last.Count++
			return ranges
		}
	}
	return append(ranges, gpucore.DescriptorRange{
		Kind:     b.kind,
		Stage:    b.stage,
		Register: b.slot,
		Count:    1,
		Offset:   offset,
	})
}
