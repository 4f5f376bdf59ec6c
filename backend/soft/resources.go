package soft

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/internal/fence"
)

// handles hands out unique native handles and GPU addresses.
var handles atomic.Uintptr

func nextHandle() uintptr { return handles.Add(1) }

// Buffer is a buffer backed by host memory.
type Buffer struct {
	handle  uintptr
	address uint64
	usage   gpucore.BufferUsage

	mu     sync.Mutex
	data   []byte
	mapped bool

	destroyed atomic.Bool
}

// NativeHandle implements gpucore.Resource.
func (b *Buffer) NativeHandle() uintptr { return b.handle }

// Size returns the size in bytes.
func (b *Buffer) Size() uint64 { return uint64(len(b.data)) }

// Usage returns the creation usage.
func (b *Buffer) Usage() gpucore.BufferUsage { return b.usage }

// GPUAddress returns a unique fake virtual address.
func (b *Buffer) GPUAddress() uint64 { return b.address }

// Map returns the backing memory of a host-visible buffer.
func (b *Buffer) Map() ([]byte, error) {
	if !b.usage.HostVisible() {
		return nil, gpucore.ErrNotHostVisible
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mapped = true
	return b.data, nil
}

// Unmap ends the mapping.
func (b *Buffer) Unmap() {
	b.mu.Lock()
	b.mapped = false
	b.mu.Unlock()
}

// Mapped reports whether the buffer is currently mapped.
func (b *Buffer) Mapped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapped
}

// Bytes returns a copy of the contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Destroy implements gpucore.Destroyer.
func (b *Buffer) Destroy() { b.destroyed.Store(true) }

// Destroyed reports whether Destroy was called.
func (b *Buffer) Destroyed() bool { return b.destroyed.Load() }

func (b *Buffer) write(offset uint64, src []byte) {
	b.mu.Lock()
	copy(b.data[offset:], src)
	b.mu.Unlock()
}

func (b *Buffer) read(offset, size uint64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data[offset:offset+size]...)
}

// Texture is a 2D image stored as tightly packed texels.
type Texture struct {
	handle uintptr
	desc   gpucore.TextureDesc
	bpp    int

	mu   sync.Mutex
	data []byte

	destroyed atomic.Bool
}

// NativeHandle implements gpucore.Resource.
func (t *Texture) NativeHandle() uintptr { return t.handle }

// Width returns the width in texels.
func (t *Texture) Width() uint32 { return t.desc.Width }

// Height returns the height in texels.
func (t *Texture) Height() uint32 { return t.desc.Height }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// Destroy implements gpucore.Destroyer.
func (t *Texture) Destroy() { t.destroyed.Store(true) }

// Texel returns a copy of the texel at x, y.
func (t *Texture) Texel(x, y uint32) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	off := (int(y)*int(t.desc.Width) + int(x)) * t.bpp
	return append([]byte(nil), t.data[off:off+t.bpp]...)
}

func (t *Texture) fill(texel []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for off := 0; off+len(texel) <= len(t.data); off += len(texel) {
		copy(t.data[off:], texel)
	}
}

// bytesPerTexel returns the storage size of one texel of f.
func bytesPerTexel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatDepth24PlusStencil8:
		return 4
	default:
		return 4
	}
}

// colorTexel encodes c in the byte order of f.
func colorTexel(f gputypes.TextureFormat, c gputypes.Color) []byte {
	u := func(v float64) byte {
		switch {
		case v <= 0:
			return 0
		case v >= 1:
			return 255
		default:
			return byte(v*255 + 0.5)
		}
	}
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return []byte{u(c.R)}
	case gputypes.TextureFormatBGRA8Unorm:
		return []byte{u(c.B), u(c.G), u(c.R), u(c.A)}
	default:
		return []byte{u(c.R), u(c.G), u(c.B), u(c.A)}
	}
}

// Fence is a timeline fence.
type Fence struct {
	fence.Timeline
}

// CompletedValue implements gpucore.Fence.
func (f *Fence) CompletedValue() uint64 { return f.SignaledValue() }

// Destroy implements gpucore.Destroyer.
func (f *Fence) Destroy() {}

// PipelineState is a created pipeline.
type PipelineState struct {
	bind     gpucore.BindPoint
	graphics *gpucore.GraphicsPipelineDesc
	compute  *gpucore.ComputePipelineDesc
}

// BindPoint implements gpucore.PipelineState.
func (p *PipelineState) BindPoint() gpucore.BindPoint { return p.bind }

// Graphics returns the graphics description, or nil.
func (p *PipelineState) Graphics() *gpucore.GraphicsPipelineDesc { return p.graphics }

// Destroy implements gpucore.Destroyer.
func (p *PipelineState) Destroy() {}

// RootSignature is a created root signature.
type RootSignature struct {
	desc gpucore.RootSignatureDesc
}

// Desc implements gpucore.RootSignature.
func (r *RootSignature) Desc() *gpucore.RootSignatureDesc { return &r.desc }

// Destroy implements gpucore.Destroyer.
func (r *RootSignature) Destroy() {}

// QueryHeap stores query results in host memory.
type QueryHeap struct {
	kind  gpucore.QueryType
	mu    sync.Mutex
	slots [][]byte
}

// Type implements gpucore.QueryHeap.
func (h *QueryHeap) Type() gpucore.QueryType { return h.kind }

// Count implements gpucore.QueryHeap.
func (h *QueryHeap) Count() uint32 { return uint32(len(h.slots)) }

// Destroy implements gpucore.Destroyer.
func (h *QueryHeap) Destroy() {}

func (h *QueryHeap) store(i uint32, data []byte) {
	h.mu.Lock()
	copy(h.slots[i], data)
	h.mu.Unlock()
}

func (h *QueryHeap) load(start, count uint32) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, 0, uint64(count)*h.kind.ResultSize())
	for i := start; i < start+count; i++ {
		out = append(out, h.slots[i]...)
	}
	return out
}
