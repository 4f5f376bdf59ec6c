package soft

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/immediate/gpucore"
)

// List errors.
var (
	// ErrNotRecording is returned when closing a list that is not recording.
	ErrNotRecording = errors.New("soft: list is not recording")

	// ErrWindowOverflow is reported when a descriptor is written past the
	// end of a list's window.
	ErrWindowOverflow = errors.New("soft: descriptor window overflow")
)

// command is one recorded operation, run on the queue goroutine.
type command func(e *executor)

// rootBinding is the descriptor table state of one bind point.
type rootBinding struct {
	signature *RootSignature
	tables    map[uint32]uint32
}

// Bound is the fixed-function state last set on a list since its Reset.
type Bound struct {
	IndexBuffer   *gpucore.IndexBufferView
	VertexBuffers []gpucore.VertexBufferView
	Viewports     []gpucore.Viewport
	Scissors      []gpucore.Rect

	// RenderTargets are the render target descriptors read from the
	// window when SetRenderTargets was called.
	RenderTargets []gpucore.Descriptor
	DepthStencil  *gpucore.Descriptor
}

// CommandList records commands for later execution by a queue.
type CommandList struct {
	dev       *Device
	kind      gpucore.QueueKind
	label     string
	recording bool
	commands  []command
	windows   [gpucore.HeapTypeCount][]gpucore.Descriptor
	roots     [gpucore.BindPointCount]rootBinding
	pipeline  *PipelineState
	topology  gputypes.PrimitiveTopology
	bound     Bound
	err       error
}

func newCommandList(dev *Device, kind gpucore.QueueKind) *CommandList {
	l := &CommandList{dev: dev, kind: kind}
	for h := range l.windows {
		l.windows[h] = make([]gpucore.Descriptor, dev.limits.Capacity(gpucore.HeapType(h)))
	}
	return l
}

// Queue implements gpucore.CommandList.
func (l *CommandList) Queue() gpucore.QueueKind { return l.kind }

// Label returns the label of the last Reset.
func (l *CommandList) Label() string { return l.label }

// Reset implements gpucore.CommandList.
func (l *CommandList) Reset(label string) error {
	if err := l.dev.injected("reset"); err != nil {
		return err
	}
	l.label = label
	l.recording = true
	l.commands = l.commands[:0]
	for h := range l.windows {
		clear(l.windows[h])
	}
	for i := range l.roots {
		l.roots[i] = rootBinding{}
	}
	l.pipeline = nil
	l.topology = gputypes.PrimitiveTopologyTriangleList
	l.bound = Bound{}
	l.err = nil
	return nil
}

// Close implements gpucore.CommandList.
func (l *CommandList) Close() error {
	if !l.recording {
		return ErrNotRecording
	}
	l.recording = false
	return l.err
}

// Destroy implements gpucore.Destroyer.
func (l *CommandList) Destroy() {}

func (l *CommandList) record(c command) { l.commands = append(l.commands, c) }

// ResourceBarrier implements gpucore.CommandList.
func (l *CommandList) ResourceBarrier(barriers []gpucore.Barrier) {
	l.dev.stats.Barriers.Add(uint64(len(barriers)))
}

// WriteDescriptor implements gpucore.CommandList.
func (l *CommandList) WriteDescriptor(heap gpucore.HeapType, index uint32, d gpucore.Descriptor) {
	l.dev.stats.DescriptorWrites.Add(1)
	if int(index) >= len(l.windows[heap]) {
		l.err = fmt.Errorf("%w: %s index %d", ErrWindowOverflow, heap, index)
		return
	}
	l.windows[heap][index] = d
}

// Descriptor returns the descriptor at index of the window of heap.
func (l *CommandList) Descriptor(heap gpucore.HeapType, index uint32) gpucore.Descriptor {
	return l.windows[heap][index]
}

// SetPipelineState implements gpucore.CommandList.
func (l *CommandList) SetPipelineState(ps gpucore.PipelineState) {
	l.dev.stats.SetPipeline.Add(1)
	l.pipeline, _ = ps.(*PipelineState)
}

// SetRootSignature implements gpucore.CommandList.
func (l *CommandList) SetRootSignature(bind gpucore.BindPoint, rs gpucore.RootSignature) {
	l.dev.stats.SetRootSignature.Add(1)
	sig, _ := rs.(*RootSignature)
	l.roots[bind] = rootBinding{signature: sig, tables: make(map[uint32]uint32)}
}

// SetDescriptorTable implements gpucore.CommandList.
func (l *CommandList) SetDescriptorTable(bind gpucore.BindPoint, param uint32, heap gpucore.HeapType, base uint32) {
	if l.roots[bind].tables == nil {
		l.roots[bind].tables = make(map[uint32]uint32)
	}
	l.roots[bind].tables[param] = base
}

// SetRootConstantBuffer implements gpucore.CommandList.
func (l *CommandList) SetRootConstantBuffer(gpucore.BindPoint, uint32, gpucore.Buffer, uint64) {}

// SetIndexBuffer implements gpucore.CommandList.
func (l *CommandList) SetIndexBuffer(view *gpucore.IndexBufferView) {
	if view == nil {
		l.bound.IndexBuffer = nil
		return
	}
	v := *view
	l.bound.IndexBuffer = &v
}

// SetVertexBuffers implements gpucore.CommandList.
func (l *CommandList) SetVertexBuffers(start uint32, views []gpucore.VertexBufferView) {
	if n := int(start) + len(views); n > len(l.bound.VertexBuffers) {
		l.bound.VertexBuffers = append(l.bound.VertexBuffers, make([]gpucore.VertexBufferView, n-len(l.bound.VertexBuffers))...)
	}
	copy(l.bound.VertexBuffers[start:], views)
}

// SetPrimitiveTopology implements gpucore.CommandList.
func (l *CommandList) SetPrimitiveTopology(t gputypes.PrimitiveTopology) { l.topology = t }

// SetViewports implements gpucore.CommandList.
func (l *CommandList) SetViewports(viewports []gpucore.Viewport) {
	l.bound.Viewports = append(l.bound.Viewports[:0], viewports...)
}

// SetScissorRects implements gpucore.CommandList.
func (l *CommandList) SetScissorRects(rects []gpucore.Rect) {
	l.bound.Scissors = append(l.bound.Scissors[:0], rects...)
}

// SetStencilRef implements gpucore.CommandList.
func (l *CommandList) SetStencilRef(uint32) {}

// SetBlendFactor implements gpucore.CommandList.
func (l *CommandList) SetBlendFactor(gputypes.Color) {}

// SetRenderTargets implements gpucore.CommandList.
func (l *CommandList) SetRenderTargets(rtvBase, count, dsvIndex uint32, hasDSV bool) {
	l.bound.RenderTargets = l.bound.RenderTargets[:0]
	l.bound.DepthStencil = nil
	rtvs := l.windows[gpucore.HeapRenderTarget]
	if int(rtvBase)+int(count) > len(rtvs) {
		l.err = fmt.Errorf("%w: %d render targets at %d", ErrWindowOverflow, count, rtvBase)
		return
	}
	l.bound.RenderTargets = append(l.bound.RenderTargets, rtvs[rtvBase:rtvBase+count]...)
	if hasDSV {
		dsvs := l.windows[gpucore.HeapDepthStencil]
		if int(dsvIndex) >= len(dsvs) {
			l.err = fmt.Errorf("%w: depth-stencil at %d", ErrWindowOverflow, dsvIndex)
			return
		}
		d := dsvs[dsvIndex]
		l.bound.DepthStencil = &d
	}
}

// Bound returns a copy of the fixed-function state set since Reset.
func (l *CommandList) Bound() Bound {
	b := l.bound
	b.VertexBuffers = append([]gpucore.VertexBufferView(nil), b.VertexBuffers...)
	b.Viewports = append([]gpucore.Viewport(nil), b.Viewports...)
	b.Scissors = append([]gpucore.Rect(nil), b.Scissors...)
	b.RenderTargets = append([]gpucore.Descriptor(nil), b.RenderTargets...)
	return b
}

// TableDescriptors returns the descriptors a bound root table of bind
// references, in range order.
func (l *CommandList) TableDescriptors(bind gpucore.BindPoint, param uint32) []gpucore.Descriptor {
	root := l.roots[bind]
	if root.signature == nil || int(param) >= len(root.signature.desc.Parameters) {
		return nil
	}
	base, ok := root.tables[param]
	if !ok {
		return nil
	}
	p := root.signature.desc.Parameters[param]
	window := l.windows[p.Heap]
	n := p.NumDescriptors()
	if int(base+n) > len(window) {
		return nil
	}
	return append([]gpucore.Descriptor(nil), window[base:base+n]...)
}

// DrawInstanced implements gpucore.CommandList.
func (l *CommandList) DrawInstanced(vertexCount, instanceCount, _, _ uint32) {
	l.draw(vertexCount, instanceCount)
}

// DrawIndexedInstanced implements gpucore.CommandList.
func (l *CommandList) DrawIndexedInstanced(indexCount, instanceCount, _ uint32, _ int32, _ uint32) {
	l.draw(indexCount, instanceCount)
}

func (l *CommandList) draw(count, instances uint32) {
	l.dev.stats.Draws.Add(1)
	topology := l.topology
	l.record(func(e *executor) {
		e.draw(topology, uint64(count), uint64(instances))
	})
}

// Dispatch implements gpucore.CommandList.
func (l *CommandList) Dispatch(x, y, z uint32) {
	l.dev.stats.Dispatches.Add(1)
	l.record(func(e *executor) {
		e.stats.CSInvocations += uint64(x) * uint64(y) * uint64(z)
	})
}

// ClearRenderTarget implements gpucore.CommandList.
func (l *CommandList) ClearRenderTarget(view gpucore.Descriptor, color gputypes.Color) {
	tex, ok := view.Resource.(*Texture)
	if !ok {
		return
	}
	texel := colorTexel(tex.desc.Format, color)
	l.record(func(*executor) { tex.fill(texel) })
}

// ClearDepthStencil implements gpucore.CommandList.
func (l *CommandList) ClearDepthStencil(view gpucore.Descriptor, flags gpucore.ClearFlags, depth float32, stencil uint8) {
	tex, ok := view.Resource.(*Texture)
	if !ok {
		return
	}
	d := uint32(depth * 0xFFFFFF)
	l.record(func(*executor) {
		tex.mu.Lock()
		defer tex.mu.Unlock()
		for off := 0; off+4 <= len(tex.data); off += 4 {
			if flags&gpucore.ClearDepth != 0 {
				tex.data[off] = byte(d)
				tex.data[off+1] = byte(d >> 8)
				tex.data[off+2] = byte(d >> 16)
			}
			if flags&gpucore.ClearStencil != 0 {
				tex.data[off+3] = stencil
			}
		}
	})
}

// ClearUnorderedAccess implements gpucore.CommandList.
func (l *CommandList) ClearUnorderedAccess(view gpucore.Descriptor, values [4]uint32) {
	switch r := view.Resource.(type) {
	case *Buffer:
		offset, size := view.Offset, view.Size
		if size == 0 {
			size = r.Size() - offset
		}
		l.record(func(*executor) {
			word := make([]byte, size)
			for i := uint64(0); i+4 <= size; i += 4 {
				binary.LittleEndian.PutUint32(word[i:], values[0])
			}
			r.write(offset, word)
		})
	case *Texture:
		texel := make([]byte, r.bpp)
		for i := range texel {
			texel[i] = byte(values[i%4])
		}
		l.record(func(*executor) { r.fill(texel) })
	}
}

// CopyBufferRegion implements gpucore.CommandList.
func (l *CommandList) CopyBufferRegion(dst gpucore.Buffer, dstOffset uint64, src gpucore.Buffer, srcOffset, size uint64) {
	d, okd := dst.(*Buffer)
	s, oks := src.(*Buffer)
	if !okd || !oks {
		return
	}
	l.dev.stats.Copies.Add(1)
	l.record(func(*executor) { d.write(dstOffset, s.read(srcOffset, size)) })
}

// CopyResource implements gpucore.CommandList.
func (l *CommandList) CopyResource(dst, src gpucore.Resource) {
	l.dev.stats.Copies.Add(1)
	switch d := dst.(type) {
	case *Buffer:
		if s, ok := src.(*Buffer); ok {
			l.record(func(*executor) { d.write(0, s.read(0, min(s.Size(), d.Size()))) })
		}
	case *Texture:
		if s, ok := src.(*Texture); ok {
			l.record(func(*executor) {
				s.mu.Lock()
				data := append([]byte(nil), s.data...)
				s.mu.Unlock()
				d.mu.Lock()
				copy(d.data, data)
				d.mu.Unlock()
			})
		}
	}
}

// UpdateBuffer implements gpucore.CommandList.
func (l *CommandList) UpdateBuffer(dst gpucore.Buffer, offset uint64, data []byte) {
	d, ok := dst.(*Buffer)
	if !ok {
		return
	}
	l.dev.stats.Copies.Add(1)
	staged := append([]byte(nil), data...)
	l.record(func(*executor) { d.write(offset, staged) })
}

// DiscardResource implements gpucore.CommandList.
func (l *CommandList) DiscardResource(gpucore.Resource) {
	l.dev.stats.Discards.Add(1)
}

// BeginQuery implements gpucore.CommandList.
func (l *CommandList) BeginQuery(heap gpucore.QueryHeap, index uint32) {
	h, ok := heap.(*QueryHeap)
	if !ok {
		return
	}
	l.record(func(e *executor) { e.beginQuery(h, index) })
}

// EndQuery implements gpucore.CommandList.
func (l *CommandList) EndQuery(heap gpucore.QueryHeap, index uint32) {
	h, ok := heap.(*QueryHeap)
	if !ok {
		return
	}
	l.record(func(e *executor) { e.endQuery(h, index) })
}

// ResolveQueryData implements gpucore.CommandList.
func (l *CommandList) ResolveQueryData(heap gpucore.QueryHeap, start, count uint32, dst gpucore.Buffer, dstOffset uint64) {
	h, okh := heap.(*QueryHeap)
	d, okd := dst.(*Buffer)
	if !okh || !okd {
		return
	}
	l.dev.stats.Resolves.Add(1)
	l.record(func(*executor) { d.write(dstOffset, h.load(start, count)) })
}
