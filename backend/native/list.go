//go:build !nogpu

package native

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/immediate/gpucore"
)

// command is one recorded operation, replayed into a HAL encoder at Close.
type command func(e *encoder) error

// CommandList records gpucore commands in memory and encodes them into a
// hal.CommandBuffer when closed.
type CommandList struct {
	dev       *Device
	kind      gpucore.QueueKind
	label     string
	recording bool
	commands  []command
	windows   [gpucore.HeapTypeCount][]gpucore.Descriptor
	err       error

	// cmd is the encoded buffer of the last Close.
	cmd hal.CommandBuffer

	// groups and staging live until the list is reset, which happens only
	// after the GPU retired the buffer that references them.
	groups  map[groupKey]hal.BindGroup
	staging []hal.Buffer
}

func newCommandList(dev *Device, kind gpucore.QueueKind) *CommandList {
	l := &CommandList{dev: dev, kind: kind, groups: make(map[groupKey]hal.BindGroup)}
	for h := range l.windows {
		l.windows[h] = make([]gpucore.Descriptor, dev.limits.Capacity(gpucore.HeapType(h)))
	}
	return l
}

// Queue implements gpucore.CommandList.
func (l *CommandList) Queue() gpucore.QueueKind { return l.kind }

// Reset implements gpucore.CommandList.
func (l *CommandList) Reset(label string) error {
	if err := l.dev.check(); err != nil {
		return err
	}
	l.release()
	l.label = label
	l.recording = true
	l.commands = l.commands[:0]
	for h := range l.windows {
		clear(l.windows[h])
	}
	l.err = nil
	return nil
}

func (l *CommandList) release() {
	if l.cmd != nil {
		l.dev.device.FreeCommandBuffer(l.cmd)
		l.cmd = nil
	}
	for k, g := range l.groups {
		l.dev.device.DestroyBindGroup(g)
		delete(l.groups, k)
	}
	for _, b := range l.staging {
		l.dev.device.DestroyBuffer(b)
	}
	l.staging = l.staging[:0]
}

// Destroy implements gpucore.Destroyer.
func (l *CommandList) Destroy() { l.release() }

// Close implements gpucore.CommandList. Recording errors surface here.
func (l *CommandList) Close() error {
	if !l.recording {
		return ErrNotRecording
	}
	l.recording = false
	if l.err != nil {
		return l.err
	}

	enc, err := l.dev.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: l.label})
	if err != nil {
		return fmt.Errorf("native: create encoder %q: %w", l.label, err)
	}
	if err := enc.BeginEncoding(l.label); err != nil {
		return fmt.Errorf("native: begin encoding %q: %w", l.label, err)
	}
	e := newEncoder(l, enc)
	for _, c := range l.commands {
		if err := c(e); err != nil {
			e.endPasses()
			enc.DiscardEncoding()
			return fmt.Errorf("native: encode %q: %w", l.label, err)
		}
	}
	e.endPasses()
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: end encoding %q: %w", l.label, err)
	}
	l.cmd = cmd
	return nil
}

func (l *CommandList) record(c command) { l.commands = append(l.commands, c) }

func (l *CommandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

// ResourceBarrier implements gpucore.CommandList. Texture transitions map
// to HAL texture barriers; buffer transitions need none.
func (l *CommandList) ResourceBarrier(barriers []gpucore.Barrier) {
	var tb []hal.TextureBarrier
	for _, b := range barriers {
		tex, ok := b.Resource.(*Texture)
		if !ok {
			continue
		}
		before, after := textureUsageForState(b.Before), textureUsageForState(b.After)
		if before == after {
			continue
		}
		tb = append(tb, hal.TextureBarrier{
			Texture: tex.texture,
			Usage:   hal.TextureUsageTransition{OldUsage: before, NewUsage: after},
		})
	}
	if len(tb) == 0 {
		return
	}
	l.record(func(e *encoder) error {
		e.endPasses()
		e.enc.TransitionTextures(tb)
		return nil
	})
}

// WriteDescriptor implements gpucore.CommandList. Windows are read when
// the list is encoded.
func (l *CommandList) WriteDescriptor(heap gpucore.HeapType, index uint32, d gpucore.Descriptor) {
	if int(index) >= len(l.windows[heap]) {
		l.fail(fmt.Errorf("native: %s descriptor %d outside window of %d", heap, index, len(l.windows[heap])))
		return
	}
	l.windows[heap][index] = d
}

// SetPipelineState implements gpucore.CommandList.
func (l *CommandList) SetPipelineState(ps gpucore.PipelineState) {
	p, ok := ps.(*PipelineState)
	if !ok {
		l.fail(fmt.Errorf("%w: pipeline %T", ErrForeignObject, ps))
		return
	}
	l.record(func(e *encoder) error {
		e.pipeline[p.bind] = p
		return nil
	})
}

// SetRootSignature implements gpucore.CommandList.
func (l *CommandList) SetRootSignature(bind gpucore.BindPoint, rs gpucore.RootSignature) {
	r, ok := rs.(*RootSignature)
	if !ok {
		l.fail(fmt.Errorf("%w: root signature %T", ErrForeignObject, rs))
		return
	}
	l.record(func(e *encoder) error {
		e.roots[bind] = r
		clear(e.params[bind])
		return nil
	})
}

// SetDescriptorTable implements gpucore.CommandList.
func (l *CommandList) SetDescriptorTable(bind gpucore.BindPoint, param uint32, heap gpucore.HeapType, base uint32) {
	l.record(func(e *encoder) error {
		e.params[bind][param] = paramBinding{heap: heap, base: base}
		return nil
	})
}

// SetRootConstantBuffer implements gpucore.CommandList.
func (l *CommandList) SetRootConstantBuffer(bind gpucore.BindPoint, param uint32, buf gpucore.Buffer, offset uint64) {
	b, ok := buf.(*Buffer)
	if !ok {
		l.fail(fmt.Errorf("%w: buffer %T", ErrForeignObject, buf))
		return
	}
	l.record(func(e *encoder) error {
		e.params[bind][param] = paramBinding{buffer: b, offset: offset}
		return nil
	})
}

// SetIndexBuffer implements gpucore.CommandList.
func (l *CommandList) SetIndexBuffer(view *gpucore.IndexBufferView) {
	var v *gpucore.IndexBufferView
	if view != nil {
		cp := *view
		v = &cp
	}
	l.record(func(e *encoder) error {
		e.index = v
		return nil
	})
}

// SetVertexBuffers implements gpucore.CommandList.
func (l *CommandList) SetVertexBuffers(start uint32, views []gpucore.VertexBufferView) {
	vs := append([]gpucore.VertexBufferView(nil), views...)
	l.record(func(e *encoder) error {
		copy(e.vertex[start:], vs)
		return nil
	})
}

// SetPrimitiveTopology implements gpucore.CommandList. The topology is
// part of the pipeline.
func (l *CommandList) SetPrimitiveTopology(gputypes.PrimitiveTopology) {}

// SetViewports implements gpucore.CommandList. Only the first viewport
// is used.
func (l *CommandList) SetViewports(viewports []gpucore.Viewport) {
	vs := append([]gpucore.Viewport(nil), viewports...)
	l.record(func(e *encoder) error {
		e.viewports = vs
		return nil
	})
}

// SetScissorRects implements gpucore.CommandList. Only the first
// rectangle is used.
func (l *CommandList) SetScissorRects(rects []gpucore.Rect) {
	rs := append([]gpucore.Rect(nil), rects...)
	l.record(func(e *encoder) error {
		e.scissors = rs
		return nil
	})
}

// SetStencilRef implements gpucore.CommandList.
func (l *CommandList) SetStencilRef(ref uint32) {
	l.record(func(e *encoder) error {
		e.stencilRef = ref
		return nil
	})
}

// SetBlendFactor implements gpucore.CommandList.
func (l *CommandList) SetBlendFactor(factor gputypes.Color) {
	l.record(func(e *encoder) error {
		e.blendFactor = factor
		return nil
	})
}

// SetRenderTargets implements gpucore.CommandList.
func (l *CommandList) SetRenderTargets(rtvBase, count, dsvIndex uint32, hasDSV bool) {
	l.record(func(e *encoder) error {
		e.targets = targetBinding{rtvBase: rtvBase, count: count, dsvIndex: dsvIndex, hasDSV: hasDSV}
		e.targetsDirty = true
		return nil
	})
}

// DrawInstanced implements gpucore.CommandList.
func (l *CommandList) DrawInstanced(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	l.record(func(e *encoder) error {
		rp, err := e.prepareDraw()
		if err != nil {
			return err
		}
		rp.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
		return nil
	})
}

// DrawIndexedInstanced implements gpucore.CommandList.
func (l *CommandList) DrawIndexedInstanced(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	l.record(func(e *encoder) error {
		if e.index == nil {
			return fmt.Errorf("indexed draw without index buffer")
		}
		rp, err := e.prepareDraw()
		if err != nil {
			return err
		}
		rp.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
		return nil
	})
}

// Dispatch implements gpucore.CommandList.
func (l *CommandList) Dispatch(x, y, z uint32) {
	l.record(func(e *encoder) error {
		pass, err := e.prepareDispatch()
		if err != nil {
			return err
		}
		pass.Dispatch(x, y, z)
		return nil
	})
}

// ClearRenderTarget implements gpucore.CommandList.
func (l *CommandList) ClearRenderTarget(view gpucore.Descriptor, color gputypes.Color) {
	tex, ok := view.Resource.(*Texture)
	if !ok {
		l.fail(fmt.Errorf("%w: render target %T", ErrForeignObject, view.Resource))
		return
	}
	l.record(func(e *encoder) error {
		e.endPasses()
		rp := e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "clear_render_target",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       tex.view,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: color,
			}},
		})
		rp.End()
		return nil
	})
}

// ClearDepthStencil implements gpucore.CommandList.
func (l *CommandList) ClearDepthStencil(view gpucore.Descriptor, flags gpucore.ClearFlags, depth float32, stencil uint8) {
	tex, ok := view.Resource.(*Texture)
	if !ok {
		l.fail(fmt.Errorf("%w: depth-stencil %T", ErrForeignObject, view.Resource))
		return
	}
	l.record(func(e *encoder) error {
		e.endPasses()
		att := depthAttachment(tex)
		if flags&gpucore.ClearDepth != 0 {
			att.DepthLoadOp = gputypes.LoadOpClear
			att.DepthClearValue = depth
		}
		if flags&gpucore.ClearStencil != 0 && hasStencil(tex.desc.Format) {
			att.StencilLoadOp = gputypes.LoadOpClear
			att.StencilClearValue = uint32(stencil)
		}
		rp := e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label:                  "clear_depth_stencil",
			DepthStencilAttachment: att,
		})
		rp.End()
		return nil
	})
}

// ClearUnorderedAccess implements gpucore.CommandList. Buffer views are
// filled with values[0] through a staging copy; texture views are not
// supported.
func (l *CommandList) ClearUnorderedAccess(view gpucore.Descriptor, values [4]uint32) {
	buf, ok := view.Resource.(*Buffer)
	if !ok {
		l.fail(fmt.Errorf("native: clear of texture unordered access view: %w", gpucore.ErrUnsupported))
		return
	}
	size := view.Size
	if size == 0 {
		size = buf.size - view.Offset
	}
	data := make([]byte, size)
	for i := 0; i+4 <= len(data); i += 4 {
		binary.LittleEndian.PutUint32(data[i:], values[0])
	}
	l.UpdateBuffer(buf, view.Offset, data)
}

// CopyBufferRegion implements gpucore.CommandList.
func (l *CommandList) CopyBufferRegion(dst gpucore.Buffer, dstOffset uint64, src gpucore.Buffer, srcOffset, size uint64) {
	d, ok1 := dst.(*Buffer)
	s, ok2 := src.(*Buffer)
	if !ok1 || !ok2 {
		l.fail(fmt.Errorf("%w: copy %T to %T", ErrForeignObject, src, dst))
		return
	}
	if size%4 != 0 || srcOffset%4 != 0 || dstOffset%4 != 0 {
		l.fail(fmt.Errorf("%w: copy of %d bytes", ErrUnalignedUpdate, size))
		return
	}
	l.record(func(e *encoder) error {
		e.endPasses()
		e.enc.CopyBufferToBuffer(s.buffer, d.buffer, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
		return nil
	})
}

// CopyResource implements gpucore.CommandList. Texture copies go through
// a staging buffer with rows padded to the copy pitch alignment.
func (l *CommandList) CopyResource(dst, src gpucore.Resource) {
	switch s := src.(type) {
	case *Buffer:
		d, ok := dst.(*Buffer)
		if !ok {
			l.fail(fmt.Errorf("%w: copy buffer to %T", ErrForeignObject, dst))
			return
		}
		size := alignUp(min(s.size, d.size), 4)
		l.record(func(e *encoder) error {
			e.endPasses()
			e.enc.CopyBufferToBuffer(s.buffer, d.buffer, []hal.BufferCopy{{Size: size}})
			return nil
		})
	case *Texture:
		d, ok := dst.(*Texture)
		if !ok {
			l.fail(fmt.Errorf("%w: copy texture to %T", ErrForeignObject, dst))
			return
		}
		l.copyTexture(d, s)
	default:
		l.fail(fmt.Errorf("%w: copy from %T", ErrForeignObject, src))
	}
}

// copyPitchAlignment is the required row alignment of buffer-texture copies.
const copyPitchAlignment = 256

func (l *CommandList) copyTexture(dst, src *Texture) {
	bpp, ok := bytesPerTexel(src.desc.Format)
	if !ok {
		l.fail(fmt.Errorf("native: copy of %v texture: %w", src.desc.Format, gpucore.ErrUnsupported))
		return
	}
	w, h := min(src.desc.Width, dst.desc.Width), min(src.desc.Height, dst.desc.Height)
	pitch := uint32(alignUp(uint64(w*bpp), copyPitchAlignment))
	staging, err := l.stagingBuffer(uint64(pitch) * uint64(h))
	if err != nil {
		l.fail(err)
		return
	}
	layout := hal.ImageDataLayout{Offset: 0, BytesPerRow: pitch, RowsPerImage: h}
	extent := hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1}
	l.record(func(e *encoder) error {
		e.endPasses()
		e.enc.CopyTextureToBuffer(src.texture, staging, []hal.BufferTextureCopy{{
			BufferLayout: layout,
			TextureBase:  hal.ImageCopyTexture{Texture: src.texture, MipLevel: 0},
			Size:         extent,
		}})
		e.enc.CopyBufferToTexture(staging, dst.texture, []hal.BufferTextureCopy{{
			BufferLayout: layout,
			TextureBase:  hal.ImageCopyTexture{Texture: dst.texture, MipLevel: 0},
			Size:         extent,
		}})
		return nil
	})
}

// UpdateBuffer implements gpucore.CommandList. The data is uploaded to a
// staging buffer now and copied into dst when the list executes.
func (l *CommandList) UpdateBuffer(dst gpucore.Buffer, offset uint64, data []byte) {
	d, ok := dst.(*Buffer)
	if !ok {
		l.fail(fmt.Errorf("%w: update of %T", ErrForeignObject, dst))
		return
	}
	size := uint64(len(data))
	if size == 0 {
		return
	}
	if size%4 != 0 || offset%4 != 0 {
		l.fail(fmt.Errorf("%w: %d bytes at offset %d", ErrUnalignedUpdate, size, offset))
		return
	}
	staging, err := l.stagingBuffer(size)
	if err != nil {
		l.fail(err)
		return
	}
	l.dev.queueMu.Lock()
	l.dev.queue.WriteBuffer(staging, 0, data)
	l.dev.queueMu.Unlock()
	l.record(func(e *encoder) error {
		e.endPasses()
		e.enc.CopyBufferToBuffer(staging, d.buffer, []hal.BufferCopy{{SrcOffset: 0, DstOffset: offset, Size: size}})
		return nil
	})
}

func (l *CommandList) stagingBuffer(size uint64) (hal.Buffer, error) {
	buf, err := l.dev.device.CreateBuffer(&hal.BufferDescriptor{
		Label: l.label + "_staging",
		Size:  alignUp(size, 4),
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create staging buffer: %w", err)
	}
	l.staging = append(l.staging, buf)
	return buf, nil
}

// DiscardResource implements gpucore.CommandList. HAL devices have no
// discard; the contents are simply kept.
func (l *CommandList) DiscardResource(gpucore.Resource) {}

// BeginQuery implements gpucore.CommandList.
func (l *CommandList) BeginQuery(heap gpucore.QueryHeap, _ uint32) {
	l.fail(fmt.Errorf("native: %T query: %w", heap, gpucore.ErrUnsupported))
}

// EndQuery implements gpucore.CommandList.
func (l *CommandList) EndQuery(heap gpucore.QueryHeap, _ uint32) {
	l.fail(fmt.Errorf("native: %T query: %w", heap, gpucore.ErrUnsupported))
}

// ResolveQueryData implements gpucore.CommandList.
func (l *CommandList) ResolveQueryData(heap gpucore.QueryHeap, _, _ uint32, _ gpucore.Buffer, _ uint64) {
	l.fail(fmt.Errorf("native: %T query resolve: %w", heap, gpucore.ErrUnsupported))
}

func bytesPerTexel(f gputypes.TextureFormat) (uint32, bool) {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1, true
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float:
		return 4, true
	case gputypes.TextureFormatRG32Float:
		return 8, true
	case gputypes.TextureFormatRGBA32Float:
		return 16, true
	default:
		return 0, false
	}
}

func hasStencil(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatDepth24PlusStencil8 || f == gputypes.TextureFormatStencil8
}
