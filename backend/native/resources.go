//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/immediate/gpucore"
)

// Buffer is a gpucore.Buffer backed by a hal.Buffer.
type Buffer struct {
	dev     *Device
	buffer  hal.Buffer
	label   string
	size    uint64
	usage   gpucore.BufferUsage
	address uint64

	// shadow is the CPU copy handed out by Map. It persists across maps.
	shadow []byte
}

// HAL returns the wrapped buffer.
func (b *Buffer) HAL() hal.Buffer { return b.buffer }

// NativeHandle implements gpucore.Resource.
func (b *Buffer) NativeHandle() uintptr { return b.buffer.NativeHandle() }

// Size implements gpucore.Buffer.
func (b *Buffer) Size() uint64 { return b.size }

// Usage implements gpucore.Buffer.
func (b *Buffer) Usage() gpucore.BufferUsage { return b.usage }

// GPUAddress implements gpucore.Buffer.
func (b *Buffer) GPUAddress() uint64 { return b.address }

// gpuWritable reports whether commands can change the contents, in which
// case the shadow must be refreshed on every map.
func (b *Buffer) gpuWritable() bool {
	return b.usage&(gpucore.BufferUsageMapRead|gpucore.BufferUsageCopyDst|
		gpucore.BufferUsageStorage|gpucore.BufferUsageQueryResolve) != 0
}

// Map implements gpucore.Buffer. The contents are read back from the GPU
// unless the buffer is write-only from the GPU's point of view.
func (b *Buffer) Map() ([]byte, error) {
	if !b.usage.HostVisible() {
		return nil, gpucore.ErrNotHostVisible
	}
	if b.shadow == nil {
		b.shadow = make([]byte, alignUp(b.size, 4))
	}
	if b.gpuWritable() {
		if err := b.dev.readBuffer(b, b.shadow); err != nil {
			return nil, err
		}
	}
	return b.shadow[:b.size], nil
}

// Unmap implements gpucore.Buffer. CPU writes reach the GPU here.
func (b *Buffer) Unmap() {
	if b.shadow == nil || b.usage&gpucore.BufferUsageMapWrite == 0 {
		return
	}
	b.dev.queueMu.Lock()
	b.dev.queue.WriteBuffer(b.buffer, 0, b.shadow)
	b.dev.queueMu.Unlock()
}

// Destroy implements gpucore.Destroyer.
func (b *Buffer) Destroy() {
	if b.buffer != nil {
		b.dev.device.DestroyBuffer(b.buffer)
		b.buffer = nil
	}
}

// readBuffer copies the contents of b into dst. Buffers without a
// host-readable HAL allocation go through a temporary staging buffer.
func (d *Device) readBuffer(b *Buffer, dst []byte) error {
	if convertBufferUsage(b.usage)&gputypes.BufferUsageMapRead != 0 {
		d.queueMu.Lock()
		defer d.queueMu.Unlock()
		if err := d.queue.ReadBuffer(b.buffer, 0, dst); err != nil {
			return fmt.Errorf("native: read %q: %w", b.label, err)
		}
		return nil
	}

	size := uint64(len(dst))
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: b.label + "_readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("native: create readback of %q: %w", b.label, err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "readback"})
	if err != nil {
		return fmt.Errorf("native: create readback encoder: %w", err)
	}
	if err := encoder.BeginEncoding("readback"); err != nil {
		return fmt.Errorf("native: begin readback encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(b.buffer, staging, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: size}})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: end readback encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("native: create readback fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	d.queueMu.Lock()
	err = d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1)
	d.queueMu.Unlock()
	if err != nil {
		return d.lose(fmt.Errorf("readback submit: %w", err))
	}
	ok, err := d.device.Wait(fence, 1, d.timeout)
	if err != nil {
		return d.lose(err)
	}
	if !ok {
		return d.lose(errors.New("readback wait timed out"))
	}

	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if err := d.queue.ReadBuffer(staging, 0, dst); err != nil {
		return fmt.Errorf("native: read %q: %w", b.label, err)
	}
	return nil
}

// Texture is a gpucore.Texture backed by a hal.Texture and its default
// view.
type Texture struct {
	dev     *Device
	texture hal.Texture
	view    hal.TextureView
	desc    gpucore.TextureDesc
}

// HAL returns the wrapped texture and its default view.
func (t *Texture) HAL() (hal.Texture, hal.TextureView) { return t.texture, t.view }

// NativeHandle implements gpucore.Resource.
func (t *Texture) NativeHandle() uintptr { return t.texture.NativeHandle() }

// Width implements gpucore.Texture.
func (t *Texture) Width() uint32 { return t.desc.Width }

// Height implements gpucore.Texture.
func (t *Texture) Height() uint32 { return t.desc.Height }

// Format implements gpucore.Texture.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// Destroy implements gpucore.Destroyer.
func (t *Texture) Destroy() { t.release() }

func (t *Texture) release() {
	if t.view != nil {
		t.dev.device.DestroyTextureView(t.view)
		t.view = nil
	}
	if t.texture != nil {
		t.dev.device.DestroyTexture(t.texture)
		t.texture = nil
	}
}

// Fence is a gpucore.Fence backed by a hal.Fence.
type Fence struct {
	dev   *Device
	fence hal.Fence

	mu        sync.Mutex
	completed uint64

	// pending holds submitted values not yet observed complete, ascending.
	pending []uint64
}

func (f *Fence) submitted(value uint64) {
	f.mu.Lock()
	f.pending = append(f.pending, value)
	f.mu.Unlock()
}

// observe records that the fence reached value.
func (f *Fence) observe(value uint64) {
	if value > f.completed {
		f.completed = value
	}
	i, _ := slices.BinarySearch(f.pending, value+1)
	f.pending = f.pending[i:]
}

// CompletedValue implements gpucore.Fence. Pending values are polled
// without blocking.
func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.pending) > 0 {
		v := f.pending[0]
		ok, err := f.dev.device.Wait(f.fence, v, 0)
		if err != nil || !ok {
			break
		}
		f.observe(v)
	}
	return f.completed
}

// WaitUntil implements gpucore.Fence.
func (f *Fence) WaitUntil(value uint64) error {
	f.mu.Lock()
	done := f.completed >= value
	f.mu.Unlock()
	if done {
		return nil
	}
	if err := f.dev.Status(); err != nil {
		return err
	}
	ok, err := f.dev.device.Wait(f.fence, value, f.dev.timeout)
	if err != nil {
		return f.dev.lose(err)
	}
	if !ok {
		return f.dev.lose(fmt.Errorf("fence wait for %d timed out after %v", value, f.dev.timeout))
	}
	f.mu.Lock()
	f.observe(value)
	f.mu.Unlock()
	return nil
}

// Destroy implements gpucore.Destroyer.
func (f *Fence) Destroy() {
	if f.fence != nil {
		f.dev.device.DestroyFence(f.fence)
		f.fence = nil
	}
}

// Queue is one logical queue. Both logical queues submit to the single
// HAL queue, which executes in submission order.
type Queue struct {
	dev  *Device
	kind gpucore.QueueKind
}

// Kind implements gpucore.Queue.
func (q *Queue) Kind() gpucore.QueueKind { return q.kind }

// Submit implements gpucore.Queue.
func (q *Queue) Submit(lists []gpucore.CommandList, fence gpucore.Fence, value uint64) error {
	if err := q.dev.check(); err != nil {
		return err
	}
	f, ok := fence.(*Fence)
	if !ok {
		return fmt.Errorf("%w: fence %T", ErrForeignObject, fence)
	}
	cmds := make([]hal.CommandBuffer, 0, len(lists))
	for _, l := range lists {
		nl, ok := l.(*CommandList)
		if !ok {
			return fmt.Errorf("%w: list %T", ErrForeignObject, l)
		}
		if nl.cmd == nil {
			return fmt.Errorf("native: submit of unclosed list %q", nl.label)
		}
		cmds = append(cmds, nl.cmd)
	}

	f.submitted(value)
	q.dev.queueMu.Lock()
	err := q.dev.queue.Submit(cmds, f.fence, value)
	q.dev.queueMu.Unlock()
	if err != nil {
		return q.dev.lose(fmt.Errorf("%s submit: %w", q.kind, err))
	}
	return nil
}

// Wait implements gpucore.Queue. Work on the other logical queue was
// submitted to the same HAL queue before the wait was requested, so
// submission order already provides the dependency.
func (q *Queue) Wait(gpucore.Fence, uint64) error {
	return q.dev.check()
}
