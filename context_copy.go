package immediate

import (
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/internal/cmdlist"
	"github.com/gogpu/immediate/resource"
)

// CopyFlags modify how a copy synchronizes with pending GPU work on its
// destination.
type CopyFlags uint8

// Copy flags.
const (
	CopyNone CopyFlags = 0

	// CopyNoOverwrite promises the copy does not touch data the GPU may
	// still use, so no dependency on the destination is recorded.
	CopyNoOverwrite CopyFlags = 1 << 0

	// CopyDiscard allows a busy destination buffer to get a fresh
	// allocation first.
	CopyDiscard CopyFlags = 1 << 1
)

// copyList prepares the copy list for a copy from src into dst. Work on
// the graphics queue that the copy must follow is submitted first, so
// copy lists never wait for an unsubmitted graphics list.
func (c *Context) copyList(dst, src resource.Resource, flags CopyFlags) (*cmdlist.List, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if b, ok := dst.(*resource.Buffer); ok && flags&CopyDiscard != 0 {
		if err := c.discard(b); err != nil {
			return nil, err
		}
	}
	if flags&CopyNoOverwrite == 0 {
		if err := c.hazard(gpucore.QueueCopy, dst, resource.AccessWrite); err != nil {
			return nil, err
		}
	} else if c.IsBusy(dst) {
		c.invalid("no-overwrite copy into a resource the GPU may still use")
	}
	if src != nil {
		if err := c.hazard(gpucore.QueueCopy, src, resource.AccessAny); err != nil {
			return nil, err
		}
	}
	l, err := c.list(gpucore.QueueCopy)
	if err != nil {
		return nil, err
	}
	l.Transition(dst, gpucore.StateCopyDest)
	if flags&CopyNoOverwrite == 0 {
		l.Track(dst, resource.AccessWrite)
	} else {
		dst.MarkUsed(gpucore.QueueCopy, resource.AccessWrite, l.FenceValue())
		l.MarkUtilized()
	}
	if src != nil {
		l.Transition(src, gpucore.StateCopySource)
		l.Track(src, resource.AccessAny)
	}
	return l, nil
}

// copied finishes a copy into dst. Slots dst is bound to are raised so
// the next draw transitions it back and waits for the copy.
func (c *Context) copied(dst resource.Resource) {
	c.stats.NumCopies++
	c.rebind(dst)
}

// CopyResource copies the whole of src into dst on the copy queue.
func (c *Context) CopyResource(dst, src resource.Resource) error {
	l, err := c.copyList(dst, src, CopyNone)
	if err != nil {
		return err
	}
	l.Native().CopyResource(dst.Native(), src.Native())
	c.copied(dst)
	return nil
}

// inRange reports whether size bytes at offset fit in a buffer of total
// bytes without overflowing.
func inRange(total, offset, size uint64) bool {
	return size <= total && offset <= total-size
}

// CopySubresourceRegion copies size bytes from src at srcOffset into dst
// at dstOffset on the copy queue.
func (c *Context) CopySubresourceRegion(dst *resource.Buffer, dstOffset uint64, src *resource.Buffer, srcOffset, size uint64, flags CopyFlags) error {
	if !inRange(dst.Size(), dstOffset, size) || !inRange(src.Size(), srcOffset, size) {
		return fmt.Errorf("%w: copy of %d bytes from %d to %d", ErrOutOfRange, size, srcOffset, dstOffset)
	}
	l, err := c.copyList(dst, src, flags)
	if err != nil {
		return err
	}
	l.Native().CopyBufferRegion(dst.Allocation(), dstOffset, src.Allocation(), srcOffset, size)
	c.copied(dst)
	return nil
}

// CopyTextureRegion always fails: only whole-texture copies are emulated.
func (c *Context) CopyTextureRegion(*resource.Texture, *resource.Texture) error {
	return notImplemented("CopyTextureRegion")
}

// UpdateSubresource uploads data into dst at offset through the copy
// queue. The data is captured when the call returns.
func (c *Context) UpdateSubresource(dst *resource.Buffer, offset uint64, data []byte, flags CopyFlags) error {
	if !inRange(dst.Size(), offset, uint64(len(data))) {
		return fmt.Errorf("%w: update of %d bytes at %d", ErrOutOfRange, len(data), offset)
	}
	if len(data) == 0 {
		return nil
	}
	l, err := c.copyList(dst, nil, flags)
	if err != nil {
		return err
	}
	l.Native().UpdateBuffer(dst.Allocation(), offset, data)
	c.copied(dst)
	return nil
}

// clearList prepares the graphics list for a clear of r in state s.
func (c *Context) clearList(r resource.Resource, s gpucore.ResourceState) (*cmdlist.List, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	l, err := c.list(gpucore.QueueGraphics)
	if err != nil {
		return nil, err
	}
	l.Transition(r, s)
	l.Track(r, resource.AccessWrite)
	c.rebind(r)
	return l, nil
}

// ClearRenderTargetView fills a render target view with color.
func (c *Context) ClearRenderTargetView(v *resource.View, color gputypes.Color) error {
	if v.Kind() != gpucore.ViewRenderTarget {
		return fmt.Errorf("%w: clear of a %s view as render target", resource.ErrInvalidView, v.Kind())
	}
	l, err := c.clearList(v.Resource(), gpucore.StateRenderTarget)
	if err != nil {
		return err
	}
	l.Native().ClearRenderTarget(v.Descriptor(), color)
	return nil
}

// ClearDepthStencilView clears the depth and/or stencil planes selected
// by flags.
func (c *Context) ClearDepthStencilView(v *resource.View, flags gpucore.ClearFlags, depth float32, stencil uint8) error {
	if v.Kind() != gpucore.ViewDepthStencil {
		return fmt.Errorf("%w: clear of a %s view as depth-stencil", resource.ErrInvalidView, v.Kind())
	}
	l, err := c.clearList(v.Resource(), gpucore.StateDepthWrite)
	if err != nil {
		return err
	}
	l.Native().ClearDepthStencil(v.Descriptor(), flags, depth, stencil)
	return nil
}

// ClearUnorderedAccessViewUint fills an unordered access view with raw
// values.
func (c *Context) ClearUnorderedAccessViewUint(v *resource.View, values [4]uint32) error {
	if v.Kind() != gpucore.ViewUnorderedAccess {
		return fmt.Errorf("%w: clear of a %s view as unordered access", resource.ErrInvalidView, v.Kind())
	}
	l, err := c.clearList(v.Resource(), gpucore.StateUnorderedAccess)
	if err != nil {
		return err
	}
	l.Native().ClearUnorderedAccess(v.Descriptor(), values)
	return nil
}

// ClearUnorderedAccessViewFloat fills an unordered access view with
// float values.
func (c *Context) ClearUnorderedAccessViewFloat(v *resource.View, values [4]float32) error {
	var bits [4]uint32
	for i, f := range values {
		bits[i] = math.Float32bits(f)
	}
	return c.ClearUnorderedAccessViewUint(v, bits)
}

// DiscardResource declares the contents of r undefined. Graphics work
// that references r is submitted first; the discard is recorded on the
// copy list, which is submitted at once.
func (c *Context) DiscardResource(r resource.Resource) error {
	if err := c.usable(); err != nil {
		return err
	}
	if err := c.hazard(gpucore.QueueCopy, r, resource.AccessWrite); err != nil {
		return err
	}
	l, err := c.list(gpucore.QueueCopy)
	if err != nil {
		return err
	}
	l.Track(r, resource.AccessWrite)
	l.Native().DiscardResource(r.Native())
	c.rebind(r)
	return c.submit(gpucore.QueueCopy, false)
}
