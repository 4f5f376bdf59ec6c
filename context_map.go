package immediate

import (
	"fmt"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/internal/state"
	"github.com/gogpu/immediate/resource"
)

// MapType selects how Map synchronizes with the GPU.
type MapType uint8

// Map types.
const (
	// MapRead waits for pending GPU writes.
	MapRead MapType = iota + 1

	// MapWrite waits for every pending GPU use.
	MapWrite

	// MapReadWrite waits for every pending GPU use.
	MapReadWrite

	// MapWriteDiscard never waits: a buffer still in use gets a fresh
	// allocation and the old one retires once the GPU is done with it.
	MapWriteDiscard

	// MapWriteNoOverwrite never waits. The caller promises not to touch
	// ranges the GPU may still read.
	MapWriteNoOverwrite
)

// String returns the map type name.
func (m MapType) String() string {
	switch m {
	case MapRead:
		return "read"
	case MapWrite:
		return "write"
	case MapReadWrite:
		return "read-write"
	case MapWriteDiscard:
		return "write-discard"
	case MapWriteNoOverwrite:
		return "write-no-overwrite"
	default:
		return fmt.Sprintf("MapType(%d)", m)
	}
}

// usage returns the buffer usage the map type requires.
func (m MapType) usage() (gpucore.BufferUsage, bool) {
	switch m {
	case MapRead:
		return gpucore.BufferUsageMapRead, true
	case MapReadWrite:
		return gpucore.BufferUsageMapRead | gpucore.BufferUsageMapWrite, true
	case MapWrite, MapWriteDiscard, MapWriteNoOverwrite:
		return gpucore.BufferUsageMapWrite, true
	default:
		return 0, false
	}
}

// MapFlag modifies Map.
type MapFlag uint8

// MapDoNotWait makes Map fail with ErrStillDrawing instead of blocking.
const MapDoNotWait MapFlag = 1

// Map returns CPU-visible memory of b. The slice is valid until Unmap.
// A buffer busy on the GPU either blocks, rotates its allocation or
// fails, depending on mt and flags.
func (c *Context) Map(b *resource.Buffer, mt MapType, flags MapFlag) ([]byte, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	need, ok := mt.usage()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMapType, mt)
	}
	desc := b.Desc()
	if desc.Usage&need != need {
		return nil, fmt.Errorf("%w: %s on buffer %q", ErrInvalidMapType, mt, desc.Label)
	}
	if _, ok := c.mapped[b]; ok {
		return nil, ErrAlreadyMapped
	}

	switch mt {
	case MapWriteDiscard:
		if err := c.discard(b); err != nil {
			return nil, err
		}
	case MapWriteNoOverwrite:
	case MapRead:
		if err := c.waitUnused(b, resource.AccessWrite, flags); err != nil {
			return nil, err
		}
	default:
		if err := c.waitUnused(b, resource.AccessAny, flags); err != nil {
			return nil, err
		}
	}

	data, err := b.Allocation().Map()
	if err != nil {
		return nil, fmt.Errorf("immediate: map %q: %w", desc.Label, err)
	}
	c.mapped[b] = mt
	return data, nil
}

// Unmap releases a mapping made by Map.
func (c *Context) Unmap(b *resource.Buffer) error {
	if _, ok := c.mapped[b]; !ok {
		return ErrNotMapped
	}
	b.Allocation().Unmap()
	delete(c.mapped, b)
	return nil
}

// waitUnused blocks until r has no pending use of kind. With
// MapDoNotWait it instead submits the work holding r and fails.
func (c *Context) waitUnused(r resource.Resource, kind resource.Access, flags MapFlag) error {
	if !resource.InUse(r, kind, c.fences.CompletedValues()) {
		return nil
	}
	if flags&MapDoNotWait == 0 {
		return r.WaitForUnused(c, kind)
	}
	for i, v := range r.FenceValues(kind) {
		if q := gpucore.QueueKind(i); c.fences.Pending(q, v) {
			if err := c.submit(q, false); err != nil {
				return err
			}
		}
	}
	return ErrStillDrawing
}

// discard gives b a fresh allocation if the GPU may still use the
// current one.
func (c *Context) discard(b *resource.Buffer) error {
	completed := c.fences.CompletedValues()
	if !resource.InUse(b, resource.AccessAny, completed) {
		c.stats.NumMapDiscardSkips++
		return nil
	}
	if err := b.Discard(completed); err != nil {
		return fmt.Errorf("immediate: %w", err)
	}
	c.stats.NumMapDiscards++
	c.rebind(b)
	c.logger.Debug("immediate: buffer discarded", "label", b.Desc().Label, "allocations", b.Allocations())
	return nil
}

// rebind raises the dirty bit of every slot r is bound to, so the next
// draw records r again with its current allocation and fence value.
func (c *Context) rebind(r resource.Resource) {
	t := c.state
	isBuffer := func(b *resource.Buffer) bool { return b != nil && resource.Resource(b) == r }
	isView := func(v *resource.View) bool { return v.Resource() == r }

	if isBuffer(t.IndexBuffer.Buffer) {
		t.Mark(gpucore.BindGraphics, state.DirtyIndexBuffer)
	}
	if t.VertexBuffers.Contains(func(vb state.VertexBuffer) bool { return isBuffer(vb.Buffer) }) {
		t.Mark(gpucore.BindGraphics, state.DirtyVertexBuffers)
	}
	for i := range t.Stages {
		st := &t.Stages[i]
		bp := state.BindPointOf(gpucore.ShaderStage(i))
		if st.ConstantBuffers.Contains(func(cb state.ConstantBuffer) bool { return isBuffer(cb.Buffer) }) {
			t.Mark(bp, state.DirtyConstantBuffers)
		}
		if st.ShaderResources.Contains(isView) {
			t.Mark(bp, state.DirtyShaderResources)
		}
		if st.UnorderedAccess.Contains(isView) {
			t.Mark(bp, state.DirtyUnorderedAccess)
		}
	}
	if t.IsOutput(r) {
		t.Mark(gpucore.BindGraphics, state.DirtyOutputViews)
	}
}

// IsBusy reports whether the GPU may still use r.
func (c *Context) IsBusy(r resource.Resource) bool {
	return resource.InUse(r, resource.AccessAny, c.fences.CompletedValues())
}

// TestStagingResource reports whether r is free of in-flight GPU work,
// so the CPU may touch it without waiting.
func (c *Context) TestStagingResource(r resource.Resource) bool {
	return !c.IsBusy(r)
}

// WaitStagingResource submits the work that uses r and blocks until it
// retires.
func (c *Context) WaitStagingResource(r resource.Resource) error {
	if err := c.usable(); err != nil {
		return err
	}
	return r.WaitForUnused(c, resource.AccessAny)
}
