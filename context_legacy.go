package immediate

import (
	"github.com/gogpu/immediate/resource"
)

// Legacy operations with no faithful translation. Each fails with a
// *NotImplementedError rather than approximating its behavior.

// FinishCommandList would close a deferred context's recording.
func (c *Context) FinishCommandList() error { return notImplemented("FinishCommandList") }

// ExecuteCommandList would replay a deferred context's recording.
func (c *Context) ExecuteCommandList() error { return notImplemented("ExecuteCommandList") }

// SetPredication would make rendering conditional on a predicate query.
func (c *Context) SetPredication(*Query, bool) error { return notImplemented("SetPredication") }

// DrawInstancedIndirect would take draw arguments from a buffer.
func (c *Context) DrawInstancedIndirect(*resource.Buffer, uint64) error {
	return notImplemented("DrawInstancedIndirect")
}

// DrawIndexedInstancedIndirect would take indexed draw arguments from a
// buffer.
func (c *Context) DrawIndexedInstancedIndirect(*resource.Buffer, uint64) error {
	return notImplemented("DrawIndexedInstancedIndirect")
}

// DispatchIndirect would take dispatch arguments from a buffer.
func (c *Context) DispatchIndirect(*resource.Buffer, uint64) error {
	return notImplemented("DispatchIndirect")
}

// DrawAuto would draw the vertex count of a stream-output buffer.
func (c *Context) DrawAuto() error { return notImplemented("DrawAuto") }

// SetStreamOutputTargets would bind stream-output buffers.
func (c *Context) SetStreamOutputTargets([]*resource.Buffer, []uint64) error {
	return notImplemented("SetStreamOutputTargets")
}

// GenerateMips would fill the mip chain of a texture.
func (c *Context) GenerateMips(*resource.View) error { return notImplemented("GenerateMips") }

// ClearState would reset every binding to its default.
func (c *Context) ClearState() error { return notImplemented("ClearState") }

// DiscardView would discard the subresources behind a view.
func (c *Context) DiscardView(*resource.View) error { return notImplemented("DiscardView") }

// SetResourceMinLOD would clamp the sampled mip level of a texture.
func (c *Context) SetResourceMinLOD(*resource.Texture, float32) error {
	return notImplemented("SetResourceMinLOD")
}

// CopyStructureCount would copy the hidden counter of an append buffer.
func (c *Context) CopyStructureCount(*resource.Buffer, uint64, *resource.View) error {
	return notImplemented("CopyStructureCount")
}
