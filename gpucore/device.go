package gpucore

import (
	"errors"

	"github.com/gogpu/gputypes"
)

// Backend errors.
var (
	// ErrDeviceLost is returned by every blocking wait once the device is lost.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrUnsupported is returned when a backend cannot provide a feature.
	ErrUnsupported = errors.New("gpucore: unsupported by backend")

	// ErrNotHostVisible is returned when mapping a buffer without map usage.
	ErrNotHostVisible = errors.New("gpucore: buffer is not host visible")
)

// Destroyer releases backend memory that the garbage collector does not
// manage. Destroy must be called explicitly.
type Destroyer interface {
	Destroy()
}

// Resource is a native GPU allocation that commands can reference.
type Resource interface {
	Destroyer

	// NativeHandle returns the backend handle for debugging and interop.
	NativeHandle() uintptr
}

// Buffer is a linear GPU allocation.
type Buffer interface {
	Resource

	// Size returns the size in bytes.
	Size() uint64

	// Usage returns the usage the buffer was created with.
	Usage() BufferUsage

	// GPUAddress returns the virtual address used for root constant buffers.
	GPUAddress() uint64

	// Map returns CPU-visible memory of the whole buffer. The slice stays
	// valid until Unmap. Map fails with ErrNotHostVisible for buffers
	// without map usage.
	Map() ([]byte, error)

	// Unmap releases the mapping and publishes CPU writes to the GPU.
	Unmap()
}

// Texture is a 2D GPU image.
type Texture interface {
	Resource

	Width() uint32
	Height() uint32
	Format() gputypes.TextureFormat
}

// Fence is a monotonic counter signaled by a queue.
type Fence interface {
	Destroyer

	// CompletedValue returns the highest value observed signaled.
	CompletedValue() uint64

	// WaitUntil blocks until the fence reaches value. It returns
	// ErrDeviceLost if the device is lost while waiting.
	WaitUntil(value uint64) error
}

// Queue executes closed command lists in submission order.
type Queue interface {
	// Kind returns the logical queue kind.
	Kind() QueueKind

	// Submit executes lists and then signals fence with value. lists may
	// be empty to insert a bare signal.
	Submit(lists []CommandList, fence Fence, value uint64) error

	// Wait makes work submitted after this call wait on the GPU until
	// fence reaches value. The CPU does not block.
	Wait(fence Fence, value uint64) error
}

// PipelineState is an immutable compiled pipeline object.
type PipelineState interface {
	Destroyer
	BindPoint() BindPoint
}

// RootSignature is an immutable binding layout object.
type RootSignature interface {
	Destroyer
	Desc() *RootSignatureDesc
}

// QueryHeap is a fixed array of query slots.
type QueryHeap interface {
	Destroyer
	Type() QueryType
	Count() uint32
}

// CommandList records GPU commands. Usage:
//
//  1. Reset to begin recording.
//  2. Record state, descriptor, draw, copy and query commands.
//  3. Close, then submit through Queue.Submit.
//
// A list must not be reset again until the fence value it was submitted
// with has been reached.
type CommandList interface {
	Destroyer

	// Queue returns the queue the list targets.
	Queue() QueueKind

	// Reset begins recording and clears the descriptor window.
	Reset(label string) error

	// Close ends recording.
	Close() error

	// ResourceBarrier records state transitions.
	ResourceBarrier(barriers []Barrier)

	// WriteDescriptor stores d at index of the list's window in heap.
	WriteDescriptor(heap HeapType, index uint32, d Descriptor)

	SetPipelineState(ps PipelineState)
	SetRootSignature(bind BindPoint, rs RootSignature)

	// SetDescriptorTable points root parameter param at the window of
	// heap starting at base.
	SetDescriptorTable(bind BindPoint, param uint32, heap HeapType, base uint32)

	// SetRootConstantBuffer binds buf at offset to root parameter param.
	SetRootConstantBuffer(bind BindPoint, param uint32, buf Buffer, offset uint64)

	// SetIndexBuffer binds the index buffer; nil unbinds.
	SetIndexBuffer(view *IndexBufferView)
	SetVertexBuffers(start uint32, views []VertexBufferView)
	SetPrimitiveTopology(t gputypes.PrimitiveTopology)
	SetViewports(viewports []Viewport)
	SetScissorRects(rects []Rect)
	SetStencilRef(ref uint32)
	SetBlendFactor(factor gputypes.Color)

	// SetRenderTargets binds count render target descriptors starting at
	// rtvBase of the render target window and, if hasDSV, the depth-stencil
	// descriptor at dsvIndex.
	SetRenderTargets(rtvBase, count uint32, dsvIndex uint32, hasDSV bool)

	DrawInstanced(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexedInstanced(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32)
	Dispatch(x, y, z uint32)

	ClearRenderTarget(view Descriptor, color gputypes.Color)
	ClearDepthStencil(view Descriptor, flags ClearFlags, depth float32, stencil uint8)
	ClearUnorderedAccess(view Descriptor, values [4]uint32)

	CopyBufferRegion(dst Buffer, dstOffset uint64, src Buffer, srcOffset, size uint64)
	CopyResource(dst, src Resource)

	// UpdateBuffer uploads data to dst at execution time. The data is
	// copied when recorded.
	UpdateBuffer(dst Buffer, offset uint64, data []byte)
	DiscardResource(r Resource)

	BeginQuery(heap QueryHeap, index uint32)
	EndQuery(heap QueryHeap, index uint32)

	// ResolveQueryData copies count slots starting at start into dst.
	ResolveQueryData(heap QueryHeap, start, count uint32, dst Buffer, dstOffset uint64)
}

// Device creates the objects of the explicit API.
type Device interface {
	Destroyer

	// Queue returns the queue for kind.
	Queue(kind QueueKind) Queue

	CreateFence() (Fence, error)
	CreateCommandList(kind QueueKind) (CommandList, error)
	CreateRootSignature(desc *RootSignatureDesc) (RootSignature, error)
	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (PipelineState, error)
	CreateComputePipeline(desc *ComputePipelineDesc) (PipelineState, error)
	CreateBuffer(desc *BufferDesc) (Buffer, error)
	CreateTexture(desc *TextureDesc) (Texture, error)
	CreateQueryHeap(kind QueryType, count uint32) (QueryHeap, error)

	// TimestampFrequency returns timestamp ticks per second.
	TimestampFrequency() uint64

	// Limits returns the descriptor window capacities of command lists.
	Limits() Limits

	// Status returns nil while the device is healthy and an error
	// wrapping ErrDeviceLost afterwards.
	Status() error
}
