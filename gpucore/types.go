package gpucore

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
)

// QueueKind identifies a logical hardware queue.
type QueueKind uint8

// Logical queues.
const (
	// QueueGraphics executes draws, dispatches, clears and queries.
	QueueGraphics QueueKind = iota

	// QueueCopy executes copies, uploads and discards.
	QueueCopy
)

// QueueCount is the number of logical queues modeled.
const QueueCount = 2

// String returns the queue name.
func (q QueueKind) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCopy:
		return "copy"
	default:
		return fmt.Sprintf("QueueKind(%d)", q)
	}
}

// FenceValues holds one fence value per logical queue.
type FenceValues [QueueCount]uint64

// Max returns the per-queue maximum of v and o.
func (v FenceValues) Max(o FenceValues) FenceValues {
	for i := range v {
		if o[i] > v[i] {
			v[i] = o[i]
		}
	}
	return v
}

// Without returns a copy of v with the entry for q zeroed.
func (v FenceValues) Without(q QueueKind) FenceValues {
	v[q] = 0
	return v
}

// IsZero reports whether no queue has a recorded value.
func (v FenceValues) IsZero() bool {
	return v == FenceValues{}
}

// HeapType selects a descriptor heap.
type HeapType uint8

// Descriptor heap types.
const (
	// HeapResource holds constant buffer, shader resource and unordered access views.
	HeapResource HeapType = iota

	// HeapSampler holds samplers.
	HeapSampler

	// HeapRenderTarget holds render target views.
	HeapRenderTarget

	// HeapDepthStencil holds depth-stencil views.
	HeapDepthStencil
)

// HeapTypeCount is the number of descriptor heap types.
const HeapTypeCount = 4

// String returns the heap name.
func (h HeapType) String() string {
	switch h {
	case HeapResource:
		return "resource"
	case HeapSampler:
		return "sampler"
	case HeapRenderTarget:
		return "render-target"
	case HeapDepthStencil:
		return "depth-stencil"
	default:
		return fmt.Sprintf("HeapType(%d)", h)
	}
}

// ViewKind is the kind of a descriptor.
type ViewKind uint8

// Descriptor kinds.
const (
	ViewNone ViewKind = iota
	ViewConstantBuffer
	ViewShaderResource
	ViewUnorderedAccess
	ViewSampler
	ViewRenderTarget
	ViewDepthStencil
)

// Heap returns the heap type a descriptor of this kind lives in.
func (k ViewKind) Heap() HeapType {
	switch k {
	case ViewSampler:
		return HeapSampler
	case ViewRenderTarget:
		return HeapRenderTarget
	case ViewDepthStencil:
		return HeapDepthStencil
	default:
		return HeapResource
	}
}

// String returns the short view name used in labels and logs.
func (k ViewKind) String() string {
	switch k {
	case ViewNone:
		return "none"
	case ViewConstantBuffer:
		return "cbv"
	case ViewShaderResource:
		return "srv"
	case ViewUnorderedAccess:
		return "uav"
	case ViewSampler:
		return "sampler"
	case ViewRenderTarget:
		return "rtv"
	case ViewDepthStencil:
		return "dsv"
	default:
		return fmt.Sprintf("ViewKind(%d)", k)
	}
}

// ResourceState is a bitmask of GPU-visible resource usages.
type ResourceState uint32

// Resource states.
const (
	StateCommon                  ResourceState = 0
	StateVertexAndConstantBuffer ResourceState = 1 << 0
	StateIndexBuffer             ResourceState = 1 << 1
	StateRenderTarget            ResourceState = 1 << 2
	StateUnorderedAccess         ResourceState = 1 << 3
	StateDepthWrite              ResourceState = 1 << 4
	StateDepthRead               ResourceState = 1 << 5
	StateNonPixelShaderResource  ResourceState = 1 << 6
	StatePixelShaderResource     ResourceState = 1 << 7
	StateCopyDest                ResourceState = 1 << 10
	StateCopySource              ResourceState = 1 << 11

	// StateGenericRead is the union of all read-only states.
	StateGenericRead = StateVertexAndConstantBuffer | StateIndexBuffer |
		StateNonPixelShaderResource | StatePixelShaderResource | StateCopySource
)

// IsWrite reports whether the state allows GPU writes.
func (s ResourceState) IsWrite() bool {
	return s&(StateRenderTarget|StateUnorderedAccess|StateDepthWrite|StateCopyDest) != 0
}

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be mapped for reading.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageMapWrite indicates the buffer can be mapped for writing.
	BufferUsageMapWrite BufferUsage = 1 << 1

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageIndex indicates the buffer can be used as an index buffer.
	BufferUsageIndex BufferUsage = 1 << 4

	// BufferUsageVertex indicates the buffer can be used as a vertex buffer.
	BufferUsageVertex BufferUsage = 1 << 5

	// BufferUsageUniform indicates the buffer can be used as a constant buffer.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage indicates the buffer can be used for shader resource
	// or unordered access views.
	BufferUsageStorage BufferUsage = 1 << 7

	// BufferUsageQueryResolve indicates the buffer receives resolved query data.
	BufferUsageQueryResolve BufferUsage = 1 << 8
)

// HostVisible reports whether buffers with this usage can be mapped.
func (u BufferUsage) HostVisible() bool {
	return u&(BufferUsageMapRead|BufferUsageMapWrite) != 0
}

// TextureUsage is a bitmask specifying how a texture will be used.
type TextureUsage uint32

// Texture usage flags.
const (
	TextureUsageSampled TextureUsage = 1 << iota
	TextureUsageStorage
	TextureUsageRenderTarget
	TextureUsageDepthStencil
	TextureUsageCopySrc
	TextureUsageCopyDst
)

// BufferDesc describes a buffer allocation.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

// TextureDesc describes a 2D texture allocation.
type TextureDesc struct {
	Label       string
	Width       uint32
	Height      uint32
	Format      gputypes.TextureFormat
	SampleCount uint32
	Usage       TextureUsage
}

// SamplerDesc is the immutable state of a sampler.
type SamplerDesc struct {
	MinFilter     gputypes.FilterMode
	MagFilter     gputypes.FilterMode
	MipmapFilter  gputypes.FilterMode
	AddressU      gputypes.AddressMode
	AddressV      gputypes.AddressMode
	AddressW      gputypes.AddressMode
	MipLODBias    float32
	MaxAnisotropy uint16
	Compare       gputypes.CompareFunction
	BorderColor   [4]float32
	MinLOD        float32
	MaxLOD        float32
}

// Descriptor is a view of a resource written into a descriptor heap.
// A descriptor with a nil Resource and Kind other than ViewSampler is a
// null descriptor; shaders read zeros through it.
type Descriptor struct {
	Kind     ViewKind
	Resource Resource

	// Offset and Size select a byte range for buffer views.
	Offset uint64
	Size   uint64

	// Stride is the element stride for structured buffer views.
	Stride uint32

	// Format is the view format for texture views.
	Format gputypes.TextureFormat

	// Sampler is set for sampler descriptors.
	Sampler *SamplerDesc
}

// IsNull reports whether the descriptor references nothing.
func (d Descriptor) IsNull() bool {
	return d.Resource == nil && d.Sampler == nil
}

// IndexBufferView binds an index buffer.
type IndexBufferView struct {
	Buffer Buffer
	Offset uint64
	Size   uint64
	Format gputypes.IndexFormat
}

// VertexBufferView binds a vertex buffer slot.
type VertexBufferView struct {
	Buffer Buffer
	Offset uint64
	Size   uint64
	Stride uint32
}

// Viewport is a rasterizer viewport.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// Rect is a scissor rectangle in pixels. Right and Bottom are exclusive.
type Rect struct {
	Left, Top, Right, Bottom int32
}

// Barrier declares a resource state transition.
type Barrier struct {
	Resource Resource
	Before   ResourceState
	After    ResourceState
}

// BindPoint selects the graphics or compute root binding space.
type BindPoint uint8

// Bind points.
const (
	BindGraphics BindPoint = iota
	BindCompute
)

// BindPointCount is the number of bind points.
const BindPointCount = 2

// String returns the bind point name.
func (b BindPoint) String() string {
	if b == BindCompute {
		return "compute"
	}
	return "graphics"
}

// ClearFlags selects depth and/or stencil for depth-stencil clears.
type ClearFlags uint8

// Depth-stencil clear flags.
const (
	ClearDepth ClearFlags = 1 << iota
	ClearStencil
)

// QueryType is the kind of data a query heap records.
type QueryType uint8

// Query heap types.
const (
	QueryOcclusion QueryType = iota
	QueryTimestamp
	QueryPipelineStatistics
)

// String returns the query type name.
func (q QueryType) String() string {
	switch q {
	case QueryOcclusion:
		return "occlusion"
	case QueryTimestamp:
		return "timestamp"
	case QueryPipelineStatistics:
		return "pipeline-statistics"
	default:
		return fmt.Sprintf("QueryType(%d)", q)
	}
}

// ResultSize returns the number of bytes a resolved slot occupies.
func (q QueryType) ResultSize() uint64 {
	if q == QueryPipelineStatistics {
		return PipelineStatisticsSize
	}
	return 8
}

// PipelineStatistics holds the counters recorded by a pipeline statistics
// query. The field order is the resolved memory layout.
type PipelineStatistics struct {
	IAVertices    uint64
	IAPrimitives  uint64
	VSInvocations uint64
	GSInvocations uint64
	GSPrimitives  uint64
	CInvocations  uint64
	CPrimitives   uint64
	PSInvocations uint64
	HSInvocations uint64
	DSInvocations uint64
	CSInvocations uint64
}

// PipelineStatisticsSize is the resolved size of PipelineStatistics.
const PipelineStatisticsSize = 11 * 8

// Add returns the field-wise sum of s and o.
func (s PipelineStatistics) Add(o PipelineStatistics) PipelineStatistics {
	s.IAVertices += o.IAVertices
	s.IAPrimitives += o.IAPrimitives
	s.VSInvocations += o.VSInvocations
	s.GSInvocations += o.GSInvocations
	s.GSPrimitives += o.GSPrimitives
	s.CInvocations += o.CInvocations
	s.CPrimitives += o.CPrimitives
	s.PSInvocations += o.PSInvocations
	s.HSInvocations += o.HSInvocations
	s.DSInvocations += o.DSInvocations
	s.CSInvocations += o.CSInvocations
	return s
}

// Sub returns the field-wise difference s - o.
func (s PipelineStatistics) Sub(o PipelineStatistics) PipelineStatistics {
	f, g := s.fields(), o.fields()
	for i := range f {
		*f[i] -= *g[i]
	}
	return s
}

func (s *PipelineStatistics) fields() [11]*uint64 {
	return [11]*uint64{
		&s.IAVertices, &s.IAPrimitives, &s.VSInvocations, &s.GSInvocations,
		&s.GSPrimitives, &s.CInvocations, &s.CPrimitives, &s.PSInvocations,
		&s.HSInvocations, &s.DSInvocations, &s.CSInvocations,
	}
}

// Encode returns the resolved little-endian representation of s.
func (s PipelineStatistics) Encode() []byte {
	out := make([]byte, PipelineStatisticsSize)
	for i, f := range s.fields() {
		binary.LittleEndian.PutUint64(out[i*8:], *f)
	}
	return out
}

// DecodePipelineStatistics parses a resolved slot. Short input yields
// zero counters for the missing fields.
func DecodePipelineStatistics(b []byte) PipelineStatistics {
	var s PipelineStatistics
	for i, f := range s.fields() {
		if len(b) >= (i+1)*8 {
			*f = binary.LittleEndian.Uint64(b[i*8:])
		}
	}
	return s
}

// Limits are the per-command-list descriptor window capacities.
type Limits struct {
	ResourceDescriptors     uint32
	SamplerDescriptors      uint32
	RenderTargetDescriptors uint32
	DepthStencilDescriptors uint32
}

// Capacity returns the window size for heap h.
func (l Limits) Capacity(h HeapType) uint32 {
	switch h {
	case HeapResource:
		return l.ResourceDescriptors
	case HeapSampler:
		return l.SamplerDescriptors
	case HeapRenderTarget:
		return l.RenderTargetDescriptors
	case HeapDepthStencil:
		return l.DepthStencilDescriptors
	default:
		return 0
	}
}

// DefaultLimits returns the descriptor window sizes used when none are given.
func DefaultLimits() Limits {
	return Limits{
		ResourceDescriptors:     4096,
		SamplerDescriptors:      512,
		RenderTargetDescriptors: 64,
		DepthStencilDescriptors: 16,
	}
}
