package gpucore

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/gogpu/gputypes"
)

// Fixed binding limits.
const (
	MaxVertexBuffers = 16
	MaxRenderTargets = 8
	MaxViewports     = 16
)

// ShaderStage identifies a programmable pipeline stage.
type ShaderStage uint8

// Shader stages. Graphics stages come first so they can index arrays of
// length GraphicsStageCount.
const (
	StageVertex ShaderStage = iota
	StageHull
	StageDomain
	StageGeometry
	StagePixel
	StageCompute
)

// Stage counts.
const (
	GraphicsStageCount = 5
	ShaderStageCount   = 6
)

// String returns the stage name.
func (s ShaderStage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageHull:
		return "hull"
	case StageDomain:
		return "domain"
	case StageGeometry:
		return "geometry"
	case StagePixel:
		return "pixel"
	case StageCompute:
		return "compute"
	default:
		return fmt.Sprintf("ShaderStage(%d)", s)
	}
}

// Visibility returns the WebGPU visibility flag for the stage.
// Tessellation and geometry stages have no equivalent and map to none.
func (s ShaderStage) Visibility() gputypes.ShaderStage {
	switch s {
	case StageVertex:
		return gputypes.ShaderStageVertex
	case StagePixel:
		return gputypes.ShaderStageFragment
	case StageCompute:
		return gputypes.ShaderStageCompute
	default:
		return 0
	}
}

// ShaderResourceState returns the state a shader resource read in this
// stage requires.
func (s ShaderStage) ShaderResourceState() ResourceState {
	if s == StagePixel {
		return StatePixelShaderResource
	}
	return StateNonPixelShaderResource
}

// BindingRange declares a contiguous run of registers a shader reads.
type BindingRange struct {
	Kind     ViewKind
	Register uint32
	Count    uint32

	// Root places constant buffers directly in the root signature instead
	// of the descriptor table. Ignored for other kinds.
	Root bool
}

// Shader is compiled shader bytecode plus its binding declarations.
// Shaders are immutable after creation.
type Shader struct {
	Label      string
	Stage      ShaderStage
	Code       []byte
	EntryPoint string
	Bindings   []BindingRange

	hash uint64
}

// NewShader creates a shader and computes its structural hash.
// Two shaders with identical stage, entry point, bytecode and bindings
// hash equal.
func NewShader(label string, stage ShaderStage, code []byte, entryPoint string, bindings []BindingRange) *Shader {
	s := &Shader{
		Label:      label,
		Stage:      stage,
		Code:       append([]byte(nil), code...),
		EntryPoint: entryPoint,
		Bindings:   append([]BindingRange(nil), bindings...),
	}
	h := fnv.New64a()
	var buf [16]byte
	buf[0] = byte(stage)
	_, _ = h.Write(buf[:1])
	_, _ = h.Write([]byte(entryPoint))
	_, _ = h.Write(s.Code)
	for _, b := range s.Bindings {
		buf[0] = byte(b.Kind)
		binary.LittleEndian.PutUint32(buf[1:], b.Register)
		binary.LittleEndian.PutUint32(buf[5:], b.Count)
		buf[9] = 0
		if b.Root {
			buf[9] = 1
		}
		_, _ = h.Write(buf[:10])
	}
	s.hash = h.Sum64()
	return s
}

// Hash returns the structural hash of the shader.
func (s *Shader) Hash() uint64 {
	if s == nil {
		return 0
	}
	return s.hash
}

// Words returns the bytecode as little-endian 32-bit words.
func (s *Shader) Words() []uint32 {
	words := make([]uint32, len(s.Code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(s.Code[i*4:])
	}
	return words
}

// InputElement describes one vertex attribute.
type InputElement struct {
	SemanticName  string
	SemanticIndex uint32
	Format        gputypes.VertexFormat
	Slot          uint32
	Offset        uint32
	PerInstance   bool
	StepRate      uint32
	Location      uint32
}

// InputLayout is an immutable vertex input declaration.
type InputLayout struct {
	Elements []InputElement
	key      string
}

// NewInputLayout creates an input layout. Layouts with equal elements
// produce equal keys.
func NewInputLayout(elements []InputElement) *InputLayout {
	var sb strings.Builder
	for _, e := range elements {
		fmt.Fprintf(&sb, "%s%d:%d:%d:%d:%t:%d:%d;",
			e.SemanticName, e.SemanticIndex, e.Format, e.Slot, e.Offset, e.PerInstance, e.StepRate, e.Location)
	}
	return &InputLayout{
		Elements: append([]InputElement(nil), elements...),
		key:      sb.String(),
	}
}

// Key returns the canonical encoding of the layout.
func (l *InputLayout) Key() string {
	if l == nil {
		return ""
	}
	return l.key
}

// FillMode selects solid or wireframe rasterization.
type FillMode uint8

// Fill modes.
const (
	FillSolid FillMode = iota
	FillWireframe
)

// RasterizerDesc is the rasterizer state.
type RasterizerDesc struct {
	Fill                  FillMode
	CullMode              gputypes.CullMode
	FrontFace             gputypes.FrontFace
	DepthBias             int32
	DepthBiasClamp        float32
	SlopeScaledDepthBias  float32
	DepthClipEnable       bool
	ScissorEnable         bool
	MultisampleEnable     bool
	AntialiasedLineEnable bool
}

// DefaultRasterizer returns the rasterizer state of a freshly created context.
func DefaultRasterizer() RasterizerDesc {
	return RasterizerDesc{
		Fill:            FillSolid,
		CullMode:        gputypes.CullModeBack,
		FrontFace:       gputypes.FrontFaceCW,
		DepthClipEnable: true,
	}
}

// RenderTargetBlend is the blend state of a single render target.
type RenderTargetBlend struct {
	Enable    bool
	SrcColor  gputypes.BlendFactor
	DstColor  gputypes.BlendFactor
	ColorOp   gputypes.BlendOperation
	SrcAlpha  gputypes.BlendFactor
	DstAlpha  gputypes.BlendFactor
	AlphaOp   gputypes.BlendOperation
	WriteMask gputypes.ColorWriteMask
}

// BlendDesc is the output-merger blend state.
type BlendDesc struct {
	AlphaToCoverage  bool
	IndependentBlend bool
	Targets          [MaxRenderTargets]RenderTargetBlend
}

// DefaultBlend returns blending disabled with all channels written.
func DefaultBlend() BlendDesc {
	var b BlendDesc
	for i := range b.Targets {
		b.Targets[i] = RenderTargetBlend{
			SrcColor:  gputypes.BlendFactorOne,
			DstColor:  gputypes.BlendFactorZero,
			ColorOp:   gputypes.BlendOperationAdd,
			SrcAlpha:  gputypes.BlendFactorOne,
			DstAlpha:  gputypes.BlendFactorZero,
			AlphaOp:   gputypes.BlendOperationAdd,
			WriteMask: gputypes.ColorWriteMaskAll,
		}
	}
	return b
}

// Target returns the effective blend state of render target i.
func (b *BlendDesc) Target(i int) RenderTargetBlend {
	if !b.IndependentBlend {
		return b.Targets[0]
	}
	return b.Targets[i]
}

// StencilOp is a stencil buffer update operation.
type StencilOp uint8

// Stencil operations.
const (
	StencilKeep StencilOp = iota
	StencilZero
	StencilReplace
	StencilIncrSat
	StencilDecrSat
	StencilInvert
	StencilIncr
	StencilDecr
)

// StencilFace is the stencil configuration for one facing.
type StencilFace struct {
	FailOp      StencilOp
	DepthFailOp StencilOp
	PassOp      StencilOp
	Func        gputypes.CompareFunction
}

// DepthStencilDesc is the depth-stencil state.
type DepthStencilDesc struct {
	DepthEnable      bool
	DepthWrite       bool
	DepthFunc        gputypes.CompareFunction
	StencilEnable    bool
	StencilReadMask  uint8
	StencilWriteMask uint8
	Front            StencilFace
	Back             StencilFace
}

// DefaultDepthStencil returns depth testing enabled with writes and a
// less-than comparison, stencil disabled.
func DefaultDepthStencil() DepthStencilDesc {
	face := StencilFace{
		FailOp:      StencilKeep,
		DepthFailOp: StencilKeep,
		PassOp:      StencilKeep,
		Func:        gputypes.CompareFunctionAlways,
	}
	return DepthStencilDesc{
		DepthEnable:      true,
		DepthWrite:       true,
		DepthFunc:        gputypes.CompareFunctionLess,
		StencilReadMask:  0xFF,
		StencilWriteMask: 0xFF,
		Front:            face,
		Back:             face,
	}
}

// GraphicsPipelineDesc describes an immutable graphics pipeline object.
type GraphicsPipelineDesc struct {
	Label         string
	RootSignature RootSignature
	Shaders       [GraphicsStageCount]*Shader
	InputLayout   *InputLayout

	// VertexStrides holds the stride of each bound vertex buffer slot.
	VertexStrides [MaxVertexBuffers]uint32

	Topology            gputypes.PrimitiveTopology
	Rasterizer          RasterizerDesc
	Blend               BlendDesc
	DepthStencil        DepthStencilDesc
	SampleMask          uint32
	SampleCount         uint32
	NumRenderTargets    uint32
	RenderTargetFormats [MaxRenderTargets]gputypes.TextureFormat
	DepthStencilFormat  gputypes.TextureFormat
}

// ComputePipelineDesc describes an immutable compute pipeline object.
type ComputePipelineDesc struct {
	Label         string
	RootSignature RootSignature
	Shader        *Shader
}

// RootParameterKind is the kind of a root signature parameter.
type RootParameterKind uint8

// Root parameter kinds.
const (
	// RootTable is a descriptor table in one heap.
	RootTable RootParameterKind = iota

	// RootConstantBuffer is a constant buffer bound by GPU address.
	RootConstantBuffer
)

// DescriptorRange is a run of registers inside a descriptor table.
type DescriptorRange struct {
	Kind     ViewKind
	Stage    ShaderStage
	Register uint32
	Count    uint32

	// Offset is the position of the first descriptor within the table.
	Offset uint32
}

// RootParameter is one entry of a root signature.
type RootParameter struct {
	Kind RootParameterKind

	// Heap and Ranges describe a descriptor table.
	Heap   HeapType
	Ranges []DescriptorRange

	// Stage and Register describe a root constant buffer.
	Stage    ShaderStage
	Register uint32
}

// NumDescriptors returns the descriptor count of a table parameter.
func (p *RootParameter) NumDescriptors() uint32 {
	var n uint32
	for _, r := range p.Ranges {
		if end := r.Offset + r.Count; end > n {
			n = end
		}
	}
	return n
}

// RootSignatureDesc describes the binding layout of a pipeline.
type RootSignatureDesc struct {
	Label      string
	BindPoint  BindPoint
	Parameters []RootParameter
}
