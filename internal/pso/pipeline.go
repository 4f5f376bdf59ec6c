package pso

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/immediate/gpucore"
)

// Cache errors.
var (
	// ErrNilDevice is returned when creating caches without a device.
	ErrNilDevice = errors.New("pso: device is nil")

	// ErrNoShader is returned when a pipeline description lacks a required shader.
	ErrNoShader = errors.New("pso: required shader is missing")
)

// RootSignature is a cached root signature with its resolved layout.
type RootSignature struct {
	Native gpucore.RootSignature
	Layout *Layout
}

// GraphicsKey is the structural key of a graphics pipeline. Shaders are
// identified by their structural hash, so equal bytecode compiled twice
// still maps to one pipeline.
type GraphicsKey struct {
	Shaders             [gpucore.GraphicsStageCount]uint64
	InputLayout         string
	VertexStrides       [gpucore.MaxVertexBuffers]uint32
	Topology            gputypes.PrimitiveTopology
	Rasterizer          gpucore.RasterizerDesc
	Blend               gpucore.BlendDesc
	DepthStencil        gpucore.DepthStencilDesc
	SampleMask          uint32
	SampleCount         uint32
	NumRenderTargets    uint32
	RenderTargetFormats [gpucore.MaxRenderTargets]gputypes.TextureFormat
	DepthStencilFormat  gputypes.TextureFormat
}

// GraphicsKeyOf returns the key of desc.
func GraphicsKeyOf(desc *gpucore.GraphicsPipelineDesc) GraphicsKey {
	k := GraphicsKey{
		InputLayout:         desc.InputLayout.Key(),
		VertexStrides:       desc.VertexStrides,
		Topology:            desc.Topology,
		Rasterizer:          desc.Rasterizer,
		Blend:               desc.Blend,
		DepthStencil:        desc.DepthStencil,
		SampleMask:          desc.SampleMask,
		SampleCount:         desc.SampleCount,
		NumRenderTargets:    desc.NumRenderTargets,
		RenderTargetFormats: desc.RenderTargetFormats,
		DepthStencilFormat:  desc.DepthStencilFormat,
	}
	for i, sh := range desc.Shaders {
		k.Shaders[i] = sh.Hash()
	}
	return k
}

// Hash returns the FNV-1a hash of the key used for shard selection.
func (k GraphicsKey) Hash() uint64 {
	h := fnv.New64a()
	for _, s := range k.Shaders {
		hashWriteUint64(h, s)
	}
	hashWriteString(h, k.InputLayout)
	for _, s := range k.VertexStrides {
		hashWriteUint32(h, s)
	}
	hashWriteUint32(h, uint32(k.Topology))

	r := k.Rasterizer
	hashWriteUint32(h, uint32(r.Fill))
	hashWriteUint32(h, uint32(r.CullMode))
	hashWriteUint32(h, uint32(r.FrontFace))
	hashWriteUint32(h, uint32(r.DepthBias))
	hashWriteFloat32(h, r.DepthBiasClamp)
	hashWriteFloat32(h, r.SlopeScaledDepthBias)
	hashWriteBool(h, r.DepthClipEnable)
	hashWriteBool(h, r.ScissorEnable)
	hashWriteBool(h, r.MultisampleEnable)
	hashWriteBool(h, r.AntialiasedLineEnable)

	hashWriteBool(h, k.Blend.AlphaToCoverage)
	hashWriteBool(h, k.Blend.IndependentBlend)
	for _, t := range k.Blend.Targets {
		hashWriteBool(h, t.Enable)
		hashWriteUint32(h, uint32(t.SrcColor))
		hashWriteUint32(h, uint32(t.DstColor))
		hashWriteUint32(h, uint32(t.ColorOp))
		hashWriteUint32(h, uint32(t.SrcAlpha))
		hashWriteUint32(h, uint32(t.DstAlpha))
		hashWriteUint32(h, uint32(t.AlphaOp))
		hashWriteUint32(h, uint32(t.WriteMask))
	}

	d := k.DepthStencil
	hashWriteBool(h, d.DepthEnable)
	hashWriteBool(h, d.DepthWrite)
	hashWriteUint32(h, uint32(d.DepthFunc))
	hashWriteBool(h, d.StencilEnable)
	hashWriteUint32(h, uint32(d.StencilReadMask)<<8|uint32(d.StencilWriteMask))
	for _, f := range [2]gpucore.StencilFace{d.Front, d.Back} {
		hashWriteUint32(h, uint32(f.FailOp)|uint32(f.DepthFailOp)<<8|uint32(f.PassOp)<<16)
		hashWriteUint32(h, uint32(f.Func))
	}

	hashWriteUint32(h, k.SampleMask)
	hashWriteUint32(h, k.SampleCount)
	hashWriteUint32(h, k.NumRenderTargets)
	for _, f := range k.RenderTargetFormats {
		hashWriteUint32(h, uint32(f))
	}
	hashWriteUint32(h, uint32(k.DepthStencilFormat))
	return h.Sum64()
}

// ComputeKey is the structural key of a compute pipeline.
type ComputeKey struct {
	Shader uint64
}

// Hash returns the key hash used for shard selection.
func (k ComputeKey) Hash() uint64 {
	h := fnv.New64a()
	hashWriteUint64(h, k.Shader)
	return h.Sum64()
}

// Caches holds the root signature and pipeline caches of a device.
type Caches struct {
	dev    gpucore.Device
	logger *slog.Logger

	rootSignatures *Cache[LayoutKey, *RootSignature]
	graphics       *Cache[GraphicsKey, gpucore.PipelineState]
	compute        *Cache[ComputeKey, gpucore.PipelineState]

	createdRootSignatures atomic.Uint64
	createdPipelines      atomic.Uint64
}

// NewCaches creates empty caches that build objects on dev.
func NewCaches(dev gpucore.Device, logger *slog.Logger) (*Caches, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Caches{
		dev:            dev,
		logger:         logger,
		rootSignatures: NewCache[LayoutKey, *RootSignature](LayoutKey.Hash),
		graphics:       NewCache[GraphicsKey, gpucore.PipelineState](GraphicsKey.Hash),
		compute:        NewCache[ComputeKey, gpucore.PipelineState](ComputeKey.Hash),
	}, nil
}

// AcquireRootSignature returns the root signature for the shader set of
// bind point bp, building it on first use.
func (c *Caches) AcquireRootSignature(bp gpucore.BindPoint, shaders Stages) (*RootSignature, error) {
	key := KeyOf(bp, shaders)
	return c.rootSignatures.Acquire(key, func() (*RootSignature, error) {
		layout := BuildLayout(bp, shaders)
		native, err := c.dev.CreateRootSignature(&layout.Desc)
		if err != nil {
			c.logger.Error("pso: root signature creation failed", "bind", bp, "err", err)
			return nil, fmt.Errorf("pso: create root signature: %w", err)
		}
		c.createdRootSignatures.Add(1)
		c.logger.Debug("pso: root signature created",
			"bind", bp,
			"descriptors", layout.NumDescriptors,
			"samplers", layout.NumSamplers,
			"root_cbvs", len(layout.ConstantBuffers))
		return &RootSignature{Native: native, Layout: layout}, nil
	})
}

// AcquireGraphics returns the graphics pipeline for desc.
func (c *Caches) AcquireGraphics(desc *gpucore.GraphicsPipelineDesc) (gpucore.PipelineState, error) {
	if desc.Shaders[gpucore.StageVertex] == nil {
		return nil, fmt.Errorf("%w: vertex", ErrNoShader)
	}
	key := GraphicsKeyOf(desc)
	return c.graphics.Acquire(key, func() (gpucore.PipelineState, error) {
		ps, err := c.dev.CreateGraphicsPipeline(desc)
		if err != nil {
			c.logger.Error("pso: graphics pipeline creation failed", "hash", key.Hash(), "err", err)
			return nil, fmt.Errorf("pso: create graphics pipeline: %w", err)
		}
		c.createdPipelines.Add(1)
		c.logger.Debug("pso: graphics pipeline created", "hash", key.Hash())
		return ps, nil
	})
}

// AcquireCompute returns the compute pipeline for desc.
func (c *Caches) AcquireCompute(desc *gpucore.ComputePipelineDesc) (gpucore.PipelineState, error) {
	if desc.Shader == nil {
		return nil, fmt.Errorf("%w: compute", ErrNoShader)
	}
	key := ComputeKey{Shader: desc.Shader.Hash()}
	return c.compute.Acquire(key, func() (gpucore.PipelineState, error) {
		ps, err := c.dev.CreateComputePipeline(desc)
		if err != nil {
			c.logger.Error("pso: compute pipeline creation failed", "hash", key.Hash(), "err", err)
			return nil, fmt.Errorf("pso: create compute pipeline: %w", err)
		}
		c.createdPipelines.Add(1)
		c.logger.Debug("pso: compute pipeline created", "hash", key.Hash())
		return ps, nil
	})
}

// Created returns how many pipelines and root signatures were built.
func (c *Caches) Created() (pipelines, rootSignatures uint64) {
	return c.createdPipelines.Load(), c.createdRootSignatures.Load()
}

// CacheStats summarizes all caches.
type CacheStats struct {
	RootSignatures   Stats
	Graphics         Stats
	Compute          Stats
	CreatedPipelines uint64
	CreatedRoots     uint64
}

// Stats returns statistics for every cache.
func (c *Caches) Stats() CacheStats {
	return CacheStats{
		RootSignatures:   c.rootSignatures.Stats(),
		Graphics:         c.graphics.Stats(),
		Compute:          c.compute.Stats(),
		CreatedPipelines: c.createdPipelines.Load(),
		CreatedRoots:     c.createdRootSignatures.Load(),
	}
}

// Destroy releases every cached object. No acquired handle may be used
// afterwards.
func (c *Caches) Destroy() {
	c.graphics.Each(func(ps gpucore.PipelineState) { ps.Destroy() })
	c.compute.Each(func(ps gpucore.PipelineState) { ps.Destroy() })
	c.rootSignatures.Each(func(rs *RootSignature) { rs.Native.Destroy() })
	c.graphics.Clear()
	c.compute.Clear()
	c.rootSignatures.Clear()
}
