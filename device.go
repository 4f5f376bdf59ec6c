package immediate

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/internal/pso"
	"github.com/gogpu/immediate/resource"
)

// Device owns the pipeline caches of a backend device and its immediate
// context. Resource creation methods are safe for concurrent use; the
// context is not.
type Device struct {
	native gpucore.Device
	cfg    Config
	logger *slog.Logger
	caches *pso.Caches
	ctx    *Context
}

// NewDevice wraps a backend device.
func NewDevice(native gpucore.Device, opts ...Option) (*Device, error) {
	if native == nil {
		return nil, ErrNilDevice
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Descriptors = clampLimits(cfg.Descriptors, native.Limits())

	logger := cfg.logger().With("device", cfg.Label)
	caches, err := pso.NewCaches(native, logger)
	if err != nil {
		return nil, fmt.Errorf("immediate: %w", err)
	}
	d := &Device{
		native: native,
		cfg:    cfg,
		logger: logger,
		caches: caches,
	}
	ctx, err := newContext(d)
	if err != nil {
		caches.Destroy()
		return nil, err
	}
	d.ctx = ctx
	logger.Info("immediate: device created",
		"policy", cfg.Policy,
		"debug", cfg.Debug,
		"descriptors", cfg.Descriptors.ResourceDescriptors,
		"samplers", cfg.Descriptors.SamplerDescriptors)
	return d, nil
}

// clampLimits bounds each window capacity by what the backend supports.
func clampLimits(want, have gpucore.Limits) gpucore.Limits {
	return gpucore.Limits{
		ResourceDescriptors:     min(want.ResourceDescriptors, have.ResourceDescriptors),
		SamplerDescriptors:      min(want.SamplerDescriptors, have.SamplerDescriptors),
		RenderTargetDescriptors: min(want.RenderTargetDescriptors, have.RenderTargetDescriptors),
		DepthStencilDescriptors: min(want.DepthStencilDescriptors, have.DepthStencilDescriptors),
	}
}

// Native returns the backend device.
func (d *Device) Native() gpucore.Device { return d.native }

// Config returns the effective configuration.
func (d *Device) Config() Config { return d.cfg }

// ImmediateContext returns the single immediate context of the device.
func (d *Device) ImmediateContext() *Context { return d.ctx }

// CreateDeferredContext always fails: only the immediate context records.
func (d *Device) CreateDeferredContext() (*Context, error) {
	return nil, notImplemented("CreateDeferredContext")
}

// CreateClassLinkage always fails.
func (d *Device) CreateClassLinkage() error {
	return notImplemented("CreateClassLinkage")
}

// CreateBuffer allocates a buffer. No partial object is returned on failure.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (*resource.Buffer, error) {
	if desc.Label == "" {
		desc.Label = d.cfg.Label + "_buffer"
	}
	b, err := resource.NewBuffer(d.native, &desc)
	if err != nil {
		return nil, fmt.Errorf("immediate: %w", err)
	}
	return b, nil
}

// CreateTexture allocates a 2D texture.
func (d *Device) CreateTexture(desc gpucore.TextureDesc) (*resource.Texture, error) {
	if desc.Label == "" {
		desc.Label = d.cfg.Label + "_texture"
	}
	t, err := resource.NewTexture(d.native, &desc)
	if err != nil {
		return nil, fmt.Errorf("immediate: %w", err)
	}
	return t, nil
}

// CreateShaderResourceView creates a shader resource view of r.
func (d *Device) CreateShaderResourceView(r resource.Resource, desc resource.ViewDesc) (*resource.View, error) {
	return resource.NewView(gpucore.ViewShaderResource, r, desc)
}

// CreateUnorderedAccessView creates an unordered access view of r.
func (d *Device) CreateUnorderedAccessView(r resource.Resource, desc resource.ViewDesc) (*resource.View, error) {
	return resource.NewView(gpucore.ViewUnorderedAccess, r, desc)
}

// CreateRenderTargetView creates a render target view of t.
func (d *Device) CreateRenderTargetView(t *resource.Texture, desc resource.ViewDesc) (*resource.View, error) {
	return resource.NewView(gpucore.ViewRenderTarget, t, desc)
}

// CreateDepthStencilView creates a depth-stencil view of t.
func (d *Device) CreateDepthStencilView(t *resource.Texture, desc resource.ViewDesc) (*resource.View, error) {
	return resource.NewView(gpucore.ViewDepthStencil, t, desc)
}

// CreateSampler creates a sampler object.
func (d *Device) CreateSampler(desc gpucore.SamplerDesc) *resource.Sampler {
	return resource.NewSampler(desc)
}

// CreateQuery creates a query object on the immediate context.
func (d *Device) CreateQuery(kind QueryKind) (*Query, error) {
	return d.ctx.createQuery(kind)
}

// CacheStats returns pipeline and root signature cache statistics.
func (d *Device) CacheStats() CacheStats {
	return cacheStatsOf(d.caches.Stats())
}

// Destroy waits for the GPU to go idle and releases the context and the
// cached pipeline objects. The backend device is not destroyed.
func (d *Device) Destroy() {
	if d.ctx != nil {
		d.ctx.destroy()
		d.ctx = nil
	}
	d.caches.Destroy()
}
