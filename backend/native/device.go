//go:build !nogpu

// Package native implements gpucore over gogpu/wgpu HAL devices.
//
// The explicit command-list model is mapped onto WebGPU-style objects:
//   - a root signature becomes one bind group layout per root parameter
//     plus the pipeline layout that chains them
//   - a command list records into memory and is encoded into a single
//     hal.CommandBuffer at Close, opening render and compute passes as the
//     recorded draws, dispatches and clears require
//   - descriptor tables are materialized as bind groups at encode time and
//     kept until the list is reset
//   - both logical queues share the one hal.Queue; each signals its own fence
//
// Host-visible buffers are emulated with queue reads and writes so that
// map usage never restricts how a buffer may be bound.
package native

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/immediate/gpucore"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// defaultWaitTimeout bounds a single fence wait. A wait that times out is
// treated as a hung GPU.
const defaultWaitTimeout = 5 * time.Second

// Option configures a Device.
type Option func(*Device)

// WithLimits sets the descriptor window capacities of command lists.
func WithLimits(l gpucore.Limits) Option {
	return func(d *Device) { d.limits = l }
}

// WithLogger sets the logger for backend diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithWaitTimeout sets how long a fence wait may block before the device
// is considered lost.
func WithWaitTimeout(timeout time.Duration) Option {
	return func(d *Device) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// Device implements gpucore.Device on top of a hal.Device.
//
// Thread Safety: object creation and queue submission are safe for
// concurrent use. Command lists must be recorded from one goroutine.
type Device struct {
	mu     sync.Mutex
	device hal.Device
	queue  hal.Queue

	// queueMu serializes access to queue.
	queueMu sync.Mutex

	// instance is set when the device was opened by Open and is owned.
	instance hal.Instance
	owned    bool

	limits  gpucore.Limits
	logger  *slog.Logger
	timeout time.Duration
	queues  [gpucore.QueueCount]*Queue

	samplers    map[gpucore.SamplerDesc]hal.Sampler
	nullBuffer  hal.Buffer
	nullTexture *Texture

	nextAddress atomic.Uint64

	lost      error
	destroyed bool
}

// New wraps an existing HAL device and queue. The caller keeps ownership
// of both; Destroy releases only the objects this package created.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if device == nil || queue == nil {
		return nil, errors.New("native: nil device or queue")
	}
	d := &Device{
		device:   device,
		queue:    queue,
		limits:   gpucore.DefaultLimits(),
		logger:   slog.New(slog.DiscardHandler),
		timeout:  defaultWaitTimeout,
		samplers: make(map[gpucore.SamplerDesc]hal.Sampler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.nextAddress.Store(1 << 32)
	for q := range d.queues {
		d.queues[q] = &Queue{dev: d, kind: gpucore.QueueKind(q)}
	}
	return d, nil
}

// NewFromProvider wraps the HAL device of a host application, such as a
// gogpu window. The provider must also implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	if provider == nil {
		return nil, errors.New("native: nil provider")
	}
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, errors.New("native: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, errors.New("native: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.New("native: provider HalQueue is not hal.Queue")
	}
	return New(device, queue, opts...)
}

// Open creates a device on the first discrete or integrated GPU of the
// given HAL backend. The returned device owns the instance and the HAL
// device.
func Open(backend gputypes.Backend, opts ...Option) (*Device, error) {
	b, ok := hal.GetBackend(backend)
	if !ok {
		return nil, fmt.Errorf("%w: backend %v not registered", ErrNoGPU, backend)
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}
	d, err := New(openDev.Device, openDev.Queue, opts...)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	d.owned = true
	d.logger.Info("native: device opened", "type", selected.Info.DeviceType)
	return d, nil
}

// HAL returns the wrapped device and queue.
func (d *Device) HAL() (hal.Device, hal.Queue) { return d.device, d.queue }

// Queue implements gpucore.Device.
func (d *Device) Queue(kind gpucore.QueueKind) gpucore.Queue { return d.queues[kind] }

// Status implements gpucore.Device.
func (d *Device) Status() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

// lose records cause as the reason the device is unusable and returns the
// resulting error. Only the first cause is kept.
func (d *Device) lose(cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost == nil {
		d.lost = fmt.Errorf("%w: %w", gpucore.ErrDeviceLost, cause)
		d.logger.Error("native: device lost", "cause", cause)
	}
	return d.lost
}

func (d *Device) check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return errDestroyed
	}
	return d.lost
}

var errDestroyed = errors.New("native: device destroyed")

// CreateFence implements gpucore.Device.
func (d *Device) CreateFence() (gpucore.Fence, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	f, err := d.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("native: create fence: %w", err)
	}
	return &Fence{dev: d, fence: f}, nil
}

// CreateCommandList implements gpucore.Device.
func (d *Device) CreateCommandList(kind gpucore.QueueKind) (gpucore.CommandList, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return newCommandList(d, kind), nil
}

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.Buffer, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		return nil, errors.New("native: zero-sized buffer")
	}
	size := alignUp(desc.Size, 4)
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: convertBufferUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("native: create buffer %q: %w", desc.Label, err)
	}
	return &Buffer{
		dev:     d,
		buffer:  buf,
		label:   desc.Label,
		size:    desc.Size,
		usage:   desc.Usage,
		address: d.nextAddress.Add(alignUp(size, 256)),
	}, nil
}

// CreateTexture implements gpucore.Device.
func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.Texture, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return d.createTexture(desc)
}

func (d *Device) createTexture(desc *gpucore.TextureDesc) (*Texture, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("native: texture %q dimensions must be positive", desc.Label)
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   max(desc.SampleCount, 1),
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         convertTextureUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("native: create texture %q: %w", desc.Label, err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: desc.Label + "_view",
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return nil, fmt.Errorf("native: create view of %q: %w", desc.Label, err)
	}
	return &Texture{dev: d, texture: tex, view: view, desc: *desc}, nil
}

// CreateQueryHeap implements gpucore.Device. HAL devices expose no query
// sets, so every query type is unsupported.
func (d *Device) CreateQueryHeap(kind gpucore.QueryType, _ uint32) (gpucore.QueryHeap, error) {
	return nil, fmt.Errorf("native: %s queries: %w", kind, gpucore.ErrUnsupported)
}

// TimestampFrequency implements gpucore.Device. Timestamps are nanoseconds.
func (d *Device) TimestampFrequency() uint64 { return uint64(time.Second) }

// Limits implements gpucore.Device.
func (d *Device) Limits() gpucore.Limits { return d.limits }

// sampler returns the HAL sampler for desc, creating it on first use.
// Samplers live as long as the device.
func (d *Device) sampler(desc *gpucore.SamplerDesc) (hal.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.samplers[*desc]; ok {
		return s, nil
	}
	s, err := d.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "immediate_sampler",
		AddressModeU: desc.AddressU,
		AddressModeV: desc.AddressV,
		AddressModeW: desc.AddressW,
		MagFilter:    desc.MagFilter,
		MinFilter:    desc.MinFilter,
		MipmapFilter: desc.MipmapFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create sampler: %w", err)
	}
	d.samplers[*desc] = s
	return s, nil
}

// nullResources returns the buffer and texture bound in place of null
// descriptors, creating them on first use.
func (d *Device) nullResources() (hal.Buffer, *Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nullBuffer == nil {
		buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: "immediate_null_buffer",
			Size:  nullBufferSize,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("native: create null buffer: %w", err)
		}
		d.nullBuffer = buf
	}
	if d.nullTexture == nil {
		tex, err := d.createTexture(&gpucore.TextureDesc{
			Label:  "immediate_null_texture",
			Width:  1,
			Height: 1,
			Format: gputypes.TextureFormatRGBA8Unorm,
			Usage:  gpucore.TextureUsageSampled | gpucore.TextureUsageStorage,
		})
		if err != nil {
			return nil, nil, err
		}
		d.nullTexture = tex
	}
	return d.nullBuffer, d.nullTexture, nil
}

// nullBufferSize covers the largest constant buffer a shader may declare.
const nullBufferSize = 64 * 1024

// WaitIdle blocks until every submission on the HAL queue has completed.
func (d *Device) WaitIdle() error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("native: create idle fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	d.queueMu.Lock()
	err = d.queue.Submit(nil, fence, 1)
	d.queueMu.Unlock()
	if err != nil {
		return d.lose(fmt.Errorf("idle submit: %w", err))
	}
	ok, err := d.device.Wait(fence, 1, d.timeout)
	if err != nil {
		return d.lose(err)
	}
	if !ok {
		return d.lose(errors.New("idle wait timed out"))
	}
	return nil
}

// Destroy waits for the GPU to drain and releases device-owned objects.
// A device opened with Open also releases the HAL device and instance.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	lost := d.lost
	d.mu.Unlock()

	if lost == nil {
		if err := d.WaitIdle(); err != nil {
			d.logger.Warn("native: destroy without idle", "err", err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	for desc, s := range d.samplers {
		d.device.DestroySampler(s)
		delete(d.samplers, desc)
	}
	if d.nullBuffer != nil {
		d.device.DestroyBuffer(d.nullBuffer)
		d.nullBuffer = nil
	}
	if d.nullTexture != nil {
		d.nullTexture.release()
		d.nullTexture = nil
	}
	if d.owned {
		d.device.Destroy()
		d.instance.Destroy()
	}
}

func alignUp(v, a uint64) uint64 { return (v + a - 1) &^ (a - 1) }
