// Package soft is an in-process reference backend.
//
// Each logical queue runs submissions in order on its own goroutine;
// fences are condition-variable timelines; buffers and textures live in
// host memory. Draws are not rasterized: they are accounted so that
// occlusion and pipeline-statistics queries produce deterministic results
// (one sample per vertex). Queues can be paused to simulate a busy GPU
// and the device can be lost on demand.
package soft

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/immediate/gpucore"
)

// Stats are monotonic counters of the commands the backend has seen.
type Stats struct {
	DescriptorWrites      atomic.Uint64
	SetPipeline           atomic.Uint64
	SetRootSignature      atomic.Uint64
	Draws                 atomic.Uint64
	Dispatches            atomic.Uint64
	Barriers              atomic.Uint64
	Copies                atomic.Uint64
	Discards              atomic.Uint64
	Resolves              atomic.Uint64
	ListsSubmitted        atomic.Uint64
	QueueWaits            atomic.Uint64
	PipelinesCreated      atomic.Uint64
	RootSignaturesCreated atomic.Uint64
	ListsCreated          atomic.Uint64
	BuffersCreated        atomic.Uint64
}

// Option configures a Device.
type Option func(*Device)

// WithLimits sets the descriptor window capacities.
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

// Device is a gpucore.Device that executes on goroutines.
type Device struct {
	limits gpucore.Limits
	logger *slog.Logger
	queues [gpucore.QueueCount]*Queue

	stats Stats

	mu     sync.Mutex
	lost   error
	fences []*Fence
	fail   map[string]error

	clockMu       sync.Mutex
	epoch         time.Time
	lastTimestamp uint64

	closeOnce sync.Once
}

// New creates a device and starts its queues.
func New(opts ...Option) *Device {
	d := &Device{
		limits: gpucore.DefaultLimits(),
		logger: slog.New(slog.DiscardHandler),
		epoch:  time.Now(),
		fail:   make(map[string]error),
	}
	for _, opt := range opts {
		opt(d)
	}
	for q := range d.queues {
		d.queues[q] = newQueue(d, gpucore.QueueKind(q))
	}
	return d
}

// Stats returns the command counters.
func (d *Device) Stats() *Stats { return &d.stats }

// Queue implements gpucore.Device.
func (d *Device) Queue(kind gpucore.QueueKind) gpucore.Queue { return d.queues[kind] }

// Pause stops every queue before its next work item. Fences stop
// advancing until Resume.
func (d *Device) Pause() {
	for _, q := range d.queues {
		q.pause()
	}
}

// Resume restarts paused queues.
func (d *Device) Resume() {
	for _, q := range d.queues {
		q.resume()
	}
}

// Idle reports whether every queue has drained.
func (d *Device) Idle() bool {
	for _, q := range d.queues {
		if !q.idle() {
			return false
		}
	}
	return true
}

// Lose marks the device lost with cause. Every fence wait pending or
// issued afterwards returns an error wrapping gpucore.ErrDeviceLost.
func (d *Device) Lose(cause error) {
	d.mu.Lock()
	if d.lost != nil {
		d.mu.Unlock()
		return
	}
	d.lost = fmt.Errorf("%w: %w", gpucore.ErrDeviceLost, cause)
	fences := append([]*Fence(nil), d.fences...)
	d.mu.Unlock()

	d.logger.Warn("soft: device lost", "cause", cause)
	for _, f := range fences {
		f.Fail(d.lost)
	}
}

// Status implements gpucore.Device.
func (d *Device) Status() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

// FailNext makes the next creation of the named object kind fail with
// err. Kinds are "pipeline", "root-signature", "buffer", "texture",
// "list" and "query-heap". "reset" fails the next command list Reset.
func (d *Device) FailNext(kind string, err error) {
	d.mu.Lock()
	d.fail[kind] = err
	d.mu.Unlock()
}

func (d *Device) injected(kind string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost != nil {
		return d.lost
	}
	err := d.fail[kind]
	delete(d.fail, kind)
	return err
}

// CreateFence implements gpucore.Device.
func (d *Device) CreateFence() (gpucore.Fence, error) {
	f := &Fence{}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost != nil {
		return nil, d.lost
	}
	d.fences = append(d.fences, f)
	return f, nil
}

// CreateCommandList implements gpucore.Device.
func (d *Device) CreateCommandList(kind gpucore.QueueKind) (gpucore.CommandList, error) {
	if err := d.injected("list"); err != nil {
		return nil, err
	}
	d.stats.ListsCreated.Add(1)
	return newCommandList(d, kind), nil
}

// CreateRootSignature implements gpucore.Device.
func (d *Device) CreateRootSignature(desc *gpucore.RootSignatureDesc) (gpucore.RootSignature, error) {
	if err := d.injected("root-signature"); err != nil {
		return nil, err
	}
	d.stats.RootSignaturesCreated.Add(1)
	rs := &RootSignature{desc: *desc}
	rs.desc.Parameters = append([]gpucore.RootParameter(nil), desc.Parameters...)
	return rs, nil
}

// CreateGraphicsPipeline implements gpucore.Device.
func (d *Device) CreateGraphicsPipeline(desc *gpucore.GraphicsPipelineDesc) (gpucore.PipelineState, error) {
	if err := d.injected("pipeline"); err != nil {
		return nil, err
	}
	d.stats.PipelinesCreated.Add(1)
	cp := *desc
	return &PipelineState{bind: gpucore.BindGraphics, graphics: &cp}, nil
}

// CreateComputePipeline implements gpucore.Device.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.PipelineState, error) {
	if err := d.injected("pipeline"); err != nil {
		return nil, err
	}
	d.stats.PipelinesCreated.Add(1)
	cp := *desc
	return &PipelineState{bind: gpucore.BindCompute, compute: &cp}, nil
}

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.Buffer, error) {
	if err := d.injected("buffer"); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		return nil, errors.New("soft: zero-sized buffer")
	}
	d.stats.BuffersCreated.Add(1)
	h := nextHandle()
	return &Buffer{
		handle:  h,
		address: uint64(h) << 32,
		usage:   desc.Usage,
		data:    make([]byte, desc.Size),
	}, nil
}

// CreateTexture implements gpucore.Device.
func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.Texture, error) {
	if err := d.injected("texture"); err != nil {
		return nil, err
	}
	bpp := bytesPerTexel(desc.Format)
	samples := max(desc.SampleCount, 1)
	return &Texture{
		handle: nextHandle(),
		desc:   *desc,
		bpp:    bpp,
		data:   make([]byte, int(desc.Width)*int(desc.Height)*int(samples)*bpp),
	}, nil
}

// CreateQueryHeap implements gpucore.Device.
func (d *Device) CreateQueryHeap(kind gpucore.QueryType, count uint32) (gpucore.QueryHeap, error) {
	if err := d.injected("query-heap"); err != nil {
		return nil, err
	}
	h := &QueryHeap{kind: kind, slots: make([][]byte, count)}
	for i := range h.slots {
		h.slots[i] = make([]byte, kind.ResultSize())
	}
	return h, nil
}

// TimestampFrequency implements gpucore.Device. Timestamps are nanoseconds.
func (d *Device) TimestampFrequency() uint64 { return uint64(time.Second) }

// Limits implements gpucore.Device.
func (d *Device) Limits() gpucore.Limits { return d.limits }

// errDestroyed fails fence waits still pending when the device is destroyed.
var errDestroyed = errors.New("soft: device destroyed")

// Destroy stops the queue goroutines. Pending work is dropped.
func (d *Device) Destroy() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		fences := append([]*Fence(nil), d.fences...)
		d.mu.Unlock()
		for _, f := range fences {
			f.Fail(errDestroyed)
		}
		for _, q := range d.queues {
			q.close()
		}
	})
}
