package immediate

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/internal/binder"
	"github.com/gogpu/immediate/internal/cmdlist"
	"github.com/gogpu/immediate/internal/fence"
	"github.com/gogpu/immediate/internal/pso"
	"github.com/gogpu/immediate/internal/query"
	"github.com/gogpu/immediate/internal/state"
	"github.com/gogpu/immediate/resource"
)

// Context is the immediate context of a device. Setters record state
// without touching the GPU; draws and dispatches materialize that state
// into pipeline objects and descriptor tables on the current graphics
// command list; copies record on the copy command list.
//
// Context is not safe for concurrent use.
type Context struct {
	dev    *Device
	native gpucore.Device
	logger *slog.Logger
	debug  bool
	policy SubmissionPolicy

	fences  *fence.Set
	pools   [gpucore.QueueCount]*cmdlist.Pool
	queries *query.Manager
	state   *state.Tracker
	binder  binder.Binder
	caches  *pso.Caches

	// resolved is the pipeline and root signature the bound state maps
	// to, per bind point.
	resolved     [gpucore.BindPointCount]gpucore.PipelineState
	resolvedRoot [gpucore.BindPointCount]*pso.RootSignature

	// bound is what is set on the current graphics list.
	bound     gpucore.PipelineState
	boundRoot [gpucore.BindPointCount]*pso.RootSignature

	mapped   map[*resource.Buffer]MapType
	inSubmit [gpucore.QueueCount]bool

	stats     FrameStats
	lastFrame FrameStats
	seenPSOs  uint64
	seenRoots uint64
	destroyed bool
}

func newContext(d *Device) (*Context, error) {
	fences, err := fence.NewSet(d.native)
	if err != nil {
		return nil, fmt.Errorf("immediate: %w", err)
	}
	c := &Context{
		dev:    d,
		native: d.native,
		logger: d.logger,
		debug:  d.cfg.Debug,
		policy: d.cfg.Policy,
		fences: fences,
		state:  state.NewTracker(),
		binder: binder.Binder{Debug: d.cfg.Debug},
		caches: d.caches,
		mapped: make(map[*resource.Buffer]MapType),
		queries: query.NewManager(d.native, query.Capacity{
			gpucore.QueryOcclusion:          d.cfg.OcclusionQueries,
			gpucore.QueryTimestamp:          d.cfg.TimestampQueries,
			gpucore.QueryPipelineStatistics: d.cfg.StatisticsQueries,
		}, d.logger),
	}
	for q := range c.pools {
		c.pools[q] = cmdlist.NewPool(d.native, gpucore.QueueKind(q), fences, d.cfg.Descriptors, d.logger)
	}
	c.seenPSOs, c.seenRoots = c.caches.Created()
	return c, nil
}

func otherQueue(q gpucore.QueueKind) gpucore.QueueKind {
	if q == gpucore.QueueGraphics {
		return gpucore.QueueCopy
	}
	return gpucore.QueueGraphics
}

// usable returns ErrClosed after destroy and the device-lost error once
// the backend reports loss.
func (c *Context) usable() error {
	if c.destroyed {
		return ErrClosed
	}
	return c.DeviceStatus()
}

// invalid reports a structural misuse: a panic with debug validation,
// a debug log line otherwise.
func (c *Context) invalid(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c.debug {
		panic("immediate: " + msg)
	}
	c.logger.Debug("immediate: ignored invalid call", "reason", msg)
}

// list returns the recording list of q, acquiring and beginning one if
// needed. A fresh graphics list has nothing asserted on it, so every
// dirty bit is raised and active queries continue on it.
func (c *Context) list(q gpucore.QueueKind) (*cmdlist.List, error) {
	p := c.pools[q]
	if l := p.Current(); l != nil {
		return l, nil
	}
	l, err := p.Acquire()
	if err != nil {
		return nil, err
	}
	if err := l.Begin(); err != nil {
		return nil, errors.Join(err, p.Abandon(l))
	}
	if q == gpucore.QueueGraphics {
		c.state.MarkAll()
		c.bound = nil
		c.boundRoot = [gpucore.BindPointCount]*pso.RootSignature{}
		if c.queries.Outstanding() > 0 {
			c.queries.Resume(l.Native())
			l.MarkUtilized()
		}
	}
	return l, nil
}

// submit closes and submits the recording list of q. Queries active on
// the graphics list are suspended into it and resumed on the next list.
// A list with nothing recorded is recycled without submission. Work of
// the other queue the list depends on is submitted first.
func (c *Context) submit(q gpucore.QueueKind, wait bool) error {
	p := c.pools[q]
	l := p.Current()
	if l == nil || c.inSubmit[q] {
		return nil
	}
	c.inSubmit[q] = true
	defer func() { c.inSubmit[q] = false }()

	if q == gpucore.QueueGraphics {
		if c.queries.Outstanding() > 0 {
			c.queries.Suspend(l.Native(), l.FenceValue())
			l.MarkUtilized()
		}
		if c.queries.Flush(l.Native()) > 0 {
			l.MarkUtilized()
		}
	}
	if !l.IsUtilized() {
		return p.Abandon(l)
	}

	other := otherQueue(q)
	if l.Dependencies()[other] >= c.fences.Current(other) {
		if err := c.submit(other, false); err != nil {
			return err
		}
	}
	v, err := p.Forfeit(l, wait)
	if err != nil {
		return c.deviceError(err)
	}
	c.stats.NumSubmits++
	c.logger.Debug("immediate: command list submitted", "queue", q, "fence", v, "wait", wait)
	return nil
}

// deviceError reports device loss in preference to whatever a failed
// wait or submission returned.
func (c *Context) deviceError(err error) error {
	if status := c.DeviceStatus(); status != nil {
		return status
	}
	return err
}

// hazard submits the other queue's recording list when it holds a use
// of r that an access on q must wait for, so the dependency can be
// expressed as a GPU-side wait on a submitted fence value.
func (c *Context) hazard(q gpucore.QueueKind, r resource.Resource, access resource.Access) error {
	conflict := resource.AccessWrite
	if access == resource.AccessWrite {
		conflict = resource.AccessAny
	}
	other := otherQueue(q)
	if r.FenceValues(conflict)[other] >= c.fences.Current(other) {
		return c.submit(other, false)
	}
	return nil
}

// WaitForFences submits any recording list that carries one of values
// and blocks until every queue reaches its value. It implements
// resource.Waiter.
func (c *Context) WaitForFences(values gpucore.FenceValues) error {
	for q, v := range values {
		kind := gpucore.QueueKind(q)
		if v != 0 && c.fences.Pending(kind, v) {
			if err := c.submit(kind, false); err != nil {
				return err
			}
		}
	}
	for q, v := range values {
		kind := gpucore.QueueKind(q)
		if v == 0 || c.fences.IsReached(kind, v) {
			continue
		}
		if err := c.fences.Wait(kind, v); err != nil {
			return c.deviceError(err)
		}
	}
	return nil
}

// SubmitCommands submits the recording list of q only if it is the one
// that signals target; a list already submitted for target is not
// submitted again. With wait set it then blocks until target is reached.
func (c *Context) SubmitCommands(q gpucore.QueueKind, wait bool, target uint64) error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.fences.Current(q) == target {
		if err := c.submit(q, false); err != nil {
			return err
		}
	}
	if !wait || target > c.fences.Submitted(q) {
		return nil
	}
	if err := c.fences.Wait(q, target); err != nil {
		return c.deviceError(err)
	}
	return nil
}

// CurrentFence returns the value the recording list of q will signal.
func (c *Context) CurrentFence(q gpucore.QueueKind) uint64 { return c.fences.Current(q) }

// CompletedFence returns the highest value q has been observed to reach.
func (c *Context) CompletedFence(q gpucore.QueueKind) uint64 { return c.fences.Completed(q) }

// Flush submits the copy and graphics lists without waiting.
func (c *Context) Flush() error {
	if err := c.usable(); err != nil {
		return err
	}
	if err := c.submit(gpucore.QueueCopy, false); err != nil {
		return err
	}
	return c.submit(gpucore.QueueGraphics, false)
}

// WaitForIdle submits both queues and blocks until each reaches its last
// submitted fence value.
func (c *Context) WaitForIdle() error {
	if err := c.Flush(); err != nil {
		return err
	}
	for _, p := range c.pools {
		if err := p.WaitIdle(); err != nil {
			return c.deviceError(err)
		}
	}
	c.logger.Info("immediate: idle",
		"graphics", c.fences.Completed(gpucore.QueueGraphics),
		"copy", c.fences.Completed(gpucore.QueueCopy))
	return nil
}

// Finish submits all queues. With present set it also closes the frame:
// the frame statistics are logged and rotated.
func (c *Context) Finish(present bool) error {
	if err := c.Flush(); err != nil {
		return err
	}
	if present {
		c.syncCacheStats()
		c.logger.Debug("immediate: frame", "stats", c.stats)
		c.lastFrame = c.stats
		c.stats = FrameStats{}
	}
	return nil
}

// SetSubmissionPolicy changes the submission policy.
func (c *Context) SetSubmissionPolicy(p SubmissionPolicy) {
	if p > SubmitSync {
		c.invalid("submission policy %d", p)
		return
	}
	c.policy = p
}

// SubmissionPolicy returns the current submission policy.
func (c *Context) SubmissionPolicy() SubmissionPolicy { return c.policy }

// DeviceStatus returns nil while the device is healthy and an error
// matching ErrDeviceLost afterwards.
func (c *Context) DeviceStatus() error {
	err := c.native.Status()
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrDeviceLost) {
		err = fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	return err
}

// Stats returns the counters of the current frame.
func (c *Context) Stats() FrameStats {
	c.syncCacheStats()
	return c.stats
}

// LastFrameStats returns the counters of the previous frame.
func (c *Context) LastFrameStats() FrameStats { return c.lastFrame }

// syncCacheStats adds the objects the caches built since the last call.
func (c *Context) syncCacheStats() {
	psos, roots := c.caches.Created()
	c.stats.NumPSOs += psos - c.seenPSOs
	c.stats.NumRootSignatures += roots - c.seenRoots
	c.seenPSOs, c.seenRoots = psos, roots
}

// destroy drains the GPU and releases the context's objects.
func (c *Context) destroy() {
	if c.destroyed {
		return
	}
	if err := c.WaitForIdle(); err != nil {
		c.logger.Error("immediate: destroy without idle GPU", "err", err)
	}
	for b := range c.mapped {
		b.Allocation().Unmap()
	}
	clear(c.mapped)
	c.queries.Destroy()
	for _, p := range c.pools {
		p.Destroy()
	}
	c.fences.Destroy()
	c.destroyed = true
}
