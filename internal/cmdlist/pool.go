package cmdlist

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/immediate/gpucore"
	"github.com/gogpu/immediate/internal/fence"
)

// Pool errors.
var (
	// ErrBadState is returned when a list is used out of lifecycle order.
	ErrBadState = errors.New("cmdlist: list in wrong state")

	// ErrOutstanding is returned by Acquire while a previously acquired
	// list has not been submitted.
	ErrOutstanding = errors.New("cmdlist: a list is already outstanding")

	// ErrForeignList is returned when forfeiting a list the pool did not hand out.
	ErrForeignList = errors.New("cmdlist: list does not belong to the pool")

	// ErrFenceMismatch is returned when the list was not assigned the value
	// its submission would signal.
	ErrFenceMismatch = errors.New("cmdlist: fence value mismatch")

	// ErrDependencyNotSubmitted is returned when a list depends on work of
	// another queue that has not been submitted yet.
	ErrDependencyNotSubmitted = errors.New("cmdlist: cross-queue dependency not submitted")
)

// Pool hands out and recycles command lists for one queue.
//
// At most one list is outstanding at a time. A submitted list returns to
// the free set once its fence value is reached. Pool is not safe for
// concurrent use.
type Pool struct {
	dev    gpucore.Device
	queue  gpucore.Queue
	kind   gpucore.QueueKind
	fences *fence.Set
	limits gpucore.Limits
	logger *slog.Logger

	free     []*List
	inFlight []*List
	current  *List
	lists    []*List
}

// NewPool creates an empty pool for queue kind.
func NewPool(dev gpucore.Device, kind gpucore.QueueKind, fences *fence.Set, limits gpucore.Limits, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		dev:    dev,
		queue:  dev.Queue(kind),
		kind:   kind,
		fences: fences,
		limits: limits,
		logger: logger,
	}
}

// Kind returns the queue kind of the pool.
func (p *Pool) Kind() gpucore.QueueKind { return p.kind }

// Limits returns the descriptor window capacities of pooled lists.
func (p *Pool) Limits() gpucore.Limits { return p.limits }

// Current returns the outstanding list, or nil.
func (p *Pool) Current() *List { return p.current }

// Created returns the number of lists ever created.
func (p *Pool) Created() int { return len(p.lists) }

// InFlight returns the number of submitted lists not yet recycled.
func (p *Pool) InFlight() int { return len(p.inFlight) }

// recycle moves lists whose fence value is reached back to the free set.
func (p *Pool) recycle() {
	completed := p.fences.Completed(p.kind)
	n := 0
	for _, l := range p.inFlight {
		if l.fenceValue <= completed {
			l.state = StateFree
			p.free = append(p.free, l)
			continue
		}
		p.inFlight[n] = l
		n++
	}
	clear(p.inFlight[n:])
	p.inFlight = p.inFlight[:n]
}

// Acquire returns a list assigned the fence value the next submission on
// the queue will signal. The list must be started with Begin.
func (p *Pool) Acquire() (*List, error) {
	if p.current != nil {
		return nil, fmt.Errorf("%w: %s list for fence %d", ErrOutstanding, p.kind, p.current.fenceValue)
	}
	p.recycle()

	var l *List
	if n := len(p.free); n > 0 {
		l = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	} else {
		native, err := p.dev.CreateCommandList(p.kind)
		if err != nil {
			return nil, fmt.Errorf("cmdlist: create %s list: %w", p.kind, err)
		}
		l = &List{native: native, queue: p.kind, limits: p.limits, id: len(p.lists)}
		p.lists = append(p.lists, l)
		p.logger.Debug("cmdlist: list created", "queue", p.kind, "id", l.id)
	}
	l.state = StateAcquired
	l.fenceValue = p.fences.Current(p.kind)
	p.current = l
	return l, nil
}

// Forfeit closes l and submits it, signaling its fence value. GPU-side
// waits are inserted first for every cross-queue dependency that has not
// been reached. With wait set, Forfeit blocks until the GPU reaches the
// value. The list must not be used again after Forfeit.
func (p *Pool) Forfeit(l *List, wait bool) (uint64, error) {
	if l != p.current {
		return 0, ErrForeignList
	}
	if l.state != StateRecording {
		return 0, fmt.Errorf("%w: forfeit in state %s", ErrBadState, l.state)
	}
	if l.fenceValue != p.fences.Current(p.kind) {
		return 0, fmt.Errorf("%w: list %d, current %d", ErrFenceMismatch, l.fenceValue, p.fences.Current(p.kind))
	}
	for q, v := range l.deps {
		other := gpucore.QueueKind(q)
		if other == p.kind || p.fences.IsReached(other, v) {
			continue
		}
		if v > p.fences.Submitted(other) {
			return 0, fmt.Errorf("%w: %s value %d", ErrDependencyNotSubmitted, other, v)
		}
		if err := p.queue.Wait(p.fences.Fence(other), v); err != nil {
			return 0, fmt.Errorf("cmdlist: queue wait: %w", err)
		}
	}

	if err := l.native.Close(); err != nil {
		return 0, fmt.Errorf("cmdlist: close: %w", err)
	}
	v := p.fences.Advance(p.kind)
	p.current = nil
	l.state = StateSubmitted
	p.inFlight = append(p.inFlight, l)
	if err := p.queue.Submit([]gpucore.CommandList{l.native}, p.fences.Fence(p.kind), v); err != nil {
		return v, fmt.Errorf("cmdlist: submit %s fence %d: %w", p.kind, v, err)
	}
	if wait {
		if err := p.fences.Wait(p.kind, v); err != nil {
			return v, err
		}
	}
	return v, nil
}

// Abandon returns an outstanding list that recorded nothing to the free
// set without submitting it.
func (p *Pool) Abandon(l *List) error {
	if l != p.current {
		return ErrForeignList
	}
	if l.state == StateRecording {
		if err := l.native.Close(); err != nil {
			return fmt.Errorf("cmdlist: close: %w", err)
		}
	}
	l.state = StateFree
	p.current = nil
	p.free = append(p.free, l)
	return nil
}

// WaitIdle blocks until every submitted list of the pool has completed.
func (p *Pool) WaitIdle() error {
	if err := p.fences.Wait(p.kind, p.fences.Submitted(p.kind)); err != nil {
		return err
	}
	p.recycle()
	return nil
}

// Destroy releases every list. The queue must be idle.
func (p *Pool) Destroy() {
	for _, l := range p.lists {
		l.native.Destroy()
	}
	p.lists = nil
	p.free = nil
	p.inFlight = nil
	p.current = nil
}
