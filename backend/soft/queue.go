package soft

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/immediate/gpucore"
)

// ErrWrongQueue is returned when submitting a list to a queue of another kind.
var ErrWrongQueue = errors.New("soft: list submitted to the wrong queue")

// workItem is one entry of a queue's execution stream.
type workItem struct {
	lists  []*CommandList
	wait   *Fence
	signal *Fence
	value  uint64
}

// Queue executes submissions in order on its own goroutine.
type Queue struct {
	dev  *Device
	kind gpucore.QueueKind

	mu      sync.Mutex
	cond    *sync.Cond
	pending []workItem
	paused  bool
	closed  bool
	busy    bool

	exec executor
	done chan struct{}
}

func newQueue(dev *Device, kind gpucore.QueueKind) *Queue {
	q := &Queue{dev: dev, kind: kind, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	q.exec = executor{dev: dev, occlusion: make(map[queryKey]uint64), statsStart: make(map[queryKey]gpucore.PipelineStatistics)}
	go q.run()
	return q
}

// Kind implements gpucore.Queue.
func (q *Queue) Kind() gpucore.QueueKind { return q.kind }

// Submit implements gpucore.Queue.
func (q *Queue) Submit(lists []gpucore.CommandList, fence gpucore.Fence, value uint64) error {
	if err := q.dev.Status(); err != nil {
		return err
	}
	item := workItem{value: value}
	for _, cl := range lists {
		l, ok := cl.(*CommandList)
		if !ok {
			return fmt.Errorf("soft: foreign command list %T", cl)
		}
		if l.kind != q.kind {
			return fmt.Errorf("%w: %s list on %s queue", ErrWrongQueue, l.kind, q.kind)
		}
		if l.recording {
			return fmt.Errorf("soft: submit of open list %q", l.label)
		}
		item.lists = append(item.lists, l)
	}
	if fence != nil {
		f, ok := fence.(*Fence)
		if !ok {
			return fmt.Errorf("soft: foreign fence %T", fence)
		}
		item.signal = f
	}
	q.dev.stats.ListsSubmitted.Add(uint64(len(item.lists)))
	q.push(item)
	return nil
}

// Wait implements gpucore.Queue.
func (q *Queue) Wait(fence gpucore.Fence, value uint64) error {
	f, ok := fence.(*Fence)
	if !ok {
		return fmt.Errorf("soft: foreign fence %T", fence)
	}
	q.dev.stats.QueueWaits.Add(1)
	q.push(workItem{wait: f, value: value})
	return nil
}

func (q *Queue) push(item workItem) {
	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// pause stops execution before the next work item.
func (q *Queue) pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// resume restarts execution.
func (q *Queue) resume() {
	q.mu.Lock()
	q.paused = false
	q.cond.Broadcast()
	q.mu.Unlock()
}

// idle reports whether no work is queued or running.
func (q *Queue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && !q.busy
}

func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for !q.closed && (q.paused || len(q.pending) == 0) {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		item := q.pending[0]
		q.pending = q.pending[1:]
		q.busy = true
		q.mu.Unlock()

		q.execute(item)

		q.mu.Lock()
		q.busy = false
		q.mu.Unlock()
	}
}

func (q *Queue) execute(item workItem) {
	if q.dev.Status() != nil {
		return
	}
	if item.wait != nil {
		// A lost device fails the wait; the stream stops making progress.
		_ = item.wait.WaitUntil(item.value)
		return
	}
	for _, l := range item.lists {
		for _, c := range l.commands {
			c(&q.exec)
		}
	}
	if item.signal != nil {
		if err := item.signal.Signal(item.value); err != nil {
			q.dev.logger.Error("soft: fence signal", "queue", q.kind, "value", item.value, "err", err)
		}
	}
}

// queryKey identifies one query slot.
type queryKey struct {
	heap  *QueryHeap
	index uint32
}

// executor is the GPU-side state of a queue.
type executor struct {
	dev        *Device
	stats      gpucore.PipelineStatistics
	occlusion  map[queryKey]uint64
	statsStart map[queryKey]gpucore.PipelineStatistics
}

// primitives returns the primitive count of count vertices under t.
func primitives(t gputypes.PrimitiveTopology, count uint64) uint64 {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return count
	case gputypes.PrimitiveTopologyLineList:
		return count / 2
	case gputypes.PrimitiveTopologyLineStrip:
		if count < 2 {
			return 0
		}
		return count - 1
	case gputypes.PrimitiveTopologyTriangleStrip:
		if count < 3 {
			return 0
		}
		return count - 2
	default:
		return count / 3
	}
}

// draw accounts a draw. Every vertex is modeled as one visible sample.
func (e *executor) draw(t gputypes.PrimitiveTopology, count, instances uint64) {
	vertices := count * instances
	prims := primitives(t, count) * instances
	e.stats.IAVertices += vertices
	e.stats.IAPrimitives += prims
	e.stats.VSInvocations += vertices
	e.stats.CInvocations += prims
	e.stats.CPrimitives += prims
	e.stats.PSInvocations += vertices
	for k := range e.occlusion {
		e.occlusion[k] += vertices
	}
}

func (e *executor) beginQuery(h *QueryHeap, index uint32) {
	k := queryKey{h, index}
	switch h.kind {
	case gpucore.QueryOcclusion:
		e.occlusion[k] = 0
	case gpucore.QueryPipelineStatistics:
		e.statsStart[k] = e.stats
	}
}

func (e *executor) endQuery(h *QueryHeap, index uint32) {
	k := queryKey{h, index}
	var buf [8]byte
	switch h.kind {
	case gpucore.QueryOcclusion:
		binary.LittleEndian.PutUint64(buf[:], e.occlusion[k])
		delete(e.occlusion, k)
		h.store(index, buf[:])
	case gpucore.QueryTimestamp:
		binary.LittleEndian.PutUint64(buf[:], e.dev.timestamp())
		h.store(index, buf[:])
	case gpucore.QueryPipelineStatistics:
		start := e.statsStart[k]
		delete(e.statsStart, k)
		h.store(index, e.stats.Sub(start).Encode())
	}
}

// timestamp returns strictly increasing nanoseconds since device creation.
func (d *Device) timestamp() uint64 {
	d.clockMu.Lock()
	defer d.clockMu.Unlock()
	now := uint64(time.Since(d.epoch).Nanoseconds())
	if now <= d.lastTimestamp {
		now = d.lastTimestamp + 1
	}
	d.lastTimestamp = now
	return now
}
