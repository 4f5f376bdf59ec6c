// Package query manages GPU query heaps and the query objects built on
// them.
//
// Each heap is a ring of slots with a host-visible readback buffer. A
// slot ended on a command list is resolved into the readback buffer by
// that same list just before it is submitted, so its result is readable
// once the list's fence value is reached. Ending a query invalidates the
// persistent mapping of the readback buffer; the next read maps it again.
package query

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/immediate/gpucore"
)

// Heap errors.
var (
	// ErrRecycled is returned when reading a slot the ring has since
	// handed to another query.
	ErrRecycled = errors.New("query: slot was recycled before it was read")

	// ErrBadSlot is returned for a slot index outside the heap.
	ErrBadSlot = errors.New("query: slot out of range")
)

// Recorder is the part of a command list queries are recorded into.
type Recorder interface {
	BeginQuery(heap gpucore.QueryHeap, index uint32)
	EndQuery(heap gpucore.QueryHeap, index uint32)
	ResolveQueryData(heap gpucore.QueryHeap, start, count uint32, dst gpucore.Buffer, dstOffset uint64)
}

// Heap is a ring of query slots of one type.
type Heap struct {
	kind     gpucore.QueryType
	native   gpucore.QueryHeap
	readback gpucore.Buffer
	count    uint32
	next     uint32

	// generation of each slot, bumped on every allocation.
	generation []uint64

	// fence is the graphics fence value of the list that ended each slot.
	fence []uint64

	// ended lists slots ended since the last Flush.
	ended []uint32

	mapped []byte
}

// NewHeap creates a heap of count slots with its readback buffer.
func NewHeap(dev gpucore.Device, kind gpucore.QueryType, count uint32) (*Heap, error) {
	if count == 0 {
		return nil, fmt.Errorf("query: %s heap with zero slots", kind)
	}
	native, err := dev.CreateQueryHeap(kind, count)
	if err != nil {
		return nil, fmt.Errorf("query: create %s heap: %w", kind, err)
	}
	readback, err := dev.CreateBuffer(&gpucore.BufferDesc{
		Label: fmt.Sprintf("%s_query_readback", kind),
		Size:  uint64(count) * kind.ResultSize(),
		Usage: gpucore.BufferUsageMapRead | gpucore.BufferUsageQueryResolve,
	})
	if err != nil {
		native.Destroy()
		return nil, fmt.Errorf("query: create %s readback: %w", kind, err)
	}
	return &Heap{
		kind:       kind,
		native:     native,
		readback:   readback,
		count:      count,
		generation: make([]uint64, count),
		fence:      make([]uint64, count),
	}, nil
}

// Type returns the query type of the heap.
func (h *Heap) Type() gpucore.QueryType { return h.kind }

// Count returns the number of slots.
func (h *Heap) Count() uint32 { return h.count }

// Allocate hands out the next ring slot and its generation.
func (h *Heap) Allocate() (slot uint32, generation uint64) {
	slot = h.next
	h.next = (h.next + 1) % h.count
	h.generation[slot]++
	h.fence[slot] = 0
	return slot, h.generation[slot]
}

// Begin records the start of slot.
func (h *Heap) Begin(rec Recorder, slot uint32) {
	rec.BeginQuery(h.native, slot)
}

// End records the end of slot on a list that signals fenceValue and
// invalidates the readback mapping.
func (h *Heap) End(rec Recorder, slot uint32, fenceValue uint64) {
	rec.EndQuery(h.native, slot)
	h.fence[slot] = fenceValue
	h.ended = append(h.ended, slot)
	h.unmap()
}

// Pending reports whether slots were ended since the last Flush.
func (h *Heap) Pending() bool { return len(h.ended) > 0 }

// Flush resolves every slot ended since the last Flush into the readback
// buffer, coalescing contiguous slots into one resolve.
func (h *Heap) Flush(rec Recorder) int {
	if len(h.ended) == 0 {
		return 0
	}
	slices.Sort(h.ended)
	h.ended = slices.Compact(h.ended)
	resolves := 0
	size := h.kind.ResultSize()
	for i := 0; i < len(h.ended); {
		start := h.ended[i]
		j := i + 1
		for j < len(h.ended) && h.ended[j] == h.ended[j-1]+1 {
			j++
		}
		n := uint32(j - i)
		rec.ResolveQueryData(h.native, start, n, h.readback, uint64(start)*size)
		resolves++
		i = j
	}
	h.ended = h.ended[:0]
	return resolves
}

// Fence returns the fence value of the list that ended slot, or 0.
func (h *Heap) Fence(slot uint32) uint64 { return h.fence[slot] }

// Read returns the resolved result of slot. The caller must have
// observed the slot's fence value reached.
func (h *Heap) Read(slot uint32, generation uint64) ([]byte, error) {
	if slot >= h.count {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadSlot, slot, h.count)
	}
	if h.generation[slot] != generation {
		return nil, ErrRecycled
	}
	if h.mapped == nil {
		data, err := h.readback.Map()
		if err != nil {
			return nil, fmt.Errorf("query: map %s readback: %w", h.kind, err)
		}
		h.mapped = data
	}
	size := h.kind.ResultSize()
	off := uint64(slot) * size
	return append([]byte(nil), h.mapped[off:off+size]...), nil
}

// Mapped reports whether the readback buffer is currently mapped.
func (h *Heap) Mapped() bool { return h.mapped != nil }

func (h *Heap) unmap() {
	if h.mapped != nil {
		h.readback.Unmap()
		h.mapped = nil
	}
}

// Destroy releases the heap and its readback buffer.
func (h *Heap) Destroy() {
	h.unmap()
	h.native.Destroy()
	h.readback.Destroy()
}
