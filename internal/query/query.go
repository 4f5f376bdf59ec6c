package query

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/immediate/gpucore"
)

// Query errors.
var (
	// ErrNotBegun is returned when ending a begin/end query that was never begun.
	ErrNotBegun = errors.New("query: query was not begun")

	// ErrActive is returned when beginning a query that is already active.
	ErrActive = errors.New("query: query is already active")

	// ErrNoBegin is returned when beginning a query kind that only ends.
	ErrNoBegin = errors.New("query: query kind has no begin")

	// ErrNotEnded is returned when reading a query that has never ended.
	ErrNotEnded = errors.New("query: query has not ended")
)

// Kind is the kind of a query object.
type Kind uint8

// Query kinds.
const (
	// KindEvent completes when the GPU reaches the point it was ended at.
	KindEvent Kind = iota

	// KindTimestamp records a GPU timestamp at End.
	KindTimestamp

	// KindTimestampDisjoint brackets timestamps and reports the frequency.
	KindTimestampDisjoint

	// KindOcclusion counts samples that passed depth and stencil tests.
	KindOcclusion

	// KindPipelineStatistics counts pipeline stage invocations.
	KindPipelineStatistics
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindTimestamp:
		return "timestamp"
	case KindTimestampDisjoint:
		return "timestamp-disjoint"
	case KindOcclusion:
		return "occlusion"
	case KindPipelineStatistics:
		return "pipeline-statistics"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// heapType returns the heap the kind draws slots from.
func (k Kind) heapType() (gpucore.QueryType, bool) {
	switch k {
	case KindTimestamp:
		return gpucore.QueryTimestamp, true
	case KindOcclusion:
		return gpucore.QueryOcclusion, true
	case KindPipelineStatistics:
		return gpucore.QueryPipelineStatistics, true
	default:
		return 0, false
	}
}

// HasBegin reports whether the kind is a begin/end bracket.
func (k Kind) HasBegin() bool {
	return k == KindOcclusion || k == KindPipelineStatistics || k == KindTimestampDisjoint
}

// part is one slot a query result is accumulated from. An active query
// that survives a command list rotation spans several slots.
type part struct {
	slot       uint32
	generation uint64
}

// Query is a query object.
type Query struct {
	kind   Kind
	parts  []part
	active bool
	ended  bool
	fence  uint64
}

// Kind returns the query kind.
func (q *Query) Kind() Kind { return q.kind }

// Active reports whether the query is between Begin and End.
func (q *Query) Active() bool { return q.active }

// Fence returns the graphics fence value the result waits for.
func (q *Query) Fence() uint64 { return q.fence }

// Ended reports whether End has been called at least once.
func (q *Query) Ended() bool { return q.ended }

// Result is the decoded value of a finished query.
type Result struct {
	Samples   uint64
	Timestamp uint64
	Frequency uint64
	Disjoint  bool
	Stats     gpucore.PipelineStatistics
}

// Capacity is the slot count of each heap type.
type Capacity [3]uint32

// Manager owns the heaps of a context, created lazily on first use.
type Manager struct {
	dev      gpucore.Device
	logger   *slog.Logger
	capacity Capacity
	heaps    [3]*Heap
	active   map[*Query]struct{}
}

// NewManager creates a manager whose heaps hold capacity slots per type.
func NewManager(dev gpucore.Device, capacity Capacity, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		dev:      dev,
		logger:   logger,
		capacity: capacity,
		active:   make(map[*Query]struct{}),
	}
}

// Outstanding returns the number of active queries.
func (m *Manager) Outstanding() int { return len(m.active) }

// Heap returns the heap of type t, or nil if it was never needed.
func (m *Manager) Heap(t gpucore.QueryType) *Heap { return m.heaps[t] }

func (m *Manager) heap(t gpucore.QueryType) (*Heap, error) {
	if h := m.heaps[t]; h != nil {
		return h, nil
	}
	h, err := NewHeap(m.dev, t, m.capacity[t])
	if err != nil {
		return nil, err
	}
	m.logger.Debug("query: heap created", "type", t, "slots", m.capacity[t])
	m.heaps[t] = h
	return h, nil
}

// Create returns a new query of kind. Heaps are created on first use.
func (m *Manager) Create(kind Kind) (*Query, error) {
	if t, ok := kind.heapType(); ok {
		if _, err := m.heap(t); err != nil {
			return nil, err
		}
	}
	return &Query{kind: kind}, nil
}

// Begin starts q on rec.
func (m *Manager) Begin(q *Query, rec Recorder) error {
	if !q.kind.HasBegin() {
		return fmt.Errorf("%w: %s", ErrNoBegin, q.kind)
	}
	if q.active {
		return ErrActive
	}
	q.parts = q.parts[:0]
	q.ended = false
	if t, ok := q.kind.heapType(); ok {
		h := m.heaps[t]
		slot, gen := h.Allocate()
		h.Begin(rec, slot)
		q.parts = append(q.parts, part{slot, gen})
	}
	q.active = true
	m.active[q] = struct{}{}
	return nil
}

// End finishes q on rec, whose submission signals fenceValue.
func (m *Manager) End(q *Query, rec Recorder, fenceValue uint64) error {
	switch {
	case q.kind.HasBegin() && !q.active:
		return ErrNotBegun
	case q.kind == KindTimestamp:
		h := m.heaps[gpucore.QueryTimestamp]
		slot, gen := h.Allocate()
		h.End(rec, slot, fenceValue)
		q.parts = append(q.parts[:0], part{slot, gen})
	case q.kind == KindOcclusion || q.kind == KindPipelineStatistics:
		t, _ := q.kind.heapType()
		m.heaps[t].End(rec, q.parts[len(q.parts)-1].slot, fenceValue)
	}
	q.active = false
	q.ended = true
	q.fence = fenceValue
	delete(m.active, q)
	return nil
}

// Suspend ends every active slot on rec before the list is submitted.
// The queries stay active; Resume continues them on the next list.
func (m *Manager) Suspend(rec Recorder, fenceValue uint64) {
	for q := range m.active {
		t, ok := q.kind.heapType()
		if !ok {
			continue
		}
		m.heaps[t].End(rec, q.parts[len(q.parts)-1].slot, fenceValue)
	}
}

// Resume begins a fresh slot for every active query on rec.
func (m *Manager) Resume(rec Recorder) {
	for q := range m.active {
		t, ok := q.kind.heapType()
		if !ok {
			continue
		}
		h := m.heaps[t]
		slot, gen := h.Allocate()
		h.Begin(rec, slot)
		q.parts = append(q.parts, part{slot, gen})
	}
}

// Flush resolves every pending slot of every heap on rec. It must be
// called on a list before it is closed.
func (m *Manager) Flush(rec Recorder) int {
	n := 0
	for _, h := range m.heaps {
		if h != nil {
			n += h.Flush(rec)
		}
	}
	return n
}

// Ready reports whether the result of q can be read given the completed
// graphics fence value.
func (q *Query) Ready(completed uint64) bool {
	return q.ended && !q.active && q.fence <= completed
}

// Read decodes the result of q. The caller must have checked Ready.
func (m *Manager) Read(q *Query) (Result, error) {
	if !q.ended {
		return Result{}, ErrNotEnded
	}
	var r Result
	switch q.kind {
	case KindEvent:
	case KindTimestampDisjoint:
		r.Frequency = m.dev.TimestampFrequency()
	case KindTimestamp:
		data, err := m.heaps[gpucore.QueryTimestamp].Read(q.parts[0].slot, q.parts[0].generation)
		if err != nil {
			return Result{}, err
		}
		r.Timestamp = binary.LittleEndian.Uint64(data)
	case KindOcclusion:
		h := m.heaps[gpucore.QueryOcclusion]
		for _, p := range q.parts {
			data, err := h.Read(p.slot, p.generation)
			if err != nil {
				return Result{}, err
			}
			r.Samples += binary.LittleEndian.Uint64(data)
		}
	case KindPipelineStatistics:
		h := m.heaps[gpucore.QueryPipelineStatistics]
		for _, p := range q.parts {
			data, err := h.Read(p.slot, p.generation)
			if err != nil {
				return Result{}, err
			}
			r.Stats = r.Stats.Add(gpucore.DecodePipelineStatistics(data))
		}
	}
	return r, nil
}

// Destroy releases every heap.
func (m *Manager) Destroy() {
	for i, h := range m.heaps {
		if h != nil {
			h.Destroy()
			m.heaps[i] = nil
		}
	}
	clear(m.active)
}
