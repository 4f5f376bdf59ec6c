package query

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/immediate/backend/soft"
	"github.com/gogpu/immediate/gpucore"
)

type harness struct {
	dev   *soft.Device
	fence gpucore.Fence
	value uint64
	mgr   *Manager
}

func newHarness(t *testing.T, capacity Capacity) *harness {
	t.Helper()
	dev := soft.New()
	t.Cleanup(dev.Destroy)
	f, _ := dev.CreateFence()
	return &harness{dev: dev, fence: f, value: 1, mgr: NewManager(dev, capacity, nil)}
}

func (h *harness) list(t *testing.T) gpucore.CommandList {
	t.Helper()
	l, err := h.dev.CreateCommandList(gpucore.QueueGraphics)
	if err != nil {
		t.Fatalf("CreateCommandList() error = %v", err)
	}
	_ = l.Reset("test")
	return l
}

// submit flushes pending resolves, submits l and returns its fence value.
func (h *harness) submit(t *testing.T, l gpucore.CommandList) uint64 {
	t.Helper()
	h.mgr.Flush(l)
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	v := h.value
	h.value++
	if err := h.dev.Queue(gpucore.QueueGraphics).Submit([]gpucore.CommandList{l}, h.fence, v); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return v
}

func TestOcclusion_NotReadyUntilFence(t *testing.T) {
	h := newHarness(t, Capacity{64, 1024, 16})
	q, err := h.mgr.Create(KindOcclusion)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	h.dev.Pause()
	l := h.list(t)
	if err := h.mgr.Begin(q, l); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if h.mgr.Outstanding() != 1 {
		t.Errorf("Outstanding() = %d, want 1", h.mgr.Outstanding())
	}
	l.DrawInstanced(3, 4, 0, 0)
	if err := h.mgr.End(q, l, h.value); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	v := h.submit(t, l)

	if q.Ready(h.fence.CompletedValue()) {
		t.Fatal("query ready while the GPU is paused")
	}
	h.dev.Resume()
	if err := h.fence.WaitUntil(v); err != nil {
		t.Fatal(err)
	}
	if !q.Ready(h.fence.CompletedValue()) {
		t.Fatal("query not ready after its fence")
	}
	r, err := h.mgr.Read(q)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if r.Samples != 12 {
		t.Errorf("Samples = %d, want 12", r.Samples)
	}
}

func TestOcclusion_SpansRotation(t *testing.T) {
	h := newHarness(t, Capacity{64, 8, 4})
	q, _ := h.mgr.Create(KindOcclusion)

	first := h.list(t)
	_ = h.mgr.Begin(q, first)
	first.DrawInstanced(6, 1, 0, 0)
	h.mgr.Suspend(first, h.value)
	h.submit(t, first)

	second := h.list(t)
	h.mgr.Resume(second)
	second.DrawInstanced(3, 1, 0, 0)
	_ = h.mgr.End(q, second, h.value)
	v := h.submit(t, second)
	_ = h.fence.WaitUntil(v)

	r, err := h.mgr.Read(q)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if r.Samples != 9 {
		t.Errorf("Samples across rotation = %d, want 9", r.Samples)
	}
}

func TestPipelineStatistics(t *testing.T) {
	h := newHarness(t, Capacity{4, 4, 4})
	q, _ := h.mgr.Create(KindPipelineStatistics)
	l := h.list(t)
	l.SetPrimitiveTopology(gputypes.PrimitiveTopologyTriangleList)
	_ = h.mgr.Begin(q, l)
	l.DrawInstanced(6, 1, 0, 0)
	_ = h.mgr.End(q, l, h.value)
	_ = h.fence.WaitUntil(h.submit(t, l))

	r, err := h.mgr.Read(q)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if r.Stats.IAVertices != 6 || r.Stats.IAPrimitives != 2 {
		t.Errorf("Stats = %+v", r.Stats)
	}
}

func TestTimestamps(t *testing.T) {
	h := newHarness(t, Capacity{4, 4, 4})
	disjoint, _ := h.mgr.Create(KindTimestampDisjoint)
	a, _ := h.mgr.Create(KindTimestamp)
	b, _ := h.mgr.Create(KindTimestamp)

	l := h.list(t)
	if err := h.mgr.Begin(a, l); !errors.Is(err, ErrNoBegin) {
		t.Errorf("Begin(timestamp) error = %v, want ErrNoBegin", err)
	}
	_ = h.mgr.Begin(disjoint, l)
	_ = h.mgr.End(a, l, h.value)
	_ = h.mgr.End(b, l, h.value)
	_ = h.mgr.End(disjoint, l, h.value)
	_ = h.fence.WaitUntil(h.submit(t, l))

	ra, _ := h.mgr.Read(a)
	rb, _ := h.mgr.Read(b)
	rd, _ := h.mgr.Read(disjoint)
	if rb.Timestamp <= ra.Timestamp {
		t.Errorf("timestamps %d, %d not increasing", ra.Timestamp, rb.Timestamp)
	}
	if rd.Frequency != h.dev.TimestampFrequency() || rd.Disjoint {
		t.Errorf("disjoint = %+v", rd)
	}
}

func TestRingRecycling(t *testing.T) {
	h := newHarness(t, Capacity{4, 2, 4})
	old, _ := h.mgr.Create(KindTimestamp)
	l := h.list(t)
	_ = h.mgr.End(old, l, h.value)
	for i := 0; i < 2; i++ {
		q, _ := h.mgr.Create(KindTimestamp)
		_ = h.mgr.End(q, l, h.value)
	}
	_ = h.fence.WaitUntil(h.submit(t, l))
	if _, err := h.mgr.Read(old); !errors.Is(err, ErrRecycled) {
		t.Errorf("Read() of recycled slot error = %v, want ErrRecycled", err)
	}
}

func TestEndWithoutBegin(t *testing.T) {
	h := newHarness(t, Capacity{4, 4, 4})
	q, _ := h.mgr.Create(KindOcclusion)
	if err := h.mgr.End(q, h.list(t), 1); !errors.Is(err, ErrNotBegun) {
		t.Errorf("End() error = %v, want ErrNotBegun", err)
	}
	if _, err := h.mgr.Read(q); !errors.Is(err, ErrNotEnded) {
		t.Errorf("Read() error = %v, want ErrNotEnded", err)
	}
}

func TestHeap_FlushCoalesces(t *testing.T) {
	h := newHarness(t, Capacity{8, 4, 4})
	heap, err := NewHeap(h.dev, gpucore.QueryOcclusion, 8)
	if err != nil {
		t.Fatalf("NewHeap() error = %v", err)
	}
	defer heap.Destroy()
	l := h.list(t)
	for _, s := range []uint32{5, 0, 1, 2, 6} {
		heap.End(l, s, 1)
	}
	if got := heap.Flush(l); got != 2 {
		t.Errorf("Flush() resolves = %d, want 2", got)
	}
	if heap.Pending() {
		t.Error("slots pending after Flush")
	}
}

func TestHeap_EndInvalidatesMapping(t *testing.T) {
	h := newHarness(t, Capacity{4, 4, 4})
	q, _ := h.mgr.Create(KindEvent)
	occ, _ := h.mgr.Create(KindOcclusion)
	l := h.list(t)
	_ = h.mgr.Begin(occ, l)
	_ = h.mgr.End(occ, l, h.value)
	_ = h.mgr.End(q, l, h.value)
	_ = h.fence.WaitUntil(h.submit(t, l))

	heap := h.mgr.Heap(gpucore.QueryOcclusion)
	if _, err := h.mgr.Read(occ); err != nil {
		t.Fatal(err)
	}
	if !heap.Mapped() {
		t.Fatal("read did not map the readback buffer")
	}
	l2 := h.list(t)
	_ = h.mgr.Begin(occ, l2)
	_ = h.mgr.End(occ, l2, h.value)
	if heap.Mapped() {
		t.Error("End left the readback mapping valid")
	}
}
