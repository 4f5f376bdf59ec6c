package fence

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/immediate/gpucore"
)

// timelineFence adapts a Timeline to gpucore.Fence.
type timelineFence struct {
	Timeline
	destroyed bool
}

func (f *timelineFence) CompletedValue() uint64   { return f.SignaledValue() }
func (f *timelineFence) WaitUntil(v uint64) error { return f.Timeline.WaitUntil(v) }
func (f *timelineFence) Destroy()                 { f.destroyed = true }

func (f *timelineFence) signal(t *testing.T, v uint64) {
	t.Helper()
	mustSignal(t, &f.Timeline, v)
}

// fenceDevice implements only CreateFence; other methods are never called.
type fenceDevice struct {
	gpucore.Device
	created []*timelineFence
	fail    error
}

func (d *fenceDevice) CreateFence() (gpucore.Fence, error) {
	if d.fail != nil && len(d.created) == 1 {
		return nil, d.fail
	}
	f := &timelineFence{}
	d.created = append(d.created, f)
	return f, nil
}

func mustSignal(t *testing.T, tl *Timeline, v uint64) {
	t.Helper()
	if err := tl.Signal(v); err != nil {
		t.Fatalf("Signal(%d) error = %v", v, err)
	}
}

func TestTimeline_WaitBlocksUntilSignal(t *testing.T) {
	var tl Timeline
	var returned atomic.Bool
	done := make(chan error, 1)
	go func() {
		err := tl.WaitUntil(3)
		returned.Store(true)
		done <- err
	}()

	mustSignal(t, &tl, 1)
	mustSignal(t, &tl, 2)
	time.Sleep(10 * time.Millisecond)
	if returned.Load() {
		t.Fatal("WaitUntil(3) returned before value 3 was signaled")
	}
	mustSignal(t, &tl, 3)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitUntil(3) error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitUntil(3) did not return after signal")
	}
	if got := tl.SignaledValue(); got != 3 {
		t.Errorf("SignaledValue() = %d, want 3", got)
	}
}

func TestTimeline_Regression(t *testing.T) {
	var tl Timeline
	mustSignal(t, &tl, 5)
	if err := tl.Signal(4); !errors.Is(err, ErrRegression) {
		t.Errorf("Signal(4) after 5 error = %v, want ErrRegression", err)
	}
	if got := tl.SignaledValue(); got != 5 {
		t.Errorf("SignaledValue() = %d, want 5", got)
	}
}

func TestTimeline_FailWakesWaiters(t *testing.T) {
	var tl Timeline
	lost := errors.New("lost")
	done := make(chan error, 1)
	go func() { done <- tl.WaitUntil(10) }()

	time.Sleep(5 * time.Millisecond)
	tl.Fail(lost)

	select {
	case err := <-done:
		if !errors.Is(err, lost) {
			t.Fatalf("WaitUntil error = %v, want %v", err, lost)
		}
	case <-time.After(time.Second):
		t.Fatal("Fail did not wake waiter")
	}

	// Already-satisfied waits still succeed.
	if err := tl.WaitUntil(0); err != nil {
		t.Errorf("WaitUntil(0) after Fail error = %v, want nil", err)
	}
}

func TestSet_AdvanceIsStrictlyIncreasing(t *testing.T) {
	dev := &fenceDevice{}
	s, err := NewSet(dev)
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	t.Cleanup(s.Destroy)

	for _, q := range []gpucore.QueueKind{gpucore.QueueGraphics, gpucore.QueueCopy} {
		var last uint64
		for i := 0; i < 100; i++ {
			cur := s.Current(q)
			v := s.Advance(q)
			if v != cur {
				t.Fatalf("%s: Advance() = %d, want Current() = %d", q, v, cur)
			}
			if v <= last {
				t.Fatalf("%s: Advance() = %d, not greater than previous %d", q, v, last)
			}
			if s.Submitted(q) != v {
				t.Fatalf("%s: Submitted() = %d, want %d", q, s.Submitted(q), v)
			}
			last = v
		}
	}
}

func TestSet_WaitNeverReturnsEarly(t *testing.T) {
	dev := &fenceDevice{}
	s, err := NewSet(dev)
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	t.Cleanup(s.Destroy)

	v := s.Advance(gpucore.QueueGraphics)
	gfx := dev.created[gpucore.QueueGraphics]

	if s.IsReached(gpucore.QueueGraphics, v) {
		t.Fatal("value reported reached before signal")
	}

	var reached atomic.Uint64
	done := make(chan error, 1)
	go func() {
		err := s.Wait(gpucore.QueueGraphics, v)
		reached.Store(gfx.CompletedValue())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	gfx.signal(t, v)

	if err := <-done; err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := reached.Load(); got < v {
		t.Errorf("Wait(%d) returned with completed value %d", v, got)
	}
}

func TestSet_WaitUnsubmitted(t *testing.T) {
	s, err := NewSet(&fenceDevice{})
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	t.Cleanup(s.Destroy)

	err = s.Wait(gpucore.QueueCopy, s.Current(gpucore.QueueCopy))
	if !errors.Is(err, ErrNotSubmitted) {
		t.Errorf("Wait(current) error = %v, want ErrNotSubmitted", err)
	}
	if !s.Pending(gpucore.QueueCopy, s.Current(gpucore.QueueCopy)) {
		t.Error("Pending(current) = false, want true")
	}
}

func TestSet_WaitAllAndCompleted(t *testing.T) {
	dev := &fenceDevice{}
	s, err := NewSet(dev)
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	t.Cleanup(s.Destroy)

	g := s.Advance(gpucore.QueueGraphics)
	c := s.Advance(gpucore.QueueCopy)
	want := gpucore.FenceValues{g, c}

	dev.created[gpucore.QueueGraphics].signal(t, g)
	if s.IsCompleted(want) {
		t.Fatal("IsCompleted() = true with copy queue still pending")
	}
	dev.created[gpucore.QueueCopy].signal(t, c)

	if err := s.WaitAll(want); err != nil {
		t.Fatalf("WaitAll() error = %v", err)
	}
	if got := s.CompletedValues(); got != want {
		t.Errorf("CompletedValues() = %v, want %v", got, want)
	}
}

func TestNewSet_CreateFailure(t *testing.T) {
	boom := errors.New("boom")
	dev := &fenceDevice{fail: boom}
	if _, err := NewSet(dev); !errors.Is(err, boom) {
		t.Fatalf("NewSet() error = %v, want %v", err, boom)
	}
	if !dev.created[0].destroyed {
		t.Error("fence created before the failure was not destroyed")
	}
}

func TestFenceValues_Max(t *testing.T) {
	a := gpucore.FenceValues{3, 9}
	b := gpucore.FenceValues{7, 2}
	if got, want := a.Max(b), (gpucore.FenceValues{7, 9}); got != want {
		t.Errorf("Max() = %v, want %v", got, want)
	}
	if got, want := a.Without(gpucore.QueueCopy), (gpucore.FenceValues{3, 0}); got != want {
		t.Errorf("Without(copy) = %v, want %v", got, want)
	}
}
