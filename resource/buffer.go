package resource

import (
	"errors"
	"fmt"

	"github.com/gogpu/immediate/gpucore"
)

// Resource errors.
var (
	// ErrNilDevice is returned when creating a resource without a device.
	ErrNilDevice = errors.New("resource: device is nil")

	// ErrZeroSize is returned for zero-sized buffers or textures.
	ErrZeroSize = errors.New("resource: size is zero")

	// ErrInvalidView is returned for a view kind the resource cannot serve.
	ErrInvalidView = errors.New("resource: invalid view")
)

// retiredAllocation is a backing buffer replaced by a discard, kept until
// the GPU is done with it.
type retiredAllocation struct {
	buf    gpucore.Buffer
	fences gpucore.FenceValues
}

// Buffer is a logical buffer whose backing allocation can be rotated by
// write-discard maps.
type Buffer struct {
	Tracker

	dev     gpucore.Device
	desc    gpucore.BufferDesc
	alloc   gpucore.Buffer
	retired []retiredAllocation
	created int
}

// NewBuffer allocates a buffer on dev. No partial object is returned on
// failure.
func NewBuffer(dev gpucore.Device, desc *gpucore.BufferDesc) (*Buffer, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	if desc == nil || desc.Size == 0 {
		return nil, ErrZeroSize
	}
	b := &Buffer{dev: dev, desc: *desc}
	alloc, err := b.allocate()
	if err != nil {
		return nil, err
	}
	b.alloc = alloc
	return b, nil
}

func (b *Buffer) allocate() (gpucore.Buffer, error) {
	alloc, err := b.dev.CreateBuffer(&b.desc)
	if err != nil {
		return nil, fmt.Errorf("resource: create buffer %q: %w", b.desc.Label, err)
	}
	b.created++
	return alloc, nil
}

// Native returns the current backing allocation.
func (b *Buffer) Native() gpucore.Resource { return b.alloc }

// Allocation returns the current backing allocation.
func (b *Buffer) Allocation() gpucore.Buffer { return b.alloc }

// Desc returns the creation description.
func (b *Buffer) Desc() gpucore.BufferDesc { return b.desc }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.desc.Size }

// Allocations returns how many backing allocations were ever created.
func (b *Buffer) Allocations() int { return b.created }

// RequestTransition implements Resource.
func (b *Buffer) RequestTransition(rec Recorder, desired gpucore.ResourceState) bool {
	return b.transition(rec, b.alloc, desired)
}

// Discard replaces the backing allocation so the CPU can write new
// contents while the GPU still reads the old ones. completed holds the
// fence values reached per queue; retired allocations whose uses are all
// within completed are recycled before a new one is created.
func (b *Buffer) Discard(completed gpucore.FenceValues) error {
	var next gpucore.Buffer
	for i, r := range b.retired {
		if reached(r.fences, completed) {
			next = r.buf
			b.retired = append(b.retired[:i], b.retired[i+1:]...)
			break
		}
	}
	if next == nil {
		alloc, err := b.allocate()
		if err != nil {
			return err
		}
		next = alloc
	}
	b.retired = append(b.retired, retiredAllocation{buf: b.alloc, fences: b.any})
	b.alloc = next
	b.reset()
	return nil
}

// Destroy releases every allocation. The caller must ensure the GPU is
// idle with respect to this buffer.
func (b *Buffer) Destroy() {
	for _, r := range b.retired {
		r.buf.Destroy()
	}
	b.retired = nil
	if b.alloc != nil {
		b.alloc.Destroy()
		b.alloc = nil
	}
}

func reached(v, completed gpucore.FenceValues) bool {
	for q := range v {
		if v[q] > completed[q] {
			return false
		}
	}
	return true
}
