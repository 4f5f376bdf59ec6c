package immediate

import (
	"errors"

	"github.com/gogpu/immediate/gpucore"
)

// Sentinel errors.
var (
	// ErrNotImplemented is matched by every [NotImplementedError].
	ErrNotImplemented = errors.New("immediate: not implemented")

	// ErrDeviceLost is returned once the backend reports the device lost.
	// It is the same value as gpucore.ErrDeviceLost.
	ErrDeviceLost = gpucore.ErrDeviceLost

	// ErrPipelineCreation is returned when a draw or dispatch needs a
	// pipeline object the backend failed to create.
	ErrPipelineCreation = errors.New("immediate: pipeline creation failed")

	// ErrRootSignatureCreation is returned when the binding layout of a
	// shader set could not be created.
	ErrRootSignatureCreation = errors.New("immediate: root signature creation failed")

	// ErrInvalidMapType is returned for an unknown map type or a map type
	// the buffer's usage does not allow.
	ErrInvalidMapType = errors.New("immediate: invalid map type")

	// ErrNotMapped is returned when unmapping a buffer that is not mapped.
	ErrNotMapped = errors.New("immediate: buffer is not mapped")

	// ErrAlreadyMapped is returned when mapping a buffer twice.
	ErrAlreadyMapped = errors.New("immediate: buffer is already mapped")

	// ErrStillDrawing is returned by Map with MapDoNotWait when the GPU
	// still uses the buffer.
	ErrStillDrawing = errors.New("immediate: GPU is still using the resource")

	// ErrInvalidQuery is returned for an operation the query kind does not
	// support.
	ErrInvalidQuery = errors.New("immediate: invalid query operation")

	// ErrQueryNotBegun is returned when ending or reading a query that was
	// never begun.
	ErrQueryNotBegun = errors.New("immediate: query was not begun")

	// ErrNilDevice is returned when creating a device without a backend.
	ErrNilDevice = errors.New("immediate: device is nil")

	// ErrClosed is returned by operations on a destroyed device.
	ErrClosed = errors.New("immediate: device is closed")

	// ErrDescriptorCapacity is returned when a single draw needs more
	// descriptors than an empty command list window holds.
	ErrDescriptorCapacity = errors.New("immediate: descriptor window too small")

	// ErrOutOfRange is returned for a copy or update that exceeds the size
	// of a buffer.
	ErrOutOfRange = errors.New("immediate: range exceeds buffer size")
)

// NotImplementedError reports a legacy operation this layer deliberately
// does not emulate.
type NotImplementedError struct {
	Op string
}

// Error implements error.
func (e *NotImplementedError) Error() string {
	return "immediate: " + e.Op + " is not implemented"
}

// Is reports whether target is ErrNotImplemented.
func (e *NotImplementedError) Is(target error) bool {
	return target == ErrNotImplemented
}

func notImplemented(op string) error {
	return &NotImplementedError{Op: op}
}
