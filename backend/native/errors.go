//go:build !nogpu

package native

import "errors"

// Package errors for the HAL backend.
var (
	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrNotRecording is returned when closing a list that is not recording.
	ErrNotRecording = errors.New("native: list is not recording")

	// ErrUnalignedUpdate is returned when a buffer update or clear is not
	// a multiple of four bytes.
	ErrUnalignedUpdate = errors.New("native: buffer update not 4-byte aligned")

	// ErrForeignObject is returned when an object created by another
	// backend is passed in.
	ErrForeignObject = errors.New("native: object not created by this backend")
)
