// Package gpucore defines the explicit, command-list based GPU API that the
// immediate-mode translation layer records into.
//
// The package contains interfaces and plain value types only. Backends
// implement [Device] and its objects:
//   - backend/soft: an in-process software GPU with asynchronous queues
//   - backend/native: an adapter over gogpu/wgpu HAL devices
//
// # Architecture
//
//	               +------------------+
//	               |    immediate     |
//	               | (Context, Device)|
//	               +--------+---------+
//	                        |
//	               +--------v---------+
//	               |     gpucore      |
//	               | (explicit API)   |
//	               +--------+---------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|   soft backend  |          |  native backend |
//	| (goroutine GPU) |          |  (hal.Device)   |
//	+-----------------+          +--------+--------+
//	                                      |
//	                             +--------v--------+
//	                             |   gogpu/wgpu    |
//	                             +-----------------+
//
// # Synchronization
//
// Queues execute command lists asynchronously and signal a [Fence] with the
// value given at submission. The CPU observes progress only through
// [Fence.CompletedValue] and blocks only in [Fence.WaitUntil]. Cross-queue
// ordering is expressed with [Queue.Wait].
//
// # Descriptor windows
//
// Every [CommandList] owns one window per [HeapType] sized by [Limits].
// Descriptors written with [CommandList.WriteDescriptor] are read by the
// GPU when the list executes, so a window is reusable only after the list
// has retired.
package gpucore
