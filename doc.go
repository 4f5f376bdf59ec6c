// Package immediate translates an immediate-mode GPU API onto an explicit
// command-list API.
//
// # Overview
//
// Callers bind state one piece at a time (shaders, buffers, views,
// samplers, fixed-function state) and issue draws, dispatches, copies and
// queries on a single [Context]. The context records that state without
// touching the GPU and, at each draw, materializes it into immutable
// pipeline objects, root signatures and descriptor tables on the current
// command list. Redundant sets are suppressed by dirty bits, pipeline
// objects are cached by structure, and command lists are recycled once
// the GPU retires them.
//
// # Quick Start
//
//	dev, err := immediate.NewDevice(soft.New())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Destroy()
//
//	ctx := dev.ImmediateContext()
//	ctx.SetShader(gpucore.StageVertex, vs)
//	ctx.SetShader(gpucore.StagePixel, ps)
//	ctx.SetInputLayout(layout)
//	ctx.SetVertexBuffer(0, vertices, 16, 0)
//	ctx.SetRenderTargets([]*resource.View{rtv}, nil)
//	if err := ctx.Draw(3, 0); err != nil {
//		log.Fatal(err)
//	}
//	ctx.Finish(true)
//
// # Architecture
//
// The library is organized into:
//   - Public API: Device, Context, Query, shader and state objects
//   - gpucore: the explicit API backends implement
//   - resource: buffers, textures, views and samplers with usage tracking
//   - Internal: state (dirty bits), pso (caches), cmdlist (pools),
//     fence (per-queue timelines), binder (descriptor tables), query (heaps)
//   - Backends: soft (in-process), native (wgpu HAL)
//
// # Queues
//
// Two logical queues are modeled: graphics and copy. Every recorded use
// of a resource stores the fence value of the list that records it, per
// queue. A CPU map waits for exactly those values; a list that reads what
// the other queue writes waits for it on the GPU.
//
// # Submission
//
// Command lists are submitted when their descriptor windows fill, on
// Flush, Finish and blocking reads, and additionally as the configured
// [SubmissionPolicy] dictates.
//
// # Unsupported operations
//
// Deferred contexts, predication, indirect and stream-output draws and a
// few other legacy operations return a [*NotImplementedError] that
// matches [ErrNotImplemented].
package immediate
