// Package state tracks the pipeline state an immediate-mode caller has
// bound, without touching the GPU.
//
// Every setter compares the new value with the bound one and raises the
// dirty bit owning that category only when the value actually changed.
// The Prepare step of the context consumes and clears the bits.
package state

import (
	"strings"
)

// Dirty is a set of state categories that need to be reasserted on the
// command list.
type Dirty uint32

// Dirty categories.
const (
	// DirtyPipeline covers everything baked into the pipeline object:
	// shaders, input layout, topology, rasterizer, blend and depth-stencil
	// state, vertex strides and output formats.
	DirtyPipeline Dirty = 1 << iota
	DirtyIndexBuffer
	DirtyVertexBuffers
	DirtyTopology
	DirtyViewports
	DirtyStencilRef
	DirtyBlendFactor
	DirtyOutputViews
	DirtyConstantBuffers
	DirtyShaderResources
	DirtyUnorderedAccess
	DirtySamplers
)

// Category groups.
const (
	DirtyResources = DirtyConstantBuffers | DirtyShaderResources |
		DirtyUnorderedAccess | DirtySamplers
	DirtyFixedFunction = DirtyIndexBuffer | DirtyVertexBuffers | DirtyTopology |
		DirtyViewports | DirtyStencilRef | DirtyBlendFactor | DirtyOutputViews
	DirtyAll = DirtyPipeline | DirtyResources | DirtyFixedFunction
)

var dirtyNames = [...]string{
	"pipeline", "index-buffer", "vertex-buffers", "topology", "viewports",
	"stencil-ref", "blend-factor", "output-views", "constant-buffers",
	"shader-resources", "unordered-access", "samplers",
}

// Has reports whether any bit of f is set.
func (d Dirty) Has(f Dirty) bool { return d&f != 0 }

// String lists the set categories.
func (d Dirty) String() string {
	if d == 0 {
		return "clean"
	}
	var parts []string
	for i, name := range dirtyNames {
		if d&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Phase is the coarse state of the Prepare state machine.
type Phase uint8

// Prepare phases, from most to least work.
const (
	PhaseClean Phase = iota
	PhaseFixedFunctionDirty
	PhaseResourceDirty
	PhasePipelineDirty
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhasePipelineDirty:
		return "pipeline-dirty"
	case PhaseResourceDirty:
		return "resource-dirty"
	case PhaseFixedFunctionDirty:
		return "fixed-function-dirty"
	default:
		return "clean"
	}
}

// Phase returns the most demanding phase the dirty set requires.
func (d Dirty) Phase() Phase {
	switch {
	case d.Has(DirtyPipeline):
		return PhasePipelineDirty
	case d.Has(DirtyResources):
		return PhaseResourceDirty
	case d.Has(DirtyFixedFunction):
		return PhaseFixedFunctionDirty
	default:
		return PhaseClean
	}
}
