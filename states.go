package immediate

import (
	"github.com/gogpu/immediate/gpucore"
)

// RasterizerState is an immutable rasterizer state object.
type RasterizerState struct {
	desc gpucore.RasterizerDesc
}

// NewRasterizerState creates a rasterizer state object.
func NewRasterizerState(desc gpucore.RasterizerDesc) *RasterizerState {
	return &RasterizerState{desc: desc}
}

// Desc returns the state. A nil state yields the defaults.
func (s *RasterizerState) Desc() gpucore.RasterizerDesc {
	if s == nil {
		return gpucore.DefaultRasterizer()
	}
	return s.desc
}

// BlendState is an immutable output-merger blend state object.
type BlendState struct {
	desc gpucore.BlendDesc
}

// NewBlendState creates a blend state object.
func NewBlendState(desc gpucore.BlendDesc) *BlendState {
	return &BlendState{desc: desc}
}

// Desc returns the state. A nil state yields the defaults.
func (s *BlendState) Desc() gpucore.BlendDesc {
	if s == nil {
		return gpucore.DefaultBlend()
	}
	return s.desc
}

// DepthStencilState is an immutable depth-stencil state object.
type DepthStencilState struct {
	desc gpucore.DepthStencilDesc
}

// NewDepthStencilState creates a depth-stencil state object.
func NewDepthStencilState(desc gpucore.DepthStencilDesc) *DepthStencilState {
	return &DepthStencilState{desc: desc}
}

// Desc returns the state. A nil state yields the defaults.
func (s *DepthStencilState) Desc() gpucore.DepthStencilDesc {
	if s == nil {
		return gpucore.DefaultDepthStencil()
	}
	return s.desc
}
