package resource

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/immediate/gpucore"
)

// ViewDesc selects the part of a resource a view exposes.
type ViewDesc struct {
	// Format overrides the texture format; zero keeps the resource format.
	Format gputypes.TextureFormat

	// Offset and Size select a buffer byte range; zero Size means the rest
	// of the buffer.
	Offset uint64
	Size   uint64

	// Stride is the element size of structured buffer views.
	Stride uint32
}

// View is a shader resource, unordered access, render target or
// depth-stencil view.
type View struct {
	kind gpucore.ViewKind
	res  Resource
	desc ViewDesc
}

// NewView creates a view of kind over r.
func NewView(kind gpucore.ViewKind, r Resource, desc ViewDesc) (*View, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil resource", ErrInvalidView)
	}
	switch kind {
	case gpucore.ViewShaderResource, gpucore.ViewUnorderedAccess:
	case gpucore.ViewRenderTarget, gpucore.ViewDepthStencil:
		if _, ok := r.(*Texture); !ok {
			return nil, fmt.Errorf("%w: %s requires a texture", ErrInvalidView, kind)
		}
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrInvalidView, kind)
	}
	if b, ok := r.(*Buffer); ok {
		if desc.Offset >= b.Size() || desc.Offset+desc.Size > b.Size() {
			return nil, fmt.Errorf("%w: range [%d,+%d) outside buffer of %d bytes",
				ErrInvalidView, desc.Offset, desc.Size, b.Size())
		}
	}
	if t, ok := r.(*Texture); ok && desc.Format == gputypes.TextureFormatUndefined {
		desc.Format = t.Format()
	}
	return &View{kind: kind, res: r, desc: desc}, nil
}

// Kind returns the view kind.
func (v *View) Kind() gpucore.ViewKind { return v.kind }

// Resource returns the viewed resource.
func (v *View) Resource() Resource { return v.res }

// Format returns the view format.
func (v *View) Format() gputypes.TextureFormat { return v.desc.Format }

// Descriptor returns the descriptor of the view against the resource's
// current backing allocation.
func (v *View) Descriptor() gpucore.Descriptor {
	d := gpucore.Descriptor{
		Kind:     v.kind,
		Resource: v.res.Native(),
		Offset:   v.desc.Offset,
		Size:     v.desc.Size,
		Stride:   v.desc.Stride,
		Format:   v.desc.Format,
	}
	if b, ok := v.res.(*Buffer); ok && d.Size == 0 {
		d.Size = b.Size() - d.Offset
	}
	return d
}

// State returns the resource state the view requires when read or
// written by stage. Render target and depth-stencil views ignore stage.
func (v *View) State(stage gpucore.ShaderStage) gpucore.ResourceState {
	switch v.kind {
	case gpucore.ViewUnorderedAccess:
		return gpucore.StateUnorderedAccess
	case gpucore.ViewRenderTarget:
		return gpucore.StateRenderTarget
	case gpucore.ViewDepthStencil:
		return gpucore.StateDepthWrite
	default:
		return stage.ShaderResourceState()
	}
}

// Access returns whether the view writes its resource.
func (v *View) Access() Access {
	if v.kind == gpucore.ViewShaderResource {
		return AccessAny
	}
	return AccessWrite
}

// Sampler is an immutable sampler object.
type Sampler struct {
	desc gpucore.SamplerDesc
}

// NewSampler creates a sampler.
func NewSampler(desc gpucore.SamplerDesc) *Sampler {
	return &Sampler{desc: desc}
}

// Desc returns the sampler state.
func (s *Sampler) Desc() gpucore.SamplerDesc { return s.desc }

// Descriptor returns the sampler descriptor.
func (s *Sampler) Descriptor() gpucore.Descriptor {
	return gpucore.Descriptor{Kind: gpucore.ViewSampler, Sampler: &s.desc}
}
