package resource

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/immediate/gpucore"
)

// Texture is a 2D texture resource.
type Texture struct {
	Tracker

	desc   gpucore.TextureDesc
	native gpucore.Texture
}

// NewTexture allocates a texture on dev.
func NewTexture(dev gpucore.Device, desc *gpucore.TextureDesc) (*Texture, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	if desc == nil || desc.Width == 0 || desc.Height == 0 {
		return nil, ErrZeroSize
	}
	d := *desc
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	native, err := dev.CreateTexture(&d)
	if err != nil {
		return nil, fmt.Errorf("resource: create texture %q: %w", d.Label, err)
	}
	return &Texture{desc: d, native: native}, nil
}

// Native returns the backend texture.
func (t *Texture) Native() gpucore.Resource { return t.native }

// Texture returns the backend texture.
func (t *Texture) Texture() gpucore.Texture { return t.native }

// Desc returns the creation description.
func (t *Texture) Desc() gpucore.TextureDesc { return t.desc }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// RequestTransition implements Resource.
func (t *Texture) RequestTransition(rec Recorder, desired gpucore.ResourceState) bool {
	return t.transition(rec, t.native, desired)
}

// Destroy releases the texture.
func (t *Texture) Destroy() {
	if t.native != nil {
		t.native.Destroy()
		t.native = nil
	}
}
