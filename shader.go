package immediate

import (
	"fmt"

	"github.com/gogpu/naga"

	"github.com/gogpu/immediate/gpucore"
)

// Binding helpers for shader declarations.

// ConstantBuffers declares count constant buffer registers starting at
// register, bound through the descriptor table.
func ConstantBuffers(register, count uint32) gpucore.BindingRange {
	return gpucore.BindingRange{Kind: gpucore.ViewConstantBuffer, Register: register, Count: count}
}

// RootConstantBuffer declares a constant buffer bound directly by address.
func RootConstantBuffer(register uint32) gpucore.BindingRange {
	return gpucore.BindingRange{Kind: gpucore.ViewConstantBuffer, Register: register, Count: 1, Root: true}
}

// ShaderResources declares count shader resource registers.
func ShaderResources(register, count uint32) gpucore.BindingRange {
	return gpucore.BindingRange{Kind: gpucore.ViewShaderResource, Register: register, Count: count}
}

// UnorderedAccessViews declares count unordered access registers.
func UnorderedAccessViews(register, count uint32) gpucore.BindingRange {
	return gpucore.BindingRange{Kind: gpucore.ViewUnorderedAccess, Register: register, Count: count}
}

// Samplers declares count sampler registers.
func Samplers(register, count uint32) gpucore.BindingRange {
	return gpucore.BindingRange{Kind: gpucore.ViewSampler, Register: register, Count: count}
}

// NewShader creates a shader object from SPIR-V bytecode. Shaders with
// equal stage, entry point, bytecode and bindings share pipeline objects.
func NewShader(label string, stage gpucore.ShaderStage, spirv []byte, entryPoint string, bindings ...gpucore.BindingRange) (*gpucore.Shader, error) {
	if stage >= gpucore.ShaderStageCount {
		return nil, fmt.Errorf("immediate: shader %q: invalid stage %d", label, stage)
	}
	if len(spirv) == 0 || len(spirv)%4 != 0 {
		return nil, fmt.Errorf("immediate: shader %q: bytecode length %d is not a positive multiple of 4", label, len(spirv))
	}
	return gpucore.NewShader(label, stage, spirv, entryPoint, bindings), nil
}

// NewShaderFromWGSL compiles WGSL source to SPIR-V and creates a shader
// object from it.
func NewShaderFromWGSL(label string, stage gpucore.ShaderStage, source, entryPoint string, bindings ...gpucore.BindingRange) (*gpucore.Shader, error) {
	spirv, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("immediate: compile shader %q: %w", label, err)
	}
	return NewShader(label, stage, spirv, entryPoint, bindings...)
}

// NewInputLayout creates a vertex input layout.
func NewInputLayout(elements ...gpucore.InputElement) *gpucore.InputLayout {
	return gpucore.NewInputLayout(elements)
}
