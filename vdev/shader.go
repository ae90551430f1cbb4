package vdev

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/foundry/gputils"
)

const (
	// MaxDescriptorSets is the number of descriptor sets the binding model
	// exposes, matching the minimum guarantee of mobile-class hardware.
	MaxDescriptorSets = 4
	// MaxBindingsPerSet is the number of binding slots per descriptor set.
	MaxBindingsPerSet = 16
	// MaxVertexAttributes is the number of vertex attribute locations.
	MaxVertexAttributes = 16
	// MaxVertexBindings is the number of vertex buffer binding slots.
	MaxVertexBindings = 8
	// MaxPushConstantSize is the push constant budget in bytes.
	MaxPushConstantSize = 128
	// MaxColorAttachments is the maximum color attachment count per render pass.
	MaxColorAttachments = 8
)

// SetBindingLayout describes one binding slot as reflected from a shader.
// A zero Count marks the slot unused.
type SetBindingLayout struct {
	Type   DescriptorType
	Count  int
	Stages ShaderStageFlags
}

// SetLayoutInfo is the reflected shape of one descriptor set.
type SetLayoutInfo struct {
	Bindings [MaxBindingsPerSet]SetBindingLayout
}

func (s *SetLayoutInfo) IsEmpty() bool {
	for i := 0; i < MaxBindingsPerSet; i++ {
		if s.Bindings[i].Count != 0 {
			return false
		}
	}
	return true
}

func (s *SetLayoutInfo) hash(h *gputils.Hasher) {
	for i := 0; i < MaxBindingsPerSet; i++ {
		h.I32(int32(s.Bindings[i].Type))
		h.Int(s.Bindings[i].Count)
		h.U32(uint32(s.Bindings[i].Stages))
	}
}

// ResourceLayout is the reflection result for one shader module, supplied by
// the external compiler/reflection collaborator alongside the bytecode. Only
// semantically meaningful decorations appear here- bindings, locations and
// push constant use- never names.
type ResourceLayout struct {
	Sets             [MaxDescriptorSets]SetLayoutInfo
	PushConstantSize int
	// InputMask is the set of vertex attribute locations consumed by a
	// vertex-stage module.
	InputMask uint32
}

// Shader is a persistent shader module identity. Requesting the same bytecode
// twice returns the identical Shader for the device's lifetime.
type Shader struct {
	hash   uint64
	stage  ShaderStage
	module DriverShaderModule
	layout ResourceLayout
}

func (s *Shader) Hash() uint64 {
	return s.hash
}

func (s *Shader) Stage() ShaderStage {
	return s.stage
}

func (s *Shader) Layout() *ResourceLayout {
	return &s.layout
}

type shaderKey struct {
	stage ShaderStage
	code  string
}

// RequestShader registers opaque shader bytecode together with its reflection
// result and returns the persistent identity for it. Shaders are never
// destroyed before the device itself is.
func (d *Device) RequestShader(stage ShaderStage, code []byte, layout ResourceLayout) (*Shader, error) {
	d.logger.Debug("Device::RequestShader")

	hasher := gputils.NewHasher()
	hasher.I32(int32(stage))
	hasher.Data(code)
	hash := hasher.Get()

	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()

	return d.shaders.FindOrCreate(hash, shaderKey{stage: stage, code: string(code)}, func(key shaderKey) (*Shader, error) {
		module, err := d.driver.CreateShaderModule(code)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create shader module")
		}

		return &Shader{
			hash:   hash,
			stage:  stage,
			module: module,
			layout: layout,
		}, nil
	})
}

// CombinedResourceLayout is the union of every stage's reflected resources,
// which fully determines a pipeline layout.
type CombinedResourceLayout struct {
	Sets             [MaxDescriptorSets]SetLayoutInfo
	ActiveSetMask    uint32
	PushConstantSize int
	Stages           ShaderStageFlags
	InputMask        uint32
}

// PipelineLayout is a persistent, hashed pipeline layout. It owns one
// DescriptorSetAllocator per active set, so every program sharing a layout
// also shares set recycling.
type PipelineLayout struct {
	hash          uint64
	combined      CombinedResourceLayout
	driverLayout  DriverPipelineLayout
	setAllocators [MaxDescriptorSets]*DescriptorSetAllocator
}

func (l *PipelineLayout) Hash() uint64 {
	return l.hash
}

func (l *PipelineLayout) Combined() *CombinedResourceLayout {
	return &l.combined
}

// SetAllocator returns the descriptor-set allocator for an active set index,
// or nil for inactive sets.
func (l *PipelineLayout) SetAllocator(set int) *DescriptorSetAllocator {
	return l.setAllocators[set]
}

// Program is a persistent combination of shader stages sharing one pipeline
// layout.
type Program struct {
	hash    uint64
	shaders [shaderStageCount]*Shader
	layout  *PipelineLayout
}

func (p *Program) Hash() uint64 {
	return p.hash
}

func (p *Program) Layout() *PipelineLayout {
	return p.layout
}

func (p *Program) Shader(stage ShaderStage) *Shader {
	return p.shaders[stage]
}

// IsCompute reports whether the program consists of a compute stage.
func (p *Program) IsCompute() bool {
	return p.shaders[ShaderStageCompute] != nil
}

type programKey [shaderStageCount]uint64

// RequestProgram combines shader stages into a persistent program, deducing
// the pipeline layout from the union of all stages' reflected resources.
// Programs are never destroyed before the device itself is.
func (d *Device) RequestProgram(shaders ...*Shader) (*Program, error) {
	d.logger.Debug("Device::RequestProgram")

	if len(shaders) == 0 {
		return nil, errors.New("a program requires at least one shader stage")
	}

	var key programKey
	hasher := gputils.NewHasher()
	for _, shader := range shaders {
		if shader == nil {
			return nil, errors.New("a program cannot contain a nil shader")
		}
		if key[shader.stage] != 0 {
			return nil, errors.Newf("stage %d provided more than once", shader.stage)
		}
		key[shader.stage] = shader.hash
	}
	for stage := ShaderStage(0); stage < shaderStageCount; stage++ {
		hasher.U64(key[stage])
	}

	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()

	return d.programs.FindOrCreate(hasher.Get(), key, func(programKey) (*Program, error) {
		combined, err := combineResourceLayouts(shaders)
		if err != nil {
			return nil, err
		}

		layout, err := d.requestPipelineLayoutLocked(combined)
		if err != nil {
			return nil, err
		}

		program := &Program{
			hash:   hasher.Get(),
			layout: layout,
		}
		for _, shader := range shaders {
			program.shaders[shader.stage] = shader
		}
		return program, nil
	})
}

func combineResourceLayouts(shaders []*Shader) (CombinedResourceLayout, error) {
	var combined CombinedResourceLayout

	for _, shader := range shaders {
		combined.Stages |= shader.stage.Flag()
		if shader.layout.PushConstantSize > combined.PushConstantSize {
			combined.PushConstantSize = shader.layout.PushConstantSize
		}
		if shader.stage == ShaderStageVertex {
			combined.InputMask = shader.layout.InputMask
		}

		for set := 0; set < MaxDescriptorSets; set++ {
			for binding := 0; binding < MaxBindingsPerSet; binding++ {
				stageBinding := shader.layout.Sets[set].Bindings[binding]
				if stageBinding.Count == 0 {
					continue
				}

				merged := &combined.Sets[set].Bindings[binding]
				if merged.Count == 0 {
					*merged = stageBinding
					merged.Stages = shader.stage.Flag()
					continue
				}

				if merged.Type != stageBinding.Type {
					return combined, errors.Newf(
						"set %d binding %d is declared as %s by one stage and %s by another",
						set, binding, merged.Type, stageBinding.Type)
				}
				if stageBinding.Count > merged.Count {
					merged.Count = stageBinding.Count
				}
				merged.Stages |= shader.stage.Flag()
			}
		}
	}

	for set := 0; set < MaxDescriptorSets; set++ {
		if !combined.Sets[set].IsEmpty() {
			combined.ActiveSetMask |= 1 << set
		}
	}

	if combined.PushConstantSize > MaxPushConstantSize {
		return combined, errors.Newf("combined push constant size %d exceeds the %d byte budget",
			combined.PushConstantSize, MaxPushConstantSize)
	}

	return combined, nil
}

// requestPipelineLayoutLocked must be called with cacheMutex held.
func (d *Device) requestPipelineLayoutLocked(combined CombinedResourceLayout) (*PipelineLayout, error) {
	hasher := gputils.NewHasher()
	for set := 0; set < MaxDescriptorSets; set++ {
		combined.Sets[set].hash(&hasher)
	}
	hasher.Int(combined.PushConstantSize)
	hasher.U32(combined.ActiveSetMask)

	return d.pipelineLayouts.FindOrCreate(hasher.Get(), combined, func(combined CombinedResourceLayout) (*PipelineLayout, error) {
		layout := &PipelineLayout{
			hash:     hasher.Get(),
			combined: combined,
		}

		var driverSetLayouts []DriverSetLayout
		for set := 0; set < MaxDescriptorSets; set++ {
			if combined.ActiveSetMask&(1<<set) == 0 {
				continue
			}

			allocator, err := d.requestSetAllocatorLocked(combined.Sets[set])
			if err != nil {
				return nil, err
			}
			layout.setAllocators[set] = allocator
			driverSetLayouts = append(driverSetLayouts, allocator.driverLayout)
		}

		driverLayout, err := d.driver.CreatePipelineLayout(driverSetLayouts, combined.PushConstantSize)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create pipeline layout")
		}
		layout.driverLayout = driverLayout

		return layout, nil
	})
}

// requestSetAllocatorLocked must be called with cacheMutex held.
func (d *Device) requestSetAllocatorLocked(info SetLayoutInfo) (*DescriptorSetAllocator, error) {
	hasher := gputils.NewHasher()
	info.hash(&hasher)

	return d.setAllocators.FindOrCreate(hasher.Get(), info, func(info SetLayoutInfo) (*DescriptorSetAllocator, error) {
		return newDescriptorSetAllocator(d, info)
	})
}
