package vdev

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/foundry/gputils"
)

// pipelineKey is the exact identity of a compiled pipeline: the program, the
// compatible render pass and subpass, every piece of static render state, and
// the vertex input configuration. Compute pipelines use only the program.
type pipelineKey struct {
	programHash          uint64
	renderPassCompatHash uint64
	subpass              int

	state      StaticRenderState
	attributes [MaxVertexAttributes]VertexAttributeDescription
	strides    [MaxVertexBindings]int
	inputRates [MaxVertexBindings]VertexInputRate

	colorAttachments int
	compute          bool
}

func (k *pipelineKey) hash() uint64 {
	hasher := gputils.NewHasher()
	hasher.U64(k.programHash)
	hasher.Bool(k.compute)
	if k.compute {
		return hasher.Get()
	}

	hasher.U64(k.renderPassCompatHash)
	hasher.Int(k.subpass)
	k.state.hash(&hasher)
	for i := 0; i < MaxVertexAttributes; i++ {
		attr := k.attributes[i]
		hasher.Int(attr.Location)
		hasher.Int(attr.Binding)
		hasher.I32(int32(attr.Format))
		hasher.Int(attr.Offset)
	}
	for i := 0; i < MaxVertexBindings; i++ {
		hasher.Int(k.strides[i])
		hasher.I32(int32(k.inputRates[i]))
	}
	hasher.Int(k.colorAttachments)
	return hasher.Get()
}

// requestGraphicsPipeline compiles or returns the cached pipeline for the key.
// Pipelines persist for the device's lifetime; state changes during recording
// only ever switch between cached pipelines.
func (d *Device) requestGraphicsPipeline(program *Program, pass *RenderPass, key pipelineKey) (DriverPipeline, error) {
	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()

	return d.pipelines.FindOrCreate(key.hash(), key, func(key pipelineKey) (DriverPipeline, error) {
		description := GraphicsPipelineDescription{
			Layout:           program.layout.driverLayout,
			RenderPass:       pass.driverPass,
			Subpass:          key.subpass,
			State:            key.state,
			ColorAttachments: key.colorAttachments,
		}

		for stage := ShaderStage(0); stage < shaderStageCount; stage++ {
			shader := program.shaders[stage]
			if shader == nil {
				continue
			}
			description.Stages = append(description.Stages, ShaderStageModule{
				Stage:  stage,
				Module: shader.module,
			})
		}

		inputMask := program.layout.combined.InputMask
		bindingMask := uint32(0)
		for location := 0; location < MaxVertexAttributes; location++ {
			if inputMask&(1<<location) == 0 {
				continue
			}
			attr := key.attributes[location]
			description.Attributes = append(description.Attributes, attr)
			bindingMask |= 1 << attr.Binding
		}
		for binding := 0; binding < MaxVertexBindings; binding++ {
			if bindingMask&(1<<binding) == 0 {
				continue
			}
			description.VertexBindings = append(description.VertexBindings, VertexBindingDescription{
				Binding:   binding,
				Stride:    key.strides[binding],
				InputRate: key.inputRates[binding],
			})
		}

		pipeline, err := d.driver.CreateGraphicsPipeline(description)
		if err != nil {
			return nil, errors.Wrap(err, "failed to compile graphics pipeline")
		}
		return pipeline, nil
	})
}

// requestComputePipeline compiles or returns the cached pipeline for a compute
// program.
func (d *Device) requestComputePipeline(program *Program) (DriverPipeline, error) {
	key := pipelineKey{
		programHash: program.hash,
		compute:     true,
	}

	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()

	return d.pipelines.FindOrCreate(key.hash(), key, func(pipelineKey) (DriverPipeline, error) {
		shader := program.shaders[ShaderStageCompute]
		if shader == nil {
			return nil, errors.New("compute dispatch requires a program with a compute stage")
		}

		pipeline, err := d.driver.CreateComputePipeline(ComputePipelineDescription{
			Layout: program.layout.driverLayout,
			Shader: shader.module,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to compile compute pipeline")
		}
		return pipeline, nil
	})
}
