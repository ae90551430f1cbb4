package vdev

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/foundry/gputils"
)

// uniformAlignment is the offset alignment applied to scratch uniform
// allocations, matching the strictest common minUniformBufferOffsetAlignment.
const uniformAlignment = 256

type dirtyFlags uint32

const (
	dirtyPipeline dirtyFlags = 1 << iota
	dirtyViewport
	dirtyScissor
	dirtyPushConstants
	dirtyDynamicDepthBias
	dirtyDynamicStencil
)

// setBindingState is the command buffer's record of one descriptor set:
// the identity signature used for cache lookups, and the driver-level writes
// applied if a new set has to be populated.
type setBindingState struct {
	signature bindingSignature
	writes    [MaxBindingsPerSet]DescriptorWrite
}

// SavedStateFlags selects which parts of the binding model SaveState records.
type SavedStateFlags uint32

const (
	SavedStateBindings SavedStateFlags = 1 << iota
	SavedStateRenderState
	SavedStatePushConstants
)

const SavedStateAll = SavedStateBindings | SavedStateRenderState | SavedStatePushConstants

// CommandBufferSavedState is a snapshot taken by SaveState, restored with
// RestoreState. It lets renderers temporarily hijack a command buffer (for
// UI overlays, debug passes) and put the binding model back afterwards.
type CommandBufferSavedState struct {
	flags SavedStateFlags

	sets         [MaxDescriptorSets]setBindingState
	staticState  StaticRenderState
	dynamicState DynamicRenderState

	pushConstantData [MaxPushConstantSize]byte
	pushConstantSize int
}

// CommandBuffer records work against one queue. It is requested from the
// device, recorded on a single goroutine, and must be submitted before the
// device advances to the next frame context.
//
// All rendering state is logical until a draw or dispatch: the flush step
// resolves the program, render pass and static state into a cached pipeline,
// and the binding signatures into cached descriptor sets.
type CommandBuffer struct {
	device      *Device
	driverCmd   DriverCommandBuffer
	queueType   QueueType
	threadIndex int

	renderPass  *RenderPass
	framebuffer *framebuffer
	subpass     int

	program         *Program
	currentPipeline DriverPipeline

	staticState  StaticRenderState
	dynamicState DynamicRenderState

	sets      [MaxDescriptorSets]setBindingState
	dirtySets uint32

	vertexBuffers      [MaxVertexBindings]DriverBuffer
	vertexOffsets      [MaxVertexBindings]int
	vertexStrides      [MaxVertexBindings]int
	vertexInputRates   [MaxVertexBindings]VertexInputRate
	dirtyVertexBuffers uint32
	attributes         [MaxVertexAttributes]VertexAttributeDescription

	indexBuffer DriverBuffer
	indexOffset int
	indexType   IndexType
	hasIndex    bool

	pushConstantData [MaxPushConstantSize]byte
	pushConstantSize int

	viewport Viewport
	scissor  Rect2D

	dirty dirtyFlags

	allocators [allocClassCount]linearAllocator

	submitted bool
}

func newCommandBuffer(d *Device, driverCmd DriverCommandBuffer, queueType QueueType, threadIndex int) *CommandBuffer {
	cmd := &CommandBuffer{
		device:      d,
		driverCmd:   driverCmd,
		queueType:   queueType,
		threadIndex: threadIndex,
		staticState: OpaqueRenderState(),
		dirty:       dirtyPipeline | dirtyPushConstants,
	}
	for class := allocClass(0); class < allocClassCount; class++ {
		cmd.allocators[class].init(d, class)
	}
	return cmd
}

func (c *CommandBuffer) QueueType() QueueType {
	return c.queueType
}

// --- render pass control ---

// BeginRenderPass resolves the info block into a cached render pass and
// framebuffer and starts recording inside it. Only the generic queue may
// record render passes.
func (c *CommandBuffer) BeginRenderPass(info *RenderPassInfo) error {
	gputils.DebugAssert(c.renderPass == nil, "BeginRenderPass inside an active render pass")
	gputils.DebugAssert(c.queueType == QueueGeneric, "render passes require the generic queue")

	pass, err := c.device.requestRenderPass(info)
	if err != nil {
		return err
	}
	fb, err := c.device.requestFramebuffer(pass, info)
	if err != nil {
		return err
	}

	var clears []ClearValue
	for i := 0; i < info.NumColorAttachments; i++ {
		clears = append(clears, info.ClearColors[i])
	}
	if info.DepthStencil != nil {
		clears = append(clears, ClearValue{Depth: info.ClearDepth, Stencil: info.ClearStencil})
	}

	c.driverCmd.BeginRenderPass(pass.driverPass, fb.driverFramebuffer, fb.width, fb.height, clears)

	c.renderPass = pass
	c.framebuffer = fb
	c.subpass = 0
	c.currentPipeline = nil

	c.viewport = Viewport{Width: float32(fb.width), Height: float32(fb.height), MaxDepth: 1}
	c.scissor = Rect2D{Width: fb.width, Height: fb.height}
	c.dirty |= dirtyPipeline | dirtyViewport | dirtyScissor

	return nil
}

func (c *CommandBuffer) NextSubpass() {
	gputils.DebugAssert(c.renderPass != nil, "NextSubpass outside a render pass")
	gputils.DebugAssert(c.subpass+1 < c.renderPass.numSubpasses, "NextSubpass past the last subpass")

	c.driverCmd.NextSubpass()
	c.subpass++
	c.currentPipeline = nil
	c.dirty |= dirtyPipeline
}

func (c *CommandBuffer) EndRenderPass() {
	gputils.DebugAssert(c.renderPass != nil, "EndRenderPass outside a render pass")

	c.driverCmd.EndRenderPass()
	c.renderPass = nil
	c.framebuffer = nil
	c.currentPipeline = nil
	c.dirty |= dirtyPipeline
}

// --- program and render state ---

// SetProgram selects the shader program for subsequent draws or dispatches.
func (c *CommandBuffer) SetProgram(program *Program) {
	if c.program == program {
		return
	}
	c.program = program
	c.currentPipeline = nil
	c.dirty |= dirtyPipeline
	// The layout may differ; every set must be re-resolved.
	c.dirtySets = (1 << MaxDescriptorSets) - 1
}

// SetOpaqueState resets static render state to the opaque defaults.
func (c *CommandBuffer) SetOpaqueState() {
	c.setStaticState(OpaqueRenderState())
}

func (c *CommandBuffer) setStaticState(state StaticRenderState) {
	if c.staticState == state {
		return
	}
	c.staticState = state
	c.dirty |= dirtyPipeline
}

func (c *CommandBuffer) SetDepthTest(test, write bool) {
	state := c.staticState
	state.DepthTest = test
	state.DepthWrite = write
	c.setStaticState(state)
}

func (c *CommandBuffer) SetDepthCompare(compare CompareOp) {
	state := c.staticState
	state.DepthCompare = compare
	c.setStaticState(state)
}

func (c *CommandBuffer) SetCullMode(mode CullMode) {
	state := c.staticState
	state.Cull = mode
	c.setStaticState(state)
}

func (c *CommandBuffer) SetFrontFace(face FrontFace) {
	state := c.staticState
	state.Front = face
	c.setStaticState(state)
}

func (c *CommandBuffer) SetPrimitiveTopology(topology PrimitiveTopology) {
	state := c.staticState
	state.Topology = topology
	c.setStaticState(state)
}

func (c *CommandBuffer) SetWireframe(wireframe bool) {
	state := c.staticState
	state.Wireframe = wireframe
	c.setStaticState(state)
}

func (c *CommandBuffer) SetStencilTest(test bool) {
	state := c.staticState
	state.StencilTest = test
	c.setStaticState(state)
}

// SetStencilReference sets the dynamic stencil reference, compare mask and
// write mask, flushed with the next draw while stencil testing is enabled.
func (c *CommandBuffer) SetStencilReference(reference, compareMask, writeMask uint32) {
	c.dynamicState.StencilFrontReference = reference
	c.dynamicState.StencilFrontCompareMask = compareMask
	c.dynamicState.StencilFrontWriteMask = writeMask
	c.dirty |= dirtyDynamicStencil
}

// SetBlend configures blending for both the color and alpha channels.
func (c *CommandBuffer) SetBlend(enable bool, src, dst BlendFactor, op BlendOp) {
	state := c.staticState
	state.BlendEnable = enable
	state.SrcColorBlend = src
	state.DstColorBlend = dst
	state.ColorBlendOp = op
	state.SrcAlphaBlend = src
	state.DstAlphaBlend = dst
	state.AlphaBlendOp = op
	c.setStaticState(state)
}

func (c *CommandBuffer) SetColorWriteMask(mask uint32) {
	state := c.staticState
	state.ColorWriteMask = mask
	c.setStaticState(state)
}

func (c *CommandBuffer) SetDepthBias(constant, slope float32) {
	state := c.staticState
	state.DepthBias = constant != 0 || slope != 0
	c.setStaticState(state)

	c.dynamicState.DepthBiasConstant = constant
	c.dynamicState.DepthBiasSlope = slope
	c.dirty |= dirtyDynamicDepthBias
}

func (c *CommandBuffer) SetViewport(viewport Viewport) {
	c.viewport = viewport
	c.dirty |= dirtyViewport
}

func (c *CommandBuffer) SetScissor(scissor Rect2D) {
	c.scissor = scissor
	c.dirty |= dirtyScissor
}

// PushConstants stores push constant data to be flushed with the next draw or
// dispatch.
func (c *CommandBuffer) PushConstants(data []byte) {
	gputils.DebugAssert(len(data) <= MaxPushConstantSize, "push constant data exceeds the budget")

	copy(c.pushConstantData[:], data)
	c.pushConstantSize = len(data)
	c.dirty |= dirtyPushConstants
}

// --- resource binding ---

func (c *CommandBuffer) bind(set, binding int, next resourceBinding, write DescriptorWrite) {
	gputils.DebugAssert(set >= 0 && set < MaxDescriptorSets, "descriptor set index out of range")
	gputils.DebugAssert(binding >= 0 && binding < MaxBindingsPerSet, "binding index out of range")

	if c.sets[set].signature[binding] == next {
		return
	}
	c.sets[set].signature[binding] = next
	c.sets[set].writes[binding] = write
	c.dirtySets |= 1 << set
}

// BindUniformBuffer binds a whole or partial buffer as a uniform buffer.
func (c *CommandBuffer) BindUniformBuffer(set, binding int, buffer *Buffer, offset, size int) {
	c.bind(set, binding,
		resourceBinding{Cookie: buffer.cookie, Offset: offset, Range: size},
		DescriptorWrite{
			Binding: binding,
			Type:    DescriptorTypeUniformBuffer,
			Buffer:  buffer.driverBuffer,
			Offset:  offset,
			Range:   size,
		})
}

// BindStorageBuffer binds a whole or partial buffer as a storage buffer.
func (c *CommandBuffer) BindStorageBuffer(set, binding int, buffer *Buffer, offset, size int) {
	c.bind(set, binding,
		resourceBinding{Cookie: buffer.cookie, Offset: offset, Range: size},
		DescriptorWrite{
			Binding: binding,
			Type:    DescriptorTypeStorageBuffer,
			Buffer:  buffer.driverBuffer,
			Offset:  offset,
			Range:   size,
		})
}

// BindTexture binds an image view for sampled reads.
func (c *CommandBuffer) BindTexture(set, binding int, view *ImageView) {
	c.bind(set, binding,
		resourceBinding{Cookie: view.cookie, Layout: ImageLayoutShaderReadOnlyOptimal},
		DescriptorWrite{
			Binding:   binding,
			Type:      DescriptorTypeSampledImage,
			ImageView: view.driverView,
			Layout:    ImageLayoutShaderReadOnlyOptimal,
		})
}

// BindStorageImage binds an image view for shader image loads and stores.
func (c *CommandBuffer) BindStorageImage(set, binding int, view *ImageView) {
	c.bind(set, binding,
		resourceBinding{Cookie: view.cookie, Layout: ImageLayoutGeneral},
		DescriptorWrite{
			Binding:   binding,
			Type:      DescriptorTypeStorageImage,
			ImageView: view.driverView,
			Layout:    ImageLayoutGeneral,
		})
}

// BindInputAttachment binds an image view for subpass input reads.
func (c *CommandBuffer) BindInputAttachment(set, binding int, view *ImageView) {
	c.bind(set, binding,
		resourceBinding{Cookie: view.cookie, AuxCookie: 1, Layout: ImageLayoutShaderReadOnlyOptimal},
		DescriptorWrite{
			Binding:   binding,
			Type:      DescriptorTypeInputAttachment,
			ImageView: view.driverView,
			Layout:    ImageLayoutShaderReadOnlyOptimal,
		})
}

// SetVertexAttribute configures one vertex attribute location.
func (c *CommandBuffer) SetVertexAttribute(location, binding int, format core1_0.Format, offset int) {
	gputils.DebugAssert(location >= 0 && location < MaxVertexAttributes, "vertex attribute location out of range")
	gputils.DebugAssert(binding >= 0 && binding < MaxVertexBindings, "vertex binding out of range")

	attr := VertexAttributeDescription{Location: location, Binding: binding, Format: format, Offset: offset}
	if c.attributes[location] == attr {
		return
	}
	c.attributes[location] = attr
	c.dirty |= dirtyPipeline
}

// BindVertexBuffer binds a vertex buffer to a binding slot with a stride and
// input rate. Stride and rate participate in pipeline identity.
func (c *CommandBuffer) BindVertexBuffer(binding int, buffer *Buffer, offset, stride int, rate VertexInputRate) {
	gputils.DebugAssert(binding >= 0 && binding < MaxVertexBindings, "vertex binding out of range")

	c.bindVertexDriverBuffer(binding, buffer.driverBuffer, offset, stride, rate)
}

func (c *CommandBuffer) bindVertexDriverBuffer(binding int, buffer DriverBuffer, offset, stride int, rate VertexInputRate) {
	if c.vertexBuffers[binding] != buffer || c.vertexOffsets[binding] != offset {
		c.vertexBuffers[binding] = buffer
		c.vertexOffsets[binding] = offset
		c.dirtyVertexBuffers |= 1 << binding
	}
	if c.vertexStrides[binding] != stride || c.vertexInputRates[binding] != rate {
		c.vertexStrides[binding] = stride
		c.vertexInputRates[binding] = rate
		c.dirty |= dirtyPipeline
	}
}

// BindIndexBuffer binds an index buffer for DrawIndexed.
func (c *CommandBuffer) BindIndexBuffer(buffer *Buffer, offset int, indexType IndexType) {
	c.bindIndexDriverBuffer(buffer.driverBuffer, offset, indexType)
}

func (c *CommandBuffer) bindIndexDriverBuffer(buffer DriverBuffer, offset int, indexType IndexType) {
	if c.hasIndex && c.indexBuffer == buffer && c.indexOffset == offset && c.indexType == indexType {
		return
	}
	c.indexBuffer = buffer
	c.indexOffset = offset
	c.indexType = indexType
	c.hasIndex = true
	c.driverCmd.BindIndexBuffer(buffer, offset, indexType)
}

// --- scratch allocation ---

// AllocateVertexData allocates transient vertex data valid for this
// submission and binds its backing block to the binding slot. The returned
// slice is the caller's to fill before submitting.
func (c *CommandBuffer) AllocateVertexData(binding, size, stride int) ([]byte, error) {
	alloc, err := c.allocators[allocClassVertex].allocate(size, 16)
	if err != nil {
		return nil, err
	}
	c.bindVertexDriverBuffer(binding, alloc.Buffer, alloc.Offset, stride, VertexInputRateVertex)
	return alloc.Data, nil
}

// AllocateIndexData allocates transient index data valid for this submission
// and binds its backing block as the index buffer.
func (c *CommandBuffer) AllocateIndexData(size int, indexType IndexType) ([]byte, error) {
	alignment := 2
	if indexType == IndexTypeU32 {
		alignment = 4
	}
	alloc, err := c.allocators[allocClassIndex].allocate(size, alignment)
	if err != nil {
		return nil, err
	}
	c.bindIndexDriverBuffer(alloc.Buffer, alloc.Offset, indexType)
	return alloc.Data, nil
}

// AllocateUniformData allocates transient uniform data valid for this
// submission and binds it to the descriptor slot.
func (c *CommandBuffer) AllocateUniformData(set, binding, size int) ([]byte, error) {
	alloc, err := c.allocators[allocClassUniform].allocate(size, uniformAlignment)
	if err != nil {
		return nil, err
	}
	c.bind(set, binding,
		resourceBinding{Cookie: alloc.Cookie, Offset: alloc.Offset, Range: size},
		DescriptorWrite{
			Binding: binding,
			Type:    DescriptorTypeUniformBuffer,
			Buffer:  alloc.Buffer,
			Offset:  alloc.Offset,
			Range:   size,
		})
	return alloc.Data, nil
}

// AllocateStagingData allocates transient host-visible memory for transfer
// sources, to be used with CopyBufferRegion or image uploads.
func (c *CommandBuffer) AllocateStagingData(size int) (LinearAllocation, error) {
	return c.allocators[allocClassStaging].allocate(size, 16)
}

// --- state snapshots ---

// SaveState snapshots the selected parts of the binding model.
func (c *CommandBuffer) SaveState(flags SavedStateFlags) *CommandBufferSavedState {
	saved := &CommandBufferSavedState{flags: flags}
	if flags&SavedStateBindings != 0 {
		saved.sets = c.sets
	}
	if flags&SavedStateRenderState != 0 {
		saved.staticState = c.staticState
		saved.dynamicState = c.dynamicState
	}
	if flags&SavedStatePushConstants != 0 {
		saved.pushConstantData = c.pushConstantData
		saved.pushConstantSize = c.pushConstantSize
	}
	return saved
}

// RestoreState puts back a snapshot taken with SaveState and marks the
// restored state dirty so the next draw re-resolves it.
func (c *CommandBuffer) RestoreState(saved *CommandBufferSavedState) {
	if saved.flags&SavedStateBindings != 0 {
		c.sets = saved.sets
		c.dirtySets = (1 << MaxDescriptorSets) - 1
	}
	if saved.flags&SavedStateRenderState != 0 {
		c.staticState = saved.staticState
		c.dynamicState = saved.dynamicState
		c.dirty |= dirtyPipeline | dirtyDynamicDepthBias | dirtyDynamicStencil
	}
	if saved.flags&SavedStatePushConstants != 0 {
		c.pushConstantData = saved.pushConstantData
		c.pushConstantSize = saved.pushConstantSize
		c.dirty |= dirtyPushConstants
	}
}

// --- draw and dispatch ---

// Draw resolves all logical state and records a non-indexed draw.
func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) error {
	if err := c.flushRenderState(); err != nil {
		return err
	}
	c.driverCmd.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	return nil
}

// DrawIndexed resolves all logical state and records an indexed draw.
func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) error {
	gputils.DebugAssert(c.hasIndex, "DrawIndexed without a bound index buffer")

	if err := c.flushRenderState(); err != nil {
		return err
	}
	c.driverCmd.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	return nil
}

// Dispatch resolves compute state and records a dispatch.
func (c *CommandBuffer) Dispatch(groupsX, groupsY, groupsZ int) error {
	if err := c.flushComputeState(); err != nil {
		return err
	}
	c.driverCmd.Dispatch(groupsX, groupsY, groupsZ)
	return nil
}

func (c *CommandBuffer) flushRenderState() error {
	gputils.DebugAssert(!c.submitted, "recording on a submitted command buffer")
	if c.renderPass == nil {
		return errors.New("draws must be recorded inside a render pass")
	}
	if c.program == nil {
		return errors.New("draws require a program")
	}
	if c.program.IsCompute() {
		return errors.New("a compute program cannot be used for draws")
	}

	if c.dirty&dirtyPipeline != 0 || c.currentPipeline == nil {
		pipeline, err := c.resolveGraphicsPipeline()
		if err != nil {
			return err
		}
		if pipeline != c.currentPipeline {
			c.driverCmd.BindGraphicsPipeline(pipeline)
			c.currentPipeline = pipeline
		}
		c.dirty &^= dirtyPipeline
	}

	if err := c.flushDescriptorSets(false); err != nil {
		return err
	}

	inputMask := c.program.layout.combined.InputMask
	bindingMask := uint32(0)
	for location := 0; location < MaxVertexAttributes; location++ {
		if inputMask&(1<<location) != 0 {
			bindingMask |= 1 << c.attributes[location].Binding
		}
	}
	flush := c.dirtyVertexBuffers & bindingMask
	for binding := 0; binding < MaxVertexBindings; binding++ {
		if flush&(1<<binding) == 0 {
			continue
		}
		gputils.DebugAssert(c.vertexBuffers[binding] != nil, "active vertex binding has no buffer")
		c.driverCmd.BindVertexBuffer(binding, c.vertexBuffers[binding], c.vertexOffsets[binding])
	}
	c.dirtyVertexBuffers &^= flush

	c.flushCommonState(false)

	if c.dirty&dirtyViewport != 0 {
		c.driverCmd.SetViewport(c.viewport)
		c.dirty &^= dirtyViewport
	}
	if c.dirty&dirtyScissor != 0 {
		c.driverCmd.SetScissor(c.scissor)
		c.dirty &^= dirtyScissor
	}

	return nil
}

func (c *CommandBuffer) flushComputeState() error {
	gputils.DebugAssert(!c.submitted, "recording on a submitted command buffer")
	if c.renderPass != nil {
		return errors.New("dispatches cannot be recorded inside a render pass")
	}
	if c.program == nil {
		return errors.New("dispatches require a program")
	}
	if !c.program.IsCompute() {
		return errors.New("a graphics program cannot be used for dispatches")
	}

	if c.dirty&dirtyPipeline != 0 || c.currentPipeline == nil {
		pipeline, err := c.device.requestComputePipeline(c.program)
		if err != nil {
			return err
		}
		if pipeline != c.currentPipeline {
			c.driverCmd.BindComputePipeline(pipeline)
			c.currentPipeline = pipeline
		}
		c.dirty &^= dirtyPipeline
	}

	if err := c.flushDescriptorSets(true); err != nil {
		return err
	}
	c.flushCommonState(true)

	return nil
}

func (c *CommandBuffer) flushCommonState(compute bool) {
	layout := c.program.layout

	if c.dirty&dirtyPushConstants != 0 {
		if layout.combined.PushConstantSize > 0 {
			c.driverCmd.PushConstants(layout.driverLayout, layout.combined.Stages,
				c.pushConstantData[:layout.combined.PushConstantSize])
		}
		c.dirty &^= dirtyPushConstants
	}
	if !compute {
		if c.dirty&dirtyDynamicDepthBias != 0 {
			// Only valid while the pipeline declares dynamic depth bias.
			if c.staticState.DepthBias {
				c.driverCmd.SetDepthBias(c.dynamicState.DepthBiasConstant, c.dynamicState.DepthBiasSlope)
			}
			c.dirty &^= dirtyDynamicDepthBias
		}
		if c.dirty&dirtyDynamicStencil != 0 {
			if c.staticState.StencilTest {
				c.driverCmd.SetStencilReference(c.dynamicState.StencilFrontReference,
					c.dynamicState.StencilFrontCompareMask, c.dynamicState.StencilFrontWriteMask)
			}
			c.dirty &^= dirtyDynamicStencil
		}
	}
}

func (c *CommandBuffer) resolveGraphicsPipeline() (DriverPipeline, error) {
	key := pipelineKey{
		programHash:          c.program.hash,
		renderPassCompatHash: c.renderPass.compatHash,
		subpass:              c.subpass,
		state:                c.staticState,
		colorAttachments:     c.renderPass.numColorAttachments,
	}

	// Only active attributes and the bindings they reference participate in
	// pipeline identity; stale slots must not force recompiles.
	inputMask := c.program.layout.combined.InputMask
	bindingMask := uint32(0)
	for location := 0; location < MaxVertexAttributes; location++ {
		if inputMask&(1<<location) == 0 {
			continue
		}
		key.attributes[location] = c.attributes[location]
		bindingMask |= 1 << c.attributes[location].Binding
	}
	for binding := 0; binding < MaxVertexBindings; binding++ {
		if bindingMask&(1<<binding) == 0 {
			continue
		}
		key.strides[binding] = c.vertexStrides[binding]
		key.inputRates[binding] = c.vertexInputRates[binding]
	}

	return c.device.requestGraphicsPipeline(c.program, c.renderPass, key)
}

// flushDescriptorSets resolves every dirty active set through its layout's
// allocator. A signature hit binds the cached set with zero descriptor
// writes.
func (c *CommandBuffer) flushDescriptorSets(compute bool) error {
	layout := c.program.layout
	pending := c.dirtySets & layout.combined.ActiveSetMask

	for set := 0; set < MaxDescriptorSets; set++ {
		if pending&(1<<set) == 0 {
			continue
		}
		allocator := layout.setAllocators[set]

		// Fold only the slots this layout declares, so stale bindings in
		// undeclared slots cannot perturb identity.
		var signature bindingSignature
		var writes []DescriptorWrite
		hasher := gputils.NewHasher()
		for binding := 0; binding < MaxBindingsPerSet; binding++ {
			if layout.combined.Sets[set].Bindings[binding].Count == 0 {
				continue
			}
			entry := c.sets[set].signature[binding]
			if entry.Cookie == 0 {
				return errors.Newf("set %d binding %d is used by the program but nothing is bound", set, binding)
			}
			signature[binding] = entry
			writes = append(writes, c.sets[set].writes[binding])

			hasher.U64(entry.Cookie)
			hasher.U64(entry.AuxCookie)
			hasher.Int(entry.Offset)
			hasher.Int(entry.Range)
			hasher.I32(int32(entry.Layout))
		}

		driverSet, err := allocator.getOrAllocate(hasher.Get(), signature, writes)
		if err != nil {
			return err
		}
		c.driverCmd.BindDescriptorSet(compute, layout.driverLayout, set, driverSet)
	}

	c.dirtySets &^= pending
	return nil
}

// --- barriers and copies ---

// Barrier records a global execution and memory barrier.
func (c *CommandBuffer) Barrier(srcStages PipelineStages, srcAccess AccessFlags, dstStages PipelineStages, dstAccess AccessFlags) {
	gputils.DebugAssert(c.renderPass == nil, "barriers cannot be recorded inside a render pass")
	c.driverCmd.Barrier(srcStages, srcAccess, dstStages, dstAccess)
}

// ImageBarrier records a layout transition with an execution dependency.
func (c *CommandBuffer) ImageBarrier(image *Image, oldLayout, newLayout ImageLayout,
	srcStages PipelineStages, srcAccess AccessFlags, dstStages PipelineStages, dstAccess AccessFlags) {
	gputils.DebugAssert(c.renderPass == nil, "image barriers cannot be recorded inside a render pass")
	c.driverCmd.ImageBarrier(image.driverImage, oldLayout, newLayout, srcStages, srcAccess, dstStages, dstAccess)
}

// CopyBuffer records a full or partial copy between buffers.
func (c *CommandBuffer) CopyBuffer(dst, src *Buffer, dstOffset, srcOffset, size int) {
	c.driverCmd.CopyBuffer(dst.driverBuffer, src.driverBuffer, dstOffset, srcOffset, size)
}

// CopyAllocationToBuffer records a copy from a staging allocation into a
// buffer.
func (c *CommandBuffer) CopyAllocationToBuffer(dst *Buffer, dstOffset int, src LinearAllocation, size int) {
	c.driverCmd.CopyBuffer(dst.driverBuffer, src.Buffer, dstOffset, src.Offset, size)
}

// CopyBufferToImage records a buffer-to-image copy covering a full mip level.
func (c *CommandBuffer) CopyBufferToImage(image *Image, buffer *Buffer, bufferOffset, width, height int, layout ImageLayout) {
	c.driverCmd.CopyBufferToImage(image.driverImage, buffer.driverBuffer, bufferOffset, width, height, layout)
}

// collectBlocks hands all scratch blocks this recording touched to the frame
// context and folds allocation byte counts into the device statistics; called
// at submission.
func (c *CommandBuffer) collectBlocks() []*linearBlock {
	var blocks []*linearBlock
	c.device.blockMutex.Lock()
	for class := allocClass(0); class < allocClassCount; class++ {
		blocks = append(blocks, c.allocators[class].collectBlocks()...)
		c.device.linearStats[class].BytesAllocated += c.allocators[class].bytesAllocated
		c.allocators[class].bytesAllocated = 0
	}
	c.device.blockMutex.Unlock()
	return blocks
}
