// Package vdev implements a mid-level lifetime and identity layer for explicit
// GPU APIs: a frame-context ring with deferred destruction, hashed caches for
// pipeline-adjacent objects, recycling descriptor-set allocators, and linear
// scratch allocators, all orchestrated by a Device.
//
// The raw API is consumed through the Driver interface set below, so the
// engine decides when objects are created, reused and destroyed while the
// driver decides how. Production drivers wrap a real binding; tests use an
// instrumented fake.
package vdev

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// QueueType selects which hardware queue a command buffer is recorded for.
type QueueType int32

const (
	// QueueGeneric is the general-purpose graphics+compute queue
	QueueGeneric QueueType = iota
	// QueueAsyncCompute is the async compute queue
	QueueAsyncCompute
	// QueueAsyncTransfer is the transfer/DMA queue
	QueueAsyncTransfer

	queueTypeCount
)

var queueTypeMapping = map[QueueType]string{
	QueueGeneric:       "QueueGeneric",
	QueueAsyncCompute:  "QueueAsyncCompute",
	QueueAsyncTransfer: "QueueAsyncTransfer",
}

func (q QueueType) String() string {
	return queueTypeMapping[q]
}

// IndexType is the width of index buffer elements.
type IndexType int32

const (
	IndexTypeU16 IndexType = iota
	IndexTypeU32
)

// ImageLayout mirrors the explicit API's image layout states.
type ImageLayout int32

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColorAttachmentOptimal
	ImageLayoutDepthStencilOptimal
	ImageLayoutDepthStencilReadOnlyOptimal
	ImageLayoutShaderReadOnlyOptimal
	ImageLayoutTransferSrcOptimal
	ImageLayoutTransferDstOptimal
)

// PipelineStages is a bitmask of pipeline stages used for barriers and
// semaphore waits.
type PipelineStages uint32

const (
	PipelineStageTopOfPipe PipelineStages = 1 << iota
	PipelineStageVertexInput
	PipelineStageVertexShader
	PipelineStageFragmentShader
	PipelineStageEarlyFragmentTests
	PipelineStageLateFragmentTests
	PipelineStageColorAttachmentOutput
	PipelineStageComputeShader
	PipelineStageTransfer
	PipelineStageBottomOfPipe
	PipelineStageHost
	PipelineStageAllCommands
)

// AccessFlags is a bitmask of memory access types used for barriers.
type AccessFlags uint32

const (
	AccessShaderRead AccessFlags = 1 << iota
	AccessShaderWrite
	AccessColorAttachmentWrite
	AccessDepthStencilWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
	AccessHostWrite
	AccessUniformRead
	AccessIndexRead
	AccessVertexAttributeRead
)

// DescriptorType identifies the kind of resource a descriptor binding holds.
type DescriptorType int32

const (
	// DescriptorTypeNone marks an unused binding slot
	DescriptorTypeNone DescriptorType = iota
	DescriptorTypeUniformBuffer
	DescriptorTypeStorageBuffer
	DescriptorTypeSampledImage
	DescriptorTypeStorageImage
	DescriptorTypeInputAttachment
)

var descriptorTypeMapping = map[DescriptorType]string{
	DescriptorTypeNone:            "DescriptorTypeNone",
	DescriptorTypeUniformBuffer:   "DescriptorTypeUniformBuffer",
	DescriptorTypeStorageBuffer:   "DescriptorTypeStorageBuffer",
	DescriptorTypeSampledImage:    "DescriptorTypeSampledImage",
	DescriptorTypeStorageImage:    "DescriptorTypeStorageImage",
	DescriptorTypeInputAttachment: "DescriptorTypeInputAttachment",
}

func (t DescriptorType) String() string {
	return descriptorTypeMapping[t]
}

// ShaderStage identifies a single pipeline stage a shader module runs in.
type ShaderStage int32

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStageFragment
	ShaderStageCompute

	shaderStageCount
)

// ShaderStageFlags is a bitmask of ShaderStage values.
type ShaderStageFlags uint32

const (
	ShaderStageVertexBit   ShaderStageFlags = 1 << ShaderStageVertex
	ShaderStageFragmentBit ShaderStageFlags = 1 << ShaderStageFragment
	ShaderStageComputeBit  ShaderStageFlags = 1 << ShaderStageCompute
)

func (s ShaderStage) Flag() ShaderStageFlags {
	return 1 << s
}

type CompareOp int32

const (
	CompareOpNever CompareOp = iota
	CompareOpLess
	CompareOpEqual
	CompareOpLessOrEqual
	CompareOpGreater
	CompareOpNotEqual
	CompareOpGreaterOrEqual
	CompareOpAlways
)

type StencilOp int32

const (
	StencilOpKeep StencilOp = iota
	StencilOpZero
	StencilOpReplace
	StencilOpIncrementAndClamp
	StencilOpDecrementAndClamp
	StencilOpInvert
	StencilOpIncrementAndWrap
	StencilOpDecrementAndWrap
)

type CullMode int32

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
)

type FrontFace int32

const (
	FrontFaceCounterClockwise FrontFace = iota
	FrontFaceClockwise
)

type PrimitiveTopology int32

const (
	PrimitiveTopologyTriangleList PrimitiveTopology = iota
	PrimitiveTopologyTriangleStrip
	PrimitiveTopologyLineList
	PrimitiveTopologyLineStrip
	PrimitiveTopologyPointList
)

type BlendFactor int32

const (
	BlendFactorZero BlendFactor = iota
	BlendFactorOne
	BlendFactorSrcColor
	BlendFactorOneMinusSrcColor
	BlendFactorSrcAlpha
	BlendFactorOneMinusSrcAlpha
	BlendFactorDstColor
	BlendFactorOneMinusDstColor
	BlendFactorDstAlpha
	BlendFactorOneMinusDstAlpha
)

type BlendOp int32

const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
	BlendOpReverseSubtract
	BlendOpMin
	BlendOpMax
)

type VertexInputRate int32

const (
	VertexInputRateVertex VertexInputRate = iota
	VertexInputRateInstance
)

type LoadOp int32

const (
	LoadOpDontCare LoadOp = iota
	LoadOpLoad
	LoadOpClear
)

type StoreOp int32

const (
	StoreOpDontCare StoreOp = iota
	StoreOpStore
)

// ClearValue holds both color and depth/stencil clear data; the attachment's
// format decides which half applies.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

type Rect2D struct {
	X, Y          int
	Width, Height int
}

// SetLayoutBinding describes one binding slot of a descriptor-set layout.
type SetLayoutBinding struct {
	Binding int
	Type    DescriptorType
	Count   int
	Stages  ShaderStageFlags
}

// DescriptorWrite is a single resource write into a descriptor set.
type DescriptorWrite struct {
	Binding int
	Type    DescriptorType

	Buffer DriverBuffer
	Offset int
	Range  int

	ImageView DriverImageView
	Layout    ImageLayout
}

// AttachmentDescription describes one render-pass attachment for the driver.
type AttachmentDescription struct {
	Format        core1_0.Format
	Samples       int
	LoadOp        LoadOp
	StoreOp       StoreOp
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
}

// SubpassDescription describes one subpass by attachment index.
type SubpassDescription struct {
	ColorAttachments []int
	InputAttachments []int
	// DepthStencilAttachment is -1 when the subpass has no depth attachment
	DepthStencilAttachment int
	DepthStencilReadOnly   bool
}

// RenderPassDescription is the driver-facing form of a resolved RenderPassInfo.
type RenderPassDescription struct {
	Attachments []AttachmentDescription
	Subpasses   []SubpassDescription
}

// ShaderStageModule couples a shader module with the stage it runs in.
type ShaderStageModule struct {
	Stage  ShaderStage
	Module DriverShaderModule
}

// VertexAttributeDescription describes one vertex attribute.
type VertexAttributeDescription struct {
	Location int
	Binding  int
	Format   core1_0.Format
	Offset   int
}

// VertexBindingDescription describes one vertex buffer binding slot.
type VertexBindingDescription struct {
	Binding   int
	Stride    int
	InputRate VertexInputRate
}

// GraphicsPipelineDescription carries everything the driver needs to compile a
// graphics pipeline.
type GraphicsPipelineDescription struct {
	Layout     DriverPipelineLayout
	RenderPass DriverRenderPass
	Subpass    int
	Stages     []ShaderStageModule

	State            StaticRenderState
	Attributes       []VertexAttributeDescription
	VertexBindings   []VertexBindingDescription
	ColorAttachments int
}

// ComputePipelineDescription carries everything the driver needs to compile a
// compute pipeline.
type ComputePipelineDescription struct {
	Layout DriverPipelineLayout
	Shader DriverShaderModule
}

// SubmitBatch is one unit of queue submission: the command buffers accumulated
// for a queue plus the semaphores the batch waits on and signals.
type SubmitBatch struct {
	CommandBuffers []DriverCommandBuffer

	WaitSemaphores []DriverSemaphore
	WaitStages     []PipelineStages

	SignalSemaphores []DriverSemaphore
}

// Driver is the slice of the explicit GPU API the engine needs. All methods
// are invoked with the device's synchronization already applied; drivers do
// not need their own locking beyond what the underlying API demands.
type Driver interface {
	CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (DriverBuffer, common.VkResult, error)
	CreateImage(width, height, levels, layers int, format core1_0.Format, samples int, usage core1_0.ImageUsageFlags, transient bool) (DriverImage, common.VkResult, error)
	CreateImageView(image DriverImage, format core1_0.Format, baseLevel, levels, baseLayer, layers int) (DriverImageView, error)
	CreateShaderModule(code []byte) (DriverShaderModule, error)
	CreateSetLayout(bindings []SetLayoutBinding) (DriverSetLayout, error)
	CreatePipelineLayout(setLayouts []DriverSetLayout, pushConstantSize int) (DriverPipelineLayout, error)
	CreateDescriptorPool(layout DriverSetLayout, maxSets int) (DriverDescriptorPool, error)
	CreateRenderPass(description RenderPassDescription) (DriverRenderPass, error)
	CreateFramebuffer(renderPass DriverRenderPass, attachments []DriverImageView, width, height int) (DriverFramebuffer, error)
	CreateGraphicsPipeline(description GraphicsPipelineDescription) (DriverPipeline, error)
	CreateComputePipeline(description ComputePipelineDescription) (DriverPipeline, error)
	CreateCommandPool(queueType QueueType) (DriverCommandPool, error)
	CreateFence() (DriverFence, error)
	CreateSemaphore() (DriverSemaphore, error)

	Queue(queueType QueueType) DriverQueue
	WaitIdle() error
}

// DriverBuffer is a GPU buffer plus its backing memory.
type DriverBuffer interface {
	// Map returns a host pointer for host-visible buffers. Mapping is
	// persistent; the engine maps once at creation.
	Map() ([]byte, error)
	Unmap()
	Destroy()
}

type DriverImage interface {
	Destroy()
}

type DriverImageView interface {
	Destroy()
}

type DriverShaderModule interface {
	Destroy()
}

type DriverSetLayout interface {
	Destroy()
}

type DriverPipelineLayout interface {
	Destroy()
}

// DriverDescriptorPool allocates descriptor sets of the layout it was created
// for. Pools only grow; sets are recycled by the engine, never freed
// individually.
type DriverDescriptorPool interface {
	Allocate(count int) ([]DriverDescriptorSet, error)
	Destroy()
}

type DriverDescriptorSet interface {
	Write(writes []DescriptorWrite)
}

type DriverRenderPass interface {
	Destroy()
}

type DriverFramebuffer interface {
	Destroy()
}

type DriverPipeline interface {
	Destroy()
}

// DriverCommandPool owns command buffer storage for one queue type and thread
// index. Reset reclaims every buffer allocated from the pool at once.
type DriverCommandPool interface {
	Allocate() (DriverCommandBuffer, error)
	Reset() error
	Destroy()
}

// DriverCommandBuffer records GPU-level operations. The engine only calls
// these after resolving logical state into concrete objects.
type DriverCommandBuffer interface {
	Begin() error
	End() error

	BeginRenderPass(renderPass DriverRenderPass, framebuffer DriverFramebuffer, width, height int, clears []ClearValue)
	NextSubpass()
	EndRenderPass()

	BindGraphicsPipeline(pipeline DriverPipeline)
	BindComputePipeline(pipeline DriverPipeline)
	BindDescriptorSet(compute bool, layout DriverPipelineLayout, setIndex int, set DriverDescriptorSet)
	BindVertexBuffer(binding int, buffer DriverBuffer, offset int)
	BindIndexBuffer(buffer DriverBuffer, offset int, indexType IndexType)
	PushConstants(layout DriverPipelineLayout, stages ShaderStageFlags, data []byte)

	SetViewport(viewport Viewport)
	SetScissor(scissor Rect2D)
	SetDepthBias(constant, slope float32)
	SetStencilReference(reference, compareMask, writeMask uint32)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance int)
	DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int)
	Dispatch(groupsX, groupsY, groupsZ int)

	Barrier(srcStages PipelineStages, srcAccess AccessFlags, dstStages PipelineStages, dstAccess AccessFlags)
	ImageBarrier(image DriverImage, oldLayout, newLayout ImageLayout, srcStages PipelineStages, srcAccess AccessFlags, dstStages PipelineStages, dstAccess AccessFlags)

	CopyBuffer(dst, src DriverBuffer, dstOffset, srcOffset, size int)
	CopyBufferToImage(image DriverImage, buffer DriverBuffer, bufferOffset, width, height int, layout ImageLayout)
}

type DriverQueue interface {
	Submit(batches []SubmitBatch, fence DriverFence) (common.VkResult, error)
}

// DriverFence is a GPU→CPU synchronization primitive. Wait blocks until all
// work submitted with the fence completes. Reset returns it to unsignaled.
type DriverFence interface {
	Wait() error
	Reset() error
	Destroy()
}

type DriverSemaphore interface {
	Destroy()
}
