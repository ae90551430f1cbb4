package vdev

import (
	"github.com/pkg/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// fakeDriver is an instrumented Driver that satisfies every engine contract
// on the CPU: buffers are byte slices, fences signal at submission, and every
// create, destroy and write is counted so tests can assert exactly when the
// engine touches the driver.
type fakeDriver struct {
	buffersCreated   int
	buffersDestroyed int
	buffersMapped    int

	imagesCreated   int
	imagesDestroyed int
	viewsCreated    int
	viewsDestroyed  int

	shaderModulesCreated   int
	setLayoutsCreated      int
	pipelineLayoutsCreated int
	descriptorPoolsCreated int
	descriptorSetsWritten  int

	renderPassesCreated   int
	framebuffersCreated   int
	framebuffersDestroyed int

	graphicsPipelinesCreated int
	computePipelinesCreated  int
	pipelinesDestroyed       int

	commandPoolsCreated int
	fencesCreated       int
	semaphoresCreated   int
	semaphoresDestroyed int

	submissions   int
	waitIdleCalls int

	queues [queueTypeCount]*fakeQueue
}

func newFakeDriver() *fakeDriver {
	d := &fakeDriver{}
	for i := range d.queues {
		d.queues[i] = &fakeQueue{driver: d}
	}
	return d
}

var _ Driver = &fakeDriver{}

func (d *fakeDriver) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (DriverBuffer, common.VkResult, error) {
	d.buffersCreated++
	return &fakeBuffer{driver: d, data: make([]byte, size), hostVisible: properties&core1_0.MemoryPropertyHostVisible != 0}, core1_0.VKSuccess, nil
}

func (d *fakeDriver) CreateImage(width, height, levels, layers int, format core1_0.Format, samples int, usage core1_0.ImageUsageFlags, transient bool) (DriverImage, common.VkResult, error) {
	d.imagesCreated++
	return &fakeImage{driver: d}, core1_0.VKSuccess, nil
}

func (d *fakeDriver) CreateImageView(image DriverImage, format core1_0.Format, baseLevel, levels, baseLayer, layers int) (DriverImageView, error) {
	d.viewsCreated++
	return &fakeImageView{driver: d}, nil
}

func (d *fakeDriver) CreateShaderModule(code []byte) (DriverShaderModule, error) {
	d.shaderModulesCreated++
	return &fakeShaderModule{}, nil
}

func (d *fakeDriver) CreateSetLayout(bindings []SetLayoutBinding) (DriverSetLayout, error) {
	d.setLayoutsCreated++
	return &fakeSetLayout{bindings: bindings}, nil
}

func (d *fakeDriver) CreatePipelineLayout(setLayouts []DriverSetLayout, pushConstantSize int) (DriverPipelineLayout, error) {
	d.pipelineLayoutsCreated++
	return &fakePipelineLayout{}, nil
}

func (d *fakeDriver) CreateDescriptorPool(layout DriverSetLayout, maxSets int) (DriverDescriptorPool, error) {
	d.descriptorPoolsCreated++
	return &fakeDescriptorPool{driver: d, maxSets: maxSets}, nil
}

func (d *fakeDriver) CreateRenderPass(description RenderPassDescription) (DriverRenderPass, error) {
	d.renderPassesCreated++
	return &fakeRenderPass{}, nil
}

func (d *fakeDriver) CreateFramebuffer(renderPass DriverRenderPass, attachments []DriverImageView, width, height int) (DriverFramebuffer, error) {
	d.framebuffersCreated++
	return &fakeFramebuffer{driver: d}, nil
}

func (d *fakeDriver) CreateGraphicsPipeline(description GraphicsPipelineDescription) (DriverPipeline, error) {
	d.graphicsPipelinesCreated++
	return &fakePipeline{driver: d}, nil
}

func (d *fakeDriver) CreateComputePipeline(description ComputePipelineDescription) (DriverPipeline, error) {
	d.computePipelinesCreated++
	return &fakePipeline{driver: d}, nil
}

func (d *fakeDriver) CreateCommandPool(queueType QueueType) (DriverCommandPool, error) {
	d.commandPoolsCreated++
	return &fakeCommandPool{}, nil
}

func (d *fakeDriver) CreateFence() (DriverFence, error) {
	d.fencesCreated++
	return &fakeFence{}, nil
}

func (d *fakeDriver) CreateSemaphore() (DriverSemaphore, error) {
	d.semaphoresCreated++
	return &fakeSemaphore{driver: d}, nil
}

func (d *fakeDriver) Queue(queueType QueueType) DriverQueue {
	return d.queues[queueType]
}

func (d *fakeDriver) WaitIdle() error {
	d.waitIdleCalls++
	return nil
}

type fakeBuffer struct {
	driver      *fakeDriver
	data        []byte
	hostVisible bool
	mapped      bool
	destroyed   bool
}

func (b *fakeBuffer) Map() ([]byte, error) {
	if !b.hostVisible {
		return nil, errors.New("mapped a device-local buffer")
	}
	b.mapped = true
	b.driver.buffersMapped++
	return b.data, nil
}

func (b *fakeBuffer) Unmap() {
	b.mapped = false
	b.driver.buffersMapped--
}

func (b *fakeBuffer) Destroy() {
	b.destroyed = true
	b.driver.buffersDestroyed++
}

type fakeImage struct {
	driver    *fakeDriver
	destroyed bool
}

func (i *fakeImage) Destroy() {
	i.destroyed = true
	i.driver.imagesDestroyed++
}

type fakeImageView struct {
	driver    *fakeDriver
	destroyed bool
}

func (v *fakeImageView) Destroy() {
	v.destroyed = true
	v.driver.viewsDestroyed++
}

type fakeShaderModule struct{ destroyed bool }

func (m *fakeShaderModule) Destroy() { m.destroyed = true }

type fakeSetLayout struct {
	bindings  []SetLayoutBinding
	destroyed bool
}

func (l *fakeSetLayout) Destroy() { l.destroyed = true }

type fakePipelineLayout struct{ destroyed bool }

func (l *fakePipelineLayout) Destroy() { l.destroyed = true }

type fakeDescriptorPool struct {
	driver    *fakeDriver
	maxSets   int
	allocated int
	destroyed bool
}

func (p *fakeDescriptorPool) Allocate(count int) ([]DriverDescriptorSet, error) {
	if p.allocated+count > p.maxSets {
		return nil, errors.New("descriptor pool exhausted")
	}
	p.allocated += count

	sets := make([]DriverDescriptorSet, count)
	for i := range sets {
		sets[i] = &fakeDescriptorSet{driver: p.driver}
	}
	return sets, nil
}

func (p *fakeDescriptorPool) Destroy() { p.destroyed = true }

type fakeDescriptorSet struct {
	driver     *fakeDriver
	writeCount int
	lastWrites []DescriptorWrite
}

func (s *fakeDescriptorSet) Write(writes []DescriptorWrite) {
	s.writeCount += len(writes)
	s.lastWrites = writes
	s.driver.descriptorSetsWritten += len(writes)
}

type fakeRenderPass struct{ destroyed bool }

func (r *fakeRenderPass) Destroy() { r.destroyed = true }

type fakeFramebuffer struct {
	driver    *fakeDriver
	destroyed bool
}

func (f *fakeFramebuffer) Destroy() {
	f.destroyed = true
	f.driver.framebuffersDestroyed++
}

type fakePipeline struct {
	driver    *fakeDriver
	destroyed bool
}

func (p *fakePipeline) Destroy() {
	p.destroyed = true
	p.driver.pipelinesDestroyed++
}

type fakeCommandPool struct {
	allocated int
	resets    int
	destroyed bool
}

func (p *fakeCommandPool) Allocate() (DriverCommandBuffer, error) {
	p.allocated++
	return &fakeCommandBuffer{}, nil
}

func (p *fakeCommandPool) Reset() error {
	p.resets++
	return nil
}

func (p *fakeCommandPool) Destroy() { p.destroyed = true }

// fakeCommandBuffer records a flat operation log so tests can assert command
// ordering without a GPU.
type fakeCommandBuffer struct {
	began bool
	ended bool

	ops []string

	draws              int
	dispatches         int
	pipelineBinds      int
	descriptorSetBinds int
	vertexBufferBinds  int
	pushConstantCalls  int
	depthBiasCalls     int
	stencilRefCalls    int

	lastDepthBias [2]float32

	endErr error
}

func (c *fakeCommandBuffer) record(op string) {
	c.ops = append(c.ops, op)
}

func (c *fakeCommandBuffer) Begin() error {
	c.began = true
	c.ended = false
	c.ops = nil
	c.draws = 0
	c.dispatches = 0
	c.pipelineBinds = 0
	c.descriptorSetBinds = 0
	c.vertexBufferBinds = 0
	c.pushConstantCalls = 0
	c.depthBiasCalls = 0
	c.stencilRefCalls = 0
	c.endErr = nil
	return nil
}

func (c *fakeCommandBuffer) End() error {
	if !c.began {
		return errors.New("End without Begin")
	}
	if c.endErr != nil {
		return c.endErr
	}
	c.ended = true
	return nil
}

func (c *fakeCommandBuffer) BeginRenderPass(renderPass DriverRenderPass, framebuffer DriverFramebuffer, width, height int, clears []ClearValue) {
	c.record("BeginRenderPass")
}

func (c *fakeCommandBuffer) NextSubpass()   { c.record("NextSubpass") }
func (c *fakeCommandBuffer) EndRenderPass() { c.record("EndRenderPass") }

func (c *fakeCommandBuffer) BindGraphicsPipeline(pipeline DriverPipeline) {
	c.pipelineBinds++
	c.record("BindGraphicsPipeline")
}

func (c *fakeCommandBuffer) BindComputePipeline(pipeline DriverPipeline) {
	c.pipelineBinds++
	c.record("BindComputePipeline")
}

func (c *fakeCommandBuffer) BindDescriptorSet(compute bool, layout DriverPipelineLayout, setIndex int, set DriverDescriptorSet) {
	c.descriptorSetBinds++
	c.record("BindDescriptorSet")
}

func (c *fakeCommandBuffer) BindVertexBuffer(binding int, buffer DriverBuffer, offset int) {
	c.vertexBufferBinds++
	c.record("BindVertexBuffer")
}

func (c *fakeCommandBuffer) BindIndexBuffer(buffer DriverBuffer, offset int, indexType IndexType) {
	c.record("BindIndexBuffer")
}

func (c *fakeCommandBuffer) PushConstants(layout DriverPipelineLayout, stages ShaderStageFlags, data []byte) {
	c.pushConstantCalls++
	c.record("PushConstants")
}

func (c *fakeCommandBuffer) SetViewport(viewport Viewport) { c.record("SetViewport") }
func (c *fakeCommandBuffer) SetScissor(scissor Rect2D)     { c.record("SetScissor") }

func (c *fakeCommandBuffer) SetDepthBias(constant, slope float32) {
	c.depthBiasCalls++
	c.lastDepthBias = [2]float32{constant, slope}
	c.record("SetDepthBias")
}

func (c *fakeCommandBuffer) SetStencilReference(reference, compareMask, writeMask uint32) {
	c.stencilRefCalls++
	c.record("SetStencilReference")
}

func (c *fakeCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance int) {
	c.draws++
	c.record("Draw")
}

func (c *fakeCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) {
	c.draws++
	c.record("DrawIndexed")
}

func (c *fakeCommandBuffer) Dispatch(groupsX, groupsY, groupsZ int) {
	c.dispatches++
	c.record("Dispatch")
}

func (c *fakeCommandBuffer) Barrier(srcStages PipelineStages, srcAccess AccessFlags, dstStages PipelineStages, dstAccess AccessFlags) {
	c.record("Barrier")
}

func (c *fakeCommandBuffer) ImageBarrier(image DriverImage, oldLayout, newLayout ImageLayout, srcStages PipelineStages, srcAccess AccessFlags, dstStages PipelineStages, dstAccess AccessFlags) {
	c.record("ImageBarrier")
}

func (c *fakeCommandBuffer) CopyBuffer(dst, src DriverBuffer, dstOffset, srcOffset, size int) {
	c.record("CopyBuffer")
	copy(dst.(*fakeBuffer).data[dstOffset:dstOffset+size], src.(*fakeBuffer).data[srcOffset:srcOffset+size])
}

func (c *fakeCommandBuffer) CopyBufferToImage(image DriverImage, buffer DriverBuffer, bufferOffset, width, height int, layout ImageLayout) {
	c.record("CopyBufferToImage")
}

type fakeQueue struct {
	driver  *fakeDriver
	batches []SubmitBatch
}

func (q *fakeQueue) Submit(batches []SubmitBatch, fence DriverFence) (common.VkResult, error) {
	q.driver.submissions++
	q.batches = append(q.batches, batches...)
	// The fake GPU completes instantly; the fence signals at submission.
	if fence != nil {
		fence.(*fakeFence).signaled = true
	}
	return core1_0.VKSuccess, nil
}

type fakeFence struct {
	signaled  bool
	waits     int
	destroyed bool
}

func (f *fakeFence) Wait() error {
	f.waits++
	if !f.signaled {
		return errors.New("waited on a fence that was never submitted")
	}
	return nil
}

func (f *fakeFence) Reset() error {
	f.signaled = false
	return nil
}

func (f *fakeFence) Destroy() { f.destroyed = true }

type fakeSemaphore struct {
	driver    *fakeDriver
	destroyed bool
}

func (s *fakeSemaphore) Destroy() {
	s.destroyed = true
	s.driver.semaphoresDestroyed++
}
