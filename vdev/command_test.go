package vdev

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func testRenderTarget(t *testing.T, device *Device) *Image {
	t.Helper()

	info := RenderTargetImage(64, 64, core1_0.FormatR8G8B8A8UnsignedNormalized)
	info.Usage |= core1_0.ImageUsageColorAttachment
	image, err := device.CreateImage(info, nil)
	require.NoError(t, err)
	return image
}

func passInfoFor(image *Image) *RenderPassInfo {
	info := &RenderPassInfo{
		NumColorAttachments: 1,
		ClearAttachmentMask: 1,
		StoreAttachmentMask: 1,
	}
	info.ColorAttachments[0] = image.View()
	return info
}

func requestUniformProgram(t *testing.T, device *Device, vertCode, fragCode string) *Program {
	t.Helper()

	var vertLayout ResourceLayout
	vertLayout.Sets[0].Bindings[0] = SetBindingLayout{Type: DescriptorTypeUniformBuffer, Count: 1}

	vert, err := device.RequestShader(ShaderStageVertex, []byte(vertCode), vertLayout)
	require.NoError(t, err)
	frag, err := device.RequestShader(ShaderStageFragment, []byte(fragCode), ResourceLayout{})
	require.NoError(t, err)

	program, err := device.RequestProgram(vert, frag)
	require.NoError(t, err)
	return program
}

func testUniformBuffer(t *testing.T, device *Device, size int) *Buffer {
	t.Helper()

	buffer, err := device.CreateBuffer(BufferCreateInfo{
		Size:   size,
		Domain: BufferDomainHost,
		Usage:  core1_0.BufferUsageUniformBuffer,
	}, nil)
	require.NoError(t, err)
	return buffer
}

func TestShaderIdempotence(t *testing.T) {
	driver, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	code := []byte("spirv-words-a")
	first, err := device.RequestShader(ShaderStageVertex, code, ResourceLayout{})
	require.NoError(t, err)
	second, err := device.RequestShader(ShaderStageVertex, code, ResourceLayout{})
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, driver.shaderModulesCreated)

	other, err := device.RequestShader(ShaderStageVertex, []byte("spirv-words-b"), ResourceLayout{})
	require.NoError(t, err)
	require.NotSame(t, first, other)
	require.Equal(t, 2, driver.shaderModulesCreated)

	// The same bytecode registered for a different stage is a different
	// shader.
	fragment, err := device.RequestShader(ShaderStageFragment, code, ResourceLayout{})
	require.NoError(t, err)
	require.NotSame(t, first, fragment)
}

func TestProgramsShareLayouts(t *testing.T) {
	driver, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	first := requestUniformProgram(t, device, "vert-a", "frag-a")
	second := requestUniformProgram(t, device, "vert-b", "frag-b")
	require.NotSame(t, first, second)

	// Identical reflected resources deduplicate to one pipeline layout, so
	// both programs share descriptor-set recycling.
	require.Same(t, first.Layout(), second.Layout())
	require.Equal(t, 1, driver.pipelineLayoutsCreated)
	require.Equal(t, 1, driver.setLayoutsCreated)

	again, err := device.RequestProgram(first.Shader(ShaderStageVertex), first.Shader(ShaderStageFragment))
	require.NoError(t, err)
	require.Same(t, first, again)
}

func TestProgramStageTypeConflict(t *testing.T) {
	_, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	var vertLayout ResourceLayout
	vertLayout.Sets[0].Bindings[0] = SetBindingLayout{Type: DescriptorTypeUniformBuffer, Count: 1}
	vert, err := device.RequestShader(ShaderStageVertex, []byte("conflict-vert"), vertLayout)
	require.NoError(t, err)

	var fragLayout ResourceLayout
	fragLayout.Sets[0].Bindings[0] = SetBindingLayout{Type: DescriptorTypeStorageBuffer, Count: 1}
	frag, err := device.RequestShader(ShaderStageFragment, []byte("conflict-frag"), fragLayout)
	require.NoError(t, err)

	_, err = device.RequestProgram(vert, frag)
	require.Error(t, err)
}

func TestDescriptorSetReuseSkipsWrites(t *testing.T) {
	driver, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	program := requestUniformProgram(t, device, "reuse-vert", "reuse-frag")
	target := testRenderTarget(t, device)
	defer target.Release()
	uniform := testUniformBuffer(t, device, 64)
	defer uniform.Release()

	cmd, err := device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.SetProgram(program)
	cmd.BindUniformBuffer(0, 0, uniform, 0, 64)

	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 1, driver.descriptorSetsWritten)

	// Same binding, same draw: the set stays bound, nothing is re-resolved.
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 1, driver.descriptorSetsWritten)
	require.Equal(t, 1, cmd.driverCmd.(*fakeCommandBuffer).descriptorSetBinds)

	cmd.EndRenderPass()
	require.NoError(t, device.Submit(cmd))
	require.NoError(t, device.NextFrameContext())

	// A fresh command buffer binding the identical resources hits the
	// signature cache: the cached set is bound with zero descriptor writes.
	cmd, err = device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.SetProgram(program)
	cmd.BindUniformBuffer(0, 0, uniform, 0, 64)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 1, driver.descriptorSetsWritten)
	require.Equal(t, 1, cmd.driverCmd.(*fakeCommandBuffer).descriptorSetBinds)

	cmd.EndRenderPass()
	require.NoError(t, device.Submit(cmd))

	stats := device.Statistics().Descriptors
	require.Equal(t, 1, stats.Misses)
	require.Equal(t, 1, stats.Hits)
	require.Equal(t, 1, stats.Writes)
}

func TestDistinctBindingsResolveDistinctSets(t *testing.T) {
	driver, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	program := requestUniformProgram(t, device, "distinct-vert", "distinct-frag")
	target := testRenderTarget(t, device)
	defer target.Release()
	uniformA := testUniformBuffer(t, device, 64)
	defer uniformA.Release()
	uniformB := testUniformBuffer(t, device, 64)
	defer uniformB.Release()

	cmd, err := device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.SetProgram(program)

	cmd.BindUniformBuffer(0, 0, uniformA, 0, 64)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	cmd.BindUniformBuffer(0, 0, uniformB, 0, 64)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 2, driver.descriptorSetsWritten)

	// Back to the first buffer: its set is still cached.
	cmd.BindUniformBuffer(0, 0, uniformA, 0, 64)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 2, driver.descriptorSetsWritten)

	// A different offset into the same buffer is a different signature.
	cmd.BindUniformBuffer(0, 0, uniformA, 32, 32)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 3, driver.descriptorSetsWritten)

	cmd.EndRenderPass()
	require.NoError(t, device.Submit(cmd))
}

func TestPipelineCaching(t *testing.T) {
	driver, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	program := requestUniformProgram(t, device, "pipe-vert", "pipe-frag")
	target := testRenderTarget(t, device)
	defer target.Release()
	uniform := testUniformBuffer(t, device, 64)
	defer uniform.Release()

	cmd, err := device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.SetProgram(program)
	cmd.BindUniformBuffer(0, 0, uniform, 0, 64)

	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	fake := cmd.driverCmd.(*fakeCommandBuffer)
	require.Equal(t, 1, driver.graphicsPipelinesCreated)
	require.Equal(t, 1, fake.pipelineBinds)

	// Any static state change is a different pipeline.
	cmd.SetDepthTest(false, false)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 2, driver.graphicsPipelinesCreated)
	require.Equal(t, 2, fake.pipelineBinds)

	// Reverting hits the cache; the old pipeline is rebound, not recompiled.
	cmd.SetDepthTest(true, true)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 2, driver.graphicsPipelinesCreated)
	require.Equal(t, 3, fake.pipelineBinds)

	cmd.EndRenderPass()
	require.NoError(t, device.Submit(cmd))
}

func TestRenderPassAndFramebufferCaching(t *testing.T) {
	driver, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	target := testRenderTarget(t, device)
	defer target.Release()

	cmd, err := device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.EndRenderPass()
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.EndRenderPass()
	require.Equal(t, 1, driver.renderPassesCreated)
	require.Equal(t, 1, driver.framebuffersCreated)

	// Same formats and ops on a different attachment: the render pass is
	// compatible and reused, the framebuffer is not.
	other := testRenderTarget(t, device)
	defer other.Release()
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(other)))
	cmd.EndRenderPass()
	require.Equal(t, 1, driver.renderPassesCreated)
	require.Equal(t, 2, driver.framebuffersCreated)

	// Different load ops are a different render pass with the same
	// compatibility class.
	loadInfo := passInfoFor(target)
	loadInfo.ClearAttachmentMask = 0
	loadInfo.LoadAttachmentMask = 1
	require.NoError(t, cmd.BeginRenderPass(loadInfo))
	cmd.EndRenderPass()
	require.Equal(t, 2, driver.renderPassesCreated)
	require.Equal(t, 2, driver.framebuffersCreated)

	require.NoError(t, device.Submit(cmd))
}

func TestFramebufferEviction(t *testing.T) {
	driver, device := newTestDevice(t, CreateOptions{FramebufferEvictionHorizon: 2})
	defer func() { require.NoError(t, device.Destroy()) }()

	target := testRenderTarget(t, device)
	defer target.Release()

	cmd, err := device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.EndRenderPass()
	require.NoError(t, device.Submit(cmd))

	for i := 0; i < 3; i++ {
		require.NoError(t, device.NextFrameContext())
	}
	require.Equal(t, 1, driver.framebuffersDestroyed)
}

func TestComputeDispatch(t *testing.T) {
	driver, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	var layout ResourceLayout
	layout.Sets[0].Bindings[0] = SetBindingLayout{Type: DescriptorTypeStorageBuffer, Count: 1}
	shader, err := device.RequestShader(ShaderStageCompute, []byte("compute-code"), layout)
	require.NoError(t, err)
	program, err := device.RequestProgram(shader)
	require.NoError(t, err)
	require.True(t, program.IsCompute())

	storage, err := device.CreateBuffer(BufferCreateInfo{
		Size:   256,
		Domain: BufferDomainDevice,
		Usage:  core1_0.BufferUsageStorageBuffer,
	}, nil)
	require.NoError(t, err)
	defer storage.Release()

	cmd, err := device.RequestCommandBuffer(QueueAsyncCompute, 0)
	require.NoError(t, err)
	cmd.SetProgram(program)
	cmd.BindStorageBuffer(0, 0, storage, 0, 256)

	require.NoError(t, cmd.Dispatch(8, 8, 1))
	require.NoError(t, cmd.Dispatch(8, 8, 1))
	require.Equal(t, 1, driver.computePipelinesCreated)
	require.Equal(t, 2, cmd.driverCmd.(*fakeCommandBuffer).dispatches)

	require.NoError(t, device.Submit(cmd))

	// Graphics draws cannot use a compute program.
	target := testRenderTarget(t, device)
	defer target.Release()
	cmd, err = device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.SetProgram(program)
	require.Error(t, cmd.Draw(3, 1, 0, 0))
	cmd.EndRenderPass()
	require.NoError(t, device.Submit(cmd))
}

func TestPushConstantsFlushOnce(t *testing.T) {
	_, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	var vertLayout ResourceLayout
	vertLayout.PushConstantSize = 8
	vert, err := device.RequestShader(ShaderStageVertex, []byte("push-vert"), vertLayout)
	require.NoError(t, err)
	frag, err := device.RequestShader(ShaderStageFragment, []byte("push-frag"), ResourceLayout{})
	require.NoError(t, err)
	program, err := device.RequestProgram(vert, frag)
	require.NoError(t, err)

	target := testRenderTarget(t, device)
	defer target.Release()

	cmd, err := device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.SetProgram(program)
	cmd.PushConstants([]byte{1, 2, 3, 4, 5, 6, 7, 8})

	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	fake := cmd.driverCmd.(*fakeCommandBuffer)
	require.Equal(t, 1, fake.pushConstantCalls)

	cmd.PushConstants([]byte{8, 7, 6, 5, 4, 3, 2, 1})
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 2, fake.pushConstantCalls)

	cmd.EndRenderPass()
	require.NoError(t, device.Submit(cmd))
}

func TestDynamicStateFlushes(t *testing.T) {
	_, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	program := requestUniformProgram(t, device, "dyn-vert", "dyn-frag")
	target := testRenderTarget(t, device)
	defer target.Release()
	uniform := testUniformBuffer(t, device, 64)
	defer uniform.Release()

	cmd, err := device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.SetProgram(program)
	cmd.BindUniformBuffer(0, 0, uniform, 0, 64)
	fake := cmd.driverCmd.(*fakeCommandBuffer)

	cmd.SetDepthBias(2, 3)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 1, fake.depthBiasCalls)
	require.Equal(t, [2]float32{2, 3}, fake.lastDepthBias)

	// Clean dynamic state is not re-sent on the next draw.
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 1, fake.depthBiasCalls)

	cmd.SetDepthBias(4, 5)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 2, fake.depthBiasCalls)
	require.Equal(t, [2]float32{4, 5}, fake.lastDepthBias)

	// Stencil reference state only reaches the driver while stencil testing
	// is enabled, since the pipeline declares the dynamic state with it.
	cmd.SetStencilReference(1, 0xff, 0xff)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 0, fake.stencilRefCalls)

	cmd.SetStencilTest(true)
	cmd.SetStencilReference(1, 0xff, 0xff)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 1, fake.stencilRefCalls)

	cmd.EndRenderPass()
	require.NoError(t, device.Submit(cmd))
}

func TestSaveRestoreState(t *testing.T) {
	driver, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	program := requestUniformProgram(t, device, "save-vert", "save-frag")
	target := testRenderTarget(t, device)
	defer target.Release()
	uniform := testUniformBuffer(t, device, 64)
	defer uniform.Release()

	cmd, err := device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.SetProgram(program)
	cmd.BindUniformBuffer(0, 0, uniform, 0, 64)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))

	saved := cmd.SaveState(SavedStateAll)

	cmd.SetDepthTest(false, false)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 2, driver.graphicsPipelinesCreated)

	// Restoring puts the original state back; the draw reuses the first
	// pipeline and descriptor set instead of creating anything.
	cmd.RestoreState(saved)
	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 2, driver.graphicsPipelinesCreated)
	require.Equal(t, 1, driver.descriptorSetsWritten)

	cmd.EndRenderPass()
	require.NoError(t, device.Submit(cmd))
}

func TestScratchVertexDraw(t *testing.T) {
	_, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	var vertLayout ResourceLayout
	vertLayout.InputMask = 1
	vert, err := device.RequestShader(ShaderStageVertex, []byte("scratch-vert"), vertLayout)
	require.NoError(t, err)
	frag, err := device.RequestShader(ShaderStageFragment, []byte("scratch-frag"), ResourceLayout{})
	require.NoError(t, err)
	program, err := device.RequestProgram(vert, frag)
	require.NoError(t, err)

	target := testRenderTarget(t, device)
	defer target.Release()

	cmd, err := device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
	cmd.SetProgram(program)
	cmd.SetVertexAttribute(0, 0, core1_0.FormatR32G32SignedFloat, 0)

	data, err := cmd.AllocateVertexData(0, 3*8, 8)
	require.NoError(t, err)
	require.Len(t, data, 24)

	require.NoError(t, cmd.Draw(3, 1, 0, 0))
	require.Equal(t, 1, cmd.driverCmd.(*fakeCommandBuffer).vertexBufferBinds)

	cmd.EndRenderPass()
	require.NoError(t, device.Submit(cmd))
}

func TestDrawRequiresRenderPassAndBindings(t *testing.T) {
	_, device := newTestDevice(t, CreateOptions{})
	defer func() { require.NoError(t, device.Destroy()) }()

	program := requestUniformProgram(t, device, "req-vert", "req-frag")

	cmd, err := device.RequestCommandBuffer(QueueGeneric, 0)
	require.NoError(t, err)
	cmd.SetProgram(program)
	require.Error(t, cmd.Draw(3, 1, 0, 0))

	target := testRenderTarget(t, device)
	defer target.Release()
	require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))

	// The program uses set 0 binding 0; drawing without binding it fails.
	require.Error(t, cmd.Draw(3, 1, 0, 0))

	cmd.EndRenderPass()
	require.NoError(t, device.Submit(cmd))
}

func TestDescriptorSetAging(t *testing.T) {
	driver, device := newTestDevice(t, CreateOptions{
		DescriptorEvictionHorizon: 2,
	})
	defer func() { require.NoError(t, device.Destroy()) }()

	program := requestUniformProgram(t, device, "age-vert", "age-frag")
	target := testRenderTarget(t, device)
	defer target.Release()

	uniforms := make([]*Buffer, 5)
	for i := range uniforms {
		uniforms[i] = testUniformBuffer(t, device, 64)
		defer uniforms[i].Release()
	}

	// Each frame binds a different buffer, so earlier signatures go
	// untouched and age out after the horizon; their sets return to the
	// vacant list instead of growing the pool.
	for _, uniform := range uniforms {
		cmd, err := device.RequestCommandBuffer(QueueGeneric, 0)
		require.NoError(t, err)
		require.NoError(t, cmd.BeginRenderPass(passInfoFor(target)))
		cmd.SetProgram(program)
		cmd.BindUniformBuffer(0, 0, uniform, 0, 64)
		require.NoError(t, cmd.Draw(3, 1, 0, 0))
		cmd.EndRenderPass()
		require.NoError(t, device.Submit(cmd))
		require.NoError(t, device.NextFrameContext())
	}

	stats := device.Statistics().Descriptors
	require.Equal(t, 5, stats.Misses)
	require.GreaterOrEqual(t, stats.Evictions, 1)
	require.Equal(t, 16, stats.PoolSets)
	require.Equal(t, 1, driver.descriptorPoolsCreated)
}
