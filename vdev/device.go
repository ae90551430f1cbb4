package vdev

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/foundry/gputils"
	"github.com/vkngwrapper/foundry/objcache"
	"github.com/vkngwrapper/foundry/vdev/internal/utils"
)

// CreateOptions configures a Device. The zero value of each field selects the
// documented default.
type CreateOptions struct {
	// NumFrameContexts is the depth of the deferred-destruction ring. Two
	// contexts let the CPU record a frame while the GPU consumes the previous
	// one. Defaults to 2.
	NumFrameContexts int
	// NumThreadIndices is how many goroutines may record command buffers
	// concurrently; each gets its own command pools. Defaults to 1.
	NumThreadIndices int
	// DescriptorEvictionHorizon is how many frame-context cycles a descriptor
	// set survives without being looked up. Must be at least NumFrameContexts.
	// Defaults to 8.
	DescriptorEvictionHorizon int
	// FramebufferEvictionHorizon is the same clock applied to framebuffers and
	// pooled transient attachments. Defaults to 8.
	FramebufferEvictionHorizon int
	// BlockSizes overrides the scratch allocator block sizes.
	BlockSizes LinearBlockSizes
	// UseMutex enables internal locking for multi-goroutine use.
	UseMutex bool
	// Logger receives structured trace and error output. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

type queueData struct {
	pending        []DriverCommandBuffer
	waitSemaphores []DriverSemaphore
	waitStages     []PipelineStages
}

// Device owns every cache and lifetime mechanism in this package: the
// frame-context ring, the persistent-object caches, the descriptor-set
// allocators, scratch blocks, and queued submission.
//
// The central contract is that releasing a resource never destroys it
// immediately. The release lands in the current frame context and the driver
// object dies only when that context comes around again and its fences prove
// the GPU is done with it.
type Device struct {
	logger   *slog.Logger
	driver   Driver
	useMutex bool

	// cacheMutex guards the hashed object caches, objectMutex the resource
	// slab pools, frameMutex the frame ring and queues, blockMutex the
	// scratch free lists.
	cacheMutex  utils.OptionalRWMutex
	objectMutex utils.OptionalRWMutex
	frameMutex  utils.OptionalRWMutex
	blockMutex  utils.OptionalRWMutex

	descriptorHorizon int
	threadCount       int

	cookies uint64

	bufferPool    objcache.Pool[Buffer]
	imagePool     objcache.Pool[Image]
	imageViewPool objcache.Pool[ImageView]

	shaders         *objcache.Cache[shaderKey, *Shader]
	programs        *objcache.Cache[programKey, *Program]
	pipelineLayouts *objcache.Cache[CombinedResourceLayout, *PipelineLayout]
	setAllocators   *objcache.Cache[SetLayoutInfo, *DescriptorSetAllocator]
	renderPasses    *objcache.Cache[renderPassKey, *RenderPass]
	framebuffers    *objcache.Cache[framebufferKey, *framebuffer]
	transients      *objcache.Cache[transientKey, *Image]
	pipelines       *objcache.Cache[pipelineKey, DriverPipeline]

	frames     []*frameContext
	frameIndex int

	queues     [queueTypeCount]queueData
	fences     fenceManager
	semaphores semaphoreManager

	blockSizes  LinearBlockSizes
	freeBlocks  [allocClassCount][]*linearBlock
	linearStats [allocClassCount]gputils.LinearStatistics

	activeRecorders int
	violations      int
}

// NewDevice builds a Device over a driver. The driver is owned by the caller
// and must outlive the device.
func NewDevice(driver Driver, options CreateOptions) (*Device, error) {
	if driver == nil {
		return nil, errors.New("a device requires a driver")
	}
	if options.NumFrameContexts == 0 {
		options.NumFrameContexts = 2
	}
	if options.NumThreadIndices == 0 {
		options.NumThreadIndices = 1
	}
	if options.DescriptorEvictionHorizon == 0 {
		options.DescriptorEvictionHorizon = 8
	}
	if options.FramebufferEvictionHorizon == 0 {
		options.FramebufferEvictionHorizon = 8
	}
	if options.BlockSizes == (LinearBlockSizes{}) {
		options.BlockSizes = DefaultLinearBlockSizes()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	if options.NumFrameContexts < 1 {
		return nil, errors.Newf("%d frame contexts is not a usable ring", options.NumFrameContexts)
	}
	// Evicted driver objects are destroyed immediately, which is only sound
	// when anything untouched for a full horizon is provably past its fences.
	if options.DescriptorEvictionHorizon < options.NumFrameContexts {
		return nil, errors.Newf("descriptor horizon %d is shorter than the frame ring of %d",
			options.DescriptorEvictionHorizon, options.NumFrameContexts)
	}
	if options.FramebufferEvictionHorizon < options.NumFrameContexts {
		return nil, errors.Newf("framebuffer horizon %d is shorter than the frame ring of %d",
			options.FramebufferEvictionHorizon, options.NumFrameContexts)
	}

	d := &Device{
		logger:            options.Logger,
		driver:            driver,
		useMutex:          options.UseMutex,
		cacheMutex:        utils.OptionalRWMutex{UseMutex: options.UseMutex},
		objectMutex:       utils.OptionalRWMutex{UseMutex: options.UseMutex},
		frameMutex:        utils.OptionalRWMutex{UseMutex: options.UseMutex},
		blockMutex:        utils.OptionalRWMutex{UseMutex: options.UseMutex},
		descriptorHorizon: options.DescriptorEvictionHorizon,
		threadCount:       options.NumThreadIndices,
		blockSizes:        options.BlockSizes,
		fences:            fenceManager{driver: driver},
		semaphores:        semaphoreManager{driver: driver},
	}

	d.shaders = objcache.NewCache[shaderKey, *Shader](0, func(_ shaderKey, shader *Shader) {
		shader.module.Destroy()
	})
	d.programs = objcache.NewCache[programKey, *Program](0, nil)
	d.pipelineLayouts = objcache.NewCache[CombinedResourceLayout, *PipelineLayout](0,
		func(_ CombinedResourceLayout, layout *PipelineLayout) {
			layout.driverLayout.Destroy()
		})
	d.setAllocators = objcache.NewCache[SetLayoutInfo, *DescriptorSetAllocator](0,
		func(_ SetLayoutInfo, allocator *DescriptorSetAllocator) {
			allocator.destroy()
		})
	d.renderPasses = objcache.NewCache[renderPassKey, *RenderPass](0, func(_ renderPassKey, pass *RenderPass) {
		pass.driverPass.Destroy()
	})
	d.pipelines = objcache.NewCache[pipelineKey, DriverPipeline](0, func(_ pipelineKey, pipeline DriverPipeline) {
		pipeline.Destroy()
	})
	// Framebuffers age on the frame-context clock. Because the horizon is at
	// least the ring depth, an evicted framebuffer's last use is already
	// fenced and it can die on the spot.
	d.framebuffers = objcache.NewCache[framebufferKey, *framebuffer](options.FramebufferEvictionHorizon,
		func(_ framebufferKey, fb *framebuffer) {
			fb.driverFramebuffer.Destroy()
		})
	d.transients = objcache.NewCache[transientKey, *Image](options.FramebufferEvictionHorizon,
		func(_ transientKey, image *Image) {
			image.Release()
		})

	for i := 0; i < options.NumFrameContexts; i++ {
		frame, err := newFrameContext(d, options.NumThreadIndices)
		if err != nil {
			for _, created := range d.frames {
				created.destroyPools()
			}
			return nil, err
		}
		d.frames = append(d.frames, frame)
	}

	d.logger.Debug("Device::NewDevice",
		slog.Int("frameContexts", options.NumFrameContexts),
		slog.Int("threadIndices", options.NumThreadIndices))
	return d, nil
}

// nextCookie issues a process-unique resource identity. Cookie 0 is reserved
// to mean "nothing bound".
func (d *Device) nextCookie() uint64 {
	return atomic.AddUint64(&d.cookies, 1)
}

// currentFrameLocked must be called with frameMutex held.
func (d *Device) currentFrameLocked() *frameContext {
	return d.frames[d.frameIndex]
}

func (d *Device) reportContractViolation(msg string) {
	gputils.DebugAssert(false, msg)
	d.logger.Error(msg)
	d.violations++
}

// RequestCommandBuffer begins recording a command buffer on the given queue
// for the given thread index. The buffer must be submitted before the device
// advances to the next frame context.
func (d *Device) RequestCommandBuffer(queueType QueueType, threadIndex int) (*CommandBuffer, error) {
	d.logger.Debug("Device::RequestCommandBuffer")

	if queueType < 0 || queueType >= queueTypeCount {
		return nil, errors.Newf("unknown queue type %d", queueType)
	}
	if threadIndex < 0 || threadIndex >= d.threadCount {
		return nil, errors.Newf("thread index %d outside the configured %d indices", threadIndex, d.threadCount)
	}

	d.frameMutex.Lock()
	frame := d.currentFrameLocked()
	driverCmd, err := frame.commandPools[queueType][threadIndex].request()
	if err == nil {
		d.activeRecorders++
	}
	d.frameMutex.Unlock()
	if err != nil {
		return nil, err
	}

	if err := driverCmd.Begin(); err != nil {
		d.frameMutex.Lock()
		d.activeRecorders--
		d.frameMutex.Unlock()
		return nil, errors.Wrap(err, "failed to begin command buffer")
	}

	return newCommandBuffer(d, driverCmd, queueType, threadIndex), nil
}

// Submit ends recording and queues the command buffer on its queue. Nothing
// reaches the driver yet: queued work is flushed when a fence or semaphore is
// requested, or at the latest when the frame context advances.
func (d *Device) Submit(cmd *CommandBuffer) error {
	_, _, err := d.SubmitWithSignals(cmd, false, 0)
	return err
}

// SubmitWithSignals submits like Submit but flushes the queue immediately,
// returning a fence for the submission if wantFence is set and semaphoreCount
// freshly signaled semaphores for cross-queue handoff.
func (d *Device) SubmitWithSignals(cmd *CommandBuffer, wantFence bool, semaphoreCount int) (*Fence, []*Semaphore, error) {
	d.logger.Debug("Device::Submit")

	if cmd.submitted {
		d.reportContractViolation("command buffer submitted twice")
		return nil, nil, errors.New("command buffer submitted twice")
	}
	endErr := cmd.driverCmd.End()

	d.frameMutex.Lock()
	defer d.frameMutex.Unlock()

	// The recorder is spent either way: release it and reclaim its scratch
	// blocks even when End fails, so the frame ring is not wedged.
	cmd.submitted = true
	d.activeRecorders--

	frame := d.currentFrameLocked()
	frame.blocks = append(frame.blocks, cmd.collectBlocks()...)

	if endErr != nil {
		return nil, nil, errors.Wrap(endErr, "failed to end command buffer")
	}

	queue := &d.queues[cmd.queueType]
	queue.pending = append(queue.pending, cmd.driverCmd)

	if !wantFence && semaphoreCount == 0 {
		return nil, nil, nil
	}
	return d.flushQueueLocked(cmd.queueType, wantFence, semaphoreCount)
}

// flushQueueLocked pushes a queue's accumulated work to the driver as one
// batch, fenced against the current frame context. Must be called with
// frameMutex held.
func (d *Device) flushQueueLocked(queueType QueueType, wantFence bool, semaphoreCount int) (*Fence, []*Semaphore, error) {
	queue := &d.queues[queueType]
	if len(queue.pending) == 0 && len(queue.waitSemaphores) == 0 && !wantFence && semaphoreCount == 0 {
		return nil, nil, nil
	}

	frame := d.currentFrameLocked()
	batch := SubmitBatch{
		CommandBuffers: queue.pending,
		WaitSemaphores: queue.waitSemaphores,
		WaitStages:     queue.waitStages,
	}

	var signals []*Semaphore
	for i := 0; i < semaphoreCount; i++ {
		driverSem, err := d.semaphores.requestSemaphore()
		if err != nil {
			return nil, nil, err
		}
		batch.SignalSemaphores = append(batch.SignalSemaphores, driverSem)
		signals = append(signals, &Semaphore{device: d, driverSem: driverSem, signaled: true})
	}

	driverFence, err := d.fences.requestClearedFence()
	if err != nil {
		return nil, nil, err
	}

	res, err := d.driver.Queue(queueType).Submit([]SubmitBatch{batch}, driverFence)
	if err != nil {
		d.fences.free = append(d.fences.free, driverFence)
		return nil, nil, errors.Wrapf(err, "queue submission failed with %s", res.String())
	}

	frame.waitFences = append(frame.waitFences, driverFence)
	frame.recycledSemaphores = append(frame.recycledSemaphores, queue.waitSemaphores...)

	var externalFence *Fence
	if wantFence {
		externalFence = &Fence{driverFence: driverFence}
		frame.externalFences = append(frame.externalFences, externalFence)
	}

	queue.pending = nil
	queue.waitSemaphores = nil
	queue.waitStages = nil

	return externalFence, signals, nil
}

// AddWaitSemaphore makes all subsequent submissions on a queue wait for the
// semaphore at the given stages. A semaphore may be consumed exactly once;
// waiting destroys the signal, so a second wait is rejected. When flush is
// set, work already queued is flushed first so the wait only gates later
// submissions.
func (d *Device) AddWaitSemaphore(queueType QueueType, sem *Semaphore, stages PipelineStages, flush bool) error {
	d.logger.Debug("Device::AddWaitSemaphore")

	if sem == nil || sem.driverSem == nil {
		return errors.New("cannot wait on a released semaphore")
	}
	if sem.consumed {
		d.reportContractViolation("semaphore consumed twice")
		return errors.New("semaphore has already been consumed by another wait")
	}
	if !sem.signaled {
		return errors.New("cannot wait on a semaphore that was never signaled")
	}

	d.frameMutex.Lock()
	defer d.frameMutex.Unlock()

	if flush {
		if _, _, err := d.flushQueueLocked(queueType, false, 0); err != nil {
			return err
		}
	}

	sem.consumed = true
	queue := &d.queues[queueType]
	queue.waitSemaphores = append(queue.waitSemaphores, sem.driverSem)
	queue.waitStages = append(queue.waitStages, stages)
	sem.driverSem = nil

	return nil
}

// NextFrameContext flushes every queue, advances the ring, and drains the
// frame context being entered: waits for its fences, performs its deferred
// destructions, recycles its scratch blocks and sync objects, and resets its
// command pools. All caches running on the frame clock advance one cycle.
func (d *Device) NextFrameContext() error {
	d.logger.Debug("Device::NextFrameContext")

	d.frameMutex.Lock()
	for queueType := QueueType(0); queueType < queueTypeCount; queueType++ {
		if _, _, err := d.flushQueueLocked(queueType, false, 0); err != nil {
			d.frameMutex.Unlock()
			return err
		}
	}
	if d.activeRecorders != 0 {
		d.reportContractViolation("frame context advanced with command buffers still recording")
	}

	d.frameIndex = (d.frameIndex + 1) % len(d.frames)
	err := d.currentFrameLocked().drain()
	d.frameMutex.Unlock()
	if err != nil {
		return err
	}

	d.cacheMutex.Lock()
	d.framebuffers.BeginCycle()
	d.transients.BeginCycle()
	d.setAllocators.ForEach(func(_ SetLayoutInfo, allocator *DescriptorSetAllocator) {
		allocator.beginCycle()
	})
	d.cacheMutex.Unlock()

	return nil
}

// WaitIdle flushes all queues, blocks until the GPU is fully idle, and drains
// every frame context so all deferred destructions run immediately.
func (d *Device) WaitIdle() error {
	d.logger.Debug("Device::WaitIdle")

	d.frameMutex.Lock()
	defer d.frameMutex.Unlock()

	for queueType := QueueType(0); queueType < queueTypeCount; queueType++ {
		if _, _, err := d.flushQueueLocked(queueType, false, 0); err != nil {
			return err
		}
	}
	if d.activeRecorders != 0 {
		d.reportContractViolation("WaitIdle with command buffers still recording")
	}

	if err := d.driver.WaitIdle(); err != nil {
		return errors.Wrap(err, "driver failed to idle")
	}

	for range d.frames {
		d.frameIndex = (d.frameIndex + 1) % len(d.frames)
		if err := d.currentFrameLocked().drain(); err != nil {
			return err
		}
	}
	return nil
}

// Destroy tears the device down: idles the GPU, drains every cache and frame
// context, and destroys all pooled driver objects. The device must not be
// used afterwards.
func (d *Device) Destroy() error {
	d.logger.Debug("Device::Destroy")

	if err := d.WaitIdle(); err != nil {
		return err
	}

	// Transient attachments release into the current frame; drain once more
	// to actually destroy them.
	d.cacheMutex.Lock()
	d.transients.Drain()
	d.cacheMutex.Unlock()

	d.frameMutex.Lock()
	err := d.currentFrameLocked().drain()
	d.frameMutex.Unlock()
	if err != nil {
		return err
	}

	d.cacheMutex.Lock()
	d.framebuffers.Drain()
	d.pipelines.Drain()
	d.renderPasses.Drain()
	d.programs.Drain()
	d.shaders.Drain()
	d.pipelineLayouts.Drain()
	d.setAllocators.Drain()
	d.cacheMutex.Unlock()

	d.blockMutex.Lock()
	d.destroyFreeBlocksLocked()
	d.blockMutex.Unlock()

	d.frameMutex.Lock()
	d.fences.destroyAll()
	d.semaphores.destroyAll()
	for _, frame := range d.frames {
		frame.destroyPools()
	}
	d.frameMutex.Unlock()

	if gputils.DebugBuild {
		d.objectMutex.Lock()
		gputils.DebugValidate(&d.bufferPool)
		gputils.DebugValidate(&d.imagePool)
		gputils.DebugValidate(&d.imageViewPool)
		d.objectMutex.Unlock()
	}

	return nil
}

// DeviceStatistics aggregates every cache, pool and allocator counter the
// device maintains.
type DeviceStatistics struct {
	Buffers    gputils.PoolStatistics
	Images     gputils.PoolStatistics
	ImageViews gputils.PoolStatistics

	Shaders         gputils.CacheStatistics
	Programs        gputils.CacheStatistics
	PipelineLayouts gputils.CacheStatistics
	RenderPasses    gputils.CacheStatistics
	Framebuffers    gputils.CacheStatistics
	Transients      gputils.CacheStatistics
	Pipelines       gputils.CacheStatistics

	Descriptors gputils.DescriptorStatistics
	Linear      gputils.LinearStatistics

	ContractViolations int
}

func (d *Device) Statistics() DeviceStatistics {
	var stats DeviceStatistics

	d.objectMutex.RLock()
	stats.Buffers = d.bufferPool.Stats()
	stats.Images = d.imagePool.Stats()
	stats.ImageViews = d.imageViewPool.Stats()
	d.objectMutex.RUnlock()

	d.cacheMutex.RLock()
	stats.Shaders = d.shaders.Stats()
	stats.Programs = d.programs.Stats()
	stats.PipelineLayouts = d.pipelineLayouts.Stats()
	stats.RenderPasses = d.renderPasses.Stats()
	stats.Framebuffers = d.framebuffers.Stats()
	stats.Transients = d.transients.Stats()
	stats.Pipelines = d.pipelines.Stats()
	d.setAllocators.ForEach(func(_ SetLayoutInfo, allocator *DescriptorSetAllocator) {
		allocatorStats := allocator.Stats()
		stats.Descriptors.AddStatistics(&allocatorStats)
	})
	d.cacheMutex.RUnlock()

	d.blockMutex.RLock()
	for class := allocClass(0); class < allocClassCount; class++ {
		stats.Linear.AddStatistics(&d.linearStats[class])
	}
	d.blockMutex.RUnlock()

	d.frameMutex.RLock()
	stats.ContractViolations = d.violations
	d.frameMutex.RUnlock()

	return stats
}

// PrintDetailedStats writes the full statistics tree to a JSON stream.
func (d *Device) PrintDetailedStats(json *jwriter.Writer) {
	stats := d.Statistics()

	obj := json.Object()
	printPool := func(name string, pool *gputils.PoolStatistics) {
		sub := obj.Name(name).Object()
		pool.PrintJSON(&sub)
		sub.End()
	}
	printCache := func(name string, cache *gputils.CacheStatistics) {
		sub := obj.Name(name).Object()
		cache.PrintJSON(&sub)
		sub.End()
	}

	printPool("Buffers", &stats.Buffers)
	printPool("Images", &stats.Images)
	printPool("ImageViews", &stats.ImageViews)
	printCache("Shaders", &stats.Shaders)
	printCache("Programs", &stats.Programs)
	printCache("PipelineLayouts", &stats.PipelineLayouts)
	printCache("RenderPasses", &stats.RenderPasses)
	printCache("Framebuffers", &stats.Framebuffers)
	printCache("Transients", &stats.Transients)
	printCache("Pipelines", &stats.Pipelines)

	descriptors := obj.Name("Descriptors").Object()
	stats.Descriptors.PrintJSON(&descriptors)
	descriptors.End()

	linear := obj.Name("Linear").Object()
	stats.Linear.PrintJSON(&linear)
	linear.End()

	obj.Name("ContractViolations").Int(stats.ContractViolations)
	obj.End()
}
