package vdev

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/foundry/objcache"
)

// commandPool wraps a driver pool and reuses the command buffers allocated
// from it across frame-context cycles. Buffers are never freed individually;
// a pool reset reclaims all of them at once.
type commandPool struct {
	driverPool DriverCommandPool
	buffers    []DriverCommandBuffer
	used       int
}

func (p *commandPool) request() (DriverCommandBuffer, error) {
	if p.used < len(p.buffers) {
		buffer := p.buffers[p.used]
		p.used++
		return buffer, nil
	}

	buffer, err := p.driverPool.Allocate()
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate command buffer")
	}
	p.buffers = append(p.buffers, buffer)
	p.used++
	return buffer, nil
}

func (p *commandPool) reset() error {
	if err := p.driverPool.Reset(); err != nil {
		return errors.Wrap(err, "failed to reset command pool")
	}
	p.used = 0
	return nil
}

func (p *commandPool) destroy() {
	p.driverPool.Destroy()
	p.buffers = nil
}

type destroyedBuffer struct {
	driverBuffer DriverBuffer
	mapped       bool
	poolIndex    objcache.Index
}

type destroyedImage struct {
	driverImage    DriverImage
	driverView     DriverImageView
	imagePoolIndex objcache.Index
	viewPoolIndex  objcache.Index
}

// frameContext collects everything the current frame defers: command pools in
// use, fences covering this frame's submissions, resources whose final
// reference was dropped, and scratch blocks from submitted command buffers.
// All of it is reclaimed in drain, after the frame's fences prove the GPU has
// moved on.
type frameContext struct {
	device *Device

	// commandPools is indexed by queue type, then thread index.
	commandPools [queueTypeCount][]*commandPool

	waitFences     []DriverFence
	externalFences []*Fence

	destroyedBuffers    []destroyedBuffer
	destroyedImages     []destroyedImage
	destroyedSemaphores []DriverSemaphore
	recycledSemaphores  []DriverSemaphore

	blocks []*linearBlock
}

func newFrameContext(d *Device, threadCount int) (*frameContext, error) {
	frame := &frameContext{device: d}

	for queue := QueueType(0); queue < queueTypeCount; queue++ {
		for thread := 0; thread < threadCount; thread++ {
			driverPool, err := d.driver.CreateCommandPool(queue)
			if err != nil {
				frame.destroyPools()
				return nil, errors.Wrapf(err, "failed to create command pool for %s", queue)
			}
			frame.commandPools[queue] = append(frame.commandPools[queue], &commandPool{driverPool: driverPool})
		}
	}
	return frame, nil
}

// drain retires the frame: waits for its submissions, recycles sync objects
// and scratch blocks, performs the deferred destructions, and resets command
// pools for reuse. After drain the GPU provably no longer references anything
// the frame deferred.
func (f *frameContext) drain() error {
	d := f.device

	for _, fence := range f.waitFences {
		if err := fence.Wait(); err != nil {
			return errors.Wrap(err, "failed to wait for frame fence")
		}
		if err := d.fences.recycleFence(fence); err != nil {
			return err
		}
	}
	f.waitFences = f.waitFences[:0]

	for _, fence := range f.externalFences {
		fence.retire()
	}
	f.externalFences = f.externalFences[:0]

	for _, sem := range f.recycledSemaphores {
		d.semaphores.recycleSemaphore(sem)
	}
	f.recycledSemaphores = f.recycledSemaphores[:0]

	for _, sem := range f.destroyedSemaphores {
		sem.Destroy()
	}
	f.destroyedSemaphores = f.destroyedSemaphores[:0]

	for _, destroyed := range f.destroyedBuffers {
		if destroyed.mapped {
			destroyed.driverBuffer.Unmap()
		}
		destroyed.driverBuffer.Destroy()
	}
	for _, destroyed := range f.destroyedImages {
		destroyed.driverView.Destroy()
		destroyed.driverImage.Destroy()
	}

	d.objectMutex.Lock()
	for _, destroyed := range f.destroyedBuffers {
		d.bufferPool.Release(destroyed.poolIndex)
	}
	for _, destroyed := range f.destroyedImages {
		d.imageViewPool.Release(destroyed.viewPoolIndex)
		d.imagePool.Release(destroyed.imagePoolIndex)
	}
	d.objectMutex.Unlock()
	f.destroyedBuffers = f.destroyedBuffers[:0]
	f.destroyedImages = f.destroyedImages[:0]

	d.recycleLinearBlocks(f.blocks)
	f.blocks = f.blocks[:0]

	for queue := QueueType(0); queue < queueTypeCount; queue++ {
		for _, pool := range f.commandPools[queue] {
			if err := pool.reset(); err != nil {
				return err
			}
		}
	}

	return nil
}

func (f *frameContext) destroyPools() {
	for queue := QueueType(0); queue < queueTypeCount; queue++ {
		for _, pool := range f.commandPools[queue] {
			pool.destroy()
		}
		f.commandPools[queue] = nil
	}
}
