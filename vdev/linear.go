package vdev

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/foundry/gputils"
)

// allocClass separates scratch data by use so each class can pick its own
// block size and buffer usage.
type allocClass int32

const (
	allocClassVertex allocClass = iota
	allocClassIndex
	allocClassUniform
	allocClassStaging

	allocClassCount
)

// LinearBlockSizes configures the default backing-buffer size per scratch
// class. Requests larger than the class size succeed with a dedicated
// oversized block.
type LinearBlockSizes struct {
	Vertex  int
	Index   int
	Uniform int
	Staging int
}

func DefaultLinearBlockSizes() LinearBlockSizes {
	return LinearBlockSizes{
		Vertex:  4 * 1024,
		Index:   4 * 1024,
		Uniform: 16 * 1024,
		Staging: 64 * 1024,
	}
}

func (s LinearBlockSizes) forClass(class allocClass) int {
	switch class {
	case allocClassVertex:
		return s.Vertex
	case allocClassIndex:
		return s.Index
	case allocClassUniform:
		return s.Uniform
	default:
		return s.Staging
	}
}

func usageForClass(class allocClass) core1_0.BufferUsageFlags {
	switch class {
	case allocClassVertex:
		return core1_0.BufferUsageVertexBuffer
	case allocClassIndex:
		return core1_0.BufferUsageIndexBuffer
	case allocClassUniform:
		return core1_0.BufferUsageUniformBuffer
	default:
		return core1_0.BufferUsageTransferSrc
	}
}

// linearBlock is one backing buffer for scratch allocations: persistently
// mapped, bump-allocated, recycled whole.
type linearBlock struct {
	driverBuffer DriverBuffer
	mapped       []byte
	size         int
	offset       int
	class        allocClass
	// cookie gives scratch allocations an identity in binding signatures
	cookie uint64
}

// LinearAllocation is scratch memory handed out by a command buffer. Data is
// valid for writing only until the command buffer is submitted.
type LinearAllocation struct {
	Buffer DriverBuffer
	Offset int
	Data   []byte
	// Cookie identifies the backing block in binding signatures.
	Cookie uint64
}

// linearAllocator bump-allocates from blocks owned by a single recording
// stream. No locking: ownership of the allocator follows the command buffer.
type linearAllocator struct {
	device         *Device
	class          allocClass
	block          *linearBlock
	retired        []*linearBlock
	bytesAllocated int
}

func (a *linearAllocator) init(device *Device, class allocClass) {
	a.device = device
	a.class = class
}

// allocate returns size bytes at the requested alignment, retiring the
// current block and acquiring a larger one when necessary. Allocation never
// fails for size alone; oversized requests get a dedicated block.
func (a *linearAllocator) allocate(size, alignment int) (LinearAllocation, error) {
	if size <= 0 {
		return LinearAllocation{}, errors.Newf("scratch allocation size must be positive, not %d", size)
	}
	if err := gputils.CheckPow2(uint(alignment), "alignment"); err != nil {
		return LinearAllocation{}, err
	}

	offset := 0
	if a.block != nil {
		offset = gputils.AlignUp(a.block.offset, uint(alignment))
	}
	if a.block == nil || offset+size > a.block.size {
		if a.block != nil {
			a.retired = append(a.retired, a.block)
		}
		block, err := a.device.requestLinearBlock(a.class, size)
		if err != nil {
			return LinearAllocation{}, err
		}
		a.block = block
		offset = 0
	}

	a.block.offset = offset + size
	a.bytesAllocated += size
	return LinearAllocation{
		Buffer: a.block.driverBuffer,
		Offset: offset,
		Data:   a.block.mapped[offset : offset+size],
		Cookie: a.block.cookie,
	}, nil
}

// collectBlocks transfers every block the allocator touched, including the
// current one, to the caller. Invoked at submission; the blocks then belong
// to the frame context.
func (a *linearAllocator) collectBlocks() []*linearBlock {
	blocks := a.retired
	if a.block != nil {
		blocks = append(blocks, a.block)
		a.block = nil
	}
	a.retired = nil
	return blocks
}

// requestLinearBlock pops a pooled block for the class or creates a new one.
// Blocks larger than the class default are created to fit and never pooled.
func (d *Device) requestLinearBlock(class allocClass, minSize int) (*linearBlock, error) {
	classSize := d.blockSizes.forClass(class)

	d.blockMutex.Lock()
	free := d.freeBlocks[class]
	if len(free) > 0 && minSize <= classSize {
		block := free[len(free)-1]
		d.freeBlocks[class] = free[:len(free)-1]
		d.blockMutex.Unlock()
		return block, nil
	}
	d.blockMutex.Unlock()

	size := classSize
	if minSize > size {
		size = minSize
	}

	driverBuffer, res, err := d.driver.CreateBuffer(size, usageForClass(class),
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, errors.Wrapf(err, "scratch block creation failed with %s", res.String())
	}
	mapped, err := driverBuffer.Map()
	if err != nil {
		driverBuffer.Destroy()
		return nil, errors.Wrap(err, "failed to map scratch block")
	}

	d.blockMutex.Lock()
	d.linearStats[class].BlocksCreated++
	d.blockMutex.Unlock()

	return &linearBlock{
		driverBuffer: driverBuffer,
		mapped:       mapped,
		size:         size,
		class:        class,
		cookie:       d.nextCookie(),
	}, nil
}

// recycleLinearBlocks returns drained blocks to their class free lists.
// Oversized blocks are destroyed instead of pooled.
func (d *Device) recycleLinearBlocks(blocks []*linearBlock) {
	d.blockMutex.Lock()
	defer d.blockMutex.Unlock()

	for _, block := range blocks {
		if block.size == d.blockSizes.forClass(block.class) {
			block.offset = 0
			d.freeBlocks[block.class] = append(d.freeBlocks[block.class], block)
			d.linearStats[block.class].BlocksRecycled++
		} else {
			block.driverBuffer.Unmap()
			block.driverBuffer.Destroy()
			d.linearStats[block.class].BlocksDestroyed++
		}
	}
}

func (d *Device) destroyFreeBlocksLocked() {
	for class := allocClass(0); class < allocClassCount; class++ {
		for _, block := range d.freeBlocks[class] {
			block.driverBuffer.Unmap()
			block.driverBuffer.Destroy()
		}
		d.freeBlocks[class] = nil
	}
}
