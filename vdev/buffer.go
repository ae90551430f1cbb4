package vdev

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/foundry/gputils"
	"github.com/vkngwrapper/foundry/objcache"
)

// BufferDomain describes which side of the PCI bus a buffer should live on.
type BufferDomain int32

const (
	// BufferDomainDevice is device-local memory, not host-accessible
	BufferDomainDevice BufferDomain = iota
	// BufferDomainHost is host-visible, write-combined memory
	BufferDomainHost
	// BufferDomainCachedHost is host-visible cached memory, for readbacks
	BufferDomainCachedHost
)

type BufferCreateInfo struct {
	Size   int
	Domain BufferDomain
	Usage  core1_0.BufferUsageFlags
}

// Buffer is a ref-counted GPU buffer handle. Buffers are created through
// Device.CreateBuffer and released with Release; the backing object is
// reclaimed only once the frame context that observed the final release has
// drained.
type Buffer struct {
	device    *Device
	refs      objcache.RefCount
	poolIndex objcache.Index
	cookie    uint64

	info         BufferCreateInfo
	driverBuffer DriverBuffer
	mapped       []byte
}

// Retain adds a reference and returns the same handle for convenience.
func (b *Buffer) Retain() *Buffer {
	b.refs.Retain()
	return b
}

// Release drops a reference. When the last reference is dropped the buffer is
// queued on the current frame context for deferred destruction.
func (b *Buffer) Release() {
	if b.refs.Release() {
		b.device.destroyBuffer(b)
	}
}

// Cookie is the unique identity used in binding signatures.
func (b *Buffer) Cookie() uint64 {
	return b.cookie
}

func (b *Buffer) Size() int {
	return b.info.Size
}

func (b *Buffer) CreateInfo() BufferCreateInfo {
	return b.info
}

// Mapped returns the persistent host mapping for host-visible buffers, or nil
// for device-local buffers.
func (b *Buffer) Mapped() []byte {
	return b.mapped
}

func memoryPropertiesForDomain(domain BufferDomain) core1_0.MemoryPropertyFlags {
	switch domain {
	case BufferDomainHost:
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	case BufferDomainCachedHost:
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCached
	default:
		return core1_0.MemoryPropertyDeviceLocal
	}
}

// CreateBuffer creates a buffer and optionally fills it with initial data.
// Host-domain buffers are written through their persistent mapping;
// device-local buffers get a staging upload on the transfer queue, which
// queues an internal command buffer against the current frame context.
//
// On error, no object is constructed and no state changes.
func (d *Device) CreateBuffer(info BufferCreateInfo, initialData []byte) (*Buffer, error) {
	d.logger.Debug("Device::CreateBuffer")

	if info.Size <= 0 {
		return nil, errors.Newf("buffer size must be positive, not %d", info.Size)
	}
	if len(initialData) > info.Size {
		return nil, errors.Newf("%d bytes of initial data for a %d byte buffer", len(initialData), info.Size)
	}

	usage := info.Usage
	needsUpload := info.Domain == BufferDomainDevice && len(initialData) > 0
	if needsUpload {
		usage |= core1_0.BufferUsageTransferDst
	}

	driverBuffer, res, err := d.driver.CreateBuffer(info.Size, usage, memoryPropertiesForDomain(info.Domain))
	if err != nil {
		return nil, errors.Wrapf(err, "buffer creation failed with %s", res.String())
	}

	var mapped []byte
	if info.Domain != BufferDomainDevice {
		mapped, err = driverBuffer.Map()
		if err != nil {
			driverBuffer.Destroy()
			return nil, errors.Wrap(err, "failed to map host buffer")
		}
	}

	d.objectMutex.Lock()
	index, buffer := d.bufferPool.Get()
	d.objectMutex.Unlock()

	buffer.device = d
	buffer.refs.Init(d.useMutex)
	buffer.poolIndex = index
	buffer.cookie = d.nextCookie()
	buffer.info = info
	buffer.driverBuffer = driverBuffer
	buffer.mapped = mapped

	if len(initialData) > 0 {
		if mapped != nil {
			copy(mapped, initialData)
		} else if err := d.uploadBufferData(buffer, initialData); err != nil {
			buffer.Release()
			return nil, err
		}
	}

	return buffer, nil
}

func (d *Device) uploadBufferData(buffer *Buffer, data []byte) error {
	staging, err := d.CreateBuffer(BufferCreateInfo{
		Size:   len(data),
		Domain: BufferDomainHost,
		Usage:  core1_0.BufferUsageTransferSrc,
	}, data)
	if err != nil {
		return errors.Wrap(err, "failed to create staging buffer for upload")
	}
	defer staging.Release()

	cmd, err := d.RequestCommandBuffer(QueueAsyncTransfer, 0)
	if err != nil {
		return err
	}

	cmd.CopyBuffer(buffer, staging, 0, 0, len(data))
	cmd.Barrier(PipelineStageTransfer, AccessTransferWrite, PipelineStageAllCommands, AccessShaderRead|AccessUniformRead|AccessVertexAttributeRead|AccessIndexRead)
	return d.Submit(cmd)
}

func (d *Device) destroyBuffer(b *Buffer) {
	gputils.DebugAssert(b.refs.Count() == 0, "destroying a buffer that still has references")

	d.frameMutex.Lock()
	frame := d.currentFrameLocked()
	frame.destroyedBuffers = append(frame.destroyedBuffers, destroyedBuffer{
		driverBuffer: b.driverBuffer,
		mapped:       b.mapped != nil,
		poolIndex:    b.poolIndex,
	})
	d.frameMutex.Unlock()
}
