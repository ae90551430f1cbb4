package vdev

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/foundry/gputils"
	"github.com/vkngwrapper/foundry/objcache"
)

// ImageDomain describes the backing-memory class of an image.
type ImageDomain int32

const (
	// ImageDomainPhysical is ordinary device-local memory
	ImageDomainPhysical ImageDomain = iota
	// ImageDomainTransient is lazily-allocated memory for attachments that
	// never leave the tile
	ImageDomainTransient
)

type ImageCreateInfo struct {
	Width   int
	Height  int
	Levels  int
	Layers  int
	Samples int
	Format  core1_0.Format
	Usage   core1_0.ImageUsageFlags
	Domain  ImageDomain
}

// ImmutableImage2D describes a sampled 2D texture that will be uploaded once.
func ImmutableImage2D(width, height int, format core1_0.Format) ImageCreateInfo {
	return ImageCreateInfo{
		Width:  width,
		Height: height,
		Format: format,
		Usage:  core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst,
	}
}

// RenderTargetImage describes a 2D render target.
func RenderTargetImage(width, height int, format core1_0.Format) ImageCreateInfo {
	return ImageCreateInfo{
		Width:  width,
		Height: height,
		Format: format,
		Usage:  core1_0.ImageUsageSampled,
	}
}

// TransientRenderTarget describes a throwaway attachment that only lives for
// the duration of a render pass.
func TransientRenderTarget(width, height int, format core1_0.Format) ImageCreateInfo {
	return ImageCreateInfo{
		Width:  width,
		Height: height,
		Format: format,
		Usage:  core1_0.ImageUsageTransientAttachment,
		Domain: ImageDomainTransient,
	}
}

// Image is a ref-counted GPU image handle with a default view covering the
// whole resource.
type Image struct {
	device    *Device
	refs      objcache.RefCount
	poolIndex objcache.Index
	cookie    uint64

	info        ImageCreateInfo
	driverImage DriverImage
	view        *ImageView
}

func (i *Image) Retain() *Image {
	i.refs.Retain()
	return i
}

// Release drops a reference. When the last reference is dropped the image and
// its default view are queued on the current frame context for deferred
// destruction.
func (i *Image) Release() {
	if i.refs.Release() {
		i.device.destroyImage(i)
	}
}

func (i *Image) Cookie() uint64 {
	return i.cookie
}

func (i *Image) Width() int {
	return i.info.Width
}

func (i *Image) Height() int {
	return i.info.Height
}

func (i *Image) Format() core1_0.Format {
	return i.info.Format
}

func (i *Image) CreateInfo() ImageCreateInfo {
	return i.info
}

// View returns the default view. It is owned by the image and shares its
// lifetime.
func (i *Image) View() *ImageView {
	return i.view
}

// ImageView is a typed view over an image. The default view is created with
// the image; its lifetime is owned by the image.
type ImageView struct {
	device    *Device
	poolIndex objcache.Index
	cookie    uint64

	image      *Image
	driverView DriverImageView
	format     core1_0.Format
	width      int
	height     int
}

func (v *ImageView) Cookie() uint64 {
	return v.cookie
}

func (v *ImageView) Format() core1_0.Format {
	return v.format
}

func (v *ImageView) Width() int {
	return v.width
}

func (v *ImageView) Height() int {
	return v.height
}

func (v *ImageView) Image() *Image {
	return v.image
}

// CreateImage creates an image with a default view and optionally uploads
// initial data for the first mip level through a staging buffer on the
// transfer queue.
//
// On error, no object is constructed and no state changes.
func (d *Device) CreateImage(info ImageCreateInfo, initialData []byte) (*Image, error) {
	d.logger.Debug("Device::CreateImage")

	if info.Width <= 0 || info.Height <= 0 {
		return nil, errors.Newf("image dimensions must be positive, not %dx%d", info.Width, info.Height)
	}
	if info.Levels == 0 {
		info.Levels = 1
	}
	if info.Layers == 0 {
		info.Layers = 1
	}
	if info.Samples == 0 {
		info.Samples = 1
	}
	if info.Domain == ImageDomainTransient && len(initialData) > 0 {
		return nil, errors.New("transient images cannot take initial data")
	}

	usage := info.Usage
	if len(initialData) > 0 {
		usage |= core1_0.ImageUsageTransferDst
	}

	driverImage, res, err := d.driver.CreateImage(
		info.Width, info.Height, info.Levels, info.Layers,
		info.Format, info.Samples, usage, info.Domain == ImageDomainTransient)
	if err != nil {
		return nil, errors.Wrapf(err, "image creation failed with %s", res.String())
	}

	driverView, err := d.driver.CreateImageView(driverImage, info.Format, 0, info.Levels, 0, info.Layers)
	if err != nil {
		driverImage.Destroy()
		return nil, errors.Wrap(err, "failed to create default image view")
	}

	d.objectMutex.Lock()
	imageIndex, image := d.imagePool.Get()
	viewIndex, view := d.imageViewPool.Get()
	d.objectMutex.Unlock()

	image.device = d
	image.refs.Init(d.useMutex)
	image.poolIndex = imageIndex
	image.cookie = d.nextCookie()
	image.info = info
	image.driverImage = driverImage
	image.view = view

	view.device = d
	view.poolIndex = viewIndex
	view.cookie = d.nextCookie()
	view.image = image
	view.driverView = driverView
	view.format = info.Format
	view.width = info.Width
	view.height = info.Height

	if len(initialData) > 0 {
		if err := d.uploadImageData(image, initialData); err != nil {
			image.Release()
			return nil, err
		}
	}

	return image, nil
}

func (d *Device) uploadImageData(image *Image, data []byte) error {
	staging, err := d.CreateBuffer(BufferCreateInfo{
		Size:   len(data),
		Domain: BufferDomainHost,
		Usage:  core1_0.BufferUsageTransferSrc,
	}, data)
	if err != nil {
		return errors.Wrap(err, "failed to create staging buffer for image upload")
	}
	defer staging.Release()

	cmd, err := d.RequestCommandBuffer(QueueAsyncTransfer, 0)
	if err != nil {
		return err
	}

	cmd.ImageBarrier(image, ImageLayoutUndefined, ImageLayoutTransferDstOptimal,
		PipelineStageTopOfPipe, 0, PipelineStageTransfer, AccessTransferWrite)
	cmd.CopyBufferToImage(image, staging, 0, image.info.Width, image.info.Height, ImageLayoutTransferDstOptimal)
	cmd.ImageBarrier(image, ImageLayoutTransferDstOptimal, ImageLayoutShaderReadOnlyOptimal,
		PipelineStageTransfer, AccessTransferWrite, PipelineStageAllCommands, AccessShaderRead)
	return d.Submit(cmd)
}

func (d *Device) destroyImage(i *Image) {
	gputils.DebugAssert(i.refs.Count() == 0, "destroying an image that still has references")

	d.frameMutex.Lock()
	frame := d.currentFrameLocked()
	frame.destroyedImages = append(frame.destroyedImages, destroyedImage{
		driverImage:    i.driverImage,
		driverView:     i.view.driverView,
		imagePoolIndex: i.poolIndex,
		viewPoolIndex:  i.view.poolIndex,
	})
	d.frameMutex.Unlock()
}
