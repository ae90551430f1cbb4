package vdev

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"

	"github.com/vkngwrapper/foundry/gputils"
)

// RenderPassInfo describes a render pass by the attachments it renders to and
// the operations applied to them. It is resolved into cached driver render
// passes and framebuffers when recording begins.
type RenderPassInfo struct {
	ColorAttachments    [MaxColorAttachments]*ImageView
	NumColorAttachments int
	DepthStencil        *ImageView

	// ClearAttachmentMask, LoadAttachmentMask and StoreAttachmentMask select
	// per color attachment whether it is cleared or loaded on entry and
	// stored on exit. Clear wins over load; unselected attachments are
	// don't-care.
	ClearAttachmentMask uint32
	LoadAttachmentMask  uint32
	StoreAttachmentMask uint32

	ClearDepthStencil    bool
	DepthStencilReadOnly bool

	ClearColors  [MaxColorAttachments]ClearValue
	ClearDepth   float32
	ClearStencil uint32

	// Subpasses may be left empty for a single subpass rendering to every
	// attachment.
	Subpasses []SubpassInfo
}

// SubpassInfo selects attachments by index within the RenderPassInfo.
type SubpassInfo struct {
	ColorAttachments []int
	InputAttachments []int
	// DepthStencilAttachment is -1 when the subpass does not use depth
	DepthStencilAttachment int
}

// RenderPass is a cached driver render pass. Two passes with the same
// compatibility hash can share framebuffers and pipelines.
type RenderPass struct {
	hash       uint64
	compatHash uint64
	driverPass DriverRenderPass

	numColorAttachments int
	numSubpasses        int
}

func (r *RenderPass) Hash() uint64 {
	return r.hash
}

// CompatibilityHash folds only the attachment formats and subpass structure,
// ignoring load/store operations, mirroring the API's render pass
// compatibility rules.
func (r *RenderPass) CompatibilityHash() uint64 {
	return r.compatHash
}

// renderPassKey is the exact identity of a render pass. Subpass structure is
// folded into a string so two keys compare equal exactly when the passes are
// identical.
type renderPassKey struct {
	formats  [MaxColorAttachments + 1]core1_0.Format
	samples  int
	numColor int

	clearMask uint32
	loadMask  uint32
	storeMask uint32

	clearDepthStencil    bool
	depthStencilReadOnly bool

	subpasses string
}

func encodeSubpasses(subpasses []SubpassDescription) string {
	var buf []byte
	appendInt := func(v int) {
		buf = binary.AppendVarint(buf, int64(v))
	}

	appendInt(len(subpasses))
	for _, subpass := range subpasses {
		appendInt(len(subpass.ColorAttachments))
		for _, att := range subpass.ColorAttachments {
			appendInt(att)
		}
		appendInt(len(subpass.InputAttachments))
		for _, att := range subpass.InputAttachments {
			appendInt(att)
		}
		appendInt(subpass.DepthStencilAttachment)
		if subpass.DepthStencilReadOnly {
			appendInt(1)
		} else {
			appendInt(0)
		}
	}
	return string(buf)
}

// resolveRenderPassDescription lowers a RenderPassInfo into the driver-facing
// description plus the exact cache key for it.
func resolveRenderPassDescription(info *RenderPassInfo) (RenderPassDescription, renderPassKey, error) {
	var description RenderPassDescription
	var key renderPassKey

	if info.NumColorAttachments > MaxColorAttachments {
		return description, key, errors.Newf("%d color attachments exceeds the maximum of %d",
			info.NumColorAttachments, MaxColorAttachments)
	}

	key.numColor = info.NumColorAttachments
	key.clearMask = info.ClearAttachmentMask
	key.loadMask = info.LoadAttachmentMask
	key.storeMask = info.StoreAttachmentMask
	key.clearDepthStencil = info.ClearDepthStencil
	key.depthStencilReadOnly = info.DepthStencilReadOnly
	key.samples = 1

	for i := 0; i < info.NumColorAttachments; i++ {
		view := info.ColorAttachments[i]
		if view == nil {
			return description, key, errors.Newf("color attachment %d is nil", i)
		}
		key.formats[i] = view.Format()
		samples := view.Image().CreateInfo().Samples
		if samples > key.samples {
			key.samples = samples
		}

		loadOp := LoadOpDontCare
		if info.ClearAttachmentMask&(1<<i) != 0 {
			loadOp = LoadOpClear
		} else if info.LoadAttachmentMask&(1<<i) != 0 {
			loadOp = LoadOpLoad
		}
		storeOp := StoreOpDontCare
		if info.StoreAttachmentMask&(1<<i) != 0 {
			storeOp = StoreOpStore
		}
		initialLayout := ImageLayoutUndefined
		if loadOp == LoadOpLoad {
			initialLayout = ImageLayoutColorAttachmentOptimal
		}

		description.Attachments = append(description.Attachments, AttachmentDescription{
			Format:        view.Format(),
			Samples:       samples,
			LoadOp:        loadOp,
			StoreOp:       storeOp,
			InitialLayout: initialLayout,
			FinalLayout:   ImageLayoutColorAttachmentOptimal,
		})
	}

	depthIndex := -1
	if info.DepthStencil != nil {
		depthIndex = info.NumColorAttachments
		key.formats[MaxColorAttachments] = info.DepthStencil.Format()

		loadOp := LoadOpDontCare
		if info.ClearDepthStencil {
			loadOp = LoadOpClear
		} else if info.DepthStencilReadOnly {
			loadOp = LoadOpLoad
		}
		layout := ImageLayoutDepthStencilOptimal
		if info.DepthStencilReadOnly {
			layout = ImageLayoutDepthStencilReadOnlyOptimal
		}
		initialLayout := ImageLayoutUndefined
		if loadOp == LoadOpLoad {
			initialLayout = layout
		}

		description.Attachments = append(description.Attachments, AttachmentDescription{
			Format:        info.DepthStencil.Format(),
			Samples:       info.DepthStencil.Image().CreateInfo().Samples,
			LoadOp:        loadOp,
			StoreOp:       StoreOpDontCare,
			InitialLayout: initialLayout,
			FinalLayout:   layout,
		})
	}

	if len(info.Subpasses) == 0 {
		subpass := SubpassDescription{
			DepthStencilAttachment: depthIndex,
			DepthStencilReadOnly:   info.DepthStencilReadOnly,
		}
		for i := 0; i < info.NumColorAttachments; i++ {
			subpass.ColorAttachments = append(subpass.ColorAttachments, i)
		}
		description.Subpasses = append(description.Subpasses, subpass)
	} else {
		for _, subpassInfo := range info.Subpasses {
			subpass := SubpassDescription{
				ColorAttachments:       subpassInfo.ColorAttachments,
				InputAttachments:       subpassInfo.InputAttachments,
				DepthStencilAttachment: subpassInfo.DepthStencilAttachment,
				DepthStencilReadOnly:   info.DepthStencilReadOnly,
			}
			description.Subpasses = append(description.Subpasses, subpass)
		}
	}

	key.subpasses = encodeSubpasses(description.Subpasses)
	return description, key, nil
}

func (k *renderPassKey) hash() uint64 {
	hasher := gputils.NewHasher()
	k.hashCompatible(&hasher)
	hasher.U32(k.clearMask)
	hasher.U32(k.loadMask)
	hasher.U32(k.storeMask)
	hasher.Bool(k.clearDepthStencil)
	hasher.Bool(k.depthStencilReadOnly)
	return hasher.Get()
}

func (k *renderPassKey) hashCompatible(hasher *gputils.Hasher) {
	for i := 0; i <= MaxColorAttachments; i++ {
		hasher.I32(int32(k.formats[i]))
	}
	hasher.Int(k.samples)
	hasher.Int(k.numColor)
	hasher.Str(k.subpasses)
}

func (k *renderPassKey) compatibilityHash() uint64 {
	hasher := gputils.NewHasher()
	k.hashCompatible(&hasher)
	return hasher.Get()
}

// requestRenderPass returns the cached render pass for an info block, creating
// it on first use. Render passes persist for the device's lifetime.
func (d *Device) requestRenderPass(info *RenderPassInfo) (*RenderPass, error) {
	description, key, err := resolveRenderPassDescription(info)
	if err != nil {
		return nil, err
	}

	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()

	return d.renderPasses.FindOrCreate(key.hash(), key, func(key renderPassKey) (*RenderPass, error) {
		driverPass, err := d.driver.CreateRenderPass(description)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create render pass")
		}

		return &RenderPass{
			hash:                key.hash(),
			compatHash:          key.compatibilityHash(),
			driverPass:          driverPass,
			numColorAttachments: key.numColor,
			numSubpasses:        len(description.Subpasses),
		}, nil
	})
}

// framebufferKey identifies a framebuffer by the compatible render pass, the
// exact attachment views (by cookie) and the render area.
type framebufferKey struct {
	compatHash uint64
	cookies    [MaxColorAttachments + 1]uint64
	width      int
	height     int
}

type framebuffer struct {
	driverFramebuffer DriverFramebuffer
	width             int
	height            int
}

// requestFramebuffer returns the cached framebuffer for a render pass and
// attachment set. Framebuffers not requested for the configured horizon of
// frame contexts are destroyed.
func (d *Device) requestFramebuffer(pass *RenderPass, info *RenderPassInfo) (*framebuffer, error) {
	key := framebufferKey{compatHash: pass.compatHash}

	var attachments []DriverImageView
	width, height := 0, 0
	observe := func(index int, view *ImageView) {
		key.cookies[index] = view.Cookie()
		attachments = append(attachments, view.driverView)
		if width == 0 || view.Width() < width {
			width = view.Width()
		}
		if height == 0 || view.Height() < height {
			height = view.Height()
		}
	}
	for i := 0; i < info.NumColorAttachments; i++ {
		observe(i, info.ColorAttachments[i])
	}
	if info.DepthStencil != nil {
		observe(MaxColorAttachments, info.DepthStencil)
	}
	if len(attachments) == 0 {
		return nil, errors.New("a framebuffer requires at least one attachment")
	}
	key.width = width
	key.height = height

	hasher := gputils.NewHasher()
	hasher.U64(key.compatHash)
	for i := 0; i <= MaxColorAttachments; i++ {
		hasher.U64(key.cookies[i])
	}
	hasher.Int(key.width)
	hasher.Int(key.height)

	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()

	return d.framebuffers.FindOrCreate(hasher.Get(), key, func(framebufferKey) (*framebuffer, error) {
		driverFramebuffer, err := d.driver.CreateFramebuffer(pass.driverPass, attachments, width, height)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create framebuffer")
		}
		return &framebuffer{
			driverFramebuffer: driverFramebuffer,
			width:             width,
			height:            height,
		}, nil
	})
}

// transientKey identifies a reusable transient attachment. The index
// disambiguates multiple attachments of identical shape within one pass.
type transientKey struct {
	width   int
	height  int
	format  core1_0.Format
	index   int
	samples int
}

// RequestTransientAttachment returns a pooled transient render target of the
// given shape. The returned image is owned by the device's transient cache:
// callers must not Release it. Attachments unused for the framebuffer horizon
// are reclaimed automatically.
func (d *Device) RequestTransientAttachment(width, height int, format core1_0.Format, index int, samples int) (*Image, error) {
	d.logger.Debug("Device::RequestTransientAttachment")

	if samples == 0 {
		samples = 1
	}
	key := transientKey{width: width, height: height, format: format, index: index, samples: samples}

	hasher := gputils.NewHasher()
	hasher.Int(width)
	hasher.Int(height)
	hasher.I32(int32(format))
	hasher.Int(index)
	hasher.Int(samples)

	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()

	return d.transients.FindOrCreate(hasher.Get(), key, func(transientKey) (*Image, error) {
		info := TransientRenderTarget(width, height, format)
		info.Samples = samples
		return d.CreateImage(info, nil)
	})
}
