package vulkan

import (
	"math"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

type SwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

type Swapchain struct {
	ctx *Context

	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	Images      []vk.Image
	Views       []vk.ImageView
	extent      metadata.Extent

	// Shared by every framebuffer; only one frame renders at a time.
	DepthAttachment *Image
}

func newSwapchain(d *Device, props metadata.SwapchainProperties) (*Swapchain, error) {
	ctx := d.ctx
	// The surface may have changed since the last swapchain was built.
	if err := QuerySwapchainSupport(ctx.PhysicalDevice, ctx.Surface, &ctx.SwapchainSupport); err != nil {
		return nil, err
	}
	support := &ctx.SwapchainSupport
	if len(support.Formats) == 0 {
		return nil, core.NewGPUError(core.ErrSwapchainFatal, "create_swapchain", int32(vk.ErrorSurfaceLost), ResultString(vk.ErrorSurfaceLost))
	}

	sc := &Swapchain{ctx: ctx, ImageFormat: support.Formats[0]}
	for _, format := range support.Formats {
		// Preferred formats
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			sc.ImageFormat = format
			break
		}
	}

	presentMode := vk.PresentModeFifo
	if !props.VSync {
		for _, mode := range support.PresentModes {
			if mode == vk.PresentModeMailbox {
				presentMode = mode
				break
			}
		}
	}

	caps := support.Capabilities
	extent := props.Extent
	if extent.IsZero() && d.opts.FramebufferSize != nil {
		extent = d.opts.FramebufferSize()
	}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = metadata.Extent{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height}
	}
	// Clamp to the value allowed by the GPU.
	extent.Width = clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if extent.IsZero() {
		// minimized, nothing to present to
		return nil, core.ErrSwapchainBooting
	}
	sc.extent = extent

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          ctx.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.ImageFormat.Format,
		ImageColorSpace:  sc.ImageFormat.ColorSpace,
		ImageExtent:      vk.Extent2D{Width: extent.Width, Height: extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}
	if ctx.GraphicsQueueIndex != ctx.PresentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{ctx.GraphicsQueueIndex, ctx.PresentQueueIndex}
	}
	if old, ok := props.Old.(*Swapchain); ok && old != nil {
		createInfo.OldSwapchain = old.Handle
	}

	if err := check(core.ErrConstructionFailure, "create_swapchain", vk.CreateSwapchain(ctx.LogicalDevice, &createInfo, ctx.Allocator, &sc.Handle)); err != nil {
		return nil, err
	}

	var count uint32
	if err := check(core.ErrConstructionFailure, "get_swapchain_images", vk.GetSwapchainImages(ctx.LogicalDevice, sc.Handle, &count, nil)); err != nil {
		sc.Destroy()
		return nil, err
	}
	sc.Images = make([]vk.Image, count)
	if err := check(core.ErrConstructionFailure, "get_swapchain_images", vk.GetSwapchainImages(ctx.LogicalDevice, sc.Handle, &count, sc.Images)); err != nil {
		sc.Destroy()
		return nil, err
	}

	for _, image := range sc.Images {
		view, err := createImageView(ctx, image, sc.ImageFormat.Format, vk.ImageAspectFlags(vk.ImageAspectColorBit), 1)
		if err != nil {
			sc.Destroy()
			return nil, err
		}
		sc.Views = append(sc.Views, view)
	}

	depth, err := newImage(ctx, metadata.ImageProperties{
		Name:   "swapchain depth",
		Extent: extent,
		Format: fromVkFormat(ctx.DepthFormat),
		Usage:  metadata.ImageUsageDepthAttachment,
		Mips:   1,
	})
	if err != nil {
		sc.Destroy()
		return nil, err
	}
	sc.DepthAttachment = depth

	core.LogInfo("Swapchain created successfully (%dx%d, %d images).", extent.Width, extent.Height, count)
	return sc, nil
}

func (sc *Swapchain) Extent() metadata.Extent      { return sc.extent }
func (sc *Swapchain) Format() metadata.ImageFormat { return fromVkFormat(sc.ImageFormat.Format) }
func (sc *Swapchain) ImageCount() int              { return len(sc.Images) }

func (sc *Swapchain) AcquireNextImage(timeoutNs uint64, signal metadata.Semaphore) (uint32, metadata.SwapchainStatus, error) {
	semaphore := vk.NullSemaphore
	if s, ok := signal.(*Semaphore); ok && s != nil {
		semaphore = s.Handle
	}
	var index uint32
	result := vk.AcquireNextImage(sc.ctx.LogicalDevice, sc.Handle, timeoutNs, semaphore, vk.NullFence, &index)
	switch result {
	case vk.Success:
		return index, metadata.SwapchainOptimal, nil
	case vk.Suboptimal:
		return index, metadata.SwapchainSuboptimal, nil
	case vk.ErrorOutOfDate:
		return 0, metadata.SwapchainOutOfDate, nil
	default:
		return 0, metadata.SwapchainOutOfDate, core.NewGPUError(core.ErrSwapchainFatal, "acquire_next_image", int32(result), ResultString(result))
	}
}

func (sc *Swapchain) Present(wait metadata.Semaphore, imageIndex uint32) (metadata.SwapchainStatus, error) {
	presentInfo := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{sc.Handle},
		PImageIndices:  []uint32{imageIndex},
	}
	if s, ok := wait.(*Semaphore); ok && s != nil {
		presentInfo.WaitSemaphoreCount = 1
		presentInfo.PWaitSemaphores = []vk.Semaphore{s.Handle}
	}

	var result vk.Result
	_ = sc.ctx.locks.SafeQueueCall(sc.ctx.PresentQueueIndex, func() error {
		result = vk.QueuePresent(sc.ctx.PresentQueue, &presentInfo)
		return nil
	})
	switch result {
	case vk.Success:
		return metadata.SwapchainOptimal, nil
	case vk.Suboptimal:
		return metadata.SwapchainSuboptimal, nil
	case vk.ErrorOutOfDate:
		return metadata.SwapchainOutOfDate, nil
	default:
		return metadata.SwapchainOutOfDate, core.NewGPUError(core.ErrSwapchainFatal, "queue_present", int32(result), ResultString(result))
	}
}

// Destroy releases the views and the swapchain; the images belong to the swapchain.
func (sc *Swapchain) Destroy() {
	if sc.DepthAttachment != nil {
		sc.DepthAttachment.Destroy()
		sc.DepthAttachment = nil
	}
	for _, view := range sc.Views {
		vk.DestroyImageView(sc.ctx.LogicalDevice, view, sc.ctx.Allocator)
	}
	sc.Views = nil
	if sc.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(sc.ctx.LogicalDevice, sc.Handle, sc.ctx.Allocator)
		sc.Handle = vk.NullSwapchain
	}
	sc.Images = nil
}
