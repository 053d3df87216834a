package vulkan

import (
	"fmt"
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

var imageIdentity atomic.Uint64

/**
 * @brief A device local image with its view and, for sampled images, its sampler.
 * Pixels are uploaded through a staging buffer.
 */
type Image struct {
	ctx     *Context
	Image   vk.Image
	Memory  vk.DeviceMemory
	View    vk.ImageView
	Sampler vk.Sampler
	Layout  vk.ImageLayout

	id    uint64
	mips  uint32
	props metadata.ImageProperties
}

func newImage(ctx *Context, props metadata.ImageProperties) (*Image, error) {
	img := &Image{ctx: ctx, props: props}
	if err := img.create(); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

func imageUsageFlags(props *metadata.ImageProperties) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if props.Usage&metadata.ImageUsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit | vk.ImageUsageTransferSrcBit
	}
	if props.Usage&metadata.ImageUsageStorage != 0 {
		flags |= vk.ImageUsageStorageBit | vk.ImageUsageTransferDstBit
	}
	if props.Usage&metadata.ImageUsageColourAttachment != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if props.Usage&metadata.ImageUsageDepthAttachment != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if props.Usage&metadata.ImageUsageTransferSource != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	return vk.ImageUsageFlags(flags)
}

func (img *Image) aspect() vk.ImageAspectFlags {
	if img.props.Format.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func (img *Image) create() error {
	ctx := img.ctx
	props := &img.props
	if props.Extent.IsZero() {
		return fmt.Errorf("%w: image %q has no extent", core.ErrConstructionFailure, props.Name)
	}
	format := toVkFormat(props.Format)
	if format == vk.FormatUndefined {
		return fmt.Errorf("%w: image %q has an undefined format", core.ErrConstructionFailure, props.Name)
	}
	img.mips = max(props.Mips, 1)
	// only sampled colour images get a mip chain
	if props.Usage&metadata.ImageUsageSampled == 0 || props.Format.IsDepth() {
		img.mips = 1
	}

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  props.Extent.Width,
			Height: props.Extent.Height,
			Depth:  1,
		},
		MipLevels:     img.mips,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsageFlags(props),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if err := check(core.ErrConstructionFailure, "create_image", vk.CreateImage(ctx.LogicalDevice, &createInfo, ctx.Allocator, &img.Image)); err != nil {
		return err
	}
	img.Layout = vk.ImageLayoutUndefined

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(ctx.LogicalDevice, img.Image, &requirements)
	memory, err := ctx.allocate("allocate_image_memory", requirements, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return err
	}
	img.Memory = memory
	if err := check(core.ErrConstructionFailure, "bind_image_memory", vk.BindImageMemory(ctx.LogicalDevice, img.Image, img.Memory, 0)); err != nil {
		return err
	}

	view, err := createImageView(ctx, img.Image, format, img.aspect(), img.mips)
	if err != nil {
		return err
	}
	img.View = view

	if props.Usage&metadata.ImageUsageSampled != 0 {
		if err := img.createSampler(); err != nil {
			return err
		}
	}

	switch {
	case len(props.Pixels) > 0:
		if err := img.upload(props.Pixels); err != nil {
			return err
		}
	case props.Usage&metadata.ImageUsageStorage != 0:
		if err := img.transition(vk.ImageLayoutGeneral); err != nil {
			return err
		}
	case props.Usage&metadata.ImageUsageSampled != 0:
		// sampled before anything was written, e.g. an offscreen target
		if err := img.transition(vk.ImageLayoutShaderReadOnlyOptimal); err != nil {
			return err
		}
	}

	img.id = imageIdentity.Add(1)
	return nil
}

func createImageView(ctx *Context, image vk.Image, format vk.Format, aspect vk.ImageAspectFlags, mips uint32) (vk.ImageView, error) {
	createInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     mips,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	var view vk.ImageView
	if err := check(core.ErrConstructionFailure, "create_image_view", vk.CreateImageView(ctx.LogicalDevice, &createInfo, ctx.Allocator, &view)); err != nil {
		return vk.NullImageView, err
	}
	return view, nil
}

func (img *Image) createSampler() error {
	ctx := img.ctx
	ctx.Properties.Limits.Deref()
	anisotropy := min(float32(16), ctx.Properties.Limits.MaxSamplerAnisotropy)
	createInfo := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        vk.FilterLinear,
		MinFilter:        vk.FilterLinear,
		AddressModeU:     vk.SamplerAddressModeRepeat,
		AddressModeV:     vk.SamplerAddressModeRepeat,
		AddressModeW:     vk.SamplerAddressModeRepeat,
		AnisotropyEnable: vk.True,
		MaxAnisotropy:    anisotropy,
		BorderColor:      vk.BorderColorIntOpaqueBlack,
		CompareOp:        vk.CompareOpAlways,
		MipmapMode:       vk.SamplerMipmapModeLinear,
		MaxLod:           float32(img.mips),
	}
	if img.props.Format == metadata.ImageFormatR32UInt {
		// integer formats cannot be filtered
		createInfo.MagFilter = vk.FilterNearest
		createInfo.MinFilter = vk.FilterNearest
		createInfo.MipmapMode = vk.SamplerMipmapModeNearest
	}
	return check(core.ErrConstructionFailure, "create_sampler", vk.CreateSampler(ctx.LogicalDevice, &createInfo, ctx.Allocator, &img.Sampler))
}

func (img *Image) upload(pixels []byte) error {
	expected := uint64(img.props.Extent.Width) * uint64(img.props.Extent.Height) * uint64(img.props.Format.BytesPerPixel())
	if uint64(len(pixels)) < expected {
		return fmt.Errorf("%w: image %q needs %d bytes of pixels, got %d", core.ErrConstructionFailure, img.props.Name, expected, len(pixels))
	}
	staging, err := newBuffer(img.ctx, metadata.BufferProperties{
		Name:  img.props.Name + " staging",
		Size:  expected,
		Usage: metadata.BufferUsageStaging,
	})
	if err != nil {
		return err
	}
	defer staging.Destroy()
	if err := staging.write(pixels[:expected], 0); err != nil {
		return err
	}

	return img.ctx.singleUse(func(cb vk.CommandBuffer) {
		img.barrier(cb, vk.ImageLayoutTransferDstOptimal, 0, img.mips)
		region := vk.BufferImageCopy{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: img.aspect(),
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: img.props.Extent.Width, Height: img.props.Extent.Height, Depth: 1},
		}
		vk.CmdCopyBufferToImage(cb, staging.Handle, img.Image, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
		img.generateMips(cb)
	})
}

// generateMips blits each level from the one above and leaves the image shader readable.
func (img *Image) generateMips(cb vk.CommandBuffer) {
	w, h := int32(img.props.Extent.Width), int32(img.props.Extent.Height)
	for level := uint32(1); level < img.mips; level++ {
		img.barrierFrom(cb, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal, level-1, 1)
		nw, nh := max(w/2, 1), max(h/2, 1)
		blit := vk.ImageBlit{
			SrcSubresource: vk.ImageSubresourceLayers{AspectMask: img.aspect(), MipLevel: level - 1, LayerCount: 1},
			SrcOffsets:     [2]vk.Offset3D{{}, {X: w, Y: h, Z: 1}},
			DstSubresource: vk.ImageSubresourceLayers{AspectMask: img.aspect(), MipLevel: level, LayerCount: 1},
			DstOffsets:     [2]vk.Offset3D{{}, {X: nw, Y: nh, Z: 1}},
		}
		vk.CmdBlitImage(cb, img.Image, vk.ImageLayoutTransferSrcOptimal, img.Image, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageBlit{blit}, vk.FilterLinear)
		img.barrierFrom(cb, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutShaderReadOnlyOptimal, level-1, 1)
		w, h = nw, nh
	}
	img.barrierFrom(cb, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal, img.mips-1, 1)
	img.Layout = vk.ImageLayoutShaderReadOnlyOptimal
}

func (img *Image) transition(layout vk.ImageLayout) error {
	return img.ctx.singleUse(func(cb vk.CommandBuffer) {
		img.barrier(cb, layout, 0, img.mips)
	})
}

func (img *Image) barrier(cb vk.CommandBuffer, layout vk.ImageLayout, baseMip, mips uint32) {
	img.barrierFrom(cb, img.Layout, layout, baseMip, mips)
	img.Layout = layout
}

func (img *Image) barrierFrom(cb vk.CommandBuffer, from, to vk.ImageLayout, baseMip, mips uint32) {
	srcAccess, srcStage := layoutAccess(from)
	dstAccess, dstStage := layoutAccess(to)
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Image,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     img.aspect(),
			BaseMipLevel:   baseMip,
			LevelCount:     mips,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	vk.CmdPipelineBarrier(cb, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func layoutAccess(layout vk.ImageLayout) (vk.AccessFlags, vk.PipelineStageFlags) {
	switch layout {
	case vk.ImageLayoutTransferDstOptimal:
		return vk.AccessFlags(vk.AccessTransferWriteBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case vk.ImageLayoutTransferSrcOptimal:
		return vk.AccessFlags(vk.AccessTransferReadBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case vk.ImageLayoutShaderReadOnlyOptimal:
		return vk.AccessFlags(vk.AccessShaderReadBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	case vk.ImageLayoutGeneral:
		return vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	default:
		return 0, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
}

func (img *Image) Handle() uint64                        { return img.id }
func (img *Image) ExtentDependent() bool                 { return img.props.FramebufferSized }
func (img *Image) Extent() metadata.Extent               { return img.props.Extent }
func (img *Image) Format() metadata.ImageFormat          { return img.props.Format }
func (img *Image) Properties() *metadata.ImageProperties { return &img.props }

// Recreate rebuilds the image at the new extent. Pixel data does not survive.
func (img *Image) Recreate(extent metadata.Extent) error {
	img.release()
	img.props.Extent = extent
	img.props.Pixels = nil
	if err := img.create(); err != nil {
		img.release()
		return err
	}
	return nil
}

func (img *Image) release() {
	ctx := img.ctx
	if img.Sampler != nil {
		vk.DestroySampler(ctx.LogicalDevice, img.Sampler, ctx.Allocator)
		img.Sampler = nil
	}
	if img.View != vk.NullImageView {
		vk.DestroyImageView(ctx.LogicalDevice, img.View, ctx.Allocator)
		img.View = vk.NullImageView
	}
	if img.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(ctx.LogicalDevice, img.Memory, ctx.Allocator)
		img.Memory = vk.NullDeviceMemory
	}
	if img.Image != vk.NullImage {
		vk.DestroyImage(ctx.LogicalDevice, img.Image, ctx.Allocator)
		img.Image = vk.NullImage
	}
	img.Layout = vk.ImageLayoutUndefined
}

func (img *Image) Destroy() {
	img.release()
	img.props.Pixels = nil
}
