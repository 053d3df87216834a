package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

type Framebuffer struct {
	ctx         *Context
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	Renderpass  *RenderPass
	extent      metadata.Extent
}

// newFramebuffer targets one swapchain image, plus the swapchain depth attachment
// when the pass has depth.
func newFramebuffer(ctx *Context, renderpass *RenderPass, swapchain *Swapchain, imageIndex int) (*Framebuffer, error) {
	if imageIndex < 0 || imageIndex >= len(swapchain.Views) {
		return nil, fmt.Errorf("%w: swapchain image %d out of %d", core.ErrConstructionFailure, imageIndex, len(swapchain.Views))
	}
	fb := &Framebuffer{
		ctx:         ctx,
		Attachments: []vk.ImageView{swapchain.Views[imageIndex]},
		Renderpass:  renderpass,
		extent:      swapchain.Extent(),
	}
	if renderpass.props.Depth && swapchain.DepthAttachment != nil {
		fb.Attachments = append(fb.Attachments, swapchain.DepthAttachment.View)
	}

	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(fb.Attachments)),
		PAttachments:    fb.Attachments,
		Width:           fb.extent.Width,
		Height:          fb.extent.Height,
		Layers:          1,
	}
	if err := check(core.ErrConstructionFailure, "create_framebuffer", vk.CreateFramebuffer(ctx.LogicalDevice, &createInfo, ctx.Allocator, &fb.Handle)); err != nil {
		return nil, err
	}
	return fb, nil
}

func (fb *Framebuffer) Extent() metadata.Extent { return fb.extent }

func (fb *Framebuffer) Destroy() {
	if fb.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(fb.ctx.LogicalDevice, fb.Handle, fb.ctx.Allocator)
		fb.Handle = vk.NullFramebuffer
	}
	fb.Attachments = nil
	fb.Renderpass = nil
}
