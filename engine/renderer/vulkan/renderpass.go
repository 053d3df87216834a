package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

type RenderPass struct {
	ctx    *Context
	Handle vk.RenderPass
	props  metadata.RenderPassProperties
}

func newRenderPass(ctx *Context, props metadata.RenderPassProperties) (*RenderPass, error) {
	colourFormat := toVkFormat(props.ColourFormat)
	if colourFormat == vk.FormatUndefined {
		colourFormat = vk.FormatB8g8r8a8Unorm
	}

	// Main subpass
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0, // Attachment description array index
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}

	attachments := []vk.AttachmentDescription{{
		Format:         colourFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,  // Do not expect any particular layout before render pass starts.
		FinalLayout:    vk.ImageLayoutPresentSrc, // Transitioned to after the render pass
	}}

	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	access := vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	if props.Depth {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         ctx.DepthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		stages |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
		access |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		DstStageMask:  stages,
		DstAccessMask: access,
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	rp := &RenderPass{ctx: ctx, props: props}
	if err := check(core.ErrConstructionFailure, "create_render_pass", vk.CreateRenderPass(ctx.LogicalDevice, &createInfo, ctx.Allocator, &rp.Handle)); err != nil {
		return nil, err
	}
	return rp, nil
}

func (rp *RenderPass) Properties() *metadata.RenderPassProperties { return &rp.props }

func (rp *RenderPass) clearValues() []vk.ClearValue {
	c := rp.props.ClearColour
	values := make([]vk.ClearValue, 1, 2)
	values[0].SetColor([]float32{c[0], c[1], c[2], c[3]})
	if rp.props.Depth {
		var depth vk.ClearValue
		depth.SetDepthStencil(rp.props.ClearDepth, rp.props.ClearStencil)
		values = append(values, depth)
	}
	return values
}

func (rp *RenderPass) Destroy() {
	if rp.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(rp.ctx.LogicalDevice, rp.Handle, rp.ctx.Allocator)
		rp.Handle = vk.NullRenderPass
	}
}
