package vulkan

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

var pipelineIdentity atomic.Uint64

// NOTE: 32 is the max number of ranges we can ever have; only 128 bytes with 4-byte alignment are guaranteed.
const maxPushConstantRanges = 32

/**
 * @brief Holds a Vulkan pipeline, its layout and the driver cache it was built with.
 */
type Pipeline struct {
	ctx *Context
	/** @brief The internal pipeline handle. */
	Pipeline vk.Pipeline
	/** @brief The pipeline layout. */
	Layout     vk.PipelineLayout
	SetLayouts []vk.DescriptorSetLayout
	Cache      vk.PipelineCache

	id     uint64
	props  metadata.PipelineProperties
	info   metadata.PipelineCreateInfo
	stages []vk.PipelineShaderStageCreateInfo
}

func newPipeline(ctx *Context, info metadata.PipelineCreateInfo) (*Pipeline, error) {
	if info.Properties == nil || len(info.Shaders) == 0 {
		return nil, fmt.Errorf("%w: pipeline without properties or shaders", core.ErrConstructionFailure)
	}
	if len(info.PushConstants) > maxPushConstantRanges {
		return nil, fmt.Errorf("%w: cannot have more than %d push constant ranges, got %d", core.ErrConstructionFailure, maxPushConstantRanges, len(info.PushConstants))
	}
	rp, ok := info.RenderPass.(*RenderPass)
	if !ok || rp == nil {
		return nil, fmt.Errorf("%w: pipeline %q needs a render pass", core.ErrConstructionFailure, info.Properties.Key)
	}

	p := &Pipeline{ctx: ctx, props: *info.Properties, info: info}
	p.info.Properties = &p.props
	for _, s := range info.Shaders {
		shader, ok := s.(*Shader)
		if !ok || shader.Handle == vk.NullShaderModule {
			return nil, fmt.Errorf("%w: pipeline %q has an unusable shader %T", core.ErrConstructionFailure, p.props.Key, s)
		}
		p.stages = append(p.stages, shader.stageCreateInfo())
	}

	if err := p.createLayout(); err != nil {
		p.Destroy()
		return nil, err
	}
	if err := p.createCache(info.CacheBlob); err != nil {
		p.Destroy()
		return nil, err
	}
	if err := p.build(rp, info.Extent); err != nil {
		p.Destroy()
		return nil, err
	}
	core.LogDebug("Graphics pipeline %q created!", p.props.Key)
	return p, nil
}

// createLayout fills the gaps in the set numbers with empty layouts; Vulkan indexes
// set layouts by position.
func (p *Pipeline) createLayout() error {
	ctx := p.ctx
	var highest int32 = -1
	for _, l := range p.info.SetLayouts {
		highest = max(highest, int32(l.Set))
	}
	for set := int32(0); set <= highest; set++ {
		layout := metadata.SetLayout{Set: uint32(set)}
		for _, l := range p.info.SetLayouts {
			if l.Set == uint32(set) {
				layout = l
			}
		}
		handle, err := createSetLayout(ctx, layout)
		if err != nil {
			return err
		}
		p.SetLayouts = append(p.SetLayouts, handle)
	}

	ranges := make([]vk.PushConstantRange, 0, len(p.info.PushConstants))
	for _, r := range p.info.PushConstants {
		ranges = append(ranges, vk.PushConstantRange{
			StageFlags: toVkStages(r.Stages),
			Offset:     r.Offset,
			Size:       r.Size,
		})
	}

	createInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(p.SetLayouts)),
		PSetLayouts:            p.SetLayouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	return ctx.locks.SafeCall(PipelineManagement, func() error {
		return check(core.ErrConstructionFailure, "create_pipeline_layout", vk.CreatePipelineLayout(ctx.LogicalDevice, &createInfo, ctx.Allocator, &p.Layout))
	})
}

// createCache seeds the driver cache with a blob from a previous run. Drivers validate
// the header and ignore blobs from another device.
func (p *Pipeline) createCache(blob []byte) error {
	createInfo := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if len(blob) > 0 {
		createInfo.InitialDataSize = uint64(len(blob))
		createInfo.PInitialData = unsafe.Pointer(&blob[0])
	}
	return check(core.ErrConstructionFailure, "create_pipeline_cache", vk.CreatePipelineCache(p.ctx.LogicalDevice, &createInfo, p.ctx.Allocator, &p.Cache))
}

func (p *Pipeline) build(rp *RenderPass, extent metadata.Extent) error {
	ctx := p.ctx
	props := &p.props

	// Viewport state
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	dynamicStates := []vk.DynamicState{}
	if props.DynamicViewport {
		dynamicStates = append(dynamicStates, vk.DynamicStateViewport, vk.DynamicStateScissor)
	} else {
		if extent.IsZero() {
			return fmt.Errorf("%w: pipeline %q has a fixed viewport but no extent", core.ErrConstructionFailure, props.Key)
		}
		viewportState.PViewports = []vk.Viewport{{
			X:        0,
			Y:        float32(extent.Height),
			Width:    float32(extent.Width),
			Height:   -float32(extent.Height),
			MinDepth: 0,
			MaxDepth: 1,
		}}
		viewportState.PScissors = []vk.Rect2D{{
			Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
		}}
	}

	lineWidth := max(props.LineWidth, 1)
	if ctx.Features.WideLines == vk.False {
		lineWidth = 1
	}
	if props.Topology == metadata.TopologyLines {
		// line batches set their width while recording
		dynamicStates = append(dynamicStates, vk.DynamicStateLineWidth)
	}

	// Rasterizer
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             toVkPolygonMode(props.PolygonMode),
		LineWidth:               lineWidth,
		CullMode:                toVkCullMode(props.CullMode),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if props.FaceMode == metadata.FaceModeClockwise {
		rasterizer.FrontFace = vk.FrontFaceClockwise
	}

	// Multisampling.
	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if props.DepthTest && rp.props.Depth {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = toVkCompareOp(props.DepthCompare)
		if props.DepthWrite {
			depthStencil.DepthWriteEnable = vk.True
		}
	}

	colourBlend := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.False,
		SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
		DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
		DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if props.Blend {
		colourBlend.BlendEnable = vk.True
	}
	colourBlendState := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colourBlend},
	}

	// Dynamic state
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	// Vertex input
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if props.Layout.Stride > 0 {
		vertexInput.VertexBindingDescriptionCount = 1
		vertexInput.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0, // Binding index
			Stride:    props.Layout.Stride,
			InputRate: vk.VertexInputRateVertex, // Move to next data entry for each vertex.
		}}
		attributes := make([]vk.VertexInputAttributeDescription, 0, len(props.Layout.Attributes))
		for _, a := range props.Layout.Attributes {
			attributes = append(attributes, vk.VertexInputAttributeDescription{
				Location: a.Location,
				Binding:  0,
				Format:   toVkVertexFormat(a.Format),
				Offset:   a.Offset,
			})
		}
		vertexInput.VertexAttributeDescriptionCount = uint32(len(attributes))
		vertexInput.PVertexAttributeDescriptions = attributes
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               toVkTopology(props.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(p.stages)),
		PStages:             p.stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colourBlendState,
		Layout:              p.Layout,
		RenderPass:          rp.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	if len(dynamicStates) > 0 {
		createInfo.PDynamicState = &dynamicState
	}

	pipelines := make([]vk.Pipeline, 1)
	err := ctx.locks.SafeCall(PipelineManagement, func() error {
		return check(core.ErrConstructionFailure, "create_graphics_pipelines", vk.CreateGraphicsPipelines(ctx.LogicalDevice, p.Cache, 1, []vk.GraphicsPipelineCreateInfo{createInfo}, ctx.Allocator, pipelines))
	})
	if err != nil {
		return err
	}
	p.Pipeline = pipelines[0]
	p.info.Extent = extent
	p.id = pipelineIdentity.Add(1)
	return nil
}

func (p *Pipeline) Handle() uint64                                   { return p.id }
func (p *Pipeline) ExtentDependent() bool                            { return !p.props.DynamicViewport }
func (p *Pipeline) Properties() *metadata.PipelineProperties         { return &p.props }
func (p *Pipeline) PushConstantRanges() []metadata.PushConstantRange { return p.info.PushConstants }

// Retarget sets the render pass the next Recreate builds for. The swapchain
// recreation replaces the pass the pipeline was created with.
func (p *Pipeline) Retarget(pass metadata.RenderPass) {
	p.info.RenderPass = pass
}

// Recreate rebuilds the pipeline object for a new surface size. The layout and the
// driver cache are kept.
func (p *Pipeline) Recreate(extent metadata.Extent) error {
	rp, ok := p.info.RenderPass.(*RenderPass)
	if !ok || rp.Handle == vk.NullRenderPass {
		return fmt.Errorf("%w: render pass of pipeline %q is gone", core.ErrResourceMissing, p.props.Key)
	}
	p.destroyPipeline()
	return p.build(rp, extent)
}

func (p *Pipeline) CacheData() ([]byte, error) {
	if p.Cache == vk.NullPipelineCache {
		return nil, fmt.Errorf("%w: pipeline %q has no driver cache", core.ErrResourceMissing, p.props.Key)
	}
	var size uint64
	if err := check(core.ErrConstructionFailure, "get_pipeline_cache_data", vk.GetPipelineCacheData(p.ctx.LogicalDevice, p.Cache, &size, nil)); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if err := check(core.ErrConstructionFailure, "get_pipeline_cache_data", vk.GetPipelineCacheData(p.ctx.LogicalDevice, p.Cache, &size, unsafe.Pointer(&data[0]))); err != nil {
		return nil, err
	}
	return data[:size], nil
}

func (p *Pipeline) destroyPipeline() {
	if p.Pipeline == vk.NullPipeline {
		return
	}
	ctx := p.ctx
	_ = ctx.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(ctx.LogicalDevice, p.Pipeline, ctx.Allocator)
		return nil
	})
	p.Pipeline = vk.NullPipeline
}

func (p *Pipeline) Destroy() {
	ctx := p.ctx
	p.destroyPipeline()
	_ = ctx.locks.SafeCall(PipelineManagement, func() error {
		if p.Layout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(ctx.LogicalDevice, p.Layout, ctx.Allocator)
			p.Layout = vk.NullPipelineLayout
		}
		for _, l := range p.SetLayouts {
			vk.DestroyDescriptorSetLayout(ctx.LogicalDevice, l, ctx.Allocator)
		}
		p.SetLayouts = nil
		if p.Cache != vk.NullPipelineCache {
			vk.DestroyPipelineCache(ctx.LogicalDevice, p.Cache, ctx.Allocator)
			p.Cache = vk.NullPipelineCache
		}
		return nil
	})
}

func toVkTopology(t metadata.Topology) vk.PrimitiveTopology {
	switch t {
	case metadata.TopologyLines:
		return vk.PrimitiveTopologyLineList
	case metadata.TopologyPoints:
		return vk.PrimitiveTopologyPointList
	default:
		return vk.PrimitiveTopologyTriangleList
	}
}

func toVkPolygonMode(m metadata.PolygonMode) vk.PolygonMode {
	switch m {
	case metadata.PolygonModeLine:
		return vk.PolygonModeLine
	case metadata.PolygonModePoint:
		return vk.PolygonModePoint
	default:
		return vk.PolygonModeFill
	}
}

func toVkCullMode(m metadata.CullMode) vk.CullModeFlags {
	switch m {
	case metadata.CullModeNone:
		return vk.CullModeFlags(vk.CullModeNone)
	case metadata.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.CullModeFrontAndBack:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	default:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
}

func toVkCompareOp(c metadata.DepthCompare) vk.CompareOp {
	switch c {
	case metadata.DepthCompareLessOrEqual:
		return vk.CompareOpLessOrEqual
	case metadata.DepthCompareGreater:
		return vk.CompareOpGreater
	case metadata.DepthCompareAlways:
		return vk.CompareOpAlways
	default:
		return vk.CompareOpLess
	}
}
