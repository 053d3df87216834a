package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

func TestFormatsRoundTrip(t *testing.T) {
	for _, f := range []metadata.ImageFormat{
		metadata.ImageFormatRGBA8,
		metadata.ImageFormatSRGBA8,
		metadata.ImageFormatBGRA8,
		metadata.ImageFormatSBGRA8,
		metadata.ImageFormatR32UInt,
		metadata.ImageFormatRGBA32Float,
		metadata.ImageFormatDepth32,
		metadata.ImageFormatDepth24Stencil8,
	} {
		assert.Equal(t, f, fromVkFormat(toVkFormat(f)), f.String())
	}
	assert.Equal(t, vk.FormatUndefined, toVkFormat(metadata.ImageFormatUndefined))
}

func TestDescriptorKinds(t *testing.T) {
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, toVkDescriptorType(metadata.DescriptorSampledImage))
	assert.Equal(t, vk.DescriptorTypeSampledImage, toVkDescriptorType(metadata.DescriptorSeparateImage))
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, toVkDescriptorType(metadata.DescriptorUniformBuffer))
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit), toVkStages(metadata.ShaderStageAllGraphics))
}

func TestPipelineStateConversions(t *testing.T) {
	assert.Equal(t, vk.PrimitiveTopologyLineList, toVkTopology(metadata.TopologyLines))
	assert.Equal(t, vk.PrimitiveTopologyTriangleList, toVkTopology(metadata.TopologyTriangles))
	assert.Equal(t, vk.CullModeFlags(vk.CullModeNone), toVkCullMode(metadata.CullModeNone))
	assert.Equal(t, vk.CullModeFlags(vk.CullModeBackBit), toVkCullMode(metadata.CullModeBack))
	assert.Equal(t, vk.CompareOpLessOrEqual, toVkCompareOp(metadata.DepthCompareLessOrEqual))
	assert.Equal(t, vk.PolygonModeLine, toVkPolygonMode(metadata.PolygonModeLine))
}

func TestUsageFlags(t *testing.T) {
	assert.NotZero(t, bufferUsageFlags(metadata.BufferUsageIndex)&vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))
	assert.Equal(t, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), bufferUsageFlags(metadata.BufferUsageStaging))

	props := &metadata.ImageProperties{Usage: metadata.ImageUsageSampled | metadata.ImageUsageColourAttachment}
	flags := imageUsageFlags(props)
	assert.NotZero(t, flags&vk.ImageUsageFlags(vk.ImageUsageSampledBit))
	assert.NotZero(t, flags&vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit))
	assert.Zero(t, flags&vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, uint32(5), clamp(1, 5, 10))
	assert.Equal(t, uint32(10), clamp(20, 5, 10))
	assert.Equal(t, uint32(7), clamp(7, 5, 10))
}

func TestCreateInfoSizesAreInBytes(t *testing.T) {
	code := []uint32{0x07230203, 0x00010000, 0, 1}
	info := vk.ShaderModuleCreateInfo{CodeSize: codeSize(code), PCode: code}
	assert.Equal(t, uint64(16), info.CodeSize)

	blob := make([]byte, 48)
	cacheInfo := vk.PipelineCacheCreateInfo{InitialDataSize: uint64(len(blob))}
	assert.Equal(t, uint64(48), cacheInfo.InitialDataSize)
}
