package metadata

import (
	"testing"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVertexLayoutsMatchStructs(t *testing.T) {
	assert.Equal(t, uint32(unsafe.Sizeof(QuadVertex{})), QuadVertexLayout.Stride)
	assert.Equal(t, uint32(unsafe.Sizeof(LineVertex{})), LineVertexLayout.Stride)
	assert.Equal(t, uint32(unsafe.Sizeof(LineIdVertex{})), LineIdVertexLayout.Stride)

	id, ok := QuadVertexLayout.Attribute(4)
	require.True(t, ok)
	assert.Equal(t, uint32(unsafe.Offsetof(QuadVertex{}.Identifier)), id.Offset)
	assert.Equal(t, VertexFormatUInt, id.Format)
}

func TestPushConstantFitsGuaranteedLimit(t *testing.T) {
	pc := NewPushConstant()
	data, err := PODBytes(pc)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), MaxPushConstantSize)
	assert.Equal(t, int(PODSize(pc)), len(data))
}

func TestPODBytesLayout(t *testing.T) {
	ubo := UBO{View: mgl32.Ident4()}
	data, err := PODBytes(&ubo)
	require.NoError(t, err)
	assert.Len(t, data, 3*64)
	// first float of the identity matrix is 1.0 little endian
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, data[:4])

	light := DirectionalLightUBO{}
	assert.Equal(t, uint32(4*16+16), PODSize(&light))
}

func TestShaderStageHelpers(t *testing.T) {
	stage, ok := ShaderStageFromExtension(".frag")
	require.True(t, ok)
	assert.Equal(t, ShaderStageFragment, stage)
	assert.Equal(t, "vert", ShaderStageVertex.Extension())
	assert.Equal(t, "vertex|fragment", ShaderStageAllGraphics.String())

	_, ok = ShaderStageFromExtension("glsl")
	assert.False(t, ok)
}

func TestSetLayoutLookup(t *testing.T) {
	layout := SetLayout{Set: 1, Bindings: []LayoutBinding{
		{Binding: 2, Kind: DescriptorSampledImage, Count: 1},
		{Binding: 0, Kind: DescriptorSampledImage, Count: 0},
	}}
	layout.SortBindings()
	assert.Equal(t, uint32(0), layout.Bindings[0].Binding)
	b, ok := layout.Binding(0)
	require.True(t, ok)
	assert.Equal(t, uint32(MaxUnboundedDescriptors), b.DescriptorCount())
	_, ok = layout.Binding(7)
	assert.False(t, ok)
}
