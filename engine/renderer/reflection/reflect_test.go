package reflection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirv"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirvtest"
)

func TestReflectQuadVertex(t *testing.T) {
	data, err := NewContext().Reflect(spirvtest.QuadVertex(), metadata.ShaderStageVertex)
	require.NoError(t, err)

	assert.Equal(t, metadata.ShaderStageVertex, data.Stages)
	require.Len(t, data.EntryPoints, 1)
	assert.Equal(t, "main", data.EntryPoints[0].Name)

	globals, ok := data.Binding(0, 0)
	require.True(t, ok)
	assert.Equal(t, metadata.DescriptorUniformBuffer, globals.Kind)
	assert.Equal(t, uint32(spirvtest.GlobalsSize), globals.Size)
	assert.Equal(t, uint32(1), globals.Count)
	assert.Equal(t, "globals", globals.Name)

	require.Len(t, data.PushConstants, 1)
	assert.Equal(t, metadata.PushConstantRange{Offset: 0, Size: spirvtest.PushConstantSize, Stages: metadata.ShaderStageVertex}, data.PushConstants[0])
	assert.Equal(t, uint32(spirvtest.PushConstantSize), metadata.PODSize(metadata.PushConstant{}))

	require.Len(t, data.Inputs, 5)
	formats := []metadata.VertexFormat{}
	for i, in := range data.Inputs {
		assert.Equal(t, uint32(i), in.Location)
		formats = append(formats, in.Format)
	}
	assert.Equal(t, []metadata.VertexFormat{
		metadata.VertexFormatFloat3,
		metadata.VertexFormatFloat2,
		metadata.VertexFormatFloat3,
		metadata.VertexFormatFloat4,
		metadata.VertexFormatUInt,
	}, formats)
}

func TestReflectUniformMembers(t *testing.T) {
	data, err := reflect(spirvtest.QuadFragment(), metadata.ShaderStageFragment)
	require.NoError(t, err)

	u, ok := data.Uniform("globals.view_projection")
	require.True(t, ok)
	assert.Equal(t, uint32(128), u.Offset)
	assert.Equal(t, uint32(64), u.Size)
	assert.Equal(t, metadata.UniformTypeMat4, u.Type)

	// "direction" exists in both camera and light
	_, ok = data.Uniform("direction")
	assert.False(t, ok)

	near, ok := data.Uniform("near")
	require.True(t, ok)
	assert.Equal(t, "light", near.Block)
	assert.Equal(t, uint32(64), near.Offset)
	assert.Equal(t, uint32(0), near.Set)
	assert.Equal(t, uint32(2), near.Binding)

	indices, ok := data.Uniform("object.image_indices")
	require.True(t, ok)
	assert.True(t, indices.PushConstant)
	assert.Equal(t, uint32(16), indices.Size)
	assert.Equal(t, metadata.UniformTypeArray, indices.Type)
}

func TestReflectClassifiesResourceKinds(t *testing.T) {
	b := spirvtest.New().EntryPoint(spirv.ExecutionModelFragment, "main")
	f32 := b.Float(32)
	vec4 := b.Vector(f32, 4)
	b.Resource("albedo", spirv.StorageClassUniformConstant, b.SampledImage(b.Image(spirv.ImageSampled)), 1, 0)
	b.Resource("target", spirv.StorageClassUniformConstant, b.Image(spirv.ImageStorage), 1, 1)
	b.Resource("textures", spirv.StorageClassUniformConstant, b.Array(b.Image(spirv.ImageSampled), 16, 0), 2, 0)
	b.Resource("samplers", spirv.StorageClassUniformConstant, b.Array(b.Sampler(), 4, 0), 2, 1)
	b.Resource("bindless", spirv.StorageClassUniformConstant, b.RuntimeArray(b.SampledImage(b.Image(spirv.ImageSampled)), 0), 2, 2)
	b.StorageBlock("objects", 3, 0, spirvtest.Member{Name: "transforms", Type: b.RuntimeArray(b.Matrix(vec4, 4), 64), Offset: 0})

	legacy := b.Struct("LegacyBlock", spirvtest.Member{Name: "value", Type: vec4, Offset: 0})
	b.Decorate(legacy, spirv.DecorationBufferBlock)
	b.Resource("legacy", spirv.StorageClassUniform, legacy, 3, 1)

	data, err := reflect(b.Words(), metadata.ShaderStageFragment)
	require.NoError(t, err)

	cases := []struct {
		set, binding uint32
		kind         metadata.DescriptorKind
		count        uint32
	}{
		{1, 0, metadata.DescriptorSampledImage, 1},
		{1, 1, metadata.DescriptorStorageImage, 1},
		{2, 0, metadata.DescriptorSeparateImage, 16},
		{2, 1, metadata.DescriptorSampler, 4},
		{2, 2, metadata.DescriptorSampledImage, 0},
		{3, 0, metadata.DescriptorStorageBuffer, 1},
		{3, 1, metadata.DescriptorStorageBuffer, 1},
	}
	for _, c := range cases {
		got, ok := data.Binding(c.set, c.binding)
		require.True(t, ok, "set %d binding %d", c.set, c.binding)
		assert.Equal(t, c.kind, got.Kind, "set %d binding %d", c.set, c.binding)
		assert.Equal(t, c.count, got.Count, "set %d binding %d", c.set, c.binding)
		assert.Equal(t, metadata.ShaderStageFragment, got.Stages)
	}

	legacyBinding, _ := data.Binding(3, 1)
	assert.Equal(t, uint32(16), legacyBinding.Size)

	layouts := data.SetLayouts()
	require.Len(t, layouts, 4)
	assert.Empty(t, layouts[0].Bindings)
	assert.Len(t, layouts[2].Bindings, 3)
	assert.Equal(t, uint32(metadata.MaxUnboundedDescriptors), layouts[2].Bindings[2].DescriptorCount())
}

func TestReflectSizesFromStrides(t *testing.T) {
	b := spirvtest.New().EntryPoint(spirv.ExecutionModelVertex, "main")
	f32 := b.Float(32)
	vec3 := b.Vector(f32, 3)
	mat3 := b.Matrix(vec3, 3)
	b.UniformBlock("lights", 0, 3,
		spirvtest.Member{Name: "normal", Type: mat3, Offset: 0, MatrixStride: 16},
		spirvtest.Member{Name: "positions", Type: b.Array(vec3, 8, 16), Offset: 48},
		spirvtest.Member{Name: "count", Type: b.Int(32, false), Offset: 176},
	)

	data, err := reflect(b.Words(), metadata.ShaderStageVertex)
	require.NoError(t, err)

	lights, ok := data.Binding(0, 3)
	require.True(t, ok)
	assert.Equal(t, uint32(180), lights.Size)

	normal, _ := data.Uniform("lights.normal")
	assert.Equal(t, uint32(48), normal.Size)
	assert.Equal(t, metadata.UniformTypeMat3, normal.Type)
	positions, _ := data.Uniform("lights.positions")
	assert.Equal(t, uint32(128), positions.Size)
}

func TestReflectSkipsBuiltIns(t *testing.T) {
	data, err := reflect(spirvtest.QuadVertex(), metadata.ShaderStageVertex)
	require.NoError(t, err)
	for _, in := range data.Inputs {
		assert.NotEqual(t, "gl_VertexIndex", in.Name)
	}
}

func TestReflectRejectsGarbage(t *testing.T) {
	_, err := reflect([]uint32{1, 2, 3}, metadata.ShaderStageVertex)
	assert.ErrorIs(t, err, ErrNotSPIRV)

	_, err = reflect([]uint32{0xdeadbeef, 0, 0, 0, 0}, metadata.ShaderStageVertex)
	assert.ErrorIs(t, err, ErrNotSPIRV)

	words := spirvtest.QuadVertex()
	truncated := append([]uint32(nil), words[:spirv.HeaderWords]...)
	truncated = append(truncated, spirv.Instruction(spirv.OpName, 10), 1)
	_, err = reflect(truncated, metadata.ShaderStageVertex)
	assert.ErrorIs(t, err, ErrMalformedCode)

	_, err = BytesToWords([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedCode)
}

func TestBytesToWords(t *testing.T) {
	words, err := BytesToWords([]byte{0x03, 0x02, 0x23, 0x07, 0x01, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []uint32{spirv.MagicNumber, 1}, words)
}

func TestReflectConflictWithinOneModule(t *testing.T) {
	b := spirvtest.New().EntryPoint(spirv.ExecutionModelFragment, "main")
	b.Resource("a", spirv.StorageClassUniformConstant, b.SampledImage(b.Image(spirv.ImageSampled)), 1, 0)
	b.Resource("b", spirv.StorageClassUniformConstant, b.Sampler(), 1, 0)

	_, err := reflect(b.Words(), metadata.ShaderStageFragment)
	assert.ErrorIs(t, err, core.ErrReflectionConflict)
}
