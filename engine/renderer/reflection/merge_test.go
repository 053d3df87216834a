package reflection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirv"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirvtest"
)

func TestMergeUnionsStages(t *testing.T) {
	ctx := NewContext()
	vs, err := ctx.Reflect(spirvtest.QuadVertex(), metadata.ShaderStageVertex)
	require.NoError(t, err)
	fs, err := ctx.Reflect(spirvtest.QuadFragment(), metadata.ShaderStageFragment)
	require.NoError(t, err)

	merged, err := Merge(vs, fs)
	require.NoError(t, err)

	assert.Equal(t, metadata.ShaderStageAllGraphics, merged.Stages)
	globals, ok := merged.Binding(0, 0)
	require.True(t, ok)
	assert.Equal(t, metadata.ShaderStageAllGraphics, globals.Stages)

	camera, ok := merged.Binding(0, 1)
	require.True(t, ok)
	assert.Equal(t, metadata.ShaderStageFragment, camera.Stages)
	assert.Equal(t, uint32(spirvtest.CameraSize), camera.Size)

	require.Len(t, merged.PushConstants, 1)
	assert.Equal(t, metadata.ShaderStageAllGraphics, merged.PushConstants[0].Stages)

	// vertex inputs come from the vertex stage only
	assert.Len(t, merged.Inputs, 5)

	layouts := merged.SetLayouts()
	require.Len(t, layouts, 2)
	assert.Len(t, layouts[0].Bindings, 3)
	assert.Len(t, layouts[1].Bindings, 1)

	// the inputs are left untouched
	vsGlobals, _ := vs.Binding(0, 0)
	assert.Equal(t, metadata.ShaderStageVertex, vsGlobals.Stages)
}

func TestMergeTakesLargestSize(t *testing.T) {
	small := newData(metadata.ShaderStageVertex)
	small.Bindings[metadata.DescriptorBinding{Set: 0, Binding: 0}] = &Binding{Kind: metadata.DescriptorUniformBuffer, Size: 64, Count: 1, Stages: metadata.ShaderStageVertex}
	large := newData(metadata.ShaderStageFragment)
	large.Bindings[metadata.DescriptorBinding{Set: 0, Binding: 0}] = &Binding{Kind: metadata.DescriptorUniformBuffer, Size: 192, Count: 1, Stages: metadata.ShaderStageFragment}

	merged, err := Merge(small, large)
	require.NoError(t, err)
	b, _ := merged.Binding(0, 0)
	assert.Equal(t, uint32(192), b.Size)
}

func TestMergeKeepsUnboundedArrays(t *testing.T) {
	a := newData(metadata.ShaderStageVertex)
	a.Bindings[metadata.DescriptorBinding{Set: 2, Binding: 0}] = &Binding{Set: 2, Kind: metadata.DescriptorSeparateImage, Count: 8}
	b := newData(metadata.ShaderStageFragment)
	b.Bindings[metadata.DescriptorBinding{Set: 2, Binding: 0}] = &Binding{Set: 2, Kind: metadata.DescriptorSeparateImage, Count: 0}

	merged, err := Merge(a, b)
	require.NoError(t, err)
	got, _ := merged.Binding(2, 0)
	assert.Equal(t, uint32(0), got.Count)
}

func TestMergeConflict(t *testing.T) {
	vs := newData(metadata.ShaderStageVertex)
	vs.Bindings[metadata.DescriptorBinding{Set: 1, Binding: 0}] = &Binding{Set: 1, Kind: metadata.DescriptorStorageBuffer, Name: "objects"}
	fs := newData(metadata.ShaderStageFragment)
	fs.Bindings[metadata.DescriptorBinding{Set: 1, Binding: 0}] = &Binding{Set: 1, Kind: metadata.DescriptorSampledImage, Name: "albedo"}

	_, err := Merge(vs, fs)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrReflectionConflict)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, metadata.DescriptorStorageBuffer, conflict.First)
	assert.Equal(t, metadata.DescriptorSampledImage, conflict.Second)
	assert.Contains(t, err.Error(), "storage buffer")
	assert.Contains(t, err.Error(), "sampled image")
}

func TestMergeNothing(t *testing.T) {
	_, err := Merge()
	assert.ErrorIs(t, err, ErrNoStages)
}

func TestContextUnifiesSizes(t *testing.T) {
	ctx := NewContext()

	small := spirvtest.New().EntryPoint(spirv.ExecutionModelVertex, "main")
	small.UniformBlock("globals", 0, 0, spirvtest.Member{Name: "view", Type: small.Matrix(small.Vector(small.Float(32), 4), 4), Offset: 0, MatrixStride: 16})
	first, err := ctx.Reflect(small.Words(), metadata.ShaderStageVertex)
	require.NoError(t, err)
	b, _ := first.Binding(0, 0)
	assert.Equal(t, uint32(64), b.Size)

	_, err = ctx.Reflect(spirvtest.QuadVertex(), metadata.ShaderStageVertex)
	require.NoError(t, err)

	unified, ok := ctx.Binding(0, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(spirvtest.GlobalsSize), unified.Size)

	// a later, smaller shader sees the unified size
	again, err := ctx.Reflect(small.Words(), metadata.ShaderStageVertex)
	require.NoError(t, err)
	b, _ = again.Binding(0, 0)
	assert.Equal(t, uint32(spirvtest.GlobalsSize), b.Size)
	assert.Equal(t, 3, ctx.Shaders())
}

func TestContextConflictAcrossShaders(t *testing.T) {
	ctx := NewContext()
	_, err := ctx.Reflect(spirvtest.QuadFragment(), metadata.ShaderStageFragment)
	require.NoError(t, err)

	b := spirvtest.New().EntryPoint(spirv.ExecutionModelFragment, "main")
	b.StorageBlock("objects", 1, 0, spirvtest.Member{Name: "value", Type: b.Vector(b.Float(32), 4), Offset: 0})
	_, err = ctx.Reflect(b.Words(), metadata.ShaderStageFragment)
	assert.ErrorIs(t, err, core.ErrReflectionConflict)

	// the failed shader left nothing behind
	diffuse, ok := ctx.Binding(1, 0)
	require.True(t, ok)
	assert.Equal(t, metadata.DescriptorSampledImage, diffuse.Kind)
	assert.Equal(t, 1, ctx.Shaders())
}

func TestContextsAreIsolated(t *testing.T) {
	a := NewContext()
	b := NewContext()
	_, err := a.Reflect(spirvtest.QuadFragment(), metadata.ShaderStageFragment)
	require.NoError(t, err)

	assert.Len(t, a.SetLayouts(), 2)
	assert.Empty(t, b.SetLayouts())

	a.Reset()
	assert.Empty(t, a.SetLayouts())
}
