package binder

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/v2/engine/renderer/headless"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirvtest"
)

func newBinder(t *testing.T, frames int) (*Binder, *headless.Device) {
	t.Helper()
	ctx := reflection.NewContext()
	_, err := ctx.Reflect(spirvtest.QuadVertex(), metadata.ShaderStageVertex)
	require.NoError(t, err)
	_, err = ctx.Reflect(spirvtest.QuadFragment(), metadata.ShaderStageFragment)
	require.NoError(t, err)

	device := headless.New(headless.Options{})
	b, err := New(Options{Device: device, Layouts: ctx.SetLayouts, Frames: frames})
	require.NoError(t, err)
	return b, device
}

func newImage(t *testing.T, device *headless.Device, name string) metadata.Image {
	t.Helper()
	img, err := device.CreateImage(metadata.ImageProperties{Name: name, Extent: metadata.Extent{Width: 1, Height: 1}, Format: metadata.ImageFormatRGBA8})
	require.NoError(t, err)
	return img
}

func TestSetsPerFrame(t *testing.T) {
	b, device := newBinder(t, 3)
	assert.Equal(t, 3, b.Frames())
	require.Len(t, b.Layouts(), 2)

	for i := 0; i < 3; i++ {
		sets := b.DescriptorSets(i)
		require.Len(t, sets, 2)
		assert.Equal(t, uint32(0), sets[0].Set())
		assert.Equal(t, uint32(1), sets[1].Set())

		ubo, ok := b.UniformBuffer(i, BindingUBO)
		require.True(t, ok)
		assert.Equal(t, uint64(spirvtest.GlobalsSize), ubo.Size())
		light, ok := b.UniformBuffer(i, BindingDirectionalLight)
		require.True(t, ok)
		assert.GreaterOrEqual(t, light.Size(), uint64(spirvtest.DirectionalLightSize))

		// the uniform buffers are bound at creation
		w, ok := sets[0].(*headless.DescriptorSet).Bound(BindingCamera, 0)
		require.True(t, ok)
		cam, _ := b.UniformBuffer(i, BindingCamera)
		assert.Same(t, cam, w.Buffer)
	}
	assert.Nil(t, b.DescriptorSets(3))
	assert.Equal(t, 6, device.LiveKinds()["descriptor set"])
}

func TestUpdateUBOUploadsSlot(t *testing.T) {
	b, _ := newBinder(t, 2)
	b.EditableUBO().View = mgl32.Translate3D(1, 2, 3)
	b.EditableCamera().Position = mgl32.Vec4{4, 5, 6, 1}

	require.NoError(t, b.UpdateUBO(1))

	buf, _ := b.UniformBuffer(1, BindingUBO)
	data := buf.(*headless.Buffer).Data()
	// column major: the translation sits in the last column
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(data[48:52])))

	cam, _ := b.UniformBuffer(1, BindingCamera)
	assert.Equal(t, float32(5), math.Float32frombits(binary.LittleEndian.Uint32(cam.(*headless.Buffer).Data()[4:8])))

	untouched, _ := b.UniformBuffer(0, BindingUBO)
	assert.Zero(t, untouched.(*headless.Buffer).Uploads())

	assert.ErrorIs(t, b.UpdateUBO(2), ErrNoSuchSlot)
}

func TestExposeAppliesToIdleSlotsAndQueuesForBusyOnes(t *testing.T) {
	b, device := newBinder(t, 3)
	diffuse := newImage(t, device, "diffuse")

	// slot 0 was submitted and not yet waited on
	b.EndFrame(0)
	require.NoError(t, b.ExposeToShaders(diffuse, metadata.SetImages, 0))

	_, ok := b.DescriptorSets(0)[1].(*headless.DescriptorSet).Bound(0, 0)
	assert.False(t, ok, "a busy slot is never written")
	assert.Equal(t, 1, b.Pending(0))
	for _, i := range []int{1, 2} {
		w, ok := b.DescriptorSets(i)[1].(*headless.DescriptorSet).Bound(0, 0)
		require.True(t, ok)
		assert.Same(t, diffuse, w.Image)
		assert.Zero(t, b.Pending(i))
	}

	require.NoError(t, b.BeginFrame(0))
	assert.Zero(t, b.Pending(0))
	w, ok := b.DescriptorSets(0)[1].(*headless.DescriptorSet).Bound(0, 0)
	require.True(t, ok)
	assert.Same(t, diffuse, w.Image)
}

func TestExposeValidatesBindings(t *testing.T) {
	b, device := newBinder(t, 2)
	img := newImage(t, device, "img")
	buf, err := device.CreateBuffer(metadata.BufferProperties{Name: "ssbo", Size: 16})
	require.NoError(t, err)

	assert.ErrorIs(t, b.ExposeToShaders(img, 3, 0), ErrUnknownBinding)
	assert.ErrorIs(t, b.ExposeToShaders(img, 1, 7), ErrUnknownBinding)
	assert.ErrorIs(t, b.ExposeArrayElement(img, 1, 0, 1), ErrUnknownBinding)
	assert.ErrorIs(t, b.ExposeToShaders(buf, 1, 0), ErrKindMismatch)
	assert.ErrorIs(t, b.ExposeToShaders(img, 0, 0), ErrKindMismatch)
	assert.ErrorIs(t, b.ExposeToShaders("texture", 1, 0), ErrKindMismatch)
}

func TestResetRewritesExposedResources(t *testing.T) {
	b, device := newBinder(t, 2)
	diffuse := newImage(t, device, "diffuse")
	require.NoError(t, b.ExposeToShaders(diffuse, 1, 0))
	b.EndFrame(1)
	b.EndFrame(0)

	before := b.DescriptorSets(0)[0]
	require.NoError(t, b.Reset())
	assert.NotSame(t, before, b.DescriptorSets(0)[0])

	for i := 0; i < 2; i++ {
		assert.Zero(t, b.Pending(i))
		w, ok := b.DescriptorSets(i)[1].(*headless.DescriptorSet).Bound(0, 0)
		require.True(t, ok)
		assert.Same(t, diffuse, w.Image)
	}
	// only the new sets and buffers are alive
	assert.Equal(t, 4, device.LiveKinds()["descriptor set"])
	assert.Equal(t, 6, device.LiveKinds()["buffer"])

	b.Destroy()
	assert.Zero(t, device.LiveKinds()["descriptor set"])
	assert.Zero(t, device.LiveKinds()["buffer"])
}

func TestPushConstantDefaults(t *testing.T) {
	b, _ := newBinder(t, 1)
	pc := b.EditablePushConstant()
	assert.Equal(t, mgl32.Ident4(), pc.Object)
	assert.Equal(t, [4]int32{-1, -1, -1, -1}, pc.ImageIndices)
	pc.Colour = mgl32.Vec4{1, 0, 0, 1}
	assert.Equal(t, mgl32.Vec4{1, 0, 0, 1}, b.EditablePushConstant().Colour)
}

func TestBinderWithoutShaders(t *testing.T) {
	b, err := New(Options{Device: headless.New(headless.Options{}), Frames: 2})
	require.NoError(t, err)
	assert.Empty(t, b.DescriptorSets(0))
	assert.NoError(t, b.UpdateUBO(0))

	_, err = New(Options{Device: headless.New(headless.Options{})})
	assert.Error(t, err)
}
