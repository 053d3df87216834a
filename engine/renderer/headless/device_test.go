package headless

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

func newSwapchain(t *testing.T, d *Device) metadata.Swapchain {
	t.Helper()
	sc, err := d.CreateSwapchain(metadata.SwapchainProperties{FramesInFlight: 2})
	require.NoError(t, err)
	return sc
}

func TestSubmitFollowsSyncRules(t *testing.T) {
	d := New(Options{})
	sc := newSwapchain(t, d)
	pool, err := d.CreateCommandPool()
	require.NoError(t, err)
	cb, err := pool.Allocate()
	require.NoError(t, err)
	fence, _ := d.CreateFence(true)
	acquired, _ := d.CreateSemaphore()
	rendered, _ := d.CreateSemaphore()

	// submitting with a signalled fence is a bug
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.End())
	err = d.Submit(metadata.SubmitInfo{CommandBuffer: cb, Fence: fence})
	assert.ErrorIs(t, err, ErrInvalidUsage)

	require.NoError(t, fence.Wait(0))
	require.NoError(t, fence.Reset())

	// waiting on a semaphore nothing signalled
	err = d.Submit(metadata.SubmitInfo{CommandBuffer: cb, Wait: acquired, Signal: rendered, Fence: fence})
	assert.ErrorIs(t, err, ErrInvalidUsage)

	idx, status, err := sc.AcquireNextImage(0, acquired)
	require.NoError(t, err)
	assert.Equal(t, metadata.SwapchainOptimal, status)
	assert.Equal(t, uint32(0), idx)

	require.NoError(t, d.Submit(metadata.SubmitInfo{CommandBuffer: cb, Wait: acquired, Signal: rendered, Fence: fence}))
	// the fence is pending until someone waits on it
	assert.ErrorIs(t, fence.Reset(), ErrInvalidUsage)
	require.NoError(t, fence.Wait(^uint64(0)))

	status, err = sc.Present(rendered, idx)
	require.NoError(t, err)
	assert.Equal(t, metadata.SwapchainOptimal, status)

	// presenting twice without rendering again
	_, err = sc.Present(rendered, idx)
	assert.ErrorIs(t, err, ErrInvalidUsage)

	st := d.Stats()
	assert.Equal(t, 1, st.Submits)
	assert.Equal(t, 1, st.Acquires)
	assert.Equal(t, 1, st.Presents)
}

func TestFenceWaitWithoutSubmission(t *testing.T) {
	d := New(Options{})
	fence, _ := d.CreateFence(false)
	assert.ErrorIs(t, fence.Wait(^uint64(0)), ErrWouldDeadlock)
}

func TestSwapchainGoesOutOfDateOnResize(t *testing.T) {
	d := New(Options{Extent: metadata.Extent{Width: 800, Height: 600}, ImageCount: 2})
	sc := newSwapchain(t, d)
	assert.Equal(t, 2, sc.ImageCount())
	sem, _ := d.CreateSemaphore()

	d.SetExtent(metadata.Extent{Width: 1024, Height: 768})
	_, status, err := sc.AcquireNextImage(0, sem)
	require.NoError(t, err)
	assert.Equal(t, metadata.SwapchainOutOfDate, status)

	next, err := d.CreateSwapchain(metadata.SwapchainProperties{Old: sc})
	require.NoError(t, err)
	sc.Destroy()
	assert.Equal(t, metadata.Extent{Width: 1024, Height: 768}, next.Extent())

	_, err = d.CreateSwapchain(metadata.SwapchainProperties{Old: sc})
	assert.ErrorIs(t, err, ErrInvalidUsage)

	d.SetExtent(metadata.Extent{})
	_, err = d.CreateSwapchain(metadata.SwapchainProperties{Old: next})
	assert.ErrorIs(t, err, core.ErrSwapchainBooting)
}

func TestScriptedAndFailedAcquire(t *testing.T) {
	d := New(Options{ImageCount: 2})
	sc := newSwapchain(t, d)
	sem, _ := d.CreateSemaphore()

	d.ScriptAcquire(metadata.SwapchainOutOfDate)
	_, status, err := sc.AcquireNextImage(0, sem)
	require.NoError(t, err)
	assert.Equal(t, metadata.SwapchainOutOfDate, status)

	d.FailNextAcquire(-4, "VK_ERROR_DEVICE_LOST")
	_, _, err = sc.AcquireNextImage(0, sem)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSwapchainFatal)
	var gpuErr *core.GPUError
	require.True(t, errors.As(err, &gpuErr))
	assert.Equal(t, int32(-4), gpuErr.Code)
	assert.Equal(t, "acquire_next_image", gpuErr.Op)

	// images rotate
	first, _, err := sc.AcquireNextImage(0, sem)
	require.NoError(t, err)
	other, _ := d.CreateSemaphore()
	second, _, err := sc.AcquireNextImage(0, other)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCommandRecording(t *testing.T) {
	d := New(Options{})
	sc := newSwapchain(t, d)
	pass, _ := d.CreateRenderPass(metadata.RenderPassProperties{})
	fb, err := d.CreateFramebuffer(pass, sc, 0)
	require.NoError(t, err)
	_, err = d.CreateFramebuffer(pass, sc, sc.ImageCount())
	assert.ErrorIs(t, err, ErrInvalidUsage)

	pool, _ := d.CreateCommandPool()
	cb, _ := pool.Allocate()
	require.NoError(t, cb.Begin())
	assert.ErrorIs(t, cb.Begin(), ErrInvalidUsage)
	cb.BeginRenderPass(pass, fb)
	assert.ErrorIs(t, cb.End(), ErrInvalidUsage)
	cb.SetViewport(fb.Extent())
	cb.DrawIndexed(6, 1, 0, 0)
	cb.DrawIndexed(12, 1, 0, 0)
	cb.EndRenderPass()
	require.NoError(t, cb.End())

	// recorded after End, dropped
	cb.DrawIndexed(3, 1, 0, 0)

	hc := cb.(*CommandBuffer)
	draws := Draws(hc.Recorded())
	require.Len(t, draws, 2)
	assert.Equal(t, uint32(12), draws[1].IndexCount)
	assert.Equal(t, 2, d.Stats().DrawCalls)

	require.NoError(t, cb.Reset())
	assert.Empty(t, hc.Recorded())

	pool.Destroy()
	assert.ErrorIs(t, cb.Reset(), ErrDestroyed)
}

func TestDescriptorWritesAreValidated(t *testing.T) {
	d := New(Options{})
	sets, err := d.CreateDescriptorSets([]metadata.SetLayout{{
		Set: 1,
		Bindings: []metadata.LayoutBinding{
			{Binding: 0, Kind: metadata.DescriptorSampledImage, Count: 2},
		},
	}})
	require.NoError(t, err)
	require.Len(t, sets, 1)
	img, err := d.CreateImage(metadata.ImageProperties{Name: "white", Extent: metadata.Extent{Width: 1, Height: 1}, Format: metadata.ImageFormatRGBA8})
	require.NoError(t, err)

	set := sets[0]
	require.NoError(t, set.Write(metadata.DescriptorWrite{Binding: 0, ArrayElement: 1, Kind: metadata.DescriptorSampledImage, Image: img}))
	assert.ErrorIs(t, set.Write(metadata.DescriptorWrite{Binding: 0, ArrayElement: 2, Kind: metadata.DescriptorSampledImage, Image: img}), ErrInvalidUsage)
	assert.ErrorIs(t, set.Write(metadata.DescriptorWrite{Binding: 1, Kind: metadata.DescriptorSampledImage, Image: img}), ErrInvalidUsage)
	assert.ErrorIs(t, set.Write(metadata.DescriptorWrite{Binding: 0, Kind: metadata.DescriptorUniformBuffer}), ErrInvalidUsage)

	w, ok := set.(*DescriptorSet).Bound(0, 1)
	require.True(t, ok)
	assert.Same(t, img, w.Image)
	assert.Equal(t, 1, d.Stats().DescriptorWrites)
}

func TestPipelineBlobs(t *testing.T) {
	d := New(Options{})
	shader, err := d.CreateShader(metadata.ShaderProperties{Key: "quad.vert", Stage: metadata.ShaderStageVertex, Code: []uint32{0x07230203}})
	require.NoError(t, err)
	props := &metadata.PipelineProperties{Key: "quad", DynamicViewport: true}
	pass, err := d.CreateRenderPass(metadata.RenderPassProperties{})
	require.NoError(t, err)

	p, err := d.CreatePipeline(metadata.PipelineCreateInfo{Properties: props, Shaders: []metadata.Shader{shader}})
	require.NoError(t, err)
	assert.False(t, p.ExtentDependent())
	blob, err := p.CacheData()
	require.NoError(t, err)
	assert.Equal(t, blobMagic, string(blob[:4]))

	_, err = d.CreatePipeline(metadata.PipelineCreateInfo{Properties: props, Shaders: []metadata.Shader{shader}, CacheBlob: []byte("garbage")})
	assert.ErrorIs(t, err, ErrCorruptBlob)

	warm, err := d.CreatePipeline(metadata.PipelineCreateInfo{Properties: props, Shaders: []metadata.Shader{shader}, RenderPass: pass, CacheBlob: blob})
	require.NoError(t, err)
	assert.True(t, warm.(*Pipeline).UsedBlob())
	assert.Equal(t, 1, d.Stats().PipelineBlobHits)

	before := warm.Handle()
	require.NoError(t, warm.Recreate(metadata.Extent{Width: 10, Height: 10}))
	assert.NotEqual(t, before, warm.Handle())
}

func TestPipelineRecreateNeedsALivePass(t *testing.T) {
	d := New(Options{})
	shader, err := d.CreateShader(metadata.ShaderProperties{Key: "quad.vert", Stage: metadata.ShaderStageVertex, Code: []uint32{0x07230203}})
	require.NoError(t, err)
	old, err := d.CreateRenderPass(metadata.RenderPassProperties{})
	require.NoError(t, err)
	p, err := d.CreatePipeline(metadata.PipelineCreateInfo{
		Properties: &metadata.PipelineProperties{Key: "quad"},
		Shaders:    []metadata.Shader{shader},
		RenderPass: old,
	})
	require.NoError(t, err)

	old.Destroy()
	next, err := d.CreateRenderPass(metadata.RenderPassProperties{})
	require.NoError(t, err)
	// a new pass existing on the device is not enough
	assert.ErrorIs(t, p.Recreate(metadata.Extent{Width: 10, Height: 10}), core.ErrResourceMissing)

	p.Retarget(next)
	require.NoError(t, p.Recreate(metadata.Extent{Width: 10, Height: 10}))
	assert.Same(t, next, p.(*Pipeline).RenderPass())
}

func TestLiveObjectsAreTracked(t *testing.T) {
	d := New(Options{})
	buf, err := d.CreateBuffer(metadata.BufferProperties{Name: "vb", Size: 16})
	require.NoError(t, err)
	assert.ErrorIs(t, buf.SetData(make([]byte, 8), 12), ErrInvalidUsage)
	require.NoError(t, buf.SetData([]byte{1, 2, 3, 4}, 4))
	assert.Equal(t, []byte{1, 2, 3, 4}, buf.(*Buffer).Data()[4:8])

	_, err = d.CreateBuffer(metadata.BufferProperties{Name: "empty"})
	assert.ErrorIs(t, err, ErrInvalidUsage)

	assert.Equal(t, 1, d.LiveKinds()["buffer"])
	buf.Destroy()
	buf.Destroy()
	assert.Equal(t, 0, d.Live())
}
