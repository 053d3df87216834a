package renderer

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/binder"
	"github.com/spaghettifunk/anima/v2/engine/renderer/headless"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirvtest"
)

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, spirvtest.WriteQuadShaders(dir))
	require.NoError(t, spirvtest.WriteLineShaders(dir))

	cfg := core.DefaultConfig()
	cfg.Renderer.Backend = core.BackendHeadless
	cfg.Renderer.FramesInFlight = 2
	cfg.Renderer.BatchCapacity = 3
	cfg.Cache.ShaderDir = dir
	cfg.Cache.TextureDir = ""
	cfg.Cache.PipelineCacheDir = ""
	return cfg
}

func newRenderer(t *testing.T) (*Renderer, *headless.Device) {
	t.Helper()
	extent := metadata.Extent{Width: 800, Height: 600}
	device := headless.New(headless.Options{Extent: extent})
	r, err := New(Options{Device: device, Config: testConfig(t), Extent: extent})
	require.NoError(t, err)
	t.Cleanup(r.Destroy)
	return r, device
}

func rect(x float32) *metadata.GeometryProperties {
	return &metadata.GeometryProperties{
		Position:   mgl32.Vec3{x, 0, 0},
		Dimensions: mgl32.Vec3{1, 1, 1},
		Colour:     mgl32.Vec4{1, 0, 0, 1},
	}
}

// recorded returns the commands of the frame being recorded.
func recorded(r *Renderer) []headless.Command {
	return r.Synchronizer().CommandBuffer().(*headless.CommandBuffer).Recorded()
}

func TestRendererSetup(t *testing.T) {
	r, device := newRenderer(t)

	assert.Equal(t, 5, len(r.Pipelines().ShaderKeys()))
	assert.Equal(t, 3, r.Pipelines().Len())
	assert.Len(t, r.Batches().Batches(), 3)
	assert.Len(t, r.Binder().DescriptorSets(0), 2)
	assert.Equal(t, 3, device.Stats().Pipelines)
}

func TestCallSequenceIsEnforced(t *testing.T) {
	r, _ := newRenderer(t)

	assert.ErrorIs(t, r.BeginPass(), core.ErrInvalidCallSequence)
	assert.ErrorIs(t, r.EndPass(), core.ErrInvalidCallSequence)
	assert.ErrorIs(t, r.EndFrame(), core.ErrInvalidCallSequence)
	assert.ErrorIs(t, r.SubmitBatchedGeometry(), core.ErrInvalidCallSequence)
	assert.ErrorIs(t, r.DrawPlanarGeometry(metadata.GeometryRectangle, rect(0)), core.ErrInvalidCallSequence)

	ok, err := r.BeginFrame()
	require.NoError(t, err)
	require.True(t, ok)
	_, err = r.BeginFrame()
	assert.ErrorIs(t, err, core.ErrInvalidCallSequence)
	assert.ErrorIs(t, r.DrawPlanarGeometry(metadata.GeometryRectangle, rect(0)), core.ErrInvalidCallSequence)
	assert.ErrorIs(t, r.ReloadShaders(nil), core.ErrInvalidCallSequence)

	require.NoError(t, r.BeginPass())
	assert.ErrorIs(t, r.BeginPass(), core.ErrInvalidCallSequence)
	assert.ErrorIs(t, r.EndFrame(), core.ErrInvalidCallSequence)
	require.NoError(t, r.EndPass())
	require.NoError(t, r.SubmitBatchedGeometry())
	require.NoError(t, r.EndFrame())
}

func TestFullBatchIsFlushedDuringThePass(t *testing.T) {
	r, device := newRenderer(t)

	ok, err := r.BeginFrame()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, r.BeginPass())

	for i := 0; i < 3; i++ {
		require.NoError(t, r.DrawPlanarGeometry(metadata.GeometryRectangle, rect(float32(i))))
	}
	draws := headless.Draws(recorded(r))
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(18), draws[0].IndexCount)

	// the fourth rectangle starts a new batch drawn at the end of the pass
	require.NoError(t, r.DrawPlanarGeometry(metadata.GeometryRectangle, rect(3)))
	require.NoError(t, r.EndPass())
	draws = headless.Draws(recorded(r))
	require.Len(t, draws, 2)
	assert.Equal(t, uint32(6), draws[1].IndexCount)

	require.NoError(t, r.SubmitBatchedGeometry())
	assert.Len(t, headless.Draws(recorded(r)), 2)
	require.NoError(t, r.EndFrame())

	assert.Equal(t, 2, r.DrawCalls())
	assert.Equal(t, 2, device.Stats().DrawCalls)
}

func TestPassRecordsTargetAndSets(t *testing.T) {
	r, _ := newRenderer(t)
	ok, err := r.BeginFrame()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, r.BeginPass())
	require.NoError(t, r.DrawPlanarGeometry(metadata.GeometryLine, &metadata.GeometryProperties{To: mgl32.Vec3{1, 0, 0}}))
	require.NoError(t, r.EndPass())

	cmds := recorded(r)
	require.NotEmpty(t, cmds)
	assert.Equal(t, headless.CmdBeginRenderPass, cmds[0].Kind)
	assert.Equal(t, metadata.Extent{Width: 800, Height: 600}, cmds[0].Extent)
	assert.Equal(t, headless.CmdSetViewport, cmds[1].Kind)
	assert.Equal(t, headless.CmdEndRenderPass, cmds[len(cmds)-1].Kind)

	for _, c := range cmds {
		if c.Kind == headless.CmdBindDescriptorSets {
			assert.Equal(t, r.DescriptorSets(), c.Sets)
		}
	}
	require.NoError(t, r.EndFrame())
}

func TestBeginFrameUploadsUniforms(t *testing.T) {
	r, _ := newRenderer(t)
	r.Binder().EditableUBO().Projection = mgl32.Perspective(mgl32.DegToRad(45), 4.0/3.0, 0.1, 100)

	ok, err := r.BeginFrame()
	require.NoError(t, err)
	require.True(t, ok)
	buf, found := r.Binder().UniformBuffer(r.FrameIndex(), binder.BindingUBO)
	require.True(t, found)
	assert.Equal(t, 1, buf.(*headless.Buffer).Uploads())
	require.NoError(t, r.BeginPass())
	require.NoError(t, r.EndPass())
	require.NoError(t, r.EndFrame())
}

func TestFailedUniformUploadClosesTheFrame(t *testing.T) {
	r, device := newRenderer(t)
	boom := errors.New("upload failed")
	device.FailUploads(boom)

	ok, err := r.BeginFrame()
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
	assert.False(t, r.Synchronizer().Recording())
	assert.ErrorIs(t, r.EndFrame(), core.ErrInvalidCallSequence)

	device.FailUploads(nil)
	ok, err = r.BeginFrame()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, r.BeginPass())
	require.NoError(t, r.EndPass())
	require.NoError(t, r.EndFrame())
}

func TestUnsupportedGeometryIsDropped(t *testing.T) {
	r, device := newRenderer(t)
	ok, err := r.BeginFrame()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, r.BeginPass())
	assert.NoError(t, r.DrawPlanarGeometry(metadata.GeometryCircle, rect(0)))
	require.NoError(t, r.EndPass())
	require.NoError(t, r.EndFrame())

	assert.Zero(t, r.DrawCalls())
	assert.Zero(t, device.Stats().DrawCalls)
}

func TestDrawMesh(t *testing.T) {
	r, device := newRenderer(t)
	vb, err := device.CreateBuffer(metadata.BufferProperties{Name: "cube vertices", Size: 52 * 8, Usage: metadata.BufferUsageVertex})
	require.NoError(t, err)
	ib, err := device.CreateBuffer(metadata.BufferProperties{Name: "cube indices", Size: 4 * 36, Usage: metadata.BufferUsageIndex})
	require.NoError(t, err)
	mesh := &metadata.Mesh{Name: "cube", Vertices: vb, Indices: ib}
	quad, err := r.Pipelines().Get("batch.quad")
	require.NoError(t, err)

	ok, err := r.BeginFrame()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, r.BeginPass())
	assert.ErrorIs(t, r.DrawMesh(nil, quad, mgl32.Ident4()), core.ErrResourceMissing)
	require.NoError(t, r.DrawMesh(mesh, quad, mgl32.Translate3D(1, 2, 3)))

	draws := headless.Draws(recorded(r))
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(36), draws[0].IndexCount)
	// the transform is only pushed for this draw
	assert.Equal(t, mgl32.Ident4(), r.PushConstant().Object)

	require.NoError(t, r.EndPass())
	require.NoError(t, r.EndFrame())
	assert.Equal(t, 1, r.DrawCalls())
}

func TestResizeRebuildsExtentDependentResources(t *testing.T) {
	r, device := newRenderer(t)
	depth, err := r.Textures().Put(&metadata.TextureProperties{Key: "depth", Format: metadata.ImageFormatDepth32, FramebufferSized: true})
	require.NoError(t, err)
	require.NoError(t, r.Binder().ExposeToShaders(depth.Get(), metadata.SetImages, 0))

	fixed, err := r.Pipelines().Put(&metadata.PipelineProperties{
		VertexShader:   "quad.vert",
		FragmentShader: "quad.frag",
		Layout:         metadata.QuadVertexLayout,
		Topology:       metadata.TopologyTriangles,
	})
	require.NoError(t, err)
	pipelines := r.Pipelines().Len()
	oldPass := r.Synchronizer().RenderPass()

	extent := metadata.Extent{Width: 1920, Height: 1080}
	device.SetExtent(extent)
	r.OnResize(extent)
	ok, err := r.BeginFrame()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 1, r.Synchronizer().Recreations())
	assert.Equal(t, extent, depth.Get().Extent())
	assert.Equal(t, extent, fixed.Get().(*headless.Pipeline).Extent())
	assert.Equal(t, pipelines, r.Pipelines().Len())
	// the old pass is gone, the fixed viewport pipeline was rebuilt for the new one
	assert.True(t, oldPass.(*headless.RenderPass).Destroyed())
	assert.NotSame(t, oldPass, r.Synchronizer().RenderPass())
	assert.Same(t, r.Synchronizer().RenderPass(), fixed.Get().(*headless.Pipeline).RenderPass())

	// the binder rewrote the exposed image into the new sets
	w, bound := r.DescriptorSets()[metadata.SetImages].(*headless.DescriptorSet).Bound(0, 0)
	require.True(t, bound)
	assert.Same(t, depth.Get(), w.Image)

	require.NoError(t, r.BeginPass())
	require.NoError(t, r.EndPass())
	require.NoError(t, r.EndFrame())
}

func TestOutOfDateNeverReachesTheCaller(t *testing.T) {
	r, device := newRenderer(t)
	metrics := core.NewMetrics()
	r.metrics = metrics

	device.ScriptAcquire(metadata.SwapchainOutOfDate)
	ok, err := r.BeginFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, r.Synchronizer().Recreations())
	require.NoError(t, r.BeginPass())
	require.NoError(t, r.EndPass())
	require.NoError(t, r.EndFrame())
	assert.Equal(t, 1, metrics.Recreations())
}

func TestMinimizedFramesAreSkipped(t *testing.T) {
	r, device := newRenderer(t)
	device.SetExtent(metadata.Extent{})
	r.OnResize(metadata.Extent{})

	ok, err := r.BeginFrame()
	require.NoError(t, err)
	assert.False(t, ok)
	// nothing may be recorded in a skipped frame
	assert.ErrorIs(t, r.BeginPass(), core.ErrInvalidCallSequence)

	device.SetExtent(metadata.Extent{Width: 800, Height: 600})
	r.OnResize(metadata.Extent{Width: 800, Height: 600})
	ok, err = r.BeginFrame()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, r.EndFrame())
}

func TestRebuiltPipelineIsReleasedAfterItsFrame(t *testing.T) {
	r, _ := newRenderer(t)
	quad, err := r.Pipelines().Get("batch.quad")
	require.NoError(t, err)

	run := func() {
		ok, err := r.BeginFrame()
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, r.BeginPass())
		require.NoError(t, r.DrawPlanarGeometry(metadata.GeometryRectangle, rect(0)))
		require.NoError(t, r.EndPass())
		require.NoError(t, r.EndFrame())
	}

	run()
	old := quad.Get().(*headless.Pipeline)
	require.NoError(t, r.Pipelines().Rebuild("batch.quad"))
	assert.False(t, old.Destroyed())

	run()
	assert.False(t, old.Destroyed(), "slot 0 has not been waited on yet")
	run()
	assert.True(t, old.Destroyed())
	assert.NotSame(t, old, quad.Get())
}

func TestRendererWithoutShaders(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Cache.ShaderDir = t.TempDir() + "/missing"
	cfg.Cache.TextureDir = ""
	cfg.Cache.PipelineCacheDir = ""
	device := headless.New(headless.Options{})
	r, err := New(Options{Device: device, Config: cfg})
	require.NoError(t, err)
	assert.Empty(t, r.Batches().Batches())

	ok, err := r.BeginFrame()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, r.BeginPass())
	assert.NoError(t, r.DrawPlanarGeometry(metadata.GeometryRectangle, rect(0)))
	require.NoError(t, r.EndPass())
	assert.Zero(t, r.DrawCalls())
	require.NoError(t, r.EndFrame())

	r.Destroy()
	assert.Zero(t, device.Live(), device.LiveKinds())
}
