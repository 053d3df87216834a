package renderer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima/v2/engine/assets"
	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/batch"
	"github.com/spaghettifunk/anima/v2/engine/renderer/binder"
	"github.com/spaghettifunk/anima/v2/engine/renderer/cache"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/systems"
)

// Shader keys the batches are drawn with.
const (
	QuadVertexShader   = "quad.vert"
	QuadFragmentShader = "quad.frag"
	LineVertexShader   = "line.vert"
	LineIdVertexShader = "line_id.vert"
	LineFragmentShader = "line.frag"
)

type callState uint8

const (
	stateIdle callState = iota
	stateFrame
	statePass
)

func (s callState) String() string {
	switch s {
	case stateFrame:
		return "recording a frame"
	case statePass:
		return "inside a pass"
	default:
		return "idle"
	}
}

type Options struct {
	Device metadata.Device
	Config *core.Config
	// Extent of the surface; the configured window size when zero.
	Extent  metadata.Extent
	Assets  *assets.AssetManager
	Jobs    *systems.JobSystem
	Metrics *core.Metrics
}

/**
 * @brief Composition root of a frame. Owns the frame synchronizer, the caches, the
 * binder and the batches and enforces the per frame call order:
 * BeginFrame, {BeginPass, Draw*, EndPass}*, SubmitBatchedGeometry, EndFrame.
 */
type Renderer struct {
	device  metadata.Device
	config  *core.Config
	metrics *core.Metrics

	sync      *FrameSynchronizer
	pipelines *cache.PipelineCache
	textures  *cache.TextureCache
	binder    *binder.Binder
	batches   *batch.BatchRenderer

	state     callState
	drawCalls int
}

func New(opts Options) (*Renderer, error) {
	if opts.Device == nil {
		return nil, errors.New("renderer needs a device")
	}
	if opts.Config == nil {
		opts.Config = core.DefaultConfig()
	}
	if opts.Assets == nil {
		opts.Assets = assets.NewAssetManager()
	}
	cfg := opts.Config
	if opts.Extent.IsZero() {
		opts.Extent = metadata.Extent{Width: cfg.Application.Width, Height: cfg.Application.Height}
	}

	r := &Renderer{
		device:  opts.Device,
		config:  cfg,
		metrics: opts.Metrics,
	}

	cc := cfg.Renderer.ClearColour
	sync, err := NewFrameSynchronizer(SynchronizerOptions{
		Device:         opts.Device,
		Extent:         opts.Extent,
		FramesInFlight: cfg.Renderer.FramesInFlight,
		VSync:          true,
		RenderPass: metadata.RenderPassProperties{
			ClearColour: mgl32.Vec4{cc[0], cc[1], cc[2], cc[3]},
			ClearDepth:  1,
			Depth:       true,
		},
		FenceTimeout: cfg.FenceTimeout(),
	})
	if err != nil {
		return nil, err
	}
	r.sync = sync

	r.pipelines = cache.NewPipelineCache(cache.PipelineCacheOptions{
		Device:    opts.Device,
		CacheRoot: cfg.Cache.PipelineCacheDir,
		Assets:    opts.Assets,
		Jobs:      opts.Jobs,
	})
	r.pipelines.SetRetirer(sync.Retirer())
	r.pipelines.SetTarget(sync.RenderPass(), sync.Extent())

	r.textures = cache.NewTextureCache(cache.TextureCacheOptions{
		Device: opts.Device,
		Assets: opts.Assets,
		Jobs:   opts.Jobs,
	})
	r.textures.SetRetirer(sync.Retirer())
	r.textures.SetExtent(sync.Extent())

	if err := r.warmUp(); err != nil {
		r.Destroy()
		return nil, err
	}

	r.binder, err = binder.New(binder.Options{
		Device:  opts.Device,
		Layouts: r.pipelines.Reflection().SetLayouts,
		Frames:  cfg.Renderer.FramesInFlight,
	})
	if err != nil {
		r.Destroy()
		return nil, err
	}
	r.pipelines.SetLayoutsProvider(r.binder.Layouts)

	if err := r.createBatches(); err != nil {
		r.Destroy()
		return nil, err
	}

	sync.OnFrameStart(r.frameStarted)
	sync.OnFrameEnd(r.binder.EndFrame)
	sync.OnRecreate(r.recreated)

	core.LogInfo("renderer initialized on the %s device", opts.Device.Name())
	return r, nil
}

func exists(dir string) bool {
	if dir == "" {
		return false
	}
	_, err := os.Stat(dir)
	return !errors.Is(err, fs.ErrNotExist)
}

// warmUp loads the configured shader and texture directories.
func (r *Renderer) warmUp() error {
	if dir := r.config.Cache.ShaderDir; exists(dir) {
		if _, err := r.pipelines.LoadShaderDirectory(dir); err != nil {
			core.LogError("%s", err)
			return err
		}
	} else {
		core.LogWarn("shader directory `%s` not found, no shaders loaded", dir)
	}
	if dir := r.config.Cache.TextureDir; exists(dir) {
		// broken images are skipped, the rest stay usable
		if _, err := r.textures.LoadTextureDirectory(dir, metadata.ImageFormatUndefined); err != nil {
			core.LogWarn("some textures failed to load: %s", err)
		}
	}
	return nil
}

// createBatches builds one batch per geometry kind whose shaders were loaded.
func (r *Renderer) createBatches() error {
	opts := batch.Options{
		Device:   r.device,
		Frames:   r.config.Renderer.FramesInFlight,
		Capacity: uint32(r.config.Renderer.BatchCapacity),
	}
	has := func(keys ...string) bool {
		for _, k := range keys {
			if !r.pipelines.HasShader(k) {
				return false
			}
		}
		return true
	}

	var err error
	if has(QuadVertexShader, QuadFragmentShader) {
		opts.Quads, err = r.pipelines.Put(&metadata.PipelineProperties{
			Key:             "batch.quad",
			VertexShader:    QuadVertexShader,
			FragmentShader:  QuadFragmentShader,
			Layout:          metadata.QuadVertexLayout,
			Topology:        metadata.TopologyTriangles,
			CullMode:        metadata.CullModeNone,
			DepthTest:       true,
			DepthWrite:      true,
			Blend:           true,
			DynamicViewport: true,
		})
		if err != nil {
			return err
		}
	}
	if has(LineVertexShader, LineFragmentShader) {
		opts.Lines, err = r.pipelines.Put(&metadata.PipelineProperties{
			Key:             "batch.line",
			VertexShader:    LineVertexShader,
			FragmentShader:  LineFragmentShader,
			Layout:          metadata.LineVertexLayout,
			Topology:        metadata.TopologyLines,
			LineWidth:       r.config.Renderer.LineWidth,
			DepthTest:       true,
			DynamicViewport: true,
		})
		if err != nil {
			return err
		}
	}
	if has(LineIdVertexShader, LineFragmentShader) {
		opts.LineIds, err = r.pipelines.Put(&metadata.PipelineProperties{
			Key:             "batch.line_id",
			VertexShader:    LineIdVertexShader,
			FragmentShader:  LineFragmentShader,
			Layout:          metadata.LineIdVertexLayout,
			Topology:        metadata.TopologyLines,
			LineWidth:       r.config.Renderer.LineWidth,
			DepthTest:       true,
			DynamicViewport: true,
		})
		if err != nil {
			return err
		}
	}

	r.batches, err = batch.New(opts)
	return err
}

func (r *Renderer) frameStarted(slot int) error {
	if err := r.binder.BeginFrame(slot); err != nil {
		return err
	}
	r.batches.BeginFrame(slot)
	return nil
}

// recreated runs with the device idle, after the swapchain was rebuilt.
func (r *Renderer) recreated(extent metadata.Extent) error {
	r.pipelines.SetTarget(r.sync.RenderPass(), extent)
	r.textures.SetExtent(extent)
	if err := r.textures.ForceRecreation(extent); err != nil {
		return err
	}
	if err := r.pipelines.ForceRecreation(extent); err != nil {
		return err
	}
	if err := r.binder.Reset(); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.SwapchainRecreated()
	}
	return nil
}

func (r *Renderer) Pipelines() *cache.PipelineCache  { return r.pipelines }
func (r *Renderer) Textures() *cache.TextureCache    { return r.textures }
func (r *Renderer) Binder() *binder.Binder           { return r.binder }
func (r *Renderer) Batches() *batch.BatchRenderer    { return r.batches }
func (r *Renderer) Synchronizer() *FrameSynchronizer { return r.sync }

// DrawCalls is the number of draws recorded in the current or last frame.
func (r *Renderer) DrawCalls() int { return r.drawCalls }

// FrameIndex is the frame slot being recorded.
func (r *Renderer) FrameIndex() int { return r.sync.CurrentFrame }

func (r *Renderer) DescriptorSets() []metadata.DescriptorSet {
	return r.binder.DescriptorSets(r.sync.CurrentFrame)
}

func (r *Renderer) PushConstant() *metadata.PushConstant {
	return r.binder.EditablePushConstant()
}

func (r *Renderer) expect(want callState, op string) error {
	if r.state != want {
		return fmt.Errorf("%w: %s while %s", core.ErrInvalidCallSequence, op, r.state)
	}
	return nil
}

// OnResize forwards a new surface size; the swapchain is rebuilt on the next frame.
func (r *Renderer) OnResize(extent metadata.Extent) {
	r.sync.Resize(extent)
}

/**
 * @brief Starts a frame and uploads the per frame uniforms.
 * @return false when the frame is skipped; nothing may be recorded then.
 */
func (r *Renderer) BeginFrame() (bool, error) {
	if err := r.expect(stateIdle, "begin frame"); err != nil {
		return false, err
	}
	ok, err := r.sync.PrepareFrame()
	if err != nil || !ok {
		return false, err
	}
	r.drawCalls = 0
	r.state = stateFrame
	if err := r.binder.UpdateUBO(r.sync.CurrentFrame); err != nil {
		// the acquired image is still submitted and presented
		return false, errors.Join(err, r.EndFrame())
	}
	return true, nil
}

func (r *Renderer) BeginPass() error {
	if err := r.expect(stateFrame, "begin pass"); err != nil {
		return err
	}
	cb := r.sync.CommandBuffer()
	cb.BeginRenderPass(r.sync.RenderPass(), r.sync.Framebuffer())
	cb.SetViewport(r.sync.Extent())
	r.state = statePass
	return nil
}

// DrawPlanarGeometry batches a rectangle or a line. A batch reaching its capacity is
// flushed right away.
func (r *Renderer) DrawPlanarGeometry(geometry metadata.Geometry, props *metadata.GeometryProperties) error {
	if err := r.expect(statePass, "draw planar geometry"); err != nil {
		return err
	}
	if r.batches.IsFull() {
		if err := r.onBatchFull(); err != nil {
			return err
		}
	}
	if err := r.batches.CreateNew(geometry, props); err != nil {
		return err
	}
	if r.batches.IsFull() {
		return r.onBatchFull()
	}
	return nil
}

func (r *Renderer) onBatchFull() error {
	return r.flushBatches()
}

func (r *Renderer) flushBatches() error {
	for _, b := range r.batches.Batches() {
		if b.Submitted() > 0 {
			r.drawCalls++
		}
	}
	return r.batches.Flush(r, r.sync.CommandBuffer())
}

// DrawMesh draws a prebuilt mesh with the given pipeline and object transform.
func (r *Renderer) DrawMesh(mesh *metadata.Mesh, pipeline *cache.Shared[metadata.Pipeline], transform mgl32.Mat4) error {
	if err := r.expect(statePass, "draw mesh"); err != nil {
		return err
	}
	if mesh == nil || mesh.Vertices == nil || mesh.Indices == nil || pipeline == nil {
		return fmt.Errorf("%w: mesh or pipeline", core.ErrResourceMissing)
	}
	cb := r.sync.CommandBuffer()
	p := pipeline.Get()
	cb.BindPipeline(p)
	if sets := r.DescriptorSets(); len(sets) > 0 {
		cb.BindDescriptorSets(p, sets)
	}

	pc := r.PushConstant()
	previous := pc.Object
	pc.Object = transform
	data, err := metadata.PODBytes(pc)
	pc.Object = previous
	if err != nil {
		return err
	}
	for _, rg := range p.PushConstantRanges() {
		end := min(rg.Offset+rg.Size, uint32(len(data)))
		if rg.Offset < end {
			cb.PushConstants(p, rg.Stages, rg.Offset, data[rg.Offset:end])
		}
	}

	cb.BindVertexBuffer(mesh.Vertices, 0)
	cb.BindIndexBuffer(mesh.Indices, 0)
	count := mesh.IndexCount
	if count == 0 {
		count = uint32(mesh.Indices.Size() / 4)
	}
	cb.DrawIndexed(count, 1, 0, 0)
	r.drawCalls++
	return nil
}

// EndPass draws the geometry batched during the pass and closes it.
func (r *Renderer) EndPass() error {
	if err := r.expect(statePass, "end pass"); err != nil {
		return err
	}
	err := r.SubmitBatchedGeometry()
	r.sync.CommandBuffer().EndRenderPass()
	r.state = stateFrame
	return err
}

// SubmitBatchedGeometry draws every non empty batch. Outside a pass nothing can be
// pending, so it records nothing.
func (r *Renderer) SubmitBatchedGeometry() error {
	if r.state == stateIdle {
		return fmt.Errorf("%w: submit batched geometry while %s", core.ErrInvalidCallSequence, r.state)
	}
	if r.state != statePass || !r.batches.ShouldSubmit() {
		return nil
	}
	return r.flushBatches()
}

// EndFrame submits and presents the frame.
func (r *Renderer) EndFrame() error {
	if err := r.expect(stateFrame, "end frame"); err != nil {
		return err
	}
	r.state = stateIdle
	return r.sync.Present()
}

// ReloadShaders recompiles changed shader files between frames.
func (r *Renderer) ReloadShaders(paths []string) error {
	if r.state != stateIdle {
		return fmt.Errorf("%w: reloading shaders while %s", core.ErrInvalidCallSequence, r.state)
	}
	var failed []error
	for _, p := range paths {
		if err := r.pipelines.ReloadShader(p); err != nil {
			core.LogError("reloading %s: %s", p, err)
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

// Destroy waits for the device and releases everything in reverse creation order.
func (r *Renderer) Destroy() {
	if err := r.device.WaitIdle(); err != nil {
		core.LogWarn("device wait idle failed on shutdown: %s", err)
	}
	if r.batches != nil {
		r.batches.Destroy()
	}
	if r.binder != nil {
		r.binder.Destroy()
	}
	if r.sync != nil {
		r.sync.Retirer().FlushAll()
	}
	if r.textures != nil {
		r.textures.Clear()
	}
	if r.pipelines != nil {
		r.pipelines.Close()
	}
	if r.sync != nil {
		r.sync.Destroy()
	}
	core.LogInfo("renderer destroyed")
}
