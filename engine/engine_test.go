package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer"
	"github.com/spaghettifunk/anima/v2/engine/renderer/headless"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirvtest"
)

func headlessConfig(t *testing.T, frames int) *core.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, spirvtest.WriteQuadShaders(dir))
	require.NoError(t, spirvtest.WriteLineShaders(dir))

	cfg := core.DefaultConfig()
	cfg.Renderer.Backend = core.BackendHeadless
	cfg.Renderer.HeadlessFrames = frames
	cfg.Renderer.BatchCapacity = 8
	cfg.Cache.ShaderDir = dir
	cfg.Cache.TextureDir = ""
	cfg.Cache.PipelineCacheDir = ""
	cfg.Cache.Watch = false
	cfg.Jobs.Workers = 2
	return cfg
}

type recordingGame struct {
	initialized bool
	updates     int
	renders     int
	resizes     []metadata.Extent
	shutdown    bool
	renderErr   error
}

func (g *recordingGame) game(cfg *core.Config) *Game {
	return &Game{
		Config: cfg,
		FnInitialize: func(r *renderer.Renderer) error {
			g.initialized = true
			return nil
		},
		FnUpdate: func(deltaTime float64) error {
			g.updates++
			return nil
		},
		FnRender: func(r *renderer.Renderer, deltaTime float64) error {
			g.renders++
			if g.renderErr != nil {
				return g.renderErr
			}
			return r.DrawPlanarGeometry(metadata.GeometryRectangle, &metadata.GeometryProperties{
				Dimensions: mgl32.Vec3{1, 1, 1},
				Colour:     mgl32.Vec4{1, 1, 1, 1},
			})
		},
		FnOnResize: func(width, height uint32) error {
			g.resizes = append(g.resizes, metadata.Extent{Width: width, Height: height})
			return nil
		},
		FnShutdown: func() error {
			g.shutdown = true
			return nil
		},
	}
}

func newEngine(t *testing.T, g *recordingGame, frames int) *Engine {
	t.Helper()
	e, err := New(g.game(headlessConfig(t, frames)))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	return e
}

func TestNewNeedsRender(t *testing.T) {
	_, err := New(&Game{})
	assert.Error(t, err)

	cfg := core.DefaultConfig()
	cfg.Renderer.Backend = "metal"
	_, err = New(&Game{Config: cfg, FnRender: func(*renderer.Renderer, float64) error { return nil }})
	assert.Error(t, err)
}

func TestRunBeforeInitialize(t *testing.T) {
	g := &recordingGame{}
	e, err := New(g.game(headlessConfig(t, 1)))
	require.NoError(t, err)
	assert.ErrorIs(t, e.Run(context.Background()), core.ErrInvalidCallSequence)
}

func TestHeadlessRunStopsAfterConfiguredFrames(t *testing.T) {
	g := &recordingGame{}
	e := newEngine(t, g, 4)

	require.NoError(t, e.Run(context.Background()))
	require.NoError(t, e.Shutdown())

	assert.True(t, g.initialized)
	assert.True(t, g.shutdown)
	assert.Equal(t, 4, g.updates)
	assert.Equal(t, 4, g.renders)
	assert.Equal(t, []metadata.Extent{{Width: 1280, Height: 720}}, g.resizes)
	assert.Equal(t, uint64(4), e.Metrics().TotalFrames())
	assert.Equal(t, 1, e.Metrics().DrawCalls())

	// a second shutdown is a no-op
	assert.NoError(t, e.Shutdown())
}

func TestQuitEventStopsTheLoop(t *testing.T) {
	g := &recordingGame{}
	e := newEngine(t, g, 0)
	defer e.Shutdown()

	g2 := e.gameInstance.FnUpdate
	e.gameInstance.FnUpdate = func(deltaTime float64) error {
		if err := g2(deltaTime); err != nil {
			return err
		}
		if g.updates == 3 {
			e.Events().Fire(core.EventApplicationQuit, nil, core.EventContext{})
		}
		return nil
	}

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 3, g.renders)
}

func TestCancelledContextStopsTheLoop(t *testing.T) {
	g := &recordingGame{}
	e := newEngine(t, g, 0)
	defer e.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	assert.Zero(t, g.renders)
}

func TestRenderErrorEndsTheFrameAndStops(t *testing.T) {
	boom := errors.New("boom")
	g := &recordingGame{renderErr: boom}
	e := newEngine(t, g, 10)
	defer e.Shutdown()

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, g.renders)
	// the pass and the frame were still closed
	assert.False(t, e.Renderer().Synchronizer().Recording())
}

func TestResizeIsAppliedBetweenFrames(t *testing.T) {
	g := &recordingGame{}
	e := newEngine(t, g, 0)
	defer e.Shutdown()

	device := e.device.(*headless.Device)
	var resize core.EventContext
	resize.Data.U32[0] = 640
	resize.Data.U32[1] = 480

	e.gameInstance.FnUpdate = func(deltaTime float64) error {
		g.updates++
		switch g.updates {
		case 1:
			device.SetExtent(metadata.Extent{Width: 640, Height: 480})
			e.Events().Fire(core.EventResized, nil, resize)
		case 3:
			e.Events().Fire(core.EventApplicationQuit, nil, core.EventContext{})
		}
		return nil
	}

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, metadata.Extent{Width: 640, Height: 480}, e.Renderer().Synchronizer().Extent())
	assert.Equal(t, metadata.Extent{Width: 640, Height: 480}, g.resizes[len(g.resizes)-1])
	assert.GreaterOrEqual(t, e.Metrics().Recreations(), 1)
	w, h := e.GetFramebufferSize()
	assert.Equal(t, uint32(640), w)
	assert.Equal(t, uint32(480), h)
}

func TestMinimizeSuspends(t *testing.T) {
	g := &recordingGame{}
	e := newEngine(t, g, 0)
	defer e.Shutdown()

	var ctx core.EventContext
	ctx.Data.U32[0] = 1
	e.Events().Fire(core.EventMinimized, nil, ctx)
	assert.True(t, e.isSuspended)

	ctx.Data.U32[0] = 0
	e.Events().Fire(core.EventMinimized, nil, ctx)
	assert.False(t, e.isSuspended)

	var zero core.EventContext
	e.Events().Fire(core.EventResized, nil, zero)
	assert.True(t, e.isSuspended)
	assert.False(t, e.pendingResize)
}
