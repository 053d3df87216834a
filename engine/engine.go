package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/anima/v2/engine/assets"
	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/platform"
	"github.com/spaghettifunk/anima/v2/engine/renderer"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// metricsLogInterval is how often the frame statistics are logged, in seconds.
const metricsLogInterval = 5.0

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *core.Config
	isRunning    bool
	isSuspended  bool

	events   *core.EventBus
	platform *platform.Platform
	assets   *assets.AssetManager
	watcher  *assets.ShaderWatcher
	jobs     *systems.JobSystem
	metrics  *core.Metrics
	device   metadata.Device
	renderer *renderer.Renderer

	width         uint32
	height        uint32
	clock         *core.Clock
	lastTime      float64
	lastReport    float64
	framesDrawn   int
	pendingResize bool
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.FnRender == nil {
		return nil, errors.New("the game needs a render function")
	}
	if g.Config == nil {
		g.Config = core.DefaultConfig()
	}
	if err := g.Config.Validate(); err != nil {
		return nil, err
	}
	core.SetLogLevel(g.Config.Log.Level)

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       g.Config,
		events:       core.NewEventBus(),
		assets:       assets.NewAssetManager(),
		metrics:      core.NewMetrics(),
		clock:        core.NewClock(),
		width:        g.Config.Application.Width,
		height:       g.Config.Application.Height,
	}, nil
}

// Initialize opens the window, creates the device and the renderer and runs the game's
// own initialization.
func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBooting
	cfg := e.config

	e.events.Register(core.EventApplicationQuit, e, e.onEvent)
	e.events.Register(core.EventResized, e, e.onResized)
	e.events.Register(core.EventMinimized, e, e.onMinimized)

	jobs, err := systems.NewJobSystem(cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	if err != nil {
		return err
	}
	e.jobs = jobs

	if e.platform, err = startPlatform(cfg, e.events); err != nil {
		return err
	}
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	device, extent, err := createDevice(cfg, e.platform)
	if err != nil {
		return err
	}
	e.device = device
	e.width, e.height = extent.Width, extent.Height

	r, err := renderer.New(renderer.Options{
		Device:  device,
		Config:  cfg,
		Extent:  extent,
		Assets:  e.assets,
		Jobs:    e.jobs,
		Metrics: e.metrics,
	})
	if err != nil {
		return err
	}
	e.renderer = r

	if cfg.Cache.Watch && cfg.Cache.ShaderDir != "" {
		if err := e.watchShaders(cfg.Cache.ShaderDir); err != nil {
			// hot reload is a convenience, the engine runs without it
			core.LogWarn("shader hot reload disabled: %s", err)
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(r); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) watchShaders(dir string) error {
	w, err := assets.NewShaderWatcher(e.assets)
	if err != nil {
		return err
	}
	if err := w.Watch(dir); err != nil {
		_ = w.Close()
		return err
	}
	e.watcher = w
	return nil
}

// Run drives the frame loop until the game quits, the window closes or ctx is done.
// A headless run stops on its own after the configured number of frames.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("%w: run before initialize", core.ErrInvalidCallSequence)
	}
	e.currentStage = EngineStageRunning
	e.isRunning = true

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		select {
		case <-ctx.Done():
			core.LogInfo("context done, shutting down")
			e.isRunning = false
			continue
		default:
		}

		if e.platform != nil && !e.platform.PumpMessages() {
			e.isRunning = false
			break
		}

		if e.isSuspended {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStart := time.Now()

		if err := e.frame(delta); err != nil {
			core.LogError("frame failed, shutting down: %s", err)
			e.isRunning = false
			return err
		}

		e.metrics.Update(time.Since(frameStart).Seconds(), e.renderer.DrawCalls())
		if currentTime-e.lastReport >= metricsLogInterval {
			fps, ms := e.metrics.Frame()
			core.LogDebug("%.0f fps, %.3f ms/frame, %d draw calls, %d swapchain recreations", fps, ms, e.metrics.DrawCalls(), e.metrics.Recreations())
			e.lastReport = currentTime
		}
		e.lastTime = currentTime

		e.framesDrawn++
		if e.platform == nil && e.config.Renderer.HeadlessFrames > 0 && e.framesDrawn >= e.config.Renderer.HeadlessFrames {
			core.LogInfo("headless run finished after %d frames", e.framesDrawn)
			e.isRunning = false
		}
	}
	return nil
}

// frame runs one iteration: shader reloads, the game update and the recorded frame.
func (e *Engine) frame(delta float64) error {
	if e.watcher != nil {
		if changed := e.watcher.Drain(); len(changed) > 0 {
			if err := e.renderer.ReloadShaders(changed); err != nil {
				// the previous pipelines stay in use
				core.LogWarn("shader reload failed: %s", err)
			}
		}
	}

	if e.pendingResize {
		e.pendingResize = false
		e.renderer.OnResize(metadata.Extent{Width: e.width, Height: e.height})
		if e.gameInstance.FnOnResize != nil {
			if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
				return err
			}
		}
	}

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}

	ok, err := e.renderer.BeginFrame()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := e.renderer.BeginPass(); err != nil {
		return err
	}
	renderErr := e.gameInstance.FnRender(e.renderer, delta)
	if err := e.renderer.EndPass(); err != nil {
		return errors.Join(renderErr, err)
	}
	if err := e.renderer.EndFrame(); err != nil {
		return errors.Join(renderErr, err)
	}
	if renderErr != nil {
		return fmt.Errorf("game render: %w", renderErr)
	}
	return nil
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
	}
	if e.renderer != nil {
		e.renderer.Destroy()
	}
	if e.device != nil {
		e.device.Destroy()
	}
	if e.jobs != nil {
		errs = append(errs, e.jobs.Shutdown())
	}
	e.events.Shutdown()
	if e.platform != nil {
		errs = append(errs, e.platform.Shutdown())
	}
	core.LogInfo("engine shut down after %d frames", e.metrics.TotalFrames())
	return errors.Join(errs...)
}

func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Renderer() *renderer.Renderer { return e.renderer }
func (e *Engine) Metrics() *core.Metrics       { return e.metrics }
func (e *Engine) Events() *core.EventBus       { return e.events }

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EventApplicationQuit {
		core.LogInfo("EventApplicationQuit received, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *Engine) onMinimized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	minimized := data.Data.U32[0] == 1
	if minimized != e.isSuspended {
		if minimized {
			core.LogInfo("Window minimized, suspending application.")
		} else {
			core.LogInfo("Window restored, resuming application.")
		}
		e.isSuspended = minimized
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width := data.Data.U32[0]
	height := data.Data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	// applied between frames so the swapchain never changes under a recording
	e.pendingResize = true
	return false
}
