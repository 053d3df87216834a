package engine

import (
	"fmt"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/platform"
	"github.com/spaghettifunk/anima/v2/engine/renderer/headless"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/renderer/vulkan"
)

// startPlatform opens the window when the configured backend needs one.
func startPlatform(cfg *core.Config, events *core.EventBus) (*platform.Platform, error) {
	if cfg.Renderer.Backend != core.BackendVulkan {
		return nil, nil
	}
	p := platform.New(events)
	app := cfg.Application
	if err := p.Startup(app.Name, app.X, app.Y, app.Width, app.Height); err != nil {
		return nil, err
	}
	return p, nil
}

// createDevice builds the graphics device named by the configuration.
func createDevice(cfg *core.Config, p *platform.Platform) (metadata.Device, metadata.Extent, error) {
	extent := metadata.Extent{Width: cfg.Application.Width, Height: cfg.Application.Height}

	switch cfg.Renderer.Backend {
	case core.BackendHeadless:
		return headless.New(headless.Options{Extent: extent}), extent, nil
	case core.BackendVulkan:
		if p == nil {
			return nil, extent, fmt.Errorf("%w: the vulkan backend needs a window", core.ErrConstructionFailure)
		}
		if fb := p.FramebufferSize(); !fb.IsZero() {
			extent = fb
		}
		device, err := vulkan.New(vulkan.Options{
			AppName:         cfg.Application.Name,
			Validation:      cfg.Renderer.Validation,
			Extensions:      p.RequiredInstanceExtensions(),
			CreateSurface:   p.CreateSurface,
			FramebufferSize: p.FramebufferSize,
		})
		if err != nil {
			return nil, extent, err
		}
		return device, extent, nil
	default:
		return nil, extent, fmt.Errorf("unknown renderer backend `%s`", cfg.Renderer.Backend)
	}
}
