package engine

import (
	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer"
)

// Game is the application driven by the engine loop. Only FnRender is required.
type Game struct {
	Config       *core.Config
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

// Initialize runs once the renderer exists, before the first frame.
type Initialize func(r *renderer.Renderer) error
type Update func(deltaTime float64) error

// Render records the draws of one frame; it runs inside the frame's pass.
type Render func(r *renderer.Renderer, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
