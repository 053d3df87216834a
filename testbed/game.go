package testbed

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima/v2/engine"
	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/math"
	"github.com/spaghettifunk/anima/v2/engine/renderer"
	"github.com/spaghettifunk/anima/v2/engine/renderer/components"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

// gridSize is the number of quads per side of the test grid.
const gridSize = 12

type TestGame struct {
	*engine.Game
}

type gameState struct {
	renderer    *renderer.Renderer
	worldCamera *components.Camera
	spinner     *math.Transform
	identifiers *core.Identifiers
	axisIDs     [3]uint32

	width  uint32
	height uint32
	time   float64
}

func NewTestGame(cfg *core.Config) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Config: cfg,
			State: &gameState{
				worldCamera: components.NewCamera(),
				spinner:     math.TransformCreate(),
				identifiers: core.NewIdentifiers(16),
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(r *renderer.Renderer) error {
	core.LogDebug("TestGame Initialize fn....")

	state := g.state()
	state.renderer = r
	state.worldCamera.SetPosition(mgl32.Vec3{0, 4, 16})
	state.worldCamera.Pitch(math.DegToRad(-15))
	for i := range state.axisIDs {
		state.axisIDs[i] = state.identifiers.Acquire(g)
	}

	light := r.Binder().EditableDirectionalLight()
	light.Direction = mgl32.Vec4{-0.57735, -0.57735, -0.57735, 0}
	light.Ambient = mgl32.Vec4{0.25, 0.25, 0.25, 1}
	light.Diffuse = mgl32.Vec4{0.8, 0.8, 0.8, 1}
	light.Near = 0.1
	light.Far = 100
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.state()
	state.time += deltaTime

	spin := mgl32.QuatRotate(float32(0.5*deltaTime), mgl32.Vec3{0, 0, 1})
	state.spinner.Rotate(spin)

	if state.renderer == nil {
		return nil
	}
	view := state.worldCamera.View()
	projection := state.worldCamera.ProjectionMatrix(state.width, state.height)

	ubo := state.renderer.Binder().EditableUBO()
	ubo.View = view
	ubo.Projection = projection
	ubo.ViewProjection = projection.Mul4(view)

	camera := state.renderer.Binder().EditableCamera()
	p := state.worldCamera.Position
	camera.Position = mgl32.Vec4{p.X(), p.Y(), p.Z(), 1}
	f := state.worldCamera.Forward()
	camera.Direction = mgl32.Vec4{f.X(), f.Y(), f.Z(), 0}
	camera.View = view
	return nil
}

// Render draws a grid of coloured quads, a spinning quad and the world axes.
func (g *TestGame) Render(r *renderer.Renderer, deltaTime float64) error {
	state := g.state()

	half := float32(gridSize) / 2
	for y := 0; y < gridSize; y++ {
		for x := 0; x < gridSize; x++ {
			props := &metadata.GeometryProperties{
				Position:   mgl32.Vec3{float32(x) - half, 0, float32(y) - half},
				Dimensions: mgl32.Vec3{0.9, 0.9, 1},
				Rotation:   mgl32.QuatRotate(math.DegToRad(-90), mgl32.Vec3{1, 0, 0}),
				Colour:     mgl32.Vec4{float32(x) / gridSize, float32(y) / gridSize, 0.6, 1},
			}
			if err := r.DrawPlanarGeometry(metadata.GeometryRectangle, props); err != nil {
				return err
			}
		}
	}

	if err := r.DrawPlanarGeometry(metadata.GeometryRectangle, &metadata.GeometryProperties{
		Position:   state.spinner.Position.Add(mgl32.Vec3{0, 3, 0}),
		Dimensions: mgl32.Vec3{2, 2, 1},
		Rotation:   state.spinner.Rotation,
		Colour:     mgl32.Vec4{1, 0.8, 0.2, 1},
	}); err != nil {
		return err
	}

	axes := [3]mgl32.Vec3{{5, 0, 0}, {0, 5, 0}, {0, 0, 5}}
	for i, to := range axes {
		colour := mgl32.Vec4{0, 0, 0, 1}
		colour[i] = 1
		line := metadata.GeometryProperties{To: to, Colour: colour}.WithIdentifier(state.axisIDs[i])
		if err := r.DrawPlanarGeometry(metadata.GeometryLine, &line); err != nil {
			return err
		}
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.state()
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.state()
	for _, id := range state.axisIDs {
		if err := state.identifiers.Release(id); err != nil {
			return err
		}
	}
	state.renderer = nil
	return nil
}
