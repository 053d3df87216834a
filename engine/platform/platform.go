package platform

import (
	"fmt"
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

type Platform struct {
	Window *glfw.Window
	events *core.EventBus

	startTime float64
	width     uint32
	height    uint32
}

func New(events *core.EventBus) *Platform {
	return &Platform{events: events}
}

func (p *Platform) Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return fmt.Errorf("%w: glfw reports no vulkan loader", core.ErrConstructionFailure)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		glfw.Terminate()
		return err
	}
	p.Window = window

	p.Window.SetKeyCallback(p.keyCallback)
	p.Window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	p.Window.SetIconifyCallback(p.iconifyCallback)
	p.Window.SetCloseCallback(p.closeCallback)
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	fb := p.FramebufferSize()
	p.width, p.height = fb.Width, fb.Height
	p.startTime = glfw.GetTime()

	return nil
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}

// PumpMessages processes pending window events. Returns false once the window wants to close.
func (p *Platform) PumpMessages() bool {
	glfw.PollEvents()
	return !p.Window.ShouldClose()
}

// RequiredInstanceExtensions lists the instance extensions the window surface needs.
func (p *Platform) RequiredInstanceExtensions() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

func (p *Platform) CreateSurface(instance vk.Instance) (uintptr, error) {
	surface, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: create window surface: %w", core.ErrConstructionFailure, err)
	}
	return surface, nil
}

// FramebufferSize returns the drawable size in pixels, which differs from the window size on HiDPI screens.
func (p *Platform) FramebufferSize() metadata.Extent {
	w, h := p.Window.GetFramebufferSize()
	return metadata.Extent{Width: uint32(max(w, 0)), Height: uint32(max(h, 0))}
}

func (p *Platform) AbsoluteTime() float64 {
	return glfw.GetTime() - p.startTime
}

func (p *Platform) Sleep(ms float64) {
	time.Sleep(time.Duration(ms * float64(time.Millisecond)))
}

func (p *Platform) keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		p.events.Fire(core.EventApplicationQuit, p, core.EventContext{})
	}
}

func (p *Platform) closeCallback(w *glfw.Window) {
	p.events.Fire(core.EventApplicationQuit, p, core.EventContext{})
}

func (p *Platform) iconifyCallback(w *glfw.Window, iconified bool) {
	var ctx core.EventContext
	if iconified {
		ctx.Data.U32[0] = 1
	}
	p.events.Fire(core.EventMinimized, p, ctx)
}

func (p *Platform) framebufferSizeCallback(w *glfw.Window, width, height int) {
	if uint32(width) == p.width && uint32(height) == p.height {
		return
	}
	p.width, p.height = uint32(width), uint32(height)

	var ctx core.EventContext
	ctx.Data.U32[0] = p.width
	ctx.Data.U32[1] = p.height
	p.events.Fire(core.EventResized, p, ctx)
}
