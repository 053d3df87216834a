package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
)

type Fence struct {
	ctx      *Context
	Handle   vk.Fence
	signaled bool
}

func newFence(ctx *Context, createSignaled bool) (*Fence, error) {
	// Make sure to signal the fence if required.
	fence := &Fence{ctx: ctx, signaled: createSignaled}

	createInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		createInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	if err := check(core.ErrConstructionFailure, "create_fence", vk.CreateFence(ctx.LogicalDevice, &createInfo, ctx.Allocator, &fence.Handle)); err != nil {
		return nil, err
	}
	return fence, nil
}

func (f *Fence) Wait(timeoutNs uint64) error {
	if f.signaled {
		// If already signaled, do not wait.
		return nil
	}
	result := vk.WaitForFences(f.ctx.LogicalDevice, 1, []vk.Fence{f.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		f.signaled = true
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
		return core.NewGPUError(core.ErrSwapchainFatal, "wait_for_fences", int32(result), ResultString(result))
	default:
		return check(core.ErrSwapchainFatal, "wait_for_fences", result)
	}
}

func (f *Fence) Reset() error {
	if !f.signaled {
		return nil
	}
	if err := check(core.ErrSwapchainFatal, "reset_fences", vk.ResetFences(f.ctx.LogicalDevice, 1, []vk.Fence{f.Handle})); err != nil {
		return err
	}
	f.signaled = false
	return nil
}

func (f *Fence) Destroy() {
	if f.Handle != vk.NullFence {
		vk.DestroyFence(f.ctx.LogicalDevice, f.Handle, f.ctx.Allocator)
		f.Handle = vk.NullFence
	}
	f.signaled = false
}

type Semaphore struct {
	ctx    *Context
	Handle vk.Semaphore
}

func newSemaphore(ctx *Context) (*Semaphore, error) {
	s := &Semaphore{ctx: ctx}
	createInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	if err := check(core.ErrConstructionFailure, "create_semaphore", vk.CreateSemaphore(ctx.LogicalDevice, &createInfo, ctx.Allocator, &s.Handle)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Semaphore) Destroy() {
	if s.Handle != vk.NullSemaphore {
		vk.DestroySemaphore(s.ctx.LogicalDevice, s.Handle, s.ctx.Allocator)
		s.Handle = vk.NullSemaphore
	}
}
