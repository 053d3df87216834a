package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
)

// Context holds the instance level objects every backend object is created from.
type Context struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	PhysicalDevice   vk.PhysicalDevice
	LogicalDevice    vk.Device
	SwapchainSupport SwapchainSupportInfo

	GraphicsQueueIndex uint32
	PresentQueueIndex  uint32
	TransferQueueIndex uint32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	TransferQueue vk.Queue

	// Pool for single use upload commands.
	TransferCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format

	locks *LockPool
}

func (vc *Context) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	for i := uint32(0); i < vc.Memory.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		vc.Memory.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && vc.Memory.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// allocate backs a memory requirement with device memory of the given properties.
func (vc *Context) allocate(op string, reqs vk.MemoryRequirements, props vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	reqs.Deref()
	index := vc.FindMemoryIndex(reqs.MemoryTypeBits, props)
	if index < 0 {
		return nil, check(core.ErrConstructionFailure, op, vk.ErrorOutOfDeviceMemory)
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if err := check(core.ErrConstructionFailure, op, vk.AllocateMemory(vc.LogicalDevice, &info, vc.Allocator, &memory)); err != nil {
		return nil, err
	}
	return memory, nil
}

// singleUse records fn into a one time command buffer and waits for the graphics queue.
func (vc *Context) singleUse(fn func(cb vk.CommandBuffer)) error {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        vc.TransferCommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if err := check(core.ErrConstructionFailure, "allocate_command_buffers", vk.AllocateCommandBuffers(vc.LogicalDevice, &info, buffers)); err != nil {
		return err
	}
	cb := buffers[0]
	defer vk.FreeCommandBuffers(vc.LogicalDevice, vc.TransferCommandPool, 1, buffers)

	begin := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := check(core.ErrConstructionFailure, "begin_command_buffer", vk.BeginCommandBuffer(cb, &begin)); err != nil {
		return err
	}
	fn(cb)
	if err := check(core.ErrConstructionFailure, "end_command_buffer", vk.EndCommandBuffer(cb)); err != nil {
		return err
	}

	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    buffers,
	}
	return vc.locks.SafeQueueCall(vc.GraphicsQueueIndex, func() error {
		if err := check(core.ErrConstructionFailure, "queue_submit", vk.QueueSubmit(vc.GraphicsQueue, 1, []vk.SubmitInfo{submit}, vk.NullFence)); err != nil {
			return err
		}
		return check(core.ErrConstructionFailure, "queue_wait_idle", vk.QueueWaitIdle(vc.GraphicsQueue))
	})
}
