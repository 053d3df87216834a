package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

type Buffer struct {
	ctx    *Context
	Handle vk.Buffer
	Memory vk.DeviceMemory
	props  metadata.BufferProperties
}

func bufferUsageFlags(usage metadata.BufferUsage) vk.BufferUsageFlags {
	switch usage {
	case metadata.BufferUsageVertex:
		return vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit | vk.BufferUsageTransferDstBit)
	case metadata.BufferUsageIndex:
		return vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit | vk.BufferUsageTransferDstBit)
	case metadata.BufferUsageUniform:
		return vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit | vk.BufferUsageTransferDstBit)
	case metadata.BufferUsageStorage:
		return vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageTransferDstBit)
	default:
		return vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	}
}

func newBuffer(ctx *Context, props metadata.BufferProperties) (*Buffer, error) {
	if props.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has no size", core.ErrConstructionFailure, props.Name)
	}
	// Staging buffers are only useful when the host can write them.
	if props.Usage == metadata.BufferUsageStaging {
		props.HostVisible = true
	}
	memoryFlags := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if props.HostVisible {
		memoryFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	return createBuffer(ctx, props, bufferUsageFlags(props.Usage), memoryFlags)
}

func createBuffer(ctx *Context, props metadata.BufferProperties, usage vk.BufferUsageFlags, memoryFlags vk.MemoryPropertyFlags) (*Buffer, error) {
	b := &Buffer{ctx: ctx, props: props}
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(props.Size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive, // NOTE: Only used in one queue.
	}
	if err := check(core.ErrConstructionFailure, "create_buffer", vk.CreateBuffer(ctx.LogicalDevice, &createInfo, ctx.Allocator, &b.Handle)); err != nil {
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.LogicalDevice, b.Handle, &requirements)
	memory, err := ctx.allocate("allocate_buffer_memory", requirements, memoryFlags)
	if err != nil {
		b.Destroy()
		return nil, err
	}
	b.Memory = memory
	if err := check(core.ErrConstructionFailure, "bind_buffer_memory", vk.BindBufferMemory(ctx.LogicalDevice, b.Handle, b.Memory, 0)); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

func (b *Buffer) Size() uint64                { return b.props.Size }
func (b *Buffer) Usage() metadata.BufferUsage { return b.props.Usage }

// SetData maps host visible buffers directly; device local ones go through a staging copy.
func (b *Buffer) SetData(data []byte, offset uint64) error {
	if len(data) == 0 {
		return nil
	}
	if offset+uint64(len(data)) > b.props.Size {
		return fmt.Errorf("%w: %d bytes at %d overflow buffer %q of %d bytes", core.ErrConstructionFailure, len(data), offset, b.props.Name, b.props.Size)
	}
	if b.props.HostVisible {
		return b.write(data, offset)
	}

	staging, err := newBuffer(b.ctx, metadata.BufferProperties{
		Name:  b.props.Name + " staging",
		Size:  uint64(len(data)),
		Usage: metadata.BufferUsageStaging,
	})
	if err != nil {
		return err
	}
	defer staging.Destroy()
	if err := staging.write(data, 0); err != nil {
		return err
	}
	return b.ctx.singleUse(func(cb vk.CommandBuffer) {
		region := vk.BufferCopy{
			SrcOffset: 0,
			DstOffset: vk.DeviceSize(offset),
			Size:      vk.DeviceSize(len(data)),
		}
		vk.CmdCopyBuffer(cb, staging.Handle, b.Handle, 1, []vk.BufferCopy{region})
	})
}

func (b *Buffer) write(data []byte, offset uint64) error {
	var mapped unsafe.Pointer
	if err := check(core.ErrConstructionFailure, "map_memory", vk.MapMemory(b.ctx.LogicalDevice, b.Memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &mapped)); err != nil {
		return err
	}
	copy(unsafe.Slice((*byte)(mapped), len(data)), data)
	vk.UnmapMemory(b.ctx.LogicalDevice, b.Memory)
	return nil
}

func (b *Buffer) Destroy() {
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(b.ctx.LogicalDevice, b.Handle, b.ctx.Allocator)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.ctx.LogicalDevice, b.Memory, b.ctx.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
}
