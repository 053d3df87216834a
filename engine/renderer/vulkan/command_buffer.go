package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

type commandBufferState int

const (
	commandBufferReady commandBufferState = iota
	commandBufferRecording
	commandBufferInRenderPass
	commandBufferRecordingEnded
	commandBufferSubmitted
	commandBufferNotAllocated
)

// CommandPool allocates the primary command buffers of one frame slot.
type CommandPool struct {
	ctx    *Context
	Handle vk.CommandPool
	// vkCommandPool must be externally synchronized.
	mu      sync.Mutex
	buffers []*CommandBuffer
}

func newCommandPool(ctx *Context) (*CommandPool, error) {
	createInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: ctx.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	pool := &CommandPool{ctx: ctx}
	err := ctx.locks.SafeCall(CommandPoolManagement, func() error {
		return check(core.ErrConstructionFailure, "create_command_pool", vk.CreateCommandPool(ctx.LogicalDevice, &createInfo, ctx.Allocator, &pool.Handle))
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (p *CommandPool) Allocate() (metadata.CommandBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.Handle,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := check(core.ErrConstructionFailure, "allocate_command_buffers", vk.AllocateCommandBuffers(p.ctx.LogicalDevice, &allocateInfo, handles)); err != nil {
		return nil, err
	}
	cb := &CommandBuffer{pool: p, Handle: handles[0], state: commandBufferReady}
	p.buffers = append(p.buffers, cb)
	return cb, nil
}

// Destroy frees the pool along with every buffer allocated from it.
func (p *CommandPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cb := range p.buffers {
		cb.Handle = nil
		cb.state = commandBufferNotAllocated
	}
	p.buffers = nil
	if p.Handle != vk.NullCommandPool {
		_ = p.ctx.locks.SafeCall(CommandPoolManagement, func() error {
			vk.DestroyCommandPool(p.ctx.LogicalDevice, p.Handle, p.ctx.Allocator)
			return nil
		})
		p.Handle = vk.NullCommandPool
	}
}

type CommandBuffer struct {
	pool   *CommandPool
	Handle vk.CommandBuffer
	state  commandBufferState
}

func (cb *CommandBuffer) Reset() error {
	if cb.state == commandBufferNotAllocated {
		return fmt.Errorf("%w: command buffer is not allocated", core.ErrInvalidCallSequence)
	}
	cb.pool.mu.Lock()
	defer cb.pool.mu.Unlock()
	if err := check(core.ErrSwapchainFatal, "reset_command_buffer", vk.ResetCommandBuffer(cb.Handle, 0)); err != nil {
		return err
	}
	cb.state = commandBufferReady
	return nil
}

func (cb *CommandBuffer) Begin() error {
	if cb.state != commandBufferReady {
		return fmt.Errorf("%w: begin on a command buffer in state %d", core.ErrInvalidCallSequence, cb.state)
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := check(core.ErrSwapchainFatal, "begin_command_buffer", vk.BeginCommandBuffer(cb.Handle, &beginInfo)); err != nil {
		return err
	}
	cb.state = commandBufferRecording
	return nil
}

func (cb *CommandBuffer) End() error {
	if cb.state != commandBufferRecording {
		return fmt.Errorf("%w: end on a command buffer in state %d", core.ErrInvalidCallSequence, cb.state)
	}
	if err := check(core.ErrSwapchainFatal, "end_command_buffer", vk.EndCommandBuffer(cb.Handle)); err != nil {
		return err
	}
	cb.state = commandBufferRecordingEnded
	return nil
}

func (cb *CommandBuffer) BeginRenderPass(pass metadata.RenderPass, framebuffer metadata.Framebuffer) {
	rp, ok := pass.(*RenderPass)
	fb, ok2 := framebuffer.(*Framebuffer)
	if !ok || !ok2 {
		core.LogError("begin render pass with foreign objects %T, %T", pass, framebuffer)
		return
	}
	clearValues := rp.clearValues()
	extent := fb.Extent()
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.Handle,
		Framebuffer: fb.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cb.Handle, &beginInfo, vk.SubpassContentsInline)
	cb.state = commandBufferInRenderPass
}

func (cb *CommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(cb.Handle)
	cb.state = commandBufferRecording
}

// SetViewport flips the viewport so +Y points up, matching the projection matrices.
func (cb *CommandBuffer) SetViewport(extent metadata.Extent) {
	viewport := vk.Viewport{
		X:        0,
		Y:        float32(extent.Height),
		Width:    float32(extent.Width),
		Height:   -float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
	}
	vk.CmdSetViewport(cb.Handle, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(cb.Handle, 0, 1, []vk.Rect2D{scissor})
}

func (cb *CommandBuffer) BindPipeline(pipeline metadata.Pipeline) {
	p, ok := pipeline.(*Pipeline)
	if !ok {
		core.LogError("bind pipeline with foreign object %T", pipeline)
		return
	}
	vk.CmdBindPipeline(cb.Handle, vk.PipelineBindPointGraphics, p.Pipeline)
}

// BindDescriptorSets binds each set at its own set number.
func (cb *CommandBuffer) BindDescriptorSets(pipeline metadata.Pipeline, sets []metadata.DescriptorSet) {
	p, ok := pipeline.(*Pipeline)
	if !ok {
		core.LogError("bind descriptor sets with foreign pipeline %T", pipeline)
		return
	}
	for _, set := range sets {
		ds, ok := set.(*DescriptorSet)
		if !ok || ds == nil {
			continue
		}
		vk.CmdBindDescriptorSets(cb.Handle, vk.PipelineBindPointGraphics, p.Layout, ds.Set(), 1, []vk.DescriptorSet{ds.Handle}, 0, nil)
	}
}

func (cb *CommandBuffer) PushConstants(pipeline metadata.Pipeline, stages metadata.ShaderStage, offset uint32, data []byte) {
	p, ok := pipeline.(*Pipeline)
	if !ok || len(data) == 0 {
		return
	}
	vk.CmdPushConstants(cb.Handle, p.Layout, toVkStages(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (cb *CommandBuffer) BindVertexBuffer(buffer metadata.Buffer, offset uint64) {
	b, ok := buffer.(*Buffer)
	if !ok {
		core.LogError("bind vertex buffer with foreign object %T", buffer)
		return
	}
	vk.CmdBindVertexBuffers(cb.Handle, 0, 1, []vk.Buffer{b.Handle}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (cb *CommandBuffer) BindIndexBuffer(buffer metadata.Buffer, offset uint64) {
	b, ok := buffer.(*Buffer)
	if !ok {
		core.LogError("bind index buffer with foreign object %T", buffer)
		return
	}
	vk.CmdBindIndexBuffer(cb.Handle, b.Handle, vk.DeviceSize(offset), vk.IndexTypeUint32)
}

func (cb *CommandBuffer) SetLineWidth(width float32) {
	vk.CmdSetLineWidth(cb.Handle, width)
}

func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32) {
	vk.CmdDrawIndexed(cb.Handle, indexCount, instanceCount, firstIndex, vertexOffset, 0)
}
