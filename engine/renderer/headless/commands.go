package headless

import (
	"fmt"

	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

type commandState uint8

const (
	stateInitial commandState = iota
	stateRecording
	stateExecutable
	stateInvalid
)

func (s commandState) String() string {
	switch s {
	case stateInitial:
		return "initial"
	case stateRecording:
		return "recording"
	case stateExecutable:
		return "executable"
	default:
		return "invalid"
	}
}

type CommandKind uint8

const (
	CmdBeginRenderPass CommandKind = iota
	CmdEndRenderPass
	CmdSetViewport
	CmdBindPipeline
	CmdBindDescriptorSets
	CmdPushConstants
	CmdBindVertexBuffer
	CmdBindIndexBuffer
	CmdSetLineWidth
	CmdDrawIndexed
)

func (k CommandKind) String() string {
	names := [...]string{"begin render pass", "end render pass", "set viewport", "bind pipeline",
		"bind descriptor sets", "push constants", "bind vertex buffer", "bind index buffer",
		"set line width", "draw indexed"}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// Command is one recorded call. Only the fields relevant to Kind are set.
type Command struct {
	Kind          CommandKind
	Pipeline      metadata.Pipeline
	Sets          []metadata.DescriptorSet
	Buffer        metadata.Buffer
	Stages        metadata.ShaderStage
	Data          []byte
	Extent        metadata.Extent
	LineWidth     float32
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	VertexOffset  int32
}

func (c Command) String() string {
	if c.Kind == CmdDrawIndexed {
		return fmt.Sprintf("%s(%d, %d, %d, %d)", c.Kind, c.IndexCount, c.InstanceCount, c.FirstIndex, c.VertexOffset)
	}
	return c.Kind.String()
}

// CommandBuffer records commands; the recording becomes visible through Submitted once
// the device executed it.
type CommandBuffer struct {
	device    *Device
	pool      *CommandPool
	state     commandState
	inPass    bool
	pipeline  metadata.Pipeline
	commands  []Command
	submitted []Command
}

func (cb *CommandBuffer) Reset() error {
	if cb.state == stateInvalid {
		return fmt.Errorf("%w: command pool", ErrDestroyed)
	}
	cb.state = stateInitial
	cb.inPass = false
	cb.pipeline = nil
	cb.commands = cb.commands[:0]
	return nil
}

func (cb *CommandBuffer) Begin() error {
	if cb.state != stateInitial {
		return fmt.Errorf("%w: begin on a command buffer that is %s", ErrInvalidUsage, cb.state)
	}
	cb.state = stateRecording
	return nil
}

func (cb *CommandBuffer) End() error {
	if cb.state != stateRecording {
		return fmt.Errorf("%w: end on a command buffer that is %s", ErrInvalidUsage, cb.state)
	}
	if cb.inPass {
		return fmt.Errorf("%w: end inside a render pass", ErrInvalidUsage)
	}
	cb.state = stateExecutable
	return nil
}

// record drops commands issued outside of recording; the Vulkan validation layers
// would flag them, the tests look at what was recorded.
func (cb *CommandBuffer) record(c Command) {
	if cb.state != stateRecording {
		return
	}
	cb.commands = append(cb.commands, c)
}

func (cb *CommandBuffer) BeginRenderPass(pass metadata.RenderPass, framebuffer metadata.Framebuffer) {
	cb.inPass = true
	cb.record(Command{Kind: CmdBeginRenderPass, Extent: framebuffer.Extent()})
}

func (cb *CommandBuffer) EndRenderPass() {
	cb.inPass = false
	cb.record(Command{Kind: CmdEndRenderPass})
}

func (cb *CommandBuffer) SetViewport(extent metadata.Extent) {
	cb.record(Command{Kind: CmdSetViewport, Extent: extent})
}

func (cb *CommandBuffer) BindPipeline(pipeline metadata.Pipeline) {
	cb.pipeline = pipeline
	cb.record(Command{Kind: CmdBindPipeline, Pipeline: pipeline})
}

func (cb *CommandBuffer) BindDescriptorSets(pipeline metadata.Pipeline, sets []metadata.DescriptorSet) {
	cb.record(Command{Kind: CmdBindDescriptorSets, Pipeline: pipeline, Sets: append([]metadata.DescriptorSet(nil), sets...)})
}

func (cb *CommandBuffer) PushConstants(pipeline metadata.Pipeline, stages metadata.ShaderStage, offset uint32, data []byte) {
	cb.record(Command{Kind: CmdPushConstants, Pipeline: pipeline, Stages: stages, FirstIndex: offset, Data: append([]byte(nil), data...)})
}

func (cb *CommandBuffer) BindVertexBuffer(buffer metadata.Buffer, offset uint64) {
	cb.record(Command{Kind: CmdBindVertexBuffer, Buffer: buffer})
}

func (cb *CommandBuffer) BindIndexBuffer(buffer metadata.Buffer, offset uint64) {
	cb.record(Command{Kind: CmdBindIndexBuffer, Buffer: buffer})
}

func (cb *CommandBuffer) SetLineWidth(width float32) {
	cb.record(Command{Kind: CmdSetLineWidth, LineWidth: width})
}

func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32) {
	if cb.state == stateRecording {
		cb.device.count(func(s *Stats) { s.DrawCalls++ })
	}
	cb.record(Command{
		Kind:          CmdDrawIndexed,
		Pipeline:      cb.pipeline,
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		FirstIndex:    firstIndex,
		VertexOffset:  vertexOffset,
	})
}

// Recorded returns the commands recorded since the last Reset.
func (cb *CommandBuffer) Recorded() []Command {
	return cb.commands
}

// Submitted returns the commands of the last submission.
func (cb *CommandBuffer) Submitted() []Command {
	return cb.submitted
}

// Draws filters the draw calls out of commands.
func Draws(commands []Command) []Command {
	var out []Command
	for _, c := range commands {
		if c.Kind == CmdDrawIndexed {
			out = append(out, c)
		}
	}
	return out
}
