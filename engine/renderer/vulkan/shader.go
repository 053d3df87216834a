package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

/**
 * @brief Represents a single shader stage.
 */
type Shader struct {
	ctx *Context
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
	props  metadata.ShaderProperties
}

func newShader(ctx *Context, props metadata.ShaderProperties) (*Shader, error) {
	if len(props.Code) == 0 {
		return nil, fmt.Errorf("%w: shader %q has no code", core.ErrConstructionFailure, props.Key)
	}
	if props.EntryPoint == "" {
		props.EntryPoint = "main"
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: codeSize(props.Code),
		PCode:    props.Code,
	}
	s := &Shader{ctx: ctx, props: props}
	if err := check(core.ErrConstructionFailure, "create_shader_module", vk.CreateShaderModule(ctx.LogicalDevice, &createInfo, ctx.Allocator, &s.Handle)); err != nil {
		return nil, err
	}
	return s, nil
}

// codeSize is the SPIR-V size in bytes.
func codeSize(code []uint32) uint64 {
	return uint64(len(code) * 4)
}

func (s *Shader) Key() string                           { return s.props.Key }
func (s *Shader) Stage() metadata.ShaderStage           { return s.props.Stage }
func (s *Shader) EntryPoint() string                    { return s.props.EntryPoint }
func (s *Shader) Properties() metadata.ShaderProperties { return s.props }

func (s *Shader) stageCreateInfo() vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFlagBits(s.props.Stage),
		Module: s.Handle,
		PName:  SafeString(s.props.EntryPoint),
	}
}

func (s *Shader) Destroy() {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(s.ctx.LogicalDevice, s.Handle, s.ctx.Allocator)
		s.Handle = vk.NullShaderModule
	}
}
