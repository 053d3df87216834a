package metadata

import (
	"fmt"
	"sort"
	"strings"
)

// ShaderStage uses the Vulkan stage bit values so backends can cast directly.
type ShaderStage uint32

const (
	ShaderStageVertex   ShaderStage = 0x00000001
	ShaderStageFragment ShaderStage = 0x00000010
	ShaderStageCompute  ShaderStage = 0x00000020

	ShaderStageAllGraphics = ShaderStageVertex | ShaderStageFragment
)

func (s ShaderStage) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	if s&ShaderStageVertex != 0 {
		parts = append(parts, "vertex")
	}
	if s&ShaderStageFragment != 0 {
		parts = append(parts, "fragment")
	}
	if s&ShaderStageCompute != 0 {
		parts = append(parts, "compute")
	}
	return strings.Join(parts, "|")
}

// Extension returns the file name infix used for precompiled shaders (quad.vert.spv).
func (s ShaderStage) Extension() string {
	switch s {
	case ShaderStageVertex:
		return "vert"
	case ShaderStageFragment:
		return "frag"
	case ShaderStageCompute:
		return "comp"
	default:
		return ""
	}
}

func ShaderStageFromExtension(ext string) (ShaderStage, bool) {
	switch strings.TrimPrefix(ext, ".") {
	case "vert":
		return ShaderStageVertex, true
	case "frag":
		return ShaderStageFragment, true
	case "comp":
		return ShaderStageCompute, true
	default:
		return 0, false
	}
}

type DescriptorKind uint8

const (
	DescriptorUniformBuffer DescriptorKind = iota
	DescriptorStorageBuffer
	DescriptorSampledImage
	DescriptorStorageImage
	DescriptorSeparateImage
	DescriptorSampler
)

func (k DescriptorKind) String() string {
	switch k {
	case DescriptorUniformBuffer:
		return "uniform buffer"
	case DescriptorStorageBuffer:
		return "storage buffer"
	case DescriptorSampledImage:
		return "sampled image"
	case DescriptorStorageImage:
		return "storage image"
	case DescriptorSeparateImage:
		return "separate image"
	case DescriptorSampler:
		return "separate sampler"
	default:
		return fmt.Sprintf("descriptor kind %d", uint8(k))
	}
}

func (k DescriptorKind) IsBuffer() bool {
	return k == DescriptorUniformBuffer || k == DescriptorStorageBuffer
}

func (k DescriptorKind) IsImage() bool {
	return k == DescriptorSampledImage || k == DescriptorStorageImage || k == DescriptorSeparateImage
}

/**
 * @brief Addresses one shader resource slot. By convention set 0 holds the per-frame
 * uniform buffers, set 1 sampled images, set 2 image/sampler arrays and set 3
 * per-object storage buffers.
 */
type DescriptorBinding struct {
	Set     uint32
	Binding uint32
}

func (d DescriptorBinding) String() string {
	return fmt.Sprintf("(set=%d, binding=%d)", d.Set, d.Binding)
}

const (
	SetPerFrame    uint32 = 0
	SetImages      uint32 = 1
	SetImageArrays uint32 = 2
	SetStorage     uint32 = 3
)

type LayoutBinding struct {
	Binding uint32
	Kind    DescriptorKind
	// Count is the array size; 0 means an unbounded (runtime) array.
	Count  uint32
	Stages ShaderStage
	Size   uint32
	Name   string
}

// DescriptorCount is the number of descriptors a backend reserves for the binding.
func (b LayoutBinding) DescriptorCount() uint32 {
	if b.Count == 0 {
		return MaxUnboundedDescriptors
	}
	return b.Count
}

// MaxUnboundedDescriptors bounds runtime arrays in set layouts.
const MaxUnboundedDescriptors = 256

type SetLayout struct {
	Set      uint32
	Bindings []LayoutBinding
}

func (l SetLayout) Binding(binding uint32) (LayoutBinding, bool) {
	for _, b := range l.Bindings {
		if b.Binding == binding {
			return b, true
		}
	}
	return LayoutBinding{}, false
}

func (l *SetLayout) SortBindings() {
	sort.Slice(l.Bindings, func(i, j int) bool { return l.Bindings[i].Binding < l.Bindings[j].Binding })
}

type PushConstantRange struct {
	Offset uint32
	Size   uint32
	Stages ShaderStage
}

type ShaderProperties struct {
	Key        string
	Stage      ShaderStage
	EntryPoint string
	Code       []uint32
	Path       string
}

// DescriptorWrite points one binding (or array element) at a buffer or an image.
type DescriptorWrite struct {
	Binding      uint32
	ArrayElement uint32
	Kind         DescriptorKind
	Buffer       Buffer
	Image        Image
}

type UniformType uint8

const (
	UniformTypeUnknown UniformType = iota
	UniformTypeBool
	UniformTypeInt
	UniformTypeUInt
	UniformTypeFloat
	UniformTypeVec2
	UniformTypeVec3
	UniformTypeVec4
	UniformTypeIVec2
	UniformTypeIVec3
	UniformTypeIVec4
	UniformTypeUVec2
	UniformTypeUVec3
	UniformTypeUVec4
	UniformTypeMat3
	UniformTypeMat4
	UniformTypeStruct
	UniformTypeArray
)

func (u UniformType) String() string {
	names := [...]string{"unknown", "bool", "int", "uint", "float", "vec2", "vec3", "vec4",
		"ivec2", "ivec3", "ivec4", "uvec2", "uvec3", "uvec4", "mat3", "mat4", "struct", "array"}
	if int(u) < len(names) {
		return names[u]
	}
	return "unknown"
}
