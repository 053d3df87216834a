package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

type Extent struct {
	Width  uint32
	Height uint32
}

func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

func (e Extent) AspectRatio() float32 {
	if e.Height == 0 {
		return 1
	}
	return float32(e.Width) / float32(e.Height)
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

type BufferUsage uint8

const (
	BufferUsageVertex BufferUsage = iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageStaging
)

func (u BufferUsage) String() string {
	switch u {
	case BufferUsageVertex:
		return "vertex"
	case BufferUsageIndex:
		return "index"
	case BufferUsageUniform:
		return "uniform"
	case BufferUsageStorage:
		return "storage"
	default:
		return "staging"
	}
}

type BufferProperties struct {
	Name  string
	Size  uint64
	Usage BufferUsage
	// Always mapped host visible memory; the batch and uniform buffers use this.
	HostVisible bool
}

type RenderPassProperties struct {
	ClearColour  mgl32.Vec4
	ClearDepth   float32
	ClearStencil uint32
	Depth        bool
	ColourFormat ImageFormat
}

/** @brief Per-frame uniform data bound at set 0, binding 0. */
type UBO struct {
	View           mgl32.Mat4
	Projection     mgl32.Mat4
	ViewProjection mgl32.Mat4
}

/** @brief Set 0, binding 1. */
type CameraUBO struct {
	Position  mgl32.Vec4
	Direction mgl32.Vec4
	View      mgl32.Mat4
}

/** @brief Set 0, binding 2. */
type DirectionalLightUBO struct {
	Direction mgl32.Vec4
	Ambient   mgl32.Vec4
	Diffuse   mgl32.Vec4
	Specular  mgl32.Vec4
	Near      float32
	Far       float32
	_         [2]float32
}

// PushConstant is pushed right before every draw call.
type PushConstant struct {
	Object            mgl32.Mat4
	Colour            mgl32.Vec4
	LightCount        uint32
	MaxIdentifiers    uint32
	CurrentIdentifier uint32
	MaxPointLights    uint32
	ImageIndices      [4]int32
}

// MaxPushConstantSize is the minimum limit every Vulkan implementation guarantees.
const MaxPushConstantSize = 128

func NewPushConstant() *PushConstant {
	return &PushConstant{
		Object:       mgl32.Ident4(),
		Colour:       mgl32.Vec4{1, 1, 1, 1},
		ImageIndices: [4]int32{-1, -1, -1, -1},
	}
}

func (pc *PushConstant) Reset() {
	*pc = *NewPushConstant()
}

// PODBytes encodes a fixed-size struct into its little endian memory layout.
func PODBytes(v any) ([]byte, error) {
	return binary.Append(nil, binary.LittleEndian, v)
}

// PODSize returns the encoded size of a fixed-size struct.
func PODSize(v any) uint32 {
	n := binary.Size(v)
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// Mesh is a pre-built vertex/index buffer pair drawn outside the batches.
type Mesh struct {
	Name       string
	Vertices   Buffer
	Indices    Buffer
	IndexCount uint32
}
