package metadata

import "fmt"

type VertexFormat uint8

const (
	VertexFormatFloat VertexFormat = iota
	VertexFormatFloat2
	VertexFormatFloat3
	VertexFormatFloat4
	VertexFormatUInt
	VertexFormatInt
)

func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFormatFloat2:
		return 8
	case VertexFormatFloat3:
		return 12
	case VertexFormatFloat4:
		return 16
	default:
		return 4
	}
}

func (f VertexFormat) String() string {
	switch f {
	case VertexFormatFloat:
		return "float"
	case VertexFormatFloat2:
		return "float2"
	case VertexFormatFloat3:
		return "float3"
	case VertexFormatFloat4:
		return "float4"
	case VertexFormatUInt:
		return "uint"
	case VertexFormatInt:
		return "int"
	default:
		return fmt.Sprintf("format %d", uint8(f))
	}
}

type VertexAttribute struct {
	Location uint32
	Format   VertexFormat
	Offset   uint32
}

type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

// NewVertexLayout packs the formats tightly, assigning locations in order.
func NewVertexLayout(formats ...VertexFormat) VertexLayout {
	layout := VertexLayout{}
	for i, f := range formats {
		layout.Attributes = append(layout.Attributes, VertexAttribute{
			Location: uint32(i),
			Format:   f,
			Offset:   layout.Stride,
		})
		layout.Stride += f.Size()
	}
	return layout
}

func (l VertexLayout) Attribute(location uint32) (VertexAttribute, bool) {
	for _, a := range l.Attributes {
		if a.Location == location {
			return a, true
		}
	}
	return VertexAttribute{}, false
}

type Topology uint8

const (
	TopologyTriangles Topology = iota
	TopologyLines
	TopologyPoints
)

type PolygonMode uint8

const (
	PolygonModeFill PolygonMode = iota
	PolygonModeLine
	PolygonModePoint
)

type CullMode uint8

const (
	CullModeNone CullMode = iota
	CullModeBack
	CullModeFront
	CullModeFrontAndBack
)

type FaceMode uint8

const (
	FaceModeCounterClockwise FaceMode = iota
	FaceModeClockwise
)

type DepthCompare uint8

const (
	DepthCompareLess DepthCompare = iota
	DepthCompareLessOrEqual
	DepthCompareGreater
	DepthCompareAlways
)

/**
 * @brief The user facing description of a graphics pipeline. Everything except Key
 * participates in the state hash used to name the persisted pipeline blob.
 */
type PipelineProperties struct {
	Key            string
	VertexShader   string
	FragmentShader string
	Layout         VertexLayout
	Topology       Topology
	PolygonMode    PolygonMode
	CullMode       CullMode
	FaceMode       FaceMode
	LineWidth      float32
	DepthTest      bool
	DepthWrite     bool
	DepthCompare   DepthCompare
	Blend          bool
	// DynamicViewport pipelines do not depend on the surface size.
	DynamicViewport bool
}

// PipelineCreateInfo is what the pipeline cache hands to the backend.
type PipelineCreateInfo struct {
	Properties    *PipelineProperties
	Shaders       []Shader
	SetLayouts    []SetLayout
	PushConstants []PushConstantRange
	Extent        Extent
	RenderPass    RenderPass
	// CacheBlob is the opaque driver blob loaded from disk, possibly empty.
	CacheBlob []byte
}
