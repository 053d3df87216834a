package metadata

import "github.com/go-gl/mathgl/mgl32"

type Geometry uint8

const (
	GeometryRectangle Geometry = iota
	GeometryLine
	GeometryCircle
)

func (g Geometry) String() string {
	switch g {
	case GeometryRectangle:
		return "rectangle"
	case GeometryLine:
		return "line"
	case GeometryCircle:
		return "circle"
	default:
		return "unknown"
	}
}

/**
 * @brief Describes one planar primitive. Rectangles use Position, Dimensions and
 * Rotation; lines go from Position to To. Lines carrying an identifier are routed to
 * the identifier batch (used for picking).
 */
type GeometryProperties struct {
	Position      mgl32.Vec3
	To            mgl32.Vec3
	Dimensions    mgl32.Vec3
	Rotation      mgl32.Quat
	Colour        mgl32.Vec4
	Identifier    uint32
	HasIdentifier bool
}

func (p GeometryProperties) WithIdentifier(id uint32) GeometryProperties {
	p.Identifier = id
	p.HasIdentifier = true
	return p
}

type QuadVertex struct {
	Position   mgl32.Vec3
	UV         mgl32.Vec2
	Normal     mgl32.Vec3
	Colour     mgl32.Vec4
	Identifier uint32
}

type LineVertex struct {
	Position mgl32.Vec3
	Colour   mgl32.Vec4
}

type LineIdVertex struct {
	Position   mgl32.Vec3
	Colour     mgl32.Vec4
	Identifier uint32
}

var (
	QuadVertexLayout   = NewVertexLayout(VertexFormatFloat3, VertexFormatFloat2, VertexFormatFloat3, VertexFormatFloat4, VertexFormatUInt)
	LineVertexLayout   = NewVertexLayout(VertexFormatFloat3, VertexFormatFloat4)
	LineIdVertexLayout = NewVertexLayout(VertexFormatFloat3, VertexFormatFloat4, VertexFormatUInt)
)
