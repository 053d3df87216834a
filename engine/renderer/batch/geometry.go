package batch

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

var (
	quadCorners = [4]mgl32.Vec4{
		{-0.5, -0.5, 0, 1},
		{0.5, -0.5, 0, 1},
		{0.5, 0.5, 0, 1},
		{-0.5, 0.5, 0, 1},
	}
	quadUVs    = [4]mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	quadNormal = mgl32.Vec3{0, -1, 0}
)

// Transform is translate(position) * rotation * scale(dimensions). A zero quaternion
// counts as no rotation.
func Transform(props *metadata.GeometryProperties) mgl32.Mat4 {
	rotation := props.Rotation
	if rotation == (mgl32.Quat{}) {
		rotation = mgl32.QuatIdent()
	}
	d := props.Dimensions
	return mgl32.Translate3D(props.Position.X(), props.Position.Y(), props.Position.Z()).
		Mul4(rotation.Mat4()).
		Mul4(mgl32.Scale3D(d.X(), d.Y(), d.Z()))
}

var quadKind = kind[metadata.QuadVertex]{
	name:              "quad",
	verticesPerObject: 4,
	indicesPerObject:  6,
	layout:            metadata.QuadVertexLayout,
	accepts: func(g metadata.Geometry, _ *metadata.GeometryProperties) bool {
		return g == metadata.GeometryRectangle
	},
	emit: func(props *metadata.GeometryProperties, out []metadata.QuadVertex) {
		transform := Transform(props)
		for i := range out {
			out[i] = metadata.QuadVertex{
				Position:   transform.Mul4x1(quadCorners[i]).Vec3(),
				UV:         quadUVs[i],
				Normal:     quadNormal,
				Colour:     props.Colour,
				Identifier: props.Identifier,
			}
		}
	},
	indices: func(object uint32, out []uint32) {
		base := object * 4
		copy(out, []uint32{base, base + 1, base + 2, base + 2, base + 3, base})
	},
}

func lineIndices(object uint32, out []uint32) {
	out[0] = object * 2
	out[1] = object*2 + 1
}

var lineKind = kind[metadata.LineVertex]{
	name:              "line",
	verticesPerObject: 2,
	indicesPerObject:  2,
	layout:            metadata.LineVertexLayout,
	lines:             true,
	accepts: func(g metadata.Geometry, props *metadata.GeometryProperties) bool {
		return g == metadata.GeometryLine && !props.HasIdentifier
	},
	emit: func(props *metadata.GeometryProperties, out []metadata.LineVertex) {
		out[0] = metadata.LineVertex{Position: props.Position, Colour: props.Colour}
		out[1] = metadata.LineVertex{Position: props.To, Colour: props.Colour}
	},
	indices: lineIndices,
}

var lineIdKind = kind[metadata.LineIdVertex]{
	name:              "line id",
	verticesPerObject: 2,
	indicesPerObject:  2,
	layout:            metadata.LineIdVertexLayout,
	lines:             true,
	accepts: func(g metadata.Geometry, props *metadata.GeometryProperties) bool {
		return g == metadata.GeometryLine && props.HasIdentifier
	},
	emit: func(props *metadata.GeometryProperties, out []metadata.LineIdVertex) {
		out[0] = metadata.LineIdVertex{Position: props.Position, Colour: props.Colour, Identifier: props.Identifier}
		out[1] = metadata.LineIdVertex{Position: props.To, Colour: props.Colour, Identifier: props.Identifier}
	},
	indices: lineIndices,
}
