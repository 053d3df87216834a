package spirvtest

import "github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirv"

// Sizes of the fixture blocks as a shader compiler lays them out.
const (
	GlobalsSize          = 192
	CameraSize           = 96
	DirectionalLightSize = 72
	PushConstantSize     = 112
)

func (b *Builder) globalsBlock() {
	mat4 := b.Matrix(b.Vector(b.Float(32), 4), 4)
	b.UniformBlock("globals", 0, 0,
		Member{Name: "view", Type: mat4, Offset: 0, MatrixStride: 16},
		Member{Name: "projection", Type: mat4, Offset: 64, MatrixStride: 16},
		Member{Name: "view_projection", Type: mat4, Offset: 128, MatrixStride: 16},
	)
}

func (b *Builder) pushConstantBlock() {
	f32 := b.Float(32)
	u32 := b.Int(32, false)
	mat4 := b.Matrix(b.Vector(f32, 4), 4)
	b.PushConstantBlock("object",
		Member{Name: "model", Type: mat4, Offset: 0, MatrixStride: 16},
		Member{Name: "colour", Type: b.Vector(f32, 4), Offset: 64},
		Member{Name: "light_count", Type: u32, Offset: 80},
		Member{Name: "max_identifiers", Type: u32, Offset: 84},
		Member{Name: "current_identifier", Type: u32, Offset: 88},
		Member{Name: "max_point_lights", Type: u32, Offset: 92},
		Member{Name: "image_indices", Type: b.Array(b.Int(32, true), 4, 4), Offset: 96},
	)
}

// QuadVertex mirrors assets/shaders/quad.vert: per-frame globals, the object push
// constant and the five quad vertex attributes.
func QuadVertex() []uint32 {
	b := New().EntryPoint(spirv.ExecutionModelVertex, "main")
	f32 := b.Float(32)
	b.globalsBlock()
	b.pushConstantBlock()
	b.Input("in_position", 0, b.Vector(f32, 3))
	b.Input("in_uv", 1, b.Vector(f32, 2))
	b.Input("in_normal", 2, b.Vector(f32, 3))
	b.Input("in_colour", 3, b.Vector(f32, 4))
	b.Input("in_identifier", 4, b.Int(32, false))
	b.BuiltIn("gl_VertexIndex", spirv.StorageClassInput, b.Int(32, true), 42)
	b.Output("out_colour", 0, b.Vector(f32, 4))
	return b.Words()
}

// QuadFragment samples the diffuse texture and reads the camera and light blocks.
func QuadFragment() []uint32 {
	b := New().EntryPoint(spirv.ExecutionModelFragment, "main")
	f32 := b.Float(32)
	vec4 := b.Vector(f32, 4)
	mat4 := b.Matrix(vec4, 4)
	b.globalsBlock()
	b.UniformBlock("camera", 0, 1,
		Member{Name: "position", Type: vec4, Offset: 0},
		Member{Name: "direction", Type: vec4, Offset: 16},
		Member{Name: "view", Type: mat4, Offset: 32, MatrixStride: 16},
	)
	b.UniformBlock("light", 0, 2,
		Member{Name: "direction", Type: vec4, Offset: 0},
		Member{Name: "ambient", Type: vec4, Offset: 16},
		Member{Name: "diffuse", Type: vec4, Offset: 32},
		Member{Name: "specular", Type: vec4, Offset: 48},
		Member{Name: "near", Type: f32, Offset: 64},
		Member{Name: "far", Type: f32, Offset: 68},
	)
	b.Resource("diffuse", spirv.StorageClassUniformConstant, b.SampledImage(b.Image(spirv.ImageSampled)), 1, 0)
	b.pushConstantBlock()
	b.Input("in_colour", 0, vec4)
	b.Output("out_colour", 0, vec4)
	return b.Words()
}

// LineVertex reads position and colour; withIdentifier adds the picking id at location 2.
func LineVertex(withIdentifier bool) []uint32 {
	b := New().EntryPoint(spirv.ExecutionModelVertex, "main")
	f32 := b.Float(32)
	b.globalsBlock()
	b.pushConstantBlock()
	b.Input("in_position", 0, b.Vector(f32, 3))
	b.Input("in_colour", 1, b.Vector(f32, 4))
	if withIdentifier {
		b.Input("in_identifier", 2, b.Int(32, false))
	}
	b.Output("out_colour", 0, b.Vector(f32, 4))
	return b.Words()
}

func LineFragment() []uint32 {
	b := New().EntryPoint(spirv.ExecutionModelFragment, "main")
	vec4 := b.Vector(b.Float(32), 4)
	b.Input("in_colour", 0, vec4)
	b.Output("out_colour", 0, vec4)
	return b.Words()
}
