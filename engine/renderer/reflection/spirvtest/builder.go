// Package spirvtest assembles small SPIR-V modules for reflection tests without a
// shader compiler in the loop.
package spirvtest

import "github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirv"

type Member struct {
	Name         string
	Type         uint32
	Offset       uint32
	MatrixStride uint32
}

type Builder struct {
	next        uint32
	entryPoints [][]uint32
	debug       [][]uint32
	annotations [][]uint32
	globals     [][]uint32
	interfaces  []uint32

	floats  map[uint32]uint32
	ints    map[[2]uint32]uint32
	vectors map[[2]uint32]uint32
}

func New() *Builder {
	return &Builder{
		next:    1,
		floats:  make(map[uint32]uint32),
		ints:    make(map[[2]uint32]uint32),
		vectors: make(map[[2]uint32]uint32),
	}
}

func (b *Builder) id() uint32 {
	id := b.next
	b.next++
	return id
}

func inst(op spirv.Op, operands ...uint32) []uint32 {
	return append([]uint32{spirv.Instruction(op, len(operands)+1)}, operands...)
}

func (b *Builder) EntryPoint(model spirv.ExecutionModel, name string) *Builder {
	operands := append([]uint32{uint32(model), 0}, spirv.EncodeString(name)...)
	b.entryPoints = append(b.entryPoints, operands)
	return b
}

func (b *Builder) Name(id uint32, name string) {
	b.debug = append(b.debug, inst(spirv.OpName, append([]uint32{id}, spirv.EncodeString(name)...)...))
}

func (b *Builder) MemberName(id, member uint32, name string) {
	b.debug = append(b.debug, inst(spirv.OpMemberName, append([]uint32{id, member}, spirv.EncodeString(name)...)...))
}

func (b *Builder) Decorate(id uint32, d spirv.Decoration, literals ...uint32) {
	b.annotations = append(b.annotations, inst(spirv.OpDecorate, append([]uint32{id, uint32(d)}, literals...)...))
}

func (b *Builder) MemberDecorate(id, member uint32, d spirv.Decoration, literals ...uint32) {
	b.annotations = append(b.annotations, inst(spirv.OpMemberDecorate, append([]uint32{id, member, uint32(d)}, literals...)...))
}

func (b *Builder) Float(width uint32) uint32 {
	if id, ok := b.floats[width]; ok {
		return id
	}
	id := b.id()
	b.globals = append(b.globals, inst(spirv.OpTypeFloat, id, width))
	b.floats[width] = id
	return id
}

func (b *Builder) Int(width uint32, signed bool) uint32 {
	s := uint32(0)
	if signed {
		s = 1
	}
	if id, ok := b.ints[[2]uint32{width, s}]; ok {
		return id
	}
	id := b.id()
	b.globals = append(b.globals, inst(spirv.OpTypeInt, id, width, s))
	b.ints[[2]uint32{width, s}] = id
	return id
}

func (b *Builder) Vector(component, count uint32) uint32 {
	if id, ok := b.vectors[[2]uint32{component, count}]; ok {
		return id
	}
	id := b.id()
	b.globals = append(b.globals, inst(spirv.OpTypeVector, id, component, count))
	b.vectors[[2]uint32{component, count}] = id
	return id
}

func (b *Builder) Matrix(column, columns uint32) uint32 {
	id := b.id()
	b.globals = append(b.globals, inst(spirv.OpTypeMatrix, id, column, columns))
	return id
}

// Constant declares a 32 bit unsigned integer constant.
func (b *Builder) Constant(value uint32) uint32 {
	id := b.id()
	b.globals = append(b.globals, inst(spirv.OpConstant, b.Int(32, false), id, value))
	return id
}

// Array declares a sized array; stride 0 leaves the ArrayStride decoration out.
func (b *Builder) Array(elem, length, stride uint32) uint32 {
	lengthID := b.Constant(length)
	id := b.id()
	b.globals = append(b.globals, inst(spirv.OpTypeArray, id, elem, lengthID))
	if stride > 0 {
		b.Decorate(id, spirv.DecorationArrayStride, stride)
	}
	return id
}

func (b *Builder) RuntimeArray(elem, stride uint32) uint32 {
	id := b.id()
	b.globals = append(b.globals, inst(spirv.OpTypeRuntimeArray, id, elem))
	if stride > 0 {
		b.Decorate(id, spirv.DecorationArrayStride, stride)
	}
	return id
}

func (b *Builder) Struct(name string, members ...Member) uint32 {
	id := b.id()
	operands := []uint32{id}
	for _, m := range members {
		operands = append(operands, m.Type)
	}
	b.globals = append(b.globals, inst(spirv.OpTypeStruct, operands...))
	if name != "" {
		b.Name(id, name)
	}
	for i, m := range members {
		if m.Name != "" {
			b.MemberName(id, uint32(i), m.Name)
		}
		b.MemberDecorate(id, uint32(i), spirv.DecorationOffset, m.Offset)
		if m.MatrixStride > 0 {
			b.MemberDecorate(id, uint32(i), spirv.DecorationMatrixStride, m.MatrixStride)
		}
	}
	return id
}

// Image declares a 2D float image; sampled is spirv.ImageSampled or spirv.ImageStorage.
func (b *Builder) Image(sampled uint32) uint32 {
	id := b.id()
	// result, sampled type, Dim2D, depth, arrayed, ms, sampled, format
	b.globals = append(b.globals, inst(spirv.OpTypeImage, id, b.Float(32), 1, 0, 0, 0, sampled, 0))
	return id
}

func (b *Builder) SampledImage(image uint32) uint32 {
	id := b.id()
	b.globals = append(b.globals, inst(spirv.OpTypeSampledImage, id, image))
	return id
}

func (b *Builder) Sampler() uint32 {
	id := b.id()
	b.globals = append(b.globals, inst(spirv.OpTypeSampler, id))
	return id
}

func (b *Builder) Pointer(storage spirv.StorageClass, pointee uint32) uint32 {
	id := b.id()
	b.globals = append(b.globals, inst(spirv.OpTypePointer, id, uint32(storage), pointee))
	return id
}

func (b *Builder) Variable(name string, storage spirv.StorageClass, pointee uint32) uint32 {
	ptr := b.Pointer(storage, pointee)
	id := b.id()
	b.globals = append(b.globals, inst(spirv.OpVariable, ptr, id, uint32(storage)))
	if name != "" {
		b.Name(id, name)
	}
	if storage == spirv.StorageClassInput || storage == spirv.StorageClassOutput {
		b.interfaces = append(b.interfaces, id)
	}
	return id
}

// Resource declares a descriptor bound variable.
func (b *Builder) Resource(name string, storage spirv.StorageClass, pointee, set, binding uint32) uint32 {
	id := b.Variable(name, storage, pointee)
	b.Decorate(id, spirv.DecorationDescriptorSet, set)
	b.Decorate(id, spirv.DecorationBinding, binding)
	return id
}

// UniformBlock declares a Block decorated struct bound in the Uniform storage class.
func (b *Builder) UniformBlock(name string, set, binding uint32, members ...Member) uint32 {
	block := b.Struct(name+"Block", members...)
	b.Decorate(block, spirv.DecorationBlock)
	return b.Resource(name, spirv.StorageClassUniform, block, set, binding)
}

// StorageBlock declares a Block decorated struct in the StorageBuffer storage class.
func (b *Builder) StorageBlock(name string, set, binding uint32, members ...Member) uint32 {
	block := b.Struct(name+"Block", members...)
	b.Decorate(block, spirv.DecorationBlock)
	return b.Resource(name, spirv.StorageClassStorageBuffer, block, set, binding)
}

func (b *Builder) PushConstantBlock(name string, members ...Member) uint32 {
	block := b.Struct(name+"Block", members...)
	b.Decorate(block, spirv.DecorationBlock)
	return b.Variable(name, spirv.StorageClassPushConstant, block)
}

func (b *Builder) Input(name string, location, typ uint32) uint32 {
	id := b.Variable(name, spirv.StorageClassInput, typ)
	b.Decorate(id, spirv.DecorationLocation, location)
	return id
}

func (b *Builder) Output(name string, location, typ uint32) uint32 {
	id := b.Variable(name, spirv.StorageClassOutput, typ)
	b.Decorate(id, spirv.DecorationLocation, location)
	return id
}

// BuiltIn declares an input decorated as a built-in, e.g. gl_VertexIndex (42).
func (b *Builder) BuiltIn(name string, storage spirv.StorageClass, typ, builtin uint32) uint32 {
	id := b.Variable(name, storage, typ)
	b.Decorate(id, spirv.DecorationBuiltIn, builtin)
	return id
}

// Words assembles the module. Entry points reference a single empty function.
func (b *Builder) Words() []uint32 {
	void := b.id()
	fnType := b.id()
	fn := b.id()
	label := b.id()

	words := []uint32{spirv.MagicNumber, 0x00010000, 0, b.next, 0}
	words = append(words, inst(spirv.OpCapability, 1)...)
	words = append(words, inst(spirv.OpMemoryModel, 0, 1)...)
	for _, ep := range b.entryPoints {
		operands := append([]uint32(nil), ep...)
		operands[1] = fn
		operands = append(operands, b.interfaces...)
		words = append(words, inst(spirv.OpEntryPoint, operands...)...)
	}
	for _, d := range b.debug {
		words = append(words, d...)
	}
	for _, a := range b.annotations {
		words = append(words, a...)
	}
	for _, g := range b.globals {
		words = append(words, g...)
	}
	words = append(words, inst(spirv.OpTypeVoid, void)...)
	words = append(words, inst(spirv.OpTypeFunction, fnType, void)...)
	words = append(words, inst(spirv.OpFunction, void, fn, 0, fnType)...)
	words = append(words, inst(spirv.OpLabel, label)...)
	words = append(words, inst(spirv.OpReturn)...)
	words = append(words, inst(spirv.OpFunctionEnd)...)
	return words
}
