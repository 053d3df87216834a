// Package spirv holds the subset of the SPIR-V binary grammar needed to reflect
// descriptor bindings, push constants and stage interfaces.
package spirv

const (
	MagicNumber = 0x07230203
	// HeaderWords is magic, version, generator, bound and schema.
	HeaderWords = 5
)

type Op uint16

const (
	OpName             Op = 5
	OpMemberName       Op = 6
	OpEntryPoint       Op = 15
	OpExecutionMode    Op = 16
	OpCapability       Op = 17
	OpTypeVoid         Op = 19
	OpTypeBool         Op = 20
	OpTypeInt          Op = 21
	OpTypeFloat        Op = 22
	OpTypeVector       Op = 23
	OpTypeMatrix       Op = 24
	OpTypeImage        Op = 25
	OpTypeSampler      Op = 26
	OpTypeSampledImage Op = 27
	OpTypeArray        Op = 28
	OpTypeRuntimeArray Op = 29
	OpTypeStruct       Op = 30
	OpTypePointer      Op = 32
	OpTypeFunction     Op = 33
	OpConstant         Op = 43
	OpFunction         Op = 54
	OpVariable         Op = 59
	OpDecorate         Op = 71
	OpMemberDecorate   Op = 72
	OpTypeAccelStruct  Op = 5341
	OpMemoryModel      Op = 14
	OpFunctionEnd      Op = 56
	OpReturn           Op = 253
	OpLabel            Op = 248
	OpExtInstImport    Op = 11
	OpSource           Op = 3
)

type Decoration uint32

const (
	DecorationBlock         Decoration = 2
	DecorationBufferBlock   Decoration = 3
	DecorationArrayStride   Decoration = 6
	DecorationMatrixStride  Decoration = 7
	DecorationBuiltIn       Decoration = 11
	DecorationNonWritable   Decoration = 24
	DecorationLocation      Decoration = 30
	DecorationBinding       Decoration = 33
	DecorationDescriptorSet Decoration = 34
	DecorationOffset        Decoration = 35
)

type StorageClass uint32

const (
	StorageClassUniformConstant StorageClass = 0
	StorageClassInput           StorageClass = 1
	StorageClassUniform         StorageClass = 2
	StorageClassOutput          StorageClass = 3
	StorageClassWorkgroup       StorageClass = 4
	StorageClassPrivate         StorageClass = 6
	StorageClassFunction        StorageClass = 7
	StorageClassPushConstant    StorageClass = 9
	StorageClassStorageBuffer   StorageClass = 12
)

type ExecutionModel uint32

const (
	ExecutionModelVertex    ExecutionModel = 0
	ExecutionModelFragment  ExecutionModel = 4
	ExecutionModelGLCompute ExecutionModel = 5
)

// Image "Sampled" operand values.
const (
	ImageSampledUnknown = 0
	ImageSampled        = 1
	ImageStorage        = 2
)

// Instruction encodes the first word of an instruction.
func Instruction(op Op, wordCount int) uint32 {
	return uint32(wordCount)<<16 | uint32(op)
}

// Decode splits the first word of an instruction.
func Decode(word uint32) (Op, int) {
	return Op(word & 0xffff), int(word >> 16)
}

// EncodeString packs a literal string into nul terminated little endian words.
func EncodeString(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
	}
	return words
}

// DecodeString reads a literal string and returns it with the number of words consumed.
func DecodeString(words []uint32) (string, int) {
	var b []byte
	for i, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(b), i + 1
			}
			b = append(b, c)
		}
	}
	return string(b), len(words)
}
