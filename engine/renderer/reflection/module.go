package reflection

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirv"
)

var (
	ErrNotSPIRV      = errors.New("not a SPIR-V module")
	ErrMalformedCode = errors.New("malformed SPIR-V module")
)

type decorations struct {
	set, binding, location     uint32
	hasSet, hasBinding, hasLoc bool
	builtin                    bool
	block, bufferBlock         bool
	arrayStride                uint32
}

type memberDecorations struct {
	offset       uint32
	hasOffset    bool
	matrixStride uint32
	builtin      bool
}

type spirvType struct {
	op spirv.Op
	// scalar
	width  uint32
	signed bool
	// vector/matrix component or column, array element, pointer pointee, sampled image's image
	elem  uint32
	count uint32
	// array length constant id
	lengthID uint32
	members  []uint32
	storage  spirv.StorageClass
	sampled  uint32
}

type variable struct {
	id      uint32
	typeID  uint32
	storage spirv.StorageClass
}

type entryPoint struct {
	model      spirv.ExecutionModel
	name       string
	interfaces []uint32
}

// module is the parsed subset of a SPIR-V binary.
type module struct {
	names             map[uint32]string
	memberNames       map[uint32]map[uint32]string
	decorations       map[uint32]*decorations
	memberDecorations map[uint32]map[uint32]*memberDecorations
	types             map[uint32]*spirvType
	constants         map[uint32]uint32
	variables         []variable
	entryPoints       []entryPoint
}

// BytesToWords converts a little endian byte stream to SPIR-V words.
func BytesToWords(code []byte) ([]uint32, error) {
	if len(code)%4 != 0 {
		return nil, fmt.Errorf("%w: byte length %d is not a multiple of 4", ErrMalformedCode, len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words, nil
}

func parseModule(code []uint32) (*module, error) {
	if len(code) < spirv.HeaderWords {
		return nil, fmt.Errorf("%w: %d words", ErrNotSPIRV, len(code))
	}
	if code[0] != spirv.MagicNumber {
		return nil, fmt.Errorf("%w: magic 0x%08x", ErrNotSPIRV, code[0])
	}

	m := &module{
		names:             make(map[uint32]string),
		memberNames:       make(map[uint32]map[uint32]string),
		decorations:       make(map[uint32]*decorations),
		memberDecorations: make(map[uint32]map[uint32]*memberDecorations),
		types:             make(map[uint32]*spirvType),
		constants:         make(map[uint32]uint32),
	}

	for i := spirv.HeaderWords; i < len(code); {
		op, wc := spirv.Decode(code[i])
		if wc == 0 || i+wc > len(code) {
			return nil, fmt.Errorf("%w: instruction %d at word %d has word count %d", ErrMalformedCode, op, i, wc)
		}
		operands := code[i+1 : i+wc]
		if err := m.instruction(op, operands); err != nil {
			return nil, fmt.Errorf("%w: word %d: %s", ErrMalformedCode, i, err)
		}
		// nothing after the first function body is needed
		if op == spirv.OpFunction {
			break
		}
		i += wc
	}
	return m, nil
}

func need(operands []uint32, n int, op spirv.Op) error {
	if len(operands) < n {
		return fmt.Errorf("op %d needs %d operands, got %d", op, n, len(operands))
	}
	return nil
}

func (m *module) instruction(op spirv.Op, operands []uint32) error {
	switch op {
	case spirv.OpName:
		if err := need(operands, 2, op); err != nil {
			return err
		}
		m.names[operands[0]], _ = spirv.DecodeString(operands[1:])
	case spirv.OpMemberName:
		if err := need(operands, 3, op); err != nil {
			return err
		}
		if m.memberNames[operands[0]] == nil {
			m.memberNames[operands[0]] = make(map[uint32]string)
		}
		m.memberNames[operands[0]][operands[1]], _ = spirv.DecodeString(operands[2:])
	case spirv.OpEntryPoint:
		if err := need(operands, 3, op); err != nil {
			return err
		}
		name, n := spirv.DecodeString(operands[2:])
		m.entryPoints = append(m.entryPoints, entryPoint{
			model:      spirv.ExecutionModel(operands[0]),
			name:       name,
			interfaces: append([]uint32(nil), operands[2+n:]...),
		})
	case spirv.OpDecorate:
		if err := need(operands, 2, op); err != nil {
			return err
		}
		m.decorate(operands[0], spirv.Decoration(operands[1]), operands[2:])
	case spirv.OpMemberDecorate:
		if err := need(operands, 3, op); err != nil {
			return err
		}
		m.memberDecorate(operands[0], operands[1], spirv.Decoration(operands[2]), operands[3:])
	case spirv.OpTypeBool:
		if err := need(operands, 1, op); err != nil {
			return err
		}
		m.types[operands[0]] = &spirvType{op: op, width: 32}
	case spirv.OpTypeInt:
		if err := need(operands, 3, op); err != nil {
			return err
		}
		m.types[operands[0]] = &spirvType{op: op, width: operands[1], signed: operands[2] == 1}
	case spirv.OpTypeFloat:
		if err := need(operands, 2, op); err != nil {
			return err
		}
		m.types[operands[0]] = &spirvType{op: op, width: operands[1]}
	case spirv.OpTypeVector, spirv.OpTypeMatrix:
		if err := need(operands, 3, op); err != nil {
			return err
		}
		m.types[operands[0]] = &spirvType{op: op, elem: operands[1], count: operands[2]}
	case spirv.OpTypeImage:
		if err := need(operands, 8, op); err != nil {
			return err
		}
		m.types[operands[0]] = &spirvType{op: op, elem: operands[1], sampled: operands[6]}
	case spirv.OpTypeSampler, spirv.OpTypeAccelStruct:
		if err := need(operands, 1, op); err != nil {
			return err
		}
		m.types[operands[0]] = &spirvType{op: op}
	case spirv.OpTypeSampledImage:
		if err := need(operands, 2, op); err != nil {
			return err
		}
		m.types[operands[0]] = &spirvType{op: op, elem: operands[1]}
	case spirv.OpTypeArray:
		if err := need(operands, 3, op); err != nil {
			return err
		}
		m.types[operands[0]] = &spirvType{op: op, elem: operands[1], lengthID: operands[2]}
	case spirv.OpTypeRuntimeArray:
		if err := need(operands, 2, op); err != nil {
			return err
		}
		m.types[operands[0]] = &spirvType{op: op, elem: operands[1]}
	case spirv.OpTypeStruct:
		if err := need(operands, 1, op); err != nil {
			return err
		}
		m.types[operands[0]] = &spirvType{op: op, members: append([]uint32(nil), operands[1:]...)}
	case spirv.OpTypePointer:
		if err := need(operands, 3, op); err != nil {
			return err
		}
		m.types[operands[0]] = &spirvType{op: op, storage: spirv.StorageClass(operands[1]), elem: operands[2]}
	case spirv.OpConstant:
		if err := need(operands, 3, op); err != nil {
			return err
		}
		m.constants[operands[1]] = operands[2]
	case spirv.OpVariable:
		if err := need(operands, 3, op); err != nil {
			return err
		}
		m.variables = append(m.variables, variable{typeID: operands[0], id: operands[1], storage: spirv.StorageClass(operands[2])})
	}
	return nil
}

func (m *module) decorationsOf(id uint32) *decorations {
	d, ok := m.decorations[id]
	if !ok {
		d = &decorations{}
		m.decorations[id] = d
	}
	return d
}

func (m *module) decorate(target uint32, decoration spirv.Decoration, literals []uint32) {
	d := m.decorationsOf(target)
	literal := func() uint32 {
		if len(literals) == 0 {
			return 0
		}
		return literals[0]
	}
	switch decoration {
	case spirv.DecorationDescriptorSet:
		d.set, d.hasSet = literal(), true
	case spirv.DecorationBinding:
		d.binding, d.hasBinding = literal(), true
	case spirv.DecorationLocation:
		d.location, d.hasLoc = literal(), true
	case spirv.DecorationBuiltIn:
		d.builtin = true
	case spirv.DecorationBlock:
		d.block = true
	case spirv.DecorationBufferBlock:
		d.bufferBlock = true
	case spirv.DecorationArrayStride:
		d.arrayStride = literal()
	}
}

func (m *module) memberDecorate(structID, member uint32, decoration spirv.Decoration, literals []uint32) {
	if m.memberDecorations[structID] == nil {
		m.memberDecorations[structID] = make(map[uint32]*memberDecorations)
	}
	md, ok := m.memberDecorations[structID][member]
	if !ok {
		md = &memberDecorations{}
		m.memberDecorations[structID][member] = md
	}
	literal := uint32(0)
	if len(literals) > 0 {
		literal = literals[0]
	}
	switch decoration {
	case spirv.DecorationOffset:
		md.offset, md.hasOffset = literal, true
	case spirv.DecorationMatrixStride:
		md.matrixStride = literal
	case spirv.DecorationBuiltIn:
		md.builtin = true
	}
}

func (m *module) member(structID, member uint32) *memberDecorations {
	if md, ok := m.memberDecorations[structID][member]; ok {
		return md
	}
	return &memberDecorations{}
}

// sizeOf returns the byte size of a type as laid out in a buffer block.
func (m *module) sizeOf(typeID uint32, matrixStride uint32) uint32 {
	t, ok := m.types[typeID]
	if !ok {
		return 0
	}
	switch t.op {
	case spirv.OpTypeBool:
		return 4
	case spirv.OpTypeInt, spirv.OpTypeFloat:
		return t.width / 8
	case spirv.OpTypeVector:
		return t.count * m.sizeOf(t.elem, 0)
	case spirv.OpTypeMatrix:
		if matrixStride > 0 {
			return t.count * matrixStride
		}
		return t.count * m.sizeOf(t.elem, 0)
	case spirv.OpTypeArray:
		length := m.constants[t.lengthID]
		if stride := m.decorationsOf(typeID).arrayStride; stride > 0 {
			return length * stride
		}
		return length * m.sizeOf(t.elem, matrixStride)
	case spirv.OpTypeRuntimeArray:
		return 0
	case spirv.OpTypeStruct:
		size := uint32(0)
		running := uint32(0)
		for i, memberType := range t.members {
			md := m.member(typeID, uint32(i))
			offset := running
			if md.hasOffset {
				offset = md.offset
			}
			end := offset + m.sizeOf(memberType, md.matrixStride)
			if end > size {
				size = end
			}
			running = end
		}
		return size
	default:
		return 0
	}
}

// unwrapArray strips one level of array, returning the element type and the count
// (1 when not an array, 0 for runtime arrays).
func (m *module) unwrapArray(typeID uint32) (uint32, uint32) {
	t, ok := m.types[typeID]
	if !ok {
		return typeID, 1
	}
	switch t.op {
	case spirv.OpTypeArray:
		return t.elem, m.constants[t.lengthID]
	case spirv.OpTypeRuntimeArray:
		return t.elem, 0
	default:
		return typeID, 1
	}
}
