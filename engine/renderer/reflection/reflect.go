package reflection

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirv"
)

func stageOf(model spirv.ExecutionModel) metadata.ShaderStage {
	switch model {
	case spirv.ExecutionModelVertex:
		return metadata.ShaderStageVertex
	case spirv.ExecutionModelFragment:
		return metadata.ShaderStageFragment
	case spirv.ExecutionModelGLCompute:
		return metadata.ShaderStageCompute
	default:
		return 0
	}
}

// reflect extracts the resource interface of one shader module. Stage is used when
// the module declares no entry point of a known stage.
func reflect(code []uint32, stage metadata.ShaderStage) (*Data, error) {
	m, err := parseModule(code)
	if err != nil {
		return nil, err
	}

	data := newData(0)
	for _, ep := range m.entryPoints {
		s := stageOf(ep.model)
		if s == 0 {
			continue
		}
		data.EntryPoints = append(data.EntryPoints, EntryPoint{Name: ep.name, Stage: s})
		data.Stages |= s
	}
	if data.Stages == 0 {
		data.Stages = stage
	}
	// a multi-entry module reflected for a single stage keeps only that stage and the
	// stage inputs and outputs of its entry point
	var iface map[uint32]bool
	if stage != 0 && data.Stages&stage != 0 {
		data.Stages = stage
		for _, ep := range m.entryPoints {
			if stageOf(ep.model) != stage {
				continue
			}
			iface = make(map[uint32]bool, len(ep.interfaces))
			for _, id := range ep.interfaces {
				iface[id] = true
			}
			break
		}
	}

	for _, v := range m.variables {
		ptr, ok := m.types[v.typeID]
		if !ok || ptr.op != spirv.OpTypePointer {
			return nil, fmt.Errorf("%w: variable %d has no pointer type", ErrMalformedCode, v.id)
		}
		switch v.storage {
		case spirv.StorageClassUniform, spirv.StorageClassStorageBuffer, spirv.StorageClassUniformConstant:
			if err := m.reflectResource(data, v, ptr.elem); err != nil {
				return nil, err
			}
		case spirv.StorageClassPushConstant:
			m.reflectPushConstant(data, v, ptr.elem)
		case spirv.StorageClassInput, spirv.StorageClassOutput:
			d := m.decorations[v.id]
			if d == nil || d.builtin || !d.hasLoc {
				continue
			}
			if iface != nil && !iface[v.id] {
				continue
			}
			sv := StageVariable{Name: m.names[v.id], Location: d.location, Format: m.vertexFormat(ptr.elem)}
			if v.storage == spirv.StorageClassInput {
				data.Inputs = append(data.Inputs, sv)
			} else {
				data.Outputs = append(data.Outputs, sv)
			}
		}
	}

	sort.Slice(data.Inputs, func(i, j int) bool { return data.Inputs[i].Location < data.Inputs[j].Location })
	sort.Slice(data.Outputs, func(i, j int) bool { return data.Outputs[i].Location < data.Outputs[j].Location })
	return data, nil
}

func (m *module) reflectResource(data *Data, v variable, pointee uint32) error {
	d := m.decorations[v.id]
	if d == nil || !d.hasBinding {
		return fmt.Errorf("%w: resource %q has no binding decoration", ErrMalformedCode, m.names[v.id])
	}

	elem, count := m.unwrapArray(pointee)
	kind, ok := m.kindOf(v.storage, elem)
	if !ok {
		// acceleration structures and other opaque types are not bound through the binder
		return nil
	}

	name := m.names[v.id]
	if name == "" {
		name = m.names[elem]
	}
	b := &Binding{
		Set:     d.set,
		Binding: d.binding,
		Kind:    kind,
		Count:   count,
		Stages:  data.Stages,
		Name:    name,
	}
	if kind.IsBuffer() {
		b.Size = m.sizeOf(elem, 0)
	}

	addr := b.Address()
	if existing, ok := data.Bindings[addr]; ok && existing.Kind != b.Kind {
		return &ConflictError{Set: b.Set, Binding: b.Binding, First: existing.Kind, Second: b.Kind, Names: [2]string{existing.Name, b.Name}}
	}
	data.Bindings[addr] = b

	if kind == metadata.DescriptorUniformBuffer || kind == metadata.DescriptorStorageBuffer {
		m.reflectMembers(data, elem, b.Name, func(u *Uniform) {
			u.Set, u.Binding = b.Set, b.Binding
		})
	}
	return nil
}

func (m *module) kindOf(storage spirv.StorageClass, typeID uint32) (metadata.DescriptorKind, bool) {
	t, ok := m.types[typeID]
	if !ok {
		return 0, false
	}
	switch storage {
	case spirv.StorageClassStorageBuffer:
		return metadata.DescriptorStorageBuffer, true
	case spirv.StorageClassUniform:
		d := m.decorations[typeID]
		if d != nil && d.bufferBlock {
			return metadata.DescriptorStorageBuffer, true
		}
		return metadata.DescriptorUniformBuffer, true
	}

	switch t.op {
	case spirv.OpTypeSampledImage:
		return metadata.DescriptorSampledImage, true
	case spirv.OpTypeImage:
		if t.sampled == spirv.ImageStorage {
			return metadata.DescriptorStorageImage, true
		}
		return metadata.DescriptorSeparateImage, true
	case spirv.OpTypeSampler:
		return metadata.DescriptorSampler, true
	default:
		return 0, false
	}
}

func (m *module) reflectPushConstant(data *Data, v variable, pointee uint32) {
	t, ok := m.types[pointee]
	if !ok || t.op != spirv.OpTypeStruct {
		return
	}
	size := m.sizeOf(pointee, 0)
	offset := size
	for i := range t.members {
		md := m.member(pointee, uint32(i))
		if md.offset < offset {
			offset = md.offset
		}
	}
	if len(t.members) == 0 {
		offset = 0
	}
	data.PushConstants = append(data.PushConstants, metadata.PushConstantRange{
		Offset: offset,
		Size:   size - offset,
		Stages: data.Stages,
	})

	block := m.names[v.id]
	if block == "" {
		block = m.names[pointee]
	}
	m.reflectMembers(data, pointee, block, func(u *Uniform) { u.PushConstant = true })
}

func (m *module) reflectMembers(data *Data, structID uint32, block string, fill func(*Uniform)) {
	t, ok := m.types[structID]
	if !ok || t.op != spirv.OpTypeStruct {
		return
	}
	for i, memberType := range t.members {
		name := m.memberNames[structID][uint32(i)]
		if name == "" {
			continue
		}
		md := m.member(structID, uint32(i))
		u := Uniform{
			Name:   name,
			Block:  block,
			Offset: md.offset,
			Size:   m.sizeOf(memberType, md.matrixStride),
			Type:   m.uniformType(memberType),
		}
		fill(&u)
		key := name
		if block != "" {
			key = block + "." + name
		}
		data.Uniforms[key] = u
	}
}

func (m *module) uniformType(typeID uint32) metadata.UniformType {
	t, ok := m.types[typeID]
	if !ok {
		return metadata.UniformTypeUnknown
	}
	switch t.op {
	case spirv.OpTypeBool:
		return metadata.UniformTypeBool
	case spirv.OpTypeInt:
		if t.signed {
			return metadata.UniformTypeInt
		}
		return metadata.UniformTypeUInt
	case spirv.OpTypeFloat:
		return metadata.UniformTypeFloat
	case spirv.OpTypeVector:
		base := m.uniformType(t.elem)
		offset := metadata.UniformType(t.count - 2)
		if t.count < 2 || t.count > 4 {
			return metadata.UniformTypeUnknown
		}
		switch base {
		case metadata.UniformTypeFloat:
			return metadata.UniformTypeVec2 + offset
		case metadata.UniformTypeInt:
			return metadata.UniformTypeIVec2 + offset
		case metadata.UniformTypeUInt:
			return metadata.UniformTypeUVec2 + offset
		}
	case spirv.OpTypeMatrix:
		switch t.count {
		case 3:
			return metadata.UniformTypeMat3
		case 4:
			return metadata.UniformTypeMat4
		}
	case spirv.OpTypeStruct:
		return metadata.UniformTypeStruct
	case spirv.OpTypeArray, spirv.OpTypeRuntimeArray:
		return metadata.UniformTypeArray
	}
	return metadata.UniformTypeUnknown
}

func (m *module) vertexFormat(typeID uint32) metadata.VertexFormat {
	switch m.uniformType(typeID) {
	case metadata.UniformTypeVec2:
		return metadata.VertexFormatFloat2
	case metadata.UniformTypeVec3:
		return metadata.VertexFormatFloat3
	case metadata.UniformTypeVec4:
		return metadata.VertexFormatFloat4
	case metadata.UniformTypeUInt:
		return metadata.VertexFormatUInt
	case metadata.UniformTypeInt:
		return metadata.VertexFormatInt
	default:
		return metadata.VertexFormatFloat
	}
}

// EntryPoints lists the entry points of a module without reflecting its resources.
func EntryPoints(code []uint32) ([]EntryPoint, error) {
	m, err := parseModule(code)
	if err != nil {
		return nil, err
	}
	var out []EntryPoint
	for _, ep := range m.entryPoints {
		if s := stageOf(ep.model); s != 0 {
			out = append(out, EntryPoint{Name: ep.name, Stage: s})
		}
	}
	return out, nil
}
