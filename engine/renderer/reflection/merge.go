package reflection

import (
	"errors"
	"sort"

	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

var ErrNoStages = errors.New("no shader stages to merge")

// Merge unions the resource usage of the stages of one pipeline. Stage masks are OR'd
// and the larger size wins; two kinds on the same (set, binding) is a conflict.
func Merge(stages ...*Data) (*Data, error) {
	if len(stages) == 0 {
		return nil, ErrNoStages
	}

	out := newData(0)
	for _, s := range stages {
		if s == nil {
			continue
		}
		out.Stages |= s.Stages
		out.EntryPoints = append(out.EntryPoints, s.EntryPoints...)

		for _, b := range s.SortedBindings() {
			addr := b.Address()
			existing, ok := out.Bindings[addr]
			if !ok {
				copied := *b
				out.Bindings[addr] = &copied
				continue
			}
			if existing.Kind != b.Kind {
				return nil, &ConflictError{
					Set:     addr.Set,
					Binding: addr.Binding,
					First:   existing.Kind,
					Second:  b.Kind,
					Names:   [2]string{existing.Name, b.Name},
				}
			}
			existing.Stages |= b.Stages
			existing.Size = max(existing.Size, b.Size)
			existing.Count = mergeCount(existing.Count, b.Count)
		}

		out.PushConstants = mergeRanges(out.PushConstants, s.PushConstants)

		for k, u := range s.Uniforms {
			if _, ok := out.Uniforms[k]; !ok {
				out.Uniforms[k] = u
			}
		}
		if s.Stages&metadata.ShaderStageVertex != 0 {
			out.Inputs = append(out.Inputs, s.Inputs...)
		}
		if s.Stages&metadata.ShaderStageFragment != 0 {
			out.Outputs = append(out.Outputs, s.Outputs...)
		}
	}
	return out, nil
}

// mergeRanges folds ranges with the same offset and size into one entry with both
// stage masks; distinct ranges are kept sorted by offset.
func mergeRanges(into, from []metadata.PushConstantRange) []metadata.PushConstantRange {
outer:
	for _, r := range from {
		for i := range into {
			if into[i].Offset == r.Offset && into[i].Size == r.Size {
				into[i].Stages |= r.Stages
				continue outer
			}
		}
		into = append(into, r)
	}
	sort.Slice(into, func(i, j int) bool { return into[i].Offset < into[j].Offset })
	return into
}
