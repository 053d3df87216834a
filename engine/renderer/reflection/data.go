package reflection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

// Binding is one descriptor slot used by a shader.
type Binding struct {
	Set     uint32
	Binding uint32
	Kind    metadata.DescriptorKind
	// Size in bytes of the buffer block, 0 for images and samplers.
	Size uint32
	// Count is 1 for a single resource, N for arrays and 0 for runtime arrays.
	Count  uint32
	Stages metadata.ShaderStage
	Name   string
}

func (b Binding) Address() metadata.DescriptorBinding {
	return metadata.DescriptorBinding{Set: b.Set, Binding: b.Binding}
}

// Uniform is a named member of a buffer block, addressable for material parameters.
type Uniform struct {
	Name    string
	Block   string
	Set     uint32
	Binding uint32
	Offset  uint32
	Size    uint32
	Type    metadata.UniformType
	// PushConstant members have no descriptor address.
	PushConstant bool
}

// StageVariable is a located stage input or output.
type StageVariable struct {
	Name     string
	Location uint32
	Format   metadata.VertexFormat
}

type EntryPoint struct {
	Name  string
	Stage metadata.ShaderStage
}

// Data is everything the renderer needs to know about a shader's resource interface.
type Data struct {
	Stages        metadata.ShaderStage
	EntryPoints   []EntryPoint
	Bindings      map[metadata.DescriptorBinding]*Binding
	PushConstants []metadata.PushConstantRange
	Uniforms      map[string]Uniform
	Inputs        []StageVariable
	Outputs       []StageVariable
}

func newData(stage metadata.ShaderStage) *Data {
	return &Data{
		Stages:   stage,
		Bindings: make(map[metadata.DescriptorBinding]*Binding),
		Uniforms: make(map[string]Uniform),
	}
}

func (d *Data) Binding(set, binding uint32) (*Binding, bool) {
	b, ok := d.Bindings[metadata.DescriptorBinding{Set: set, Binding: binding}]
	return b, ok
}

// SortedBindings returns the bindings ordered by set, then binding.
func (d *Data) SortedBindings() []*Binding {
	out := make([]*Binding, 0, len(d.Bindings))
	for _, b := range d.Bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Set != out[j].Set {
			return out[i].Set < out[j].Set
		}
		return out[i].Binding < out[j].Binding
	})
	return out
}

// SetLayouts returns one layout per set index from 0 to the highest used set. Unused
// set indices get an empty layout so pipelines and descriptor sets stay compatible.
func (d *Data) SetLayouts() []metadata.SetLayout {
	return layoutsFrom(d.SortedBindings())
}

// Uniform looks up "block.member" first, then a bare member name if it is unique.
func (d *Data) Uniform(name string) (Uniform, bool) {
	if u, ok := d.Uniforms[name]; ok {
		return u, true
	}
	if strings.Contains(name, ".") {
		return Uniform{}, false
	}
	var found Uniform
	matches := 0
	for _, u := range d.Uniforms {
		if u.Name == name {
			found = u
			matches++
		}
	}
	return found, matches == 1
}

// EntryPoint returns the entry point of the given stage.
func (d *Data) EntryPoint(stage metadata.ShaderStage) (EntryPoint, bool) {
	for _, e := range d.EntryPoints {
		if e.Stage == stage {
			return e, true
		}
	}
	return EntryPoint{}, false
}

func (d *Data) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "stages=%s", d.Stages)
	for _, b := range d.SortedBindings() {
		fmt.Fprintf(&sb, " [%d,%d %s %q size=%d count=%d %s]", b.Set, b.Binding, b.Kind, b.Name, b.Size, b.Count, b.Stages)
	}
	for _, pc := range d.PushConstants {
		fmt.Fprintf(&sb, " [push offset=%d size=%d %s]", pc.Offset, pc.Size, pc.Stages)
	}
	return sb.String()
}

func layoutsFrom(bindings []*Binding) []metadata.SetLayout {
	if len(bindings) == 0 {
		return nil
	}
	maxSet := uint32(0)
	for _, b := range bindings {
		if b.Set > maxSet {
			maxSet = b.Set
		}
	}
	layouts := make([]metadata.SetLayout, maxSet+1)
	for i := range layouts {
		layouts[i].Set = uint32(i)
	}
	for _, b := range bindings {
		layouts[b.Set].Bindings = append(layouts[b.Set].Bindings, metadata.LayoutBinding{
			Binding: b.Binding,
			Kind:    b.Kind,
			Count:   b.Count,
			Stages:  b.Stages,
			Size:    b.Size,
			Name:    b.Name,
		})
	}
	for i := range layouts {
		layouts[i].SortBindings()
	}
	return layouts
}

// ConflictError reports one (set, binding) claimed by two different resource kinds.
type ConflictError struct {
	Set     uint32
	Binding uint32
	First   metadata.DescriptorKind
	Second  metadata.DescriptorKind
	Names   [2]string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: binding (set=%d, binding=%d) is a %s (%q) and a %s (%q)",
		core.ErrReflectionConflict, e.Set, e.Binding, e.First, e.Names[0], e.Second, e.Names[1])
}

func (e *ConflictError) Unwrap() error {
	return core.ErrReflectionConflict
}
