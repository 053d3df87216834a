// Package binder owns the descriptor sets and per-frame uniform buffers every pipeline
// of the application binds. Set layouts come from shader reflection, so the same sets
// are compatible with every pipeline built by the pipeline cache.
package binder

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

var (
	ErrUnknownBinding = errors.New("binding is not part of the set layouts")
	ErrKindMismatch   = errors.New("resource does not match the binding kind")
	ErrNoSuchSlot     = errors.New("no such frame slot")
)

// Per-frame uniform buffers at set 0.
const (
	BindingUBO              uint32 = 0
	BindingCamera           uint32 = 1
	BindingDirectionalLight uint32 = 2
)

type Options struct {
	Device metadata.Device
	// Layouts provides the application wide set layouts, normally the reflection
	// context's. It is called again on Reset.
	Layouts func() []metadata.SetLayout
	Frames  int
}

type exposure struct {
	set      uint32
	write    metadata.DescriptorWrite
	resource any
}

type address struct {
	set, binding, element uint32
}

type slot struct {
	sets    []metadata.DescriptorSet
	ubos    map[uint32]metadata.Buffer
	pending []exposure
	// busy while a submission recorded from this slot may still read its sets
	busy bool
}

/**
 * @brief Binds application resources to shader bindings for every frame in flight.
 * Writes targeting a slot still in use by the GPU are queued and applied when that
 * slot begins its next frame.
 */
type Binder struct {
	device  metadata.Device
	source  func() []metadata.SetLayout
	layouts []metadata.SetLayout
	slots   []*slot

	exposed map[address]exposure

	ubo          metadata.UBO
	camera       metadata.CameraUBO
	light        metadata.DirectionalLightUBO
	pushConstant *metadata.PushConstant
}

func New(opts Options) (*Binder, error) {
	if opts.Frames <= 0 {
		return nil, fmt.Errorf("binder needs at least one frame in flight, got %d", opts.Frames)
	}
	if opts.Layouts == nil {
		opts.Layouts = func() []metadata.SetLayout { return nil }
	}
	b := &Binder{
		device:       opts.Device,
		source:       opts.Layouts,
		slots:        make([]*slot, opts.Frames),
		exposed:      make(map[address]exposure),
		pushConstant: metadata.NewPushConstant(),
	}
	if err := b.allocate(); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

func (b *Binder) allocate() error {
	b.layouts = b.source()
	for i := range b.slots {
		s := &slot{ubos: make(map[uint32]metadata.Buffer)}
		b.slots[i] = s
		if len(b.layouts) == 0 {
			continue
		}
		sets, err := b.device.CreateDescriptorSets(b.layouts)
		if err != nil {
			return fmt.Errorf("%w: descriptor sets of frame %d: %w", core.ErrConstructionFailure, i, err)
		}
		s.sets = sets

		perFrame := b.layouts[metadata.SetPerFrame]
		for _, lb := range perFrame.Bindings {
			if lb.Kind != metadata.DescriptorUniformBuffer {
				continue
			}
			buf, err := b.device.CreateBuffer(metadata.BufferProperties{
				Name:        fmt.Sprintf("%s ubo %d", lb.Name, i),
				Size:        uint64(max(lb.Size, b.podSize(lb.Binding))),
				Usage:       metadata.BufferUsageUniform,
				HostVisible: true,
			})
			if err != nil {
				return fmt.Errorf("%w: uniform buffer %q of frame %d: %w", core.ErrConstructionFailure, lb.Name, i, err)
			}
			s.ubos[lb.Binding] = buf
			if err := s.sets[metadata.SetPerFrame].Write(metadata.DescriptorWrite{
				Binding: lb.Binding,
				Kind:    metadata.DescriptorUniformBuffer,
				Buffer:  buf,
			}); err != nil {
				return err
			}
		}
	}
	core.LogDebug("binder allocated %d sets for %d frames", len(b.layouts), len(b.slots))
	return nil
}

func (b *Binder) podSize(binding uint32) uint32 {
	switch binding {
	case BindingUBO:
		return metadata.PODSize(&b.ubo)
	case BindingCamera:
		return metadata.PODSize(&b.camera)
	case BindingDirectionalLight:
		return metadata.PODSize(&b.light)
	default:
		return 0
	}
}

func (b *Binder) Frames() int {
	return len(b.slots)
}

// Layouts returns the set layouts the descriptor sets were allocated with.
func (b *Binder) Layouts() []metadata.SetLayout {
	return b.layouts
}

// DescriptorSets returns the sets of a frame slot, contiguous from set 0.
func (b *Binder) DescriptorSets(slot int) []metadata.DescriptorSet {
	if slot < 0 || slot >= len(b.slots) {
		return nil
	}
	return b.slots[slot].sets
}

// UniformBuffer returns the per-frame buffer bound at set 0.
func (b *Binder) UniformBuffer(slot int, binding uint32) (metadata.Buffer, bool) {
	if slot < 0 || slot >= len(b.slots) {
		return nil, false
	}
	buf, ok := b.slots[slot].ubos[binding]
	return buf, ok
}

func (b *Binder) EditableUBO() *metadata.UBO                              { return &b.ubo }
func (b *Binder) EditableCamera() *metadata.CameraUBO                     { return &b.camera }
func (b *Binder) EditableDirectionalLight() *metadata.DirectionalLightUBO { return &b.light }

// EditablePushConstant is pushed right before each draw.
func (b *Binder) EditablePushConstant() *metadata.PushConstant {
	return b.pushConstant
}

// UpdateUBO uploads the per-frame uniform data into the buffers of a slot.
func (b *Binder) UpdateUBO(slot int) error {
	if slot < 0 || slot >= len(b.slots) {
		return fmt.Errorf("%w: %d", ErrNoSuchSlot, slot)
	}
	s := b.slots[slot]
	uploads := []struct {
		binding uint32
		value   any
	}{
		{BindingUBO, &b.ubo},
		{BindingCamera, &b.camera},
		{BindingDirectionalLight, &b.light},
	}
	for _, u := range uploads {
		buf, ok := s.ubos[u.binding]
		if !ok {
			continue
		}
		data, err := metadata.PODBytes(u.value)
		if err != nil {
			return err
		}
		if err := buf.SetData(data, 0); err != nil {
			return fmt.Errorf("uploading binding %d of frame %d: %w", u.binding, slot, err)
		}
	}
	return nil
}

// ExposeToShaders binds a metadata.Buffer or metadata.Image to element 0 of
// (set, binding) in every frame slot.
func (b *Binder) ExposeToShaders(resource any, set, binding uint32) error {
	return b.ExposeArrayElement(resource, set, binding, 0)
}

// ExposeArrayElement binds a resource to one element of an array binding.
func (b *Binder) ExposeArrayElement(resource any, set, binding, element uint32) error {
	e, err := b.exposure(resource, set, binding, element)
	if err != nil {
		core.LogError("%s", err)
		return err
	}
	b.exposed[address{set, binding, element}] = e
	for i, s := range b.slots {
		if s.busy {
			s.pending = append(s.pending, e)
			continue
		}
		if err := s.sets[set].Write(e.write); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return nil
}

func (b *Binder) exposure(resource any, set, binding, element uint32) (exposure, error) {
	if int(set) >= len(b.layouts) {
		return exposure{}, fmt.Errorf("%w: set %d (have %d sets)", ErrUnknownBinding, set, len(b.layouts))
	}
	lb, ok := b.layouts[set].Binding(binding)
	if !ok {
		return exposure{}, fmt.Errorf("%w: (set=%d, binding=%d)", ErrUnknownBinding, set, binding)
	}
	if element >= lb.DescriptorCount() {
		return exposure{}, fmt.Errorf("%w: element %d of (set=%d, binding=%d) holding %d", ErrUnknownBinding, element, set, binding, lb.DescriptorCount())
	}

	w := metadata.DescriptorWrite{Binding: binding, ArrayElement: element, Kind: lb.Kind}
	switch r := resource.(type) {
	case metadata.Image:
		if !lb.Kind.IsImage() {
			return exposure{}, fmt.Errorf("%w: image at %s binding %q", ErrKindMismatch, lb.Kind, lb.Name)
		}
		w.Image = r
	case metadata.Buffer:
		if !lb.Kind.IsBuffer() {
			return exposure{}, fmt.Errorf("%w: buffer at %s binding %q", ErrKindMismatch, lb.Kind, lb.Name)
		}
		w.Buffer = r
	default:
		return exposure{}, fmt.Errorf("%w: %T", ErrKindMismatch, resource)
	}
	return exposure{set: set, write: w, resource: resource}, nil
}

// Pending is the number of writes queued for a slot.
func (b *Binder) Pending(slot int) int {
	if slot < 0 || slot >= len(b.slots) {
		return 0
	}
	return len(b.slots[slot].pending)
}

// BeginFrame runs once the slot's fence has been waited on: the GPU is done with the
// slot's sets, so the queued writes are applied.
func (b *Binder) BeginFrame(slot int) error {
	if slot < 0 || slot >= len(b.slots) {
		return fmt.Errorf("%w: %d", ErrNoSuchSlot, slot)
	}
	s := b.slots[slot]
	s.busy = false
	pending := s.pending
	s.pending = nil
	for _, e := range pending {
		if err := s.sets[e.set].Write(e.write); err != nil {
			return fmt.Errorf("frame %d: %w", slot, err)
		}
	}
	return nil
}

// EndFrame marks the slot as in use by the GPU until its next BeginFrame.
func (b *Binder) EndFrame(slot int) {
	if slot < 0 || slot >= len(b.slots) {
		return
	}
	b.slots[slot].busy = true
}

// Reset reallocates the sets and buffers and writes every exposed resource again. Only
// call while the device is idle.
func (b *Binder) Reset() error {
	b.Destroy()
	if err := b.allocate(); err != nil {
		return err
	}

	addrs := make([]address, 0, len(b.exposed))
	for a := range b.exposed {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		x, y := addrs[i], addrs[j]
		if x.set != y.set {
			return x.set < y.set
		}
		if x.binding != y.binding {
			return x.binding < y.binding
		}
		return x.element < y.element
	})

	var failed []error
	for _, a := range addrs {
		prev := b.exposed[a]
		e, err := b.exposure(prev.resource, a.set, a.binding, a.element)
		if err != nil {
			// the binding is gone from the new layouts
			core.LogWarn("dropping exposed resource: %s", err)
			delete(b.exposed, a)
			continue
		}
		b.exposed[a] = e
		for _, s := range b.slots {
			if err := s.sets[a.set].Write(e.write); err != nil {
				failed = append(failed, err)
			}
		}
	}
	return errors.Join(failed...)
}

// Destroy releases every set and buffer. Exposed resources are owned by their caches.
func (b *Binder) Destroy() {
	for _, s := range b.slots {
		if s == nil {
			continue
		}
		for _, set := range s.sets {
			set.Destroy()
		}
		for _, buf := range s.ubos {
			buf.Destroy()
		}
		s.sets = nil
		s.ubos = nil
		s.pending = nil
	}
}
