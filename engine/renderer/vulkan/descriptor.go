package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

// createSetLayout builds the Vulkan layout of one descriptor set. Pipelines and
// descriptor sets build their own copies; identical definitions are compatible.
func createSetLayout(ctx *Context, layout metadata.SetLayout) (vk.DescriptorSetLayout, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(layout.Bindings))
	for _, b := range layout.Bindings {
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  toVkDescriptorType(b.Kind),
			DescriptorCount: b.DescriptorCount(),
			StageFlags:      toVkStages(b.Stages),
		})
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var handle vk.DescriptorSetLayout
	err := ctx.locks.SafeCall(DescriptorManagement, func() error {
		return check(core.ErrConstructionFailure, "create_descriptor_set_layout", vk.CreateDescriptorSetLayout(ctx.LogicalDevice, &createInfo, ctx.Allocator, &handle))
	})
	return handle, err
}

// descriptorPool backs the sets of one allocation and dies with the last of them.
type descriptorPool struct {
	ctx     *Context
	handle  vk.DescriptorPool
	layouts []vk.DescriptorSetLayout
	live    int
}

func (p *descriptorPool) release() {
	p.live--
	if p.live > 0 {
		return
	}
	ctx := p.ctx
	_ = ctx.locks.SafeCall(DescriptorManagement, func() error {
		if p.handle != vk.NullDescriptorPool {
			vk.DestroyDescriptorPool(ctx.LogicalDevice, p.handle, ctx.Allocator)
			p.handle = vk.NullDescriptorPool
		}
		for _, l := range p.layouts {
			vk.DestroyDescriptorSetLayout(ctx.LogicalDevice, l, ctx.Allocator)
		}
		p.layouts = nil
		return nil
	})
}

func newDescriptorSets(ctx *Context, layouts []metadata.SetLayout) ([]metadata.DescriptorSet, error) {
	if len(layouts) == 0 {
		return nil, nil
	}
	pool := &descriptorPool{ctx: ctx}

	counts := make(map[vk.DescriptorType]uint32)
	for _, l := range layouts {
		handle, err := createSetLayout(ctx, l)
		if err != nil {
			pool.live = 0
			pool.release()
			return nil, err
		}
		pool.layouts = append(pool.layouts, handle)
		for _, b := range l.Bindings {
			counts[toVkDescriptorType(b.Kind)] += b.DescriptorCount()
		}
	}

	sizes := make([]vk.DescriptorPoolSize, 0, len(counts))
	for t, n := range counts {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: n})
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
		MaxSets:       uint32(len(layouts)),
	}
	handles := make([]vk.DescriptorSet, len(layouts))
	err := ctx.locks.SafeCall(DescriptorManagement, func() error {
		if err := check(core.ErrConstructionFailure, "create_descriptor_pool", vk.CreateDescriptorPool(ctx.LogicalDevice, &poolInfo, ctx.Allocator, &pool.handle)); err != nil {
			return err
		}
		allocInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool.handle,
			DescriptorSetCount: uint32(len(layouts)),
			PSetLayouts:        pool.layouts,
		}
		return check(core.ErrConstructionFailure, "allocate_descriptor_sets", vk.AllocateDescriptorSets(ctx.LogicalDevice, &allocInfo, &handles[0]))
	})
	if err != nil {
		pool.live = 0
		pool.release()
		return nil, err
	}

	sets := make([]metadata.DescriptorSet, len(layouts))
	for i, l := range layouts {
		sets[i] = &DescriptorSet{pool: pool, Handle: handles[i], layout: l}
	}
	pool.live = len(sets)
	return sets, nil
}

type DescriptorSet struct {
	pool   *descriptorPool
	Handle vk.DescriptorSet
	layout metadata.SetLayout
}

func (s *DescriptorSet) Set() uint32                { return s.layout.Set }
func (s *DescriptorSet) Layout() metadata.SetLayout { return s.layout }

func (s *DescriptorSet) Write(writes ...metadata.DescriptorWrite) error {
	if s.pool == nil {
		return fmt.Errorf("%w: descriptor set %d was destroyed", core.ErrResourceMissing, s.layout.Set)
	}
	updates := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		lb, ok := s.layout.Binding(w.Binding)
		if !ok {
			return fmt.Errorf("%w: set %d has no binding %d", core.ErrResourceMissing, s.layout.Set, w.Binding)
		}
		if lb.Kind != w.Kind {
			return fmt.Errorf("%w: binding (%d,%d) is a %s, written as %s", core.ErrReflectionConflict, s.layout.Set, w.Binding, lb.Kind, w.Kind)
		}
		if w.ArrayElement >= lb.DescriptorCount() {
			return fmt.Errorf("%w: element %d out of %d at (%d,%d)", core.ErrResourceMissing, w.ArrayElement, lb.DescriptorCount(), s.layout.Set, w.Binding)
		}

		update := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          s.Handle,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorCount: 1,
			DescriptorType:  toVkDescriptorType(w.Kind),
		}
		if w.Kind.IsBuffer() {
			b, ok := w.Buffer.(*Buffer)
			if !ok || b == nil {
				return fmt.Errorf("%w: no buffer for (%d,%d)", core.ErrResourceMissing, s.layout.Set, w.Binding)
			}
			update.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: b.Handle,
				Offset: 0,
				Range:  vk.DeviceSize(vk.WholeSize),
			}}
		} else {
			img, ok := w.Image.(*Image)
			if !ok || img == nil {
				return fmt.Errorf("%w: no image for (%d,%d)", core.ErrResourceMissing, s.layout.Set, w.Binding)
			}
			info := vk.DescriptorImageInfo{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal}
			switch w.Kind {
			case metadata.DescriptorSampledImage:
				info.ImageView = img.View
				info.Sampler = img.Sampler
			case metadata.DescriptorSeparateImage:
				info.ImageView = img.View
			case metadata.DescriptorStorageImage:
				info.ImageView = img.View
				info.ImageLayout = vk.ImageLayoutGeneral
			case metadata.DescriptorSampler:
				info.Sampler = img.Sampler
			}
			update.PImageInfo = []vk.DescriptorImageInfo{info}
		}
		updates = append(updates, update)
	}
	if len(updates) == 0 {
		return nil
	}
	ctx := s.pool.ctx
	return ctx.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(ctx.LogicalDevice, uint32(len(updates)), updates, 0, nil)
		return nil
	})
}

func (s *DescriptorSet) Destroy() {
	if s.pool == nil {
		return
	}
	s.pool.release()
	s.pool = nil
	s.Handle = nil
}
