package headless

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

type Swapchain struct {
	device    *Device
	handle    uint64
	extent    metadata.Extent
	count     int
	next      uint32
	destroyed bool
}

func (s *Swapchain) Handle() uint64          { return s.handle }
func (s *Swapchain) Extent() metadata.Extent { return s.extent }
func (s *Swapchain) Format() metadata.ImageFormat {
	return metadata.ImageFormatBGRA8
}
func (s *Swapchain) ImageCount() int { return s.count }

func (s *Swapchain) AcquireNextImage(timeoutNs uint64, signal metadata.Semaphore) (uint32, metadata.SwapchainStatus, error) {
	if s.destroyed {
		return 0, metadata.SwapchainOutOfDate, fmt.Errorf("%w: swapchain", ErrDestroyed)
	}
	d := s.device
	d.mu.Lock()
	d.stats.Acquires++
	if d.failAcquire != nil {
		err := d.failAcquire
		d.failAcquire = nil
		d.mu.Unlock()
		return 0, metadata.SwapchainOptimal, err
	}
	status := metadata.SwapchainOptimal
	if len(d.acquireScript) > 0 {
		status = d.acquireScript[0]
		d.acquireScript = d.acquireScript[1:]
	} else if d.extent != s.extent {
		status = metadata.SwapchainOutOfDate
	}
	d.mu.Unlock()

	if status == metadata.SwapchainOutOfDate {
		return 0, status, nil
	}
	sem, ok := signal.(*Semaphore)
	if !ok || sem == nil {
		return 0, status, fmt.Errorf("%w: acquire without a semaphore", ErrInvalidUsage)
	}
	if sem.signaled {
		return 0, status, fmt.Errorf("%w: acquire signalling a semaphore that is already signalled", ErrInvalidUsage)
	}
	sem.signaled = true

	index := s.next
	s.next = (s.next + 1) % uint32(s.count)
	return index, status, nil
}

func (s *Swapchain) Present(wait metadata.Semaphore, imageIndex uint32) (metadata.SwapchainStatus, error) {
	if s.destroyed {
		return metadata.SwapchainOutOfDate, fmt.Errorf("%w: swapchain", ErrDestroyed)
	}
	if int(imageIndex) >= s.count {
		return metadata.SwapchainOptimal, fmt.Errorf("%w: presenting image %d of %d", ErrInvalidUsage, imageIndex, s.count)
	}
	sem, ok := wait.(*Semaphore)
	if !ok || sem == nil || !sem.signaled {
		return metadata.SwapchainOptimal, fmt.Errorf("%w: presenting before rendering finished", ErrInvalidUsage)
	}
	sem.signaled = false

	d := s.device
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Presents++
	if d.failPresent != nil {
		err := d.failPresent
		d.failPresent = nil
		return metadata.SwapchainOptimal, err
	}
	if len(d.presentScript) > 0 {
		status := d.presentScript[0]
		d.presentScript = d.presentScript[1:]
		return status, nil
	}
	if d.extent != s.extent {
		return metadata.SwapchainSuboptimal, nil
	}
	return metadata.SwapchainOptimal, nil
}

func (s *Swapchain) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.device.untrack(s.handle)
}

type RenderPass struct {
	device    *Device
	handle    uint64
	props     metadata.RenderPassProperties
	destroyed bool
}

func (r *RenderPass) Handle() uint64                             { return r.handle }
func (r *RenderPass) Properties() *metadata.RenderPassProperties { return &r.props }
func (r *RenderPass) Destroyed() bool                            { return r.destroyed }

func (r *RenderPass) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	r.device.untrack(r.handle)
}

type Framebuffer struct {
	device    *Device
	handle    uint64
	extent    metadata.Extent
	destroyed bool
}

func (f *Framebuffer) Extent() metadata.Extent { return f.extent }

func (f *Framebuffer) Destroy() {
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.device.untrack(f.handle)
}

type CommandPool struct {
	device    *Device
	handle    uint64
	buffers   []*CommandBuffer
	destroyed bool
}

func (p *CommandPool) Allocate() (metadata.CommandBuffer, error) {
	if p.destroyed {
		return nil, fmt.Errorf("%w: command pool", ErrDestroyed)
	}
	cb := &CommandBuffer{device: p.device, pool: p}
	p.buffers = append(p.buffers, cb)
	return cb, nil
}

func (p *CommandPool) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	for _, cb := range p.buffers {
		cb.state = stateInvalid
	}
	p.device.untrack(p.handle)
}

type Fence struct {
	device    *Device
	handle    uint64
	signaled  bool
	pending   bool
	destroyed bool
}

// Wait completes the pending submission, if any.
func (f *Fence) Wait(timeoutNs uint64) error {
	if f.destroyed {
		return fmt.Errorf("%w: fence", ErrDestroyed)
	}
	if f.signaled {
		return nil
	}
	if f.pending {
		f.pending = false
		f.signaled = true
		return nil
	}
	return ErrWouldDeadlock
}

func (f *Fence) Reset() error {
	if f.destroyed {
		return fmt.Errorf("%w: fence", ErrDestroyed)
	}
	if f.pending {
		return fmt.Errorf("%w: resetting a fence of a submission still in flight", ErrInvalidUsage)
	}
	f.signaled = false
	return nil
}

func (f *Fence) Signaled() bool { return f.signaled }

func (f *Fence) Destroy() {
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.device.untrack(f.handle)
}

type Semaphore struct {
	device    *Device
	handle    uint64
	signaled  bool
	destroyed bool
}

func (s *Semaphore) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.device.untrack(s.handle)
}

type Buffer struct {
	device    *Device
	handle    uint64
	props     metadata.BufferProperties
	data      []byte
	uploads   int
	destroyed bool
}

func (b *Buffer) Size() uint64                { return b.props.Size }
func (b *Buffer) Usage() metadata.BufferUsage { return b.props.Usage }
func (b *Buffer) Name() string                { return b.props.Name }

func (b *Buffer) SetData(data []byte, offset uint64) error {
	if b.destroyed {
		return fmt.Errorf("%w: buffer %q", ErrDestroyed, b.props.Name)
	}
	b.device.mu.Lock()
	fail := b.device.failUploads
	b.device.mu.Unlock()
	if fail != nil {
		return fail
	}
	if offset+uint64(len(data)) > b.props.Size {
		return fmt.Errorf("%w: writing %d bytes at %d into buffer %q of %d bytes", ErrInvalidUsage, len(data), offset, b.props.Name, b.props.Size)
	}
	copy(b.data[offset:], data)
	b.uploads++
	return nil
}

// Data is the buffer content.
func (b *Buffer) Data() []byte { return b.data }

// Uploads counts SetData calls.
func (b *Buffer) Uploads() int { return b.uploads }

func (b *Buffer) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.device.untrack(b.handle)
}

type Image struct {
	device    *Device
	handle    uint64
	props     *metadata.ImageProperties
	destroyed bool
}

func (i *Image) Handle() uint64                        { return i.handle }
func (i *Image) ExtentDependent() bool                 { return i.props.FramebufferSized }
func (i *Image) Extent() metadata.Extent               { return i.props.Extent }
func (i *Image) Format() metadata.ImageFormat          { return i.props.Format }
func (i *Image) Properties() *metadata.ImageProperties { return i.props }
func (i *Image) Destroyed() bool                       { return i.destroyed }

func (i *Image) Recreate(extent metadata.Extent) error {
	if i.destroyed {
		return fmt.Errorf("%w: image %q", ErrDestroyed, i.props.Name)
	}
	if extent.IsZero() {
		return fmt.Errorf("%w: zero extent for image %q", ErrInvalidUsage, i.props.Name)
	}
	i.device.untrack(i.handle)
	i.handle = i.device.track("image")
	if i.props.FramebufferSized {
		i.props.Extent = extent
	}
	return nil
}

func (i *Image) Destroy() {
	if i.destroyed {
		return
	}
	i.destroyed = true
	i.device.untrack(i.handle)
}

type Shader struct {
	device    *Device
	handle    uint64
	props     metadata.ShaderProperties
	destroyed bool
}

func (s *Shader) Key() string                 { return s.props.Key }
func (s *Shader) Stage() metadata.ShaderStage { return s.props.Stage }
func (s *Shader) EntryPoint() string          { return s.props.EntryPoint }
func (s *Shader) Destroyed() bool             { return s.destroyed }

func (s *Shader) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.device.untrack(s.handle)
}

type Pipeline struct {
	device    *Device
	handle    uint64
	props     *metadata.PipelineProperties
	info      metadata.PipelineCreateInfo
	extent    metadata.Extent
	destroyed bool
}

func (p *Pipeline) Handle() uint64                                   { return p.handle }
func (p *Pipeline) ExtentDependent() bool                            { return !p.props.DynamicViewport }
func (p *Pipeline) Properties() *metadata.PipelineProperties         { return p.props }
func (p *Pipeline) PushConstantRanges() []metadata.PushConstantRange { return p.info.PushConstants }
func (p *Pipeline) SetLayouts() []metadata.SetLayout                 { return p.info.SetLayouts }
func (p *Pipeline) Extent() metadata.Extent                          { return p.extent }
func (p *Pipeline) Destroyed() bool                                  { return p.destroyed }

// UsedBlob reports whether the pipeline was built from a cache blob.
func (p *Pipeline) UsedBlob() bool { return len(p.info.CacheBlob) > 0 }

func (p *Pipeline) Recreate(extent metadata.Extent) error {
	if p.destroyed {
		return fmt.Errorf("%w: pipeline", ErrDestroyed)
	}
	if rp, ok := p.info.RenderPass.(*RenderPass); !ok || rp.destroyed {
		return fmt.Errorf("%w: render pass of pipeline %q is gone", core.ErrResourceMissing, p.props.Key)
	}
	p.device.untrack(p.handle)
	p.handle = p.device.track("pipeline")
	p.extent = extent
	return nil
}

func (p *Pipeline) Retarget(pass metadata.RenderPass) {
	p.info.RenderPass = pass
}

// RenderPass is the pass the pipeline is built for.
func (p *Pipeline) RenderPass() metadata.RenderPass { return p.info.RenderPass }

// CacheData is the magic followed by a hash of the pipeline state.
func (p *Pipeline) CacheData() ([]byte, error) {
	if p.destroyed {
		return nil, fmt.Errorf("%w: pipeline", ErrDestroyed)
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%+v", *p.props)
	return binary.LittleEndian.AppendUint64([]byte(blobMagic), h.Sum64()), nil
}

func (p *Pipeline) Destroy() {
	if p.destroyed {
		return
	}
	p.destroyed = true
	p.device.untrack(p.handle)
}

type DescriptorSet struct {
	device    *Device
	handle    uint64
	layout    metadata.SetLayout
	writes    map[[2]uint32]metadata.DescriptorWrite
	destroyed bool
}

func (s *DescriptorSet) Set() uint32                { return s.layout.Set }
func (s *DescriptorSet) Layout() metadata.SetLayout { return s.layout }

func (s *DescriptorSet) Write(writes ...metadata.DescriptorWrite) error {
	if s.destroyed {
		return fmt.Errorf("%w: descriptor set %d", ErrDestroyed, s.layout.Set)
	}
	for _, w := range writes {
		lb, ok := s.layout.Binding(w.Binding)
		if !ok {
			return fmt.Errorf("%w: set %d has no binding %d", ErrInvalidUsage, s.layout.Set, w.Binding)
		}
		if lb.Kind != w.Kind {
			return fmt.Errorf("%w: binding (%d,%d) is a %s, written as %s", ErrInvalidUsage, s.layout.Set, w.Binding, lb.Kind, w.Kind)
		}
		if w.ArrayElement >= lb.DescriptorCount() {
			return fmt.Errorf("%w: element %d out of %d at (%d,%d)", ErrInvalidUsage, w.ArrayElement, lb.DescriptorCount(), s.layout.Set, w.Binding)
		}
		if w.Kind.IsBuffer() && w.Buffer == nil || w.Kind.IsImage() && w.Image == nil {
			return fmt.Errorf("%w: empty write at (%d,%d)", ErrInvalidUsage, s.layout.Set, w.Binding)
		}
		s.writes[[2]uint32{w.Binding, w.ArrayElement}] = w
	}
	s.device.count(func(st *Stats) { st.DescriptorWrites += len(writes) })
	return nil
}

// Bound returns what is written at (binding, element).
func (s *DescriptorSet) Bound(binding, element uint32) (metadata.DescriptorWrite, bool) {
	w, ok := s.writes[[2]uint32{binding, element}]
	return w, ok
}

func (s *DescriptorSet) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.device.untrack(s.handle)
}
