// Package headless is an in-process graphics backend without a GPU. It records what
// it is asked to do, executes submissions instantly and follows the Vulkan rules the
// engine relies on (fence and semaphore states, swapchain status codes), so the frame
// loop can run in tests and in CI without a display.
package headless

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

var (
	ErrDestroyed     = errors.New("object used after destroy")
	ErrInvalidUsage  = errors.New("invalid usage")
	ErrCorruptBlob   = errors.New("pipeline cache blob is corrupt")
	ErrWouldDeadlock = errors.New("fence wait would never return")
)

const blobMagic = "HLPC"

// Stats counts what the device has been asked to do.
type Stats struct {
	Swapchains       int
	RenderPasses     int
	Framebuffers     int
	Pipelines        int
	PipelineBlobHits int
	Shaders          int
	Images           int
	Buffers          int
	DescriptorSets   int
	DescriptorWrites int
	Submits          int
	Presents         int
	Acquires         int
	DrawCalls        int
	WaitIdle         int
}

type Options struct {
	Extent     metadata.Extent
	ImageCount int
}

type Device struct {
	mu     sync.Mutex
	extent metadata.Extent
	images int
	stats  Stats
	live   map[uint64]string

	acquireScript []metadata.SwapchainStatus
	presentScript []metadata.SwapchainStatus
	failAcquire   *core.GPUError
	failPresent   *core.GPUError
	failPipelines error
	failImages    error
	failUploads   error
}

var handles atomic.Uint64

func nextHandle() uint64 {
	return handles.Add(1)
}

func New(opts Options) *Device {
	if opts.ImageCount <= 0 {
		opts.ImageCount = 3
	}
	if opts.Extent.IsZero() {
		opts.Extent = metadata.Extent{Width: 1280, Height: 720}
	}
	return &Device{
		extent: opts.Extent,
		images: opts.ImageCount,
		live:   make(map[uint64]string),
	}
}

func (d *Device) Name() string {
	return "headless"
}

// Stats returns a snapshot of the counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Live is the number of created objects not yet destroyed.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// LiveKinds counts the live objects per kind.
func (d *Device) LiveKinds() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int)
	for _, k := range d.live {
		out[k]++
	}
	return out
}

// SetExtent simulates a window resize: the current swapchain goes out of date and new
// swapchains use the new size.
func (d *Device) SetExtent(extent metadata.Extent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extent = extent
}

func (d *Device) Extent() metadata.Extent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extent
}

// ScriptAcquire queues statuses returned by the next acquisitions, in order.
func (d *Device) ScriptAcquire(statuses ...metadata.SwapchainStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireScript = append(d.acquireScript, statuses...)
}

// ScriptPresent queues statuses returned by the next presentations, in order.
func (d *Device) ScriptPresent(statuses ...metadata.SwapchainStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentScript = append(d.presentScript, statuses...)
}

// FailNextAcquire makes the next acquisition fail with a native result code.
func (d *Device) FailNextAcquire(code int32, result string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAcquire = core.NewGPUError(core.ErrSwapchainFatal, "acquire_next_image", code, result)
}

// FailNextPresent makes the next presentation fail with a native result code.
func (d *Device) FailNextPresent(code int32, result string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failPresent = core.NewGPUError(core.ErrSwapchainFatal, "queue_present", code, result)
}

// FailPipelines makes pipeline construction fail until called again with nil.
func (d *Device) FailPipelines(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failPipelines = err
}

// FailImages makes image construction fail until called again with nil.
func (d *Device) FailImages(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failImages = err
}

// FailUploads makes buffer uploads fail until called again with nil.
func (d *Device) FailUploads(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failUploads = err
}

func (d *Device) track(kind string) uint64 {
	h := nextHandle()
	d.mu.Lock()
	d.live[h] = kind
	d.mu.Unlock()
	return h
}

func (d *Device) untrack(h uint64) {
	d.mu.Lock()
	delete(d.live, h)
	d.mu.Unlock()
}

func (d *Device) count(fn func(s *Stats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}

func (d *Device) CreateSwapchain(props metadata.SwapchainProperties) (metadata.Swapchain, error) {
	d.mu.Lock()
	extent := d.extent
	images := d.images
	d.mu.Unlock()
	if extent.IsZero() {
		return nil, core.ErrSwapchainBooting
	}
	if props.Old != nil {
		if old, ok := props.Old.(*Swapchain); ok && old.destroyed {
			return nil, fmt.Errorf("%w: old swapchain already destroyed", ErrInvalidUsage)
		}
	}
	d.count(func(s *Stats) { s.Swapchains++ })
	return &Swapchain{
		device: d,
		handle: d.track("swapchain"),
		extent: extent,
		count:  images,
	}, nil
}

func (d *Device) CreateRenderPass(props metadata.RenderPassProperties) (metadata.RenderPass, error) {
	d.count(func(s *Stats) { s.RenderPasses++ })
	return &RenderPass{device: d, handle: d.track("render pass"), props: props}, nil
}

func (d *Device) CreateFramebuffer(pass metadata.RenderPass, swapchain metadata.Swapchain, imageIndex int) (metadata.Framebuffer, error) {
	if imageIndex < 0 || imageIndex >= swapchain.ImageCount() {
		return nil, fmt.Errorf("%w: image %d of %d", ErrInvalidUsage, imageIndex, swapchain.ImageCount())
	}
	if rp, ok := pass.(*RenderPass); ok && rp.destroyed {
		return nil, fmt.Errorf("%w: render pass", ErrDestroyed)
	}
	d.count(func(s *Stats) { s.Framebuffers++ })
	return &Framebuffer{device: d, handle: d.track("framebuffer"), extent: swapchain.Extent()}, nil
}

func (d *Device) CreateCommandPool() (metadata.CommandPool, error) {
	return &CommandPool{device: d, handle: d.track("command pool")}, nil
}

func (d *Device) CreateFence(signaled bool) (metadata.Fence, error) {
	return &Fence{device: d, handle: d.track("fence"), signaled: signaled}, nil
}

func (d *Device) CreateSemaphore() (metadata.Semaphore, error) {
	return &Semaphore{device: d, handle: d.track("semaphore")}, nil
}

func (d *Device) CreateBuffer(props metadata.BufferProperties) (metadata.Buffer, error) {
	if props.Size == 0 {
		return nil, fmt.Errorf("%w: zero sized buffer %q", ErrInvalidUsage, props.Name)
	}
	d.count(func(s *Stats) { s.Buffers++ })
	return &Buffer{device: d, handle: d.track("buffer"), props: props, data: make([]byte, props.Size)}, nil
}

func (d *Device) CreateImage(props metadata.ImageProperties) (metadata.Image, error) {
	d.mu.Lock()
	fail := d.failImages
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	if props.Extent.IsZero() {
		return nil, fmt.Errorf("%w: zero sized image %q", ErrInvalidUsage, props.Name)
	}
	d.count(func(s *Stats) { s.Images++ })
	p := props
	return &Image{device: d, handle: d.track("image"), props: &p}, nil
}

func (d *Device) CreateShader(props metadata.ShaderProperties) (metadata.Shader, error) {
	if len(props.Code) == 0 {
		return nil, fmt.Errorf("%w: shader %q has no code", ErrInvalidUsage, props.Key)
	}
	d.count(func(s *Stats) { s.Shaders++ })
	return &Shader{device: d, handle: d.track("shader"), props: props}, nil
}

func (d *Device) CreatePipeline(info metadata.PipelineCreateInfo) (metadata.Pipeline, error) {
	d.mu.Lock()
	fail := d.failPipelines
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	if info.Properties == nil || len(info.Shaders) == 0 {
		return nil, fmt.Errorf("%w: pipeline without properties or shaders", ErrInvalidUsage)
	}
	for _, s := range info.Shaders {
		if sh, ok := s.(*Shader); ok && sh.destroyed {
			return nil, fmt.Errorf("%w: shader %s", ErrDestroyed, sh.props.Key)
		}
	}
	if len(info.CacheBlob) > 0 {
		if len(info.CacheBlob) < len(blobMagic) || string(info.CacheBlob[:len(blobMagic)]) != blobMagic {
			return nil, ErrCorruptBlob
		}
		d.count(func(s *Stats) { s.PipelineBlobHits++ })
	}
	d.count(func(s *Stats) { s.Pipelines++ })
	props := *info.Properties
	return &Pipeline{
		device: d,
		handle: d.track("pipeline"),
		props:  &props,
		info:   info,
		extent: info.Extent,
	}, nil
}

func (d *Device) CreateDescriptorSets(layouts []metadata.SetLayout) ([]metadata.DescriptorSet, error) {
	sets := make([]metadata.DescriptorSet, 0, len(layouts))
	for _, l := range layouts {
		d.count(func(s *Stats) { s.DescriptorSets++ })
		sets = append(sets, &DescriptorSet{
			device: d,
			handle: d.track("descriptor set"),
			layout: l,
			writes: make(map[[2]uint32]metadata.DescriptorWrite),
		})
	}
	return sets, nil
}

// Submit executes the command buffer at once: the signal semaphore and the fence are
// signalled before Submit returns.
func (d *Device) Submit(info metadata.SubmitInfo) error {
	cb, ok := info.CommandBuffer.(*CommandBuffer)
	if !ok {
		return fmt.Errorf("%w: foreign command buffer", ErrInvalidUsage)
	}
	if cb.state != stateExecutable {
		return fmt.Errorf("%w: submitting a command buffer that is %s", ErrInvalidUsage, cb.state)
	}
	if w, ok := info.Wait.(*Semaphore); ok && w != nil {
		if !w.signaled {
			return fmt.Errorf("%w: waiting on a semaphore nothing will signal", ErrInvalidUsage)
		}
		w.signaled = false
	}
	if f, ok := info.Fence.(*Fence); ok && f != nil {
		if f.signaled || f.pending {
			return fmt.Errorf("%w: submitting with a fence that was not reset", ErrInvalidUsage)
		}
		f.pending = true
	}
	if s, ok := info.Signal.(*Semaphore); ok && s != nil {
		if s.signaled {
			return fmt.Errorf("%w: signalling a semaphore that is already signalled", ErrInvalidUsage)
		}
		s.signaled = true
	}
	cb.submitted = append([]Command(nil), cb.commands...)
	d.count(func(s *Stats) { s.Submits++ })
	return nil
}

func (d *Device) WaitIdle() error {
	d.count(func(s *Stats) { s.WaitIdle++ })
	return nil
}

func (d *Device) Destroy() {
	if n := d.Live(); n > 0 {
		core.LogDebug("headless device destroyed with %d live objects: %v", n, d.LiveKinds())
	}
}
