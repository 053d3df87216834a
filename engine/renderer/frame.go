package renderer

import (
	"errors"
	"fmt"
	"math"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

// FrameSlot holds the objects one frame in flight records and synchronises with.
type FrameSlot struct {
	CommandBuffer  metadata.CommandBuffer
	ImageAvailable metadata.Semaphore
	RenderFinished metadata.Semaphore
	InFlight       metadata.Fence
}

type SynchronizerOptions struct {
	Device         metadata.Device
	Extent         metadata.Extent
	FramesInFlight int
	VSync          bool
	RenderPass     metadata.RenderPassProperties
	// FenceTimeout of 0 waits indefinitely.
	FenceTimeout uint64
}

/**
 * @brief Drives the frames in flight: fence waits, image acquisition, submission,
 * presentation and swapchain recreation. An out-of-date swapchain is handled here and
 * never reported to the caller.
 */
type FrameSynchronizer struct {
	device       metadata.Device
	framesCount  int
	vsync        bool
	passProps    metadata.RenderPassProperties
	fenceTimeout uint64

	swapchain    metadata.Swapchain
	renderPass   metadata.RenderPass
	framebuffers []metadata.Framebuffer
	pool         metadata.CommandPool
	slots        []*FrameSlot
	// the fence of the frame last rendering into each swapchain image; not owned
	imagesInFlight []metadata.Fence
	retire         *RetireList

	CurrentFrame int
	ImageIndex   uint32
	FrameNumber  uint64
	recording    bool

	extent metadata.Extent
	// FramebufferSizeGeneration changes on every resize; recreation catches up with it.
	FramebufferSizeGeneration     uint64
	FramebufferSizeLastGeneration uint64
	pending                       bool
	recreating                    bool
	suboptimal                    bool
	recreations                   int

	onFrameStart []func(slot int) error
	onFrameEnd   []func(slot int)
	onRecreate   []func(extent metadata.Extent) error
}

func NewFrameSynchronizer(opts SynchronizerOptions) (*FrameSynchronizer, error) {
	if opts.Device == nil {
		return nil, errors.New("frame synchronizer needs a device")
	}
	if opts.FramesInFlight <= 0 {
		return nil, fmt.Errorf("frames in flight must be positive, got %d", opts.FramesInFlight)
	}
	if opts.FenceTimeout == 0 {
		opts.FenceTimeout = math.MaxUint64
	}
	s := &FrameSynchronizer{
		device:       opts.Device,
		framesCount:  opts.FramesInFlight,
		vsync:        opts.VSync,
		passProps:    opts.RenderPass,
		fenceTimeout: opts.FenceTimeout,
		retire:       NewRetireList(opts.FramesInFlight),
		extent:       opts.Extent,
	}

	rp, err := s.device.CreateRenderPass(s.passProps)
	if err != nil {
		return nil, fmt.Errorf("%w: render pass: %w", core.ErrConstructionFailure, err)
	}
	s.renderPass = rp

	if s.extent.IsZero() {
		core.LogInfo("surface is %s, swapchain creation deferred", s.extent)
		s.pending = true
		return s, nil
	}
	if err := s.build(); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

// OnFrameStart registers a listener called after the slot's fence wait, before
// recording begins. A listener error aborts the frame and is fatal.
func (s *FrameSynchronizer) OnFrameStart(fn func(slot int) error) {
	s.onFrameStart = append(s.onFrameStart, fn)
}

// OnFrameEnd registers a listener called once the slot's work was submitted.
func (s *FrameSynchronizer) OnFrameEnd(fn func(slot int)) {
	s.onFrameEnd = append(s.onFrameEnd, fn)
}

// OnRecreate registers a listener called after every swapchain recreation.
func (s *FrameSynchronizer) OnRecreate(fn func(extent metadata.Extent) error) {
	s.onRecreate = append(s.onRecreate, fn)
}

func (s *FrameSynchronizer) FramesInFlight() int             { return s.framesCount }
func (s *FrameSynchronizer) Swapchain() metadata.Swapchain   { return s.swapchain }
func (s *FrameSynchronizer) RenderPass() metadata.RenderPass { return s.renderPass }
func (s *FrameSynchronizer) Extent() metadata.Extent         { return s.extent }
func (s *FrameSynchronizer) Retirer() *RetireList            { return s.retire }
func (s *FrameSynchronizer) Recording() bool                 { return s.recording }
func (s *FrameSynchronizer) Recreations() int                { return s.recreations }

// Pending reports a recreation waiting for a non zero surface.
func (s *FrameSynchronizer) Pending() bool { return s.pending }

func (s *FrameSynchronizer) Slot(i int) *FrameSlot {
	if i < 0 || i >= len(s.slots) {
		return nil
	}
	return s.slots[i]
}

// CommandBuffer is the buffer of the frame being recorded.
func (s *FrameSynchronizer) CommandBuffer() metadata.CommandBuffer {
	if !s.recording {
		return nil
	}
	return s.slots[s.CurrentFrame].CommandBuffer
}

// Framebuffer is the framebuffer of the acquired swapchain image.
func (s *FrameSynchronizer) Framebuffer() metadata.Framebuffer {
	if !s.recording || int(s.ImageIndex) >= len(s.framebuffers) {
		return nil
	}
	return s.framebuffers[s.ImageIndex]
}

// Resize records the new surface size; the swapchain is rebuilt on the next frame.
func (s *FrameSynchronizer) Resize(extent metadata.Extent) {
	s.extent = extent
	s.FramebufferSizeGeneration++
	core.LogInfo("frame synchronizer resized: w/h/gen: %d/%d/%d", extent.Width, extent.Height, s.FramebufferSizeGeneration)
}

// fatal keeps native errors as they are and tags the rest as swapchain failures.
func fatal(op string, err error) error {
	var gpu *core.GPUError
	if errors.As(err, &gpu) {
		return err
	}
	return core.NewGPUError(core.ErrSwapchainFatal, op, 0, "no native result").Wrap(err)
}

/**
 * @brief Waits for the current slot, acquires the next image and begins recording.
 * @return false when the frame has to be skipped (minimized surface or a swapchain that
 * is still out of date after one recreation).
 */
func (s *FrameSynchronizer) PrepareFrame() (bool, error) {
	if s.recording {
		return false, fmt.Errorf("%w: frame %d is already being recorded", core.ErrInvalidCallSequence, s.FrameNumber)
	}

	if s.pending || s.FramebufferSizeGeneration != s.FramebufferSizeLastGeneration {
		if err := s.Recreate(); err != nil {
			return false, err
		}
		if s.pending {
			return false, nil
		}
	}

	retried := false
	for {
		slot := s.slots[s.CurrentFrame]
		if err := slot.InFlight.Wait(s.fenceTimeout); err != nil {
			err = fatal("wait_for_fences", err)
			core.LogError("%s", err)
			return false, err
		}
		s.retire.Flush(s.CurrentFrame)
		s.retire.SetCurrent(s.CurrentFrame)

		index, status, err := s.swapchain.AcquireNextImage(s.fenceTimeout, slot.ImageAvailable)
		if err != nil {
			err = fatal("acquire_next_image", err)
			core.LogError("%s", err)
			return false, err
		}
		if status == metadata.SwapchainOutOfDate {
			if retried {
				core.LogWarn("swapchain still out of date after recreation, skipping frame")
				return false, nil
			}
			retried = true
			if err := s.Recreate(); err != nil {
				return false, err
			}
			if s.pending {
				return false, nil
			}
			continue
		}
		if status == metadata.SwapchainSuboptimal {
			s.suboptimal = true
		}
		s.ImageIndex = index
		break
	}

	slot := s.slots[s.CurrentFrame]
	// a previous frame may still be rendering into this image
	if prev := s.imagesInFlight[s.ImageIndex]; prev != nil && prev != slot.InFlight {
		if err := prev.Wait(s.fenceTimeout); err != nil {
			err = fatal("wait_for_fences", err)
			core.LogError("%s", err)
			return false, err
		}
	}
	s.imagesInFlight[s.ImageIndex] = slot.InFlight

	for _, fn := range s.onFrameStart {
		if err := fn(s.CurrentFrame); err != nil {
			core.LogError("%s", err)
			return false, err
		}
	}

	if err := slot.CommandBuffer.Reset(); err != nil {
		return false, err
	}
	if err := slot.CommandBuffer.Begin(); err != nil {
		return false, err
	}
	s.recording = true
	return true, nil
}

// Present ends recording, submits the frame and hands the image back to the swapchain.
func (s *FrameSynchronizer) Present() error {
	if !s.recording {
		return fmt.Errorf("%w: present without a prepared frame", core.ErrInvalidCallSequence)
	}
	s.recording = false
	slot := s.slots[s.CurrentFrame]

	if err := slot.CommandBuffer.End(); err != nil {
		return err
	}
	if err := slot.InFlight.Reset(); err != nil {
		return fatal("reset_fences", err)
	}
	if err := s.device.Submit(metadata.SubmitInfo{
		CommandBuffer: slot.CommandBuffer,
		Wait:          slot.ImageAvailable,
		Signal:        slot.RenderFinished,
		Fence:         slot.InFlight,
	}); err != nil {
		err = fatal("queue_submit", err)
		core.LogError("%s", err)
		return err
	}
	for _, fn := range s.onFrameEnd {
		fn(s.CurrentFrame)
	}

	status, err := s.swapchain.Present(slot.RenderFinished, s.ImageIndex)
	s.CurrentFrame = (s.CurrentFrame + 1) % s.framesCount
	s.FrameNumber++
	if err != nil {
		err = fatal("queue_present", err)
		core.LogError("%s", err)
		return err
	}

	resized := s.FramebufferSizeGeneration != s.FramebufferSizeLastGeneration
	if status != metadata.SwapchainOptimal || s.suboptimal || resized {
		core.LogDebug("swapchain %s after present, recreating", status)
		return s.Recreate()
	}
	return nil
}

/**
 * @brief Rebuilds the swapchain and every object depending on it. With a zero sized
 * surface the recreation stays pending until a non zero resize arrives.
 */
func (s *FrameSynchronizer) Recreate() error {
	if s.recreating {
		core.LogDebug("recreate called while already recreating, booting")
		return nil
	}
	s.FramebufferSizeLastGeneration = s.FramebufferSizeGeneration
	if s.extent.IsZero() {
		if !s.pending {
			core.LogInfo("surface is %s, swapchain recreation deferred", s.extent)
		}
		s.pending = true
		return nil
	}

	s.recreating = true
	defer func() { s.recreating = false }()

	if err := s.device.WaitIdle(); err != nil {
		return fatal("device_wait_idle", err)
	}
	s.retire.FlushAll()
	s.teardown()

	if s.renderPass != nil {
		s.renderPass.Destroy()
		s.renderPass = nil
	}
	rp, err := s.device.CreateRenderPass(s.passProps)
	if err != nil {
		return fmt.Errorf("%w: render pass: %w", core.ErrConstructionFailure, err)
	}
	s.renderPass = rp

	if err := s.build(); err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			core.LogInfo("swapchain cannot be created yet, recreation deferred")
			s.pending = true
			return nil
		}
		return err
	}
	s.pending = false
	s.suboptimal = false
	s.recreations++
	core.LogInfo("swapchain recreated at %s", s.extent)

	var failed []error
	for _, fn := range s.onRecreate {
		if err := fn(s.extent); err != nil {
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

// build creates the swapchain, handing over the previous one, and the per image and
// per slot objects.
func (s *FrameSynchronizer) build() error {
	old := s.swapchain
	sc, err := s.device.CreateSwapchain(metadata.SwapchainProperties{
		Extent:         s.extent,
		FramesInFlight: s.framesCount,
		VSync:          s.vsync,
		Old:            old,
	})
	if err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			return err
		}
		return fmt.Errorf("%w: swapchain: %w", core.ErrConstructionFailure, err)
	}
	if old != nil {
		old.Destroy()
	}
	s.swapchain = sc
	s.extent = sc.Extent()

	s.framebuffers = make([]metadata.Framebuffer, sc.ImageCount())
	for i := range s.framebuffers {
		fb, err := s.device.CreateFramebuffer(s.renderPass, sc, i)
		if err != nil {
			return fmt.Errorf("%w: framebuffer %d: %w", core.ErrConstructionFailure, i, err)
		}
		s.framebuffers[i] = fb
	}
	s.imagesInFlight = make([]metadata.Fence, sc.ImageCount())

	pool, err := s.device.CreateCommandPool()
	if err != nil {
		return fmt.Errorf("%w: command pool: %w", core.ErrConstructionFailure, err)
	}
	s.pool = pool

	s.slots = make([]*FrameSlot, s.framesCount)
	for i := range s.slots {
		slot := &FrameSlot{}
		s.slots[i] = slot
		if slot.CommandBuffer, err = pool.Allocate(); err != nil {
			return fmt.Errorf("%w: command buffer %d: %w", core.ErrConstructionFailure, i, err)
		}
		if slot.ImageAvailable, err = s.device.CreateSemaphore(); err != nil {
			return fmt.Errorf("%w: semaphore: %w", core.ErrConstructionFailure, err)
		}
		if slot.RenderFinished, err = s.device.CreateSemaphore(); err != nil {
			return fmt.Errorf("%w: semaphore: %w", core.ErrConstructionFailure, err)
		}
		// signalled, so the first wait of every slot returns at once
		if slot.InFlight, err = s.device.CreateFence(true); err != nil {
			return fmt.Errorf("%w: fence: %w", core.ErrConstructionFailure, err)
		}
	}
	s.CurrentFrame = 0
	core.LogDebug("swapchain built: %s, %d images, %d frames in flight", s.extent, sc.ImageCount(), s.framesCount)
	return nil
}

// teardown destroys the per image and per slot objects, keeping the swapchain so the
// next one can be created from it.
func (s *FrameSynchronizer) teardown() {
	for _, fb := range s.framebuffers {
		if fb != nil {
			fb.Destroy()
		}
	}
	s.framebuffers = nil
	s.imagesInFlight = nil
	for _, slot := range s.slots {
		if slot == nil {
			continue
		}
		if slot.ImageAvailable != nil {
			slot.ImageAvailable.Destroy()
		}
		if slot.RenderFinished != nil {
			slot.RenderFinished.Destroy()
		}
		if slot.InFlight != nil {
			slot.InFlight.Destroy()
		}
	}
	s.slots = nil
	// frees the command buffers as well
	if s.pool != nil {
		s.pool.Destroy()
		s.pool = nil
	}
	s.recording = false
}

func (s *FrameSynchronizer) Destroy() {
	if err := s.device.WaitIdle(); err != nil {
		core.LogWarn("device wait idle failed on shutdown: %s", err)
	}
	s.retire.FlushAll()
	s.teardown()
	if s.renderPass != nil {
		s.renderPass.Destroy()
		s.renderPass = nil
	}
	if s.swapchain != nil {
		s.swapchain.Destroy()
		s.swapchain = nil
	}
}
