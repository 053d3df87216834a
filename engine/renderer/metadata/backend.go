package metadata

/**
 * @brief The capability set every graphics backend implements. The caches, the
 * binder and the batch renderer only ever see these interfaces.
 */

// Resource is a GPU object that may have to be rebuilt when the surface size changes.
type Resource interface {
	/** @brief Opaque identity of the current native object; changes on every rebuild. */
	Handle() uint64
	/** @brief True when construction depends on the rendering surface size. */
	ExtentDependent() bool
	/** @brief Replaces the native object. Only called while the device is idle. */
	Recreate(extent Extent) error
	Destroy()
}

type Buffer interface {
	Size() uint64
	Usage() BufferUsage
	/** @brief Copies data into the buffer starting at offset. */
	SetData(data []byte, offset uint64) error
	Destroy()
}

type Image interface {
	Resource
	Extent() Extent
	Format() ImageFormat
	Properties() *ImageProperties
}

type Shader interface {
	Key() string
	Stage() ShaderStage
	EntryPoint() string
	Destroy()
}

type Pipeline interface {
	Resource
	Properties() *PipelineProperties
	PushConstantRanges() []PushConstantRange
	/** @brief Sets the render pass the next Recreate builds for. */
	Retarget(pass RenderPass)
	/** @brief The opaque driver blob used to warm the next construction. */
	CacheData() ([]byte, error)
}

type DescriptorSet interface {
	Set() uint32
	Layout() SetLayout
	Write(writes ...DescriptorWrite) error
	Destroy()
}

type CommandBuffer interface {
	Reset() error
	Begin() error
	End() error
	BeginRenderPass(pass RenderPass, framebuffer Framebuffer)
	EndRenderPass()
	/** @brief Sets viewport and scissor to cover extent. */
	SetViewport(extent Extent)
	BindPipeline(pipeline Pipeline)
	BindDescriptorSets(pipeline Pipeline, sets []DescriptorSet)
	PushConstants(pipeline Pipeline, stages ShaderStage, offset uint32, data []byte)
	BindVertexBuffer(buffer Buffer, offset uint64)
	BindIndexBuffer(buffer Buffer, offset uint64)
	SetLineWidth(width float32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32)
}

type CommandPool interface {
	Allocate() (CommandBuffer, error)
	Destroy()
}

type Fence interface {
	/** @brief Blocks until signalled or timeoutNs elapsed. */
	Wait(timeoutNs uint64) error
	Reset() error
	Destroy()
}

type Semaphore interface {
	Destroy()
}

type RenderPass interface {
	Properties() *RenderPassProperties
	Destroy()
}

type Framebuffer interface {
	Extent() Extent
	Destroy()
}

type SwapchainStatus uint8

const (
	SwapchainOptimal SwapchainStatus = iota
	SwapchainSuboptimal
	SwapchainOutOfDate
)

func (s SwapchainStatus) String() string {
	switch s {
	case SwapchainSuboptimal:
		return "suboptimal"
	case SwapchainOutOfDate:
		return "out-of-date"
	default:
		return "optimal"
	}
}

type Swapchain interface {
	Extent() Extent
	Format() ImageFormat
	ImageCount() int
	/** @brief Non-nil error means a fatal failure; out-of-date is reported through the status. */
	AcquireNextImage(timeoutNs uint64, signal Semaphore) (uint32, SwapchainStatus, error)
	Present(wait Semaphore, imageIndex uint32) (SwapchainStatus, error)
	Destroy()
}

type SwapchainProperties struct {
	Extent         Extent
	FramesInFlight int
	VSync          bool
	// Old is handed to the driver so the new swapchain can reuse its images.
	Old Swapchain
}

type SubmitInfo struct {
	CommandBuffer CommandBuffer
	// Wait gates the colour attachment output stage.
	Wait   Semaphore
	Signal Semaphore
	Fence  Fence
}

// Device is the factory for every backend object.
type Device interface {
	Name() string
	CreateSwapchain(props SwapchainProperties) (Swapchain, error)
	CreateRenderPass(props RenderPassProperties) (RenderPass, error)
	CreateFramebuffer(pass RenderPass, swapchain Swapchain, imageIndex int) (Framebuffer, error)
	CreateCommandPool() (CommandPool, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	CreateBuffer(props BufferProperties) (Buffer, error)
	CreateImage(props ImageProperties) (Image, error)
	CreateShader(props ShaderProperties) (Shader, error)
	CreatePipeline(info PipelineCreateInfo) (Pipeline, error)
	/** @brief Allocates one set per layout, in order. */
	CreateDescriptorSets(layouts []SetLayout) ([]DescriptorSet, error)
	Submit(info SubmitInfo) error
	WaitIdle() error
	Destroy()
}

// Retirer defers the release of GPU objects until the GPU no longer references them.
type Retirer interface {
	Retire(release func())
}

type RetireFunc func(release func())

func (f RetireFunc) Retire(release func()) {
	f(release)
}

// RetireImmediately releases right away; only valid while the device is idle.
var RetireImmediately Retirer = RetireFunc(func(release func()) {
	release()
})
