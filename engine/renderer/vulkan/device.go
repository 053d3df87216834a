package vulkan

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

type Options struct {
	AppName    string
	Validation bool
	// Extensions the windowing layer needs on the instance.
	Extensions []string
	// CreateSurface creates the window surface for the instance.
	CreateSurface func(instance vk.Instance) (uintptr, error)
	// FramebufferSize is the drawable size, used when the surface leaves the extent to us.
	FramebufferSize func() metadata.Extent
}

type PhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Transfer             bool
	DeviceExtensionNames []string
	SamplerAnisotropy    bool
	DiscreteGPU          bool
}

type PhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
	ComputeFamilyIndex  int32
	TransferFamilyIndex int32
}

/**
 * @brief The Vulkan implementation of metadata.Device. Owns the instance, the surface
 * and the logical device; every other object is created through it.
 */
type Device struct {
	ctx  *Context
	opts Options
	name string
}

var _ metadata.Device = (*Device)(nil)

func New(opts Options) (*Device, error) {
	if opts.CreateSurface == nil {
		return nil, errors.New("vulkan device needs a surface factory")
	}
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, fmt.Errorf("%w: GetInstanceProcAddress is nil", core.ErrConstructionFailure)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize vk: %w", core.ErrConstructionFailure, err)
	}

	d := &Device{
		ctx:  &Context{locks: NewLockPool()},
		opts: opts,
	}
	if err := d.initialize(); err != nil {
		d.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan device initialized successfully.")
	return d, nil
}

func (d *Device) initialize() error {
	ctx := d.ctx
	if err := createInstance(ctx, d.opts); err != nil {
		return err
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := d.opts.CreateSurface(ctx.Instance)
	if err != nil || surface == 0 {
		return fmt.Errorf("%w: surface creation failed: %v", core.ErrConstructionFailure, err)
	}
	ctx.Surface = vk.SurfaceFromPointer(surface)

	if err := selectPhysicalDevice(ctx); err != nil {
		return err
	}
	if !detectDepthFormat(ctx) {
		return fmt.Errorf("%w: no supported depth format", core.ErrConstructionFailure)
	}
	if err := createLogicalDevice(ctx); err != nil {
		return err
	}
	d.name = cString(ctx.Properties.DeviceName[:])
	return nil
}

func (d *Device) Name() string {
	if d.name == "" {
		return "vulkan"
	}
	return "vulkan " + d.name
}

func (d *Device) Context() *Context { return d.ctx }

func (d *Device) CreateSwapchain(props metadata.SwapchainProperties) (metadata.Swapchain, error) {
	return newSwapchain(d, props)
}

func (d *Device) CreateRenderPass(props metadata.RenderPassProperties) (metadata.RenderPass, error) {
	return newRenderPass(d.ctx, props)
}

func (d *Device) CreateFramebuffer(pass metadata.RenderPass, swapchain metadata.Swapchain, imageIndex int) (metadata.Framebuffer, error) {
	rp, ok := pass.(*RenderPass)
	if !ok {
		return nil, fmt.Errorf("%w: render pass %T", core.ErrConstructionFailure, pass)
	}
	sc, ok := swapchain.(*Swapchain)
	if !ok {
		return nil, fmt.Errorf("%w: swapchain %T", core.ErrConstructionFailure, swapchain)
	}
	return newFramebuffer(d.ctx, rp, sc, imageIndex)
}

func (d *Device) CreateCommandPool() (metadata.CommandPool, error) {
	return newCommandPool(d.ctx)
}

func (d *Device) CreateFence(signaled bool) (metadata.Fence, error) {
	return newFence(d.ctx, signaled)
}

func (d *Device) CreateSemaphore() (metadata.Semaphore, error) {
	return newSemaphore(d.ctx)
}

func (d *Device) CreateBuffer(props metadata.BufferProperties) (metadata.Buffer, error) {
	return newBuffer(d.ctx, props)
}

func (d *Device) CreateImage(props metadata.ImageProperties) (metadata.Image, error) {
	return newImage(d.ctx, props)
}

func (d *Device) CreateShader(props metadata.ShaderProperties) (metadata.Shader, error) {
	return newShader(d.ctx, props)
}

func (d *Device) CreatePipeline(info metadata.PipelineCreateInfo) (metadata.Pipeline, error) {
	return newPipeline(d.ctx, info)
}

func (d *Device) CreateDescriptorSets(layouts []metadata.SetLayout) ([]metadata.DescriptorSet, error) {
	return newDescriptorSets(d.ctx, layouts)
}

func (d *Device) Submit(info metadata.SubmitInfo) error {
	cb, ok := info.CommandBuffer.(*CommandBuffer)
	if !ok {
		return fmt.Errorf("%w: command buffer %T", core.ErrSwapchainFatal, info.CommandBuffer)
	}
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	// Wait semaphore ensures that the operation cannot begin until the image is available.
	if s, ok := info.Wait.(*Semaphore); ok && s != nil {
		submit.WaitSemaphoreCount = 1
		submit.PWaitSemaphores = []vk.Semaphore{s.Handle}
		submit.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}
	}
	if s, ok := info.Signal.(*Semaphore); ok && s != nil {
		submit.SignalSemaphoreCount = 1
		submit.PSignalSemaphores = []vk.Semaphore{s.Handle}
	}
	fence := vk.NullFence
	if f, ok := info.Fence.(*Fence); ok && f != nil {
		fence = f.Handle
		f.signaled = false
	}

	err := d.ctx.locks.SafeQueueCall(d.ctx.GraphicsQueueIndex, func() error {
		return check(core.ErrSwapchainFatal, "queue_submit", vk.QueueSubmit(d.ctx.GraphicsQueue, 1, []vk.SubmitInfo{submit}, fence))
	})
	if err != nil {
		return err
	}
	cb.state = commandBufferSubmitted
	return nil
}

func (d *Device) WaitIdle() error {
	if d.ctx.LogicalDevice == nil {
		return nil
	}
	return check(core.ErrSwapchainFatal, "device_wait_idle", vk.DeviceWaitIdle(d.ctx.LogicalDevice))
}

// Destroy releases the device, surface and instance. Every object created from the
// device has to be destroyed first.
func (d *Device) Destroy() {
	ctx := d.ctx
	if ctx.LogicalDevice != nil {
		vk.DeviceWaitIdle(ctx.LogicalDevice)
		core.LogDebug("Destroying command pools...")
		if ctx.TransferCommandPool != vk.NullCommandPool {
			vk.DestroyCommandPool(ctx.LogicalDevice, ctx.TransferCommandPool, ctx.Allocator)
			ctx.TransferCommandPool = vk.NullCommandPool
		}
		core.LogDebug("Destroying logical device...")
		vk.DestroyDevice(ctx.LogicalDevice, ctx.Allocator)
		ctx.LogicalDevice = nil
	}
	ctx.GraphicsQueue = nil
	ctx.PresentQueue = nil
	ctx.TransferQueue = nil
	ctx.PhysicalDevice = nil
	ctx.SwapchainSupport = SwapchainSupportInfo{}

	core.LogDebug("Destroying Vulkan surface and instance...")
	destroyInstance(ctx)
}

func createLogicalDevice(ctx *Context) error {
	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	indices := []uint32{ctx.GraphicsQueueIndex}
	if ctx.PresentQueueIndex != ctx.GraphicsQueueIndex {
		indices = append(indices, ctx.PresentQueueIndex)
	}
	if ctx.TransferQueueIndex != ctx.GraphicsQueueIndex && ctx.TransferQueueIndex != ctx.PresentQueueIndex {
		indices = append(indices, ctx.TransferQueueIndex)
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
		ctx.locks.SetQueueFamily(index)
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: vk.True,
		WideLines:         ctx.Features.WideLines,
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if hasDeviceExtension(ctx.PhysicalDevice, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: SafeStrings(extensionNames),
	}
	if err := check(core.ErrConstructionFailure, "create_device", vk.CreateDevice(ctx.PhysicalDevice, &deviceCreateInfo, ctx.Allocator, &ctx.LogicalDevice)); err != nil {
		return err
	}
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(ctx.LogicalDevice, ctx.GraphicsQueueIndex, 0, &ctx.GraphicsQueue)
	vk.GetDeviceQueue(ctx.LogicalDevice, ctx.PresentQueueIndex, 0, &ctx.PresentQueue)
	vk.GetDeviceQueue(ctx.LogicalDevice, ctx.TransferQueueIndex, 0, &ctx.TransferQueue)
	core.LogInfo("Queues obtained.")

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: ctx.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit | vk.CommandPoolCreateTransientBit),
	}
	return check(core.ErrConstructionFailure, "create_command_pool", vk.CreateCommandPool(ctx.LogicalDevice, &poolCreateInfo, ctx.Allocator, &ctx.TransferCommandPool))
}

func deviceExtensions(device vk.PhysicalDevice) []string {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success || count == 0 {
		return nil
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
		return nil
	}
	names := make([]string, 0, count)
	for i := range available {
		available[i].Deref()
		names = append(names, cString(available[i].ExtensionName[:]))
	}
	return names
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) bool {
	for _, ext := range deviceExtensions(device) {
		if ext == name {
			return true
		}
	}
	return false
}

func QuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *SwapchainSupportInfo) error {
	if err := check(core.ErrConstructionFailure, "get_surface_capabilities", vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities)); err != nil {
		return err
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := check(core.ErrConstructionFailure, "get_surface_formats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil)); err != nil {
		return err
	}
	supportInfo.Formats = make([]vk.SurfaceFormat, formatCount)
	if formatCount > 0 {
		if err := check(core.ErrConstructionFailure, "get_surface_formats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, supportInfo.Formats)); err != nil {
			return err
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if err := check(core.ErrConstructionFailure, "get_surface_present_modes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil)); err != nil {
		return err
	}
	supportInfo.PresentModes = make([]vk.PresentMode, modeCount)
	if modeCount > 0 {
		return check(core.ErrConstructionFailure, "get_surface_present_modes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, supportInfo.PresentModes))
	}
	return nil
}

func detectDepthFormat(ctx *Context) bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(ctx.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if properties.LinearTilingFeatures&flags == flags || properties.OptimalTilingFeatures&flags == flags {
			ctx.DepthFormat = candidate
			return true
		}
	}
	return false
}

func selectPhysicalDevice(ctx *Context) error {
	var count uint32
	if err := check(core.ErrConstructionFailure, "enumerate_physical_devices", vk.EnumeratePhysicalDevices(ctx.Instance, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: no devices which support Vulkan were found", core.ErrConstructionFailure)
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check(core.ErrConstructionFailure, "enumerate_physical_devices", vk.EnumeratePhysicalDevices(ctx.Instance, &count, devices)); err != nil {
		return err
	}

	requirements := PhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		Transfer:             true,
		SamplerAnisotropy:    true,
		DiscreteGPU:          runtime.GOOS != "darwin",
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}

	// Integrated GPUs are accepted when no discrete one qualifies.
	for _, discrete := range []bool{requirements.DiscreteGPU, false} {
		requirements.DiscreteGPU = discrete
		for _, device := range devices {
			var properties vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(device, &properties)
			properties.Deref()
			var features vk.PhysicalDeviceFeatures
			vk.GetPhysicalDeviceFeatures(device, &features)
			features.Deref()

			var support SwapchainSupportInfo
			queues, ok := physicalDeviceMeetsRequirements(device, ctx.Surface, &properties, &features, &requirements, &support)
			if !ok {
				continue
			}

			var memory vk.PhysicalDeviceMemoryProperties
			vk.GetPhysicalDeviceMemoryProperties(device, &memory)
			memory.Deref()

			ctx.PhysicalDevice = device
			ctx.Properties = properties
			ctx.Features = features
			ctx.Memory = memory
			ctx.SwapchainSupport = support
			ctx.GraphicsQueueIndex = uint32(queues.GraphicsFamilyIndex)
			ctx.PresentQueueIndex = uint32(queues.PresentFamilyIndex)
			ctx.TransferQueueIndex = uint32(queues.TransferFamilyIndex)
			logDevice(&properties, &memory)
			return nil
		}
	}
	return fmt.Errorf("%w: no physical devices were found which meet the requirements", core.ErrConstructionFailure)
}

func logDevice(properties *vk.PhysicalDeviceProperties, memory *vk.PhysicalDeviceMemoryProperties) {
	core.LogInfo("Selected device: '%s'.", cString(properties.DeviceName[:]))
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo("GPU Driver version: %d.%d.%d",
		vk.Version(properties.DriverVersion).Major(),
		vk.Version(properties.DriverVersion).Minor(),
		vk.Version(properties.DriverVersion).Patch())
	core.LogInfo("Vulkan API version: %d.%d.%d",
		vk.Version(properties.ApiVersion).Major(),
		vk.Version(properties.ApiVersion).Minor(),
		vk.Version(properties.ApiVersion).Patch())

	for j := uint32(0); j < memory.MemoryHeapCount; j++ {
		memory.MemoryHeaps[j].Deref()
		gib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlags(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
}

func physicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, features *vk.PhysicalDeviceFeatures, requirements *PhysicalDeviceRequirements, support *SwapchainSupportInfo) (PhysicalDeviceQueueFamilyInfo, bool) {
	queues := PhysicalDeviceQueueFamilyInfo{-1, -1, -1, -1}
	name := cString(properties.DeviceName[:])

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogDebug("%s is not a discrete GPU, and one is required. Skipping.", name)
		return queues, false
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, families)

	minTransferScore := 255
	for i := range families {
		families[i].Deref()
		flags := families[i].QueueFlags
		score := 0
		if flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			if queues.GraphicsFamilyIndex < 0 {
				queues.GraphicsFamilyIndex = int32(i)
			}
			score++
		}
		if flags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
			if queues.ComputeFamilyIndex < 0 {
				queues.ComputeFamilyIndex = int32(i)
			}
			score++
		}
		// Take the index if it is the current lowest. This increases the
		// likelihood that it is a dedicated transfer queue.
		if flags&vk.QueueFlags(vk.QueueTransferBit) != 0 && score <= minTransferScore {
			minTransferScore = score
			queues.TransferFamilyIndex = int32(i)
		}

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return queues, false
		}
		if supportsPresent == vk.True && (queues.PresentFamilyIndex < 0 || int32(i) == queues.GraphicsFamilyIndex) {
			queues.PresentFamilyIndex = int32(i)
		}
	}

	core.LogDebug("%s queues: graphics %d, present %d, compute %d, transfer %d", name,
		queues.GraphicsFamilyIndex, queues.PresentFamilyIndex, queues.ComputeFamilyIndex, queues.TransferFamilyIndex)

	if (requirements.Graphics && queues.GraphicsFamilyIndex < 0) ||
		(requirements.Present && queues.PresentFamilyIndex < 0) ||
		(requirements.Transfer && queues.TransferFamilyIndex < 0) {
		return queues, false
	}

	if err := QuerySwapchainSupport(device, surface, support); err != nil || len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		core.LogDebug("Required swapchain support not present, skipping %s.", name)
		return queues, false
	}

	available := deviceExtensions(device)
	for _, required := range requirements.DeviceExtensionNames {
		found := false
		for _, ext := range available {
			if ext == required {
				found = true
				break
			}
		}
		if !found {
			core.LogDebug("Required extension not found: '%s', skipping %s.", required, name)
			return queues, false
		}
	}

	if requirements.SamplerAnisotropy && features.SamplerAnisotropy == vk.False {
		core.LogDebug("%s does not support samplerAnisotropy, skipping.", name)
		return queues, false
	}
	return queues, true
}
