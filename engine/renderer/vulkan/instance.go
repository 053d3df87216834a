package vulkan

import (
	"fmt"
	"runtime"
	"slices"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

func createInstance(ctx *Context, opts Options) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   SafeString(opts.AppName),
		PEngineName:        SafeString("Anima Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	extensions := []string{"VK_KHR_surface"}
	extensions = append(extensions, opts.Extensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}
	if opts.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
	}
	extensions = slices.Compact(extensions)
	core.LogDebug("required instance extensions: %v", extensions)

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = SafeStrings(extensions)

	var layers []string
	if opts.Validation {
		if err := requireLayer(validationLayer); err != nil {
			return err
		}
		layers = []string{validationLayer}
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = SafeStrings(layers)

	if err := check(core.ErrConstructionFailure, "create_instance", vk.CreateInstance(&createInfo, ctx.Allocator, &ctx.Instance)); err != nil {
		return err
	}
	if err := vk.InitInstance(ctx.Instance); err != nil {
		return fmt.Errorf("%w: %w", core.ErrConstructionFailure, err)
	}
	core.LogInfo("Vulkan Instance created.")

	if opts.Validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := check(core.ErrConstructionFailure, "create_debug_report_callback", vk.CreateDebugReportCallback(ctx.Instance, &debugCreateInfo, ctx.Allocator, &dbg)); err != nil {
			return err
		}
		ctx.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

// requireLayer verifies an instance layer is installed.
func requireLayer(name string) error {
	var count uint32
	if err := check(core.ErrConstructionFailure, "enumerate_instance_layer_properties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := check(core.ErrConstructionFailure, "enumerate_instance_layer_properties", vk.EnumerateInstanceLayerProperties(&count, available)); err != nil {
		return err
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].LayerName[:]) == name {
			core.LogInfo("Found validation layer %s.", name)
			return nil
		}
	}
	return fmt.Errorf("%w: required validation layer is missing: %s", core.ErrConstructionFailure, name)
}

func destroyInstance(ctx *Context) {
	if ctx.Surface != vk.NullSurface {
		vk.DestroySurface(ctx.Instance, ctx.Surface, ctx.Allocator)
		ctx.Surface = vk.NullSurface
	}
	if ctx.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}
	if ctx.Instance != nil {
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
