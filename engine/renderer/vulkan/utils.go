package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

var resultNames = map[vk.Result]string{
	vk.Success:                          "VK_SUCCESS",
	vk.NotReady:                         "VK_NOT_READY",
	vk.Timeout:                          "VK_TIMEOUT",
	vk.EventSet:                         "VK_EVENT_SET",
	vk.EventReset:                       "VK_EVENT_RESET",
	vk.Incomplete:                       "VK_INCOMPLETE",
	vk.Suboptimal:                       "VK_SUBOPTIMAL_KHR",
	vk.ErrorOutOfHostMemory:             "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:           "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed:        "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:                  "VK_ERROR_DEVICE_LOST",
	vk.ErrorMemoryMapFailed:             "VK_ERROR_MEMORY_MAP_FAILED",
	vk.ErrorLayerNotPresent:             "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:         "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:           "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:          "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:              "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFormatNotSupported:          "VK_ERROR_FORMAT_NOT_SUPPORTED",
	vk.ErrorFragmentedPool:              "VK_ERROR_FRAGMENTED_POOL",
	vk.ErrorSurfaceLost:                 "VK_ERROR_SURFACE_LOST_KHR",
	vk.ErrorNativeWindowInUse:           "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR",
	vk.ErrorOutOfDate:                   "VK_ERROR_OUT_OF_DATE_KHR",
	vk.ErrorIncompatibleDisplay:         "VK_ERROR_INCOMPATIBLE_DISPLAY_KHR",
	vk.ErrorOutOfPoolMemory:             "VK_ERROR_OUT_OF_POOL_MEMORY",
	vk.ErrorInvalidExternalHandle:       "VK_ERROR_INVALID_EXTERNAL_HANDLE",
	vk.ErrorFragmentation:               "VK_ERROR_FRAGMENTATION",
	vk.ErrorFullScreenExclusiveModeLost: "VK_ERROR_FULL_SCREEN_EXCLUSIVE_MODE_LOST_EXT",
	vk.ErrorUnknown:                     "VK_ERROR_UNKNOWN",
}

// ResultString is the name of the VkResult as written in the Vulkan registry.
func ResultString(result vk.Result) string {
	if name, ok := resultNames[result]; ok {
		return name
	}
	return "VK_RESULT_UNKNOWN"
}

// ResultIsSuccess is true for every non negative result.
func ResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

// check turns a failed call into a GPUError of the given kind carrying the native code.
func check(kind error, op string, result vk.Result) error {
	if ResultIsSuccess(result) {
		return nil
	}
	err := core.NewGPUError(kind, op, int32(result), ResultString(result))
	core.LogError("%s", err)
	return err
}

var end = "\x00"
var endChar byte = '\x00'

func SafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func SafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = SafeString(list[i])
	}
	return out
}

// cString reads a fixed size, zero terminated name as returned by the driver.
func cString(arr []byte) string {
	for i, b := range arr {
		if b == 0 {
			return string(arr[:i])
		}
	}
	return string(arr)
}

func clamp(v, lo, hi uint32) uint32 {
	return max(lo, min(v, hi))
}

func toVkFormat(f metadata.ImageFormat) vk.Format {
	switch f {
	case metadata.ImageFormatRGBA8:
		return vk.FormatR8g8b8a8Unorm
	case metadata.ImageFormatSRGBA8:
		return vk.FormatR8g8b8a8Srgb
	case metadata.ImageFormatBGRA8:
		return vk.FormatB8g8r8a8Unorm
	case metadata.ImageFormatSBGRA8:
		return vk.FormatB8g8r8a8Srgb
	case metadata.ImageFormatR32UInt:
		return vk.FormatR32Uint
	case metadata.ImageFormatRGBA32Float:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.ImageFormatDepth32:
		return vk.FormatD32Sfloat
	case metadata.ImageFormatDepth24Stencil8:
		return vk.FormatD24UnormS8Uint
	default:
		return vk.FormatUndefined
	}
}

func fromVkFormat(f vk.Format) metadata.ImageFormat {
	switch f {
	case vk.FormatR8g8b8a8Unorm:
		return metadata.ImageFormatRGBA8
	case vk.FormatR8g8b8a8Srgb:
		return metadata.ImageFormatSRGBA8
	case vk.FormatB8g8r8a8Unorm:
		return metadata.ImageFormatBGRA8
	case vk.FormatB8g8r8a8Srgb:
		return metadata.ImageFormatSBGRA8
	case vk.FormatR32Uint:
		return metadata.ImageFormatR32UInt
	case vk.FormatR32g32b32a32Sfloat:
		return metadata.ImageFormatRGBA32Float
	case vk.FormatD32Sfloat:
		return metadata.ImageFormatDepth32
	case vk.FormatD24UnormS8Uint:
		return metadata.ImageFormatDepth24Stencil8
	default:
		return metadata.ImageFormatUndefined
	}
}

func toVkVertexFormat(f metadata.VertexFormat) vk.Format {
	switch f {
	case metadata.VertexFormatFloat2:
		return vk.FormatR32g32Sfloat
	case metadata.VertexFormatFloat3:
		return vk.FormatR32g32b32Sfloat
	case metadata.VertexFormatFloat4:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.VertexFormatUInt:
		return vk.FormatR32Uint
	case metadata.VertexFormatInt:
		return vk.FormatR32Sint
	default:
		return vk.FormatR32Sfloat
	}
}

func toVkDescriptorType(k metadata.DescriptorKind) vk.DescriptorType {
	switch k {
	case metadata.DescriptorStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case metadata.DescriptorSampledImage:
		return vk.DescriptorTypeCombinedImageSampler
	case metadata.DescriptorStorageImage:
		return vk.DescriptorTypeStorageImage
	case metadata.DescriptorSeparateImage:
		return vk.DescriptorTypeSampledImage
	case metadata.DescriptorSampler:
		return vk.DescriptorTypeSampler
	default:
		return vk.DescriptorTypeUniformBuffer
	}
}

// ShaderStage values are the Vulkan bits, so the conversion is a cast.
func toVkStages(s metadata.ShaderStage) vk.ShaderStageFlags {
	return vk.ShaderStageFlags(s)
}
