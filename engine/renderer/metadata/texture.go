package metadata

type ImageFormat uint8

const (
	ImageFormatUndefined ImageFormat = iota
	ImageFormatRGBA8
	ImageFormatSRGBA8
	ImageFormatBGRA8
	ImageFormatSBGRA8
	ImageFormatR32UInt
	ImageFormatRGBA32Float
	ImageFormatDepth32
	ImageFormatDepth24Stencil8
)

func (f ImageFormat) String() string {
	switch f {
	case ImageFormatRGBA8:
		return "rgba8"
	case ImageFormatSRGBA8:
		return "srgba8"
	case ImageFormatBGRA8:
		return "bgra8"
	case ImageFormatSBGRA8:
		return "sbgra8"
	case ImageFormatR32UInt:
		return "r32uint"
	case ImageFormatRGBA32Float:
		return "rgba32f"
	case ImageFormatDepth32:
		return "depth32"
	case ImageFormatDepth24Stencil8:
		return "depth24stencil8"
	default:
		return "undefined"
	}
}

func (f ImageFormat) IsDepth() bool {
	return f == ImageFormatDepth32 || f == ImageFormatDepth24Stencil8
}

// BytesPerPixel of the uncompressed format, 0 when undefined.
func (f ImageFormat) BytesPerPixel() uint32 {
	switch f {
	case ImageFormatRGBA32Float:
		return 16
	case ImageFormatUndefined:
		return 0
	default:
		return 4
	}
}

type ImageUsage uint8

const (
	ImageUsageSampled ImageUsage = 1 << iota
	ImageUsageStorage
	ImageUsageColourAttachment
	ImageUsageDepthAttachment
	ImageUsageTransferSource
)

type ImageProperties struct {
	Name   string
	Extent Extent
	Format ImageFormat
	Usage  ImageUsage
	// Pixels are tightly packed rows; may be nil for attachments.
	Pixels []byte
	// FramebufferSized images follow the surface size and are rebuilt on resize.
	FramebufferSized bool
	Mips             uint32
}

/**
 * @brief Creation properties of a cached texture. The cache key is Key when set,
 * otherwise the path plus the format.
 */
type TextureProperties struct {
	Key              string
	Path             string
	Format           ImageFormat
	Usage            ImageUsage
	Extent           Extent
	Pixels           []byte
	FramebufferSized bool
	FlipY            bool
}
