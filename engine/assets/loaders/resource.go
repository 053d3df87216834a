package loaders

import (
	"path/filepath"
	"strings"
)

type Kind uint8

const (
	KindNone Kind = iota
	// KindShaderBinary is precompiled SPIR-V, named <name>.<stage>.spv.
	KindShaderBinary
	// KindShaderSource is WGSL compiled at load time.
	KindShaderSource
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindShaderBinary:
		return "spirv"
	case KindShaderSource:
		return "wgsl"
	case KindImage:
		return "image"
	default:
		return "none"
	}
}

// Resource is a file read from disk, before any GPU object exists for it.
type Resource struct {
	Name     string
	FullPath string
	Kind     Kind
	DataSize uint64
	Data     interface{}
}

// KindOf classifies a file by its extension.
func KindOf(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".spv":
		return KindShaderBinary
	case ".wgsl":
		return KindShaderSource
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return KindImage
	default:
		return KindNone
	}
}

// NameOf strips the directory and the last extension: assets/shaders/quad.vert.spv is
// quad.vert.
func NameOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
