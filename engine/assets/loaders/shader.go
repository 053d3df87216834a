package loaders

import (
	"os"
)

// ShaderLoader reads WGSL source text.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string, params interface{}) (*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Resource{
		Name:     NameOf(path),
		FullPath: path,
		Kind:     KindShaderSource,
		DataSize: uint64(len(data)),
		Data:     string(data),
	}, nil
}

func (sl *ShaderLoader) Unload(*Resource) error {
	return nil
}
