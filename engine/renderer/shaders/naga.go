package shaders

import (
	"fmt"

	"github.com/gogpu/naga"
	"github.com/spaghettifunk/anima/v2/engine/assets/loaders"
	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection"
)

// NagaCompiler compiles WGSL to SPIR-V. A WGSL file usually holds both the vertex and
// the fragment entry point; each becomes its own module sharing the same code.
type NagaCompiler struct{}

func (c *NagaCompiler) Compile(res *loaders.Resource) ([]Module, error) {
	source, ok := res.Data.(string)
	if !ok {
		return nil, fmt.Errorf("shader source %s is not text", res.FullPath)
	}

	code, err := CompileWGSL(source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", res.FullPath, err)
	}

	eps, err := reflection.EntryPoints(code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", res.FullPath, err)
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("%s defines no entry point", res.FullPath)
	}

	modules := make([]Module, 0, len(eps))
	seen := make(map[string]bool)
	for _, ep := range eps {
		key := KeyOf(res.FullPath, ep.Stage)
		if seen[key] {
			core.LogWarn("%s: ignoring second %s entry point %s", res.FullPath, ep.Stage, ep.Name)
			continue
		}
		seen[key] = true
		modules = append(modules, Module{
			Key:        key,
			Stage:      ep.Stage,
			EntryPoint: ep.Name,
			Code:       code,
			Path:       res.FullPath,
		})
	}
	return modules, nil
}

// CompileWGSL compiles WGSL source to SPIR-V words.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile shader: %w", err)
	}
	return reflection.BytesToWords(spirvBytes)
}
