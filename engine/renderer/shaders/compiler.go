// Package shaders turns shader files into SPIR-V modules ready for reflection:
// precompiled .spv binaries are taken as they are, WGSL sources are compiled with naga.
package shaders

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/anima/v2/engine/assets/loaders"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection"
)

// Module is one shader stage of a file.
type Module struct {
	Key        string
	Stage      metadata.ShaderStage
	EntryPoint string
	Code       []uint32
	Path       string
}

func (m Module) Properties() metadata.ShaderProperties {
	return metadata.ShaderProperties{
		Key:        m.Key,
		Stage:      m.Stage,
		EntryPoint: m.EntryPoint,
		Code:       m.Code,
		Path:       m.Path,
	}
}

type Compiler interface {
	// Compile returns one module per stage defined by the loaded file.
	Compile(res *loaders.Resource) ([]Module, error)
}

var compilers = map[loaders.Kind]Compiler{
	loaders.KindShaderBinary: &SPIRVLoader{},
	loaders.KindShaderSource: &NagaCompiler{},
}

// Compile dispatches on the resource kind.
func Compile(res *loaders.Resource) ([]Module, error) {
	c, ok := compilers[res.Kind]
	if !ok {
		return nil, fmt.Errorf("no shader compiler for %s (%s)", res.FullPath, res.Kind)
	}
	return c.Compile(res)
}

// KeyOf names the module of one stage of a file: quad.vert.spv and quad.wgsl both give
// quad.vert for the vertex stage.
func KeyOf(path string, stage metadata.ShaderStage) string {
	base := filepath.Base(path)
	for {
		ext := filepath.Ext(base)
		if ext == "" {
			break
		}
		base = strings.TrimSuffix(base, ext)
	}
	return base + "." + stage.Extension()
}

// SPIRVLoader accepts precompiled binaries named <name>.<stage>.spv.
type SPIRVLoader struct{}

func (l *SPIRVLoader) Compile(res *loaders.Resource) ([]Module, error) {
	code, ok := res.Data.([]uint32)
	if !ok {
		return nil, fmt.Errorf("shader binary %s has no SPIR-V words", res.FullPath)
	}

	stageExt := filepath.Ext(strings.TrimSuffix(filepath.Base(res.FullPath), filepath.Ext(res.FullPath)))
	stage, ok := metadata.ShaderStageFromExtension(stageExt)
	if !ok {
		return nil, fmt.Errorf("cannot tell the stage of %s: expected <name>.vert|frag|comp.spv", res.FullPath)
	}

	entryPoint := "main"
	eps, err := reflection.EntryPoints(code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", res.FullPath, err)
	}
	for _, ep := range eps {
		if ep.Stage == stage {
			entryPoint = ep.Name
			break
		}
	}

	return []Module{{
		Key:        KeyOf(res.FullPath, stage),
		Stage:      stage,
		EntryPoint: entryPoint,
		Code:       code,
		Path:       res.FullPath,
	}}, nil
}
