package shaders

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/v2/engine/assets/loaders"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection/spirvtest"
)

func TestKeyOf(t *testing.T) {
	assert.Equal(t, "quad.vert", KeyOf("assets/shaders/quad.vert.spv", metadata.ShaderStageVertex))
	assert.Equal(t, "quad.frag", KeyOf("quad.wgsl", metadata.ShaderStageFragment))
	assert.Equal(t, "line_id.comp", KeyOf("/x/line_id.comp.spv", metadata.ShaderStageCompute))
}

func TestSPIRVLoader(t *testing.T) {
	res := &loaders.Resource{
		FullPath: "assets/shaders/quad.frag.spv",
		Kind:     loaders.KindShaderBinary,
		Data:     spirvtest.QuadFragment(),
	}
	modules, err := Compile(res)
	require.NoError(t, err)
	require.Len(t, modules, 1)

	m := modules[0]
	assert.Equal(t, "quad.frag", m.Key)
	assert.Equal(t, metadata.ShaderStageFragment, m.Stage)
	assert.Equal(t, "main", m.EntryPoint)
	assert.Equal(t, res.FullPath, m.Properties().Path)
}

func TestSPIRVLoaderNeedsStageInName(t *testing.T) {
	_, err := Compile(&loaders.Resource{FullPath: "quad.spv", Kind: loaders.KindShaderBinary, Data: spirvtest.QuadVertex()})
	assert.Error(t, err)

	_, err = Compile(&loaders.Resource{FullPath: "quad.vert.spv", Kind: loaders.KindShaderBinary, Data: []uint32{1, 2}})
	assert.ErrorIs(t, err, reflection.ErrNotSPIRV)

	_, err = Compile(&loaders.Resource{FullPath: "quad.png", Kind: loaders.KindImage})
	assert.Error(t, err)
}

func skipUnsupported(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		return
	}
	msg := err.Error()
	if strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported") {
		t.Skipf("Skipping: naga feature not yet implemented: %v", err)
	}
}

func TestNagaCompilesBundledShaders(t *testing.T) {
	for _, name := range []string{"quad.wgsl", "line.wgsl", "line_id.wgsl"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join("..", "..", "..", "assets", "shaders", name)
			src, err := os.ReadFile(path)
			require.NoError(t, err)

			modules, err := Compile(&loaders.Resource{FullPath: path, Kind: loaders.KindShaderSource, Data: string(src)})
			skipUnsupported(t, err)
			require.NoError(t, err)
			require.Len(t, modules, 2)

			stem := strings.TrimSuffix(name, ".wgsl")
			keys := []string{modules[0].Key, modules[1].Key}
			assert.ElementsMatch(t, []string{stem + ".vert", stem + ".frag"}, keys)

			for _, m := range modules {
				data, err := reflection.NewContext().Reflect(m.Code, m.Stage)
				require.NoError(t, err)
				globals, ok := data.Binding(0, 0)
				require.True(t, ok, "%s has no globals", m.Key)
				assert.Equal(t, metadata.DescriptorUniformBuffer, globals.Kind)
				assert.Equal(t, uint32(spirvtest.GlobalsSize), globals.Size)
				if m.Stage == metadata.ShaderStageVertex {
					assert.Equal(t, "vs_main", m.EntryPoint)
					assert.NotEmpty(t, data.Inputs)
					assert.Equal(t, uint32(0), data.Inputs[0].Location)
					assert.Equal(t, metadata.VertexFormatFloat3, data.Inputs[0].Format)
				}
			}
		})
	}
}

func TestNagaRejectsBrokenSource(t *testing.T) {
	_, err := Compile(&loaders.Resource{FullPath: "broken.wgsl", Kind: loaders.KindShaderSource, Data: "fn ("})
	assert.Error(t, err)
}
