package core

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anima.toml")
	content := `
[application]
name = "Testbed"
width = 800
height = 600

[renderer]
backend = "headless"
frames_in_flight = 3
batch_capacity = 64
clear_colour = [1.0, 0.5, 0.25, 1.0]

[cache]
shader_dir = "shaders"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "Testbed", cfg.Application.Name)
	assert.Equal(t, uint32(800), cfg.Application.Width)
	assert.Equal(t, BackendHeadless, cfg.Renderer.Backend)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, 64, cfg.Renderer.BatchCapacity)
	assert.Equal(t, [4]float32{1.0, 0.5, 0.25, 1.0}, cfg.Renderer.ClearColour)
	assert.Equal(t, "shaders", cfg.Cache.ShaderDir)
	// untouched sections keep their defaults
	assert.Equal(t, ".cache/pipelines", cfg.Cache.PipelineCacheDir)
	assert.Equal(t, 4, cfg.Jobs.Workers)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anima.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nframes = 2\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigErrorIsLoggedVerbatim(t *testing.T) {
	var out bytes.Buffer
	SetLogOutput(&out)
	defer SetLogOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "100%done.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nframes = 2\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, out.String(), "100%done.toml")
	assert.NotContains(t, out.String(), "%!")
}

func TestLoadConfigValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anima.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nframes_in_flight = 7\n"), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "frames_in_flight")
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anima.toml")
	cfg := DefaultConfig()
	cfg.Renderer.Backend = BackendHeadless
	cfg.Renderer.HeadlessFrames = 10
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestFenceTimeout(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint64(math.MaxUint64), cfg.FenceTimeout())
	cfg.Renderer.FenceTimeoutNs = 1000
	assert.Equal(t, uint64(1000), cfg.FenceTimeout())
}
