package cache

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/headless"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 40), G: uint8(y * 40), B: 200, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestTextureIsBuiltOncePerKey(t *testing.T) {
	device := headless.New(headless.Options{})
	tc := NewTextureCache(TextureCacheOptions{Device: device})

	props := &metadata.TextureProperties{
		Key:    "white",
		Extent: metadata.Extent{Width: 1, Height: 1},
		Pixels: []byte{255, 255, 255, 255},
	}
	a, err := tc.Put(props)
	require.NoError(t, err)
	b, err := tc.Put(props)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, tc.Constructions())
	assert.Equal(t, 1, device.Stats().Images)
	assert.Equal(t, metadata.ImageFormatRGBA8, a.Get().Format())
}

func TestTextureValidation(t *testing.T) {
	device := headless.New(headless.Options{})
	tc := NewTextureCache(TextureCacheOptions{Device: device})

	_, err := tc.Put(&metadata.TextureProperties{Extent: metadata.Extent{Width: 1, Height: 1}})
	assert.ErrorIs(t, err, ErrTextureUnnamed)

	_, err = tc.Put(&metadata.TextureProperties{Key: "short", Extent: metadata.Extent{Width: 2, Height: 2}, Pixels: make([]byte, 4)})
	assert.ErrorIs(t, err, core.ErrConstructionFailure)

	_, err = tc.Put(&metadata.TextureProperties{Path: "does/not/exist.png"})
	assert.ErrorIs(t, err, core.ErrConstructionFailure)
	assert.Zero(t, tc.Len())
}

func TestFramebufferSizedTexturesFollowTheSurface(t *testing.T) {
	device := headless.New(headless.Options{})
	tc := NewTextureCache(TextureCacheOptions{Device: device})
	tc.SetExtent(metadata.Extent{Width: 800, Height: 600})

	depth, err := tc.Put(&metadata.TextureProperties{Key: "depth", Format: metadata.ImageFormatDepth32, FramebufferSized: true})
	require.NoError(t, err)
	logo, err := tc.Put(&metadata.TextureProperties{Key: "logo", Extent: metadata.Extent{Width: 1, Height: 1}, Pixels: make([]byte, 4)})
	require.NoError(t, err)

	assert.Equal(t, metadata.Extent{Width: 800, Height: 600}, depth.Get().Extent())
	assert.NotZero(t, depth.Get().Properties().Usage&metadata.ImageUsageDepthAttachment)

	handle := depth.Get().Handle()
	logoHandle := logo.Get().Handle()
	extent := metadata.Extent{Width: 1024, Height: 768}
	require.NoError(t, tc.ForceRecreation(extent))

	assert.Equal(t, 2, tc.Len())
	assert.Equal(t, extent, depth.Get().Extent())
	assert.NotEqual(t, handle, depth.Get().Handle())
	assert.Equal(t, logoHandle, logo.Get().Handle())
}

func TestLoadTextureDirectory(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 2, 3)
	writePNG(t, filepath.Join(dir, "b.png"), 4, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("nope"), 0o644))

	device := headless.New(headless.Options{})
	tc := NewTextureCache(TextureCacheOptions{Device: device})
	n, err := tc.LoadTextureDirectory(dir, metadata.ImageFormatUndefined)
	assert.Error(t, err)
	assert.Equal(t, 2, n)

	key := filepath.Join(dir, "a.png") + "#rgba8"
	s, err := tc.Get(key)
	require.NoError(t, err)
	assert.Equal(t, metadata.Extent{Width: 2, Height: 3}, s.Get().Extent())

	props, ok := tc.Props(key)
	require.True(t, ok)
	assert.Nil(t, props.Pixels, "decoded pixels are dropped after upload")

	// rebuilding decodes the file again
	require.NoError(t, tc.Rebuild(key))
	assert.Equal(t, metadata.Extent{Width: 2, Height: 3}, s.Get().Extent())
}
