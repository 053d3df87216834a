package assets

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/v2/engine/assets/loaders"
)

func writeSPIRV(t *testing.T, path string, words ...uint32) {
	t.Helper()
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestIndexAndAssets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	writeSPIRV(t, filepath.Join(dir, "quad.vert.spv"), 0x07230203)
	writeSPIRV(t, filepath.Join(dir, "nested", "quad.frag.spv"), 0x07230203)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "line.wgsl"), []byte("// wgsl"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("#"), 0o644))

	am := NewAssetManager()
	require.NoError(t, am.Index(dir))

	shaders := am.Assets(dir, loaders.KindShaderBinary, loaders.KindShaderSource)
	assert.Equal(t, []string{
		filepath.Join(dir, "line.wgsl"),
		filepath.Join(dir, "nested", "quad.frag.spv"),
		filepath.Join(dir, "quad.vert.spv"),
	}, shaders)
	assert.Empty(t, am.Assets(dir, loaders.KindImage))
	assert.Empty(t, am.Assets(t.TempDir(), loaders.KindShaderBinary))
}

func TestLoadBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quad.vert.spv")
	writeSPIRV(t, path, 0x07230203, 0x00010000)

	am := NewAssetManager()
	res, err := am.LoadAsset(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "quad.vert", res.Name)
	assert.Equal(t, loaders.KindShaderBinary, res.Kind)
	assert.Equal(t, []uint32{0x07230203, 0x00010000}, res.Data)
	assert.Equal(t, uint64(8), res.DataSize)

	info, ok := am.Info(path)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), info.LastLoaded, time.Minute)
	assert.NoError(t, am.UnloadAsset(res))
}

func TestLoadBinaryRejectsPartialWords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.frag.spv")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := NewAssetManager().LoadAsset(path, nil)
	assert.Error(t, err)
}

func TestLoadUnknownOrMissing(t *testing.T) {
	am := NewAssetManager()
	_, err := am.LoadAsset("notes.txt", nil)
	assert.Error(t, err)
	_, err = am.LoadAsset(filepath.Join(t.TempDir(), "missing.png"), nil)
	assert.Error(t, err)
}

func TestLoadTexture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checker.png")
	writePNG(t, path, 3, 2)

	am := NewAssetManager()
	res, err := am.LoadAsset(path, &loaders.TextureParams{})
	require.NoError(t, err)
	data := res.Data.(*loaders.ImageData)
	assert.Equal(t, uint32(3), data.Width)
	assert.Equal(t, uint32(2), data.Height)
	assert.Equal(t, uint8(4), data.ChannelCount)
	require.Len(t, data.Pixels, 3*2*4)
	// pixel (1, 0)
	assert.Equal(t, []byte{1, 0, 7, 255}, data.Pixels[4:8])

	flipped, err := am.LoadAsset(path, &loaders.TextureParams{FlipY: true})
	require.NoError(t, err)
	fd := flipped.Data.(*loaders.ImageData)
	// row 0 of the flipped image is row 1 of the original
	assert.Equal(t, []byte{1, 1, 7, 255}, fd.Pixels[4:8])
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, loaders.KindShaderBinary, loaders.KindOf("a/quad.vert.spv"))
	assert.Equal(t, loaders.KindShaderSource, loaders.KindOf("quad.wgsl"))
	assert.Equal(t, loaders.KindImage, loaders.KindOf("a.WEBP"))
	assert.Equal(t, loaders.KindNone, loaders.KindOf("a.txt"))
	assert.Equal(t, "quad.vert", loaders.NameOf("assets/shaders/quad.vert.spv"))
}
