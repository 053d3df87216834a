package loaders

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type TextureParams struct {
	FlipY bool
}

// ImageData is tightly packed RGBA8.
type ImageData struct {
	Width        uint32
	Height       uint32
	ChannelCount uint8
	Pixels       []byte
}

type TextureLoader struct{}

func (tl *TextureLoader) Load(path string, params interface{}) (*Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	flip := false
	if p, ok := params.(*TextureParams); ok && p != nil {
		flip = p.FlipY
	}

	data := toRGBA(img, flip)
	return &Resource{
		Name:     fmt.Sprintf("%s (%s)", NameOf(path), format),
		FullPath: path,
		Kind:     KindImage,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

func (tl *TextureLoader) Unload(*Resource) error {
	return nil
}

func toRGBA(img image.Image, flip bool) *ImageData {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	pixels := rgba.Pix
	if flip {
		row := rgba.Stride
		h := rgba.Rect.Dy()
		flipped := make([]byte, len(pixels))
		for y := 0; y < h; y++ {
			copy(flipped[y*row:(y+1)*row], pixels[(h-1-y)*row:(h-y)*row])
		}
		pixels = flipped
	}

	return &ImageData{
		Width:        uint32(rgba.Rect.Dx()),
		Height:       uint32(rgba.Rect.Dy()),
		ChannelCount: 4,
		Pixels:       pixels,
	}
}
