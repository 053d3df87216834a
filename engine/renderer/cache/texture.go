package cache

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima/v2/engine/assets"
	"github.com/spaghettifunk/anima/v2/engine/assets/loaders"
	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/systems"
)

var ErrTextureUnnamed = errors.New("texture needs a key or a path")

type TextureCacheOptions struct {
	Device metadata.Device
	Assets *assets.AssetManager
	Jobs   *systems.JobSystem
}

// TextureCache caches sampled images and framebuffer sized attachments.
type TextureCache struct {
	*ResourceCache[*metadata.TextureProperties, metadata.Image]

	device metadata.Device
	assets *assets.AssetManager
	jobs   *systems.JobSystem
	extent metadata.Extent
}

func NewTextureCache(opts TextureCacheOptions) *TextureCache {
	if opts.Assets == nil {
		opts.Assets = assets.NewAssetManager()
	}
	tc := &TextureCache{
		device: opts.Device,
		assets: opts.Assets,
		jobs:   opts.Jobs,
	}
	tc.ResourceCache = NewResourceCache("texture cache", TextureKey, tc.construct)
	return tc
}

// TextureKey is the explicit key, or path#format.
func TextureKey(props *metadata.TextureProperties) string {
	if props.Key != "" {
		return props.Key
	}
	return fmt.Sprintf("%s#%s", props.Path, formatOf(props))
}

func formatOf(props *metadata.TextureProperties) metadata.ImageFormat {
	if props.Format == metadata.ImageFormatUndefined {
		return metadata.ImageFormatRGBA8
	}
	return props.Format
}

// SetExtent is the surface size framebuffer sized textures are created with.
func (tc *TextureCache) SetExtent(extent metadata.Extent) {
	tc.extent = extent
}

func (tc *TextureCache) Put(props *metadata.TextureProperties) (*Shared[metadata.Image], error) {
	if props.Key == "" && props.Path == "" {
		return nil, ErrTextureUnnamed
	}
	return tc.ResourceCache.Put(props)
}

func (tc *TextureCache) decode(props *metadata.TextureProperties) error {
	res, err := tc.assets.LoadAsset(props.Path, &loaders.TextureParams{FlipY: props.FlipY})
	if err != nil {
		return err
	}
	defer tc.assets.UnloadAsset(res)
	img, ok := res.Data.(*loaders.ImageData)
	if !ok {
		return fmt.Errorf("%s is not an image", props.Path)
	}
	props.Pixels = img.Pixels
	props.Extent = metadata.Extent{Width: img.Width, Height: img.Height}
	return nil
}

func (tc *TextureCache) construct(props *metadata.TextureProperties) (metadata.Image, error) {
	key := TextureKey(props)
	fail := func(err error) (metadata.Image, error) {
		err = fmt.Errorf("%w: texture %q: %w", core.ErrConstructionFailure, key, err)
		core.LogError("%s", err)
		return nil, err
	}

	format := formatOf(props)
	usage := props.Usage
	if usage == 0 {
		usage = metadata.ImageUsageSampled
	}
	extent := props.Extent
	if props.FramebufferSized {
		extent = tc.extent
		if format.IsDepth() {
			usage |= metadata.ImageUsageDepthAttachment
		} else {
			usage |= metadata.ImageUsageColourAttachment
		}
	} else if props.Pixels == nil && props.Path != "" {
		if err := tc.decode(props); err != nil {
			return fail(err)
		}
		extent = props.Extent
	}
	if extent.IsZero() {
		return fail(fmt.Errorf("zero extent %s", extent))
	}
	if props.Pixels != nil && uint64(len(props.Pixels)) != uint64(extent.Width)*uint64(extent.Height)*uint64(format.BytesPerPixel()) {
		return fail(fmt.Errorf("%d bytes of pixels for a %s %s image", len(props.Pixels), extent, format))
	}

	img, err := tc.device.CreateImage(metadata.ImageProperties{
		Name:             key,
		Extent:           extent,
		Format:           format,
		Usage:            usage,
		Pixels:           props.Pixels,
		FramebufferSized: props.FramebufferSized,
		Mips:             1,
	})
	if err != nil {
		return fail(err)
	}
	// decoded pixels live on the GPU now
	if props.Path != "" {
		props.Pixels = nil
	}
	return img, nil
}

// LoadTextureDirectory decodes every image under dir on the job system and creates the
// textures in path order.
func (tc *TextureCache) LoadTextureDirectory(dir string, format metadata.ImageFormat) (int, error) {
	if err := tc.assets.Index(dir); err != nil {
		return 0, err
	}
	paths := tc.assets.Assets(dir, loaders.KindImage)

	load := func(path string) (*metadata.TextureProperties, error) {
		props := &metadata.TextureProperties{Path: path, Format: format}
		if tc.Contains(TextureKey(props)) {
			return props, nil
		}
		return props, tc.decode(props)
	}

	var results []*metadata.TextureProperties
	var errs []error
	if tc.jobs != nil {
		results, errs = systems.Map(tc.jobs, "decode-texture", paths, load)
	} else {
		results = make([]*metadata.TextureProperties, len(paths))
		errs = make([]error, len(paths))
		for i, p := range paths {
			results[i], errs[i] = load(p)
		}
	}

	created := 0
	var failed []error
	for i, props := range results {
		if errs[i] != nil {
			failed = append(failed, fmt.Errorf("%s: %w", paths[i], errs[i]))
			continue
		}
		if _, err := tc.Put(props); err != nil {
			failed = append(failed, err)
			continue
		}
		created++
	}
	core.LogInfo("loaded %d textures from %s", created, dir)
	return created, errors.Join(failed...)
}
