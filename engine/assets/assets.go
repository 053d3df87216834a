package assets

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spaghettifunk/anima/v2/engine/assets/loaders"
	"github.com/spaghettifunk/anima/v2/engine/core"
)

type AssetInfo struct {
	Path       string
	Kind       loaders.Kind
	LastLoaded time.Time
}

// AssetManager indexes asset directories and reads files through the loader
// registered for their kind. Safe for concurrent use by the job system.
type AssetManager struct {
	assets  map[string]AssetInfo
	loaders map[loaders.Kind]Loader

	mutex sync.RWMutex
}

func NewAssetManager() *AssetManager {
	am := &AssetManager{
		assets:  make(map[string]AssetInfo),
		loaders: make(map[loaders.Kind]Loader),
	}

	// Register loaders
	am.registerLoader(loaders.KindShaderBinary, &loaders.BinaryLoader{})
	am.registerLoader(loaders.KindShaderSource, &loaders.ShaderLoader{})
	am.registerLoader(loaders.KindImage, &loaders.TextureLoader{})

	return am
}

// Index walks dir and records every file of a known kind.
func (am *AssetManager) Index(dir string) error {
	return filepath.WalkDir(dir, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			am.handleFileEvent(walkPath)
		}
		return nil
	})
}

// Assets returns the indexed paths of the given kinds under dir, sorted.
func (am *AssetManager) Assets(dir string, kinds ...loaders.Kind) []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	root := filepath.Clean(dir)
	var out []string
	for path, info := range am.assets {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		for _, k := range kinds {
			if info.Kind == k {
				out = append(out, path)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Register loaders for each asset kind
func (am *AssetManager) registerLoader(kind loaders.Kind, loader Loader) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.loaders[kind] = loader
}

// LoadAsset reads a file with the loader of its kind. Files that were never indexed
// are indexed on first load.
func (am *AssetManager) LoadAsset(path string, params interface{}) (*loaders.Resource, error) {
	path = filepath.Clean(path)
	kind := loaders.KindOf(path)
	if kind == loaders.KindNone {
		return nil, fmt.Errorf("unknown asset kind: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("asset not found: %w", err)
	}

	am.mutex.Lock()
	asset := am.assets[path]
	asset.Path = path
	asset.Kind = kind
	asset.LastLoaded = time.Now()
	am.assets[path] = asset
	loader, loaderExists := am.loaders[kind]
	am.mutex.Unlock()

	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset kind: %s", kind)
	}

	core.LogDebug("loading %s asset %s", kind, path)
	return loader.Load(path, params)
}

func (am *AssetManager) UnloadAsset(asset *loaders.Resource) error {
	if asset == nil {
		return nil
	}
	am.mutex.RLock()
	loader, ok := am.loaders[asset.Kind]
	am.mutex.RUnlock()
	if !ok {
		return nil
	}
	return loader.Unload(asset)
}

func (am *AssetManager) Info(path string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[filepath.Clean(path)]
	return info, ok
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) loaders.Kind {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	path = filepath.Clean(path)
	kind := loaders.KindOf(path)
	if kind == loaders.KindNone {
		return kind
	}
	info := am.assets[path]
	info.Path = path
	info.Kind = kind
	am.assets[path] = info
	return kind
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, filepath.Clean(path))
}
