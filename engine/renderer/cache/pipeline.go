package cache

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spaghettifunk/anima/v2/engine/assets"
	"github.com/spaghettifunk/anima/v2/engine/assets/loaders"
	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
	"github.com/spaghettifunk/anima/v2/engine/renderer/reflection"
	"github.com/spaghettifunk/anima/v2/engine/renderer/shaders"
	"github.com/spaghettifunk/anima/v2/engine/systems"
)

type shaderEntry struct {
	module shaders.Module
	shader metadata.Shader
	data   *reflection.Data
}

type PipelineCacheOptions struct {
	Device     metadata.Device
	Reflection *reflection.Context
	// CacheRoot is where pipeline blobs are persisted; empty disables persistence.
	CacheRoot string
	Assets    *assets.AssetManager
	// Jobs parallelises directory warm-up; nil loads sequentially.
	Jobs *systems.JobSystem
}

/**
 * @brief Caches graphics pipelines keyed by their properties. Descriptor set layouts
 * and push constant ranges come from the reflected shaders, never from hand written
 * tables. Driver pipeline blobs are persisted per pipeline state.
 */
type PipelineCache struct {
	*ResourceCache[*metadata.PipelineProperties, metadata.Pipeline]

	device     metadata.Device
	reflection *reflection.Context
	cacheRoot  string
	assets     *assets.AssetManager
	jobs       *systems.JobSystem

	shaders   map[string]*shaderEntry
	reflected map[string]*reflection.Data

	layouts    func() []metadata.SetLayout
	renderPass metadata.RenderPass
	extent     metadata.Extent
}

func NewPipelineCache(opts PipelineCacheOptions) *PipelineCache {
	if opts.Reflection == nil {
		opts.Reflection = reflection.NewContext()
	}
	if opts.Assets == nil {
		opts.Assets = assets.NewAssetManager()
	}
	pc := &PipelineCache{
		device:     opts.Device,
		reflection: opts.Reflection,
		cacheRoot:  opts.CacheRoot,
		assets:     opts.Assets,
		jobs:       opts.Jobs,
		shaders:    make(map[string]*shaderEntry),
		reflected:  make(map[string]*reflection.Data),
	}
	pc.layouts = pc.reflection.SetLayouts
	pc.ResourceCache = NewResourceCache("pipeline cache", PipelineKey, pc.construct)
	pc.onEvict = pc.evict
	return pc
}

// PipelineKey is the explicit key, or the shader pair plus the state hash.
func PipelineKey(props *metadata.PipelineProperties) string {
	if props.Key != "" {
		return props.Key
	}
	return fmt.Sprintf("%s+%s#%016x", props.VertexShader, props.FragmentShader, StateHash(props))
}

// StateHash is FNV-64 over the shader keys and every piece of fixed function state.
func StateHash(props *metadata.PipelineProperties) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d|", props.VertexShader, props.FragmentShader, props.Layout.Stride)
	for _, a := range props.Layout.Attributes {
		fmt.Fprintf(h, "%d:%d:%d|", a.Location, a.Format, a.Offset)
	}
	fmt.Fprintf(h, "%d|%d|%d|%d|%g|%t|%t|%d|%t|%t",
		props.Topology, props.PolygonMode, props.CullMode, props.FaceMode, props.LineWidth,
		props.DepthTest, props.DepthWrite, props.DepthCompare, props.Blend, props.DynamicViewport)
	return h.Sum64()
}

// BlobPath is <cacheRoot>/<pipelineName>-Cache-<stateHash>.bin.
func (pc *PipelineCache) BlobPath(props *metadata.PipelineProperties) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, PipelineKey(props))
	return filepath.Join(pc.cacheRoot, fmt.Sprintf("%s-Cache-%016x.bin", name, StateHash(props)))
}

// SetTarget sets the render pass and surface size pipelines are built for. Cached
// pipelines are retargeted too, so the next ForceRecreation builds them for the new pass.
func (pc *PipelineCache) SetTarget(pass metadata.RenderPass, extent metadata.Extent) {
	pc.renderPass = pass
	pc.extent = extent
	if pass == nil {
		return
	}
	pc.ForEach(func(key string, s *Shared[metadata.Pipeline]) bool {
		s.Get().Retarget(pass)
		return true
	})
}

// SetLayoutsProvider makes pipelines use the layouts the binder allocates sets for.
func (pc *PipelineCache) SetLayoutsProvider(layouts func() []metadata.SetLayout) {
	if layouts == nil {
		layouts = pc.reflection.SetLayouts
	}
	pc.layouts = layouts
}

func (pc *PipelineCache) Reflection() *reflection.Context {
	return pc.reflection
}

// Reflected returns the merged reflection of a pipeline.
func (pc *PipelineCache) Reflected(key string) (*reflection.Data, bool) {
	d, ok := pc.reflected[key]
	return d, ok
}

// RegisterShader reflects a module and creates its shader object, replacing an older
// module with the same key.
func (pc *PipelineCache) RegisterShader(m shaders.Module) error {
	data, err := pc.reflection.Reflect(m.Code, m.Stage)
	if err != nil {
		return fmt.Errorf("shader %s: %w", m.Key, err)
	}
	shader, err := pc.device.CreateShader(m.Properties())
	if err != nil {
		return fmt.Errorf("%w: shader %s: %w", core.ErrConstructionFailure, m.Key, err)
	}
	if old, ok := pc.shaders[m.Key]; ok {
		pc.retirer.Retire(old.shader.Destroy)
	}
	pc.shaders[m.Key] = &shaderEntry{module: m, shader: shader, data: data}
	core.LogDebug("registered shader %s (%s, entry %s)", m.Key, m.Stage, m.EntryPoint)
	return nil
}

func (pc *PipelineCache) HasShader(key string) bool {
	_, ok := pc.shaders[key]
	return ok
}

// ShaderData returns the reflection of a registered shader.
func (pc *PipelineCache) ShaderData(key string) (*reflection.Data, bool) {
	e, ok := pc.shaders[key]
	if !ok {
		return nil, false
	}
	return e.data, true
}

func (pc *PipelineCache) ShaderKeys() []string {
	keys := make([]string, 0, len(pc.shaders))
	for k := range pc.shaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (pc *PipelineCache) compileFile(path string) ([]shaders.Module, error) {
	res, err := pc.assets.LoadAsset(path, nil)
	if err != nil {
		return nil, err
	}
	defer pc.assets.UnloadAsset(res)
	return shaders.Compile(res)
}

// LoadShaderDirectory registers every shader file under dir. Files are read and
// compiled on the job system; registration happens here, in path order.
func (pc *PipelineCache) LoadShaderDirectory(dir string) (int, error) {
	if err := pc.assets.Index(dir); err != nil {
		return 0, err
	}
	paths := pc.assets.Assets(dir, loaders.KindShaderBinary, loaders.KindShaderSource)

	var results [][]shaders.Module
	var errs []error
	if pc.jobs != nil {
		results, errs = systems.Map(pc.jobs, "compile-shader", paths, pc.compileFile)
	} else {
		results = make([][]shaders.Module, len(paths))
		errs = make([]error, len(paths))
		for i, p := range paths {
			results[i], errs[i] = pc.compileFile(p)
		}
	}

	registered := 0
	var failed []error
	for i, modules := range results {
		if errs[i] != nil {
			failed = append(failed, fmt.Errorf("%s: %w", paths[i], errs[i]))
			continue
		}
		for _, m := range modules {
			if err := pc.RegisterShader(m); err != nil {
				failed = append(failed, err)
				continue
			}
			registered++
		}
	}
	core.LogInfo("loaded %d shader modules from %s", registered, dir)
	return registered, errors.Join(failed...)
}

// ReloadShader recompiles one shader file and rebuilds the pipelines using it.
func (pc *PipelineCache) ReloadShader(path string) error {
	modules, err := pc.compileFile(path)
	if err != nil {
		return err
	}
	changed := make(map[string]bool, len(modules))
	for _, m := range modules {
		if err := pc.RegisterShader(m); err != nil {
			return err
		}
		changed[m.Key] = true
	}

	var failed []error
	for _, key := range pc.Keys() {
		props, _ := pc.Props(key)
		if !changed[props.VertexShader] && !changed[props.FragmentShader] {
			continue
		}
		if err := pc.Rebuild(key); err != nil {
			failed = append(failed, err)
			continue
		}
		core.LogInfo("rebuilt pipeline %s after %s changed", key, path)
	}
	return errors.Join(failed...)
}

func (pc *PipelineCache) stage(key string, stage metadata.ShaderStage) (*shaderEntry, error) {
	e, ok := pc.shaders[key]
	if !ok {
		return nil, fmt.Errorf("%w: shader %q", core.ErrResourceMissing, key)
	}
	if e.module.Stage != stage {
		return nil, fmt.Errorf("shader %q is a %s shader, expected %s", key, e.module.Stage, stage)
	}
	return e, nil
}

func (pc *PipelineCache) construct(props *metadata.PipelineProperties) (metadata.Pipeline, error) {
	key := PipelineKey(props)
	fail := func(err error) (metadata.Pipeline, error) {
		err = fmt.Errorf("%w: pipeline %q: %w", core.ErrConstructionFailure, key, err)
		core.LogError("%s", err)
		return nil, err
	}

	entries := []*shaderEntry{}
	vs, err := pc.stage(props.VertexShader, metadata.ShaderStageVertex)
	if err != nil {
		return fail(err)
	}
	entries = append(entries, vs)
	if props.FragmentShader != "" {
		fs, err := pc.stage(props.FragmentShader, metadata.ShaderStageFragment)
		if err != nil {
			return fail(err)
		}
		entries = append(entries, fs)
	}

	stages := make([]*reflection.Data, 0, len(entries))
	modules := make([]metadata.Shader, 0, len(entries))
	for _, e := range entries {
		stages = append(stages, e.data)
		modules = append(modules, e.shader)
	}
	merged, err := reflection.Merge(stages...)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", key, err)
	}

	layouts := pc.layouts()
	if err := checkLayouts(merged, layouts); err != nil {
		return fail(err)
	}
	if err := checkVertexInputs(merged, props.Layout); err != nil {
		return fail(err)
	}
	for _, r := range merged.PushConstants {
		if r.Offset+r.Size > metadata.MaxPushConstantSize {
			return fail(fmt.Errorf("push constant range %d+%d exceeds %d bytes", r.Offset, r.Size, metadata.MaxPushConstantSize))
		}
	}

	info := metadata.PipelineCreateInfo{
		Properties:    props,
		Shaders:       modules,
		SetLayouts:    layouts,
		PushConstants: merged.PushConstants,
		Extent:        pc.extent,
		RenderPass:    pc.renderPass,
		CacheBlob:     pc.loadBlob(props),
	}
	pipeline, err := pc.device.CreatePipeline(info)
	if err != nil && len(info.CacheBlob) > 0 {
		core.LogWarn("pipeline %q rejected its cache blob, building from scratch: %s", key, err)
		info.CacheBlob = nil
		pipeline, err = pc.device.CreatePipeline(info)
	}
	if err != nil {
		return fail(err)
	}
	pc.reflected[key] = merged
	return pipeline, nil
}

// checkLayouts makes sure every binding the shaders use exists in the shared layouts
// with the same kind and room for the data.
func checkLayouts(merged *reflection.Data, layouts []metadata.SetLayout) error {
	for _, b := range merged.SortedBindings() {
		if int(b.Set) >= len(layouts) {
			return fmt.Errorf("binding %s %q has no set layout", b.Address(), b.Name)
		}
		lb, ok := layouts[b.Set].Binding(b.Binding)
		if !ok {
			return fmt.Errorf("binding %s %q is missing from the set layout", b.Address(), b.Name)
		}
		if lb.Kind != b.Kind {
			return fmt.Errorf("%w: binding %s is a %s in the set layout and a %s in the shader",
				core.ErrReflectionConflict, b.Address(), lb.Kind, b.Kind)
		}
		if b.Kind.IsBuffer() && lb.Size < b.Size {
			return fmt.Errorf("binding %s %q needs %d bytes, the layout has %d", b.Address(), b.Name, b.Size, lb.Size)
		}
	}
	return nil
}

func checkVertexInputs(merged *reflection.Data, layout metadata.VertexLayout) error {
	for _, in := range merged.Inputs {
		attr, ok := layout.Attribute(in.Location)
		if !ok {
			return fmt.Errorf("vertex input %q at location %d has no attribute", in.Name, in.Location)
		}
		if attr.Format != in.Format {
			return fmt.Errorf("vertex input %q at location %d is %s, the layout gives %s", in.Name, in.Location, in.Format, attr.Format)
		}
	}
	return nil
}

func (pc *PipelineCache) loadBlob(props *metadata.PipelineProperties) []byte {
	if pc.cacheRoot == "" {
		return nil
	}
	path := pc.BlobPath(props)
	blob, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			core.LogWarn("cannot read pipeline blob %s: %s", path, err)
		}
		return nil
	}
	core.LogDebug("using pipeline blob %s (%d bytes)", path, len(blob))
	return blob
}

// SaveBlob writes the driver blob of one pipeline.
func (pc *PipelineCache) SaveBlob(key string) error {
	if pc.cacheRoot == "" {
		return nil
	}
	s, err := pc.Get(key)
	if err != nil {
		return err
	}
	props, _ := pc.Props(key)
	return pc.writeBlob(props, s.Get())
}

func (pc *PipelineCache) writeBlob(props *metadata.PipelineProperties, p metadata.Pipeline) error {
	blob, err := p.CacheData()
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	if err := os.MkdirAll(pc.cacheRoot, 0o755); err != nil {
		return err
	}
	return os.WriteFile(pc.BlobPath(props), blob, 0o644)
}

func (pc *PipelineCache) evict(key string, s *Shared[metadata.Pipeline]) {
	delete(pc.reflected, key)
	if pc.cacheRoot == "" {
		return
	}
	props, _ := pc.Props(key)
	if err := pc.writeBlob(props, s.Get()); err != nil {
		core.LogWarn("cannot write pipeline blob for %q: %s", key, err)
	}
}

// Close persists every blob, drops every pipeline and destroys the shader objects.
func (pc *PipelineCache) Close() {
	pc.Clear()
	for k, e := range pc.shaders {
		pc.retirer.Retire(e.shader.Destroy)
		delete(pc.shaders, k)
	}
}
