package reflection

import (
	"sync"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

/**
 * @brief Context collects the bindings of every shader reflected through it. All the
 * pipelines of one application share the binder's set layouts, so matching bindings
 * are unified to the largest size seen and a kind clash is reported as a conflict.
 * One context per application; tests create their own.
 */
type Context struct {
	mu       sync.RWMutex
	bindings map[metadata.DescriptorBinding]*Binding
	shaders  int
}

func NewContext() *Context {
	return &Context{bindings: make(map[metadata.DescriptorBinding]*Binding)}
}

// Reflect parses one shader module and registers its bindings in the context. The
// returned data carries the unified sizes known so far.
func (c *Context) Reflect(code []uint32, stage metadata.ShaderStage) (*Data, error) {
	data, err := reflect(code, stage)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for addr, b := range data.Bindings {
		known, ok := c.bindings[addr]
		if !ok {
			continue
		}
		if known.Kind != b.Kind {
			return nil, &ConflictError{Set: addr.Set, Binding: addr.Binding, First: known.Kind, Second: b.Kind, Names: [2]string{known.Name, b.Name}}
		}
	}
	for addr, b := range data.Bindings {
		known, ok := c.bindings[addr]
		if !ok {
			copied := *b
			c.bindings[addr] = &copied
			continue
		}
		if b.Size > known.Size {
			core.LogDebug("binding %s %q grows from %d to %d bytes", addr, b.Name, known.Size, b.Size)
			known.Size = b.Size
		}
		b.Size = known.Size
		known.Stages |= b.Stages
		known.Count = mergeCount(known.Count, b.Count)
	}
	c.shaders++
	return data, nil
}

// Binding returns the unified binding registered at (set, binding).
func (c *Context) Binding(set, binding uint32) (Binding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bindings[metadata.DescriptorBinding{Set: set, Binding: binding}]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

// SetLayouts returns the application wide layouts, one per set index up to the
// highest used set.
func (c *Context) SetLayouts() []metadata.SetLayout {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bindings := make([]*Binding, 0, len(c.bindings))
	for _, b := range c.bindings {
		copied := *b
		bindings = append(bindings, &copied)
	}
	return layoutsFrom(bindings)
}

// Shaders is the number of modules reflected so far.
func (c *Context) Shaders() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shaders
}

// Reset forgets every binding.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = make(map[metadata.DescriptorBinding]*Binding)
	c.shaders = 0
}

// mergeCount keeps runtime arrays unbounded and otherwise takes the larger array.
func mergeCount(a, b uint32) uint32 {
	if a == 0 || b == 0 {
		return 0
	}
	return max(a, b)
}
