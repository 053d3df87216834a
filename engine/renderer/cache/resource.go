// Package cache keeps at most one GPU object per creation key.
package cache

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

type entry[P any, R Recreatable] struct {
	shared *Shared[R]
	props  P
}

/**
 * @brief A content addressed cache: the key is derived from the creation properties
 * and an object is constructed at most once per key. Only the render thread touches a
 * cache, so there is no locking.
 */
type ResourceCache[P any, R Recreatable] struct {
	name      string
	keyOf     func(P) string
	construct func(P) (R, error)
	entries   map[string]*entry[P, R]
	retirer   metadata.Retirer

	// onEvict runs before an entry is dropped by Remove or Clear.
	onEvict func(key string, s *Shared[R])

	constructions int
}

func NewResourceCache[P any, R Recreatable](name string, keyOf func(P) string, construct func(P) (R, error)) *ResourceCache[P, R] {
	return &ResourceCache[P, R]{
		name:      name,
		keyOf:     keyOf,
		construct: construct,
		entries:   make(map[string]*entry[P, R]),
		retirer:   metadata.RetireImmediately,
	}
}

// SetRetirer routes the destruction of released objects, normally to the frame
// synchronizer's retire list.
func (c *ResourceCache[P, R]) SetRetirer(r metadata.Retirer) {
	if r == nil {
		r = metadata.RetireImmediately
	}
	c.retirer = r
	for _, e := range c.entries {
		e.shared.retirer = r
	}
}

func (c *ResourceCache[P, R]) Name() string {
	return c.name
}

// Get returns the entry stored under key. A missing key is a programming error.
func (c *ResourceCache[P, R]) Get(key string) (*Shared[R], error) {
	e, ok := c.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no entry %q", core.ErrResourceMissing, c.name, key)
	}
	return e.shared, nil
}

// Put returns the entry for the key of props, constructing it on first use.
func (c *ResourceCache[P, R]) Put(props P) (*Shared[R], error) {
	key := c.keyOf(props)
	if e, ok := c.entries[key]; ok {
		return e.shared, nil
	}

	res, err := c.construct(props)
	if err != nil {
		return nil, err
	}
	c.constructions++

	s := NewShared(key, res, c.retirer)
	c.entries[key] = &entry[P, R]{shared: s, props: props}
	core.LogDebug("%s: created %q", c.name, key)
	return s, nil
}

func (c *ResourceCache[P, R]) Contains(key string) bool {
	_, ok := c.entries[key]
	return ok
}

func (c *ResourceCache[P, R]) Len() int {
	return len(c.entries)
}

// Constructions counts the objects built by Put since the cache was created.
func (c *ResourceCache[P, R]) Constructions() int {
	return c.constructions
}

// Props returns the creation properties stored with key.
func (c *ResourceCache[P, R]) Props(key string) (P, bool) {
	e, ok := c.entries[key]
	if !ok {
		var zero P
		return zero, false
	}
	return e.props, true
}

func (c *ResourceCache[P, R]) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ForEach visits the entries in key order until fn returns false.
func (c *ResourceCache[P, R]) ForEach(fn func(key string, s *Shared[R]) bool) {
	for _, k := range c.Keys() {
		if !fn(k, c.entries[k].shared) {
			return
		}
	}
}

// Flatten returns every entry in key order.
func (c *ResourceCache[P, R]) Flatten() []*Shared[R] {
	out := make([]*Shared[R], 0, len(c.entries))
	c.ForEach(func(_ string, s *Shared[R]) bool {
		out = append(out, s)
		return true
	})
	return out
}

// ForceRecreation rebuilds every extent dependent object for the new surface size.
// The number of entries never changes. Must be called while the device is idle.
func (c *ResourceCache[P, R]) ForceRecreation(extent metadata.Extent) error {
	recreated := 0
	for _, k := range c.Keys() {
		res := c.entries[k].shared.Get()
		if !res.ExtentDependent() {
			continue
		}
		if err := res.Recreate(extent); err != nil {
			return fmt.Errorf("%s: recreating %q for %s: %w", c.name, k, extent, err)
		}
		recreated++
	}
	if recreated > 0 {
		core.LogDebug("%s: recreated %d of %d entries for %s", c.name, recreated, len(c.entries), extent)
	}
	return nil
}

// Rebuild constructs the entry again from its stored properties. The handle keeps its
// identity; the previous object is retired.
func (c *ResourceCache[P, R]) Rebuild(key string) error {
	e, ok := c.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s has no entry %q", core.ErrResourceMissing, c.name, key)
	}
	res, err := c.construct(e.props)
	if err != nil {
		return err
	}
	c.constructions++
	e.shared.replace(res)
	core.LogDebug("%s: rebuilt %q", c.name, key)
	return nil
}

// Remove drops the cache's reference to key. It reports whether the key existed.
func (c *ResourceCache[P, R]) Remove(key string) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.onEvict != nil {
		c.onEvict(key, e.shared)
	}
	delete(c.entries, key)
	e.shared.Release()
	return true
}

func (c *ResourceCache[P, R]) Clear() {
	for _, k := range c.Keys() {
		c.Remove(k)
	}
}
