package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

type fakeProps struct {
	name  string
	sized bool
}

type fakeResource struct {
	name      string
	sized     bool
	extent    metadata.Extent
	rebuilds  int
	destroyed bool
}

func (r *fakeResource) ExtentDependent() bool { return r.sized }
func (r *fakeResource) Destroy()              { r.destroyed = true }

func (r *fakeResource) Recreate(extent metadata.Extent) error {
	if extent.IsZero() {
		return errors.New("zero extent")
	}
	r.extent = extent
	r.rebuilds++
	return nil
}

func newFakeCache(fail error) *ResourceCache[fakeProps, *fakeResource] {
	return NewResourceCache("fake cache",
		func(p fakeProps) string { return p.name },
		func(p fakeProps) (*fakeResource, error) {
			if fail != nil {
				return nil, fail
			}
			return &fakeResource{name: p.name, sized: p.sized}, nil
		})
}

func TestPutConstructsOncePerKey(t *testing.T) {
	c := newFakeCache(nil)

	a, err := c.Put(fakeProps{name: "a"})
	require.NoError(t, err)
	again, err := c.Put(fakeProps{name: "a"})
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Same(t, a.Get(), again.Get())
	assert.Equal(t, 1, c.Constructions())
	assert.Equal(t, 1, c.Len())

	_, err = c.Put(fakeProps{name: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Constructions())
	assert.Equal(t, []string{"a", "b"}, c.Keys())

	got, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, a.ID(), got.ID())
}

func TestGetMissingKey(t *testing.T) {
	c := newFakeCache(nil)
	_, err := c.Get("nope")
	assert.ErrorIs(t, err, core.ErrResourceMissing)
	assert.ErrorIs(t, c.Rebuild("nope"), core.ErrResourceMissing)
	assert.False(t, c.Remove("nope"))
}

func TestFailedConstructionLeavesNoEntry(t *testing.T) {
	boom := errors.New("driver said no")
	c := newFakeCache(boom)
	_, err := c.Put(fakeProps{name: "a"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Contains("a"))
	assert.Zero(t, c.Constructions())
}

func TestForceRecreationKeepsEntries(t *testing.T) {
	c := newFakeCache(nil)
	sized, _ := c.Put(fakeProps{name: "depth", sized: true})
	fixed, _ := c.Put(fakeProps{name: "logo"})

	extent := metadata.Extent{Width: 1024, Height: 768}
	require.NoError(t, c.ForceRecreation(extent))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, extent, sized.Get().extent)
	assert.Equal(t, 1, sized.Get().rebuilds)
	assert.Zero(t, fixed.Get().rebuilds)
	// recreation is not construction
	assert.Equal(t, 2, c.Constructions())

	err := c.ForceRecreation(metadata.Extent{})
	assert.Error(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestRemoveRetiresWhenUnreferenced(t *testing.T) {
	c := newFakeCache(nil)
	var retired []func()
	c.SetRetirer(metadata.RetireFunc(func(release func()) { retired = append(retired, release) }))

	s, _ := c.Put(fakeProps{name: "a"})
	res := s.Get()
	s.Acquire()
	assert.Equal(t, int32(2), s.RefCount())

	require.True(t, c.Remove("a"))
	assert.False(t, c.Contains("a"))
	assert.Empty(t, retired, "a consumer still holds the handle")

	assert.True(t, s.Release())
	require.Len(t, retired, 1)
	assert.False(t, res.destroyed, "destruction waits for the retire list")
	retired[0]()
	assert.True(t, res.destroyed)

	// extra releases are ignored
	assert.False(t, s.Release())
	assert.Len(t, retired, 1)
}

func TestRebuildKeepsIdentity(t *testing.T) {
	c := newFakeCache(nil)
	s, _ := c.Put(fakeProps{name: "a"})
	id := s.ID()
	old := s.Get()

	require.NoError(t, c.Rebuild("a"))
	assert.Equal(t, id, s.ID())
	assert.NotSame(t, old, s.Get())
	assert.True(t, old.destroyed)
	assert.Equal(t, 2, c.Constructions())
}

func TestForEachAndClear(t *testing.T) {
	c := newFakeCache(nil)
	var evicted []string
	c.onEvict = func(key string, _ *Shared[*fakeResource]) { evicted = append(evicted, key) }
	for _, n := range []string{"c", "a", "b"} {
		_, err := c.Put(fakeProps{name: n})
		require.NoError(t, err)
	}

	var visited []string
	c.ForEach(func(key string, _ *Shared[*fakeResource]) bool {
		visited = append(visited, key)
		return key != "b"
	})
	assert.Equal(t, []string{"a", "b"}, visited)
	assert.Len(t, c.Flatten(), 3)

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Equal(t, []string{"a", "b", "c"}, evicted)
}
