package cache

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

// Recreatable is what a cached GPU object must support.
type Recreatable interface {
	ExtentDependent() bool
	Recreate(extent metadata.Extent) error
	Destroy()
}

/**
 * @brief A reference counted handle to a cached GPU object. The cache holds one
 * reference; consumers that keep the handle beyond the current frame Acquire their
 * own. Dropping the last reference hands the object to the retirer, which destroys it
 * once the frames that may still use it have completed.
 */
type Shared[R Recreatable] struct {
	id      uuid.UUID
	key     string
	res     R
	refs    atomic.Int32
	retirer metadata.Retirer
}

func NewShared[R Recreatable](key string, res R, retirer metadata.Retirer) *Shared[R] {
	if retirer == nil {
		retirer = metadata.RetireImmediately
	}
	s := &Shared[R]{
		id:      uuid.New(),
		key:     key,
		res:     res,
		retirer: retirer,
	}
	s.refs.Store(1)
	return s
}

// ID is stable for the lifetime of the cache entry, across rebuilds.
func (s *Shared[R]) ID() uuid.UUID {
	return s.id
}

func (s *Shared[R]) Key() string {
	return s.key
}

func (s *Shared[R]) Get() R {
	return s.res
}

func (s *Shared[R]) Acquire() *Shared[R] {
	s.refs.Add(1)
	return s
}

// Release drops one reference. It returns true when that was the last one.
func (s *Shared[R]) Release() bool {
	n := s.refs.Add(-1)
	if n > 0 {
		return false
	}
	if n < 0 {
		s.refs.Store(0)
		return false
	}
	res := s.res
	s.retirer.Retire(res.Destroy)
	return true
}

func (s *Shared[R]) RefCount() int32 {
	return s.refs.Load()
}

// replace swaps the underlying object, retiring the previous one.
func (s *Shared[R]) replace(res R) {
	old := s.res
	s.res = res
	s.retirer.Retire(old.Destroy)
}
