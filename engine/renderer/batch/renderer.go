package batch

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/cache"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

// DefaultCapacity is the number of objects a batch holds before it has to be flushed.
const DefaultCapacity = 1024

type Options struct {
	Device metadata.Device
	Frames int
	// Capacity in objects, DefaultCapacity when zero.
	Capacity uint32
	// A batch is created for every pipeline given.
	Quads   *cache.Shared[metadata.Pipeline]
	Lines   *cache.Shared[metadata.Pipeline]
	LineIds *cache.Shared[metadata.Pipeline]
}

/**
 * @brief Owns one batch per geometry kind and routes planar geometry to them.
 */
type BatchRenderer struct {
	batches   []Batch
	submitted int
}

func New(opts Options) (*BatchRenderer, error) {
	if opts.Frames <= 0 {
		return nil, fmt.Errorf("batch renderer needs at least one frame in flight, got %d", opts.Frames)
	}
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}

	br := &BatchRenderer{}
	add := func(b Batch, err error) error {
		if err != nil {
			return err
		}
		br.batches = append(br.batches, b)
		return nil
	}
	var err error
	if opts.Quads != nil {
		err = errors.Join(err, add(toBatch(newBuffer(quadKind, opts.Device, opts.Quads, opts.Capacity, opts.Frames))))
	}
	if opts.Lines != nil {
		err = errors.Join(err, add(toBatch(newBuffer(lineKind, opts.Device, opts.Lines, opts.Capacity, opts.Frames))))
	}
	if opts.LineIds != nil {
		err = errors.Join(err, add(toBatch(newBuffer(lineIdKind, opts.Device, opts.LineIds, opts.Capacity, opts.Frames))))
	}
	if err != nil {
		br.Destroy()
		return nil, err
	}
	core.LogDebug("batch renderer created %d batches of %d objects", len(br.batches), opts.Capacity)
	return br, nil
}

func toBatch[V any](b *Buffer[V], err error) (Batch, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (br *BatchRenderer) Batches() []Batch {
	return br.batches
}

// Batch returns the batch with the given name ("quad", "line", "line id").
func (br *BatchRenderer) Batch(name string) (Batch, bool) {
	for _, b := range br.batches {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// CreateNew adds the geometry to every batch accepting it. A geometry no batch
// accepts is dropped.
func (br *BatchRenderer) CreateNew(geometry metadata.Geometry, props *metadata.GeometryProperties) error {
	accepted := false
	for _, b := range br.batches {
		if !b.Accepts(geometry, props) {
			continue
		}
		accepted = true
		if err := b.CreateNew(geometry, props); err != nil {
			return err
		}
	}
	if !accepted {
		core.LogDebug("no batch accepts %s, dropped", geometry)
		return nil
	}
	br.submitted++
	return nil
}

// WouldBeFull reports whether one more object fills any batch.
func (br *BatchRenderer) WouldBeFull() bool {
	for _, b := range br.batches {
		if b.WouldBeFull() {
			return true
		}
	}
	return false
}

func (br *BatchRenderer) IsFull() bool {
	for _, b := range br.batches {
		if b.IsFull() {
			return true
		}
	}
	return false
}

// ShouldSubmit reports whether any batch holds geometry.
func (br *BatchRenderer) ShouldSubmit() bool {
	for _, b := range br.batches {
		if b.Submitted() > 0 {
			return true
		}
	}
	return false
}

// SubmittedGeometries counts the objects added since the last flush.
func (br *BatchRenderer) SubmittedGeometries() int {
	return br.submitted
}

// Flush draws every non-empty batch and empties them.
func (br *BatchRenderer) Flush(frame Frame, cb metadata.CommandBuffer) error {
	var failed []error
	for _, b := range br.batches {
		if err := b.Flush(frame, cb); err != nil {
			failed = append(failed, fmt.Errorf("flushing %s batch: %w", b.Name(), err))
		}
	}
	br.submitted = 0
	return errors.Join(failed...)
}

// BeginFrame resets every batch for the frame slot.
func (br *BatchRenderer) BeginFrame(frame int) {
	for _, b := range br.batches {
		b.BeginFrame(frame)
	}
	br.submitted = 0
}

func (br *BatchRenderer) Destroy() {
	for _, b := range br.batches {
		b.Destroy()
	}
	br.batches = nil
}
