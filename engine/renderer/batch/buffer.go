// Package batch accumulates planar geometry on the CPU and draws every object of one
// kind with a single indexed draw call.
package batch

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/spaghettifunk/anima/v2/engine/core"
	"github.com/spaghettifunk/anima/v2/engine/renderer/cache"
	"github.com/spaghettifunk/anima/v2/engine/renderer/metadata"
)

var (
	// ErrBatchFull is returned when an object is added to a batch holding Capacity
	// objects. The batch has to be flushed first.
	ErrBatchFull = errors.New("batch is full")
)

type State uint8

const (
	StateEmpty State = iota
	StateAccumulating
	StateFull
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	default:
		return "full"
	}
}

// Frame is what a flush needs from the frame being recorded.
type Frame interface {
	FrameIndex() int
	DescriptorSets() []metadata.DescriptorSet
	PushConstant() *metadata.PushConstant
}

// Batch is one kind of batched geometry.
type Batch interface {
	Name() string
	Accepts(geometry metadata.Geometry, props *metadata.GeometryProperties) bool
	CreateNew(geometry metadata.Geometry, props *metadata.GeometryProperties) error
	Submitted() uint32
	Capacity() uint32
	State() State
	WouldBeFull() bool
	IsFull() bool
	Flush(frame Frame, cb metadata.CommandBuffer) error
	BeginFrame(frame int)
	Reset()
	Destroy()
}

type kind[V any] struct {
	name              string
	verticesPerObject uint32
	indicesPerObject  uint32
	layout            metadata.VertexLayout
	lines             bool
	accepts           func(metadata.Geometry, *metadata.GeometryProperties) bool
	emit              func(*metadata.GeometryProperties, []V)
	indices           func(object uint32, out []uint32)
}

/**
 * @brief Fixed capacity storage of one vertex type. The CPU side vertices and the
 * index buffer are allocated once; GPU vertex memory is allocated per frame slot and
 * per flush within a frame, on first use, and reused afterwards.
 */
type Buffer[V any] struct {
	kind[V]
	capacity  uint32
	vertices  []V
	submitted uint32

	device      metadata.Device
	pipeline    *cache.Shared[metadata.Pipeline]
	indexBuffer metadata.Buffer
	// vertexBuffers[frame][flush]
	vertexBuffers [][]metadata.Buffer
	flushes       []int
}

func newBuffer[V any](k kind[V], device metadata.Device, pipeline *cache.Shared[metadata.Pipeline], capacity uint32, frames int) (*Buffer[V], error) {
	if capacity == 0 {
		return nil, fmt.Errorf("%s batch needs a capacity", k.name)
	}
	if pipeline == nil {
		return nil, fmt.Errorf("%s batch has no pipeline", k.name)
	}
	var v V
	if size := uint32(unsafe.Sizeof(v)); size != k.layout.Stride {
		return nil, fmt.Errorf("%s vertex is %d bytes, the layout stride is %d", k.name, size, k.layout.Stride)
	}

	b := &Buffer[V]{
		kind:          k,
		capacity:      capacity,
		vertices:      make([]V, capacity*k.verticesPerObject),
		device:        device,
		pipeline:      pipeline,
		vertexBuffers: make([][]metadata.Buffer, frames),
		flushes:       make([]int, frames),
	}

	indices := make([]uint32, capacity*k.indicesPerObject)
	for i := uint32(0); i < capacity; i++ {
		k.indices(i, indices[i*k.indicesPerObject:(i+1)*k.indicesPerObject])
	}
	ib, err := device.CreateBuffer(metadata.BufferProperties{
		Name:  k.name + " indices",
		Size:  uint64(len(indices)) * 4,
		Usage: metadata.BufferUsageIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s index buffer: %w", core.ErrConstructionFailure, k.name, err)
	}
	if err := ib.SetData(asBytes(indices), 0); err != nil {
		ib.Destroy()
		return nil, err
	}
	b.indexBuffer = ib
	pipeline.Acquire()
	return b, nil
}

func asBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(s[0])))
}

func (b *Buffer[V]) Name() string             { return b.name }
func (b *Buffer[V]) Capacity() uint32         { return b.capacity }
func (b *Buffer[V]) Submitted() uint32        { return b.submitted }
func (b *Buffer[V]) WouldBeFull() bool        { return b.submitted+1 >= b.capacity }
func (b *Buffer[V]) IsFull() bool             { return b.submitted >= b.capacity }
func (b *Buffer[V]) IndicesPerObject() uint32 { return b.indicesPerObject }

// Vertices returns the filled prefix.
func (b *Buffer[V]) Vertices() []V {
	return b.vertices[:b.submitted*b.verticesPerObject]
}

func (b *Buffer[V]) State() State {
	switch {
	case b.submitted == 0:
		return StateEmpty
	case b.submitted >= b.capacity:
		return StateFull
	default:
		return StateAccumulating
	}
}

func (b *Buffer[V]) Accepts(geometry metadata.Geometry, props *metadata.GeometryProperties) bool {
	return b.accepts(geometry, props)
}

// CreateNew appends one object. Geometry of another kind is ignored.
func (b *Buffer[V]) CreateNew(geometry metadata.Geometry, props *metadata.GeometryProperties) error {
	if !b.accepts(geometry, props) {
		return nil
	}
	if b.IsFull() {
		return fmt.Errorf("%w: %s holds %d objects", ErrBatchFull, b.name, b.capacity)
	}
	start := b.submitted * b.verticesPerObject
	b.emit(props, b.vertices[start:start+b.verticesPerObject])
	b.submitted++
	return nil
}

func (b *Buffer[V]) vertexBuffer(frame, flush int) (metadata.Buffer, error) {
	for len(b.vertexBuffers[frame]) <= flush {
		buf, err := b.device.CreateBuffer(metadata.BufferProperties{
			Name:        fmt.Sprintf("%s vertices %d/%d", b.name, frame, len(b.vertexBuffers[frame])),
			Size:        uint64(len(b.vertices)) * uint64(b.layout.Stride),
			Usage:       metadata.BufferUsageVertex,
			HostVisible: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s vertex buffer: %w", core.ErrConstructionFailure, b.name, err)
		}
		b.vertexBuffers[frame] = append(b.vertexBuffers[frame], buf)
	}
	return b.vertexBuffers[frame][flush], nil
}

// Flush records one draw of everything submitted so far and empties the batch. An
// empty batch records nothing.
func (b *Buffer[V]) Flush(frame Frame, cb metadata.CommandBuffer) error {
	if b.submitted == 0 {
		return nil
	}
	slot := frame.FrameIndex()
	if slot < 0 || slot >= len(b.flushes) {
		return fmt.Errorf("%s batch: frame %d out of %d", b.name, slot, len(b.flushes))
	}
	vb, err := b.vertexBuffer(slot, b.flushes[slot])
	if err != nil {
		return err
	}
	if err := vb.SetData(asBytes(b.Vertices()), 0); err != nil {
		return err
	}

	pipeline := b.pipeline.Get()
	cb.BindPipeline(pipeline)
	if sets := frame.DescriptorSets(); len(sets) > 0 {
		cb.BindDescriptorSets(pipeline, sets)
	}
	if ranges := pipeline.PushConstantRanges(); len(ranges) > 0 {
		pc := frame.PushConstant()
		pc.MaxIdentifiers = b.submitted
		data, err := metadata.PODBytes(pc)
		if err != nil {
			return err
		}
		for _, r := range ranges {
			end := min(r.Offset+r.Size, uint32(len(data)))
			if r.Offset >= end {
				continue
			}
			cb.PushConstants(pipeline, r.Stages, r.Offset, data[r.Offset:end])
		}
	}
	cb.BindVertexBuffer(vb, 0)
	cb.BindIndexBuffer(b.indexBuffer, 0)
	if b.lines {
		width := pipeline.Properties().LineWidth
		if width <= 0 {
			width = 1
		}
		cb.SetLineWidth(width)
	}
	cb.DrawIndexed(b.submitted*b.indicesPerObject, 1, 0, 0)

	b.flushes[slot]++
	b.Reset()
	return nil
}

// BeginFrame makes the slot's vertex memory reusable; the slot's previous submission
// has completed.
func (b *Buffer[V]) BeginFrame(frame int) {
	if frame >= 0 && frame < len(b.flushes) {
		b.flushes[frame] = 0
	}
	b.Reset()
}

func (b *Buffer[V]) Reset() {
	clear(b.vertices[:b.submitted*b.verticesPerObject])
	b.submitted = 0
}

// Allocated is the number of GPU vertex buffers created for a frame slot.
func (b *Buffer[V]) Allocated(frame int) int {
	if frame < 0 || frame >= len(b.vertexBuffers) {
		return 0
	}
	return len(b.vertexBuffers[frame])
}

func (b *Buffer[V]) Destroy() {
	for _, bufs := range b.vertexBuffers {
		for _, buf := range bufs {
			buf.Destroy()
		}
	}
	b.vertexBuffers = make([][]metadata.Buffer, len(b.flushes))
	if b.indexBuffer != nil {
		b.indexBuffer.Destroy()
		b.indexBuffer = nil
		b.pipeline.Release()
	}
}
