package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type resizeListener struct {
	width, height uint32
	calls         int
}

func (l *resizeListener) onResized(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool {
	l.calls++
	l.width = data.Data.U32[0]
	l.height = data.Data.U32[1]
	return false
}

func TestEventBusFire(t *testing.T) {
	bus := NewEventBus()
	l := &resizeListener{}
	assert.True(t, bus.Register(EventResized, l, l.onResized))
	assert.False(t, bus.Register(EventResized, l, l.onResized))

	ctx := EventContext{}
	ctx.Data.U32[0] = 640
	ctx.Data.U32[1] = 480
	assert.False(t, bus.Fire(EventResized, nil, ctx))
	assert.Equal(t, 1, l.calls)
	assert.Equal(t, uint32(640), l.width)
	assert.Equal(t, uint32(480), l.height)

	assert.True(t, bus.Unregister(EventResized, l, l.onResized))
	bus.Fire(EventResized, nil, ctx)
	assert.Equal(t, 1, l.calls)
}

func TestEventBusHandledStopsPropagation(t *testing.T) {
	bus := NewEventBus()
	second := 0
	bus.Register(EventShaderChanged, "first", func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		return true
	})
	bus.Register(EventShaderChanged, "second", func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		second++
		return false
	})

	assert.True(t, bus.Fire(EventShaderChanged, nil, EventContext{}))
	assert.Equal(t, 0, second)
}
