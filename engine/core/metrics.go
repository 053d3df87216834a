package core

import (
	"sync"

	"github.com/spaghettifunk/anima/v2/engine/containers"
)

const AVG_COUNT = 30

// Metrics keeps a rolling frame-time average plus renderer counters.
type Metrics struct {
	mu                 sync.RWMutex
	frameTimes         *containers.RingQueue[float64]
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
	drawCalls          int
	totalFrames        uint64
	recreations        int
}

func NewMetrics() *Metrics {
	return &Metrics{
		frameTimes: containers.NewRingQueue[float64](AVG_COUNT),
	}
}

// Update records one frame. frameElapsedTime is in seconds.
func (m *Metrics) Update(frameElapsedTime float64, drawCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameMS := frameElapsedTime * 1000.0
	m.frameTimes.Push(frameMS)

	sum := 0.0
	m.frameTimes.Each(func(ms float64) { sum += ms })
	m.msAvg = sum / float64(m.frameTimes.Len())

	// Calculate frames per second.
	m.accumulatedFrameMS += frameMS
	m.frames++
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	m.drawCalls = drawCalls
	m.totalFrames++
}

func (m *Metrics) SwapchainRecreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recreations++
}

func (m *Metrics) FPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fps
}

func (m *Metrics) FrameTime() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.msAvg
}

func (m *Metrics) Frame() (float64, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fps, m.msAvg
}

func (m *Metrics) DrawCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drawCalls
}

func (m *Metrics) TotalFrames() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalFrames
}

func (m *Metrics) Recreations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recreations
}
