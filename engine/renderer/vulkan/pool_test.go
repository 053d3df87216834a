package vulkan

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeCallSerializesAGroup(t *testing.T) {
	lp := NewLockPool()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = lp.SafeCall(PipelineManagement, func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestSafeQueueCallReturnsTheError(t *testing.T) {
	lp := NewLockPool()
	boom := errors.New("boom")
	assert.ErrorIs(t, lp.SafeQueueCall(0, func() error { return boom }), boom)
	// the lock is released after an error
	assert.NoError(t, lp.SafeQueueCall(0, func() error { return nil }))
}

func TestResultNames(t *testing.T) {
	assert.Equal(t, "VK_ERROR_OUT_OF_DATE_KHR", ResultString(-1000001004))
	assert.True(t, ResultIsSuccess(1000001003))
	assert.False(t, ResultIsSuccess(-4))
	assert.Equal(t, "main\x00", SafeString("main"))
	assert.Equal(t, "VK_LAYER", cString([]byte{'V', 'K', '_', 'L', 'A', 'Y', 'E', 'R', 0, 0}))
}
