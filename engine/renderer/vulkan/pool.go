package vulkan

import "sync"

type LockGroup string

const (
	CommandPoolManagement LockGroup = "command_pool_management"
	DescriptorManagement  LockGroup = "descriptor_management"
	PipelineManagement    LockGroup = "pipeline_management"
	MemoryManagement      LockGroup = "memory_management"
)

// LockPool serializes access to Vulkan objects that require external synchronization:
// queues, command pools and descriptor pools.
type LockPool struct {
	mu    sync.Mutex
	locks map[LockGroup]*sync.Mutex

	queueMutexes map[uint32]*sync.Mutex // Queue family index as key
}

func NewLockPool() *LockPool {
	return &LockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (lp *LockPool) lock(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if _, exists := lp.locks[group]; !exists {
		lp.locks[group] = &sync.Mutex{}
	}
	return lp.locks[group]
}

func (lp *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.lock(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (lp *LockPool) SetQueueFamily(index uint32) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if _, exists := lp.queueMutexes[index]; !exists {
		lp.queueMutexes[index] = &sync.Mutex{}
	}
}

// SafeQueueCall runs fn holding the lock of a queue family. Families sharing an index
// share the lock.
func (lp *LockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	lp.SetQueueFamily(queueFamilyIndex)
	lp.mu.Lock()
	l := lp.queueMutexes[queueFamilyIndex]
	lp.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}
