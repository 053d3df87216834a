package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima/v2/engine/core"
)

// JobTask is one unit of background work. OnStart runs on a worker; its result goes to
// OnComplete, its error to OnFailure. OnCompletionCallback runs in both cases.
type JobTask struct {
	Name                 string
	OnStart              func() (interface{}, error)
	OnComplete           func(result interface{})
	OnFailure            func(err error)
	OnCompletionCallback func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	mu       sync.RWMutex
	shutdown bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemShutdown = errors.New("job system is shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	jq := make(chan JobTask, channelSize)
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   jq,
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	// Call the completion callback if set
	if job.OnCompletionCallback != nil {
		defer job.OnCompletionCallback()
	}

	result, err := job.OnStart()
	if err != nil {
		core.LogError("job %s failed: %s", job.Name, err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return
	}
	if job.OnComplete != nil {
		job.OnComplete(result)
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.shutdown {
		js.mu.Unlock()
		return nil
	}
	js.shutdown = true
	close(js.jobQueue)
	js.mu.Unlock()

	js.wg.Wait()
	return nil
}

// Workers is the size of the pool.
func (js *JobSystem) Workers() int {
	return js.numWorkers
}

// AddWorkNonBlocking adds work to the pool and returns immediately
func (js *JobSystem) AddWorkNonBlocking(jt JobTask) {
	go func() {
		if err := js.Submit(jt); err != nil {
			core.LogWarn("dropping job %s: %s", jt.Name, err)
		}
	}()
}

/**
 * @brief Submits the provided job to be queued for execution.
 * @param info The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) error {
	if jt.OnStart == nil {
		return fmt.Errorf("job %s has no OnStart", jt.Name)
	}
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.shutdown {
		return ErrJobSystemShutdown
	}
	js.jobQueue <- jt
	return nil
}

// Map runs fn over items on the pool and waits for all of them. Results keep the order
// of items; errs[i] is the error of items[i].
func Map[T, R any](js *JobSystem, name string, items []T, fn func(T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		task := JobTask{
			Name: fmt.Sprintf("%s[%d]", name, i),
			OnStart: func() (interface{}, error) {
				r, err := fn(item)
				return r, err
			},
			OnComplete: func(result interface{}) {
				if r, ok := result.(R); ok {
					results[i] = r
				}
			},
			OnFailure: func(err error) {
				errs[i] = err
			},
			OnCompletionCallback: wg.Done,
		}
		if err := js.Submit(task); err != nil {
			errs[i] = err
			wg.Done()
		}
	}
	wg.Wait()
	return results, errs
}
