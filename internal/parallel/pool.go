// Package parallel provides a bounded worker pool for the per-layer render
// stage. Layer decode, hash, store, and transform work has no cross-layer
// data dependency, so it fans out freely; the pool bounds the fan-out and
// surfaces per-task errors to the caller instead of dropping them.
package parallel

import (
	"fmt"
	"runtime"
	"sync"
)

// Pool runs batches of independent tasks across a bounded number of
// goroutines. The zero number of workers means GOMAXPROCS.
//
// Pool is safe for concurrent use; each Run call manages its own goroutines,
// so there is nothing to shut down.
type Pool struct {
	workers int
}

// New creates a pool with the given worker bound. If workers is 0 or
// negative, GOMAXPROCS is used.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers returns the pool's worker bound.
func (p *Pool) Workers() int { return p.workers }

// Run executes every task and returns a slice of errors aligned with the
// task indices (nil for tasks that succeeded). A panicking task is caught
// and reported as that task's error so one corrupt layer cannot take down
// the whole render.
func (p *Pool) Run(tasks []func() error) []error {
	errs := make([]error, len(tasks))
	if len(tasks) == 0 {
		return errs
	}

	workers := p.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	indices := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indices {
				errs[i] = runTask(tasks[i])
			}
		}()
	}
	for i := range tasks {
		indices <- i
	}
	close(indices)
	wg.Wait()
	return errs
}

// RunSequential executes the tasks on the calling goroutine. Used below the
// parallelism threshold, where pool overhead outweighs the win.
func RunSequential(tasks []func() error) []error {
	errs := make([]error, len(tasks))
	for i, task := range tasks {
		errs[i] = runTask(task)
	}
	return errs
}

func runTask(task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task()
}
