package worker

import (
	"fmt"
	"sync"
)

// WorkerPool is a contianer for multiple workers, allowing
// easy way to start, stop or wakeup multiple workers at the
// same time.
type WorkerPool struct {
	workers []Worker
	wg      sync.WaitGroup
	mutex   sync.Mutex
}

func NewWorkerPool() *WorkerPool {
	return &WorkerPool{}
}

// PushWorker inserts the provided worker in to the worker pool
func (pool *WorkerPool) PushWorker(workers ...Worker) {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()

	pool.workers = append(pool.workers, workers...)
}

// Start will cycle through all the workers in the pool
// and start their work in a goroutine attached to the
// pools WaitGroup.
func (pool *WorkerPool) Start() {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()

	for _, w := range pool.workers {
		pool.wg.Add(1)

		go func(w Worker) {
			defer pool.wg.Done()
			w.Start()
		}(w)
	}
}

// WakeupWorkers will send a signal on the wakeup channel of
// any sleeping workers in this pool. Workers that are already
// awake are skipped.
func (pool *WorkerPool) WakeupWorkers() {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()

	for _, w := range pool.workers {
		if w.Status() == SLEEPING {
			select {
			case w.WakeupChan() <- 1:
			default:
			}
		}
	}
}

// Close will close each worker in the pool, and wait
// for all the work to finish before returning.
func (pool *WorkerPool) Close() error {
	pool.mutex.Lock()
	for _, w := range pool.workers {
		w.Close()
	}
	pool.mutex.Unlock()

	pool.wg.Wait()
	fmt.Printf("[WorkerPool] (X) All workers finished!\n")

	return nil
}
