package engine

import (
	"sync"
)

// WorkerPool runs submitted tasks on a fixed set of goroutines, bounding
// the concurrency of batch evaluation without per-request goroutines.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

// NewWorkerPool starts a pool of the given size.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = batchWorkers
	}
	p := &WorkerPool{tasks: make(chan func(), workers*4)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit queues a task, blocking while the queue is full.
func (p *WorkerPool) Submit(task func()) {
	p.tasks <- task
}

// Stop drains queued tasks and joins the workers. Nothing may submit
// after Stop.
func (p *WorkerPool) Stop() {
	p.once.Do(func() {
		close(p.tasks)
		p.wg.Wait()
	})
}
