// Package worker runs jobs on a fixed set of goroutines. Jobs that share a
// key always run on the same worker, in submission order.
package worker

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
)

type Job interface{}

type ProcessFunc func(ctx context.Context, job Job) error

type WorkerPool struct {
	queues    []chan Job
	processor ProcessFunc
	wg        sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewWorkerPool creates numWorkers queues of bufferSize jobs each.
func NewWorkerPool(numWorkers int, bufferSize int, processor ProcessFunc) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	queues := make([]chan Job, numWorkers)
	for i := range queues {
		queues[i] = make(chan Job, bufferSize)
	}
	return &WorkerPool{
		queues:    queues,
		processor: processor,
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	for i, jobs := range wp.queues {
		wp.wg.Add(1)
		go wp.worker(ctx, i+1, jobs)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int, jobs <-chan Job) {
	defer wp.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := wp.processor(ctx, job); err != nil {
				wp.failed.Add(1)
				slog.Warn("job failed", "worker", id, "error", err)
			}
		}
	}
}

// TrySubmit queues job on key's worker without blocking. It reports false
// and counts a drop when the queue is full or the pool is stopped.
func (wp *WorkerPool) TrySubmit(key string, job Job) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		wp.dropped.Add(1)
		return false
	}

	select {
	case wp.queueFor(key) <- job:
		return true
	default:
		wp.dropped.Add(1)
		return false
	}
}

// Stop closes the queues and waits for the workers. Jobs already queued
// are processed unless the start context was cancelled. Stop may be called
// more than once.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.stopped {
		wp.stopped = true
		for _, q := range wp.queues {
			close(q)
		}
	}
	wp.mu.Unlock()

	wp.wg.Wait()
}

func (wp *WorkerPool) Dropped() int64 {
	return wp.dropped.Load()
}

func (wp *WorkerPool) Failed() int64 {
	return wp.failed.Load()
}

func (wp *WorkerPool) queueFor(key string) chan Job {
	if len(wp.queues) == 1 {
		return wp.queues[0]
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return wp.queues[h.Sum32()%uint32(len(wp.queues))]
}
