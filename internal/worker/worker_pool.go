package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type Task func()

// WorkerPool runs tasks on a fixed number of goroutines. Submit blocks while
// the buffer is full so no delivery is dropped.
type WorkerPool struct {
	tasks      chan Task
	wg         sync.WaitGroup
	busy       int
	processed  int
	panics     int
	maxWorkers int
	logger     zerolog.Logger
	mu         sync.RWMutex
	stopOnce   sync.Once
}

func NewWorkerPool(maxWorkers int, logger zerolog.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		tasks:      make(chan Task, maxWorkers*2),
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

func (wp *WorkerPool) Start() {
	wp.logger.Info().Int("max_workers", wp.maxWorkers).Msg("Starting worker pool")

	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop drains queued tasks and waits for the workers. Submit must not be
// called afterwards.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.logger.Info().Msg("Stopping worker pool")
		close(wp.tasks)
		wp.wg.Wait()
		wp.logger.Info().Msg("Worker pool stopped")
	})
}

// Submit returns false when ctx ends before a worker accepts the task.
func (wp *WorkerPool) Submit(ctx context.Context, task Task) bool {
	select {
	case wp.tasks <- task:
		return true
	default:
	}

	wp.logger.Debug().Msg("Worker pool task queue is full, waiting")
	select {
	case wp.tasks <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug().Int("worker_id", id).Msg("Worker started")

	for task := range wp.tasks {
		wp.run(id, task)
	}

	wp.logger.Debug().Int("worker_id", id).Msg("Worker stopped")
}

func (wp *WorkerPool) run(id int, task Task) {
	wp.mu.Lock()
	wp.busy++
	wp.mu.Unlock()

	defer func() {
		r := recover()

		wp.mu.Lock()
		wp.busy--
		wp.processed++
		if r != nil {
			wp.panics++
		}
		wp.mu.Unlock()

		if r != nil {
			wp.logger.Error().
				Int("worker_id", id).
				Interface("panic", r).
				Msg("Worker recovered from panic")
		}
	}()

	task()
}

func (wp *WorkerPool) GetActiveWorkers() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.busy
}

func (wp *WorkerPool) GetQueueLength() int {
	return len(wp.tasks)
}

func (wp *WorkerPool) GetStats() map[string]interface{} {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return map[string]interface{}{
		"active_workers": wp.busy,
		"max_workers":    wp.maxWorkers,
		"processed":      wp.processed,
		"panics":         wp.panics,
		"queue_length":   len(wp.tasks),
		"queue_capacity": cap(wp.tasks),
	}
}
