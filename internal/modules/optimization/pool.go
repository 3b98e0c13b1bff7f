package optimization

import (
	"context"
	"sync"
)

// WorkerPool bounds how many goroutines evaluate a batch in parallel.
type WorkerPool struct {
	numWorkers int
}

// NewWorkerPool creates a pool with numWorkers goroutines (default 4).
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &WorkerPool{numWorkers: numWorkers}
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int { return wp.numWorkers }

type jobItem struct {
	index int
}

type resultItem[T any] struct {
	index int
	value T
	err   error
}

// Run evaluates fn for indexes 0..count-1 on the pool and returns the
// results in index order. The first error or a cancelled context stops
// the batch.
func Run[T any](ctx context.Context, wp *WorkerPool, count int, fn func(index int) (T, error)) ([]T, error) {
	if count == 0 {
		return []T{}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan jobItem)
	results := make(chan resultItem[T], count)

	numActualWorkers := wp.numWorkers
	if count < numActualWorkers {
		numActualWorkers = count // Don't spawn more workers than jobs
	}

	var wg sync.WaitGroup
	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, results, fn)
		}()
	}

	go func() {
		defer close(jobs)
		for idx := 0; idx < count; idx++ {
			select {
			case jobs <- jobItem{index: idx}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]T, count)
	var firstErr error
	received := 0
	for result := range results {
		if result.err != nil {
			if firstErr == nil {
				firstErr = result.err
				cancel()
			}
			continue
		}
		out[result.index] = result.value
		received++
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if received < count {
		return nil, ctx.Err()
	}
	return out, nil
}

func worker[T any](ctx context.Context, jobs <-chan jobItem, results chan<- resultItem[T], fn func(int) (T, error)) {
	for job := range jobs {
		if err := ctx.Err(); err != nil {
			results <- resultItem[T]{index: job.index, err: err}
			return
		}
		value, err := fn(job.index)
		results <- resultItem[T]{index: job.index, value: value, err: err}
	}
}
