// Package pool executes tasks on a bounded number of goroutines while
// capping the bytes their results hold. Results are committed strictly in
// submission order.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of tasks whose results are resident (running or
// waiting to be committed) and the sum of their weights.
type Pool struct {
	workers int64
	budget  int64
}

// Task produces a value of weight bytes.
type Task[T any] struct {
	Name   string
	Weight int64
	Fn     func(ctx context.Context) (T, error)
}

type result[T any] struct {
	value T
	err   error
}

func New(workers int, budget int64) *Pool {
	return &Pool{workers: int64(max(workers, 1)), budget: max(budget, 1)}
}

// weight clamps w into [1, budget] so a single oversized task can always run
// once everything before it has been committed.
func (p *Pool) weight(w int64) int64 {
	return min(max(w, 1), p.budget)
}

// Run executes tasks and calls commit for each result in order. The first
// task or commit error cancels every task still running, and no result after
// it is committed. Run returns once all goroutines have exited.
func Run[T any](ctx context.Context, p *Pool, tasks []Task[T], commit func(i int, v T) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := semaphore.NewWeighted(p.workers)
	bytes := semaphore.NewWeighted(p.budget)

	results := make([]chan result[T], len(tasks))
	for i := range results {
		results[i] = make(chan result[T], 1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, t := range tasks {
			if err := slots.Acquire(ctx, 1); err != nil {
				results[i] <- result[T]{err: err}
				return
			}
			if err := bytes.Acquire(ctx, p.weight(t.Weight)); err != nil {
				slots.Release(1)
				results[i] <- result[T]{err: err}
				return
			}

			wg.Add(1)
			go func(i int, t Task[T]) {
				defer wg.Done()
				v, err := t.Fn(ctx)
				results[i] <- result[T]{value: v, err: err}
			}(i, t)
		}
	}()

	err := func() error {
		for i, t := range tasks {
			r := <-results[i]
			if r.err != nil {
				return r.err
			}
			if err := commit(i, r.value); err != nil {
				return err
			}
			bytes.Release(p.weight(t.Weight))
			slots.Release(1)
		}
		return nil
	}()

	cancel()
	wg.Wait()
	return err
}
