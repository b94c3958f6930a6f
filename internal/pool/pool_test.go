package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRunCommitsInOrder(t *testing.T) {
	p := New(4, 1<<20)

	var tasks []Task[int]
	for i := range 10 {
		tasks = append(tasks, Task[int]{
			Name:   fmt.Sprint(i),
			Weight: 10,
			Fn: func(context.Context) (int, error) {
				// later tasks finish first
				time.Sleep(time.Duration(10-i) * time.Millisecond)
				return i, nil
			},
		})
	}

	var got []int
	err := Run(context.Background(), p, tasks, func(i int, v int) error {
		if i != v {
			t.Errorf("result %d committed at index %d", v, i)
		}
		got = append(got, v)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got); diff != "" {
		t.Fatal(diff)
	}
}

func TestRunBounds(t *testing.T) {
	cases := []struct {
		note    string
		workers int
		budget  int64
		weight  int64
		limit   int64
	}{
		{note: "workers", workers: 2, budget: 1000, weight: 1, limit: 2},
		{note: "bytes", workers: 8, budget: 30, weight: 10, limit: 3},
		{note: "oversized tasks run one at a time", workers: 8, budget: 5, weight: 100, limit: 1},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			var resident, peak atomic.Int64
			var mu sync.Mutex

			var tasks []Task[struct{}]
			for range 12 {
				tasks = append(tasks, Task[struct{}]{
					Weight: tc.weight,
					Fn: func(context.Context) (struct{}, error) {
						n := resident.Add(1)
						mu.Lock()
						peak.Store(max(peak.Load(), n))
						mu.Unlock()
						time.Sleep(5 * time.Millisecond)
						return struct{}{}, nil
					},
				})
			}

			err := Run(context.Background(), New(tc.workers, tc.budget), tasks, func(int, struct{}) error {
				resident.Add(-1)
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if peak.Load() > tc.limit {
				t.Fatalf("expected at most %d resident results, saw %d", tc.limit, peak.Load())
			}
		})
	}
}

func TestRunFailFast(t *testing.T) {
	boom := errors.New("boom")

	var tasks []Task[int]
	for i := range 6 {
		tasks = append(tasks, Task[int]{
			Weight: 1,
			Fn: func(ctx context.Context) (int, error) {
				if i == 2 {
					return 0, boom
				}
				if i > 2 {
					<-ctx.Done()
					return 0, ctx.Err()
				}
				return i, nil
			},
		})
	}

	var committed []int
	err := Run(context.Background(), New(3, 100), tasks, func(_ int, v int) error {
		committed = append(committed, v)
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if diff := cmp.Diff([]int{0, 1}, committed); diff != "" {
		t.Fatal(diff)
	}
}

func TestRunCommitError(t *testing.T) {
	stop := errors.New("stop")
	tasks := make([]Task[int], 5)
	for i := range tasks {
		tasks[i] = Task[int]{Weight: 1, Fn: func(context.Context) (int, error) { return i, nil }}
	}

	var committed int
	err := Run(context.Background(), New(2, 10), tasks, func(i int, _ int) error {
		committed++
		if i == 1 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected stop, got %v", err)
	}
	if committed != 2 {
		t.Fatalf("expected 2 commits, got %d", committed)
	}
}

func TestRunEmpty(t *testing.T) {
	if err := Run(context.Background(), New(2, 10), nil, func(int, int) error {
		t.Fatal("unexpected commit")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}
