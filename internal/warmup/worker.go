// Package warmup keeps derived state ready ahead of the first request.
package warmup

import (
	"context"
	"log/slog"
	"time"

	"github.com/mdcapital/claimsight/internal/retrieval"
)

// Task is one unit of warm-up work. Run must be safe to repeat.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type funcTask struct {
	name string
	fn   func(ctx context.Context) error
}

func (t funcTask) Name() string                  { return t.name }
func (t funcTask) Run(ctx context.Context) error { return t.fn(ctx) }

// Func adapts fn to a Task.
func Func(name string, fn func(ctx context.Context) error) Task {
	return funcTask{name: name, fn: fn}
}

// IndexTask builds the search index for the current dataset, or renews
// its cache entry when it already exists.
func IndexTask(s *retrieval.Searcher) Task {
	return Func("index", func(ctx context.Context) error {
		_, err := s.Cache.Get(ctx, s.Store.Current(), s.Embedder)
		return err
	})
}

// Worker runs its tasks at start and then every interval.
type Worker struct {
	tasks    []Task
	interval time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. A non-positive interval runs the tasks once.
func NewWorker(interval time.Duration, tasks ...Task) *Worker {
	return &Worker{
		tasks:    tasks,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run executes the tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		w.RunOnce(ctx)
		if w.interval <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}

// RunOnce runs every task in order and returns how many failed. A failed
// task does not stop the ones after it.
func (w *Worker) RunOnce(ctx context.Context) int {
	failed := 0
	for _, t := range w.tasks {
		if ctx.Err() != nil {
			return failed
		}
		start := time.Now()
		if err := t.Run(ctx); err != nil {
			failed++
			w.logger.Warn("warm-up task failed", "task", t.Name(), "error", err)
			continue
		}
		w.logger.Debug("warm-up task done", "task", t.Name(), "elapsed", time.Since(start))
	}
	return failed
}
