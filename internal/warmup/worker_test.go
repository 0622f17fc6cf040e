package warmup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/engine"
	"github.com/mdcapital/claimsight/internal/retrieval"
)

func countingTask(name string, calls *atomic.Int32, err error) Task {
	return Func(name, func(context.Context) error {
		calls.Add(1)
		return err
	})
}

func TestRunOnce_ContinuesAfterFailure(t *testing.T) {
	var a, b atomic.Int32
	w := NewWorker(0,
		countingTask("a", &a, errors.New("boom")),
		countingTask("b", &b, nil),
	)

	if failed := w.RunOnce(context.Background()); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if a.Load() != 1 || b.Load() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", a.Load(), b.Load())
	}
}

func TestRunOnce_CancelledContext(t *testing.T) {
	var calls atomic.Int32
	w := NewWorker(0, countingTask("a", &calls, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.RunOnce(ctx)
	if calls.Load() != 0 {
		t.Errorf("task ran %d times after cancel", calls.Load())
	}
}

func TestRun_ZeroIntervalRunsOnce(t *testing.T) {
	var calls atomic.Int32
	w := NewWorker(0, countingTask("a", &calls, nil))

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return with a zero interval")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRun_RepeatsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	w := NewWorker(5*time.Millisecond, countingTask("a", &calls, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d runs before deadline", calls.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestIndexTask_BuildsOnce(t *testing.T) {
	store := dataset.NewStore(dataset.New([]dataset.Record{
		{InsurerName: "A", ClaimStatus: "Denied", CommunicationText: "prior authorization missing"},
		{InsurerName: "B", ClaimStatus: "Approved", CommunicationText: "claim approved"},
	}))
	cache := retrieval.NewIndexCache(time.Hour, 4)
	s := &retrieval.Searcher{Store: store, Cache: cache, Embedder: engine.NewHashEmbedder(64), TopK: 1}

	w := NewWorker(0, IndexTask(s))
	w.RunOnce(context.Background())
	w.RunOnce(context.Background())

	stats := cache.Stats()
	if stats.Builds != 1 {
		t.Errorf("builds = %d, want 1", stats.Builds)
	}
	if stats.Hits != 1 {
		t.Errorf("hits = %d, want 1", stats.Hits)
	}

	hits, err := s.Search(context.Background(), "authorization", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("got %d hits, want 1", len(hits))
	}
}
