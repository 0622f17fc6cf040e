package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mdcapital/claimsight/internal/dataset"
)

func smallDataset(texts ...string) *dataset.Dataset {
	records := make([]dataset.Record, len(texts))
	for i, t := range texts {
		records[i] = dataset.Record{InsurerName: "A", ClaimStatus: "Denied", CommunicationText: t}
	}
	return dataset.New(records)
}

func slowEmbedder() *mockEmbedder {
	return &mockEmbedder{embedFn: func(string) ([]float32, error) {
		time.Sleep(20 * time.Millisecond)
		return []float32{1, 0}, nil
	}}
}

func TestIndexCacheSingleFlight(t *testing.T) {
	cache := NewIndexCache(time.Minute, 4)
	ds := smallDataset("one", "two")
	e := slowEmbedder()

	var wg sync.WaitGroup
	indexes := make([]*Index, 10)
	for i := range indexes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := cache.Get(context.Background(), ds, e)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			indexes[i] = idx
		}()
	}
	wg.Wait()

	if got := cache.Stats().Builds; got != 1 {
		t.Errorf("builds = %d, want 1", got)
	}
	for i := 1; i < len(indexes); i++ {
		if indexes[i] != indexes[0] {
			t.Fatal("callers received different index instances")
		}
	}

	if _, err := cache.Get(context.Background(), ds, e); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := cache.Stats().Hits; got < 1 {
		t.Errorf("hits = %d, want at least 1", got)
	}
}

func TestIndexCacheKeyedByDatasetAndEmbedder(t *testing.T) {
	cache := NewIndexCache(time.Minute, 4)
	e1 := &mockEmbedder{name: "m1", embedFn: func(string) ([]float32, error) { return []float32{1}, nil }}
	e2 := &mockEmbedder{name: "m2", embedFn: func(string) ([]float32, error) { return []float32{1}, nil }}

	ds1, ds2 := smallDataset("x"), smallDataset("y")
	for _, ds := range []*dataset.Dataset{ds1, ds2} {
		for _, e := range []*mockEmbedder{e1, e2} {
			if _, err := cache.Get(context.Background(), ds, e); err != nil {
				t.Fatalf("Get: %v", err)
			}
		}
	}
	if got := cache.Stats().Builds; got != 4 {
		t.Errorf("builds = %d, want 4", got)
	}
}

func TestIndexCacheEvictsAtCapacity(t *testing.T) {
	cache := NewIndexCache(time.Minute, 2)
	e := &mockEmbedder{embedFn: func(string) ([]float32, error) { return []float32{1}, nil }}

	for i := 0; i < 5; i++ {
		if _, err := cache.Get(context.Background(), smallDataset(fmt.Sprint(i)), e); err != nil {
			t.Fatalf("Get: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if got := cache.Stats().Entries; got != 2 {
		t.Errorf("entries = %d, want 2", got)
	}
}

func TestIndexCacheDoesNotCacheFailures(t *testing.T) {
	cache := NewIndexCache(time.Minute, 2)
	fail := true
	e := &mockEmbedder{embedFn: func(string) ([]float32, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return []float32{1}, nil
	}}
	ds := smallDataset("x")

	if _, err := cache.Get(context.Background(), ds, e); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	fail = false
	if _, err := cache.Get(context.Background(), ds, e); err != nil {
		t.Fatalf("Get after recovery: %v", err)
	}
	if got := cache.Stats().Builds; got != 2 {
		t.Errorf("builds = %d, want 2", got)
	}
}

func TestIndexCacheCallerCancellation(t *testing.T) {
	cache := NewIndexCache(time.Minute, 2)
	e := &mockEmbedder{embedFn: func(string) ([]float32, error) {
		time.Sleep(100 * time.Millisecond)
		return []float32{1}, nil
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := cache.Get(ctx, smallDataset("x"), e); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
