package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Enricher computes the derived columns for a dataset. Implementations
// return a new Dataset and leave the input untouched.
type Enricher interface {
	Enrich(ctx context.Context, ds *Dataset) (*Dataset, error)
}

// Store publishes the current Dataset to concurrent readers. Readers take a
// snapshot with Current and keep using it even if a newer one is published.
type Store struct {
	current atomic.Pointer[Dataset]
	group   singleflight.Group
}

func NewStore(ds *Dataset) *Store {
	s := &Store{}
	s.current.Store(ds)
	return s
}

// Current returns the most recently published dataset.
func (s *Store) Current() *Dataset {
	return s.current.Load()
}

// EnsureEnriched runs e over the current dataset once and publishes the
// result. Concurrent callers share a single pass. After a successful pass
// further calls return immediately without invoking e.
func (s *Store) EnsureEnriched(ctx context.Context, e Enricher) (*Dataset, error) {
	if ds := s.Current(); ds.Enriched() || ds.Len() == 0 {
		return ds, nil
	}

	v, err, _ := s.group.Do("enrich", func() (any, error) {
		ds := s.Current()
		if ds.Enriched() {
			return ds, nil
		}
		enriched, err := e.Enrich(context.WithoutCancel(ctx), ds)
		if err != nil {
			return nil, err
		}
		if !s.current.CompareAndSwap(ds, enriched) {
			slog.Warn("dataset replaced during enrichment; keeping newer dataset")
			return s.Current(), nil
		}
		slog.Info("dataset enriched", "records", enriched.Len(), "degraded_batches", enriched.Enrichment().DegradedBatches)
		return enriched, nil
	})
	if err != nil {
		return s.Current(), fmt.Errorf("enriching dataset: %w", err)
	}
	return v.(*Dataset), nil
}
