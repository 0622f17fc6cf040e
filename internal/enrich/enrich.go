// Package enrich derives denial_category and tone for every record with
// batched text-completion calls.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/engine"
	"github.com/mdcapital/claimsight/internal/metrics"
	"github.com/mdcapital/claimsight/internal/storage"
)

const (
	defaultBatchSize   = 15
	defaultConcurrency = 2
)

// Cache persists classifications keyed by storage.HashText of the text.
type Cache interface {
	GetClassifications(hashes []string) (map[string]storage.Classification, error)
	PutClassifications(cs map[string]storage.Classification) error
}

// Options configures an Enricher.
type Options struct {
	BatchSize   int
	Concurrency int
	Model       string
	// Cache is optional.
	Cache Cache
}

// Enricher implements dataset.Enricher.
type Enricher struct {
	completer   engine.Completer
	batchSize   int
	concurrency int
	model       string
	cache       Cache
}

// New creates an Enricher. Non-positive sizes fall back to 15 records per
// batch and 2 concurrent batches.
func New(c engine.Completer, opts Options) *Enricher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Enricher{
		completer:   c,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		model:       opts.Model,
		cache:       opts.Cache,
	}
}

type batchOutcome struct {
	err          error
	unclassified int
	labels       map[int]label
}

// Enrich returns a new dataset with derived columns. An already enriched
// dataset is returned as is without any service calls. A failing batch
// leaves its records on the defaults and is recorded in the dataset's
// EnrichmentReport; only cancellation of ctx aborts the pass.
func (e *Enricher) Enrich(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	if ds.Enriched() {
		return ds, nil
	}
	start := time.Now()
	records := ds.Records()
	categories := make([]string, len(records))
	tones := make([]string, len(records))

	pending := e.fromCache(records, categories, tones)
	batches := split(pending, e.batchSize)
	outcomes := make([]batchOutcome, len(batches))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			outcomes[i] = e.classify(ctx, records, batch)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("enrichment interrupted: %w", err)
	}

	report := dataset.EnrichmentReport{Batches: len(batches)}
	fresh := make(map[string]storage.Classification)
	for i, batch := range batches {
		out := outcomes[i]
		metrics.RecordEnrichBatch(out.err == nil)
		if out.err != nil {
			report.DegradedBatches++
			report.Errors = append(report.Errors, fmt.Sprintf("batch %d: %v", i, out.err))
		}
		report.Unclassified += out.unclassified
		for local, idx := range batch {
			l, ok := out.labels[local]
			if !ok {
				continue
			}
			categories[idx] = l.category
			tones[idx] = l.tone
			fresh[storage.HashText(records[idx].CommunicationText)] = storage.Classification{
				DenialCategory: l.category,
				Tone:           l.tone,
			}
		}
	}
	e.toCache(fresh)

	slog.Info("enrichment complete",
		"records", len(records),
		"batches", report.Batches,
		"degraded_batches", report.DegradedBatches,
		"unclassified", report.Unclassified,
		"duration", time.Since(start),
	)
	return ds.WithDerived(categories, tones, report)
}

// classify runs one batch. Records absent from the response count as
// unclassified.
func (e *Enricher) classify(ctx context.Context, records []dataset.Record, batch []int) batchOutcome {
	texts := make([]string, len(batch))
	for i, idx := range batch {
		texts[i] = records[idx].CommunicationText
	}

	raw, err := e.completer.Complete(ctx, engine.Request{
		Prompt:        BuildPrompt(texts),
		Model:         e.model,
		Deterministic: true,
	})
	if err != nil {
		slog.Warn("enrichment batch failed", "first_record", batch[0], "size", len(batch), "error", err)
		return batchOutcome{err: err, unclassified: len(batch)}
	}
	labels, err := parseResponse(raw, len(batch))
	if err != nil {
		slog.Warn("enrichment batch unparseable", "first_record", batch[0], "size", len(batch), "error", err)
		return batchOutcome{err: err, unclassified: len(batch)}
	}
	return batchOutcome{labels: labels, unclassified: len(batch) - len(labels)}
}

// fromCache fills categories and tones for cached texts and returns the
// indexes that still need classification.
func (e *Enricher) fromCache(records []dataset.Record, categories, tones []string) []int {
	all := make([]int, len(records))
	for i := range records {
		all[i] = i
	}
	if e.cache == nil {
		return all
	}

	hashes := make([]string, len(records))
	for i, r := range records {
		hashes[i] = storage.HashText(r.CommunicationText)
	}
	cached, err := e.cache.GetClassifications(hashes)
	if err != nil {
		slog.Warn("classification cache read failed", "error", err)
		return all
	}

	var pending []int
	for i, h := range hashes {
		if c, ok := cached[h]; ok {
			categories[i] = c.DenialCategory
			tones[i] = c.Tone
			continue
		}
		pending = append(pending, i)
	}
	slog.Debug("classification cache", "hits", len(records)-len(pending), "pending", len(pending))
	return pending
}

func (e *Enricher) toCache(cs map[string]storage.Classification) {
	if e.cache == nil || len(cs) == 0 {
		return
	}
	if err := e.cache.PutClassifications(cs); err != nil {
		slog.Warn("classification cache write failed", "error", err)
	}
}

func split(idx []int, size int) [][]int {
	var out [][]int
	for len(idx) > 0 {
		n := min(size, len(idx))
		out = append(out, idx[:n])
		idx = idx[n:]
	}
	return out
}
