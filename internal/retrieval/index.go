// Package retrieval embeds communication texts into a flat vector index and
// answers exact nearest-neighbour queries by inner product over unit
// vectors.
package retrieval

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/mdcapital/claimsight/internal/dataset"
)

// ErrUnavailable marks an index that could not be built because the
// embedding backend failed. Callers report retrieval as unavailable rather
// than returning empty results.
var ErrUnavailable = errors.New("retrieval unavailable")

// Metadata is a snapshot of the record a text came from.
type Metadata struct {
	Insurer             string `json:"insurer"`
	Status              string `json:"status"`
	Urgency             int    `json:"urgency"`
	DaysSinceSubmission int    `json:"days_since_submission"`
}

// MetadataFor snapshots the fields of r carried alongside its text.
func MetadataFor(r dataset.Record) Metadata {
	return Metadata{
		Insurer:             r.InsurerName,
		Status:              r.ClaimStatus,
		Urgency:             r.Urgency,
		DaysSinceSubmission: r.DaysSinceSubmission,
	}
}

// Hit is one ranked query result. Score is the cosine similarity in [-1, 1].
type Hit struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Score    float32  `json:"score"`
}

type entry struct {
	text string
	meta Metadata
	vec  []float32
}

// Index is an immutable flat inner-product index. It is safe for
// concurrent queries.
type Index struct {
	embedder Embedder
	entries  []entry
	dim      int
}

// Build embeds every text and stores its unit-length vector. An empty
// corpus yields an empty index without calling the embedder.
func Build(ctx context.Context, e Embedder, texts []string, meta []Metadata) (*Index, error) {
	if len(texts) != len(meta) {
		return nil, fmt.Errorf("building index: %d texts but %d metadata entries", len(texts), len(meta))
	}
	idx := &Index{embedder: e}
	if len(texts) == 0 {
		return idx, nil
	}

	vecs, err := embedAll(ctx, e, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	idx.entries = make([]entry, len(texts))
	for i, v := range vecs {
		if i == 0 {
			idx.dim = len(v)
		}
		if len(v) == 0 || len(v) != idx.dim {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d", ErrUnavailable, i, len(v), idx.dim)
		}
		idx.entries[i] = entry{text: texts[i], meta: meta[i], vec: normalize(v)}
	}
	return idx, nil
}

// FromDataset builds an index over the communication text of every record
// that has one.
func FromDataset(ctx context.Context, e Embedder, ds *dataset.Dataset) (*Index, error) {
	var texts []string
	var meta []Metadata
	for _, r := range ds.Records() {
		if r.CommunicationText == "" {
			continue
		}
		texts = append(texts, r.CommunicationText)
		meta = append(meta, MetadataFor(r))
	}
	return Build(ctx, e, texts, meta)
}

// Len returns the number of indexed entries.
func (x *Index) Len() int { return len(x.entries) }

// Dim returns the vector dimension, or 0 for an empty index.
func (x *Index) Dim() int { return x.dim }

// Query returns the k entries most similar to text, best first. Equal
// scores keep insertion order. k <= 0 or k larger than the index returns
// every entry.
func (x *Index) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	if len(x.entries) == 0 {
		return []Hit{}, nil
	}
	vecs, err := x.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != x.dim {
		return nil, fmt.Errorf("embedding query: got dimension %d, want %d", lenFirst(vecs), x.dim)
	}
	return x.search(normalize(vecs[0]), k), nil
}

func (x *Index) search(q []float32, k int) []Hit {
	if k <= 0 || k > len(x.entries) {
		k = len(x.entries)
	}

	h := make(candidateHeap, 0, k)
	for i, e := range x.entries {
		c := candidate{pos: i, score: dot(q, e.vec)}
		if h.Len() < k {
			heap.Push(&h, c)
		} else if h[0].worse(c) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	sort.Slice(h, func(i, j int) bool { return h[j].worse(h[i]) })

	hits := make([]Hit, len(h))
	for i, c := range h {
		e := x.entries[c.pos]
		hits[i] = Hit{Content: e.text, Metadata: e.meta, Score: c.score}
	}
	return hits
}

type candidate struct {
	pos   int
	score float32
}

// worse reports whether c ranks below o: a lower score, or an equal score
// inserted later.
func (c candidate) worse(o candidate) bool {
	if c.score != o.score {
		return c.score < o.score
	}
	return c.pos > o.pos
}

// candidateHeap is a min-heap whose root is the worst kept candidate.
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].worse(h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// normalize returns a unit-length copy of v. A zero vector stays zero.
func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	n := math.Sqrt(sum)
	if n == 0 {
		return out
	}
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}

func lenFirst(v [][]float32) int {
	if len(v) == 0 {
		return 0
	}
	return len(v[0])
}
