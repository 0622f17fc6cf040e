package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mdcapital/claimsight/internal/dataset"
)

func TestSearcher_DefaultK(t *testing.T) {
	records := make([]dataset.Record, 4)
	for i := range records {
		records[i] = dataset.Record{InsurerName: "A", ClaimStatus: "Denied", CommunicationText: []string{"e0", "e1", "e2", "e3"}[i]}
	}
	s := &Searcher{
		Store:    dataset.NewStore(dataset.New(records)),
		Cache:    NewIndexCache(time.Minute, 2),
		Embedder: axisEmbedder(),
		TopK:     2,
	}

	hits, err := s.Search(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].Content != "e0" {
		t.Errorf("hits = %+v, want e0 first of 2", hits)
	}

	hits, err = s.Search(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("got %d hits, want 3", len(hits))
	}
	if st := s.Cache.Stats(); st.Builds != 1 {
		t.Errorf("builds = %d, want 1", st.Builds)
	}
}

func TestSearcher_Unavailable(t *testing.T) {
	e := &mockEmbedder{embedFn: func(string) ([]float32, error) { return nil, errors.New("down") }}
	s := &Searcher{
		Store:    dataset.NewStore(dataset.New([]dataset.Record{{CommunicationText: "x"}})),
		Cache:    NewIndexCache(time.Minute, 2),
		Embedder: e,
		TopK:     5,
	}
	if _, err := s.Search(context.Background(), "q", 0); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
