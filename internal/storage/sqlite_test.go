package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the migration is not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "claimsight.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestVectorsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	h1, h2 := HashText("prior authorization missing"), HashText("payment issued")
	err := s.PutVectors("hashed:8", map[string][]float32{
		h1: {0.5, -1.25, 3},
		h2: {1, 0, 0},
	})
	if err != nil {
		t.Fatalf("PutVectors: %v", err)
	}

	got, err := s.GetVectors("hashed:8", []string{h1, h2, HashText("unknown")})
	if err != nil {
		t.Fatalf("GetVectors: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d vectors, want 2", len(got))
	}
	if v := got[h1]; len(v) != 3 || v[1] != -1.25 {
		t.Errorf("vector = %v, want [0.5 -1.25 3]", v)
	}

	other, err := s.GetVectors("gemini:text-embedding-004", []string{h1})
	if err != nil {
		t.Fatalf("GetVectors: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("vectors leaked across models: %v", other)
	}
}

func TestGetVectorsManyKeys(t *testing.T) {
	s := openTestStore(t)

	vecs := make(map[string][]float32)
	var hashes []string
	for i := 0; i < 1200; i++ {
		h := HashText(fmt.Sprintf("text %d", i))
		vecs[h] = []float32{float32(i)}
		hashes = append(hashes, h)
	}
	if err := s.PutVectors("m", vecs); err != nil {
		t.Fatalf("PutVectors: %v", err)
	}
	got, err := s.GetVectors("m", hashes)
	if err != nil {
		t.Fatalf("GetVectors: %v", err)
	}
	if len(got) != 1200 {
		t.Errorf("got %d vectors, want 1200", len(got))
	}
}

func TestClassificationsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	h := HashText("Claim denied for missing referral")
	if err := s.PutClassifications(map[string]Classification{
		h: {DenialCategory: "Missing Documentation", Tone: "Obstructive"},
	}); err != nil {
		t.Fatalf("PutClassifications: %v", err)
	}
	got, err := s.GetClassifications([]string{h})
	if err != nil {
		t.Fatalf("GetClassifications: %v", err)
	}
	if c := got[h]; c.DenialCategory != "Missing Documentation" || c.Tone != "Obstructive" {
		t.Errorf("classification = %+v", c)
	}
}

func TestInteractions(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := s.SaveInteraction(Interaction{
			ID:        fmt.Sprintf("id-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Source:    "http",
			Question:  fmt.Sprintf("question %d", i),
			Mode:      "linear",
			Narrative: "answer",
			Failed:    i == 2,
			ElapsedMS: 40,
		})
		if err != nil {
			t.Fatalf("SaveInteraction: %v", err)
		}
	}

	recent, err := s.GetRecentInteractions(2)
	if err != nil {
		t.Fatalf("GetRecentInteractions: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d interactions, want 2", len(recent))
	}
	if recent[0].ID != "id-2" || !recent[0].Failed {
		t.Errorf("recent[0] = %+v, want newest failed interaction", recent[0])
	}

	got, err := s.GetInteraction("id-0")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
	if _, err := s.GetInteraction("missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestNoPendingMigrationsAfterOpen(t *testing.T) {
	s := openTestStore(t)

	pending, err := s.pendingMigrations()
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %+v, want none", pending)
	}
	applied, _ := s.AppliedMigrations()
	if len(applied) == 0 || applied[0] != 1 {
		t.Errorf("applied = %v, want to start at 1", applied)
	}
}
