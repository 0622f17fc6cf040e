package dataset

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

const sampleCSV = `insurer_name,claim_status,urgency,days_since_submission,communication_text
Aetna,Denied,8,30,Prior authorization was not obtained before the procedure.
Aetna,Denied,6,12,Claim denied as not medically necessary.
Cigna,Approved,2,5,Payment issued in full.
`

func mustParse(t *testing.T, src string) *Dataset {
	t.Helper()
	ds, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return ds
}

func TestParse(t *testing.T) {
	ds := mustParse(t, sampleCSV)

	if ds.Len() != 3 {
		t.Fatalf("Len = %d, want 3", ds.Len())
	}
	r := ds.At(0)
	if r.InsurerName != "Aetna" || r.ClaimStatus != "Denied" || r.Urgency != 8 || r.DaysSinceSubmission != 30 {
		t.Errorf("record 0 = %+v", r)
	}
	if ds.Enriched() {
		t.Error("dataset without derived columns reported as enriched")
	}
	if got := len(ds.Columns()); got != 5 {
		t.Errorf("Columns = %d, want 5", got)
	}
}

func TestParseMissingColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("insurer_name,claim_status\nA,Denied\n"))
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("err = %v, want ErrMissingColumn", err)
	}
	if !strings.Contains(err.Error(), "communication_text") {
		t.Errorf("error %q does not name the missing column", err)
	}
}

func TestParseBadInteger(t *testing.T) {
	src := "insurer_name,claim_status,urgency,days_since_submission,communication_text\nA,Denied,high,3,x\n"
	_, err := Parse(strings.NewReader(src))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("err = %v, want line number", err)
	}
}

func TestParseWithDerivedColumns(t *testing.T) {
	src := "Insurer_Name,claim_status,urgency,days_since_submission,communication_text,denial_category,tone\n" +
		"A,Denied,1,2,text,Coding Error,Obstructive\n"
	ds := mustParse(t, src)
	if !ds.Enriched() {
		t.Fatal("dataset with derived columns not reported as enriched")
	}
	if got := len(ds.Columns()); got != 7 {
		t.Errorf("Columns = %d, want 7", got)
	}
}

func TestLoadCSVEmptyPath(t *testing.T) {
	if _, err := LoadCSV(" "); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("err = %v, want ErrEmptyPath", err)
	}
}

func TestSummary(t *testing.T) {
	s := mustParse(t, sampleCSV).Summary()

	if s.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", s.TotalRecords)
	}
	if len(s.Insurers) != 2 || s.Insurers[0] != "Aetna" || s.Insurers[1] != "Cigna" {
		t.Errorf("Insurers = %v", s.Insurers)
	}
	if s.StatusCounts["Denied"] != 2 || s.StatusCounts["Approved"] != 1 {
		t.Errorf("StatusCounts = %v", s.StatusCounts)
	}
	if s.AvgUrgency != 5.33 {
		t.Errorf("AvgUrgency = %v, want 5.33", s.AvgUrgency)
	}
	if s.AvgDays != 15.67 {
		t.Errorf("AvgDays = %v, want 15.67", s.AvgDays)
	}
}

func TestSchemaExamples(t *testing.T) {
	schema := mustParse(t, sampleCSV).Schema()
	for _, c := range schema {
		if len(c.Examples) > 3 {
			t.Errorf("%s has %d examples, want <= 3", c.Name, len(c.Examples))
		}
		if c.Name == ColUrgency && c.Type != "integer" {
			t.Errorf("urgency type = %q, want integer", c.Type)
		}
		if c.Name == ColInsurer && len(c.Examples) != 2 {
			t.Errorf("insurer examples = %v, want 2 distinct", c.Examples)
		}
	}
}

func TestWithDerivedCopies(t *testing.T) {
	ds := mustParse(t, sampleCSV)
	out, err := ds.WithDerived([]string{"Prior Authorization", "", "Other"}, []string{"Obstructive", "", "Cooperative"}, EnrichmentReport{Batches: 1})
	if err != nil {
		t.Fatalf("WithDerived: %v", err)
	}
	if ds.At(0).DenialCategory != "" {
		t.Error("input dataset was mutated")
	}
	if !out.Enriched() {
		t.Error("output not enriched")
	}
	if r := out.At(1); r.DenialCategory != DefaultDenialCategory || r.Tone != DefaultTone {
		t.Errorf("blank derived values not defaulted: %+v", r)
	}
	if out.Hash() == ds.Hash() {
		t.Error("hash unchanged after enrichment")
	}
	if _, err := ds.WithDerived([]string{"x"}, []string{"y"}, EnrichmentReport{}); err == nil {
		t.Error("expected length mismatch error")
	}
}

type countingEnricher struct {
	calls atomic.Int32
}

func (c *countingEnricher) Enrich(_ context.Context, ds *Dataset) (*Dataset, error) {
	c.calls.Add(1)
	n := ds.Len()
	cats := make([]string, n)
	tones := make([]string, n)
	return ds.WithDerived(cats, tones, EnrichmentReport{Batches: 1})
}

func TestStoreEnsureEnrichedOnce(t *testing.T) {
	store := NewStore(mustParse(t, sampleCSV))
	e := &countingEnricher{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.EnsureEnriched(context.Background(), e); err != nil {
				t.Errorf("EnsureEnriched: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := store.EnsureEnriched(context.Background(), e); err != nil {
		t.Fatalf("EnsureEnriched: %v", err)
	}
	if got := e.calls.Load(); got != 1 {
		t.Errorf("enricher called %d times, want 1", got)
	}
	if !store.Current().Enriched() {
		t.Error("store did not publish enriched dataset")
	}
}
