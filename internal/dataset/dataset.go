// Package dataset holds the in-memory table of insurer communication
// records. A Dataset never changes after construction; enrichment produces a
// new Dataset via WithDerived.
package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Column names, in canonical order.
const (
	ColInsurer        = "insurer_name"
	ColStatus         = "claim_status"
	ColUrgency        = "urgency"
	ColDays           = "days_since_submission"
	ColText           = "communication_text"
	ColDenialCategory = "denial_category"
	ColTone           = "tone"
)

// Derived field defaults applied when classification is unavailable.
const (
	DefaultDenialCategory = "Other"
	DefaultTone           = "Cooperative"
)

// Tones a record may carry once enriched.
const (
	ToneCooperative = "Cooperative"
	ToneObstructive = "Obstructive"
)

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrEmptyPath     = errors.New("dataset path is empty")
)

// RequiredColumns lists the columns every source file must provide.
var RequiredColumns = []string{ColInsurer, ColStatus, ColUrgency, ColDays, ColText}

// DerivedColumns lists the columns added by enrichment.
var DerivedColumns = []string{ColDenialCategory, ColTone}

// Record is one communication event. The expr tags are the names generated
// analytical code uses to reach each field.
type Record struct {
	InsurerName         string `json:"insurer_name" expr:"insurer_name"`
	ClaimStatus         string `json:"claim_status" expr:"claim_status"`
	Urgency             int    `json:"urgency" expr:"urgency"`
	DaysSinceSubmission int    `json:"days_since_submission" expr:"days_since_submission"`
	CommunicationText   string `json:"communication_text" expr:"communication_text"`
	DenialCategory      string `json:"denial_category,omitempty" expr:"denial_category"`
	Tone                string `json:"tone,omitempty" expr:"tone"`
}

// Field returns the named column value.
func (r Record) Field(name string) (any, bool) {
	switch name {
	case ColInsurer:
		return r.InsurerName, true
	case ColStatus:
		return r.ClaimStatus, true
	case ColUrgency:
		return r.Urgency, true
	case ColDays:
		return r.DaysSinceSubmission, true
	case ColText:
		return r.CommunicationText, true
	case ColDenialCategory:
		return r.DenialCategory, true
	case ColTone:
		return r.Tone, true
	}
	return nil, false
}

func (r Record) hasDerived() bool {
	return r.DenialCategory != "" && r.Tone != ""
}

// Dataset is an ordered, read-only collection of records.
type Dataset struct {
	records    []Record
	enriched   bool
	enrichment EnrichmentReport
	hash       string
}

// EnrichmentReport summarises the derived-field pass that produced a
// Dataset. A zero report means no pass ran.
type EnrichmentReport struct {
	Batches         int      `json:"batches"`
	DegradedBatches int      `json:"degraded_batches"`
	Unclassified    int      `json:"unclassified_records"`
	Errors          []string `json:"errors,omitempty"`
}

// Degraded reports whether any record fell back to default values.
func (r EnrichmentReport) Degraded() bool {
	return r.Unclassified > 0
}

// New builds a Dataset from records. The slice is copied. The dataset is
// considered enriched only when every record carries both derived fields.
func New(records []Record) *Dataset {
	cp := make([]Record, len(records))
	copy(cp, records)

	enriched := len(cp) > 0
	for _, r := range cp {
		if !r.hasDerived() {
			enriched = false
			break
		}
	}
	return &Dataset{records: cp, enriched: enriched, hash: hashRecords(cp)}
}

// Len returns the number of records.
func (d *Dataset) Len() int { return len(d.records) }

// Records returns a copy of the records.
func (d *Dataset) Records() []Record {
	cp := make([]Record, len(d.records))
	copy(cp, d.records)
	return cp
}

// At returns the i-th record.
func (d *Dataset) At(i int) Record { return d.records[i] }

// Enriched reports whether derived columns are present.
func (d *Dataset) Enriched() bool { return d.enriched }

// Enrichment returns the report of the pass that produced this dataset.
func (d *Dataset) Enrichment() EnrichmentReport { return d.enrichment }

// Hash returns a content hash over every field of every record.
func (d *Dataset) Hash() string { return d.hash }

// Columns returns the column names visible to analytical code.
func (d *Dataset) Columns() []string {
	cols := append([]string(nil), RequiredColumns...)
	if d.enriched {
		cols = append(cols, DerivedColumns...)
	}
	return cols
}

// WithDerived returns a new Dataset with the derived fields set. Blank
// values are replaced by the defaults, so the result is always enriched.
func (d *Dataset) WithDerived(categories, tones []string, report EnrichmentReport) (*Dataset, error) {
	if len(categories) != len(d.records) || len(tones) != len(d.records) {
		return nil, fmt.Errorf("derived columns have %d/%d values for %d records", len(categories), len(tones), len(d.records))
	}
	cp := d.Records()
	for i := range cp {
		cp[i].DenialCategory = categories[i]
		if cp[i].DenialCategory == "" {
			cp[i].DenialCategory = DefaultDenialCategory
		}
		cp[i].Tone = tones[i]
		if cp[i].Tone == "" {
			cp[i].Tone = DefaultTone
		}
	}
	return &Dataset{records: cp, enriched: true, enrichment: report, hash: hashRecords(cp)}, nil
}

func hashRecords(records []Record) string {
	h := sha256.New()
	for _, r := range records {
		for _, f := range []string{
			r.InsurerName, r.ClaimStatus, strconv.Itoa(r.Urgency), strconv.Itoa(r.DaysSinceSubmission),
			r.CommunicationText, r.DenialCategory, r.Tone,
		} {
			h.Write([]byte(f))
			h.Write([]byte{0x1f})
		}
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ColumnInfo describes one column for prompt construction.
type ColumnInfo struct {
	Name     string
	Type     string
	Examples []string
}

// Schema describes every visible column with its inferred type and up to
// three distinct example values in first-seen order.
func (d *Dataset) Schema() []ColumnInfo {
	var out []ColumnInfo
	for _, col := range d.Columns() {
		info := ColumnInfo{Name: col, Type: "string"}
		if col == ColUrgency || col == ColDays {
			info.Type = "integer"
		}
		seen := make(map[string]bool)
		for _, r := range d.records {
			v, _ := r.Field(col)
			s := fmt.Sprint(v)
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			if len(s) > 60 {
				s = s[:57] + "..."
			}
			info.Examples = append(info.Examples, s)
			if len(info.Examples) == 3 {
				break
			}
		}
		out = append(out, info)
	}
	return out
}

// Summary holds aggregate statistics over a dataset.
type Summary struct {
	TotalRecords int              `json:"total_records"`
	Insurers     []string         `json:"insurers"`
	StatusCounts map[string]int   `json:"status_counts"`
	AvgUrgency   float64          `json:"avg_urgency"`
	AvgDays      float64          `json:"avg_days"`
	Enrichment   *EnrichmentState `json:"enrichment,omitempty"`
}

// EnrichmentState is the enrichment view exposed alongside a Summary.
type EnrichmentState struct {
	Enriched bool `json:"enriched"`
	EnrichmentReport
}

// Summary computes aggregate statistics. Averages are rounded to two
// decimals; an empty dataset reports zeros.
func (d *Dataset) Summary() Summary {
	s := Summary{
		TotalRecords: len(d.records),
		Insurers:     []string{},
		StatusCounts: make(map[string]int),
	}
	insurers := make(map[string]bool)
	var urgency, days int
	for _, r := range d.records {
		if !insurers[r.InsurerName] {
			insurers[r.InsurerName] = true
			s.Insurers = append(s.Insurers, r.InsurerName)
		}
		s.StatusCounts[r.ClaimStatus]++
		urgency += r.Urgency
		days += r.DaysSinceSubmission
	}
	sort.Strings(s.Insurers)
	if n := len(d.records); n > 0 {
		s.AvgUrgency = round2(float64(urgency) / float64(n))
		s.AvgDays = round2(float64(days) / float64(n))
	}
	if d.enriched {
		s.Enrichment = &EnrichmentState{Enriched: true, EnrichmentReport: d.enrichment}
	}
	return s
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
