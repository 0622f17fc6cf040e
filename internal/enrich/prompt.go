package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mdcapital/claimsight/internal/dataset"
)

// Categories is the closed set of denial categories a record may receive.
var Categories = []string{
	"Prior Authorization",
	"Medical Necessity",
	"Coding Error",
	"Missing Documentation",
	"Out of Network",
	"Timely Filing",
	"Coverage Exclusion",
	"Duplicate Claim",
	dataset.DefaultDenialCategory,
}

var errNoArray = errors.New("no JSON array in response")

const instructions = `Classify each insurer communication below.

For every record return:
- denial_category: the main reason for denial or delay, one of: %s. Use "Other" when none fits or the claim was not denied.
- tone: "Cooperative" if the insurer is helpful or neutral, "Obstructive" if it stalls, deflects or adds hurdles.

Respond with ONLY a JSON array, one object per record, using the record number as id:
[{"id":0,"denial_category":"...","tone":"Cooperative"}]`

// BuildPrompt numbers texts from zero within the batch.
func BuildPrompt(texts []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, instructions, strings.Join(Categories, ", "))
	sb.WriteString("\n\n[Records]\n")
	for i, t := range texts {
		fmt.Fprintf(&sb, "%d: %s\n", i, strings.Join(strings.Fields(t), " "))
	}
	return sb.String()
}

type item struct {
	ID             *int   `json:"id"`
	DenialCategory string `json:"denial_category"`
	Tone           string `json:"tone"`
}

// label is a normalised classification.
type label struct {
	category string
	tone     string
}

// parseResponse extracts labels keyed by batch-local id. Ids outside
// [0, n) and items without an id are dropped.
func parseResponse(raw string, n int) (map[int]label, error) {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end < start {
		return nil, errNoArray
	}
	var items []item
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("decoding classification array: %w", err)
	}
	out := make(map[int]label, len(items))
	for _, it := range items {
		if it.ID == nil || *it.ID < 0 || *it.ID >= n {
			continue
		}
		out[*it.ID] = label{
			category: normalizeCategory(it.DenialCategory),
			tone:     normalizeTone(it.Tone),
		}
	}
	return out, nil
}

func normalizeCategory(s string) string {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(s, c) {
			return c
		}
	}
	return dataset.DefaultDenialCategory
}

func normalizeTone(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, dataset.ToneObstructive):
		return dataset.ToneObstructive
	case strings.EqualFold(s, dataset.ToneCooperative):
		return dataset.ToneCooperative
	}
	return dataset.DefaultTone
}
