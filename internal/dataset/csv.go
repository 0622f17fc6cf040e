package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadCSV reads a dataset from a CSV file with a header row.
func LoadCSV(path string) (*Dataset, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	ds, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return ds, nil
}

// Parse reads CSV records from r. Header names are matched
// case-insensitively; extra columns are ignored. The optional
// denial_category and tone columns are carried through when present.
func Parse(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file has no header row", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		pos[name] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := pos[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	get := func(row []string, col string) string {
		i, ok := pos[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}

		urgency, err := parseInt(get(row, ColUrgency))
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", line, ColUrgency, err)
		}
		days, err := parseInt(get(row, ColDays))
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", line, ColDays, err)
		}
		if days < 0 {
			return nil, fmt.Errorf("line %d: %s must be non-negative, got %d", line, ColDays, days)
		}

		records = append(records, Record{
			InsurerName:         get(row, ColInsurer),
			ClaimStatus:         get(row, ColStatus),
			Urgency:             urgency,
			DaysSinceSubmission: days,
			CommunicationText:   get(row, ColText),
			DenialCategory:      get(row, ColDenialCategory),
			Tone:                get(row, ColTone),
		})
	}
	return New(records), nil
}

// parseInt accepts plain integers and integral floats such as "7.0".
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return int(f), nil
}
