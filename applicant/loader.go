package applicant

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/liamcoop/fairscore/verdict"
)

// ErrNoApplicants is returned when an input holds a header but no rows.
var ErrNoApplicants = errors.New("no applicant rows found")

// LoadOptions controls how a CSV table is mapped onto records.
type LoadOptions struct {
	Schema      Schema
	IDColumn    string
	LabelColumn string
	// Limit caps the number of rows read; 0 reads everything.
	Limit int
}

// LoadFile reads applicants from a CSV file.
func LoadFile(path string, opts LoadOptions) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open applicants file: %w", err)
	}
	defer f.Close()

	return Load(f, opts)
}

// Load reads applicants from CSV. Every schema attribute must be present as a
// column; a missing column is a hard failure.
func Load(r io.Reader, opts LoadOptions) ([]Record, error) {
	if err := ValidateSchema(opts.Schema); err != nil {
		return nil, err
	}
	if opts.IDColumn == "" || opts.LabelColumn == "" {
		return nil, fmt.Errorf("id and label columns are required")
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(col)] = i
	}

	required := append([]string{opts.IDColumn, opts.LabelColumn}, opts.Schema.Names()...)
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	var records []Record
	for line := 2; opts.Limit <= 0 || len(records) < opts.Limit; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		label, err := parseLabel(row[index[opts.LabelColumn]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		attrs := make(map[string]any, len(opts.Schema))
		for name, typeName := range opts.Schema {
			value, err := parseValue(row[index[name]], typeName)
			if err != nil {
				return nil, fmt.Errorf("line %d: attribute %q: %w", line, name, err)
			}
			attrs[name] = value
		}

		records = append(records, New(strings.TrimSpace(row[index[opts.IDColumn]]), attrs, label))
	}

	if len(records) == 0 {
		return nil, ErrNoApplicants
	}

	return records, nil
}

func parseValue(raw, typeName string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch typeName {
	case TypeFloat:
		return strconv.ParseFloat(raw, 64)
	case TypeInt:
		return strconv.ParseInt(raw, 10, 64)
	case TypeBool:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}

// parseLabel accepts 1/0, true/false, bad/good and yes/no, with 1 meaning delinquent.
func parseLabel(raw string) (verdict.Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "bad", "yes":
		return verdict.Bad, nil
	case "0", "false", "good", "no":
		return verdict.Good, nil
	default:
		return verdict.Unknown, fmt.Errorf("unrecognised label %q", raw)
	}
}
