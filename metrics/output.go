package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Header returns the summary columns: Model, Accuracy, one
// FairnessDisparity_<attribute> per attribute, Unknown.
func (s Summary) Header() []string {
	cols := make([]string, 0, len(s.Attributes)+3)
	cols = append(cols, "Model", "Accuracy")
	for _, attr := range s.Attributes {
		cols = append(cols, "FairnessDisparity_"+string(attr))
	}
	return append(cols, "Unknown")
}

// WriteCSV writes the summary as a flat delimited table.
func (s Summary) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(s.Header()); err != nil {
		return fmt.Errorf("failed to write summary header: %w", err)
	}

	for _, m := range s.Models {
		record := make([]string, 0, len(s.Attributes)+3)
		record = append(record, m.Model, formatRatio(m.Accuracy))
		for _, attr := range s.Attributes {
			record = append(record, formatRatio(m.Disparity[attr]))
		}
		record = append(record, strconv.Itoa(m.Unknown))

		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write summary row for %s: %w", m.Model, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Table renders the summary for a terminal, or as Markdown.
func (s Summary) Table(markdown bool) string {
	style := table.StyleDefault
	if !markdown {
		style = table.StyleLight
	}
	// Column names are data keys; keep their case.
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault

	w := table.NewWriter()
	w.SetStyle(style)

	header := make(table.Row, 0, len(s.Attributes)+3)
	for _, col := range s.Header() {
		header = append(header, col)
	}
	w.AppendHeader(header)

	configs := make([]table.ColumnConfig, 0, len(header))
	for i := 2; i <= len(header); i++ {
		configs = append(configs, table.ColumnConfig{Number: i, Align: text.AlignRight})
	}
	w.SetColumnConfigs(configs)

	for _, m := range s.Models {
		row := make(table.Row, 0, len(header))
		row = append(row, m.Model, percent(m.Accuracy))
		for _, attr := range s.Attributes {
			row = append(row, percent(m.Disparity[attr]))
		}
		row = append(row, m.Unknown)
		w.AppendRow(row)
	}
	w.AppendFooter(table.Row{"Applicants", s.Rows})

	if markdown {
		return w.RenderMarkdown()
	}
	return w.Render()
}

func formatRatio(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func percent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}
