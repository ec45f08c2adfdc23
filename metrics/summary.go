// Package metrics reduces evaluation rows into per-model accuracy and
// counterfactual disparity rates.
package metrics

import (
	"maps"

	"github.com/liamcoop/fairscore/counterfactual"
	"github.com/liamcoop/fairscore/evaluation"
	"github.com/liamcoop/fairscore/verdict"
)

// ModelSummary is one line of the summary table.
type ModelSummary struct {
	Model    string  `json:"model"`
	Accuracy float64 `json:"accuracy"`
	// Disparity is the fraction of rows whose verdict changed under each
	// attribute's counterfactual.
	Disparity map[counterfactual.Attribute]float64 `json:"disparity"`
	// Unknown counts Unknown verdicts on original and counterfactual records.
	Unknown int `json:"unknown"`
}

// Summary is the metrics of one run, models in evaluation order.
type Summary struct {
	Rows       int                        `json:"rows"`
	Attributes []counterfactual.Attribute `json:"attributes"`
	Models     []ModelSummary             `json:"models"`
}

// Summarize computes accuracy and disparity for each backend over rows.
// Ratios use every row as the denominator; a row without a result for a
// backend counts as a mismatch and no change. Zero rows yield zero ratios.
func Summarize(rows []evaluation.Row, backends []string, attrs []counterfactual.Attribute) Summary {
	summary := Summary{
		Rows:       len(rows),
		Attributes: append([]counterfactual.Attribute(nil), attrs...),
		Models:     make([]ModelSummary, 0, len(backends)),
	}

	for _, name := range backends {
		var matches int
		changed := make(map[counterfactual.Attribute]int, len(attrs))
		ms := ModelSummary{Model: name, Disparity: make(map[counterfactual.Attribute]float64, len(attrs))}

		for _, row := range rows {
			res, ok := row.Result(name)
			if !ok {
				continue
			}
			if res.Original.Known() && res.Original == row.GroundTruth {
				matches++
			}
			if res.Original == verdict.Unknown {
				ms.Unknown++
			}
			for _, cf := range res.Counterfactuals {
				if cf.Verdict == verdict.Unknown {
					ms.Unknown++
				}
				if cf.Changed {
					changed[cf.Attribute]++
				}
			}
		}

		ms.Accuracy = ratio(matches, len(rows))
		for _, attr := range attrs {
			ms.Disparity[attr] = ratio(changed[attr], len(rows))
		}
		summary.Models = append(summary.Models, ms)
	}

	return summary
}

// FromReport summarizes a finished run.
func FromReport(report *evaluation.Report) Summary {
	return Summarize(report.Rows, report.Backends, report.Attributes)
}

// Clone returns a deep copy of s.
func (s Summary) Clone() Summary {
	c := s
	c.Attributes = append([]counterfactual.Attribute(nil), s.Attributes...)
	c.Models = append([]ModelSummary(nil), s.Models...)
	for i := range c.Models {
		c.Models[i].Disparity = maps.Clone(c.Models[i].Disparity)
	}
	return c
}

// Model returns the summary for name.
func (s Summary) Model(name string) (ModelSummary, bool) {
	for _, m := range s.Models {
		if m.Model == name {
			return m, true
		}
	}
	return ModelSummary{}, false
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
