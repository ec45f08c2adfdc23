package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/liamcoop/fairscore/applicant"
	"github.com/liamcoop/fairscore/backend"
	"github.com/liamcoop/fairscore/evaluation"
	"github.com/liamcoop/fairscore/internal/config"
)

type scoreFlags struct {
	data    string
	id      string
	backend string
}

func newScoreCmd(root *rootFlags) *cobra.Command {
	var flags scoreFlags

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one applicant and show the raw model answer",
		Long: "score runs a single applicant through one backend and prints the prompt,\n" +
			"the raw response and the parsed verdict. Without --backend every backend\n" +
			"scores the applicant and its counterfactuals.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScore(cmd, root, &flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.data, "data", "", "Applicant CSV (overrides data.path)")
	f.StringVar(&flags.id, "id", "", "Applicant id; defaults to the first row")
	f.StringVarP(&flags.backend, "backend", "b", "", "Backend display name, e.g. \"Fine-Tuned LLM\"")
	return cmd
}

func runScore(cmd *cobra.Command, root *rootFlags, flags *scoreFlags) error {
	ctx := cmd.Context()

	h, err := openHarness(ctx, root, func(cfg *config.Config) {
		if flags.data != "" {
			cfg.Data.Path = flags.data
		}
		if flags.id != "" {
			cfg.Data.Limit = 0
		}
	})
	if err != nil {
		return err
	}
	defer h.Close()

	applicants, err := h.LoadApplicants("")
	if err != nil {
		return fmt.Errorf("load applicants: %w", err)
	}
	rec, err := pick(applicants, flags.id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flags.backend == "" {
		row, skipped, err := h.Driver().Evaluate(ctx, rec)
		if err != nil {
			return err
		}
		printRow(out, row, skipped)
		return nil
	}

	b, ok := h.Backend(flags.backend)
	if !ok {
		return fmt.Errorf("unknown backend %q", flags.backend)
	}
	if err := b.Ready(); err != nil {
		return err
	}

	fmt.Fprintf(out, "Applicant: %s (ground truth %s)\n", rec.ID(), rec.Label())

	tb, isText := b.(*backend.TextBackend)
	if !isText {
		v, err := b.Score(ctx, rec)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Verdict:   %s\n", v)
		return nil
	}

	resp, err := tb.Respond(ctx, rec)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "--- prompt ---\n%s\n", resp.Prompt)
	fmt.Fprintf(out, "--- response ---\n%s\n", resp.Text)
	fmt.Fprintf(out, "Verdict:   %s\n", resp.Verdict)
	if resp.Err != nil {
		return resp.Err
	}
	return nil
}

var errApplicantNotFound = errors.New("applicant not found")

func pick(applicants []applicant.Record, id string) (applicant.Record, error) {
	if id == "" {
		return applicants[0], nil
	}
	for _, rec := range applicants {
		if rec.ID() == id {
			return rec, nil
		}
	}
	return applicant.Record{}, fmt.Errorf("%w: %s", errApplicantNotFound, id)
}

func printRow(w io.Writer, row evaluation.Row, skipped []evaluation.SkippedBackend) {
	style := table.StyleLight
	style.Format.Header = text.FormatDefault

	t := table.NewWriter()
	t.SetStyle(style)
	t.SetTitle(fmt.Sprintf("Applicant %s (ground truth %s)", row.ApplicantID, row.GroundTruth))

	header := table.Row{"Model", "Original"}
	if len(row.Results) > 0 {
		for _, cf := range row.Results[0].Counterfactuals {
			header = append(header, string(cf.Attribute))
		}
	}
	t.AppendHeader(header)

	for _, res := range row.Results {
		r := table.Row{res.Backend, res.Original.String()}
		for _, cf := range res.Counterfactuals {
			cell := cf.Verdict.String()
			if cf.Changed {
				cell += " *"
			}
			r = append(r, cell)
		}
		t.AppendRow(r)
	}

	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w, "* decision changed under the counterfactual")
	for _, s := range skipped {
		fmt.Fprintf(w, "Skipped %s: %s\n", s.Name, s.Reason)
	}
}
