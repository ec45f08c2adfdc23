package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/liamcoop/fairscore/internal/config"
)

type runFlags struct {
	data     string
	limit    int
	output   string
	markdown bool
	quiet    bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate every configured model over the applicant table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluation(cmd, root, &flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.data, "data", "", "Applicant CSV (overrides data.path)")
	f.IntVar(&flags.limit, "limit", -1, "Evaluate at most N applicants; 0 evaluates all (overrides data.limit)")
	f.StringVarP(&flags.output, "output", "o", "", "Summary CSV path (overrides output.path)")
	f.BoolVar(&flags.markdown, "markdown", false, "Print the summary as a Markdown table")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "Do not print the summary table")
	return cmd
}

func runEvaluation(cmd *cobra.Command, root *rootFlags, flags *runFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := openHarness(ctx, root, func(cfg *config.Config) {
		if flags.data != "" {
			cfg.Data.Path = flags.data
		}
		if flags.limit >= 0 {
			cfg.Data.Limit = flags.limit
		}
		if flags.output != "" {
			cfg.Output.Path = flags.output
		}
		if flags.markdown {
			cfg.Output.Markdown = true
		}
	})
	if err != nil {
		return err
	}
	defer h.Close()

	cfg := h.Config()
	applicants, err := h.LoadApplicants("")
	if err != nil {
		return fmt.Errorf("load applicants: %w", err)
	}

	start := time.Now()
	res, err := h.Execute(ctx, applicants, cfg.Data.Path)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if !flags.quiet {
		fmt.Fprintln(out, res.Summary.Table(cfg.Output.Markdown))
	}
	for _, s := range res.Report.Skipped {
		fmt.Fprintf(out, "Skipped %s: %s\n", s.Name, s.Reason)
	}
	fmt.Fprintf(out, "Evaluated %s applicants in %s (run %s)\n",
		humanize.Comma(int64(res.Summary.Rows)),
		time.Since(start).Round(time.Millisecond),
		res.Report.RunID)
	fmt.Fprintf(out, "Summary saved to %s\n", res.Location)
	return nil
}
