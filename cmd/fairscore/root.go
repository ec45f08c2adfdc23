package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/liamcoop/fairscore/internal/config"
	"github.com/liamcoop/fairscore/internal/harness"
	"github.com/liamcoop/fairscore/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:   "fairscore",
		Short: "Counterfactual fairness evaluation for credit-risk models",
		Long: "fairscore scores each applicant with every configured model, then re-scores\n" +
			"counterfactual copies with one protected attribute changed, and reports\n" +
			"accuracy and the fraction of decisions that flipped.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts := logger.FromEnv("fairscore")
			opts.Output = cmd.ErrOrStderr()
			opts.Format = logger.FormatText
			if flags.logJSON {
				opts.Format = logger.FormatJSON
			}
			if flags.logLevel != "" {
				opts.Level = flags.logLevel
			}
			_, err := logger.Setup(cmd.Context(), opts)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return logger.Shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to YAML config (defaults apply when empty)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (overrides LOG_LEVEL)")
	pf.BoolVar(&flags.logJSON, "log-json", false, "Write logs as JSON")

	root.AddCommand(newRunCmd(&flags))
	root.AddCommand(newScoreCmd(&flags))
	return root
}

// openHarness loads configuration and builds the harness.
func openHarness(ctx context.Context, flags *rootFlags, mutate func(*config.Config)) (*harness.Harness, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return harness.New(ctx, cfg, slog.Default())
}
