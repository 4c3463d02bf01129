package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/mr-automerge/internal/config"
	"github.com/hochfrequenz/mr-automerge/internal/merger"
	"github.com/hochfrequenz/mr-automerge/internal/report"
)

var (
	runSelection   selection
	reportPath     string
	failOnUnmerged bool
)

func init() {
	rootCmd.Flags().StringVar(&runSelection.repository, "repository", "", "project path, e.g. group/project")
	rootCmd.Flags().StringVar(&runSelection.author, "author", "", "process the approved merge requests of this user")
	rootCmd.Flags().IntSliceVar(&runSelection.iids, "mr", nil, "process this merge request (repeatable)")
	rootCmd.Flags().StringVar(&reportPath, "report", "", "write a YAML report to this file")
	rootCmd.Flags().BoolVar(&failOnUnmerged, "fail-on-unmerged", false, "exit with status 2 if any merge request was not merged")
	rootCmd.MarkFlagsMutuallyExclusive("author", "mr")
	rootCmd.RunE = runMerge
}

func runMerge(cmd *cobra.Command, args []string) error {
	if err := runSelection.validate(); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	creds, err := config.LoadEnv()
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, creds)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.runOnce(ctx, runSelection, reportPath, failOnUnmerged)
}

func (a *app) runOnce(ctx context.Context, sel selection, reportPath string, failOnUnmerged bool) error {
	r, err := a.runBatch(ctx, a.cfg, sel)
	if err != nil {
		return err
	}
	a.finish(r)

	if reportPath != "" {
		if err := report.WriteFile(reportPath, r); err != nil {
			return err
		}
	}
	return exitCode(r, failOnUnmerged)
}

func exitCode(r *merger.Report, failOnUnmerged bool) error {
	if failOnUnmerged && !r.AllMerged() {
		return &exitError{code: 2}
	}
	return nil
}
