package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/mr-automerge/internal/config"
	"github.com/hochfrequenz/mr-automerge/internal/history"
)

var (
	historyRepository string
	historyMR         int
	historyLimit      int
	historyRuns       bool
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded merge outcomes",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyRepository, "repository", "", "filter by project path")
	historyCmd.Flags().IntVar(&historyMR, "mr", 0, "filter by merge request number")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries")
	historyCmd.Flags().BoolVar(&historyRuns, "runs", false, "list batches instead of outcomes")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return err
	}

	store, err := history.New(cfg.History.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	if historyRuns {
		runs, err := store.ListRuns(historyLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "RUN\tREPOSITORY\tSTARTED\tMERGED\tNOT MERGED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", r.ID, r.Repository, r.StartedAt.Format("2006-01-02 15:04"), r.Merged, r.NotMerged)
		}
		return nil
	}

	entries, err := store.ListOutcomes(history.ListOptions{
		Repository: historyRepository,
		IID:        historyMR,
		Limit:      historyLimit,
	})
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No recorded outcomes")
		return nil
	}

	fmt.Fprintln(w, "FINISHED\tREPOSITORY\tMR\tRESULT\tREASON")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t!%d\t%s\t%s\n", e.FinishedAt.Format("2006-01-02 15:04"), e.Repository, e.IID, e.Terminal, e.Reason)
	}
	return nil
}
