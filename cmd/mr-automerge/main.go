package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/mr-automerge/internal/logx"
)

var (
	configPath string
	debug      bool
	rootCmd    = &cobra.Command{
		Use:   "mr-automerge",
		Short: "Merge approved GitLab merge requests once their pipelines pass",
		Long: `mr-automerge takes the approved merge requests of a GitLab project, one at a
time, and drives each of them to merged: it rebases when needed, requests
merge when pipeline succeeds, waits for the pipeline and retries failed jobs
a bounded number of times.

GITLAB_API_URL and GITLAB_API_TOKEN must be set.`,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logx.SetDebug(true)
			}
		},
	}
)

// exitError carries a non-default exit code without an error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
