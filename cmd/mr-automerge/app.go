package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hochfrequenz/mr-automerge/internal/config"
	"github.com/hochfrequenz/mr-automerge/internal/domain"
	"github.com/hochfrequenz/mr-automerge/internal/gitlab"
	"github.com/hochfrequenz/mr-automerge/internal/history"
	"github.com/hochfrequenz/mr-automerge/internal/logx"
	"github.com/hochfrequenz/mr-automerge/internal/merger"
	"github.com/hochfrequenz/mr-automerge/internal/metrics"
	"github.com/hochfrequenz/mr-automerge/internal/notify"
)

// selection names the merge requests of one batch
type selection struct {
	repository string
	author     string
	iids       []int
}

func (s selection) validate() error {
	if s.repository == "" {
		return errors.New("--repository is required")
	}
	if (s.author == "") == (len(s.iids) == 0) {
		return errors.New("exactly one of --author or --mr is required")
	}
	for _, iid := range s.iids {
		if iid <= 0 {
			return fmt.Errorf("invalid merge request number %d", iid)
		}
	}
	return nil
}

// app wires the collaborators shared by the run and watch commands
type app struct {
	cfg      *config.Config
	creds    *config.Credentials
	console  *logx.Console
	logger   *logx.Logger
	clock    merger.Clock
	history  *history.Store
	metrics  *metrics.Recorder
	notifier notify.Notifier

	// httpClient is nil outside of tests
	httpClient gitlab.HTTPClient
}

func newApp(cfg *config.Config, creds *config.Credentials) (*app, error) {
	a := &app{
		cfg:     cfg,
		creds:   creds,
		console: logx.NewConsole(),
		logger:  logx.NewLogger("mr-automerge"),
		clock:   merger.RealClock(),
		notifier: notify.NewMultiNotifier(
			notify.NewDesktopNotifier(cfg.Notifications.Desktop),
			notify.NewSlackNotifier(cfg.Notifications.SlackWebhook),
		),
	}
	if cfg.History.Enabled {
		store, err := history.New(cfg.History.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("opening history: %w", err)
		}
		a.history = store
	}
	return a, nil
}

func (a *app) Close() error {
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}

func (a *app) client(repository string) *gitlab.Client {
	return gitlab.NewClient(gitlab.Config{
		BaseURL: a.creds.APIURL,
		Token:   a.creds.Token,
		Project: repository,
	}, a.httpClient)
}

func mergeOptions(m config.MergeConfig) merger.Options {
	return merger.Options{
		RebaseDelay:      m.RebaseDelay.Duration,
		RecheckDelay:     m.RecheckDelay.Duration,
		MaxRetries:       m.MaxRetries,
		MaxCycles:        m.MaxCycles,
		AbortOnRejection: m.AbortOnRejection,
	}
}

// runBatch selects, filters and processes the merge requests of sel. The
// returned report is empty when nothing was left to process.
func (a *app) runBatch(ctx context.Context, cfg *config.Config, sel selection) (*merger.Report, error) {
	client := a.client(sel.repository)
	logger := a.logger.With(sel.repository)

	if _, err := client.GetProject(ctx); err != nil {
		return nil, fmt.Errorf("repository %s: %w", sel.repository, err)
	}

	var candidates []domain.MergeRequest
	var err error
	if sel.author != "" {
		candidates, err = merger.SelectByAuthor(ctx, client, sel.author)
	} else {
		candidates, err = merger.SelectByIID(ctx, client, sel.iids)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("%d candidate merge request(s)", len(candidates))

	approved := slices.Collect(merger.FilterApproved(ctx, client, candidates, a.console))
	if len(approved) == 0 {
		a.console.Neutral("No merge request to process.")
		return &merger.Report{Repository: sel.repository}, nil
	}
	a.console.Neutral("Found %d merge request(s) to process.", len(approved))

	watcher := merger.NewWatcher(client,
		merger.WithPollInterval(cfg.Merge.PollInterval.Duration),
		merger.WithMaxDuration(cfg.Merge.PipelineTimeout.Duration),
		merger.WithClock(a.clock),
		merger.WithWatcherLogger(logger.With("watcher")),
	)
	orchOpts := []merger.OrchestratorOption{
		merger.WithOrchestratorClock(a.clock),
		merger.WithConsole(a.console),
		merger.WithLogger(logger.With("merger")),
	}
	if a.metrics != nil {
		orchOpts = append(orchOpts, merger.WithObserver(a.metrics.Observer(sel.repository)))
	}
	orchestrator := merger.NewOrchestrator(client, watcher, mergeOptions(cfg.Merge), orchOpts...)

	runner := merger.NewRunner(orchestrator, sel.repository, logger.With("batch"))
	if a.history != nil {
		runner.OnOutcome(a.history.Hook(func(err error) {
			logger.Warn("recording history: %v", err)
		}))
	}
	if a.metrics != nil {
		runner.OnOutcome(a.metrics.Hook())
	}

	report := runner.Run(ctx, approved)

	if a.history != nil {
		if err := a.history.FinishRun(report); err != nil {
			logger.Warn("recording history: %v", err)
		}
	}
	if a.metrics != nil {
		a.metrics.ObserveBatch(report)
	}
	return report, nil
}

// finish prints the summary of a non-empty report and sends notifications
func (a *app) finish(report *merger.Report) {
	if report.Total() == 0 {
		return
	}
	report.Print(a.console)
	if err := a.notifier.Send(notify.FromReport(report)); err != nil {
		a.logger.Warn("sending notification: %v", err)
	}
}
