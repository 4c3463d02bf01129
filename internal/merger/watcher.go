package merger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/mr-automerge/internal/domain"
	"github.com/hochfrequenz/mr-automerge/internal/logx"
)

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultPipelineTimeout = 15 * time.Minute
)

// ErrPipelineTimeout is returned by Watcher.Wait when the pipeline did not
// finish within the budget. It is an expected outcome, not a remote failure.
var ErrPipelineTimeout = errors.New("timed out waiting for pipeline")

// Watcher polls a pipeline until it reaches a terminal status.
type Watcher struct {
	source       PipelineSource
	clock        Clock
	logger       *logx.Logger
	pollInterval time.Duration
	maxDuration  time.Duration
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval sets the delay between two status fetches.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.pollInterval = d }
}

// WithMaxDuration sets the wall-clock budget of one Wait call.
func WithMaxDuration(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.maxDuration = d }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) WatcherOption {
	return func(w *Watcher) { w.clock = c }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *logx.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a Watcher with the default cadence and budget.
func NewWatcher(source PipelineSource, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:       source,
		clock:        RealClock(),
		logger:       logx.NewLogger("watcher"),
		pollInterval: DefaultPollInterval,
		maxDuration:  DefaultPipelineTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait fetches the pipeline every poll interval and returns the first
// snapshot with a terminal status. When the budget runs out first it
// returns ErrPipelineTimeout as soon as it has elapsed; a poll never starts
// after that.
func (w *Watcher) Wait(ctx context.Context, pipelineID int) (*domain.Pipeline, error) {
	start := w.clock.Now()
	polls := 0

	for w.clock.Now().Sub(start) < w.maxDuration {
		pipeline, err := w.source.GetPipeline(ctx, pipelineID)
		if err != nil {
			return nil, fmt.Errorf("polling pipeline %d: %w", pipelineID, err)
		}
		polls++

		if pipeline.Status.IsTerminal() {
			w.logger.Debug("pipeline %d is %s after %d poll(s)", pipelineID, pipeline.Status, polls)
			return pipeline, nil
		}
		w.logger.Debug("pipeline %d is %s, next poll in %s", pipelineID, pipeline.Status, w.pollInterval)

		wait := w.pollInterval
		if remaining := w.maxDuration - w.clock.Now().Sub(start); remaining < wait {
			wait = remaining
		}
		if err := w.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w %d after %s", ErrPipelineTimeout, pipelineID, w.maxDuration)
}
