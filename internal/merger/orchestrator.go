package merger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/mr-automerge/internal/domain"
	"github.com/hochfrequenz/mr-automerge/internal/gitlab"
	"github.com/hochfrequenz/mr-automerge/internal/logx"
)

const (
	DefaultRebaseDelay = 10 * time.Second
	DefaultMaxRetries  = 3
	DefaultMaxCycles   = 20
)

// Options bounds one orchestration run.
type Options struct {
	// RebaseDelay is the fixed pause after a rebase command, giving GitLab
	// time to rebase and start a new pipeline.
	RebaseDelay time.Duration
	// RecheckDelay is the pause before starting another cycle when the
	// pipeline succeeded but GitLab has not merged yet.
	RecheckDelay time.Duration
	// MaxRetries is the number of pipeline restarts allowed between two rebases.
	MaxRetries int
	// MaxCycles bounds how often the whole cycle may start over.
	MaxCycles int
	// AbortOnRejection gives up when the merge command is refused for any
	// reason other than GitLab still checking mergeability.
	AbortOnRejection bool
}

// DefaultOptions returns the default bounds.
func DefaultOptions() Options {
	return Options{
		RebaseDelay:  DefaultRebaseDelay,
		RecheckDelay: DefaultPollInterval,
		MaxRetries:   DefaultMaxRetries,
		MaxCycles:    DefaultMaxCycles,
	}
}

// Observer is notified of the orchestrator's side effects.
type Observer interface {
	Rebased(mr domain.MergeRequest)
	PipelineRetried(mr domain.MergeRequest, pipelineID int)
	PipelineFinished(mr domain.MergeRequest, pipeline *domain.Pipeline, waited time.Duration)
}

type noopObserver struct{}

func (noopObserver) Rebased(domain.MergeRequest)                                           {}
func (noopObserver) PipelineRetried(domain.MergeRequest, int)                              {}
func (noopObserver) PipelineFinished(domain.MergeRequest, *domain.Pipeline, time.Duration) {}

type state int

const (
	stateStart state = iota
	stateCheckMerged
	stateRebaseCheck
	stateMergeRequest
	stateAwaitPipeline
	stateEvaluatePipeline
	stateMerged
	stateAborted
	stateTimedOut
)

var stateNames = map[state]string{
	stateStart:            "start",
	stateCheckMerged:      "check_merged",
	stateRebaseCheck:      "rebase_check",
	stateMergeRequest:     "merge_request",
	stateAwaitPipeline:    "await_pipeline",
	stateEvaluatePipeline: "evaluate_pipeline",
	stateMerged:           "merged",
	stateAborted:          "aborted",
	stateTimedOut:         "timed_out",
}

func (s state) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s state) terminal() bool {
	return s == stateMerged || s == stateAborted || s == stateTimedOut
}

// run is the state of one Process call. It never outlives the call.
type run struct {
	mr       domain.MergeRequest
	pipeline *domain.Pipeline
	retries  int
	rebases  int
	cycles   int
	reason   string
}

func (r *run) abort(format string, args ...any) state {
	r.reason = fmt.Sprintf(format, args...)
	return stateAborted
}

// Orchestrator drives a single merge request at a time.
type Orchestrator struct {
	repo     Repository
	watcher  *Watcher
	clock    Clock
	console  *logx.Console
	logger   *logx.Logger
	observer Observer
	opts     Options
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorClock replaces the wall clock used for delays and timestamps.
func WithOrchestratorClock(c Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

// WithConsole sets where progress lines go.
func WithConsole(c *logx.Console) OrchestratorOption {
	return func(o *Orchestrator) { o.console = c }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *logx.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithObserver registers an observer of side effects.
func WithObserver(obs Observer) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = obs }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(repo Repository, watcher *Watcher, opts Options, options ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		repo:     repo,
		watcher:  watcher,
		clock:    RealClock(),
		console:  logx.NewConsole(),
		logger:   logx.NewLogger("merger"),
		observer: noopObserver{},
		opts:     opts,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Process drives mr until GitLab reports it merged, it is given up on, or
// its pipeline does not finish in time. It blocks for the whole run.
// Calling it on a merged merge request issues no command.
func (o *Orchestrator) Process(ctx context.Context, mr domain.MergeRequest) domain.Outcome {
	o.console.Heading("Processing MR #%d (%s)...", mr.IID, mr.Title)

	r := &run{mr: mr}
	started := o.clock.Now()

	st := stateStart
	for !st.terminal() {
		if ctx.Err() != nil {
			st = r.abort("interrupted: %v", ctx.Err())
			break
		}
		next := o.step(ctx, st, r)
		o.logger.Debug("MR #%d: %s -> %s", r.mr.IID, st, next)
		st = next
	}

	outcome := domain.Outcome{
		MergeRequest: r.mr,
		Reason:       r.reason,
		Retries:      r.retries,
		Rebases:      r.rebases,
		StartedAt:    started,
		FinishedAt:   o.clock.Now(),
	}
	switch st {
	case stateMerged:
		outcome.Terminal = domain.TerminalMerged
		o.console.Success("└ merged")
	case stateTimedOut:
		outcome.Terminal = domain.TerminalTimedOut
		o.console.Failure("└ %s", r.reason)
	default:
		outcome.Terminal = domain.TerminalAborted
		o.console.Failure("└ aborted merge, %s", r.reason)
	}
	return outcome
}

func (o *Orchestrator) step(ctx context.Context, st state, r *run) state {
	switch st {
	case stateStart:
		return o.start(ctx, r)
	case stateCheckMerged:
		return o.checkMerged(r)
	case stateRebaseCheck:
		return o.rebaseCheck(ctx, r)
	case stateMergeRequest:
		return o.mergeRequest(ctx, r)
	case stateAwaitPipeline:
		return o.awaitPipeline(ctx, r)
	case stateEvaluatePipeline:
		return o.evaluatePipeline(ctx, r)
	default:
		return r.abort("unexpected state %s", st)
	}
}

// refresh replaces the cached snapshot with a fresh one.
func (o *Orchestrator) refresh(ctx context.Context, r *run) error {
	snapshot, err := o.repo.GetMergeRequest(ctx, r.mr.IID)
	if err != nil {
		return err
	}
	r.mr = *snapshot
	return nil
}

func (o *Orchestrator) start(ctx context.Context, r *run) state {
	r.cycles++
	if r.cycles > o.opts.MaxCycles {
		return r.abort("merge did not complete after %d cycles", o.opts.MaxCycles)
	}
	if err := o.refresh(ctx, r); err != nil {
		return r.abort("could not fetch merge request: %v", err)
	}
	return stateCheckMerged
}

func (o *Orchestrator) checkMerged(r *run) state {
	if r.mr.IsMerged() {
		return stateMerged
	}
	if r.mr.IsClosed() {
		return r.abort("merge request is %s", r.mr.State)
	}
	return stateRebaseCheck
}

func (o *Orchestrator) rebaseCheck(ctx context.Context, r *run) state {
	if r.mr.DetailedMergeStatus != domain.MergeStatusNeedRebase {
		return stateMergeRequest
	}

	o.console.Neutral("└ rebasing...")
	if err := o.repo.Rebase(ctx, r.mr.IID); err != nil {
		return r.abort("could not rebase: %v", err)
	}
	if err := o.clock.Sleep(ctx, o.opts.RebaseDelay); err != nil {
		return r.abort("interrupted: %v", err)
	}
	// The rebase spawned a new pipeline; fetch it.
	if err := o.refresh(ctx, r); err != nil {
		return r.abort("could not fetch merge request after rebase: %v", err)
	}
	r.retries = 0
	r.rebases++
	o.observer.Rebased(r.mr)
	return stateMergeRequest
}

func (o *Orchestrator) mergeRequest(ctx context.Context, r *run) state {
	err := o.repo.MergeWhenPipelineSucceeds(ctx, r.mr.IID)
	if err == nil {
		return stateAwaitPipeline
	}

	if !errors.Is(err, gitlab.ErrNotMergeable) {
		// Auto-merge may already be set; the pipeline decides either way.
		o.logger.Warn("MR #%d: merge command failed: %v", r.mr.IID, err)
		return stateAwaitPipeline
	}

	if ferr := o.refresh(ctx, r); ferr != nil {
		return r.abort("could not fetch merge request: %v", ferr)
	}
	status := r.mr.DetailedMergeStatus
	if status == domain.MergeStatusChecking {
		o.logger.Debug("MR #%d: GitLab is still checking mergeability", r.mr.IID)
		return stateAwaitPipeline
	}
	if o.opts.AbortOnRejection {
		return r.abort("cannot be merged, because %s", status)
	}
	o.console.Neutral("└ cannot be merged yet, because %s", status)
	return stateAwaitPipeline
}

func (o *Orchestrator) awaitPipeline(ctx context.Context, r *run) state {
	if err := o.refresh(ctx, r); err != nil {
		return r.abort("could not fetch merge request: %v", err)
	}
	if r.mr.IsMerged() {
		return stateMerged
	}
	if r.mr.IsClosed() {
		return r.abort("merge request is %s", r.mr.State)
	}

	pipelineID, ok := r.mr.HeadPipelineID()
	if !ok {
		return r.abort("no pipeline to wait for")
	}

	o.console.Neutral("└ polling status of pipeline %d...", pipelineID)
	waitStart := o.clock.Now()
	pipeline, err := o.watcher.Wait(ctx, pipelineID)
	switch {
	case errors.Is(err, ErrPipelineTimeout):
		r.reason = fmt.Sprintf("timed out waiting for pipeline %d", pipelineID)
		return stateTimedOut
	case ctx.Err() != nil:
		return r.abort("interrupted: %v", ctx.Err())
	case err != nil:
		return r.abort("could not poll pipeline %d: %v", pipelineID, err)
	}

	o.observer.PipelineFinished(r.mr, pipeline, o.clock.Now().Sub(waitStart))
	r.pipeline = pipeline
	return stateEvaluatePipeline
}

func (o *Orchestrator) evaluatePipeline(ctx context.Context, r *run) state {
	if r.pipeline.Status != domain.PipelineSuccess {
		return o.restartPipeline(ctx, r)
	}

	if err := o.refresh(ctx, r); err != nil {
		return r.abort("could not fetch merge request: %v", err)
	}
	if r.mr.IsMerged() {
		return stateMerged
	}
	if r.mr.IsClosed() {
		return r.abort("merge request is %s", r.mr.State)
	}

	switch r.mr.DetailedMergeStatus {
	case domain.MergeStatusMergeable:
		// GitLab should be merging right now; go around once more.
		o.logger.Debug("MR #%d: mergeable but not merged yet", r.mr.IID)
		if err := o.clock.Sleep(ctx, o.opts.RecheckDelay); err != nil {
			return r.abort("interrupted: %v", err)
		}
		return stateStart
	case domain.MergeStatusNeedRebase:
		// Counted as a new cycle so repeated rebases stay bounded.
		return stateStart
	default:
		return r.abort("cannot be merged, because %s", r.mr.DetailedMergeStatus)
	}
}

func (o *Orchestrator) restartPipeline(ctx context.Context, r *run) state {
	if r.retries >= o.opts.MaxRetries {
		return r.abort("too many job retries (pipeline %d %s)", r.pipeline.ID, r.pipeline.Status)
	}

	o.console.Neutral("└ restarting failed jobs...")
	if err := o.repo.RetryPipeline(ctx, r.pipeline.ID); err != nil {
		return r.abort("could not retry pipeline %d: %v", r.pipeline.ID, err)
	}
	r.retries++
	o.observer.PipelineRetried(r.mr, r.pipeline.ID)
	return stateAwaitPipeline
}
