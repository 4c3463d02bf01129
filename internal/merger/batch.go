package merger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/mr-automerge/internal/domain"
	"github.com/hochfrequenz/mr-automerge/internal/logx"
)

// Processor drives one merge request to a terminal outcome.
type Processor interface {
	Process(ctx context.Context, mr domain.MergeRequest) domain.Outcome
}

// OutcomeHook is called after each merge request reaches a terminal outcome.
type OutcomeHook func(report *Report, outcome domain.Outcome)

// Report aggregates the outcomes of one batch, in input order.
type Report struct {
	RunID      string
	Repository string
	StartedAt  time.Time
	FinishedAt time.Time
	Merged     []domain.Outcome
	NotMerged  []domain.Outcome
}

// Total returns the number of processed merge requests.
func (r *Report) Total() int {
	return len(r.Merged) + len(r.NotMerged)
}

// AllMerged returns true if nothing was left unmerged.
func (r *Report) AllMerged() bool {
	return len(r.NotMerged) == 0
}

// Print writes the merged and not-merged lists followed by a count line.
func (r *Report) Print(console *logx.Console) {
	if len(r.Merged) > 0 {
		console.Success("%d merge request(s) have been merged:", len(r.Merged))
		for _, o := range r.Merged {
			console.Success("- %s", o.MergeRequest)
		}
	}
	if len(r.NotMerged) > 0 {
		console.Failure("%d merge request(s) could not be merged:", len(r.NotMerged))
		for _, o := range r.NotMerged {
			console.Failure("- %s (%s)", o.MergeRequest, o.Reason)
		}
	}
	console.Neutral("Summary: %d merged, %d not merged.", len(r.Merged), len(r.NotMerged))
}

// Runner processes merge requests one after the other.
type Runner struct {
	processor  Processor
	repository string
	logger     *logx.Logger
	hooks      []OutcomeHook
	now        func() time.Time
}

// NewRunner creates a Runner for the given repository.
func NewRunner(processor Processor, repository string, logger *logx.Logger) *Runner {
	if logger == nil {
		logger = logx.NewLogger("batch")
	}
	return &Runner{
		processor:  processor,
		repository: repository,
		logger:     logger,
		now:        time.Now,
	}
}

// OnOutcome registers a hook run after each merge request.
func (r *Runner) OnOutcome(hook OutcomeHook) {
	r.hooks = append(r.hooks, hook)
}

// Run processes mrs sequentially. A failure on one merge request never stops
// the batch; only cancellation does, in which case the remaining merge
// requests are reported as not merged.
func (r *Runner) Run(ctx context.Context, mrs []domain.MergeRequest) *Report {
	report := &Report{
		RunID:      uuid.NewString(),
		Repository: r.repository,
		StartedAt:  r.now(),
	}
	r.logger.Info("run %s: processing %d merge request(s) of %s", report.RunID, len(mrs), r.repository)

	for _, mr := range mrs {
		var outcome domain.Outcome
		if err := ctx.Err(); err != nil {
			outcome = domain.Outcome{
				MergeRequest: mr,
				Terminal:     domain.TerminalAborted,
				Reason:       "not processed: " + err.Error(),
			}
		} else {
			outcome = r.processor.Process(ctx, mr)
		}

		if outcome.Merged() {
			report.Merged = append(report.Merged, outcome)
		} else {
			report.NotMerged = append(report.NotMerged, outcome)
		}
		for _, hook := range r.hooks {
			hook(report, outcome)
		}
	}

	report.FinishedAt = r.now()
	r.logger.Info("run %s: %d merged, %d not merged", report.RunID, len(report.Merged), len(report.NotMerged))
	return report
}
