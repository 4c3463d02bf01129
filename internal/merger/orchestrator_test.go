package merger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/mr-automerge/internal/domain"
	"github.com/hochfrequenz/mr-automerge/internal/gitlab"
	"github.com/hochfrequenz/mr-automerge/internal/logx"
)

type testRig struct {
	clock    *fakeClock
	repo     *fakeRepo
	console  bytes.Buffer
	observer *recordingObserver
	opts     Options
}

func newTestRig() *testRig {
	clock := newFakeClock()
	return &testRig{
		clock:    clock,
		repo:     newFakeRepo(clock),
		observer: &recordingObserver{},
		opts:     DefaultOptions(),
	}
}

func (r *testRig) orchestrator() *Orchestrator {
	watcher := NewWatcher(r.repo,
		WithClock(r.clock),
		WithPollInterval(30*time.Second),
		WithMaxDuration(15*time.Minute),
		WithWatcherLogger(logx.Discard()),
	)
	return NewOrchestrator(r.repo, watcher, r.opts,
		WithOrchestratorClock(r.clock),
		WithConsole(logx.NewConsoleTo(&r.console)),
		WithLogger(logx.Discard()),
		WithObserver(r.observer),
	)
}

type recordingObserver struct {
	rebases  int
	retries  []int
	finished []domain.PipelineStatus
}

func (o *recordingObserver) Rebased(domain.MergeRequest) { o.rebases++ }

func (o *recordingObserver) PipelineRetried(_ domain.MergeRequest, id int) {
	o.retries = append(o.retries, id)
}

func (o *recordingObserver) PipelineFinished(_ domain.MergeRequest, p *domain.Pipeline, _ time.Duration) {
	o.finished = append(o.finished, p.Status)
}

func openMR(iid int, status domain.DetailedMergeStatus, pipelineID int) domain.MergeRequest {
	mr := domain.MergeRequest{
		IID:                 iid,
		Title:               fmt.Sprintf("Change %d", iid),
		State:               domain.StateOpened,
		DetailedMergeStatus: status,
	}
	if pipelineID != 0 {
		mr.HeadPipeline = &domain.PipelineRef{ID: pipelineID, Status: domain.PipelineRunning}
	}
	return mr
}

// mergeOnSuccess marks the merge request merged once its pipeline succeeds,
// the way GitLab acts on "merge when pipeline succeeds".
func mergeOnSuccess(mr *domain.MergeRequest) func(domain.PipelineStatus) {
	return func(status domain.PipelineStatus) {
		if status == domain.PipelineSuccess {
			mr.State = domain.StateMerged
			mr.DetailedMergeStatus = "not_open"
		}
	}
}

func TestProcess_AlreadyMerged(t *testing.T) {
	rig := newTestRig()
	mr := openMR(1, "not_open", 10)
	mr.State = domain.StateMerged
	rig.repo.addMR(mr)
	o := rig.orchestrator()

	first := o.Process(context.Background(), domain.MergeRequest{IID: 1, Title: "stale listing"})
	second := o.Process(context.Background(), domain.MergeRequest{IID: 1, Title: "stale listing"})

	for _, outcome := range []domain.Outcome{first, second} {
		assert.True(t, outcome.Merged())
		assert.Empty(t, outcome.Reason)
	}
	assert.Empty(t, rig.repo.commands, "merged MR must not receive commands")
	assert.Empty(t, rig.clock.sleeps)
	assert.Contains(t, rig.console.String(), "└ merged")
}

func TestProcess_RebaseThenPipelineSucceeds(t *testing.T) {
	rig := newTestRig()
	mr := rig.repo.addMR(openMR(7, domain.MergeStatusNeedRebase, 100))
	rig.repo.addPipeline(100, domain.PipelineFailed)
	fresh := rig.repo.addPipeline(101, domain.PipelinePending, domain.PipelineRunning, domain.PipelineSuccess)
	fresh.onStatus = mergeOnSuccess(mr)
	rig.repo.onRebase = func(mr *domain.MergeRequest) {
		mr.DetailedMergeStatus = domain.MergeStatusChecking
		mr.HeadPipeline = &domain.PipelineRef{ID: 101, Status: domain.PipelinePending}
	}

	outcome := rig.orchestrator().Process(context.Background(), *mr)

	require.True(t, outcome.Merged(), outcome.Reason)
	assert.Equal(t, []string{"rebase 7", "merge 7"}, rig.repo.commands)
	assert.Equal(t, 1, outcome.Rebases)
	assert.Equal(t, 0, outcome.Retries)
	assert.Equal(t, DefaultRebaseDelay, rig.clock.sleeps[0], "rebase must be followed by the settle delay")
	assert.Equal(t, 0, rig.repo.pipelines[100].polls, "pre-rebase pipeline must not be watched")
	assert.Equal(t, 1, rig.observer.rebases)
	assert.Contains(t, rig.console.String(), "└ rebasing...")
	assert.Contains(t, rig.console.String(), "└ polling status of pipeline 101...")
}

func TestProcess_TooManyRetries(t *testing.T) {
	rig := newTestRig()
	rig.repo.addMR(openMR(4, domain.MergeStatusMergeable, 50))
	failing := rig.repo.addPipeline(50, domain.PipelineFailed)

	outcome := rig.orchestrator().Process(context.Background(), domain.MergeRequest{IID: 4})

	assert.False(t, outcome.Merged())
	assert.Equal(t, domain.TerminalAborted, outcome.Terminal)
	assert.Contains(t, outcome.Reason, "too many job retries")
	assert.Equal(t, DefaultMaxRetries, outcome.Retries)
	assert.Equal(t, DefaultMaxRetries, rig.repo.count("retry "))
	assert.Equal(t, DefaultMaxRetries+1, failing.polls, "one failure per attempt")
	assert.Equal(t, []int{50, 50, 50}, rig.observer.retries)
	assert.Contains(t, rig.console.String(), "└ restarting failed jobs...")
}

func TestProcess_CanceledPipelineIsRetried(t *testing.T) {
	rig := newTestRig()
	mr := rig.repo.addMR(openMR(4, domain.MergeStatusMergeable, 50))
	p := rig.repo.addPipeline(50, domain.PipelineCanceled)
	rig.repo.onRetry = func(p *fakePipeline) {
		p.statuses = []domain.PipelineStatus{domain.PipelineRunning, domain.PipelineSuccess}
		p.polls = 0
		p.onStatus = mergeOnSuccess(mr)
	}

	outcome := rig.orchestrator().Process(context.Background(), *mr)

	require.True(t, outcome.Merged(), outcome.Reason)
	assert.Equal(t, 1, outcome.Retries)
	assert.Equal(t, 2, p.polls)
}

func TestProcess_RetryBudgetResetsOnRebase(t *testing.T) {
	rig := newTestRig()
	rig.opts.MaxRetries = 2
	mr := rig.repo.addMR(openMR(9, domain.MergeStatusMergeable, 1))

	// Pipeline 1 fails twice, then succeeds while the target branch moved on.
	first := rig.repo.addPipeline(1, domain.PipelineFailed, domain.PipelineFailed, domain.PipelineSuccess)
	first.onStatus = func(status domain.PipelineStatus) {
		if status == domain.PipelineSuccess {
			mr.DetailedMergeStatus = domain.MergeStatusNeedRebase
		}
	}
	// Pipeline 2 (after rebase) keeps failing.
	rig.repo.addPipeline(2, domain.PipelineFailed)
	rig.repo.onRebase = func(mr *domain.MergeRequest) {
		mr.DetailedMergeStatus = domain.MergeStatusMergeable
		mr.HeadPipeline = &domain.PipelineRef{ID: 2}
	}

	outcome := rig.orchestrator().Process(context.Background(), *mr)

	assert.Equal(t, domain.TerminalAborted, outcome.Terminal)
	assert.Contains(t, outcome.Reason, "too many job retries")
	assert.Equal(t, 1, outcome.Rebases)
	assert.Equal(t, 2, outcome.Retries, "counter restarted at the rebase")
	assert.Equal(t, 4, rig.repo.count("retry "), "two retries before and two after the rebase")
	assert.Equal(t, []string{"merge 9", "retry 1", "retry 1", "rebase 9", "merge 9", "retry 2", "retry 2"}, rig.repo.commands)
}

func TestProcess_PipelineTimeout(t *testing.T) {
	rig := newTestRig()
	rig.repo.addMR(openMR(5, domain.MergeStatusMergeable, 77))
	rig.repo.addPipeline(77, domain.PipelineRunning)
	start := rig.clock.Now()

	outcome := rig.orchestrator().Process(context.Background(), domain.MergeRequest{IID: 5})

	assert.Equal(t, domain.TerminalTimedOut, outcome.Terminal)
	assert.False(t, outcome.Merged())
	assert.Contains(t, outcome.Reason, "timed out waiting for pipeline 77")
	assert.GreaterOrEqual(t, rig.clock.Now().Sub(start), 15*time.Minute)
	assert.Contains(t, rig.console.String(), "└ timed out waiting for pipeline 77")
}

func TestProcess_MergeRejectedWhileChecking(t *testing.T) {
	rig := newTestRig()
	mr := rig.repo.addMR(openMR(3, domain.MergeStatusChecking, 30))
	rig.repo.mergeErr = fmt.Errorf("%w: 405 Method Not Allowed", gitlab.ErrNotMergeable)
	rig.repo.addPipeline(30, domain.PipelineSuccess).onStatus = mergeOnSuccess(mr)

	outcome := rig.orchestrator().Process(context.Background(), *mr)

	require.True(t, outcome.Merged(), outcome.Reason)
	assert.NotContains(t, rig.console.String(), "cannot be merged yet")
}

func TestProcess_MergeRejectedForOtherReason(t *testing.T) {
	rig := newTestRig()
	mr := rig.repo.addMR(openMR(3, "discussions_not_resolved", 30))
	rig.repo.mergeErr = fmt.Errorf("%w: 405 Method Not Allowed", gitlab.ErrNotMergeable)
	rig.repo.addPipeline(30, domain.PipelineSuccess)

	outcome := rig.orchestrator().Process(context.Background(), *mr)

	assert.Contains(t, rig.console.String(), "└ cannot be merged yet, because discussions_not_resolved")
	assert.Equal(t, domain.TerminalAborted, outcome.Terminal)
	assert.Equal(t, "cannot be merged, because discussions_not_resolved", outcome.Reason)
	assert.Equal(t, 1, rig.repo.pipelines[30].polls, "pipeline is still observed after a logged rejection")
}

func TestProcess_AbortOnRejection(t *testing.T) {
	rig := newTestRig()
	rig.opts.AbortOnRejection = true
	rig.repo.addMR(openMR(3, "draft_status", 30))
	rig.repo.mergeErr = fmt.Errorf("%w: 406", gitlab.ErrNotMergeable)
	rig.repo.addPipeline(30, domain.PipelineSuccess)

	outcome := rig.orchestrator().Process(context.Background(), domain.MergeRequest{IID: 3})

	assert.Equal(t, domain.TerminalAborted, outcome.Terminal)
	assert.Equal(t, "cannot be merged, because draft_status", outcome.Reason)
	assert.Equal(t, 0, rig.repo.pipelines[30].polls)
}

func TestProcess_MergeCommandTransportErrorContinues(t *testing.T) {
	rig := newTestRig()
	mr := rig.repo.addMR(openMR(3, domain.MergeStatusMergeable, 30))
	rig.repo.mergeErr = errors.New("connection reset")
	rig.repo.addPipeline(30, domain.PipelineSuccess).onStatus = mergeOnSuccess(mr)

	outcome := rig.orchestrator().Process(context.Background(), *mr)

	assert.True(t, outcome.Merged(), outcome.Reason)
}

func TestProcess_UnknownStatusAfterSuccess(t *testing.T) {
	rig := newTestRig()
	mr := rig.repo.addMR(openMR(6, domain.MergeStatusMergeable, 60))
	rig.repo.addPipeline(60, domain.PipelineSuccess).onStatus = func(domain.PipelineStatus) {
		mr.DetailedMergeStatus = "jira_association_missing"
	}

	outcome := rig.orchestrator().Process(context.Background(), *mr)

	assert.Equal(t, domain.TerminalAborted, outcome.Terminal)
	assert.Equal(t, "cannot be merged, because jira_association_missing", outcome.Reason)
	assert.Contains(t, rig.console.String(), "└ aborted merge, cannot be merged, because jira_association_missing")
}

func TestProcess_NeedRebaseAfterSuccess(t *testing.T) {
	rig := newTestRig()
	mr := rig.repo.addMR(openMR(2, domain.MergeStatusMergeable, 20))
	rig.repo.addPipeline(20, domain.PipelineSuccess).onStatus = func(domain.PipelineStatus) {
		if mr.HeadPipeline.ID == 20 {
			mr.DetailedMergeStatus = domain.MergeStatusNeedRebase
		}
	}
	rig.repo.onRebase = func(mr *domain.MergeRequest) {
		mr.DetailedMergeStatus = domain.MergeStatusMergeable
		mr.HeadPipeline = &domain.PipelineRef{ID: 21}
	}
	rig.repo.addPipeline(21, domain.PipelineRunning, domain.PipelineSuccess).onStatus = mergeOnSuccess(mr)

	outcome := rig.orchestrator().Process(context.Background(), *mr)

	require.True(t, outcome.Merged(), outcome.Reason)
	assert.Equal(t, []string{"merge 2", "rebase 2", "merge 2"}, rig.repo.commands)
}

func TestProcess_MergeableLoopIsBounded(t *testing.T) {
	rig := newTestRig()
	rig.opts.MaxCycles = 3
	rig.repo.addMR(openMR(8, domain.MergeStatusMergeable, 80))
	rig.repo.addPipeline(80, domain.PipelineSuccess)

	outcome := rig.orchestrator().Process(context.Background(), domain.MergeRequest{IID: 8})

	assert.Equal(t, domain.TerminalAborted, outcome.Terminal)
	assert.Equal(t, "merge did not complete after 3 cycles", outcome.Reason)
	assert.Equal(t, 3, rig.repo.count("merge "))
	assert.Contains(t, rig.clock.sleeps, DefaultPollInterval, "recheck waits before going around")
}

func TestProcess_RepeatedRebaseLoopIsBounded(t *testing.T) {
	rig := newTestRig()
	rig.opts.MaxCycles = 3
	mr := rig.repo.addMR(openMR(9, domain.MergeStatusMergeable, 90))
	// Every green pipeline is followed by the target branch moving on.
	rig.repo.addPipeline(90, domain.PipelineSuccess).onStatus = func(domain.PipelineStatus) {
		mr.DetailedMergeStatus = domain.MergeStatusNeedRebase
	}
	rig.repo.onRebase = func(mr *domain.MergeRequest) {
		mr.DetailedMergeStatus = domain.MergeStatusMergeable
	}

	outcome := rig.orchestrator().Process(context.Background(), *mr)

	assert.Equal(t, domain.TerminalAborted, outcome.Terminal)
	assert.Equal(t, "merge did not complete after 3 cycles", outcome.Reason)
	assert.Equal(t, 2, outcome.Rebases)
	assert.Equal(t, []string{"merge 9", "rebase 9", "merge 9", "rebase 9", "merge 9"}, rig.repo.commands)
}

func TestProcess_ClosedMergeRequest(t *testing.T) {
	rig := newTestRig()
	mr := openMR(11, "not_open", 0)
	mr.State = domain.StateClosed
	rig.repo.addMR(mr)

	outcome := rig.orchestrator().Process(context.Background(), mr)

	assert.Equal(t, domain.TerminalAborted, outcome.Terminal)
	assert.Equal(t, "merge request is closed", outcome.Reason)
	assert.Empty(t, rig.repo.commands)
}

func TestProcess_NoHeadPipeline(t *testing.T) {
	rig := newTestRig()
	rig.repo.addMR(openMR(12, domain.MergeStatusMergeable, 0))

	outcome := rig.orchestrator().Process(context.Background(), domain.MergeRequest{IID: 12})

	assert.Equal(t, domain.TerminalAborted, outcome.Terminal)
	assert.Equal(t, "no pipeline to wait for", outcome.Reason)
}

func TestProcess_MergedWithoutPipeline(t *testing.T) {
	rig := newTestRig()
	rig.repo.addMR(openMR(13, domain.MergeStatusMergeable, 0))
	rig.repo.onMerge = func(mr *domain.MergeRequest) { mr.State = domain.StateMerged }

	outcome := rig.orchestrator().Process(context.Background(), domain.MergeRequest{IID: 13})

	assert.True(t, outcome.Merged(), outcome.Reason)
}

func TestProcess_FetchError(t *testing.T) {
	rig := newTestRig()
	rig.repo.fetchErr = errors.New("502 Bad Gateway")

	outcome := rig.orchestrator().Process(context.Background(), domain.MergeRequest{IID: 1})

	assert.Equal(t, domain.TerminalAborted, outcome.Terminal)
	assert.Contains(t, outcome.Reason, "502 Bad Gateway")
}

func TestProcess_Cancelled(t *testing.T) {
	rig := newTestRig()
	rig.repo.addMR(openMR(1, domain.MergeStatusMergeable, 10))
	rig.repo.addPipeline(10, domain.PipelineRunning)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := rig.orchestrator().Process(ctx, domain.MergeRequest{IID: 1})

	assert.Equal(t, domain.TerminalAborted, outcome.Terminal)
	assert.Contains(t, outcome.Reason, "interrupted")
	assert.Empty(t, rig.repo.commands)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "await_pipeline", stateAwaitPipeline.String())
	assert.Equal(t, "state(42)", state(42).String())
	assert.True(t, stateTimedOut.terminal())
	assert.False(t, stateEvaluatePipeline.terminal())
}
