package merger

import (
	"context"
	"fmt"
	"time"

	"github.com/hochfrequenz/mr-automerge/internal/domain"
)

// fakeClock advances instantly when slept on.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// fakePipeline reports statuses in order, repeating the last one.
type fakePipeline struct {
	statuses []domain.PipelineStatus
	polls    int
	// onStatus runs before a status is reported.
	onStatus func(status domain.PipelineStatus)
}

func (p *fakePipeline) next() domain.PipelineStatus {
	i := p.polls
	if i >= len(p.statuses) {
		i = len(p.statuses) - 1
	}
	p.polls++
	status := p.statuses[i]
	if p.onStatus != nil {
		p.onStatus(status)
	}
	return status
}

// fakeRepo keeps mutable remote state; commands are recorded and may be
// given side effects through the on* hooks.
type fakeRepo struct {
	mrs       map[int]*domain.MergeRequest
	approvals map[int]*domain.Approvals
	pipelines map[int]*fakePipeline

	mergeErr error
	fetchErr error

	onRebase func(mr *domain.MergeRequest)
	onMerge  func(mr *domain.MergeRequest)
	onRetry  func(p *fakePipeline)

	commands       []string
	mrFetches      int
	approvalCalls  []int
	pipelineFetchs []time.Time
	clock          *fakeClock
}

func newFakeRepo(clock *fakeClock) *fakeRepo {
	return &fakeRepo{
		mrs:       map[int]*domain.MergeRequest{},
		approvals: map[int]*domain.Approvals{},
		pipelines: map[int]*fakePipeline{},
		clock:     clock,
	}
}

func (f *fakeRepo) addMR(mr domain.MergeRequest) *domain.MergeRequest {
	f.mrs[mr.IID] = &mr
	return &mr
}

func (f *fakeRepo) addPipeline(id int, statuses ...domain.PipelineStatus) *fakePipeline {
	p := &fakePipeline{statuses: statuses}
	f.pipelines[id] = p
	return p
}

func (f *fakeRepo) GetMergeRequest(_ context.Context, iid int) (*domain.MergeRequest, error) {
	f.mrFetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	mr, ok := f.mrs[iid]
	if !ok {
		return nil, fmt.Errorf("MR #%d: not found", iid)
	}
	snapshot := *mr
	if mr.HeadPipeline != nil {
		ref := *mr.HeadPipeline
		snapshot.HeadPipeline = &ref
	}
	return &snapshot, nil
}

func (f *fakeRepo) GetApprovals(_ context.Context, iid int) (*domain.Approvals, error) {
	f.approvalCalls = append(f.approvalCalls, iid)
	a, ok := f.approvals[iid]
	if !ok {
		return nil, fmt.Errorf("approvals of MR #%d unavailable", iid)
	}
	return a, nil
}

func (f *fakeRepo) Rebase(_ context.Context, iid int) error {
	f.commands = append(f.commands, fmt.Sprintf("rebase %d", iid))
	if f.onRebase != nil {
		f.onRebase(f.mrs[iid])
	}
	return nil
}

func (f *fakeRepo) MergeWhenPipelineSucceeds(_ context.Context, iid int) error {
	f.commands = append(f.commands, fmt.Sprintf("merge %d", iid))
	if f.onMerge != nil {
		f.onMerge(f.mrs[iid])
	}
	return f.mergeErr
}

func (f *fakeRepo) GetPipeline(_ context.Context, id int) (*domain.Pipeline, error) {
	if f.clock != nil {
		f.pipelineFetchs = append(f.pipelineFetchs, f.clock.Now())
	}
	p, ok := f.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("pipeline %d: not found", id)
	}
	return &domain.Pipeline{ID: id, Status: p.next()}, nil
}

func (f *fakeRepo) RetryPipeline(_ context.Context, id int) error {
	f.commands = append(f.commands, fmt.Sprintf("retry %d", id))
	if f.onRetry != nil {
		f.onRetry(f.pipelines[id])
	}
	return nil
}

func (f *fakeRepo) count(prefix string) int {
	n := 0
	for _, c := range f.commands {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
