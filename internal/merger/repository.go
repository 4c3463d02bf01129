// Package merger drives approved merge requests through rebase, auto-merge
// and CI until GitLab reports them merged or they are given up on.
package merger

import (
	"context"
	"time"

	"github.com/hochfrequenz/mr-automerge/internal/domain"
)

// ApprovalSource fetches approval state.
type ApprovalSource interface {
	GetApprovals(ctx context.Context, iid int) (*domain.Approvals, error)
}

// PipelineSource fetches pipeline snapshots.
type PipelineSource interface {
	GetPipeline(ctx context.Context, id int) (*domain.Pipeline, error)
}

// Repository is the remote project the orchestrator observes and drives.
// *gitlab.Client implements it.
type Repository interface {
	ApprovalSource
	PipelineSource

	GetMergeRequest(ctx context.Context, iid int) (*domain.MergeRequest, error)
	Rebase(ctx context.Context, iid int) error
	MergeWhenPipelineSucceeds(ctx context.Context, iid int) error
	RetryPipeline(ctx context.Context, id int) error
}

// Clock abstracts time so polling can be tested without waiting.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock is the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
