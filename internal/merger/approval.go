package merger

import (
	"context"
	"iter"

	"github.com/hochfrequenz/mr-automerge/internal/domain"
	"github.com/hochfrequenz/mr-automerge/internal/logx"
)

// FilterApproved yields the candidates that at least one user approved, in
// order. Approvals are fetched lazily, one request per candidate, as the
// sequence is consumed. Rejected candidates are reported on console and
// skipped. The sequence is meant to be consumed once.
//
// The coarse "approved" flag is ignored: GitLab sets it whenever the
// project's approval rules are satisfied, including when no approval is
// required at all.
func FilterApproved(ctx context.Context, source ApprovalSource, candidates []domain.MergeRequest, console *logx.Console) iter.Seq[domain.MergeRequest] {
	return func(yield func(domain.MergeRequest) bool) {
		for _, mr := range candidates {
			if ctx.Err() != nil {
				return
			}

			approvals, err := source.GetApprovals(ctx, mr.IID)
			if err != nil {
				console.Failure("MR #%d approvals could not be fetched and it will not be processed: %v", mr.IID, err)
				continue
			}
			if !approvals.HasApprovers() {
				console.Failure("MR #%d is not approved and will not be processed.", mr.IID)
				continue
			}

			if !yield(mr) {
				return
			}
		}
	}
}
