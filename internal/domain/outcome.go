package domain

import "time"

// Outcome is the result of driving one merge request to a terminal state
type Outcome struct {
	MergeRequest MergeRequest
	Terminal     Terminal
	Reason       string
	Retries      int
	Rebases      int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Merged returns true if the merge request ended up merged
func (o *Outcome) Merged() bool {
	return o.Terminal == TerminalMerged
}

// Duration returns how long the orchestration run took
func (o *Outcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
