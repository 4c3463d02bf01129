package domain

// MergeState is the coarse state GitLab reports for a merge request
type MergeState string

const (
	StateOpened MergeState = "opened"
	StateMerged MergeState = "merged"
	StateClosed MergeState = "closed"
	StateLocked MergeState = "locked"
)

// DetailedMergeStatus is GitLab's fine-grained mergeability state.
// Values other than the constants below are kept verbatim and treated opaquely.
type DetailedMergeStatus string

const (
	MergeStatusChecking   DetailedMergeStatus = "checking"
	MergeStatusUnchecked  DetailedMergeStatus = "unchecked"
	MergeStatusNeedRebase DetailedMergeStatus = "need_rebase"
	MergeStatusMergeable  DetailedMergeStatus = "mergeable"
)

// PipelineStatus represents the state of a CI pipeline
type PipelineStatus string

const (
	PipelineCreated            PipelineStatus = "created"
	PipelineWaitingForResource PipelineStatus = "waiting_for_resource"
	PipelinePreparing          PipelineStatus = "preparing"
	PipelinePending            PipelineStatus = "pending"
	PipelineRunning            PipelineStatus = "running"
	PipelineSuccess            PipelineStatus = "success"
	PipelineFailed             PipelineStatus = "failed"
	PipelineCanceled           PipelineStatus = "canceled"
	PipelineSkipped            PipelineStatus = "skipped"
	PipelineManual             PipelineStatus = "manual"
	PipelineScheduled          PipelineStatus = "scheduled"
)

// IsTerminal returns true once the pipeline will not change status on its own.
// Skipped and manual pipelines are deliberately not terminal: they wait for a retry or a human.
func (s PipelineStatus) IsTerminal() bool {
	return s == PipelineSuccess || s == PipelineFailed || s == PipelineCanceled
}

// Terminal is the final state of one orchestration run
type Terminal string

const (
	TerminalMerged   Terminal = "merged"
	TerminalAborted  Terminal = "aborted"
	TerminalTimedOut Terminal = "timed_out"
)
