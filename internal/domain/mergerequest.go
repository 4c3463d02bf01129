package domain

import "fmt"

// MergeRequest is a snapshot of a GitLab merge request.
// Snapshots go stale as soon as GitLab acts on a rebase, merge or pipeline,
// so callers re-fetch before every decision instead of holding on to one.
type MergeRequest struct {
	IID                 int
	Title               string
	State               MergeState
	DetailedMergeStatus DetailedMergeStatus
	HeadPipeline        *PipelineRef
	Author              string
	WebURL              string
}

// PipelineRef points at the head pipeline of a merge request
type PipelineRef struct {
	ID     int
	Status PipelineStatus
}

// IsMerged returns true if GitLab reports the merge request as merged
func (m *MergeRequest) IsMerged() bool {
	return m.State == StateMerged
}

// IsClosed returns true if the merge request can no longer be merged at all
func (m *MergeRequest) IsClosed() bool {
	return m.State == StateClosed || m.State == StateLocked
}

// HeadPipelineID returns the head pipeline ID, or false if there is none
func (m *MergeRequest) HeadPipelineID() (int, bool) {
	if m.HeadPipeline == nil || m.HeadPipeline.ID == 0 {
		return 0, false
	}
	return m.HeadPipeline.ID, true
}

// String renders the merge request the way it shows up in console output
func (m MergeRequest) String() string {
	return fmt.Sprintf("MR #%d: %s", m.IID, m.Title)
}

// Approvals holds the approval state of a merge request.
//
// Approved means "received all required approvals" and is always true when
// the project requires none (the only mode on GitLab Free). Gate on
// ApprovedBy instead.
type Approvals struct {
	Approved   bool
	ApprovedBy []string
}

// HasApprovers returns true if at least one user actually approved
func (a *Approvals) HasApprovers() bool {
	return len(a.ApprovedBy) > 0
}

// Pipeline is a snapshot of a CI pipeline
type Pipeline struct {
	ID     int
	Status PipelineStatus
	Ref    string
	WebURL string
}
