package domain

import (
	"testing"
	"time"
)

func TestPipelineStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status PipelineStatus
		want   bool
	}{
		{PipelineSuccess, true},
		{PipelineFailed, true},
		{PipelineCanceled, true},
		{PipelineRunning, false},
		{PipelinePending, false},
		{PipelineCreated, false},
		{PipelineManual, false},
		{PipelineSkipped, false},
		{PipelineStatus("something_new"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestMergeRequest_HeadPipelineID(t *testing.T) {
	mr := MergeRequest{IID: 7}
	if _, ok := mr.HeadPipelineID(); ok {
		t.Error("expected no head pipeline")
	}

	mr.HeadPipeline = &PipelineRef{ID: 42, Status: PipelineRunning}
	id, ok := mr.HeadPipelineID()
	if !ok || id != 42 {
		t.Errorf("HeadPipelineID() = %d, %v, want 42, true", id, ok)
	}
}

func TestMergeRequest_States(t *testing.T) {
	tests := []struct {
		state      MergeState
		wantMerged bool
		wantClosed bool
	}{
		{StateOpened, false, false},
		{StateMerged, true, false},
		{StateClosed, false, true},
		{StateLocked, false, true},
	}

	for _, tt := range tests {
		mr := MergeRequest{State: tt.state}
		if mr.IsMerged() != tt.wantMerged {
			t.Errorf("%s: IsMerged() = %v, want %v", tt.state, mr.IsMerged(), tt.wantMerged)
		}
		if mr.IsClosed() != tt.wantClosed {
			t.Errorf("%s: IsClosed() = %v, want %v", tt.state, mr.IsClosed(), tt.wantClosed)
		}
	}
}

func TestMergeRequest_String(t *testing.T) {
	mr := MergeRequest{IID: 12, Title: "Bump dependencies"}
	if got := mr.String(); got != "MR #12: Bump dependencies" {
		t.Errorf("String() = %q", got)
	}
}

func TestApprovals_HasApprovers(t *testing.T) {
	// GitLab Free reports approved=true with nobody approving
	a := Approvals{Approved: true}
	if a.HasApprovers() {
		t.Error("coarse approved flag must not count as an approval")
	}

	a.ApprovedBy = []string{"alice"}
	if !a.HasApprovers() {
		t.Error("expected approvers")
	}
}

func TestOutcome_Duration(t *testing.T) {
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	o := Outcome{Terminal: TerminalMerged, StartedAt: start, FinishedAt: start.Add(90 * time.Second)}

	if !o.Merged() {
		t.Error("expected merged outcome")
	}
	if o.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", o.Duration())
	}

	o = Outcome{Terminal: TerminalTimedOut}
	if o.Merged() {
		t.Error("timed out outcome must not be merged")
	}
	if o.Duration() != 0 {
		t.Errorf("Duration() = %v, want 0 without timestamps", o.Duration())
	}
}
