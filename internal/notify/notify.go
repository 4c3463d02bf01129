package notify

import (
	"fmt"
	"strings"

	"github.com/hochfrequenz/mr-automerge/internal/merger"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title      string
	Message    string
	Type       NotificationType
	Repository string // Optional project path
	RunID      string // Optional batch run reference
	Items      []Item // Optional per merge request lines
}

// Item is the outcome of one merge request within a notification
type Item struct {
	Label  string // "MR #12: Title"
	URL    string
	Merged bool
	Reason string // Why it was not merged
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// FromReport summarizes a finished batch. A batch with unmerged merge
// requests is a warning, a fully merged one a success.
func FromReport(r *merger.Report) Notification {
	n := Notification{
		Title:      fmt.Sprintf("mr-automerge: %d merged, %d not merged", len(r.Merged), len(r.NotMerged)),
		Type:       NotifySuccess,
		Repository: r.Repository,
		RunID:      r.RunID,
	}
	if r.Total() == 0 {
		n.Type = NotifyInfo
		n.Message = "No merge request to process."
		return n
	}

	var lines []string
	for _, o := range r.Merged {
		lines = append(lines, "merged: "+o.MergeRequest.String())
		n.Items = append(n.Items, Item{Label: o.MergeRequest.String(), URL: o.MergeRequest.WebURL, Merged: true})
	}
	for _, o := range r.NotMerged {
		lines = append(lines, fmt.Sprintf("not merged: %s (%s)", o.MergeRequest, o.Reason))
		n.Items = append(n.Items, Item{Label: o.MergeRequest.String(), URL: o.MergeRequest.WebURL, Reason: o.Reason})
	}
	if !r.AllMerged() {
		n.Type = NotifyWarning
	}
	n.Message = strings.Join(lines, "\n")
	return n
}
