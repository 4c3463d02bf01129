package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SlackNotifier posts batch summaries to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
}

// SlackField is one titled value inside an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ToJSON converts the message to JSON
func (m *SlackMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SlackColor returns the Slack color for a notification type
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// BuildSlackMessage lays out a notification: merged merge requests as linked
// lines, and one field per merge request that was not merged carrying the
// reason. Notifications without items fall back to the plain message.
func BuildSlackMessage(n Notification) SlackMessage {
	attachment := SlackAttachment{
		Color:  SlackColor(n.Type),
		Title:  n.Repository,
		Footer: footer(n),
	}

	if len(n.Items) == 0 {
		attachment.Text = n.Message
		return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{attachment}}
	}

	var merged []string
	for _, item := range n.Items {
		if item.Merged {
			merged = append(merged, ":white_check_mark: "+slackLink(item))
			continue
		}
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: item.Label,
			Value: item.Reason,
		})
	}
	attachment.Text = strings.Join(merged, "\n")

	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{attachment}}
}

// slackLink renders the item label, linked to the merge request when known
func slackLink(item Item) string {
	label := slackEscape(item.Label)
	if item.URL == "" {
		return label
	}
	return "<" + item.URL + "|" + label + ">"
}

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func slackEscape(s string) string {
	return slackEscaper.Replace(s)
}

func footer(n Notification) string {
	if n.RunID == "" {
		return "mr-automerge"
	}
	return "mr-automerge run " + n.RunID
}

// Send posts the notification to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil // Disabled
	}

	msg := BuildSlackMessage(n)
	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	return nil
}
