// Package report writes batch summaries as YAML documents.
package report

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/mr-automerge/internal/domain"
	"github.com/hochfrequenz/mr-automerge/internal/merger"
)

// Document is the YAML form of a batch report
type Document struct {
	RunID      string    `yaml:"run_id"`
	Repository string    `yaml:"repository"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`
	Summary    Summary   `yaml:"summary"`
	Merged     []Entry   `yaml:"merged"`
	NotMerged  []Entry   `yaml:"not_merged"`
}

// Summary holds the batch counts
type Summary struct {
	Merged    int `yaml:"merged"`
	NotMerged int `yaml:"not_merged"`
}

// Entry is one merge request outcome
type Entry struct {
	IID      int     `yaml:"iid"`
	Title    string  `yaml:"title"`
	URL      string  `yaml:"url,omitempty"`
	Terminal string  `yaml:"terminal"`
	Reason   string  `yaml:"reason,omitempty"`
	Retries  int     `yaml:"retries"`
	Rebases  int     `yaml:"rebases"`
	Seconds  float64 `yaml:"duration_seconds"`
}

// FromReport converts a batch report, keeping input order
func FromReport(r *merger.Report) Document {
	return Document{
		RunID:      r.RunID,
		Repository: r.Repository,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Summary:    Summary{Merged: len(r.Merged), NotMerged: len(r.NotMerged)},
		Merged:     entries(r.Merged),
		NotMerged:  entries(r.NotMerged),
	}
}

func entries(outcomes []domain.Outcome) []Entry {
	result := make([]Entry, 0, len(outcomes))
	for _, o := range outcomes {
		result = append(result, Entry{
			IID:      o.MergeRequest.IID,
			Title:    o.MergeRequest.Title,
			URL:      o.MergeRequest.WebURL,
			Terminal: string(o.Terminal),
			Reason:   o.Reason,
			Retries:  o.Retries,
			Rebases:  o.Rebases,
			Seconds:  o.Duration().Seconds(),
		})
	}
	return result
}

// Marshal renders the report as YAML
func Marshal(r *merger.Report) ([]byte, error) {
	return yaml.Marshal(FromReport(r))
}

// WriteFile writes the report to path
func WriteFile(path string, r *merger.Report) error {
	data, err := Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
