package schedule

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Entry is one [[schedule]] table: a batch run on a cron schedule
type Entry struct {
	Name          string `toml:"name"`
	Cron          string `toml:"cron"`
	Repository    string `toml:"repository"`
	Author        string `toml:"author"`
	MergeRequests []int  `toml:"mrs"`
}

// File holds all schedule entries of a config file
type File struct {
	Schedules []Entry `toml:"schedule"`
}

// Validate checks if the entry is valid
func (e *Entry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if e.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(e.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if e.Repository == "" {
		return fmt.Errorf("repository is required")
	}
	if (e.Author == "") == (len(e.MergeRequests) == 0) {
		return fmt.Errorf("exactly one of author or mrs is required")
	}
	for _, iid := range e.MergeRequests {
		if iid <= 0 {
			return fmt.Errorf("invalid merge request number %d", iid)
		}
	}
	return nil
}

// Load reads the [[schedule]] tables of a TOML file. A missing file yields
// no entries.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, err
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for i := range f.Schedules {
		e := &f.Schedules[i]
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("schedule %d: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = true
	}

	return &f, nil
}
