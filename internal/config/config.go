package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// EnvAPIURL and EnvAPIToken name the two required environment variables.
	EnvAPIURL   = "GITLAB_API_URL"
	EnvAPIToken = "GITLAB_API_TOKEN"

	// LocalConfigName is looked up from the working directory upwards.
	LocalConfigName = ".mr-automerge.toml"
)

// Config holds all application configuration
type Config struct {
	Merge         MergeConfig         `toml:"merge"`
	Notifications NotificationsConfig `toml:"notifications"`
	History       HistoryConfig       `toml:"history"`
	Metrics       MetricsConfig       `toml:"metrics"`
}

// MergeConfig bounds the merge orchestration
type MergeConfig struct {
	PollInterval     Duration `toml:"poll_interval"`
	PipelineTimeout  Duration `toml:"pipeline_timeout"`
	RebaseDelay      Duration `toml:"rebase_delay"`
	RecheckDelay     Duration `toml:"recheck_delay"`
	MaxRetries       int      `toml:"max_retries"`
	MaxCycles        int      `toml:"max_cycles"`
	AbortOnRejection bool     `toml:"abort_on_rejection"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// HistoryConfig controls the outcome journal
type HistoryConfig struct {
	Enabled      bool   `toml:"enabled"`
	DatabasePath string `toml:"database_path"`
}

// MetricsConfig controls the Prometheus endpoint of the watch command
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// Duration is a time.Duration written as "30s", "15m" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Merge: MergeConfig{
			PollInterval:    Duration{30 * time.Second},
			PipelineTimeout: Duration{15 * time.Minute},
			RebaseDelay:     Duration{10 * time.Second},
			RecheckDelay:    Duration{30 * time.Second},
			MaxRetries:      3,
			MaxCycles:       20,
		},
		History: HistoryConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(home, ".mr-automerge", "history.db"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.History.DatabasePath = ExpandPath(cfg.History.DatabasePath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithLocalFallback loads the file ResolvePath picks.
func LoadWithLocalFallback(explicitPath string) (*Config, error) {
	return Load(ResolvePath(explicitPath))
}

// ResolvePath returns the explicit path if given, else the nearest local
// config, else the default config path.
func ResolvePath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}
	if local := FindLocalConfig(); local != "" {
		return local
	}
	return DefaultConfigPath()
}

// Validate rejects values the orchestrator cannot work with
func (c *Config) Validate() error {
	m := c.Merge
	if m.PollInterval.Duration <= 0 {
		return fmt.Errorf("merge.poll_interval must be positive")
	}
	if m.PipelineTimeout.Duration <= 0 {
		return fmt.Errorf("merge.pipeline_timeout must be positive")
	}
	if m.RebaseDelay.Duration < 0 || m.RecheckDelay.Duration < 0 {
		return fmt.Errorf("merge delays must not be negative")
	}
	if m.MaxRetries < 0 {
		return fmt.Errorf("merge.max_retries must not be negative")
	}
	if m.MaxCycles <= 0 {
		return fmt.Errorf("merge.max_cycles must be positive")
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "mr-automerge", "config.toml")
}

// FindLocalConfig walks up from the working directory looking for
// LocalConfigName. Returns "" if there is none.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Credentials are the GitLab connection settings taken from the environment
type Credentials struct {
	APIURL string
	Token  string
}

// LoadEnv reads the required environment variables.
func LoadEnv() (*Credentials, error) {
	return LoadEnvFrom(os.LookupEnv)
}

// LoadEnvFrom reads the required variables through lookup, failing on the
// first one that is missing or empty.
func LoadEnvFrom(lookup func(string) (string, bool)) (*Credentials, error) {
	creds := &Credentials{}
	for _, v := range []struct {
		name string
		dst  *string
	}{
		{EnvAPIURL, &creds.APIURL},
		{EnvAPIToken, &creds.Token},
	} {
		value, ok := lookup(v.name)
		if !ok || value == "" {
			return nil, fmt.Errorf("Missing environment variable: $%s", v.name)
		}
		*v.dst = value
	}
	return creds, nil
}
