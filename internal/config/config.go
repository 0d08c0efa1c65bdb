package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models the wjs settings file. Defaults cover everything except the
// email addresses, so a fresh config only needs `wjs init --email`.
type Config struct {
	Journal struct {
		Path               string `yaml:"path"`
		LookbackDays       int    `yaml:"lookback_days"`
		EntriesSubfolder   string `yaml:"entries_subfolder"`
		SummariesSubfolder string `yaml:"summaries_subfolder"`
		StagingSubfolder   string `yaml:"staging_subfolder"`
	} `yaml:"journal"`
	Email struct {
		To            string `yaml:"to"`
		From          string `yaml:"from"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"email"`
	Anthropic struct {
		SummaryModel      string `yaml:"summary_model"`
		ClassifyModel     string `yaml:"classify_model"`
		MaxTokens         int    `yaml:"max_tokens"`
		ClassifyMaxTokens int    `yaml:"classify_max_tokens"`
	} `yaml:"anthropic"`
	Secrets struct {
		BasePath      string `yaml:"base_path"`
		SharedFolder  string `yaml:"shared_folder"`
		ProjectFolder string `yaml:"project_folder"`
	} `yaml:"secrets"`
	Heartbeat struct {
		SubjectPrefix       string `yaml:"subject_prefix"`
		ItemsPerFeed        int    `yaml:"items_per_feed"`
		FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
		Feeds               []Feed `yaml:"feeds"`
	} `yaml:"heartbeat"`
}

type Feed struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads and validates config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with wjs init --email you@example.com", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Journal.Path == "" {
		return fmt.Errorf("config.journal.path is required")
	}
	if c.Journal.LookbackDays < 1 {
		return fmt.Errorf("config.journal.lookback_days must be at least 1")
	}
	for name, v := range map[string]string{
		"entries_subfolder":   c.Journal.EntriesSubfolder,
		"summaries_subfolder": c.Journal.SummariesSubfolder,
		"staging_subfolder":   c.Journal.StagingSubfolder,
	} {
		if v == "" {
			return fmt.Errorf("config.journal.%s is required", name)
		}
	}
	if c.Email.To == "" || !strings.Contains(c.Email.To, "@") {
		return fmt.Errorf("config.email.to must be an email address")
	}
	if c.Email.From == "" || !strings.Contains(c.Email.From, "@") {
		return fmt.Errorf("config.email.from must be an email address")
	}
	if c.Anthropic.SummaryModel == "" {
		return fmt.Errorf("config.anthropic.summary_model is required")
	}
	if c.Anthropic.ClassifyModel == "" {
		return fmt.Errorf("config.anthropic.classify_model is required")
	}
	if c.Anthropic.MaxTokens < 1 {
		return fmt.Errorf("config.anthropic.max_tokens must be positive")
	}
	if c.Anthropic.ClassifyMaxTokens < 1 {
		return fmt.Errorf("config.anthropic.classify_max_tokens must be positive")
	}
	if c.Secrets.BasePath == "" {
		return fmt.Errorf("config.secrets.base_path is required")
	}
	if c.Secrets.ProjectFolder == "" {
		return fmt.Errorf("config.secrets.project_folder is required")
	}
	if c.Heartbeat.ItemsPerFeed < 1 {
		return fmt.Errorf("config.heartbeat.items_per_feed must be at least 1")
	}
	if c.Heartbeat.FetchTimeoutSeconds < 1 {
		return fmt.Errorf("config.heartbeat.fetch_timeout_seconds must be at least 1")
	}
	for i, f := range c.Heartbeat.Feeds {
		if f.Name == "" {
			return fmt.Errorf("config.heartbeat.feeds[%d] has empty name", i)
		}
		if f.URL == "" {
			return fmt.Errorf("feed %s has empty url", f.Name)
		}
	}
	return nil
}

// Path returns the default config file location.
func Path() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "wjs", "config.yaml")
}

// GenerateDefault returns default config YAML with email filled in.
func GenerateDefault(email string) string {
	return fmt.Sprintf(defaultTemplate, email, email)
}

// Default returns the default Config struct for a given email address.
func Default(email string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, email, email)), &cfg)
	return &cfg
}

// FromYAML overlays raw YAML onto the defaults and validates the result, so
// a partial config file keeps default values for keys it leaves out.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// EntriesDir is the daily-entries directory.
func (c *Config) EntriesDir() string {
	return filepath.Join(expandHome(c.Journal.Path), c.Journal.EntriesSubfolder)
}

// SummariesDir is the periodic-summaries directory.
func (c *Config) SummariesDir() string {
	return filepath.Join(expandHome(c.Journal.Path), c.Journal.SummariesSubfolder)
}

// StagingDir is the daily-staging directory.
func (c *Config) StagingDir() string {
	return filepath.Join(expandHome(c.Journal.Path), c.Journal.StagingSubfolder)
}

// SecretsProjectDir holds this tool's credentials and state database.
func (c *Config) SecretsProjectDir() string {
	return filepath.Join(expandHome(c.Secrets.BasePath), c.Secrets.ProjectFolder)
}

// SecretsSharedDir holds credentials shared across tools (the Anthropic key).
func (c *Config) SecretsSharedDir() string {
	return filepath.Join(expandHome(c.Secrets.BasePath), c.Secrets.SharedFolder)
}

// FetchTimeout is the per-feed fetch budget.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Heartbeat.FetchTimeoutSeconds) * time.Second
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

const defaultTemplate = `journal:
  path: ~/work-journal
  lookback_days: 14
  entries_subfolder: daily-entries
  summaries_subfolder: periodic-summaries
  staging_subfolder: daily-staging

email:
  to: %s
  from: %s
  subject_prefix: "[Work Journal]"

anthropic:
  summary_model: claude-sonnet-4-5
  classify_model: claude-haiku-4-5
  max_tokens: 4096
  classify_max_tokens: 1024

secrets:
  base_path: ~/.secrets
  shared_folder: shared
  project_folder: work-journal-summarizer

heartbeat:
  subject_prefix: "Daily Heartbeat"
  items_per_feed: 3
  fetch_timeout_seconds: 10
  feeds:
    - name: Bloomberg
      url: https://feeds.bloomberg.com/markets/news.rss
    - name: Caixin
      url: https://gateway.caixin.com/api/data/global/feedlyRss.xml
    - name: Rest of World
      url: https://restofworld.org/feed/latest
    - name: FT
      url: https://www.ft.com/rss/home
    - name: NPR
      url: https://feeds.npr.org/1001/rss.xml
`
