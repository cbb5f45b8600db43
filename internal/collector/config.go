// Package collector observes a log source on an application host,
// extracts structured error evidence, and forwards incident events to
// the task server. It runs as its own process, independent from the
// server.
package collector

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/repairops/internal/envelope"
	"git.home.luguber.info/inful/repairops/internal/extract"
)

// Source selects where log text comes from.
const (
	SourceFile   = "file"
	SourceSearch = "search"
)

// SearchConfig configures the log-index poller.
type SearchConfig struct {
	Endpoint           string  `yaml:"endpoint" env:"SEARCH_ENDPOINT"`
	Index              string  `yaml:"index" env:"SEARCH_INDEX"`
	Query              string  `yaml:"query" env:"SEARCH_QUERY"`
	PollSeconds        float64 `yaml:"poll_seconds" env:"SEARCH_POLL_SECONDS"`
	SinceWindowSeconds int     `yaml:"since_window_seconds" env:"SEARCH_SINCE_WINDOW_SECONDS"`
	BatchSize          int     `yaml:"batch_size" env:"SEARCH_BATCH_SIZE"`
}

// Config is the collector configuration. A YAML file provides the base;
// environment variables override individual fields.
type Config struct {
	Source    string `yaml:"source" env:"COLLECTOR_SOURCE"`
	LogPath   string `yaml:"log_path" env:"COLLECTOR_LOG_PATH"`
	ServerURL string `yaml:"server_url" env:"COLLECTOR_SERVER_URL"`
	APIKey    string `yaml:"api_key" env:"SERVER_API_KEY"`

	RepoURL       string `yaml:"repo_url" env:"REPO_URL"`
	CodeHost      string `yaml:"code_host" env:"CODE_HOST"`
	DefaultBranch string `yaml:"default_branch" env:"DEFAULT_BRANCH"`
	ServiceName   string `yaml:"service_name" env:"SERVICE_NAME"`
	Environment   string `yaml:"environment" env:"SERVICE_ENVIRONMENT"`

	Language           string   `yaml:"language" env:"LANGUAGE"`
	FilterLevel        string   `yaml:"filter_level" env:"FILTER_LEVEL"`
	Keywords           []string `yaml:"keywords" env:"KEYWORDS"`
	DebounceSeconds    float64  `yaml:"debounce_seconds" env:"DEBOUNCE_SECONDS"`
	DedupWindowSeconds int      `yaml:"dedup_window_seconds" env:"DEDUP_WINDOW_SECONDS"`
	ExcerptMaxChars    int      `yaml:"excerpt_max_chars" env:"EXCERPT_MAX_CHARS"`
	ContextLines       int      `yaml:"context_lines" env:"CONTEXT_LINES"`
	MaxFrames          int      `yaml:"max_frames" env:"MAX_FRAMES"`
	HTTPTimeoutSeconds int      `yaml:"http_timeout_seconds" env:"HTTP_TIMEOUT_SECONDS"`

	Search SearchConfig `yaml:"search"`
}

func defaults() Config {
	return Config{
		Source:             SourceFile,
		DefaultBranch:      "main",
		Language:           string(extract.LangAuto),
		FilterLevel:        string(extract.FilterBalanced),
		DebounceSeconds:    2,
		DedupWindowSeconds: 3600,
		ExcerptMaxChars:    4000,
		ContextLines:       60,
		MaxFrames:          8,
		HTTPTimeoutSeconds: 15,
		Search: SearchConfig{
			Query:              "log.level:error",
			PollSeconds:        5,
			SinceWindowSeconds: 900,
			BatchSize:          100,
		},
	}
}

// LoadConfig merges defaults, an optional YAML file, and the process
// environment, in that order of precedence.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read collector config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse collector config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("parse collector environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the collector cannot run with.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceFile:
		if c.LogPath == "" {
			return fmt.Errorf("file source requires log_path")
		}
	case SourceSearch:
		if c.Search.Endpoint == "" || c.Search.Index == "" {
			return fmt.Errorf("search source requires search endpoint and index")
		}
	default:
		return fmt.Errorf("source must be file or search, got %q", c.Source)
	}

	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.RepoURL == "" {
		return fmt.Errorf("repo_url is required")
	}
	switch c.CodeHost {
	case envelope.HostGitHub, envelope.HostGitLab:
	default:
		return fmt.Errorf("code_host must be github or gitlab, got %q", c.CodeHost)
	}

	switch extract.FilterLevel(c.FilterLevel) {
	case extract.FilterStrict, extract.FilterBalanced, extract.FilterLenient:
	default:
		return fmt.Errorf("filter_level must be strict, balanced or lenient, got %q", c.FilterLevel)
	}
	switch extract.Language(c.Language) {
	case extract.LangAuto, extract.LangPython, extract.LangJava:
	default:
		return fmt.Errorf("language must be auto, python or java, got %q", c.Language)
	}

	if c.Search.PollSeconds < 0.2 {
		c.Search.PollSeconds = 0.2
	}
	if c.Search.BatchSize < 1 {
		c.Search.BatchSize = 100
	}
	return nil
}

// Debounce returns the quiet window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds * float64(time.Second))
}

// DedupWindow returns the suppression window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// HTTPTimeout bounds outbound requests.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}
