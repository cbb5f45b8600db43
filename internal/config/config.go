// Package config loads server configuration from the environment. A
// .env file next to the binary is honoured for local development; real
// deployments set the variables directly.
package config

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"git.home.luguber.info/inful/repairops/internal/envelope"
)

// Server is the task-server configuration.
type Server struct {
	HTTPHost string `env:"HTTP_HOST, default=0.0.0.0"`
	HTTPPort int    `env:"HTTP_PORT, default=8080"`
	APIKey   string `env:"SERVER_API_KEY"`

	TraceDBPath   string `env:"TRACE_DB_PATH, default=traces.db"`
	WorkspacesDir string `env:"WORKSPACES_DIR, default=workspaces"`
	StaticDir     string `env:"STATIC_DIR, default=web"`

	MaxConcurrentTasks int `env:"MAX_CONCURRENT_TASKS, default=1"`
	MaxErrorQueueSize  int `env:"MAX_ERROR_QUEUE_SIZE, default=100"`
	MaxFrames          int `env:"MAX_FRAMES, default=32"`

	CodeHost            string `env:"CODE_HOST, default=github"`
	GitHubToken         string `env:"GITHUB_TOKEN"`
	GitLabToken         string `env:"GITLAB_TOKEN"`
	GitHubWebhookSecret string `env:"GITHUB_WEBHOOK_SECRET"`

	PRCommentCommandPrefix string `env:"PR_COMMENT_COMMAND_PREFIX"`

	ClaudeCommand string `env:"CLAUDE_COMMAND, default=claude"`
	ClaudeArgs    string `env:"CLAUDE_ARGS, default=-p"`
	ClaudeFixMode string `env:"CLAUDE_FIX_MODE, default=agentic"`

	SMTPEnabled  bool     `env:"SMTP_ENABLED"`
	SMTPHost     string   `env:"SMTP_HOST"`
	SMTPPort     int      `env:"SMTP_PORT, default=587"`
	SMTPUsername string   `env:"SMTP_USERNAME"`
	SMTPPassword string   `env:"SMTP_PASSWORD"`
	SMTPFrom     string   `env:"SMTP_FROM"`
	SMTPTo       []string `env:"SMTP_TO"`

	NATSURL string `env:"NATS_URL"`

	WorkspaceSweepHours  int `env:"WORKSPACE_SWEEP_HOURS, default=6"`
	WorkspaceMaxAgeHours int `env:"WORKSPACE_MAX_AGE_HOURS, default=24"`
}

// LoadServer reads .env (best effort) and the process environment.
func LoadServer(ctx context.Context) (*Server, error) {
	_ = godotenv.Load()

	var cfg Server
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("parse server environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Server) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT %d out of range", c.HTTPPort)
	}
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("MAX_CONCURRENT_TASKS must be at least 1")
	}
	if c.MaxErrorQueueSize < 1 {
		return fmt.Errorf("MAX_ERROR_QUEUE_SIZE must be at least 1")
	}
	switch c.CodeHost {
	case envelope.HostGitHub, envelope.HostGitLab:
	default:
		return fmt.Errorf("CODE_HOST must be github or gitlab, got %q", c.CodeHost)
	}
	if c.SMTPEnabled && (c.SMTPHost == "" || len(c.SMTPTo) == 0) {
		return fmt.Errorf("SMTP_ENABLED requires SMTP_HOST and SMTP_TO")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Server) Addr() string {
	return net.JoinHostPort(c.HTTPHost, strconv.Itoa(c.HTTPPort))
}

// ClaudeArgList splits CLAUDE_ARGS on whitespace.
func (c *Server) ClaudeArgList() []string {
	return strings.Fields(c.ClaudeArgs)
}

// HostToken returns the API token for the given code host.
func (c *Server) HostToken(host string) string {
	if host == envelope.HostGitLab {
		return c.GitLabToken
	}
	return c.GitHubToken
}
