package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/repairops/internal/logfields"
)

const (
	releaseRetries = 8
	releaseBackoff = 250 * time.Millisecond
)

// Manager hands out isolated task directories under a single root.
type Manager struct {
	root string
}

// NewManager ensures the workspace root exists and returns a manager for it.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "repairops-workspaces")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string { return m.root }

var reNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives a filesystem-friendly repo slug: lowercased, runs of
// non-alphanumerics collapsed to '-', capped at 32 chars.
func Slug(repoURL string) string {
	s := strings.ToLower(strings.TrimSuffix(repoURL, ".git"))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	s = strings.TrimPrefix(s, "git@")
	s = reNonAlnum.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 32 {
		s = s[len(s)-32:]
		s = strings.Trim(s, "-")
	}
	if s == "" {
		s = "repo"
	}
	return s
}

// Allocate creates a fresh exclusive directory for one task. os.Mkdir
// fails if the name already exists, so concurrent allocations can never
// share a directory.
func (m *Manager) Allocate(repoURL string) (string, error) {
	name := fmt.Sprintf("%s-ws-%d-%s", Slug(repoURL), time.Now().Unix(), uuid.NewString()[:8])
	dir := filepath.Join(m.root, name)
	if err := os.Mkdir(dir, 0o750); err != nil {
		return "", fmt.Errorf("allocate workspace %s: %w", name, err)
	}
	slog.Debug("Allocated workspace", logfields.Path(dir), logfields.Repo(repoURL))
	return dir, nil
}

// Release removes a workspace directory. It refuses anything outside the
// root and retries transient removal errors, which show up as permission
// errors on platforms with lazy file locks.
func (m *Manager) Release(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}
	if !strings.HasPrefix(abs, m.root+string(filepath.Separator)) {
		return fmt.Errorf("refusing to release %s: outside workspace root %s", abs, m.root)
	}

	var lastErr error
	for attempt := 0; attempt < releaseRetries; attempt++ {
		if lastErr = os.RemoveAll(abs); lastErr == nil {
			slog.Debug("Released workspace", logfields.Path(abs))
			return nil
		}
		time.Sleep(releaseBackoff)
	}
	return fmt.Errorf("release workspace %s: %w", abs, lastErr)
}

// CloneInto clones the repository into <workspace>/repo and returns the
// repo directory. A non-empty token is supplied through transport auth so
// it never appears in the on-disk remote URL.
func (m *Manager) CloneInto(ctx context.Context, workspaceDir, repoURL, branch, token string) (string, error) {
	repoDir := filepath.Join(workspaceDir, "repo")

	opts := &git.CloneOptions{URL: repoURL}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}
	if token != "" {
		opts.Auth = &http.BasicAuth{Username: "token", Password: token}
	}

	start := time.Now()
	if _, err := git.PlainCloneContext(ctx, repoDir, false, opts); err != nil {
		return "", fmt.Errorf("clone %s: %w", repoURL, err)
	}
	slog.Info("Repository cloned",
		logfields.Repo(repoURL),
		logfields.Branch(branch),
		logfields.Path(repoDir),
		logfields.DurationMS(time.Since(start)))
	return repoDir, nil
}

// Sweep removes workspace directories older than maxAge and returns how
// many were reclaimed. Only direct children matching the workspace naming
// pattern are considered.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.Contains(e.Name(), "-ws-") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := m.Release(filepath.Join(m.root, e.Name())); err != nil {
			slog.Warn("Stale workspace sweep failed", logfields.Path(e.Name()), logfields.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Swept stale workspaces", slog.Int("removed", removed))
	}
	return removed, nil
}
