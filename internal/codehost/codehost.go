// Package codehost provides a uniform capability set over GitHub and
// GitLab: branch, commit and push, open a change request, fetch a PR
// branch, and restore the working tree.
package codehost

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"git.home.luguber.info/inful/repairops/internal/envelope"
)

// Host is the capability surface the task runner drives.
type Host interface {
	// CreateFixBranch creates and checks out fix/<reason>-<epoch>.
	CreateFixBranch(ctx context.Context, reason string) (string, error)
	// CommitAndPush stages everything, commits, pushes the branch, and
	// returns the commit SHA.
	CommitAndPush(ctx context.Context, branch, message string) (string, error)
	// CreatePullRequest opens a PR/MR from branch onto the default branch
	// and returns its URL.
	CreatePullRequest(ctx context.Context, branch, title, body string) (string, error)
	// FetchPRBranch resolves the named head branch of an open PR/MR,
	// fetches and checks it out, and returns the branch name.
	FetchPRBranch(ctx context.Context, prNumber int) (string, error)
	// CleanUp checks out the base branch so the tree is left neutral.
	CleanUp(ctx context.Context, baseBranch string) error

	// ChangedFiles lists paths with uncommitted modifications.
	ChangedFiles() ([]string, error)
	// LastCommitPatch renders the diff of HEAD against its first parent.
	LastCommitPatch() (string, error)
}

// Options configure a host adapter for one workspace.
type Options struct {
	RepoURL        string
	RepoDir        string
	Token          string
	DefaultBranch  string
	CommitterName  string
	CommitterEmail string
}

func (o *Options) committer() (string, string) {
	name, email := o.CommitterName, o.CommitterEmail
	if name == "" {
		name = "repairops"
	}
	if email == "" {
		email = "repairops@localhost"
	}
	return name, email
}

// New builds the adapter for the given code host kind.
func New(kind string, opts Options) (Host, error) {
	switch kind {
	case envelope.HostGitHub:
		return newGitHub(opts)
	case envelope.HostGitLab:
		return newGitLab(opts)
	default:
		return nil, fmt.Errorf("unsupported code host %q", kind)
	}
}

// RemoteError is a failed call against the code-host API.
type RemoteError struct {
	Host   string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Host, e.Status, e.Body)
}

var reBranchJunk = regexp.MustCompile(`[^a-z0-9]+`)

// FixBranch derives the fix/<reason>-<epoch> branch name.
func FixBranch(reason string) string {
	slug := strings.Trim(reBranchJunk.ReplaceAllString(strings.ToLower(reason), "-"), "-")
	if slug == "" {
		slug = "auto"
	}
	return fmt.Sprintf("fix/%s-%d", slug, time.Now().Unix())
}

// ownerRepo splits a GitHub-style clone URL into owner and repo.
func ownerRepo(repoURL string) (string, string, error) {
	p := projectPath(repoURL)
	parts := strings.Split(p, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("cannot derive owner/repo from %q", repoURL)
	}
	return parts[0], parts[1], nil
}

// projectPath extracts the host-relative project path ("group/sub/proj")
// from a clone URL.
func projectPath(repoURL string) string {
	s := strings.TrimSuffix(strings.TrimSpace(repoURL), ".git")
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ReplaceAll(s, ":", "/")
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return strings.Trim(s, "/")
}

// hostBase extracts "scheme://host" from a clone URL for API calls.
func hostBase(repoURL string) string {
	s := strings.TrimSpace(repoURL)
	scheme := "https"
	if i := strings.Index(s, "://"); i >= 0 {
		scheme = s[:i]
		s = s[i+3:]
	}
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	for _, sep := range []string{"/", ":"} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i]
		}
	}
	return scheme + "://" + s
}
