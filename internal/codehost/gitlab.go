package codehost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// GitLab drives a workspace repository hosted on a GitLab instance. The
// REST surface used here is small enough that the v4 API is called
// directly.
type GitLab struct {
	*gitOps
	httpClient    *http.Client
	apiBase       string // e.g. https://gitlab.example.com/api/v4
	project       string // URL-encoded project path
	token         string
	defaultBranch string
}

func newGitLab(opts Options) (*GitLab, error) {
	project := projectPath(opts.RepoURL)
	if project == "" {
		return nil, fmt.Errorf("cannot derive project path from %q", opts.RepoURL)
	}
	name, email := opts.committer()

	return &GitLab{
		gitOps:        &gitOps{dir: opts.RepoDir, token: opts.Token, name: name, email: email},
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		apiBase:       hostBase(opts.RepoURL) + "/api/v4",
		project:       url.PathEscape(project),
		token:         opts.Token,
		defaultBranch: opts.DefaultBranch,
	}, nil
}

// CreateFixBranch creates and checks out fix/<reason>-<epoch>.
func (h *GitLab) CreateFixBranch(ctx context.Context, reason string) (string, error) {
	branch := FixBranch(reason)
	if err := h.createBranch(branch); err != nil {
		return "", err
	}
	return branch, nil
}

// CommitAndPush stages, commits, and pushes the branch.
func (h *GitLab) CommitAndPush(ctx context.Context, branch, message string) (string, error) {
	return h.commitAndPush(ctx, branch, message)
}

// CreatePullRequest opens a merge request onto the default branch and
// returns its web URL.
func (h *GitLab) CreatePullRequest(ctx context.Context, branch, title, body string) (string, error) {
	base, err := h.baseBranch(ctx)
	if err != nil {
		return "", err
	}

	payload := map[string]string{
		"source_branch": branch,
		"target_branch": base,
		"title":         title,
		"description":   body,
	}
	var out struct {
		WebURL string `json:"web_url"`
	}
	err = h.call(ctx, http.MethodPost, "/projects/"+h.project+"/merge_requests", payload, &out)
	if err != nil {
		return "", err
	}
	return out.WebURL, nil
}

// FetchPRBranch resolves the MR's source branch, fetches it, and checks
// it out under its own name. A later push then advances the open MR.
func (h *GitLab) FetchPRBranch(ctx context.Context, prNumber int) (string, error) {
	var out struct {
		SourceBranch string `json:"source_branch"`
	}
	path := fmt.Sprintf("/projects/%s/merge_requests/%d", h.project, prNumber)
	if err := h.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	if out.SourceBranch == "" {
		return "", fmt.Errorf("merge request %d has no source branch", prNumber)
	}

	refspec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", out.SourceBranch, out.SourceBranch)
	if err := h.fetchAndCheckout(ctx, refspec, out.SourceBranch); err != nil {
		return "", err
	}
	return out.SourceBranch, nil
}

// CleanUp force-checks-out the base branch.
func (h *GitLab) CleanUp(ctx context.Context, baseBranch string) error {
	if baseBranch == "" {
		var err error
		if baseBranch, err = h.baseBranch(ctx); err != nil {
			return err
		}
	}
	return h.checkout(baseBranch, true)
}

func (h *GitLab) baseBranch(ctx context.Context) (string, error) {
	if h.defaultBranch != "" {
		return h.defaultBranch, nil
	}
	var out struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := h.call(ctx, http.MethodGet, "/projects/"+h.project, nil, &out); err != nil {
		return "", err
	}
	if out.DefaultBranch == "" {
		out.DefaultBranch = "main"
	}
	h.defaultBranch = out.DefaultBranch
	return h.defaultBranch, nil
}

// call issues one API request with bounded retries on transport errors
// and 5xx responses.
func (h *GitLab) call(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal gitlab payload: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, h.apiBase+path, strings.NewReader(string(body)))
		if err != nil {
			return fmt.Errorf("build gitlab request: %w", err)
		}
		req.Header.Set("PRIVATE-TOKEN", h.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := h.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("gitlab request: %w", err))
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(&RemoteError{Host: "gitlab", Status: resp.StatusCode, Body: string(raw)})
		case resp.StatusCode >= 400:
			return &RemoteError{Host: "gitlab", Status: resp.StatusCode, Body: string(raw)}
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode gitlab response: %w", err)
		}
		return nil
	})
}
