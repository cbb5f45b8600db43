package codehost

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v56/github"
	"golang.org/x/oauth2"

	"git.home.luguber.info/inful/repairops/internal/logfields"
)

// GitHub drives a workspace repository hosted on github.com.
type GitHub struct {
	*gitOps
	client        *github.Client
	owner         string
	repo          string
	defaultBranch string
}

func newGitHub(opts Options) (*GitHub, error) {
	owner, repo, err := ownerRepo(opts.RepoURL)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(context.Background(),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	name, email := opts.committer()

	return &GitHub{
		gitOps:        &gitOps{dir: opts.RepoDir, token: opts.Token, name: name, email: email},
		client:        github.NewClient(httpClient),
		owner:         owner,
		repo:          repo,
		defaultBranch: opts.DefaultBranch,
	}, nil
}

// CreateFixBranch creates and checks out fix/<reason>-<epoch>.
func (h *GitHub) CreateFixBranch(ctx context.Context, reason string) (string, error) {
	branch := FixBranch(reason)
	if err := h.createBranch(branch); err != nil {
		return "", err
	}
	return branch, nil
}

// CommitAndPush stages, commits, and pushes the branch.
func (h *GitHub) CommitAndPush(ctx context.Context, branch, message string) (string, error) {
	return h.commitAndPush(ctx, branch, message)
}

// CreatePullRequest opens a PR onto the default branch and returns its URL.
func (h *GitHub) CreatePullRequest(ctx context.Context, branch, title, body string) (string, error) {
	base, err := h.baseBranch(ctx)
	if err != nil {
		return "", err
	}

	pr, resp, err := h.client.PullRequests.Create(ctx, h.owner, h.repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(branch),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return "", &RemoteError{Host: "github", Status: status, Body: err.Error()}
	}

	slog.Info("Pull request created",
		logfields.Repo(h.owner+"/"+h.repo),
		logfields.Branch(branch),
		logfields.URL(pr.GetHTMLURL()))
	return pr.GetHTMLURL(), nil
}

// FetchPRBranch resolves the PR's head branch, fetches it, and checks
// it out under its own name. A later push then advances the open PR.
func (h *GitHub) FetchPRBranch(ctx context.Context, prNumber int) (string, error) {
	pr, resp, err := h.client.PullRequests.Get(ctx, h.owner, h.repo, prNumber)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return "", &RemoteError{Host: "github", Status: status, Body: err.Error()}
	}
	branch := pr.GetHead().GetRef()
	if branch == "" {
		return "", fmt.Errorf("pull request %d has no head branch", prNumber)
	}

	refspec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)
	if err := h.fetchAndCheckout(ctx, refspec, branch); err != nil {
		return "", err
	}
	return branch, nil
}

// CleanUp force-checks-out the base branch.
func (h *GitHub) CleanUp(ctx context.Context, baseBranch string) error {
	if baseBranch == "" {
		var err error
		if baseBranch, err = h.baseBranch(ctx); err != nil {
			return err
		}
	}
	return h.checkout(baseBranch, true)
}

// baseBranch returns the configured default branch, discovering it from
// the API on first use when unset.
func (h *GitHub) baseBranch(ctx context.Context) (string, error) {
	if h.defaultBranch != "" {
		return h.defaultBranch, nil
	}
	repo, resp, err := h.client.Repositories.Get(ctx, h.owner, h.repo)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return "", &RemoteError{Host: "github", Status: status, Body: err.Error()}
	}
	h.defaultBranch = repo.GetDefaultBranch()
	return h.defaultBranch, nil
}
