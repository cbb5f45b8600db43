package codehost

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// gitOps holds the local git plumbing shared by both host adapters.
type gitOps struct {
	dir   string
	token string
	name  string
	email string
}

func (g *gitOps) auth() transport.AuthMethod {
	if g.token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "token", Password: g.token}
}

func (g *gitOps) open() (*git.Repository, *git.Worktree, error) {
	repo, err := git.PlainOpen(g.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, nil, fmt.Errorf("open worktree: %w", err)
	}
	return repo, wt, nil
}

// createBranch creates and checks out a new local branch from HEAD.
func (g *gitOps) createBranch(name string) error {
	_, wt, err := g.open()
	if err != nil {
		return err
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	})
	if err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// checkout switches to an existing branch, discarding local changes when
// force is set.
func (g *gitOps) checkout(branch string, force bool) error {
	_, wt, err := g.open()
	if err != nil {
		return err
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Force:  force,
	})
	if err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

// commitAndPush stages all changes, commits, and pushes the branch.
// Returns the new commit SHA.
func (g *gitOps) commitAndPush(ctx context.Context, branch, message string) (string, error) {
	repo, wt, err := g.open()
	if err != nil {
		return "", err
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: g.name, Email: g.email, When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	refspec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       g.auth(),
	})
	if err != nil {
		return "", fmt.Errorf("push %s: %w", branch, err)
	}
	return hash.String(), nil
}

// fetchAndCheckout fetches a remote ref into a local branch and switches
// to it. Used to continue work on an existing PR head.
func (g *gitOps) fetchAndCheckout(ctx context.Context, refspec, localBranch string) error {
	repo, _, err := g.open()
	if err != nil {
		return err
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(refspec)},
		Auth:       g.auth(),
		Force:      true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("fetch %s: %w", refspec, err)
	}
	return g.checkout(localBranch, true)
}

// headSHA returns the current HEAD commit.
func (g *gitOps) headSHA() (string, error) {
	repo, _, err := g.open()
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve head: %w", err)
	}
	return ref.Hash().String(), nil
}

// ChangedFiles lists paths with uncommitted modifications.
func (g *gitOps) ChangedFiles() ([]string, error) {
	_, wt, err := g.open()
	if err != nil {
		return nil, err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}

	var files []string
	for path, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		files = append(files, path)
	}
	return files, nil
}

// LastCommitPatch renders HEAD's diff against its first parent. A root
// commit yields an empty patch.
func (g *gitOps) LastCommitPatch() (string, error) {
	repo, _, err := g.open()
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve head: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", fmt.Errorf("load head commit: %w", err)
	}
	if commit.NumParents() == 0 {
		return "", nil
	}
	parent, err := commit.Parent(0)
	if err != nil {
		return "", fmt.Errorf("load parent commit: %w", err)
	}
	patch, err := parent.Patch(commit)
	if err != nil {
		return "", fmt.Errorf("render patch: %w", err)
	}
	return patch.String(), nil
}
