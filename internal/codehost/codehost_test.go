package codehost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixBranch(t *testing.T) {
	got := FixBranch("ValueError in handler")
	assert.Regexp(t, regexp.MustCompile(`^fix/valueerror-in-handler-\d+$`), got)

	got = FixBranch("???")
	assert.Regexp(t, regexp.MustCompile(`^fix/auto-\d+$`), got)
}

func TestOwnerRepo(t *testing.T) {
	owner, repo, err := ownerRepo("https://github.com/acme/app.git")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "app", repo)

	_, _, err = ownerRepo("https://github.com/just-one-segment")
	assert.Error(t, err)
}

func TestProjectPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://gitlab.example.com/team/sub/svc.git", "team/sub/svc"},
		{"git@gitlab.example.com:team/svc.git", "team/svc"},
		{"https://github.com/acme/app", "acme/app"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, projectPath(tc.in), "project path of %q", tc.in)
	}
}

func TestHostBase(t *testing.T) {
	assert.Equal(t, "https://gitlab.example.com", hostBase("https://gitlab.example.com/team/svc.git"))
	assert.Equal(t, "http://gitlab.local", hostBase("http://gitlab.local/g/p.git"))
}

func TestNewRejectsUnknownHost(t *testing.T) {
	_, err := New("forgejo", Options{RepoURL: "https://example.com/a/b.git"})
	assert.Error(t, err)
}

func newTestGitLab(t *testing.T, handler http.Handler) *GitLab {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	h, err := newGitLab(Options{
		RepoURL:       "https://gitlab.example.com/team/svc.git",
		RepoDir:       t.TempDir(),
		Token:         "glpat-test",
		DefaultBranch: "main",
	})
	require.NoError(t, err)
	h.apiBase = srv.URL + "/api/v4"
	h.httpClient = srv.Client()
	return h
}

func TestGitLabCreateMergeRequest(t *testing.T) {
	var gotPath, gotToken string
	var gotPayload map[string]string

	h := newTestGitLab(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotToken = r.Header.Get("PRIVATE-TOKEN")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"web_url": "https://gitlab.example.com/team/svc/-/merge_requests/5",
		})
	}))

	url, err := h.CreatePullRequest(context.Background(), "fix/boom-1", "Fix boom", "details")
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.example.com/team/svc/-/merge_requests/5", url)
	assert.Equal(t, "/api/v4/projects/team%2Fsvc/merge_requests", gotPath)
	assert.Equal(t, "glpat-test", gotToken)
	assert.Equal(t, "fix/boom-1", gotPayload["source_branch"])
	assert.Equal(t, "main", gotPayload["target_branch"])
}

func TestGitLabSurfacesClientErrors(t *testing.T) {
	h := newTestGitLab(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"403 Forbidden"}`, http.StatusForbidden)
	}))

	_, err := h.CreatePullRequest(context.Background(), "b", "t", "d")
	require.Error(t, err)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusForbidden, remote.Status)
}

func TestGitLabRetriesServerErrors(t *testing.T) {
	calls := 0
	h := newTestGitLab(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"default_branch": "develop"})
	}))
	h.defaultBranch = ""

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	base, err := h.baseBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "develop", base)
	assert.Equal(t, 2, calls)
}
