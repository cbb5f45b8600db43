package httpserver

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v56/github"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/repairops/internal/envelope"
	"git.home.luguber.info/inful/repairops/internal/logfields"
	"git.home.luguber.info/inful/repairops/internal/runner"
)

// handleGitHubWebhook turns PR comments and reviews into PR-feedback
// jobs. Signature verification applies when a webhook secret is
// configured; ValidatePayload compares the HMAC in constant time.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, []byte(s.cfg.GitHubWebhookSecret))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_signature")
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported_event")
		return
	}

	fb, ok := s.feedbackFromEvent(event)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	comment, ok := s.applyCommandPrefix(fb.Comment)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	fb.Comment = comment

	job := &runner.Job{
		TaskID:     "task-" + uuid.NewString(),
		Kind:       runner.KindPRComment,
		PRFeedback: fb,
		CreatedAt:  time.Now(),
	}
	slog.Info("Webhook feedback accepted",
		logfields.Repo(fb.RepoURL),
		slog.Int("pr_number", fb.PRNumber))
	s.enqueue(w, job, fb.RepoURL)
}

// feedbackFromEvent extracts PR feedback from the webhook payload types
// the pipeline reacts to.
func (s *Server) feedbackFromEvent(event any) (*runner.PRFeedback, bool) {
	switch e := event.(type) {
	case *github.IssueCommentEvent:
		if e.GetAction() != "created" || !e.GetIssue().IsPullRequest() {
			return nil, false
		}
		return &runner.PRFeedback{
			RepoURL:  e.GetRepo().GetCloneURL(),
			CodeHost: envelope.HostGitHub,
			PRURL:    e.GetIssue().GetPullRequestLinks().GetHTMLURL(),
			PRNumber: e.GetIssue().GetNumber(),
			Comment:  e.GetComment().GetBody(),
		}, true

	case *github.PullRequestReviewCommentEvent:
		if e.GetAction() != "created" {
			return nil, false
		}
		return &runner.PRFeedback{
			RepoURL:  e.GetRepo().GetCloneURL(),
			CodeHost: envelope.HostGitHub,
			PRURL:    e.GetPullRequest().GetHTMLURL(),
			PRNumber: e.GetPullRequest().GetNumber(),
			Comment:  e.GetComment().GetBody(),
		}, true

	case *github.PullRequestReviewEvent:
		if e.GetAction() != "submitted" || strings.TrimSpace(e.GetReview().GetBody()) == "" {
			return nil, false
		}
		return &runner.PRFeedback{
			RepoURL:  e.GetRepo().GetCloneURL(),
			CodeHost: envelope.HostGitHub,
			PRURL:    e.GetPullRequest().GetHTMLURL(),
			PRNumber: e.GetPullRequest().GetNumber(),
			Comment:  e.GetReview().GetBody(),
		}, true

	default:
		return nil, false
	}
}

// applyCommandPrefix gates comments behind the configured command, e.g.
// "/ai-ops". The prefix is stripped before the comment reaches the
// fixer. No configured prefix accepts every comment.
func (s *Server) applyCommandPrefix(comment string) (string, bool) {
	prefix := s.cfg.PRCommentCommandPrefix
	if prefix == "" {
		return comment, true
	}
	trimmed := strings.TrimSpace(comment)
	if !strings.HasPrefix(trimmed, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, prefix)), true
}
