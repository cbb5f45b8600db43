package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/repairops/internal/envelope"
	"git.home.luguber.info/inful/repairops/internal/extract"
	"git.home.luguber.info/inful/repairops/internal/logfields"
	"git.home.luguber.info/inful/repairops/internal/runner"
	"git.home.luguber.info/inful/repairops/internal/store"
)

const maxRequestBytes = 1 << 20

// handleIngestTask accepts one incident event and enqueues an EVENT job.
func (s *Server) handleIngestTask(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable_body")
		return
	}

	ev, err := envelope.Decode(raw, s.cfg.MaxFrames)
	if err != nil {
		var verr *envelope.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Kind)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_event")
		return
	}

	job := &runner.Job{
		TaskID:    "task-" + uuid.NewString(),
		Kind:      runner.KindEvent,
		Event:     ev,
		CreatedAt: time.Now(),
	}
	s.enqueue(w, job, ev.Repo.RepoURL)
}

type prCommentRequest struct {
	RepoURL  string `json:"repo_url"`
	PRURL    string `json:"pr_url"`
	PRNumber int    `json:"pr_number"`
	Comment  string `json:"comment"`
	CodeHost string `json:"code_host"`
}

// handlePRComment accepts reviewer feedback on an open change request.
func (s *Server) handlePRComment(w http.ResponseWriter, r *http.Request) {
	var req prCommentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	if req.RepoURL == "" {
		writeError(w, http.StatusBadRequest, "repo_url_required")
		return
	}
	if req.PRNumber <= 0 {
		writeError(w, http.StatusBadRequest, "pr_number_required")
		return
	}
	if strings.TrimSpace(req.Comment) == "" {
		writeError(w, http.StatusBadRequest, "comment_required")
		return
	}
	if req.CodeHost == "" {
		req.CodeHost = s.cfg.CodeHost
	}

	job := &runner.Job{
		TaskID: "task-" + uuid.NewString(),
		Kind:   runner.KindPRComment,
		PRFeedback: &runner.PRFeedback{
			RepoURL:  req.RepoURL,
			CodeHost: req.CodeHost,
			PRURL:    req.PRURL,
			PRNumber: req.PRNumber,
			Comment:  req.Comment,
		},
		CreatedAt: time.Now(),
	}
	s.enqueue(w, job, req.RepoURL)
}

// enqueue registers the task record and hands the job to the queue.
func (s *Server) enqueue(w http.ResponseWriter, job *runner.Job, repoURL string) {
	s.opts.Tasks.Put(&runner.Task{
		TaskID:    job.TaskID,
		Kind:      job.Kind,
		Status:    runner.TaskQueued,
		RepoURL:   repoURL,
		CreatedAt: time.Now().Unix(),
	})

	if err := s.opts.Queue.Enqueue(job); err != nil {
		s.opts.Tasks.Update(job.TaskID, func(t *runner.Task) {
			t.Status = runner.TaskFailed
			t.Error = err.Error()
		})
		if errors.Is(err, runner.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "queue_full")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable")
		return
	}

	slog.Info("Task accepted",
		logfields.TaskID(job.TaskID),
		logfields.Repo(repoURL),
		slog.String("kind", string(job.Kind)))
	writeJSON(w, http.StatusOK, map[string]string{"task_id": job.TaskID})
}

type retrievalRequest struct {
	ErrorContent string `json:"error_content"`
	RepoURL      string `json:"repo_url"`
}

// handleDebugRetrieval exposes the extraction pipeline and case search
// for troubleshooting collector output.
func (s *Server) handleDebugRetrieval(w http.ResponseWriter, r *http.Request) {
	var req retrievalRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	if strings.TrimSpace(req.ErrorContent) == "" {
		writeError(w, http.StatusBadRequest, "error_content_required")
		return
	}

	f := extract.Extract(req.ErrorContent, s.cfg.MaxFrames)
	matches, err := s.opts.Store.SearchSimilarCases(r.Context(), req.RepoURL, req.ErrorContent, 5)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retrieval_failed")
		return
	}
	if matches == nil {
		matches = []store.BugCase{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"features": map[string]any{
			"exception_type": f.ExceptionType,
			"message_key":    f.MessageKey,
			"signature":      f.Signature,
			"top_frames":     f.TopFrames,
			"frames":         f.Frames,
		},
		"matches": matches,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.opts.Tasks.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	traces, total, err := s.opts.Store.ListTraces(r.Context(), store.TraceFilter{
		RepoURL: q.Get("repo_url"),
		Status:  q.Get("status"),
		Limit:   atoiDefault(q.Get("limit"), 50),
		Offset:  atoiDefault(q.Get("offset"), 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}
	if traces == nil {
		traces = []store.Trace{}
	}
	if q.Get("format") == "array" {
		writeJSON(w, http.StatusOK, traces)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": traces, "total": total})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	trace, steps, err := s.opts.Store.GetTrace(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup_failed")
		return
	}
	if steps == nil {
		steps = []store.Step{}
	}

	body := map[string]any{"trace": trace, "steps": steps}
	if trace.ErrorExcerpt != "" {
		// Best effort; a failed search never fails the read.
		if matches, err := s.opts.Store.SearchSimilarCases(r.Context(), trace.RepoURL, trace.ErrorExcerpt, 1); err == nil && len(matches) > 0 {
			body["top_match"] = matches[0]
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListBugCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cases, total, err := s.opts.Store.QueryBugCases(r.Context(), store.CaseQuery{
		RepoURL: q.Get("repo_url"),
		Q:       q.Get("q"),
		Limit:   atoiDefault(q.Get("limit"), 50),
		Offset:  atoiDefault(q.Get("offset"), 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}
	if cases == nil {
		cases = []store.BugCase{}
	}
	if q.Get("format") == "array" {
		writeJSON(w, http.StatusOK, cases)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": cases, "total": total})
}

func (s *Server) handleGetBugCase(w http.ResponseWriter, r *http.Request) {
	c, revisions, err := s.opts.Store.GetBugCase(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup_failed")
		return
	}
	if revisions == nil {
		revisions = []store.BugCaseRevision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": c, "revisions": revisions})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.opts.Queue.Depth(),
	})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
