package httpserver

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/repairops/internal/config"
	"git.home.luguber.info/inful/repairops/internal/runner"
	"git.home.luguber.info/inful/repairops/internal/store"
)

func newTestServer(t *testing.T, mutate func(*config.Server)) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "traces.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Server{
		HTTPHost:            "127.0.0.1",
		HTTPPort:            0,
		APIKey:              "secret",
		StaticDir:           t.TempDir(),
		MaxFrames:           32,
		CodeHost:            "github",
		GitHubWebhookSecret: "hook-secret",
	}
	if mutate != nil {
		mutate(cfg)
	}

	// Queue without started workers: accepted jobs stay QUEUED.
	queue := runner.NewQueue(4, 1, nil, nil)
	srv := New(cfg, Options{
		Store: st,
		Queue: queue,
		Tasks: runner.NewTasks(),
	})
	return srv, st
}

func validEventBody() []byte {
	return []byte(`{
		"schema_version": "1.0",
		"event_id": "evt-1",
		"occurred_at": 1700000000,
		"repo": {"repo_url": "https://github.com/acme/app", "code_host": "github", "default_branch": "main"},
		"service": {"name": "app", "environment": "prod"},
		"error": {
			"exception_type": "ValueError",
			"message_key": "invalid literal for int with base <num> <tok>",
			"fingerprint": "` + strings.Repeat("a1", 32) + `",
			"frames": [{"file": "main.py", "function": "handler"}],
			"raw_excerpt": "ValueError: invalid literal"
		}
	}`)
}

func postJSON(srv *Server, path, apiKey string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIngestTaskAccepted(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := postJSON(srv, "/v1/tasks", "secret", validEventBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["task_id"])

	task, ok := srv.opts.Tasks.Get(resp["task_id"])
	require.True(t, ok)
	assert.Equal(t, runner.TaskQueued, task.Status)
	assert.Equal(t, "https://github.com/acme/app", task.RepoURL)
}

func TestIngestTaskMissingFingerprint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	body := bytes.Replace(validEventBody(), []byte(`"fingerprint": "`+strings.Repeat("a1", 32)+`",`), nil, 1)
	rec := postJSON(srv, "/v1/tasks", "secret", body)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"fingerprint_required"}`, rec.Body.String())
}

func TestIngestTaskRejectsBadAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := postJSON(srv, "/v1/tasks", "wrong", validEventBody())
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_api_key"}`, rec.Body.String())
}

func TestIngestTaskQueueFull(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// Capacity 4 in the fixture; fill it.
	for i := 0; i < 4; i++ {
		rec := postJSON(srv, "/v1/tasks", "secret", validEventBody())
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := postJSON(srv, "/v1/tasks", "secret", validEventBody())
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"queue_full"}`, rec.Body.String())
}

func TestPRCommentValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := postJSON(srv, "/v1/pr-comments", "secret", []byte(`{"repo_url":"","pr_number":3,"comment":"fix it"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"repo_url_required"}`, rec.Body.String())

	rec = postJSON(srv, "/v1/pr-comments", "secret",
		[]byte(`{"repo_url":"https://github.com/acme/app","pr_number":3,"comment":"tighten the bounds check"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["task_id"])
}

func signedWebhook(srv *Server, eventType, secret string, payload []byte) *httptest.ResponseRecorder {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/github", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func issueCommentPayload(body string) []byte {
	return []byte(`{
		"action": "created",
		"issue": {
			"number": 12,
			"pull_request": {"html_url": "https://github.com/acme/app/pull/12"}
		},
		"comment": {"body": ` + strconvQuote(body) + `},
		"repository": {"clone_url": "https://github.com/acme/app.git"}
	}`)
}

func strconvQuote(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := signedWebhook(srv, "issue_comment", "wrong-secret", issueCommentPayload("/ai-ops please fix"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookCommandPrefixGate(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Server) {
		c.PRCommentCommandPrefix = "/ai-ops"
	})

	rec := signedWebhook(srv, "issue_comment", "hook-secret", issueCommentPayload("nice work"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())

	rec = signedWebhook(srv, "issue_comment", "hook-secret", issueCommentPayload("/ai-ops fix the nil check"))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["task_id"])
}

func TestWebhookIgnoresNonPRComments(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	payload := []byte(`{
		"action": "created",
		"issue": {"number": 9},
		"comment": {"body": "plain issue comment"},
		"repository": {"clone_url": "https://github.com/acme/app.git"}
	}`)
	rec := signedWebhook(srv, "issue_comment", "hook-secret", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/nope", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTracesFormats(t *testing.T) {
	srv, st := newTestServer(t, nil)
	ctx := t.Context()

	id := store.NewTraceID()
	require.NoError(t, st.CreateTrace(ctx, id, "https://github.com/acme/app", "github", strings.Repeat("b2", 32), "boom"))

	req := httptest.NewRequest(http.MethodGet, "/v1/traces", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var paged struct {
		Items []store.Trace `json:"items"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paged))
	assert.Equal(t, 1, paged.Total)
	require.Len(t, paged.Items, 1)
	assert.Equal(t, id, paged.Items[0].TraceID)

	req = httptest.NewRequest(http.MethodGet, "/v1/traces?format=array", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var arr []store.Trace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &arr))
	assert.Len(t, arr, 1)
}

func TestDebugRetrievalReturnsFeatures(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	body := []byte(`{"error_content": "Traceback (most recent call last):\n  File \"app/main.py\", line 42, in handler\n    x = int(v)\nValueError: invalid literal for int() with base 10: 'abc'"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/debug/retrieval", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Features struct {
			ExceptionType string `json:"exception_type"`
			Signature     string `json:"signature"`
		} `json:"features"`
		Matches []store.BugCase `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ValueError", resp.Features.ExceptionType)
	assert.Len(t, resp.Features.Signature, 64)
	assert.NotNil(t, resp.Matches)
}

func TestStaticServesIndexAndBlocksTraversal(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(srv.cfg.StaticDir, "index.html"),
		[]byte("<html>ui</html>"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ui")

	// Unknown UI route falls back to index.html.
	req = httptest.NewRequest(http.MethodGet, "/traces/abc", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ui")

	// Unknown API route stays a JSON 404.
	req = httptest.NewRequest(http.MethodGet, "/v1/unknown", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not_found"}`, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
