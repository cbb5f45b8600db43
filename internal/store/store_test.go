package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTraceLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := NewTraceID()
	require.NoError(t, s.CreateTrace(ctx, id, "https://github.com/acme/app.git", "github", "sig-1", "ValueError: boom"))

	require.NoError(t, s.StartStep(ctx, id, "CREATE_FIX_BRANCH"))
	require.NoError(t, s.FinishStepOK(ctx, id, "CREATE_FIX_BRANCH", "fix/auto-1"))
	require.NoError(t, s.SetTraceCommit(ctx, id, "abc123"))
	require.NoError(t, s.SetTraceMR(ctx, id, "https://github.com/acme/app/pull/7"))
	require.NoError(t, s.FinishTraceOK(ctx, id))

	tr, steps, err := s.GetTrace(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TraceDone, tr.Status)
	assert.Equal(t, "abc123", tr.CommitSHA)
	assert.Equal(t, "https://github.com/acme/app/pull/7", tr.MRURL)
	assert.GreaterOrEqual(t, tr.FinishedAt, tr.CreatedAt)

	require.Len(t, steps, 1)
	assert.Equal(t, StepOK, steps[0].Status)
	assert.GreaterOrEqual(t, steps[0].FinishedAt, steps[0].StartedAt)
}

func TestFinishTraceIsTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := NewTraceID()
	require.NoError(t, s.CreateTrace(ctx, id, "r", "github", "sig", "x"))
	require.NoError(t, s.FinishTraceFail(ctx, id, "PREFLIGHT_CHECK", "syntax error"))

	// A late OK must not resurrect a failed trace.
	require.NoError(t, s.FinishTraceOK(ctx, id))

	tr, _, err := s.GetTrace(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TraceFailed, tr.Status)
	assert.Equal(t, "PREFLIGHT_CHECK", tr.FailureStep)
	assert.Equal(t, "syntax error", tr.FailureMessage)
}

func TestFinishStepGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := NewTraceID()
	require.NoError(t, s.CreateTrace(ctx, id, "r", "github", "sig", "x"))
	require.NoError(t, s.StartStep(ctx, id, "GIT_COMMIT_PUSH"))
	require.NoError(t, s.FinishStepFail(ctx, id, "GIT_COMMIT_PUSH", "push rejected"))

	// Late OK on the now-terminal step is a no-op.
	require.NoError(t, s.FinishStepOK(ctx, id, "GIT_COMMIT_PUSH", "fine"))

	_, steps, err := s.GetTrace(ctx, id)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, StepFail, steps[0].Status)
	assert.Equal(t, "push rejected", steps[0].Message)
}

func TestListTracesFilterAndTotal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := NewTraceID()
		require.NoError(t, s.CreateTrace(ctx, id, "repo-a", "github", "sig", "x"))
		if i == 0 {
			require.NoError(t, s.FinishTraceOK(ctx, id))
		}
	}
	require.NoError(t, s.CreateTrace(ctx, NewTraceID(), "repo-b", "gitlab", "sig", "x"))

	traces, total, err := s.ListTraces(ctx, TraceFilter{RepoURL: "repo-a", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, traces, 2)

	traces, total, err = s.ListTraces(ctx, TraceFilter{RepoURL: "repo-a", Status: TraceDone, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, traces, 1)
	assert.Equal(t, TraceDone, traces[0].Status)
}

func TestGetTraceNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.GetTrace(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExcerptAndMessageClipped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	id := NewTraceID()
	require.NoError(t, s.CreateTrace(ctx, id, "r", "github", "sig", string(long)))
	require.NoError(t, s.FinishTraceFail(ctx, id, "AI_AGENTIC_EDIT", string(long)))

	tr, _, err := s.GetTrace(ctx, id)
	require.NoError(t, err)
	assert.Len(t, tr.ErrorExcerpt, 2000)
	assert.Len(t, tr.FailureMessage, 2000)
}

func TestReopenPersistedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")

	s, err := New(path)
	require.NoError(t, err)
	id := NewTraceID()
	require.NoError(t, s.CreateTrace(context.Background(), id, "r", "github", "sig", "x"))
	require.NoError(t, s.Close())

	// Re-opening runs schema init and migration against existing tables.
	s2, err := New(path)
	require.NoError(t, err)
	defer s2.Close()

	tr, _, err := s2.GetTrace(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, tr.TraceID)
}
