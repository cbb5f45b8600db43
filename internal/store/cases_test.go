package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/repairops/internal/extract"
)

const repoA = "https://github.com/acme/app.git"

func revision(sig, excType, messageKey string) RevisionInput {
	return RevisionInput{
		RepoURL:       repoA,
		CodeHost:      "github",
		Signature:     sig,
		ExceptionType: excType,
		MessageKey:    messageKey,
		TopFrames:     "main.py:handler",
		TriggerType:   TriggerError,
		TriggerText:   "ValueError: boom",
	}
}

func TestRecordBugCaseRevisionUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.RecordBugCaseRevision(ctx, revision("sig-1", "ValueError", "boom"))
	require.NoError(t, err)

	second, err := s.RecordBugCaseRevision(ctx, revision("sig-1", "ValueError", "boom again"))
	require.NoError(t, err)
	assert.Equal(t, first, second, "same (repo_url, signature) must reuse the case")

	c, revisions, err := s.GetBugCase(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "boom again", c.MessageKey, "case metadata follows the latest revision")
	assert.Len(t, revisions, 2)
	assert.GreaterOrEqual(t, c.UpdatedAt, revisions[0].CreatedAt)
}

func TestRecordBugCaseRevisionDistinctSignatures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.RecordBugCaseRevision(ctx, revision("sig-1", "ValueError", "boom"))
	require.NoError(t, err)
	b, err := s.RecordBugCaseRevision(ctx, revision("sig-2", "KeyError", "missing"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestQualityScoreBumpsOnCleanPR(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := revision("sig-1", "ValueError", "boom")
	in.PreflightOK = true
	in.PRURL = "https://github.com/acme/app/pull/1"
	id, err := s.RecordBugCaseRevision(ctx, in)
	require.NoError(t, err)

	// Failed attempt leaves the score alone.
	_, err = s.RecordBugCaseRevision(ctx, revision("sig-1", "ValueError", "boom"))
	require.NoError(t, err)

	c, _, err := s.GetBugCase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, c.QualityScore)
}

func TestSearchSimilarCasesExactSignatureWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunk := "Traceback (most recent call last):\n" +
		"  File \"app/main.py\", line 42, in handler\n" +
		"    x = int(v)\n" +
		"ValueError: invalid literal for int() with base 10: 'abc'\n"
	f := extract.Extract(chunk, 10)
	require.NotEmpty(t, f.Signature)

	in := revision(f.Signature, f.ExceptionType, f.MessageKey)
	caseID, err := s.RecordBugCaseRevision(ctx, in)
	require.NoError(t, err)

	// Decoy in another repo with the same signature must not surface.
	decoy := in
	decoy.RepoURL = "https://github.com/other/repo.git"
	_, err = s.RecordBugCaseRevision(ctx, decoy)
	require.NoError(t, err)

	got, err := s.SearchSimilarCases(ctx, repoA, chunk, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, caseID, got[0].CaseID)
}

func TestSearchSimilarCasesFallsBackToFTS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	caseID, err := s.RecordBugCaseRevision(ctx,
		revision("sig-fts", "ConnectionError", "connection refused to upstream"))
	require.NoError(t, err)

	// Different wording, same vocabulary: no exact signature hit, FTS must
	// still find the case.
	got, err := s.SearchSimilarCases(ctx, repoA, "ConnectionError: upstream refused", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, caseID, got[0].CaseID)
}

func TestQueryBugCasesBySignatureHex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sig := strings.Repeat("ab", 32)
	caseID, err := s.RecordBugCaseRevision(ctx, revision(sig, "ValueError", "boom"))
	require.NoError(t, err)

	items, total, err := s.QueryBugCases(ctx, CaseQuery{Q: sig, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, caseID, items[0].CaseID)
}

func TestQueryBugCasesFreeText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordBugCaseRevision(ctx, revision("sig-1", "TimeoutError", "deadline exceeded"))
	require.NoError(t, err)
	_, err = s.RecordBugCaseRevision(ctx, revision("sig-2", "KeyError", "missing field"))
	require.NoError(t, err)

	items, total, err := s.QueryBugCases(ctx, CaseQuery{Q: "deadline", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "TimeoutError", items[0].ExceptionType)
}

func TestQueryBugCasesListAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, sig := range []string{"s1", "s2", "s3"} {
		_, err := s.RecordBugCaseRevision(ctx, revision(sig, "ValueError", "boom "+sig))
		require.NoError(t, err)
	}

	items, total, err := s.QueryBugCases(ctx, CaseQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 2)

	rest, _, err := s.QueryBugCases(ctx, CaseQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestGetBugCaseNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.GetBugCase(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
