package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/repairops/internal/extract"
)

const (
	maxTriggerChars = 20000
	maxPRBodyChars  = 20000
	maxDiffChars    = 200000
)

// RevisionInput carries everything recorded for one fix attempt.
type RevisionInput struct {
	RepoURL       string
	CodeHost      string
	Signature     string
	ExceptionType string
	MessageKey    string
	TopFrames     string

	TraceID          string
	TriggerType      string // TriggerError or TriggerPRComment
	TriggerText      string
	PRURL            string
	PRTitle          string
	PRBody           string
	CommitSHA        string
	ChangedFilesJSON string
	DiffText         string
	PreflightOK      bool
}

// RecordBugCaseRevision upserts the case keyed by (repo_url, signature),
// appends an immutable revision row, and refreshes the case's full-text
// row. Returns the case id.
func (s *Store) RecordBugCaseRevision(ctx context.Context, in RevisionInput) (string, error) {
	if in.RepoURL == "" || in.Signature == "" {
		return "", fmt.Errorf("record revision: repo_url and signature are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()

	var caseID string
	err = tx.QueryRowContext(ctx,
		`SELECT case_id FROM bug_cases WHERE repo_url = ? AND signature = ?`,
		in.RepoURL, in.Signature,
	).Scan(&caseID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		caseID = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bug_cases (case_id, repo_url, code_host, signature, exception_type,
				message_key, top_frames, status, quality_score, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'OPEN', 0, ?, ?)`,
			caseID, in.RepoURL, in.CodeHost, in.Signature,
			in.ExceptionType, in.MessageKey, in.TopFrames, now, now,
		)
		if err != nil {
			return "", fmt.Errorf("insert case: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("lookup case: %w", err)
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE bug_cases SET exception_type = ?, message_key = ?, top_frames = ?,
				updated_at = ? WHERE case_id = ?`,
			in.ExceptionType, in.MessageKey, in.TopFrames, now, caseID,
		)
		if err != nil {
			return "", fmt.Errorf("update case: %w", err)
		}
	}

	// Attempts that produced a reviewable, preflight-clean change raise the
	// case's ranking weight.
	if in.PreflightOK && in.PRURL != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bug_cases SET quality_score = quality_score + 1 WHERE case_id = ?`, caseID); err != nil {
			return "", fmt.Errorf("bump quality: %w", err)
		}
	}

	preflight := 0
	if in.PreflightOK {
		preflight = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bug_case_revisions (case_id, trace_id, trigger_type, trigger_text, pr_url,
			pr_title, pr_body, commit_sha, changed_files_json, diff_text, preflight_ok, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		caseID, nullable(in.TraceID), in.TriggerType, clip(in.TriggerText, maxTriggerChars),
		nullable(in.PRURL), nullable(in.PRTitle), clip(in.PRBody, maxPRBodyChars),
		nullable(in.CommitSHA), nullable(in.ChangedFilesJSON), clip(in.DiffText, maxDiffChars),
		preflight, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert revision: %w", err)
	}

	// Refresh the FTS row: delete-then-insert keeps exactly one row per case.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bug_cases_fts WHERE case_id = ?`, caseID); err != nil {
		return "", fmt.Errorf("clear fts row: %w", err)
	}
	content := ftsContent(in.ExceptionType, in.MessageKey, in.TopFrames)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bug_cases_fts (case_id, repo_url, content) VALUES (?, ?, ?)`,
		caseID, in.RepoURL, content); err != nil {
		return "", fmt.Errorf("insert fts row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit revision: %w", err)
	}
	return caseID, nil
}

func ftsContent(exceptionType, messageKey, topFrames string) string {
	parts := []string{
		extract.Normalize(strings.ToLower(exceptionType)),
		extract.Normalize(messageKey),
		strings.ReplaceAll(topFrames, "|", " "),
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// SearchSimilarCases retrieves cases likely matching the given error text
// within one repository. Exact-signature hits win; otherwise a full-text
// MATCH ranked by BM25.
func (s *Store) SearchSimilarCases(ctx context.Context, repoURL, text string, limit int) ([]BugCase, error) {
	limit = clampLimit(limit)
	f := extract.Extract(text, 8)

	if f.Signature != "" {
		cases, err := s.casesBySignature(ctx, repoURL, f.Signature, limit)
		if err != nil {
			return nil, err
		}
		if len(cases) > 0 {
			return cases, nil
		}
	}

	tokens := extract.FTSTokens(f.ExceptionType, f.NormalizedQuery)
	if len(tokens) == 0 {
		return nil, nil
	}
	return s.casesByMatch(ctx, repoURL, tokens, limit)
}

func (s *Store) casesBySignature(ctx context.Context, repoURL, signature string, limit int) ([]BugCase, error) {
	query := `SELECT ` + caseColumns + ` FROM bug_cases WHERE signature = ?`
	args := []any{signature}
	if repoURL != "" {
		query += ` AND repo_url = ?`
		args = append(args, repoURL)
	}
	query += ` ORDER BY quality_score DESC, updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cases by signature: %w", err)
	}
	defer rows.Close()
	return scanCases(rows)
}

func (s *Store) casesByMatch(ctx context.Context, repoURL string, tokens []string, limit int) ([]BugCase, error) {
	query := `
		SELECT ` + prefixedCaseColumns("c") + `
		FROM bug_cases_fts f JOIN bug_cases c ON c.case_id = f.case_id
		WHERE bug_cases_fts MATCH ?`
	args := []any{matchExpr(tokens)}
	if repoURL != "" {
		query += ` AND f.repo_url = ?`
		args = append(args, repoURL)
	}
	query += ` ORDER BY bm25(bug_cases_fts) ASC, c.quality_score DESC, c.updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cases by match: %w", err)
	}
	defer rows.Close()
	return scanCases(rows)
}

// matchExpr quotes each token so punctuation cannot reach the FTS query
// parser, OR-joined for recall.
func matchExpr(tokens []string) string {
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, ``)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// CaseQuery narrows QueryBugCases.
type CaseQuery struct {
	RepoURL string
	Q       string
	Limit   int
	Offset  int
}

// QueryBugCases serves the listing/search endpoint. A 64-hex query matches
// signatures exactly; tokenizable text runs through FTS; anything else
// falls back to LIKE; an empty query lists by recency. Returns the page
// plus the unpaginated total.
func (s *Store) QueryBugCases(ctx context.Context, q CaseQuery) ([]BugCase, int, error) {
	limit, offset := clampLimit(q.Limit), clampOffset(q.Offset)
	trimmed := strings.TrimSpace(q.Q)

	switch {
	case extract.IsSHA256Hex(trimmed):
		return s.pagedCases(ctx,
			` WHERE signature = ?`+repoClause(q.RepoURL), ` ORDER BY updated_at DESC`,
			append([]any{trimmed}, repoArg(q.RepoURL)...), limit, offset)

	case trimmed != "":
		if tokens := extract.FreeTextTokens(trimmed); len(tokens) > 0 {
			return s.pagedMatch(ctx, q.RepoURL, tokens, limit, offset)
		}
		like := "%" + trimmed + "%"
		return s.pagedCases(ctx,
			` WHERE (exception_type LIKE ? OR message_key LIKE ? OR signature LIKE ?)`+repoClause(q.RepoURL),
			` ORDER BY updated_at DESC`,
			append([]any{like, like, like}, repoArg(q.RepoURL)...), limit, offset)

	default:
		where := ` WHERE 1=1` + repoClause(q.RepoURL)
		return s.pagedCases(ctx, where, ` ORDER BY updated_at DESC`, repoArg(q.RepoURL), limit, offset)
	}
}

func repoClause(repoURL string) string {
	if repoURL == "" {
		return ""
	}
	return ` AND repo_url = ?`
}

func repoArg(repoURL string) []any {
	if repoURL == "" {
		return nil
	}
	return []any{repoURL}
}

func (s *Store) pagedCases(ctx context.Context, where, order string, args []any, limit, offset int) ([]BugCase, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bug_cases`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}

	query := `SELECT ` + caseColumns + ` FROM bug_cases` + where + order + ` LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	cases, err := scanCases(rows)
	return cases, total, err
}

func (s *Store) pagedMatch(ctx context.Context, repoURL string, tokens []string, limit, offset int) ([]BugCase, int, error) {
	where := ` WHERE bug_cases_fts MATCH ?`
	args := []any{matchExpr(tokens)}
	if repoURL != "" {
		where += ` AND f.repo_url = ?`
		args = append(args, repoURL)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM bug_cases_fts f` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count matched cases: %w", err)
	}

	query := `
		SELECT ` + prefixedCaseColumns("c") + `
		FROM bug_cases_fts f JOIN bug_cases c ON c.case_id = f.case_id` + where + `
		ORDER BY bm25(bug_cases_fts) ASC, c.quality_score DESC, c.updated_at DESC
		LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query matched cases: %w", err)
	}
	defer rows.Close()

	cases, err := scanCases(rows)
	return cases, total, err
}

// GetBugCase returns one case with its revisions, newest first.
func (s *Store) GetBugCase(ctx context.Context, caseID string) (BugCase, []BugCaseRevision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM bug_cases WHERE case_id = ?`, caseID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BugCase{}, nil, fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	if err != nil {
		return BugCase{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, trace_id, trigger_type, trigger_text, pr_url, pr_title, pr_body,
			commit_sha, changed_files_json, diff_text, preflight_ok, created_at
		FROM bug_case_revisions WHERE case_id = ? ORDER BY id DESC`, caseID)
	if err != nil {
		return BugCase{}, nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	var revisions []BugCaseRevision
	for rows.Next() {
		var (
			r         BugCaseRevision
			traceID   sql.NullString
			trigger   sql.NullString
			prURL     sql.NullString
			prTitle   sql.NullString
			prBody    sql.NullString
			sha       sql.NullString
			changed   sql.NullString
			diff      sql.NullString
			preflight int
		)
		err := rows.Scan(&r.CaseID, &traceID, &r.TriggerType, &trigger, &prURL, &prTitle,
			&prBody, &sha, &changed, &diff, &preflight, &r.CreatedAt)
		if err != nil {
			return BugCase{}, nil, fmt.Errorf("scan revision: %w", err)
		}
		r.TraceID = traceID.String
		r.TriggerText = trigger.String
		r.PRURL = prURL.String
		r.PRTitle = prTitle.String
		r.PRBody = prBody.String
		r.CommitSHA = sha.String
		r.ChangedFilesJSON = changed.String
		r.DiffText = diff.String
		r.PreflightOK = preflight != 0
		revisions = append(revisions, r)
	}
	return c, revisions, rows.Err()
}

const caseColumns = `case_id, repo_url, code_host, signature, exception_type, message_key,
	top_frames, status, quality_score, created_at, updated_at`

func prefixedCaseColumns(p string) string {
	cols := strings.Split(caseColumns, ",")
	for i, c := range cols {
		cols[i] = p + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func scanCases(rows *sql.Rows) ([]BugCase, error) {
	var cases []BugCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func scanCase(row rowScanner) (BugCase, error) {
	var (
		c          BugCase
		excType    sql.NullString
		messageKey sql.NullString
		topFrames  sql.NullString
	)
	err := row.Scan(&c.CaseID, &c.RepoURL, &c.CodeHost, &c.Signature, &excType,
		&messageKey, &topFrames, &c.Status, &c.QualityScore, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return BugCase{}, err
	}
	c.ExceptionType = excType.String
	c.MessageKey = messageKey.String
	c.TopFrames = topFrames.String
	return c, nil
}
