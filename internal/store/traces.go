package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound marks a lookup with no matching row.
var ErrNotFound = errors.New("not found")

const (
	maxExcerptChars = 2000
	maxMessageChars = 2000
)

// NewTraceID mints an opaque unique trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// CreateTrace inserts a trace in RUNNING state.
func (s *Store) CreateTrace(ctx context.Context, traceID, repoURL, codeHost, signature, excerpt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traces (trace_id, created_at, repo_url, code_host, error_signature, error_excerpt, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		traceID, time.Now().Unix(), repoURL, codeHost, signature, clip(excerpt, maxExcerptChars), TraceRunning,
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// FinishTraceOK marks a running trace DONE. Idempotent: a terminal trace
// is left untouched.
func (s *Store) FinishTraceOK(ctx context.Context, traceID string) error {
	return s.finishTrace(ctx, traceID, TraceDone, "", "")
}

// FinishTraceFail marks a running trace FAILED with the failing step and
// cause.
func (s *Store) FinishTraceFail(ctx context.Context, traceID, failureStep, failureMessage string) error {
	return s.finishTrace(ctx, traceID, TraceFailed, failureStep, failureMessage)
}

func (s *Store) finishTrace(ctx context.Context, traceID, status, failureStep, failureMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE traces SET finished_at = ?, status = ?, failure_step = ?, failure_message = ?
		WHERE trace_id = ? AND status = ?`,
		time.Now().Unix(), status,
		nullable(failureStep), nullable(clip(failureMessage, maxMessageChars)),
		traceID, TraceRunning,
	)
	if err != nil {
		return fmt.Errorf("finish trace: %w", err)
	}
	return nil
}

// SetTraceCommit records the pushed commit SHA on the trace.
func (s *Store) SetTraceCommit(ctx context.Context, traceID, sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE traces SET commit_sha = ? WHERE trace_id = ?`, sha, traceID); err != nil {
		return fmt.Errorf("set trace commit: %w", err)
	}
	return nil
}

// SetTraceMR records the opened change-request URL on the trace.
func (s *Store) SetTraceMR(ctx context.Context, traceID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE traces SET mr_url = ? WHERE trace_id = ?`, url, traceID); err != nil {
		return fmt.Errorf("set trace mr: %w", err)
	}
	return nil
}

// StartStep records a step entering RUNNING.
func (s *Store) StartStep(ctx context.Context, traceID, stepName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (trace_id, step_name, started_at, status) VALUES (?, ?, ?, ?)`,
		traceID, stepName, time.Now().Unix(), StepRunning,
	)
	if err != nil {
		return fmt.Errorf("start step: %w", err)
	}
	return nil
}

// FinishStepOK closes a running step as OK. Late writes against a
// terminal step are no-ops because of the status guard.
func (s *Store) FinishStepOK(ctx context.Context, traceID, stepName, message string) error {
	return s.finishStep(ctx, traceID, stepName, StepOK, message)
}

// FinishStepFail closes a running step as FAIL with the captured cause.
func (s *Store) FinishStepFail(ctx context.Context, traceID, stepName, message string) error {
	return s.finishStep(ctx, traceID, stepName, StepFail, message)
}

func (s *Store) finishStep(ctx context.Context, traceID, stepName, status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE steps SET finished_at = ?, status = ?, message = ?
		WHERE trace_id = ? AND step_name = ? AND status = ?`,
		time.Now().Unix(), status, clip(message, maxMessageChars),
		traceID, stepName, StepRunning,
	)
	if err != nil {
		return fmt.Errorf("finish step: %w", err)
	}
	return nil
}

// TraceFilter narrows ListTraces.
type TraceFilter struct {
	RepoURL string
	Status  string
	Limit   int
	Offset  int
}

// ListTraces returns traces newest first plus the unpaginated total.
func (s *Store) ListTraces(ctx context.Context, f TraceFilter) ([]Trace, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if f.RepoURL != "" {
		where += " AND repo_url = ?"
		args = append(args, f.RepoURL)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM traces"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count traces: %w", err)
	}

	query := `SELECT trace_id, created_at, finished_at, repo_url, code_host, error_signature,
		error_excerpt, status, failure_step, failure_message, mr_url, commit_sha
		FROM traces` + where + ` ORDER BY created_at DESC, trace_id DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(f.Limit), clampOffset(f.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	var traces []Trace
	for rows.Next() {
		tr, err := scanTrace(rows)
		if err != nil {
			return nil, 0, err
		}
		traces = append(traces, tr)
	}
	return traces, total, rows.Err()
}

// GetTrace returns one trace with its steps in execution order.
func (s *Store) GetTrace(ctx context.Context, traceID string) (Trace, []Step, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT trace_id, created_at, finished_at, repo_url, code_host, error_signature,
			error_excerpt, status, failure_step, failure_message, mr_url, commit_sha
		FROM traces WHERE trace_id = ?`, traceID)
	tr, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Trace{}, nil, fmt.Errorf("trace %s: %w", traceID, ErrNotFound)
	}
	if err != nil {
		return Trace{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, step_name, started_at, finished_at, status, message
		FROM steps WHERE trace_id = ? ORDER BY id`, traceID)
	if err != nil {
		return Trace{}, nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var (
			st       Step
			finished sql.NullInt64
			message  sql.NullString
		)
		if err := rows.Scan(&st.TraceID, &st.StepName, &st.StartedAt, &finished, &st.Status, &message); err != nil {
			return Trace{}, nil, fmt.Errorf("scan step: %w", err)
		}
		st.FinishedAt = finished.Int64
		st.Message = message.String
		steps = append(steps, st)
	}
	return tr, steps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (Trace, error) {
	var (
		tr       Trace
		finished sql.NullInt64
		fStep    sql.NullString
		fMsg     sql.NullString
		mrURL    sql.NullString
		sha      sql.NullString
	)
	err := row.Scan(&tr.TraceID, &tr.CreatedAt, &finished, &tr.RepoURL, &tr.CodeHost,
		&tr.ErrorSignature, &tr.ErrorExcerpt, &tr.Status, &fStep, &fMsg, &mrURL, &sha)
	if err != nil {
		return Trace{}, err
	}
	tr.FinishedAt = finished.Int64
	tr.FailureStep = fStep.String
	tr.FailureMessage = fMsg.String
	tr.MRURL = mrURL.String
	tr.CommitSHA = sha.String
	return tr, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
