package store

// Trace statuses.
const (
	TraceRunning = "RUNNING"
	TraceDone    = "DONE"
	TraceFailed  = "FAILED"
)

// Step statuses.
const (
	StepRunning = "RUNNING"
	StepOK      = "OK"
	StepFail    = "FAIL"
)

// Revision trigger types.
const (
	TriggerError     = "ERROR"
	TriggerPRComment = "PR_COMMENT"
)

// Trace is one end-to-end server-side execution of an incident.
type Trace struct {
	TraceID        string `json:"trace_id"`
	CreatedAt      int64  `json:"created_at"`
	FinishedAt     int64  `json:"finished_at,omitempty"`
	RepoURL        string `json:"repo_url"`
	CodeHost       string `json:"code_host"`
	ErrorSignature string `json:"error_signature"`
	ErrorExcerpt   string `json:"error_excerpt"`
	Status         string `json:"status"`
	FailureStep    string `json:"failure_step,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
	MRURL          string `json:"mr_url,omitempty"`
	CommitSHA      string `json:"commit_sha,omitempty"`
}

// Step is one state-machine transition within a trace.
type Step struct {
	TraceID    string `json:"trace_id"`
	StepName   string `json:"step_name"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at,omitempty"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// BugCase is the durable per-repo signature bucket.
type BugCase struct {
	CaseID        string `json:"case_id"`
	RepoURL       string `json:"repo_url"`
	CodeHost      string `json:"code_host"`
	Signature     string `json:"signature"`
	ExceptionType string `json:"exception_type,omitempty"`
	MessageKey    string `json:"message_key,omitempty"`
	TopFrames     string `json:"top_frames,omitempty"`
	Status        string `json:"status"`
	QualityScore  int    `json:"quality_score"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// BugCaseRevision is one append-only fix attempt on a case.
type BugCaseRevision struct {
	CaseID           string `json:"case_id"`
	TraceID          string `json:"trace_id,omitempty"`
	TriggerType      string `json:"trigger_type"`
	TriggerText      string `json:"trigger_text,omitempty"`
	PRURL            string `json:"pr_url,omitempty"`
	PRTitle          string `json:"pr_title,omitempty"`
	PRBody           string `json:"pr_body,omitempty"`
	CommitSHA        string `json:"commit_sha,omitempty"`
	ChangedFilesJSON string `json:"changed_files_json,omitempty"`
	DiffText         string `json:"diff_text,omitempty"`
	PreflightOK      bool   `json:"preflight_ok"`
	CreatedAt        int64  `json:"created_at"`
}
