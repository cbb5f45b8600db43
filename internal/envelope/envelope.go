// Package envelope defines the versioned incident event sent from the
// collector to the task server, and its strict validation rules.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaVersion is the only wire version the server accepts.
const SchemaVersion = "1.0"

// Code hosts the pipeline can open change requests against.
const (
	HostGitHub = "github"
	HostGitLab = "gitlab"
)

// Frame is one stack frame carried on the wire.
type Frame struct {
	File     string `json:"file"`
	Function string `json:"function"`
}

// Repo identifies the repository an incident belongs to.
type Repo struct {
	RepoURL       string `json:"repo_url"`
	CodeHost      string `json:"code_host"`
	DefaultBranch string `json:"default_branch"`
}

// Service identifies the emitting application.
type Service struct {
	Name        string `json:"name"`
	Environment string `json:"environment"`
}

// ErrorBody carries the extracted evidence.
type ErrorBody struct {
	ExceptionType string  `json:"exception_type"`
	MessageKey    string  `json:"message_key"`
	Fingerprint   string  `json:"fingerprint"`
	Frames        []Frame `json:"frames"`
	RawExcerpt    string  `json:"raw_excerpt"`
}

// Event is the canonical incident envelope, schema_version "1.0".
type Event struct {
	SchemaVersion string    `json:"schema_version"`
	EventID       string    `json:"event_id"`
	OccurredAt    int64     `json:"occurred_at"`
	Repo          Repo      `json:"repo"`
	Service       Service   `json:"service"`
	Error         ErrorBody `json:"error"`
}

// ValidationError carries the machine-readable kind surfaced in HTTP
// error bodies as {"error": "<kind>"}.
type ValidationError struct {
	Kind string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid incident event: %s", e.Kind)
}

func invalid(kind string) error { return &ValidationError{Kind: kind} }

// Validate enforces the wire invariants. maxFrames <= 0 disables the
// frame-count bound.
func (e *Event) Validate(maxFrames int) error {
	if e.SchemaVersion != SchemaVersion {
		return invalid("schema_version_unsupported")
	}
	if strings.TrimSpace(e.EventID) == "" {
		return invalid("event_id_required")
	}
	if e.OccurredAt <= 0 {
		return invalid("occurred_at_required")
	}
	if strings.TrimSpace(e.Repo.RepoURL) == "" {
		return invalid("repo_url_required")
	}
	switch e.Repo.CodeHost {
	case HostGitHub, HostGitLab:
	default:
		return invalid("code_host_required")
	}
	if strings.TrimSpace(e.Error.Fingerprint) == "" {
		return invalid("fingerprint_required")
	}
	if strings.TrimSpace(e.Error.RawExcerpt) == "" &&
		strings.TrimSpace(e.Error.ExceptionType) == "" &&
		strings.TrimSpace(e.Error.MessageKey) == "" {
		return invalid("error_body_required")
	}
	if maxFrames > 0 && len(e.Error.Frames) > maxFrames {
		return invalid("too_many_frames")
	}
	return nil
}

// Decode parses and validates an event from raw JSON. Unknown fields are
// ignored; type mismatches surface as validation errors rather than raw
// json errors so callers can return a stable kind.
func Decode(raw []byte, maxFrames int) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, invalid("malformed_json")
	}
	if err := e.Validate(maxFrames); err != nil {
		return nil, err
	}
	return &e, nil
}
