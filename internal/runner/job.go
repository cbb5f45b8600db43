// Package runner drives the per-incident state machine: a fixed worker
// pool consumes a FIFO queue of jobs, and every transition is persisted
// as a trace step.
package runner

import (
	"sync"
	"time"

	"git.home.luguber.info/inful/repairops/internal/envelope"
)

// Kind classifies a queued job.
type Kind string

const (
	KindEvent     Kind = "EVENT"
	KindPRComment Kind = "PR_COMMENT"
)

// PRFeedback carries a reviewer comment on an open change request.
type PRFeedback struct {
	RepoURL  string
	CodeHost string
	PRURL    string
	PRNumber int
	Comment  string
}

// Job is one unit of work for the pool.
type Job struct {
	TaskID     string
	Kind       Kind
	Event      *envelope.Event
	PRFeedback *PRFeedback
	CreatedAt  time.Time
}

// Task statuses surfaced on GET /v1/tasks/{id}.
const (
	TaskQueued  = "QUEUED"
	TaskRunning = "RUNNING"
	TaskDone    = "DONE"
	TaskFailed  = "FAILED"
)

// Task is the in-memory record for one accepted job.
type Task struct {
	TaskID       string `json:"task_id"`
	Kind         Kind   `json:"kind"`
	Status       string `json:"status"`
	RepoURL      string `json:"repo_url"`
	TraceID      string `json:"trace_id,omitempty"`
	WorkspaceDir string `json:"workspace_dir,omitempty"`
	Branch       string `json:"branch,omitempty"`
	CommitSHA    string `json:"commit_sha,omitempty"`
	MRURL        string `json:"mr_url,omitempty"`
	Error        string `json:"error,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Tasks is the mutex-guarded task map shared by handlers and workers.
type Tasks struct {
	mu sync.RWMutex
	m  map[string]*Task
}

// NewTasks returns an empty task map.
func NewTasks() *Tasks {
	return &Tasks{m: make(map[string]*Task)}
}

// Put stores a task record.
func (t *Tasks) Put(task *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task.UpdatedAt = time.Now().Unix()
	t.m[task.TaskID] = task
}

// Get returns a copy of a task record.
func (t *Tasks) Get(taskID string) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.m[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Update applies fn to a task under the lock.
func (t *Tasks) Update(taskID string, fn func(*Task)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if task, ok := t.m[taskID]; ok {
		fn(task)
		task.UpdatedAt = time.Now().Unix()
	}
}
