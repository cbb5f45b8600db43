package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/repairops/internal/bus"
	"git.home.luguber.info/inful/repairops/internal/codehost"
	"git.home.luguber.info/inful/repairops/internal/envelope"
	"git.home.luguber.info/inful/repairops/internal/extract"
	"git.home.luguber.info/inful/repairops/internal/fixer"
	"git.home.luguber.info/inful/repairops/internal/logfields"
	"git.home.luguber.info/inful/repairops/internal/metrics"
	"git.home.luguber.info/inful/repairops/internal/notify"
	"git.home.luguber.info/inful/repairops/internal/preflight"
	"git.home.luguber.info/inful/repairops/internal/store"
	"git.home.luguber.info/inful/repairops/internal/workspace"
)

// Step names persisted on traces.
const (
	StepAllocateWorkspace = "ALLOCATE_WORKSPACE"
	StepCloneRepo         = "CLONE_REPO"
	StepCreateFixBranch   = "CREATE_FIX_BRANCH"
	StepFetchPRBranch     = "FETCH_PR_BRANCH"
	StepAgenticEdit       = "AI_AGENTIC_EDIT"
	StepProposePatch      = "AI_PROPOSE_PATCH"
	StepApplyPatch        = "APPLY_PATCH"
	StepPreflightCheck    = "PREFLIGHT_CHECK"
	StepSummary           = "AI_SUMMARY"
	StepCommitPush        = "GIT_COMMIT_PUSH"
	StepCreatePR          = "CREATE_PR"
	StepNotify            = "NOTIFY"
	StepCleanup           = "CLEANUP"

	failureCancelled = "CANCELLED"
	failureInternal  = "INTERNAL"
)

// FixerTool is the slice of the fixer the runner drives.
type FixerTool interface {
	Mode() fixer.Mode
	AgenticEdit(ctx context.Context, repoDir, errorText string) (string, error)
	ProposePatch(ctx context.Context, repoDir, errorText string) ([]fixer.Block, string, error)
	Summarize(ctx context.Context, repoDir, errorText, analysis string) (string, string, error)
}

// Workspaces is the slice of the workspace manager the runner uses.
type Workspaces interface {
	Allocate(repoURL string) (string, error)
	Release(dir string) error
	CloneInto(ctx context.Context, workspaceDir, repoURL, branch, token string) (string, error)
}

// HostFactory builds a code-host adapter for one workspace.
type HostFactory func(kind string, opts codehost.Options) (codehost.Host, error)

// Options carry the runner's static settings.
type Options struct {
	DefaultCodeHost string
	GitHubToken     string
	GitLabToken     string
	CommitterName   string
	CommitterEmail  string
}

func (o Options) token(host string) string {
	if host == envelope.HostGitLab {
		return o.GitLabToken
	}
	return o.GitHubToken
}

// Deps wires the runner's collaborators.
type Deps struct {
	Store       *store.Store
	Workspaces  Workspaces
	Fixer       FixerTool
	Tasks       *Tasks
	Notifier    *notify.Notifier
	Publisher   *bus.Publisher
	Recorder    metrics.Recorder
	HostFactory HostFactory
	Options     Options
}

// Runner executes jobs against the state machine.
type Runner struct {
	store       *store.Store
	workspaces  Workspaces
	fixer       FixerTool
	tasks       *Tasks
	notifier    *notify.Notifier
	publisher   *bus.Publisher
	recorder    metrics.Recorder
	hostFactory HostFactory
	opts        Options
}

// New builds a runner, defaulting optional collaborators.
func New(d Deps) *Runner {
	if d.Recorder == nil {
		d.Recorder = metrics.NoopRecorder{}
	}
	if d.HostFactory == nil {
		d.HostFactory = codehost.New
	}
	if d.Tasks == nil {
		d.Tasks = NewTasks()
	}
	if d.Notifier == nil {
		d.Notifier = notify.New(notify.Config{})
	}
	if d.Workspaces == nil {
		m, _ := workspace.NewManager("")
		d.Workspaces = m
	}
	return &Runner{
		store:       d.Store,
		workspaces:  d.Workspaces,
		fixer:       d.Fixer,
		tasks:       d.Tasks,
		notifier:    d.Notifier,
		publisher:   d.Publisher,
		recorder:    d.Recorder,
		hostFactory: d.HostFactory,
		opts:        d.Options,
	}
}

// Tasks exposes the shared task map.
func (r *Runner) Tasks() *Tasks { return r.tasks }

type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return fmt.Sprintf("step %s: %v", e.step, e.err) }
func (e *stepError) Unwrap() error { return e.err }

// step runs one state-machine transition with RUNNING/OK/FAIL
// persistence. Store writes use a background context so a cancelled
// worker still records its final state.
func (r *Runner) step(dbctx context.Context, traceID, name string, fn func() (string, error)) error {
	if err := r.store.StartStep(dbctx, traceID, name); err != nil {
		slog.Error("Failed to persist step start", logfields.TraceID(traceID), logfields.Step(name), logfields.Error(err))
	}
	start := time.Now()
	msg, err := fn()
	r.recorder.ObserveStepDuration(name, time.Since(start))
	if err != nil {
		r.recorder.IncStepResult(name, "fail")
		if dberr := r.store.FinishStepFail(dbctx, traceID, name, err.Error()); dberr != nil {
			slog.Error("Failed to persist step failure", logfields.TraceID(traceID), logfields.Step(name), logfields.Error(dberr))
		}
		return &stepError{step: name, err: err}
	}
	r.recorder.IncStepResult(name, "ok")
	if dberr := r.store.FinishStepOK(dbctx, traceID, name, msg); dberr != nil {
		slog.Error("Failed to persist step success", logfields.TraceID(traceID), logfields.Step(name), logfields.Error(dberr))
	}
	return nil
}

// runState accumulates what one job produced, for the trace and the
// bug-case revision.
type runState struct {
	repoURL       string
	codeHost      string
	defaultBranch string
	errorText     string
	features      extract.Features

	workspaceDir string
	repoDir      string
	branch       string
	host         codehost.Host

	analysis     string
	title        string
	body         string
	changedFiles []string
	diff         string
	commitSHA    string
	prURL        string
	preflightOK  bool
}

// RunJob executes one job end to end, including trace bookkeeping and
// bug-case revision capture. It never panics the worker; all failures
// land on the trace.
func (r *Runner) RunJob(ctx context.Context, job *Job) {
	dbctx := context.Background()
	traceID := store.NewTraceID()

	st := r.newRunState(job)
	r.tasks.Update(job.TaskID, func(t *Task) {
		t.Status = TaskRunning
		t.TraceID = traceID
	})

	if err := r.store.CreateTrace(dbctx, traceID, st.repoURL, st.codeHost, st.features.Signature, st.errorText); err != nil {
		slog.Error("Failed to create trace", logfields.TaskID(job.TaskID), logfields.Error(err))
		r.tasks.Update(job.TaskID, func(t *Task) {
			t.Status = TaskFailed
			t.Error = err.Error()
		})
		return
	}

	err := r.execute(ctx, dbctx, job, traceID, st)

	r.recordRevision(dbctx, job, traceID, st)

	if err != nil {
		failStep, msg := failureInternal, err.Error()
		var se *stepError
		if errors.As(err, &se) {
			failStep, msg = se.step, se.err.Error()
		}
		if errors.Is(err, context.Canceled) {
			failStep = failureCancelled
			msg = "server shutting down"
		}
		if dberr := r.store.FinishTraceFail(dbctx, traceID, failStep, msg); dberr != nil {
			slog.Error("Failed to finish trace", logfields.TraceID(traceID), logfields.Error(dberr))
		}
		r.recorder.IncTraceOutcome("failed")
		r.tasks.Update(job.TaskID, func(t *Task) {
			t.Status = TaskFailed
			t.Error = msg
		})
		r.publish(dbctx, "trace_failed", job, traceID, st, store.TraceFailed)
		slog.Warn("Trace failed",
			logfields.TraceID(traceID),
			logfields.Repo(st.repoURL),
			logfields.CodeHost(st.codeHost),
			logfields.Step(failStep),
			logfields.Error(err))
		return
	}

	if dberr := r.store.FinishTraceOK(dbctx, traceID); dberr != nil {
		slog.Error("Failed to finish trace", logfields.TraceID(traceID), logfields.Error(dberr))
	}
	r.recorder.IncTraceOutcome("done")
	r.tasks.Update(job.TaskID, func(t *Task) {
		t.Status = TaskDone
		t.MRURL = st.prURL
	})
	r.publish(dbctx, "trace_done", job, traceID, st, store.TraceDone)
	slog.Info("Trace completed",
		logfields.TraceID(traceID),
		logfields.Repo(st.repoURL),
		logfields.CodeHost(st.codeHost),
		logfields.URL(st.prURL))
}

func (r *Runner) newRunState(job *Job) *runState {
	st := &runState{}
	switch job.Kind {
	case KindPRComment:
		fb := job.PRFeedback
		st.repoURL = fb.RepoURL
		st.codeHost = fb.CodeHost
		if st.codeHost == "" {
			st.codeHost = r.opts.DefaultCodeHost
		}
		st.errorText = fb.Comment
		st.features = extract.Extract(fb.Comment, 8)
	default:
		ev := job.Event
		st.repoURL = ev.Repo.RepoURL
		st.codeHost = ev.Repo.CodeHost
		st.defaultBranch = ev.Repo.DefaultBranch
		st.errorText = ev.Error.RawExcerpt
		st.features = extract.Features{
			ExceptionType: ev.Error.ExceptionType,
			MessageKey:    ev.Error.MessageKey,
			Signature:     ev.Error.Fingerprint,
		}
		frames := make([]extract.Frame, 0, len(ev.Error.Frames))
		for _, f := range ev.Error.Frames {
			frames = append(frames, extract.Frame{File: f.File, Function: f.Function})
		}
		st.features.Frames = frames
	}
	return st
}

func (r *Runner) execute(ctx, dbctx context.Context, job *Job, traceID string, st *runState) error {
	if err := r.step(dbctx, traceID, StepAllocateWorkspace, func() (string, error) {
		dir, err := r.workspaces.Allocate(st.repoURL)
		if err != nil {
			return "", err
		}
		st.workspaceDir = dir
		r.tasks.Update(job.TaskID, func(t *Task) { t.WorkspaceDir = dir })
		return dir, nil
	}); err != nil {
		return err
	}
	// The workspace is released whatever happens past this point.
	defer func() {
		if err := r.workspaces.Release(st.workspaceDir); err != nil {
			slog.Warn("Workspace release failed", logfields.Path(st.workspaceDir), logfields.Error(err))
		}
	}()

	token := r.opts.token(st.codeHost)
	if err := r.step(dbctx, traceID, StepCloneRepo, func() (string, error) {
		dir, err := r.workspaces.CloneInto(ctx, st.workspaceDir, st.repoURL, st.defaultBranch, token)
		if err != nil {
			return "", err
		}
		st.repoDir = dir
		return dir, nil
	}); err != nil {
		return err
	}

	host, err := r.hostFactory(st.codeHost, codehost.Options{
		RepoURL:        st.repoURL,
		RepoDir:        st.repoDir,
		Token:          token,
		DefaultBranch:  st.defaultBranch,
		CommitterName:  r.opts.CommitterName,
		CommitterEmail: r.opts.CommitterEmail,
	})
	if err != nil {
		return fmt.Errorf("build code-host adapter: %w", err)
	}
	st.host = host

	if job.Kind == KindPRComment {
		if err := r.step(dbctx, traceID, StepFetchPRBranch, func() (string, error) {
			branch, err := host.FetchPRBranch(ctx, job.PRFeedback.PRNumber)
			if err != nil {
				return "", err
			}
			st.branch = branch
			r.tasks.Update(job.TaskID, func(t *Task) { t.Branch = branch })
			return branch, nil
		}); err != nil {
			return err
		}
	} else {
		if err := r.step(dbctx, traceID, StepCreateFixBranch, func() (string, error) {
			reason := st.features.ExceptionType
			if reason == "" {
				reason = "auto"
			}
			branch, err := host.CreateFixBranch(ctx, reason)
			if err != nil {
				return "", err
			}
			st.branch = branch
			r.tasks.Update(job.TaskID, func(t *Task) { t.Branch = branch })
			return branch, nil
		}); err != nil {
			return err
		}
	}

	if r.fixer.Mode() == fixer.ModeBlocks {
		var blocks []fixer.Block
		if err := r.step(dbctx, traceID, StepProposePatch, func() (string, error) {
			var raw string
			var err error
			blocks, raw, err = r.fixer.ProposePatch(ctx, st.repoDir, st.errorText)
			st.analysis = raw
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d blocks", len(blocks)), nil
		}); err != nil {
			return err
		}
		if err := r.step(dbctx, traceID, StepApplyPatch, func() (string, error) {
			written, err := fixer.ApplyBlocks(st.repoDir, blocks)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d files written", len(written)), nil
		}); err != nil {
			return err
		}
	} else {
		if err := r.step(dbctx, traceID, StepAgenticEdit, func() (string, error) {
			analysis, err := r.fixer.AgenticEdit(ctx, st.repoDir, st.errorText)
			if err != nil {
				return "", err
			}
			st.analysis = analysis
			return clipMessage(analysis), nil
		}); err != nil {
			return err
		}
	}

	if files, err := host.ChangedFiles(); err == nil {
		st.changedFiles = files
	}

	if err := r.step(dbctx, traceID, StepPreflightCheck, func() (string, error) {
		res, err := preflight.Check(ctx, st.repoDir)
		if err != nil {
			return "", err
		}
		st.preflightOK = true
		return string(res.Language), nil
	}); err != nil {
		return err
	}

	if err := r.step(dbctx, traceID, StepSummary, func() (string, error) {
		title, body, err := r.fixer.Summarize(ctx, st.repoDir, st.errorText, st.analysis)
		if err != nil {
			return "", err
		}
		st.title, st.body = title, body
		return title, nil
	}); err != nil {
		return err
	}

	if err := r.step(dbctx, traceID, StepCommitPush, func() (string, error) {
		sha, err := host.CommitAndPush(ctx, st.branch, st.title)
		if err != nil {
			return "", err
		}
		st.commitSHA = sha
		r.tasks.Update(job.TaskID, func(t *Task) { t.CommitSHA = sha })
		if dberr := r.store.SetTraceCommit(dbctx, traceID, sha); dberr != nil {
			slog.Error("Failed to record commit sha", logfields.TraceID(traceID), logfields.Error(dberr))
		}
		return sha, nil
	}); err != nil {
		return err
	}
	if diff, err := host.LastCommitPatch(); err == nil {
		st.diff = diff
	}

	if err := r.step(dbctx, traceID, StepCreatePR, func() (string, error) {
		// A PR-feedback job pushes onto the existing PR head; the open PR
		// picks the commit up, so no new one is created.
		if job.Kind == KindPRComment && job.PRFeedback.PRURL != "" {
			st.prURL = job.PRFeedback.PRURL
			return "updated " + st.prURL, nil
		}
		url, err := host.CreatePullRequest(ctx, st.branch, st.title, st.body)
		if err != nil {
			return "", err
		}
		st.prURL = url
		return url, nil
	}); err != nil {
		return err
	}
	if dberr := r.store.SetTraceMR(dbctx, traceID, st.prURL); dberr != nil {
		slog.Error("Failed to record mr url", logfields.TraceID(traceID), logfields.Error(dberr))
	}
	r.tasks.Update(job.TaskID, func(t *Task) { t.MRURL = st.prURL })

	if r.notifier.Enabled() {
		// Best effort: a failed mail is a failed step, never a failed trace.
		if err := r.step(dbctx, traceID, StepNotify, func() (string, error) {
			return "", r.notifier.Send(notify.Summary{
				RepoURL:  st.repoURL,
				TraceID:  traceID,
				PRURL:    st.prURL,
				Title:    st.title,
				Excerpt:  st.errorText,
				Analysis: st.analysis,
			})
		}); err != nil {
			slog.Warn("Notification failed", logfields.TraceID(traceID), logfields.Error(err))
		}
	}

	if err := r.step(dbctx, traceID, StepCleanup, func() (string, error) {
		return "", host.CleanUp(ctx, st.defaultBranch)
	}); err != nil {
		return err
	}
	return nil
}

// recordRevision appends the attempt to the bug case for this signature.
// Attempts without a usable signature are not indexed.
func (r *Runner) recordRevision(dbctx context.Context, job *Job, traceID string, st *runState) {
	if st.features.Signature == "" {
		return
	}

	trigger := store.TriggerError
	if job.Kind == KindPRComment {
		trigger = store.TriggerPRComment
	}
	var changed string
	if len(st.changedFiles) > 0 {
		if raw, err := json.Marshal(st.changedFiles); err == nil {
			changed = string(raw)
		}
	}

	caseID, err := r.store.RecordBugCaseRevision(dbctx, store.RevisionInput{
		RepoURL:          st.repoURL,
		CodeHost:         st.codeHost,
		Signature:        st.features.Signature,
		ExceptionType:    st.features.ExceptionType,
		MessageKey:       st.features.MessageKey,
		TopFrames:        st.features.TopFrames,
		TraceID:          traceID,
		TriggerType:      trigger,
		TriggerText:      st.errorText,
		PRURL:            st.prURL,
		PRTitle:          st.title,
		PRBody:           st.body,
		CommitSHA:        st.commitSHA,
		ChangedFilesJSON: changed,
		DiffText:         st.diff,
		PreflightOK:      st.preflightOK,
	})
	if err != nil {
		slog.Error("Failed to record bug case revision",
			logfields.TraceID(traceID),
			logfields.Fingerprint(st.features.Signature),
			logfields.Error(err))
		return
	}
	slog.Debug("Bug case revision recorded",
		logfields.TraceID(traceID),
		logfields.CaseID(caseID),
		logfields.Fingerprint(st.features.Signature))
}

func (r *Runner) publish(ctx context.Context, kind string, job *Job, traceID string, st *runState, status string) {
	if r.publisher == nil {
		return
	}
	err := r.publisher.Publish(ctx, bus.Event{
		Kind:    kind,
		TaskID:  job.TaskID,
		TraceID: traceID,
		RepoURL: st.repoURL,
		Status:  status,
		MRURL:   st.prURL,
	})
	if err != nil {
		slog.Warn("Bus publish failed", logfields.TraceID(traceID), logfields.Error(err))
	}
}

func clipMessage(s string) string {
	if len(s) <= 500 {
		return s
	}
	return s[:500]
}
