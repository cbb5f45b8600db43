package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyTraceID     = "trace_id"
	KeyTaskID      = "task_id"
	KeyStep        = "step"
	KeyRepo        = "repo_url"
	KeyCodeHost    = "code_host"
	KeyBranch      = "branch"
	KeyFingerprint = "fingerprint"
	KeyCaseID      = "case_id"
	KeyWorker      = "worker"
	KeyPath        = "path"
	KeyURL         = "url"
	KeyDurationMS  = "duration_ms"
	KeyError       = "error"
	KeyMethod      = "method"
	KeyStatus      = "status"
	KeyRemoteAddr  = "remote_addr"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func TraceID(id string) slog.Attr      { return slog.String(KeyTraceID, id) }
func TaskID(id string) slog.Attr       { return slog.String(KeyTaskID, id) }
func Step(name string) slog.Attr       { return slog.String(KeyStep, name) }
func Repo(url string) slog.Attr        { return slog.String(KeyRepo, url) }
func CodeHost(h string) slog.Attr      { return slog.String(KeyCodeHost, h) }
func Branch(b string) slog.Attr        { return slog.String(KeyBranch, b) }
func Fingerprint(fp string) slog.Attr  { return slog.String(KeyFingerprint, fp) }
func CaseID(id string) slog.Attr       { return slog.String(KeyCaseID, id) }
func Worker(w string) slog.Attr        { return slog.String(KeyWorker, w) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr           { return slog.String(KeyURL, u) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr        { return slog.Int(KeyStatus, code) }
func RemoteAddr(a string) slog.Attr    { return slog.String(KeyRemoteAddr, a) }

func DurationMS(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d)/float64(time.Millisecond))
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
