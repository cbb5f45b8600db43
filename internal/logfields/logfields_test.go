package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"TraceID", KeyTraceID, "t1", TraceID("t1")},
		{"TaskID", KeyTaskID, "task1", TaskID("task1")},
		{"Step", KeyStep, "CREATE_PR", Step("CREATE_PR")},
		{"Repo", KeyRepo, "https://example/r.git", Repo("https://example/r.git")},
		{"CodeHost", KeyCodeHost, "github", CodeHost("github")},
		{"Branch", KeyBranch, "fix/x-1", Branch("fix/x-1")},
		{"Fingerprint", KeyFingerprint, "abc", Fingerprint("abc")},
		{"CaseID", KeyCaseID, "c1", CaseID("c1")},
		{"Worker", KeyWorker, "worker-0", Worker("worker-0")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"URL", KeyURL, "http://example", URL("http://example")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError {
		t.Fatalf("Error key mismatch: %s", attr.Key)
	}
	if attr.Value.String() != "" {
		t.Fatalf("Expected empty error string, got %s", attr.Value.String())
	}
	attr = Error(errors.New("boom"))
	if attr.Value.String() != "boom" {
		t.Fatalf("Expected 'boom', got %s", attr.Value.String())
	}
}
