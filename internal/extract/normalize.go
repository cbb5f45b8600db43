// Package extract converts raw log text into structured error evidence:
// normalized message keys, stack frames, and a stable fingerprint. The
// collector and the trace store share this pipeline so that signatures
// computed on either side of the wire agree.
package extract

import (
	"regexp"
	"strings"
)

var (
	reUUID      = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	reHex       = regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b`)
	reTimestamp = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}([.,]\d+)?\b`)
	reWinPath   = regexp.MustCompile(`[A-Za-z]:\\[^\s"']+`)
	reUnixPath  = regexp.MustCompile(`(/[^ \n\t"']+)+`)
	reNumber    = regexp.MustCompile(`\b\d{2,}\b`)
	reQuoted    = regexp.MustCompile(`['"].*?['"]`)
	reSpaces    = regexp.MustCompile(`\s+`)
)

// Normalize redacts volatile substrings so equivalent errors produce
// identical text. Timestamp redaction runs before number redaction, paths
// before numbers. Idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = reUUID.ReplaceAllString(s, "<uuid>")
	s = reHex.ReplaceAllString(s, "<hex>")
	s = reTimestamp.ReplaceAllString(s, "<ts>")
	s = reWinPath.ReplaceAllString(s, "<path>")
	s = reUnixPath.ReplaceAllString(s, "<path>")
	s = reNumber.ReplaceAllString(s, "<num>")
	return s
}

// MessageKey produces the 160-char matching key for an exception message:
// normalization plus quoted-string redaction and whitespace collapse.
func MessageKey(message string) string {
	s := strings.TrimSpace(message)
	if s == "" {
		return ""
	}
	s = Normalize(s)
	s = reQuoted.ReplaceAllString(s, "<str>")
	s = collapseSpaces(s)
	return truncate(s, 160)
}

func collapseSpaces(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
