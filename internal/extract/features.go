package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
)

// Frame is one stack frame, newest first per the language convention.
type Frame struct {
	File     string `json:"file"`
	Function string `json:"function"`
}

// Features is the structured evidence derived from one error chunk.
type Features struct {
	ExceptionType   string
	Message         string
	MessageKey      string
	Frames          []Frame
	TopFrames       string // "file:function | ..." capped at 5, for case rows
	Signature       string // hex SHA-256, see Fingerprint
	NormalizedQuery string // token source for full-text retrieval
}

var (
	reExceptionLine   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.$]*(?:Error|Exception))\s*:\s*(.*)$`)
	reExceptionInline = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.$]*(?:Error|Exception))\s*:\s*(.*)$`)
	reExceptionBare   = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.$]*(?:Error|Exception))\b`)
	rePyFrame         = regexp.MustCompile(`File\s+"([^"]+)",\s+line\s+(\d+),\s+in\s+([A-Za-z_][A-Za-z0-9_]*)`)
	reJvmFrame        = regexp.MustCompile(`(?m)^\s*at\s+([A-Za-z0-9_.$]+)\(([A-Za-z0-9_.+$-]+):(\d+)\)\s*$`)
)

// Extract runs the full feature pipeline over one raw error chunk.
// maxFrames <= 0 means no cap.
func Extract(raw string, maxFrames int) Features {
	normalized := Normalize(raw)
	excType, message := exceptionLine(normalized)
	frames := ExtractFrames(raw)
	if maxFrames > 0 && len(frames) > maxFrames {
		frames = frames[:maxFrames]
	}

	f := Features{
		ExceptionType: excType,
		Message:       message,
		MessageKey:    MessageKey(message),
		Frames:        frames,
	}
	f.TopFrames = joinFrames(frames, 5, " | ")
	f.NormalizedQuery = normalizedQuery(excType, f.MessageKey, frames)
	if f.NormalizedQuery == "" {
		f.NormalizedQuery = truncate(collapseSpaces(normalized), 500)
	}
	f.Signature = Fingerprint(excType, f.MessageKey, frames, raw)
	return f
}

// Fingerprint is the SHA-256 over lowercased exception type, message key,
// and the frame list ("file:function" joined by spaces, max 8 frames with a
// non-empty file). When that basis is empty it falls back to the normalized
// first 500 chars of the excerpt, and to "" for empty input.
func Fingerprint(exceptionType, messageKey string, frames []Frame, raw string) string {
	basis := strings.ToLower(strings.TrimSpace(exceptionType)) + "\n" +
		messageKey + "\n" + joinFrames(frames, 8, " ")
	if strings.TrimSpace(basis) != "" {
		return sha256Hex(basis)
	}
	fallback := truncate(collapseSpaces(Normalize(raw)), 500)
	if fallback == "" {
		return ""
	}
	return sha256Hex(fallback)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func joinFrames(frames []Frame, max int, sep string) string {
	parts := make([]string, 0, len(frames))
	for _, fr := range frames {
		if fr.File == "" {
			continue
		}
		parts = append(parts, fr.File+":"+fr.Function)
		if len(parts) == max {
			break
		}
	}
	return strings.Join(parts, sep)
}

// exceptionLine scans the last 50 non-blank lines, newest first, for an
// exception header. Anchored matches win over inline ones; a bare type name
// on the final line is the last resort.
func exceptionLine(normalized string) (string, string) {
	var lines []string
	for _, ln := range strings.Split(normalized, "\n") {
		if t := strings.TrimSpace(ln); t != "" {
			lines = append(lines, t)
		}
	}
	if len(lines) == 0 {
		return "", ""
	}
	if len(lines) > 50 {
		lines = lines[len(lines)-50:]
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if m := reExceptionLine.FindStringSubmatch(lines[i]); m != nil {
			return simpleName(m[1]), strings.TrimSpace(m[2])
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if m := reExceptionInline.FindStringSubmatch(lines[i]); m != nil {
			return simpleName(m[1]), strings.TrimSpace(m[2])
		}
	}
	if m := reExceptionBare.FindStringSubmatch(lines[len(lines)-1]); m != nil {
		return simpleName(m[1]), ""
	}
	return "", ""
}

// simpleName reduces a qualified exception type to its last segment,
// dropping package prefixes and inner-class markers.
func simpleName(exceptionType string) string {
	s := strings.TrimSpace(exceptionType)
	if s == "" {
		return ""
	}
	if i := strings.Index(s, ":"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "$"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// ExtractFrames pulls stack frames out of raw text. Python frames appear
// oldest-first in a traceback, so they are reversed; JVM "at" frames are
// already newest-first. JVM functions keep their qualified name.
func ExtractFrames(raw string) []Frame {
	var py []Frame
	for _, m := range rePyFrame.FindAllStringSubmatch(raw, -1) {
		file := path.Base(strings.ReplaceAll(m[1], "\\", "/"))
		if file == "" || file == "." {
			continue
		}
		py = append(py, Frame{File: file, Function: m[3]})
	}
	for i, j := 0, len(py)-1; i < j; i, j = i+1, j-1 {
		py[i], py[j] = py[j], py[i]
	}

	frames := py
	for _, m := range reJvmFrame.FindAllStringSubmatch(raw, -1) {
		qualified := strings.TrimSpace(m[1])
		file := strings.TrimSpace(m[2])
		low := strings.ToLower(file)
		if low == "unknown source" || low == "native method" {
			continue
		}
		if file == "" || qualified == "" {
			continue
		}
		frames = append(frames, Frame{File: file, Function: qualified})
	}
	return frames
}

func normalizedQuery(exceptionType, messageKey string, frames []Frame) string {
	var parts []string
	if exceptionType != "" {
		parts = append(parts, exceptionType)
	}
	if messageKey != "" {
		parts = append(parts, messageKey)
	}
	if s := joinFrames(frames, 3, " "); s != "" {
		parts = append(parts, s)
	}
	return truncate(collapseSpaces(strings.Join(parts, " ")), 500)
}

var (
	reTokenJunk    = regexp.MustCompile(`[^\w<>\- ]+`)
	stopRedactions = map[string]bool{
		"<ts>": true, "<uuid>": true, "<hex>": true,
		"<path>": true, "<num>": true, "<str>": true,
	}
)

// FTSTokens builds a MATCH token list from already-extracted features,
// stripping redaction placeholders and capping at 16 tokens.
func FTSTokens(exceptionType, normalizedQuery string) []string {
	return tokenize(strings.TrimSpace(exceptionType + " " + normalizedQuery))
}

// FreeTextTokens builds MATCH tokens from arbitrary user query text.
func FreeTextTokens(text string) []string {
	return tokenize(Normalize(strings.TrimSpace(text)))
}

func tokenize(base string) []string {
	base = reTokenJunk.ReplaceAllString(base, " ")
	var tokens []string
	for _, t := range strings.Fields(base) {
		if stopRedactions[t] {
			continue
		}
		tokens = append(tokens, t)
		if len(tokens) == 16 {
			break
		}
	}
	return tokens
}

// IsSHA256Hex reports whether s looks like a lowercase-hex SHA-256 digest.
func IsSHA256Hex(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
