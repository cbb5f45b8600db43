package extract

import (
	"regexp"
	"strings"
)

// Language is the stack-trace flavour an excerpt is parsed as.
type Language string

const (
	LangAuto   Language = "auto"
	LangPython Language = "python"
	LangJava   Language = "java"
)

const pyHeader = "Traceback (most recent call last):"

var (
	rePyFrameLine  = regexp.MustCompile(`File\s+"[^"]+",\s+line\s+\d+,\s+in\s+[A-Za-z_][A-Za-z0-9_]*`)
	reJvmHeader    = regexp.MustCompile(`Exception in thread "[^"]*"|Caused by:`)
	reJvmFrameLine = regexp.MustCompile(`^\s*at\s+[A-Za-z0-9_.$]+\([A-Za-z0-9_.+$-]+:\d+\)\s*$`)
	reFallbackLine = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_.$]*(?:Error|Exception)\s*:`)
)

// ExcerptOptions bound the selected excerpt.
type ExcerptOptions struct {
	Language     Language
	ContextLines int // preceding lines kept before the anchoring marker
	MaxChars     int
}

// DefaultExcerptOptions mirror the collector flag defaults.
func DefaultExcerptOptions() ExcerptOptions {
	return ExcerptOptions{Language: LangAuto, ContextLines: 60, MaxChars: 4000}
}

// SelectExcerpt picks the error-bearing slice of a log chunk. It anchors at
// the last language marker (header preferred over frame), keeps
// ContextLines of preceding context through the end, and caps the result at
// MaxChars. Returns the excerpt and whether a language marker fired.
func SelectExcerpt(chunk string, opts ExcerptOptions) (string, bool) {
	if strings.TrimSpace(chunk) == "" {
		return "", false
	}
	if opts.ContextLines < 0 {
		opts.ContextLines = 0
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 4000
	}
	lines := strings.Split(strings.ReplaceAll(chunk, "\r\n", "\n"), "\n")

	lang := opts.Language
	if lang == LangAuto || lang == "" {
		lang = detectLanguage(lines)
	}

	var headerIdx, frameIdx = -1, -1
	switch lang {
	case LangPython:
		headerIdx = lastIndexFunc(lines, func(s string) bool { return strings.Contains(s, pyHeader) })
		frameIdx = lastIndexFunc(lines, rePyFrameLine.MatchString)
	case LangJava:
		headerIdx = lastIndexFunc(lines, reJvmHeader.MatchString)
		frameIdx = lastIndexFunc(lines, reJvmFrameLine.MatchString)
	}

	anchor := headerIdx
	if anchor < 0 {
		anchor = frameIdx
	}
	if anchor >= 0 {
		return clipLines(lines, anchor, opts), true
	}

	// No language marker: anchor at the last recognizable exception line.
	if idx := lastIndexFunc(lines, reFallbackLine.MatchString); idx >= 0 {
		return clipLines(lines, idx, opts), false
	}

	// Bare tail: last 200 lines bounded by MaxChars.
	start := len(lines) - 200
	if start < 0 {
		start = 0
	}
	return truncate(strings.Join(lines[start:], "\n"), opts.MaxChars), false
}

// detectLanguage picks the flavour whose marker fires earliest in the chunk.
func detectLanguage(lines []string) Language {
	pyAt, jvmAt := -1, -1
	for i, ln := range lines {
		if pyAt < 0 && (strings.Contains(ln, pyHeader) || rePyFrameLine.MatchString(ln)) {
			pyAt = i
		}
		if jvmAt < 0 && (reJvmHeader.MatchString(ln) || reJvmFrameLine.MatchString(ln)) {
			jvmAt = i
		}
		if pyAt >= 0 && jvmAt >= 0 {
			break
		}
	}
	switch {
	case pyAt >= 0 && (jvmAt < 0 || pyAt <= jvmAt):
		return LangPython
	case jvmAt >= 0:
		return LangJava
	default:
		return LangAuto
	}
}

func lastIndexFunc(lines []string, match func(string) bool) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if match(lines[i]) {
			return i
		}
	}
	return -1
}

func clipLines(lines []string, anchor int, opts ExcerptOptions) string {
	start := anchor - opts.ContextLines
	if start < 0 {
		start = 0
	}
	return truncate(strings.Join(lines[start:], "\n"), opts.MaxChars)
}

// FilterLevel controls which extracted chunks become incident events.
type FilterLevel string

const (
	FilterStrict   FilterLevel = "strict"
	FilterBalanced FilterLevel = "balanced"
	FilterLenient  FilterLevel = "lenient"
)

// ShouldEmit applies the configured strictness gate.
func ShouldEmit(level FilterLevel, markerFired bool, f Features) bool {
	switch level {
	case FilterStrict:
		return markerFired || len(f.Frames) > 0
	case FilterLenient:
		return true
	default: // balanced
		return markerFired || len(f.Frames) > 0 || f.ExceptionType != ""
	}
}
