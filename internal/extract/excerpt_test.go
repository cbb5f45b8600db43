package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectExcerptEmptyInput(t *testing.T) {
	got, marker := SelectExcerpt("", DefaultExcerptOptions())
	assert.Empty(t, got)
	assert.False(t, marker)

	got, marker = SelectExcerpt("  \n \t ", DefaultExcerptOptions())
	assert.Empty(t, got)
	assert.False(t, marker)
}

func TestSelectExcerptAnchorsAtLastTraceback(t *testing.T) {
	chunk := "noise line\n" +
		"Traceback (most recent call last):\n  File \"old.py\", line 1, in a\nKeyError: 'x'\n" +
		"more noise\n" +
		"Traceback (most recent call last):\n  File \"new.py\", line 2, in b\nValueError: y\n"

	got, marker := SelectExcerpt(chunk, ExcerptOptions{Language: LangAuto, ContextLines: 1, MaxChars: 4000})
	assert.True(t, marker)
	// Anchored at the second header with one preceding context line.
	assert.True(t, strings.HasPrefix(got, "more noise\nTraceback (most recent call last):"), "got %q", got)
	assert.Contains(t, got, "new.py")
}

func TestSelectExcerptJvmHeaderPreferredOverFrame(t *testing.T) {
	chunk := "  at com.example.Early.call(Early.java:1)\n" +
		"Exception in thread \"main\" java.lang.IllegalStateException: late\n" +
		"  at com.example.Late.call(Late.java:2)\n"

	got, marker := SelectExcerpt(chunk, ExcerptOptions{Language: LangJava, ContextLines: 0, MaxChars: 4000})
	assert.True(t, marker)
	assert.True(t, strings.HasPrefix(got, "Exception in thread"), "got %q", got)
}

func TestSelectExcerptFallbackExceptionLine(t *testing.T) {
	chunk := "line one\nline two\nTimeoutError: deadline exceeded\ntrailing\n"
	got, marker := SelectExcerpt(chunk, ExcerptOptions{Language: LangAuto, ContextLines: 1, MaxChars: 4000})
	assert.False(t, marker)
	assert.True(t, strings.HasPrefix(got, "line two\nTimeoutError"), "got %q", got)
}

func TestSelectExcerptTailWithoutMarkers(t *testing.T) {
	var b strings.Builder
	for i := range 300 {
		fmt.Fprintf(&b, "plain log line %d\n", i)
	}
	got, marker := SelectExcerpt(b.String(), ExcerptOptions{Language: LangAuto, ContextLines: 10, MaxChars: 100000})
	assert.False(t, marker)
	lines := strings.Split(got, "\n")
	// Tail keeps at most the last 200 lines (plus the trailing empty split).
	assert.LessOrEqual(t, len(lines), 201)
	assert.Contains(t, got, "plain log line 299")
	assert.NotContains(t, got, "plain log line 50\n")
}

func TestSelectExcerptMaxCharsBound(t *testing.T) {
	chunk := "Traceback (most recent call last):\n" + strings.Repeat("x", 5000) + "\n"
	got, _ := SelectExcerpt(chunk, ExcerptOptions{Language: LangPython, ContextLines: 5, MaxChars: 128})
	assert.Len(t, got, 128)
}

func TestDetectLanguageEarliestMarkerWins(t *testing.T) {
	pyFirst := "Traceback (most recent call last):\nException in thread \"main\" x\n"
	assert.Equal(t, LangPython, detectLanguage(strings.Split(pyFirst, "\n")))

	jvmFirst := "Exception in thread \"main\" x\nTraceback (most recent call last):\n"
	assert.Equal(t, LangJava, detectLanguage(strings.Split(jvmFirst, "\n")))
}

func TestShouldEmitLevels(t *testing.T) {
	withFrames := Features{Frames: []Frame{{File: "a.py", Function: "f"}}}
	typeOnly := Features{ExceptionType: "ValueError"}
	bare := Features{}

	assert.True(t, ShouldEmit(FilterStrict, true, bare))
	assert.True(t, ShouldEmit(FilterStrict, false, withFrames))
	assert.False(t, ShouldEmit(FilterStrict, false, typeOnly))

	assert.True(t, ShouldEmit(FilterBalanced, false, typeOnly))
	assert.False(t, ShouldEmit(FilterBalanced, false, bare))

	assert.True(t, ShouldEmit(FilterLenient, false, bare))
}
