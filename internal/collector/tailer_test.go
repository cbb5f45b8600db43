package collector

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineSink struct {
	mu        sync.Mutex
	lines     []string
	truncated int
}

func (s *lineSink) add(lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, lines...)
}

func (s *lineSink) truncate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.truncated++
}

func newTailerAt(t *testing.T, initial string) (*FileTailer, *lineSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte(initial), 0o644))

	sink := &lineSink{}
	tailer := NewFileTailer(path, sink.add, sink.truncate)
	info, err := os.Stat(path)
	require.NoError(t, err)
	tailer.offset = info.Size()
	return tailer, sink, path
}

func TestTailerSkipsPreexistingContent(t *testing.T) {
	tailer, sink, path := newTailerAt(t, "old line\n")

	require.NoError(t, appendTo(path, "new line\n"))
	tailer.readNew()

	assert.Equal(t, []string{"new line\n"}, sink.lines)
}

func TestTailerHoldsPartialLines(t *testing.T) {
	tailer, sink, path := newTailerAt(t, "")

	require.NoError(t, appendTo(path, "first half"))
	tailer.readNew()
	assert.Empty(t, sink.lines)

	require.NoError(t, appendTo(path, " second half\nnext\n"))
	tailer.readNew()
	assert.Equal(t, []string{"first half second half\n", "next\n"}, sink.lines)
}

func TestTailerResetsOnTruncation(t *testing.T) {
	tailer, sink, path := newTailerAt(t, "line one\nline two\n")

	require.NoError(t, os.WriteFile(path, []byte("after rotate\n"), 0o644))
	tailer.readNew()

	assert.Equal(t, 1, sink.truncated)
	assert.Equal(t, []string{"after rotate\n"}, sink.lines)

	require.NoError(t, appendTo(path, "and more\n"))
	tailer.readNew()
	assert.Equal(t, []string{"after rotate\n", "and more\n"}, sink.lines)
}

func TestTailerReplacesInvalidUTF8(t *testing.T) {
	tailer, sink, path := newTailerAt(t, "")

	require.NoError(t, appendTo(path, "bad \xff byte\n"))
	tailer.readNew()

	require.Len(t, sink.lines, 1)
	assert.Equal(t, "bad � byte\n", sink.lines[0])
}

func appendTo(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(text)
	return err
}
