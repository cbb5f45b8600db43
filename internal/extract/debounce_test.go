package extract

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkRecorder struct {
	mu     sync.Mutex
	chunks []string
}

func (r *chunkRecorder) record(c string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
}

func (r *chunkRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chunks...)
}

func TestDebouncerFlushesAfterQuietWindow(t *testing.T) {
	rec := &chunkRecorder{}
	d := NewDebouncer(nil, 10*time.Millisecond, rec.record)

	d.Add([]string{"INFO starting\n"})
	d.Add([]string{"ERROR boom\n", "  at somewhere\n"})

	// Not yet quiet for long enough.
	d.flushIfQuiet()
	assert.Empty(t, rec.all())

	time.Sleep(20 * time.Millisecond)
	d.flushIfQuiet()

	chunks := rec.all()
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "INFO starting")
	assert.Contains(t, chunks[0], "ERROR boom")
	assert.Contains(t, chunks[0], "at somewhere")
}

func TestDebouncerStaysDisarmedWithoutKeyword(t *testing.T) {
	rec := &chunkRecorder{}
	d := NewDebouncer([]string{"ERROR"}, time.Millisecond, rec.record)

	d.Add([]string{"all fine\n", "still fine\n"})
	time.Sleep(5 * time.Millisecond)
	d.flushIfQuiet()

	assert.Empty(t, rec.all())
}

func TestDebouncerResetDiscardsBuffer(t *testing.T) {
	rec := &chunkRecorder{}
	d := NewDebouncer([]string{"ERROR"}, time.Millisecond, rec.record)

	d.Add([]string{"ERROR gone\n"})
	d.Reset()
	time.Sleep(5 * time.Millisecond)
	d.flushIfQuiet()

	assert.Empty(t, rec.all())
}

func TestDebouncerFlushEmitsArmedBuffer(t *testing.T) {
	rec := &chunkRecorder{}
	d := NewDebouncer([]string{"ERROR"}, time.Hour, rec.record)

	d.Add([]string{"ERROR shutdown race\n"})
	d.Flush()

	require.Len(t, rec.all(), 1)
}
