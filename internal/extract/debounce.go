package extract

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Debouncer groups log lines into error chunks. Seeing a keyword arms it;
// while armed, every new line refreshes the quiet timer. Once no line has
// arrived for the quiet window the whole buffer flushes as one chunk, so a
// multi-line stack trace becomes a single event with bounded latency.
type Debouncer struct {
	mu         sync.Mutex
	buffer     []string
	armed      bool
	lastUpdate time.Time

	keywords []string
	quiet    time.Duration
	onChunk  func(chunk string)
}

// DefaultKeywords arm the debouncer when no explicit set is configured.
var DefaultKeywords = []string{"ERROR", "Exception", "CRITICAL"}

// NewDebouncer creates a debouncer flushing to onChunk after quiet seconds
// of silence. An empty keyword list falls back to DefaultKeywords.
func NewDebouncer(keywords []string, quiet time.Duration, onChunk func(string)) *Debouncer {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	if quiet <= 0 {
		quiet = 2 * time.Second
	}
	return &Debouncer{keywords: keywords, quiet: quiet, onChunk: onChunk}
}

// Add appends newly-read lines and arms the debouncer when any line
// contains a keyword.
func (d *Debouncer) Add(lines []string) {
	if len(lines) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffer = append(d.buffer, lines...)
	if d.armed {
		d.lastUpdate = time.Now()
		return
	}
	for _, ln := range lines {
		for _, kw := range d.keywords {
			if strings.Contains(ln, kw) {
				d.armed = true
				d.lastUpdate = time.Now()
				return
			}
		}
	}
}

// Reset discards any in-flight buffer, e.g. after log truncation.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffer = nil
	d.armed = false
	d.lastUpdate = time.Time{}
}

// Run ticks every 200ms until ctx is done, flushing when armed and quiet.
func (d *Debouncer) Run(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.Flush()
			return
		case <-ticker.C:
			d.flushIfQuiet()
		}
	}
}

func (d *Debouncer) flushIfQuiet() {
	d.mu.Lock()
	if !d.armed || time.Since(d.lastUpdate) < d.quiet {
		d.mu.Unlock()
		return
	}
	chunk := strings.Join(d.buffer, "")
	d.buffer = nil
	d.armed = false
	d.lastUpdate = time.Time{}
	d.mu.Unlock()

	if strings.TrimSpace(chunk) != "" && d.onChunk != nil {
		d.onChunk(chunk)
	}
}

// Flush emits whatever is armed immediately, regardless of the quiet
// window. Used on shutdown so a trailing trace is not lost.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	chunk := strings.Join(d.buffer, "")
	d.buffer = nil
	d.armed = false
	d.mu.Unlock()

	if strings.TrimSpace(chunk) != "" && d.onChunk != nil {
		d.onChunk(chunk)
	}
}
