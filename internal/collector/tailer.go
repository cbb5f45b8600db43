package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/repairops/internal/logfields"
)

// FileTailer follows a growing log file from a remembered byte offset.
// Pre-existing content is skipped on start; a size decrease is treated
// as truncation or rotation and resets the offset to zero. A periodic
// poll backs up the filesystem events so a missed notification only
// delays a read.
type FileTailer struct {
	path       string
	onLines    func(lines []string)
	onTruncate func()

	offset  int64
	partial string
}

// NewFileTailer builds a tailer. onTruncate may be nil.
func NewFileTailer(path string, onLines func([]string), onTruncate func()) *FileTailer {
	return &FileTailer{path: path, onLines: onLines, onTruncate: onTruncate}
}

// Run tails until ctx is done. The watch is directory-scoped so
// rotation (remove and recreate) keeps being observed.
func (t *FileTailer) Run(ctx context.Context) error {
	if info, err := os.Stat(t.path); err == nil {
		t.offset = info.Size()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(t.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	slog.Info("Tailing log file", logfields.Path(t.path))

	// Poll fallback for filesystems with unreliable events.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != t.path {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				t.readNew()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watcher error", logfields.Error(err))
		case <-ticker.C:
			t.readNew()
		}
	}
}

// readNew drains everything appended since the last read. I/O errors
// are transient: log and try again on the next event or tick.
func (t *FileTailer) readNew() {
	info, err := os.Stat(t.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Stat log file failed", logfields.Path(t.path), logfields.Error(err))
		}
		return
	}

	if info.Size() < t.offset {
		slog.Info("Log file truncated, resetting offset", logfields.Path(t.path))
		t.offset = 0
		t.partial = ""
		if t.onTruncate != nil {
			t.onTruncate()
		}
	}
	if info.Size() == t.offset {
		return
	}

	f, err := os.Open(t.path)
	if err != nil {
		slog.Warn("Open log file failed", logfields.Path(t.path), logfields.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		slog.Warn("Seek log file failed", logfields.Path(t.path), logfields.Error(err))
		return
	}
	raw, err := io.ReadAll(f)
	if err != nil {
		slog.Warn("Read log file failed", logfields.Path(t.path), logfields.Error(err))
		return
	}
	t.offset += int64(len(raw))

	// Lossy decode: invalid bytes never block the tail.
	text := t.partial + strings.ToValidUTF8(string(raw), "�")
	lines := strings.SplitAfter(text, "\n")
	t.partial = ""
	if last := lines[len(lines)-1]; !strings.HasSuffix(last, "\n") {
		t.partial = last
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && t.onLines != nil {
		t.onLines(lines)
	}
}
