package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/repairops/internal/envelope"
	"git.home.luguber.info/inful/repairops/internal/extract"
	"git.home.luguber.info/inful/repairops/internal/logfields"
)

// Collector ties a log source, the evidence extractor, and the event
// sink together.
type Collector struct {
	cfg  *Config
	sink *Sink
	deb  *extract.Debouncer
}

// New wires a collector from its configuration.
func New(cfg *Config) *Collector {
	c := &Collector{
		cfg:  cfg,
		sink: NewSink(cfg.ServerURL, cfg.APIKey, cfg.DedupWindow(), cfg.HTTPTimeout()),
	}
	c.deb = extract.NewDebouncer(cfg.Keywords, cfg.Debounce(), c.onChunk)
	return c
}

// Run starts the debounce loop and the configured source, blocking
// until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	go c.deb.Run(ctx)

	switch c.cfg.Source {
	case SourceSearch:
		tailer := NewSearchTailer(c.cfg.Search, c.cfg.HTTPTimeout(), func(text string) {
			c.deb.Add([]string{text + "\n"})
		})
		return tailer.Run(ctx)
	default:
		tailer := NewFileTailer(c.cfg.LogPath, c.deb.Add, c.deb.Reset)
		return tailer.Run(ctx)
	}
}

// onChunk converts one flushed error chunk into an incident event and
// delivers it.
func (c *Collector) onChunk(chunk string) {
	excerpt, markerFired := extract.SelectExcerpt(chunk, extract.ExcerptOptions{
		Language:     extract.Language(c.cfg.Language),
		ContextLines: c.cfg.ContextLines,
		MaxChars:     c.cfg.ExcerptMaxChars,
	})
	if excerpt == "" {
		return
	}

	features := extract.Extract(excerpt, c.cfg.MaxFrames)
	if !extract.ShouldEmit(extract.FilterLevel(c.cfg.FilterLevel), markerFired, features) {
		slog.Debug("Chunk filtered out", logfields.Fingerprint(features.Signature))
		return
	}

	ev := c.buildEvent(excerpt, features)

	ctx, cancel := context.WithTimeout(context.Background(), 2*c.cfg.HTTPTimeout())
	defer cancel()

	sent, err := c.sink.Send(ctx, ev)
	switch {
	case err != nil:
		slog.Error("Incident delivery failed",
			logfields.Fingerprint(features.Signature),
			logfields.Error(err))
	case !sent:
		slog.Debug("Incident suppressed by dedup window",
			logfields.Fingerprint(features.Signature))
	default:
		slog.Info("Incident delivered",
			logfields.Fingerprint(features.Signature),
			slog.String("exception_type", features.ExceptionType))
	}
}

func (c *Collector) buildEvent(excerpt string, f extract.Features) *envelope.Event {
	frames := make([]envelope.Frame, 0, len(f.Frames))
	for _, fr := range f.Frames {
		frames = append(frames, envelope.Frame{File: fr.File, Function: fr.Function})
	}
	return &envelope.Event{
		SchemaVersion: envelope.SchemaVersion,
		EventID:       fmt.Sprintf("evt-%s", uuid.NewString()),
		OccurredAt:    time.Now().Unix(),
		Repo: envelope.Repo{
			RepoURL:       c.cfg.RepoURL,
			CodeHost:      c.cfg.CodeHost,
			DefaultBranch: c.cfg.DefaultBranch,
		},
		Service: envelope.Service{
			Name:        c.cfg.ServiceName,
			Environment: c.cfg.Environment,
		},
		Error: envelope.ErrorBody{
			ExceptionType: f.ExceptionType,
			MessageKey:    f.MessageKey,
			Fingerprint:   f.Signature,
			Frames:        frames,
			RawExcerpt:    excerpt,
		},
	}
}
