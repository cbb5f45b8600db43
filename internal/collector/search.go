package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"git.home.luguber.info/inful/repairops/internal/logfields"
)

// SearchTailer polls a time-indexed log search. Each cycle queries the
// filter expression AND timestamp >= now-W, sorted ascending by
// (timestamp, event id), bounded to the batch size. The sort key of the
// last processed hit is carried as a search_after cursor so a record is
// never re-emitted within the window.
type SearchTailer struct {
	client   *http.Client
	endpoint string
	index    string
	query    string
	window   time.Duration
	poll     time.Duration
	batch    int

	cursor []any
	onHit  func(text string)
}

// NewSearchTailer builds a poller from the search section of the config.
func NewSearchTailer(cfg SearchConfig, timeout time.Duration, onHit func(string)) *SearchTailer {
	poll := time.Duration(cfg.PollSeconds * float64(time.Second))
	if poll < 200*time.Millisecond {
		poll = 200 * time.Millisecond
	}
	return &SearchTailer{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		index:    cfg.Index,
		query:    cfg.Query,
		window:   time.Duration(cfg.SinceWindowSeconds) * time.Second,
		poll:     poll,
		batch:    cfg.BatchSize,
		onHit:    onHit,
	}
}

// Run polls until ctx is done. Transport errors are logged and retried
// on the next cycle.
func (t *SearchTailer) Run(ctx context.Context) error {
	slog.Info("Polling log search",
		logfields.URL(t.endpoint),
		slog.String("index", t.index),
		slog.Duration("interval", t.poll))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if n, err := t.pollOnce(ctx); err != nil {
			slog.Warn("Search poll failed", logfields.Error(err))
		} else if n > 0 {
			slog.Debug("Search poll delivered hits", slog.Int("hits", n))
		}
		timer.Reset(t.poll)
	}
}

type searchHit struct {
	Sort   []any          `json:"sort"`
	Source map[string]any `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

// pollOnce issues a single query cycle and renders every hit.
func (t *SearchTailer) pollOnce(ctx context.Context) (int, error) {
	body := map[string]any{
		"size": t.batch,
		"sort": []any{
			map[string]any{"@timestamp": "asc"},
			map[string]any{"event.id": "asc"},
		},
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"query_string": map[string]any{"query": t.query}},
					map[string]any{"range": map[string]any{
						"@timestamp": map[string]any{"gte": fmt.Sprintf("now-%ds", int(t.window.Seconds()))},
					}},
				},
			},
		},
	}
	if t.cursor != nil {
		body["search_after"] = t.cursor
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal search query: %w", err)
	}

	url := t.endpoint + "/" + t.index + "/_search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query search endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return 0, fmt.Errorf("search endpoint returned %d: %s", resp.StatusCode, raw)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode search response: %w", err)
	}

	for _, hit := range out.Hits.Hits {
		if text := renderHit(hit.Source); text != "" && t.onHit != nil {
			t.onHit(text)
		}
		if len(hit.Sort) > 0 {
			t.cursor = hit.Sort
		}
	}
	return len(out.Hits.Hits), nil
}

// renderHit flattens one search record into a log-like text blob:
// timestamp, service name, level, then the richest available body field.
func renderHit(source map[string]any) string {
	var parts []string
	if v := dig(source, "@timestamp"); v != "" {
		parts = append(parts, v)
	}
	if v := dig(source, "service", "name"); v != "" {
		parts = append(parts, v)
	}
	if v := dig(source, "log", "level"); v != "" {
		parts = append(parts, v)
	}

	body := dig(source, "error", "stack_trace")
	if body == "" {
		body = dig(source, "message")
	}
	if body == "" {
		body = dig(source, "log", "original")
	}
	if body != "" {
		parts = append(parts, body)
	}
	return strings.Join(parts, " ")
}

// dig walks nested string-keyed maps and stringifies the leaf.
func dig(m map[string]any, path ...string) string {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = obj[key]
		if !ok {
			return ""
		}
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}
