package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"git.home.luguber.info/inful/repairops/internal/envelope"
)

// Sink delivers incident events to the task server, suppressing repeats
// of the same fingerprint inside the dedup window. The window is
// in-memory only and does not survive a collector restart.
type Sink struct {
	client    *http.Client
	serverURL string
	apiKey    string
	window    time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewSink builds a sink posting to serverURL with bounded timeouts.
func NewSink(serverURL, apiKey string, window, timeout time.Duration) *Sink {
	return &Sink{
		client:    &http.Client{Timeout: timeout},
		serverURL: serverURL,
		apiKey:    apiKey,
		window:    window,
		lastSent:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// Send posts one event unless its fingerprint was sent within the
// window. Returns whether the event actually went out.
func (s *Sink) Send(ctx context.Context, ev *envelope.Event) (bool, error) {
	if s.suppressed(ev.Error.Fingerprint) {
		return false, nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshal incident event: %w", err)
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.serverURL+"/v1/tasks", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("X-API-Key", s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("post incident: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("server returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
			return fmt.Errorf("server rejected incident with %d: %s", resp.StatusCode, raw)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.markSent(ev.Error.Fingerprint)
	return true, nil
}

func (s *Sink) suppressed(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastSent[fingerprint]
	return ok && s.now().Sub(at) < s.window
}

func (s *Sink) markSent(fingerprint string) {
	if fingerprint == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSent[fingerprint] = s.now()

	// Prune expired entries so the map stays bounded on long runs.
	cutoff := s.now().Add(-s.window)
	for fp, at := range s.lastSent {
		if at.Before(cutoff) {
			delete(s.lastSent, fp)
		}
	}
}
