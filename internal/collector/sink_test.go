package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/repairops/internal/envelope"
)

func sinkEvent(fingerprint string) *envelope.Event {
	return &envelope.Event{
		SchemaVersion: envelope.SchemaVersion,
		EventID:       "evt-1",
		OccurredAt:    time.Now().Unix(),
		Repo:          envelope.Repo{RepoURL: "https://github.com/acme/app", CodeHost: "github"},
		Error:         envelope.ErrorBody{Fingerprint: fingerprint, RawExcerpt: "boom"},
	}
}

func TestSinkSuppressesRepeatWithinWindow(t *testing.T) {
	var received int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tasks", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-API-Key"))

		var ev envelope.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		received++
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "t-1"})
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, "secret", time.Hour, 5*time.Second)
	fp := strings.Repeat("ab", 32)

	sent, err := sink.Send(context.Background(), sinkEvent(fp))
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = sink.Send(context.Background(), sinkEvent(fp))
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 1, received)
}

func TestSinkSendsAgainAfterWindowExpires(t *testing.T) {
	var received int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received++
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "t-1"})
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, "", time.Hour, 5*time.Second)
	now := time.Now()
	sink.now = func() time.Time { return now }

	fp := strings.Repeat("cd", 32)
	_, err := sink.Send(context.Background(), sinkEvent(fp))
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	sent, err := sink.Send(context.Background(), sinkEvent(fp))
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 2, received)
}

func TestSinkRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "t-1"})
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, "", time.Hour, 5*time.Second)
	sent, err := sink.Send(context.Background(), sinkEvent(strings.Repeat("ef", 32)))
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 2, calls)
}

func TestSinkDoesNotRetryRejections(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "fingerprint_required"})
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, "", time.Hour, 5*time.Second)
	sent, err := sink.Send(context.Background(), sinkEvent(strings.Repeat("01", 32)))
	require.Error(t, err)
	assert.False(t, sent)
	assert.Equal(t, 1, calls)

	// A rejected event is not marked sent, so a fixed payload can retry.
	assert.False(t, sink.suppressed(strings.Repeat("01", 32)))
}
