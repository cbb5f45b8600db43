package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledNotifierIsNoOp(t *testing.T) {
	n := New(Config{Enabled: false})
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Send(Summary{RepoURL: "r"}))
}

func TestEnabledWithoutHostFails(t *testing.T) {
	n := New(Config{Enabled: true})
	assert.Error(t, n.Send(Summary{RepoURL: "r"}))
}

func TestRender(t *testing.T) {
	n := New(Config{})
	html, err := n.Render(Summary{
		RepoURL:  "https://github.com/acme/app.git",
		PRURL:    "https://github.com/acme/app/pull/7",
		Excerpt:  "ValueError: boom",
		Analysis: "The handler assumed numeric input.\n\n- validate before parsing",
	})
	require.NoError(t, err)

	assert.Contains(t, html, "<html><body>")
	assert.Contains(t, html, "Automated fix proposed")
	assert.Contains(t, html, "https://github.com/acme/app/pull/7")
	assert.Contains(t, html, "ValueError: boom")
	// The analysis list renders as HTML, not raw markdown.
	assert.Contains(t, html, "<li>validate before parsing</li>")
}

func TestMessageHeaders(t *testing.T) {
	n := New(Config{From: "bot@example.com", To: []string{"dev@example.com"}})
	msg := string(n.message("Fix int parsing", "<p>x</p>"))
	assert.Contains(t, msg, "From: bot@example.com\r\n")
	assert.Contains(t, msg, "To: dev@example.com\r\n")
	assert.Contains(t, msg, "Subject: Fix int parsing\r\n")
	assert.Contains(t, msg, "Content-Type: text/html")
}
