// Package notify sends an optional HTML summary email when a fix has
// been opened for review. Failures here are logged by the caller and
// never fail a trace.
package notify

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"git.home.luguber.info/inful/repairops/internal/logfields"
)

// Config holds SMTP settings. Enabled=false turns the notifier into a
// no-op.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Summary is the material rendered into the email.
type Summary struct {
	RepoURL  string
	TraceID  string
	PRURL    string
	Title    string
	Excerpt  string
	Analysis string
}

// Notifier renders and sends fix summaries.
type Notifier struct {
	cfg Config
	md  goldmark.Markdown
}

// New builds a notifier. The markdown renderer handles the analysis text,
// which the fixer tends to emit with lists and code fences.
func New(cfg Config) *Notifier {
	return &Notifier{
		cfg: cfg,
		md:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Enabled reports whether sending is configured.
func (n *Notifier) Enabled() bool { return n.cfg.Enabled }

// Send renders the summary and delivers it over SMTP with STARTTLS.
// A disabled notifier returns nil immediately.
func (n *Notifier) Send(s Summary) error {
	if !n.cfg.Enabled {
		return nil
	}
	if n.cfg.Host == "" || len(n.cfg.To) == 0 {
		return fmt.Errorf("notifier enabled but smtp host or recipients missing")
	}

	html, err := n.Render(s)
	if err != nil {
		return err
	}

	subject := s.Title
	if subject == "" {
		subject = "Automated fix proposed"
	}
	msg := n.message(subject, html)

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(addr, msg); err != nil {
		return fmt.Errorf("send summary mail: %w", err)
	}
	slog.Info("Summary mail sent", logfields.Repo(s.RepoURL), logfields.TraceID(s.TraceID))
	return nil
}

// Render produces the HTML body.
func (n *Notifier) Render(s Summary) (string, error) {
	var md strings.Builder
	md.WriteString("## Automated fix proposed\n\n")
	fmt.Fprintf(&md, "**Repository:** %s\n\n", s.RepoURL)
	if s.PRURL != "" {
		fmt.Fprintf(&md, "**Review:** [%s](%s)\n\n", s.PRURL, s.PRURL)
	}
	if s.Excerpt != "" {
		md.WriteString("### Error\n\n```\n" + s.Excerpt + "\n```\n\n")
	}
	if s.Analysis != "" {
		md.WriteString("### Analysis\n\n" + s.Analysis + "\n")
	}

	var out bytes.Buffer
	out.WriteString("<html><body>")
	if err := n.md.Convert([]byte(md.String()), &out); err != nil {
		return "", fmt.Errorf("render summary markdown: %w", err)
	}
	out.WriteString("</body></html>")
	return out.String(), nil
}

func (n *Notifier) message(subject, html string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	return b.Bytes()
}

func (n *Notifier) send(addr string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range n.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}
