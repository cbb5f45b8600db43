// Package fixer invokes the external code-synthesis tool in one of two
// modes: agentic (the tool edits the repository in place) or blocks (the
// tool emits full-file blocks that are parsed and written through the
// path sanitizer).
package fixer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"git.home.luguber.info/inful/repairops/internal/logfields"
)

// Mode selects how the external tool delivers its changes.
type Mode string

const (
	ModeAgentic Mode = "agentic"
	ModeBlocks  Mode = "blocks"
)

const stderrTailChars = 2000

// CommandError is a non-zero exit from the external tool, carrying the
// tail of its stderr for the step message.
type CommandError struct {
	Command    string
	ExitCode   int
	StderrTail string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.StderrTail)
}

// Fixer wraps the external tool command.
type Fixer struct {
	command string
	args    []string
	mode    Mode
}

// New builds a fixer. command is the tool binary, args its fixed leading
// arguments; the prompt is appended as the final argument per invocation.
func New(command string, args []string, mode Mode) *Fixer {
	if mode != ModeBlocks {
		mode = ModeAgentic
	}
	return &Fixer{command: command, args: args, mode: mode}
}

// Mode returns the configured delivery mode.
func (f *Fixer) Mode() Mode { return f.mode }

// run executes the tool in workdir with the prompt appended and returns
// its stdout.
func (f *Fixer) run(ctx context.Context, workdir, prompt string) (string, error) {
	args := append(append([]string(nil), f.args...), prompt)
	cmd := exec.CommandContext(ctx, f.command, args...)
	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	slog.Debug("Fixer command finished",
		slog.String("command", f.command),
		logfields.Path(workdir),
		logfields.DurationMS(time.Since(start)))

	if err != nil {
		tail := stderr.String()
		if len(tail) > stderrTailChars {
			tail = tail[len(tail)-stderrTailChars:]
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &CommandError{Command: f.command, ExitCode: exitErr.ExitCode(), StderrTail: tail}
		}
		return "", fmt.Errorf("run %s: %w", f.command, err)
	}
	return stdout.String(), nil
}

// AgenticEdit asks the tool to repair the repository in place and returns
// its textual analysis.
func (f *Fixer) AgenticEdit(ctx context.Context, repoDir, errorText string) (string, error) {
	return f.run(ctx, repoDir, agenticPrompt(errorText))
}

// ProposePatch asks the tool for full-file blocks. Zero blocks is an
// error: a blocks-mode run that produced nothing applicable has failed.
func (f *Fixer) ProposePatch(ctx context.Context, repoDir, errorText string) ([]Block, string, error) {
	out, err := f.run(ctx, repoDir, blocksPrompt(errorText))
	if err != nil {
		return nil, "", err
	}
	blocks := ParseBlocks(out)
	if len(blocks) == 0 {
		return nil, out, ErrNoBlocks
	}
	return blocks, out, nil
}

// Summarize asks the tool for a change-request title and body. The first
// output line becomes the title, the remainder the body.
func (f *Fixer) Summarize(ctx context.Context, repoDir, errorText, analysis string) (string, string, error) {
	out, err := f.run(ctx, repoDir, summaryPrompt(errorText, analysis))
	if err != nil {
		return "", "", err
	}
	title, body, found := strings.Cut(strings.TrimSpace(out), "\n")
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Automated fix"
	}
	if !found {
		return title, "", nil
	}
	return title, strings.TrimSpace(body), nil
}

func agenticPrompt(errorText string) string {
	return "An application error was observed in this repository. " +
		"Find the root cause and fix it directly in the working tree. " +
		"Keep the change minimal and do not refactor unrelated code.\n\n" +
		"Error:\n" + errorText
}

func blocksPrompt(errorText string) string {
	return "An application error was observed in this repository. " +
		"Propose a fix and return every changed file in full, each wrapped as " +
		`<code_block filename="relative/path">...full file contents...</code_block>. ` +
		"Return nothing else.\n\n" +
		"Error:\n" + errorText
}

func summaryPrompt(errorText, analysis string) string {
	return "Summarize the fix below for a pull request. " +
		"First line: a short imperative title. Following lines: a concise description " +
		"of the root cause and the change.\n\n" +
		"Error:\n" + errorText + "\n\nAnalysis:\n" + analysis
}
