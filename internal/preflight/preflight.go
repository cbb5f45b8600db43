// Package preflight runs a repository-local syntactic sanity check
// before a fix is committed.
package preflight

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/repairops/internal/logfields"
)

// Language is the detected repository flavour.
type Language string

const (
	LangPython  Language = "python"
	LangJava    Language = "java"
	LangUnknown Language = "unknown"
)

const outputTailChars = 2000

// Result reports one preflight run.
type Result struct {
	Language Language
	OK       bool
	Output   string
}

// Detect inspects the repository layout to pick a validator.
func Detect(repoDir string) Language {
	for _, marker := range []string{"pyproject.toml", "requirements.txt", "setup.py"} {
		if _, err := os.Stat(filepath.Join(repoDir, marker)); err == nil {
			return LangPython
		}
	}
	for _, marker := range []string{"pom.xml", "build.gradle", "build.gradle.kts"} {
		if _, err := os.Stat(filepath.Join(repoDir, marker)); err == nil {
			return LangJava
		}
	}
	if hasFileWithExt(repoDir, ".py") {
		return LangPython
	}
	if hasFileWithExt(repoDir, ".java") {
		return LangJava
	}
	return LangUnknown
}

func hasFileWithExt(root, ext string) bool {
	found := false
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ext) {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// Check validates the repository with the language-appropriate tool. A
// non-zero exit fails the check with the output tail as the message. A
// repository with no recognized validator passes.
func Check(ctx context.Context, repoDir string) (Result, error) {
	lang := Detect(repoDir)

	var cmd *exec.Cmd
	switch lang {
	case LangPython:
		cmd = exec.CommandContext(ctx, "python3", "-m", "compileall", "-q", ".")
	case LangJava:
		switch {
		case exists(filepath.Join(repoDir, "pom.xml")):
			cmd = exec.CommandContext(ctx, "mvn", "-q", "-DskipTests", "compile")
		case exists(filepath.Join(repoDir, "gradlew")):
			cmd = exec.CommandContext(ctx, "./gradlew", "compileJava")
		}
	}
	if cmd == nil {
		slog.Debug("No preflight validator for repository", logfields.Path(repoDir))
		return Result{Language: lang, OK: true}, nil
	}
	cmd.Dir = repoDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		tail := out.String()
		if len(tail) > outputTailChars {
			tail = tail[len(tail)-outputTailChars:]
		}
		res := Result{Language: lang, OK: false, Output: tail}
		return res, fmt.Errorf("preflight %s check failed: %s", lang, tail)
	}
	return Result{Language: lang, OK: true, Output: out.String()}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
