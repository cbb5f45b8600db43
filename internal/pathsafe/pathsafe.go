// Package pathsafe resolves file paths returned by the external fixer
// against a repository root, rejecting anything that would escape it.
package pathsafe

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrPathViolation marks an absolute or root-escaping path.
var ErrPathViolation = errors.New("path escapes repository root")

// ErrNoMatch marks a path with no matching file in the repository, even
// after suffix fallback.
var ErrNoMatch = errors.New("no matching file in repository")

// Resolve normalizes a fixer-supplied path and maps it onto an existing
// file under repoRoot. Backslashes are unified, "./" and "repo/" prefixes
// stripped, and if the exact path does not exist progressively shorter
// suffixes are tried. The returned path is absolute and strictly under
// repoRoot.
func Resolve(repoRoot, supplied string) (string, error) {
	rootAbs, err := filepath.Abs(repoRoot)
	if err != nil {
		return "", fmt.Errorf("resolving repo root: %w", err)
	}

	p := strings.TrimSpace(strings.ReplaceAll(supplied, `\`, "/"))
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	if i := strings.Index(p, "/repo/"); i >= 0 {
		p = p[i+len("/repo/"):]
	}
	p = strings.TrimPrefix(p, "repo/")
	if p == "" {
		return "", fmt.Errorf("%w: empty path %q", ErrPathViolation, supplied)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathViolation, supplied)
	}

	parts := strings.Split(path.Clean(p), "/")
	for i := range parts {
		candidate := path.Join(parts[i:]...)
		if candidate == "" || candidate == "." {
			continue
		}
		abs := filepath.Join(rootAbs, filepath.FromSlash(candidate))
		if !strictlyUnder(rootAbs, abs) {
			return "", fmt.Errorf("%w: %q resolves outside root", ErrPathViolation, supplied)
		}
		if info, err := os.Stat(abs); err == nil && info.Mode().IsRegular() {
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNoMatch, supplied)
}

func strictlyUnder(root, abs string) bool {
	return strings.HasPrefix(abs, root+string(filepath.Separator))
}
