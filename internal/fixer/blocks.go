package fixer

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"git.home.luguber.info/inful/repairops/internal/pathsafe"
)

// ErrNoBlocks marks a blocks-mode run whose output contained no code
// blocks.
var ErrNoBlocks = errors.New("fixer returned no code blocks")

// Block is one full-file replacement emitted by the tool.
type Block struct {
	Filename string
	Content  string
}

var reCodeBlock = regexp.MustCompile(`(?si)<code_block filename="([^"]+)">\n?(.*?)</code_block>`)

// ParseBlocks extracts code blocks from tool stdout in emission order.
func ParseBlocks(out string) []Block {
	var blocks []Block
	for _, m := range reCodeBlock.FindAllStringSubmatch(out, -1) {
		blocks = append(blocks, Block{Filename: m[1], Content: m[2]})
	}
	return blocks
}

// ApplyBlocks writes blocks into the repository. All paths are resolved
// through the sanitizer before anything is written, so a single bad path
// rejects the whole batch.
func ApplyBlocks(repoDir string, blocks []Block) ([]string, error) {
	resolved := make([]string, len(blocks))
	for i, b := range blocks {
		abs, err := pathsafe.Resolve(repoDir, b.Filename)
		if err != nil {
			return nil, fmt.Errorf("block %q: %w", b.Filename, err)
		}
		resolved[i] = abs
	}

	var written []string
	for i, b := range blocks {
		if err := os.WriteFile(resolved[i], []byte(b.Content), 0o644); err != nil {
			return written, fmt.Errorf("write %q: %w", b.Filename, err)
		}
		written = append(written, resolved[i])
	}
	return written, nil
}
