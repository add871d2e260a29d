package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/ogolikhin/procgraph/internal/process"
)

// Entry represents a process file found by Walk.
type Entry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the path relative to the walked root.
	RelPath string

	// Format is json or hcl.
	Format string

	// Content is the file content.
	Content []byte

	// SHA256 is the hash of the file content.
	SHA256 string
}

// Model decodes the entry.
func (e Entry) Model() (*process.Model, error) {
	return Decode(e.Path, e.Content)
}

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	"node_modules/",
	".procgraph/",
	"vendor/",
	".DS_Store",
	"*.tmp",
	"*.swp",
	"*~",
}

// Walk returns all process files below root, skipping ignored paths.
func Walk(root string) ([]Entry, error) {
	matcher, err := loadMatcher(root)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && shouldSkipDir(d.Name(), path, root, matcher) {
				return filepath.SkipDir
			}
			return nil
		}

		if !shouldLoadFile(path, root, matcher) {
			return nil
		}

		entry, err := readEntry(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})

	return entries, err
}

func readEntry(root, path string) (Entry, error) {
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return Entry{}, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}

	hash := sha256.Sum256(content)
	return Entry{
		Path:    path,
		RelPath: relPath,
		Format:  Format(path),
		Content: content,
		SHA256:  hex.EncodeToString(hash[:]),
	}, nil
}

// loadMatcher combines the default patterns with .gitignore at root.
func loadMatcher(root string) (gitignore.Matcher, error) {
	patterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns))
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}

	loaded, err := loadGitignore(root)
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, loaded...)

	return gitignore.NewMatcher(patterns), nil
}

// loadGitignore loads .gitignore patterns from root.
func loadGitignore(root string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

// shouldSkipDir checks if a directory should be skipped.
func shouldSkipDir(name, path, root string, matcher gitignore.Matcher) bool {
	if name == ".git" {
		return true
	}

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return matcher.Match(splitPath(relPath), true)
}

// shouldLoadFile checks if a file is a process file that is not ignored.
func shouldLoadFile(path, root string, matcher gitignore.Matcher) bool {
	if Format(path) == "" {
		return false
	}

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return !matcher.Match(splitPath(relPath), false)
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(path, string(filepath.Separator))
}
