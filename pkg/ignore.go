package fileintegrity

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreRules decides which paths the walker skips. relPath is slash-separated
// and relative to the tracked root.
type IgnoreRules interface {
	IsIgnored(relPath string, isDir bool) bool
}

// IgnoreManager handles the regular expression ignore patterns in .fit/ignore
type IgnoreManager struct {
	ignorePath string
	patterns   []*regexp.Regexp
	loaded     bool
}

// NewIgnoreManager creates a new ignore manager for the repository directory
func NewIgnoreManager(repoDir string) *IgnoreManager {
	return &IgnoreManager{
		ignorePath: filepath.Join(repoDir, IgnoreFileName),
		patterns:   make([]*regexp.Regexp, 0),
	}
}

const ignoreFileHeader = `# fit ignore patterns
#
# Each line is a Go regular expression matched against the slash-separated
# path relative to the tracked root. Directories are matched with a trailing
# slash, so "^build/$" skips the build directory and everything below it.
# Lines starting with # are comments. Empty lines are ignored.
#
# Examples:
# \.DS_Store$
# \.tmp$
# (^|/)node_modules/$
`

// LoadIgnorePatterns loads ignore patterns from the ignore file, creating an
// empty one when it does not exist
func (im *IgnoreManager) LoadIgnorePatterns() error {
	if im.loaded {
		return nil
	}

	if _, err := os.Stat(im.ignorePath); os.IsNotExist(err) {
		if err := im.CreateEmptyIgnoreFile(); err != nil {
			return fmt.Errorf("failed to create ignore file: %w", err)
		}
		im.loaded = true
		return nil
	}

	file, err := os.Open(im.ignorePath)
	if err != nil {
		return fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		pattern, err := regexp.Compile(line)
		if err != nil {
			return fmt.Errorf("invalid regex pattern at line %d: %s - %w", lineNum, line, err)
		}

		im.patterns = append(im.patterns, pattern)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading ignore file: %w", err)
	}

	im.loaded = true
	return nil
}

// IsIgnored implements IgnoreRules. The repository directory itself is always ignored.
func (im *IgnoreManager) IsIgnored(relPath string, isDir bool) bool {
	normalisedPath := filepath.ToSlash(relPath)
	if normalisedPath == RepoDirName || strings.HasPrefix(normalisedPath, RepoDirName+"/") {
		return true
	}
	if isDir {
		normalisedPath += "/"
	}

	for _, pattern := range im.patterns {
		if pattern.MatchString(normalisedPath) {
			return true
		}
	}

	return false
}

// CreateEmptyIgnoreFile creates an ignore file holding only the explanatory header
func (im *IgnoreManager) CreateEmptyIgnoreFile() error {
	if err := os.MkdirAll(filepath.Dir(im.ignorePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(im.ignorePath, []byte(ignoreFileHeader), 0644)
}

// AddPattern adds a new ignore pattern
func (im *IgnoreManager) AddPattern(patternStr string) error {
	pattern, err := regexp.Compile(patternStr)
	if err != nil {
		return fmt.Errorf("invalid regex pattern: %s - %w", patternStr, err)
	}

	im.patterns = append(im.patterns, pattern)
	return nil
}

// SaveIgnorePatterns saves current patterns to the ignore file
func (im *IgnoreManager) SaveIgnorePatterns() error {
	var sb strings.Builder
	sb.WriteString(ignoreFileHeader)
	sb.WriteString("\n")
	for _, pattern := range im.patterns {
		sb.WriteString(pattern.String())
		sb.WriteString("\n")
	}
	if err := os.WriteFile(im.ignorePath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write ignore file: %w", err)
	}
	return nil
}

// GetPatterns returns all loaded patterns
func (im *IgnoreManager) GetPatterns() []*regexp.Regexp {
	return im.patterns
}

// noIgnore ignores only the repository directory
type noIgnore struct{}

func (noIgnore) IsIgnored(relPath string, isDir bool) bool {
	return relPath == RepoDirName || strings.HasPrefix(relPath, RepoDirName+"/")
}

// FilenameFilter selects files by glob patterns matched against the base name.
// An empty Include admits every file; Exclude wins over Include.
type FilenameFilter struct {
	Include []string
	Exclude []string
}

// Match reports whether the file at relPath passes the filter
func (f FilenameFilter) Match(relPath string) bool {
	name := relPath
	if idx := strings.LastIndex(relPath, "/"); idx != -1 {
		name = relPath[idx+1:]
	}
	for _, pattern := range f.Exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, pattern := range f.Include {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// ValidatePatterns reports the first malformed glob
func (f FilenameFilter) ValidatePatterns() error {
	for _, pattern := range append(append([]string{}, f.Include...), f.Exclude...) {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid filename pattern %q: %w", pattern, err)
		}
	}
	return nil
}
