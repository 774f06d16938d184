// Package fileutil scans directories for the documents sentinel loads:
// agent declarations and workflow files.
//
// Hidden directories (".git", ".sentinel") are always skipped. Output is
// sorted so loading order is deterministic. Non-fatal errors (an unreadable
// subdirectory) are collected in ScanResult.Errors and scanning continues.
package fileutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ScanOptions configures the directory scanning behavior
type ScanOptions struct {
	// Pattern is a regex matched against the filename without extension
	Pattern string
	// Extensions filters files by extension, case-insensitive (".yaml" or "yaml")
	Extensions []string
	// Recursive enables descending into subdirectories
	Recursive bool
	// ExcludeDirs names directories to skip at any depth
	ExcludeDirs []string
	// MaxDepth limits recursion depth (0 = unlimited, 1 = root only)
	MaxDepth int
	// SkipNames lists base filenames to ignore (e.g. "README.md")
	SkipNames []string
}

// ScanResult contains the results of a directory scan
type ScanResult struct {
	// Files holds absolute paths of matched files, sorted
	Files []string
	// Errors holds non-fatal problems encountered while walking
	Errors []error
}

type matcher struct {
	pattern *regexp.Regexp
	exts    map[string]bool
	exclude map[string]bool
	skip    map[string]bool
}

func newMatcher(opts ScanOptions) (*matcher, error) {
	m := &matcher{
		exts:    make(map[string]bool, len(opts.Extensions)),
		exclude: make(map[string]bool, len(opts.ExcludeDirs)),
		skip:    make(map[string]bool, len(opts.SkipNames)),
	}
	if opts.Pattern != "" {
		re, err := regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		m.pattern = re
	}
	for _, ext := range opts.Extensions {
		m.exts["."+strings.TrimPrefix(strings.ToLower(ext), ".")] = true
	}
	for _, d := range opts.ExcludeDirs {
		m.exclude[d] = true
	}
	for _, n := range opts.SkipNames {
		m.skip[n] = true
	}
	return m, nil
}

func (m *matcher) matchFile(name string) bool {
	if m.skip[name] {
		return false
	}
	ext := filepath.Ext(name)
	if len(m.exts) > 0 && !m.exts[strings.ToLower(ext)] {
		return false
	}
	if m.pattern != nil && !m.pattern.MatchString(strings.TrimSuffix(name, ext)) {
		return false
	}
	return true
}

// ScanDirectory scans a directory for files matching the provided options
func ScanDirectory(dir string, opts ScanOptions) (*ScanResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	m, err := newMatcher(opts)
	if err != nil {
		return nil, err
	}

	root := filepath.Clean(dir)
	result := &ScanResult{Files: []string{}}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("error accessing %s: %w", path, err))
			return nil
		}
		if path == root {
			return nil
		}

		if d.IsDir() {
			if !opts.Recursive || m.exclude[d.Name()] || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if opts.MaxDepth > 0 {
				rel, _ := filepath.Rel(root, path)
				if strings.Count(rel, string(filepath.Separator))+1 >= opts.MaxDepth {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !m.matchFile(d.Name()) {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to resolve path %s: %w", path, err))
			return nil
		}
		result.Files = append(result.Files, abs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(result.Files)
	return result, nil
}

// IsDir reports whether path exists and is a directory
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
