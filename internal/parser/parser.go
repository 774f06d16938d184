package parser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/sentinel/internal/fileutil"
	"github.com/harrison/sentinel/internal/models"
)

// Format represents the format of a workflow file.
type Format int

const (
	// FormatUnknown represents an unknown or unsupported file format
	FormatUnknown Format = iota
	// FormatMarkdown represents a Markdown (.md, .markdown) workflow file
	FormatMarkdown
	// FormatYAML represents a YAML (.yaml, .yml) workflow file
	FormatYAML
)

// String returns the string representation of the Format.
func (f Format) String() string {
	switch f {
	case FormatMarkdown:
		return "markdown"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// Parser is the interface that all workflow parsers must implement.
type Parser interface {
	// Parse reads from an io.Reader and returns a parsed Workflow
	Parse(r io.Reader) (*models.Workflow, error)
}

// DetectFormat detects the workflow format based on file extension.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatUnknown
	}
}

// NewParser creates a new parser instance for the specified format.
func NewParser(format Format) (Parser, error) {
	switch format {
	case FormatMarkdown:
		return NewMarkdownParser(), nil
	case FormatYAML:
		return NewYAMLParser(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %v", format)
	}
}

// ParseFile detects the format, parses the file and records its absolute path.
// A workflow without an id takes the file name without extension.
// Structural problems (cycles, unknown dependencies) are not reported here;
// they are what the unit tests assert on.
func ParseFile(path string) (*models.Workflow, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unknown file format: %s (supported: .md, .markdown, .yaml, .yml)", path)
	}

	p, err := NewParser(format)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	wf, err := p.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	wf.FilePath = absPath
	if wf.ID == "" {
		base := filepath.Base(path)
		wf.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if wf.Name == "" {
		wf.Name = wf.ID
	}

	return wf, nil
}

// ParsePath parses a single workflow file, or every workflow file in a directory.
func ParsePath(path string) ([]*models.Workflow, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		wf, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		return []*models.Workflow{wf}, nil
	}
	return ParseDirectory(path)
}

// ParseDirectory parses every workflow file directly inside dir, in name order.
// Workflow ids must be unique across the directory.
func ParseDirectory(dir string) ([]*models.Workflow, error) {
	scan, err := fileutil.ScanDirectory(dir, fileutil.ScanOptions{
		Extensions: []string{".yaml", ".yml", ".md", ".markdown"},
		SkipNames:  []string{"README.md"},
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string)
	workflows := make([]*models.Workflow, 0, len(scan.Files))
	for _, path := range scan.Files {
		wf, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[wf.ID]; dup {
			return nil, fmt.Errorf("workflow %q defined in both %s and %s", wf.ID, prev, path)
		}
		seen[wf.ID] = path
		workflows = append(workflows, wf)
	}
	return workflows, nil
}
