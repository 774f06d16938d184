package parser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/sentinel/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// MarkdownParser parses workflows written as Markdown. Each "## Task <id>: <name>"
// heading starts a task; "**Key**: value" lines set its fields and the first
// fenced code block becomes its command. Workflow fields come from frontmatter.
type MarkdownParser struct {
	markdown goldmark.Markdown
}

var (
	taskHeadingRegex = regexp.MustCompile(`^Task\s+([A-Za-z0-9_.-]+):\s*(.*)$`)
	fieldRegex       = regexp.MustCompile(`^\*\*([^*]+)\*\*:\s*(.*)$`)
)

type markdownFrontmatter struct {
	ID      string        `yaml:"id"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// NewMarkdownParser creates a new Markdown workflow parser
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		markdown: goldmark.New(),
	}
}

// Parse reads a Markdown workflow document
func (p *MarkdownParser) Parse(r io.Reader) (*models.Workflow, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	wf := &models.Workflow{}
	frontmatter, body := extractFrontmatter(content)
	if frontmatter != nil {
		var fm markdownFrontmatter
		if err := yaml.Unmarshal(frontmatter, &fm); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		wf.ID, wf.Name, wf.Timeout = fm.ID, fm.Name, fm.Timeout
	}

	doc := p.markdown.Parser().Parse(text.NewReader(body))
	tasks, err := extractTasks(doc, body)
	if err != nil {
		return nil, err
	}
	wf.Tasks = tasks

	if wf.Name == "" {
		wf.Name = firstTitle(doc, body)
	}
	return wf, nil
}

// extractTasks walks the top-level blocks, collecting one task per task heading
func extractTasks(doc ast.Node, source []byte) ([]models.Task, error) {
	var tasks []models.Task
	var current *models.Task

	flush := func() error {
		if current == nil {
			return nil
		}
		if err := current.Validate(); err != nil {
			return err
		}
		tasks = append(tasks, *current)
		current = nil
		return nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch block := n.(type) {
		case *ast.Heading:
			if block.Level != 2 {
				continue
			}
			if err := flush(); err != nil {
				return nil, err
			}
			matches := taskHeadingRegex.FindStringSubmatch(extractText(block, source))
			if matches != nil {
				current = &models.Task{ID: matches[1], Name: strings.TrimSpace(matches[2])}
			}
		case *ast.Paragraph:
			if current == nil {
				continue
			}
			for _, line := range blockLines(block, source) {
				if err := applyField(current, line); err != nil {
					return nil, fmt.Errorf("task %s: %w", current.ID, err)
				}
			}
		case *ast.FencedCodeBlock:
			if current != nil && current.Command == "" {
				current.Command = strings.TrimSpace(strings.Join(blockLines(block, source), "\n"))
			}
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// applyField sets one "**Key**: value" line on the task; other lines are prose
func applyField(task *models.Task, line string) error {
	matches := fieldRegex.FindStringSubmatch(strings.TrimSpace(line))
	if matches == nil {
		return nil
	}
	key := strings.ToLower(strings.TrimSpace(matches[1]))
	value := strings.TrimSpace(matches[2])

	switch key {
	case "capabilities":
		for _, c := range splitList(value) {
			task.RequiredCapabilities = append(task.RequiredCapabilities, models.Capability(c))
		}
	case "cpu", "cpu cores":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid cpu cores %q", value)
		}
		task.Requirements.CPUCores = n
	case "memory", "memory mb":
		n, err := strconv.ParseInt(strings.TrimSuffix(strings.ToUpper(value), "MB"), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid memory %q", value)
		}
		task.Requirements.MemoryMB = n
	case "dependencies":
		task.Dependencies = append(task.Dependencies, splitList(value)...)
	case "depends on":
		task.DependsOn = append(task.DependsOn, splitList(value)...)
	case "outputs":
		task.Outputs = append(task.Outputs, splitList(value)...)
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", value, err)
		}
		task.Timeout = d
	case "command":
		task.Command = strings.Trim(value, "`")
	}
	return nil
}

// splitList splits "a, `b`, c" into items; "none" yields nothing
func splitList(value string) []string {
	if strings.EqualFold(value, "none") || value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if item := strings.Trim(strings.TrimSpace(part), "`"); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func blockLines(n ast.Node, source []byte) []string {
	lines := n.Lines()
	out := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		out = append(out, strings.TrimRight(string(seg.Value(source)), "\r\n"))
	}
	return out
}

// extractText extracts plain text from an AST node
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
		}
	}
	return strings.TrimSpace(buf.String())
}

func firstTitle(doc ast.Node, source []byte) string {
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 {
			return extractText(h, source)
		}
	}
	return ""
}

// extractFrontmatter splits YAML frontmatter delimited by --- lines from the body
func extractFrontmatter(content []byte) ([]byte, []byte) {
	normalized := strings.ReplaceAll(string(content), "\r\n", "\n")
	lines := strings.Split(normalized, "\n")
	if len(lines) < 3 || lines[0] != "---" {
		return nil, []byte(normalized)
	}

	for i := 1; i < len(lines); i++ {
		if lines[i] == "---" {
			return []byte(strings.Join(lines[1:i], "\n")), []byte(strings.Join(lines[i+1:], "\n"))
		}
	}

	return nil, []byte(normalized)
}
