package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/sentinel/internal/fileutil"
	"github.com/harrison/sentinel/internal/models"
	"gopkg.in/yaml.v3"
)

// Declaration is an agent described on disk, either as a YAML file or as
// Markdown with YAML frontmatter
type Declaration struct {
	ID           string           `yaml:"id"`
	Endpoint     string           `yaml:"endpoint"` // Base URL of the agent's health API
	Capabilities CapabilityList   `yaml:"capabilities"`
	Resources    models.Resources `yaml:"resources"`
	Dependencies []string         `yaml:"dependencies"`
	FilePath     string           `yaml:"-"`
}

// CapabilityList accepts both a comma-separated string and a YAML array:
//
//	capabilities: compile, test
//	capabilities: [compile, test]
type CapabilityList []models.Capability

// UnmarshalYAML implements custom unmarshaling for CapabilityList
func (c *CapabilityList) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err == nil {
		parts := strings.Split(str, ",")
		*c = make(CapabilityList, 0, len(parts))
		for _, part := range parts {
			if capability := strings.TrimSpace(part); capability != "" {
				*c = append(*c, models.Capability(capability))
			}
		}
		return nil
	}

	var arr []string
	if err := value.Decode(&arr); err == nil {
		*c = make(CapabilityList, 0, len(arr))
		for _, s := range arr {
			*c = append(*c, models.Capability(s))
		}
		return nil
	}

	return fmt.Errorf("capabilities must be either a comma-separated string or an array")
}

// Set converts the list to a CapabilitySet
func (c CapabilityList) Set() models.CapabilitySet {
	return models.NewCapabilitySet(c...)
}

// Record builds the registry entry for the declaration
func (d Declaration) Record() models.AgentRecord {
	return models.AgentRecord{
		ID:           d.ID,
		Capabilities: d.Capabilities.Set(),
		Resources:    d.Resources,
	}
}

// HasDependency reports whether the declaration lists the named dependency
func (d Declaration) HasDependency(name string) bool {
	for _, dep := range d.Dependencies {
		if dep == name {
			return true
		}
	}
	return false
}

// Discover loads every agent declaration under dir (*.yaml, *.yml, *.md,
// README.md excluded). A missing directory yields no declarations and no
// error. Files that fail to parse are returned as non-fatal errors.
func Discover(dir string) ([]Declaration, []error, error) {
	if !fileutil.IsDir(dir) {
		return nil, nil, nil
	}

	scan, err := fileutil.ScanDirectory(dir, fileutil.ScanOptions{
		Extensions:  []string{".yaml", ".yml", ".md"},
		Recursive:   true,
		ExcludeDirs: []string{"examples", "logs"},
		SkipNames:   []string{"README.md"},
	})
	if err != nil {
		return nil, nil, err
	}

	problems := append([]error(nil), scan.Errors...)
	seen := make(map[string]string)
	var decls []Declaration
	for _, path := range scan.Files {
		d, err := ParseDeclaration(path)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if prev, dup := seen[d.ID]; dup {
			problems = append(problems, fmt.Errorf("%s: agent %q already declared in %s", path, d.ID, prev))
			continue
		}
		seen[d.ID] = path
		decls = append(decls, d)
	}
	return decls, problems, nil
}

// ParseDeclaration parses a single agent declaration file
func ParseDeclaration(path string) (Declaration, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Declaration{}, err
	}

	doc := content
	if strings.EqualFold(filepath.Ext(path), ".md") {
		frontmatter, _ := extractFrontmatter(content)
		if frontmatter == nil {
			return Declaration{}, fmt.Errorf("no frontmatter found in %s", path)
		}
		doc = frontmatter
	}

	var d Declaration
	if err := yaml.Unmarshal(doc, &d); err != nil {
		return Declaration{}, fmt.Errorf("%s: failed to parse declaration: %w", path, err)
	}
	d.FilePath = path

	if d.ID == "" {
		return Declaration{}, fmt.Errorf("%s: agent id is required", path)
	}
	if d.Resources.CPUCores < 0 || d.Resources.MemoryMB < 0 {
		return Declaration{}, fmt.Errorf("%s: resources must be >= 0", path)
	}
	return d, nil
}

// LoadInto registers every declaration, replacing existing entries
func LoadInto(r *Registry, decls []Declaration) {
	for _, d := range decls {
		r.Put(d.Record())
	}
}

// extractFrontmatter extracts YAML frontmatter from markdown content
// Returns the frontmatter and the remaining body
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	if len(lines) < 3 || lines[0] != "---" {
		return nil, content
	}

	for i := 1; i < len(lines); i++ {
		if lines[i] == "---" {
			return []byte(strings.Join(lines[1:i], "\n")), []byte(strings.Join(lines[i+1:], "\n"))
		}
	}

	return nil, content
}
