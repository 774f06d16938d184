package parser

import (
	"fmt"
	"io"
	"time"

	"github.com/harrison/sentinel/internal/models"
	"gopkg.in/yaml.v3"
)

// YAMLParser parses workflow documents of the form:
//
//	workflow:
//	  id: release
//	  timeout: 10m
//	tasks:
//	  - id: build
//	    capabilities: [compile]
//	    requirements: {cpu_cores: 2}
//	    command: go build ./...
type YAMLParser struct{}

// NewYAMLParser creates a new YAML workflow parser.
func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

type yamlWorkflow struct {
	Workflow struct {
		ID      string        `yaml:"id"`
		Name    string        `yaml:"name"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"workflow"`
	Tasks []models.Task `yaml:"tasks"`
}

// Parse decodes a YAML workflow document.
func (p *YAMLParser) Parse(r io.Reader) (*models.Workflow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	var doc yamlWorkflow
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i := range doc.Tasks {
		if err := doc.Tasks[i].Validate(); err != nil {
			return nil, fmt.Errorf("task %d: %w", i+1, err)
		}
	}

	return &models.Workflow{
		ID:      doc.Workflow.ID,
		Name:    doc.Workflow.Name,
		Timeout: doc.Workflow.Timeout,
		Tasks:   doc.Tasks,
	}, nil
}
