package pipeline

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed stages.yaml
var defaultStagesYAML []byte

var ErrInvalidStages = errors.New("invalid stage definitions")

// Stage is one LLM persona in the analysis chain.
type Stage struct {
	Name           string   `yaml:"name" validate:"required"`
	Title          string   `yaml:"title" validate:"required"`
	Role           string   `yaml:"role" validate:"required"`
	Goal           string   `yaml:"goal" validate:"required"`
	Backstory      string   `yaml:"backstory"`
	Task           string   `yaml:"task" validate:"required"`
	ExpectedOutput string   `yaml:"expected_output" validate:"required"`
	UsesDocument   bool     `yaml:"uses_document"`
	Context        []string `yaml:"context" validate:"dive,required"`

	goal      *template.Template
	backstory *template.Template
	task      *template.Template
}

type stageFile struct {
	Stages []*Stage `yaml:"stages" validate:"required,min=1,dive,required"`
}

// DefaultStages returns the built-in four-stage chain.
func DefaultStages() ([]*Stage, error) {
	return ParseStages(defaultStagesYAML)
}

// LoadStages reads stage definitions from path, or the built-in set when path is empty.
func LoadStages(path string) ([]*Stage, error) {
	if path == "" {
		return DefaultStages()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stages file: %w", err)
	}
	return ParseStages(data)
}

// ParseStages decodes and validates a stage list. Names must be unique and a
// stage may only take context from stages that run before it.
func ParseStages(data []byte) ([]*Stage, error) {
	var f stageFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStages, err)
	}

	if err := validator.New().Struct(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStages, err)
	}

	seen := make(map[string]bool, len(f.Stages))
	for _, s := range f.Stages {
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: duplicate stage %q", ErrInvalidStages, s.Name)
		}
		for _, dep := range s.Context {
			if !seen[dep] {
				return nil, fmt.Errorf("%w: stage %q takes context from %q, which does not run before it", ErrInvalidStages, s.Name, dep)
			}
		}
		seen[s.Name] = true

		var err error
		if s.goal, err = parseTemplate(s.Name+".goal", s.Goal); err != nil {
			return nil, err
		}
		if s.backstory, err = parseTemplate(s.Name+".backstory", s.Backstory); err != nil {
			return nil, err
		}
		if s.task, err = parseTemplate(s.Name+".task", s.Task); err != nil {
			return nil, err
		}
		// catches references to fields promptData does not have
		for _, t := range []*template.Template{s.goal, s.backstory, s.task} {
			if _, err := render(t, promptData{}); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidStages, err)
			}
		}
	}
	return f.Stages, nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidStages, name, err)
	}
	return t, nil
}

// promptData is what stage templates may reference.
type promptData struct {
	Query    string
	Filename string
	FilePath string
}

func render(t *template.Template, data promptData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(b.String()), nil
}
