// Package suite loads and validates the YAML suite document: the manifest
// id template, row filters, filematch specs, and the ordered stage list,
// per spec §3 and §4.E.
package suite

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MSU-Libraries/colophon/internal/condition"
	tmpl "github.com/MSU-Libraries/colophon/internal/template"
)

// FileMatch is one filematch spec under manifest.files.
type FileMatch struct {
	condition.Set `yaml:",inline"`

	Label    string `yaml:"label"`
	Value    string `yaml:"value"`
	Multiple bool   `yaml:"multiple"`
	Optional bool   `yaml:"optional"`
	LinkedTo string `yaml:"linkedto"`
}

// effectiveValue returns Value, defaulting to "{{ file.name }}" per spec §4.C/4.F.
func (fm FileMatch) effectiveValue() string {
	if fm.Value != "" {
		return fm.Value
	}
	return "{{ file.name }}"
}

// EffectiveValue is exported for the matcher.
func (fm FileMatch) EffectiveValue() string { return fm.effectiveValue() }

// Filter is one entry in manifest.filter.
type Filter struct {
	condition.Set `yaml:",inline"`
	Value         string `yaml:"value"`
}

// manifestSpec is the manifest: block of the suite document.
type manifestSpec struct {
	ID     string      `yaml:"id"`
	Filter []Filter    `yaml:"filter"`
	Files  []FileMatch `yaml:"files"`
}

// Stage is one entry under stages:.
type Stage struct {
	Name     string   `yaml:"-"`
	Script   string   `yaml:"script"`
	LoopVars []string `yaml:"loopvars"`
}

// document is the raw decoded shape of the YAML suite file.
type document struct {
	Manifest manifestSpec `yaml:"manifest"`
	Stages   yaml.Node    `yaml:"stages"`
}

// Suite is a validated, loaded suite document.
type Suite struct {
	idTemplate string
	filters    []Filter
	files      []FileMatch
	stages     []Stage

	engine *tmpl.Engine
}

// Load reads path, parses it as YAML, validates it against the suite schema
// (§3), and returns a ready-to-use Suite. Validation failure is fatal, per
// spec §4.E.
func Load(path string, engine *tmpl.Engine) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("suite: %w", err)
	}
	return parse(data, engine)
}

func parse(data []byte, engine *tmpl.Engine) (*Suite, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("suite: parse yaml: %w", err)
	}

	if err := Validate(raw); err != nil {
		return nil, fmt.Errorf("suite: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("suite: parse yaml: %w", err)
	}

	stages, err := decodeStages(doc.Stages)
	if err != nil {
		return nil, fmt.Errorf("suite: %w", err)
	}

	if doc.Manifest.ID == "" {
		return nil, fmt.Errorf("suite: manifest.id is required")
	}
	if len(doc.Manifest.Files) == 0 {
		return nil, fmt.Errorf("suite: manifest.files must be non-empty")
	}

	return &Suite{
		idTemplate: doc.Manifest.ID,
		filters:    doc.Manifest.Filter,
		files:      doc.Manifest.Files,
		stages:     stages,
		engine:     engine,
	}, nil
}

// decodeStages turns the stages: mapping into an ordered slice, preserving
// declaration order (yaml.Node retains key order; a plain map does not).
func decodeStages(node yaml.Node) ([]Stage, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("stages must be a mapping")
	}

	var stages []Stage
	for i := 0; i+1 < len(node.Content); i += 2 {
		nameNode := node.Content[i]
		valNode := node.Content[i+1]

		var body Stage
		if err := valNode.Decode(&body); err != nil {
			return nil, fmt.Errorf("stage %q: %w", nameNode.Value, err)
		}
		body.Name = nameNode.Value
		stages = append(stages, body)
	}
	return stages, nil
}

// ManifestID renders the id template against row and replaces any "/" with
// "_" so the result is safe as a directory component, per spec §4.E.
func (s *Suite) ManifestID(row map[string]any) (string, error) {
	rendered, err := s.engine.Render(s.idTemplate, row)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(rendered, "/", "_"), nil
}

// Filter returns "" if row passes every filter, else a human-readable
// representation of the first filter that failed to match, per spec §4.E.
func (s *Suite) Filter(row map[string]any, ev *condition.Evaluator) (string, error) {
	for _, f := range s.filters {
		_, matched, err := ev.Match(f.Value, f.Set, row)
		if err != nil {
			return "", err
		}
		if !matched {
			return fmt.Sprintf("Filter did not match: %s", describeFilter(f)), nil
		}
	}
	return "", nil
}

func describeFilter(f Filter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "value=%q", f.Value)
	if f.Equals != nil {
		fmt.Fprintf(&b, " equals=%q", *f.Equals)
	}
	if f.StartsWith != nil {
		fmt.Fprintf(&b, " startswith=%q", *f.StartsWith)
	}
	if f.EndsWith != nil {
		fmt.Fprintf(&b, " endswith=%q", *f.EndsWith)
	}
	if f.Regex != nil {
		fmt.Fprintf(&b, " regex=%q", *f.Regex)
	}
	if f.GreaterThan != nil {
		fmt.Fprintf(&b, " greaterthan=%q", *f.GreaterThan)
	}
	if f.LessThan != nil {
		fmt.Fprintf(&b, " lessthan=%q", *f.LessThan)
	}
	return b.String()
}

// Files returns the ordered filematch specs for manifest.files.
func (s *Suite) Files() []FileMatch { return s.files }

// Stages returns stages in declaration order.
func (s *Suite) Stages() []Stage { return s.stages }
