// Package schema defines the Go struct types for the scenario YAML document
// and provides strict parsing plus the 3-phase validation pipeline
// (structural, JSON Schema, domain rules).
package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Scenario is the top-level document: a named list of steps plus an
// optional map of reusable groups.
type Scenario struct {
	APIVersion  string           `yaml:"apiVersion"            json:"apiVersion" jsonschema:"required,enum=scenario/v1"`
	Name        string           `yaml:"name"                  json:"name"       jsonschema:"required"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Groups      map[string]Group `yaml:"groups,omitempty"      json:"groups,omitempty"`
	Steps       []Step           `yaml:"steps"                 json:"steps"      jsonschema:"required,minItems=1"`
}

// Group is a named, reusable step list. Referencing a group by name in the
// top-level step list inlines its members, with member ids prefixed by the
// group invocation id.
type Group struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps"                 json:"steps" jsonschema:"required,minItems=1"`
}

// Step is one capability invocation (or a group reference) in a scenario.
// Immutable once parsed.
type Step struct {
	// Step names the capability to invoke ("utm.upload_plan") or a group.
	Step       string         `yaml:"step"                 json:"step" jsonschema:"required"`
	ID         string         `yaml:"id,omitempty"         json:"id,omitempty"`
	Arguments  map[string]any `yaml:"arguments,omitempty"  json:"arguments,omitempty"`
	If         string         `yaml:"if,omitempty"         json:"if,omitempty"`
	Loop       *Loop          `yaml:"loop,omitempty"       json:"loop,omitempty"`
	Background bool           `yaml:"background,omitempty" json:"background,omitempty"`
}

// Loop repeats a step or group. Exactly one of Count, Items, While is set.
type Loop struct {
	Count int `yaml:"count,omitempty" json:"count,omitempty"`
	// Items is a literal list or a ${{ ... }} expression resolving to one.
	Items any    `yaml:"items,omitempty" json:"items,omitempty"`
	While string `yaml:"while,omitempty" json:"while,omitempty"`
}

// Modes lists which loop variants are set (for exactly-one-of validation
// and engine dispatch).
func (l *Loop) Modes() []string {
	var m []string
	if l.Count != 0 {
		m = append(m, "count")
	}
	if l.Items != nil {
		m = append(m, "items")
	}
	if l.While != "" {
		m = append(m, "while")
	}
	return m
}

// LoadFile reads and parses a scenario YAML file with strict unknown-field
// rejection.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a scenario from an io.Reader with strict unknown-field
// rejection (yaml.v3 KnownFields).
func Load(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	sc.Normalize()
	return &sc, nil
}

// Normalize fills in defaulted fields: every step without an id gets a
// stable generated token for the lifetime of this document instance.
func (s *Scenario) Normalize() {
	for i := range s.Steps {
		normalizeStep(&s.Steps[i])
	}
	for name, g := range s.Groups {
		for i := range g.Steps {
			normalizeStep(&g.Steps[i])
		}
		s.Groups[name] = g
	}
}

func normalizeStep(st *Step) {
	if st.ID == "" {
		st.ID = generatedID(st.Step)
	}
}

// generatedID builds a default step id from the capability name plus a short
// random token: "utm.upload_plan" -> "upload_plan-3f2a91c4".
func generatedID(capability string) string {
	base := capability
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[i+1:]
	}
	if base == "" {
		base = "step"
	}
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
}
