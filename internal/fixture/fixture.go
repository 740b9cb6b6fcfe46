// Package fixture loads seed data (projects, elements, cases, suites) from
// YAML or JSON and writes it into a store. Cross references use names.
package fixture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fixture is the top-level seed document.
type Fixture struct {
	Elements []Element `json:"elements" yaml:"elements"`
	Projects []Project `json:"projects" yaml:"projects"`
	Suites   []Suite   `json:"suites" yaml:"suites"`
}

// Element is a named locator.
type Element struct {
	Name    string `json:"name" yaml:"name"`
	Locator string `json:"locator" yaml:"locator"` // css, xpath, id, name, text
	Value   string `json:"value" yaml:"value"`
}

type Project struct {
	Name    string   `json:"name" yaml:"name"`
	BaseURL string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Modules []Module `json:"modules" yaml:"modules"`
}

type Module struct {
	Name  string `json:"name" yaml:"name"`
	Cases []Case `json:"cases" yaml:"cases"`
}

// Case names must be unique across the fixture; suites refer to them.
type Case struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step references its element by name. Actions are stored as written.
type Step struct {
	Action      string `json:"action" yaml:"action"`
	Element     string `json:"element,omitempty" yaml:"element,omitempty"`
	Value       string `json:"value,omitempty" yaml:"value,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Suite members are case names, in execution order.
type Suite struct {
	Name    string   `json:"name" yaml:"name"`
	Project string   `json:"project" yaml:"project"`
	Cases   []string `json:"cases" yaml:"cases"`
}

// LoadFromPath reads a fixture file. Format follows the extension
// (.yaml/.yml, .json) or, failing that, the content.
func LoadFromPath(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Load(data, filepath.Ext(path))
}

// Load parses a fixture from bytes. ext is a format hint; empty means
// detect from content.
func Load(data []byte, ext string) (*Fixture, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return decodeYAML(data)
	case ".json":
		return decodeJSON(data)
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		return decodeJSON(data)
	}
	return decodeYAML(data)
}

func decodeYAML(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture yaml: %w", err)
	}
	return &f, nil
}

func decodeJSON(data []byte) (*Fixture, error) {
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture json: %w", err)
	}
	return &f, nil
}
