// Package schema owns the default configuration template, the typed overlay
// of tenant overrides onto it, and structural validation of the result.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

//go:embed defaults.yaml
var defaultTemplateYAML []byte

// Template is the process-wide default configuration. It is read-only after
// construction.
type Template struct {
	config   model.Config
	doc      map[string]any
	features []string
}

// DefaultTemplate returns the embedded template.
func DefaultTemplate() *Template {
	t, err := LoadTemplate(bytes.NewReader(defaultTemplateYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded config template: %v", err))
	}
	return t
}

// LoadTemplate parses a YAML template and checks it against the schema.
func LoadTemplate(r io.Reader) (*Template, error) {
	var raw any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert template: %w", err)
	}

	var cfg model.Config
	if problems := decodeStrict(data, &cfg); len(problems) > 0 {
		return nil, &model.ConfigError{Slug: "template", Problems: problems}
	}
	if problems := Validate(&cfg, nil); len(problems) > 0 {
		return nil, &model.ConfigError{Slug: "template", Problems: problems}
	}

	doc, err := toDocument(cfg)
	if err != nil {
		return nil, err
	}
	return &Template{
		config:   cfg,
		doc:      doc,
		features: slices.Sorted(maps.Keys(cfg.Features)),
	}, nil
}

// Config returns a deep copy of the template configuration.
func (t *Template) Config() model.Config {
	return t.config.Clone()
}

// HasFeature reports whether key is a declared feature.
func (t *Template) HasFeature(key string) bool {
	_, ok := slices.BinarySearch(t.features, key)
	return ok
}

// Features lists the declared feature keys in sorted order.
func (t *Template) Features() []string {
	return slices.Clone(t.features)
}

func toDocument(cfg model.Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode config document: %w", err)
	}
	return doc, nil
}
