package schema

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// yamlField mirrors Field in the on-disk declaration format.
type yamlField struct {
	Name       string      `yaml:"name"`
	Kind       string      `yaml:"kind"`
	LinkTo     []string    `yaml:"link_to,omitempty"`
	Properties []yamlField `yaml:"properties,omitempty"`
}

type yamlType struct {
	Name     string      `yaml:"name"`
	Abstract bool        `yaml:"abstract,omitempty"`
	Base     []string    `yaml:"base,omitempty"`
	Fields   []yamlField `yaml:"fields,omitempty"`
	Embeds   []string    `yaml:"embeds,omitempty"`
}

type yamlCatalog struct {
	Types []yamlType `yaml:"types"`
}

var validKinds = map[string]bool{
	KindString: true, KindInteger: true, KindNumber: true,
	KindBoolean: true, KindObject: true, KindArray: true, KindLink: true,
}

func fromYAML(fields []yamlField) ([]Field, error) {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if !validKinds[f.Kind] {
			return nil, fmt.Errorf("schema: field %q has unknown kind %q", f.Name, f.Kind)
		}
		props, err := fromYAML(f.Properties)
		if err != nil {
			return nil, err
		}
		out = append(out, Field{
			Name:       f.Name,
			Kind:       f.Kind,
			LinkTo:     f.LinkTo,
			Properties: props,
		})
	}
	return out, nil
}

// LoadFile reads a YAML type catalog declaration and builds the registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: reading %s: %w", path, err)
	}
	var cat yamlCatalog
	if err := yaml.UnmarshalStrict(data, &cat); err != nil {
		return nil, fmt.Errorf("schema: parsing %s: %w", path, err)
	}
	infos := make([]*TypeInfo, 0, len(cat.Types))
	for _, t := range cat.Types {
		fields, err := fromYAML(t.Fields)
		if err != nil {
			return nil, err
		}
		infos = append(infos, &TypeInfo{
			Name:       t.Name,
			Abstract:   t.Abstract,
			Base:       t.Base,
			Fields:     fields,
			EmbedPaths: t.Embeds,
		})
	}
	return NewRegistry(infos...)
}
