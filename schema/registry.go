package schema

import (
	"fmt"
	"sort"
)

// Registry is the concrete TypeCatalog. It is immutable after NewRegistry
// returns, so it is safe for concurrent use without locking.
type Registry struct {
	types    map[string]*TypeInfo
	base     map[string][]string
	children map[string][]string
	names    []string
}

// NewRegistry builds a catalog from type declarations. It validates that
// base types and link targets refer to declared types, and precomputes the
// transitive base/child type closures.
func NewRegistry(infos ...*TypeInfo) (*Registry, error) {
	r := &Registry{
		types:    make(map[string]*TypeInfo),
		base:     make(map[string][]string),
		children: make(map[string][]string),
	}
	for _, info := range infos {
		if info.Name == "" {
			return nil, fmt.Errorf("schema: type with empty name")
		}
		if _, dup := r.types[info.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate type %q", info.Name)
		}
		r.types[info.Name] = info
		r.names = append(r.names, info.Name)
	}
	sort.Strings(r.names)

	for _, info := range r.types {
		for _, b := range info.Base {
			if _, ok := r.types[b]; !ok {
				return nil, fmt.Errorf("schema: type %q declares unknown base %q", info.Name, b)
			}
		}
		if err := validateLinks(r, info.Name, info.Fields); err != nil {
			return nil, err
		}
	}

	// transitive closures
	for name := range r.types {
		seen := make(map[string]bool)
		r.collectBases(name, seen)
		delete(seen, name)
		r.base[name] = sortedKeys(seen)
	}
	for name, bases := range r.base {
		for _, b := range bases {
			r.children[b] = append(r.children[b], name)
		}
	}
	for _, kids := range r.children {
		sort.Strings(kids)
	}
	return r, nil
}

func validateLinks(r *Registry, typeName string, fields []Field) error {
	for _, f := range fields {
		if f.Kind == KindLink {
			for _, target := range f.LinkTo {
				if _, ok := r.types[target]; !ok {
					return fmt.Errorf("schema: type %q field %q links to unknown type %q",
						typeName, f.Name, target)
				}
			}
		}
		if len(f.Properties) > 0 {
			if err := validateLinks(r, typeName, f.Properties); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) collectBases(name string, seen map[string]bool) {
	if seen[name] {
		return
	}
	seen[name] = true
	info, ok := r.types[name]
	if !ok {
		return
	}
	for _, b := range info.Base {
		r.collectBases(b, seen)
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) Schema(itemType string) ([]Field, bool) {
	info, ok := r.types[itemType]
	if !ok {
		return nil, false
	}
	return info.Fields, true
}

func (r *Registry) EmbedPaths(itemType string) []string {
	info, ok := r.types[itemType]
	if !ok {
		return nil
	}
	return info.EmbedPaths
}

func (r *Registry) BaseTypes(itemType string) []string {
	return r.base[itemType]
}

func (r *Registry) ChildTypes(itemType string) []string {
	return r.children[itemType]
}

func (r *Registry) Lookup(itemType string) (*TypeInfo, bool) {
	info, ok := r.types[itemType]
	return info, ok
}

func (r *Registry) TypeNames() []string {
	return r.names
}
