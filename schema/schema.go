// Package schema holds the type catalog: per-type schemas, embed path
// declarations and the parent/child type relationships used by the
// invalidation scope analyzer. The catalog is constructed once at startup
// and passed into every component that needs it; there is no package-level
// registry.
package schema

import (
	"strings"
)

// Field kinds. Link fields reference other objects; object and array kinds
// carry nested Properties.
const (
	KindString  = "string"
	KindInteger = "integer"
	KindNumber  = "number"
	KindBoolean = "boolean"
	KindObject  = "object"
	KindArray   = "array"
	KindLink    = "link"
)

// Field describes one property of a type's schema. A link field names the
// item types it may target via LinkTo; an object or array field nests its
// sub-properties under Properties.
type Field struct {
	Name       string
	Kind       string
	LinkTo     []string
	Properties []Field
}

// TypeInfo is the full declaration of one item type: its schema, the embed
// paths its denormalized view pulls in, and its base (parent) types.
// Abstract types cannot have instances; they exist so that link fields can
// target a family of concrete types.
type TypeInfo struct {
	Name       string
	Abstract   bool
	Base       []string
	Fields     []Field
	EmbedPaths []string
}

// TypeCatalog is the read interface over the registry. Every component that
// needs type metadata takes a TypeCatalog; none reach for globals.
type TypeCatalog interface {
	// Schema returns the field list for the given item type.
	Schema(itemType string) ([]Field, bool)

	// EmbedPaths returns the dot-separated embed paths declared by the
	// given item type's denormalized view.
	EmbedPaths(itemType string) []string

	// BaseTypes returns the transitive parent types of the given type.
	BaseTypes(itemType string) []string

	// ChildTypes returns the transitive subtypes of the given type.
	ChildTypes(itemType string) []string

	// Lookup returns the full declaration of a type.
	Lookup(itemType string) (*TypeInfo, bool)

	// TypeNames returns all registered type names, sorted.
	TypeNames() []string
}

// FieldByName finds a field in a field list, ignoring a trailing wildcard
// marker on the segment.
func FieldByName(fields []Field, seg string) *Field {
	seg = strings.TrimSuffix(seg, "*")
	seg = strings.TrimSuffix(seg, ".")
	for i := range fields {
		if fields[i].Name == seg {
			return &fields[i]
		}
	}
	return nil
}

// FieldPaths flattens a schema into the dot-separated paths of its leaf
// fields. Link fields are leaves: the path stops at the link itself.
func FieldPaths(fields []Field) []string {
	var paths []string
	var walk func(prefix string, fs []Field)
	walk = func(prefix string, fs []Field) {
		for _, f := range fs {
			p := f.Name
			if prefix != "" {
				p = prefix + "." + f.Name
			}
			if (f.Kind == KindObject || f.Kind == KindArray) && len(f.Properties) > 0 {
				walk(p, f.Properties)
				continue
			}
			paths = append(paths, p)
		}
	}
	walk("", fields)
	return paths
}
