// Package scope narrows invalidation fan-out. Given a diff describing which
// fields of which type changed, and a candidate set of objects discovered by
// reverse-link search, it prunes the candidates whose denormalized views
// cannot have been affected. The narrowing is static and best-effort: it
// trusts the declared embed paths to be the complete list of what each view
// surfaces, and over-approximates whenever in doubt.
package scope

import (
	"fmt"
	"strings"

	"github.com/4dn-dcic/snovault-sub000/schema"
	"github.com/4dn-dcic/snovault-sub000/store"
	"github.com/4dn-dcic/snovault-sub000/x"
)

var log = x.Log("scope")

// DefaultEmbeds are the fields every denormalized view surfaces for every
// linked object, declared or not. A diff touching any of these invalidates
// everything; narrowing is skipped.
var DefaultEmbeds = []string{"uuid", "@id", "@type", "display_title", "principals_allowed.*"}

// Diff entries look like "ItemType.field.path". parseDiff groups the field
// paths by originating type, dropping malformed entries.
func parseDiff(diff []string) map[string][]string {
	byType := make(map[string][]string)
	for _, d := range diff {
		itemType, field, ok := strings.Cut(d, ".")
		if !ok || itemType == "" || field == "" {
			log.WithField("diff", d).Warn("Ignoring malformed diff entry")
			continue
		}
		byType[itemType] = append(byType[itemType], field)
	}
	return byType
}

// touchesDefaultEmbed reports whether any diff field is in the default-embed
// set.
func touchesDefaultEmbed(byType map[string][]string) bool {
	for _, fields := range byType {
		for _, f := range fields {
			for _, d := range DefaultEmbeds {
				if fieldMatches(d, f) {
					return true
				}
			}
		}
	}
	return false
}

// fieldMatches tests a single embedded terminal field against a single diff
// field. Three ways to match: exactly, under a trailing wildcard, or when
// the diff field sits on the embed path itself (the relation it crosses was
// retargeted).
func fieldMatches(terminal, diffField string) bool {
	if terminal == diffField {
		return true
	}
	if strings.HasSuffix(terminal, "*") {
		prefix := strings.TrimSuffix(terminal, "*")
		prefix = strings.TrimSuffix(prefix, ".")
		if prefix == "" || diffField == prefix || strings.HasPrefix(diffField, prefix+".") {
			return true
		}
	}
	if strings.HasPrefix(terminal, diffField+".") {
		return true
	}
	return false
}

// typesCompatible reports whether a change to an object of diffType can be
// seen through a link declared to target the given type. True when the
// types are equal or related by inheritance in either direction: a link may
// target a supertype and be satisfied by any subtype, and a diff expressed
// against a parent type covers its children.
func typesCompatible(cat schema.TypeCatalog, target, diffType string) bool {
	if target == diffType {
		return true
	}
	for _, b := range cat.BaseTypes(diffType) {
		if b == target {
			return true
		}
	}
	for _, c := range cat.ChildTypes(diffType) {
		if c == target {
			return true
		}
	}
	return false
}

// walkToLink walks an embed path against a type's schema looking for the
// first link segment whose target is compatible with one of the diff's
// originating types. It is a pure function: matched reports whether such a
// link was found, linkDepth counts the segments before it, terminal is the
// remainder of the path (the field actually embedded from the linked
// object), and targets are the matched link's declared target types.
func walkToLink(cat schema.TypeCatalog, fields []schema.Field, segs []string,
	byType map[string][]string) (matched bool, linkDepth int, terminal string, targets []string) {
	for i, seg := range segs {
		f := schema.FieldByName(fields, seg)
		if f == nil {
			return false, 0, "", nil
		}
		if f.Kind == schema.KindLink {
			rest := strings.Join(segs[i+1:], ".")
			for _, target := range f.LinkTo {
				for diffType := range byType {
					if typesCompatible(cat, target, diffType) {
						return true, i, rest, f.LinkTo
					}
				}
			}
			// not the link we are looking for; keep walking inside the
			// linked types' schemas
			for _, target := range f.LinkTo {
				inner, ok := cat.Schema(target)
				if !ok {
					continue
				}
				if m, d, t, lt := walkToLink(cat, inner, segs[i+1:], byType); m {
					return true, i + 1 + d, t, lt
				}
			}
			return false, 0, "", nil
		}
		if len(f.Properties) > 0 {
			fields = f.Properties
			continue
		}
		// plain leaf before any link: the path never crosses into the
		// changed object
		return false, 0, "", nil
	}
	return false, 0, "", nil
}

// applicableFields collects the diff fields whose originating type is
// compatible with the matched link's targets. Fields of unrelated diff
// types cannot be seen through this link and must not invalidate it.
func applicableFields(cat schema.TypeCatalog, byType map[string][]string, targets []string) []string {
	var out []string
	for diffType, fields := range byType {
		for _, target := range targets {
			if typesCompatible(cat, target, diffType) {
				out = append(out, fields...)
				break
			}
		}
	}
	return out
}

// typeInvalidated decides whether any of itemType's embed paths surfaces a
// field the diff touched.
func typeInvalidated(cat schema.TypeCatalog, itemType string, byType map[string][]string) bool {
	fields, ok := cat.Schema(itemType)
	if !ok {
		// unknown candidate type: keep it, conservatively
		return true
	}
	for _, path := range cat.EmbedPaths(itemType) {
		segs := strings.Split(path, ".")
		matched, _, terminal, targets := walkToLink(cat, fields, segs, byType)
		if !matched {
			continue
		}
		if terminal == "" {
			// the path ends at the link: the whole linked object is
			// embedded
			return true
		}
		for _, diffField := range applicableFields(cat, byType, targets) {
			if fieldMatches(terminal, diffField) {
				return true
			}
		}
	}
	return false
}

// FilterInvalidationScope prunes the candidate set in place. Candidates
// whose type cannot be affected by the diff are removed from secondary and
// dropped from the returned slice. An empty diff disables narrowing; every
// candidate is kept. The per-type verdict is memoized for the duration of
// the call.
func FilterInvalidationScope(cat schema.TypeCatalog, diff []string,
	invalidated []store.Ref, secondary map[string]struct{}) []store.Ref {
	if len(diff) == 0 {
		return invalidated
	}
	byType := parseDiff(diff)
	if len(byType) == 0 || touchesDefaultEmbed(byType) {
		return invalidated
	}

	verdict := make(map[string]bool)
	kept := invalidated[:0]
	for _, ref := range invalidated {
		v, seen := verdict[ref.ItemType]
		if !seen {
			v = typeInvalidated(cat, ref.ItemType, byType)
			verdict[ref.ItemType] = v
			if !v {
				log.WithField("item_type", ref.ItemType).WithField("diff", strings.Join(diff, ",")).
					Debug("Type cleared from invalidation scope")
			}
		}
		if v {
			kept = append(kept, ref)
		} else if secondary != nil {
			delete(secondary, ref.UUID)
		}
	}
	return kept
}

// Result is the per-field audit produced by ComputeInvalidationScope.
type Result struct {
	SourceType  string   `json:"source_type"`
	TargetType  string   `json:"target_type"`
	Invalidated []string `json:"invalidated"`
	Cleared     []string `json:"cleared"`
}

// ComputeInvalidationScope simulates a single-field edit for every field of
// sourceType's schema and reports whether targetType's view would be
// invalidated by each. Abstract and unknown types are rejected.
func ComputeInvalidationScope(cat schema.TypeCatalog, sourceType, targetType string) (*Result, error) {
	for _, t := range []string{sourceType, targetType} {
		info, ok := cat.Lookup(t)
		if !ok {
			return nil, fmt.Errorf("scope: unknown item type %q", t)
		}
		if info.Abstract {
			return nil, fmt.Errorf("scope: item type %q is abstract", t)
		}
	}
	fields, _ := cat.Schema(sourceType)
	res := &Result{SourceType: sourceType, TargetType: targetType}
	for _, path := range schema.FieldPaths(fields) {
		diff := []string{sourceType + "." + path}
		cand := []store.Ref{{UUID: "audit", ItemType: targetType}}
		kept := FilterInvalidationScope(cat, diff, cand, nil)
		if len(kept) > 0 {
			res.Invalidated = append(res.Invalidated, path)
		} else {
			res.Cleared = append(res.Cleared, path)
		}
	}
	return res, nil
}
