// Package embed builds denormalized documents. The builder reads ground
// truth through the resolver, resolves each declared embed path into the
// linked objects' data, and records every uuid the finished view depends
// on, which is what candidate discovery later queries against.
package embed

import (
	"fmt"
	"sort"
	"strings"

	"github.com/4dn-dcic/snovault-sub000/schema"
	"github.com/4dn-dcic/snovault-sub000/store"
	"github.com/4dn-dcic/snovault-sub000/x"
)

// defaultPrincipals is stamped on documents whose sheets carry no explicit
// access declaration.
var defaultPrincipals = map[string][]string{"view": {"system.Everyone"}}

// Builder assembles documents from the transactional store's sheets.
type Builder struct {
	resolver *store.Resolver
	catalog  schema.TypeCatalog
}

func NewBuilder(resolver *store.Resolver, catalog schema.TypeCatalog) *Builder {
	return &Builder{resolver: resolver, catalog: catalog}
}

// Build produces the denormalized document for one object. It always reads
// from the transactional store; building a view from replica data would
// launder staleness back into the replica.
func (b *Builder) Build(uuid string) (*store.Document, error) {
	obj, err := b.resolver.Get(uuid, store.StoreDatabase)
	if err != nil {
		return nil, err
	}

	doc := &store.Document{
		UUID:       obj.UUID,
		ItemType:   obj.ItemType,
		Properties: obj.Properties,
		Links:      obj.Links,
		UniqueKeys: obj.UniqueKeys,
		Sid:        obj.Sid,
		MaxSid:     obj.MaxSid,
		IndexedAt:  x.Timestamp(),
	}

	linked := make(map[string]bool)
	doc.Embedded, err = b.buildEmbedded(obj, linked)
	if err != nil {
		return nil, err
	}
	doc.LinkedUUIDs = sortedSet(linked)
	doc.RevLinkedToMe, err = b.revLinks(obj)
	if err != nil {
		return nil, err
	}
	doc.PrincipalsAllowed = principalsOf(obj)
	return doc, nil
}

func principalsOf(obj *store.Object) map[string][]string {
	raw, ok := obj.Properties["principals_allowed"].(map[string]interface{})
	if !ok {
		return defaultPrincipals
	}
	out := make(map[string][]string, len(raw))
	for action, v := range raw {
		vals, ok := v.([]interface{})
		if !ok {
			continue
		}
		for _, p := range vals {
			if s, ok := p.(string); ok {
				out[action] = append(out[action], s)
			}
		}
	}
	if len(out) == 0 {
		return defaultPrincipals
	}
	return out
}

// buildEmbedded copies the object's own properties and then resolves each
// declared embed path, replacing link fields with stubs of the linked
// objects' embedded data. Every uuid touched along the way lands in linked.
func (b *Builder) buildEmbedded(obj *store.Object, linked map[string]bool) (map[string]interface{}, error) {
	embedded := make(map[string]interface{}, len(obj.Properties))
	for k, v := range obj.Properties {
		embedded[k] = v
	}
	for _, target := range obj.Links {
		for _, u := range target {
			linked[u] = true
		}
	}

	// group embed paths by their leading link field
	byRel := make(map[string][]string)
	for _, path := range b.catalog.EmbedPaths(obj.ItemType) {
		rel, rest, _ := strings.Cut(path, ".")
		byRel[rel] = append(byRel[rel], rest)
	}

	for rel, rests := range byRel {
		targets := obj.Links[rel]
		if len(targets) == 0 {
			continue
		}
		stubs := make([]map[string]interface{}, 0, len(targets))
		for _, u := range targets {
			stub, err := b.embedOne(u, rests, linked)
			if err != nil {
				return nil, fmt.Errorf("embed: resolving %s.%s: %w", obj.UUID, rel, err)
			}
			stubs = append(stubs, stub)
		}
		embedded[rel] = stubs
	}
	return embedded, nil
}

// embedOne builds the stub for one linked object, restricted to the
// requested sub-paths. An empty or "*" sub-path embeds everything.
func (b *Builder) embedOne(uuid string, rests []string, linked map[string]bool) (map[string]interface{}, error) {
	obj, err := b.resolver.Get(uuid, store.StoreDatabase)
	if err != nil {
		return nil, err
	}
	linked[uuid] = true

	stub := map[string]interface{}{"uuid": obj.UUID}
	if title, ok := obj.Properties["display_title"]; ok {
		stub["display_title"] = title
	}
	for _, rest := range rests {
		if rest == "" || rest == "*" {
			for k, v := range obj.Properties {
				stub[k] = v
			}
			continue
		}
		head, tail, _ := strings.Cut(rest, ".")
		if deeper, ok := obj.Links[head]; ok {
			// the path crosses another link; recurse one hop further
			sub := make([]map[string]interface{}, 0, len(deeper))
			for _, du := range deeper {
				ds, err := b.embedOne(du, []string{tail}, linked)
				if err != nil {
					return nil, err
				}
				sub = append(sub, ds)
			}
			stub[head] = sub
			continue
		}
		if v, ok := lookupPath(obj.Properties, rest); ok {
			setPath(stub, rest, v)
		}
	}
	return stub, nil
}

// lookupPath digs a dot-separated path out of a property sheet.
func lookupPath(props map[string]interface{}, path string) (interface{}, bool) {
	head, tail, more := strings.Cut(path, ".")
	v, ok := props[head]
	if !ok {
		return nil, false
	}
	if !more {
		return v, true
	}
	sub, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return lookupPath(sub, tail)
}

// setPath writes a value into the stub under its nested path, merging with
// any structure an earlier sub-path created.
func setPath(m map[string]interface{}, path string, v interface{}) {
	head, tail, more := strings.Cut(path, ".")
	if !more {
		m[head] = v
		return
	}
	sub, ok := m[head].(map[string]interface{})
	if !ok {
		sub = make(map[string]interface{})
		m[head] = sub
	}
	setPath(sub, tail, v)
}

// revLinks finds the objects that declare a forward link to this one, keyed
// by "<LinkingType>.<field>". It needs the replica; without one configured
// the map is empty and fan-out falls back to linked_uuids search alone.
func (b *Builder) revLinks(obj *store.Object) (map[string][]string, error) {
	replica := b.resolver.Read()
	if replica == nil {
		return map[string][]string{}, nil
	}
	targets := map[string]bool{obj.ItemType: true}
	for _, base := range b.catalog.BaseTypes(obj.ItemType) {
		targets[base] = true
	}

	out := make(map[string][]string)
	for _, typeName := range b.catalog.TypeNames() {
		fields, ok := b.catalog.Schema(typeName)
		if !ok {
			continue
		}
		for _, f := range fields {
			if f.Kind != schema.KindLink {
				continue
			}
			applies := false
			for _, lt := range f.LinkTo {
				if targets[lt] {
					applies = true
					break
				}
			}
			if !applies {
				continue
			}
			uuids, err := replica.RevLinks(obj.UUID, f.Name, typeName)
			if err != nil {
				return nil, err
			}
			if len(uuids) > 0 {
				out[typeName+"."+f.Name] = uuids
			}
		}
	}
	return out, nil
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
