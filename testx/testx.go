// Package testx holds shared test fixtures: a small type catalog and a
// fully wired in-memory environment. Production code must not import it.
package testx

import (
	"github.com/4dn-dcic/snovault-sub000/drivers/memqueue"
	"github.com/4dn-dcic/snovault-sub000/drivers/memsearch"
	"github.com/4dn-dcic/snovault-sub000/drivers/memstore"
	"github.com/4dn-dcic/snovault-sub000/embed"
	"github.com/4dn-dcic/snovault-sub000/schema"
	"github.com/4dn-dcic/snovault-sub000/store"
)

// Catalog returns the fixture types: Foo is a plain object, Bar embeds
// foo.name, Baz embeds foo.description. So an edit to a Foo's name
// invalidates linking Bars but not linking Bazes.
func Catalog() *schema.Registry {
	reg, err := schema.NewRegistry(
		&schema.TypeInfo{
			Name:     "Item",
			Abstract: true,
			Fields:   []schema.Field{{Name: "status", Kind: schema.KindString}},
		},
		&schema.TypeInfo{
			Name: "Foo",
			Base: []string{"Item"},
			Fields: []schema.Field{
				{Name: "name", Kind: schema.KindString},
				{Name: "description", Kind: schema.KindString},
			},
		},
		&schema.TypeInfo{
			Name: "Bar",
			Base: []string{"Item"},
			Fields: []schema.Field{
				{Name: "description", Kind: schema.KindString},
				{Name: "foo", Kind: schema.KindLink, LinkTo: []string{"Foo"}},
			},
			EmbedPaths: []string{"foo.name"},
		},
		&schema.TypeInfo{
			Name: "Baz",
			Base: []string{"Item"},
			Fields: []schema.Field{
				{Name: "title", Kind: schema.KindString},
				{Name: "foo", Kind: schema.KindLink, LinkTo: []string{"Foo"}},
			},
			EmbedPaths: []string{"foo.description"},
		},
	)
	if err != nil {
		panic(err)
	}
	return reg
}

// Env is a fully wired in-memory stack.
type Env struct {
	Catalog  *schema.Registry
	Store    *memstore.Store
	Search   *memsearch.Search
	Queues   *memqueue.Queues
	Resolver *store.Resolver
	Builder  *embed.Builder
}

func NewEnv() *Env {
	e := &Env{
		Catalog: Catalog(),
		Store:   memstore.New(),
		Search:  memsearch.New(),
		Queues:  memqueue.New(),
	}
	e.Resolver = store.NewResolver(e.Store, e.Search)
	e.Builder = embed.NewBuilder(e.Resolver, e.Catalog)
	return e
}

// AddFoo writes a Foo sheet and returns its object.
func (e *Env) AddFoo(uuid, name string) *store.Object {
	obj, err := e.Store.Update(uuid, "Foo",
		map[string]interface{}{"name": name}, nil, nil)
	if err != nil {
		panic(err)
	}
	return obj
}

// AddLinked writes a Bar or Baz sheet linking to the given Foo.
func (e *Env) AddLinked(uuid, itemType, fooUUID string) *store.Object {
	obj, err := e.Store.Update(uuid, itemType,
		map[string]interface{}{"description": "links to " + fooUUID},
		map[string][]string{"foo": {fooUUID}}, nil)
	if err != nil {
		panic(err)
	}
	return obj
}
