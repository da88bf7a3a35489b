// This example wires the whole stack in memory, seeds a few linked
// objects, and serves the control api on localhost. Try:
//
//	curl -XPOST localhost:8080/index -d '{"uuids": null}'
//	curl localhost:8080/indexing_status
//	curl -XPOST localhost:8080/invalidation_scope \
//	    -d '{"source_type": "Author", "target_type": "Book"}'
package main

import (
	"net/http"

	"github.com/4dn-dcic/snovault-sub000/api"
	"github.com/4dn-dcic/snovault-sub000/drivers/memqueue"
	"github.com/4dn-dcic/snovault-sub000/drivers/memsearch"
	"github.com/4dn-dcic/snovault-sub000/drivers/memstore"
	"github.com/4dn-dcic/snovault-sub000/embed"
	"github.com/4dn-dcic/snovault-sub000/indexer"
	"github.com/4dn-dcic/snovault-sub000/schema"
	"github.com/4dn-dcic/snovault-sub000/store"
	"github.com/4dn-dcic/snovault-sub000/x"
)

var log = x.Log("example")

func catalog() *schema.Registry {
	reg, err := schema.NewRegistry(
		&schema.TypeInfo{
			Name: "Author",
			Fields: []schema.Field{
				{Name: "name", Kind: schema.KindString},
				{Name: "bio", Kind: schema.KindString},
			},
		},
		&schema.TypeInfo{
			Name: "Book",
			Fields: []schema.Field{
				{Name: "title", Kind: schema.KindString},
				{Name: "author", Kind: schema.KindLink, LinkTo: []string{"Author"}},
			},
			EmbedPaths: []string{"author.name"},
		},
	)
	if err != nil {
		x.LogErr(log, err).Fatal("Bad catalog")
	}
	return reg
}

func main() {
	cat := catalog()
	versioned := memstore.New()
	replica := memsearch.New()
	queues := memqueue.New()
	resolver := store.NewResolver(versioned, replica)
	builder := embed.NewBuilder(resolver, cat)
	ix, err := indexer.New(resolver, queues, builder, cat, nil)
	if err != nil {
		x.LogErr(log, err).Fatal("Wiring indexer")
	}

	authorID := x.NewUUID()
	bookID := x.NewUUID()
	if _, err := versioned.Update(authorID, "Author",
		map[string]interface{}{"name": "Iain Banks", "bio": "wrote a lot"},
		nil, nil); err != nil {
		x.LogErr(log, err).Fatal("Seeding author")
	}
	if _, err := versioned.Update(bookID, "Book",
		map[string]interface{}{"title": "Excession"},
		map[string][]string{"author": {authorID}}, nil); err != nil {
		x.LogErr(log, err).Fatal("Seeding book")
	}

	if _, err := ix.QueueIndexing(indexer.QueueRequest{
		UUIDs: []string{authorID, bookID},
	}); err != nil {
		x.LogErr(log, err).Fatal("Queueing seeds")
	}
	res, err := ix.RunIndex(indexer.Request{Record: true})
	if err != nil {
		x.LogErr(log, err).Fatal("Initial indexing run")
	}
	log.WithField("count", res.IndexingCount).Info("Seed objects indexed")

	mux := http.NewServeMux()
	api.NewServer(ix, cat).Routes(mux)
	log.WithField("addr", ":8080").Info("Listening")
	if err := http.ListenAndServe(":8080", mux); err != nil {
		x.LogErr(log, err).Fatal("Server failed")
	}
}
