// The snovault daemon keeps a search replica in sync with a versioned
// transactional store. It serves the control api over HTTP and drains the
// indexing queues on a fixed poll interval.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/4dn-dcic/snovault-sub000/api"
	"github.com/4dn-dcic/snovault-sub000/config"
	"github.com/4dn-dcic/snovault-sub000/drivers/badgerstore"
	"github.com/4dn-dcic/snovault-sub000/drivers/elasticsearch"
	"github.com/4dn-dcic/snovault-sub000/drivers/leveldbstore"
	"github.com/4dn-dcic/snovault-sub000/drivers/memqueue"
	"github.com/4dn-dcic/snovault-sub000/drivers/memsearch"
	"github.com/4dn-dcic/snovault-sub000/drivers/memstore"
	"github.com/4dn-dcic/snovault-sub000/drivers/sqs"
	"github.com/4dn-dcic/snovault-sub000/embed"
	"github.com/4dn-dcic/snovault-sub000/indexer"
	"github.com/4dn-dcic/snovault-sub000/queue"
	"github.com/4dn-dcic/snovault-sub000/schema"
	"github.com/4dn-dcic/snovault-sub000/store"
	"github.com/4dn-dcic/snovault-sub000/x"
)

var log = x.Log("main")

var configPath = flag.String("config", "", "Path to the YAML configuration file")

func openStore(c *config.Config) (store.Versioned, error) {
	switch c.Store.Driver {
	case "leveldb":
		return leveldbstore.Open(c.Store.Path)
	case "badger":
		return badgerstore.Open(c.Store.Path)
	default:
		return memstore.New(), nil
	}
}

func openReplica(c *config.Config) (store.Replica, error) {
	if c.Elastic.URL == "" {
		return memsearch.New(), nil
	}
	return elasticsearch.New(c.Elastic.URL, c.Elastic.Index)
}

func openQueues(c *config.Config) (queue.Queue, error) {
	if c.Queue.Region == "" {
		return memqueue.New(), nil
	}
	return sqs.New(c.Queue.Region, c.Queue.Endpoint, c.Queue.Env)
}

func openCatalog(c *config.Config) (schema.TypeCatalog, error) {
	if c.TypesFile == "" {
		log.Warn("No types file configured, using an empty catalog")
		return schema.NewRegistry()
	}
	return schema.LoadFile(c.TypesFile)
}

func main() {
	flag.Parse()

	c := config.Default()
	if *configPath != "" {
		var err error
		c, err = config.Load(*configPath)
		if err != nil {
			x.LogErr(log, err).Fatal("Could not load configuration")
		}
	}

	versioned, err := openStore(c)
	if err != nil {
		x.LogErr(log, err).Fatal("Could not open transactional store")
	}
	replica, err := openReplica(c)
	if err != nil {
		x.LogErr(log, err).Fatal("Could not open search replica")
	}
	queues, err := openQueues(c)
	if err != nil {
		x.LogErr(log, err).Fatal("Could not open queues")
	}
	catalog, err := openCatalog(c)
	if err != nil {
		x.LogErr(log, err).Fatal("Could not load type catalog")
	}

	resolver := store.NewResolver(versioned, replica)
	builder := embed.NewBuilder(resolver, catalog)
	reg := prometheus.NewRegistry()
	ix, err := indexer.New(resolver, queues, builder, catalog, indexer.NewMetrics(reg))
	if err != nil {
		x.LogErr(log, err).Fatal("Could not wire indexer")
	}

	mux := http.NewServeMux()
	api.NewServer(ix, catalog).Routes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// poll loop: drain the lanes until told to stop
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.PollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				res, err := ix.RunIndex(indexer.Request{Record: true})
				if err != nil {
					x.LogErr(log, err).Error("Indexing run failed")
					continue
				}
				if res.IndexingCount > 0 || len(res.Errors) > 0 {
					log.WithField("count", res.IndexingCount).
						WithField("errors", len(res.Errors)).
						WithField("elapsed", res.IndexingElapsed).Info("Indexing run finished")
				}
			}
		}
	}()

	log.WithField("addr", c.HTTPAddr).Info("Listening")
	srv := &http.Server{Addr: c.HTTPAddr, Handler: mux}
	go func() {
		<-done
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		x.LogErr(log, err).Fatal("Server failed")
	}
	<-done
	log.Info("Shut down")
}
