// Package api exposes the control operations over HTTP: running and
// queueing indexing, reading queue status, migrating the dead-letter lane
// and auditing invalidation scope.
package api

import (
	"net/http"

	"github.com/4dn-dcic/snovault-sub000/indexer"
	"github.com/4dn-dcic/snovault-sub000/schema"
	"github.com/4dn-dcic/snovault-sub000/scope"
	"github.com/4dn-dcic/snovault-sub000/x"
)

var log = x.Log("api")

type Server struct {
	ix      *indexer.Indexer
	catalog schema.TypeCatalog
}

func NewServer(ix *indexer.Indexer, catalog schema.TypeCatalog) *Server {
	return &Server{ix: ix, catalog: catalog}
}

// Routes registers every handler on the mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/index", s.RunIndex)
	mux.HandleFunc("/queue_indexing", s.QueueIndexing)
	mux.HandleFunc("/indexing_status", s.IndexingStatus)
	mux.HandleFunc("/dlq_to_primary", s.MigrateDeadLetter)
	mux.HandleFunc("/invalidation_scope", s.InvalidationScope)
}

func (s *Server) RunIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		x.SetStatus(w, x.E_INVALID_METHOD, "Only POST is serviced")
		return
	}
	var req indexer.Request
	if ok := x.ParseRequest(w, r, &req); !ok {
		return
	}
	res, err := s.ix.RunIndex(req)
	if err != nil {
		x.LogErr(log, err).Error("Indexing run failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		x.SetStatus(w, x.E_UNAVAILABLE, err.Error())
		return
	}
	x.Reply(w, res)
}

func (s *Server) QueueIndexing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		x.SetStatus(w, x.E_INVALID_METHOD, "Only POST is serviced")
		return
	}
	var req indexer.QueueRequest
	if ok := x.ParseRequest(w, r, &req); !ok {
		return
	}
	res, err := s.ix.QueueIndexing(req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		x.SetStatus(w, x.E_INVALID_REQUEST, err.Error())
		return
	}
	x.Reply(w, res)
}

// statusReply carries the queue depths plus the latest recorded run, when
// one exists.
type statusReply struct {
	Queues    interface{} `json:"queues"`
	LatestRun interface{} `json:"latest_run,omitempty"`
}

func (s *Server) IndexingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		x.SetStatus(w, x.E_INVALID_METHOD, "Only GET is serviced")
		return
	}
	counts, err := s.ix.Status()
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		x.SetStatus(w, x.E_UNAVAILABLE, err.Error())
		return
	}
	reply := statusReply{Queues: counts}
	if rec, ok := s.ix.LatestRun(); ok {
		reply.LatestRun = rec
	}
	x.Reply(w, reply)
}

func (s *Server) MigrateDeadLetter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		x.SetStatus(w, x.E_INVALID_METHOD, "Only POST is serviced")
		return
	}
	res, err := s.ix.MigrateDeadLetterToPrimary()
	if err != nil {
		x.LogErr(log, err).Error("Dead-letter migration failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		x.SetStatus(w, x.E_UNAVAILABLE, err.Error())
		return
	}
	x.Reply(w, res)
}

type scopeRequest struct {
	SourceType string `json:"source_type"`
	TargetType string `json:"target_type"`
}

func (s *Server) InvalidationScope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		x.SetStatus(w, x.E_INVALID_METHOD, "Only POST is serviced")
		return
	}
	var req scopeRequest
	if ok := x.ParseRequest(w, r, &req); !ok {
		return
	}
	if req.SourceType == "" || req.TargetType == "" {
		x.SetStatus(w, x.E_MISSING_REQUIRED, "Both source_type and target_type are required")
		return
	}
	res, err := scope.ComputeInvalidationScope(s.catalog, req.SourceType, req.TargetType)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		x.SetStatus(w, x.E_INVALID_REQUEST, err.Error())
		return
	}
	x.Reply(w, res)
}
