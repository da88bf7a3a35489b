package indexer

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/4dn-dcic/snovault-sub000/queue"
	"github.com/4dn-dcic/snovault-sub000/schema"
	"github.com/4dn-dcic/snovault-sub000/scope"
	"github.com/4dn-dcic/snovault-sub000/store"
	"github.com/4dn-dcic/snovault-sub000/x"
)

var log = x.Log("indexer")

// replaceDelay is the visibility cool-down applied when a message's target
// is transiently missing.
const replaceDelay = 10 * time.Second

// erroredDelay is the visibility reset applied to a message whose build or
// write failed, so it redelivers well before the lane's full receive
// timeout.
const erroredDelay = 180 * time.Second

// writeRetries bounds the backoff loop around replica writes.
const writeRetries = 3

// ViewBuilder produces the denormalized document for one object at its
// current sid.
type ViewBuilder interface {
	Build(uuid string) (*store.Document, error)
}

// Indexer wires the stores, the queue and the view builder together.
type Indexer struct {
	resolver *store.Resolver
	queues   queue.Queue
	builder  ViewBuilder
	catalog  schema.TypeCatalog
	metrics  *Metrics
}

// New wires up an indexer. The resolver must carry a replica: the indexer
// writes documents to it and discovers fan-out candidates through it, so a
// database-only resolver cannot index.
func New(resolver *store.Resolver, queues queue.Queue, builder ViewBuilder,
	catalog schema.TypeCatalog, metrics *Metrics) (*Indexer, error) {
	if resolver.Read() == nil {
		return nil, errors.New("indexer: resolver has no replica configured")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Indexer{
		resolver: resolver,
		queues:   queues,
		builder:  builder,
		catalog:  catalog,
		metrics:  metrics,
	}, nil
}

// outcome classifies the processing of one message.
type outcomeKind int

const (
	// processed and safe to delete, including idempotent conflicts
	outcomeSuccess outcomeKind = iota
	// sequence inversion: resend to the same lane without spending a
	// delivery, then drain and restart
	outcomeDeferResend
	// target transiently missing: reset visibility with a cool-down, then
	// drain and restart
	outcomeDeferReplace
	// left on the lane for redelivery; recorded in the run's errors
	outcomeFailed
)

type outcome struct {
	kind outcomeKind
	err  error
}

// fanout accumulates, across one dequeue batch, the material needed to
// decide what goes to the secondary lane: the diff union of the non-strict
// messages, the candidates discovered by linked-uuids search, and the
// reverse-linked uuids discovered at build time. The two discovery paths
// are kept apart because only the former goes through the analyzer.
type fanout struct {
	diff       []string
	candidates []store.Ref
	revLinked  map[string]struct{}
	secondary  map[string]struct{}
}

func newFanout() *fanout {
	return &fanout{
		revLinked: make(map[string]struct{}),
		secondary: make(map[string]struct{}),
	}
}

func (f *fanout) add(doc *store.Document, diff []string, replica store.Replica) error {
	f.diff = append(f.diff, diff...)

	for _, uuids := range doc.RevLinkedToMe {
		for _, u := range uuids {
			if u != doc.UUID {
				f.revLinked[u] = struct{}{}
			}
		}
	}
	linking, err := replica.FindLinking([]string{doc.UUID})
	if err != nil {
		return err
	}
	for _, ref := range linking {
		if ref.UUID == doc.UUID || f.has(ref.UUID) {
			continue
		}
		f.candidates = append(f.candidates, ref)
		f.secondary[ref.UUID] = struct{}{}
	}
	return nil
}

func (f *fanout) has(uuid string) bool {
	_, ok := f.secondary[uuid]
	return ok
}

// flush enqueues the union of the narrowed candidates and the raw
// reverse-linked set to the secondary lane, always strict.
func (ix *Indexer) flushFanout(f *fanout, telemetryID string) []RunError {
	if len(f.candidates) == 0 && len(f.revLinked) == 0 {
		return nil
	}
	kept := scope.FilterInvalidationScope(ix.catalog, f.diff, f.candidates, f.secondary)
	uuids := make([]string, 0, len(kept)+len(f.revLinked))
	seen := make(map[string]bool, len(kept))
	for _, ref := range kept {
		uuids = append(uuids, ref.UUID)
		seen[ref.UUID] = true
	}
	// reverse-linked documents bypass the analyzer: embed-path narrowing
	// only reasons about forward links, so a cleared type can still hold
	// a stale reverse link
	var extra []string
	for u := range f.revLinked {
		if !seen[u] {
			extra = append(extra, u)
		}
	}
	sort.Strings(extra)
	uuids = append(uuids, extra...)
	if len(uuids) == 0 {
		return nil
	}
	now := x.Timestamp()
	msgs := make([]queue.Message, len(uuids))
	for i, u := range uuids {
		msgs[i] = queue.Message{
			UUID:        u,
			Strict:      true,
			Timestamp:   now,
			TelemetryID: telemetryID,
		}
	}
	var errs []RunError
	failed, err := ix.queues.Send(msgs, queue.Secondary)
	if err != nil {
		errs = append(errs, RunError{Error: fmt.Sprintf("secondary enqueue: %v", err), Timestamp: now})
	}
	for _, fl := range failed {
		errs = append(errs, RunError{UUID: fl.ID, Error: fl.Message, Timestamp: now})
	}
	ix.metrics.FannedOut.Add(float64(len(uuids)))
	log.WithField("queued", len(uuids)).WithField("candidates", len(f.candidates)).
		WithField("rev_linked", len(f.revLinked)).Debug("Fan-out to secondary lane")
	return errs
}

// index builds and writes one object's document. Conflicts count as
// success; unavailability of either store is retried with bounded backoff
// before giving up.
func (ix *Indexer) index(uuid string) (*store.Document, error) {
	var doc *store.Document
	op := func() error {
		var err error
		doc, err = ix.builder.Build(uuid)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := ix.resolver.Read().Update(doc); err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), writeRetries)
	err := backoff.Retry(op, policy)
	if errors.Is(err, store.ErrConflict) {
		ix.metrics.Conflicts.Inc()
		log.WithField("uuid", uuid).Debug("Replica already newer, dropping write")
		return doc, nil
	}
	return doc, err
}

// process runs one message through the build/write path and classifies the
// result. maxSid is the run's snapshot of the global write counter.
func (ix *Indexer) process(msg queue.Received, maxSid int64, f *fanout) outcome {
	if msg.Sid != nil && maxSid > 0 && *msg.Sid > maxSid {
		ix.metrics.Deferrals.Inc()
		log.WithField("uuid", msg.UUID).WithField("sid", *msg.Sid).WithField("max_sid", maxSid).
			Warn("Sequence inversion, deferring")
		return outcome{kind: outcomeDeferResend}
	}

	start := time.Now()
	doc, err := ix.index(msg.UUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ix.metrics.Deferrals.Inc()
			log.WithField("uuid", msg.UUID).Warn("Target missing, deferring")
			return outcome{kind: outcomeDeferReplace, err: err}
		}
		x.LogErr(log, err).WithField("uuid", msg.UUID).
			WithField("elapsed", time.Since(start).String()).Error("Indexing failed")
		ix.metrics.Errors.Inc()
		return outcome{kind: outcomeFailed, err: err}
	}

	ix.metrics.Indexed.Inc()
	if !msg.Strict {
		if err := f.add(doc, msg.Diff, ix.resolver.Read()); err != nil {
			// fan-out discovery failed; the document itself is written, so
			// the message still succeeds, but the error is surfaced
			x.LogErr(log, err).WithField("uuid", msg.UUID).Error("Fan-out discovery failed")
			return outcome{kind: outcomeSuccess, err: err}
		}
	}
	return outcome{kind: outcomeSuccess}
}

// drainQueues processes the primary and secondary lanes until both are
// empty. A deferral flushes the in-flight batch and restarts the loop with
// a fresh max_sid snapshot.
func (ix *Indexer) drainQueues(res *RunResult) error {
	for {
		deferred, err := ix.drainOnce(res)
		if err != nil {
			return err
		}
		if !deferred {
			return nil
		}
		log.Debug("Batch deferred, restarting drain")
	}
}

func (ix *Indexer) drainOnce(res *RunResult) (deferred bool, err error) {
	maxSid, err := ix.resolver.Write().MaxSid()
	if err != nil {
		return false, fmt.Errorf("capturing max_sid: %w", err)
	}

	var toDelete []queue.Received
	lastLane := queue.Primary
	flush := func(lane queue.Lane) {
		if len(toDelete) == 0 {
			return
		}
		failed, derr := ix.queues.Delete(toDelete, lane)
		if derr != nil {
			res.addError("", fmt.Sprintf("deleting from %s: %v", lane, derr))
		}
		for _, fl := range failed {
			res.addError(fl.ID, fl.Message)
		}
		toDelete = toDelete[:0]
	}

	for {
		lane := queue.Primary
		msgs, rerr := ix.queues.Receive(lane)
		if rerr != nil {
			return false, rerr
		}
		if len(msgs) == 0 {
			lane = queue.Secondary
			msgs, rerr = ix.queues.Receive(lane)
			if rerr != nil {
				return false, rerr
			}
		}
		if len(msgs) == 0 {
			flush(lastLane)
			return false, nil
		}
		// deletions are lane-addressed, so a lane switch forces a flush
		if lane != lastLane {
			flush(lastLane)
			lastLane = lane
		}

		f := newFanout()
		telemetryID := ""
		for i, msg := range msgs {
			if telemetryID == "" {
				telemetryID = msg.TelemetryID
			}
			out := ix.process(msg, maxSid, f)
			if out.err != nil {
				res.addError(msg.UUID, out.err.Error())
			}
			switch out.kind {
			case outcomeSuccess:
				res.IndexingCount++
				toDelete = append(toDelete, msg)
				if len(toDelete) == queue.DeleteBatchSize {
					flush(lane)
				}
			case outcomeDeferResend:
				// resend a fresh copy, delete the delivery: the message does
				// not pay for the worker's bad snapshot
				if _, serr := ix.queues.Send([]queue.Message{msg.Message}, lane); serr != nil {
					res.addError(msg.UUID, fmt.Sprintf("defer resend: %v", serr))
				}
				toDelete = append(toDelete, msg)
				deferred = true
			case outcomeDeferReplace:
				if _, serr := ix.queues.Replace([]queue.Received{msg}, lane, replaceDelay); serr != nil {
					res.addError(msg.UUID, fmt.Sprintf("defer replace: %v", serr))
				}
				deferred = true
			case outcomeFailed:
				// returned to the lane with a delay so it redelivers well
				// before the full receive timeout
				if _, serr := ix.queues.Replace([]queue.Received{msg}, lane, erroredDelay); serr != nil {
					res.addError(msg.UUID, fmt.Sprintf("errored replace: %v", serr))
				}
			}
			if deferred {
				// drain: replace the rest of the batch so it comes back
				// immediately for the restarted loop
				rest := msgs[i+1:]
				if len(rest) > 0 {
					if _, serr := ix.queues.Replace(rest, lane, 0); serr != nil {
						res.addError("", fmt.Sprintf("draining batch: %v", serr))
					}
				}
				break
			}
		}
		for _, e := range ix.flushFanout(f, telemetryID) {
			res.Errors = append(res.Errors, e)
		}
		if deferred {
			flush(lane)
			return true, nil
		}
	}
}
