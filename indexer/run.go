package indexer

import (
	"errors"
	"fmt"
	"time"

	"github.com/4dn-dcic/snovault-sub000/queue"
	"github.com/4dn-dcic/snovault-sub000/x"
)

// latestRecordKey is where the most recent run record lives in the replica.
const latestRecordKey = "latest_indexing"

// Request selects what a run should do. With UUIDs given the run indexes
// exactly those ids synchronously; otherwise it drains the queue lanes.
type Request struct {
	Record bool     `json:"record"`
	DryRun bool     `json:"dry_run"`
	UUIDs  []string `json:"uuids,omitempty"`
}

// RunError is one per-object failure inside a run.
type RunError struct {
	UUID      string `json:"uuid,omitempty"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// RunResult is the structured outcome of one indexing run. When recorded,
// it is persisted in the replica under a timestamped key and under
// latest_indexing.
type RunResult struct {
	IndexingStatus   string                 `json:"indexing_status"`
	IndexingContent  map[string]interface{} `json:"indexing_content"`
	IndexingStarted  string                 `json:"indexing_started"`
	IndexingFinished string                 `json:"indexing_finished,omitempty"`
	IndexingElapsed  string                 `json:"indexing_elapsed,omitempty"`
	IndexingCount    int                    `json:"indexing_count"`
	Errors           []RunError             `json:"errors"`
}

func (r *RunResult) addError(uuid, msg string) {
	r.Errors = append(r.Errors, RunError{UUID: uuid, Error: msg, Timestamp: x.Timestamp()})
}

// trivial reports whether recording the run would only add noise: a queue
// run that found nothing to do.
func (r *RunResult) trivial() bool {
	t, _ := r.IndexingContent["type"].(string)
	return t == "queue" && r.IndexingCount == 0 && len(r.Errors) == 0
}

// RunIndex performs one indexing run. Errors local to single objects land
// in the result's Errors list; only run-level failures (a store that cannot
// be reached at all) come back as a hard error.
func (ix *Indexer) RunIndex(req Request) (*RunResult, error) {
	started := time.Now()
	res := &RunResult{
		IndexingStatus:  "started",
		IndexingStarted: x.Timestamp(),
	}

	if len(req.UUIDs) > 0 {
		res.IndexingContent = map[string]interface{}{
			"type":       "sync",
			"sync_uuids": req.UUIDs,
		}
		if !req.DryRun {
			ix.runSync(req.UUIDs, res)
		}
	} else {
		counts, err := ix.queues.Counts()
		if err != nil {
			return nil, fmt.Errorf("indexer: queue status: %w", err)
		}
		res.IndexingContent = map[string]interface{}{
			"type":                 "queue",
			"initial_queue_status": counts,
		}
		if !req.DryRun {
			if err := ix.drainQueues(res); err != nil {
				return nil, fmt.Errorf("indexer: drain: %w", err)
			}
		}
	}

	res.IndexingStatus = "finished"
	res.IndexingFinished = x.Timestamp()
	res.IndexingElapsed = time.Since(started).String()

	if req.Record && !res.trivial() {
		key := "indexing_" + res.IndexingStarted
		if err := ix.resolver.Read().PutRecord(key, res); err != nil {
			res.addError("", fmt.Sprintf("recording run under %s: %v", key, err))
		} else if err := ix.resolver.Read().PutRecord(latestRecordKey, res); err != nil {
			res.addError("", fmt.Sprintf("recording latest run: %v", err))
		}
	}
	return res, nil
}

func (ix *Indexer) runSync(uuids []string, res *RunResult) {
	for _, uuid := range uuids {
		if _, err := ix.index(uuid); err != nil {
			res.addError(uuid, err.Error())
			continue
		}
		res.IndexingCount++
	}
}

// QueueRequest asks for ids or whole collections to be enqueued. Exactly
// one of UUIDs and Collections must be given.
type QueueRequest struct {
	UUIDs       []string   `json:"uuids,omitempty"`
	Collections []string   `json:"collections,omitempty"`
	Strict      bool       `json:"strict"`
	TargetQueue queue.Lane `json:"target_queue,omitempty"`
	TelemetryID string     `json:"telemetry_id,omitempty"`
}

// QueueResult reports how much was enqueued.
type QueueResult struct {
	NumberQueued int        `json:"number_queued"`
	Errors       []RunError `json:"errors"`
	TelemetryID  string     `json:"telemetry_id,omitempty"`
}

var errExactlyOne = errors.New("indexer: exactly one of uuids and collections must be given")

// QueueIndexing enqueues the requested objects. Messages carry the objects'
// current sids so workers can detect sequence inversions.
func (ix *Indexer) QueueIndexing(req QueueRequest) (*QueueResult, error) {
	if (len(req.UUIDs) == 0) == (len(req.Collections) == 0) {
		return nil, errExactlyOne
	}
	lane := req.TargetQueue
	if lane == "" {
		lane = queue.Primary
	}
	if lane != queue.Primary && lane != queue.Secondary && lane != queue.DeadLetter {
		return nil, fmt.Errorf("indexer: invalid target queue %q", lane)
	}
	if req.TelemetryID == "" {
		req.TelemetryID = "queue_indexing_" + x.UniqueString(8)
	}

	uuids := req.UUIDs
	if len(req.Collections) > 0 {
		var err error
		uuids, err = ix.resolver.Iterate(req.Collections...)
		if err != nil {
			return nil, fmt.Errorf("indexer: iterating collections: %w", err)
		}
	}

	res := &QueueResult{TelemetryID: req.TelemetryID}
	if len(uuids) == 0 {
		return res, nil
	}
	sids, err := ix.resolver.Write().GetSidsByUUIDs(uuids)
	if err != nil {
		return nil, fmt.Errorf("indexer: reading sids: %w", err)
	}
	now := x.Timestamp()
	msgs := make([]queue.Message, 0, len(uuids))
	for _, u := range uuids {
		m := queue.Message{
			UUID:        u,
			Strict:      req.Strict,
			Timestamp:   now,
			TelemetryID: req.TelemetryID,
		}
		if sid, ok := sids[u]; ok {
			m.Sid = &sid
		}
		msgs = append(msgs, m)
	}
	failed, err := ix.queues.Send(msgs, lane)
	if err != nil {
		return nil, fmt.Errorf("indexer: enqueue: %w", err)
	}
	for _, fl := range failed {
		res.Errors = append(res.Errors, RunError{UUID: fl.ID, Error: fl.Message, Timestamp: now})
	}
	res.NumberQueued = len(msgs) - len(failed)
	log.WithField("queued", res.NumberQueued).WithField("lane", string(lane)).
		WithField("telemetry_id", req.TelemetryID).Info("Queued for indexing")
	return res, nil
}

// MigrationResult reports a dead-letter migration.
type MigrationResult struct {
	NumberMigrated int `json:"number_migrated"`
	NumberFailed   int `json:"number_failed"`
}

// MigrateDeadLetterToPrimary drains the dead-letter lane back onto the
// primary lane, preserving message bodies. Failed sends stay dead-lettered.
func (ix *Indexer) MigrateDeadLetterToPrimary() (*MigrationResult, error) {
	res := &MigrationResult{}
	for {
		msgs, err := ix.queues.Receive(queue.DeadLetter)
		if err != nil {
			return res, fmt.Errorf("indexer: receive from dlq: %w", err)
		}
		if len(msgs) == 0 {
			return res, nil
		}
		bodies := make([]queue.Message, len(msgs))
		for i, m := range msgs {
			bodies[i] = m.Message
		}
		failed, err := ix.queues.Send(bodies, queue.Primary)
		if err != nil {
			res.NumberFailed += len(msgs)
			return res, fmt.Errorf("indexer: resend to primary: %w", err)
		}
		failedIdx := make(map[string]bool, len(failed))
		for _, fl := range failed {
			failedIdx[fl.ID] = true
		}
		var done []queue.Received
		for _, m := range msgs {
			if failedIdx[m.ID] {
				res.NumberFailed++
				continue
			}
			done = append(done, m)
		}
		if dfailed, err := ix.queues.Delete(done, queue.DeadLetter); err != nil {
			return res, fmt.Errorf("indexer: delete from dlq: %w", err)
		} else {
			res.NumberFailed += len(dfailed)
			res.NumberMigrated += len(done) - len(dfailed)
		}
	}
}

// Status returns the approximate per-lane queue depths.
func (ix *Indexer) Status() (map[queue.Lane]queue.Counts, error) {
	return ix.queues.Counts()
}

// LatestRun reads the latest recorded run from the replica, when the
// replica driver exposes records for reading.
type recordReader interface {
	Record(key string) (interface{}, bool)
}

func (ix *Indexer) LatestRun() (interface{}, bool) {
	rr, ok := ix.resolver.Read().(recordReader)
	if !ok {
		return nil, false
	}
	return rr.Record(latestRecordKey)
}
