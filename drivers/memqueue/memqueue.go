// Package memqueue is an in-memory queue.Queue used by the example server
// and the test suites. It mimics the hosted transport's semantics closely
// enough to exercise the indexer: per-lane visibility timeouts, receive
// counts, dead-letter redrive after the delivery budget is exhausted, and
// the post-purge cooldown window.
package memqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/4dn-dcic/snovault-sub000/queue"
	"github.com/4dn-dcic/snovault-sub000/x"
)

var log = x.Log("memqueue")

// DefaultVisibility is how long a received message stays invisible before
// it becomes deliverable again.
const DefaultVisibility = 30 * time.Second

// DefaultPurgeCooldown mirrors the hosted transport's one-purge-per-minute
// rule, with a second of slack.
const DefaultPurgeCooldown = 61 * time.Second

type held struct {
	id        string
	body      queue.Message
	visibleAt time.Time
	received  int
	handle    string
}

type lane struct {
	msgs      []*held
	lastPurge time.Time
	purged    bool
}

// Queues is the in-memory transport. The zero value is not usable; call New.
type Queues struct {
	mu         sync.Mutex
	lanes      map[queue.Lane]*lane
	visibility time.Duration
	cooldown   time.Duration
	now        func() time.Time
	seq        int
}

// New returns an empty transport with default visibility and cooldown.
func New() *Queues {
	q := &Queues{
		lanes:      make(map[queue.Lane]*lane),
		visibility: DefaultVisibility,
		cooldown:   DefaultPurgeCooldown,
		now:        time.Now,
	}
	for _, l := range queue.Lanes {
		q.lanes[l] = &lane{}
	}
	return q
}

// SetVisibility overrides the default visibility timeout. Tests use short
// timeouts to exercise redelivery without sleeping for real.
func (q *Queues) SetVisibility(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.visibility = d
}

// SetCooldown overrides the post-purge cooldown.
func (q *Queues) SetCooldown(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cooldown = d
}

// SetClock overrides the time source.
func (q *Queues) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *Queues) laneFor(l queue.Lane) (*lane, error) {
	ln, ok := q.lanes[l]
	if !ok {
		return nil, fmt.Errorf("memqueue: unknown lane %q", l)
	}
	return ln, nil
}

// Send appends messages to the lane. Every message is accepted; the
// in-memory transport has no partial failures.
func (q *Queues) Send(msgs []queue.Message, l queue.Lane) ([]queue.Failure, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ln, err := q.laneFor(l)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		q.seq++
		ln.msgs = append(ln.msgs, &held{
			id:   fmt.Sprintf("m-%d", q.seq),
			body: m,
		})
	}
	return nil, nil
}

// Receive delivers up to ReceiveBatchSize visible messages from the lane,
// making each invisible for the visibility timeout. A message whose delivery
// budget is already spent is moved to the dead-letter lane instead of being
// delivered.
func (q *Queues) Receive(l queue.Lane) ([]queue.Received, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ln, err := q.laneFor(l)
	if err != nil {
		return nil, err
	}
	now := q.now()

	var out []queue.Received
	kept := ln.msgs[:0]
	for _, h := range ln.msgs {
		if len(out) >= queue.ReceiveBatchSize || h.visibleAt.After(now) {
			kept = append(kept, h)
			continue
		}
		if l != queue.DeadLetter && h.received >= queue.MaxReceiveCount {
			// delivery budget spent, redrive to the dead-letter lane
			h.received = 0
			h.visibleAt = time.Time{}
			q.lanes[queue.DeadLetter].msgs = append(q.lanes[queue.DeadLetter].msgs, h)
			log.WithField("uuid", h.body.UUID).WithField("lane", string(l)).
				Debug("Message moved to dead-letter lane")
			continue
		}
		h.received++
		h.visibleAt = now.Add(q.visibility)
		q.seq++
		h.handle = fmt.Sprintf("h-%d", q.seq)
		out = append(out, queue.Received{
			Message:       h.body,
			ID:            h.id,
			ReceiptHandle: h.handle,
			ReceiveCount:  h.received,
		})
		kept = append(kept, h)
	}
	ln.msgs = kept
	return out, nil
}

// Delete removes messages by receipt handle. A stale handle from a
// superseded delivery is reported as a per-message failure.
func (q *Queues) Delete(msgs []queue.Received, l queue.Lane) ([]queue.Failure, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ln, err := q.laneFor(l)
	if err != nil {
		return nil, err
	}
	var failed []queue.Failure
	for _, m := range msgs {
		if !ln.remove(m.ReceiptHandle) {
			failed = append(failed, queue.Failure{ID: m.ID, Message: "receipt handle not found"})
		}
	}
	return failed, nil
}

// Replace resets the visibility timeout of in-flight messages, returning
// them to the lane after the given duration without consuming a delivery.
func (q *Queues) Replace(msgs []queue.Received, l queue.Lane, visibility time.Duration) ([]queue.Failure, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ln, err := q.laneFor(l)
	if err != nil {
		return nil, err
	}
	now := q.now()
	var failed []queue.Failure
	for _, m := range msgs {
		h := ln.find(m.ReceiptHandle)
		if h == nil {
			failed = append(failed, queue.Failure{ID: m.ID, Message: "receipt handle not found"})
			continue
		}
		h.visibleAt = now.Add(visibility)
	}
	return failed, nil
}

// Purge drops every message on the lane. At most one purge per cooldown
// window is allowed; a premature attempt fails locally with ErrPurgeLockout
// and does not reset the window.
func (q *Queues) Purge(l queue.Lane) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ln, err := q.laneFor(l)
	if err != nil {
		return err
	}
	now := q.now()
	if ln.purged && now.Sub(ln.lastPurge) < q.cooldown {
		return queue.ErrPurgeLockout
	}
	ln.msgs = nil
	ln.lastPurge = now
	ln.purged = true
	return nil
}

// Counts reports waiting and in-flight message counts per lane.
func (q *Queues) Counts() (map[queue.Lane]queue.Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	out := make(map[queue.Lane]queue.Counts, len(q.lanes))
	for name, ln := range q.lanes {
		var c queue.Counts
		for _, h := range ln.msgs {
			if h.visibleAt.After(now) {
				c.InFlight++
			} else {
				c.Waiting++
			}
		}
		out[name] = c
	}
	return out, nil
}

func (ln *lane) find(handle string) *held {
	for _, h := range ln.msgs {
		if h.handle == handle && handle != "" {
			return h
		}
	}
	return nil
}

func (ln *lane) remove(handle string) bool {
	for i, h := range ln.msgs {
		if h.handle == handle && handle != "" {
			ln.msgs = append(ln.msgs[:i], ln.msgs[i+1:]...)
			return true
		}
	}
	return false
}
