// Package queue defines the work queue contract used to coordinate
// indexing: three independent lanes (primary, secondary, dead-letter) with
// send/receive/delete/replace/purge operations and SQS-style visibility
// semantics. Implementations live under drivers/.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Lane identifies one of the three message lanes.
type Lane string

const (
	Primary    Lane = "primary"
	Secondary  Lane = "secondary"
	DeadLetter Lane = "dlq"
)

// Lanes lists the lanes in receive-priority order.
var Lanes = []Lane{Primary, Secondary, DeadLetter}

// Batch sizes for queue operations. The transport caps batches at 10.
const (
	SendBatchSize    = 10
	ReceiveBatchSize = 10
	DeleteBatchSize  = 10
	ReplaceBatchSize = 10
)

// SendRetries is how many times a failed send sub-batch is retried before
// its messages are reported as permanently failed.
const SendRetries = 4

// MaxReceiveCount is the delivery budget: a message received this many times
// without being deleted is moved to the dead-letter lane.
const MaxReceiveCount = 4

// Message is the wire body of a queue message.
type Message struct {
	UUID        string   `json:"uuid"`
	Sid         *int64   `json:"sid"`
	Strict      bool     `json:"strict"`
	Timestamp   string   `json:"timestamp"`
	Diff        []string `json:"diff,omitempty"`
	TelemetryID string   `json:"telemetry_id,omitempty"`
	Detail      string   `json:"detail,omitempty"`
}

// Encode renders the message body as JSON.
func (m *Message) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMessage parses a JSON message body.
func DecodeMessage(body string) (Message, error) {
	var m Message
	err := json.Unmarshal([]byte(body), &m)
	return m, err
}

// Received is a dequeued message. Receipt does not imply processing
// success; the message stays on its lane, invisible, until deleted or its
// visibility timeout elapses.
type Received struct {
	Message

	// ID is the transport's message id.
	ID string

	// ReceiptHandle is the opaque token required to delete or replace this
	// delivery.
	ReceiptHandle string

	// ReceiveCount is how many times this message has been delivered,
	// including this delivery. Zero when the transport does not report it.
	ReceiveCount int
}

// Failure reports one message that could not be sent, deleted or replaced.
type Failure struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Counts holds the approximate number of waiting and in-flight messages on
// one lane.
type Counts struct {
	Waiting  int `json:"waiting"`
	InFlight int `json:"inflight"`
}

// Queue is the lane-addressed work queue. Send batches and retries
// internally; per-message failures come back as Failures, while a non-nil
// error means the whole call failed.
type Queue interface {
	Send(msgs []Message, lane Lane) ([]Failure, error)
	Receive(lane Lane) ([]Received, error)
	Delete(msgs []Received, lane Lane) ([]Failure, error)
	Replace(msgs []Received, lane Lane, visibility time.Duration) ([]Failure, error)
	Purge(lane Lane) error
	Counts() (map[Lane]Counts, error)
}

// ErrPurgeLockout is returned when a purge is attempted before the
// transport's post-purge cooldown has elapsed. It is raised locally, before
// any network call.
var ErrPurgeLockout = errors.New("queue: purge attempted during cooldown window")

// Chunk splits msgs into batches of at most size. Shared by drivers.
func Chunk[T any](msgs []T, size int) [][]T {
	var out [][]T
	for len(msgs) > size {
		out = append(out, msgs[:size])
		msgs = msgs[size:]
	}
	if len(msgs) > 0 {
		out = append(out, msgs)
	}
	return out
}
