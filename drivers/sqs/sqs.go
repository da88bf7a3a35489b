// Package sqs implements queue.Queue on Amazon SQS. Three real queues back
// the three lanes, named <env>-indexer-queue, <env>-secondary-indexer-queue
// and <env>-indexer-queue-dlq. The primary and secondary queues carry a
// redrive policy targeting the dead-letter queue, so delivery-budget
// enforcement happens inside the transport.
package sqs

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awssqs "github.com/aws/aws-sdk-go/service/sqs"

	"github.com/4dn-dcic/snovault-sub000/queue"
	"github.com/4dn-dcic/snovault-sub000/x"
)

var log = x.Log("sqs")

const (
	visibilityTimeout = 600    // seconds; long enough for a slow batch
	retentionPeriod   = 604800 // 7 days
	receiveWaitTime   = 2      // seconds of long polling
	purgeCooldown     = 61 * time.Second
)

// Queues holds the per-lane queue urls and the client.
type Queues struct {
	svc  *awssqs.SQS
	urls map[queue.Lane]string

	mu        sync.Mutex
	lastPurge map[queue.Lane]time.Time
}

// New connects to SQS and creates (or re-resolves) the three lane queues for
// the given environment name. Queue creation is idempotent.
func New(region, endpoint, env string) (*Queues, error) {
	cfg := aws.NewConfig().WithRegion(region)
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("sqs: session: %w", err)
	}
	q := &Queues{
		svc:       awssqs.New(sess),
		urls:      make(map[queue.Lane]string),
		lastPurge: make(map[queue.Lane]time.Time),
	}

	dlqURL, err := q.createQueue(laneQueueName(env, queue.DeadLetter), "")
	if err != nil {
		return nil, err
	}
	q.urls[queue.DeadLetter] = dlqURL

	dlqArn, err := q.queueArn(dlqURL)
	if err != nil {
		return nil, err
	}
	for _, l := range []queue.Lane{queue.Primary, queue.Secondary} {
		url, err := q.createQueue(laneQueueName(env, l), dlqArn)
		if err != nil {
			return nil, err
		}
		q.urls[l] = url
	}
	return q, nil
}

func laneQueueName(env string, l queue.Lane) string {
	switch l {
	case queue.Primary:
		return env + "-indexer-queue"
	case queue.Secondary:
		return env + "-secondary-indexer-queue"
	default:
		return env + "-indexer-queue-dlq"
	}
}

func (q *Queues) createQueue(name, dlqArn string) (string, error) {
	attrs := map[string]*string{
		"VisibilityTimeout":      aws.String(strconv.Itoa(visibilityTimeout)),
		"MessageRetentionPeriod": aws.String(strconv.Itoa(retentionPeriod)),
	}
	if dlqArn != "" {
		policy := fmt.Sprintf(`{"deadLetterTargetArn":%q,"maxReceiveCount":"%d"}`,
			dlqArn, queue.MaxReceiveCount)
		attrs["RedrivePolicy"] = aws.String(policy)
	}
	out, err := q.svc.CreateQueue(&awssqs.CreateQueueInput{
		QueueName:  aws.String(name),
		Attributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("sqs: create queue %s: %w", name, err)
	}
	log.WithField("queue", name).Debug("Queue ready")
	return aws.StringValue(out.QueueUrl), nil
}

func (q *Queues) queueArn(url string) (string, error) {
	out, err := q.svc.GetQueueAttributes(&awssqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []*string{aws.String("QueueArn")},
	})
	if err != nil {
		return "", fmt.Errorf("sqs: queue arn: %w", err)
	}
	return aws.StringValue(out.Attributes["QueueArn"]), nil
}

func (q *Queues) urlFor(l queue.Lane) (string, error) {
	url, ok := q.urls[l]
	if !ok {
		return "", fmt.Errorf("sqs: unknown lane %q", l)
	}
	return url, nil
}

// entryID picks the batch entry id for a message: its uuid, so every
// failure report identifies the message the same way regardless of where
// it failed. A repeated uuid within one batch gets an index suffix to keep
// entry ids unique, as the transport demands.
func entryID(seen map[string]bool, uuid string, i int) string {
	id := uuid
	if seen[id] {
		id = fmt.Sprintf("%s-%d", uuid, i)
	}
	seen[id] = true
	return id
}

// sendEntries renders one batch into transport entries keyed by message
// uuid. Messages whose body fails to encode are reported as Failures under
// the same uuid key.
func sendEntries(batch []queue.Message) ([]*awssqs.SendMessageBatchRequestEntry, []queue.Failure) {
	var failed []queue.Failure
	entries := make([]*awssqs.SendMessageBatchRequestEntry, 0, len(batch))
	seen := make(map[string]bool, len(batch))
	for i, m := range batch {
		body, err := m.Encode()
		if err != nil {
			failed = append(failed, queue.Failure{ID: m.UUID, Message: err.Error()})
			continue
		}
		entries = append(entries, &awssqs.SendMessageBatchRequestEntry{
			Id:          aws.String(entryID(seen, m.UUID, i)),
			MessageBody: aws.String(body),
		})
	}
	return entries, failed
}

// Send delivers messages in batches of ten, retrying failed sub-batches a
// few times before giving their messages up as Failures.
func (q *Queues) Send(msgs []queue.Message, l queue.Lane) ([]queue.Failure, error) {
	url, err := q.urlFor(l)
	if err != nil {
		return nil, err
	}
	var failed []queue.Failure
	for _, batch := range queue.Chunk(msgs, queue.SendBatchSize) {
		entries, bad := sendEntries(batch)
		failed = append(failed, bad...)
		failed = append(failed, q.sendBatch(url, entries, queue.SendRetries)...)
	}
	return failed, nil
}

func (q *Queues) sendBatch(url string, entries []*awssqs.SendMessageBatchRequestEntry, retries int) []queue.Failure {
	if len(entries) == 0 {
		return nil
	}
	out, err := q.svc.SendMessageBatch(&awssqs.SendMessageBatchInput{
		QueueUrl: aws.String(url),
		Entries:  entries,
	})
	if err != nil {
		if retries > 0 {
			time.Sleep(time.Second)
			return q.sendBatch(url, entries, retries-1)
		}
		failed := make([]queue.Failure, 0, len(entries))
		for _, e := range entries {
			failed = append(failed, queue.Failure{ID: aws.StringValue(e.Id), Message: err.Error()})
		}
		return failed
	}
	if len(out.Failed) == 0 {
		return nil
	}
	byID := make(map[string]*awssqs.SendMessageBatchRequestEntry, len(entries))
	for _, e := range entries {
		byID[aws.StringValue(e.Id)] = e
	}
	var retry []*awssqs.SendMessageBatchRequestEntry
	var failed []queue.Failure
	for _, f := range out.Failed {
		e, ok := byID[aws.StringValue(f.Id)]
		if !ok {
			continue
		}
		if retries > 0 {
			retry = append(retry, e)
		} else {
			failed = append(failed, queue.Failure{
				ID:      aws.StringValue(f.Id),
				Message: aws.StringValue(f.Message),
			})
		}
	}
	if len(retry) > 0 {
		time.Sleep(time.Second)
		failed = append(failed, q.sendBatch(url, retry, retries-1)...)
	}
	return failed
}

// Receive long-polls the lane for up to ten messages. Bodies that fail to
// parse are deleted and dropped; they can never be processed.
func (q *Queues) Receive(l queue.Lane) ([]queue.Received, error) {
	url, err := q.urlFor(l)
	if err != nil {
		return nil, err
	}
	out, err := q.svc.ReceiveMessage(&awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: aws.Int64(queue.ReceiveBatchSize),
		WaitTimeSeconds:     aws.Int64(receiveWaitTime),
		AttributeNames: []*string{
			aws.String(awssqs.MessageSystemAttributeNameApproximateReceiveCount),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs: receive on %s: %w", l, err)
	}
	recv := make([]queue.Received, 0, len(out.Messages))
	for _, m := range out.Messages {
		body, err := queue.DecodeMessage(aws.StringValue(m.Body))
		if err != nil {
			x.LogErr(log, err).WithField("lane", string(l)).Error("Dropping unparseable message")
			q.svc.DeleteMessage(&awssqs.DeleteMessageInput{
				QueueUrl:      aws.String(url),
				ReceiptHandle: m.ReceiptHandle,
			})
			continue
		}
		count, _ := strconv.Atoi(aws.StringValue(
			m.Attributes[awssqs.MessageSystemAttributeNameApproximateReceiveCount]))
		recv = append(recv, queue.Received{
			Message:       body,
			ID:            aws.StringValue(m.MessageId),
			ReceiptHandle: aws.StringValue(m.ReceiptHandle),
			ReceiveCount:  count,
		})
	}
	return recv, nil
}

// Delete acknowledges processed messages in batches of ten.
func (q *Queues) Delete(msgs []queue.Received, l queue.Lane) ([]queue.Failure, error) {
	url, err := q.urlFor(l)
	if err != nil {
		return nil, err
	}
	var failed []queue.Failure
	for _, batch := range queue.Chunk(msgs, queue.DeleteBatchSize) {
		entries := make([]*awssqs.DeleteMessageBatchRequestEntry, len(batch))
		seen := make(map[string]bool, len(batch))
		for i, m := range batch {
			entries[i] = &awssqs.DeleteMessageBatchRequestEntry{
				Id:            aws.String(entryID(seen, m.UUID, i)),
				ReceiptHandle: aws.String(m.ReceiptHandle),
			}
		}
		out, err := q.svc.DeleteMessageBatch(&awssqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(url),
			Entries:  entries,
		})
		if err != nil {
			return failed, fmt.Errorf("sqs: delete on %s: %w", l, err)
		}
		for _, f := range out.Failed {
			failed = append(failed, queue.Failure{
				ID:      aws.StringValue(f.Id),
				Message: aws.StringValue(f.Message),
			})
		}
	}
	return failed, nil
}

// Replace resets the visibility timeout of in-flight messages so they
// return to the lane without consuming a delivery.
func (q *Queues) Replace(msgs []queue.Received, l queue.Lane, visibility time.Duration) ([]queue.Failure, error) {
	url, err := q.urlFor(l)
	if err != nil {
		return nil, err
	}
	var failed []queue.Failure
	for _, batch := range queue.Chunk(msgs, queue.ReplaceBatchSize) {
		entries := make([]*awssqs.ChangeMessageVisibilityBatchRequestEntry, len(batch))
		seen := make(map[string]bool, len(batch))
		for i, m := range batch {
			entries[i] = &awssqs.ChangeMessageVisibilityBatchRequestEntry{
				Id:                aws.String(entryID(seen, m.UUID, i)),
				ReceiptHandle:     aws.String(m.ReceiptHandle),
				VisibilityTimeout: aws.Int64(int64(visibility / time.Second)),
			}
		}
		out, err := q.svc.ChangeMessageVisibilityBatch(&awssqs.ChangeMessageVisibilityBatchInput{
			QueueUrl: aws.String(url),
			Entries:  entries,
		})
		if err != nil {
			return failed, fmt.Errorf("sqs: replace on %s: %w", l, err)
		}
		for _, f := range out.Failed {
			failed = append(failed, queue.Failure{
				ID:      aws.StringValue(f.Id),
				Message: aws.StringValue(f.Message),
			})
		}
	}
	return failed, nil
}

// Purge empties the lane. SQS allows one purge per queue per minute; a
// second attempt inside that window fails locally with ErrPurgeLockout
// before any api call, since the remote error would poison the client.
func (q *Queues) Purge(l queue.Lane) error {
	url, err := q.urlFor(l)
	if err != nil {
		return err
	}
	q.mu.Lock()
	if last, ok := q.lastPurge[l]; ok && time.Since(last) < purgeCooldown {
		q.mu.Unlock()
		return queue.ErrPurgeLockout
	}
	q.lastPurge[l] = time.Now()
	q.mu.Unlock()

	if _, err := q.svc.PurgeQueue(&awssqs.PurgeQueueInput{QueueUrl: aws.String(url)}); err != nil {
		return fmt.Errorf("sqs: purge %s: %w", l, err)
	}
	return nil
}

// Counts reads the approximate waiting and in-flight counts per lane.
func (q *Queues) Counts() (map[queue.Lane]queue.Counts, error) {
	out := make(map[queue.Lane]queue.Counts, len(q.urls))
	for l, url := range q.urls {
		attrs, err := q.svc.GetQueueAttributes(&awssqs.GetQueueAttributesInput{
			QueueUrl: aws.String(url),
			AttributeNames: []*string{
				aws.String("ApproximateNumberOfMessages"),
				aws.String("ApproximateNumberOfMessagesNotVisible"),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("sqs: counts on %s: %w", l, err)
		}
		waiting, _ := strconv.Atoi(aws.StringValue(attrs.Attributes["ApproximateNumberOfMessages"]))
		inflight, _ := strconv.Atoi(aws.StringValue(attrs.Attributes["ApproximateNumberOfMessagesNotVisible"]))
		out[l] = queue.Counts{Waiting: waiting, InFlight: inflight}
	}
	return out, nil
}
