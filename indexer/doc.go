// Package indexer keeps the search replica in sync with the transactional
// store. Writes to the store enqueue messages on the primary lane; the
// indexer dequeues them, rebuilds each object's denormalized document,
// writes it to the replica under optimistic concurrency, and fans out to
// the secondary lane for the objects whose views the change actually
// invalidated.
//
// There is no coordination between workers. Any number of them can drain
// the same lanes concurrently; the queue's visibility timeouts keep a
// message with one worker at a time, and the replica's write-if-not-older
// rule resolves the races that remain.
package indexer
