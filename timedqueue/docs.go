// Package timedqueue implements a thread-safe delay queue with a fixed delay.
// Every entry is tagged with a key and expires a fixed delay after it was last enqueued; enqueueing a key that is already present replaces its payload and restarts its delay.
// A single consumer blocks in Queue.Process until the oldest entry is due, then receives it via a callback.
// Because the delay is the same for every entry, entries always expire in enqueue order and are delivered FIFO.
// The Processor wraps a Queue with a background consumer goroutine for callers that don't want to run the consumer loop themselves.
package timedqueue
