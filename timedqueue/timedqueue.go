package timedqueue

import (
	"sync"
	"sync/atomic"
	"time"

	kclock "k8s.io/utils/clock"
)

// Queue is a delay queue: every entry expires a fixed delay after it was
// (re-)enqueued, and a single consumer blocks in Process until the oldest
// entry's delay has elapsed.
//
// All producer-side operations are O(1) and never block beyond the internal
// mutex. Process is the only blocking operation and is intended to be called
// in a loop by one dedicated consumer goroutine.
type Queue[K comparable, V any] struct {
	mu    sync.Mutex
	arena arena[K, V]
	index map[K]handle

	clock kclock.Clock
	delay time.Duration

	stopped atomic.Bool
	stopCh  chan struct{}
	wakeCh  chan struct{}
}

// Options are options for New.
type Options struct {
	// Delay between an entry being enqueued and it expiring.
	// Applies uniformly to every entry of the queue.
	Delay time.Duration

	// Initial capacity for the entry storage.
	// This is optional.
	InitialCapacity int

	// Internal clock property, used for testing
	clock kclock.Clock
}

// New returns a new delay queue in which every entry expires opts.Delay
// after its last enqueue.
func New[K comparable, V any](opts Options) *Queue[K, V] {
	if opts.Delay <= 0 {
		panic("invalid delay: must be greater than 0")
	}
	if opts.clock == nil {
		opts.clock = kclock.RealClock{}
	}

	return &Queue[K, V]{
		arena:  newArena[K, V](opts.InitialCapacity),
		index:  make(map[K]handle, opts.InitialCapacity),
		clock:  opts.clock,
		delay:  opts.Delay,
		stopCh: make(chan struct{}),
		wakeCh: make(chan struct{}, 1),
	}
}

// Enqueue adds an entry for key, expiring after the queue's delay.
// If key already has a live entry, that entry is discarded first: only the
// most recent payload for a key is ever delivered, and its delay restarts
// from now.
func (q *Queue[K, V]) Enqueue(key K, val V) {
	e := entry[K, V]{
		key:       key,
		expiresAt: q.clock.Now().Add(q.delay),
		val:       val,
	}

	q.mu.Lock()
	wasEmpty := q.arena.len() == 0
	if h, ok := q.index[key]; ok {
		q.arena.remove(h)
	}
	q.index[key] = q.arena.pushNewest(e)
	q.mu.Unlock()

	if wasEmpty {
		// Wake the consumer blocked on the empty queue.
		// If the channel is full, a wakeup is already pending.
		select {
		case q.wakeCh <- struct{}{}:
			// Nop - signal sent
		default:
			// Nop - there's already a signal pending
		}
	}
}

// Dequeue removes the entry for key, if one is live.
// It is a no-op when key has no live entry, including when the entry was
// already delivered by Process.
func (q *Queue[K, V]) Dequeue(key K) {
	q.mu.Lock()
	if h, ok := q.index[key]; ok {
		q.arena.remove(h)
		delete(q.index, key)
	}
	q.mu.Unlock()
}

// Len returns the number of live entries.
func (q *Queue[K, V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.arena.len()
}

// Stop requests shutdown, waking a consumer blocked in Process.
// It can be called any number of times, from any goroutine.
func (q *Queue[K, V]) Stop() {
	if q.stopped.CompareAndSwap(false, true) {
		close(q.stopCh)
	}
}

// Process blocks until the oldest entry's delay has elapsed, removes that
// entry, invokes onExpired with its key and payload (outside the internal
// lock, on the calling goroutine), and returns true. Entries are delivered
// in enqueue order, since the fixed delay makes enqueue order equal
// expiration order.
//
// After Stop, Process still delivers entries that are already due, then
// returns false once the queue is empty or the oldest entry has not yet
// expired. A false return means onExpired was not invoked and the consumer
// loop should terminate.
func (q *Queue[K, V]) Process(onExpired func(key K, val V)) bool {
	for {
		q.mu.Lock()
		h, e, ok := q.arena.oldest()
		if !ok {
			q.mu.Unlock()

			// Wait for the queue to become non-empty, or for shutdown.
			select {
			case <-q.wakeCh:
				continue
			case <-q.stopCh:
				return false
			}
		}

		now := q.clock.Now()
		if !e.expiresAt.After(now) {
			q.arena.remove(h)
			delete(q.index, e.key)
			q.mu.Unlock()

			onExpired(e.key, e.val)
			return true
		}
		remaining := e.expiresAt.Sub(now)
		q.mu.Unlock()

		// Sleep until the oldest entry is due, without holding the lock.
		// The oldest entry may have been removed in the meantime, so the
		// loop re-inspects it rather than consuming blindly.
		t := q.clock.NewTimer(remaining)
		select {
		case <-t.C():
			// Re-check from the top
		case <-q.stopCh:
			t.Stop()
			return false
		}
	}
}
