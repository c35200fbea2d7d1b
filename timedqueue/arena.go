package timedqueue

import "time"

// entry is one key-tagged payload with its expiration instant.
// Entries are immutable once stored; a refresh stores a replacement.
type entry[K comparable, V any] struct {
	key       K
	expiresAt time.Time
	val       V
}

// handle is a stable reference to a slot in the arena.
// The generation is bumped every time a slot is freed, so a handle held
// across a concurrent removal is detected as stale instead of pointing at
// whatever entry reused the slot.
type handle struct {
	slot int32
	gen  uint32
}

type slot[K comparable, V any] struct {
	entry entry[K, V]
	gen   uint32
	prev  int32
	next  int32
	used  bool
}

const noSlot int32 = -1

// arena stores entries in reusable slots threaded onto an intrusive list
// ordered by insertion time: head is the oldest entry, tail the newest.
// Because the queue's delay is fixed, insertion order equals expiration
// order, so the head is always the next entry to expire.
type arena[K comparable, V any] struct {
	slots []slot[K, V]
	free  []int32
	head  int32
	tail  int32
	size  int
}

func newArena[K comparable, V any](capacity int) arena[K, V] {
	if capacity < 0 {
		capacity = 0
	}
	return arena[K, V]{
		slots: make([]slot[K, V], 0, capacity),
		head:  noSlot,
		tail:  noSlot,
	}
}

// pushNewest appends e at the newest end and returns its handle.
func (a *arena[K, V]) pushNewest(e entry[K, V]) handle {
	var idx int32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot[K, V]{gen: 1})
		idx = int32(len(a.slots) - 1)
	}

	s := &a.slots[idx]
	s.entry = e
	s.used = true
	s.prev = a.tail
	s.next = noSlot

	if a.tail != noSlot {
		a.slots[a.tail].next = idx
	} else {
		a.head = idx
	}
	a.tail = idx
	a.size++

	return handle{slot: idx, gen: s.gen}
}

// oldest returns the handle and entry at the oldest end.
func (a *arena[K, V]) oldest() (handle, entry[K, V], bool) {
	if a.head == noSlot {
		return handle{}, entry[K, V]{}, false
	}
	s := &a.slots[a.head]
	return handle{slot: a.head, gen: s.gen}, s.entry, true
}

// remove unlinks and frees the slot h refers to.
// Returns false when h is stale: the slot was already freed, or freed and
// reused for a different entry.
func (a *arena[K, V]) remove(h handle) bool {
	if h.slot < 0 || int(h.slot) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.slot]
	if !s.used || s.gen != h.gen {
		return false
	}

	if s.prev != noSlot {
		a.slots[s.prev].next = s.next
	} else {
		a.head = s.next
	}
	if s.next != noSlot {
		a.slots[s.next].prev = s.prev
	} else {
		a.tail = s.prev
	}

	// Zero the entry so freed slots don't pin keys or payloads.
	s.entry = entry[K, V]{}
	s.used = false
	s.gen++
	s.prev = noSlot
	s.next = noSlot
	a.free = append(a.free, h.slot)
	a.size--

	return true
}

func (a *arena[K, V]) len() int {
	return a.size
}
