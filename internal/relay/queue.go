package relay

import (
	"github.com/temoto/meshrelay/helpers"
	"github.com/temoto/meshrelay/mesh"
)

type item struct {
	pkt  *mesh.Packet
	dir  mesh.Direction
	at   helpers.Millis
	snap *mesh.RawSnapshot // private copy
}

// queue is fixed capacity FIFO over preallocated arena.
// Full queue evicts oldest item and releases its packet.
// Owner goroutine only.
type queue struct {
	arena []item
	head  int
	n     int
	rel   mesh.Releaser
}

func newQueue(capacity int, rel mesh.Releaser) *queue {
	if capacity < 1 {
		capacity = 1
	}
	return &queue{arena: make([]item, capacity), rel: rel}
}

func (q *queue) Len() int { return q.n }
func (q *queue) Cap() int { return len(q.arena) }

// Enqueue never blocks. snap is copied only if it correlates with pkt.
// Returns true if oldest item was evicted.
func (q *queue) Enqueue(pkt *mesh.Packet, dir mesh.Direction, now helpers.Millis, snap *mesh.RawSnapshot) bool {
	evicted := false
	if q.n == len(q.arena) {
		old := q.pop()
		q.rel.Release(old.pkt)
		evicted = true
	}
	it := item{pkt: pkt, dir: dir, at: now}
	if snap.Correlates(pkt, dir, now) {
		it.snap = snap.Clone()
	}
	q.arena[(q.head+q.n)%len(q.arena)] = it
	q.n++
	return evicted
}

// DequeueAll appends up to max items to dst in FIFO order.
// Caller owns returned packets and must release each.
func (q *queue) DequeueAll(dst []item, max int) []item {
	if max <= 0 || max > q.n {
		max = q.n
	}
	for i := 0; i < max; i++ {
		dst = append(dst, q.pop())
	}
	return dst
}

// Clear releases everything, used on teardown.
func (q *queue) Clear() int {
	n := q.n
	for q.n > 0 {
		it := q.pop()
		q.rel.Release(it.pkt)
	}
	return n
}

func (q *queue) pop() item {
	it := q.arena[q.head]
	q.arena[q.head] = item{}
	q.head = (q.head + 1) % len(q.arena)
	q.n--
	return it
}
