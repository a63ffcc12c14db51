package sched

import (
	"time"

	"github.com/google/btree"
)

// Handle identifies a scheduled event for cancellation. The zero Handle is
// never issued.
type Handle uint64

type item[T any] struct {
	at    time.Time
	seq   uint64
	value T
}

func lessItem[T any](a, b item[T]) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.seq < b.seq
}

// Queue is a deadline-ordered set of one-shot events. Events with equal
// deadlines fire in scheduling order. A Queue is owned by a single event loop
// and is not safe for concurrent use.
type Queue[T any] struct {
	tree    *btree.BTreeG[item[T]]
	pending map[Handle]item[T]
	seq     uint64
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		tree:    btree.NewG[item[T]](8, lessItem[T]),
		pending: make(map[Handle]item[T]),
	}
}

// Schedule adds v to fire at at.
func (q *Queue[T]) Schedule(at time.Time, v T) Handle {
	q.seq++
	it := item[T]{at: at, seq: q.seq, value: v}
	q.tree.ReplaceOrInsert(it)
	h := Handle(q.seq)
	q.pending[h] = it
	return h
}

// Cancel removes a pending event and reports whether it was still pending.
func (q *Queue[T]) Cancel(h Handle) bool {
	it, ok := q.pending[h]
	if !ok {
		return false
	}
	delete(q.pending, h)
	q.tree.Delete(it)
	return true
}

// Next returns the earliest deadline.
func (q *Queue[T]) Next() (time.Time, bool) {
	it, ok := q.tree.Min()
	if !ok {
		return time.Time{}, false
	}
	return it.at, true
}

// PopDue removes and returns the earliest event due at now.
func (q *Queue[T]) PopDue(now time.Time) (T, bool) {
	it, ok := q.tree.Min()
	if !ok || it.at.After(now) {
		var zero T
		return zero, false
	}
	q.tree.DeleteMin()
	delete(q.pending, Handle(it.seq))
	return it.value, true
}

func (q *Queue[T]) Len() int { return q.tree.Len() }

// Clear drops every pending event.
func (q *Queue[T]) Clear() {
	q.tree.Clear(false)
	q.pending = make(map[Handle]item[T])
}
