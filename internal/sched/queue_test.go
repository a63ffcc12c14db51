package sched

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func drain(q *Queue[string], now time.Time) []string {
	var out []string
	for {
		v, ok := q.PopDue(now)
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestQueueOrdering(t *testing.T) {
	clock := NewFakeClock(time.Unix(100, 0))
	q := NewQueue[string]()
	start := clock.Now()

	q.Schedule(start.Add(3*time.Second), "c")
	q.Schedule(start.Add(time.Second), "a1")
	q.Schedule(start.Add(time.Second), "a2")
	q.Schedule(start.Add(2*time.Second), "b")

	next, ok := q.Next()
	if !ok || !next.Equal(start.Add(time.Second)) {
		t.Fatalf("Next = %v, %v", next, ok)
	}

	if got := drain(q, start); len(got) != 0 {
		t.Fatalf("events fired before their deadline: %v", got)
	}
	got := drain(q, clock.Advance(2*time.Second))
	if diff := cmp.Diff([]string{"a1", "a2", "b"}, got); diff != "" {
		t.Fatalf("due events mismatch (-want +got):\n%s", diff)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
}

func TestQueueCancel(t *testing.T) {
	now := time.Unix(0, 0)
	q := NewQueue[string]()
	h1 := q.Schedule(now.Add(time.Millisecond), "keep")
	h2 := q.Schedule(now.Add(time.Millisecond), "drop")

	if !q.Cancel(h2) {
		t.Fatalf("Cancel of pending event returned false")
	}
	if q.Cancel(h2) {
		t.Fatalf("second Cancel returned true")
	}

	got := drain(q, now.Add(time.Second))
	if diff := cmp.Diff([]string{"keep"}, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if q.Cancel(h1) {
		t.Fatalf("Cancel after firing returned true")
	}

	q.Schedule(now, "x")
	q.Clear()
	if _, ok := q.Next(); ok {
		t.Fatalf("Next after Clear reported an event")
	}
}
