package uthreadruntime

import (
	"slices"
	"testing"

	"pgregory.net/rapid"
)

func TestThreadQueue(t *testing.T) {
	var q threadQueue
	a, b := &thread{id: 1}, &thread{id: 2}

	if q.pop() != nil {
		t.Error("expected empty queue to pop nil")
	}
	q.push(a)
	q.push(b)
	if q.len() != 2 {
		t.Errorf("expected len 2, got %d", q.len())
	}
	if got := q.pop(); got != a {
		t.Errorf("expected a first, got %v", got.id)
	}
	q.push(a)
	if ids := q.ids(); !slices.Equal(ids, []ThreadID{2, 1}) {
		t.Errorf("expected [2 1], got %v", ids)
	}
}

func TestThreadQueueDoublePush(t *testing.T) {
	var q, other threadQueue
	a := &thread{id: 1}
	q.push(a)

	defer func() {
		if recover() == nil {
			t.Error("expected panic pushing a queued thread")
		}
	}()
	other.push(a)
}

func TestCheckThreadQueue(t *testing.T) {
	rapid.Check(t, checkThreadQueue)
}

func checkThreadQueue(t *rapid.T) {
	var q threadQueue
	var model []*thread

	var pool []*thread
	for i := 1; i <= 6; i++ {
		pool = append(pool, &thread{id: ThreadID(i)})
	}

	actions := make(map[string]func(t *rapid.T))

	actions["push"] = func(t *rapid.T) {
		th := rapid.SampledFrom(pool).Draw(t, "thread")
		if th.queued {
			t.Skip()
		}
		q.push(th)
		model = append(model, th)
	}

	actions["pop"] = func(t *rapid.T) {
		got := q.pop()
		if len(model) == 0 {
			if got != nil {
				t.Fatalf("expected nil from empty queue, got %d", got.id)
			}
			return
		}
		if got != model[0] {
			t.Fatalf("expected %d, got %v", model[0].id, got)
		}
		model = model[1:]
	}

	actions[""] = func(t *rapid.T) {
		if q.len() != len(model) {
			t.Fatalf("expected len %d, got %d", len(model), q.len())
		}
		if q.empty() != (len(model) == 0) {
			t.Fatalf("empty() disagrees with len %d", len(model))
		}
		var want []ThreadID
		for _, th := range model {
			want = append(want, th.id)
		}
		if got := q.ids(); !slices.Equal(got, want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	t.Repeat(actions)
}

func TestThreadStateString(t *testing.T) {
	if s := StateCondBlocked.String(); s != "cond-blocked" {
		t.Errorf("got %q", s)
	}
	if s := ThreadState(42).String(); s != "ThreadState(42)" {
		t.Errorf("got %q", s)
	}
}
