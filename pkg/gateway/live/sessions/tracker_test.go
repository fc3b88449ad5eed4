package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("s_1", Handle{})
	u2 := tr.Register("s_2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
}

func TestTracker_WaitTimesOutWithLiveSession(t *testing.T) {
	tr := NewTracker()
	tr.Register("s_1", Handle{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); ok {
		t.Fatalf("Wait returned true with a live session")
	}
}

func TestTracker_ReRegisterReleasesPrevious(t *testing.T) {
	tr := NewTracker()
	first := tr.Register("s_1", Handle{})
	second := tr.Register("s_1", Handle{})
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	first()
	if tr.Count() != 1 {
		t.Fatalf("stale unregister removed the replacement")
	}
	second()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatalf("wait group not balanced after replacement")
	}
}

func TestTracker_SnapshotOldestFirst(t *testing.T) {
	tr := NewTracker()
	base := time.Unix(1000, 0)
	clock := base
	tr.now = func() time.Time { return clock }

	tr.Register("s_b", Handle{})
	clock = base.Add(-time.Minute)
	tr.Register("s_a", Handle{})

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len=%d, want 2", len(snap))
	}
	if snap[0].ID != "s_a" || snap[1].ID != "s_b" {
		t.Fatalf("order=%s,%s, want s_a,s_b", snap[0].ID, snap[1].ID)
	}
}

func TestTracker_CancelAll_CallsCancel(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("s_1", Handle{Cancel: func() { c1.Add(1) }})
	tr.Register("s_2", Handle{Cancel: func() { c2.Add(1) }})
	tr.Register("s_3", Handle{})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_WarnAll_BestEffort(t *testing.T) {
	tr := NewTracker()
	var w1, w2 atomic.Int64
	tr.Register("s_1", Handle{Warn: func(string, string) error {
		w1.Add(1)
		return nil
	}})
	tr.Register("s_2", Handle{Warn: func(string, string) error {
		w2.Add(1)
		return errors.New("queue full")
	}})

	if sent := tr.WarnAll("draining", "server shutting down"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if w1.Load() != 1 || w2.Load() != 1 {
		t.Fatalf("warn calls=%d/%d, want 1/1", w1.Load(), w2.Load())
	}
}

func TestTracker_NilSafe(t *testing.T) {
	var tr *Tracker
	tr.Register("s_1", Handle{})()
	if tr.Count() != 0 || tr.CancelAll() != 0 || tr.WarnAll("x", "y") != 0 {
		t.Fatalf("nil tracker should be inert")
	}
	if !tr.Wait(context.Background()) {
		t.Fatalf("nil tracker Wait should return true")
	}
}
