// Package sessions tracks live relay sessions so the host can drain them on
// shutdown. It is not addressable: sessions are only warned or canceled in
// bulk.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Handle is what the host needs to drain one session.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

// Info describes one tracked session.
type Info struct {
	ID        string
	StartedAt time.Time
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
	now      func() time.Time
}

type entry struct {
	handle  Handle
	started time.Time
	once    sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

// Register adds a session and returns its idempotent unregister func. A
// second registration under the same id replaces and releases the first.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*entry)
	}
	if t.now == nil {
		t.now = time.Now
	}
	e := &entry{handle: h, started: t.now()}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.release(sessionID, old)
	}
	return func() { t.release(sessionID, e) }
}

func (t *Tracker) release(sessionID string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == e {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Snapshot lists tracked sessions, oldest first.
func (t *Tracker) Snapshot() []Info {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	out := make([]Info, 0, len(t.sessions))
	for id, e := range t.sessions {
		out = append(out, Info{ID: id, StartedAt: e.started})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (t *Tracker) handles() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.sessions))
	for _, e := range t.sessions {
		out = append(out, e.handle)
	}
	return out
}

// WarnAll sends a best-effort warning to every session. Handles are invoked
// outside the lock.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, h := range t.handles() {
		if h.Warn == nil {
			continue
		}
		_ = h.Warn(code, message)
		sent++
	}
	return sent
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	for _, h := range t.handles() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or ctx is done.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
