// Package lifecycle holds process state shared by handlers during graceful
// shutdown.
package lifecycle

import (
	"sync/atomic"
	"time"
)

type Lifecycle struct {
	draining  atomic.Bool
	startedAt time.Time
	now       func() time.Time
}

func New(now func() time.Time) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{startedAt: now(), now: now}
}

// SetDraining marks the process as shutting down: readiness fails and new
// relay sessions are refused.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

func (l *Lifecycle) Uptime() time.Duration {
	if l == nil || l.now == nil {
		return 0
	}
	return l.now().Sub(l.startedAt)
}
