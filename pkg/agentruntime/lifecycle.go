package agentruntime

import (
	"sync"
	"time"
)

// Phase is the pack-visible isolate lifecycle phase (§4.10).
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseRunning      Phase = "running"
	PhaseStopping     Phase = "stopping"
	PhaseTerminated   Phase = "terminated"
)

// ShutdownHandler is a callback a pack registers via onShutdown. It
// should return once it has finished any cleanup it needs before the
// isolate is force-terminated.
type ShutdownHandler func()

// Lifecycle is the object the agent installs into a pod's isolate
// before user code runs, exposing the pack-visible
// phase/isShuttingDown/shutdownReason surface and collecting
// onShutdown handlers (§4.10). It is not exported to other pods --
// each isolate gets its own instance.
type Lifecycle struct {
	mu                          sync.Mutex
	phase                       Phase
	shutdownReason              string
	shutdownRequestedAt         time.Time
	gracePeriod                 time.Duration
	handlers                    []ShutdownHandler
}

// NewLifecycle creates a lifecycle object in PhaseInitializing.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{phase: PhaseInitializing}
}

// MarkRunning transitions out of initializing once the pack's entry
// point has started.
func (l *Lifecycle) MarkRunning() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase == PhaseInitializing {
		l.phase = PhaseRunning
	}
}

// OnShutdown registers a handler invoked when shutdown begins. Handlers
// run in registration order, synchronously, before the grace period is
// waited out.
func (l *Lifecycle) OnShutdown(h ShutdownHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Phase returns the current phase.
func (l *Lifecycle) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// IsShuttingDown reports whether Shutdown has been called.
func (l *Lifecycle) IsShuttingDown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase == PhaseStopping || l.phase == PhaseTerminated
}

// ShutdownReason returns the reason passed to Shutdown, if any.
func (l *Lifecycle) ShutdownReason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shutdownReason
}

// ShutdownRequestedAt returns when Shutdown was called; zero if never.
func (l *Lifecycle) ShutdownRequestedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shutdownRequestedAt
}

// GracefulShutdownRemaining reports how much of the grace period is
// left as of now, floored at zero.
func (l *Lifecycle) GracefulShutdownRemaining(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdownRequestedAt.IsZero() {
		return l.gracePeriod
	}
	remaining := l.gracePeriod - now.Sub(l.shutdownRequestedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Shutdown runs every registered handler synchronously, then marks the
// isolate terminated. The caller (the agent runtime handling a pod:stop
// frame) is responsible for actually force-terminating the isolate once
// gracePeriod elapses; this method only drives the pack-visible state
// and handler callbacks.
func (l *Lifecycle) Shutdown(reason string, gracePeriod time.Duration) {
	l.mu.Lock()
	if l.phase == PhaseStopping || l.phase == PhaseTerminated {
		l.mu.Unlock()
		return
	}
	l.phase = PhaseStopping
	l.shutdownReason = reason
	l.shutdownRequestedAt = time.Now()
	l.gracePeriod = gracePeriod
	handlers := append([]ShutdownHandler(nil), l.handlers...)
	l.mu.Unlock()

	for _, h := range handlers {
		h()
	}

	l.mu.Lock()
	l.phase = PhaseTerminated
	l.mu.Unlock()
}
