package agentruntime

import (
	"testing"
	"time"
)

func TestLifecycleStartsInitializing(t *testing.T) {
	l := NewLifecycle()
	if l.Phase() != PhaseInitializing {
		t.Errorf("Phase() = %q, want initializing", l.Phase())
	}
	if l.IsShuttingDown() {
		t.Error("IsShuttingDown() = true before any shutdown")
	}
}

func TestLifecycleMarkRunning(t *testing.T) {
	l := NewLifecycle()
	l.MarkRunning()
	if l.Phase() != PhaseRunning {
		t.Errorf("Phase() = %q, want running", l.Phase())
	}
}

func TestLifecycleShutdownRunsHandlersInOrder(t *testing.T) {
	l := NewLifecycle()
	l.MarkRunning()

	var order []int
	l.OnShutdown(func() { order = append(order, 1) })
	l.OnShutdown(func() { order = append(order, 2) })

	l.Shutdown("node draining", 5*time.Second)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("handler order = %v, want [1 2]", order)
	}
	if l.Phase() != PhaseTerminated {
		t.Errorf("Phase() after Shutdown() = %q, want terminated", l.Phase())
	}
	if l.ShutdownReason() != "node draining" {
		t.Errorf("ShutdownReason() = %q, want %q", l.ShutdownReason(), "node draining")
	}
	if !l.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after Shutdown()")
	}
}

func TestLifecycleShutdownIsIdempotent(t *testing.T) {
	l := NewLifecycle()
	calls := 0
	l.OnShutdown(func() { calls++ })

	l.Shutdown("reason-a", time.Second)
	l.Shutdown("reason-b", time.Second)

	if calls != 1 {
		t.Errorf("handler called %d times, want 1 (second Shutdown must be a no-op)", calls)
	}
	if l.ShutdownReason() != "reason-a" {
		t.Errorf("ShutdownReason() = %q, want reason-a (first shutdown wins)", l.ShutdownReason())
	}
}

func TestGracefulShutdownRemainingCountsDown(t *testing.T) {
	l := NewLifecycle()
	l.Shutdown("x", 100*time.Millisecond)

	remaining := l.GracefulShutdownRemaining(l.ShutdownRequestedAt().Add(40 * time.Millisecond))
	if remaining <= 0 || remaining > 60*time.Millisecond {
		t.Errorf("GracefulShutdownRemaining() = %v, want roughly 60ms", remaining)
	}

	pastDeadline := l.GracefulShutdownRemaining(l.ShutdownRequestedAt().Add(time.Second))
	if pastDeadline != 0 {
		t.Errorf("GracefulShutdownRemaining() past deadline = %v, want 0", pastDeadline)
	}
}
