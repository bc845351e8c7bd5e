package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// PodExecutor runs a command inside a pod's isolate and returns its
// combined output, so ExecChecker can probe inside the pod's own process
// namespace instead of the host. Satisfied by *agentruntime.Runtime.
type PodExecutor interface {
	ExecInPod(ctx context.Context, podID string, command []string) ([]byte, error)
}

// ExecChecker performs exec-based health checks by running a command,
// either on the host (for local testing) or inside a pod's isolate via a
// wired PodExecutor.
type ExecChecker struct {
	// Command is the command to execute (e.g., ["pg_isready", "-U", "postgres"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	// PodID is the isolate to exec into via Executor. If empty, Command
	// runs on the host (useful for testing).
	PodID string

	// Executor performs the in-pod exec when PodID is set.
	Executor PodExecutor
}

// NewExecChecker creates a new exec health checker that runs on the host.
// Use WithPod to target a pod's own isolate instead.
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
	}
}

// Check performs the exec health check
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	if e.PodID != "" {
		return e.checkInPod(execCtx, start)
	}
	return e.checkOnHost(execCtx, start)
}

func (e *ExecChecker) checkInPod(ctx context.Context, start time.Time) Result {
	if e.Executor == nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("exec check configured for pod %s but no executor wired", e.PodID),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	output, err := e.Executor.ExecInPod(ctx, e.PodID, e.Command)
	message := fmt.Sprintf("Command: %v", e.Command)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s, Error: %v", message, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	if len(output) > 0 {
		message = fmt.Sprintf("%s, Output: %s", message, truncate(output))
	}
	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (e *ExecChecker) checkOnHost(ctx context.Context, start time.Time) Result {
	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	message := fmt.Sprintf("Command: %v", e.Command)
	if err != nil {
		message = fmt.Sprintf("%s, Error: %v", message, err)
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s, Stderr: %s", message, stderr.String())
		}
		return Result{
			Healthy:   false,
			Message:   message,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	if stdout.Len() > 0 {
		message = fmt.Sprintf("%s, Output: %s", message, truncate(stdout.Bytes()))
	}
	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func truncate(output []byte) string {
	s := string(output)
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithPod targets podID's isolate for exec, run through executor instead
// of the host.
func (e *ExecChecker) WithPod(podID string, executor PodExecutor) *ExecChecker {
	e.PodID = podID
	e.Executor = executor
	return e
}
