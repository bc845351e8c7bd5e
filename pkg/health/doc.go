/*
Package health provides health check mechanisms for monitoring pod health on a stark agent node.

This package implements three types of health checks: HTTP, TCP, and Exec. Health checks
enable automatic detection of unhealthy pods and feed their result into the agent's
heartbeat, and the orchestrator's Session Hub records it on the pod's Healthy field.
No orchestrator component fails or reschedules a pod because it is unhealthy.

# Architecture

The health check system follows a modular checker design:

	┌─────────────────────────────────────────────────────────────┐
	│                   Health Check System                       │
	└─────┬──────────────────────────────────────────────────────┘
	      │
	      ▼
	┌──────────────────────────────────────────────────────────────┐
	│                     Checker Interface                        │
	│  • Check(ctx) Result                                         │
	│  • Type() CheckType                                          │
	└────────┬─────────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┬──────────┐
	    ▼           ▼          ▼
	┌────────┐  ┌──────┐  ┌────────┐
	│  HTTP  │  │ TCP  │  │  Exec  │
	│Checker │  │Checker│ │Checker │
	└────────┘  └──────┘  └────────┘
	     │          │          │
	     ▼          ▼          ▼
	  GET /    Connect     Run cmd
	  /health    :port      in pod

## Health Check Flow

 1. Agent starts a pod → builds the checker its pack's metadata selects
 2. Wait for StartPeriod (grace period for slow-starting packs)
 3. On every heartbeat tick: run the checker against the pod
 4. If check fails: increment consecutive failures
 5. If failures >= Retries: mark the pod unhealthy in the heartbeat frame
 6. Orchestrator's pkg/sessionhub stores the reported value on Pod.Healthy; the
    pod's status is left unchanged

# Health Check Types

## HTTP Health Checks

HTTP checks perform HTTP requests to verify application health:

	Check Type: HTTP
	Configuration:
	├── URL: http://127.0.0.1:8080/health (the pod's own loopback port)
	├── Method: GET, POST, HEAD
	├── Headers: Custom HTTP headers
	├── Expected Status: 200-399 (configurable)
	└── Timeout: 10 seconds

Example responses:
  - 200 OK → Healthy
  - 503 Service Unavailable → Unhealthy
  - Connection timeout → Unhealthy
  - Connection refused → Unhealthy

## TCP Health Checks

TCP checks verify that a port is listening and accepting connections:

	Check Type: TCP
	Configuration:
	├── Address: 127.0.0.1:6379
	├── Timeout: 5 seconds
	└── Connection test only (no data sent)

Use cases:
  - Database health (PostgreSQL, MySQL, Redis)
  - Message queue health (RabbitMQ, Kafka)
  - Any service with a TCP listener

## Exec Health Checks

Exec checks run a command and check its exit code, either on the host (for
local development) or, with a PodExecutor wired in, inside the pod's own
containerd isolate:

	Check Type: Exec
	Configuration:
	├── Command: ["pg_isready", "-U", "postgres"]
	├── PodID: the containerd container ID to exec into (optional)
	├── Executor: PodExecutor used when PodID is set
	├── Timeout: 10 seconds
	├── Exit code 0 → Healthy
	└── Exit code != 0 → Unhealthy

Use cases:
  - Database-specific checks (pg_isready, mysqladmin ping)
  - Custom health scripts shipped inside a pack's bundle
  - Process/file-existence checks inside the pod's own namespace

# Core Components

## Checker Interface

All health checkers implement this interface:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

This allows polymorphic health checking - the agent doesn't need to know the
check type, just call Check() and interpret the Result.

## PodExecutor Interface

ExecChecker delegates in-pod command execution to a PodExecutor:

	type PodExecutor interface {
		ExecInPod(ctx context.Context, podID string, command []string) ([]byte, error)
	}

*agentruntime.Runtime satisfies this by running the command as a new
containerd exec process against the pod's already-running task.

## Result Structure

All checks return a standardized Result:

	type Result struct {
		Healthy   bool          // Check passed?
		Message   string        // Human-readable message
		CheckedAt time.Time     // When check ran
		Duration  time.Duration // How long check took
	}

## Status Tracking

Status tracks health over time:

	type Status struct {
		ConsecutiveFailures  int    // Failure streak
		ConsecutiveSuccesses int    // Success streak
		LastCheck            time.Time
		LastResult           Result
		Healthy              bool   // Current health state
		StartedAt            time.Time
	}

The status implements hysteresis - multiple failures required before marking
unhealthy, preventing flapping from transient issues.

## Configuration

Health checks are configured per pod:

	type Config struct {
		Interval    time.Duration  // Time between checks (default: 30s)
		Timeout     time.Duration  // Max check duration (default: 10s)
		Retries     int            // Failures before unhealthy (default: 3)
		StartPeriod time.Duration  // Grace period for slow startup (default: 0)
	}

# Usage Examples

## HTTP Health Check

	import "github.com/cuemby/stark/pkg/health"

	// Create HTTP checker
	checker := health.NewHTTPChecker("http://127.0.0.1:8080/health")

	// Customize (optional)
	checker.WithMethod("GET").
		WithHeader("User-Agent", "stark-agent/1.0").
		WithStatusRange(200, 299).  // Only 2xx is healthy
		WithTimeout(5 * time.Second)

	// Perform check
	ctx := context.Background()
	result := checker.Check(ctx)

	if result.Healthy {
		fmt.Printf("✓ Healthy: %s (took %v)\n", result.Message, result.Duration)
	} else {
		fmt.Printf("✗ Unhealthy: %s\n", result.Message)
	}

	// Output:
	// ✓ Healthy: HTTP 200 OK (took 12ms)

## TCP Health Check

	// Create TCP checker for a pod's own Redis port
	checker := health.NewTCPChecker("127.0.0.1:6379")
	checker.WithTimeout(3 * time.Second)

	result := checker.Check(ctx)

	if result.Healthy {
		fmt.Println("Redis is accepting connections")
	} else {
		fmt.Printf("Redis unreachable: %s\n", result.Message)
	}

	// Output:
	// Redis is accepting connections

## Exec Health Check

	// Create exec checker for PostgreSQL, run inside the pod's isolate
	checker := health.NewExecChecker([]string{
		"pg_isready",
		"-U", "postgres",
		"-d", "mydb",
	}).WithTimeout(5 * time.Second).
		WithPod(containerID, runtime) // runtime: *agentruntime.Runtime

	result := checker.Check(ctx)

	if result.Healthy {
		fmt.Println("PostgreSQL is ready")
	} else {
		fmt.Printf("PostgreSQL not ready: %s\n", result.Message)
	}

## Health Status Tracking

	// Create status tracker
	status := health.NewStatus()

	config := health.Config{
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		Retries:     3,
		StartPeriod: 30 * time.Second,
	}

	checker := health.NewHTTPChecker("http://127.0.0.1:8080/health")

	for {
		if status.InStartPeriod(config) {
			fmt.Println("In startup period, skipping health check")
			time.Sleep(config.Interval)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		result := checker.Check(ctx)
		cancel()

		status.Update(result, config)

		if !status.Healthy {
			fmt.Printf("pod unhealthy after %d failures\n", status.ConsecutiveFailures)
			// Reported Healthy=false on the next heartbeat; the orchestrator
			// decides whether to fail the pod.
			break
		}

		time.Sleep(config.Interval)
	}

## Pack Health Check Metadata

cmd/stark-agent resolves a pack's checker from its metadata the same
convention defaultPodPort uses for its listen port:

	pack.Metadata = map[string]string{
		"port":                "8080",
		"healthcheck.type":    "http", // "http" (default), "tcp", or "exec"
		"healthcheck.command": "pg_isready -U postgres", // only for "exec"
	}

# Integration Points

## Agent Integration

cmd/stark-agent manages health check execution:

 1. Pod deployed → agent builds the pack's configured checker
 2. Agent runs checks on each heartbeat tick (sessionhub's heartbeat interval)
 3. Agent updates health.Status and derives Healthy for the pod
 4. Agent reports PodStatusEntry{PodID, Alive, Healthy} on the next heartbeat frame

## Orchestrator Integration

pkg/sessionhub's heartbeat handler copies the reported health onto pod state:

	// Roughly: the orchestrator-side handler for a heartbeat's pod statuses
	if pod.Healthy != entry.Healthy {
		pod.Healthy = entry.Healthy
		store.UpdatePod(pod)
	}

Nothing else reads Pod.Healthy: pkg/lifecycle does not transition an unhealthy
pod, the scheduler still counts it toward its service's replicas, and the
target selector can still pick it.

# Design Patterns

## Strategy Pattern

Different checkers implement the Checker interface:

	Checker (interface)
	├── HTTPChecker (HTTP strategy)
	├── TCPChecker (TCP strategy)
	└── ExecChecker (Exec strategy)

This allows runtime selection of check type without code changes.

## Builder Pattern

Checkers use fluent builders for configuration:

	checker := NewHTTPChecker(url).
		WithMethod("POST").
		WithHeader("Auth", "token").
		WithTimeout(5 * time.Second)

This provides clean, readable configuration with optional parameters.

## Hysteresis Pattern

Status tracking implements hysteresis to prevent flapping:

	Healthy → 1 failure → Still healthy
	Healthy → 2 failures → Still healthy
	Healthy → 3 failures → Unhealthy!

	Unhealthy → 1 success → Healthy!

This prevents oscillation from transient issues while still responding to
persistent problems.

## Context-Based Cancellation

All checks respect context deadlines:

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := checker.Check(ctx)  // Respects timeout

This enables proper timeout handling and resource cleanup.

# Performance Characteristics

## HTTP Check Performance

HTTP checks are network-bound:

  - Latency: 1-100ms (depends on network + app)
  - Memory: ~10KB per check (HTTP client)
  - CPU: Minimal (mostly waiting for I/O)

## TCP Check Performance

TCP checks are very lightweight:

  - Latency: 1-10ms (just TCP handshake)
  - Memory: ~1KB per check
  - CPU: Negligible

TCP checks are ideal for high-frequency monitoring.

## Exec Check Performance

Exec checks are most expensive, and an in-pod exec adds a containerd round
trip on top of the command itself:

  - Latency: 10-1000ms+ (depends on command and exec setup)
  - Memory: command output size
  - CPU: command execution

Use exec checks sparingly and increase the check interval.

# Troubleshooting

## False Positive Failures

If healthy pods are marked unhealthy:

1. Check timeout settings:
  - Timeout too short for slow responses?
  - Network latency accounted for?
  - Increase timeout to 2x expected duration

2. Check retry count:
  - Retries = 1 → very sensitive to transients
  - Retries = 3 → more tolerant (recommended)

3. Check StartPeriod:
  - Pack takes 60s to start but StartPeriod = 10s?
  - Set StartPeriod > pack startup time

## Health Checks Not Running

If health checks aren't being performed:

1. Verify pack.Metadata["healthcheck.type"] and port are set as expected
2. An exec check whose PodID is set with no executor fails every tick with the
   Result message "exec check configured ... but no executor wired"; the agent
   does not log check results, so this shows only as Healthy=false
3. Verify the pod's port or isolate is actually reachable from the agent

## Exec Checks Failing With No Executor

`checker.WithPod(podID, runtime)` must be called for an exec checker to run
inside a pod; a PodID set without an Executor always reports unhealthy
rather than silently falling back to the host.

# Security Considerations

## HTTP Health Checks

  - Health endpoints should not require authentication
  - Don't expose sensitive information in health responses
  - Reachable only over the pod's own loopback interface

## Exec Health Checks

  - Validate command arguments (prevent injection)
  - Limit command execution time
  - In-pod exec runs with the same privileges as the pod's own process

# See Also

  - pkg/sessionhub - Stores reported pod health on the pod
  - pkg/agentruntime - containerd Runtime satisfying PodExecutor
  - cmd/stark-agent - Builds and runs health checkers per deployed pod
*/
package health
