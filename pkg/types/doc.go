/*
Package types defines the core data structures shared across nexus.

This package contains the data model every other package builds on: the
event envelope that carries routing metadata, the hierarchy node that
records parent/child relationships, the subscription handle lifecycle,
and the append-only log entry and snapshot shapes used by the event
store. These types are never inspected for business meaning by the
framework itself — it only routes, serializes, and persists them.

# Core Types

Routing:
  - EventEnvelope: serializable carrier with id, publisher chain,
    direction, hop counters, and an opaque tagged payload
  - Direction: Down, Up, Both, or Unspecified (normalizes to Down)

Hierarchy:
  - HierarchyNode: per-agent parent id and ordered-unique child ids

Subscriptions:
  - SubscriptionHandle: id, stream id, lifecycle state, last activity,
    retry count
  - SubscriptionState: Creating, Active, Paused, Unhealthy, Terminated

Event Log:
  - StateLogEvent: one append-only, versioned log entry
  - Snapshot: the single current point-in-time state capture

# Usage

Constructing an envelope for a DOWN publish:

	env := &types.EventEnvelope{
		ID:          uuid.NewString(),
		PublisherID: agentID,
		Publishers:  []string{agentID},
		Timestamp:   time.Now().UTC(),
		Direction:   types.DirectionDown,
		Payload:     payload,
	}

Maintaining a hierarchy node:

	node := &types.HierarchyNode{ID: "parent-1"}
	node.AddChild("child-1") // no-op if already present
	node.RemoveChild("child-2") // no-op if absent

# See Also

  - pkg/stream for the per-agent channel envelopes travel over
  - pkg/router for direction-based fan-out over the parent/child hierarchy
  - pkg/eventstore for StateLogEvent/Snapshot persistence
*/
package types
