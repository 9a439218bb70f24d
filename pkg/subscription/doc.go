/*
Package subscription implements nexus's Subscription Manager (spec §4.3,
component C3): retry-with-backoff creation, idle-window health checks,
and handler-preserving reconnect, layered over a Target (typically a
pkg/stream.Stream).

# State machine

	CREATING ──► ACTIVE ⇄ PAUSED
	               │
	               ▼
	           UNHEALTHY ──► ACTIVE (via Reconnect)
	               │
	               ▼
	           TERMINATED (via Unsubscribe, from any state)

Create retries subscribing with exponential backoff (base 100ms, factor
2, ±25% jitter, 5 attempts by default) before giving up with
types.ErrSubscriptionCreateFailed. HealthCheck compares a handle's last
activity timestamp against an idle window (default 60s); Reconnect
re-subscribes the same handler and type filter, leaving the handle
unhealthy (not erroring the caller) if retries are exhausted. Supervise
wraps both in a ticker loop for callers that want automatic recovery
rather than polling manually.
*/
package subscription
