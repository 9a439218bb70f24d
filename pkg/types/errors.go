package types

import "errors"

// Error kinds from spec §7. Callers should compare with errors.Is.
var (
	// ErrBackpressureTimeout is returned when a stream produce call blocks
	// past its configured timeout.
	ErrBackpressureTimeout = errors.New("nexus: backpressure timeout")
	// ErrSubscriptionCreateFailed is returned when the Subscription Manager
	// exhausts its retry budget creating a subscription.
	ErrSubscriptionCreateFailed = errors.New("nexus: subscription create failed")
	// ErrConcurrencyConflict is returned when an event-store append's
	// expected_version does not match the current tail.
	ErrConcurrencyConflict = errors.New("nexus: concurrency conflict")
	// ErrStateAssignmentNotAllowed is returned when state/config is
	// reassigned outside an allowed scope.
	ErrStateAssignmentNotAllowed = errors.New("nexus: state assignment not allowed outside init/handler scope")
	// ErrDirectStateAssignmentWhenEventSourcing is returned when state is
	// reassigned directly while the agent is in event-sourced mode.
	ErrDirectStateAssignmentWhenEventSourcing = errors.New("nexus: direct state assignment not allowed while event sourcing is active")
	// ErrAgentNotFound is returned by the runtime Manager, Actor.SetParent
	// and the cluster backend's Deliver for an absent agent,
	// not used by lookups that contractually return nil instead (see §7).
	ErrAgentNotFound = errors.New("nexus: agent not found")
)
