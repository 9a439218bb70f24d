// Package router implements the Event Router (spec §4.4, component C4):
// direction-based fan-out over the agent hierarchy, with loop prevention
// and hop-count bounding.
package router

import (
	"context"

	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/types"
	"github.com/rs/zerolog"
)

// Producer is the minimal surface the router needs to push an envelope onto
// an agent's stream. pkg/stream.Stream satisfies this directly.
type Producer interface {
	Produce(ctx context.Context, env *types.EventEnvelope) error
}

// Hierarchy resolves parent/child relationships by id only, never by shared
// pointer, per the design note on cyclic agent references: relations are
// stored as ids and resolved through the Runtime Manager at routing time.
type Hierarchy interface {
	ParentOf(agentID string) (parentID string, ok bool)
	ChildrenOf(agentID string) []string
}

// StreamProvider resolves the Producer backing a given agent's own stream.
// A missing stream (agent not currently hosted here) is not an error: the
// router simply has nothing to emit to.
type StreamProvider interface {
	StreamFor(agentID string) (Producer, bool)
}

// DropReason names why the router declined to emit to a target. These are
// the HOP_EXCEEDED / LOOP_DETECTED / STOP_PROPAGATION kinds from §7: never
// errors, only counted.
type DropReason string

const (
	DropLoopDetected    DropReason = "loop_detected"
	DropHopExceeded     DropReason = "hop_exceeded"
	DropStopPropagation DropReason = "stop_propagation"
)

// Router computes destination streams for an envelope given its direction
// and the current hierarchy, then emits to them.
type Router struct {
	hierarchy Hierarchy
	streams   StreamProvider
	logger    zerolog.Logger
	// OnDrop, if set, is invoked once per declined emission so callers
	// (pkg/metrics) can increment a drop counter without this package
	// importing metrics directly.
	OnDrop func(reason DropReason, agentID string)
}

// New constructs a Router over hierarchy and streams.
func New(hierarchy Hierarchy, streams StreamProvider) *Router {
	return &Router{
		hierarchy: hierarchy,
		streams:   streams,
		logger:    log.WithComponent("router"),
	}
}

func (r *Router) drop(reason DropReason, agentID string) {
	if r.OnDrop != nil {
		r.OnDrop(reason, agentID)
	}
}

// Route computes the destination set for env, originating at originID with
// the given direction, and emits to the resolved Message Streams. env must
// already carry originID as its sole publisher (the caller stamps this at
// construction, per §4.1). A zero-value Direction is normalized to DOWN.
func (r *Router) Route(ctx context.Context, env *types.EventEnvelope, originID string, direction types.Direction) error {
	switch direction.Normalize() {
	case types.DirectionDown:
		return r.fanDown(ctx, env, originID)
	case types.DirectionUp:
		return r.fanUp(ctx, env, originID)
	case types.DirectionBoth:
		// Design note: DOWN first, then UP, same envelope id reused;
		// receiver-side deduplication absorbs any echo.
		if err := r.fanDown(ctx, env.Clone(), originID); err != nil {
			return err
		}
		return r.fanUp(ctx, env.Clone(), originID)
	default:
		return r.fanDown(ctx, env, originID)
	}
}

// fanDown assumes env.Publishers already contains currentID. It always emits
// env onto currentID's own stream first — currentID's children receive it
// there as subscribers, and so does currentID itself via its self-
// subscription (actor.go), which is how a childless agent's own
// allow_self_handling handler observes its own DOWN publish, per §4.4 — then
// recurses into each child with hop count incremented and the child
// appended to the publisher chain.
func (r *Router) fanDown(ctx context.Context, env *types.EventEnvelope, currentID string) error {
	if env.ShouldStopPropagate {
		r.drop(DropStopPropagation, currentID)
		return nil
	}
	if env.HopExceeded() {
		r.drop(DropHopExceeded, currentID)
		return nil
	}

	if target, ok := r.streams.StreamFor(currentID); ok {
		if err := target.Produce(ctx, env); err != nil {
			return err
		}
	}

	for _, childID := range r.hierarchy.ChildrenOf(currentID) {
		if env.HasPublisher(childID) {
			r.drop(DropLoopDetected, childID)
			continue
		}
		next := env.Clone()
		next.AppendPublisher(childID)
		next.CurrentHopCount++
		if err := r.fanDown(ctx, next, childID); err != nil {
			return err
		}
	}
	return nil
}

// fanUp assumes env.Publishers already contains currentID. It resolves
// currentID's parent, appends the parent to the publisher chain, emits onto
// the parent's own stream (so the parent and its other children, the
// originator's siblings, receive it), then continues bubbling upward while
// hop budget remains.
func (r *Router) fanUp(ctx context.Context, env *types.EventEnvelope, currentID string) error {
	if env.ShouldStopPropagate {
		r.drop(DropStopPropagation, currentID)
		return nil
	}
	if env.HopExceeded() {
		r.drop(DropHopExceeded, currentID)
		return nil
	}

	parentID, ok := r.hierarchy.ParentOf(currentID)
	if !ok {
		return nil
	}
	if env.HasPublisher(parentID) {
		r.drop(DropLoopDetected, parentID)
		return nil
	}

	next := env.Clone()
	next.AppendPublisher(parentID)
	next.CurrentHopCount++

	if target, ok := r.streams.StreamFor(parentID); ok {
		if err := target.Produce(ctx, next); err != nil {
			return err
		}
	}

	return r.fanUp(ctx, next, parentID)
}
