// Package sourcing implements the Event-Sourced Agent (spec §4.9, component
// C9): raise/confirm staging over the Event Store, deterministic replay on
// activation with an optional snapshot, and a pluggable snapshot policy.
//
// Sourced wraps an *agent.Base[S, C] rather than replacing it: pkg/agent's
// state-protection contract already forbids direct State reassignment once
// EnableEventSourcing is called, so Sourced is the only legitimate path left
// for that agent's state to change, via RaiseEvent/ConfirmEvents.
package sourcing

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/nexus/pkg/agent"
	"github.com/cuemby/nexus/pkg/codec"
	"github.com/cuemby/nexus/pkg/eventstore"
	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/metrics"
	"github.com/cuemby/nexus/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/anypb"
)

// TransitionState is the user-supplied pure function mapping (state, event)
// to the next state, per §4.9. It must be deterministic and side-effect
// free: replay re-derives state by calling it once per logged event, in
// version order, and any side effect or nondeterminism here produces a
// divergent replay that the framework cannot detect.
type TransitionState[S any] func(state *S, event any) *S

// SnapshotPolicy decides whether a snapshot should be taken after
// confirming events up to version, per §4.9's "pluggable" requirement.
type SnapshotPolicy interface {
	ShouldSnapshot(version int) bool
}

// CountPolicy is the default: snapshot every N confirmed events.
type CountPolicy struct {
	N int
}

// ShouldSnapshot reports true once per N versions.
func (p CountPolicy) ShouldSnapshot(version int) bool {
	n := p.N
	if n <= 0 {
		n = DefaultSnapshotInterval
	}
	return version > 0 && version%n == 0
}

// NoSnapshot opts an agent type out of snapshotting entirely.
type NoSnapshot struct{}

// ShouldSnapshot always reports false.
func (NoSnapshot) ShouldSnapshot(int) bool { return false }

// DefaultSnapshotInterval is CountPolicy's default N, per §4.9.
const DefaultSnapshotInterval = 100

type stagedEvent struct {
	tag   string
	event any
}

// Sourced layers raise/confirm/replay/snapshot over an agent's Base, per
// §4.9. S and C mirror the wrapped Base[S, C]'s own type parameters.
type Sourced[S, C any] struct {
	base  *agent.Base[S, C]
	store eventstore.EventStore
	codec *codec.Registry

	transition TransitionState[S]
	policy     SnapshotPolicy
	logger     zerolog.Logger

	currentVersion int
	staged         []stagedEvent
}

// Deps bundles Sourced's collaborators.
type Deps[S any] struct {
	Store      eventstore.EventStore
	Codec      *codec.Registry
	Transition TransitionState[S]
	Policy     SnapshotPolicy // nil uses CountPolicy{N: DefaultSnapshotInterval}
}

// New constructs a Sourced wrapper over b and immediately calls
// b.EnableEventSourcing(), per §4.6: once wrapped, direct State
// reassignment on b is rejected unconditionally, leaving RaiseEvent/
// ConfirmEvents as the only path for state to change.
func New[S, C any](b *agent.Base[S, C], deps Deps[S]) *Sourced[S, C] {
	policy := deps.Policy
	if policy == nil {
		policy = CountPolicy{N: DefaultSnapshotInterval}
	}
	b.EnableEventSourcing()
	return &Sourced[S, C]{
		base:       b,
		store:      deps.Store,
		codec:      deps.Codec,
		transition: deps.Transition,
		policy:     policy,
		logger:     log.WithAgent(b.ID),
	}
}

// CurrentVersion returns the last version applied to in-memory state,
// either via replay or a prior ConfirmEvents call.
func (s *Sourced[S, C]) CurrentVersion() int { return s.currentVersion }

// RaiseEvent stages event in memory without applying it to state or
// persisting it, per §4.9. Multiple raises accumulate until ConfirmEvents.
func (s *Sourced[S, C]) RaiseEvent(event any) error {
	tag, ok := s.codec.TagFor(event)
	if !ok {
		return fmt.Errorf("sourcing: event type %T is not registered with the codec", event)
	}
	s.staged = append(s.staged, stagedEvent{tag: tag, event: event})
	return nil
}

// ConfirmEvents atomically appends every staged event to the Event Store
// with expected_version = CurrentVersion(), then applies each in order to
// in-memory state via TransitionState and advances the version, per §4.9.
// On a concurrency conflict the staging buffer is cleared and
// types.ErrConcurrencyConflict is returned; nothing is applied.
func (s *Sourced[S, C]) ConfirmEvents() error {
	if len(s.staged) == 0 {
		return nil
	}

	logEvents := make([]types.StateLogEvent, len(s.staged))
	applied := make([]any, len(s.staged))
	for i, se := range s.staged {
		payload, err := s.codec.Encode(se.event)
		if err != nil {
			s.staged = nil
			return fmt.Errorf("sourcing: encode staged event: %w", err)
		}
		logEvents[i] = types.StateLogEvent{
			EventID:      uuid.NewString(),
			AgentID:      s.base.ID,
			EventTypeTag: se.tag,
			Payload:      payload.Value,
		}
		// Decode back before applying so ConfirmEvents feeds TransitionState
		// the exact same shape ReplayEvents will later reconstruct from the
		// log, per §8's replay-idempotence property.
		decoded, err := s.codec.Decode(payload)
		if err != nil {
			s.staged = nil
			return fmt.Errorf("sourcing: round-trip staged event: %w", err)
		}
		applied[i] = decoded
	}

	newVersion, err := s.store.AppendEvents(s.base.ID, logEvents, s.currentVersion)
	if err != nil {
		s.staged = nil
		return err
	}

	for _, event := range applied {
		next := s.transition(s.base.State, event)
		s.base.ApplyInternal(next)
	}
	s.currentVersion = newVersion
	s.staged = nil

	if s.policy.ShouldSnapshot(s.currentVersion) {
		if err := s.CreateSnapshot(); err != nil {
			s.logger.Warn().Err(err).Msg("snapshot creation failed after confirm")
		}
	}
	return nil
}

// ReplayEvents rebuilds in-memory state from the Event Store, per §4.9: if a
// snapshot exists, it is loaded first and current_version is set to the
// snapshot's version; then every event from current_version+1 onward is
// fetched and applied in order via TransitionState. Nothing calls it
// automatically on activation.
func (s *Sourced[S, C]) ReplayEvents() error {
	if snap, err := s.store.GetLatestSnapshot(s.base.ID); err != nil {
		return fmt.Errorf("sourcing: load snapshot: %w", err)
	} else if snap != nil {
		var state S
		if len(snap.State) > 0 {
			if err := json.Unmarshal(snap.State, &state); err != nil {
				return fmt.Errorf("sourcing: decode snapshot state: %w", err)
			}
		}
		s.base.ApplyInternal(&state)
		s.currentVersion = snap.Version
	}

	events, err := s.store.GetEvents(s.base.ID, s.currentVersion+1, 0, 0)
	if err != nil {
		return fmt.Errorf("sourcing: load events: %w", err)
	}
	for _, le := range events {
		payload, err := s.codec.Decode(&anypb.Any{TypeUrl: le.EventTypeTag, Value: le.Payload})
		if err != nil {
			return fmt.Errorf("sourcing: replay: decode event %s: %w", le.EventID, err)
		}
		next := s.transition(s.base.State, payload)
		s.base.ApplyInternal(next)
		s.currentVersion = le.Version
	}
	return nil
}

// CreateSnapshot captures the current in-memory state and version via the
// Event Store, per §4.9. It does not truncate the event log.
func (s *Sourced[S, C]) CreateSnapshot() error {
	data, err := json.Marshal(s.base.State)
	if err != nil {
		return fmt.Errorf("sourcing: encode state for snapshot: %w", err)
	}
	if err := s.store.SaveSnapshot(s.base.ID, s.currentVersion, data); err != nil {
		return err
	}
	metrics.SnapshotsCreatedTotal.WithLabelValues(s.base.Type).Inc()
	return nil
}
