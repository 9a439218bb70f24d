// Package stream implements the per-agent multicast channel described in
// spec §4.2 (C2 Message Stream): bounded capacity, per-subscriber FIFO
// delivery, and an explicit backpressure policy at the producer boundary.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/nexus/pkg/types"
	"github.com/google/uuid"
)

// DropPolicy controls what happens when a subscriber's buffer is full.
type DropPolicy int

const (
	// Wait blocks the producer until space frees up or the backpressure
	// timeout elapses. This is the default, per §4.2.
	Wait DropPolicy = iota
	// Drop skips the full subscriber immediately and counts the drop.
	Drop
)

// DefaultCapacity is the default per-subscriber buffer size, per §4.2.
const DefaultCapacity = 100

// DefaultBackpressureTimeout bounds how long Produce waits under Wait policy
// before returning types.ErrBackpressureTimeout.
const DefaultBackpressureTimeout = 5 * time.Second

// Config controls a Stream's capacity and full-buffer behavior.
type Config struct {
	Capacity            int
	DropPolicy          DropPolicy
	BackpressureTimeout time.Duration
	// OnDrop, if set, is invoked once per dropped envelope delivery so
	// callers (pkg/metrics) can increment a counter without this package
	// importing metrics directly.
	OnDrop func(streamID string)
}

// DefaultConfig returns the §4.2 defaults: capacity 100, Wait policy.
func DefaultConfig() Config {
	return Config{
		Capacity:            DefaultCapacity,
		DropPolicy:          Wait,
		BackpressureTimeout: DefaultBackpressureTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.BackpressureTimeout <= 0 {
		c.BackpressureTimeout = DefaultBackpressureTimeout
	}
	return c
}

// Handler is invoked once per delivered envelope for a given subscriber.
// A returned error is isolated to that subscriber; it never affects other
// subscribers and never propagates to the producer.
type Handler func(*types.EventEnvelope) error

// subscriberState tracks one subscriber's buffer, filter, and lifecycle.
type subscriberState struct {
	handle   *types.SubscriptionHandle
	handler  Handler
	typeTag  string // empty means "no filter, deliver everything"
	ch       chan *types.EventEnvelope
	stopCh   chan struct{}
	mu       sync.Mutex // guards handle.State / LastActivityAt / paused
	paused   bool
}

// Stream coordinates multicast delivery of envelopes to zero or more
// subscribers with bounded, per-subscriber backpressure.
type Stream struct {
	id  string
	cfg Config

	mu          sync.RWMutex
	subscribers map[string]*subscriberState
	closed      bool
}

// New constructs a Stream for the given agent/stream id.
func New(id string, cfg Config) *Stream {
	return &Stream{
		id:          id,
		cfg:         cfg.withDefaults(),
		subscribers: make(map[string]*subscriberState),
	}
}

// ID returns the stream's identifier (conventionally the owning agent's id).
func (s *Stream) ID() string { return s.id }

// Subscribe registers handler to receive envelopes, optionally restricted to
// a single payload type tag. Envelopes whose tag doesn't match typeFilter are
// silently skipped for this subscriber only; other subscribers are
// unaffected. Returns a Subscription Handle per §3.
func (s *Stream) Subscribe(handler Handler, typeFilter string) (*types.SubscriptionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.ErrSubscriptionCreateFailed
	}

	state := &subscriberState{
		handle: &types.SubscriptionHandle{
			SubscriptionID: uuid.NewString(),
			StreamID:       s.id,
			State:          types.SubscriptionActive,
			LastActivityAt: time.Now().UTC(),
		},
		handler: handler,
		typeTag: typeFilter,
		ch:      make(chan *types.EventEnvelope, s.cfg.Capacity),
		stopCh:  make(chan struct{}),
	}
	s.subscribers[state.handle.SubscriptionID] = state
	go state.run()
	return state.handle, nil
}

// run is the per-subscriber consumer loop: strictly FIFO, one envelope at a
// time, errors recovered and isolated per §4.2.
func (s *subscriberState) run() {
	for {
		select {
		case env, ok := <-s.ch:
			if !ok {
				return
			}
			s.deliver(env)
		case <-s.stopCh:
			return
		}
	}
}

func (s *subscriberState) deliver(env *types.EventEnvelope) {
	defer func() {
		// A panicking handler must not take down the stream's dispatch
		// goroutines for other subscribers.
		_ = recover()
	}()
	_ = s.handler(env)
	s.mu.Lock()
	s.handle.LastActivityAt = time.Now().UTC()
	s.mu.Unlock()
}

// Unsubscribe removes a subscriber. Idempotent: unsubscribing an already
// terminated or unknown handle is a no-op, per §4.3.
func (s *Stream) Unsubscribe(subscriptionID string) {
	if subscriptionID == "" {
		return
	}
	s.mu.Lock()
	state, ok := s.subscribers[subscriptionID]
	if ok {
		delete(s.subscribers, subscriptionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	state.mu.Lock()
	state.handle.State = types.SubscriptionTerminated
	state.mu.Unlock()
	close(state.stopCh)
}

// SetPaused stops or resumes delivery to a subscriber without discarding its
// handle, per the §4.3 state machine's ACTIVE ⇄ PAUSED transition.
func (s *Stream) SetPaused(subscriptionID string, paused bool) {
	s.mu.RLock()
	state, ok := s.subscribers[subscriptionID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	state.mu.Lock()
	state.paused = paused
	if paused {
		state.handle.State = types.SubscriptionPaused
	} else if state.handle.State == types.SubscriptionPaused {
		state.handle.State = types.SubscriptionActive
	}
	state.mu.Unlock()
}

// Produce enqueues env for delivery to every matching, non-paused
// subscriber. Under the Wait policy (default) it blocks per full subscriber
// until space frees up or the configured backpressure timeout elapses, in
// which case it returns types.ErrBackpressureTimeout after having delivered
// to every subscriber that had room. Under the Drop policy, full subscribers
// are skipped immediately and counted via cfg.OnDrop. Safe for concurrent
// callers.
func (s *Stream) Produce(ctx context.Context, env *types.EventEnvelope) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	targets := make([]*subscriberState, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		targets = append(targets, sub)
	}
	s.mu.RUnlock()

	timedOut := false
	for _, sub := range targets {
		sub.mu.Lock()
		paused := sub.paused
		sub.mu.Unlock()
		if paused {
			continue
		}
		if sub.typeTag != "" && (env.Payload == nil || env.Payload.TypeUrl != sub.typeTag) {
			continue
		}

		select {
		case sub.ch <- env:
			continue
		default:
		}

		if s.cfg.DropPolicy == Drop {
			if s.cfg.OnDrop != nil {
				s.cfg.OnDrop(s.id)
			}
			continue
		}

		timer := time.NewTimer(s.cfg.BackpressureTimeout)
		select {
		case sub.ch <- env:
			timer.Stop()
		case <-timer.C:
			timedOut = true
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	if timedOut {
		return types.ErrBackpressureTimeout
	}
	return nil
}

// ActiveSubscriberCount returns the number of subscribers currently
// registered, active or paused (terminated handles are removed entirely).
func (s *Stream) ActiveSubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Handle returns the current Subscription Handle for id, or nil if unknown.
func (s *Stream) Handle(subscriptionID string) *types.SubscriptionHandle {
	s.mu.RLock()
	state, ok := s.subscribers[subscriptionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	h := *state.handle
	return &h
}

// Close terminates all subscribers and releases the stream. Safe to call
// more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subscribers
	s.subscribers = make(map[string]*subscriberState)
	s.mu.Unlock()

	for _, state := range subs {
		state.mu.Lock()
		state.handle.State = types.SubscriptionTerminated
		state.mu.Unlock()
		close(state.stopCh)
	}
}
