// Package actor implements the Actor Base (spec §4.7, component C7): the
// runtime wrapper that owns an agent's hierarchy (parent/children ids),
// its stream wiring, its mailbox, and its lifecycle. The same Actor type
// hosts an agent under any of the three runtime backends (pkg/runtime);
// only how its Stream and hierarchy lookups are wired differs per backend.
package actor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/nexus/pkg/dedup"
	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/metrics"
	"github.com/cuemby/nexus/pkg/stream"
	"github.com/cuemby/nexus/pkg/subscription"
	"github.com/cuemby/nexus/pkg/types"
	"github.com/rs/zerolog"
)

// ErrSelfParent is returned by SetParent when asked to make an agent its
// own parent, per §3's Hierarchy Node invariant and §8's SetParent(self)
// boundary behavior.
var ErrSelfParent = errors.New("nexus: an agent cannot be its own parent")

// Agent is the Agent Base contract (pkg/agent.Base[S, C] satisfies this for
// any S, C) as seen from the Actor that owns it.
type Agent interface {
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	HandleEvent(ctx context.Context, env *types.EventEnvelope)
	GetDescription() string
}

// Router is the minimal surface Actor needs to fan an outbound envelope
// out over the hierarchy. pkg/router.Router satisfies this directly.
type Router interface {
	Route(ctx context.Context, env *types.EventEnvelope, originID string, direction types.Direction) error
}

// StreamResolver looks up another actor's Stream by id, so this actor can
// subscribe to its parent's stream. The runtime Manager (pkg/runtime)
// implements this over its actor registry.
type StreamResolver interface {
	StreamFor(agentID string) (*stream.Stream, bool)
}

// Config controls the actor's own stream capacity and subscription retry
// policy.
type Config struct {
	Stream       stream.Config
	Subscription subscription.Config
	DedupTTL     int64 // nanoseconds; 0 uses dedup.DefaultTTL
	MailboxSize  int
}

// DefaultConfig returns the default stream and subscription configs and a
// mailbox of 64; DedupTTL stays 0, which selects dedup.DefaultTTL.
func DefaultConfig() Config {
	return Config{
		Stream:       stream.DefaultConfig(),
		Subscription: subscription.DefaultConfig(),
		MailboxSize:  64,
	}
}

// Actor wraps an Agent with hierarchy, stream wiring, and single-flight
// dispatch, per §4.7 and §5.
type Actor struct {
	id     string
	agent  Agent
	router Router
	cfg    Config
	logger zerolog.Logger

	own *stream.Stream

	mu       sync.RWMutex
	parentID string
	hasParent bool
	childIDs []string

	streams StreamResolver
	subMgr  *subscription.Manager
	ownSub  *types.SubscriptionHandle // this actor's subscription to its own stream
	parentSub *types.SubscriptionHandle

	dedup *dedup.Cache

	mailbox chan *types.EventEnvelope
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs an Actor for id, wrapping agent and fanning outbound
// publishes through router. streams resolves other actors' streams for
// parent subscription; the runtime Manager normally supplies it.
func New(id string, agent Agent, router Router, streams StreamResolver, cfg Config) *Actor {
	return &Actor{
		id:      id,
		agent:   agent,
		router:  router,
		cfg:     cfg,
		logger:  log.WithAgent(id),
		streams: streams,
		dedup:   dedup.New(time.Duration(cfg.DedupTTL)),
		mailbox: make(chan *types.EventEnvelope, maxInt(cfg.MailboxSize, 1)),
		stopCh:  make(chan struct{}),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ID returns the actor's (and its agent's) id.
func (a *Actor) ID() string { return a.id }

// Stream returns the actor's own Stream, established at Activate. Nil
// before Activate or after Deactivate.
func (a *Actor) Stream() *stream.Stream {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.own
}

// Activate establishes the actor's own stream, self-subscribes to it (so
// the agent can receive events published onto its own stream: DOWN
// self-echo when opted in, and UP bubbles forwarded by its children),
// starts the single-flight mailbox loop, and activates the wrapped agent.
func (a *Actor) Activate(ctx context.Context) error {
	a.mu.Lock()
	a.own = stream.New(a.id, a.cfg.Stream)
	a.mu.Unlock()

	selfSubMgr := subscription.New(a.own, a.cfg.Subscription)
	handle, err := selfSubMgr.Create(ctx, a.enqueue, "")
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.ownSub = handle
	a.mu.Unlock()

	a.wg.Add(1)
	go a.drainMailbox(ctx)

	if err := a.agent.Activate(ctx); err != nil {
		return err
	}
	metrics.ActiveActorsGauge.Inc()
	a.logger.Info().Str("operation", "activate").Msg("actor activated")
	return nil
}

// Deactivate releases every subscription this actor owns on every exit
// path, stops the mailbox, and deactivates the wrapped agent, per §5's
// resource-acquisition guarantee.
func (a *Actor) Deactivate(ctx context.Context) error {
	a.ClearParent()

	a.mu.Lock()
	own := a.own
	ownSub := a.ownSub
	a.own = nil
	a.ownSub = nil
	a.mu.Unlock()

	if own != nil && ownSub != nil {
		own.Unsubscribe(ownSub.SubscriptionID)
	}
	if own != nil {
		own.Close()
	}

	close(a.stopCh)
	a.wg.Wait()

	err := a.agent.Deactivate(ctx)
	metrics.ActiveActorsGauge.Dec()
	a.logger.Info().Str("operation", "deactivate").Msg("actor deactivated")
	return err
}

// SetParent records parentID as this actor's parent and subscribes to its
// stream, per §4.7. If a prior parent exists, it is unsubscribed first.
// SetParent(self) is rejected, per §3/§8.
func (a *Actor) SetParent(ctx context.Context, parentID string) error {
	if parentID == a.id {
		return ErrSelfParent
	}
	a.ClearParent()

	parentStream, ok := a.streams.StreamFor(parentID)
	if !ok {
		return types.ErrAgentNotFound
	}

	mgr := subscription.New(parentStream, a.cfg.Subscription)
	handle, err := mgr.Create(ctx, a.enqueue, "")
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.parentID = parentID
	a.hasParent = true
	a.subMgr = mgr
	a.parentSub = handle
	a.mu.Unlock()
	return nil
}

// ClearParent unsubscribes from the current parent's stream and forgets
// it, per §4.7. A no-op when there is no parent.
func (a *Actor) ClearParent() {
	a.mu.Lock()
	mgr := a.subMgr
	handle := a.parentSub
	a.subMgr = nil
	a.parentSub = nil
	a.hasParent = false
	a.parentID = ""
	a.mu.Unlock()

	if mgr != nil {
		mgr.Unsubscribe(handle)
	}
}

// GetParent returns the current parent id and whether one is set.
func (a *Actor) GetParent() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.parentID, a.hasParent
}

// AddChild appends childID to the ordered-unique child list; adding an
// already-present child is a no-op, per §3.
func (a *Actor) AddChild(childID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.childIDs {
		if c == childID {
			return
		}
	}
	a.childIDs = append(a.childIDs, childID)
}

// RemoveChild removes childID from the child list; removing an absent
// child is a no-op, per §3.
func (a *Actor) RemoveChild(childID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, c := range a.childIDs {
		if c == childID {
			a.childIDs = append(a.childIDs[:i], a.childIDs[i+1:]...)
			return
		}
	}
}

// GetChildren returns a copy of the current ordered-unique child list.
func (a *Actor) GetChildren() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.childIDs...)
}

// PublishEvent stamps the publisher chain with this actor's id and
// delegates to the Event Router, per §4.7.
func (a *Actor) PublishEvent(ctx context.Context, env *types.EventEnvelope, direction types.Direction) error {
	env.AppendPublisher(a.id)
	return a.router.Route(ctx, env, a.id, direction)
}

// HandleEvent is the stream-delivery entry point: deduplicate, then hand
// off to the wrapped agent's HandleEvent, per §4.7. Actual dispatch is
// serialized through the single-flight mailbox so a given actor never
// processes two envelopes concurrently, per §5.
func (a *Actor) HandleEvent(ctx context.Context, env *types.EventEnvelope) {
	a.enqueue(env)
}

// enqueue is the Handler passed to stream subscriptions; it satisfies
// stream.Handler's signature directly.
func (a *Actor) enqueue(env *types.EventEnvelope) error {
	select {
	case a.mailbox <- env:
	case <-a.stopCh:
	}
	return nil
}

func (a *Actor) drainMailbox(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case env := <-a.mailbox:
			if a.dedup.MarkIfSeen(env.ID) {
				continue
			}
			a.agent.HandleEvent(ctx, env)
		case <-a.stopCh:
			return
		}
	}
}
