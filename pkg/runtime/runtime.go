// Package runtime implements the Runtime Factory & Manager (spec §4.10,
// component C10): the single place that constructs Actors, tracks the
// hierarchy they belong to, and wires them all into one shared Event
// Router. Three backends build on this shared Manager — pkg/runtime/
// inprocess (direct in-process wiring, the default), pkg/runtime/localactor
// (single-process, still goroutine-per-actor but fronted by a bounded
// worker pool), and pkg/runtime/cluster (Raft-replicated virtual actors) —
// each differing only in how actors get created and how far their Event
// Store reaches, not in how routing or hierarchy tracking works.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/nexus/pkg/actor"
	"github.com/cuemby/nexus/pkg/agent"
	"github.com/cuemby/nexus/pkg/eventstore"
	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/metrics"
	"github.com/cuemby/nexus/pkg/router"
	"github.com/cuemby/nexus/pkg/stream"
	"github.com/cuemby/nexus/pkg/types"
	"github.com/rs/zerolog"
)

// Agent is the contract a concrete agent type must satisfy to be hosted by
// the runtime. Any type embedding *agent.Base[S, C] satisfies it by method
// promotion, for any S, C, per §4.6/§4.7.
type Agent = actor.Agent

// publisherBinder lets CreateActor wire the freshly built Actor back onto
// the agent as its Publisher without the Manager itself needing the
// agent's S, C type parameters. *agent.Base[S, C] implements this for any
// S, C.
type publisherBinder interface {
	BindPublisher(p agent.Publisher)
}

// Manager is the Runtime Factory & Manager. It owns the actor registry for
// one process, the shared Event Router built over that registry as both
// Hierarchy and StreamProvider, and (optionally) a shared Event Store,
// returned by EventStore(). CreateActor and CreateAndRegister do not attach
// that store to the agents they create or wrap them with pkg/sourcing.
type Manager struct {
	mu       sync.RWMutex
	actors   map[string]*actor.Actor
	router   *router.Router
	store    eventstore.EventStore
	actorCfg actor.Config
	logger   zerolog.Logger
}

// New constructs a Manager. store may be nil for a deployment that never
// event-sources any agent.
func New(store eventstore.EventStore, actorCfg actor.Config) *Manager {
	m := &Manager{
		actors:   make(map[string]*actor.Actor),
		store:    store,
		actorCfg: actorCfg,
		logger:   log.WithComponent("runtime"),
	}
	m.router = router.New(m, streamProvider{m})
	m.router.OnDrop = func(reason router.DropReason, agentID string) {
		metrics.EventsDroppedTotal.WithLabelValues(string(reason)).Inc()
	}
	metrics.RegisterComponent("runtime", true, "manager initialized")
	metrics.RegisterComponent("actor_registry", true, "registry empty")
	return m
}

// EventStore returns the Manager's shared Event Store, or nil if this
// deployment runs without one. Event-sourced agent constructors should pull
// their store from here instead of opening a private one, so a single
// Manager backs every event-sourced agent type it hosts with the same log.
func (m *Manager) EventStore() eventstore.EventStore { return m.store }

// Router returns the shared Event Router.
func (m *Manager) Router() *router.Router { return m.router }

// ParentOf implements router.Hierarchy over the live actor registry.
func (m *Manager) ParentOf(agentID string) (string, bool) {
	a, ok := m.GetActor(agentID)
	if !ok {
		return "", false
	}
	return a.GetParent()
}

// ChildrenOf implements router.Hierarchy over the live actor registry.
func (m *Manager) ChildrenOf(agentID string) []string {
	a, ok := m.GetActor(agentID)
	if !ok {
		return nil
	}
	return a.GetChildren()
}

// StreamFor implements actor.StreamResolver, resolving another hosted
// actor's own Stream so a newly parented actor can subscribe to it.
func (m *Manager) StreamFor(agentID string) (*stream.Stream, bool) {
	a, ok := m.GetActor(agentID)
	if !ok {
		return nil, false
	}
	s := a.Stream()
	return s, s != nil
}

// streamProvider adapts Manager to router.StreamProvider. router.Producer
// and *stream.Stream are different return types for the same method name,
// so the same method on Manager can't satisfy both actor.StreamResolver and
// router.StreamProvider; this thin wrapper carries the narrower one.
type streamProvider struct{ m *Manager }

func (p streamProvider) StreamFor(agentID string) (router.Producer, bool) {
	s, ok := p.m.StreamFor(agentID)
	if !ok {
		return nil, false
	}
	return s, true
}

// ActiveCount implements metrics.ActorSource.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.actors)
}

// GetActor returns the hosted actor for id, if any.
func (m *Manager) GetActor(id string) (*actor.Actor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[id]
	return a, ok
}

// CreateActor wraps ag in a new Actor registered as id, activates it, binds
// it back onto ag as its Publisher, and — if hasParent — parents it under
// parentID, registering it as that parent's child. cfg overrides the
// Manager's default actor.Config for this actor alone; pass nil to use the
// default. On any failure after activation, the actor is deactivated again
// before the error is returned, so a half-wired actor never lingers in the
// registry.
func (m *Manager) CreateActor(ctx context.Context, id string, ag Agent, parentID string, hasParent bool, cfg *actor.Config) (*actor.Actor, error) {
	m.mu.Lock()
	if _, exists := m.actors[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("runtime: actor %q already exists", id)
	}
	m.mu.Unlock()

	actorCfg := m.actorCfg
	if cfg != nil {
		actorCfg = *cfg
	}
	if actorCfg.Stream.OnDrop == nil {
		actorCfg.Stream.OnDrop = func(streamID string) {
			metrics.StreamDroppedTotal.WithLabelValues(streamID).Inc()
		}
	}

	a := actor.New(id, ag, m.router, m, actorCfg)

	if binder, ok := ag.(publisherBinder); ok {
		binder.BindPublisher(a)
	}

	if err := a.Activate(ctx); err != nil {
		metrics.UpdateComponent("actor_registry", false, fmt.Sprintf("activate %q: %v", id, err))
		return nil, fmt.Errorf("runtime: activate actor %q: %w", id, err)
	}

	if hasParent {
		if err := a.SetParent(ctx, parentID); err != nil {
			_ = a.Deactivate(ctx)
			metrics.UpdateComponent("actor_registry", false, fmt.Sprintf("set parent for %q: %v", id, err))
			return nil, fmt.Errorf("runtime: set parent for actor %q: %w", id, err)
		}
	}

	m.mu.Lock()
	m.actors[id] = a
	parent, parentOk := m.actors[parentID]
	count := len(m.actors)
	m.mu.Unlock()

	if hasParent && parentOk {
		parent.AddChild(id)
	}

	metrics.UpdateComponent("actor_registry", true, fmt.Sprintf("%d actors hosted", count))
	m.logger.Info().Str("agent_id", id).Str("operation", "create_actor").Msg("actor created")
	return a, nil
}

// DespawnActor deactivates and unregisters id, per §4.10. Its children are
// orphaned (their ClearParent is called, matching the §8 boundary behavior
// for a vanished parent) rather than recursively despawned: cascading
// despawn is an explicit choice left to the caller.
func (m *Manager) DespawnActor(ctx context.Context, id string) error {
	m.mu.Lock()
	a, ok := m.actors[id]
	if !ok {
		m.mu.Unlock()
		return types.ErrAgentNotFound
	}
	delete(m.actors, id)
	parentID, hasParent := a.GetParent()
	children := a.GetChildren()
	var parent *actor.Actor
	if hasParent {
		parent = m.actors[parentID]
	}
	count := len(m.actors)
	m.mu.Unlock()

	if parent != nil {
		parent.RemoveChild(id)
	}
	for _, childID := range children {
		if child, ok := m.GetActor(childID); ok {
			child.ClearParent()
		}
	}

	metrics.UpdateComponent("actor_registry", true, fmt.Sprintf("%d actors hosted", count))
	m.logger.Info().Str("agent_id", id).Str("operation", "despawn_actor").Msg("actor despawned")
	return a.Deactivate(ctx)
}

// CreateAndRegister is the generic convenience form of CreateActor: it
// constructs a Base[S, C] for id via agent.New, hands it to newSelf to be
// embedded into the caller's concrete agent type, then registers and
// activates the result exactly as CreateActor does. newSelf is expected to
// return a value embedding the base it was given (e.g.
// &Counter{Base: base}) so handler discovery, state protection, and
// publishing all operate on the same instance this function wires up.
func CreateAndRegister[S, C any](ctx context.Context, m *Manager, id, agentType string, deps agent.Deps[S, C], newSelf func(base *agent.Base[S, C]) Agent, parentID string, hasParent bool, cfg *actor.Config) (*agent.Base[S, C], *actor.Actor, error) {
	base := agent.New[S, C](nil, id, agentType, deps)
	self := newSelf(base)
	base.BindSelf(self)

	a, err := m.CreateActor(ctx, id, self, parentID, hasParent, cfg)
	if err != nil {
		return nil, nil, err
	}
	return base, a, nil
}
