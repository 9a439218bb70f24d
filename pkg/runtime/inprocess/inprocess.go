// Package inprocess is the default Runtime Backend (spec §6): every agent
// lives in the same process, with in-memory stores and no network hop
// between an actor and the router that addresses it. This is the backend
// most unit tests and the seed scenarios in spec §8 run against, since it
// needs nothing beyond the core packages already exercised by
// pkg/runtime.Manager.
//
// The Agent and Actor layers never know which backend hosts them; this
// package only decides what pkg/runtime.Manager is wired to — an in-memory
// Event Store when New is given sourced=true, and in-memory State/Config
// Stores — matching the "direct
// in-process wiring" framing in pkg/runtime's own doc comment.
package inprocess

import (
	"context"

	"github.com/cuemby/nexus/pkg/actor"
	"github.com/cuemby/nexus/pkg/agent"
	"github.com/cuemby/nexus/pkg/codec"
	"github.com/cuemby/nexus/pkg/eventstore"
	"github.com/cuemby/nexus/pkg/registry"
	"github.com/cuemby/nexus/pkg/runtime"
	"github.com/cuemby/nexus/pkg/statestore"
)

// Backend is the in-process Runtime Backend: a *runtime.Manager (holding an
// in-memory Event Store when sourced), plus the process-wide Codec/Handler Registry
// singletons every agent type hosted here shares, per §4.5/§6.
type Backend struct {
	*runtime.Manager
	Codec    *codec.Registry
	Registry *registry.Registry
}

// New constructs an in-process Backend. sourced selects whether the Manager
// holds an in-memory Event Store, returned by EventStore(); false gives a
// Manager with no Event Store at all. In both cases Spawn does not wrap
// hosted agents with pkg/sourcing, so they run in plain (non-event-sourced)
// mode.
func New(sourced bool) *Backend {
	var store eventstore.EventStore
	if sourced {
		store = eventstore.NewMemory()
	}
	return &Backend{
		Manager:  runtime.New(store, actor.DefaultConfig()),
		Codec:    codec.New(),
		Registry: registry.New(),
	}
}

// Spawn builds Deps for a fresh Base[S, C] backed by in-memory State/Config
// Stores private to this call, registers it with the Manager, and returns
// the Base alongside the hosted Actor. This is the convenience path the
// seed scenarios use to stand up a small hierarchy without hand-wiring
// statestore.InMemory* instances for every agent.
func Spawn[S, C any](ctx context.Context, b *Backend, id, agentType string, newSelf func(base *agent.Base[S, C]) runtime.Agent, parentID string, hasParent bool) (*agent.Base[S, C], *actor.Actor, error) {
	deps := agent.Deps[S, C]{
		Codec:       b.Codec,
		Registry:    b.Registry,
		StateStore:  statestore.NewInMemoryStateStore[S](),
		ConfigStore: statestore.NewInMemoryConfigStore[C](),
	}
	return runtime.CreateAndRegister(ctx, b.Manager, id, agentType, deps, newSelf, parentID, hasParent, nil)
}
