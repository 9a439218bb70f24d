// Package localactor is the "lightweight local-actor runtime" Runtime
// Backend (spec §6): a single process hosting many agents, each still
// getting its own goroutine-per-actor mailbox (pkg/actor already provides
// that), but fronted by a bounded worker pool for the spawn/despawn path
// and backed by a durable, BoltDB-resident Event Store so the process can
// restart without losing replay history — the one axis where this backend
// genuinely differs from pkg/runtime/inprocess.
package localactor

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/nexus/pkg/actor"
	"github.com/cuemby/nexus/pkg/agent"
	"github.com/cuemby/nexus/pkg/codec"
	"github.com/cuemby/nexus/pkg/eventstore"
	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/registry"
	"github.com/cuemby/nexus/pkg/runtime"
	"github.com/cuemby/nexus/pkg/statestore"
	"github.com/rs/zerolog"
)

// Config controls the backend's worker pool width and data directory.
type Config struct {
	DataDir        string
	PoolSize       int
	HealthInterval time.Duration // carried in the config; nothing in this package reads it
}

// DefaultConfig returns an 8-worker pool and a HealthInterval of 30s. No
// subscription health sweep runs in this package, whatever HealthInterval
// holds.
func DefaultConfig(dataDir string) Config {
	return Config{DataDir: dataDir, PoolSize: 8, HealthInterval: 30 * time.Second}
}

// Backend is the local-actor Runtime Backend.
type Backend struct {
	*runtime.Manager
	Codec    *codec.Registry
	Registry *registry.Registry
	Store    *eventstore.Store

	pool   *pool
	logger zerolog.Logger
}

// New opens a BoltDB-backed Event Store under cfg.DataDir and constructs
// the Manager over it; EventStore() returns that store. Spawn does not wrap
// hosted agents with pkg/sourcing, so this Backend does not make them
// event-sourced.
func New(cfg Config) (*Backend, error) {
	store, err := eventstore.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("localactor: open event store: %w", err)
	}
	b := &Backend{
		Manager:  runtime.New(store, actor.DefaultConfig()),
		Codec:    codec.New(),
		Registry: registry.New(),
		Store:    store,
		pool:     newPool(cfg.PoolSize),
		logger:   log.WithComponent("localactor"),
	}
	return b, nil
}

// Close releases the underlying BoltDB file. Callers should Deactivate
// every hosted actor first.
func (b *Backend) Close() error { return b.Store.Close() }

// Spawn constructs a fresh Base[S, C] backed by in-memory State/Config
// Stores (state for an event-sourced agent lives in the Event Store, not
// these — see pkg/sourcing) and registers it through the bounded pool.
func Spawn[S, C any](ctx context.Context, b *Backend, id, agentType string, newSelf func(base *agent.Base[S, C]) runtime.Agent, parentID string, hasParent bool) (*agent.Base[S, C], *actor.Actor, error) {
	deps := agent.Deps[S, C]{
		Codec:       b.Codec,
		Registry:    b.Registry,
		StateStore:  statestore.NewInMemoryStateStore[S](),
		ConfigStore: statestore.NewInMemoryConfigStore[C](),
	}
	var (
		base *agent.Base[S, C]
		a    *actor.Actor
	)
	err := b.pool.run(func() error {
		var err error
		base, a, err = runtime.CreateAndRegister(ctx, b.Manager, id, agentType, deps, newSelf, parentID, hasParent, nil)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return base, a, nil
}

// Despawn tears an actor down through the same bounded pool Spawn uses.
func (b *Backend) Despawn(ctx context.Context, id string) error {
	return b.pool.run(func() error {
		return b.Manager.DespawnActor(ctx, id)
	})
}
