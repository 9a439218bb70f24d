// Package cluster is the clustered virtual-actor Runtime Backend (spec
// §6): agents are addressed by id cluster-wide rather than pinned to the
// process that created them; any node can accept a publish for any agent
// id, replicate the resulting Event Store writes through Raft
// (github.com/hashicorp/raft), and forward the envelope over gRPC to
// whichever node actually hosts that agent's Actor if it isn't this one.
package cluster

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/nexus/pkg/actor"
	"github.com/cuemby/nexus/pkg/agent"
	"github.com/cuemby/nexus/pkg/codec"
	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/registry"
	"github.com/cuemby/nexus/pkg/runtime"
	"github.com/cuemby/nexus/pkg/statestore"
	"github.com/cuemby/nexus/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// PeerResolver maps an agent id to the gRPC address of the node that hosts
// it, for every agent not hosted locally. The FSM replicates only Event
// Store writes and keeps no placement table; StaticPeers below is the
// resolver this package provides.
type PeerResolver interface {
	PeerFor(agentID string) (addr string, ok bool)
}

// StaticPeers is the simplest PeerResolver: a fixed agentID -> address map,
// sufficient for the seed scenarios and for a cluster bootstrapped with
// pre-assigned agent placement.
type StaticPeers map[string]string

// PeerFor implements PeerResolver.
func (p StaticPeers) PeerFor(agentID string) (string, bool) {
	addr, ok := p[agentID]
	return addr, ok
}

// Backend is the clustered virtual-actor Runtime Backend: a local
// runtime.Manager (hosting whichever agents this node actually runs),
// backed by the Raft-replicated EventStore, fronted by a gRPC server that
// accepts Deliver calls for agents this node hosts and a client pool that
// forwards to peers for agents it doesn't.
type Backend struct {
	*runtime.Manager
	Codec    *codec.Registry
	Registry *registry.Registry

	node   *Node
	peers  PeerResolver
	server *grpc.Server
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[string]*TransportClient
}

// New constructs a Backend over a freshly started cluster Node and starts
// its gRPC listener on grpcAddr. peers resolves agent ids this node
// doesn't host to the node that does; pass nil until the caller knows the
// cluster's placement (Deliver simply fails AGENT_NOT_FOUND for an
// unresolvable id, per §7).
func New(nodeCfg NodeConfig, grpcAddr string, peers PeerResolver) (*Backend, error) {
	node, err := NewNode(nodeCfg)
	if err != nil {
		return nil, err
	}
	store := NewEventStore(node)

	b := &Backend{
		Manager:  runtime.New(store, actor.DefaultConfig()),
		Codec:    codec.New(),
		Registry: registry.New(),
		node:     node,
		peers:    peers,
		logger:   log.WithComponent("cluster"),
		clients:  make(map[string]*TransportClient),
	}

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		_ = node.Shutdown()
		return nil, fmt.Errorf("cluster: listen %s: %w", grpcAddr, err)
	}
	b.server = grpc.NewServer()
	RegisterTransportServer(b.server, NewTransportServer(b))
	go func() {
		if err := b.server.Serve(lis); err != nil {
			b.logger.Warn().Err(err).Msg("transport server stopped")
		}
	}()

	return b, nil
}

// IsLeader reports whether this node currently holds Raft leadership over
// the Event Store's replication group.
func (b *Backend) IsLeader() bool { return b.node.IsLeader() }

// AddVoter adds a peer node as a voting cluster member; must be called
// against the current leader.
func (b *Backend) AddVoter(nodeID, raftAddr string) error {
	return b.node.AddVoter(nodeID, raftAddr)
}

// Shutdown stops the gRPC server, closes peer connections, and shuts down
// the underlying Raft node and Event Store.
func (b *Backend) Shutdown() error {
	b.server.GracefulStop()
	b.mu.Lock()
	for _, c := range b.clients {
		_ = c.Close()
	}
	b.mu.Unlock()
	return b.node.Shutdown()
}

// DeliverLocal implements Dispatcher for envelopes arriving over gRPC
// addressed to an agent this node hosts: it looks the actor up in the
// Manager's registry and hands the envelope to it exactly as a local
// in-process stream delivery would, per §6's Runtime Backend contract
// ("glue to route an envelope addressed to a known agent_id onto that
// actor's mailbox").
func (b *Backend) DeliverLocal(ctx context.Context, agentID string, env *types.EventEnvelope) error {
	a, ok := b.Manager.GetActor(agentID)
	if !ok {
		return types.ErrAgentNotFound
	}
	a.HandleEvent(ctx, env)
	return nil
}

// Deliver routes env to agentID: locally if this node hosts that actor,
// otherwise over gRPC to whichever peer does, resolved via the configured
// PeerResolver. Returns types.ErrAgentNotFound if neither this node nor the
// resolver knows where agentID lives, per §7's AGENT_NOT_FOUND boundary
// behavior (a lookup miss, not an error condition worth surfacing loudly).
func (b *Backend) Deliver(ctx context.Context, agentID string, env *types.EventEnvelope) error {
	if _, ok := b.Manager.GetActor(agentID); ok {
		return b.DeliverLocal(ctx, agentID, env)
	}
	if b.peers == nil {
		return types.ErrAgentNotFound
	}
	addr, ok := b.peers.PeerFor(agentID)
	if !ok {
		return types.ErrAgentNotFound
	}
	client, err := b.clientFor(addr)
	if err != nil {
		return err
	}
	resp, err := client.Deliver(ctx, agentID, env)
	if err != nil {
		return fmt.Errorf("cluster: deliver to %s: %w", addr, err)
	}
	if !resp.Accepted {
		return fmt.Errorf("cluster: peer rejected delivery: %s", resp.Error)
	}
	return nil
}

func (b *Backend) clientFor(addr string) (*TransportClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[addr]; ok {
		return c, nil
	}
	c, err := DialTransport(addr)
	if err != nil {
		return nil, err
	}
	b.clients[addr] = c
	return c, nil
}

// Spawn constructs a fresh Base[S, C] backed by in-memory State/Config
// Stores and registers it locally on this node. Cluster placement (which
// node an agent id is spawned on) is a caller decision; Spawn only wires
// the local Manager, consistently with inprocess.Spawn/localactor.Spawn.
func Spawn[S, C any](ctx context.Context, b *Backend, id, agentType string, newSelf func(base *agent.Base[S, C]) runtime.Agent, parentID string, hasParent bool) (*agent.Base[S, C], *actor.Actor, error) {
	deps := agent.Deps[S, C]{
		Codec:       b.Codec,
		Registry:    b.Registry,
		StateStore:  statestore.NewInMemoryStateStore[S](),
		ConfigStore: statestore.NewInMemoryConfigStore[C](),
	}
	return runtime.CreateAndRegister(ctx, b.Manager, id, agentType, deps, newSelf, parentID, hasParent, nil)
}
