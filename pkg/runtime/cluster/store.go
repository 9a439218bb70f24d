package cluster

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/nexus/pkg/eventstore"
	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// NodeConfig mirrors Warren's pkg/manager.Config shape (NodeID/BindAddr/
// DataDir), generalized with the bootstrap flag a virtual-actor cluster
// needs to distinguish "found the cluster" from "join an existing one".
type NodeConfig struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool
}

// Node owns one cluster member's Raft instance and the durable Event Store
// its FSM replicates into. This is the clustered virtual-actor Runtime
// Backend's per-process unit: exactly one Node per host, each able to
// route an AppendEvents/SaveSnapshot call for any agent id through Raft
// consensus regardless of which node originally owned that agent, which is
// the "virtual actor" property — an agent's identity is never pinned to
// the process that created it.
type Node struct {
	cfg   NodeConfig
	raft  *raft.Raft
	fsm   *FSM
	store *eventstore.Store
}

// NewNode opens the node's durable Event Store, builds its Raft instance
// over a TCP transport and BoltDB log/stable stores, and — if
// cfg.Bootstrap — bootstraps a brand-new single-voter cluster, grounded
// directly on Warren's Manager.Bootstrap. Joining an existing cluster is a
// separate step (Node.AddVoter, run on the current leader), matching
// Warren's own bootstrap/join split.
func NewNode(cfg NodeConfig) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cluster: create data dir: %w", err)
	}

	store, err := eventstore.NewStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("cluster: open event store: %w", err)
	}
	fsm := NewFSM(store)

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	// Tuned for LAN/edge deployment rather than Raft's WAN-conservative
	// defaults, matching Warren's own Bootstrap tuning rationale.
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 500 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("cluster: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: create transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cluster: create snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("cluster: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("cluster: create stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("cluster: create raft: %w", err)
	}

	n := &Node{cfg: cfg, raft: r, fsm: fsm, store: store}

	if cfg.Bootstrap {
		bootstrapCfg := raft.Configuration{
			Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
		}
		if err := r.BootstrapCluster(bootstrapCfg).Error(); err != nil {
			return nil, fmt.Errorf("cluster: bootstrap: %w", err)
		}
	}

	log.WithComponent("cluster").Info().Str("node_id", cfg.NodeID).Bool("bootstrap", cfg.Bootstrap).Msg("cluster node started")
	return n, nil
}

// AddVoter adds nodeID at address as a voting member, run from the current
// leader, mirroring Warren's Manager.AddVoter.
func (n *Node) AddVoter(nodeID, address string) error {
	return n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// IsLeader reports whether this node currently holds Raft leadership.
func (n *Node) IsLeader() bool { return n.raft.State() == raft.Leader }

// LeaderAddr returns the current leader's transport address, if known.
func (n *Node) LeaderAddr() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// Shutdown stops Raft and closes the underlying Event Store file.
func (n *Node) Shutdown() error {
	if err := n.raft.Shutdown().Error(); err != nil {
		return err
	}
	return n.store.Close()
}

// propose marshals cmd and proposes it through Raft, per the standard
// hashicorp/raft replicated-state-machine pattern: AppendEvents/
// SaveSnapshot are never applied locally — only FSM.Apply, invoked once the
// entry commits on a quorum, is allowed to touch n.store.
func (n *Node) propose(cmd Command) (applyResult, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return applyResult{}, fmt.Errorf("cluster: marshal command: %w", err)
	}
	future := n.raft.Apply(data, 10*time.Second)
	if err := future.Error(); err != nil {
		return applyResult{}, fmt.Errorf("cluster: raft apply: %w", err)
	}
	result, ok := future.Response().(applyResult)
	if !ok {
		return applyResult{}, fmt.Errorf("cluster: unexpected FSM response type %T", future.Response())
	}
	return result, nil
}

// EventStore adapts a Node to the eventstore.EventStore interface, so
// pkg/sourcing and pkg/runtime.Manager can use a cluster Node exactly like
// the in-memory or BoltDB-only references — replicated writes, direct
// local reads (reads never need to go through Raft; they're served
// straight from this node's own copy of the store, which Raft keeps
// convergent with the leader).
type EventStore struct {
	node *Node
}

// NewEventStore wraps node as an eventstore.EventStore.
func NewEventStore(node *Node) *EventStore { return &EventStore{node: node} }

// AppendEvents implements eventstore.EventStore by proposing an
// opAppendEvents command through Raft and waiting for it to commit.
func (s *EventStore) AppendEvents(agentID string, events []types.StateLogEvent, expectedVersion int) (int, error) {
	data, err := json.Marshal(appendEventsPayload{Events: events, ExpectedVersion: expectedVersion})
	if err != nil {
		return 0, err
	}
	result, err := s.node.propose(Command{Op: opAppendEvents, AgentID: agentID, Data: data})
	if err != nil {
		return 0, err
	}
	return result.newVersion, result.err
}

// GetEvents implements eventstore.EventStore by reading this node's own
// (Raft-converged) copy of the store directly.
func (s *EventStore) GetEvents(agentID string, fromVersion, toVersion, maxCount int) ([]types.StateLogEvent, error) {
	return s.node.store.GetEvents(agentID, fromVersion, toVersion, maxCount)
}

// GetLatestVersion implements eventstore.EventStore.
func (s *EventStore) GetLatestVersion(agentID string) (int, error) {
	return s.node.store.GetLatestVersion(agentID)
}

// SaveSnapshot implements eventstore.EventStore by proposing an
// opSaveSnapshot command through Raft.
func (s *EventStore) SaveSnapshot(agentID string, version int, stateBytes []byte) error {
	data, err := json.Marshal(saveSnapshotPayload{Version: version, StateBytes: stateBytes})
	if err != nil {
		return err
	}
	result, err := s.node.propose(Command{Op: opSaveSnapshot, AgentID: agentID, Data: data})
	if err != nil {
		return err
	}
	return result.err
}

// GetLatestSnapshot implements eventstore.EventStore.
func (s *EventStore) GetLatestSnapshot(agentID string) (*types.Snapshot, error) {
	return s.node.store.GetLatestSnapshot(agentID)
}

var _ eventstore.EventStore = (*EventStore)(nil)
