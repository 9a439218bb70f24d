package cluster_test

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/cuemby/nexus/pkg/agent"
	"github.com/cuemby/nexus/pkg/runtime"
	"github.com/cuemby/nexus/pkg/runtime/cluster"
	"github.com/cuemby/nexus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct{ Value int }

type counterAgent struct {
	*agent.Base[counterState, struct{}]
}

func newCounterAgent(base *agent.Base[counterState, struct{}]) runtime.Agent {
	return &counterAgent{Base: base}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func newSingleVoterBackend(t *testing.T, nodeID string) *cluster.Backend {
	t.Helper()
	dir, err := os.MkdirTemp("", "cluster-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	raftAddr := freeAddr(t)
	grpcAddr := freeAddr(t)

	backend, err := cluster.New(cluster.NodeConfig{
		NodeID:    nodeID,
		BindAddr:  raftAddr,
		DataDir:   dir,
		Bootstrap: true,
	}, grpcAddr, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Shutdown() })

	require.Eventually(t, backend.IsLeader, 5*time.Second, 10*time.Millisecond, "node never became leader")
	return backend
}

func TestSingleNodeBecomesLeader(t *testing.T) {
	backend := newSingleVoterBackend(t, "node-1")
	assert.True(t, backend.IsLeader())
}

func TestSpawnAndDeliverLocal(t *testing.T) {
	backend := newSingleVoterBackend(t, "node-1")
	ctx := context.Background()

	_, _, err := cluster.Spawn[counterState, struct{}](ctx, backend, "agent-1", "counter", newCounterAgent, "", false)
	require.NoError(t, err)

	env := &types.EventEnvelope{
		ID:          "env-1",
		PublisherID: "agent-1",
		Direction:   types.DirectionUnspecified,
	}
	require.NoError(t, backend.Deliver(ctx, "agent-1", env))
}

func TestDeliverUnknownAgentWithoutResolverFails(t *testing.T) {
	backend := newSingleVoterBackend(t, "node-1")
	ctx := context.Background()

	env := &types.EventEnvelope{ID: "env-1", PublisherID: "ghost"}
	err := backend.Deliver(ctx, "ghost", env)
	assert.ErrorIs(t, err, types.ErrAgentNotFound)
}

func TestWireEnvelopeRoundTrip(t *testing.T) {
	env := &types.EventEnvelope{
		ID:              "env-1",
		PublisherID:     "agent-1",
		Publishers:      []string{"agent-1", "agent-2"},
		Direction:       types.DirectionUp,
		CurrentHopCount: 2,
		MaxHopCount:     5,
	}
	wire := cluster.ToWire(env)
	back := cluster.FromWire(wire)

	assert.Equal(t, env.ID, back.ID)
	assert.Equal(t, env.Publishers, back.Publishers)
	assert.Equal(t, env.Direction, back.Direction)
	assert.Equal(t, env.CurrentHopCount, back.CurrentHopCount)
}
