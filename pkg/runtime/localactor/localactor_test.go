package localactor_test

import (
	"context"
	"os"
	"testing"

	"github.com/cuemby/nexus/pkg/agent"
	"github.com/cuemby/nexus/pkg/runtime"
	"github.com/cuemby/nexus/pkg/runtime/localactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct{ Value int }

type counter struct {
	*agent.Base[counterState, struct{}]
}

func newCounter(base *agent.Base[counterState, struct{}]) runtime.Agent {
	return &counter{Base: base}
}

func newTestBackend(t *testing.T) *localactor.Backend {
	t.Helper()
	dir, err := os.MkdirTemp("", "localactor-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	cfg := localactor.DefaultConfig(dir)
	backend, err := localactor.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestSpawnAndDespawn(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	base, a, err := localactor.Spawn[counterState, struct{}](ctx, backend, "root", "counter", newCounter, "", false)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "root", base.ID)

	require.NoError(t, backend.Despawn(ctx, "root"))
	assert.Equal(t, 0, backend.ActiveCount())
}

func TestSpawnExposesEventStoreWithEmptyLog(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	_, _, err := localactor.Spawn[counterState, struct{}](ctx, backend, "durable", "counter", newCounter, "", false)
	require.NoError(t, err)

	require.NotNil(t, backend.EventStore())
	version, err := backend.EventStore().GetLatestVersion("durable")
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestDefaultConfigFillsPoolSize(t *testing.T) {
	cfg := localactor.DefaultConfig("./some-dir")
	assert.Equal(t, "./some-dir", cfg.DataDir)
	assert.Greater(t, cfg.PoolSize, 0)
}
