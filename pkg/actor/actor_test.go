package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/nexus/pkg/stream"
	"github.com/cuemby/nexus/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent is a minimal Agent double recording invocations.
type fakeAgent struct {
	mu          sync.Mutex
	activated   bool
	deactivated bool
	handled     []*types.EventEnvelope
	activateErr error
}

func (f *fakeAgent) Activate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		return f.activateErr
	}
	f.activated = true
	return nil
}

func (f *fakeAgent) Deactivate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = true
	return nil
}

func (f *fakeAgent) HandleEvent(ctx context.Context, env *types.EventEnvelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, env)
}

func (f *fakeAgent) GetDescription() string { return "fake" }

func (f *fakeAgent) handledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handled)
}

// fakeRouter records Route calls without touching pkg/router.
type fakeRouter struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeRouter) Route(ctx context.Context, env *types.EventEnvelope, originID string, direction types.Direction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, originID)
	return nil
}

// registryResolver is a trivial StreamResolver backed by a map, standing in
// for the runtime Manager's actor registry.
type registryResolver struct {
	mu      sync.Mutex
	streams map[string]*stream.Stream
}

func newRegistryResolver() *registryResolver {
	return &registryResolver{streams: make(map[string]*stream.Stream)}
}

func (r *registryResolver) StreamFor(agentID string) (*stream.Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[agentID]
	return s, ok
}

func (r *registryResolver) register(id string, s *stream.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[id] = s
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Subscription.MaxAttempts = 1
	return cfg
}

func TestActorActivateDeactivate(t *testing.T) {
	agent := &fakeAgent{}
	router := &fakeRouter{}
	resolver := newRegistryResolver()
	a := New("a1", agent, router, resolver, testConfig())

	require.NoError(t, a.Activate(context.Background()))
	assert.True(t, agent.activated)
	require.NotNil(t, a.Stream())

	require.NoError(t, a.Deactivate(context.Background()))
	assert.True(t, agent.deactivated)
	assert.Nil(t, a.Stream())
}

func TestActorPublishEventStampsAndRoutes(t *testing.T) {
	agent := &fakeAgent{}
	router := &fakeRouter{}
	resolver := newRegistryResolver()
	a := New("a1", agent, router, resolver, testConfig())

	env := &types.EventEnvelope{ID: uuid.NewString(), PublisherID: "a1"}
	require.NoError(t, a.PublishEvent(context.Background(), env, types.DirectionDown))

	assert.True(t, env.HasPublisher("a1"))
	router.mu.Lock()
	assert.Equal(t, []string{"a1"}, router.calls)
	router.mu.Unlock()
}

func TestActorHierarchy(t *testing.T) {
	agent := &fakeAgent{}
	router := &fakeRouter{}
	resolver := newRegistryResolver()
	a := New("child", agent, router, resolver, testConfig())

	_, ok := a.GetParent()
	assert.False(t, ok)

	err := a.SetParent(context.Background(), "child")
	assert.ErrorIs(t, err, ErrSelfParent)

	err = a.SetParent(context.Background(), "missing-parent")
	assert.Error(t, err)

	parentStream := stream.New("parent", stream.DefaultConfig())
	resolver.register("parent", parentStream)
	require.NoError(t, a.SetParent(context.Background(), "parent"))
	id, ok := a.GetParent()
	assert.True(t, ok)
	assert.Equal(t, "parent", id)

	a.ClearParent()
	_, ok = a.GetParent()
	assert.False(t, ok)

	a.AddChild("c1")
	a.AddChild("c1")
	a.AddChild("c2")
	assert.Equal(t, []string{"c1", "c2"}, a.GetChildren())

	a.RemoveChild("c1")
	assert.Equal(t, []string{"c2"}, a.GetChildren())
}

func TestActorDeliversOwnStreamEvents(t *testing.T) {
	agent := &fakeAgent{}
	router := &fakeRouter{}
	resolver := newRegistryResolver()
	a := New("a1", agent, router, resolver, testConfig())
	require.NoError(t, a.Activate(context.Background()))
	defer a.Deactivate(context.Background())

	resolver.register("a1", a.Stream())

	env := &types.EventEnvelope{ID: uuid.NewString(), PublisherID: "other"}
	env.AppendPublisher("a1")
	require.NoError(t, a.Stream().Produce(context.Background(), env))

	require.Eventually(t, func() bool {
		return agent.handledCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestActorDeduplicatesRepeatedEnvelopeID(t *testing.T) {
	agent := &fakeAgent{}
	router := &fakeRouter{}
	resolver := newRegistryResolver()
	a := New("a1", agent, router, resolver, testConfig())
	require.NoError(t, a.Activate(context.Background()))
	defer a.Deactivate(context.Background())

	env := &types.EventEnvelope{ID: uuid.NewString(), PublisherID: "other"}
	require.NoError(t, a.Stream().Produce(context.Background(), env))
	require.NoError(t, a.Stream().Produce(context.Background(), env))

	require.Eventually(t, func() bool {
		return agent.handledCount() >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, agent.handledCount())
}
