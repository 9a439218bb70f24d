package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/anypb"
)

func TestDirectionNormalize(t *testing.T) {
	assert.Equal(t, DirectionDown, DirectionUnspecified.Normalize())
	assert.Equal(t, DirectionUp, DirectionUp.Normalize())
	assert.Equal(t, DirectionBoth, DirectionBoth.Normalize())
}

func TestEventEnvelopeCloneIsDeep(t *testing.T) {
	orig := &EventEnvelope{
		ID:          "e1",
		PublisherID: "a1",
		Publishers:  []string{"a1", "a2"},
		Payload:     &anypb.Any{TypeUrl: "nexus/Ping", Value: []byte("hello")},
	}
	clone := orig.Clone()
	require.True(t, orig.Equal(clone))

	clone.Publishers[0] = "mutated"
	clone.Payload.Value[0] = 'X'
	assert.Equal(t, "a1", orig.Publishers[0], "mutating the clone must not affect the original")
	assert.Equal(t, byte('h'), orig.Payload.Value[0], "payload bytes must be deep-copied")
}

func TestEventEnvelopeAppendPublisherDeduplicates(t *testing.T) {
	e := &EventEnvelope{Publishers: []string{"a1"}}
	e.AppendPublisher("a1")
	e.AppendPublisher("a2")
	assert.Equal(t, []string{"a1", "a2"}, e.Publishers)
	assert.True(t, e.HasPublisher("a1"))
	assert.False(t, e.HasPublisher("a3"))
}

func TestEventEnvelopeHopExceeded(t *testing.T) {
	unlimited := &EventEnvelope{MaxHopCount: 0, CurrentHopCount: 999}
	assert.False(t, unlimited.HopExceeded(), "max_hop_count=0 means unlimited")

	bounded := &EventEnvelope{MaxHopCount: 3, CurrentHopCount: 3}
	assert.True(t, bounded.HopExceeded())

	notYet := &EventEnvelope{MaxHopCount: 3, CurrentHopCount: 2}
	assert.False(t, notYet.HopExceeded())
}

func TestEventEnvelopeEqualStructural(t *testing.T) {
	a := &EventEnvelope{ID: "1", PublisherID: "p", Version: 1, Message: "left"}
	b := &EventEnvelope{ID: "1", PublisherID: "p", Version: 1, Message: "right"}
	assert.True(t, a.Equal(b), "equality is id+publisher_id+version only")

	c := &EventEnvelope{ID: "2", PublisherID: "p", Version: 1}
	assert.False(t, a.Equal(c))
}

func TestHierarchyNodeChildrenAreOrderedUnique(t *testing.T) {
	n := &HierarchyNode{ID: "parent"}
	n.AddChild("c1")
	n.AddChild("c2")
	n.AddChild("c1") // duplicate is a no-op
	assert.Equal(t, []string{"c1", "c2"}, n.ChildIDs)

	n.RemoveChild("absent") // no-op
	assert.Equal(t, []string{"c1", "c2"}, n.ChildIDs)

	n.RemoveChild("c1")
	assert.Equal(t, []string{"c2"}, n.ChildIDs)
}

func TestSubscriptionHandleIsHealthy(t *testing.T) {
	var nilHandle *SubscriptionHandle
	assert.False(t, nilHandle.IsHealthy())

	h := &SubscriptionHandle{State: SubscriptionPaused}
	assert.False(t, h.IsHealthy())

	h.State = SubscriptionActive
	assert.True(t, h.IsHealthy())
}

func TestStateLogEventRoundTripFields(t *testing.T) {
	ev := StateLogEvent{
		EventID:      "ev-1",
		AgentID:      "agent-1",
		Version:      1,
		EventTypeTag: "Deposited",
		Payload:      []byte(`{"amount":1000}`),
		Timestamp:    time.Now().UTC(),
		Metadata:     map[string]string{"source": "test"},
	}
	require.Equal(t, "Deposited", ev.EventTypeTag)
	require.Equal(t, 1, ev.Version)
}
