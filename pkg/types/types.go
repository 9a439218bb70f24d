package types

import (
	"time"

	"google.golang.org/protobuf/types/known/anypb"
)

// Direction controls how a publish fans out along the agent hierarchy.
type Direction string

const (
	// DirectionUnspecified is treated as DirectionDown.
	DirectionUnspecified Direction = ""
	// DirectionDown delivers to the publisher's own stream (children subscribe there).
	DirectionDown Direction = "down"
	// DirectionUp delivers to the parent's stream (parent and siblings subscribe there).
	DirectionUp Direction = "up"
	// DirectionBoth performs DirectionDown followed by DirectionUp.
	DirectionBoth Direction = "both"
)

// Normalize maps DirectionUnspecified to DirectionDown, leaving other values untouched.
func (d Direction) Normalize() Direction {
	if d == DirectionUnspecified {
		return DirectionDown
	}
	return d
}

// EventEnvelope is the serializable carrier that wraps every published event
// with routing metadata. See spec §3/§4.1.
type EventEnvelope struct {
	ID                  string
	PublisherID         string
	Publishers          []string
	CorrelationID       string
	Timestamp           time.Time
	Version             int
	Payload             *anypb.Any
	Direction           Direction
	ShouldStopPropagate bool
	MaxHopCount         int
	CurrentHopCount     int
	MinHopCount         int
	Message             string
}

// Clone duplicates all scalars and deep-copies the publisher chain, per §4.1.
func (e *EventEnvelope) Clone() *EventEnvelope {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Publishers = append([]string(nil), e.Publishers...)
	if e.Payload != nil {
		clone.Payload = &anypb.Any{
			TypeUrl: e.Payload.TypeUrl,
			Value:   append([]byte(nil), e.Payload.Value...),
		}
	}
	return &clone
}

// Equal implements the structural equality sufficient for deduplication
// tests: id + publisher_id + version, per §4.1.
func (e *EventEnvelope) Equal(other *EventEnvelope) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.ID == other.ID && e.PublisherID == other.PublisherID && e.Version == other.Version
}

// AppendPublisher appends id to the publisher chain, ensuring no duplicates.
func (e *EventEnvelope) AppendPublisher(id string) {
	for _, p := range e.Publishers {
		if p == id {
			return
		}
	}
	e.Publishers = append(e.Publishers, id)
}

// HasPublisher reports whether id already forwarded this envelope.
func (e *EventEnvelope) HasPublisher(id string) bool {
	for _, p := range e.Publishers {
		if p == id {
			return true
		}
	}
	return false
}

// HopExceeded reports whether the envelope has reached its configured hop bound.
// A MaxHopCount of 0 means unlimited, per spec.md's resolved open question.
func (e *EventEnvelope) HopExceeded() bool {
	return e.MaxHopCount > 0 && e.CurrentHopCount >= e.MaxHopCount
}

// HierarchyNode is the per-agent parent/children record. See §3.
type HierarchyNode struct {
	ID       string
	ParentID string
	ChildIDs []string
}

// HasChild reports whether childID is already present.
func (n *HierarchyNode) HasChild(childID string) bool {
	for _, c := range n.ChildIDs {
		if c == childID {
			return true
		}
	}
	return false
}

// AddChild appends childID if not already present (no-op on duplicate), per §3.
func (n *HierarchyNode) AddChild(childID string) {
	if n.HasChild(childID) {
		return
	}
	n.ChildIDs = append(n.ChildIDs, childID)
}

// RemoveChild removes childID if present (no-op otherwise), per §3.
func (n *HierarchyNode) RemoveChild(childID string) {
	for i, c := range n.ChildIDs {
		if c == childID {
			n.ChildIDs = append(n.ChildIDs[:i], n.ChildIDs[i+1:]...)
			return
		}
	}
}

// SubscriptionState is the lifecycle state of a Subscription Handle, per §4.3.
type SubscriptionState string

const (
	SubscriptionCreating   SubscriptionState = "creating"
	SubscriptionActive     SubscriptionState = "active"
	SubscriptionPaused     SubscriptionState = "paused"
	SubscriptionUnhealthy  SubscriptionState = "unhealthy"
	SubscriptionTerminated SubscriptionState = "terminated"
)

// SubscriptionHandle tracks a receiver's registration on a stream.
type SubscriptionHandle struct {
	SubscriptionID string
	StreamID       string
	State          SubscriptionState
	LastActivityAt time.Time
	RetryCount     int
}

// IsHealthy reports whether the handle is in the active, non-paused state.
func (h *SubscriptionHandle) IsHealthy() bool {
	return h != nil && h.State == SubscriptionActive
}

// StateLogEvent is one append-only entry in an agent's event log. See §4.8.
type StateLogEvent struct {
	EventID      string
	AgentID      string
	Version      int
	EventTypeTag string
	Payload      []byte
	Timestamp    time.Time
	Metadata     map[string]string
}

// Snapshot is the single current point-in-time capture of an agent's state.
type Snapshot struct {
	AgentID   string
	Version   int
	State     []byte
	Timestamp time.Time
}
