// Package agent implements the Agent Base (spec §4.6, component C6): the
// user-facing contract hosting business logic — lifecycle hooks, state/
// config protection, handler dispatch via pkg/registry, deduplication, and
// exception-to-event recovery.
//
// Agent code is generic over the user-defined State (S) and Config (C)
// record types, per §3. Since Go has no inheritance, a concrete agent type
// embeds *agent.Base[S, C] and is handed to New as "self" so the Handler
// Registry discovers handlers declared on the outer type, not on Base.
package agent

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/cuemby/nexus/pkg/codec"
	"github.com/cuemby/nexus/pkg/dedup"
	"github.com/cuemby/nexus/pkg/log"
	"github.com/cuemby/nexus/pkg/metrics"
	"github.com/cuemby/nexus/pkg/registry"
	"github.com/cuemby/nexus/pkg/statestore"
	"github.com/cuemby/nexus/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HandlerExceptionEvent is the synthetic event published when a handler
// throws, per §4.6. Registered under a stable tag so it round-trips through
// the same codec as user events.
type HandlerExceptionEvent struct {
	HandlerName   string
	ExceptionKind string
	Message       string
	StackTrace    string
}

// HandlerExceptionTag is the codec tag for HandlerExceptionEvent.
const HandlerExceptionTag = "nexus.agent.v1.HandlerExceptionEvent"

// Publisher is the minimal surface Base needs to emit an envelope. The
// Actor Base (pkg/actor) satisfies this directly.
type Publisher interface {
	PublishEvent(ctx context.Context, env *types.EventEnvelope, direction types.Direction) error
}

// Activator is implemented by agent types that need one-time setup,
// invoked inside the Initialization Scope.
type Activator interface {
	OnActivate(ctx context.Context) error
}

// Deactivator is implemented by agent types that need teardown.
type Deactivator interface {
	OnDeactivate(ctx context.Context) error
}

// Describer overrides the default GetDescription (concrete type name).
type Describer interface {
	GetDescription() string
}

// AsyncDescriber overrides GetDescriptionAsync; may legitimately return an
// error, which the caller receives unwrapped, per §4.6.
type AsyncDescriber interface {
	GetDescriptionAsync(ctx context.Context) (string, error)
}

type scopeKey struct{}

// scopeInit and scopeHandler are the two contexts in which State/Config may
// be reassigned, per §4.6's State Protection Contract.
type scope int

const (
	scopeNone scope = iota
	scopeInit
	scopeHandler
)

func withScope(ctx context.Context, s scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func currentScope(ctx context.Context) scope {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

// Base is the generic Agent Base. S is the user state record type, C is the
// user config record type.
type Base[S any, C any] struct {
	ID   string
	Type string // concrete agent type name, used as the Config Store key

	State  *S
	Config *C

	self        any
	codec       *codec.Registry
	registry    *registry.Registry
	dedup       *dedup.Cache
	stateStore  statestore.StateStore[S]
	configStore statestore.ConfigStore[C]
	publisher   Publisher
	logger      zerolog.Logger

	eventSourced bool
}

// Deps bundles the collaborators Base needs. Codec and Registry are
// normally process-wide singletons shared across agent instances; the
// stores and publisher are per-deployment.
type Deps[S any, C any] struct {
	Codec       *codec.Registry
	Registry    *registry.Registry
	StateStore  statestore.StateStore[S]
	ConfigStore statestore.ConfigStore[C]
	Publisher   Publisher
	DedupTTL    time.Duration
}

// New constructs a Base for id, owned by self (the concrete agent type
// embedding this Base). self is required even though Go will have already
// embedded the Base by value/pointer at this point, because reflection-based
// handler discovery (pkg/registry) needs the outer type, not Base itself.
func New[S any, C any](self any, id, agentType string, deps Deps[S, C]) *Base[S, C] {
	if deps.Registry == nil {
		deps.Registry = registry.New()
	}
	if deps.Codec == nil {
		deps.Codec = codec.New()
	}
	return &Base[S, C]{
		ID:          id,
		Type:        agentType,
		self:        self,
		codec:       deps.Codec,
		registry:    deps.Registry,
		dedup:       dedup.New(deps.DedupTTL),
		stateStore:  deps.StateStore,
		configStore: deps.ConfigStore,
		publisher:   deps.Publisher,
		logger:      log.WithAgent(id),
	}
}

// BindPublisher attaches the Publisher (normally the owning Actor) after
// construction, for runtimes that wire the hierarchy after instantiating
// the agent.
func (b *Base[S, C]) BindPublisher(p Publisher) { b.publisher = p }

// BindSelf attaches the concrete agent type after construction. Normal
// callers pass self to New directly (it can be handed over before its own
// Base field is populated — New only needs the pointer's identity, not a
// fully-initialized struct). BindSelf exists for constructors that must
// build Base before the outer embedding type can exist at all, such as
// pkg/runtime's generic CreateAndRegister; it must be called before
// Activate so handler discovery sees the real concrete type.
func (b *Base[S, C]) BindSelf(self any) { b.self = self }

// EnableEventSourcing marks the agent as event-sourced, per §4.6: once set,
// SetState always fails with ErrDirectStateAssignmentWhenEventSourcing, even
// inside an allowed scope, because state must evolve only through raised
// events (pkg/sourcing).
func (b *Base[S, C]) EnableEventSourcing() { b.eventSourced = true }

// IsEventSourced reports whether event-sourced mode is active.
func (b *Base[S, C]) IsEventSourced() bool { return b.eventSourced }

// ApplyInternal assigns State bypassing the scope/event-sourcing guard. It
// exists solely for pkg/sourcing's replay/confirm path, which is the one
// permitted way to evolve state while event-sourced, per §4.9.
func (b *Base[S, C]) ApplyInternal(s *S) { b.State = s }

// SetState reassigns State, enforcing §4.6's State Protection Contract:
// forbidden outside the Initialization/Event Handler scopes, and forbidden
// unconditionally (even inside those scopes) once event sourcing is active.
func (b *Base[S, C]) SetState(ctx context.Context, s *S) error {
	if b.eventSourced {
		return types.ErrDirectStateAssignmentWhenEventSourcing
	}
	if currentScope(ctx) == scopeNone {
		return types.ErrStateAssignmentNotAllowed
	}
	b.State = s
	return nil
}

// SetConfig reassigns Config, enforcing the same scope guard as SetState.
// Config is never subject to the event-sourcing restriction.
func (b *Base[S, C]) SetConfig(ctx context.Context, c *C) error {
	if currentScope(ctx) == scopeNone {
		return types.ErrStateAssignmentNotAllowed
	}
	b.Config = c
	return nil
}

// Activate performs one-time initialization: loads State/Config from their
// stores, then invokes OnActivate (if implemented) inside the Initialization
// Scope, which permits state/config writes.
func (b *Base[S, C]) Activate(ctx context.Context) error {
	if b.stateStore != nil {
		if s, ok, err := b.stateStore.Load(b.ID); err != nil {
			return fmt.Errorf("agent: load state: %w", err)
		} else if ok {
			b.State = s
		}
	}
	if b.configStore != nil {
		if c, ok, err := b.configStore.Load(b.Type, b.ID); err != nil {
			return fmt.Errorf("agent: load config: %w", err)
		} else if ok {
			b.Config = c
		}
	}

	initCtx := withScope(ctx, scopeInit)
	if a, ok := b.self.(Activator); ok {
		return a.OnActivate(initCtx)
	}
	return nil
}

// Deactivate invokes OnDeactivate (if implemented). No scope is granted:
// teardown is not one of the two contexts §4.6 permits state writes in.
func (b *Base[S, C]) Deactivate(ctx context.Context) error {
	if d, ok := b.self.(Deactivator); ok {
		return d.OnDeactivate(ctx)
	}
	return nil
}

// GetDescription returns the agent's free-form description, defaulting to
// its concrete type name, per §4.6.
func (b *Base[S, C]) GetDescription() string {
	if d, ok := b.self.(Describer); ok {
		return d.GetDescription()
	}
	t := reflect.TypeOf(b.self)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// GetDescriptionAsync returns the async variant, which may legitimately
// error; the caller receives the error unwrapped, per §4.6.
func (b *Base[S, C]) GetDescriptionAsync(ctx context.Context) (string, error) {
	if d, ok := b.self.(AsyncDescriber); ok {
		return d.GetDescriptionAsync(ctx)
	}
	return b.GetDescription(), nil
}

// Publish constructs an envelope around event and routes it via the
// attached Publisher (normally the owning Actor, per §4.6/§4.7). Publish
// never fails because of routing/hop rules; it fails only if the event
// cannot be encoded by the codec or the backend's stream refuses the push,
// per §7.
func (b *Base[S, C]) Publish(ctx context.Context, event any, direction types.Direction) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PublishLatency)

	payload, err := b.codec.Encode(event)
	if err != nil {
		return fmt.Errorf("agent: encode event: %w", err)
	}
	env := &types.EventEnvelope{
		ID:          uuid.NewString(),
		PublisherID: b.ID,
		Publishers:  []string{b.ID},
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
		Direction:   direction,
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(direction.Normalize())).Inc()
	if b.publisher == nil {
		return nil
	}
	return b.publisher.PublishEvent(ctx, env, direction)
}

type failure struct {
	handler *registry.HandlerSpec
	err     error
	stack   string
}

// HandleEvent is the entry point for incoming deliveries, per §4.6:
// deduplicate, decode the payload, discover handlers, filter self-published
// envelopes that don't opt in, dispatch in priority order inside the Event
// Handler Scope, and recover any handler failure into a published
// HandlerExceptionEvent rather than letting it escape.
func (b *Base[S, C]) HandleEvent(ctx context.Context, env *types.EventEnvelope) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HandleLatency)

	if b.dedup.MarkIfSeen(env.ID) {
		return
	}

	var payload any
	if env.Payload != nil {
		var err error
		payload, err = b.codec.Decode(env.Payload)
		if err != nil {
			b.logger.Warn().Err(err).Str("event_id", env.ID).Msg("failed to decode event payload")
		}
	}

	specs := b.registry.For(b.self)
	isSelfPublished := env.PublisherID == b.ID
	handlerCtx := withScope(ctx, scopeHandler)

	var failures []failure
	ran := false
	for _, spec := range specs {
		if isSelfPublished && !spec.AllowSelfHandling {
			continue
		}
		if spec.Kind == registry.KindSpecific {
			if payload == nil {
				continue
			}
			pt := reflect.TypeOf(payload)
			for pt.Kind() == reflect.Ptr {
				pt = pt.Elem()
			}
			want := spec.EventType
			for want.Kind() == reflect.Ptr {
				want = want.Elem()
			}
			if pt != want {
				continue
			}
		}
		ran = true
		b.invoke(handlerCtx, spec, env, payload, &failures)
	}
	if ran {
		metrics.EventsHandledTotal.WithLabelValues(b.Type).Inc()
	}

	for _, f := range failures {
		b.publishException(ctx, f)
	}
}

func (b *Base[S, C]) invoke(ctx context.Context, spec *registry.HandlerSpec, env *types.EventEnvelope, payload any, failures *[]failure) {
	defer func() {
		if r := recover(); r != nil {
			*failures = append(*failures, failure{
				handler: spec,
				err:     fmt.Errorf("panic: %v", r),
				stack:   string(debug.Stack()),
			})
		}
	}()

	var err error
	if spec.Kind == registry.KindAllEvent {
		err = spec.InvokeAllEvent(ctx, b.self, env)
	} else {
		err = spec.InvokeSpecific(ctx, b.self, payload)
	}
	if err != nil {
		*failures = append(*failures, failure{handler: spec, err: err})
	}
}

func (b *Base[S, C]) publishException(ctx context.Context, f failure) {
	metrics.ExceptionsTotal.WithLabelValues(b.Type, f.handler.MethodName).Inc()
	b.logger.Error().Err(f.err).Str("handler", f.handler.MethodName).Msg("handler failed, publishing HandlerExceptionEvent")

	evt := HandlerExceptionEvent{
		HandlerName:   f.handler.MethodName,
		ExceptionKind: fmt.Sprintf("%T", f.err),
		Message:       f.err.Error(),
		StackTrace:    f.stack,
	}
	if _, ok := b.codec.TagFor(evt); !ok {
		b.codec.Register(HandlerExceptionTag, HandlerExceptionEvent{})
	}
	if err := b.Publish(ctx, evt, types.DirectionUp); err != nil {
		b.logger.Warn().Err(err).Msg("failed to publish HandlerExceptionEvent")
	}
}
