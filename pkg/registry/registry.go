// Package registry implements the Handler Registry (spec §4.5, component
// C5): discovery of an agent type's event handlers, stable priority
// ordering, and a process-wide cache keyed by concrete type.
//
// The source language discovers handlers via reflection over method
// attributes. Go has no attribute system, so discovery here combines two
// of the three re-architecture options the design notes allow (§9): a
// naming convention scanned by reflection (HandleAsync/HandleEventAsync),
// and an explicit registration API (MetadataProvider) a concrete agent
// type implements to mark additional methods as handlers and to override
// their priority / allow_self_handling — the Go-idiomatic stand-in for a
// C#-style [EventHandler(Priority = N)] attribute.
package registry

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/cuemby/nexus/pkg/types"
)

// Kind distinguishes the two handler shapes from §4.5. Convention-named
// handlers (HandleAsync/HandleEventAsync) are discovered as one of these.
type Kind int

const (
	// KindSpecific handlers accept exactly one parameter: the decoded
	// event payload.
	KindSpecific Kind = iota
	// KindAllEvent handlers accept the EventEnvelope itself.
	KindAllEvent
)

// MaxPriority is the default priority for All-Event Handlers, per §4.5:
// "lowest" precedence so specific handlers run first.
const MaxPriority = math.MaxInt32

// Attr is the Go-idiomatic replacement for a per-method attribute: a
// concrete agent type declares these through MetadataProvider.
type Attr struct {
	Kind              Kind
	Priority          int
	AllowSelfHandling bool
}

// MetadataProvider is implemented by agent types that need to mark methods
// beyond the HandleAsync/HandleEventAsync convention as handlers, or to
// override a convention handler's default priority / allow_self_handling.
// The map key is the Go method name; a method may appear with more than one
// Attr, in which case it is exposed as more than one handler, per §4.5's
// "a method may carry both ... markers" rule.
type MetadataProvider interface {
	HandlerAttrs() map[string][]Attr
}

// HandlerSpec is one discovered, invocable handler.
type HandlerSpec struct {
	Kind              Kind
	MethodName        string
	EventType         reflect.Type // nil for KindAllEvent
	Priority          int
	AllowSelfHandling bool

	// declOrder breaks priority ties deterministically, per §4.5. It is
	// reflect.Type.Method's index, which Go documents as lexicographic by
	// method name, not source order — so in this implementation the §4.5
	// tie-break is really "by method name", a stable and deterministic
	// substitute but not literally declaration order.
	declOrder int

	method reflect.Method
}

// InvokeSpecific calls a KindSpecific handler with the decoded payload.
// payload may be a pointer (codec.Decode always allocates one) even when
// the handler method's declared parameter is the bare value type, or vice
// versa; InvokeSpecific reconciles the two shapes so handlers can be
// written in whichever idiom is natural.
func (h *HandlerSpec) InvokeSpecific(ctx context.Context, agent any, payload any) error {
	want := h.method.Func.Type().In(2)
	pv := reflect.ValueOf(payload)
	switch {
	case pv.Type() == want:
		// already the right shape
	case pv.Kind() == reflect.Ptr && pv.Type().Elem() == want:
		pv = pv.Elem()
	case want.Kind() == reflect.Ptr && pv.Type() == want.Elem():
		nv := reflect.New(want.Elem())
		nv.Elem().Set(pv)
		pv = nv
	}
	out := h.method.Func.Call([]reflect.Value{
		reflect.ValueOf(agent),
		reflect.ValueOf(ctx),
		pv,
	})
	return errFromResults(out)
}

// InvokeAllEvent calls a KindAllEvent handler with the raw envelope.
func (h *HandlerSpec) InvokeAllEvent(ctx context.Context, agent any, env *types.EventEnvelope) error {
	out := h.method.Func.Call([]reflect.Value{
		reflect.ValueOf(agent),
		reflect.ValueOf(ctx),
		reflect.ValueOf(env),
	})
	return errFromResults(out)
}

func errFromResults(out []reflect.Value) error {
	if len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if last.IsNil() {
		return nil
	}
	return last.Interface().(error)
}

var (
	ctxType      = reflect.TypeOf((*context.Context)(nil)).Elem()
	envelopeType = reflect.TypeOf((*types.EventEnvelope)(nil))
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
)

// conventionNames are the method names the source treats as implicit
// Specific Handlers with default priority 0, per §4.5.
var conventionNames = map[string]bool{
	"HandleAsync":      true,
	"HandleEventAsync": true,
}

// Registry discovers and caches handler specs per concrete agent type. The
// cache is process-wide and populated lazily under one registry-wide mutex
// so concurrent first-use lookups don't race, per §5.
type Registry struct {
	mu    sync.Mutex
	cache map[reflect.Type][]*HandlerSpec
}

// New constructs an empty Registry. A single process-wide instance is
// normally shared (see pkg/agent), since the cache key is the concrete
// agent type, not an instance.
func New() *Registry {
	return &Registry{cache: make(map[reflect.Type][]*HandlerSpec)}
}

// For returns the cached, priority-ordered handler set for agent's concrete
// type, discovering and caching it on first use. Repeated calls for the
// same concrete type return the same slice (identical backing array), per
// §4.5's cache-identity requirement. Ties within a priority are broken by
// method name (see HandlerSpec.declOrder), a deterministic stand-in for
// §4.5's "declaration order" that Go's reflect package can't literally
// recover.
func (r *Registry) For(agent any) []*HandlerSpec {
	t := reflect.TypeOf(agent)

	r.mu.Lock()
	defer r.mu.Unlock()
	if specs, ok := r.cache[t]; ok {
		return specs
	}
	specs := discover(t)
	r.cache[t] = specs
	return specs
}

func discover(t reflect.Type) []*HandlerSpec {
	var probe any
	if t.Kind() == reflect.Ptr {
		probe = reflect.New(t.Elem()).Interface()
	} else {
		probe = reflect.New(t).Elem().Interface()
	}
	var attrs map[string][]Attr
	if mp, ok := probe.(MetadataProvider); ok {
		attrs = mp.HandlerAttrs()
	}

	seen := make(map[string]bool)
	var specs []*HandlerSpec

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if m.Name == "HandleEvent" {
			continue // the Agent Base's own dispatch entry point, never a user handler
		}

		methodAttrs, hasAttrs := attrs[m.Name]
		isConvention := conventionNames[m.Name]

		if !hasAttrs && !isConvention {
			continue
		}
		seen[m.Name] = true

		sig := m.Func.Type()
		// Expected receiver + context.Context + one payload/envelope param,
		// returning a single error.
		if sig.NumIn() != 3 || sig.NumOut() != 1 || !sig.Out(0).Implements(errorType) {
			continue
		}
		if !sig.In(1).Implements(ctxType) {
			continue
		}
		paramType := sig.In(2)

		if hasAttrs {
			for _, a := range methodAttrs {
				specs = append(specs, buildSpec(m, i, paramType, a))
			}
			continue
		}

		// Convention handler: default priority 0, allow_self_handling
		// false, kind inferred from the parameter type.
		kind := KindSpecific
		if paramType == envelopeType {
			kind = KindAllEvent
		}
		specs = append(specs, buildSpec(m, i, paramType, Attr{Kind: kind}))
	}

	sort.SliceStable(specs, func(i, j int) bool {
		if specs[i].Priority != specs[j].Priority {
			return specs[i].Priority < specs[j].Priority
		}
		return specs[i].declOrder < specs[j].declOrder
	})
	return specs
}

func buildSpec(m reflect.Method, declOrder int, paramType reflect.Type, a Attr) *HandlerSpec {
	priority := a.Priority
	var eventType reflect.Type
	if a.Kind == KindAllEvent {
		if priority == 0 {
			priority = MaxPriority
		}
	} else {
		eventType = paramType
	}
	return &HandlerSpec{
		Kind:              a.Kind,
		MethodName:        m.Name,
		EventType:         eventType,
		Priority:          priority,
		AllowSelfHandling: a.AllowSelfHandling,
		declOrder:         declOrder,
		method:            m,
	}
}

// String renders a spec for logging/diagnostics.
func (h *HandlerSpec) String() string {
	kind := "specific"
	if h.Kind == KindAllEvent {
		kind = "all-event"
	}
	return fmt.Sprintf("%s(%s, priority=%d, allow_self=%t)", h.MethodName, kind, h.Priority, h.AllowSelfHandling)
}
