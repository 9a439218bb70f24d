// Package codec implements the tagged-union registry the design notes call
// for (§9, "Polymorphic event payloads carried as an opaque 'any' type"):
// a stable string tag per event/state schema, with a registry mapping tag
// to encoder/decoder. Payloads are carried on the wire as *anypb.Any, whose
// TypeUrl field is repurposed as the tag and whose Value field holds
// JSON-encoded bytes — this keeps the library's pre-built Any message
// (no protoc invocation) while staying schema-agnostic, per §6.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"google.golang.org/protobuf/types/known/anypb"
)

// Registry maps stable type tags to concrete Go types so an envelope's
// payload can be encoded on publish and decoded on delivery without either
// side needing compile-time knowledge of the other's type, per §4.1/§6.
type Registry struct {
	mu     sync.RWMutex
	byTag  map[string]reflect.Type
	byType map[reflect.Type]string
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		byTag:  make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register associates tag with the concrete type of zero (a pointer or
// value of the event/state type). Re-registering the same tag with a
// different type panics at startup rather than silently shadowing it.
func (r *Registry) Register(tag string, zero any) {
	t := reflect.TypeOf(zero)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byTag[tag]; ok && existing != t {
		panic(fmt.Sprintf("codec: tag %q already registered for %s", tag, existing))
	}
	r.byTag[tag] = t
	r.byType[t] = tag
}

// TagFor returns the registered tag for the concrete type of event, and
// whether it was found.
func (r *Registry) TagFor(event any) (string, bool) {
	t := reflect.TypeOf(event)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.byType[t]
	return tag, ok
}

// TypeForTag returns the registered concrete type for tag, and whether it
// was found.
func (r *Registry) TypeForTag(tag string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byTag[tag]
	return t, ok
}

// Encode marshals event into an *anypb.Any carrying its registered tag as
// TypeUrl and its JSON encoding as Value.
func (r *Registry) Encode(event any) (*anypb.Any, error) {
	tag, ok := r.TagFor(event)
	if !ok {
		return nil, fmt.Errorf("codec: type %T is not registered", event)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %s: %w", tag, err)
	}
	return &anypb.Any{TypeUrl: tag, Value: data}, nil
}

// Decode unmarshals an *anypb.Any produced by Encode back into a freshly
// allocated value of its registered type, returned as a pointer (any).
// A nil or untagged Any decodes to (nil, nil): callers that don't care
// about the payload (AllEventHandlers) never need to call Decode at all.
func (r *Registry) Decode(a *anypb.Any) (any, error) {
	if a == nil || a.TypeUrl == "" {
		return nil, nil
	}
	t, ok := r.TypeForTag(a.TypeUrl)
	if !ok {
		return nil, fmt.Errorf("codec: tag %q is not registered", a.TypeUrl)
	}
	out := reflect.New(t).Interface()
	if len(a.Value) > 0 {
		if err := json.Unmarshal(a.Value, out); err != nil {
			return nil, fmt.Errorf("codec: unmarshal %s: %w", a.TypeUrl, err)
		}
	}
	return out, nil
}
