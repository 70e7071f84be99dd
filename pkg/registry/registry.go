// Package registry reflects native Go callables into JSON-Schema function
// definitions and keeps a process-wide, insert-if-absent table of callables
// addressable by a stable (module, qualified-name) key.
package registry

import (
	"context"
	"encoding/json"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// Function is a named, schema-described, invocable unit. It is the Go
// rendition of a function-call target: a JSON-Schema the model is shown,
// and an adapter that turns validated JSON arguments into a call.
type Function struct {
	Module      string
	name        string
	description string
	schema      *jsonschema.Schema
	invoke      func(ctx context.Context, raw json.RawMessage) (any, error)
}

// Name returns the function's name, as shown to the model.
func (f *Function) Name() string { return f.name }

// Description returns the function's whitespace-normalized documentation.
func (f *Function) Description() string { return f.description }

// Schema returns the JSON-Schema describing the function's parameters.
func (f *Function) Schema() *jsonschema.Schema { return f.schema }

// SchemaMap renders Schema as a plain map, the shape most LLM client SDKs
// expect for a function/tool definition's "parameters" field.
func (f *Function) SchemaMap() (map[string]any, error) {
	raw, err := json.Marshal(f.schema)
	if err != nil {
		return nil, errors.Wrap(err, "registry: marshal schema")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "registry: unmarshal schema")
	}
	return m, nil
}

// Invoke deserializes raw JSON arguments and calls the wrapped function.
func (f *Function) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	return f.invoke(ctx, raw)
}

// Ref is a stable, serializable handle for looking up a Function across
// process restarts: the declaring module plus its qualified name.
type Ref struct {
	Module string
	Name   string
}

func (r Ref) String() string { return r.Module + "." + r.Name }

var whitespace = regexp.MustCompile(`\s+`)

func normalizeDoc(doc string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(doc, " "))
}

func reflectSchema[T any](name, description string) *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var zero T
	schema := reflector.Reflect(zero)
	schema.Title = name
	schema.Description = normalizeDoc(description)
	flattenRefs(schema, schema)
	return schema
}

// Reflect builds a Function from a typed handler, reflecting T's exported
// fields into a JSON-Schema object with additionalProperties:false. T is
// typically a small parameter struct with `json` tags.
func Reflect[T any](module, name, description string, fn func(ctx context.Context, args T) (any, error)) *Function {
	return &Function{
		Module:      module,
		name:        name,
		description: normalizeDoc(description),
		schema:      reflectSchema[T](name, description),
		invoke: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args T
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, errors.Wrapf(err, "registry: decode arguments for %q", name)
				}
			}
			return fn(ctx, args)
		},
	}
}

// ReflectType builds a Function from a runtime reflect.Type rather than a
// compile-time generic parameter, for callers that construct the
// parameter shape dynamically (e.g. the parser's corrective wrapper
// schemas).
func ReflectType(module, name, description string, t reflect.Type, invoke func(ctx context.Context, raw json.RawMessage) (any, error)) *Function {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	zero := reflect.New(t).Elem().Interface()
	schema := reflector.Reflect(zero)
	schema.Title = name
	schema.Description = normalizeDoc(description)
	flattenRefs(schema, schema)

	return &Function{
		Module:      module,
		name:        name,
		description: normalizeDoc(description),
		schema:      schema,
		invoke:      invoke,
	}
}

// Instance is a callable-like object: its concrete type name becomes the
// function name and its Call method becomes the invocation body, the Go
// analogue of a Python callable instance whose __call__ is resolved via
// the MRO.
type Instance interface {
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// ReflectInstance is Reflect for a callable instance, using Args to derive
// the parameter schema and the instance's dynamic type name as the
// function name.
func ReflectInstance[Args any](module string, instance Instance, description string) *Function {
	t := reflect.TypeOf(instance)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	return &Function{
		Module:      module,
		name:        name,
		description: normalizeDoc(description),
		schema:      reflectSchema[Args](name, description),
		invoke:      instance.Call,
	}
}

// flattenRefs walks schema replacing any $ref the reflector left behind
// (DoNotReference inlines almost everything, but self-referential types
// still produce a $ref into $defs) with the referenced definition.
func flattenRefs(root, schema *jsonschema.Schema) {
	if schema == nil {
		return
	}
	if schema.Properties != nil {
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			resolveAndFlatten(root, pair.Value)
		}
	}
	if schema.Items != nil {
		resolveAndFlatten(root, schema.Items)
	}
}

func resolveAndFlatten(root, schema *jsonschema.Schema) {
	if schema == nil {
		return
	}
	if schema.Ref != "" && root.Definitions != nil {
		defName := strings.TrimPrefix(schema.Ref, "#/$defs/")
		if def, ok := root.Definitions[defName]; ok {
			*schema = *def
			schema.Ref = ""
		}
	}
	flattenRefs(root, schema)
}

// Registry is a process-wide, insert-if-absent table of callables,
// addressable by Ref for stable serialization of a FunctionCall's target
// across process boundaries.
type Registry struct {
	mu    sync.Mutex
	byRef map[Ref]*Function
}

var global = &Registry{byRef: map[Ref]*Function{}}

// Global returns the process-wide function registry.
func Global() *Registry { return global }

// New returns an empty, independently-scoped registry (used per Session so
// different sessions can register distinct functions under the same name
// without clobbering each other).
func New() *Registry {
	return &Registry{byRef: map[Ref]*Function{}}
}

// Register inserts f under its Ref if absent, returning the Function that
// now occupies that slot (the newly inserted one, or whatever was already
// there).
func (r *Registry) Register(f *Function) *Function {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref := Ref{Module: f.Module, Name: f.name}
	if existing, ok := r.byRef[ref]; ok {
		return existing
	}
	r.byRef[ref] = f
	return f
}

// Lookup finds a function by Ref.
func (r *Registry) Lookup(ref Ref) (*Function, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.byRef[ref]
	return f, ok
}

// ByName returns a function registered under the given name, regardless
// of module. When several modules register the same name, which of them
// is returned is not defined. Used when dispatching a FunctionCall that only
// carries a bare name, as the wire contract in spec §6 requires.
func (r *Registry) ByName(name string) (*Function, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref, f := range r.byRef {
		if ref.Name == name {
			return f, true
		}
	}
	return nil, false
}

// All returns every registered function, in no particular order.
func (r *Registry) All() []*Function {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Function, 0, len(r.byRef))
	for _, f := range r.byRef {
		out = append(out, f)
	}
	return out
}
