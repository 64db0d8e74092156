// Package capability implements the capability registry: a map from
// operation name to its owning client type, invocation function, and
// parameter schema. The engine consults it to validate and dispatch step
// invocations; the serve and MCP front ends list it for scenario authoring.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError reports arguments that do not match a capability's
// parameter schema. The engine turns it into a FAIL step result.
type ValidationError struct {
	Capability string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Capability, strings.Join(e.Problems, "; "))
}

// RuntimeError tags a domain failure raised by a capability invocation
// (upstream HTTP failure, timeout, failed assertion). The engine turns it
// into a FAIL step result; it never propagates past step execution.
type RuntimeError struct {
	Capability string
	Err        error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Capability, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Runtime wraps err as a RuntimeError for the named capability.
func Runtime(capability string, err error) error {
	return &RuntimeError{Capability: capability, Err: err}
}

// Descriptor is one registered capability: name, owning client type,
// invocation function, and compiled parameter schema.
type Descriptor struct {
	Name        string
	Description string

	client     reflect.Type
	paramsType reflect.Type
	schemaJSON []byte
	schema     *sjsonschema.Schema
	invoke     func(ctx context.Context, client any, args map[string]any) (any, error)
}

// ClientType is the client type the dependency resolver must construct to
// host this capability.
func (d *Descriptor) ClientType() reflect.Type { return d.client }

// ParamSchema returns the capability's parameter schema as JSON.
func (d *Descriptor) ParamSchema() json.RawMessage { return d.schemaJSON }

// ValidateArgs checks args against the parameter schema without invoking.
func (d *Descriptor) ValidateArgs(args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip through JSON: resolved arguments may carry typed values
	// (ints, nested structs from prior results) that the schema validator
	// wants in JSON form.
	data, err := json.Marshal(args)
	if err != nil {
		return &ValidationError{Capability: d.Name, Problems: []string{fmt.Sprintf("arguments not serializable: %v", err)}}
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationError{Capability: d.Name, Problems: []string{err.Error()}}
	}
	if err := d.schema.Validate(doc); err != nil {
		return &ValidationError{Capability: d.Name, Problems: []string{err.Error()}}
	}
	return nil
}

// Invoke validates args, decodes them into the typed parameter struct, and
// calls the registered function on client.
func (d *Descriptor) Invoke(ctx context.Context, client any, args map[string]any) (any, error) {
	if err := d.ValidateArgs(args); err != nil {
		return nil, err
	}
	return d.invoke(ctx, client, args)
}

// Registry is the name -> Descriptor map.
type Registry struct {
	caps map[string]*Descriptor
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*Descriptor)}
}

// Register adds a capability owned by client type C with typed parameters P.
// P's json tags and jsonschema struct tags define the parameter schema the
// engine validates arguments against before dispatch.
func Register[C any, P any](r *Registry, name, description string, fn func(ctx context.Context, client C, params P) (any, error)) error {
	if _, dup := r.caps[name]; dup {
		return fmt.Errorf("capability %q already registered", name)
	}
	schemaJSON, compiled, err := paramSchema[P](name)
	if err != nil {
		return fmt.Errorf("capability %q: %w", name, err)
	}
	d := &Descriptor{
		Name:        name,
		Description: description,
		client:      reflect.TypeOf((*C)(nil)).Elem(),
		paramsType:  reflect.TypeOf((*P)(nil)).Elem(),
		schemaJSON:  schemaJSON,
		schema:      compiled,
	}
	d.invoke = func(ctx context.Context, client any, args map[string]any) (any, error) {
		c, ok := client.(C)
		if !ok {
			return nil, fmt.Errorf("capability %q: client is %T, want %s", name, client, d.client)
		}
		var params P
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			WeaklyTypedInput: true,
			Result:           &params,
		})
		if err != nil {
			return nil, fmt.Errorf("capability %q: build decoder: %w", name, err)
		}
		if err := dec.Decode(args); err != nil {
			return nil, &ValidationError{Capability: name, Problems: []string{err.Error()}}
		}
		return fn(ctx, c, params)
	}
	r.caps[name] = d
	return nil
}

// MustRegister registers and panics on a malformed registration. Capability
// sets are wired at startup from static definitions.
func MustRegister[C any, P any](r *Registry, name, description string, fn func(ctx context.Context, client C, params P) (any, error)) {
	if err := Register(r, name, description, fn); err != nil {
		panic(err)
	}
}

// Lookup finds a capability by name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.caps[name]
	return d, ok
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.caps))
	for n := range r.caps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Info is the authoring-facing description of one capability.
type Info struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Client      string          `json:"client"`
	Params      json.RawMessage `json:"params"`
}

// Describe lists every capability for the authoring UI, sorted by name.
func (r *Registry) Describe() []Info {
	infos := make([]Info, 0, len(r.caps))
	for _, name := range r.Names() {
		d := r.caps[name]
		infos = append(infos, Info{
			Name:        d.Name,
			Description: d.Description,
			Client:      d.client.String(),
			Params:      d.schemaJSON,
		})
	}
	return infos
}

// paramSchema reflects P into a JSON Schema document and compiles it.
func paramSchema[P any](name string) ([]byte, *sjsonschema.Schema, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	var p P
	s := reflector.Reflect(&p)
	s.Version = "" // keep the embedded schema reference-free
	data, err := json.Marshal(s)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal parameter schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("unmarshal parameter schema: %w", err)
	}
	c := sjsonschema.NewCompiler()
	res := fmt.Sprintf("params/%s.json", name)
	if err := c.AddResource(res, doc); err != nil {
		return nil, nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(res)
	if err != nil {
		return nil, nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	return data, compiled, nil
}
