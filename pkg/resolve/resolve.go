// Package resolve implements the session-scoped dependency container used to
// construct capability clients. Factories are registered per type; a session
// resolves them lazily, memoizes one instance per type, and releases every
// acquired instance in reverse acquisition order when the session ends.
package resolve

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
)

// ReleaseFunc tears down one acquired instance.
type ReleaseFunc func() error

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	releaseType = reflect.TypeOf(ReleaseFunc(nil))
)

// DependencyError reports a type with no registered factory.
type DependencyError struct {
	Type reflect.Type
	For  reflect.Type // the dependent being constructed, nil at the root
}

func (e *DependencyError) Error() string {
	if e.For != nil {
		return fmt.Sprintf("no factory registered for %s (required by %s)", e.Type, e.For)
	}
	return fmt.Sprintf("no factory registered for %s", e.Type)
}

// CycleError reports a circular factory dependency.
type CycleError struct {
	Path []reflect.Type // acquisition path, first == last
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Path))
	for i, t := range e.Path {
		names[i] = t.String()
	}
	return "dependency cycle: " + strings.Join(names, " -> ")
}

// Registry holds type -> factory registrations. Factories are plain Go
// constructors: func(deps...) (T, error) or func(deps...) (T, ReleaseFunc, error),
// where every parameter type must itself be resolvable.
type Registry struct {
	factories map[reflect.Type]reflect.Value
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[reflect.Type]reflect.Value)}
}

// Provide registers fn as the factory for its first return type.
// Registering a second factory for the same type is an error: clients are
// constructed once per session and shared.
func (r *Registry) Provide(fn any) error {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return fmt.Errorf("factory must be a function, got %T", fn)
	}
	switch t.NumOut() {
	case 2:
		if t.Out(1) != errorType {
			return fmt.Errorf("factory %s: second return must be error", t)
		}
	case 3:
		if t.Out(1) != releaseType || t.Out(2) != errorType {
			return fmt.Errorf("factory %s: returns must be (T, resolve.ReleaseFunc, error)", t)
		}
	default:
		return fmt.Errorf("factory %s: must return (T, error) or (T, ReleaseFunc, error)", t)
	}
	provided := t.Out(0)
	if _, dup := r.factories[provided]; dup {
		return fmt.Errorf("factory for %s already registered", provided)
	}
	r.factories[provided] = v
	return nil
}

// MustProvide registers fn and panics on a malformed registration.
// Registration happens at startup with static factories, so a panic here is
// a programming error, not a runtime condition.
func (r *Registry) MustProvide(fn any) {
	if err := r.Provide(fn); err != nil {
		panic(err)
	}
}

// Registered reports whether a factory exists for t.
func (r *Registry) Registered(t reflect.Type) bool {
	_, ok := r.factories[t]
	return ok
}

// Check verifies that t and its transitive factory dependencies are all
// registered and acyclic without constructing anything. The engine runs
// this for every capability client before the first step, so broken wiring
// aborts a run before any step executes.
func (r *Registry) Check(t reflect.Type) error {
	return r.check(t, nil, nil)
}

func (r *Registry) check(t reflect.Type, dependent reflect.Type, path []reflect.Type) error {
	factory, ok := r.factories[t]
	if !ok {
		return &DependencyError{Type: t, For: dependent}
	}
	for _, seen := range path {
		if seen == t {
			return &CycleError{Path: append(append([]reflect.Type{}, path...), t)}
		}
	}
	path = append(path, t)
	ft := factory.Type()
	for i := 0; i < ft.NumIn(); i++ {
		if err := r.check(ft.In(i), t, path); err != nil {
			return err
		}
	}
	return nil
}

// Session is one scenario run's view of the registry. Not safe for
// concurrent use; the engine resolves strictly in step order.
type Session struct {
	reg       *Registry
	log       *slog.Logger
	instances map[reflect.Type]reflect.Value
	resolving []reflect.Type // acquisition path for cycle detection
	releases  []ReleaseFunc  // LIFO
	closed    bool
}

// NewSession opens a resolution session against the registry.
func (r *Registry) NewSession(log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		reg:       r,
		log:       log,
		instances: make(map[reflect.Type]reflect.Value),
	}
}

// Resolve returns the session's instance of t, constructing it (and its
// dependencies, recursively) on first use.
func (s *Session) Resolve(t reflect.Type) (any, error) {
	v, err := s.resolve(t, nil)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func (s *Session) resolve(t reflect.Type, dependent reflect.Type) (reflect.Value, error) {
	if s.closed {
		return reflect.Value{}, fmt.Errorf("resolve %s: session closed", t)
	}
	if inst, ok := s.instances[t]; ok {
		return inst, nil
	}
	factory, ok := s.reg.factories[t]
	if !ok {
		return reflect.Value{}, &DependencyError{Type: t, For: dependent}
	}
	for _, active := range s.resolving {
		if active == t {
			return reflect.Value{}, &CycleError{Path: append(append([]reflect.Type{}, s.resolving...), t)}
		}
	}
	s.resolving = append(s.resolving, t)
	defer func() { s.resolving = s.resolving[:len(s.resolving)-1] }()

	ft := factory.Type()
	args := make([]reflect.Value, ft.NumIn())
	for i := range args {
		arg, err := s.resolve(ft.In(i), t)
		if err != nil {
			return reflect.Value{}, err
		}
		args[i] = arg
	}

	out := factory.Call(args)
	if errVal := out[len(out)-1]; !errVal.IsNil() {
		return reflect.Value{}, fmt.Errorf("construct %s: %w", t, errVal.Interface().(error))
	}
	inst := out[0]
	s.instances[t] = inst
	s.log.Debug("dependency acquired", "type", t.String())

	if len(out) == 3 {
		if rel, ok := out[1].Interface().(ReleaseFunc); ok && rel != nil {
			s.releases = append(s.releases, rel)
		}
	}
	return inst, nil
}

// Close releases every acquired instance in reverse acquisition order. Each
// release runs exactly once; a failing release does not stop the remaining
// ones, and all failures are joined into the returned error.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for i := len(s.releases) - 1; i >= 0; i-- {
		if err := s.releases[i](); err != nil {
			s.log.Warn("dependency release failed", "error", err)
			errs = append(errs, err)
		}
	}
	s.releases = nil
	return errors.Join(errs...)
}

// As resolves the concrete type of T within s.
func As[T any](s *Session) (T, error) {
	v, err := s.Resolve(TypeOf[T]())
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// TypeOf returns the reflect type for a pointer-to-client type parameter.
// Helper for registry construction: TypeOf[*UTMClient]().
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
