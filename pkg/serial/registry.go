// Package serial provides the type registry and the per-connection
// serializer used to ship command arguments between processes.
package serial

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/morezero/component-runtime/pkg/command"
)

const registryLogPrefix = "serial:registry"

// ResultTypeName is the registered name of command.Result. Remote peers
// send it in place of the expected output when a call fails.
const ResultTypeName = "command.Result"

var (
	ErrUnregisteredType = errors.New("type is not registered")
	ErrUnknownType      = errors.New("type name is unknown locally")
	ErrDuplicateType    = errors.New("type name already registered")
)

// TypeRegistry maps registered type names to constructors.
type TypeRegistry interface {
	// Construct returns a pointer to a new zero value of the named type.
	Construct(name string) (any, bool)
	// NameOf returns the registered name of v's type, looking through one pointer.
	NameOf(v any) (string, bool)
}

// Registry is the in-process TypeRegistry. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewRegistry returns a registry with the builtin scalar and slice types
// already registered.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	builtins := map[string]any{
		"bool":         false,
		"int":          int(0),
		"int32":        int32(0),
		"int64":        int64(0),
		"uint32":       uint32(0),
		"uint64":       uint64(0),
		"float32":      float32(0),
		"float64":      float64(0),
		"string":       "",
		"bytes":        []byte(nil),
		"[]int":        []int(nil),
		"[]float64":    []float64(nil),
		"[]string":     []string(nil),
		ResultTypeName: command.Result(0),
	}
	for name, proto := range builtins {
		t := reflect.TypeOf(proto)
		r.byName[name] = t
		r.byType[t] = name
	}
	return r
}

// Register binds name to the type of proto. Registering the same pair twice
// is a no-op; binding a name to a second type fails.
func (r *Registry) Register(name string, proto any) error {
	if name == "" || proto == nil {
		return fmt.Errorf("%s - invalid registration %q", registryLogPrefix, name)
	}
	t := baseType(reflect.TypeOf(proto))

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[name]; ok {
		if existing == t {
			return nil
		}
		return fmt.Errorf("%s - %q bound to %s: %w", registryLogPrefix, name, existing, ErrDuplicateType)
	}
	r.byName[name] = t
	r.byType[t] = name
	return nil
}

// RegisterType registers T under name.
func RegisterType[T any](r *Registry, name string) error {
	return r.Register(name, new(T))
}

// MustRegisterType is RegisterType for package initialisation.
func MustRegisterType[T any](r *Registry, name string) {
	if err := RegisterType[T](r, name); err != nil {
		panic(err)
	}
}

func (r *Registry) Construct(name string) (any, bool) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return reflect.New(t).Interface(), true
}

func (r *Registry) NameOf(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	t := baseType(reflect.TypeOf(v))
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byType[t]
	return name, ok
}

// Names lists registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func baseType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}
