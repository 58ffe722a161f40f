package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/openbrain/entitymanagement/pkg/orm/jsonld"
)

// ErrUnknownType is returned when no registered entity type matches an
// identifier or a set of @type tags
var ErrUnknownType = errors.New("unknown entity type")

// Registry maps type tags and @type names to entity schemas.
//
// It is written during an explicit bootstrap step and only read afterwards.
type Registry struct {
	byTag    map[string]*EntitySchema
	byType   map[string]*EntitySchema
	byGoType map[reflect.Type]*EntitySchema
	mu       sync.RWMutex
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry
func Default() *Registry {
	return defaultRegistry
}

// NewRegistry creates a new empty registry
func NewRegistry() *Registry {
	return &Registry{
		byTag:    make(map[string]*EntitySchema),
		byType:   make(map[string]*EntitySchema),
		byGoType: make(map[reflect.Type]*EntitySchema),
	}
}

// Register records an entity schema under its tag, its @type names and its Go type
func (r *Registry) Register(s *EntitySchema) error {
	if s == nil {
		return fmt.Errorf("nil schema")
	}
	if s.Tag == "" {
		return fmt.Errorf("schema %s has no tag", s.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.byTag[s.Tag]; exists {
		return fmt.Errorf("tag %s is already registered to %s", s.Tag, existing.Name)
	}
	if existing, exists := r.byGoType[s.GoType]; exists {
		return fmt.Errorf("type %s is already registered under %s", s.Name, existing.Tag)
	}
	for _, t := range s.Types {
		if existing, exists := r.byType[t]; exists {
			return fmt.Errorf("@type %s is already registered to %s", t, existing.Name)
		}
	}

	r.byTag[s.Tag] = s
	r.byGoType[s.GoType] = s
	for _, t := range s.Types {
		r.byType[t] = s
	}
	return nil
}

// MustRegister registers s and panics on conflict
func (r *Registry) MustRegister(s *EntitySchema) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Resolve returns the schema whose tag best matches the identifier URL.
// When several registered tags occur in the path the longest wins.
func (r *Registry) Resolve(identifier string) (*EntitySchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}

	tag, ok := jsonld.MatchTag(identifier, tags)
	if !ok {
		return nil, false
	}
	return r.byTag[tag], true
}

// ResolveTypes returns the schema registered for the first known @type
func (r *Registry) ResolveTypes(types []string) (*EntitySchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range types {
		if s, ok := r.byType[t]; ok {
			return s, true
		}
	}
	return nil, false
}

// Lookup resolves by identifier first and by @type second
func (r *Registry) Lookup(identifier string, types []string) (*EntitySchema, error) {
	if s, ok := r.Resolve(identifier); ok {
		return s, nil
	}
	if s, ok := r.ResolveTypes(types); ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, identifier)
}

// ForGoType returns the schema registered for an entity Go type. Both the
// struct and the pointer type are accepted.
func (r *Registry) ForGoType(rt reflect.Type) (*EntitySchema, bool) {
	if rt == nil {
		return nil, false
	}
	if rt.Kind() == reflect.Struct {
		rt = reflect.PointerTo(rt)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byGoType[rt]
	return s, ok
}

// Get retrieves a schema by tag
func (r *Registry) Get(tag string) (*EntitySchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byTag[tag]
	return s, ok
}

// ByName retrieves a schema by Go type name
func (r *Registry) ByName(name string) (*EntitySchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.byTag {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// All returns the registered schemas sorted by tag
func (r *Registry) All() []*EntitySchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*EntitySchema, 0, len(r.byTag))
	for _, s := range r.byTag {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Tag < result[j].Tag })
	return result
}

// List returns the registered tags in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Count returns the number of registered schemas
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byTag)
}

// Exists checks if a tag is registered
func (r *Registry) Exists(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.byTag[tag]
	return exists
}

// Clear removes all registered schemas (useful for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byTag = make(map[string]*EntitySchema)
	r.byType = make(map[string]*EntitySchema)
	r.byGoType = make(map[reflect.Type]*EntitySchema)
}
