// Package schema provides type definitions, the declaration layer and the type
// registry of the entity mapping. Entity shapes are ordinary Go structs that
// embed entity.Base and describe their wire keys with `nexus` struct tags.
package schema

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
)

// Kind is the value category of a declared field
type Kind int

const (
	// KindString is a text scalar
	KindString Kind = iota
	// KindInt is an integer scalar
	KindInt
	// KindFloat is a floating point scalar
	KindFloat
	// KindBool is a boolean scalar
	KindBool
	// KindDateTime is a time.Time encoded as ISO-8601
	KindDateTime
	// KindOntologyTerm is an entity.OntologyTerm
	KindOntologyTerm
	// KindStruct is a nested, non-lazy structured value
	KindStruct
	// KindEntity is a reference to another entity, held as a lazy handle
	KindEntity
	// KindAny passes raw JSON through
	KindAny
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindDateTime:
		return "datetime"
	case KindOntologyTerm:
		return "term"
	case KindStruct:
		return "struct"
	case KindEntity:
		return "entity"
	case KindAny:
		return "any"
	default:
		return "unknown"
	}
}

// TypeSpec describes the declared type of a field
type TypeSpec struct {
	Kind   Kind
	GoType reflect.Type // The full declared Go type (slice, pointer, ...)

	Elem     *TypeSpec // Set when the field is declared as a list of Elem
	Optional bool      // Pointer to a scalar or struct

	Fields   []*Field // For KindStruct
	Abstract bool     // KindEntity declared through an interface
	Members  []string // Allowed concrete entity type names (types= tag option)
}

// IsList reports whether the type was declared as a list
func (t *TypeSpec) IsList() bool {
	return t.Elem != nil
}

// ValueType is the Go type a decoded value has before it is wrapped in a
// pointer for optional fields.
func (t *TypeSpec) ValueType() reflect.Type {
	if t.Optional {
		return t.GoType.Elem()
	}
	return t.GoType
}

// AllowsMember reports whether an entity of the named Go type may be stored
func (t *TypeSpec) AllowsMember(name string) bool {
	if len(t.Members) == 0 {
		return true
	}
	for _, m := range t.Members {
		if m == name {
			return true
		}
	}
	return false
}

// String returns a string representation of the TypeSpec
func (t *TypeSpec) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.Elem != nil {
		return fmt.Sprintf("list<%s>", t.Elem.String())
	}

	s := t.Kind.String()
	switch t.Kind {
	case KindEntity:
		if t.Abstract {
			s = "entity<" + t.GoType.Name()
			if len(t.Members) > 0 {
				s += ":" + strings.Join(t.Members, "|")
			}
			s += ">"
		} else {
			s = "entity<" + t.GoType.Elem().Name() + ">"
		}
	case KindStruct:
		s = "struct<" + t.ValueType().Name() + ">"
	}

	if t.Optional {
		s += "?"
	}
	return s
}

// Field is one declared slot of an entity or nested struct
type Field struct {
	Name     string // Go field name
	Key      string // Wire key
	Index    int    // Struct field index
	Type     *TypeSpec
	Required bool
}

// Declaration carries the store-side identity of an entity type
type Declaration struct {
	// Tag is the schema domain/name path segment, e.g. "core/dataset"
	Tag string
	// Version is the schema version path segment, e.g. "v0.1.0"
	Version string
	// Types are the @type values written on publish and used to resolve
	// a type when the identifier does not carry the tag
	Types []string
}

// EntitySchema is the declared shape of an entity type
type EntitySchema struct {
	Name    string       // Go type name
	GoType  reflect.Type // Pointer type, e.g. *core.Dataset
	Tag     string
	Version string
	Types   []string
	Fields  []*Field
}

// CollectionPath returns the tag/version path under which resources of this
// type are created
func (s *EntitySchema) CollectionPath() string {
	if s.Version == "" {
		return s.Tag
	}
	return s.Tag + "/" + s.Version
}

// FieldByName returns the field with the given Go name
func (s *EntitySchema) FieldByName(name string) (*Field, bool) {
	return lookupField(s.Fields, name)
}

// New returns a zero value of the entity type
func (s *EntitySchema) New() entity.Entity {
	return reflect.New(s.GoType.Elem()).Interface().(entity.Entity)
}

// NewHandle returns an unmaterialized handle for id served by src
func (s *EntitySchema) NewHandle(id string, types []string, src entity.Source) entity.Entity {
	e := s.New()
	b := e.EntityBase()
	b.SetMeta(entity.Meta{ID: id, Types: types})
	b.Bind(src)
	return e
}

// lookupField finds a field by Go name, then by wire key
func lookupField(fields []*Field, name string) (*Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range fields {
		if f.Key == name {
			return f, true
		}
	}
	return nil, false
}
