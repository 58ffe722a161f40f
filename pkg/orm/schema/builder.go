package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
)

// TagName is the struct tag holding field declarations
const TagName = "nexus"

var (
	// ErrUnsupportedType is returned when a field type cannot be mapped
	ErrUnsupportedType = errors.New("unsupported field type")

	// ErrNotAnEntity is returned when a type does not embed entity.Base
	ErrNotAnEntity = errors.New("type is not an entity")

	timeType = reflect.TypeOf(time.Time{})

	fieldCache sync.Map // reflect.Type -> []*Field
)

// Build derives the schema of an entity type from its Go declaration.
// sample may be a value of the entity type or its reflect.Type.
func Build(sample interface{}, decl Declaration) (*EntitySchema, error) {
	var rt reflect.Type
	switch v := sample.(type) {
	case reflect.Type:
		rt = v
	default:
		rt = reflect.TypeOf(sample)
	}
	if rt == nil {
		return nil, ErrNotAnEntity
	}
	if rt.Kind() == reflect.Struct {
		rt = reflect.PointerTo(rt)
	}

	fields, err := FieldsOf(rt)
	if err != nil {
		return nil, err
	}

	return &EntitySchema{
		Name:    rt.Elem().Name(),
		GoType:  rt,
		Tag:     strings.Trim(decl.Tag, "/"),
		Version: decl.Version,
		Types:   append([]string(nil), decl.Types...),
		Fields:  fields,
	}, nil
}

// MustBuild is like Build but panics on error. It is meant for bootstrap code
// declaring a fixed set of types.
func MustBuild(sample interface{}, decl Declaration) *EntitySchema {
	s, err := Build(sample, decl)
	if err != nil {
		panic(err)
	}
	return s
}

// FieldsOf returns the declared fields of an entity pointer type. Results
// are cached per type.
func FieldsOf(rt reflect.Type) ([]*Field, error) {
	if rt.Kind() != reflect.Ptr || rt.Elem().Kind() != reflect.Struct || !rt.Implements(entity.InterfaceType) {
		return nil, fmt.Errorf("%w: %s", ErrNotAnEntity, rt)
	}
	if cached, ok := fieldCache.Load(rt); ok {
		return cached.([]*Field), nil
	}

	b := newBuilder()
	fields, err := b.structFields(rt.Elem(), true)
	if err != nil {
		return nil, err
	}
	fieldCache.Store(rt, fields)
	return fields, nil
}

// SpecOf returns the type spec of a value type such as a nested struct or a
// list of them. Entity types are described with FieldsOf instead.
func SpecOf(rt reflect.Type) (*TypeSpec, error) {
	return newBuilder().typeSpec(rt)
}

// builder turns Go struct declarations into field specs
type builder struct {
	inProgress map[reflect.Type]*TypeSpec
}

func newBuilder() *builder {
	return &builder{inProgress: make(map[reflect.Type]*TypeSpec)}
}

func (b *builder) structFields(st reflect.Type, isEntity bool) ([]*Field, error) {
	fields := make([]*Field, 0, st.NumField())
	var errs []string

	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		if sf.Anonymous && entity.IsBase(sf.Type) {
			continue
		}
		if !sf.IsExported() {
			continue
		}

		tag := sf.Tag.Get(TagName)
		if tag == "-" {
			continue
		}

		field, err := b.buildField(sf, i, tag)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s.%s: %v", st.Name(), sf.Name, err))
			continue
		}
		fields = append(fields, field)
	}

	if isEntity && !hasBase(st) {
		return nil, fmt.Errorf("%w: %s does not embed entity.Base", ErrNotAnEntity, st.Name())
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("schema for %s: %s", st.Name(), strings.Join(errs, "; "))
	}
	return fields, nil
}

func (b *builder) buildField(sf reflect.StructField, index int, tag string) (*Field, error) {
	key, opts := parseTag(tag)
	if key == "" {
		key = lowerFirst(sf.Name)
	}

	spec, err := b.typeSpec(sf.Type)
	if err != nil {
		return nil, err
	}

	field := &Field{
		Name:  sf.Name,
		Key:   key,
		Index: index,
		Type:  spec,
	}

	for _, opt := range opts {
		switch {
		case opt == "required":
			field.Required = true
		case strings.HasPrefix(opt, "types="):
			members := strings.Split(strings.TrimPrefix(opt, "types="), "|")
			target := spec
			if spec.Elem != nil {
				target = spec.Elem
			}
			if target.Kind != KindEntity {
				return nil, fmt.Errorf("types option on non-entity field")
			}
			target.Members = members
		default:
			return nil, fmt.Errorf("unknown tag option %q", opt)
		}
	}

	return field, nil
}

func (b *builder) typeSpec(rt reflect.Type) (*TypeSpec, error) {
	switch {
	case rt == timeType:
		return &TypeSpec{Kind: KindDateTime, GoType: rt}, nil
	case rt == entity.OntologyTermType:
		return &TypeSpec{Kind: KindOntologyTerm, GoType: rt}, nil
	}

	switch rt.Kind() {
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, rt)
		}
		elem, err := b.typeSpec(rt.Elem())
		if err != nil {
			return nil, err
		}
		if elem.Elem != nil {
			return nil, fmt.Errorf("%w: nested list %s", ErrUnsupportedType, rt)
		}
		return &TypeSpec{Kind: elem.Kind, GoType: rt, Elem: elem}, nil

	case reflect.Ptr:
		if rt.Implements(entity.InterfaceType) && rt.Elem().Kind() == reflect.Struct && hasBase(rt.Elem()) {
			return &TypeSpec{Kind: KindEntity, GoType: rt}, nil
		}
		inner, err := b.typeSpec(rt.Elem())
		if err != nil {
			return nil, err
		}
		if inner.Optional || inner.Elem != nil || inner.Kind == KindEntity || inner.Kind == KindAny {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, rt)
		}
		spec := *inner
		spec.GoType = rt
		spec.Optional = true
		return &spec, nil

	case reflect.Interface:
		if rt.NumMethod() == 0 {
			return &TypeSpec{Kind: KindAny, GoType: rt}, nil
		}
		if rt.Implements(entity.InterfaceType) {
			return &TypeSpec{Kind: KindEntity, GoType: rt, Abstract: true}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, rt)

	case reflect.String:
		return &TypeSpec{Kind: KindString, GoType: rt}, nil
	case reflect.Bool:
		return &TypeSpec{Kind: KindBool, GoType: rt}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &TypeSpec{Kind: KindInt, GoType: rt}, nil
	case reflect.Float32, reflect.Float64:
		return &TypeSpec{Kind: KindFloat, GoType: rt}, nil

	case reflect.Struct:
		if hasBase(rt) {
			return nil, fmt.Errorf("%w: entity %s must be referenced through a pointer", ErrUnsupportedType, rt.Name())
		}
		if spec, ok := b.inProgress[rt]; ok {
			return spec, nil
		}
		spec := &TypeSpec{Kind: KindStruct, GoType: rt}
		b.inProgress[rt] = spec
		fields, err := b.structFields(rt, false)
		if err != nil {
			return nil, err
		}
		spec.Fields = fields
		return spec, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, rt)
}

func hasBase(st reflect.Type) bool {
	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		if sf.Anonymous && entity.IsBase(sf.Type) {
			return true
		}
	}
	return false
}

func parseTag(tag string) (string, []string) {
	if tag == "" {
		return "", nil
	}
	parts := strings.Split(tag, ",")
	opts := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if p = strings.TrimSpace(p); p != "" {
			opts = append(opts, p)
		}
	}
	return strings.TrimSpace(parts[0]), opts
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
