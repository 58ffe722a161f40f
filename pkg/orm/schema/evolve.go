package schema

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
)

// Copy returns a shallow copy of e. List fields get their own backing
// arrays so appending to the copy never shows through the original.
func Copy[E entity.Entity](e E) (E, error) {
	var zero E
	if entity.IsNil(e) {
		return zero, entity.ErrNilEntity
	}

	rt := reflect.TypeOf(e)
	fields, err := FieldsOf(rt)
	if err != nil {
		return zero, err
	}

	src := reflect.ValueOf(e).Elem()
	dst := reflect.New(rt.Elem())
	dst.Elem().Set(src)

	for _, f := range fields {
		if !f.Type.IsList() {
			continue
		}
		fv := src.Field(f.Index)
		if fv.IsNil() {
			continue
		}
		cp := reflect.MakeSlice(fv.Type(), fv.Len(), fv.Len())
		reflect.Copy(cp, fv)
		dst.Elem().Field(f.Index).Set(cp)
	}

	return dst.Interface().(E), nil
}

// Evolve returns a new value equal to e with the changes applied by mutate.
// The receiver of mutate is the copy; e itself is never modified. An
// unmaterialized e is materialized first so that every field is carried
// over. The result is validated before it is returned.
func Evolve[E entity.Entity](ctx context.Context, e E, mutate func(E)) (E, error) {
	var zero E
	if err := entity.Materialize(ctx, e); err != nil {
		return zero, err
	}

	out, err := Copy(e)
	if err != nil {
		return zero, err
	}
	if mutate != nil {
		mutate(out)
	}
	if err := Validate(out); err != nil {
		return zero, err
	}
	return out, nil
}

// FieldValue reads a declared field by Go name or wire key through the
// materialization gate.
func FieldValue(ctx context.Context, e entity.Entity, name string) (interface{}, error) {
	if entity.IsNil(e) {
		return nil, entity.ErrNilEntity
	}
	fields, err := FieldsOf(reflect.TypeOf(e))
	if err != nil {
		return nil, err
	}
	f, ok := lookupField(fields, name)
	if !ok {
		return nil, fmt.Errorf("%s has no field %q", reflect.TypeOf(e).Elem().Name(), name)
	}
	if err := entity.Materialize(ctx, e); err != nil {
		return nil, err
	}
	return reflect.ValueOf(e).Elem().Field(f.Index).Interface(), nil
}

// Equal reports structural equality of two values of the same entity type:
// same identity metadata and equal declared fields. References compare by
// identifier, since two handles to one resource may be in different states.
func Equal(a, b entity.Entity) bool {
	if entity.IsNil(a) || entity.IsNil(b) {
		return entity.IsNil(a) && entity.IsNil(b)
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}

	ma, mb := a.EntityBase().Meta(), b.EntityBase().Meta()
	if ma.ID != mb.ID || ma.Rev != mb.Rev || ma.Deprecated != mb.Deprecated {
		return false
	}

	fields, err := FieldsOf(reflect.TypeOf(a))
	if err != nil {
		return false
	}
	return equalFields(reflect.ValueOf(a).Elem(), reflect.ValueOf(b).Elem(), fields)
}

func equalFields(a, b reflect.Value, fields []*Field) bool {
	for _, f := range fields {
		if !equalValue(a.Field(f.Index), b.Field(f.Index), f.Type) {
			return false
		}
	}
	return true
}

func equalValue(a, b reflect.Value, spec *TypeSpec) bool {
	if isAbsent(a, spec) || isAbsent(b, spec) {
		return isAbsent(a, spec) && isAbsent(b, spec)
	}

	if spec.IsList() {
		if a.Len() != b.Len() {
			return false
		}
		for i := 0; i < a.Len(); i++ {
			if !equalValue(a.Index(i), b.Index(i), spec.Elem) {
				return false
			}
		}
		return true
	}

	if spec.Optional {
		a, b = a.Elem(), b.Elem()
	}

	switch spec.Kind {
	case KindEntity:
		ea, _ := a.Interface().(entity.Entity)
		eb, _ := b.Interface().(entity.Entity)
		if entity.IsNil(ea) || entity.IsNil(eb) {
			return entity.IsNil(ea) && entity.IsNil(eb)
		}
		ida, idb := ea.EntityBase().ID(), eb.EntityBase().ID()
		if ida == "" && idb == "" {
			return ea == eb || Equal(ea, eb)
		}
		return ida == idb
	case KindDateTime:
		return a.Interface().(time.Time).Equal(b.Interface().(time.Time))
	case KindStruct:
		return equalFields(a, b, spec.Fields)
	default:
		return reflect.DeepEqual(a.Interface(), b.Interface())
	}
}
