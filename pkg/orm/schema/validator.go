package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
)

// ErrValidationFailed is matched by every *ValidationError
var ErrValidationFailed = errors.New("validation failed")

// FieldError represents a validation error on a specific field
type FieldError struct {
	Field   string
	Message string
}

// ValidationError contains every field error found on a value
type ValidationError struct {
	Resource string
	Errors   []FieldError
}

// Error implements the error interface
func (ve *ValidationError) Error() string {
	prefix := "validation failed"
	if ve.Resource != "" {
		prefix = fmt.Sprintf("validation failed for %s", ve.Resource)
	}
	if len(ve.Errors) == 0 {
		return prefix
	}
	if len(ve.Errors) == 1 {
		return fmt.Sprintf("%s: %s: %s", prefix, ve.Errors[0].Field, ve.Errors[0].Message)
	}

	msgs := make([]string, 0, len(ve.Errors))
	for _, fe := range ve.Errors {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("%s: %d errors: %s", prefix, len(ve.Errors), strings.Join(msgs, "; "))
}

// Is lets errors.Is match ErrValidationFailed
func (ve *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// HasField reports whether the named field failed validation
func (ve *ValidationError) HasField(name string) bool {
	for _, fe := range ve.Errors {
		if fe.Field == name {
			return true
		}
	}
	return false
}

// IsValidationFailed returns true if the error is a validation error
func IsValidationFailed(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

// Validate checks a value against its declared fields:
//   - required fields must be set
//   - a list field, when set, must be non-empty and hold no nil element
//   - union references must point at one of the allowed entity types
//
// Unmaterialized handles always validate.
func Validate(e entity.Entity) error {
	if entity.IsNil(e) {
		return entity.ErrNilEntity
	}
	if !e.EntityBase().IsMaterialized() {
		return nil
	}

	rt := reflect.TypeOf(e)
	fields, err := FieldsOf(rt)
	if err != nil {
		return err
	}

	v := &validator{}
	v.fields(reflect.ValueOf(e).Elem(), fields, "")
	if len(v.errors) > 0 {
		return &ValidationError{Resource: rt.Elem().Name(), Errors: v.errors}
	}
	return nil
}

type validator struct {
	errors []FieldError
}

func (v *validator) add(path, format string, args ...interface{}) {
	v.errors = append(v.errors, FieldError{Field: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) fields(rv reflect.Value, fields []*Field, prefix string) {
	for _, f := range fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		v.field(rv.Field(f.Index), f, path)
	}
}

func (v *validator) field(fv reflect.Value, f *Field, path string) {
	if isAbsent(fv, f.Type) {
		if f.Required {
			v.add(path, "is required")
		}
		return
	}

	if f.Type.IsList() {
		if fv.Len() == 0 {
			v.add(path, "must not be an empty list")
			return
		}
		for i := 0; i < fv.Len(); i++ {
			ev := fv.Index(i)
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			if isNilValue(ev) {
				v.add(elemPath, "must not be nil")
				continue
			}
			v.value(ev, f.Type.Elem, elemPath)
		}
		return
	}

	v.value(fv, f.Type, path)
}

func (v *validator) value(rv reflect.Value, spec *TypeSpec, path string) {
	if spec.Optional {
		if rv.IsNil() {
			return
		}
		rv = rv.Elem()
	}

	switch spec.Kind {
	case KindEntity:
		ent, ok := rv.Interface().(entity.Entity)
		if !ok || entity.IsNil(ent) {
			return
		}
		name := reflect.TypeOf(ent).Elem().Name()
		if !spec.AllowsMember(name) {
			v.add(path, "type mismatch: %s is not one of %s", name, strings.Join(spec.Members, ", "))
		}
	case KindStruct:
		v.fields(rv, spec.Fields, path)
	}
}

// isAbsent reports whether a field holds no value. Numbers and booleans are
// always present unless declared through a pointer.
func isAbsent(fv reflect.Value, spec *TypeSpec) bool {
	switch fv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
		return fv.IsNil()
	}
	switch spec.Kind {
	case KindString, KindDateTime, KindOntologyTerm, KindStruct:
		return fv.IsZero()
	}
	return false
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
		return v.IsNil()
	}
	return false
}

// IsAbsent reports whether a field value would be omitted on the wire
func IsAbsent(fv reflect.Value, spec *TypeSpec) bool {
	return isAbsent(fv, spec)
}
