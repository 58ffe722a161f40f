package codec

import (
	"fmt"
	"reflect"
	"time"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/jsonld"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

// Encode converts an entity into a sparse JSON-LD document. Absent values
// are omitted rather than written as null. References become stubs of the
// form {"@id", "@type", "name": ""}: the store rejects stubs without a name.
func (c *Codec) Encode(e entity.Entity) (map[string]interface{}, error) {
	if entity.IsNil(e) {
		return nil, entity.ErrNilEntity
	}

	rt := reflect.TypeOf(e)
	fields, err := schema.FieldsOf(rt)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]interface{}, len(fields)+2)
	if c.context != nil {
		doc[jsonld.KeyContext] = c.context
	}
	if t := typeValue(c.typesOf(e)); t != nil {
		doc[jsonld.KeyType] = t
	}

	rv := reflect.ValueOf(e).Elem()
	for _, f := range fields {
		v, ok, err := c.encodeField(rv.Field(f.Index), f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", rt.Elem().Name(), f.Name, err)
		}
		if ok {
			doc[f.Key] = v
		}
	}
	return doc, nil
}

// EncodeValue converts a single declared value. The boolean result is
// false when the value is absent and should be omitted.
func (c *Codec) EncodeValue(v interface{}, spec *schema.TypeSpec) (interface{}, bool, error) {
	if v == nil {
		return nil, false, nil
	}
	return c.encodeField(reflect.ValueOf(v), spec)
}

func (c *Codec) encodeField(fv reflect.Value, spec *schema.TypeSpec) (interface{}, bool, error) {
	if schema.IsAbsent(fv, spec) {
		return nil, false, nil
	}

	if spec.IsList() {
		out := make([]interface{}, 0, fv.Len())
		for i := 0; i < fv.Len(); i++ {
			ev := fv.Index(i)
			if ev.Kind() == reflect.Interface && !ev.IsNil() {
				ev = ev.Elem()
			}
			v, ok, err := c.encodeField(ev, spec.Elem)
			if err != nil {
				return nil, false, fmt.Errorf("element %d: %w", i, err)
			}
			if ok {
				out = append(out, v)
			}
		}
		if len(out) == 0 {
			return nil, false, nil
		}
		return out, true, nil
	}

	if spec.Optional {
		fv = fv.Elem()
	}

	switch spec.Kind {
	case schema.KindEntity:
		ref, ok := fv.Interface().(entity.Entity)
		if !ok || entity.IsNil(ref) {
			return nil, false, nil
		}
		return c.referenceStub(ref)

	case schema.KindOntologyTerm:
		term := fv.Interface().(entity.OntologyTerm)
		out := map[string]interface{}{jsonld.KeyID: term.ID}
		if term.Label != "" {
			out[jsonld.KeyLabel] = term.Label
		}
		return out, true, nil

	case schema.KindDateTime:
		return fv.Interface().(time.Time).Format(time.RFC3339Nano), true, nil

	case schema.KindStruct:
		out := make(map[string]interface{}, len(spec.Fields))
		for _, f := range spec.Fields {
			v, ok, err := c.encodeField(fv.Field(f.Index), f.Type)
			if err != nil {
				return nil, false, fmt.Errorf("%s: %w", f.Name, err)
			}
			if ok {
				out[f.Key] = v
			}
		}
		if len(out) == 0 {
			return nil, false, nil
		}
		return out, true, nil

	case schema.KindString:
		return fv.String(), true, nil
	case schema.KindBool:
		return fv.Bool(), true, nil
	case schema.KindInt:
		switch fv.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(fv.Uint()), true, nil
		}
		return fv.Int(), true, nil
	case schema.KindFloat:
		return fv.Float(), true, nil
	case schema.KindAny:
		return fv.Interface(), true, nil
	}

	return nil, false, fmt.Errorf("%w: unsupported kind %s", ErrEncode, spec.Kind)
}

func (c *Codec) referenceStub(ref entity.Entity) (interface{}, bool, error) {
	b := ref.EntityBase()
	if b.ID() == "" {
		return nil, false, fmt.Errorf("%w: reference to unpublished %s", ErrEncode, reflect.TypeOf(ref).Elem().Name())
	}
	stub := map[string]interface{}{
		jsonld.KeyID:   b.ID(),
		jsonld.KeyName: "",
	}
	if t := typeValue(c.typesOf(ref)); t != nil {
		stub[jsonld.KeyType] = t
	}
	return stub, true, nil
}

// typesOf prefers the declared @type names of the registered schema and
// falls back to the tags recorded on the handle
func (c *Codec) typesOf(e entity.Entity) []string {
	if s, ok := c.registry.ForGoType(reflect.TypeOf(e)); ok && len(s.Types) > 0 {
		return s.Types
	}
	return e.EntityBase().Types()
}

func typeValue(types []string) interface{} {
	switch len(types) {
	case 0:
		return nil
	case 1:
		return types[0]
	default:
		out := make([]interface{}, len(types))
		for i, t := range types {
			out[i] = t
		}
		return out
	}
}
