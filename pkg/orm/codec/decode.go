// Package codec converts between entity values and JSON-LD documents.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/jsonld"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

var (
	// ErrDecode is returned when a payload does not match the declared type
	ErrDecode = errors.New("deserialization mismatch")

	// ErrEncode is returned when a value cannot be written as JSON-LD
	ErrEncode = errors.New("serialization failed")
)

// Codec decodes JSON-LD payloads into declared Go types and encodes entity
// values back. References are decoded as unmaterialized handles bound to
// the codec's source; they are never fetched here.
type Codec struct {
	registry   *schema.Registry
	source     entity.Source
	logger     *zap.Logger
	context    interface{}
	unresolved UnresolvedCounter
}

// UnresolvedCounter counts list references skipped because their type is
// not registered. *nexus.Metrics implements it.
type UnresolvedCounter interface {
	Unresolved()
}

// Option configures a Codec
type Option func(*Codec)

// WithLogger sets the logger used to report decode failures
func WithLogger(logger *zap.Logger) Option {
	return func(c *Codec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUnresolvedCounter reports skipped references to counter
func WithUnresolvedCounter(counter UnresolvedCounter) Option {
	return func(c *Codec) {
		c.unresolved = counter
	}
}

// WithContext sets the @context written by Encode
func WithContext(ctx interface{}) Option {
	return func(c *Codec) {
		c.context = ctx
	}
}

// New creates a codec resolving abstract references through registry and
// binding decoded references to src
func New(registry *schema.Registry, src entity.Source, opts ...Option) *Codec {
	if registry == nil {
		registry = schema.Default()
	}
	c := &Codec{
		registry: registry,
		source:   src,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry used for type resolution
func (c *Codec) Registry() *schema.Registry {
	return c.registry
}

// Decode converts a raw JSON value into a value of the declared type.
//
// A list payload decoded against a bare type is unwrapped when it holds a
// single element, becomes nil when empty and stays a []interface{} otherwise.
// The store wraps single values in lists inconsistently; existing data
// relies on this.
func (c *Codec) Decode(raw interface{}, spec *schema.TypeSpec) (interface{}, error) {
	v, err := c.decode(raw, spec)
	if err != nil {
		c.logger.Error("failed to deserialize value",
			zap.String("type", spec.String()),
			zap.Any("payload", raw),
			zap.Error(err))
		return nil, err
	}
	return v, nil
}

func (c *Codec) decode(raw interface{}, spec *schema.TypeSpec) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	if spec.Kind == schema.KindAny && !spec.IsList() {
		return raw, nil
	}

	if list, ok := raw.([]interface{}); ok {
		if spec.IsList() {
			return c.decodeList(list, spec)
		}
		return c.decodeWrapped(list, spec)
	}

	if spec.IsList() {
		// A single value sent for a list field becomes a list of one
		v, err := c.decode(raw, spec.Elem)
		if err != nil || v == nil {
			return nil, err
		}
		out := reflect.MakeSlice(spec.GoType, 0, 1)
		ev, err := convertTo(v, spec.Elem.GoType)
		if err != nil {
			return nil, err
		}
		return reflect.Append(out, ev).Interface(), nil
	}

	v, err := c.decodeValue(raw, spec)
	if err != nil {
		return nil, err
	}
	if spec.Optional {
		p := reflect.New(spec.ValueType())
		p.Elem().Set(reflect.ValueOf(v))
		return p.Interface(), nil
	}
	return v, nil
}

// decodeList decodes a list payload for a field declared as a list. Empty
// lists decode to nil; declared lists are never empty. References whose
// type is not registered are skipped with a warning.
func (c *Codec) decodeList(list []interface{}, spec *schema.TypeSpec) (interface{}, error) {
	out := reflect.MakeSlice(spec.GoType, 0, len(list))
	for i, item := range list {
		v, err := c.decode(item, spec.Elem)
		if spec.Elem.Kind == schema.KindEntity && errors.Is(err, schema.ErrUnknownType) {
			c.skipUnresolved(item, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if v == nil {
			continue
		}
		ev, err := convertTo(v, spec.Elem.GoType)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = reflect.Append(out, ev)
	}
	if out.Len() == 0 {
		return nil, nil
	}
	return out.Interface(), nil
}

func (c *Codec) skipUnresolved(item interface{}, err error) {
	id, _ := jsonld.ID(item)
	var types []string
	if m, ok := item.(map[string]interface{}); ok {
		types = jsonld.Types(m[jsonld.KeyType])
	}
	c.logger.Warn("skipping reference of unknown type",
		zap.String("id", id),
		zap.Strings("types", types),
		zap.Error(err))
	if c.unresolved != nil {
		c.unresolved.Unresolved()
	}
}

// decodeWrapped decodes a list payload for a field declared as a bare type
func (c *Codec) decodeWrapped(list []interface{}, spec *schema.TypeSpec) (interface{}, error) {
	decoded := make([]interface{}, 0, len(list))
	for i, item := range list {
		v, err := c.decode(item, spec)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if v != nil {
			decoded = append(decoded, v)
		}
	}

	switch len(decoded) {
	case 0:
		return nil, nil
	case 1:
		return decoded[0], nil
	default:
		return decoded, nil
	}
}

// decodeValue decodes a non-list raw value into spec.ValueType()
func (c *Codec) decodeValue(raw interface{}, spec *schema.TypeSpec) (interface{}, error) {
	vt := spec.ValueType()

	switch spec.Kind {
	case schema.KindEntity:
		return c.decodeRef(raw, spec)

	case schema.KindOntologyTerm:
		switch v := raw.(type) {
		case map[string]interface{}:
			id, _ := v[jsonld.KeyID].(string)
			label, _ := v[jsonld.KeyLabel].(string)
			return entity.OntologyTerm{ID: id, Label: label}, nil
		case string:
			return entity.OntologyTerm{ID: v}, nil
		}
		return nil, mismatch(raw, spec)

	case schema.KindDateTime:
		switch v := raw.(type) {
		case string:
			t, err := ParseTime(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			return t, nil
		case time.Time:
			return v, nil
		}
		return nil, mismatch(raw, spec)

	case schema.KindStruct:
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, mismatch(raw, spec)
		}
		out := reflect.New(vt).Elem()
		for _, f := range spec.Fields {
			fraw, present := m[f.Key]
			if !present {
				continue
			}
			v, err := c.decode(fraw, f.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", vt.Name(), f.Name, err)
			}
			if err := assign(out.Field(f.Index), v, f); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", vt.Name(), f.Name, err)
			}
		}
		return out.Interface(), nil

	case schema.KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, mismatch(raw, spec)
		}
		return reflect.ValueOf(s).Convert(vt).Interface(), nil

	case schema.KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, mismatch(raw, spec)
		}
		return reflect.ValueOf(b).Convert(vt).Interface(), nil

	case schema.KindInt:
		n, ok := toInt(raw)
		if !ok {
			return nil, mismatch(raw, spec)
		}
		rv := reflect.New(vt).Elem()
		switch vt.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if n < 0 || rv.OverflowUint(uint64(n)) {
				return nil, mismatch(raw, spec)
			}
			rv.SetUint(uint64(n))
		default:
			if rv.OverflowInt(n) {
				return nil, mismatch(raw, spec)
			}
			rv.SetInt(n)
		}
		return rv.Interface(), nil

	case schema.KindFloat:
		f, ok := toFloat(raw)
		if !ok {
			return nil, mismatch(raw, spec)
		}
		return reflect.ValueOf(f).Convert(vt).Interface(), nil

	case schema.KindAny:
		return raw, nil
	}

	return nil, mismatch(raw, spec)
}

// decodeRef builds an unmaterialized handle from an object reference
func (c *Codec) decodeRef(raw interface{}, spec *schema.TypeSpec) (interface{}, error) {
	id, ok := jsonld.ID(raw)
	if !ok {
		return nil, fmt.Errorf("%w: reference without %s", ErrDecode, jsonld.KeyID)
	}
	var types []string
	if m, ok := raw.(map[string]interface{}); ok {
		types = jsonld.Types(m[jsonld.KeyType])
	}

	if !spec.Abstract {
		e := reflect.New(spec.GoType.Elem()).Interface().(entity.Entity)
		b := e.EntityBase()
		b.SetMeta(entity.Meta{ID: id, Types: types})
		b.Bind(c.source)
		return e, nil
	}

	target, err := c.registry.Lookup(id, types)
	if err != nil {
		return nil, err
	}
	if !target.GoType.AssignableTo(spec.GoType) || !spec.AllowsMember(target.Name) {
		return nil, fmt.Errorf("%w: %s resolves to %s which is not a %s", ErrDecode, id, target.Name, spec)
	}
	return target.NewHandle(id, types, c.source), nil
}

// DecodeEntity overwrites e in place from a full document. Declared fields
// missing from doc are reset. Identity metadata comes from the reserved
// keys; the handle's source and state are kept. On error e is unchanged.
func (c *Codec) DecodeEntity(doc map[string]interface{}, e entity.Entity) error {
	if entity.IsNil(e) {
		return entity.ErrNilEntity
	}
	rt := reflect.TypeOf(e)
	fields, err := schema.FieldsOf(rt)
	if err != nil {
		return err
	}

	b := e.EntityBase()
	meta, err := MetaFromDocument(doc)
	if err != nil {
		c.logger.Error("failed to deserialize metadata", zap.String("type", rt.Elem().Name()), zap.Any("payload", doc), zap.Error(err))
		return err
	}
	if meta.ID == "" {
		meta.ID = b.ID()
	}

	tmp := reflect.New(rt.Elem()).Elem()
	for _, f := range fields {
		raw, present := doc[f.Key]
		if !present {
			continue
		}
		v, err := c.Decode(raw, f.Type)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", rt.Elem().Name(), f.Name, err)
		}
		if err := assign(tmp.Field(f.Index), v, f); err != nil {
			c.logger.Error("failed to deserialize field",
				zap.String("type", rt.Elem().Name()),
				zap.String("field", f.Name),
				zap.Any("payload", raw),
				zap.Error(err))
			return fmt.Errorf("%s.%s: %w", rt.Elem().Name(), f.Name, err)
		}
	}

	saved := *b
	reflect.ValueOf(e).Elem().Set(tmp)
	*b = saved
	b.SetMeta(meta)
	return nil
}

// MetaFromDocument extracts identity and provenance from the reserved keys
func MetaFromDocument(doc map[string]interface{}) (entity.Meta, error) {
	var meta entity.Meta
	if doc == nil {
		return meta, nil
	}

	meta.ID, _ = doc[jsonld.KeyID].(string)
	meta.Types = jsonld.Types(doc[jsonld.KeyType])
	meta.Self, _ = doc[jsonld.KeySelf].(string)
	meta.CreatedBy = refID(doc[jsonld.KeyCreatedBy])
	meta.UpdatedBy = refID(doc[jsonld.KeyUpdatedBy])

	if raw, ok := doc[jsonld.KeyRev]; ok && raw != nil {
		rev, ok := toInt(raw)
		if !ok {
			return meta, fmt.Errorf("%w: %s is not an integer: %v", ErrDecode, jsonld.KeyRev, raw)
		}
		meta.Rev = int(rev)
	}
	if raw, ok := doc[jsonld.KeyDeprecated]; ok && raw != nil {
		dep, ok := raw.(bool)
		if !ok {
			return meta, fmt.Errorf("%w: %s is not a boolean: %v", ErrDecode, jsonld.KeyDeprecated, raw)
		}
		meta.Deprecated = dep
	}

	var err error
	if meta.CreatedAt, err = optionalTime(doc[jsonld.KeyCreatedAt]); err != nil {
		return meta, err
	}
	if meta.UpdatedAt, err = optionalTime(doc[jsonld.KeyUpdatedAt]); err != nil {
		return meta, err
	}
	return meta, nil
}

// assign stores a decoded value into a struct field
func assign(fv reflect.Value, v interface{}, f *schema.Field) error {
	if v == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	if many, ok := v.([]interface{}); ok && f.Type.Kind != schema.KindAny && !f.Type.IsList() {
		return fmt.Errorf("%w: %d values for single-valued field %s", ErrDecode, len(many), f.Type)
	}
	rv, err := convertTo(v, fv.Type())
	if err != nil {
		return err
	}
	fv.Set(rv)
	return nil
}

func convertTo(v interface{}, t reflect.Type) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	return reflect.Value{}, fmt.Errorf("%w: cannot use %s as %s", ErrDecode, rv.Type(), t)
}

func mismatch(raw interface{}, spec *schema.TypeSpec) error {
	return fmt.Errorf("%w: cannot decode %T as %s", ErrDecode, raw, spec)
}

func refID(raw interface{}) string {
	id, _ := jsonld.ID(raw)
	return id
}

func optionalTime(raw interface{}) (time.Time, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return t, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// ParseTime parses the ISO-8601 forms the store emits
func ParseTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

func toInt(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), v <= math.MaxInt64
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), v <= math.MaxInt64
	case float32:
		return toInt(float64(v))
	case float64:
		if v != math.Trunc(v) || v >= 1<<63 || v < -(1<<63) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	if n, ok := toInt(raw); ok {
		return float64(n), true
	}
	return 0, false
}
