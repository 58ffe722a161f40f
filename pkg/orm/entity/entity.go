// Package entity provides the identity-bearing handle shared by every mapped
// resource and the lazy materialization gate that turns a reference (an
// identifier plus a declared Go type) into a fully populated value.
package entity

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"
)

// State is the lazy-loading state of a handle
type State int

const (
	// StateNew is a value built in memory that has never been persisted
	StateNew State = iota
	// StateUnmaterialized is a reference: identifier and type are known, fields are not
	StateUnmaterialized
	// StateMaterialized holds real field values
	StateMaterialized
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateUnmaterialized:
		return "unmaterialized"
	case StateMaterialized:
		return "materialized"
	default:
		return "unknown"
	}
}

var (
	// ErrDetached is returned when an unmaterialized handle has no source to fetch from
	ErrDetached = errors.New("entity handle is not bound to a source")

	// ErrNilEntity is returned when a nil handle is passed where a value is required
	ErrNilEntity = errors.New("nil entity")
)

// Entity is implemented by every mapped resource through the embedded Base.
type Entity interface {
	EntityBase() *Base
}

// Source fills an unmaterialized handle in place from the remote store.
type Source interface {
	Materialize(ctx context.Context, e Entity) error
}

// Meta is the identity and provenance bookkeeping the store records for a resource.
type Meta struct {
	ID         string
	Rev        int
	Deprecated bool
	Types      []string
	Self       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	CreatedBy  string
	UpdatedBy  string
}

// Base is embedded by value in every entity struct.
//
// A zero Base describes a value that only exists in memory. Handles created
// from an identifier start unmaterialized and switch to materialized on the
// first call to Materialize; that transition happens once.
type Base struct {
	meta  Meta
	state State
	src   Source
}

// EntityBase implements Entity
func (b *Base) EntityBase() *Base { return b }

// ID returns the identifier, empty until the entity is published
func (b *Base) ID() string { return b.meta.ID }

// Rev returns the revision, zero until the entity is published
func (b *Base) Rev() int { return b.meta.Rev }

// Deprecated reports the tombstone flag
func (b *Base) Deprecated() bool { return b.meta.Deprecated }

// Types returns the type tags recorded by the store
func (b *Base) Types() []string { return append([]string(nil), b.meta.Types...) }

// Meta returns a copy of the identity metadata
func (b *Base) Meta() Meta {
	m := b.meta
	m.Types = append([]string(nil), b.meta.Types...)
	return m
}

// State returns the lazy-loading state
func (b *Base) State() State { return b.state }

// IsMaterialized reports whether the declared fields hold real values.
// Values that were never persisted count as materialized.
func (b *Base) IsMaterialized() bool { return b.state != StateUnmaterialized }

// Source returns the source the handle materializes from, if any
func (b *Base) Source() Source { return b.src }

// SetMeta replaces the identity metadata. It is used by the codec and the
// lifecycle operations when the store reports new identity values.
func (b *Base) SetMeta(m Meta) {
	m.Types = append([]string(nil), m.Types...)
	b.meta = m
}

// Bind turns the handle into an unmaterialized reference served by src.
func (b *Base) Bind(src Source) {
	b.src = src
	b.state = StateUnmaterialized
}

// Attach records the source without changing state, so values that are
// already materialized can be reloaded later.
func (b *Base) Attach(src Source) {
	b.src = src
}

// MarkMaterialized records that the declared fields hold real values.
func (b *Base) MarkMaterialized() {
	b.state = StateMaterialized
}

// IsNil reports whether e is nil or a typed nil pointer
func IsNil(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// NewRef creates an unmaterialized handle of type T for id.
func NewRef[T any, P interface {
	*T
	Entity
}](id string, src Source) P {
	p := P(new(T))
	b := p.EntityBase()
	b.meta.ID = id
	b.Bind(src)
	return p
}

// Materialize is the ensure-materialized gate called before any declared
// field is read. It fetches the resource the first time and is a no-op
// afterwards. On failure the handle stays unmaterialized.
func Materialize(ctx context.Context, e Entity) error {
	if IsNil(e) {
		return ErrNilEntity
	}
	b := e.EntityBase()
	if b.state != StateUnmaterialized {
		return nil
	}
	if b.src == nil {
		return fmt.Errorf("%w: %s", ErrDetached, b.meta.ID)
	}
	if err := b.src.Materialize(ctx, e); err != nil {
		return err
	}
	b.state = StateMaterialized
	return nil
}

// Reload fetches a published entity again, overwriting its fields in place.
func Reload(ctx context.Context, e Entity) error {
	if IsNil(e) {
		return ErrNilEntity
	}
	b := e.EntityBase()
	if b.meta.ID == "" {
		return nil
	}
	if b.src == nil {
		return fmt.Errorf("%w: %s", ErrDetached, b.meta.ID)
	}
	b.state = StateUnmaterialized
	return Materialize(ctx, e)
}

// Get reads a field through the gate. The accessor methods on domain types
// are written on top of it.
func Get[E Entity, V any](ctx context.Context, e E, field func(E) V) (V, error) {
	var zero V
	if err := Materialize(ctx, e); err != nil {
		return zero, err
	}
	return field(e), nil
}
