// Package crud implements the lifecycle operations of entities against the
// remote store: lazy retrieval, publish, deprecate, attach, download and
// queries.
package crud

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/openbrain/entitymanagement/pkg/nexus"
	"github.com/openbrain/entitymanagement/pkg/orm/codec"
	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/query"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

const (
	// DefaultPollInterval is the wait between FindUnique poll attempts
	DefaultPollInterval = time.Second

	// DefaultPollAttempts caps the FindUnique poll loop
	DefaultPollAttempts = 10
)

// Config holds the store configuration
type Config struct {
	Client   *nexus.Client
	Registry *schema.Registry // defaults to schema.Default()
	Logger   *zap.Logger

	// PageSize is the query page size, query.DefaultPageSize when zero
	PageSize int
	// PollInterval and PollAttempts bound FindUnique polling
	PollInterval time.Duration
	PollAttempts int
	// Clock paces polling, clock.WallClock when nil
	Clock clock.Clock

	// Context is written as @context on publish and sent with queries
	Context interface{}
	// DefaultPrefix replaces the default namespace of query keys
	DefaultPrefix string
}

// Store performs lifecycle operations and materializes lazy handles. It is
// the entity.Source every handle it creates is bound to.
type Store struct {
	client   *nexus.Client
	registry *schema.Registry
	codec    *codec.Codec
	logger   *zap.Logger

	pageSize     int
	pollInterval time.Duration
	pollAttempts int
	clock        clock.Clock
	context      interface{}
	prefix       string
}

// NewStore creates a store
func NewStore(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("crud: client is required")
	}

	s := &Store{
		client:       cfg.Client,
		registry:     cfg.Registry,
		logger:       cfg.Logger,
		pageSize:     cfg.PageSize,
		pollInterval: cfg.PollInterval,
		pollAttempts: cfg.PollAttempts,
		clock:        cfg.Clock,
		context:      cfg.Context,
		prefix:       cfg.DefaultPrefix,
	}
	if s.registry == nil {
		s.registry = schema.Default()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.pageSize <= 0 {
		s.pageSize = query.DefaultPageSize
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.pollAttempts <= 0 {
		s.pollAttempts = DefaultPollAttempts
	}
	if s.clock == nil {
		s.clock = clock.WallClock
	}

	opts := []codec.Option{codec.WithLogger(s.logger), codec.WithUnresolvedCounter(s.client.Metrics())}
	if s.context != nil {
		opts = append(opts, codec.WithContext(s.context))
	}
	s.codec = codec.New(s.registry, s, opts...)
	return s, nil
}

// Client returns the underlying store client
func (s *Store) Client() *nexus.Client {
	return s.client
}

// Registry returns the type registry
func (s *Store) Registry() *schema.Registry {
	return s.registry
}

// Codec returns the codec bound to this store
func (s *Store) Codec() *codec.Codec {
	return s.codec
}

// Materialize implements entity.Source: it fetches the resource and
// overwrites the handle's fields in place.
func (s *Store) Materialize(ctx context.Context, e entity.Entity) error {
	id := e.EntityBase().ID()
	if id == "" {
		return ErrNotPublished
	}

	doc, err := s.client.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to materialize %s: %w", id, ConvertRemoteError(err))
	}
	if err := s.codec.DecodeEntity(doc, e); err != nil {
		return fmt.Errorf("failed to materialize %s: %w", id, err)
	}

	name := reflect.TypeOf(e).Elem().Name()
	s.client.Metrics().Materialized(name)
	s.logger.Debug("materialized entity", zap.String("type", name), zap.String("id", id))
	return nil
}

// Get returns a handle for id. When the identifier carries a registered
// tag no request is made and the handle is unmaterialized. Otherwise the
// resource is fetched once, its type resolved from @type and the returned
// value is already materialized.
func (s *Store) Get(ctx context.Context, id string) (entity.Entity, error) {
	if sch, ok := s.registry.Resolve(id); ok {
		return sch.NewHandle(id, nil, s), nil
	}

	doc, err := s.client.Get(ctx, id)
	if err != nil {
		return nil, ConvertRemoteError(err)
	}
	meta, err := codec.MetaFromDocument(doc)
	if err != nil {
		return nil, err
	}
	sch, ok := s.registry.ResolveTypes(meta.Types)
	if !ok {
		return nil, fmt.Errorf("%w: %s has types %v", schema.ErrUnknownType, id, meta.Types)
	}

	e := sch.NewHandle(id, meta.Types, s)
	if err := s.codec.DecodeEntity(doc, e); err != nil {
		return nil, err
	}
	e.EntityBase().MarkMaterialized()
	return e, nil
}

// Ref returns an unmaterialized handle of type T. Nothing is fetched.
func Ref[T any, P interface {
	*T
	entity.Entity
}](s *Store, id string) P {
	return entity.NewRef[T, P](id, s)
}

// Load fetches the resource id as a value of type T
func Load[T any, P interface {
	*T
	entity.Entity
}](ctx context.Context, s *Store, id string) (P, error) {
	e := Ref[T, P](s, id)
	if err := entity.Materialize(ctx, e); err != nil {
		var zero P
		return zero, err
	}
	return e, nil
}

// schemaOf returns the registered schema of an entity value
func (s *Store) schemaOf(e entity.Entity) (*schema.EntitySchema, error) {
	rt := reflect.TypeOf(e)
	sch, ok := s.registry.ForGoType(rt)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", schema.ErrUnknownType, rt)
	}
	return sch, nil
}

// SchemaFor returns the registered schema of the entity type P
func SchemaFor[P entity.Entity](s *Store) (*schema.EntitySchema, error) {
	var zero P
	rt := reflect.TypeOf(&zero).Elem()
	sch, ok := s.registry.ForGoType(rt)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", schema.ErrUnknownType, rt)
	}
	return sch, nil
}
