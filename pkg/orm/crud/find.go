package crud

import (
	"context"
	"errors"
	"fmt"

	"github.com/juju/retry"
	"go.uber.org/zap"

	"github.com/openbrain/entitymanagement/pkg/nexus"
	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/jsonld"
	"github.com/openbrain/entitymanagement/pkg/orm/query"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

// FindOptions tune a query
type FindOptions struct {
	// IncludeDeprecated also returns deprecated resources
	IncludeDeprecated bool
}

// FindBy submits a property filter to the query endpoint of the collection
// of sch. The filter is sent right away; result pages are fetched lazily as
// the returned result set is iterated.
func (s *Store) FindBy(ctx context.Context, sch *schema.EntitySchema, props query.Props, opts ...FindOptions) (*query.ResultSet, error) {
	var o FindOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	filter, err := query.Build(props, query.Options{
		DefaultPrefix:     s.prefix,
		Context:           s.context,
		IncludeDeprecated: o.IncludeDeprecated,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.client.Query(ctx, s.client.QueryURL(sch.CollectionPath()), filter)
	if err != nil {
		return nil, ConvertRemoteError(err)
	}

	s.logger.Debug("submitted query",
		zap.String("type", sch.Name),
		zap.String("location", res.Location))
	return query.NewResultSet(s.pageFetcher(res), s.resolveHit, s.pageSize, s.logger), nil
}

// Find is FindBy for the registered type P
func Find[P entity.Entity](ctx context.Context, s *Store, props query.Props, opts ...FindOptions) (*query.ResultSet, error) {
	sch, err := SchemaFor[P](s)
	if err != nil {
		return nil, err
	}
	return s.FindBy(ctx, sch, props, opts...)
}

// UniqueOptions tune FindUnique
type UniqueOptions struct {
	// Throw returns ErrNoResult when nothing matches
	Throw bool
	// OnNoResult is called when nothing matches, typically to create the
	// resource. Its result is returned unless PollUntilExists is set.
	OnNoResult func(ctx context.Context) (entity.Entity, error)
	// PollUntilExists waits, after OnNoResult, until the query finds the
	// resource
	PollUntilExists bool
}

// FindUnique returns the only resource matching props.
//
//	one match                 -> that resource
//	no match, Throw           -> ErrNoResult
//	no match, OnNoResult      -> its result, or the polled match
//	no match, neither         -> nil, nil
//	several matches           -> ErrTooManyResults
func (s *Store) FindUnique(ctx context.Context, sch *schema.EntitySchema, props query.Props, opts UniqueOptions) (entity.Entity, error) {
	found, ok, err := s.findOne(ctx, sch, props)
	if err != nil {
		return nil, err
	}
	if ok {
		return found, nil
	}

	switch {
	case opts.Throw:
		return nil, fmt.Errorf("%w: %s %v", ErrNoResult, sch.Name, props)
	case opts.OnNoResult == nil:
		return nil, nil
	}

	created, err := opts.OnNoResult(ctx)
	if err != nil {
		return nil, err
	}
	if !opts.PollUntilExists {
		return created, nil
	}
	return s.poll(ctx, sch, props)
}

// errNotVisible marks a poll attempt whose query found nothing yet
var errNotVisible = errors.New("resource not visible yet")

// poll repeats the query until it finds the resource. The first attempt runs
// right away, later ones wait pollInterval on the store clock.
func (s *Store) poll(ctx context.Context, sch *schema.EntitySchema, props query.Props) (entity.Entity, error) {
	var found entity.Entity
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			e, ok, err := s.findOne(ctx, sch, props)
			if err != nil {
				return err
			}
			if !ok {
				return errNotVisible
			}
			found = e
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errNotVisible)
		},
		NotifyFunc: func(err error, attempt int) {
			s.logger.Debug("resource not visible yet", zap.String("type", sch.Name), zap.Int("attempt", attempt))
		},
		Attempts: s.pollAttempts,
		Delay:    s.pollInterval,
		Clock:    s.clock,
		Stop:     ctx.Done(),
	})
	switch {
	case err == nil:
		return found, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case retry.IsAttemptsExceeded(err):
		return nil, fmt.Errorf("%w: %s after %d attempts", ErrPollTimeout, sch.Name, s.pollAttempts)
	}
	return nil, err
}

// findOne runs the query and reports whether exactly one resource matched
func (s *Store) findOne(ctx context.Context, sch *schema.EntitySchema, props query.Props) (entity.Entity, bool, error) {
	rs, err := s.FindBy(ctx, sch, props)
	if err != nil {
		return nil, false, err
	}
	if !rs.Next(ctx) {
		return nil, false, rs.Err()
	}
	if rs.Total() > 1 {
		return nil, false, fmt.Errorf("%w: %d %s resources match %v", ErrTooManyResults, rs.Total(), sch.Name, props)
	}
	if rs.Entity() == nil {
		return nil, false, fmt.Errorf("%w: %s", schema.ErrUnknownType, rs.ID())
	}
	return rs.Entity(), true, nil
}

// pageFetcher serves pages from the result location, or from the inline
// page when the store answered the query directly
func (s *Store) pageFetcher(res *nexus.QueryResult) query.PageFetcher {
	return func(ctx context.Context, from, size int) (query.Page, error) {
		var page *nexus.Page
		if res.Location != "" {
			p, err := s.client.Page(ctx, res.Location, from, size)
			if err != nil {
				return query.Page{}, ConvertRemoteError(err)
			}
			page = p
		} else {
			page = window(res.Inline, from, size)
		}

		out := query.Page{Total: page.Total, Hits: make([]query.Hit, 0, len(page.Results))}
		for _, r := range page.Results {
			id := r.Source.ID
			if id == "" {
				id = r.ResultID
			}
			out.Hits = append(out.Hits, query.Hit{ID: id, Types: jsonld.Types(r.Source.Type)})
		}
		return out, nil
	}
}

func window(inline *nexus.Page, from, size int) *nexus.Page {
	if inline == nil {
		return &nexus.Page{}
	}
	out := &nexus.Page{Total: inline.Total}
	if from < len(inline.Results) {
		end := from + size
		if end > len(inline.Results) {
			end = len(inline.Results)
		}
		out.Results = inline.Results[from:end]
	}
	return out
}

// resolveHit turns a query hit into an unmaterialized handle
func (s *Store) resolveHit(ctx context.Context, hit query.Hit) (entity.Entity, error) {
	sch, err := s.registry.Lookup(hit.ID, hit.Types)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownType) {
			s.client.Metrics().Unresolved()
		}
		return nil, err
	}
	return sch.NewHandle(hit.ID, hit.Types, s), nil
}
