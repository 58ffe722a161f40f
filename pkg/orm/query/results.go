package query

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

// DefaultPageSize is the number of results requested per page
const DefaultPageSize = 50

// Hit is one result of a page: an identifier and the type tags the store
// reported for it
type Hit struct {
	ID    string
	Types []string
}

// Page is a window of a result set
type Page struct {
	Total int
	Hits  []Hit
}

// PageFetcher fetches the window [from, from+size) of a result set
type PageFetcher func(ctx context.Context, from, size int) (Page, error)

// Resolver turns a hit into an entity handle. Returning an error wrapping
// schema.ErrUnknownType skips the element instead of failing the iteration.
type Resolver func(ctx context.Context, hit Hit) (entity.Entity, error)

// ResultSet is a lazy, finite cursor over a paginated result. Pages are
// fetched when the cursor moves past the buffered one; iteration stops once
// the cursor reaches the total reported by the store. To iterate again, run
// the query again.
//
//	rs := store.FindBy(ctx, ...)
//	for rs.Next(ctx) {
//	    e := rs.Entity() // nil when the type could not be resolved
//	}
//	if err := rs.Err(); err != nil { ... }
type ResultSet struct {
	fetch    PageFetcher
	resolve  Resolver
	pageSize int
	logger   *zap.Logger

	buffer   []Hit
	bufStart int
	cursor   int
	total    int
	fetched  bool

	current entity.Entity
	hit     Hit
	err     error
}

// NewResultSet creates a result set. pageSize <= 0 selects DefaultPageSize.
func NewResultSet(fetch PageFetcher, resolve Resolver, pageSize int, logger *zap.Logger) *ResultSet {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultSet{
		fetch:    fetch,
		resolve:  resolve,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Next advances the cursor. It returns false when the result set is
// exhausted or an error occurred.
func (rs *ResultSet) Next(ctx context.Context) bool {
	rs.current = nil
	rs.hit = Hit{}
	if rs.err != nil {
		return false
	}
	if rs.fetched && rs.cursor >= rs.total {
		return false
	}

	if !rs.fetched || rs.cursor >= rs.bufStart+len(rs.buffer) {
		if err := rs.fetchPage(ctx); err != nil {
			rs.err = err
			return false
		}
		if rs.cursor >= rs.total {
			return false
		}
	}

	rs.hit = rs.buffer[rs.cursor-rs.bufStart]
	rs.cursor++

	if rs.resolve == nil {
		return true
	}
	e, err := rs.resolve(ctx, rs.hit)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownType) {
			rs.logger.Warn("skipping result with unknown type",
				zap.String("id", rs.hit.ID),
				zap.Strings("types", rs.hit.Types),
				zap.Error(err))
			return true
		}
		rs.err = err
		return false
	}
	rs.current = e
	return true
}

func (rs *ResultSet) fetchPage(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	page, err := rs.fetch(ctx, rs.cursor, rs.pageSize)
	if err != nil {
		return fmt.Errorf("failed to fetch results [%d, %d): %w", rs.cursor, rs.cursor+rs.pageSize, err)
	}

	rs.fetched = true
	rs.total = page.Total
	rs.bufStart = rs.cursor
	rs.buffer = page.Hits

	if len(rs.buffer) == 0 && rs.cursor < rs.total {
		rs.logger.Warn("result page is empty before the reported total",
			zap.Int("from", rs.cursor),
			zap.Int("total", rs.total))
		rs.total = rs.cursor
	}
	return nil
}

// Entity returns the handle at the cursor, or nil when its type is unknown
func (rs *ResultSet) Entity() entity.Entity {
	return rs.current
}

// ID returns the identifier at the cursor
func (rs *ResultSet) ID() string {
	return rs.hit.ID
}

// Err returns the error that stopped the iteration, if any
func (rs *ResultSet) Err() error {
	return rs.err
}

// Total returns the number of results reported by the store. It is zero
// until the first page was fetched.
func (rs *ResultSet) Total() int {
	return rs.total
}

// Known reports whether the total is known
func (rs *ResultSet) Known() bool {
	return rs.fetched
}

// All drains the cursor. Slots whose type is unknown are nil.
func (rs *ResultSet) All(ctx context.Context) ([]entity.Entity, error) {
	var out []entity.Entity
	for rs.Next(ctx) {
		out = append(out, rs.current)
	}
	return out, rs.err
}
