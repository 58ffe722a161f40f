// Package query builds filter expressions for the store's query endpoint and
// exposes paginated results as a lazy cursor.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
)

// Operator is a comparison operator of the filter language
type Operator string

const (
	OpEqual              Operator = "eq"
	OpNotEqual           Operator = "ne"
	OpGreaterThan        Operator = "gt"
	OpGreaterThanOrEqual Operator = "gte"
	OpLessThan           Operator = "lt"
	OpLessThanOrEqual    Operator = "lte"
	OpIn                 Operator = "in"
	OpAnd                Operator = "and"
	OpOr                 Operator = "or"
)

// DefaultPrefix is the namespace used for keys without an explicit prefix
const DefaultPrefix = "nsg"

// PathSeparator joins nested path segments in a filter path
const PathSeparator = " / "

// Range is a non-equality constraint on a property
type Range struct {
	Op    Operator
	Value interface{}
}

// Gt matches values strictly greater than v
func Gt(v interface{}) Range { return Range{Op: OpGreaterThan, Value: v} }

// Gte matches values greater than or equal to v
func Gte(v interface{}) Range { return Range{Op: OpGreaterThanOrEqual, Value: v} }

// Lt matches values strictly less than v
func Lt(v interface{}) Range { return Range{Op: OpLessThan, Value: v} }

// Lte matches values less than or equal to v
func Lte(v interface{}) Range { return Range{Op: OpLessThanOrEqual, Value: v} }

// Ne matches values different from v
func Ne(v interface{}) Range { return Range{Op: OpNotEqual, Value: v} }

// In matches any of the given values
func In(values ...interface{}) Range { return Range{Op: OpIn, Value: values} }

// Props maps property keys to the value they must have. A key uses double
// underscores to separate nested path segments and a single underscore to
// give an explicit namespace prefix: "brainLocation__brainRegion" becomes
// "nsg:brainLocation / nsg:brainRegion" and "prov_wasDerivedFrom" becomes
// "prov:wasDerivedFrom".
type Props map[string]interface{}

// Condition is a leaf of the filter expression
type Condition struct {
	Op    Operator    `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// Group combines conditions
type Group struct {
	Op    Operator      `json:"op"`
	Value []interface{} `json:"value"`
}

// Filter is the body submitted to the query endpoint
type Filter struct {
	Context    interface{} `json:"@context,omitempty"`
	Filter     interface{} `json:"filter"`
	Deprecated *bool       `json:"deprecated,omitempty"`
}

// Options tune filter construction
type Options struct {
	// DefaultPrefix replaces "nsg" for keys without an explicit prefix
	DefaultPrefix string
	// Context is sent as the filter's @context
	Context interface{}
	// IncludeDeprecated stops excluding deprecated resources
	IncludeDeprecated bool
}

// ExpandKey turns a property key into a filter path
func ExpandKey(key, defaultPrefix string) string {
	if defaultPrefix == "" {
		defaultPrefix = DefaultPrefix
	}
	segments := strings.Split(key, "__")
	paths := make([]string, 0, len(segments))
	for _, seg := range segments {
		if i := strings.Index(seg, "_"); i > 0 && i < len(seg)-1 {
			paths = append(paths, seg[:i]+":"+seg[i+1:])
			continue
		}
		paths = append(paths, defaultPrefix+":"+seg)
	}
	return strings.Join(paths, PathSeparator)
}

// Build converts property filters into a filter expression. Conditions are
// ordered by key. A single condition is sent bare, several are combined
// with "and".
func Build(props Props, opts Options) (*Filter, error) {
	if len(props) == 0 {
		return nil, fmt.Errorf("at least one property filter is required")
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		cond, err := buildCondition(k, props[k], opts.DefaultPrefix)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}

	f := &Filter{Context: opts.Context}
	if len(conditions) == 1 {
		f.Filter = conditions[0]
	} else {
		f.Filter = &Group{Op: OpAnd, Value: conditions}
	}
	if !opts.IncludeDeprecated {
		deprecated := false
		f.Deprecated = &deprecated
	}
	return f, nil
}

func buildCondition(key string, raw interface{}, prefix string) (*Condition, error) {
	op := OpEqual
	if r, ok := raw.(Range); ok {
		op = r.Op
		raw = r.Value
	}

	value, err := filterValue(raw)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", key, err)
	}

	return &Condition{
		Op:    op,
		Path:  ExpandKey(key, prefix),
		Value: value,
	}, nil
}

// filterValue converts a Go value into its filter representation. Entities
// filter by identifier.
func filterValue(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("nil value")
	case entity.Entity:
		if entity.IsNil(v) {
			return nil, fmt.Errorf("nil entity")
		}
		id := v.EntityBase().ID()
		if id == "" {
			return nil, fmt.Errorf("entity is not published")
		}
		return id, nil
	case entity.OntologyTerm:
		return v.ID, nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			fv, err := filterValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, fv)
		}
		return out, nil
	default:
		return v, nil
	}
}
