package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openbrain/entitymanagement/pkg/orm/crud"
	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/jsonld"
	"github.com/openbrain/entitymanagement/pkg/orm/query"
)

const filterHelp = `Filters are key<op>value with op one of = != > >= < <=.
Keys use the default namespace unless prefixed (prov_wasDerivedFrom);
a double underscore descends into nested values (subject__name).
Values are YAML scalars: 42, 3.5 and true keep their types, and a
flow list such as [a, b] matches any of its members.`

// NewFindCommand creates the find command
func NewFindCommand(g *globalFlags) *cobra.Command {
	var (
		limit      int
		deprecated bool
		full       bool
	)

	cmd := &cobra.Command{
		Use:   "find <type> <filter>...",
		Short: "Search resources of a type by property values",
		Long:  "Search resources of a registered type.\n\n" + filterHelp,
		Example: `  entitymanagement find Dataset name="Morphology 42"
  entitymanagement find core/subject species__label=Mouse -o table
  entitymanagement find Dataset version>=2 --limit 10 --full`,
		Args: cobra.MinimumNArgs(2),
		RunE: run(g, func(ctx context.Context, a *app, args []string) error {
			sch, err := a.lookupType(args[0])
			if err != nil {
				return err
			}
			props, err := parseFilters(args[1:])
			if err != nil {
				return err
			}

			rs, err := a.store.FindBy(ctx, sch, props, crud.FindOptions{IncludeDeprecated: deprecated})
			if err != nil {
				return err
			}

			rows := []map[string]interface{}{}
			for (limit <= 0 || len(rows) < limit) && rs.Next(ctx) {
				e := rs.Entity()
				if e == nil {
					continue
				}
				if !full {
					rows = append(rows, map[string]interface{}{
						jsonld.KeyID:   rs.ID(),
						jsonld.KeyType: e.EntityBase().Types(),
					})
					continue
				}
				doc, err := a.document(ctx, e)
				if err != nil {
					return err
				}
				rows = append(rows, doc)
			}
			if err := rs.Err(); err != nil {
				return err
			}
			return a.print(rows)
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many results (0 for all)")
	cmd.Flags().BoolVar(&deprecated, "deprecated", false, "include deprecated resources")
	cmd.Flags().BoolVar(&full, "full", false, "fetch and print every result")
	return cmd
}

// NewUniqueCommand creates the unique command
func NewUniqueCommand(g *globalFlags) *cobra.Command {
	var (
		throw  bool
		poll   bool
		create string
	)

	cmd := &cobra.Command{
		Use:   "unique <type> <filter>...",
		Short: "Fetch the single resource matching a filter",
		Long: `Fetch the only resource of a type matching the filter. More than one
match is an error. With --create the given JSON-LD document is published
when nothing matches; --poll then waits until the query finds it.

` + filterHelp,
		Args: cobra.MinimumNArgs(2),
		RunE: run(g, func(ctx context.Context, a *app, args []string) error {
			sch, err := a.lookupType(args[0])
			if err != nil {
				return err
			}
			props, err := parseFilters(args[1:])
			if err != nil {
				return err
			}

			opts := crud.UniqueOptions{Throw: throw, PollUntilExists: poll}
			if create != "" {
				opts.OnNoResult = func(ctx context.Context) (entity.Entity, error) {
					return a.createFromFile(ctx, sch, create)
				}
			}

			e, err := a.store.FindUnique(ctx, sch, props, opts)
			if err != nil {
				return err
			}
			if e == nil {
				fmt.Fprintln(a.errOut, "no matching resource")
				return nil
			}
			doc, err := a.document(ctx, e)
			if err != nil {
				return err
			}
			return a.print(doc)
		}),
	}

	cmd.Flags().BoolVar(&throw, "throw", false, "fail when nothing matches")
	cmd.Flags().StringVar(&create, "create", "", "JSON-LD or YAML file to publish when nothing matches")
	cmd.Flags().BoolVar(&poll, "poll", false, "with --create, wait until the new resource is searchable")
	return cmd
}

var filterOperators = []struct {
	token string
	wrap  func(interface{}) interface{}
}{
	{"!=", func(v interface{}) interface{} { return query.Ne(v) }},
	{">=", func(v interface{}) interface{} { return query.Gte(v) }},
	{"<=", func(v interface{}) interface{} { return query.Lte(v) }},
	{">", func(v interface{}) interface{} { return query.Gt(v) }},
	{"<", func(v interface{}) interface{} { return query.Lt(v) }},
	{"=", func(v interface{}) interface{} {
		if list, ok := v.([]interface{}); ok {
			return query.In(list...)
		}
		return v
	}},
}

// parseFilters turns key<op>value arguments into query properties
func parseFilters(args []string) (query.Props, error) {
	props := query.Props{}
	for _, arg := range args {
		key, value, wrap, ok := splitFilter(arg)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: expected key<op>value", arg)
		}
		if _, dup := props[key]; dup {
			return nil, fmt.Errorf("duplicate filter on %s", key)
		}
		v, err := scalar(value)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", arg, err)
		}
		props[key] = wrap(v)
	}
	return props, nil
}

// splitFilter finds the leftmost operator, preferring two-character ones
func splitFilter(arg string) (string, string, func(interface{}) interface{}, bool) {
	best := -1
	var op string
	var wrap func(interface{}) interface{}
	for _, o := range filterOperators {
		if i := strings.Index(arg, o.token); i >= 0 && (best < 0 || i < best) {
			best, op, wrap = i, o.token, o.wrap
		}
	}
	if best < 0 {
		return "", "", nil, false
	}
	return strings.TrimSpace(arg[:best]), strings.TrimSpace(arg[best+len(op):]), wrap, true
}

// scalar decodes a filter value as YAML so numbers and booleans keep
// their types
func scalar(s string) (interface{}, error) {
	if s == "" {
		return "", nil
	}
	var v interface{}
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case map[string]interface{}:
		return nil, fmt.Errorf("mappings are not supported")
	case nil:
		return s, nil
	}
	return v, nil
}
