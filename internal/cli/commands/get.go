package commands

import (
	"context"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/jsonld"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

// NewGetCommand creates the get command
func NewGetCommand(g *globalFlags) *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "get <id>...",
		Short: "Show resources by identifier",
		Long: `Resolve each identifier to its registered type and print the resource.

Identifiers that carry a registered schema path are resolved without a
request; the resource is fetched once when it is printed. With --field
only the named field is printed, by Go name or wire key.`,
		Example: `  entitymanagement get https://nexus.example.org/v0/data/core/dataset/v0.1.0/0b1f
  entitymanagement get <id> --field subject -o json`,
		Args: cobra.MinimumNArgs(1),
		RunE: run(g, func(ctx context.Context, a *app, args []string) error {
			docs := make([]map[string]interface{}, 0, len(args))
			for _, id := range args {
				e, err := a.store.Get(ctx, id)
				if err != nil {
					return err
				}
				var doc map[string]interface{}
				if field != "" {
					doc, err = a.field(ctx, e, field)
				} else {
					doc, err = a.document(ctx, e)
				}
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			}
			if len(docs) == 1 {
				return a.print(docs[0])
			}
			return a.print(docs)
		}),
	}

	cmd.Flags().StringVarP(&field, "field", "f", "", "print only this field")
	return cmd
}

// field reads one declared field through the materialization gate and
// renders it under its wire key
func (a *app) field(ctx context.Context, e entity.Entity, name string) (map[string]interface{}, error) {
	fields, err := schema.FieldsOf(reflect.TypeOf(e))
	if err != nil {
		return nil, err
	}
	var f *schema.Field
	for _, candidate := range fields {
		if candidate.Name == name || candidate.Key == name {
			f = candidate
			break
		}
	}
	if f == nil {
		return nil, fmt.Errorf("%s has no field %q", reflect.TypeOf(e).Elem().Name(), name)
	}

	v, err := schema.FieldValue(ctx, e, f.Name)
	if err != nil {
		return nil, err
	}
	out, present, err := a.store.Codec().EncodeValue(v, f.Type)
	if err != nil {
		return nil, err
	}
	if !present {
		out = nil
	}
	return map[string]interface{}{
		jsonld.KeyID: e.EntityBase().ID(),
		f.Key:        out,
	}, nil
}
