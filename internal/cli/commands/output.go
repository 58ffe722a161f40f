package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openbrain/entitymanagement/internal/cli/ui"
	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/jsonld"
)

// document materializes e and renders it with its identity
func (a *app) document(ctx context.Context, e entity.Entity) (map[string]interface{}, error) {
	if err := entity.Materialize(ctx, e); err != nil {
		return nil, err
	}
	doc, err := a.store.Codec().Encode(e)
	if err != nil {
		return nil, err
	}
	return withIdentity(doc, e.EntityBase().Meta()), nil
}

func withIdentity(doc map[string]interface{}, meta entity.Meta) map[string]interface{} {
	if doc == nil {
		doc = map[string]interface{}{}
	}
	delete(doc, jsonld.KeyContext)
	doc[jsonld.KeyID] = meta.ID
	doc[jsonld.KeyRev] = meta.Rev
	doc[jsonld.KeyDeprecated] = meta.Deprecated
	return doc
}

// print writes v in the selected format. Tables render maps as key/value
// rows and lists of maps with the keys as columns.
func (a *app) print(v interface{}) error {
	switch a.format {
	case "json":
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, string(b))
		return nil
	case "table":
		a.printTable(v)
		return nil
	default:
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprint(a.out, string(b))
		return nil
	}
}

func (a *app) printTable(v interface{}) {
	switch v := v.(type) {
	case map[string]interface{}:
		t := ui.NewTable(a.out, a.noColor, "KEY", "VALUE")
		for _, k := range sortedKeys(v) {
			t.AddRow(k, cell(v[k]))
		}
		t.Render()
	case []map[string]interface{}:
		if len(v) == 0 {
			fmt.Fprintln(a.out, "no results")
			return
		}
		cols := columns(v)
		t := ui.NewTable(a.out, a.noColor, upper(cols)...)
		for _, row := range v {
			cells := make([]string, len(cols))
			for i, c := range cols {
				cells[i] = cell(row[c])
			}
			t.AddRow(cells...)
		}
		t.Render()
	default:
		fmt.Fprintln(a.out, cell(v))
	}
}

// columns keeps @id first and the rest sorted
func columns(rows []map[string]interface{}) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Slice(cols, func(i, j int) bool {
		if (cols[i] == jsonld.KeyID) != (cols[j] == jsonld.KeyID) {
			return cols[i] == jsonld.KeyID
		}
		return cols[i] < cols[j]
	})
	return cols
}

func upper(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.ToUpper(strings.TrimPrefix(c, "@"))
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cell(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case []string:
		return strings.Join(v, ", ")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
