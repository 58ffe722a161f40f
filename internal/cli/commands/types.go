package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openbrain/entitymanagement/internal/cli/ui"
)

// NewTypesCommand creates the types command
func NewTypesCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "types [type]",
		Short: "List the registered entity types",
		Long: `Without arguments, list every registered entity type with its schema
path and @type values. With a type name or tag, list its declared fields.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			noColor := g.noColor || color.NoColor
			reg, err := newRegistry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				t := ui.NewTable(out, noColor, "TYPE", "SCHEMA", "@TYPE", "FIELDS")
				for _, sch := range reg.All() {
					t.AddRow(sch.Name, sch.CollectionPath(), strings.Join(sch.Types, ", "), fmt.Sprint(len(sch.Fields)))
				}
				t.Render()
				return nil
			}

			sch, err := lookupType(reg, args[0], noColor)
			if err != nil {
				return err
			}
			t := ui.NewTable(out, noColor, "FIELD", "KEY", "TYPE", "REQUIRED")
			for _, f := range sch.Fields {
				req := ""
				if f.Required {
					req = "yes"
				}
				t.AddRow(f.Name, f.Key, f.Type.String(), req)
			}
			t.Render()
			return nil
		},
	}
}
