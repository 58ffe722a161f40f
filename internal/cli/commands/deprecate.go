package commands

import (
	"context"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/openbrain/entitymanagement/internal/cli/ui"
	"github.com/openbrain/entitymanagement/pkg/orm/crud"
	"github.com/openbrain/entitymanagement/pkg/orm/entity"
)

// confirm asks before a destructive change. Tests replace it.
var confirm = func(message string) (bool, error) {
	ok := false
	err := survey.AskOne(&survey.Confirm{Message: message, Default: false}, &ok)
	return ok, err
}

// NewDeprecateCommand creates the deprecate command
func NewDeprecateCommand(g *globalFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "deprecate <id>",
		Short: "Deprecate a resource",
		Long: `Mark a resource as deprecated at its current revision. Deprecated
resources are no longer returned by find unless --deprecated is given.`,
		Args: cobra.ExactArgs(1),
		RunE: run(g, func(ctx context.Context, a *app, args []string) error {
			e, err := a.store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if err := entity.Materialize(ctx, e); err != nil {
				return err
			}
			if e.EntityBase().Deprecated() {
				ui.Message{Level: ui.LevelInfo, Problem: args[0] + " is already deprecated", NoColor: a.noColor}.Write(a.errOut)
				return nil
			}

			if !yes {
				ok, err := confirm(fmt.Sprintf("Deprecate %s at revision %d?", args[0], e.EntityBase().Rev()))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(a.errOut, "aborted")
					return nil
				}
			}

			out, err := crud.Deprecate(ctx, a.store, e)
			if err != nil {
				return err
			}
			ui.WriteSuccess(a.errOut, fmt.Sprintf("deprecated %s (rev %d)", out.EntityBase().ID(), out.EntityBase().Rev()), a.noColor)
			return nil
		}),
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
