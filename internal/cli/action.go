package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/normandy/internal/models"
)

func newActionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Manage actions",
	}

	var schema string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register an action",
		Long: `Register an action with the JSON schema its recipe arguments must satisfy.

Examples:
  normandy action add console-log --schema '{"type":"object"}'
  normandy action add preference-experiment --schema @schemas/pref.json`,
		Args: cobra.ExactArgs(1),
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			raw, err := readJSONArg(schema)
			if err != nil {
				return fmt.Errorf("--schema: %w", err)
			}
			action := &models.Action{Name: args[0], ArgumentsSchema: raw}
			if err := a.svc.CreateAction(cmd.Context(), action); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Created action %s (id %d)\n", action.Name, action.ID)
			return nil
		}),
	}
	add.Flags().StringVar(&schema, "schema", "{}", "Arguments schema as JSON, or @file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List actions",
		Args:  cobra.NoArgs,
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			actions, err := a.svc.ListActions(cmd.Context())
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No actions")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSIGNED")
			for _, action := range actions {
				fmt.Fprintf(tw, "%d\t%s\t%t\n", action.ID, action.Name, action.Signature != nil)
			}
			return tw.Flush()
		}),
	}

	cmd.AddCommand(add, list)
	return cmd
}

// readJSONArg returns the JSON given inline or, with a leading @, read from
// a file.
func readJSONArg(v string) (json.RawMessage, error) {
	data := []byte(v)
	if strings.HasPrefix(v, "@") {
		var err error
		if data, err = os.ReadFile(strings.TrimPrefix(v, "@")); err != nil {
			return nil, err
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	return json.RawMessage(data), nil
}
