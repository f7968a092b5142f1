package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/normandy/internal/core"
	"github.com/kilupskalvis/normandy/internal/filters"
)

func newFilterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Work with filter objects",
	}

	var extra string
	var showCaps bool
	compile := &cobra.Command{
		Use:   "compile <filter-json>...",
		Short: "Compile filter objects to a filter expression",
		Long: `Validate filter objects and print the expression they compile to.

Examples:
  normandy filter compile '{"type":"channel","channels":["beta"]}'
  normandy filter compile '{"type":"stableSample","rate":0.5,"input":["normandy.userId"]}' --extra 'normandy.locale == "en-US"'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raws := make([]json.RawMessage, 0, len(args))
			for i, arg := range args {
				if !json.Valid([]byte(arg)) {
					return fmt.Errorf("argument %d: invalid JSON", i+1)
				}
				raws = append(raws, json.RawMessage(arg))
			}

			expr, err := core.CompileFilters(raws, extra)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, expr)

			if showCaps {
				fs, ferr := filters.ParseList(raws)
				if !ferr.Empty() {
					return ferr
				}
				caps := filters.RecipeCapabilities("", fs)
				fmt.Fprintf(out, "capabilities: %s\n", strings.Join(caps, ", "))
			}
			return nil
		},
	}
	compile.Flags().StringVar(&extra, "extra", "", "Extra filter expression to append")
	compile.Flags().BoolVar(&showCaps, "capabilities", false, "Also print the capabilities the filters require")

	cmd.AddCommand(compile)
	return cmd
}
