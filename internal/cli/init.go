package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/normandy/internal/config"
	"github.com/kilupskalvis/normandy/internal/store"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a config file and an empty database",
		Long: `Write a default config file at the --config path and create the
database it points to.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := config.Initialize(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to initialize config: %w", err)
			}

			st, err := store.Open(cfg.DatabasePath())
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			defer st.Close()

			green := color.New(color.FgGreen)
			green.Fprintf(out, "Initialized Normandy in %s\n", cfg.Path())
			fmt.Fprintf(out, "Database: %s\n", cfg.DatabasePath())
			fmt.Fprintf(out, "\nSet [autograph] in the config to enable signing.\n")
			return nil
		},
	}
}
