// Package cli implements the command-line interface for Normandy.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/normandy/internal/config"
	"github.com/kilupskalvis/normandy/internal/core"
	"github.com/kilupskalvis/normandy/internal/signing"
	"github.com/kilupskalvis/normandy/internal/store"
)

// app holds the global flags and the resources opened for a command.
type app struct {
	configPath string
	noSigning  bool
	verbose    bool

	cfg   *config.Config
	store *store.Store
	svc   *core.Service
}

// open loads the config and opens the store and service.
func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), a.verbose)
	signer, err := buildSigner(cfg, a.noSigning, logger)
	if err != nil {
		st.Close()
		return err
	}

	a.cfg = cfg
	a.store = st
	a.svc = core.NewService(st, signer, logger)
	return nil
}

// Close releases resources held by app
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

// buildSigner returns the Autograph signer when signing is configured. An
// incomplete signing configuration is an error unless signing is turned off.
func buildSigner(cfg *config.Config, noSigning bool, logger *slog.Logger) (core.Signer, error) {
	sc := cfg.SigningConfig()
	if noSigning || !sc.Enabled() {
		return nil, nil
	}
	signer, err := signing.NewAutographer(sc, logger)
	if err != nil {
		return nil, err
	}
	return signer, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// withApp wraps a command body with opening and closing the app.
func (a *app) withApp(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.open(cmd); err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args)
	}
}

// NewRootCmd builds the normandy command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "normandy",
		Short: "Recipe management for Normandy",
		Long: `Normandy manages recipes: versioned, peer-reviewed instructions that
clients evaluate against a targeting filter. Approved and enabled recipes
are signed and served to clients.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", envOrDefault("NORMANDY_CONFIG", config.DefaultConfigFile), "Config file (env: NORMANDY_CONFIG)")
	f.BoolVar(&a.noSigning, "no-signing", false, "Do not sign recipes even if Autograph is configured")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose logging")

	root.AddCommand(
		newInitCmd(a),
		newActionCmd(a),
		newRecipeCmd(a),
		newApprovalCmd(a),
		newFilterCmd(),
		newUpdateSignaturesCmd(a),
		newCheckCmd(a),
		newServerCmd(a),
		newCompletionCmd(root),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
