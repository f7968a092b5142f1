package cli

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/normandy/internal/checks"
	"github.com/kilupskalvis/normandy/internal/signing"
)

// ErrChecksFailed is returned by check when a check reports an error.
var ErrChecksFailed = errors.New("checks failed")

func newUpdateSignaturesCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "update-signatures",
		Short: "Sign enabled recipes and actions that need it",
		Long: `Sign every enabled recipe and every action whose signature is missing,
and clear signatures of recipes that are no longer enabled. All payloads go
to Autograph in a single request. With --force everything is re-signed.`,
		Args: cobra.NoArgs,
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			report, err := a.svc.UpdateSignatures(cmd.Context(), force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			green.Fprintf(out, "Signed %d recipe(s) and %d action(s)\n", len(report.SignedRecipes), len(report.SignedActions))
			if n := len(report.UnsignedRecipes); n > 0 {
				yellow.Fprintf(out, "Unsigned %d disabled recipe(s)\n", n)
			}
			if n := len(report.Skipped); n > 0 {
				yellow.Fprintf(out, "Skipped %d recipe(s) changed while signing\n", n)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "Re-sign everything, even if already signed")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify stored signatures and certificates",
		Long: `Verify every stored signature against current content and check the
certificate chains they point at. Exits non-zero if any error is found;
warnings alone do not fail.`,
		Args: cobra.NoArgs,
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			runner := &checks.Runner{
				Store:       a.store,
				Verifier:    signing.NewVerifier(a.cfg.VerifierConfig()),
				ExpireEarly: a.cfg.ExpireEarly(),
				Workers:     workers,
			}
			report := runner.Run(cmd.Context())

			out := cmd.OutOrStdout()
			yellow := color.New(color.FgYellow)
			red := color.New(color.FgRed, color.Bold)
			for _, m := range report.Messages {
				c := yellow
				if m.Level == checks.LevelError {
					c = red
				}
				c.Fprintf(out, "%s", m.Code)
				if m.Object != "" {
					fmt.Fprintf(out, " %s", m.Object)
				}
				fmt.Fprintf(out, ": %s\n", m.Msg)
			}

			errs, warns := report.Count(checks.LevelError), report.Count(checks.LevelWarning)
			fmt.Fprintf(out, "%d error(s), %d warning(s)\n", errs, warns)
			if report.HasErrors() {
				return ErrChecksFailed
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "Concurrent verifications")
	return cmd
}
