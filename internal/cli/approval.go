package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/normandy/internal/models"
)

// decideFunc approves or rejects a request.
type decideFunc func(ctx context.Context, id int64, approver, comment string) (*models.ApprovalRequest, error)

func newApprovalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Review recipe revisions",
	}
	var user string
	cmd.PersistentFlags().StringVarP(&user, "user", "u", envOrDefault("NORMANDY_USER", os.Getenv("USER")), "Acting user (env: NORMANDY_USER)")

	request := &cobra.Command{
		Use:   "request <revision-id>",
		Short: "Request approval of a revision",
		Args:  cobra.ExactArgs(1),
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			req, err := a.svc.RequestApproval(cmd.Context(), args[0], user)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Opened approval request %d for revision %s\n", req.ID, shortID(req.RevisionID))
			return nil
		}),
	}

	var comment string
	decide := func(use, short string, fn func(a *app) decideFunc) *cobra.Command {
		c := &cobra.Command{
			Use:   use + " <request-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				req, err := fn(a)(cmd.Context(), id, user, comment)
				if err != nil {
					return err
				}
				printDecision(cmd, req)
				return nil
			}),
		}
		c.Flags().StringVarP(&comment, "message", "m", "", "Review comment")
		return c
	}

	closeCmd := &cobra.Command{
		Use:   "close <request-id>",
		Short: "Withdraw an approval request",
		Args:  cobra.ExactArgs(1),
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.svc.Close(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Closed approval request %d\n", id)
			return nil
		}),
	}

	cmd.AddCommand(request,
		decide("approve", "Approve a pending request", func(a *app) decideFunc { return a.svc.Approve }),
		decide("reject", "Reject a pending request", func(a *app) decideFunc { return a.svc.Reject }),
		closeCmd,
	)
	return cmd
}

func printDecision(cmd *cobra.Command, req *models.ApprovalRequest) {
	out := cmd.OutOrStdout()
	switch req.Status() {
	case models.StatusApproved:
		color.New(color.FgGreen).Fprintf(out, "Approved revision %s\n", shortID(req.RevisionID))
	default:
		color.New(color.FgRed).Fprintf(out, "Rejected revision %s\n", shortID(req.RevisionID))
	}
}
