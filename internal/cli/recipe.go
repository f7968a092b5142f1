package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kilupskalvis/normandy/internal/core"
	"github.com/kilupskalvis/normandy/internal/models"
)

// revisionFlags are the flags that edit revision content. Only flags that
// were set are applied, so a revise changes just what is given.
type revisionFlags struct {
	file      string
	name      string
	action    string
	arguments string
	filters   []string
	extra     string
	channels  []string
	countries []string
	locales   []string
	comment   string
	bug       int64
}

func (rf *revisionFlags) register(f *pflag.FlagSet) {
	f.StringVarP(&rf.file, "file", "f", "", "JSON file with revision fields, - for stdin")
	f.StringVar(&rf.name, "name", "", "Recipe name")
	f.StringVar(&rf.action, "action", "", "Action name")
	f.StringVar(&rf.arguments, "arguments", "", "Action arguments as JSON, or @file")
	f.StringArrayVar(&rf.filters, "filter", nil, "Filter object as JSON, repeat for multiple")
	f.StringVar(&rf.extra, "extra", "", "Extra filter expression")
	f.StringSliceVar(&rf.channels, "channel", nil, "Channels to target")
	f.StringSliceVar(&rf.countries, "country", nil, "Countries to target")
	f.StringSliceVar(&rf.locales, "locale", nil, "Locales to target")
	f.StringVar(&rf.comment, "comment", "", "Revision comment")
	f.Int64Var(&rf.bug, "bug", 0, "Bug number")
}

// apply overlays the file content and then the set flags onto data.
func (rf *revisionFlags) apply(a *app, cmd *cobra.Command, data *models.RevisionData) error {
	if rf.file != "" {
		var raw []byte
		var err error
		if rf.file == "-" {
			raw, err = io.ReadAll(cmd.InOrStdin())
		} else {
			raw, err = os.ReadFile(rf.file)
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rf.file, err)
		}
		if err := json.Unmarshal(raw, data); err != nil {
			return fmt.Errorf("failed to parse %s: %w", rf.file, err)
		}
	}

	f := cmd.Flags()
	if f.Changed("name") {
		data.Name = rf.name
	}
	if f.Changed("action") {
		action, err := a.store.GetActionByName(rf.action)
		if err != nil {
			return fmt.Errorf("action %q: %w", rf.action, err)
		}
		data.ActionID = action.ID
	}
	if f.Changed("arguments") {
		raw, err := readJSONArg(rf.arguments)
		if err != nil {
			return fmt.Errorf("--arguments: %w", err)
		}
		data.Arguments = raw
	}
	if f.Changed("filter") {
		data.FilterObject = nil
		for i, s := range rf.filters {
			if !json.Valid([]byte(s)) {
				return fmt.Errorf("--filter %d: invalid JSON", i)
			}
			data.FilterObject = append(data.FilterObject, json.RawMessage(s))
		}
	}
	if f.Changed("extra") {
		data.ExtraFilterExpression = rf.extra
	}
	if f.Changed("channel") {
		data.Channels = rf.channels
	}
	if f.Changed("country") {
		data.Countries = rf.countries
	}
	if f.Changed("locale") {
		data.Locales = rf.locales
	}
	if f.Changed("comment") {
		data.Comment = rf.comment
	}
	if f.Changed("bug") {
		data.BugNumber = rf.bug
	}
	return nil
}

func newRecipeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipe",
		Short: "Manage recipes",
	}
	var user string
	cmd.PersistentFlags().StringVarP(&user, "user", "u", envOrDefault("NORMANDY_USER", os.Getenv("USER")), "Acting user (env: NORMANDY_USER)")

	var createFlags revisionFlags
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a recipe",
		Long: `Create a recipe and its first revision.

Examples:
  normandy recipe create --name hello --action console-log \
    --arguments '{"message":"hi"}' --channel release
  normandy recipe create -f recipe.json`,
		Args: cobra.NoArgs,
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			var data models.RevisionData
			if err := createFlags.apply(a, cmd, &data); err != nil {
				return err
			}
			recipe, rev, err := a.svc.CreateRecipe(cmd.Context(), user, data)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Created recipe %d (revision %s)\n", recipe.ID, rev.ID)
			return nil
		}),
	}
	createFlags.register(create.Flags())

	var reviseFlags revisionFlags
	var force bool
	revise := &cobra.Command{
		Use:   "revise <id>",
		Short: "Record a new revision of a recipe",
		Long: `Apply the given fields over the latest revision and record the result.
Nothing is recorded when the content is unchanged, unless --force is set.`,
		Args: cobra.ExactArgs(1),
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			data, err := a.svc.LatestData(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := reviseFlags.apply(a, cmd, &data); err != nil {
				return err
			}
			before, err := a.store.GetRecipe(id)
			if err != nil {
				return err
			}
			rev, err := a.svc.Revise(cmd.Context(), id, user, data, force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rev.ID == before.LatestRevisionID {
				color.New(color.FgYellow).Fprintf(out, "No changes; latest revision is still %s\n", shortID(rev.ID))
				return nil
			}
			color.New(color.FgGreen).Fprintf(out, "Revised recipe %d (revision %s)\n", id, rev.ID)
			return nil
		}),
	}
	reviseFlags.register(revise.Flags())
	revise.Flags().BoolVar(&force, "force", false, "Record a revision even if nothing changed")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recipe and its revisions",
		Args:  cobra.ExactArgs(1),
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			detail, err := a.svc.GetRecipe(cmd.Context(), id)
			if err != nil {
				return err
			}
			printRecipe(cmd.OutOrStdout(), detail)
			return nil
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recipes",
		Args:  cobra.NoArgs,
		RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
			details, err := a.svc.ListRecipes(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(details) == 0 {
				fmt.Fprintln(out, "No recipes")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tLATEST\tAPPROVED\tENABLED\tSIGNED")
			for _, d := range details {
				name := ""
				if d.Latest != nil {
					name = d.Latest.Name
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%t\n", d.Recipe.ID, name,
					shortID(d.Recipe.LatestRevisionID), shortID(d.Recipe.ApprovedRevisionID),
					d.Enabled, d.Recipe.Signature != nil)
			}
			return tw.Flush()
		}),
	}

	setEnabled := func(use, short string, enable bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: a.withApp(func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				fn := a.svc.Disable
				if enable {
					fn = a.svc.Enable
				}
				state, err := fn(cmd.Context(), id, user)
				if err != nil {
					return err
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Recipe %d %sd (revision %s)\n", id, use, shortID(state.RevisionID))
				return nil
			}),
		}
	}

	cmd.AddCommand(create, revise, show, list,
		setEnabled("enable", "Enable the approved revision of a recipe", true),
		setEnabled("disable", "Disable the approved revision of a recipe", false),
	)
	return cmd
}

func printRecipe(out io.Writer, d *core.RecipeDetail) {
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	yellow.Fprintf(out, "recipe %d", d.Recipe.ID)
	if d.Enabled {
		green.Fprint(out, " (enabled)")
	} else {
		fmt.Fprint(out, " (disabled)")
	}
	fmt.Fprintln(out)
	if d.Latest != nil {
		fmt.Fprintf(out, "Name:       %s\n", d.Latest.Name)
		fmt.Fprintf(out, "Filter:     %s\n", d.Latest.FilterExpression)
	}
	if d.Approved != nil {
		fmt.Fprintf(out, "Approved:   %s\n", d.Approved.ID)
	}
	if sig := d.Recipe.Signature; sig != nil {
		fmt.Fprintf(out, "Signed:     %s\n", sig.Timestamp.Format("Mon Jan 2 15:04:05 2006"))
	}

	fmt.Fprintf(out, "\nRevisions:\n")
	for _, rs := range d.Revisions {
		rev := rs.Revision
		yellow.Fprintf(out, "  %s", shortID(rev.ID))
		if rev.ID == d.Recipe.LatestRevisionID {
			cyan.Fprint(out, " (latest)")
		}
		if rev.ID == d.Recipe.ApprovedRevisionID {
			cyan.Fprint(out, " (approved)")
		}
		switch rs.ApprovalStatus {
		case models.StatusApproved:
			green.Fprint(out, " [approved]")
		case models.StatusRejected:
			red.Fprint(out, " [rejected]")
		case models.StatusPending:
			fmt.Fprintf(out, " [pending #%d]", rs.ApprovalRequest.ID)
		}
		fmt.Fprintf(out, "  %s  %s\n", rev.Created.Format("2006-01-02 15:04"), rev.Creator)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
