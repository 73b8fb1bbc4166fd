package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/netsight/reconciled/internal/model"
	"github.com/netsight/reconciled/internal/resolver"
	"github.com/netsight/reconciled/internal/store"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and arbitrate detected conflicts",
	Long:  "Commands for listing pending conflicts, resolving them by strategy, and ignoring false positives.",
}

// -- conflicts list --

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conflicts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		entity, _ := cmd.Flags().GetString("entity")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")

		filter := store.ConflictFilter{
			Status:   model.ConflictStatus(status),
			EntityID: entity,
			Limit:    limit,
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().UTC().Add(-since)
		}

		conflicts, err := env.store.ListConflicts(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "conflicts list")
		}

		if len(conflicts) == 0 {
			fmt.Fprintln(os.Stderr, "No conflicts found.")
			return nil
		}

		formatConflictsList(os.Stdout, conflicts)
		return nil
	},
}

// -- conflicts show --

var conflictsShowCmd = &cobra.Command{
	Use:   "show <conflict-id>",
	Short: "Show a conflict with its candidates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.store.GetConflict(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "conflicts show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(c); err != nil {
			return err
		}

		if c.Status == model.ConflictResolved {
			res, err := env.store.GetResolution(ctx, c.ID)
			if err != nil {
				return eris.Wrap(err, "conflicts show resolution")
			}
			return enc.Encode(res)
		}
		return nil
	},
}

// -- conflicts resolve --

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve a conflict by strategy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		strategy, _ := cmd.Flags().GetString("strategy")
		rawValue, _ := cmd.Flags().GetString("value")
		by, _ := cmd.Flags().GetString("by")

		req := resolver.Request{
			ConflictID: args[0],
			Strategy:   model.Strategy(strategy),
			ResolvedBy: by,
		}
		if rawValue != "" {
			val, err := model.UnmarshalValue([]byte(rawValue))
			if err != nil {
				return eris.Wrap(err, "parse --value envelope")
			}
			req.ChosenValue = val
		}

		res, err := env.engine.Resolve(ctx, req)
		if err != nil {
			return eris.Wrap(err, "conflicts resolve")
		}

		fmt.Printf("resolved %s: chose %s (%s) by %s\n",
			res.ConflictID, model.FormatValue(res.ChosenValue), res.ChosenSource, res.Strategy)
		return nil
	},
}

// -- conflicts ignore --

var conflictsIgnoreCmd = &cobra.Command{
	Use:   "ignore <conflict-id>",
	Short: "Mark a conflict as ignored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.engine.Ignore(ctx, args[0]); err != nil {
			return eris.Wrap(err, "conflicts ignore")
		}

		fmt.Printf("ignored %s\n", args[0])
		return nil
	},
}

func formatConflictsList(w io.Writer, conflicts []model.Conflict) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush() //nolint:errcheck

	fmt.Fprintln(tw, "ID\tENTITY\tFIELD\tTYPE\tSTATUS\tCANDIDATES\tCREATED")
	for _, c := range conflicts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			c.ID, c.EntityID, c.FieldName, c.Type, c.Status,
			len(c.Candidates), c.CreatedAt.Format(time.RFC3339))
	}
}

func init() {
	conflictsListCmd.Flags().String("status", "", "filter by status (pending, resolved, ignored)")
	conflictsListCmd.Flags().String("entity", "", "filter by entity id")
	conflictsListCmd.Flags().Int("limit", 50, "max number of conflicts to display")
	conflictsListCmd.Flags().Duration("since", 0, "only conflicts created within this window (e.g. 24h)")

	conflictsResolveCmd.Flags().String("strategy", "priority_based", "resolution strategy (manual, priority_based, timestamp_based, confidence_based)")
	conflictsResolveCmd.Flags().String("value", "", `chosen value envelope for manual resolution, e.g. {"kind":"string","string":"10.0.0.1"}`)
	conflictsResolveCmd.Flags().String("by", "", "operator id recorded on the resolution")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsShowCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	conflictsCmd.AddCommand(conflictsIgnoreCmd)
	rootCmd.AddCommand(conflictsCmd)
}
